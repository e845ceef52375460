// Package coordinator translates external room actions into validated,
// authorized store operations. It holds no state of its own beyond
// per-request locals; the store owns every entity's canonical form.
package coordinator

import (
	"context"
	"crypto/rand"
	"fmt"
	"log"
	"sort"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/ephemchat/roomstate/internal/stats"
	"github.com/ephemchat/roomstate/internal/store"
	"github.com/ephemchat/roomstate/internal/types"
)

const (
	// messages older than this are hidden from readers even before the
	// capped list evicts them
	messageMaxAge = 10 * time.Minute

	maxMessageLength = 1000

	roomIdLength   = 8
	roomIdAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
)

// RoomStore is the slice of the room-state store the coordinator uses.
type RoomStore interface {
	GetRoomParticipants(ctx context.Context, roomId string) (map[string]types.Participant, error)
	SetRoomParticipant(ctx context.Context, roomId, userId string, p types.Participant) error
	RemoveRoomParticipant(ctx context.Context, roomId, userId string) error
	HasRoomParticipant(ctx context.Context, roomId, userId string) (bool, error)
	GetUserRoom(ctx context.Context, userId string) (string, error)
	SetUserRoom(ctx context.Context, userId, roomId string) error
	RemoveUserRoom(ctx context.Context, userId string) error
	GetRoomCreator(ctx context.Context, roomId string) (string, error)
	SetRoomCreator(ctx context.Context, roomId, userId string) (string, error)
	GetRoomMessages(ctx context.Context, roomId string) ([]types.Message, error)
	AddRoomMessage(ctx context.Context, roomId string, msg types.Message) error
	SetUserTypingStatus(ctx context.Context, roomId, userId, nickname string, typing bool) error
	GetRoomTypingUsers(ctx context.Context, roomId, excludeUserId string) ([]string, error)
	JoinRoom(ctx context.Context, userId, roomId string, p types.Participant) error
	LeaveRoom(ctx context.Context, userId, roomId string) error
	CleanupEmptyRoom(ctx context.Context, roomId string) error
	GetRoomMetadata(ctx context.Context, roomId string) (*types.RoomMetadata, error)
	SetRoomMetadata(ctx context.Context, meta types.RoomMetadata) error
	DeactivateRoom(ctx context.Context, roomId string, panicked bool) error
}

var _ RoomStore = (*store.RoomStateStore)(nil)

type Coordinator struct {
	log   *log.Logger
	store RoomStore
	stats stats.StatsProvider
	// generateRoomId is swappable in tests
	generateRoomId func() (string, error)
}

func NewCoordinator(logger *log.Logger, rs RoomStore, sp stats.StatsProvider) *Coordinator {
	return &Coordinator{
		log:            logger,
		store:          rs,
		stats:          sp,
		generateRoomId: newRoomId,
	}
}

// newRoomId returns an 8 character ID over an alphabet without the easily
// confused 0/O and 1/I glyphs, matching what room links and QR codes show.
func newRoomId() (string, error) {
	buf := make([]byte, roomIdLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}

	for i, b := range buf {
		buf[i] = roomIdAlphabet[int(b)%len(roomIdAlphabet)]
	}

	return string(buf), nil
}

// newMessageId builds a timestamp-derived unique message ID.
func newMessageId(now time.Time) string {
	return fmt.Sprintf("%d-%s", now.UnixMilli(), uuid.NewString()[:8])
}

type JoinRoomParams struct {
	RoomId        string
	UserId        string
	Nickname      string
	Avatar        string
	Password      string
	ClaimsCreator bool
}

type JoinRoomResult struct {
	RoomId       string              `json:"room_id"`
	IsCreator    bool                `json:"is_creator"`
	Participants []types.Participant `json:"participants"`
}

// checkRoomUsable refuses actions on deactivated rooms. A room with no
// metadata record is implicitly alive; metadata is owned by the
// surrounding room collaborator and may simply not exist.
func (c *Coordinator) checkRoomUsable(ctx context.Context, roomId string) (*types.RoomMetadata, *Error) {
	meta, err := c.store.GetRoomMetadata(ctx, roomId)
	if err != nil {
		return nil, NewInternalError(err)
	}
	if meta != nil && !meta.Active {
		return nil, NewRoomInactiveError()
	}

	return meta, nil
}

// JoinRoom adds the user to the room, moving them out of any room they are
// currently in first. The first joiner of a room with no recorded creator
// becomes its creator; a creator claim is honored only when it matches the
// recorded creator.
func (c *Coordinator) JoinRoom(ctx context.Context, params JoinRoomParams) (*JoinRoomResult, error) {
	meta, cerr := c.checkRoomUsable(ctx, params.RoomId)
	if cerr != nil {
		return nil, cerr
	}

	if meta != nil && meta.PasswordHash != "" {
		if bcrypt.CompareHashAndPassword([]byte(meta.PasswordHash), []byte(params.Password)) != nil {
			return nil, NewWrongPasswordError()
		}
	}

	alreadyMember, err := c.store.HasRoomParticipant(ctx, params.RoomId, params.UserId)
	if err != nil {
		return nil, NewInternalError(err)
	}

	if meta != nil && meta.MaxParticipants > 0 && !alreadyMember {
		participants, err := c.store.GetRoomParticipants(ctx, params.RoomId)
		if err != nil {
			return nil, NewInternalError(err)
		}
		if len(participants) >= meta.MaxParticipants {
			return nil, NewRoomFullError()
		}
	}

	// a user belongs to at most one room; leave the previous one first
	if current, err := c.store.GetUserRoom(ctx, params.UserId); err != nil {
		return nil, NewInternalError(err)
	} else if current != "" && current != params.RoomId {
		if err := c.store.LeaveRoom(ctx, params.UserId, current); err != nil {
			c.log.Printf("leaving previous room %q for user %q: %v", current, params.UserId, err)
		} else if err := c.store.CleanupEmptyRoom(ctx, current); err != nil {
			c.log.Printf("cleanup of previous room %q: %v", current, err)
		}
	}

	// set-if-absent: the recorded creator comes back unchanged when one
	// already exists, so an unauthorized claim can never override it
	creator, err := c.store.SetRoomCreator(ctx, params.RoomId, params.UserId)
	if err != nil {
		return nil, NewInternalError(err)
	}
	isCreator := creator == params.UserId
	if params.ClaimsCreator && !isCreator {
		c.log.Printf("rejecting creator claim by %q on room %q, recorded creator is %q", params.UserId, params.RoomId, creator)
	}

	participant := types.Participant{
		UserId:    params.UserId,
		Nickname:  params.Nickname,
		Avatar:    params.Avatar,
		IsCreator: isCreator,
		JoinedAt:  time.Now().UTC(),
	}

	if err := c.store.JoinRoom(ctx, params.UserId, params.RoomId, participant); err != nil {
		return nil, NewInternalError(err)
	}

	participants, err := c.store.GetRoomParticipants(ctx, params.RoomId)
	if err != nil {
		return nil, NewInternalError(err)
	}

	return &JoinRoomResult{
		RoomId:       params.RoomId,
		IsCreator:    isCreator,
		Participants: sortParticipants(participants),
	}, nil
}

func sortParticipants(m map[string]types.Participant) []types.Participant {
	participants := make([]types.Participant, 0, len(m))
	for _, p := range m {
		participants = append(participants, p)
	}
	sort.Slice(participants, func(i, j int) bool {
		if participants[i].JoinedAt.Equal(participants[j].JoinedAt) {
			return participants[i].UserId < participants[j].UserId
		}
		return participants[i].JoinedAt.Before(participants[j].JoinedAt)
	})

	return participants
}

type SendMessageParams struct {
	RoomId      string
	UserId      string
	Text        string
	Nickname    string
	Avatar      string
	IsInvisible bool
}

// SendMessage appends a message to the room's capped list. Only current
// participants may send. The core performs no push delivery; readers poll.
func (c *Coordinator) SendMessage(ctx context.Context, params SendMessageParams) (*types.Message, error) {
	if n := utf8.RuneCountInString(params.Text); n == 0 || n > maxMessageLength {
		return nil, NewValidationError(fmt.Sprintf("message must be between 1 and %d characters", maxMessageLength))
	}

	if _, cerr := c.checkRoomUsable(ctx, params.RoomId); cerr != nil {
		return nil, cerr
	}

	member, err := c.store.HasRoomParticipant(ctx, params.RoomId, params.UserId)
	if err != nil {
		return nil, NewInternalError(err)
	}
	if !member {
		return nil, NewNotAMemberError()
	}

	now := time.Now().UTC()
	msg := types.Message{
		Id:          newMessageId(now),
		RoomId:      params.RoomId,
		Text:        params.Text,
		SenderId:    params.UserId,
		Nickname:    params.Nickname,
		Avatar:      params.Avatar,
		Timestamp:   now,
		IsInvisible: params.IsInvisible,
	}

	if err := c.store.AddRoomMessage(ctx, params.RoomId, msg); err != nil {
		return nil, NewInternalError(err)
	}

	c.stats.Incr(stats.MetricMessagesSent)
	return &msg, nil
}

// GetMessages returns the room's messages, oldest first, capped by the
// store and additionally filtered by age so readers never see messages
// older than ten minutes. No membership check: a pre-join peek is allowed.
func (c *Coordinator) GetMessages(ctx context.Context, roomId string) ([]types.Message, error) {
	messages, err := c.store.GetRoomMessages(ctx, roomId)
	if err != nil {
		return nil, NewInternalError(err)
	}

	cutoff := time.Now().Add(-messageMaxAge)
	visible := make([]types.Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Timestamp.Before(cutoff) {
			continue
		}
		visible = append(visible, msg)
	}

	return visible, nil
}

type TypingParams struct {
	RoomId   string
	UserId   string
	Nickname string
	IsTyping bool
}

// Typing updates the caller's typing marker and returns the nicknames of
// the other users currently typing.
func (c *Coordinator) Typing(ctx context.Context, params TypingParams) ([]string, error) {
	member, err := c.store.HasRoomParticipant(ctx, params.RoomId, params.UserId)
	if err != nil {
		return nil, NewInternalError(err)
	}
	if !member {
		return nil, NewNotAMemberError()
	}

	if err := c.store.SetUserTypingStatus(ctx, params.RoomId, params.UserId, params.Nickname, params.IsTyping); err != nil {
		return nil, NewInternalError(err)
	}

	return c.typingUsers(ctx, params.RoomId, params.UserId)
}

// GetTypingStatus mirrors Typing's read half without a membership check,
// matching the pre-join peek allowance of GetMessages.
func (c *Coordinator) GetTypingStatus(ctx context.Context, roomId, excludeUserId string) ([]string, error) {
	return c.typingUsers(ctx, roomId, excludeUserId)
}

func (c *Coordinator) typingUsers(ctx context.Context, roomId, excludeUserId string) ([]string, error) {
	nicknames, err := c.store.GetRoomTypingUsers(ctx, roomId, excludeUserId)
	if err != nil {
		return nil, NewInternalError(err)
	}
	sort.Strings(nicknames)

	return nicknames, nil
}

// LeaveRoom removes the user and runs empty-room cleanup.
func (c *Coordinator) LeaveRoom(ctx context.Context, roomId, userId string) error {
	member, err := c.store.HasRoomParticipant(ctx, roomId, userId)
	if err != nil {
		return NewInternalError(err)
	}
	if !member {
		return NewParticipantNotFoundError()
	}

	if err := c.store.LeaveRoom(ctx, userId, roomId); err != nil {
		return NewInternalError(err)
	}

	if err := c.store.CleanupEmptyRoom(ctx, roomId); err != nil {
		return NewInternalError(err)
	}

	return nil
}

type KickUserParams struct {
	RoomId       string
	TargetUserId string
	KickedBy     string
}

// KickUser removes the target from the room. Only the recorded creator may
// kick, and a single kick deliberately does not trigger empty-room cleanup;
// only a full drain through LeaveRoom does.
func (c *Coordinator) KickUser(ctx context.Context, params KickUserParams) ([]types.Participant, error) {
	if _, cerr := c.checkRoomUsable(ctx, params.RoomId); cerr != nil {
		return nil, cerr
	}

	participants, err := c.store.GetRoomParticipants(ctx, params.RoomId)
	if err != nil {
		return nil, NewInternalError(err)
	}
	if len(participants) == 0 {
		return nil, NewRoomNotFoundError()
	}

	target, ok := participants[params.TargetUserId]
	if !ok {
		return nil, NewTargetNotFoundError()
	}

	creator, err := c.store.GetRoomCreator(ctx, params.RoomId)
	if err != nil {
		return nil, NewInternalError(err)
	}
	if creator == "" || creator != params.KickedBy {
		return nil, NewNotCreatorError()
	}

	if params.TargetUserId == params.KickedBy {
		return nil, NewSelfKickError()
	}

	if err := c.store.RemoveRoomParticipant(ctx, params.RoomId, params.TargetUserId); err != nil {
		return nil, NewInternalError(err)
	}

	if err := c.store.RemoveUserRoom(ctx, params.TargetUserId); err != nil {
		// best-effort rollback so the participant set and the user-room
		// mapping don't diverge permanently
		if rbErr := c.store.SetRoomParticipant(ctx, params.RoomId, params.TargetUserId, target); rbErr != nil {
			c.log.Printf("rollback of participant %q in room %q: %v", params.TargetUserId, params.RoomId, rbErr)
		}
		return nil, NewInternalError(err)
	}

	delete(participants, params.TargetUserId)
	return sortParticipants(participants), nil
}

type CreateRoomParams struct {
	Name            string
	Password        string
	MaxParticipants int
	Private         bool
}

// CreateRoom writes the room's metadata record and returns it with the
// generated ID. The creator is still resolved on first join.
func (c *Coordinator) CreateRoom(ctx context.Context, params CreateRoomParams) (*types.RoomMetadata, error) {
	roomId, err := c.generateRoomId()
	if err != nil {
		return nil, NewInternalError(err)
	}

	var passwordHash string
	if params.Password != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, NewInternalError(err)
		}
		passwordHash = string(hash)
	}

	meta := types.RoomMetadata{
		RoomId:          roomId,
		Name:            params.Name,
		PasswordHash:    passwordHash,
		MaxParticipants: params.MaxParticipants,
		Private:         params.Private,
		Active:          true,
		CreatedAt:       time.Now().UTC(),
	}

	if err := c.store.SetRoomMetadata(ctx, meta); err != nil {
		return nil, NewInternalError(err)
	}

	c.stats.Incr(stats.MetricRoomsCreated)
	return &meta, nil
}

// PanicRoom deactivates the room instantly on behalf of its creator,
// drains every participant and clears all room state.
func (c *Coordinator) PanicRoom(ctx context.Context, roomId, userId string) error {
	creator, err := c.store.GetRoomCreator(ctx, roomId)
	if err != nil {
		return NewInternalError(err)
	}
	if creator == "" || creator != userId {
		return NewNotCreatorError()
	}

	if err := c.store.DeactivateRoom(ctx, roomId, true); err != nil {
		return NewInternalError(err)
	}

	participants, err := c.store.GetRoomParticipants(ctx, roomId)
	if err != nil {
		return NewInternalError(err)
	}
	for participantId := range participants {
		if err := c.store.LeaveRoom(ctx, participantId, roomId); err != nil {
			c.log.Printf("draining participant %q from panicked room %q: %v", participantId, roomId, err)
		}
	}

	if err := c.store.CleanupEmptyRoom(ctx, roomId); err != nil {
		return NewInternalError(err)
	}

	return nil
}
