// Package store is the single source of truth for room participant sets,
// user-to-room mappings, room creators, message lists, typing status and
// room metadata. It runs against a Redis primary tier and transparently
// degrades to an in-process fallback when the primary is unreachable,
// with identical semantics on both tiers.
package store

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"github.com/ephemchat/roomstate/internal/stats"
	"github.com/ephemchat/roomstate/internal/types"
)

const (
	typingTTL       = 5 * time.Second
	maxRoomMessages = 100

	pingInterval = 10 * time.Second
)

// storedRoomMetadata is the serialized form of RoomMetadata. The wire type
// hides the password hash from API responses; the stored form must keep it.
type storedRoomMetadata struct {
	RoomId          string    `json:"room_id"`
	Name            string    `json:"name"`
	PasswordHash    string    `json:"password_hash,omitempty"`
	MaxParticipants int       `json:"max_participants"`
	Private         bool      `json:"private"`
	Active          bool      `json:"active"`
	Panicked        bool      `json:"panicked"`
	CreatedAt       time.Time `json:"created_at"`
}

// Backend is the set of operations both tiers implement. Every operation
// has the same observable semantics regardless of which tier serves it.
type Backend interface {
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
	Ping(ctx context.Context) error
}

// RoomStateStore fronts the primary backend and the fallback store. Each
// call independently tries the primary and retries against the fallback on
// any error; a health flag refreshed by a background ping skips a primary
// that is already known to be down.
type RoomStateStore struct {
	log      *log.Logger
	primary  Backend
	fallback *FallbackStore
	stats    stats.StatsProvider
	healthy  atomic.Bool
	stop     chan struct{}
	done     chan struct{}
}

// NewRoomStateStore creates the store. primary may be nil, which forces
// fallback-only operation (local development without Redis).
func NewRoomStateStore(logger *log.Logger, primary Backend, sp stats.StatsProvider) *RoomStateStore {
	s := &RoomStateStore{
		log:      logger,
		primary:  primary,
		fallback: NewFallbackStore(),
		stats:    sp,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	s.healthy.Store(primary != nil)

	return s
}

// Run refreshes the primary health flag until Shutdown is called.
func (s *RoomStateStore) Run() {
	defer close(s.done)

	if s.primary == nil {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), pingInterval)
			err := s.primary.Ping(ctx)
			cancel()

			wasHealthy := s.healthy.Swap(err == nil)
			if err != nil && wasHealthy {
				s.log.Printf("primary backend unreachable, degrading to fallback: %v", err)
			} else if err == nil && !wasHealthy {
				s.log.Println("primary backend reachable again")
			}
		case <-s.stop:
			return
		}
	}
}

func (s *RoomStateStore) Shutdown(ctx context.Context) error {
	close(s.stop)

	select {
	case <-s.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if closer, ok := s.primary.(interface{ Close() error }); ok {
		return closer.Close()
	}

	return nil
}

func (s *RoomStateStore) noteBackendError(op string, err error) {
	s.log.Printf("%s failed on primary backend, retrying on fallback: %v", op, err)
	s.stats.Incr(stats.MetricBackendErrors)
	s.healthy.Store(false)
}

// tiered dispatches fn to the primary tier when it is believed healthy and
// retries on the fallback when the primary call fails. The fallback never
// returns a backend error, so errors surfacing from here are invariant
// violations, not I/O failures.
func tiered[T any](ctx context.Context, s *RoomStateStore, op string, fn func(context.Context, Backend) (T, error)) (T, error) {
	if s.primary != nil && s.healthy.Load() {
		v, err := fn(ctx, s.primary)
		if err == nil {
			return v, nil
		}
		s.noteBackendError(op, err)
	}

	if s.primary != nil {
		s.stats.Incr(stats.MetricFallbackHits)
	}

	return fn(ctx, s.fallback)
}

func (s *RoomStateStore) GetRoomParticipants(ctx context.Context, roomId string) (map[string]types.Participant, error) {
	return tiered(ctx, s, "GetRoomParticipants", func(ctx context.Context, b Backend) (map[string]types.Participant, error) {
		return b.GetRoomParticipants(ctx, roomId)
	})
}

func (s *RoomStateStore) SetRoomParticipant(ctx context.Context, roomId, userId string, p types.Participant) error {
	_, err := tiered(ctx, s, "SetRoomParticipant", func(ctx context.Context, b Backend) (struct{}, error) {
		return struct{}{}, b.SetRoomParticipant(ctx, roomId, userId, p)
	})
	return err
}

func (s *RoomStateStore) RemoveRoomParticipant(ctx context.Context, roomId, userId string) error {
	_, err := tiered(ctx, s, "RemoveRoomParticipant", func(ctx context.Context, b Backend) (struct{}, error) {
		return struct{}{}, b.RemoveRoomParticipant(ctx, roomId, userId)
	})
	return err
}

func (s *RoomStateStore) HasRoomParticipant(ctx context.Context, roomId, userId string) (bool, error) {
	return tiered(ctx, s, "HasRoomParticipant", func(ctx context.Context, b Backend) (bool, error) {
		return b.HasRoomParticipant(ctx, roomId, userId)
	})
}

func (s *RoomStateStore) GetUserRoom(ctx context.Context, userId string) (string, error) {
	return tiered(ctx, s, "GetUserRoom", func(ctx context.Context, b Backend) (string, error) {
		return b.GetUserRoom(ctx, userId)
	})
}

func (s *RoomStateStore) SetUserRoom(ctx context.Context, userId, roomId string) error {
	_, err := tiered(ctx, s, "SetUserRoom", func(ctx context.Context, b Backend) (struct{}, error) {
		return struct{}{}, b.SetUserRoom(ctx, userId, roomId)
	})
	return err
}

func (s *RoomStateStore) RemoveUserRoom(ctx context.Context, userId string) error {
	_, err := tiered(ctx, s, "RemoveUserRoom", func(ctx context.Context, b Backend) (struct{}, error) {
		return struct{}{}, b.RemoveUserRoom(ctx, userId)
	})
	return err
}

func (s *RoomStateStore) GetRoomCreator(ctx context.Context, roomId string) (string, error) {
	return tiered(ctx, s, "GetRoomCreator", func(ctx context.Context, b Backend) (string, error) {
		return b.GetRoomCreator(ctx, roomId)
	})
}

// SetRoomCreator records userId as creator if the room has none and returns
// the creator recorded after the call. The set-if-absent step is atomic at
// the key level on both tiers, so two racing first joiners cannot both win.
func (s *RoomStateStore) SetRoomCreator(ctx context.Context, roomId, userId string) (string, error) {
	return tiered(ctx, s, "SetRoomCreator", func(ctx context.Context, b Backend) (string, error) {
		return b.SetRoomCreator(ctx, roomId, userId)
	})
}

func (s *RoomStateStore) GetRoomMessages(ctx context.Context, roomId string) ([]types.Message, error) {
	return tiered(ctx, s, "GetRoomMessages", func(ctx context.Context, b Backend) ([]types.Message, error) {
		return b.GetRoomMessages(ctx, roomId)
	})
}

func (s *RoomStateStore) AddRoomMessage(ctx context.Context, roomId string, msg types.Message) error {
	_, err := tiered(ctx, s, "AddRoomMessage", func(ctx context.Context, b Backend) (struct{}, error) {
		return struct{}{}, b.AddRoomMessage(ctx, roomId, msg)
	})
	return err
}

// SetUserTypingStatus writes the typing marker to the active tier and
// additionally mirrors it into the fallback so a tier transition cannot
// resurrect a stale indicator: both copies self-expire independently.
func (s *RoomStateStore) SetUserTypingStatus(ctx context.Context, roomId, userId, nickname string, typing bool) error {
	if s.primary != nil && s.healthy.Load() {
		if err := s.fallback.SetUserTypingStatus(ctx, roomId, userId, nickname, typing); err != nil {
			return err
		}
	}

	_, err := tiered(ctx, s, "SetUserTypingStatus", func(ctx context.Context, b Backend) (struct{}, error) {
		return struct{}{}, b.SetUserTypingStatus(ctx, roomId, userId, nickname, typing)
	})
	return err
}

func (s *RoomStateStore) GetRoomTypingUsers(ctx context.Context, roomId, excludeUserId string) ([]string, error) {
	return tiered(ctx, s, "GetRoomTypingUsers", func(ctx context.Context, b Backend) ([]string, error) {
		return b.GetRoomTypingUsers(ctx, roomId, excludeUserId)
	})
}

// JoinRoom atomically records the user-to-room mapping and the participant.
func (s *RoomStateStore) JoinRoom(ctx context.Context, userId, roomId string, p types.Participant) error {
	_, err := tiered(ctx, s, "JoinRoom", func(ctx context.Context, b Backend) (struct{}, error) {
		return struct{}{}, b.JoinRoom(ctx, userId, roomId, p)
	})
	return err
}

// LeaveRoom atomically clears the user-to-room mapping, the participant
// record and the user's typing status.
func (s *RoomStateStore) LeaveRoom(ctx context.Context, userId, roomId string) error {
	_, err := tiered(ctx, s, "LeaveRoom", func(ctx context.Context, b Backend) (struct{}, error) {
		return struct{}{}, b.LeaveRoom(ctx, userId, roomId)
	})
	return err
}

// CleanupEmptyRoom clears the creator, message and typing state of a room
// with no participants. Calling it on a non-empty room is a no-op, and it
// is idempotent.
func (s *RoomStateStore) CleanupEmptyRoom(ctx context.Context, roomId string) error {
	_, err := tiered(ctx, s, "CleanupEmptyRoom", func(ctx context.Context, b Backend) (struct{}, error) {
		return struct{}{}, b.CleanupEmptyRoom(ctx, roomId)
	})
	return err
}

func (s *RoomStateStore) GetRoomMetadata(ctx context.Context, roomId string) (*types.RoomMetadata, error) {
	return tiered(ctx, s, "GetRoomMetadata", func(ctx context.Context, b Backend) (*types.RoomMetadata, error) {
		return b.GetRoomMetadata(ctx, roomId)
	})
}

func (s *RoomStateStore) SetRoomMetadata(ctx context.Context, meta types.RoomMetadata) error {
	_, err := tiered(ctx, s, "SetRoomMetadata", func(ctx context.Context, b Backend) (struct{}, error) {
		return struct{}{}, b.SetRoomMetadata(ctx, meta)
	})
	return err
}

func (s *RoomStateStore) DeactivateRoom(ctx context.Context, roomId string, panicked bool) error {
	_, err := tiered(ctx, s, "DeactivateRoom", func(ctx context.Context, b Backend) (struct{}, error) {
		return struct{}{}, b.DeactivateRoom(ctx, roomId, panicked)
	})
	return err
}

// HealthCheck reports the tiered availability: healthy when the primary
// responds, degraded when operating on the fallback, unhealthy only when
// neither tier is usable.
func (s *RoomStateStore) HealthCheck(ctx context.Context) types.Health {
	if s.primary == nil {
		return types.Health{
			State:    types.HealthDegraded,
			Redis:    false,
			Fallback: true,
			Detail:   "primary backend disabled, operating on fallback store",
		}
	}

	if err := s.primary.Ping(ctx); err != nil {
		s.healthy.Store(false)
		if s.fallback == nil {
			return types.Health{
				State:  types.HealthUnhealthy,
				Detail: err.Error(),
			}
		}
		return types.Health{
			State:    types.HealthDegraded,
			Redis:    false,
			Fallback: true,
			Detail:   err.Error(),
		}
	}

	s.healthy.Store(true)
	return types.Health{
		State:    types.HealthHealthy,
		Redis:    true,
		Fallback: true,
	}
}
