package store

import (
	"context"
	"sync"
	"time"

	"github.com/ephemchat/roomstate/internal/types"
)

// FallbackStore is the in-process tier used when Redis is unreachable or
// disabled. All maps are guarded by a single mutex, which also makes the
// multi-key operations naturally atomic within this process. State lives
// only for the uptime of this instance.
type FallbackStore struct {
	mu           sync.RWMutex
	participants map[string]map[string]types.Participant
	userRooms    map[string]string
	creators     map[string]string
	messages     map[string][]types.Message
	typing       map[string]map[string]fallbackTypingEntry
	meta         map[string]types.RoomMetadata
}

type fallbackTypingEntry struct {
	nickname  string
	expiresAt time.Time
	timer     *time.Timer
}

func NewFallbackStore() *FallbackStore {
	return &FallbackStore{
		participants: make(map[string]map[string]types.Participant),
		userRooms:    make(map[string]string),
		creators:     make(map[string]string),
		messages:     make(map[string][]types.Message),
		typing:       make(map[string]map[string]fallbackTypingEntry),
		meta:         make(map[string]types.RoomMetadata),
	}
}

func (f *FallbackStore) GetRoomParticipants(_ context.Context, roomId string) (map[string]types.Participant, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	participants := make(map[string]types.Participant, len(f.participants[roomId]))
	for userId, p := range f.participants[roomId] {
		participants[userId] = p
	}

	return participants, nil
}

func (f *FallbackStore) SetRoomParticipant(_ context.Context, roomId, userId string, p types.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.setParticipantLocked(roomId, userId, p)
	return nil
}

func (f *FallbackStore) setParticipantLocked(roomId, userId string, p types.Participant) {
	if f.participants[roomId] == nil {
		f.participants[roomId] = make(map[string]types.Participant)
	}
	f.participants[roomId][userId] = p
}

func (f *FallbackStore) RemoveRoomParticipant(_ context.Context, roomId, userId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.removeParticipantLocked(roomId, userId)
	return nil
}

func (f *FallbackStore) removeParticipantLocked(roomId, userId string) {
	if room, ok := f.participants[roomId]; ok {
		delete(room, userId)
		if len(room) == 0 {
			delete(f.participants, roomId)
		}
	}
}

func (f *FallbackStore) HasRoomParticipant(_ context.Context, roomId, userId string) (bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, ok := f.participants[roomId][userId]
	return ok, nil
}

func (f *FallbackStore) GetUserRoom(_ context.Context, userId string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.userRooms[userId], nil
}

func (f *FallbackStore) SetUserRoom(_ context.Context, userId, roomId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.userRooms[userId] = roomId
	return nil
}

func (f *FallbackStore) RemoveUserRoom(_ context.Context, userId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.userRooms, userId)
	return nil
}

func (f *FallbackStore) GetRoomCreator(_ context.Context, roomId string) (string, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	return f.creators[roomId], nil
}

func (f *FallbackStore) SetRoomCreator(_ context.Context, roomId, userId string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if existing, ok := f.creators[roomId]; ok {
		return existing, nil
	}

	f.creators[roomId] = userId
	return userId, nil
}

func (f *FallbackStore) GetRoomMessages(_ context.Context, roomId string) ([]types.Message, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	messages := make([]types.Message, len(f.messages[roomId]))
	copy(messages, f.messages[roomId])

	return messages, nil
}

func (f *FallbackStore) AddRoomMessage(_ context.Context, roomId string, msg types.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	msgs := append(f.messages[roomId], msg)
	if len(msgs) > maxRoomMessages {
		msgs = msgs[len(msgs)-maxRoomMessages:]
	}
	f.messages[roomId] = msgs

	return nil
}

func (f *FallbackStore) SetUserTypingStatus(_ context.Context, roomId, userId, nickname string, typing bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if entry, ok := f.typing[roomId][userId]; ok && entry.timer != nil {
		// a refresh replaces the pending expiry timer, never stacks a second one
		entry.timer.Stop()
	}

	if !typing {
		f.removeTypingLocked(roomId, userId)
		return nil
	}

	if f.typing[roomId] == nil {
		f.typing[roomId] = make(map[string]fallbackTypingEntry)
	}

	var timer *time.Timer
	timer = time.AfterFunc(typingTTL, func() {
		f.expireTyping(roomId, userId, timer)
	})

	f.typing[roomId][userId] = fallbackTypingEntry{
		nickname:  nickname,
		expiresAt: time.Now().Add(typingTTL),
		timer:     timer,
	}

	return nil
}

// expireTyping removes the entry only when it is still the one the firing
// timer was armed for. Stop on a timer whose callback already fired and is
// waiting on the mutex does not cancel it, so a stale callback can race a
// refresh; the timer comparison makes it a no-op.
func (f *FallbackStore) expireTyping(roomId, userId string, timer *time.Timer) {
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, ok := f.typing[roomId][userId]
	if !ok || entry.timer != timer {
		return
	}
	f.removeTypingLocked(roomId, userId)
}

func (f *FallbackStore) removeTypingLocked(roomId, userId string) {
	if room, ok := f.typing[roomId]; ok {
		delete(room, userId)
		if len(room) == 0 {
			delete(f.typing, roomId)
		}
	}
}

func (f *FallbackStore) GetRoomTypingUsers(_ context.Context, roomId, excludeUserId string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	nicknames := make([]string, 0, len(f.typing[roomId]))
	for userId, entry := range f.typing[roomId] {
		if now.After(entry.expiresAt) {
			// lazy cleanup in case the timer hasn't fired yet
			if entry.timer != nil {
				entry.timer.Stop()
			}
			f.removeTypingLocked(roomId, userId)
			continue
		}
		if userId == excludeUserId {
			continue
		}
		nicknames = append(nicknames, entry.nickname)
	}

	return nicknames, nil
}

func (f *FallbackStore) JoinRoom(_ context.Context, userId, roomId string, p types.Participant) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.userRooms[userId] = roomId
	f.setParticipantLocked(roomId, userId, p)

	return nil
}

func (f *FallbackStore) LeaveRoom(_ context.Context, userId, roomId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	delete(f.userRooms, userId)
	f.removeParticipantLocked(roomId, userId)
	if entry, ok := f.typing[roomId][userId]; ok && entry.timer != nil {
		entry.timer.Stop()
	}
	f.removeTypingLocked(roomId, userId)

	return nil
}

func (f *FallbackStore) CleanupEmptyRoom(_ context.Context, roomId string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.participants[roomId]) > 0 {
		return nil
	}

	delete(f.creators, roomId)
	delete(f.messages, roomId)
	for _, entry := range f.typing[roomId] {
		if entry.timer != nil {
			entry.timer.Stop()
		}
	}
	delete(f.typing, roomId)

	return nil
}

func (f *FallbackStore) GetRoomMetadata(_ context.Context, roomId string) (*types.RoomMetadata, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	meta, ok := f.meta[roomId]
	if !ok {
		return nil, nil
	}

	return &meta, nil
}

func (f *FallbackStore) SetRoomMetadata(_ context.Context, meta types.RoomMetadata) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.meta[meta.RoomId] = meta
	return nil
}

func (f *FallbackStore) DeactivateRoom(_ context.Context, roomId string, panicked bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	meta, ok := f.meta[roomId]
	if !ok {
		return nil
	}

	meta.Active = false
	meta.Panicked = meta.Panicked || panicked
	f.meta[roomId] = meta

	return nil
}

func (f *FallbackStore) Ping(_ context.Context) error {
	return nil
}
