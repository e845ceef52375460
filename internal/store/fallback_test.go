package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ephemchat/roomstate/internal/types"
)

func testParticipant(userId, nickname string) types.Participant {
	return types.Participant{
		UserId:   userId,
		Nickname: nickname,
		Avatar:   "cat",
		JoinedAt: time.Now().UTC(),
	}
}

func Test_fallbackParticipants(t *testing.T) {
	f := NewFallbackStore()
	ctx := context.Background()

	participants, err := f.GetRoomParticipants(ctx, "ABCD1234")
	assert.NoError(t, err)
	assert.Empty(t, participants, "expected empty map for unknown room")

	assert.NoError(t, f.SetRoomParticipant(ctx, "ABCD1234", "u1", testParticipant("u1", "Alice")))

	ok, err := f.HasRoomParticipant(ctx, "ABCD1234", "u1")
	assert.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.HasRoomParticipant(ctx, "ABCD1234", "u2")
	assert.NoError(t, err)
	assert.False(t, ok)

	participants, err = f.GetRoomParticipants(ctx, "ABCD1234")
	assert.NoError(t, err)
	assert.Len(t, participants, 1)
	assert.Equal(t, "Alice", participants["u1"].Nickname)

	// removing an absent participant is a no-op
	assert.NoError(t, f.RemoveRoomParticipant(ctx, "ABCD1234", "u2"))
	assert.NoError(t, f.RemoveRoomParticipant(ctx, "ABCD1234", "u1"))

	participants, err = f.GetRoomParticipants(ctx, "ABCD1234")
	assert.NoError(t, err)
	assert.Empty(t, participants)
}

func Test_fallbackUserRoom(t *testing.T) {
	f := NewFallbackStore()
	ctx := context.Background()

	roomId, err := f.GetUserRoom(ctx, "u1")
	assert.NoError(t, err)
	assert.Empty(t, roomId, "expected no room for unknown user")

	assert.NoError(t, f.SetUserRoom(ctx, "u1", "ABCD1234"))
	roomId, err = f.GetUserRoom(ctx, "u1")
	assert.NoError(t, err)
	assert.Equal(t, "ABCD1234", roomId)

	assert.NoError(t, f.RemoveUserRoom(ctx, "u1"))
	roomId, err = f.GetUserRoom(ctx, "u1")
	assert.NoError(t, err)
	assert.Empty(t, roomId)
}

func Test_fallbackSetRoomCreator(t *testing.T) {
	f := NewFallbackStore()
	ctx := context.Background()

	creator, err := f.SetRoomCreator(ctx, "ABCD1234", "u1")
	assert.NoError(t, err)
	assert.Equal(t, "u1", creator, "expected first setter to win")

	// a second setter never overrides the recorded creator
	creator, err = f.SetRoomCreator(ctx, "ABCD1234", "u2")
	assert.NoError(t, err)
	assert.Equal(t, "u1", creator)

	creator, err = f.GetRoomCreator(ctx, "ABCD1234")
	assert.NoError(t, err)
	assert.Equal(t, "u1", creator)
}

func Test_fallbackMessageCap(t *testing.T) {
	f := NewFallbackStore()
	ctx := context.Background()

	for i := 0; i < 150; i++ {
		msg := types.Message{
			Id:        fmt.Sprintf("msg-%d", i),
			RoomId:    "ABCD1234",
			Text:      fmt.Sprintf("message %d", i),
			SenderId:  "u1",
			Timestamp: time.Now().UTC(),
		}
		assert.NoError(t, f.AddRoomMessage(ctx, "ABCD1234", msg))
	}

	messages, err := f.GetRoomMessages(ctx, "ABCD1234")
	assert.NoError(t, err)
	assert.Lenf(t, messages, maxRoomMessages, "expected list capped at %d", maxRoomMessages)
	assert.Equal(t, "msg-50", messages[0].Id, "expected oldest surviving message to be msg-50")
	assert.Equal(t, "msg-149", messages[len(messages)-1].Id, "expected newest message last")
}

func Test_fallbackTypingStatus(t *testing.T) {
	f := NewFallbackStore()
	ctx := context.Background()

	assert.NoError(t, f.SetUserTypingStatus(ctx, "ABCD1234", "u1", "Alice", true))
	assert.NoError(t, f.SetUserTypingStatus(ctx, "ABCD1234", "u2", "Bob", true))

	nicknames, err := f.GetRoomTypingUsers(ctx, "ABCD1234", "u1")
	assert.NoError(t, err)
	assert.Equal(t, []string{"Bob"}, nicknames, "expected self to be excluded")

	nicknames, err = f.GetRoomTypingUsers(ctx, "ABCD1234", "")
	assert.NoError(t, err)
	assert.Len(t, nicknames, 2)

	// typing=false deletes the entry immediately
	assert.NoError(t, f.SetUserTypingStatus(ctx, "ABCD1234", "u2", "Bob", false))
	nicknames, err = f.GetRoomTypingUsers(ctx, "ABCD1234", "")
	assert.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, nicknames)
}

func Test_fallbackTypingLazyExpiry(t *testing.T) {
	f := NewFallbackStore()
	ctx := context.Background()

	assert.NoError(t, f.SetUserTypingStatus(ctx, "ABCD1234", "u1", "Alice", true))

	// age the entry past its TTL without waiting for the timer
	f.mu.Lock()
	entry := f.typing["ABCD1234"]["u1"]
	entry.expiresAt = time.Now().Add(-time.Second)
	f.typing["ABCD1234"]["u1"] = entry
	f.mu.Unlock()

	nicknames, err := f.GetRoomTypingUsers(ctx, "ABCD1234", "")
	assert.NoError(t, err)
	assert.Empty(t, nicknames, "expected expired entry to be cleaned up at read time")

	f.mu.RLock()
	_, present := f.typing["ABCD1234"]
	f.mu.RUnlock()
	assert.False(t, present, "expected lazy cleanup to remove the stored entry")
}

func Test_fallbackTypingTimerReplaced(t *testing.T) {
	f := NewFallbackStore()
	ctx := context.Background()

	assert.NoError(t, f.SetUserTypingStatus(ctx, "ABCD1234", "u1", "Alice", true))

	f.mu.RLock()
	first := f.typing["ABCD1234"]["u1"].timer
	f.mu.RUnlock()

	assert.NoError(t, f.SetUserTypingStatus(ctx, "ABCD1234", "u1", "Alice", true))

	f.mu.RLock()
	second := f.typing["ABCD1234"]["u1"].timer
	f.mu.RUnlock()

	assert.NotSame(t, first, second, "expected refresh to replace the expiry timer")
	assert.False(t, first.Stop(), "expected the replaced timer to already be stopped")
}

func Test_fallbackTypingStaleTimerIgnored(t *testing.T) {
	f := NewFallbackStore()
	ctx := context.Background()

	assert.NoError(t, f.SetUserTypingStatus(ctx, "ABCD1234", "u1", "Alice", true))

	f.mu.RLock()
	stale := f.typing["ABCD1234"]["u1"].timer
	f.mu.RUnlock()

	// a refresh replaces the timer, but the replaced one may already have
	// fired and be waiting on the mutex; its callback must not delete the
	// refreshed entry
	assert.NoError(t, f.SetUserTypingStatus(ctx, "ABCD1234", "u1", "Alice", true))

	f.expireTyping("ABCD1234", "u1", stale)
	nicknames, err := f.GetRoomTypingUsers(ctx, "ABCD1234", "")
	assert.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, nicknames, "expected refreshed entry to survive the stale expiry")

	// the current timer still expires the entry
	f.mu.RLock()
	current := f.typing["ABCD1234"]["u1"].timer
	f.mu.RUnlock()

	f.expireTyping("ABCD1234", "u1", current)
	nicknames, err = f.GetRoomTypingUsers(ctx, "ABCD1234", "")
	assert.NoError(t, err)
	assert.Empty(t, nicknames)
}

func Test_fallbackJoinLeaveRoom(t *testing.T) {
	f := NewFallbackStore()
	ctx := context.Background()

	assert.NoError(t, f.JoinRoom(ctx, "u1", "ABCD1234", testParticipant("u1", "Alice")))

	roomId, _ := f.GetUserRoom(ctx, "u1")
	assert.Equal(t, "ABCD1234", roomId)
	ok, _ := f.HasRoomParticipant(ctx, "ABCD1234", "u1")
	assert.True(t, ok)

	assert.NoError(t, f.SetUserTypingStatus(ctx, "ABCD1234", "u1", "Alice", true))
	assert.NoError(t, f.LeaveRoom(ctx, "u1", "ABCD1234"))

	roomId, _ = f.GetUserRoom(ctx, "u1")
	assert.Empty(t, roomId)
	ok, _ = f.HasRoomParticipant(ctx, "ABCD1234", "u1")
	assert.False(t, ok)
	nicknames, _ := f.GetRoomTypingUsers(ctx, "ABCD1234", "")
	assert.Empty(t, nicknames, "expected typing status cleared on leave")
}

func Test_fallbackCleanupEmptyRoom(t *testing.T) {
	f := NewFallbackStore()
	ctx := context.Background()

	_, err := f.SetRoomCreator(ctx, "ABCD1234", "u1")
	assert.NoError(t, err)
	assert.NoError(t, f.AddRoomMessage(ctx, "ABCD1234", types.Message{Id: "m1", Text: "hi"}))
	assert.NoError(t, f.SetUserTypingStatus(ctx, "ABCD1234", "u1", "Alice", true))

	t.Run("no-op on non-empty room", func(t *testing.T) {
		assert.NoError(t, f.SetRoomParticipant(ctx, "ABCD1234", "u1", testParticipant("u1", "Alice")))
		assert.NoError(t, f.CleanupEmptyRoom(ctx, "ABCD1234"))

		creator, _ := f.GetRoomCreator(ctx, "ABCD1234")
		assert.Equal(t, "u1", creator, "expected creator untouched while room is occupied")
		messages, _ := f.GetRoomMessages(ctx, "ABCD1234")
		assert.Len(t, messages, 1)
	})

	t.Run("clears state once empty, idempotently", func(t *testing.T) {
		assert.NoError(t, f.RemoveRoomParticipant(ctx, "ABCD1234", "u1"))

		// twice in a row: second call must not error or mutate further
		assert.NoError(t, f.CleanupEmptyRoom(ctx, "ABCD1234"))
		assert.NoError(t, f.CleanupEmptyRoom(ctx, "ABCD1234"))

		creator, _ := f.GetRoomCreator(ctx, "ABCD1234")
		assert.Empty(t, creator, "expected creator record cleared")
		messages, _ := f.GetRoomMessages(ctx, "ABCD1234")
		assert.Empty(t, messages)
		nicknames, _ := f.GetRoomTypingUsers(ctx, "ABCD1234", "")
		assert.Empty(t, nicknames)
	})
}

func Test_fallbackRoomMetadata(t *testing.T) {
	f := NewFallbackStore()
	ctx := context.Background()

	meta, err := f.GetRoomMetadata(ctx, "ABCD1234")
	assert.NoError(t, err)
	assert.Nil(t, meta, "expected nil metadata for unknown room")

	assert.NoError(t, f.SetRoomMetadata(ctx, types.RoomMetadata{
		RoomId: "ABCD1234",
		Name:   "test room",
		Active: true,
	}))

	meta, err = f.GetRoomMetadata(ctx, "ABCD1234")
	assert.NoError(t, err)
	assert.True(t, meta.Active)

	assert.NoError(t, f.DeactivateRoom(ctx, "ABCD1234", true))
	meta, err = f.GetRoomMetadata(ctx, "ABCD1234")
	assert.NoError(t, err)
	assert.False(t, meta.Active)
	assert.True(t, meta.Panicked)

	// deactivating an unknown room is a no-op
	assert.NoError(t, f.DeactivateRoom(ctx, "ZZZZ9999", false))
}
