package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ephemchat/roomstate/internal/stats"
	"github.com/ephemchat/roomstate/internal/testutil"
	"github.com/ephemchat/roomstate/internal/types"
)

// errBackend fails every call, standing in for an unreachable Redis.
type errBackend struct {
	err error
}

func (b *errBackend) GetRoomParticipants(context.Context, string) (map[string]types.Participant, error) {
	return nil, b.err
}
func (b *errBackend) SetRoomParticipant(context.Context, string, string, types.Participant) error {
	return b.err
}
func (b *errBackend) RemoveRoomParticipant(context.Context, string, string) error { return b.err }
func (b *errBackend) HasRoomParticipant(context.Context, string, string) (bool, error) {
	return false, b.err
}
func (b *errBackend) GetUserRoom(context.Context, string) (string, error) { return "", b.err }
func (b *errBackend) SetUserRoom(context.Context, string, string) error { return b.err }
func (b *errBackend) RemoveUserRoom(context.Context, string) error { return b.err }
func (b *errBackend) GetRoomCreator(context.Context, string) (string, error) { return "", b.err }
func (b *errBackend) SetRoomCreator(context.Context, string, string) (string, error) {
	return "", b.err
}
func (b *errBackend) GetRoomMessages(context.Context, string) ([]types.Message, error) {
	return nil, b.err
}
func (b *errBackend) AddRoomMessage(context.Context, string, types.Message) error { return b.err }
func (b *errBackend) SetUserTypingStatus(context.Context, string, string, string, bool) error {
	return b.err
}
func (b *errBackend) GetRoomTypingUsers(context.Context, string, string) ([]string, error) {
	return nil, b.err
}
func (b *errBackend) JoinRoom(context.Context, string, string, types.Participant) error {
	return b.err
}
func (b *errBackend) LeaveRoom(context.Context, string, string) error { return b.err }
func (b *errBackend) CleanupEmptyRoom(context.Context, string) error { return b.err }
func (b *errBackend) GetRoomMetadata(context.Context, string) (*types.RoomMetadata, error) {
	return nil, b.err
}
func (b *errBackend) SetRoomMetadata(context.Context, types.RoomMetadata) error { return b.err }
func (b *errBackend) DeactivateRoom(context.Context, string, bool) error { return b.err }
func (b *errBackend) Ping(context.Context) error { return b.err }

func newTestStore(t *testing.T, primary Backend) *RoomStateStore {
	return NewRoomStateStore(testutil.TestLogger(t), primary, stats.NopStats{})
}

func Test_tieredFallsBackOnPrimaryError(t *testing.T) {
	s := newTestStore(t, &errBackend{err: errors.New("connection refused")})
	ctx := context.Background()

	// the failing primary is absorbed; the calls land on the fallback
	assert.NoError(t, s.JoinRoom(ctx, "u1", "ABCD1234", testParticipant("u1", "Alice")))

	assert.False(t, s.healthy.Load(), "expected health flag cleared after primary failure")

	ok, err := s.HasRoomParticipant(ctx, "ABCD1234", "u1")
	assert.NoError(t, err)
	assert.True(t, ok, "expected the joined participant to be readable from the fallback")

	roomId, err := s.GetUserRoom(ctx, "u1")
	assert.NoError(t, err)
	assert.Equal(t, "ABCD1234", roomId)
}

func Test_fallbackOnlySequence(t *testing.T) {
	// nil primary is the redis-disabled configuration; the sequence below
	// must behave exactly like the primary-backed path
	s := newTestStore(t, nil)
	ctx := context.Background()

	assert.NoError(t, s.JoinRoom(ctx, "u1", "ABCD1234", testParticipant("u1", "Alice")))

	creator, err := s.SetRoomCreator(ctx, "ABCD1234", "u1")
	assert.NoError(t, err)
	assert.Equal(t, "u1", creator)

	assert.NoError(t, s.AddRoomMessage(ctx, "ABCD1234", types.Message{Id: "m1", Text: "hi", SenderId: "u1"}))
	messages, err := s.GetRoomMessages(ctx, "ABCD1234")
	assert.NoError(t, err)
	assert.Len(t, messages, 1)
	assert.Equal(t, "hi", messages[0].Text)

	assert.NoError(t, s.SetUserTypingStatus(ctx, "ABCD1234", "u1", "Alice", true))
	nicknames, err := s.GetRoomTypingUsers(ctx, "ABCD1234", "")
	assert.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, nicknames)

	assert.NoError(t, s.LeaveRoom(ctx, "u1", "ABCD1234"))
	assert.NoError(t, s.CleanupEmptyRoom(ctx, "ABCD1234"))

	creator, err = s.GetRoomCreator(ctx, "ABCD1234")
	assert.NoError(t, err)
	assert.Empty(t, creator, "expected creator cleared after drain and cleanup")
}

func Test_typingMirroredIntoFallback(t *testing.T) {
	// when the primary is up, the typing write is mirrored into the
	// fallback so a tier transition cannot resurrect stale indicators
	s := newTestStore(t, &mirrorBackend{})
	ctx := context.Background()

	assert.NoError(t, s.SetUserTypingStatus(ctx, "ABCD1234", "u1", "Alice", true))

	nicknames, err := s.fallback.GetRoomTypingUsers(ctx, "ABCD1234", "")
	assert.NoError(t, err)
	assert.Equal(t, []string{"Alice"}, nicknames, "expected typing entry mirrored into the fallback")
}

// mirrorBackend accepts every write and reports nothing, standing in for a
// healthy primary whose contents the test doesn't inspect.
type mirrorBackend struct {
	errBackend
}

func (b *mirrorBackend) SetUserTypingStatus(context.Context, string, string, string, bool) error {
	return nil
}
func (b *mirrorBackend) Ping(context.Context) error { return nil }

func TestHealthCheck(t *testing.T) {
	t.Run("degraded when primary disabled", func(t *testing.T) {
		s := newTestStore(t, nil)
		h := s.HealthCheck(context.Background())
		assert.Equal(t, types.HealthDegraded, h.State)
		assert.False(t, h.Redis)
		assert.True(t, h.Fallback)
	})

	t.Run("degraded when primary unreachable", func(t *testing.T) {
		s := newTestStore(t, &errBackend{err: errors.New("connection refused")})
		h := s.HealthCheck(context.Background())
		assert.Equal(t, types.HealthDegraded, h.State)
		assert.False(t, h.Redis)
		assert.True(t, h.Fallback)
		assert.NotEmpty(t, h.Detail)
		assert.False(t, s.healthy.Load(), "expected failed health check to clear the health flag")
	})

	t.Run("healthy when primary responds", func(t *testing.T) {
		s := newTestStore(t, &mirrorBackend{})
		s.healthy.Store(false)
		h := s.HealthCheck(context.Background())
		assert.Equal(t, types.HealthHealthy, h.State)
		assert.True(t, h.Redis)
		assert.True(t, s.healthy.Load(), "expected successful health check to restore the health flag")
	})
}
