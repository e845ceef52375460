package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ephemchat/roomstate/internal/types"
)

// RedisBackend implements Backend against a shared Redis instance, the
// persistent tier of the store. Multi-key operations use transactional
// pipelines or server-side scripts so partial writes are never visible.
type RedisBackend struct {
	client *redis.Client
	ttl    time.Duration
}

type RedisOptions struct {
	Addr           string
	ConnectTimeout time.Duration
	CommandTimeout time.Duration
	RoomTTL        time.Duration
}

func NewRedisBackend(opts RedisOptions) *RedisBackend {
	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		DialTimeout:  opts.ConnectTimeout,
		ReadTimeout:  opts.CommandTimeout,
		WriteTimeout: opts.CommandTimeout,
		PoolSize:     50,
		MinIdleConns: 5,
	})

	return &RedisBackend{
		client: client,
		ttl:    opts.RoomTTL,
	}
}

func participantsKey(roomId string) string { return "room:" + roomId + ":participants" }
func creatorKey(roomId string) string      { return "room:" + roomId + ":creator" }
func messagesKey(roomId string) string     { return "room:" + roomId + ":messages" }
func typingKey(roomId string) string       { return "room:" + roomId + ":typing" }
func metaKey(roomId string) string         { return "room:" + roomId + ":meta" }
func userRoomKey(userId string) string     { return "user:" + userId + ":room" }

// typingEntry is the stored form of a typing indicator. Redis hash fields
// have no per-field TTL, so the expiry is embedded as unix milliseconds
// and enforced server-side at read.
type typingEntry struct {
	Nickname  string `json:"nickname"`
	ExpiresAt int64  `json:"expires_at"`
}

// cleanupScript clears the creator, message and typing keys only when the
// room's participant set is empty, as one atomic server-side step.
var cleanupScript = redis.NewScript(`
if redis.call('HLEN', KEYS[1]) == 0 then
	redis.call('DEL', KEYS[2], KEYS[3], KEYS[4])
	return 1
end
return 0
`)

// typingSweepScript deletes expired typing entries and returns the live
// field/value pairs in one atomic step, so an entry refreshed between a
// read and its lazy delete can never be swept away.
var typingSweepScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local entries = redis.call('HGETALL', KEYS[1])
local alive = {}
local expired = {}
for i = 1, #entries, 2 do
	local ok, entry = pcall(cjson.decode, entries[i + 1])
	if ok and entry.expires_at > now then
		table.insert(alive, entries[i])
		table.insert(alive, entries[i + 1])
	else
		table.insert(expired, entries[i])
	end
end
if #expired > 0 then
	redis.call('HDEL', KEYS[1], unpack(expired))
end
return alive
`)

func (b *RedisBackend) GetRoomParticipants(ctx context.Context, roomId string) (map[string]types.Participant, error) {
	raw, err := b.client.HGetAll(ctx, participantsKey(roomId)).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall participants: %w", err)
	}

	participants := make(map[string]types.Participant, len(raw))
	for userId, data := range raw {
		var p types.Participant
		if err := json.Unmarshal([]byte(data), &p); err != nil {
			return nil, fmt.Errorf("unmarshal participant %q: %w", userId, err)
		}
		participants[userId] = p
	}

	return participants, nil
}

func (b *RedisBackend) SetRoomParticipant(ctx context.Context, roomId, userId string, p types.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, participantsKey(roomId), userId, data)
	pipe.Expire(ctx, participantsKey(roomId), b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hset participant: %w", err)
	}

	return nil
}

func (b *RedisBackend) RemoveRoomParticipant(ctx context.Context, roomId, userId string) error {
	if err := b.client.HDel(ctx, participantsKey(roomId), userId).Err(); err != nil {
		return fmt.Errorf("hdel participant: %w", err)
	}
	return nil
}

func (b *RedisBackend) HasRoomParticipant(ctx context.Context, roomId, userId string) (bool, error) {
	exists, err := b.client.HExists(ctx, participantsKey(roomId), userId).Result()
	if err != nil {
		return false, fmt.Errorf("hexists participant: %w", err)
	}
	return exists, nil
}

func (b *RedisBackend) GetUserRoom(ctx context.Context, userId string) (string, error) {
	roomId, err := b.client.Get(ctx, userRoomKey(userId)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("get user room: %w", err)
	}
	return roomId, nil
}

func (b *RedisBackend) SetUserRoom(ctx context.Context, userId, roomId string) error {
	if err := b.client.Set(ctx, userRoomKey(userId), roomId, b.ttl).Err(); err != nil {
		return fmt.Errorf("set user room: %w", err)
	}
	return nil
}

func (b *RedisBackend) RemoveUserRoom(ctx context.Context, userId string) error {
	if err := b.client.Del(ctx, userRoomKey(userId)).Err(); err != nil {
		return fmt.Errorf("del user room: %w", err)
	}
	return nil
}

func (b *RedisBackend) GetRoomCreator(ctx context.Context, roomId string) (string, error) {
	creator, err := b.client.Get(ctx, creatorKey(roomId)).Result()
	if err != nil {
		if err == redis.Nil {
			return "", nil
		}
		return "", fmt.Errorf("get room creator: %w", err)
	}
	return creator, nil
}

// SetRoomCreator records userId as the room's creator only when no creator
// is recorded yet. It returns the creator that is durably recorded after
// the call, which is the existing one when the set lost the race.
func (b *RedisBackend) SetRoomCreator(ctx context.Context, roomId, userId string) (string, error) {
	set, err := b.client.SetNX(ctx, creatorKey(roomId), userId, b.ttl).Result()
	if err != nil {
		return "", fmt.Errorf("setnx room creator: %w", err)
	}
	if set {
		return userId, nil
	}

	return b.GetRoomCreator(ctx, roomId)
}

func (b *RedisBackend) GetRoomMessages(ctx context.Context, roomId string) ([]types.Message, error) {
	raw, err := b.client.LRange(ctx, messagesKey(roomId), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("lrange messages: %w", err)
	}

	messages := make([]types.Message, 0, len(raw))
	for _, data := range raw {
		var m types.Message
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("unmarshal message: %w", err)
		}
		messages = append(messages, m)
	}

	return messages, nil
}

func (b *RedisBackend) AddRoomMessage(ctx context.Context, roomId string, msg types.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.RPush(ctx, messagesKey(roomId), data)
	pipe.LTrim(ctx, messagesKey(roomId), int64(-maxRoomMessages), -1)
	pipe.Expire(ctx, messagesKey(roomId), b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("rpush message: %w", err)
	}

	return nil
}

func (b *RedisBackend) SetUserTypingStatus(ctx context.Context, roomId, userId, nickname string, typing bool) error {
	if !typing {
		if err := b.client.HDel(ctx, typingKey(roomId), userId).Err(); err != nil {
			return fmt.Errorf("hdel typing: %w", err)
		}
		return nil
	}

	entry := typingEntry{
		Nickname:  nickname,
		ExpiresAt: time.Now().Add(typingTTL).UnixMilli(),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal typing entry: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.HSet(ctx, typingKey(roomId), userId, data)
	// the whole hash expires shortly after the last writer's entry would
	pipe.Expire(ctx, typingKey(roomId), typingTTL*2)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("hset typing: %w", err)
	}

	return nil
}

func (b *RedisBackend) GetRoomTypingUsers(ctx context.Context, roomId, excludeUserId string) ([]string, error) {
	res, err := typingSweepScript.Run(ctx, b.client, []string{typingKey(roomId)}, time.Now().UnixMilli()).Result()
	if err != nil {
		return nil, fmt.Errorf("sweep typing: %w", err)
	}

	pairs, _ := res.([]interface{})
	return decodeTypingEntries(pairs, excludeUserId)
}

// decodeTypingEntries turns the sweep script's flat field/value reply into
// the nicknames of the users still typing.
func decodeTypingEntries(pairs []interface{}, excludeUserId string) ([]string, error) {
	nicknames := make([]string, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		userId, ok := pairs[i].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected typing field type %T", pairs[i])
		}
		data, ok := pairs[i+1].(string)
		if !ok {
			return nil, fmt.Errorf("unexpected typing value type %T", pairs[i+1])
		}

		var entry typingEntry
		if err := json.Unmarshal([]byte(data), &entry); err != nil {
			return nil, fmt.Errorf("unmarshal typing entry %q: %w", userId, err)
		}
		if userId == excludeUserId {
			continue
		}
		nicknames = append(nicknames, entry.Nickname)
	}

	return nicknames, nil
}

func (b *RedisBackend) JoinRoom(ctx context.Context, userId, roomId string, p types.Participant) error {
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal participant: %w", err)
	}

	pipe := b.client.TxPipeline()
	pipe.Set(ctx, userRoomKey(userId), roomId, b.ttl)
	pipe.HSet(ctx, participantsKey(roomId), userId, data)
	pipe.Expire(ctx, participantsKey(roomId), b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("join room: %w", err)
	}

	return nil
}

func (b *RedisBackend) LeaveRoom(ctx context.Context, userId, roomId string) error {
	pipe := b.client.TxPipeline()
	pipe.Del(ctx, userRoomKey(userId))
	pipe.HDel(ctx, participantsKey(roomId), userId)
	pipe.HDel(ctx, typingKey(roomId), userId)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("leave room: %w", err)
	}

	return nil
}

func (b *RedisBackend) CleanupEmptyRoom(ctx context.Context, roomId string) error {
	keys := []string{
		participantsKey(roomId),
		creatorKey(roomId),
		messagesKey(roomId),
		typingKey(roomId),
	}
	if err := cleanupScript.Run(ctx, b.client, keys).Err(); err != nil {
		return fmt.Errorf("cleanup empty room: %w", err)
	}

	return nil
}

func (b *RedisBackend) GetRoomMetadata(ctx context.Context, roomId string) (*types.RoomMetadata, error) {
	data, err := b.client.Get(ctx, metaKey(roomId)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("get room metadata: %w", err)
	}

	var meta storedRoomMetadata
	if err := json.Unmarshal([]byte(data), &meta); err != nil {
		return nil, fmt.Errorf("unmarshal room metadata: %w", err)
	}

	m := types.RoomMetadata(meta)
	return &m, nil
}

func (b *RedisBackend) SetRoomMetadata(ctx context.Context, meta types.RoomMetadata) error {
	data, err := json.Marshal(storedRoomMetadata(meta))
	if err != nil {
		return fmt.Errorf("marshal room metadata: %w", err)
	}

	if err := b.client.Set(ctx, metaKey(meta.RoomId), data, b.ttl).Err(); err != nil {
		return fmt.Errorf("set room metadata: %w", err)
	}

	return nil
}

func (b *RedisBackend) DeactivateRoom(ctx context.Context, roomId string, panicked bool) error {
	meta, err := b.GetRoomMetadata(ctx, roomId)
	if err != nil {
		return err
	}
	if meta == nil {
		return nil
	}

	meta.Active = false
	meta.Panicked = meta.Panicked || panicked
	return b.SetRoomMetadata(ctx, *meta)
}

func (b *RedisBackend) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
