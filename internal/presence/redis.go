package presence

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/wya-app/realtime/internal/types"
)

const (
	keyPrefix = "presence:"

	fieldStatus   = "status"
	fieldActivity = "activity"
	fieldRoom     = "room"
	fieldLastSeen = "last_seen"

	// recordTTL bounds how long a record outlives its last write, so a
	// crashed process doesn't leave ghost presence behind.
	recordTTL = 5 * time.Minute
)

// clearRoomScript clears the room field only when it still holds the
// expected value. Runs atomically server-side.
var clearRoomScript = redis.NewScript(`
if redis.call("HGET", KEYS[1], "room") == ARGV[1] then
	redis.call("HSET", KEYS[1], "room", "")
	redis.call("HSET", KEYS[1], "last_seen", ARGV[2])
	return 1
end
return 0
`)

type RedisTracker struct {
	rdb *redis.Client
}

func NewRedisTracker(rdb *redis.Client) *RedisTracker {
	return &RedisTracker{rdb: rdb}
}

func presenceKey(userId int) string {
	return keyPrefix + strconv.Itoa(userId)
}

func nowMillis() int64 {
	return time.Now().UTC().UnixMilli()
}

func (t *RedisTracker) SetPresence(ctx context.Context, userId int, status types.PresenceStatus, activity, roomId string) error {
	key := presenceKey(userId)

	pipe := t.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		fieldStatus, string(status),
		fieldActivity, activity,
		fieldRoom, roomId,
		fieldLastSeen, nowMillis(),
	)
	pipe.Expire(ctx, key, recordTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set presence for user %d: %w", userId, err)
	}

	return nil
}

func (t *RedisTracker) SetStatus(ctx context.Context, userId int, status types.PresenceStatus) error {
	key := presenceKey(userId)

	pipe := t.rdb.TxPipeline()
	pipe.HSet(ctx, key,
		fieldStatus, string(status),
		fieldLastSeen, nowMillis(),
	)
	pipe.Expire(ctx, key, recordTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("set status for user %d: %w", userId, err)
	}

	return nil
}

func (t *RedisTracker) ClearRoom(ctx context.Context, userId int, roomId string) error {
	err := clearRoomScript.Run(ctx, t.rdb,
		[]string{presenceKey(userId)},
		roomId,
		nowMillis(),
	).Err()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("clear room for user %d: %w", userId, err)
	}

	return nil
}

func (t *RedisTracker) GetPresence(ctx context.Context, userId int) (types.PresenceRecord, error) {
	fields, err := t.rdb.HGetAll(ctx, presenceKey(userId)).Result()
	if err != nil {
		return types.PresenceRecord{}, fmt.Errorf("get presence for user %d: %w", userId, err)
	}

	if len(fields) == 0 {
		return offlineRecord(userId), nil
	}

	return recordFromFields(userId, fields), nil
}

func (t *RedisTracker) Heartbeat(ctx context.Context, userId int) error {
	key := presenceKey(userId)

	pipe := t.rdb.TxPipeline()
	pipe.HSet(ctx, key, fieldLastSeen, nowMillis())
	pipe.Expire(ctx, key, recordTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("heartbeat for user %d: %w", userId, err)
	}

	return nil
}

func offlineRecord(userId int) types.PresenceRecord {
	return types.PresenceRecord{
		UserId: userId,
		Status: types.PresenceOffline,
	}
}

func recordFromFields(userId int, fields map[string]string) types.PresenceRecord {
	rec := types.PresenceRecord{
		UserId:   userId,
		Status:   types.PresenceStatus(fields[fieldStatus]),
		Activity: fields[fieldActivity],
		RoomId:   fields[fieldRoom],
	}

	if rec.Status == "" {
		rec.Status = types.PresenceOffline
	}

	if ms, err := strconv.ParseInt(fields[fieldLastSeen], 10, 64); err == nil {
		rec.LastSeen = time.UnixMilli(ms).UTC()
	}

	return rec
}
