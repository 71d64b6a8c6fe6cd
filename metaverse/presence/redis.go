package presence

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds how long a presence key survives without a refresh.
const DefaultTTL = 10 * time.Minute

// RedisConfig holds connection settings for NewRedisClient.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NewRedisClient connects and pings.
func NewRedisClient(ctx context.Context, c RedisConfig) (*redis.Client, error) {
	rdb := redis.NewClient(&redis.Options{Addr: c.Addr, Password: c.Password, DB: c.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", c.Addr, err)
	}
	return rdb, nil
}

// RedisSink mirrors presence into Redis keys.
type RedisSink struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisSink wraps rdb. A non-positive ttl uses DefaultTTL.
func NewRedisSink(rdb *redis.Client, ttl time.Duration) *RedisSink {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisSink{rdb: rdb, ttl: ttl}
}

// user key: metaverse:presence:<user>, hash of connection id -> room id
func userKey(userID string) string { return "metaverse:presence:" + userID }

// room key: metaverse:room:<room>, hash of connection id -> user id
func roomKey(roomID string) string { return "metaverse:room:" + roomID }

// Publish applies ev to the presence keys. Joined and refreshed events write
// both hashes and renew their TTL; left removes this connection only, so a
// user still connected elsewhere stays online.
func (s *RedisSink) Publish(ctx context.Context, ev Event) error {
	pipe := s.rdb.TxPipeline()
	switch ev.Kind {
	case KindJoined, KindRefreshed:
		pipe.HSet(ctx, userKey(ev.UserID), ev.ConnectionID, ev.RoomID)
		pipe.Expire(ctx, userKey(ev.UserID), s.ttl)
		pipe.HSet(ctx, roomKey(ev.RoomID), ev.ConnectionID, ev.UserID)
		pipe.Expire(ctx, roomKey(ev.RoomID), s.ttl)
	case KindLeft:
		pipe.HDel(ctx, userKey(ev.UserID), ev.ConnectionID)
		pipe.HDel(ctx, roomKey(ev.RoomID), ev.ConnectionID)
	default:
		return fmt.Errorf("unknown presence kind %q", ev.Kind)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis presence %s %s: %w", ev.Kind, ev.UserID, err)
	}
	return nil
}

// Location is one connection of a user as recorded in Redis.
type Location struct {
	ConnectionID string
	RoomID       string
}

// Lookup returns every connection of userID, ordered by room then
// connection id. An empty result means the user is offline.
func (s *RedisSink) Lookup(ctx context.Context, userID string) ([]Location, error) {
	conns, err := s.rdb.HGetAll(ctx, userKey(userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis presence lookup %s: %w", userID, err)
	}
	locs := make([]Location, 0, len(conns))
	for connID, roomID := range conns {
		locs = append(locs, Location{ConnectionID: connID, RoomID: roomID})
	}
	sort.Slice(locs, func(i, j int) bool {
		if locs[i].RoomID != locs[j].RoomID {
			return locs[i].RoomID < locs[j].RoomID
		}
		return locs[i].ConnectionID < locs[j].ConnectionID
	})
	return locs, nil
}

// RoomMembers returns the connection id -> user id hash for roomID.
func (s *RedisSink) RoomMembers(ctx context.Context, roomID string) (map[string]string, error) {
	members, err := s.rdb.HGetAll(ctx, roomKey(roomID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redis room members %s: %w", roomID, err)
	}
	return members, nil
}
