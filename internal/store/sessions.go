package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"openhl7/gateway/internal/server"
)

// DefaultSessionTTL bounds how long a crashed gateway's sessions linger
const DefaultSessionTTL = 300 * time.Second

// RedisSessionRegistry records live MLLP sessions as
// hl7:sess:<session id> -> <gateway id>:<session id>:<client addr>.
type RedisSessionRegistry struct {
	redis redis.Cmdable
	ttl   time.Duration
}

// NewRedisSessionRegistry creates a registry. ttl <= 0 uses DefaultSessionTTL.
func NewRedisSessionRegistry(client redis.Cmdable, ttl time.Duration) *RedisSessionRegistry {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &RedisSessionRegistry{redis: client, ttl: ttl}
}

// SessionKey returns the Redis key for a session
func SessionKey(id string) string {
	return fmt.Sprintf("hl7:sess:%s", id)
}

// Register implements server.SessionRegistry
func (r *RedisSessionRegistry) Register(ctx context.Context, info server.SessionInfo) error {
	value := fmt.Sprintf("%s:%s:%s", info.GatewayID, info.ID, info.ClientIP)
	if err := r.redis.Set(ctx, SessionKey(info.ID), value, r.ttl).Err(); err != nil {
		return fmt.Errorf("failed to register session: %w", err)
	}
	return nil
}

// Unregister implements server.SessionRegistry
func (r *RedisSessionRegistry) Unregister(ctx context.Context, id string) error {
	if err := r.redis.Del(ctx, SessionKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to unregister session: %w", err)
	}
	return nil
}

// Count returns the number of sessions registered across all gateways
func (r *RedisSessionRegistry) Count(ctx context.Context) (int, error) {
	var (
		cursor uint64
		total  int
	)
	for {
		keys, next, err := r.redis.Scan(ctx, cursor, SessionKey("*"), 100).Result()
		if err != nil {
			return 0, fmt.Errorf("failed to scan sessions: %w", err)
		}
		total += len(keys)
		if next == 0 {
			return total, nil
		}
		cursor = next
	}
}
