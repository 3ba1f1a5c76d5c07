package store

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// DefaultSettingsKey is the Redis hash holding listener settings
const DefaultSettingsKey = "hl7:settings"

// RedisSettings keeps settings in a Redis hash so several gateway
// instances and the API share them.
type RedisSettings struct {
	redis redis.Cmdable
	key   string
}

// NewRedisSettings creates a Redis-backed settings store
func NewRedisSettings(client redis.Cmdable, key string) *RedisSettings {
	if key == "" {
		key = DefaultSettingsKey
	}
	return &RedisSettings{redis: client, key: key}
}

// Load implements SettingsStore
func (r *RedisSettings) Load(ctx context.Context) (Settings, error) {
	values, err := r.redis.HGetAll(ctx, r.key).Result()
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read settings: %w", err)
	}

	s := DefaultSettings()
	if ip, ok := values["ip"]; ok {
		s.IP = ip
	}
	if port, ok := values["port"]; ok {
		s.Port, err = strconv.Atoi(port)
		if err != nil {
			return Settings{}, fmt.Errorf("%w: port %q", ErrInvalidSettings, port)
		}
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Save implements SettingsStore
func (r *RedisSettings) Save(ctx context.Context, s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if err := r.redis.HSet(ctx, r.key, "ip", s.IP, "port", s.Port).Err(); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}
