package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

// RateLimitConfig configures a fixed window limit
type RateLimitConfig struct {
	// Limit is requests allowed per window
	Limit int
	// Window length
	Window time.Duration
	// KeyFunc overrides the client IP key
	KeyFunc func(*gin.Context) string
}

// RateLimiter decides whether key may make another request
type RateLimiter interface {
	Allow(ctx context.Context, key string, config *RateLimitConfig) (*RateLimitResult, error)
}

// RateLimitResult is the outcome of one Allow call
type RateLimitResult struct {
	Allowed   bool
	Remaining int
	// ResetAt is the Unix time the current window ends
	ResetAt int64
	Limit   int
}

// fixed window counter; INCR and EXPIRE run atomically
var fixedWindowScript = redis.NewScript(`
	local current = tonumber(redis.call('GET', KEYS[1]) or 0)
	local limit = tonumber(ARGV[1])
	local ttl = tonumber(ARGV[2])

	local allowed = current < limit
	local remaining = limit - current - 1

	if allowed then
		redis.call('INCR', KEYS[1])
		if current == 0 then
			redis.call('EXPIRE', KEYS[1], ttl)
		end
	else
		remaining = -1
	end

	return {allowed and 1 or 0, remaining, limit}
`)

// RedisRateLimiter counts requests in Redis so limits hold across
// gateway instances.
type RedisRateLimiter struct {
	redis redis.Scripter
}

// NewRedisRateLimiter creates a Redis-backed limiter
func NewRedisRateLimiter(client redis.Scripter) *RedisRateLimiter {
	return &RedisRateLimiter{redis: client}
}

// Allow implements RateLimiter
func (r *RedisRateLimiter) Allow(ctx context.Context, key string, config *RateLimitConfig) (*RateLimitResult, error) {
	windowSecs := int64(config.Window / time.Second)
	if windowSecs <= 0 {
		windowSecs = 1
	}
	window := time.Now().Unix() / windowSecs
	windowKey := fmt.Sprintf("hl7:ratelimit:%s:%d", key, window)

	result, err := fixedWindowScript.Run(ctx, r.redis, []string{windowKey},
		config.Limit,
		windowSecs+1,
	).Result()
	if err != nil {
		return nil, err
	}

	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return nil, fmt.Errorf("unexpected rate limit reply %v", result)
	}
	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	limit, _ := values[2].(int64)

	return &RateLimitResult{
		Allowed:   allowed == 1,
		Remaining: int(remaining),
		ResetAt:   (window + 1) * windowSecs,
		Limit:     int(limit),
	}, nil
}

// MemoryRateLimiter is a fixed window limiter for a single process
type MemoryRateLimiter struct {
	mu      sync.Mutex
	windows map[string]*memoryWindow
	now     func() time.Time
}

type memoryWindow struct {
	start time.Time
	count int
}

// NewMemoryRateLimiter creates an in-process limiter
func NewMemoryRateLimiter() *MemoryRateLimiter {
	return &MemoryRateLimiter{windows: make(map[string]*memoryWindow), now: time.Now}
}

// Allow implements RateLimiter
func (m *MemoryRateLimiter) Allow(_ context.Context, key string, config *RateLimitConfig) (*RateLimitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) >= config.Window {
		for k, old := range m.windows {
			if now.Sub(old.start) >= config.Window {
				delete(m.windows, k)
			}
		}
		w = &memoryWindow{start: now}
		m.windows[key] = w
	}

	result := &RateLimitResult{
		Limit:   config.Limit,
		ResetAt: w.start.Add(config.Window).Unix(),
	}
	if w.count >= config.Limit {
		result.Remaining = -1
		return result, nil
	}
	w.count++
	result.Allowed = true
	result.Remaining = config.Limit - w.count
	return result, nil
}

// RateLimit returns a gin middleware enforcing config. Limiter errors
// let the request through.
func RateLimit(limiter RateLimiter, config *RateLimitConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := clientKey(c, config)

		result, err := limiter.Allow(c.Request.Context(), key, config)
		if err != nil {
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(result.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt, 10))

		if !result.Allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "rate limit exceeded",
				"retry_after": result.ResetAt - time.Now().Unix(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func clientKey(c *gin.Context, config *RateLimitConfig) string {
	if config.KeyFunc != nil {
		return config.KeyFunc(c)
	}
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		return strings.TrimSpace(strings.Split(xff, ",")[0])
	}
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}
