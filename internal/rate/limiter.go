package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Config holds limiter tuning parameters.
type Config struct {
	// Limit is the number of hits allowed per Window.
	Limit int
	// Window is the length of one fixed window.
	Window time.Duration
	// Prefix namespaces the counter keys. Defaults to "acrl".
	Prefix string
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed bool
	Count   int64
	// RetryAfter is the time left in the current window when the hit was
	// rejected.
	RetryAfter time.Duration
}

// Limiter enforces fixed-window limits with Redis counters shared by every
// process using the same Redis.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) (*Limiter, error) {
	if cfg.Limit <= 0 {
		return nil, errors.New("rate: limit must be > 0")
	}
	if cfg.Window <= 0 {
		return nil, errors.New("rate: window must be > 0")
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "acrl"
	}
	return &Limiter{redis: redisClient, config: cfg}, nil
}

// Allow records one hit for key and reports whether it is within budget.
func (l *Limiter) Allow(ctx context.Context, key string) (Decision, error) {
	k := l.config.Prefix + ":" + key
	count, err := l.incrementWithTTL(ctx, k, l.config.Window)
	if err != nil {
		return Decision{}, err
	}
	if count <= int64(l.config.Limit) {
		return Decision{Allowed: true, Count: count}, nil
	}

	ttl, err := l.redis.PTTL(ctx, k).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if ttl <= 0 {
		ttl = l.config.Window
	}
	return Decision{Count: count, RetryAfter: ttl}, nil
}

// Reset clears the counter for key.
func (l *Limiter) Reset(ctx context.Context, key string) error {
	if err := l.redis.Del(ctx, l.config.Prefix+":"+key).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// KEYS: counter. ARGV: window ms.
// A counter without a TTL gets one here too, so a key left behind by an
// interrupted writer still expires.
var incrementLua = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if redis.call("PTTL", KEYS[1]) < 0 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`)

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := incrementLua.Run(ctx, l.redis, []string{key}, ttl.Milliseconds()).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return count, nil
}
