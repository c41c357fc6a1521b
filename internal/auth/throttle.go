package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

// Throttle tracks failed sign-ins per username.
type Throttle interface {
	Allowed(ctx context.Context, username string) bool
	RecordFailure(ctx context.Context, username string)
	Reset(ctx context.Context, username string)
}

// RedisThrottle counts failures with INCR and a window TTL. Redis errors fail open
// and a nil *RedisThrottle allows everything.
type RedisThrottle struct {
	redis       *redis.Client
	logger      *logging.Logger
	maxFailures int
	window      time.Duration
}

// NewRedisThrottle returns nil when client is nil so callers can skip throttling.
func NewRedisThrottle(client *redis.Client, maxFailures int, window time.Duration, logger *logging.Logger) *RedisThrottle {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if maxFailures <= 0 {
		maxFailures = 5
	}
	if window <= 0 {
		window = 15 * time.Minute
	}
	return &RedisThrottle{redis: client, logger: logger, maxFailures: maxFailures, window: window}
}

func throttleKey(username string) string {
	return fmt.Sprintf("auth:login-failures:%s", strings.ToLower(strings.TrimSpace(username)))
}

// Allowed reports whether another attempt may be made.
func (t *RedisThrottle) Allowed(ctx context.Context, username string) bool {
	if t == nil {
		return true
	}
	count, err := t.redis.Get(ctx, throttleKey(username)).Int()
	if err == redis.Nil {
		return true
	}
	if err != nil {
		t.logger.Error("login throttle check failed", "error", err)
		return true
	}
	return count < t.maxFailures
}

// RecordFailure bumps the counter, starting the window on the first failure.
func (t *RedisThrottle) RecordFailure(ctx context.Context, username string) {
	if t == nil {
		return
	}
	key := throttleKey(username)
	count, err := t.redis.Incr(ctx, key).Result()
	if err != nil {
		t.logger.Error("login throttle increment failed", "error", err)
		return
	}
	if count == 1 {
		t.redis.Expire(ctx, key, t.window)
	}
	if int(count) >= t.maxFailures {
		t.logger.Warn("login throttle engaged", "username", username, "failures", count)
	}
}

// Reset clears the counter after a successful sign-in.
func (t *RedisThrottle) Reset(ctx context.Context, username string) {
	if t == nil {
		return
	}
	if err := t.redis.Del(ctx, throttleKey(username)).Err(); err != nil {
		t.logger.Error("login throttle reset failed", "error", err)
	}
}
