package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/oh-ehr-portal/internal/config"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

const redisPingTimeout = 3 * time.Second

// redisOptions maps REDIS_* settings onto go-redis. Timeouts stay short since
// every sign-in waits on the throttle.
func redisOptions(cfg *appconfig.Config) *redis.Options {
	opts := &redis.Options{
		Addr:         strings.TrimSpace(cfg.RedisAddr),
		Password:     cfg.RedisPassword,
		DialTimeout:  redisPingTimeout,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	}
	if cfg.RedisTLS {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts
}

// BuildRedisClient returns a client for the login throttle, or nil when Redis
// is not configured. With verify set, an unreachable server also yields nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	client := redis.NewClient(redisOptions(cfg))
	if !verify {
		return client
	}
	if ctx == nil {
		ctx = context.Background()
	}
	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		logger.Warn("redis not available, login throttling disabled", "addr", cfg.RedisAddr, "error", err)
		_ = client.Close()
		return nil
	}
	logger.Info("redis connected", "addr", cfg.RedisAddr, "tls", cfg.RedisTLS)
	return client
}
