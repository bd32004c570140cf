package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/smartqueue-portal/internal/config"
	"github.com/wolfman30/smartqueue-portal/internal/session"
	"github.com/wolfman30/smartqueue-portal/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildTokenStore persists tokens in Redis when a client is available and
// falls back to process memory otherwise.
func BuildTokenStore(redisClient *redis.Client, cfg *appconfig.Config, logger *logging.Logger) session.TokenStore {
	if logger == nil {
		logger = logging.Default()
	}
	if redisClient == nil {
		logger.Warn("redis disabled; sessions will not survive a restart")
		return session.NewMemoryStore()
	}
	ttl := cfg.SessionTTL
	logger.Info("token store using redis", "addr", cfg.RedisAddr, "fallback_ttl", ttl.String())
	return session.NewRedisStore(redisClient, ttl)
}
