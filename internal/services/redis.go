package services

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/huangang/spamguard/internal/config"
	"github.com/huangang/spamguard/pkg/logger"
)

// NewRedisClient connects to Redis when enabled. It returns nil when Redis
// is disabled or unreachable; callers fall back to in-process variants.
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	if !cfg.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warnf("[Redis] Unavailable at %s, using in-process fallbacks: %v", cfg.Addr, err)
		client.Close()
		return nil
	}
	logger.Infof("[Redis] Connected to %s", cfg.Addr)
	return client
}
