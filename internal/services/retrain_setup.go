package services

import (
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/huangang/spamguard/internal/config"
	"github.com/huangang/spamguard/internal/ml"
	"github.com/huangang/spamguard/internal/services/retrain"
	"github.com/huangang/spamguard/pkg/logger"
)

const (
	LockBackendMemory   = "memory"
	LockBackendRedis    = "redis"
	LockBackendDatabase = "database"
)

// NewRetrainLocker picks the lock backend. Jobs that go through Redis may
// run in another process than the one that took the lock, so an in-process
// lock is promoted to Redis whenever a client is available.
func NewRetrainLocker(cfg *config.MLConfig, db *gorm.DB, rdb *redis.Client) retrain.Locker {
	backend := cfg.LockBackend
	if backend == "" {
		backend = LockBackendMemory
	}
	if backend == LockBackendMemory && rdb != nil {
		logger.Info().Msg("[RetrainLock] Redis available, using shared lock instead of in-process lock")
		backend = LockBackendRedis
	}

	switch backend {
	case LockBackendRedis:
		if rdb == nil {
			logger.Warn().Msg("[RetrainLock] Redis lock requested but Redis unavailable, using in-process lock")
			return retrain.NewLock(cfg.LockTimeout)
		}
		return retrain.NewRedisLock(rdb, retrain.DefaultRedisLockKey, cfg.LockTimeout)
	case LockBackendDatabase:
		return NewDBLock(db, cfg.LockTimeout)
	case LockBackendMemory:
		return retrain.NewLock(cfg.LockTimeout)
	default:
		logger.Warnf("[RetrainLock] Unknown lock backend %q, using in-process lock", backend)
		return retrain.NewLock(cfg.LockTimeout)
	}
}

// RetrainOptions maps configuration onto pipeline defaults.
func RetrainOptions(cfg *config.MLConfig) retrain.Options {
	train := ml.DefaultTrainConfig()
	if cfg.MaxFeatures > 0 {
		train.Vectorizer.MaxFeatures = cfg.MaxFeatures
	}
	if cfg.Alpha > 0 {
		train.Alpha = cfg.Alpha
	}
	return retrain.Options{
		MinSamples:    cfg.MinSamples,
		MinTextLength: cfg.MinTextLength,
		TestSize:      cfg.TestSize,
		Train:         train,
	}
}
