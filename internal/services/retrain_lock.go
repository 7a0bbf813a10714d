package services

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/huangang/spamguard/internal/models"
	"github.com/huangang/spamguard/internal/services/retrain"
	"github.com/huangang/spamguard/pkg/logger"
)

const DefaultDBLockName = "retrain"

// DBLock is a retrain.Locker backed by a unique row in retrain_locks, for
// multi-instance deployments without Redis.
type DBLock struct {
	db      *gorm.DB
	name    string
	owner   string
	timeout time.Duration
	now     func() time.Time
}

func NewDBLock(db *gorm.DB, timeout time.Duration) *DBLock {
	if timeout <= 0 {
		timeout = retrain.DefaultLockTimeout
	}
	host, _ := os.Hostname()
	return &DBLock{
		db:      db,
		name:    DefaultDBLockName,
		owner:   fmt.Sprintf("%s:%d", host, os.Getpid()),
		timeout: timeout,
		now:     time.Now,
	}
}

func (l *DBLock) Acquire(ctx context.Context) (retrain.Lease, bool, error) {
	now := l.now()
	lease := retrain.Lease{Token: uuid.NewString(), StartedAt: now}
	fields := map[string]interface{}{
		"token":      lease.Token,
		"locked_by":  l.owner,
		"locked_at":  now,
		"expires_at": now.Add(l.timeout),
	}

	// Take over an expired row first.
	res := l.db.WithContext(ctx).Model(&models.RetrainLock{}).
		Where("lock_name = ? AND expires_at < ?", l.name, now).
		Updates(fields)
	if res.Error != nil {
		return retrain.Lease{}, false, res.Error
	}
	if res.RowsAffected == 1 {
		logger.Warn().Str("lock", l.name).Msg("[RetrainLock] Lock exceeded timeout, releasing stale lock")
		return lease, true, nil
	}

	row := &models.RetrainLock{
		LockName:  l.name,
		Token:     lease.Token,
		LockedBy:  l.owner,
		LockedAt:  now,
		ExpiresAt: now.Add(l.timeout),
	}
	err := l.db.WithContext(ctx).Create(row).Error
	if err == nil {
		logger.Info().Str("token", lease.Token).Str("owner", l.owner).Msg("[RetrainLock] Database lock acquired")
		return lease, true, nil
	}

	// Most likely the unique index: someone holds it.
	var count int64
	if cerr := l.db.WithContext(ctx).Model(&models.RetrainLock{}).Where("lock_name = ?", l.name).Count(&count).Error; cerr != nil {
		return retrain.Lease{}, false, cerr
	}
	if count > 0 {
		return retrain.Lease{}, false, nil
	}
	return retrain.Lease{}, false, err
}

func (l *DBLock) Release(ctx context.Context, lease retrain.Lease) error {
	res := l.db.WithContext(ctx).
		Where("lock_name = ? AND token = ?", l.name, lease.Token).
		Delete(&models.RetrainLock{})
	if res.Error != nil {
		return fmt.Errorf("release retrain lock: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		logger.Warn().Str("token", lease.Token).Msg("[RetrainLock] Release ignored, lease no longer held")
	}
	return nil
}

func (l *DBLock) Status(ctx context.Context) (retrain.LockStatus, error) {
	var row models.RetrainLock
	err := l.db.WithContext(ctx).Where("lock_name = ?", l.name).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return retrain.LockStatus{}, nil
	}
	if err != nil {
		return retrain.LockStatus{}, err
	}
	if l.now().After(row.ExpiresAt) {
		return retrain.LockStatus{}, nil
	}
	return retrain.LockStatus{Running: true, StartedAt: row.LockedAt}, nil
}
