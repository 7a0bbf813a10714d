package models

import "time"

// RetrainLock is the row-level lease behind the database lock backend.
// A row exists while a run holds the lock; ExpiresAt marks it stale.
type RetrainLock struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	LockName  string    `gorm:"uniqueIndex;size:100;not null" json:"lock_name"`
	Token     string    `gorm:"size:36;not null" json:"token"`
	LockedBy  string    `gorm:"size:100" json:"locked_by"`
	LockedAt  time.Time `json:"locked_at"`
	ExpiresAt time.Time `gorm:"index" json:"expires_at"`
}

func (RetrainLock) TableName() string { return "retrain_locks" }
