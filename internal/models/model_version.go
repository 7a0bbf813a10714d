package models

import "time"

// ModelVersion is one saved classifier artifact.
type ModelVersion struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	Version         string    `gorm:"index;size:20;not null" json:"version"`
	PreviousVersion string    `gorm:"size:20" json:"previous_version"`
	SiteID          string    `gorm:"size:36" json:"site_id"`
	TrainingSamples int       `json:"training_samples"`
	UniqueSamples   int       `json:"unique_samples"`
	TestAccuracy    float64   `json:"test_accuracy"`
	Precision       float64   `json:"precision"`
	Recall          float64   `json:"recall"`
	F1Score         float64   `json:"f1_score"`
	Backup          string    `gorm:"size:100" json:"backup"`
	TrainedAt       time.Time `gorm:"index" json:"trained_at"`
	CreatedAt       time.Time `json:"created_at"`
}

func (ModelVersion) TableName() string { return "model_versions" }

// RetrainRun records every retraining attempt, successful or not.
type RetrainRun struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	JobID         string    `gorm:"uniqueIndex;size:36" json:"job_id"`
	Identity      string    `gorm:"size:100" json:"identity"`
	SiteID        string    `gorm:"size:36" json:"site_id"`
	Success       bool      `gorm:"index" json:"success"`
	Stage         string    `gorm:"size:40" json:"stage"`
	RawSamples    int       `json:"raw_samples"`
	UniqueSamples int       `json:"unique_samples"`
	Version       string    `gorm:"size:20" json:"version"`
	ErrorMessage  string    `gorm:"type:text" json:"error_message"`
	Report        string    `gorm:"type:text" json:"-"` // JSON report
	StartedAt     time.Time `gorm:"index" json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
}

func (RetrainRun) TableName() string { return "retrain_runs" }
