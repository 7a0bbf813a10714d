package services

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/gorm"

	"github.com/huangang/spamguard/internal/models"
	"github.com/huangang/spamguard/internal/services/retrain"
)

// RetrainHistory persists runs and saved model versions.
type RetrainHistory struct {
	db *gorm.DB
}

func NewRetrainHistory(db *gorm.DB) *RetrainHistory {
	return &RetrainHistory{db: db}
}

func (h *RetrainHistory) RecordRun(ctx context.Context, job retrain.Job, rep *retrain.Report) error {
	data, err := json.Marshal(rep)
	if err != nil {
		return err
	}
	run := &models.RetrainRun{
		JobID:         job.ID,
		Identity:      job.Identity,
		SiteID:        rep.SiteID,
		Success:       rep.Success,
		Stage:         string(rep.Stage),
		RawSamples:    rep.RawSamples,
		UniqueSamples: rep.UniqueSamples,
		Version:       rep.Version,
		ErrorMessage:  rep.Error,
		Report:        string(data),
		StartedAt:     rep.StartedAt,
		FinishedAt:    rep.FinishedAt,
	}

	return h.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(run).Error; err != nil {
			return err
		}
		if !rep.ModelSaved() {
			return nil
		}
		mv := &models.ModelVersion{
			Version:         rep.Version,
			PreviousVersion: rep.PreviousVersion,
			SiteID:          rep.SiteID,
			TrainingSamples: rep.RawSamples,
			UniqueSamples:   rep.UniqueSamples,
			Backup:          rep.Backup,
			TrainedAt:       rep.FinishedAt,
		}
		if m := rep.Metrics; m != nil {
			mv.TestAccuracy = m.TestAccuracy
			mv.Precision = m.Precision
			mv.Recall = m.Recall
			mv.F1Score = m.F1
		}
		return tx.Create(mv).Error
	})
}

func (h *RetrainHistory) LastRun(ctx context.Context) (*retrain.Report, error) {
	var run models.RetrainRun
	err := h.db.WithContext(ctx).Order("started_at DESC").First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rep retrain.Report
	if err := json.Unmarshal([]byte(run.Report), &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}

// Runs lists the most recent runs.
func (h *RetrainHistory) Runs(ctx context.Context, limit int) ([]models.RetrainRun, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var runs []models.RetrainRun
	err := h.db.WithContext(ctx).Order("started_at DESC").Limit(limit).Find(&runs).Error
	return runs, err
}

// Versions lists saved models, newest first.
func (h *RetrainHistory) Versions(ctx context.Context, limit int) ([]models.ModelVersion, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var versions []models.ModelVersion
	err := h.db.WithContext(ctx).Order("trained_at DESC").Limit(limit).Find(&versions).Error
	return versions, err
}
