package services

import (
	"context"
	"errors"
	"math"
	"time"

	"gorm.io/gorm"

	"github.com/huangang/spamguard/internal/models"
)

var ErrInvalidPeriod = errors.New("period must be one of 7d, 30d, 90d, 1y, all")

// SiteStats is the per-tenant dashboard.
type SiteStats struct {
	Period        string     `json:"period"`
	TotalAnalyzed int64      `json:"total_analyzed"`
	SpamBlocked   int64      `json:"total_spam_blocked"`
	HamApproved   int64      `json:"total_ham_approved"`
	Phishing      int64      `json:"phishing_detected"`
	Accuracy      *float64   `json:"accuracy"`
	SpamBlockRate float64    `json:"spam_block_rate"`
	LastRetrain   *time.Time `json:"last_retrain"`
}

type StatsService struct {
	db  *gorm.DB
	now func() time.Time
}

func NewStatsService(db *gorm.DB) *StatsService {
	return &StatsService{db: db, now: time.Now}
}

// PeriodStart maps a period name to its lower bound; "all" has none.
func PeriodStart(period string, now time.Time) (time.Time, error) {
	switch period {
	case "", "all":
		return time.Time{}, nil
	case "7d":
		return now.AddDate(0, 0, -7), nil
	case "30d":
		return now.AddDate(0, 0, -30), nil
	case "90d":
		return now.AddDate(0, 0, -90), nil
	case "1y":
		return now.AddDate(-1, 0, 0), nil
	}
	return time.Time{}, ErrInvalidPeriod
}

func (s *StatsService) SiteStats(ctx context.Context, siteID, period string) (*SiteStats, error) {
	since, err := PeriodStart(period, s.now())
	if err != nil {
		return nil, err
	}
	if period == "" {
		period = "all"
	}
	base := func() *gorm.DB {
		q := s.db.WithContext(ctx).Model(&models.CommentAnalysis{}).Where("site_id = ?", siteID)
		if !since.IsZero() {
			q = q.Where("created_at >= ?", since)
		}
		return q
	}

	st := &SiteStats{Period: period}
	if err := base().Count(&st.TotalAnalyzed).Error; err != nil {
		return nil, err
	}
	if err := base().Where("is_spam = ?", true).Count(&st.SpamBlocked).Error; err != nil {
		return nil, err
	}
	if err := base().Where("is_spam = ?", false).Count(&st.HamApproved).Error; err != nil {
		return nil, err
	}
	if err := base().Where("predicted_label = ?", "phishing").Count(&st.Phishing).Error; err != nil {
		return nil, err
	}
	if st.TotalAnalyzed > 0 {
		st.SpamBlockRate = math.Round(float64(st.SpamBlocked)/float64(st.TotalAnalyzed)*1e4) / 1e4
	}

	var labelled, correct int64
	if err := base().Where("actual_label IS NOT NULL").Count(&labelled).Error; err != nil {
		return nil, err
	}
	if labelled > 0 {
		if err := base().Where("actual_label IS NOT NULL AND actual_label = predicted_label").Count(&correct).Error; err != nil {
			return nil, err
		}
		acc := math.Round(float64(correct)/float64(labelled)*1e4) / 1e4
		st.Accuracy = &acc
	}

	var mv models.ModelVersion
	err = s.db.WithContext(ctx).Where("site_id = ? OR site_id = ?", siteID, "").
		Order("trained_at DESC").First(&mv).Error
	switch {
	case err == nil:
		st.LastRetrain = &mv.TrainedAt
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}
	return st, nil
}

// Totals are service-wide counters for metrics.
type Totals struct {
	Analyses        int64
	SpamAnalyses    int64
	FeedbackPending int64
	Sites           int64
	RetrainRuns     int64
	FailedRuns      int64
}

func (s *StatsService) Totals(ctx context.Context) (*Totals, error) {
	t := &Totals{}
	db := s.db.WithContext(ctx)
	steps := []func() error{
		func() error { return db.Model(&models.CommentAnalysis{}).Count(&t.Analyses).Error },
		func() error { return db.Model(&models.CommentAnalysis{}).Where("is_spam = ?", true).Count(&t.SpamAnalyses).Error },
		func() error { return db.Model(&models.Feedback{}).Where("processed = ?", false).Count(&t.FeedbackPending).Error },
		func() error { return db.Model(&models.Site{}).Count(&t.Sites).Error },
		func() error { return db.Model(&models.RetrainRun{}).Count(&t.RetrainRuns).Error },
		func() error { return db.Model(&models.RetrainRun{}).Where("success = ?", false).Count(&t.FailedRuns).Error },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return nil, err
		}
	}
	return t, nil
}
