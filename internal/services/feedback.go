package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/huangang/spamguard/internal/models"
	"github.com/huangang/spamguard/internal/services/detector"
	"github.com/huangang/spamguard/internal/services/retrain"
	"github.com/huangang/spamguard/pkg/logger"
)

const markBatchSize = 500

var ErrInvalidLabel = errors.New("label must be one of ham, spam, phishing")

// FeedbackRequest corrects a stored analysis. Label wins over IsSpam.
type FeedbackRequest struct {
	CommentID string `json:"comment_id" binding:"required"`
	IsSpam    *bool  `json:"is_spam"`
	Label     string `json:"label"`
	Note      string `json:"note"`
}

type FeedbackResult struct {
	FeedbackID        string `json:"feedback_id"`
	OldLabel          string `json:"old_label"`
	NewLabel          string `json:"new_label"`
	QueuedForTraining bool   `json:"queued_for_training"`
}

// FeedbackStats summarises what the next retraining run would consume.
type FeedbackStats struct {
	TotalUnprocessed int64            `json:"total_unprocessed"`
	ByLabel          map[string]int64 `json:"by_label"`
	Threshold        int              `json:"threshold"`
	ReadyToTrain     bool             `json:"ready_to_train"`
}

// FeedbackService records corrections and feeds them to the retraining
// pipeline.
type FeedbackService struct {
	db        *gorm.DB
	threshold int
	now       func() time.Time
}

func NewFeedbackService(db *gorm.DB, threshold int) *FeedbackService {
	if threshold <= 0 {
		threshold = retrain.DefaultMinSamples
	}
	return &FeedbackService{db: db, threshold: threshold, now: time.Now}
}

// Threshold is the unprocessed count at which retraining is due.
func (s *FeedbackService) Threshold() int { return s.threshold }

func (r *FeedbackRequest) label() (string, error) {
	if l := strings.ToLower(strings.TrimSpace(r.Label)); l != "" {
		switch l {
		case detector.CategoryHam, detector.CategorySpam, detector.CategoryPhishing:
			return l, nil
		}
		return "", ErrInvalidLabel
	}
	if r.IsSpam == nil {
		return "", ErrInvalidLabel
	}
	if *r.IsSpam {
		return detector.CategorySpam, nil
	}
	return detector.CategoryHam, nil
}

// Submit stores a correction for a comment analysed for siteID.
func (s *FeedbackService) Submit(ctx context.Context, siteID string, req *FeedbackRequest) (*FeedbackResult, error) {
	newLabel, err := req.label()
	if err != nil {
		return nil, err
	}

	fb := &models.Feedback{
		ID:         uuid.NewString(),
		SiteID:     siteID,
		AnalysisID: req.CommentID,
		NewLabel:   newLabel,
		Note:       strings.TrimSpace(req.Note),
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var analysis models.CommentAnalysis
		err := tx.Where("id = ? AND site_id = ?", req.CommentID, siteID).First(&analysis).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCommentNotFound
		}
		if err != nil {
			return err
		}
		fb.OldLabel = analysis.PredictedLabel
		if err := tx.Create(fb).Error; err != nil {
			return err
		}
		return tx.Model(&analysis).Update("actual_label", newLabel).Error
	})
	if err != nil {
		return nil, err
	}

	pending, err := s.UnprocessedCount(ctx, siteID)
	if err != nil {
		logger.Warn().Err(err).Msg("[Feedback] Failed to count unprocessed feedback")
	}
	logger.Info().Str("site", siteID).Str("comment", req.CommentID).
		Str("old", fb.OldLabel).Str("new", newLabel).Int64("pending", pending).
		Msg("[Feedback] Recorded")

	return &FeedbackResult{
		FeedbackID:        fb.ID,
		OldLabel:          fb.OldLabel,
		NewLabel:          newLabel,
		QueuedForTraining: pending >= int64(s.threshold),
	}, nil
}

func (s *FeedbackService) unprocessed(ctx context.Context, siteID string) *gorm.DB {
	q := s.db.WithContext(ctx).Model(&models.Feedback{}).Where("processed = ?", false)
	if siteID != "" {
		q = q.Where("site_id = ?", siteID)
	}
	return q
}

// UnprocessedCount counts feedback not yet consumed by a run. An empty siteID
// counts every site.
func (s *FeedbackService) UnprocessedCount(ctx context.Context, siteID string) (int64, error) {
	var n int64
	err := s.unprocessed(ctx, siteID).Count(&n).Error
	return n, err
}

func (s *FeedbackService) Stats(ctx context.Context, siteID string) (*FeedbackStats, error) {
	var rows []struct {
		NewLabel string
		Count    int64
	}
	err := s.unprocessed(ctx, siteID).
		Select("new_label, COUNT(*) AS count").
		Group("new_label").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	st := &FeedbackStats{ByLabel: make(map[string]int64), Threshold: s.threshold}
	for _, r := range rows {
		st.ByLabel[r.NewLabel] = r.Count
		st.TotalUnprocessed += r.Count
	}
	st.ReadyToTrain = st.TotalUnprocessed >= int64(s.threshold)
	return st, nil
}

// FetchUnprocessed returns unconsumed feedback joined with the analysed text,
// oldest first so later corrections of the same text take precedence.
func (s *FeedbackService) FetchUnprocessed(ctx context.Context, siteID string) ([]retrain.Sample, error) {
	var rows []struct {
		ID       string
		SiteID   string
		OldLabel string
		NewLabel string
		Content  string
	}
	q := s.db.WithContext(ctx).Table("feedbacks").
		Select("feedbacks.id, feedbacks.site_id, feedbacks.old_label, feedbacks.new_label, comment_analyses.content").
		Joins("JOIN comment_analyses ON comment_analyses.id = feedbacks.analysis_id").
		Where("feedbacks.processed = ?", false)
	if siteID != "" {
		q = q.Where("feedbacks.site_id = ?", siteID)
	}
	if err := q.Order("feedbacks.created_at ASC").Order("feedbacks.id ASC").Scan(&rows).Error; err != nil {
		return nil, err
	}

	samples := make([]retrain.Sample, 0, len(rows))
	for _, r := range rows {
		samples = append(samples, retrain.Sample{
			FeedbackID:     r.ID,
			SiteID:         r.SiteID,
			Text:           r.Content,
			PredictedLabel: r.OldLabel,
			CorrectedLabel: r.NewLabel,
		})
	}
	return samples, nil
}

// MarkProcessed flags exactly the given rows as consumed.
func (s *FeedbackService) MarkProcessed(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	now := s.now()
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for start := 0; start < len(ids); start += markBatchSize {
			end := min(start+markBatchSize, len(ids))
			err := tx.Model(&models.Feedback{}).
				Where("id IN ?", ids[start:end]).
				Updates(map[string]interface{}{"processed": true, "processed_at": now}).Error
			if err != nil {
				return err
			}
		}
		return nil
	})
}
