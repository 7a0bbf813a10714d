package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/huangang/spamguard/internal/models"
	"github.com/huangang/spamguard/internal/services/detector"
	"github.com/huangang/spamguard/pkg/logger"
)

const MaxContentLength = 10000

var (
	ErrEmptyContent    = errors.New("content is required")
	ErrContentTooLong  = errors.New("content exceeds 10000 characters")
	ErrCommentNotFound = errors.New("comment not found")
)

// AnalyzeRequest is the public submission payload.
type AnalyzeRequest struct {
	Content     string `json:"content" binding:"required"`
	Author      string `json:"author"`
	AuthorEmail string `json:"author_email"`
	AuthorURL   string `json:"author_url"`
	AuthorIP    string `json:"author_ip"`
	PostID      string `json:"post_id"`
	UserAgent   string `json:"user_agent"`
	Referer     string `json:"referer"`
}

// AnalyzeResult is a prediction plus the id the caller uses for feedback.
type AnalyzeResult struct {
	CommentID        string `json:"comment_id"`
	Cached           bool   `json:"cached"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
	*detector.Prediction
}

type AnalysisService struct {
	db        *gorm.DB
	predictor *detector.Predictor
	cache     PredictionCache
	now       func() time.Time
}

// NewAnalysisService wires prediction and persistence. cache may be nil.
func NewAnalysisService(db *gorm.DB, predictor *detector.Predictor, cache PredictionCache) *AnalysisService {
	return &AnalysisService{db: db, predictor: predictor, cache: cache, now: time.Now}
}

func (s *AnalysisService) submission(site *models.Site, req *AnalyzeRequest) detector.Submission {
	return detector.Submission{
		Content:     req.Content,
		Author:      strings.TrimSpace(req.Author),
		AuthorEmail: strings.TrimSpace(req.AuthorEmail),
		AuthorURL:   strings.TrimSpace(req.AuthorURL),
		AuthorIP:    req.AuthorIP,
		PostID:      req.PostID,
		UserAgent:   req.UserAgent,
		Referer:     req.Referer,
		SiteID:      site.ID,
		Country:     site.Country,
		CreatedAt:   s.now(),
	}
}

// Analyze classifies a comment for site and stores the analysis.
func (s *AnalysisService) Analyze(ctx context.Context, site *models.Site, req *AnalyzeRequest) (*AnalyzeResult, error) {
	start := s.now()
	if strings.TrimSpace(req.Content) == "" {
		return nil, ErrEmptyContent
	}
	if utf8.RuneCountInString(req.Content) > MaxContentLength {
		return nil, ErrContentTooLong
	}
	sub := s.submission(site, req)

	var (
		prediction *detector.Prediction
		cached     bool
		key        string
	)
	if s.cache != nil {
		// Forces the lazy load so the key carries the version that will serve.
		s.predictor.Classifier().Available(ctx)
		key = PredictionCacheKey(site.ID, sub, s.predictor.Classifier().Version())
		prediction, cached = s.cache.Get(ctx, key)
	}
	var features detector.FeatureVector
	if cached {
		// Cached entries carry no features; the snapshot describes this request.
		features = s.predictor.Extract(sub)
	} else {
		prediction = s.predictor.Predict(ctx, sub)
		features = prediction.Features
		if s.cache != nil {
			// Keyed by the version that actually scored it; a reload may
			// have landed since the lookup.
			s.cache.Set(ctx, PredictionCacheKey(site.ID, sub, prediction.ModelVersion), prediction)
		}
	}

	analysis := &models.CommentAnalysis{
		ID:             uuid.NewString(),
		SiteID:         site.ID,
		PostID:         sub.PostID,
		Content:        sub.Content,
		Author:         sub.Author,
		AuthorEmail:    sub.AuthorEmail,
		AuthorURL:      sub.AuthorURL,
		AuthorIP:       sub.AuthorIP,
		UserAgent:      sub.UserAgent,
		Referer:        sub.Referer,
		PredictedLabel: prediction.Category,
		IsSpam:         prediction.IsSpam,
		Confidence:     prediction.Confidence,
		SpamScore:      prediction.SpamScore,
		RiskLevel:      prediction.RiskLevel,
		ModelUsed:      prediction.ModelUsed,
		ModelVersion:   prediction.ModelVersion,
	}
	if data, err := json.Marshal(features); err == nil {
		analysis.Features = string(data)
	}
	if data, err := json.Marshal(prediction.Reasons); err == nil {
		analysis.Reasons = string(data)
	}
	if err := s.db.WithContext(ctx).Create(analysis).Error; err != nil {
		logger.Error().Err(err).Str("site", site.ID).Msg("[Analysis] Failed to store analysis")
		return nil, err
	}

	return &AnalyzeResult{
		CommentID:        analysis.ID,
		Cached:           cached,
		ProcessingTimeMS: s.now().Sub(start).Milliseconds(),
		Prediction:       prediction,
	}, nil
}

// Get loads a stored analysis of site.
func (s *AnalysisService) Get(ctx context.Context, siteID, id string) (*models.CommentAnalysis, error) {
	var a models.CommentAnalysis
	err := s.db.WithContext(ctx).Where("id = ? AND site_id = ?", id, siteID).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCommentNotFound
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}
