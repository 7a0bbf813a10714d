package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/huangang/spamguard/internal/config"
	"github.com/huangang/spamguard/internal/ml"
	"github.com/huangang/spamguard/internal/models"
	"github.com/huangang/spamguard/internal/services/artifact"
	"github.com/huangang/spamguard/internal/services/detector"
	"github.com/huangang/spamguard/internal/services/retrain"
)

const spamComment = "BUY NOW!!! Cheap viagra and free money, click here http://bit.ly/x http://a.tk http://b.ru http://c.xyz"

const hamComment = "Thanks for the detailed write up, the section on connection pooling answered my question."

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := models.Open(&config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	}, gormlogger.Silent)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := models.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

func newTestPredictor(t *testing.T) *detector.Predictor {
	t.Helper()
	store := artifact.NewFileStore(t.TempDir(), 5)
	return detector.NewPredictor(
		detector.NewExtractor(detector.NewHolidayCalendar()),
		detector.NewHeuristicScorer(),
		detector.NewClassifier(store),
		detector.DefaultWeights(),
	)
}

func registerSite(t *testing.T, db *gorm.DB, url string) *models.Site {
	t.Helper()
	reg, err := NewSiteService(db).Register(context.Background(), &RegisterSiteRequest{URL: url, Country: "US"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return reg.Site
}

func TestNormalizeSiteURL(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"https://Example.com/", "https://example.com", false},
		{"example.com", "https://example.com", false},
		{"http://blog.example.com/news/", "http://blog.example.com/news", false},
		{"  https://example.com  ", "https://example.com", false},
		{"", "", true},
		{"ftp://example.com", "", true},
		{"https://", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormalizeSiteURL(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("expected error for %q, got %q", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("NormalizeSiteURL(%q) = %q, expected %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestSiteService_RegisterAndLookup(t *testing.T) {
	db := newTestDB(t)
	svc := NewSiteService(db)
	ctx := context.Background()

	reg, err := svc.Register(ctx, &RegisterSiteRequest{URL: "https://blog.example.com/", Country: "de"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if !strings.HasPrefix(reg.APIKey, apiKeyPrefix) {
		t.Errorf("api key %q missing prefix", reg.APIKey)
	}
	if reg.Site.Country != "DE" {
		t.Errorf("country = %q, expected DE", reg.Site.Country)
	}
	if reg.Site.Name != "https://blog.example.com" {
		t.Errorf("name defaults to url, got %q", reg.Site.Name)
	}

	if _, err := svc.Register(ctx, &RegisterSiteRequest{URL: "HTTPS://blog.example.com"}); !errors.Is(err, ErrSiteExists) {
		t.Errorf("expected ErrSiteExists, got %v", err)
	}

	exists, err := svc.Exists(ctx, "blog.example.com")
	if err != nil || !exists {
		t.Errorf("Exists = %v, %v", exists, err)
	}

	site, err := svc.GetByAPIKey(ctx, reg.APIKey)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if site.ID != reg.Site.ID {
		t.Errorf("lookup returned site %s, expected %s", site.ID, reg.Site.ID)
	}

	newKey, err := svc.RotateKey(ctx, site.ID)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if _, err := svc.GetByAPIKey(ctx, reg.APIKey); !errors.Is(err, ErrSiteNotFound) {
		t.Errorf("old key should be rejected, got %v", err)
	}
	if _, err := svc.GetByAPIKey(ctx, newKey); err != nil {
		t.Errorf("new key rejected: %v", err)
	}
}

func TestSiteService_UnknownCountryFallsBack(t *testing.T) {
	db := newTestDB(t)
	reg, err := NewSiteService(db).Register(context.Background(), &RegisterSiteRequest{URL: "example.org", Country: "ZZ"})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.Site.Country != detector.CountryNone {
		t.Errorf("country = %q, expected %q", reg.Site.Country, detector.CountryNone)
	}
}

func TestAnalysisService_Analyze(t *testing.T) {
	db := newTestDB(t)
	site := registerSite(t, db, "https://example.com")
	svc := NewAnalysisService(db, newTestPredictor(t), nil)
	ctx := context.Background()

	res, err := svc.Analyze(ctx, site, &AnalyzeRequest{Content: spamComment, Author: "bot", UserAgent: "curl/8.0"})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !res.IsSpam {
		t.Errorf("expected spam, got %+v", res.Prediction)
	}
	if res.ModelUsed != detector.ModelRuleOnly {
		t.Errorf("model_used = %q without a trained model", res.ModelUsed)
	}
	if res.CommentID == "" || res.Cached {
		t.Errorf("unexpected result %+v", res)
	}

	stored, err := svc.Get(ctx, site.ID, res.CommentID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stored.PredictedLabel != res.Category || stored.ActualLabel != nil {
		t.Errorf("stored analysis mismatch: %+v", stored)
	}
	if !strings.Contains(stored.Features, `"text_length"`) {
		t.Errorf("feature snapshot not stored: %q", stored.Features)
	}

	if _, err := svc.Get(ctx, "other-site", res.CommentID); !errors.Is(err, ErrCommentNotFound) {
		t.Errorf("analysis must be scoped to its site, got %v", err)
	}
}

func TestAnalysisService_Validation(t *testing.T) {
	db := newTestDB(t)
	site := registerSite(t, db, "https://example.com")
	svc := NewAnalysisService(db, newTestPredictor(t), nil)

	if _, err := svc.Analyze(context.Background(), site, &AnalyzeRequest{Content: "   "}); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("expected ErrEmptyContent, got %v", err)
	}
	long := strings.Repeat("a", MaxContentLength+1)
	if _, err := svc.Analyze(context.Background(), site, &AnalyzeRequest{Content: long}); !errors.Is(err, ErrContentTooLong) {
		t.Errorf("expected ErrContentTooLong, got %v", err)
	}
}

func TestAnalysisService_Cache(t *testing.T) {
	db := newTestDB(t)
	site := registerSite(t, db, "https://example.com")
	cache := NewMemoryPredictionCache(time.Minute)
	svc := NewAnalysisService(db, newTestPredictor(t), cache)
	ctx := context.Background()

	first, err := svc.Analyze(ctx, site, &AnalyzeRequest{Content: hamComment})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	second, err := svc.Analyze(ctx, site, &AnalyzeRequest{Content: hamComment})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if first.Cached || !second.Cached {
		t.Errorf("cached flags = %v, %v; expected false, true", first.Cached, second.Cached)
	}
	if first.CommentID == second.CommentID {
		t.Error("each request gets its own comment id")
	}
	if first.Category != second.Category || first.Confidence != second.Confidence {
		t.Error("cached prediction differs")
	}
	if cache.Len() != 1 {
		t.Errorf("cache len = %d, expected 1", cache.Len())
	}

	// Cache hits still persist the feature snapshot of their own request.
	for _, id := range []string{first.CommentID, second.CommentID} {
		stored, err := svc.Get(ctx, site.ID, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if !strings.Contains(stored.Features, `"text_length"`) {
			t.Errorf("analysis %s stored without features: %q", id, stored.Features)
		}
	}
}

func TestMemoryPredictionCache_TTL(t *testing.T) {
	now := time.Date(2026, 10, 14, 10, 0, 0, 0, time.UTC)
	c := NewMemoryPredictionCache(5 * time.Minute)
	c.now = func() time.Time { return now }
	ctx := context.Background()

	c.Set(ctx, "k", &detector.Prediction{Category: "spam"})
	if p, ok := c.Get(ctx, "k"); !ok || p.Category != "spam" {
		t.Fatalf("expected hit, got %v %v", p, ok)
	}
	now = now.Add(5*time.Minute + time.Second)
	if _, ok := c.Get(ctx, "k"); ok {
		t.Error("entry should have expired")
	}
	if c.Len() != 0 {
		t.Errorf("expired entry not removed, len=%d", c.Len())
	}
}

func TestPredictionCacheKey(t *testing.T) {
	sub := detector.Submission{Content: strings.Repeat("x", 600), Author: "a"}
	base := PredictionCacheKey("site", sub, "v2.1")

	tail := sub
	tail.Content = strings.Repeat("x", 500) + strings.Repeat("y", 100)
	if PredictionCacheKey("site", tail, "v2.1") != base {
		t.Error("content beyond the hashed prefix must not change the key")
	}
	if PredictionCacheKey("site", sub, "v2.2") == base {
		t.Error("model version must change the key")
	}
	if PredictionCacheKey("other", sub, "v2.1") == base {
		t.Error("site must change the key")
	}
	author := sub
	author.Author = "b"
	if PredictionCacheKey("site", author, "v2.1") == base {
		t.Error("author must change the key")
	}
	if !strings.HasPrefix(base, PredictionCacheKeyPrefix) {
		t.Errorf("key %q missing prefix", base)
	}
}

func TestFeedbackRequest_Label(t *testing.T) {
	yes, no := true, false
	tests := []struct {
		name    string
		req     FeedbackRequest
		want    string
		wantErr bool
	}{
		{"is_spam true", FeedbackRequest{IsSpam: &yes}, "spam", false},
		{"is_spam false", FeedbackRequest{IsSpam: &no}, "ham", false},
		{"label wins", FeedbackRequest{IsSpam: &no, Label: "Phishing"}, "phishing", false},
		{"unknown label", FeedbackRequest{Label: "maybe"}, "", true},
		{"nothing", FeedbackRequest{}, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.req.label()
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("label = %q, expected %q", got, tt.want)
			}
		})
	}
}

func TestFeedbackService_Flow(t *testing.T) {
	db := newTestDB(t)
	site := registerSite(t, db, "https://example.com")
	analysis := NewAnalysisService(db, newTestPredictor(t), nil)
	feedback := NewFeedbackService(db, 2)
	ctx := context.Background()

	first, err := analysis.Analyze(ctx, site, &AnalyzeRequest{Content: spamComment})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	second, err := analysis.Analyze(ctx, site, &AnalyzeRequest{Content: hamComment})
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}

	no := false
	res, err := feedback.Submit(ctx, site.ID, &FeedbackRequest{CommentID: first.CommentID, IsSpam: &no})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.OldLabel != first.Category || res.NewLabel != "ham" {
		t.Errorf("labels = %q -> %q", res.OldLabel, res.NewLabel)
	}
	if res.QueuedForTraining {
		t.Error("one of two is not ready")
	}

	stored, _ := analysis.Get(ctx, site.ID, first.CommentID)
	if stored.ActualLabel == nil || *stored.ActualLabel != "ham" {
		t.Errorf("actual_label not updated: %v", stored.ActualLabel)
	}

	res, err = feedback.Submit(ctx, site.ID, &FeedbackRequest{CommentID: second.CommentID, Label: "spam"})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.QueuedForTraining {
		t.Error("threshold reached, expected queued_for_training")
	}

	if _, err := feedback.Submit(ctx, "other", &FeedbackRequest{CommentID: second.CommentID, Label: "spam"}); !errors.Is(err, ErrCommentNotFound) {
		t.Errorf("cross-site feedback must fail, got %v", err)
	}

	stats, err := feedback.Stats(ctx, "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalUnprocessed != 2 || stats.ByLabel["ham"] != 1 || stats.ByLabel["spam"] != 1 || !stats.ReadyToTrain {
		t.Errorf("unexpected stats %+v", stats)
	}

	samples, err := feedback.FetchUnprocessed(ctx, site.ID)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(samples) != 2 {
		t.Fatalf("fetched %d samples, expected 2", len(samples))
	}
	byText := map[string]string{}
	for _, s := range samples {
		byText[s.Text] = s.CorrectedLabel
	}
	if byText[spamComment] != "ham" || byText[hamComment] != "spam" {
		t.Errorf("samples = %+v", samples)
	}

	if err := feedback.MarkProcessed(ctx, []string{samples[0].FeedbackID}); err != nil {
		t.Fatalf("mark: %v", err)
	}
	n, _ := feedback.UnprocessedCount(ctx, site.ID)
	if n != 1 {
		t.Errorf("unprocessed = %d after marking one, expected 1", n)
	}
	var marked models.Feedback
	db.First(&marked, "id = ?", samples[0].FeedbackID)
	if !marked.Processed || marked.ProcessedAt == nil {
		t.Errorf("feedback not marked: %+v", marked)
	}
}

func TestFeedbackService_FeedsPipeline(t *testing.T) {
	db := newTestDB(t)
	site := registerSite(t, db, "https://example.com")
	feedback := NewFeedbackService(db, 10)
	ctx := context.Background()

	spam := []string{"cheap pills online now", "win free money today", "casino bonus click here", "buy followers cheap fast"}
	ham := []string{"great write up thanks", "i disagree with point two", "the benchmarks were helpful", "could you share the config"}
	for i := 0; i < 24; i++ {
		text, label := fmt.Sprintf("%s comment %d", spam[i%4], i), "spam"
		if i%2 == 1 {
			text, label = fmt.Sprintf("%s comment %d", ham[i%4], i), "ham"
		}
		a := &models.CommentAnalysis{ID: fmt.Sprintf("a-%02d", i), SiteID: site.ID, Content: text, PredictedLabel: "ham"}
		if err := db.Create(a).Error; err != nil {
			t.Fatalf("seed: %v", err)
		}
		if _, err := feedback.Submit(ctx, site.ID, &FeedbackRequest{CommentID: a.ID, Label: label}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}

	store := artifact.NewFileStore(t.TempDir(), 5)
	rep := retrain.NewPipeline(feedback, store).Run(ctx, retrain.Options{MinSamples: 20})
	if !rep.Success {
		t.Fatalf("pipeline failed at %s: %s", rep.Stage, rep.Error)
	}
	if rep.MarkedProcessed != 24 {
		t.Errorf("marked %d, expected 24", rep.MarkedProcessed)
	}
	n, _ := feedback.UnprocessedCount(ctx, "")
	if n != 0 {
		t.Errorf("unprocessed = %d after run", n)
	}
}

func TestStatsService_SiteStats(t *testing.T) {
	db := newTestDB(t)
	site := registerSite(t, db, "https://example.com")
	ctx := context.Background()
	spam, ham := "spam", "ham"

	rows := []models.CommentAnalysis{
		{ID: "1", SiteID: site.ID, Content: "x", PredictedLabel: "spam", IsSpam: true, ActualLabel: &spam},
		{ID: "2", SiteID: site.ID, Content: "x", PredictedLabel: "spam", IsSpam: true, ActualLabel: &ham},
		{ID: "3", SiteID: site.ID, Content: "x", PredictedLabel: "phishing", IsSpam: true},
		{ID: "4", SiteID: site.ID, Content: "x", PredictedLabel: "ham"},
		{ID: "5", SiteID: "other", Content: "x", PredictedLabel: "ham"},
	}
	if err := db.Create(&rows).Error; err != nil {
		t.Fatalf("seed: %v", err)
	}
	trained := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	db.Create(&models.ModelVersion{Version: "v2.1", TrainedAt: trained})

	st, err := NewStatsService(db).SiteStats(ctx, site.ID, "")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if st.TotalAnalyzed != 4 || st.SpamBlocked != 3 || st.HamApproved != 1 || st.Phishing != 1 {
		t.Errorf("unexpected counts %+v", st)
	}
	if st.SpamBlockRate != 0.75 {
		t.Errorf("spam_block_rate = %v, expected 0.75", st.SpamBlockRate)
	}
	if st.Accuracy == nil || *st.Accuracy != 0.5 {
		t.Errorf("accuracy = %v, expected 0.5", st.Accuracy)
	}
	if st.LastRetrain == nil || !st.LastRetrain.Equal(trained) {
		t.Errorf("last_retrain = %v", st.LastRetrain)
	}

	if _, err := NewStatsService(db).SiteStats(ctx, site.ID, "2w"); !errors.Is(err, ErrInvalidPeriod) {
		t.Errorf("expected ErrInvalidPeriod, got %v", err)
	}
}

func TestPeriodStart(t *testing.T) {
	now := time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		period string
		want   time.Time
	}{
		{"all", time.Time{}},
		{"7d", now.AddDate(0, 0, -7)},
		{"30d", now.AddDate(0, 0, -30)},
		{"1y", now.AddDate(-1, 0, 0)},
	}
	for _, tt := range tests {
		got, err := PeriodStart(tt.period, now)
		if err != nil {
			t.Fatalf("%s: %v", tt.period, err)
		}
		if !got.Equal(tt.want) {
			t.Errorf("PeriodStart(%q) = %v, expected %v", tt.period, got, tt.want)
		}
	}
}

func TestDBLock(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	lock := NewDBLock(db, 30*time.Minute)
	lock.now = func() time.Time { return now }
	ctx := context.Background()

	first, ok, err := lock.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}
	if _, ok, err := lock.Acquire(ctx); err != nil || ok {
		t.Fatalf("second acquire must fail: ok=%v err=%v", ok, err)
	}
	st, _ := lock.Status(ctx)
	if !st.Running || !st.StartedAt.Equal(now) {
		t.Errorf("status = %+v", st)
	}

	if err := lock.Release(ctx, first); err != nil {
		t.Fatalf("release: %v", err)
	}
	if st, _ := lock.Status(ctx); st.Running {
		t.Error("released lock reports running")
	}

	stale, ok, _ := lock.Acquire(ctx)
	if !ok {
		t.Fatal("acquire after release failed")
	}
	now = now.Add(31 * time.Minute)
	if st, _ := lock.Status(ctx); st.Running {
		t.Error("stale lock reports running")
	}
	fresh, ok, _ := lock.Acquire(ctx)
	if !ok {
		t.Fatal("stale lock was not taken over")
	}
	if err := lock.Release(ctx, stale); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if st, _ := lock.Status(ctx); !st.Running {
		t.Error("stale holder released the new lease")
	}
	if err := lock.Release(ctx, fresh); err != nil {
		t.Fatalf("release: %v", err)
	}
}

func TestRetrainHistory(t *testing.T) {
	db := newTestDB(t)
	h := NewRetrainHistory(db)
	ctx := context.Background()

	if last, err := h.LastRun(ctx); err != nil || last != nil {
		t.Fatalf("empty history: %v %v", last, err)
	}

	start := time.Date(2026, 10, 14, 9, 0, 0, 0, time.UTC)
	failed := &retrain.Report{Stage: retrain.StageFetch, Error: "no unprocessed feedback", StartedAt: start, FinishedAt: start}
	if err := h.RecordRun(ctx, retrain.Job{ID: "job-1", Identity: "cli"}, failed); err != nil {
		t.Fatalf("record failed run: %v", err)
	}
	ok := &retrain.Report{
		Success: true, Stage: retrain.StageDone, Version: "v2.1", RawSamples: 120, UniqueSamples: 110,
		Metrics:   &ml.Metrics{TestAccuracy: 0.9, Precision: 0.8, Recall: 0.85, F1: 0.82},
		StartedAt: start.Add(time.Hour), FinishedAt: start.Add(time.Hour + time.Minute),
	}
	if err := h.RecordRun(ctx, retrain.Job{ID: "job-2", Identity: "retrain_abcdefgh"}, ok); err != nil {
		t.Fatalf("record run: %v", err)
	}

	last, err := h.LastRun(ctx)
	if err != nil || last == nil {
		t.Fatalf("last run: %v %v", last, err)
	}
	if last.Version != "v2.1" || !last.Success {
		t.Errorf("last run = %+v", last)
	}

	versions, _ := h.Versions(ctx, 10)
	if len(versions) != 1 || versions[0].Version != "v2.1" || versions[0].F1Score != 0.82 {
		t.Errorf("versions = %+v", versions)
	}
	runs, _ := h.Runs(ctx, 10)
	if len(runs) != 2 || runs[0].JobID != "job-2" {
		t.Errorf("runs = %+v", runs)
	}
}

type fakeCounter struct {
	n   int64
	err error
}

func (f *fakeCounter) UnprocessedCount(ctx context.Context, siteID string) (int64, error) {
	return f.n, f.err
}

type fakeStarter struct {
	calls atomic.Int32
	err   error
}

func (f *fakeStarter) Start(ctx context.Context, identity, siteID string, minSamples int) (*retrain.Job, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return &retrain.Job{ID: "job", Identity: identity}, nil
}

func TestRetrainScheduler_Check(t *testing.T) {
	tests := []struct {
		name      string
		pending   int64
		startErr  error
		want      bool
		wantCalls int32
	}{
		{"below threshold", 99, nil, false, 0},
		{"at threshold", 100, nil, true, 1},
		{"already running", 150, retrain.ErrAlreadyRunning, false, 1},
		{"rate limited", 150, retrain.ErrRateLimited, false, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			starter := &fakeStarter{err: tt.startErr}
			s := NewRetrainScheduler(&fakeCounter{n: tt.pending}, starter, 100, "@every 1h")
			if got := s.Check(context.Background()); got != tt.want {
				t.Errorf("Check = %v, expected %v", got, tt.want)
			}
			if starter.calls.Load() != tt.wantCalls {
				t.Errorf("Start called %d times, expected %d", starter.calls.Load(), tt.wantCalls)
			}
		})
	}
}

func TestRetrainScheduler_CountError(t *testing.T) {
	starter := &fakeStarter{}
	s := NewRetrainScheduler(&fakeCounter{err: errors.New("db down")}, starter, 1, "")
	if s.Check(context.Background()) {
		t.Error("Check must not start on count error")
	}
	if starter.calls.Load() != 0 {
		t.Error("Start called on count error")
	}
	if err := s.StartScheduler(); err != nil {
		t.Errorf("empty schedule disables, got %v", err)
	}
	s.StopScheduler()
}

func TestRetrainScheduler_InvalidSchedule(t *testing.T) {
	s := NewRetrainScheduler(&fakeCounter{}, &fakeStarter{}, 1, "not a cron")
	if err := s.StartScheduler(); err == nil {
		t.Error("expected error for invalid cron expression")
	}
}

func TestSyncQueue(t *testing.T) {
	q := NewSyncQueue()
	if q.IsAsync() {
		t.Error("SyncQueue must not be async")
	}
	if err := q.Dispatch(context.Background(), retrain.Job{ID: "x"}); !errors.Is(err, errNoProcessor) {
		t.Errorf("expected errNoProcessor, got %v", err)
	}

	var ran atomic.Int32
	q.SetProcessor(func(ctx context.Context, job retrain.Job) *retrain.Report {
		time.Sleep(10 * time.Millisecond)
		ran.Add(1)
		return &retrain.Report{Success: true}
	})
	for i := 0; i < 3; i++ {
		if err := q.Dispatch(context.Background(), retrain.Job{ID: fmt.Sprint(i)}); err != nil {
			t.Fatalf("dispatch: %v", err)
		}
	}
	q.Close()
	if ran.Load() != 3 {
		t.Errorf("ran %d jobs, expected 3 after Close", ran.Load())
	}
}

func TestDecodeRetrainJob(t *testing.T) {
	job, err := decodeRetrainJob([]byte(`{"id":"j1","identity":"retrain_abc","site_id":"s1","min_samples":50,"lease":{"token":"t"}}`))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if job.ID != "j1" || job.SiteID != "s1" || job.MinSamples != 50 || job.Lease.Token != "t" {
		t.Errorf("decoded %+v", job)
	}
	if _, err := decodeRetrainJob([]byte("{")); err == nil {
		t.Error("expected error for malformed payload")
	}
}

func TestNewRetrainLocker(t *testing.T) {
	db := newTestDB(t)
	tests := []struct {
		backend string
		want    string
	}{
		{"", "*retrain.Lock"},
		{LockBackendMemory, "*retrain.Lock"},
		{LockBackendDatabase, "*services.DBLock"},
		// Without a client the Redis backend degrades to the in-process lock.
		{LockBackendRedis, "*retrain.Lock"},
		{"zookeeper", "*retrain.Lock"},
	}
	for _, tt := range tests {
		t.Run(tt.backend, func(t *testing.T) {
			l := NewRetrainLocker(&config.MLConfig{LockBackend: tt.backend, LockTimeout: time.Minute}, db, nil)
			if got := fmt.Sprintf("%T", l); got != tt.want {
				t.Errorf("backend %q gave %s, expected %s", tt.backend, got, tt.want)
			}
		})
	}
}

func TestRetrainOptions(t *testing.T) {
	opts := RetrainOptions(&config.MLConfig{MinSamples: 150, MinTextLength: 5, TestSize: 0.25, MaxFeatures: 800, Alpha: 0.5})
	if opts.MinSamples != 150 || opts.MinTextLength != 5 || opts.TestSize != 0.25 {
		t.Errorf("options = %+v", opts)
	}
	if opts.Train.Vectorizer.MaxFeatures != 800 || opts.Train.Alpha != 0.5 {
		t.Errorf("train config = %+v", opts.Train)
	}
	if opts.Train.Vectorizer.MaxN != 2 {
		t.Errorf("vectorizer defaults lost: %+v", opts.Train.Vectorizer)
	}

	def := RetrainOptions(&config.MLConfig{})
	if def.Train.Vectorizer.MaxFeatures != ml.DefaultVectorizerConfig().MaxFeatures || def.Train.Alpha != ml.DefaultAlpha {
		t.Errorf("zero config must keep training defaults: %+v", def.Train)
	}
}
