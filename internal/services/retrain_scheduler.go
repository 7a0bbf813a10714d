package services

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/huangang/spamguard/internal/services/retrain"
	"github.com/huangang/spamguard/pkg/logger"
)

// SchedulerIdentity is the limiter identity of automatic runs.
const SchedulerIdentity = "retrain_scheduler"

// PendingCounter reports unprocessed feedback.
type PendingCounter interface {
	UnprocessedCount(ctx context.Context, siteID string) (int64, error)
}

// RetrainStarter is the trigger surface the scheduler goes through, so
// automatic runs obey the same lock and limiter as manual ones.
type RetrainStarter interface {
	Start(ctx context.Context, identity, siteID string, minSamples int) (*retrain.Job, error)
}

// RetrainScheduler periodically starts a run once enough feedback piled up.
type RetrainScheduler struct {
	counter   PendingCounter
	trigger   RetrainStarter
	threshold int
	schedule  string

	cronScheduler *cron.Cron
}

func NewRetrainScheduler(counter PendingCounter, trigger RetrainStarter, threshold int, schedule string) *RetrainScheduler {
	return &RetrainScheduler{counter: counter, trigger: trigger, threshold: threshold, schedule: schedule}
}

func (s *RetrainScheduler) StartScheduler() error {
	if s.schedule == "" {
		logger.Info().Msg("[RetrainScheduler] Disabled (no schedule)")
		return nil
	}
	s.cronScheduler = cron.New()
	if _, err := s.cronScheduler.AddFunc(s.schedule, func() { s.Check(context.Background()) }); err != nil {
		return err
	}
	s.cronScheduler.Start()
	logger.Infof("[RetrainScheduler] Scheduler started (cron: %s, threshold: %d)", s.schedule, s.threshold)
	return nil
}

func (s *RetrainScheduler) StopScheduler() {
	if s.cronScheduler != nil {
		<-s.cronScheduler.Stop().Done()
	}
}

// Check starts a run if unprocessed feedback reached the threshold. It
// reports whether a job was scheduled.
func (s *RetrainScheduler) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pending, err := s.counter.UnprocessedCount(ctx, "")
	if err != nil {
		logger.Error().Err(err).Msg("[RetrainScheduler] Failed to count pending feedback")
		return false
	}
	if pending < int64(s.threshold) {
		logger.Debug().Int64("pending", pending).Int("threshold", s.threshold).Msg("[RetrainScheduler] Below threshold")
		return false
	}

	job, err := s.trigger.Start(ctx, SchedulerIdentity, "", 0)
	switch {
	case errors.Is(err, retrain.ErrAlreadyRunning), errors.Is(err, retrain.ErrRateLimited):
		logger.Info().Err(err).Int64("pending", pending).Msg("[RetrainScheduler] Skipped")
		return false
	case err != nil:
		logger.Error().Err(err).Msg("[RetrainScheduler] Failed to start retrain")
		return false
	}
	logger.Info().Str("job", job.ID).Int64("pending", pending).Msg("[RetrainScheduler] Retrain triggered")
	return true
}
