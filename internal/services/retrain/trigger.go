package retrain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/huangang/spamguard/internal/ml"
	"github.com/huangang/spamguard/internal/services/artifact"
	"github.com/huangang/spamguard/pkg/logger"
)

var (
	ErrRateLimited    = errors.New("retrain requested too recently")
	ErrAlreadyRunning = errors.New("retrain already in progress")
)

// DefaultRunTimeout bounds a single run; it matches the lock timeout.
const DefaultRunTimeout = 30 * time.Minute

// Job is a scheduled run. It carries the lease so whichever worker executes
// it can release the lock.
type Job struct {
	ID          string    `json:"id"`
	Identity    string    `json:"identity"`
	SiteID      string    `json:"site_id,omitempty"`
	MinSamples  int       `json:"min_samples,omitempty"`
	Lease       Lease     `json:"lease"`
	RequestedAt time.Time `json:"requested_at"`
}

// Dispatcher hands a job to whatever executes it off the request path.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

// Reloader is the serving side that picks up a new artifact.
type Reloader interface {
	Reload(ctx context.Context) error
}

// RunRecorder persists run history. Optional.
type RunRecorder interface {
	RecordRun(ctx context.Context, job Job, rep *Report) error
	LastRun(ctx context.Context) (*Report, error)
}

// Status is the operator view of retraining.
type Status struct {
	Status         string       `json:"status"` // idle, running
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	ElapsedSeconds float64      `json:"elapsed_seconds,omitempty"`
	LastRun        *Report      `json:"last_run,omitempty"`
	Model          *ml.Metadata `json:"model,omitempty"`
}

// Trigger is the entry point for manual and scheduled retraining: it checks
// the limiter, takes the lock and dispatches the run asynchronously.
type Trigger struct {
	pipeline   *Pipeline
	locker     Locker
	limiter    *Limiter
	store      artifact.Store
	reloader   Reloader
	dispatcher Dispatcher
	recorder   RunRecorder
	defaults   Options
	timeout    time.Duration
	now        func() time.Time

	mu   sync.RWMutex
	last *Report
}

// TriggerConfig wires a Trigger.
type TriggerConfig struct {
	Pipeline   *Pipeline
	Locker     Locker
	Limiter    *Limiter
	Store      artifact.Store
	Reloader   Reloader
	Dispatcher Dispatcher
	Recorder   RunRecorder
	Defaults   Options
	Timeout    time.Duration
}

func NewTrigger(cfg TriggerConfig) *Trigger {
	if cfg.Locker == nil {
		cfg.Locker = NewLock(DefaultLockTimeout)
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewLimiter(DefaultRetrainInterval)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRunTimeout
	}
	t := &Trigger{
		pipeline:   cfg.Pipeline,
		locker:     cfg.Locker,
		limiter:    cfg.Limiter,
		store:      cfg.Store,
		reloader:   cfg.Reloader,
		dispatcher: cfg.Dispatcher,
		recorder:   cfg.Recorder,
		defaults:   cfg.Defaults,
		timeout:    cfg.Timeout,
		now:        time.Now,
	}
	if t.dispatcher == nil {
		t.dispatcher = GoDispatcher{Execute: t.Execute}
	}
	return t
}

// SetDispatcher swaps the dispatcher after construction; the queue needs the
// trigger to exist before it can be built.
func (t *Trigger) SetDispatcher(d Dispatcher) {
	t.dispatcher = d
}

// Start schedules a run for identity and returns without waiting for it.
func (t *Trigger) Start(ctx context.Context, identity string, siteID string, minSamples int) (*Job, error) {
	if !t.limiter.Allow(identity) {
		logger.Warn().Str("identity", identity).Msg("[Retrain] Request rejected by rate limiter")
		return nil, ErrRateLimited
	}
	lease, ok, err := t.locker.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}

	job := Job{
		ID:          uuid.NewString(),
		Identity:    identity,
		SiteID:      siteID,
		MinSamples:  minSamples,
		Lease:       lease,
		RequestedAt: t.now(),
	}
	if err := t.dispatcher.Dispatch(ctx, job); err != nil {
		t.release(lease)
		return nil, fmt.Errorf("dispatch retrain job: %w", err)
	}
	logger.Info().Str("job", job.ID).Str("identity", identity).Str("site", siteID).Msg("[Retrain] Job scheduled")
	return &job, nil
}

// RetryAfter tells a rate-limited identity when to come back.
func (t *Trigger) RetryAfter(identity string) time.Duration {
	return t.limiter.RetryAfter(identity)
}

// Execute runs a dispatched job to completion and always releases its lease.
func (t *Trigger) Execute(ctx context.Context, job Job) *Report {
	defer t.release(job.Lease)

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	opts := t.defaults
	if job.MinSamples > 0 {
		opts.MinSamples = job.MinSamples
	}
	opts.SiteID = job.SiteID

	rep := t.pipeline.Run(ctx, opts)
	if rep.ModelSaved() && t.reloader != nil {
		if err := t.reloader.Reload(context.WithoutCancel(ctx)); err != nil {
			logger.Error().Err(err).Str("version", rep.Version).Msg("[Retrain] Model saved but reload failed")
		}
	}

	t.mu.Lock()
	t.last = rep
	t.mu.Unlock()

	if t.recorder != nil {
		if err := t.recorder.RecordRun(context.WithoutCancel(ctx), job, rep); err != nil {
			logger.Warn().Err(err).Msg("[Retrain] Failed to record run history")
		}
	}
	return rep
}

// RunNow takes the lock and runs synchronously, bypassing the rate limiter.
// It serves the CLI.
func (t *Trigger) RunNow(ctx context.Context, siteID string, minSamples int) (*Report, error) {
	lease, ok, err := t.locker.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrAlreadyRunning
	}
	job := Job{ID: uuid.NewString(), Identity: "cli", SiteID: siteID, MinSamples: minSamples, Lease: lease, RequestedAt: t.now()}
	return t.Execute(ctx, job), nil
}

func (t *Trigger) release(lease Lease) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := t.locker.Release(ctx, lease); err != nil {
		logger.Error().Err(err).Msg("[Retrain] Failed to release lock")
	}
}

// Status reports whether a run is in progress plus the last outcome.
func (t *Trigger) Status(ctx context.Context) (*Status, error) {
	ls, err := t.locker.Status(ctx)
	if err != nil {
		return nil, err
	}
	st := &Status{Status: "idle"}
	if ls.Running {
		started := ls.StartedAt
		st.Status = "running"
		st.StartedAt = &started
		st.ElapsedSeconds = t.now().Sub(started).Seconds()
	}

	t.mu.RLock()
	st.LastRun = t.last
	t.mu.RUnlock()
	if st.LastRun == nil && t.recorder != nil {
		if last, err := t.recorder.LastRun(ctx); err == nil {
			st.LastRun = last
		}
	}
	if t.store != nil {
		if meta, err := t.store.LoadMetadata(ctx); err == nil {
			st.Model = meta
		}
	}
	return st, nil
}

// LockStatus exposes the raw lock state for health checks.
func (t *Trigger) LockStatus(ctx context.Context) (LockStatus, error) {
	return t.locker.Status(ctx)
}

// GoDispatcher runs jobs on a fresh goroutine in this process.
type GoDispatcher struct {
	Execute func(context.Context, Job) *Report
}

func (d GoDispatcher) Dispatch(ctx context.Context, job Job) error {
	go d.Execute(context.Background(), job)
	return nil
}
