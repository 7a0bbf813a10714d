package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/hibiken/asynq"

	"github.com/huangang/spamguard/internal/config"
	"github.com/huangang/spamguard/internal/services/retrain"
	"github.com/huangang/spamguard/pkg/logger"
)

var errNoProcessor = errors.New("no retrain processor configured")

// Worker processes async retrain tasks from the queue
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor RetrainProcessor
	wg        sync.WaitGroup
	running   bool
	mu        sync.Mutex
}

// NewWorker creates a new worker instance
func NewWorker(cfg *config.RedisConfig) *Worker {
	if !cfg.Enabled {
		return nil
	}

	server := asynq.NewServer(
		redisClientOpt(cfg),
		asynq.Config{
			// One run at a time; the lock enforces it across instances too.
			Concurrency: 1,
			Queues: map[string]int{
				RetrainQueue: 1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Warnf("[Worker] Error processing task %s: %v", task.Type(), err)
			}),
		},
	)

	return &Worker{
		server: server,
		mux:    asynq.NewServeMux(),
	}
}

// SetProcessor sets the function to process retrain tasks
func (w *Worker) SetProcessor(processor RetrainProcessor) {
	w.processor = processor
}

// Start begins processing tasks
func (w *Worker) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return nil
	}

	w.mux.HandleFunc(TaskTypeRetrain, w.handleRetrainTask)

	w.running = true
	w.wg.Add(1)

	go func() {
		defer w.wg.Done()
		logger.Infof("[Worker] Starting async worker...")
		if err := w.server.Run(w.mux); err != nil {
			logger.Errorf("[Worker] Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the worker
func (w *Worker) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	logger.Infof("[Worker] Shutting down...")
	w.server.Shutdown()
	w.running = false
	w.wg.Wait()
	logger.Infof("[Worker] Shutdown complete")
}

// handleRetrainTask runs a single retrain job. A run that finishes without a
// new model is not a task failure; the report records why.
func (w *Worker) handleRetrainTask(ctx context.Context, t *asynq.Task) error {
	job, err := decodeRetrainJob(t.Payload())
	if err != nil {
		logger.Errorf("[Worker] Failed to unmarshal task: %v", err)
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	logger.Infof("[Worker] Processing retrain task: job=%s, identity=%s, site=%s", job.ID, job.Identity, job.SiteID)

	if w.processor == nil {
		return errNoProcessor
	}
	rep := w.processor(ctx, job)
	if rep != nil && !rep.Success {
		logger.Infof("[Worker] Retrain job %s stopped at %s: %s", job.ID, rep.Stage, rep.Error)
	}
	return nil
}

func decodeRetrainJob(payload []byte) (job retrain.Job, err error) {
	err = json.Unmarshal(payload, &job)
	return job, err
}

// Global worker instance
var (
	globalWorker *Worker
	workerOnce   sync.Once
)

// InitWorker initializes the global worker
func InitWorker(cfg *config.RedisConfig) *Worker {
	workerOnce.Do(func() {
		globalWorker = NewWorker(cfg)
	})
	return globalWorker
}
