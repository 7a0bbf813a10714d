package services

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/hibiken/asynq"

	"github.com/huangang/spamguard/internal/config"
	"github.com/huangang/spamguard/internal/services/retrain"
	"github.com/huangang/spamguard/pkg/logger"
)

const (
	TaskTypeRetrain = "retrain:run"
	RetrainQueue    = "retrain"
)

// RetrainProcessor executes one dispatched job.
type RetrainProcessor func(context.Context, retrain.Job) *retrain.Report

// TaskQueue hands retrain jobs to a worker. It satisfies retrain.Dispatcher.
type TaskQueue interface {
	Dispatch(ctx context.Context, job retrain.Job) error
	// IsAsync returns true if jobs go through Redis
	IsAsync() bool
	Close() error
}

// Global task queue instance
var (
	globalTaskQueue TaskQueue
	taskQueueOnce   sync.Once
)

// InitTaskQueue initializes the global task queue based on config
func InitTaskQueue(cfg *config.Config) TaskQueue {
	taskQueueOnce.Do(func() {
		if cfg.Redis.Enabled {
			queue, err := NewAsyncQueue(&cfg.Redis, cfg.ML.LockTimeout)
			if err != nil {
				logger.Warnf("[TaskQueue] Redis unavailable, falling back to in-process mode: %v", err)
				globalTaskQueue = NewSyncQueue()
			} else {
				logger.Infof("[TaskQueue] Async queue initialized with Redis at %s", cfg.Redis.Addr)
				globalTaskQueue = queue
			}
		} else {
			logger.Infof("[TaskQueue] In-process queue initialized (Redis disabled)")
			globalTaskQueue = NewSyncQueue()
		}
	})
	return globalTaskQueue
}

// GetTaskQueue returns the global task queue instance
func GetTaskQueue() TaskQueue {
	return globalTaskQueue
}

func redisClientOpt(cfg *config.RedisConfig) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
}

// AsyncQueue implements TaskQueue using asynq (Redis-based)
type AsyncQueue struct {
	client  *asynq.Client
	timeout time.Duration
}

// NewAsyncQueue creates a Redis-backed queue. timeout bounds a task; it
// should match the lock timeout.
func NewAsyncQueue(cfg *config.RedisConfig, timeout time.Duration) (*AsyncQueue, error) {
	redisOpt := redisClientOpt(cfg)
	client := asynq.NewClient(redisOpt)

	// Verify the connection before committing to async mode
	inspector := asynq.NewInspector(redisOpt)
	defer inspector.Close()
	if _, err := inspector.Queues(); err != nil {
		client.Close()
		return nil, err
	}

	if timeout <= 0 {
		timeout = retrain.DefaultRunTimeout
	}
	return &AsyncQueue{client: client, timeout: timeout}, nil
}

// Dispatch enqueues the job. Retries are disabled: a retried task would run
// after its lease was released.
func (q *AsyncQueue) Dispatch(ctx context.Context, job retrain.Job) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}

	t := asynq.NewTask(TaskTypeRetrain, payload)
	info, err := q.client.EnqueueContext(ctx, t,
		asynq.Queue(RetrainQueue),
		asynq.TaskID(job.ID),
		asynq.MaxRetry(0),
		asynq.Timeout(q.timeout),
	)
	if err != nil {
		return err
	}

	logger.Infof("[AsyncQueue] Task enqueued: id=%s, queue=%s", info.ID, info.Queue)
	return nil
}

func (q *AsyncQueue) IsAsync() bool {
	return true
}

func (q *AsyncQueue) Close() error {
	return q.client.Close()
}

// SyncQueue runs jobs on a goroutine in this process (no Redis).
type SyncQueue struct {
	mu        sync.RWMutex
	processor RetrainProcessor
	wg        sync.WaitGroup
}

func NewSyncQueue() *SyncQueue {
	return &SyncQueue{}
}

// SetProcessor sets the function that runs dispatched jobs
func (q *SyncQueue) SetProcessor(processor RetrainProcessor) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.processor = processor
}

// Dispatch starts the job in the background and returns immediately.
func (q *SyncQueue) Dispatch(ctx context.Context, job retrain.Job) error {
	q.mu.RLock()
	processor := q.processor
	q.mu.RUnlock()
	if processor == nil {
		return errNoProcessor
	}

	q.wg.Add(1)
	go func() {
		defer q.wg.Done()
		rep := processor(context.Background(), job)
		if rep != nil && !rep.Success {
			logger.Infof("[SyncQueue] Retrain job %s finished without a new model: %s", job.ID, rep.Error)
		}
	}()

	return nil
}

func (q *SyncQueue) IsAsync() bool {
	return false
}

// Close waits for running jobs.
func (q *SyncQueue) Close() error {
	q.wg.Wait()
	return nil
}
