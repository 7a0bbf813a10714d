package main

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"github.com/huangang/spamguard/internal/config"
	"github.com/huangang/spamguard/internal/handlers"
	"github.com/huangang/spamguard/internal/models"
	"github.com/huangang/spamguard/internal/services"
	"github.com/huangang/spamguard/internal/services/artifact"
	"github.com/huangang/spamguard/internal/services/detector"
	"github.com/huangang/spamguard/internal/services/retrain"
	"github.com/huangang/spamguard/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	db         *gorm.DB
	redis      *redis.Client
	classifier *detector.Classifier
	sites      *services.SiteService
	trigger    *retrain.Trigger
	taskQueue  services.TaskQueue
	worker     *services.Worker
	scheduler  *services.RetrainScheduler

	analyzeHandler  *handlers.AnalyzeHandler
	feedbackHandler *handlers.FeedbackHandler
	siteHandler     *handlers.SiteHandler
	adminHandler    *handlers.MLAdminHandler
	healthHandler   *handlers.HealthHandler
	metricsHandler  *handlers.MetricsHandler
}

// bootstrap initializes all application dependencies: database, model, queue, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	// Initialize database
	if err := models.InitDB(&cfg.Database); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}

	// Auto migrate database
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	db := models.GetDB()

	rdb := services.NewRedisClient(&cfg.Redis)

	// Model serving
	store := artifact.NewFileStore(cfg.ML.ModelDir, cfg.ML.KeepBackups)
	classifier := detector.NewClassifier(store)
	predictor := detector.NewPredictor(
		detector.NewExtractor(detector.NewHolidayCalendar()),
		detector.NewHeuristicScorer(),
		classifier,
		detector.Weights{
			Heuristic: cfg.ML.HeuristicWeight,
			Trained:   cfg.ML.TrainedWeight,
			Threshold: cfg.ML.DecisionThreshold,
		},
	)
	warmCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if classifier.Available(warmCtx) {
		logger.Info().Str("version", classifier.Version()).Msg("[Classifier] Trained model ready")
	}
	cancel()

	var cache services.PredictionCache
	if cfg.Cache.Enabled {
		cache = services.NewPredictionCache(rdb, cfg.Cache.TTL)
		logger.Infof("[PredictionCache] Enabled (backend: %s, ttl: %s)", cache.Backend(), cfg.Cache.TTL)
	}

	sites := services.NewSiteService(db)
	stats := services.NewStatsService(db)
	analysis := services.NewAnalysisService(db, predictor, cache)
	feedback := services.NewFeedbackService(db, cfg.ML.RetrainThreshold)
	history := services.NewRetrainHistory(db)

	// Retraining
	trigger := retrain.NewTrigger(retrain.TriggerConfig{
		Pipeline: retrain.NewPipeline(feedback, store),
		Locker:   services.NewRetrainLocker(&cfg.ML, db, rdb),
		Limiter:  retrain.NewLimiter(cfg.ML.RetrainInterval),
		Store:    store,
		Reloader: classifier,
		Recorder: history,
		Defaults: services.RetrainOptions(&cfg.ML),
		Timeout:  cfg.ML.LockTimeout,
	})

	// Initialize task queue (uses Redis if enabled, otherwise sync mode)
	taskQueue := services.InitTaskQueue(cfg)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(trigger.Execute)
	}
	trigger.SetDispatcher(taskQueue)

	// Start async worker if the queue goes through Redis
	var worker *services.Worker
	if taskQueue.IsAsync() {
		if rdb == nil {
			logger.Warn().Msg("[RetrainLock] Async queue without a shared lock; run a single instance")
		}
		worker = services.InitWorker(&cfg.Redis)
		if worker != nil {
			worker.SetProcessor(trigger.Execute)
			if err := worker.Start(); err != nil {
				logger.Errorf("[Worker] Failed to start: %v", err)
			}
		}
	}

	scheduler := services.NewRetrainScheduler(feedback, trigger, cfg.ML.RetrainThreshold, cfg.ML.CheckSchedule)
	if err := scheduler.StartScheduler(); err != nil {
		logger.Errorf("[RetrainScheduler] Invalid schedule %q: %v", cfg.ML.CheckSchedule, err)
	}

	if cfg.ML.AdminKey == "" {
		logger.Warn().Msg("[MLAdmin] No admin key configured, admin endpoints disabled")
	}

	return &appServices{
		db:         db,
		redis:      rdb,
		classifier: classifier,
		sites:      sites,
		trigger:    trigger,
		taskQueue:  taskQueue,
		worker:     worker,
		scheduler:  scheduler,

		analyzeHandler:  handlers.NewAnalyzeHandler(analysis),
		feedbackHandler: handlers.NewFeedbackHandler(feedback),
		siteHandler:     handlers.NewSiteHandler(sites, stats),
		adminHandler: handlers.NewMLAdminHandler(handlers.MLAdminDeps{
			Trigger:    trigger,
			Classifier: classifier,
			Store:      store,
			Feedback:   feedback,
			History:    history,
			Sites:      sites,
		}),
		healthHandler:  handlers.NewHealthHandler(db, taskQueue, trigger, classifier),
		metricsHandler: handlers.NewMetricsHandler(db, stats, taskQueue, trigger, classifier),
	}
}

// shutdown gracefully stops all services.
func (s *appServices) shutdown() {
	s.scheduler.StopScheduler()
	logger.Info().Msg("All schedulers stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		// Waits for in-process runs so their lease is released.
		s.taskQueue.Close()
	}
	if s.redis != nil {
		s.redis.Close()
	}
	if sqlDB, err := s.db.DB(); err == nil {
		sqlDB.Close()
	}
}
