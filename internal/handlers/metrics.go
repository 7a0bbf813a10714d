package handlers

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/huangang/spamguard/internal/services"
	"github.com/huangang/spamguard/internal/services/detector"
	"github.com/huangang/spamguard/internal/services/retrain"
	"github.com/huangang/spamguard/pkg/logger"
)

var startTime = time.Now()

type MetricsHandler struct {
	db         *gorm.DB
	stats      *services.StatsService
	queue      services.TaskQueue
	trigger    *retrain.Trigger
	classifier *detector.Classifier
}

func NewMetricsHandler(db *gorm.DB, stats *services.StatsService, queue services.TaskQueue, trigger *retrain.Trigger, classifier *detector.Classifier) *MetricsHandler {
	return &MetricsHandler{db: db, stats: stats, queue: queue, trigger: trigger, classifier: classifier}
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}

// Metrics returns Prometheus-compatible text format metrics.
// GET /metrics
func (h *MetricsHandler) Metrics(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	var b strings.Builder

	// -- Runtime metrics --
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	writeGauge(&b, "spamguard_uptime_seconds", "Time since server start in seconds", time.Since(startTime).Seconds())
	writeGauge(&b, "spamguard_goroutines", "Number of active goroutines", float64(runtime.NumGoroutine()))
	writeGauge(&b, "spamguard_memory_alloc_bytes", "Current heap allocation in bytes", float64(m.Alloc))
	writeGauge(&b, "spamguard_gc_runs_total", "Total number of GC runs", float64(m.NumGC))

	// -- Database metrics --
	if sqlDB, err := h.db.DB(); err == nil {
		stats := sqlDB.Stats()
		writeGauge(&b, "spamguard_db_open_connections", "Number of open DB connections", float64(stats.OpenConnections))
		writeGauge(&b, "spamguard_db_in_use_connections", "Number of in-use DB connections", float64(stats.InUse))
	}

	writeGauge(&b, "spamguard_queue_async_enabled", "Whether async queue (Redis) is enabled (1=yes, 0=no)", boolGauge(h.queue != nil && h.queue.IsAsync()))

	// -- Model metrics --
	info := h.classifier.Info()
	writeGauge(&b, "spamguard_model_loaded", "Whether a trained model is serving (1=yes, 0=no)", boolGauge(info.State == detector.StateLoaded))
	if ls, err := h.trigger.LockStatus(ctx); err == nil {
		writeGauge(&b, "spamguard_retrain_running", "Whether a retraining run holds the lock (1=yes, 0=no)", boolGauge(ls.Running))
	}

	// -- Domain metrics --
	totals, err := h.stats.Totals(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("[Metrics] Failed to collect totals")
	} else {
		writeGauge(&b, "spamguard_analyses_total", "Total number of analysed comments", float64(totals.Analyses))
		writeGauge(&b, "spamguard_analyses_spam_total", "Analysed comments classified as spam or phishing", float64(totals.SpamAnalyses))
		writeGauge(&b, "spamguard_feedback_pending", "Feedback not yet consumed by retraining", float64(totals.FeedbackPending))
		writeGauge(&b, "spamguard_sites_total", "Number of registered sites", float64(totals.Sites))
		writeGauge(&b, "spamguard_retrain_runs_total", "Number of retraining runs", float64(totals.RetrainRuns))
		writeGauge(&b, "spamguard_retrain_runs_failed", "Number of retraining runs without a new model", float64(totals.FailedRuns))
	}

	c.Data(200, "text/plain; version=0.0.4; charset=utf-8", []byte(b.String()))
}

func writeGauge(b *strings.Builder, name, help string, value float64) {
	fmt.Fprintf(b, "# HELP %s %s\n", name, help)
	fmt.Fprintf(b, "# TYPE %s gauge\n", name)
	fmt.Fprintf(b, "%s %g\n\n", name, value)
}
