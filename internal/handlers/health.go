package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/huangang/spamguard/internal/services"
	"github.com/huangang/spamguard/internal/services/detector"
	"github.com/huangang/spamguard/internal/services/retrain"
)

// HealthHandler provides enhanced health check endpoints.
type HealthHandler struct {
	db         *gorm.DB
	queue      services.TaskQueue
	trigger    *retrain.Trigger
	classifier *detector.Classifier
}

func NewHealthHandler(db *gorm.DB, queue services.TaskQueue, trigger *retrain.Trigger, classifier *detector.Classifier) *HealthHandler {
	return &HealthHandler{db: db, queue: queue, trigger: trigger, classifier: classifier}
}

func queueMode(q services.TaskQueue) string {
	if q != nil && q.IsAsync() {
		return "async (Redis)"
	}
	return "sync"
}

// CheckHealth returns the health status of all subsystems. A missing model
// is not unhealthy: predictions fall back to the heuristic.
// GET /health
func (h *HealthHandler) CheckHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
	defer cancel()

	overall := "healthy"
	status := http.StatusOK

	// Database check
	dbStatus := "ok"
	sqlDB, err := h.db.DB()
	if err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	} else if err := sqlDB.PingContext(ctx); err != nil {
		dbStatus = "error: " + err.Error()
		overall = "unhealthy"
	}
	if overall != "healthy" {
		status = http.StatusServiceUnavailable
	}

	lockState := "idle"
	if ls, err := h.trigger.LockStatus(ctx); err != nil {
		lockState = "error: " + err.Error()
	} else if ls.Running {
		lockState = "running"
	}

	h.classifier.Available(ctx)
	info := h.classifier.Info()

	c.JSON(status, gin.H{
		"status":  overall,
		"service": "spamguard",
		"components": gin.H{
			"database":      dbStatus,
			"queue_mode":    queueMode(h.queue),
			"retrain_lock":  lockState,
			"model_state":   info.State,
			"model_version": info.Version,
		},
	})
}
