package handlers

import (
	"errors"
	"math"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/huangang/spamguard/internal/middleware"
	"github.com/huangang/spamguard/internal/services"
	"github.com/huangang/spamguard/internal/services/artifact"
	"github.com/huangang/spamguard/internal/services/detector"
	"github.com/huangang/spamguard/internal/services/retrain"
	"github.com/huangang/spamguard/pkg/logger"
	"github.com/huangang/spamguard/pkg/response"
)

// MLAdminHandler serves the operator endpoints behind X-Admin-Key.
type MLAdminHandler struct {
	trigger    *retrain.Trigger
	classifier *detector.Classifier
	store      artifact.Store
	feedback   *services.FeedbackService
	history    *services.RetrainHistory
	sites      *services.SiteService
}

// MLAdminDeps wires an MLAdminHandler.
type MLAdminDeps struct {
	Trigger    *retrain.Trigger
	Classifier *detector.Classifier
	Store      artifact.Store
	Feedback   *services.FeedbackService
	History    *services.RetrainHistory
	Sites      *services.SiteService
}

func NewMLAdminHandler(deps MLAdminDeps) *MLAdminHandler {
	return &MLAdminHandler{
		trigger:    deps.Trigger,
		classifier: deps.Classifier,
		store:      deps.Store,
		feedback:   deps.Feedback,
		history:    deps.History,
		sites:      deps.Sites,
	}
}

type RetrainRequest struct {
	SiteID     string `json:"site_id"`
	MinSamples int    `json:"min_samples" binding:"omitempty,min=1"`
}

// Retrain starts a retraining run in the background
// POST /api/v1/admin/retrain
func (h *MLAdminHandler) Retrain(c *gin.Context) {
	var req RetrainRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			response.BadRequest(c, err.Error())
			return
		}
	}

	identity := middleware.GetAdminIdentity(c)
	job, err := h.trigger.Start(c.Request.Context(), identity, req.SiteID, req.MinSamples)
	switch {
	case errors.Is(err, retrain.ErrRateLimited):
		retry := int(math.Ceil(h.trigger.RetryAfter(identity).Seconds()))
		response.TooManyRequests(c, "retrain requested too recently, retry in "+strconv.Itoa(retry)+"s", retry)
		return
	case errors.Is(err, retrain.ErrAlreadyRunning):
		response.Conflict(c, err.Error())
		return
	case err != nil:
		logger.Error().Err(err).Str("identity", identity).Msg("[MLAdmin] Failed to start retrain")
		response.Error(c, err)
		return
	}

	response.Accepted(c, gin.H{
		"status":  "started",
		"job_id":  job.ID,
		"site_id": job.SiteID,
		"message": "Retraining started in background",
	})
}

// RetrainStatus reports the running state and the last outcome
// GET /api/v1/admin/retrain/status
func (h *MLAdminHandler) RetrainStatus(c *gin.Context) {
	st, err := h.trigger.Status(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, st)
}

// ModelInfo describes the serving model
// GET /api/v1/admin/model/info
func (h *MLAdminHandler) ModelInfo(c *gin.Context) {
	// Forces the lazy load so a fresh process reports the real state.
	h.classifier.Available(c.Request.Context())
	response.Success(c, h.classifier.Info())
}

// ReloadModel re-reads the active artifact
// POST /api/v1/admin/model/reload
func (h *MLAdminHandler) ReloadModel(c *gin.Context) {
	if err := h.classifier.Reload(c.Request.Context()); err != nil {
		logger.Warn().Err(err).Msg("[MLAdmin] Manual reload failed")
	}
	response.Success(c, h.classifier.Info())
}

// FeedbackStats summarises feedback waiting for the next run
// GET /api/v1/admin/feedback/stats?site_id=
func (h *MLAdminHandler) FeedbackStats(c *gin.Context) {
	st, err := h.feedback.Stats(c.Request.Context(), c.Query("site_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, st)
}

// Backups lists archived models
// GET /api/v1/admin/backups
func (h *MLAdminHandler) Backups(c *gin.Context) {
	backups, err := h.store.ListBackups(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"backups": backups, "total": len(backups)})
}

func limitParam(c *gin.Context) int {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	return limit
}

// Versions lists saved models
// GET /api/v1/admin/versions
func (h *MLAdminHandler) Versions(c *gin.Context) {
	versions, err := h.history.Versions(c.Request.Context(), limitParam(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, versions)
}

// Runs lists retraining attempts
// GET /api/v1/admin/runs
func (h *MLAdminHandler) Runs(c *gin.Context) {
	runs, err := h.history.Runs(c.Request.Context(), limitParam(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, runs)
}

// ListSites
// GET /api/v1/admin/sites
func (h *MLAdminHandler) ListSites(c *gin.Context) {
	sites, err := h.sites.List(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, sites)
}

// RotateSiteKey issues a new API key for a site
// POST /api/v1/admin/sites/:id/rotate-key
func (h *MLAdminHandler) RotateSiteKey(c *gin.Context) {
	key, err := h.sites.RotateKey(c.Request.Context(), c.Param("id"))
	if errors.Is(err, services.ErrSiteNotFound) {
		response.NotFound(c, err.Error())
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, gin.H{"site_id": c.Param("id"), "api_key": key})
}
