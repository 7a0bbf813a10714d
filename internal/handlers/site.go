package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/huangang/spamguard/internal/middleware"
	"github.com/huangang/spamguard/internal/services"
	"github.com/huangang/spamguard/pkg/response"
)

type SiteHandler struct {
	sites *services.SiteService
	stats *services.StatsService
}

func NewSiteHandler(sites *services.SiteService, stats *services.StatsService) *SiteHandler {
	return &SiteHandler{sites: sites, stats: stats}
}

// Register creates a site and returns its API key once
// POST /api/v1/register-site
func (h *SiteHandler) Register(c *gin.Context) {
	var req services.RegisterSiteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	reg, err := h.sites.Register(c.Request.Context(), &req)
	switch {
	case errors.Is(err, services.ErrInvalidURL):
		response.BadRequest(c, err.Error())
		return
	case errors.Is(err, services.ErrSiteExists):
		response.Conflict(c, err.Error())
		return
	case err != nil:
		response.Error(c, err)
		return
	}

	response.Created(c, reg)
}

// Check reports whether a URL is already registered
// GET /api/v1/check-site?url=
func (h *SiteHandler) Check(c *gin.Context) {
	url := c.Query("url")
	if url == "" {
		response.BadRequest(c, "url is required")
		return
	}

	exists, err := h.sites.Exists(c.Request.Context(), url)
	if errors.Is(err, services.ErrInvalidURL) {
		response.BadRequest(c, err.Error())
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, gin.H{"exists": exists})
}

// Stats returns the dashboard of the calling site
// GET /api/v1/stats?period=30d
func (h *SiteHandler) Stats(c *gin.Context) {
	site := middleware.GetSite(c)
	st, err := h.stats.SiteStats(c.Request.Context(), site.ID, c.DefaultQuery("period", "all"))
	if errors.Is(err, services.ErrInvalidPeriod) {
		response.BadRequest(c, err.Error())
		return
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, st)
}
