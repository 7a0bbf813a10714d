package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/huangang/spamguard/internal/middleware"
	"github.com/huangang/spamguard/internal/services"
	"github.com/huangang/spamguard/pkg/response"
)

type AnalyzeHandler struct {
	analysis *services.AnalysisService
}

func NewAnalyzeHandler(analysis *services.AnalysisService) *AnalyzeHandler {
	return &AnalyzeHandler{analysis: analysis}
}

// Analyze classifies one comment for the calling site
// POST /api/v1/analyze
func (h *AnalyzeHandler) Analyze(c *gin.Context) {
	var req services.AnalyzeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if req.AuthorIP == "" {
		req.AuthorIP = c.ClientIP()
	}
	if req.UserAgent == "" {
		req.UserAgent = c.GetHeader("User-Agent")
	}

	res, err := h.analysis.Analyze(c.Request.Context(), middleware.GetSite(c), &req)
	switch {
	case errors.Is(err, services.ErrEmptyContent), errors.Is(err, services.ErrContentTooLong):
		response.BadRequest(c, err.Error())
		return
	case err != nil:
		response.Error(c, err)
		return
	}

	response.Success(c, res)
}
