package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/huangang/spamguard/internal/middleware"
	"github.com/huangang/spamguard/internal/services"
	"github.com/huangang/spamguard/pkg/response"
)

type FeedbackHandler struct {
	feedback *services.FeedbackService
}

func NewFeedbackHandler(feedback *services.FeedbackService) *FeedbackHandler {
	return &FeedbackHandler{feedback: feedback}
}

// Submit records a label correction for a previous analysis
// POST /api/v1/feedback
func (h *FeedbackHandler) Submit(c *gin.Context) {
	var req services.FeedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	site := middleware.GetSite(c)
	res, err := h.feedback.Submit(c.Request.Context(), site.ID, &req)
	switch {
	case errors.Is(err, services.ErrInvalidLabel):
		response.BadRequest(c, err.Error())
		return
	case errors.Is(err, services.ErrCommentNotFound):
		response.NotFound(c, err.Error())
		return
	case err != nil:
		response.Error(c, err)
		return
	}

	response.Created(c, res)
}
