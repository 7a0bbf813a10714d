package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func performRequest(handler gin.HandlerFunc) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("POST", "/api/v1/analyze", nil)
	handler(c)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) Response {
	t.Helper()
	var resp Response
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return resp
}

func TestSuccessEnvelopes(t *testing.T) {
	tests := []struct {
		name    string
		handler gin.HandlerFunc
		status  int
		message string
	}{
		{"success", func(c *gin.Context) { Success(c, gin.H{"is_spam": true}) }, http.StatusOK, "ok"},
		{"created", func(c *gin.Context) { Created(c, gin.H{"api_key": "sg_x"}) }, http.StatusCreated, "created"},
		{"accepted", func(c *gin.Context) { Accepted(c, gin.H{"job_id": "j1"}) }, http.StatusAccepted, "accepted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := performRequest(tt.handler)
			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
			resp := parseResponse(t, w)
			if resp.Code != 0 || resp.Message != tt.message {
				t.Errorf("envelope = %+v", resp)
			}
			if resp.Data == nil {
				t.Error("data missing")
			}
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	tests := []struct {
		name    string
		handler gin.HandlerFunc
		status  int
	}{
		{"bad request", func(c *gin.Context) { BadRequest(c, "content is required") }, http.StatusBadRequest},
		{"unauthorized", func(c *gin.Context) { Unauthorized(c, "invalid api key") }, http.StatusUnauthorized},
		{"forbidden", func(c *gin.Context) { Forbidden(c, "admin key required") }, http.StatusForbidden},
		{"not found", func(c *gin.Context) { NotFound(c, "comment not found") }, http.StatusNotFound},
		{"conflict", func(c *gin.Context) { Conflict(c, "retrain already running") }, http.StatusConflict},
		{"server error", func(c *gin.Context) { ServerError(c, "prediction failed") }, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := performRequest(tt.handler)
			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
			if resp := parseResponse(t, w); resp.Code != tt.status {
				t.Errorf("expected code %d, got %d", tt.status, resp.Code)
			}
		})
	}
}

func TestTooManyRequests_RetryAfter(t *testing.T) {
	w := performRequest(func(c *gin.Context) {
		TooManyRequests(c, "retrain requested too recently", 42)
	})
	if w.Code != http.StatusTooManyRequests {
		t.Errorf("expected status %d, got %d", http.StatusTooManyRequests, w.Code)
	}
	if got := w.Header().Get("Retry-After"); got != "42" {
		t.Errorf("Retry-After = %q, expected 42", got)
	}

	w = performRequest(func(c *gin.Context) {
		TooManyRequests(c, "slow down", 0)
	})
	if got := w.Header().Get("Retry-After"); got != "" {
		t.Errorf("Retry-After should be omitted, got %q", got)
	}
}

func TestError_WithAppError(t *testing.T) {
	tests := []struct {
		err    *AppError
		status int
	}{
		{NewBadRequest("invalid period"), http.StatusBadRequest},
		{NewConflict("site already registered"), http.StatusConflict},
		{NewTooManyRequests("rate limited"), http.StatusTooManyRequests},
		{NewServiceUnavailable("database unavailable"), http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.err.Message, func(t *testing.T) {
			w := performRequest(func(c *gin.Context) {
				Error(c, fmt.Errorf("handler: %w", tt.err))
			})
			if w.Code != tt.status {
				t.Errorf("expected status %d, got %d", tt.status, w.Code)
			}
			resp := parseResponse(t, w)
			if resp.Message != tt.err.Message {
				t.Errorf("expected message %q, got %q", tt.err.Message, resp.Message)
			}
		})
	}
}

func TestError_WithGenericErrorHidesDetail(t *testing.T) {
	w := performRequest(func(c *gin.Context) {
		Error(c, errors.New("dial tcp 10.0.0.5:5432: connection refused"))
	})

	if w.Code != http.StatusInternalServerError {
		t.Errorf("expected status %d, got %d", http.StatusInternalServerError, w.Code)
	}
	resp := parseResponse(t, w)
	if resp.Message != "internal server error" {
		t.Errorf("internal detail leaked: %q", resp.Message)
	}
}
