package middleware

import (
	"context"
	"crypto/subtle"
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/huangang/spamguard/internal/models"
	"github.com/huangang/spamguard/internal/services"
	"github.com/huangang/spamguard/pkg/logger"
	"github.com/huangang/spamguard/pkg/response"
)

const (
	APIKeyHeader   = "X-API-Key"
	AdminKeyHeader = "X-Admin-Key"

	ContextSite          = "site"
	ContextAdminIdentity = "admin_identity"
)

// SiteResolver looks up the site owning an API key.
type SiteResolver interface {
	GetByAPIKey(ctx context.Context, key string) (*models.Site, error)
}

// SiteAuth resolves X-API-Key to an active site and stores it in the context.
func SiteAuth(sites SiteResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader(APIKeyHeader)
		if key == "" {
			response.Unauthorized(c, "X-API-Key header required")
			c.Abort()
			return
		}

		site, err := sites.GetByAPIKey(c.Request.Context(), key)
		if errors.Is(err, services.ErrSiteNotFound) {
			response.Unauthorized(c, "invalid api key")
			c.Abort()
			return
		}
		if err != nil {
			logger.Error().Err(err).Msg("[Auth] Site lookup failed")
			response.ServerError(c, "site lookup failed")
			c.Abort()
			return
		}

		c.Set(ContextSite, site)
		c.Next()
	}
}

// AdminRequired checks X-Admin-Key against the configured key. An empty
// configured key disables the admin surface.
func AdminRequired(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if adminKey == "" {
			response.Forbidden(c, "admin api disabled")
			c.Abort()
			return
		}
		key := c.GetHeader(AdminKeyHeader)
		if key == "" {
			response.Unauthorized(c, "X-Admin-Key header required")
			c.Abort()
			return
		}
		if subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
			logger.Warn().Str("ip", c.ClientIP()).Msg("[Auth] Invalid admin key")
			response.Forbidden(c, "invalid admin key")
			c.Abort()
			return
		}

		c.Set(ContextAdminIdentity, AdminIdentity(key))
		c.Next()
	}
}

// AdminIdentity is the rate-limit identity of an admin key.
func AdminIdentity(key string) string {
	if len(key) > 8 {
		key = key[:8]
	}
	return "retrain_" + key
}

// GetSite gets the authenticated site from context
func GetSite(c *gin.Context) *models.Site {
	if v, exists := c.Get(ContextSite); exists {
		if site, ok := v.(*models.Site); ok {
			return site
		}
	}
	return nil
}

// GetAdminIdentity gets the admin identity from context
func GetAdminIdentity(c *gin.Context) string {
	return c.GetString(ContextAdminIdentity)
}
