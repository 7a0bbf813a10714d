package main

import (
	"github.com/gin-gonic/gin"

	"github.com/huangang/spamguard/internal/config"
	"github.com/huangang/spamguard/internal/middleware"
	"github.com/huangang/spamguard/pkg/logger"
)

// registerRoutes sets up all HTTP routes on the given Gin engine.
func registerRoutes(r *gin.Engine, cfg *config.Config, svc *appServices) *middleware.RateLimiter {
	// Middleware
	r.Use(logger.GinLogger(), logger.GinRecovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	r.Use(middleware.CORS())

	apiLimiter := middleware.NewRateLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)

	r.GET("/health", svc.healthHandler.CheckHealth)
	r.GET("/metrics", svc.metricsHandler.Metrics)

	api := r.Group("/api/v1", apiLimiter.Middleware())
	{
		// Public
		api.POST("/register-site", svc.siteHandler.Register)
		api.GET("/check-site", svc.siteHandler.Check)

		// Site routes (X-API-Key)
		site := api.Group("")
		site.Use(middleware.SiteAuth(svc.sites))
		{
			site.POST("/analyze", svc.analyzeHandler.Analyze)
			site.POST("/feedback", svc.feedbackHandler.Submit)
			site.GET("/stats", svc.siteHandler.Stats)
		}

		// Admin routes (X-Admin-Key)
		admin := api.Group("/admin")
		admin.Use(middleware.AdminRequired(cfg.ML.AdminKey))
		{
			admin.POST("/retrain", svc.adminHandler.Retrain)
			admin.GET("/retrain/status", svc.adminHandler.RetrainStatus)
			admin.GET("/model/info", svc.adminHandler.ModelInfo)
			admin.POST("/model/reload", svc.adminHandler.ReloadModel)
			admin.GET("/feedback/stats", svc.adminHandler.FeedbackStats)
			admin.GET("/backups", svc.adminHandler.Backups)
			admin.GET("/versions", svc.adminHandler.Versions)
			admin.GET("/runs", svc.adminHandler.Runs)
			admin.GET("/sites", svc.adminHandler.ListSites)
			admin.POST("/sites/:id/rotate-key", svc.adminHandler.RotateSiteKey)
		}
	}

	return apiLimiter
}
