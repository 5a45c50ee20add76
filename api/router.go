package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/listcrawl/api/handler"
	"github.com/use-agent/listcrawl/api/middleware"
	"github.com/use-agent/listcrawl/config"
	"github.com/use-agent/listcrawl/crawler"
	"github.com/use-agent/listcrawl/webhook"
)

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health endpoint is intentionally outside auth so monitoring probes always work.
func NewRouter(m *crawler.Manager, n *webhook.Notifier, cfg *config.Config, startTime time.Time) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	if cfg.Server.Mode != gin.TestMode {
		r.Use(gin.Logger())
	}

	v1 := r.Group("/api/v1")

	// Health, no auth required.
	v1.GET("/health", handler.Health(m, startTime))

	// Protected group: auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	// Crawl
	protected.POST("/crawl", handler.PostCrawl(m, n))
	protected.GET("/crawl/:id", handler.GetCrawl(m))
	protected.DELETE("/crawl/:id", handler.DeleteCrawl(m))
	protected.GET("/crawl/:id/export", handler.ExportCrawl(m))

	return r
}
