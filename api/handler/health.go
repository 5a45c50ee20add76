package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/listcrawl/crawler"
	"github.com/use-agent/listcrawl/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Health returns a handler for GET /api/v1/health.
func Health(m *crawler.Manager, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:       "healthy",
			Uptime:       time.Since(startTime).Round(time.Second).String(),
			ActiveCrawls: m.Active(),
			TotalCrawls:  m.Total(),
			Version:      Version,
		})
	}
}
