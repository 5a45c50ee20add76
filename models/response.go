package models

// HealthResponse is the response for GET /api/v1/health.
type HealthResponse struct {
	Status       string `json:"status"` // "healthy" or "degraded"
	Uptime       string `json:"uptime"`
	ActiveCrawls int    `json:"active_crawls"`
	TotalCrawls  int    `json:"total_crawls"`
	Version      string `json:"version"`
}
