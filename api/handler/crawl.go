package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/listcrawl/crawler"
	"github.com/use-agent/listcrawl/export"
	"github.com/use-agent/listcrawl/models"
	"github.com/use-agent/listcrawl/webhook"
)

// PostCrawl returns a handler for POST /api/v1/crawl.
func PostCrawl(m *crawler.Manager, n *webhook.Notifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CrawlRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.CrawlResponse{
				Status: models.StatusFailed,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}

		// The crawl outlives the request.
		h, err := m.StartCrawl(context.WithoutCancel(c.Request.Context()), req.StartDate, req.EndDate, req.MaxResults)
		if err != nil {
			c.JSON(http.StatusBadRequest, models.CrawlResponse{
				Status: models.StatusFailed,
				Error:  models.AsCrawlError(err).ToDetail(),
			})
			return
		}

		if req.WebhookURL != "" {
			notifyWhenDone(n, h, req.WebhookURL, req.WebhookSecret)
		}

		slog.Info("crawl started", "id", h.ID(), "start", req.StartDate, "end", req.EndDate)
		c.JSON(http.StatusOK, models.CrawlResponse{
			ID:     h.ID(),
			Status: models.StatusProcessing,
		})
	}
}

// GetCrawl returns a handler for GET /api/v1/crawl/:id.
// Optional query parameters tag and sort select and order the results.
func GetCrawl(m *crawler.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, ok := bindView(c)
		if !ok {
			return
		}
		h, ok := m.Get(c.Param("id"))
		if !ok {
			notFound(c)
			return
		}
		c.JSON(http.StatusOK, statusResponse(h.Snapshot(), view))
	}
}

// DeleteCrawl returns a handler for DELETE /api/v1/crawl/:id.
// Cancelling is idempotent; the response carries the status at the time
// of the call.
func DeleteCrawl(m *crawler.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		h, ok := m.Cancel(c.Param("id"))
		if !ok {
			notFound(c)
			return
		}
		c.JSON(http.StatusOK, models.CrawlResponse{
			ID:     h.ID(),
			Status: h.Snapshot().Status,
		})
	}
}

// ExportCrawl returns a handler for GET /api/v1/crawl/:id/export.
// It accepts the same tag and sort parameters as GetCrawl.
func ExportCrawl(m *crawler.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, ok := bindView(c)
		if !ok {
			return
		}
		h, ok := m.Get(c.Param("id"))
		if !ok {
			notFound(c)
			return
		}

		snap := h.Snapshot()
		if snap.Status == models.StatusProcessing {
			c.JSON(http.StatusConflict, gin.H{
				"error": models.ErrorDetail{
					Code:    models.ErrCodeConflict,
					Message: "crawl is still running",
				},
			})
			return
		}

		c.Header("Content-Type", "text/csv; charset=utf-8")
		c.Header("Content-Disposition", `attachment; filename="`+snap.ID+`.csv"`)
		c.Status(http.StatusOK)
		if err := export.WriteCSV(c.Writer, view.Apply(snap.Records)); err != nil {
			slog.Warn("export write failed", "id", snap.ID, "error", err)
		}
	}
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{
		"error": models.ErrorDetail{
			Code:    models.ErrCodeNotFound,
			Message: "crawl job not found",
		},
	})
}

// bindView reads the tag and sort query parameters. On a bad value it
// writes a 400 response and returns false.
func bindView(c *gin.Context) (export.View, bool) {
	var view export.View
	if err := c.ShouldBindQuery(&view); err != nil {
		abortInput(c, err)
		return view, false
	}
	if err := view.Validate(); err != nil {
		abortInput(c, err)
		return view, false
	}
	return view, true
}

func abortInput(c *gin.Context, err error) {
	detail := models.AsCrawlError(err).ToDetail()
	detail.Code = models.ErrCodeInvalidInput
	c.JSON(http.StatusBadRequest, gin.H{"error": detail})
}

func statusResponse(s crawler.Snapshot, view export.View) models.CrawlStatusResponse {
	results := view.Apply(s.Records)
	resp := models.CrawlStatusResponse{
		ID:       s.ID,
		Status:   s.Status,
		Progress: s.Progress,
		Total:    len(results),
		Pages:    s.Pages,
		Tags:     export.TagVocabulary(s.Records),
		Errors:   s.Errors,
		Results:  results,
	}
	if s.Err != nil {
		resp.Error = models.AsCrawlError(s.Err).ToDetail()
	}
	return resp
}

// notifyWhenDone schedules delivery of the final crawl state to the
// caller's webhook.
func notifyWhenDone(n *webhook.Notifier, h *crawler.Handle, url, secret string) {
	n.DeliverWhenDone(h.Done(), url, secret, func() *webhook.Event {
		snap := h.Snapshot()

		eventType := webhook.EventCrawlCompleted
		switch snap.Status {
		case models.StatusCancelled:
			eventType = webhook.EventCrawlCancelled
		case models.StatusFailed:
			eventType = webhook.EventCrawlFailed
		}

		return &webhook.Event{
			Type:      eventType,
			JobID:     snap.ID,
			Timestamp: time.Now().Unix(),
			Data:      statusResponse(snap, export.View{}),
		}
	})
}
