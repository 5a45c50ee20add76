package models

import "fmt"

// CrawlRequest is the payload for POST /api/v1/crawl and the input of a run.
type CrawlRequest struct {
	// StartDate is the first day of the inclusive window (YYYY-MM-DD). Required.
	StartDate string `json:"start_date" binding:"required"`

	// EndDate is the last day of the inclusive window (YYYY-MM-DD). Required.
	EndDate string `json:"end_date" binding:"required"`

	// MaxResults caps the number of returned articles. Unlimited when absent.
	MaxResults *int `json:"max_results,omitempty" binding:"omitempty,min=1"`

	WebhookURL    string `json:"webhook_url,omitempty" binding:"omitempty,url"`
	WebhookSecret string `json:"webhook_secret,omitempty"`
}

// Window is a validated CrawlRequest.
type Window struct {
	Start Date
	End   Date
	// Limit is the result cap; 0 means unlimited.
	Limit int
}

// Window validates the request dates. A malformed date yields a
// DATE_FORMAT_ERROR, an inverted range an INVALID_DATE_RANGE.
func (r CrawlRequest) Window() (Window, error) {
	start, err := ParseDate(r.StartDate)
	if err != nil {
		return Window{}, err
	}
	end, err := ParseDate(r.EndDate)
	if err != nil {
		return Window{}, err
	}
	if start.After(end) {
		return Window{}, NewCrawlError(ErrCodeInvalidDateRange,
			fmt.Sprintf("start date %s is after end date %s", start, end), nil)
	}
	w := Window{Start: start, End: end}
	if r.MaxResults != nil {
		if *r.MaxResults <= 0 {
			return Window{}, NewCrawlError(ErrCodeInvalidInput, "max_results must be a positive integer", nil)
		}
		w.Limit = *r.MaxResults
	}
	return w, nil
}

// Crawl job statuses.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusFailed     = "failed"
)

// CrawlResponse is the immediate response for POST /api/v1/crawl and
// DELETE /api/v1/crawl/:id.
type CrawlResponse struct {
	ID     string       `json:"id"`
	Status string       `json:"status"`
	Error  *ErrorDetail `json:"error,omitempty"`
}

// CrawlStatusResponse is the response for GET /api/v1/crawl/:id.
// Total counts the returned results; Tags lists every distinct tag
// collected so far, before any tag filter.
type CrawlStatusResponse struct {
	ID       string          `json:"id"`
	Status   string          `json:"status"`
	Progress int             `json:"progress"`
	Total    int             `json:"total"`
	Pages    int             `json:"pages"`
	Tags     []string        `json:"tags,omitempty"`
	Errors   []string        `json:"errors,omitempty"`
	Results  []ArticleRecord `json:"results,omitempty"`
	Error    *ErrorDetail    `json:"error,omitempty"`
}
