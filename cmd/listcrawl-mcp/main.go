package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// apiError mirrors the listcrawl API error detail.
type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// crawlRequest mirrors the listcrawl API request model.
type crawlRequest struct {
	StartDate  string `json:"start_date"`
	EndDate    string `json:"end_date"`
	MaxResults *int   `json:"max_results,omitempty"`
}

// crawlResponse mirrors the listcrawl crawl API response.
type crawlResponse struct {
	ID     string    `json:"id"`
	Status string    `json:"status"`
	Error  *apiError `json:"error"`
}

// article mirrors one crawl result.
type article struct {
	PublishedDate string   `json:"published_date"`
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	Author        string   `json:"author"`
	Rating        string   `json:"rating"`
	CommentCount  string   `json:"comment_count"`
	Tags          []string `json:"tags"`
	Description   string   `json:"description"`
}

// crawlStatusResponse mirrors the listcrawl crawl status API response.
type crawlStatusResponse struct {
	ID       string    `json:"id"`
	Status   string    `json:"status"`
	Progress int       `json:"progress"`
	Total    int       `json:"total"`
	Pages    int       `json:"pages"`
	Tags     []string  `json:"tags"`
	Errors   []string  `json:"errors"`
	Results  []article `json:"results"`
	Error    *apiError `json:"error"`
}

func main() {
	apiURL := os.Getenv("LISTCRAWL_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}
	apiKey := os.Getenv("LISTCRAWL_API_KEY")
	if apiKey == "" {
		fmt.Fprintln(os.Stderr, "LISTCRAWL_API_KEY is required")
		os.Exit(1)
	}

	s := server.NewMCPServer(
		"listcrawl",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	windowParams := []mcp.ToolOption{
		mcp.WithString("start_date",
			mcp.Required(),
			mcp.Description("First publication day to include, YYYY-MM-DD"),
		),
		mcp.WithString("end_date",
			mcp.Required(),
			mcp.Description("Last publication day to include, YYYY-MM-DD"),
		),
		mcp.WithNumber("max_results",
			mcp.Description("Maximum number of articles to collect (default: unlimited)"),
		),
	}

	viewParams := []mcp.ToolOption{
		mcp.WithString("tag",
			mcp.Description("Only return articles carrying these comma-separated tags"),
		),
		mcp.WithString("sort",
			mcp.Description("Result order"),
			mcp.Enum("date_desc", "date_asc", "rating", "comments"),
		),
	}

	startCrawlTool := mcp.NewTool("start_crawl", append([]mcp.ToolOption{
		mcp.WithDescription("Start a background crawl of the article listing for a date window. Returns a crawl ID to use with crawl_status and cancel_crawl."),
	}, windowParams...)...)
	s.AddTool(startCrawlTool, handleStartCrawl(apiURL, apiKey))

	crawlStatusTool := mcp.NewTool("crawl_status", append([]mcp.ToolOption{
		mcp.WithDescription("Report progress of a crawl and the articles collected so far."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Crawl ID returned by start_crawl"),
		),
	}, viewParams...)...)
	s.AddTool(crawlStatusTool, handleCrawlStatus(apiURL, apiKey))

	cancelCrawlTool := mcp.NewTool("cancel_crawl",
		mcp.WithDescription("Stop a running crawl. Articles already collected are kept."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Crawl ID returned by start_crawl"),
		),
	)
	s.AddTool(cancelCrawlTool, handleCancelCrawl(apiURL, apiKey))

	crawlArticlesTool := mcp.NewTool("crawl_articles", append(append([]mcp.ToolOption{
		mcp.WithDescription("Crawl the article listing for a date window and wait for the result. Returns date, title, link, author, rating, comments, tags and a short description for every article found."),
	}, windowParams...), viewParams...)...)
	s.AddTool(crawlArticlesTool, handleCrawlArticles(apiURL, apiKey))

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// apiDo sends a request to the listcrawl API and returns the response body.
func apiDo(ctx context.Context, client *http.Client, method, apiURL, apiKey, path string, payload any) ([]byte, error) {
	var reader io.Reader
	if payload != nil {
		body, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, apiURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("X-API-Key", apiKey)

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	return io.ReadAll(resp.Body)
}

// pollJobCompletion polls a job endpoint until status is no longer "processing" or context is cancelled.
func pollJobCompletion(ctx context.Context, client *http.Client, apiURL, apiKey, endpoint string) ([]byte, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			body, err := apiDo(ctx, client, http.MethodGet, apiURL, apiKey, endpoint, nil)
			if err != nil {
				return nil, fmt.Errorf("poll request failed: %w", err)
			}

			var status struct {
				Status string `json:"status"`
			}
			if err := json.Unmarshal(body, &status); err != nil {
				return nil, fmt.Errorf("parse poll status: %w", err)
			}

			if status.Status != "processing" {
				return body, nil
			}
		}
	}
}

// awaitCrawl polls a crawl until it finishes. When ctx ends first the crawl
// is cancelled on the server.
func awaitCrawl(ctx context.Context, client *http.Client, apiURL, apiKey, id, query string) ([]byte, error) {
	body, err := pollJobCompletion(ctx, client, apiURL, apiKey, "/api/v1/crawl/"+id+query)
	if err != nil && ctx.Err() != nil {
		cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if _, derr := apiDo(cancelCtx, client, http.MethodDelete, apiURL, apiKey, "/api/v1/crawl/"+id, nil); derr != nil {
			return nil, fmt.Errorf("%w (cancel %s: %v)", err, id, derr)
		}
	}
	return body, err
}

// viewQuery builds the tag and sort query string of a status request.
func viewQuery(request mcp.CallToolRequest) string {
	q := url.Values{}
	if tag := request.GetString("tag", ""); tag != "" {
		q.Set("tag", tag)
	}
	if sort := request.GetString("sort", ""); sort != "" {
		q.Set("sort", sort)
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// windowFrom reads the date window arguments shared by start_crawl and crawl_articles.
func windowFrom(request mcp.CallToolRequest) (crawlRequest, error) {
	start, err := request.RequireString("start_date")
	if err != nil {
		return crawlRequest{}, fmt.Errorf("start_date is required")
	}
	end, err := request.RequireString("end_date")
	if err != nil {
		return crawlRequest{}, fmt.Errorf("end_date is required")
	}
	req := crawlRequest{StartDate: start, EndDate: end}
	if n := request.GetInt("max_results", 0); n != 0 {
		req.MaxResults = &n
	}
	return req, nil
}

// startCrawl creates a crawl job and returns its ID.
func startCrawl(ctx context.Context, client *http.Client, apiURL, apiKey string, req crawlRequest) (string, error) {
	respBody, err := apiDo(ctx, client, http.MethodPost, apiURL, apiKey, "/api/v1/crawl", req)
	if err != nil {
		return "", err
	}

	var resp crawlResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse crawl response: %w", err)
	}
	if resp.Error != nil {
		return "", fmt.Errorf("[%s] %s", resp.Error.Code, resp.Error.Message)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("crawl job creation failed")
	}
	return resp.ID, nil
}

func handleStartCrawl(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		req, err := windowFrom(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		id, err := startCrawl(ctx, client, apiURL, apiKey, req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Crawl started: %s\nUse crawl_status with this ID to follow it.", id)), nil
	}
}

func handleCrawlStatus(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError("id is required"), nil
		}

		body, err := apiDo(ctx, client, http.MethodGet, apiURL, apiKey, "/api/v1/crawl/"+id+viewQuery(request), nil)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		var status crawlStatusResponse
		if err := json.Unmarshal(body, &status); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse crawl status: %v", err)), nil
		}
		if status.ID == "" && status.Error != nil {
			return mcp.NewToolResultError(fmt.Sprintf("[%s] %s", status.Error.Code, status.Error.Message)), nil
		}
		return mcp.NewToolResultText(formatStatus(status)), nil
	}
}

func handleCancelCrawl(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 30 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		id, err := request.RequireString("id")
		if err != nil {
			return mcp.NewToolResultError("id is required"), nil
		}

		body, err := apiDo(ctx, client, http.MethodDelete, apiURL, apiKey, "/api/v1/crawl/"+id, nil)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		var resp crawlResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse cancel response: %v", err)), nil
		}
		if resp.ID == "" {
			return mcp.NewToolResultError("crawl job not found"), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Cancellation requested for %s (status: %s)", resp.ID, resp.Status)), nil
	}
}

func handleCrawlArticles(apiURL, apiKey string) server.ToolHandlerFunc {
	client := &http.Client{Timeout: 60 * time.Second}

	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		req, err := windowFrom(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		id, err := startCrawl(ctx, client, apiURL, apiKey, req)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		resultBody, err := awaitCrawl(ctx, client, apiURL, apiKey, id, viewQuery(request))
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("polling crawl job failed: %v", err)), nil
		}

		var status crawlStatusResponse
		if err := json.Unmarshal(resultBody, &status); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to parse crawl status: %v", err)), nil
		}
		if status.Status == "failed" {
			msg := "crawl failed"
			if status.Error != nil {
				msg = fmt.Sprintf("[%s] %s", status.Error.Code, status.Error.Message)
			}
			return mcp.NewToolResultError(msg), nil
		}
		return mcp.NewToolResultText(formatStatus(status)), nil
	}
}

// formatStatus renders a crawl status as readable text.
func formatStatus(s crawlStatusResponse) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Crawl %s: %s (%d%%, %d articles, %d pages)\n", s.ID, s.Status, s.Progress, s.Total, s.Pages)
	if len(s.Tags) > 0 {
		fmt.Fprintf(&sb, "Tags seen: %s\n", strings.Join(s.Tags, ", "))
	}
	if len(s.Errors) > 0 {
		fmt.Fprintf(&sb, "Warnings: %d (latest: %s)\n", len(s.Errors), s.Errors[len(s.Errors)-1])
	}
	for i, a := range s.Results {
		fmt.Fprintf(&sb, "\n## %d. %s\n", i+1, a.Title)
		fmt.Fprintf(&sb, "Date: %s | Author: %s | Rating: %s | Comments: %s\n", a.PublishedDate, a.Author, a.Rating, a.CommentCount)
		fmt.Fprintf(&sb, "URL: %s\n", a.URL)
		if len(a.Tags) > 0 {
			fmt.Fprintf(&sb, "Tags: %s\n", strings.Join(a.Tags, ", "))
		}
		sb.WriteString(a.Description)
		sb.WriteString("\n")
	}
	return sb.String()
}
