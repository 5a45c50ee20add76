package api_test

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/listcrawl/api"
	"github.com/use-agent/listcrawl/config"
	"github.com/use-agent/listcrawl/crawler"
	"github.com/use-agent/listcrawl/models"
	"github.com/use-agent/listcrawl/webhook"
)

const testKey = "test-key"

// newListingSite serves two in-window articles on page 1 and an old one on
// page 2. Listing requests block until gate is closed.
func newListingSite(t *testing.T, gate <-chan struct{}) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /all/page/{n}/", func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
		var items []string
		switch r.PathValue("n") {
		case "1":
			items = []string{article(1, "2024-03-20"), article(2, "2024-03-19")}
		case "2":
			items = []string{article(3, "2024-01-01")}
		default:
			http.NotFound(w, r)
			return
		}
		fmt.Fprintf(w, "<html><body>%s</body></html>", strings.Join(items, ""))
	})
	mux.HandleFunc("GET /articles/{id}/", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<div class="tm-article-presenter__meta-list"><a class="tm-tags-list__link">go</a><a class="tm-tags-list__link">post-%[1]s</a></div>
<div class="tm-article-body"><p>Text %[1]s.</p></div>`, r.PathValue("id"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func article(id int, date string) string {
	return fmt.Sprintf(`<article class="tm-articles-list__item"><time datetime="%sT09:00:00.000Z"></time><h2><a href="/articles/%d/">Post %d</a></h2></article>`, date, id, id)
}

func newTestRouter(t *testing.T, siteURL string, mutate func(*config.Config)) *gin.Engine {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{Mode: gin.TestMode},
		Crawl: config.CrawlConfig{
			BaseURL:      siteURL,
			ListingPath:  "/all/page/%d/",
			MaxEmptyPage: 5,
		},
		Fetch: config.FetchConfig{
			Timeout:    5 * time.Second,
			UserAgent:  "listcrawl-test/1.0",
			TLSProfile: "go",
		},
		Auth:      config.AuthConfig{Enabled: true, APIKeys: []string{testKey}},
		RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, Burst: 1000},
	}
	if mutate != nil {
		mutate(cfg)
	}

	m, err := crawler.NewManager(cfg, nil, nil)
	require.NoError(t, err)
	t.Cleanup(m.Close)
	return api.NewRouter(m, webhook.New(cfg.Webhook, nil), cfg, time.Now())
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-Key", testKey)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func startCrawl(t *testing.T, r http.Handler, body string) string {
	t.Helper()

	w := do(r, http.MethodPost, "/api/v1/crawl", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp models.CrawlResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, models.StatusProcessing, resp.Status)
	return resp.ID
}

func waitStatus(t *testing.T, r http.Handler, id string) models.CrawlStatusResponse {
	t.Helper()

	var resp models.CrawlStatusResponse
	require.Eventually(t, func() bool {
		w := do(r, http.MethodGet, "/api/v1/crawl/"+id, "")
		if w.Code != http.StatusOK {
			return false
		}
		resp = models.CrawlStatusResponse{}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			return false
		}
		return resp.Status != models.StatusProcessing
	}, 5*time.Second, 20*time.Millisecond)
	return resp
}

func openGate() chan struct{} {
	gate := make(chan struct{})
	close(gate)
	return gate
}

func TestHealth_NoAuth(t *testing.T) {
	r := newTestRouter(t, newListingSite(t, openGate()).URL, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var resp models.HealthResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, 0, resp.TotalCrawls)
}

func TestAuth(t *testing.T) {
	r := newTestRouter(t, newListingSite(t, openGate()).URL, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/crawl/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), models.ErrCodeUnauthorized)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/crawl/x", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/crawl/x", nil)
	req.Header.Set("Authorization", "Bearer "+testKey)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRateLimit(t *testing.T) {
	r := newTestRouter(t, newListingSite(t, openGate()).URL, func(c *config.Config) {
		c.RateLimit = config.RateLimitConfig{RequestsPerSecond: 0.01, Burst: 1}
	})

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/v1/crawl/x", "").Code)
	w := do(r, http.MethodGet, "/api/v1/crawl/x", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Contains(t, w.Body.String(), models.ErrCodeRateLimited)
}

func TestPostCrawl_Validation(t *testing.T) {
	r := newTestRouter(t, newListingSite(t, openGate()).URL, nil)

	cases := []struct {
		name string
		body string
		code string
	}{
		{"missing end", `{"start_date":"2024-03-01"}`, models.ErrCodeInvalidInput},
		{"zero cap", `{"start_date":"2024-03-01","end_date":"2024-03-31","max_results":0}`, ""},
		{"malformed", `{"start_date":"2024-13-40","end_date":"2024-03-31"}`, models.ErrCodeInvalidDateRange},
		{"inverted", `{"start_date":"2024-04-01","end_date":"2024-03-01"}`, models.ErrCodeInvalidDateRange},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := do(r, http.MethodPost, "/api/v1/crawl", tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			var resp models.CrawlResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			require.NotNil(t, resp.Error)
			if tc.code != "" {
				assert.Equal(t, tc.code, resp.Error.Code)
			}
		})
	}
}

func TestCrawl_EndToEnd(t *testing.T) {
	r := newTestRouter(t, newListingSite(t, openGate()).URL, nil)

	id := startCrawl(t, r, `{"start_date":"2024-03-01","end_date":"2024-03-31"}`)
	status := waitStatus(t, r, id)

	assert.Equal(t, models.StatusCompleted, status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.Equal(t, 2, status.Total)
	require.Len(t, status.Results, 2)
	assert.Equal(t, "Post 1", status.Results[0].Title)
	assert.Equal(t, []string{"go", "post-1"}, status.Results[0].Tags)
	assert.Equal(t, []string{"go", "post-1", "post-2"}, status.Tags)
	assert.Equal(t, models.NoAuthor, status.Results[0].Author)

	w := do(r, http.MethodGet, "/api/v1/crawl/"+id+"/export", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")

	cr := csv.NewReader(bytes.NewReader(w.Body.Bytes()))
	cr.Comma = ';'
	rows, err := cr.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Date", rows[0][0])
	assert.Equal(t, "20.03.2024", rows[1][0])
	assert.Equal(t, "go, post-1", rows[1][6])
	assert.Equal(t, "Text 1.", rows[1][7])
}

func TestCrawl_TagFilterAndSort(t *testing.T) {
	r := newTestRouter(t, newListingSite(t, openGate()).URL, nil)

	id := startCrawl(t, r, `{"start_date":"2024-03-01","end_date":"2024-03-31"}`)
	waitStatus(t, r, id)

	w := do(r, http.MethodGet, "/api/v1/crawl/"+id+"?tag=POST-2", "")
	require.Equal(t, http.StatusOK, w.Code)
	var status models.CrawlStatusResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	assert.Equal(t, 1, status.Total)
	require.Len(t, status.Results, 1)
	assert.Equal(t, "Post 2", status.Results[0].Title)
	assert.Equal(t, []string{"go", "post-1", "post-2"}, status.Tags, "vocabulary ignores the filter")

	w = do(r, http.MethodGet, "/api/v1/crawl/"+id+"?sort=date_asc", "")
	require.Equal(t, http.StatusOK, w.Code)
	status = models.CrawlStatusResponse{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &status))
	require.Len(t, status.Results, 2)
	assert.Equal(t, "Post 2", status.Results[0].Title)
	assert.Equal(t, "Post 1", status.Results[1].Title)

	w = do(r, http.MethodGet, "/api/v1/crawl/"+id+"/export?tag=go&sort=date_asc", "")
	require.Equal(t, http.StatusOK, w.Code)
	cr := csv.NewReader(bytes.NewReader(w.Body.Bytes()))
	cr.Comma = ';'
	rows, err := cr.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "19.03.2024", rows[1][0])
	assert.Equal(t, "20.03.2024", rows[2][0])

	for _, path := range []string{"/api/v1/crawl/" + id + "?sort=title", "/api/v1/crawl/" + id + "/export?sort=title"} {
		w = do(r, http.MethodGet, path, "")
		assert.Equal(t, http.StatusBadRequest, w.Code, path)
		assert.Contains(t, w.Body.String(), models.ErrCodeInvalidInput)
	}
}

func TestCrawl_CancelAndConflict(t *testing.T) {
	gate := make(chan struct{})
	r := newTestRouter(t, newListingSite(t, gate).URL, nil)

	id := startCrawl(t, r, `{"start_date":"2024-03-01","end_date":"2024-03-31","max_results":1}`)

	w := do(r, http.MethodGet, "/api/v1/crawl/"+id+"/export", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(r, http.MethodDelete, "/api/v1/crawl/"+id, "")
	assert.Equal(t, http.StatusOK, w.Code)

	status := waitStatus(t, r, id)
	assert.Equal(t, models.StatusCancelled, status.Status)
	assert.Equal(t, 100, status.Progress)
	assert.Empty(t, status.Results)

	w = do(r, http.MethodDelete, "/api/v1/crawl/"+id, "")
	assert.Equal(t, http.StatusOK, w.Code, "cancel is idempotent")

	w = do(r, http.MethodGet, "/api/v1/crawl/"+id+"/export", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Date;Title;URL;Author;Rating;Comments;Tags;Description\n", w.Body.String())
	close(gate)
}

func TestCrawl_UnknownID(t *testing.T) {
	r := newTestRouter(t, newListingSite(t, openGate()).URL, nil)

	for _, method := range []string{http.MethodGet, http.MethodDelete} {
		w := do(r, method, "/api/v1/crawl/crawl-none", "")
		assert.Equal(t, http.StatusNotFound, w.Code)
		assert.Contains(t, w.Body.String(), models.ErrCodeNotFound)
	}
}

func TestCrawl_Webhook(t *testing.T) {
	events := make(chan webhook.Event, 1)
	hook := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev webhook.Event
		if err := json.NewDecoder(r.Body).Decode(&ev); err == nil {
			events <- ev
		}
	}))
	defer hook.Close()

	r := newTestRouter(t, newListingSite(t, openGate()).URL, nil)
	id := startCrawl(t, r, fmt.Sprintf(`{"start_date":"2024-03-01","end_date":"2024-03-31","webhook_url":%q,"webhook_secret":"s"}`, hook.URL))

	select {
	case ev := <-events:
		assert.Equal(t, webhook.EventCrawlCompleted, ev.Type)
		assert.Equal(t, id, ev.JobID)
	case <-time.After(5 * time.Second):
		t.Fatal("webhook not delivered")
	}
}
