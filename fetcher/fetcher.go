// Package fetcher performs the HTTP GETs of one crawl run over a single
// cookie-carrying session with a fixed browser identity.
package fetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	"github.com/use-agent/listcrawl/config"
	"github.com/use-agent/listcrawl/models"
	"golang.org/x/net/html/charset"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

// ErrNoContent reports a page that does not exist: a 404/410 status, a
// body carrying the not-found marker, or a URL disallowed by robots.txt.
var ErrNoContent = errors.New("fetcher: no content")

// Document is a fetched page decoded to UTF-8.
type Document struct {
	URL        string
	StatusCode int
	Body       []byte
}

// Fetcher owns one HTTP session. It is safe for concurrent use but meant
// to serve a single crawl run and be closed afterwards.
type Fetcher struct {
	client  *http.Client
	cfg     config.FetchConfig
	limiter *rate.Limiter
	robots  *robotsPolicy
	marker  []byte
	log     *slog.Logger
}

// New creates a Fetcher with a fresh cookie jar. A nil logger discards output.
func New(cfg config.FetchConfig, log *slog.Logger) (*Fetcher, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("fetcher: cookie jar: %w", err)
	}

	transport, err := newTransport(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}

	f := &Fetcher{
		client: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   cfg.Timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		cfg: cfg,
		log: log.With("component", "fetcher"),
	}
	if cfg.RequestsPerSecond > 0 {
		f.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}
	if cfg.RespectRobots {
		f.robots = newRobotsPolicy(f.do, cfg.UserAgent, f.log)
	}
	if cfg.NotFoundMarker != "" {
		f.marker = []byte(cfg.NotFoundMarker)
	}
	return f, nil
}

// Get fetches a listing page. Failures are ErrNoContent (page absent) or a
// NETWORK_ERROR CrawlError (transport failure, timeout, error status).
func (f *Fetcher) Get(ctx context.Context, rawURL string) (*Document, error) {
	return f.get(ctx, rawURL, true)
}

// GetArticle fetches an article page. Unlike Get it does not scan the body
// for the not-found marker, since article text may legitimately quote it.
func (f *Fetcher) GetArticle(ctx context.Context, rawURL string) (*Document, error) {
	return f.get(ctx, rawURL, false)
}

func (f *Fetcher) get(ctx context.Context, rawURL string, checkMarker bool) (*Document, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeNetwork, "invalid URL "+rawURL, err)
	}

	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, models.NewCrawlError(models.ErrCodeNetwork, "rate limiter", err)
		}
	}

	if f.robots != nil && !f.robots.allowed(ctx, u) {
		return nil, fmt.Errorf("fetcher: %s disallowed by robots.txt: %w", rawURL, ErrNoContent)
	}

	resp, err := f.do(ctx, u.String())
	if err != nil {
		f.log.Debug("request failed", "url", rawURL, "error", err)
		return nil, models.NewCrawlError(models.ErrCodeNetwork, describe(err)+" "+rawURL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("fetcher: %s returned %d: %w", rawURL, resp.StatusCode, ErrNoContent)
	case resp.StatusCode >= 400:
		return nil, models.NewCrawlError(models.ErrCodeNetwork, fmt.Sprintf("HTTP %d for %s", resp.StatusCode, rawURL), nil)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBodyBytes))
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeNetwork, describe(err)+" reading "+rawURL, err)
	}
	body, err := toUTF8(raw, resp.Header.Get("Content-Type"))
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeNetwork, "decode body of "+rawURL, err)
	}

	if checkMarker && f.marker != nil && bytes.Contains(body, f.marker) {
		return nil, fmt.Errorf("fetcher: %s carries the not-found marker: %w", rawURL, ErrNoContent)
	}

	return &Document{
		URL:        resp.Request.URL.String(),
		StatusCode: resp.StatusCode,
		Body:       body,
	}, nil
}

// Close releases the session's idle connections.
func (f *Fetcher) Close() {
	f.client.CloseIdleConnections()
}

// do issues a GET with the session identity headers.
func (f *Fetcher) do(ctx context.Context, target string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", f.cfg.AcceptLanguage)
	return f.client.Do(req)
}

// describe names the failure class for log and notification messages.
func describe(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &netErr) && netErr.Timeout():
		return "timeout"
	default:
		return "request failed"
	}
}

// toUTF8 decodes body using the declared or sniffed charset. An uncertain
// windows-1252 guess is treated as UTF-8, which is what the sites we crawl serve.
func toUTF8(body []byte, contentType string) ([]byte, error) {
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	if name == "utf-8" || (!certain && name == "windows-1252") {
		return body, nil
	}
	return enc.NewDecoder().Bytes(body)
}
