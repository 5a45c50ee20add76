package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Crawl     CrawlConfig
	Fetch     FetchConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Cache     CacheConfig
	Webhook   WebhookConfig
	Log       LogConfig
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"

	// ShutdownTimeout bounds how long running crawls and pending webhooks
	// are waited for on exit.
	ShutdownTimeout time.Duration // default: 30s
}

// CrawlConfig controls the pagination loop of a crawl run.
type CrawlConfig struct {
	// BaseURL is the origin of the listing site. Article links are
	// resolved against it.
	BaseURL string // default: "https://habr.com"

	// ListingPath is a fmt template receiving the page number.
	ListingPath string // default: "/ru/all/page%d/"

	// MaxEmptyPage is the page number past which an empty page ends the crawl.
	MaxEmptyPage int // default: 50

	// PolitenessMin/Max bound the randomized pause between successful pages.
	PolitenessMin time.Duration // default: 1s
	PolitenessMax time.Duration // default: 3s

	// BackoffMin/Max bound the randomized pause after a failed page fetch.
	BackoffMin time.Duration // default: 5s
	BackoffMax time.Duration // default: 10s

	// MaxPageRetries caps retries of one failing page; 0 retries forever.
	MaxPageRetries int // default: 0
}

// FetchConfig controls the HTTP session used by one crawl run.
type FetchConfig struct {
	// Timeout is the per-request deadline.
	Timeout time.Duration // default: 15s

	UserAgent      string
	AcceptLanguage string // default: "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7"

	// TLSProfile is "chrome" (utls fingerprint) or "go" (crypto/tls).
	TLSProfile string // default: "chrome"

	// Proxy is an optional http(s) proxy URL for all requests.
	Proxy string

	// RequestsPerSecond limits the request rate of a session; 0 disables.
	RequestsPerSecond float64 // default: 0

	// RespectRobots makes disallowed URLs behave like missing pages.
	RespectRobots bool // default: false

	// NotFoundMarker in a response body marks the page as absent.
	NotFoundMarker string // default: "404 Not Found"

	// MaxBodyBytes caps how much of a response body is read.
	MaxBodyBytes int64 // default: 10 MiB
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 // default: 5

	// Burst is the maximum burst size per API key.
	Burst int // default: 10
}

// CacheConfig controls the article detail cache shared by all runs.
type CacheConfig struct {
	// MaxEntries is the maximum number of cached details; 0 disables the cache.
	MaxEntries int // default: 5000

	// TTL is how long a cached detail stays valid.
	TTL time.Duration // default: 1h
}

// WebhookConfig controls completion callbacks.
type WebhookConfig struct {
	// Timeout is the per-delivery deadline.
	Timeout time.Duration // default: 10s
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string // default: "info"
	Format string // "json" or "text"; default: "json"
}

// DefaultUserAgent is a desktop browser identity sent with every request.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("LISTCRAWL_HOST", "0.0.0.0"),
			Port: envIntOr("LISTCRAWL_PORT", 8080),
			Mode: envOr("LISTCRAWL_MODE", "release"),

			ShutdownTimeout: envDurationOr("LISTCRAWL_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Crawl: CrawlConfig{
			BaseURL:        envOr("LISTCRAWL_BASE_URL", "https://habr.com"),
			ListingPath:    envOr("LISTCRAWL_LISTING_PATH", "/ru/all/page%d/"),
			MaxEmptyPage:   envIntOr("LISTCRAWL_MAX_EMPTY_PAGE", 50),
			PolitenessMin:  envDurationOr("LISTCRAWL_POLITENESS_MIN", 1*time.Second),
			PolitenessMax:  envDurationOr("LISTCRAWL_POLITENESS_MAX", 3*time.Second),
			BackoffMin:     envDurationOr("LISTCRAWL_BACKOFF_MIN", 5*time.Second),
			BackoffMax:     envDurationOr("LISTCRAWL_BACKOFF_MAX", 10*time.Second),
			MaxPageRetries: envIntOr("LISTCRAWL_MAX_PAGE_RETRIES", 0),
		},
		Fetch: FetchConfig{
			Timeout:           envDurationOr("LISTCRAWL_FETCH_TIMEOUT", 15*time.Second),
			UserAgent:         envOr("LISTCRAWL_USER_AGENT", DefaultUserAgent),
			AcceptLanguage:    envOr("LISTCRAWL_ACCEPT_LANGUAGE", "ru-RU,ru;q=0.9,en-US;q=0.8,en;q=0.7"),
			TLSProfile:        envOr("LISTCRAWL_TLS_PROFILE", "chrome"),
			Proxy:             os.Getenv("LISTCRAWL_PROXY"),
			RequestsPerSecond: envFloatOr("LISTCRAWL_FETCH_RPS", 0),
			RespectRobots:     envBoolOr("LISTCRAWL_RESPECT_ROBOTS", false),
			NotFoundMarker:    envOr("LISTCRAWL_NOT_FOUND_MARKER", "404 Not Found"),
			MaxBodyBytes:      int64(envIntOr("LISTCRAWL_MAX_BODY_BYTES", 10<<20)),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("LISTCRAWL_AUTH_ENABLED", true),
			APIKeys: envSliceOr("LISTCRAWL_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("LISTCRAWL_RATE_RPS", 5.0),
			Burst:             envIntOr("LISTCRAWL_RATE_BURST", 10),
		},
		Cache: CacheConfig{
			MaxEntries: envIntOr("LISTCRAWL_CACHE_MAX_ENTRIES", 5000),
			TTL:        envDurationOr("LISTCRAWL_CACHE_TTL", time.Hour),
		},
		Webhook: WebhookConfig{
			Timeout: envDurationOr("LISTCRAWL_WEBHOOK_TIMEOUT", 10*time.Second),
		},
		Log: LogConfig{
			Level:  envOr("LISTCRAWL_LOG_LEVEL", "info"),
			Format: envOr("LISTCRAWL_LOG_FORMAT", "json"),
		},
	}
}

// Validate reports configuration values the crawler cannot work with.
func (c *Config) Validate() error {
	var errs []error
	if c.Crawl.BaseURL == "" {
		errs = append(errs, errors.New("crawl base URL is empty"))
	}
	if !strings.Contains(c.Crawl.ListingPath, "%d") {
		errs = append(errs, fmt.Errorf("listing path %q has no %%d page placeholder", c.Crawl.ListingPath))
	}
	if c.Crawl.PolitenessMin > c.Crawl.PolitenessMax {
		errs = append(errs, fmt.Errorf("politeness delay min %s exceeds max %s", c.Crawl.PolitenessMin, c.Crawl.PolitenessMax))
	}
	if c.Crawl.BackoffMin > c.Crawl.BackoffMax {
		errs = append(errs, fmt.Errorf("backoff delay min %s exceeds max %s", c.Crawl.BackoffMin, c.Crawl.BackoffMax))
	}
	switch c.Fetch.TLSProfile {
	case "chrome", "go":
	default:
		errs = append(errs, fmt.Errorf("unknown TLS profile %q", c.Fetch.TLSProfile))
	}
	if c.Fetch.Timeout <= 0 {
		errs = append(errs, errors.New("fetch timeout must be positive"))
	}
	if c.Fetch.Proxy != "" {
		u, err := url.Parse(c.Fetch.Proxy)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, fmt.Errorf("proxy %q must be an http or https URL", c.Fetch.Proxy))
		}
	}
	return errors.Join(errs...)
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
