package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/listcrawl/config"
	"github.com/use-agent/listcrawl/models"
	"golang.org/x/time/rate"
)

// limiterIdle is how long an identity's bucket survives without requests.
const limiterIdle = time.Hour

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// buckets holds one token bucket per caller identity.
type buckets struct {
	mu      sync.Mutex
	cfg     config.RateLimitConfig
	entries map[string]*limiterEntry
}

func (b *buckets) get(identity string, now time.Time) *rate.Limiter {
	b.mu.Lock()
	defer b.mu.Unlock()
	entry, ok := b.entries[identity]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(b.cfg.RequestsPerSecond), b.cfg.Burst),
		}
		b.entries[identity] = entry
	}
	entry.lastSeen = now
	return entry.limiter
}

func (b *buckets) evictIdle(now time.Time) {
	cutoff := now.Add(-limiterIdle)
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, entry := range b.entries {
		if entry.lastSeen.Before(cutoff) {
			delete(b.entries, id)
		}
	}
}

// RateLimit returns per-identity (API key or IP) token-bucket rate limiting
// middleware powered by golang.org/x/time/rate. Rejected requests get a
// Retry-After header.
//
// Buckets unused for an hour are evicted every 5 minutes.
func RateLimit(cfg config.RateLimitConfig) gin.HandlerFunc {
	b := &buckets{cfg: cfg, entries: make(map[string]*limiterEntry)}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for now := range ticker.C {
			b.evictIdle(now)
		}
	}()

	return func(c *gin.Context) {
		// Prefer the identity set by Auth; fall back to IP.
		identity := c.GetString(IdentityKey)
		if identity == "" {
			identity = "ip:" + c.ClientIP()
		}

		now := time.Now()
		res := b.get(identity, now).ReserveN(now, 1)
		if !res.OK() {
			abort(c, http.StatusTooManyRequests, models.ErrCodeRateLimited, "rate limit exceeded, please slow down")
			return
		}
		if delay := res.DelayFrom(now); delay > 0 {
			res.CancelAt(now)
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			abort(c, http.StatusTooManyRequests, models.ErrCodeRateLimited, "rate limit exceeded, please slow down")
			return
		}

		c.Next()
	}
}
