package webhook

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/use-agent/listcrawl/config"
)

// Event types.
const (
	EventCrawlCompleted = "crawl.completed"
	EventCrawlCancelled = "crawl.cancelled"
	EventCrawlFailed    = "crawl.failed"
)

// SignatureHeader carries the HMAC-SHA256 of the request body.
const SignatureHeader = "X-Listcrawl-Signature"

// Event is the payload sent to webhook endpoints.
type Event struct {
	Type      string `json:"type"`
	JobID     string `json:"job_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data"`
}

// Notifier delivers events to caller-supplied URLs.
type Notifier struct {
	client  *http.Client
	timeout time.Duration
	delays  []time.Duration
	log     *slog.Logger
	wg      sync.WaitGroup
}

// New creates a Notifier. A nil logger discards output.
func New(cfg config.WebhookConfig, log *slog.Logger) *Notifier {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		delays:  []time.Duration{0, 1 * time.Second, 5 * time.Second, 30 * time.Second},
		log:     log.With("component", "webhook"),
	}
}

// Sign returns the signature header value for body.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return "sha256=" + hex.EncodeToString(mac.Sum(nil))
}

// Deliver sends a webhook event synchronously.
// The request body is signed with HMAC-SHA256 if secret is non-empty.
// Header: X-Listcrawl-Signature: sha256=<hex>
func (n *Notifier) Deliver(ctx context.Context, url, secret string, event *Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "Listcrawl-Webhook/1.0")
	if secret != "" {
		req.Header.Set(SignatureHeader, Sign(secret, body))
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: deliver: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook: endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

// DeliverAsync sends a webhook event in the background with up to 3 retries.
// Retry intervals: 1s, 5s, 30s.
func (n *Notifier) DeliverAsync(url, secret string, event *Event) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		n.deliverWithRetry(url, secret, event)
	}()
}

// DeliverWhenDone waits for done, then delivers the event built by build
// like DeliverAsync. The delivery counts as pending for Wait from the moment
// of the call.
func (n *Notifier) DeliverWhenDone(done <-chan struct{}, url, secret string, build func() *Event) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		<-done
		n.deliverWithRetry(url, secret, build())
	}()
}

func (n *Notifier) deliverWithRetry(url, secret string, event *Event) {
	log := n.log.With("url", url, "event", event.Type, "job_id", event.JobID)
	for attempt, delay := range n.delays {
		if delay > 0 {
			time.Sleep(delay)
		}
		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		err := n.Deliver(ctx, url, secret, event)
		cancel()
		if err == nil {
			log.Info("webhook delivered", "attempt", attempt+1)
			return
		}
		log.Warn("webhook delivery failed", "attempt", attempt+1, "error", err)
	}
	log.Error("webhook delivery exhausted all retries")
}

// Wait blocks until every pending delivery has finished or ctx is done.
func (n *Notifier) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		n.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("webhook: wait: %w", ctx.Err())
	}
}
