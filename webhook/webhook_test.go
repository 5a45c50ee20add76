package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/listcrawl/config"
)

func TestDeliver_SignsBody(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		assert.Equal(t, Sign("s3cret", body), r.Header.Get(SignatureHeader))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.Unmarshal(body, &got))
	}))
	defer srv.Close()

	n := New(config.WebhookConfig{Timeout: time.Second}, nil)
	err := n.Deliver(context.Background(), srv.URL, "s3cret", &Event{
		Type:      EventCrawlCompleted,
		JobID:     "crawl-1",
		Timestamp: 1700000000,
		Data:      map[string]int{"total": 3},
	})
	require.NoError(t, err)
	assert.Equal(t, EventCrawlCompleted, got.Type)
	assert.Equal(t, "crawl-1", got.JobID)
}

func TestDeliver_NoSecretNoSignature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get(SignatureHeader))
	}))
	defer srv.Close()

	n := New(config.WebhookConfig{}, nil)
	require.NoError(t, n.Deliver(context.Background(), srv.URL, "", &Event{Type: EventCrawlFailed}))
}

func TestDeliver_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := New(config.WebhookConfig{}, nil)
	err := n.Deliver(context.Background(), srv.URL, "", &Event{})
	assert.ErrorContains(t, err, "status 502")
}

func TestDeliverAsync_Retries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	n := New(config.WebhookConfig{Timeout: time.Second}, nil)
	n.delays = []time.Duration{0, time.Millisecond, time.Millisecond, time.Millisecond}

	n.DeliverAsync(srv.URL, "k", &Event{Type: EventCrawlCancelled, JobID: "crawl-2"})
	require.NoError(t, n.Wait(context.Background()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestDeliverWhenDone(t *testing.T) {
	events := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		events <- ev
	}))
	defer srv.Close()

	n := New(config.WebhookConfig{Timeout: time.Second}, nil)
	done := make(chan struct{})
	status := "processing"
	n.DeliverWhenDone(done, srv.URL, "", func() *Event {
		return &Event{Type: EventCrawlCompleted, JobID: "crawl-3", Data: status}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, n.Wait(ctx), context.DeadlineExceeded, "pending until done is closed")
	assert.Empty(t, events)

	status = "completed"
	close(done)
	require.NoError(t, n.Wait(context.Background()))
	ev := <-events
	assert.Equal(t, "crawl-3", ev.JobID)
	assert.Equal(t, "completed", ev.Data)
}

func TestSign(t *testing.T) {
	// echo -n 'hello' | openssl dgst -sha256 -hmac key
	assert.Equal(t, "sha256=9307b3b915efb5171ff14d8cb55fbcc798c6c0ef1456d66ded1a6aa723a58b7b", Sign("key", []byte("hello")))
}
