package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/use-agent/listcrawl/cache"
	"github.com/use-agent/listcrawl/config"
	"github.com/use-agent/listcrawl/extractor"
	"github.com/use-agent/listcrawl/models"
)

// handleTTL is how long a finished crawl stays retrievable.
const handleTTL = time.Hour

// maxAdvisoryErrors bounds the advisory error messages kept per crawl.
const maxAdvisoryErrors = 100

// ErrRunning is returned by Handle.Result while the crawl is in progress.
var ErrRunning = errors.New("crawler: crawl still running")

// ErrClosed is returned by StartCrawl once the Manager is shutting down.
var ErrClosed = errors.New("crawler: manager closed")

// Manager starts crawls in the background and keeps their handles.
// It is safe for concurrent use.
type Manager struct {
	cfg     *config.Config
	ext     *extractor.Extractor
	details *cache.Cache
	log     *slog.Logger

	handles sync.Map // id -> *Handle
	active  atomic.Int64
	total   atomic.Int64

	mu      sync.Mutex
	closed  bool
	running sync.WaitGroup

	stop      chan struct{}
	closeOnce sync.Once
}

// NewManager creates a Manager crawling the site configured in cfg.
// details may be nil; a nil logger discards output.
func NewManager(cfg *config.Config, details *cache.Cache, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	ext, err := extractor.New(cfg.Crawl.BaseURL, extractor.DefaultSelectors())
	if err != nil {
		return nil, fmt.Errorf("crawler: %w", err)
	}
	m := &Manager{
		cfg:     cfg,
		ext:     ext,
		details: details,
		log:     log,
		stop:    make(chan struct{}),
	}
	go m.expireLoop()
	return m, nil
}

// StartCrawl validates the window and launches a crawl on its own goroutine.
// Any date problem, an inverted range, or a non-positive maxResults fails
// synchronously with an INVALID_DATE_RANGE error. Cancelling ctx cancels
// the crawl.
func (m *Manager) StartCrawl(ctx context.Context, start, end string, maxResults *int) (*Handle, error) {
	req := models.CrawlRequest{StartDate: start, EndDate: end, MaxResults: maxResults}
	if _, err := req.Window(); err != nil {
		if models.HasCode(err, models.ErrCodeInvalidDateRange) {
			return nil, err
		}
		return nil, models.NewCrawlError(models.ErrCodeInvalidDateRange, models.AsCrawlError(err).Message, err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, models.NewCrawlError(models.ErrCodeInternal, "service is shutting down", ErrClosed)
	}
	m.running.Add(1)
	m.mu.Unlock()

	h := newHandle("crawl-" + uuid.NewString())
	m.handles.Store(h.id, h)
	m.active.Add(1)
	m.total.Add(1)

	engine := NewEngine(m.cfg, m.ext, m.details, m.log.With("crawl_id", h.id))
	go func() {
		defer m.running.Done()
		defer m.active.Add(-1)
		out, err := engine.Run(ctx, req, h.observer(), h.flag)
		h.finish(out, err)
	}()
	return h, nil
}

// Get returns the handle of a known crawl.
func (m *Manager) Get(id string) (*Handle, bool) {
	v, ok := m.handles.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Handle), true
}

// Cancel requests cancellation of a known crawl.
func (m *Manager) Cancel(id string) (*Handle, bool) {
	h, ok := m.Get(id)
	if ok {
		h.Cancel()
	}
	return h, ok
}

// Active returns the number of crawls still running.
func (m *Manager) Active() int { return int(m.active.Load()) }

// Total returns the number of crawls started since the Manager was created.
func (m *Manager) Total() int { return int(m.total.Load()) }

// Close cancels every running crawl and waits for all of them to finish.
func (m *Manager) Close() {
	_ = m.Shutdown(context.Background())
}

// Shutdown stops accepting crawls, cancels the running ones and waits until
// each has closed its fetcher session, or until ctx is done. Handle expiry
// stops as well.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	m.closeOnce.Do(func() { close(m.stop) })

	m.handles.Range(func(_, v any) bool {
		v.(*Handle).Cancel()
		return true
	})

	done := make(chan struct{})
	go func() {
		m.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("crawler: shutdown: %w", ctx.Err())
	}
}

func (m *Manager) expireLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.expire(now)
		}
	}
}

// expire drops handles that finished more than handleTTL before now.
func (m *Manager) expire(now time.Time) {
	cutoff := now.Add(-handleTTL)
	m.handles.Range(func(key, value any) bool {
		if finished := value.(*Handle).finishedAt(); !finished.IsZero() && finished.Before(cutoff) {
			m.handles.Delete(key)
		}
		return true
	})
}

// Handle is the caller's view of one background crawl.
type Handle struct {
	id        string
	createdAt time.Time
	flag      *Flag
	progress  chan int
	done      chan struct{}

	mu       sync.Mutex
	percent  int
	records  []models.ArticleRecord
	errs     []string
	pages    int
	outcome  *models.CrawlOutcome
	err      error
	finished time.Time
}

func newHandle(id string) *Handle {
	return &Handle{
		id:        id,
		createdAt: time.Now(),
		flag:      NewFlag(),
		progress:  make(chan int, 1),
		done:      make(chan struct{}),
		records:   []models.ArticleRecord{},
	}
}

// ID returns the crawl identifier.
func (h *Handle) ID() string { return h.id }

// Cancel asks the crawl to stop. It is idempotent and a no-op once the
// crawl has finished.
func (h *Handle) Cancel() {
	select {
	case <-h.done:
		return
	default:
	}
	h.flag.Cancel()
}

// Progress delivers the latest progress percentage. Slow readers only miss
// intermediate values; the channel is closed after the terminal 100.
func (h *Handle) Progress() <-chan int { return h.progress }

// Done is closed when the crawl has finished.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Outcome blocks until the crawl has finished and returns its result.
func (h *Handle) Outcome() (*models.CrawlOutcome, error) {
	<-h.done
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.outcome, h.err
}

// Result is the non-blocking form of Outcome. It returns ErrRunning while
// the crawl is in progress.
func (h *Handle) Result() (*models.CrawlOutcome, error) {
	select {
	case <-h.done:
		return h.Outcome()
	default:
		return nil, ErrRunning
	}
}

// Snapshot is a point-in-time copy of a crawl's state.
type Snapshot struct {
	ID        string
	Status    string
	Progress  int
	Pages     int
	Records   []models.ArticleRecord
	Errors    []string
	Err       error
	CreatedAt time.Time
}

// Snapshot returns the crawl's current state. Records and errors are copies.
func (h *Handle) Snapshot() Snapshot {
	h.mu.Lock()
	defer h.mu.Unlock()

	s := Snapshot{
		ID:        h.id,
		Status:    models.StatusProcessing,
		Progress:  h.percent,
		Pages:     h.pages,
		Records:   append([]models.ArticleRecord{}, h.records...),
		Errors:    append([]string(nil), h.errs...),
		Err:       h.err,
		CreatedAt: h.createdAt,
	}
	switch {
	case h.finished.IsZero():
	case h.err != nil:
		s.Status = models.StatusFailed
	case h.outcome.Cancelled:
		s.Status = models.StatusCancelled
	default:
		s.Status = models.StatusCompleted
	}
	return s
}

func (h *Handle) observer() Observer {
	return ObserverFuncs{
		Progress:  h.publish,
		PageError: h.addError,
		Batch: func(page int, records []models.ArticleRecord) {
			h.mu.Lock()
			h.records = append(h.records, records...)
			h.pages = page
			h.mu.Unlock()
		},
	}
}

// publish records p and offers it on the progress channel, replacing an
// unread older value. Only the crawl goroutine calls it.
func (h *Handle) publish(p int) {
	h.mu.Lock()
	h.percent = p
	h.mu.Unlock()

	for {
		select {
		case h.progress <- p:
			return
		default:
		}
		select {
		case <-h.progress:
		default:
		}
	}
}

func (h *Handle) addError(page int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.errs) >= maxAdvisoryErrors {
		h.errs = h.errs[1:]
	}
	h.errs = append(h.errs, fmt.Sprintf("page %d: %v", page, err))
}

func (h *Handle) finish(out *models.CrawlOutcome, err error) {
	h.mu.Lock()
	h.outcome = out
	h.err = err
	h.finished = time.Now()
	if out != nil {
		h.records = append([]models.ArticleRecord{}, out.Records...)
		h.pages = out.PagesVisited
	}
	h.mu.Unlock()

	close(h.progress)
	close(h.done)
}

func (h *Handle) finishedAt() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.finished
}
