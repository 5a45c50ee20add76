// Package crawler walks a paginated article listing inside a date window
// and builds one record per qualifying article.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/cenkalti/backoff/v5"
	"github.com/use-agent/listcrawl/cache"
	"github.com/use-agent/listcrawl/config"
	"github.com/use-agent/listcrawl/extractor"
	"github.com/use-agent/listcrawl/fetcher"
	"github.com/use-agent/listcrawl/models"
)

// Engine runs crawls against one listing site. An Engine holds no per-run
// state; every Run opens its own fetcher session.
type Engine struct {
	crawl   config.CrawlConfig
	fetch   config.FetchConfig
	ext     *extractor.Extractor
	details *cache.Cache
	log     *slog.Logger
}

// NewEngine creates an Engine. details may be nil to disable the detail
// cache, and a nil logger discards output.
func NewEngine(cfg *config.Config, ext *extractor.Extractor, details *cache.Cache, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Engine{
		crawl:   cfg.Crawl,
		fetch:   cfg.Fetch,
		ext:     ext,
		details: details,
		log:     log.With("component", "crawler"),
	}
}

// pageResult classifies one listing page fetch.
type pageResult int

const (
	pageOK pageResult = iota
	pageEmpty
	pageFailed
	pageAborted
)

// run is the state of a single Run call. It is owned by the calling goroutine.
type run struct {
	e        *Engine
	ctx      context.Context
	win      models.Window
	obs      Observer
	flag     *Flag
	f        *fetcher.Fetcher
	log      *slog.Logger
	out      *models.CrawlOutcome
	seen     map[string]struct{}
	progress int

	retryDelay  *backoff.ExponentialBackOff
	politeDelay *backoff.ExponentialBackOff
}

// Run crawls the listing for req's window and returns every qualifying
// record found, in page-then-document order.
//
// Only invalid dates fail a run; they are reported before any request is
// made and without progress events. Every other failure is passed to
// obs.OnPageError and the run continues. After validation a terminal
// progress of 100 is always emitted. Cancelling ctx is equivalent to
// setting flag; a cancelled run returns the records built so far.
func (e *Engine) Run(ctx context.Context, req models.CrawlRequest, obs Observer, flag *Flag) (*models.CrawlOutcome, error) {
	win, err := req.Window()
	if err != nil {
		return nil, err
	}
	if obs == nil {
		obs = ObserverFuncs{}
	}
	if flag == nil {
		flag = NewFlag()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopFlagging := context.AfterFunc(ctx, flag.Cancel)
	defer stopFlagging()
	go func() {
		select {
		case <-flag.Done():
			cancel()
		case <-runCtx.Done():
		}
	}()

	log := e.log.With("start", win.Start, "end", win.End, "limit", win.Limit)

	f, err := fetcher.New(e.fetch, e.log)
	if err != nil {
		obs.OnProgress(100)
		return nil, models.NewCrawlError(models.ErrCodeInternal, "create fetcher", err)
	}
	defer f.Close()

	r := &run{
		e:    e,
		ctx:  runCtx,
		win:  win,
		obs:  obs,
		flag: flag,
		f:    f,
		log:  log,
		out:  &models.CrawlOutcome{Records: []models.ArticleRecord{}},
		seen: make(map[string]struct{}),

		retryDelay:  newDelay(e.crawl.BackoffMin, e.crawl.BackoffMax),
		politeDelay: newDelay(e.crawl.PolitenessMin, e.crawl.PolitenessMax),
	}

	start := time.Now()
	log.Info("crawl started")
	r.loop()
	obs.OnProgress(100)

	log.Info("crawl finished",
		"records", len(r.out.Records),
		"pages", r.out.PagesVisited,
		"page_errors", r.out.PageErrors,
		"cancelled", r.out.Cancelled,
		"capped", r.out.Capped,
		"exhausted", r.out.Exhausted,
		"elapsed", time.Since(start).String(),
	)
	return r.out, nil
}

func (r *run) loop() {
	cfg := r.e.crawl
	page, attempts := 1, 0

	for {
		if r.cancelled() {
			r.out.Cancelled = true
			return
		}
		if r.full() {
			r.out.Capped = true
			return
		}

		r.out.PagesVisited = page
		if attempts == 0 {
			r.retryDelay.Reset()
		}
		res, batch, minDate, err := r.crawlPage(page)

		switch res {
		case pageAborted:
			r.out.Cancelled = true
			return

		case pageFailed:
			attempts++
			r.out.PageErrors++
			r.log.Warn("listing page failed", "page", page, "attempt", attempts, "error", err)
			r.obs.OnPageError(page, err)
			if cfg.MaxPageRetries > 0 && attempts > cfg.MaxPageRetries {
				r.log.Warn("giving up on listing page", "page", page)
				if page > cfg.MaxEmptyPage {
					r.out.Exhausted = true
					return
				}
				page, attempts = page+1, 0
				continue
			}
			if !r.pause(r.retryDelay) {
				r.out.Cancelled = true
				return
			}
			continue

		case pageEmpty:
			r.log.Debug("listing page has no content", "page", page)
			if page > cfg.MaxEmptyPage {
				r.out.Exhausted = true
				return
			}
			page, attempts = page+1, 0
			continue
		}

		r.out.Records = append(r.out.Records, batch...)
		if len(batch) > 0 {
			r.obs.OnBatch(page, batch)
		}
		r.emitProgress(page)
		r.log.Debug("listing page done", "page", page, "records", len(batch), "total", len(r.out.Records))

		switch {
		case r.cancelled():
			r.out.Cancelled = true
			return
		case r.full():
			r.out.Capped = true
			return
		case minDate != "" && minDate.Before(r.win.Start):
			r.log.Debug("listing moved past the window", "page", page, "min_date", minDate)
			return
		}

		if !r.pause(r.politeDelay) {
			r.out.Cancelled = true
			return
		}
		page, attempts = page+1, 0
	}
}

// crawlPage fetches and processes one listing page. minDate is the oldest
// parsable date among all article nodes of the page, in window or not.
func (r *run) crawlPage(page int) (res pageResult, batch []models.ArticleRecord, minDate models.Date, err error) {
	pageURL := r.e.crawl.BaseURL + fmt.Sprintf(r.e.crawl.ListingPath, page)

	doc, err := r.f.Get(r.ctx, pageURL)
	switch {
	case errors.Is(err, fetcher.ErrNoContent):
		return pageEmpty, nil, "", nil
	case err != nil && r.cancelled():
		return pageAborted, nil, "", nil
	case err != nil:
		return pageFailed, nil, "", err
	}

	nodes, err := r.e.ext.ArticleNodes(doc.Body)
	if err != nil {
		return pageFailed, nil, "", err
	}
	if nodes.Length() == 0 {
		return pageEmpty, nil, "", nil
	}

	nodes.Each(func(_ int, node *goquery.Selection) {
		if d, ok := r.e.ext.NodeDate(node); ok && (minDate == "" || d.Before(minDate)) {
			minDate = d
		}
	})

	for i := range nodes.Length() {
		if r.cancelled() {
			break
		}
		if r.win.Limit > 0 && len(r.out.Records)+len(batch) >= r.win.Limit {
			break
		}

		entry, err := r.e.ext.ExtractListingEntry(nodes.Eq(i))
		switch {
		case errors.Is(err, extractor.ErrSkip):
			continue
		case err != nil:
			r.log.Warn("malformed listing entry", "page", page, "index", i, "error", err)
			r.obs.OnPageError(page, err)
			continue
		}

		if !entry.Date.Within(r.win.Start, r.win.End) {
			continue
		}
		if _, dup := r.seen[entry.URL]; dup {
			continue
		}
		r.seen[entry.URL] = struct{}{}

		rec, ok := r.buildRecord(page, entry)
		if !ok {
			break
		}
		batch = append(batch, rec)
	}
	return pageOK, batch, minDate, nil
}

// buildRecord fetches the detail page of entry. It returns false when the
// fetch was aborted by cancellation, in which case no record is built.
func (r *run) buildRecord(page int, entry extractor.ListingEntry) (models.ArticleRecord, bool) {
	detail, hit := r.e.details.Get(entry.URL)
	if !hit {
		doc, err := r.f.GetArticle(r.ctx, entry.URL)
		switch {
		case err != nil && r.cancelled():
			return models.ArticleRecord{}, false
		case err != nil:
			r.log.Warn("article fetch failed", "url", entry.URL, "error", err)
			r.obs.OnPageError(page, fmt.Errorf("article %s: %w", entry.URL, err))
			detail = extractor.Detail{Description: models.DescLoadError, Tags: []string{}}
		default:
			detail, err = r.e.ext.ExtractDetail(doc.Body)
			if err != nil {
				r.log.Warn("article processing failed", "url", entry.URL, "error", err)
				r.obs.OnPageError(page, fmt.Errorf("article %s: %w", entry.URL, err))
			} else {
				r.e.details.Set(entry.URL, detail)
			}
		}
	}

	return models.ArticleRecord{
		PublishedDate: entry.Date,
		Title:         entry.Title,
		URL:           entry.URL,
		Author:        entry.Author,
		Rating:        entry.Rating,
		CommentCount:  entry.Comments,
		Tags:          detail.Tags,
		Description:   detail.Description,
	}, true
}

func (r *run) cancelled() bool {
	return r.flag.Cancelled() || r.ctx.Err() != nil
}

func (r *run) full() bool {
	return r.win.Limit > 0 && len(r.out.Records) >= r.win.Limit
}

func (r *run) emitProgress(page int) {
	p := progressFor(r.win.Limit, len(r.out.Records), page)
	if p < r.progress {
		return
	}
	r.progress = p
	r.obs.OnProgress(p)
}

// progressFor estimates completion. With a cap it is the filled share of
// the cap; without one the page count stands in, since the total is unknown.
func progressFor(limit, count, page int) int {
	if limit > 0 {
		return min(99, 100*count/limit)
	}
	return min(90, 90*page/100)
}

// pause sleeps for the next interval of b. It returns false as soon as the
// run is cancelled.
func (r *run) pause(b *backoff.ExponentialBackOff) bool {
	d := b.NextBackOff()
	if d <= 0 {
		return !r.cancelled()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return !r.cancelled()
	case <-r.flag.Done():
		return false
	case <-r.ctx.Done():
		return false
	}
}

// newDelay returns a policy whose every interval is drawn uniformly from
// [lo, hi]. A constant multiplier keeps retries from growing.
func newDelay(lo, hi time.Duration) *backoff.ExponentialBackOff {
	hi = max(hi, lo)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = lo + (hi-lo)/2
	b.MaxInterval = hi
	b.Multiplier = 1
	b.RandomizationFactor = 0
	if hi > 0 {
		b.RandomizationFactor = float64(hi-lo) / float64(hi+lo)
	}
	b.Reset()
	return b
}
