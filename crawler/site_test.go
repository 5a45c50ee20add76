package crawler

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/use-agent/listcrawl/cache"
	"github.com/use-agent/listcrawl/config"
	"github.com/use-agent/listcrawl/extractor"
	"github.com/use-agent/listcrawl/models"
)

type fixtureArticle struct {
	id   int
	date string
}

// site is an httptest listing site. Pages missing from pages answer 404.
type site struct {
	mu sync.Mutex

	pages map[int][]fixtureArticle
	// failures is the number of 503 answers a page gives before it
	// succeeds; a negative count fails forever.
	failures map[int]int
	// stalls is the number of times a page hangs until the client gives up
	// before it answers normally.
	stalls map[int]int
	// brokenDetails answer 500 on their article page.
	brokenDetails map[int]bool
	// heldDetails never answer; their id is sent on held once the request
	// arrives.
	heldDetails map[int]bool
	held        chan int

	listingHits map[int]int
	detailHits  map[int]int

	srv *httptest.Server
}

func newSite(t *testing.T, pages map[int][]fixtureArticle) *site {
	t.Helper()

	s := &site{
		pages:         pages,
		failures:      make(map[int]int),
		stalls:        make(map[int]int),
		brokenDetails: make(map[int]bool),
		heldDetails:   make(map[int]bool),
		held:          make(chan int, 1),
		listingHits:   make(map[int]int),
		detailHits:    make(map[int]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /all/page/{n}/", s.listing)
	mux.HandleFunc("GET /articles/{id}/", s.article)
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.srv.Close)
	return s
}

func (s *site) listing(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	s.listingHits[n]++
	fail := s.failures[n]
	if fail > 0 {
		s.failures[n]--
	}
	stall := s.stalls[n] > 0
	if stall {
		s.stalls[n]--
	}
	arts, ok := s.pages[n]
	s.mu.Unlock()

	if stall {
		hang(r)
		return
	}

	switch {
	case fail != 0:
		w.WriteHeader(http.StatusServiceUnavailable)
	case !ok:
		http.NotFound(w, r)
	default:
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(listingHTML(arts)))
	}
}

func (s *site) article(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil {
		http.NotFound(w, r)
		return
	}

	s.mu.Lock()
	s.detailHits[id]++
	broken := s.brokenDetails[id]
	held := s.heldDetails[id]
	s.mu.Unlock()

	if held {
		s.held <- id
		hang(r)
		return
	}
	if broken {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, `<html><body>
<div class="tm-article-presenter__meta-list"><a class="tm-tags-list__link">tag-%d</a><a class="tm-tags-list__link">go</a></div>
<div class="tm-article-body"><p>Body of article %d.</p></div>
</body></html>`, id, id)
}

// hang blocks until the client goes away.
func hang(r *http.Request) {
	select {
	case <-r.Context().Done():
	case <-time.After(10 * time.Second):
	}
}

func (s *site) listingCount(page int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listingHits[page]
}

func (s *site) totalDetailHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.detailHits {
		total += n
	}
	return total
}

func (s *site) totalHits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.listingHits {
		total += n
	}
	for _, n := range s.detailHits {
		total += n
	}
	return total
}

func listingHTML(arts []fixtureArticle) string {
	var b strings.Builder
	b.WriteString("<html><body><div class=\"tm-articles-list\">")
	for _, a := range arts {
		fmt.Fprintf(&b, `<article class="tm-articles-list__item">
<a class="tm-user-info__username">author%d</a>
<time datetime="%sT10:00:00.000Z"></time>
<h2><a href="/articles/%d/">Article %d</a></h2>
<span class="tm-votes-meter__value">+%d</span>
<span class="tm-article-comments-counter-link__value">%d</span>
</article>`, a.id, a.date, a.id, a.id, a.id, a.id*2)
	}
	b.WriteString("</div></body></html>")
	return b.String()
}

// marchSite serves three pages of ten March 2024 articles, newest first,
// and a fourth page of February articles.
func marchSite(t *testing.T) *site {
	t.Helper()

	pages := make(map[int][]fixtureArticle)
	day := 31
	for p := 1; p <= 3; p++ {
		for j := range 10 {
			pages[p] = append(pages[p], fixtureArticle{
				id:   p*100 + j,
				date: fmt.Sprintf("2024-03-%02d", day),
			})
			day--
		}
	}
	for j := range 10 {
		pages[4] = append(pages[4], fixtureArticle{id: 400 + j, date: fmt.Sprintf("2024-02-%02d", 28-j)})
	}
	for j := range 10 {
		pages[5] = append(pages[5], fixtureArticle{id: 500 + j, date: "2024-01-15"})
	}
	return newSite(t, pages)
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		Crawl: config.CrawlConfig{
			BaseURL:      baseURL,
			ListingPath:  "/all/page/%d/",
			MaxEmptyPage: 50,
		},
		Fetch: config.FetchConfig{
			Timeout:        2 * time.Second,
			UserAgent:      "listcrawl-test/1.0",
			AcceptLanguage: "en",
			TLSProfile:     "go",
			NotFoundMarker: "404 Not Found",
		},
	}
}

func newTestEngine(t *testing.T, s *site, mutate func(*config.Config), details *cache.Cache) *Engine {
	t.Helper()

	cfg := testConfig(s.srv.URL)
	if mutate != nil {
		mutate(cfg)
	}
	ext, err := extractor.New(cfg.Crawl.BaseURL, extractor.DefaultSelectors())
	require.NoError(t, err)
	return NewEngine(cfg, ext, details, nil)
}

// recorder is an Observer that keeps every event.
type recorder struct {
	mu         sync.Mutex
	progress   []int
	errPages   []int
	errs       []error
	batchPages []int
	batched    int
}

func (r *recorder) OnProgress(p int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.progress = append(r.progress, p)
}

func (r *recorder) OnPageError(page int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errPages = append(r.errPages, page)
	r.errs = append(r.errs, err)
}

func (r *recorder) OnBatch(page int, records []models.ArticleRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.batchPages = append(r.batchPages, page)
	r.batched += len(records)
}

func intPtr(n int) *int { return &n }
