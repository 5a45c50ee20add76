package fetcher

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// robotsPolicy caches one robots.txt group per host for the session.
type robotsPolicy struct {
	get    func(ctx context.Context, target string) (*http.Response, error)
	agent  string
	log    *slog.Logger
	mu     sync.Mutex
	groups map[string]*robotstxt.Group
}

func newRobotsPolicy(get func(context.Context, string) (*http.Response, error), agent string, log *slog.Logger) *robotsPolicy {
	return &robotsPolicy{
		get:    get,
		agent:  agent,
		log:    log,
		groups: make(map[string]*robotstxt.Group),
	}
}

// allowed reports whether the session may fetch u. An unreachable
// robots.txt allows everything.
func (p *robotsPolicy) allowed(ctx context.Context, u *url.URL) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	group, ok := p.groups[u.Host]
	if !ok {
		group = p.load(ctx, u)
		p.groups[u.Host] = group
	}
	if group == nil {
		return true
	}
	return group.Test(u.RequestURI())
}

func (p *robotsPolicy) load(ctx context.Context, u *url.URL) *robotstxt.Group {
	robotsURL := (&url.URL{Scheme: u.Scheme, Host: u.Host, Path: "/robots.txt"}).String()
	resp, err := p.get(ctx, robotsURL)
	if err != nil {
		p.log.Debug("robots.txt unreachable, allowing all", "url", robotsURL, "error", err)
		return nil
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		p.log.Debug("robots.txt unparsable, allowing all", "url", robotsURL, "error", err)
		return nil
	}
	return data.FindGroup(p.agent)
}
