package extractor

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/use-agent/listcrawl/models"
)

// ErrSkip marks a listing node that lacks a date or title marker.
// It is a skip signal, not a failure.
var ErrSkip = errors.New("extractor: node has no date or title")

// ListingEntry holds the fields read from one article node of a listing page.
type ListingEntry struct {
	Date     models.Date
	Title    string
	URL      string
	Author   string
	Rating   string
	Comments string
}

// Detail holds the fields read from an article page.
type Detail struct {
	Description string
	Tags        []string
}

// Extractor reads listing and article documents using a fixed selector set.
// It is safe for concurrent use.
type Extractor struct {
	base *url.URL
	sel  *compiled
}

// New creates an Extractor resolving article links against baseURL.
func New(baseURL string, s Selectors) (*Extractor, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("extractor: parse base URL: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("extractor: base URL %q is not absolute", baseURL)
	}
	c, err := compile(s)
	if err != nil {
		return nil, err
	}
	return &Extractor{base: base, sel: c}, nil
}

// ArticleNodes parses a listing page and returns its article nodes in
// document order. An empty selection means the page has no content.
func (x *Extractor) ArticleNodes(body []byte) (*goquery.Selection, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, models.NewCrawlError(models.ErrCodeParse, "parse listing page", err)
	}
	return doc.FindMatcher(x.sel.article), nil
}

// NodeDate returns the calendar date of an article node, if it carries a
// parsable one. Used to detect that the listing has moved past the window.
func (x *Extractor) NodeDate(node *goquery.Selection) (models.Date, bool) {
	raw, ok := node.FindMatcher(x.sel.date).First().Attr("datetime")
	if !ok {
		return "", false
	}
	d, err := models.ParseDate(datePart(raw))
	if err != nil {
		return "", false
	}
	return d, true
}

// ExtractListingEntry reads one article node. It returns ErrSkip when the
// date or title marker is missing and a PARSE_ERROR when a present marker
// is malformed.
func (x *Extractor) ExtractListingEntry(node *goquery.Selection) (ListingEntry, error) {
	dateNode := node.FindMatcher(x.sel.date).First()
	if dateNode.Length() == 0 {
		return ListingEntry{}, ErrSkip
	}
	titleNode := node.FindMatcher(x.sel.title).First()
	if titleNode.Length() == 0 {
		return ListingEntry{}, ErrSkip
	}

	raw, ok := dateNode.Attr("datetime")
	if !ok {
		return ListingEntry{}, models.NewCrawlError(models.ErrCodeParse, "date marker has no datetime attribute", nil)
	}
	date, err := models.ParseDate(datePart(raw))
	if err != nil {
		return ListingEntry{}, models.NewCrawlError(models.ErrCodeParse, "unparsable article date", err)
	}

	href, ok := titleNode.FindMatcher(x.sel.link).First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return ListingEntry{}, models.NewCrawlError(models.ErrCodeParse, "title has no link", nil)
	}
	link, err := x.base.Parse(strings.TrimSpace(href))
	if err != nil {
		return ListingEntry{}, models.NewCrawlError(models.ErrCodeParse, "invalid article link", err)
	}
	if link.Scheme != "http" && link.Scheme != "https" {
		return ListingEntry{}, models.NewCrawlError(models.ErrCodeParse, fmt.Sprintf("unsupported link scheme %q", link.Scheme), nil)
	}

	return ListingEntry{
		Date:     date,
		Title:    strings.TrimSpace(titleNode.Text()),
		URL:      link.String(),
		Author:   textOr(node, x.sel.author, models.NoAuthor),
		Rating:   textOr(node, x.sel.rating, models.ZeroCounter),
		Comments: textOr(node, x.sel.comments, models.ZeroCounter),
	}, nil
}

// ExtractDetail reads the description and tags of an article page.
// On a malformed document it returns the processing-error sentinel with no
// tags together with a PARSE_ERROR; the Detail is usable either way.
func (x *Extractor) ExtractDetail(body []byte) (Detail, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return processFailure(err)
	}

	d := Detail{Description: models.NoDescription, Tags: []string{}}

	if articleBody := doc.FindMatcher(x.sel.body).First(); articleBody.Length() > 0 {
		parts := make([]string, 0, 5)
		articleBody.FindMatcher(x.sel.paragraph).EachWithBreak(func(i int, p *goquery.Selection) bool {
			if i >= 5 {
				return false
			}
			if text := strings.TrimSpace(p.Text()); text != "" {
				parts = append(parts, text)
			}
			return true
		})
		d.Description = TruncateDescription(strings.Join(parts, " "))
	}

	doc.FindMatcher(x.sel.tagContainer).First().FindMatcher(x.sel.tagLink).EachWithBreak(func(i int, a *goquery.Selection) bool {
		if i >= models.MaxTags {
			return false
		}
		d.Tags = append(d.Tags, strings.TrimSpace(a.Text()))
		return true
	})

	return d, nil
}

// processFailure is the Detail of an article page that could not be parsed.
func processFailure(err error) (Detail, error) {
	return Detail{Description: models.DescProcessError, Tags: []string{}},
		models.NewCrawlError(models.ErrCodeParse, "parse article page", err)
}

// TruncateDescription caps s at 500 characters: longer text keeps its first
// 497 characters followed by "...".
func TruncateDescription(s string) string {
	if utf8.RuneCountInString(s) <= models.MaxDescriptionLen {
		return s
	}
	runes := []rune(s)
	return string(runes[:models.MaxDescriptionLen-3]) + "..."
}

// JoinTags renders tags as the comma-separated text used at export boundaries.
func JoinTags(tags []string) string {
	return strings.Join(tags, ", ")
}

// SplitTags is the inverse of JoinTags.
func SplitTags(s string) []string {
	if strings.TrimSpace(s) == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	tags := make([]string, 0, len(parts))
	for _, p := range parts {
		tags = append(tags, strings.TrimSpace(p))
	}
	return tags
}

// datePart drops the time-of-day portion of an ISO timestamp.
func datePart(raw string) string {
	raw = strings.TrimSpace(raw)
	if i := strings.IndexByte(raw, 'T'); i >= 0 {
		return raw[:i]
	}
	return raw
}

func textOr(node *goquery.Selection, m goquery.Matcher, fallback string) string {
	s := node.FindMatcher(m).First()
	if s.Length() == 0 {
		return fallback
	}
	return strings.TrimSpace(s.Text())
}
