package export

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/use-agent/listcrawl/extractor"
	"github.com/use-agent/listcrawl/models"
)

// Sort orders accepted by View.
const (
	SortDateDesc = "date_desc"
	SortDateAsc  = "date_asc"
	SortRating   = "rating"
	SortComments = "comments"
)

// View selects and orders records for presentation. The zero View keeps
// every record in crawl order.
type View struct {
	// Tag keeps records carrying every listed tag. Several tags are
	// comma-separated; matching ignores case and surrounding space.
	Tag string `form:"tag"`

	// Sort is one of the Sort* orders, or empty for crawl order. Rating and
	// comment orders put the highest count first.
	Sort string `form:"sort"`
}

// Validate reports an unknown sort order as INVALID_INPUT.
func (v View) Validate() error {
	switch v.Sort {
	case "", SortDateDesc, SortDateAsc, SortRating, SortComments:
		return nil
	}
	return models.NewCrawlError(models.ErrCodeInvalidInput,
		fmt.Sprintf("unknown sort %q (want %s, %s, %s or %s)", v.Sort, SortDateDesc, SortDateAsc, SortRating, SortComments), nil)
}

// Apply returns the records selected by v in v's order. records is not
// modified; ties keep crawl order.
func (v View) Apply(records []models.ArticleRecord) []models.ArticleRecord {
	want := normalizeTags(extractor.SplitTags(v.Tag))

	out := make([]models.ArticleRecord, 0, len(records))
	for _, r := range records {
		if hasAll(r.Tags, want) {
			out = append(out, r)
		}
	}

	switch v.Sort {
	case SortDateDesc:
		slices.SortStableFunc(out, func(a, b models.ArticleRecord) int {
			return cmp.Compare(b.PublishedDate, a.PublishedDate)
		})
	case SortDateAsc:
		slices.SortStableFunc(out, func(a, b models.ArticleRecord) int {
			return cmp.Compare(a.PublishedDate, b.PublishedDate)
		})
	case SortRating:
		slices.SortStableFunc(out, func(a, b models.ArticleRecord) int {
			return cmp.Compare(Counter(b.Rating), Counter(a.Rating))
		})
	case SortComments:
		slices.SortStableFunc(out, func(a, b models.ArticleRecord) int {
			return cmp.Compare(Counter(b.CommentCount), Counter(a.CommentCount))
		})
	}
	return out
}

// Counter reads a rating or comment count such as "+42", "−3" or "17".
// Anything else counts as 0.
func Counter(s string) int {
	s = strings.ReplaceAll(strings.TrimSpace(s), "−", "-")
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// TagVocabulary returns every distinct tag of records, lower-cased and
// sorted.
func TagVocabulary(records []models.ArticleRecord) []string {
	seen := make(map[string]struct{})
	for _, r := range records {
		for _, t := range normalizeTags(r.Tags) {
			seen[t] = struct{}{}
		}
	}
	vocab := make([]string, 0, len(seen))
	for t := range seen {
		vocab = append(vocab, t)
	}
	slices.Sort(vocab)
	return vocab
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func hasAll(tags, want []string) bool {
	if len(want) == 0 {
		return true
	}
	have := normalizeTags(tags)
	for _, w := range want {
		if !slices.Contains(have, w) {
			return false
		}
	}
	return true
}
