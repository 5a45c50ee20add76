package models

// Sentinel values used when a field is genuinely absent from the source.
const (
	NoAuthor          = "no author"
	NoDescription     = "no description"
	DescLoadError     = "load error"
	DescProcessError  = "processing error"
	ZeroCounter       = "0"
	MaxTags           = 5
	MaxDescriptionLen = 500
)

// ArticleRecord is one qualifying article. It is built once by the crawl
// engine from a listing entry plus its detail page and never mutated.
type ArticleRecord struct {
	PublishedDate Date     `json:"published_date"`
	Title         string   `json:"title"`
	URL           string   `json:"url"`
	Author        string   `json:"author"`
	Rating        string   `json:"rating"`
	CommentCount  string   `json:"comment_count"`
	Tags          []string `json:"tags"`
	Description   string   `json:"description"`
}

// CrawlOutcome is the result of a run that got past date validation.
// Records may be partial when the run was cancelled or capped.
type CrawlOutcome struct {
	Records      []ArticleRecord `json:"records"`
	Cancelled    bool            `json:"cancelled"`
	Capped       bool            `json:"capped"`
	Exhausted    bool            `json:"exhausted"`
	PagesVisited int             `json:"pages_visited"`
	PageErrors   int             `json:"page_errors"`
}

// TagLists returns the tag sequence of each record, parallel to Records.
func (o *CrawlOutcome) TagLists() [][]string {
	out := make([][]string, len(o.Records))
	for i, r := range o.Records {
		out[i] = r.Tags
	}
	return out
}
