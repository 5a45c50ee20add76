// Package extractor turns listing and article pages into structured records.
// It performs no I/O and keeps no state beyond its compiled selectors.
package extractor

import (
	"fmt"

	"github.com/andybalholm/cascadia"
)

// Selectors names the CSS selectors used to locate article fields.
// The defaults match the markup of the habr.com article feed.
type Selectors struct {
	Article  string
	Date     string
	Title    string
	Link     string
	Author   string
	Rating   string
	Comments string

	Body         string
	Paragraph    string
	TagContainer string
	TagLink      string
}

// DefaultSelectors returns the selectors for the default listing site.
func DefaultSelectors() Selectors {
	return Selectors{
		Article:  "article.tm-articles-list__item",
		Date:     "time",
		Title:    "h2",
		Link:     "a[href]",
		Author:   "a.tm-user-info__username",
		Rating:   "span.tm-votes-meter__value",
		Comments: "span.tm-article-comments-counter-link__value",

		Body:         "div.tm-article-body",
		Paragraph:    "p",
		TagContainer: "div.tm-article-presenter__meta-list",
		TagLink:      "a.tm-tags-list__link",
	}
}

// compiled holds the parsed form of Selectors. cascadia.Selector satisfies
// goquery.Matcher, so selections reuse them without reparsing.
type compiled struct {
	article, date, title, link, author, rating, comments cascadia.Selector
	body, paragraph, tagContainer, tagLink               cascadia.Selector
}

func compile(s Selectors) (*compiled, error) {
	var c compiled
	for _, f := range []struct {
		name string
		src  string
		dst  *cascadia.Selector
	}{
		{"article", s.Article, &c.article},
		{"date", s.Date, &c.date},
		{"title", s.Title, &c.title},
		{"link", s.Link, &c.link},
		{"author", s.Author, &c.author},
		{"rating", s.Rating, &c.rating},
		{"comments", s.Comments, &c.comments},
		{"body", s.Body, &c.body},
		{"paragraph", s.Paragraph, &c.paragraph},
		{"tag container", s.TagContainer, &c.tagContainer},
		{"tag link", s.TagLink, &c.tagLink},
	} {
		sel, err := cascadia.Compile(f.src)
		if err != nil {
			return nil, fmt.Errorf("extractor: compile %s selector %q: %w", f.name, f.src, err)
		}
		*f.dst = sel
	}
	return &c, nil
}
