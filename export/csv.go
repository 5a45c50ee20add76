// Package export renders crawl results in the fixed CSV exchange format.
package export

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/use-agent/listcrawl/extractor"
	"github.com/use-agent/listcrawl/models"
)

// DateLayout is the day-first date form used in exported files.
const DateLayout = "02.01.2006"

// Header is the first row of every export.
var Header = []string{"Date", "Title", "URL", "Author", "Rating", "Comments", "Tags", "Description"}

// WriteCSV writes records as semicolon-delimited CSV with a header row.
func WriteCSV(w io.Writer, records []models.ArticleRecord) error {
	cw := csv.NewWriter(w)
	cw.Comma = ';'

	if err := cw.Write(Header); err != nil {
		return fmt.Errorf("export: write header: %w", err)
	}
	for i, r := range records {
		row := []string{
			r.PublishedDate.Format(DateLayout),
			r.Title,
			r.URL,
			r.Author,
			r.Rating,
			r.CommentCount,
			extractor.JoinTags(r.Tags),
			r.Description,
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("export: write row %d: %w", i+1, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("export: flush: %w", err)
	}
	return nil
}
