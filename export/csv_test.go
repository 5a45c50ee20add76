package export_test

import (
	"bytes"
	"encoding/csv"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/use-agent/listcrawl/export"
	"github.com/use-agent/listcrawl/models"
)

func TestWriteCSV(t *testing.T) {
	records := []models.ArticleRecord{
		{
			PublishedDate: "2024-03-05",
			Title:         `Go; "fast" and simple`,
			URL:           "https://habr.example/ru/articles/1/",
			Author:        "alice",
			Rating:        "+12",
			CommentCount:  "3",
			Tags:          []string{"Go", "HTTP"},
			Description:   "Первый абзац.",
		},
		{
			PublishedDate: "2024-12-31",
			Title:         "Second",
			URL:           "https://habr.example/ru/articles/2/",
			Author:        models.NoAuthor,
			Rating:        models.ZeroCounter,
			CommentCount:  models.ZeroCounter,
			Tags:          []string{},
			Description:   models.DescLoadError,
		},
	}

	var buf bytes.Buffer
	require.NoError(t, export.WriteCSV(&buf, records))

	lines := bytes.SplitN(buf.Bytes(), []byte("\n"), 2)
	assert.Equal(t, "Date;Title;URL;Author;Rating;Comments;Tags;Description", string(lines[0]))

	r := csv.NewReader(&buf)
	r.Comma = ';'
	rows, err := r.ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, []string{
		"05.03.2024", `Go; "fast" and simple`, "https://habr.example/ru/articles/1/",
		"alice", "+12", "3", "Go, HTTP", "Первый абзац.",
	}, rows[1])
	assert.Equal(t, []string{
		"31.12.2024", "Second", "https://habr.example/ru/articles/2/",
		"no author", "0", "0", "", "load error",
	}, rows[2])
}

func TestWriteCSV_HeaderOnly(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, export.WriteCSV(&buf, nil))
	assert.Equal(t, "Date;Title;URL;Author;Rating;Comments;Tags;Description\n", buf.String())
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestWriteCSV_WriterError(t *testing.T) {
	err := export.WriteCSV(failingWriter{}, []models.ArticleRecord{{PublishedDate: "2024-01-01"}})
	assert.ErrorContains(t, err, "disk full")
}
