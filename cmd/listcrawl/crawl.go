package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/use-agent/listcrawl/cache"
	"github.com/use-agent/listcrawl/crawler"
	"github.com/use-agent/listcrawl/export"
)

// CrawlOptions holds the flags of the crawl subcommand.
type CrawlOptions struct {
	From    string
	To      string
	Max     int
	Out     string
	BaseURL string
	Quiet   bool
	Tag     string
	Sort    string
}

func newCrawlCmd() *cobra.Command {
	opts := &CrawlOptions{}

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl and write the results as CSV",
		Long:  "Crawl the listing for articles published in [--from, --to] and export them. Ctrl-C stops the crawl and still writes what was collected.",
		Example: `  # March 2024, at most 50 articles, to a file
  listcrawl crawl --from 2024-03-01 --to 2024-03-31 --max 50 --out march.csv

  # One day to stdout
  listcrawl crawl --from 2024-03-05 --to 2024-03-05 --quiet

  # Only articles tagged go, most commented first
  listcrawl crawl --from 2024-03-01 --to 2024-03-31 --tag go --sort comments`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var maxResults *int
			if cmd.Flags().Changed("max") {
				maxResults = &opts.Max
			}
			return runCrawl(cmd.Context(), opts, maxResults)
		},
	}

	cmd.Flags().StringVar(&opts.From, "from", "", "First day of the window (YYYY-MM-DD)")
	cmd.Flags().StringVar(&opts.To, "to", "", "Last day of the window (YYYY-MM-DD)")
	cmd.Flags().IntVarP(&opts.Max, "max", "m", 0, "Maximum number of articles")
	cmd.Flags().StringVarP(&opts.Out, "out", "o", "", "CSV output file (default stdout)")
	cmd.Flags().StringVar(&opts.BaseURL, "base-url", "", "Override LISTCRAWL_BASE_URL")
	cmd.Flags().BoolVarP(&opts.Quiet, "quiet", "q", false, "Hide the progress bar")
	cmd.Flags().StringVar(&opts.Tag, "tag", "", "Export only articles with these comma-separated tags")
	cmd.Flags().StringVar(&opts.Sort, "sort", "", "Order of the export: date_desc, date_asc, rating or comments")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")

	return cmd
}

func runCrawl(ctx context.Context, opts *CrawlOptions, maxResults *int) error {
	view := export.View{Tag: opts.Tag, Sort: opts.Sort}
	if err := view.Validate(); err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if opts.BaseURL != "" {
		cfg.Crawl.BaseURL = opts.BaseURL
	}
	logger := initLogger(cfg.Log, os.Stderr)

	details := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)
	defer details.Close()

	manager, err := crawler.NewManager(cfg, details, logger)
	if err != nil {
		return err
	}
	defer manager.Close()

	h, err := manager.StartCrawl(context.Background(), opts.From, opts.To, maxResults)
	if err != nil {
		return err
	}

	if ctx == nil {
		ctx = context.Background()
	}
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		select {
		case <-sigCtx.Done():
			logger.Info("interrupted, stopping crawl", "id", h.ID())
			h.Cancel()
		case <-h.Done():
		}
	}()

	var barOut io.Writer = os.Stderr
	if opts.Quiet {
		barOut = io.Discard
	}
	bar := progressbar.NewOptions(100,
		progressbar.OptionSetDescription("Crawling "+opts.From+".."+opts.To),
		progressbar.OptionSetWriter(barOut),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "=",
			SaucerHead:    ">",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	for p := range h.Progress() {
		_ = bar.Set(p)
	}
	_ = bar.Finish()
	fmt.Fprintln(barOut)

	out, err := h.Outcome()
	if err != nil {
		return err
	}

	w := io.Writer(os.Stdout)
	if opts.Out != "" {
		f, err := os.Create(opts.Out)
		if err != nil {
			return fmt.Errorf("create output: %w", err)
		}
		defer f.Close()
		w = f
	}
	records := view.Apply(out.Records)
	if err := export.WriteCSV(w, records); err != nil {
		return err
	}

	logger.Info("crawl exported",
		"records", len(out.Records),
		"exported", len(records),
		"tags", len(export.TagVocabulary(out.Records)),
		"pages", out.PagesVisited,
		"page_errors", out.PageErrors,
		"cancelled", out.Cancelled,
		"capped", out.Capped,
		"out", opts.Out,
	)
	return nil
}
