package crawler

import "github.com/use-agent/listcrawl/models"

// Observer receives the events of one crawl run, in order, on the run's
// goroutine. Implementations must not block for long.
type Observer interface {
	// OnProgress receives a percentage in [0, 100]. Values never decrease
	// and the last one is always 100.
	OnProgress(percent int)

	// OnPageError receives a failure the run absorbed and kept going after.
	OnPageError(page int, err error)

	// OnBatch receives the records built from one listing page.
	OnBatch(page int, records []models.ArticleRecord)
}

// ObserverFuncs adapts plain functions to Observer. Nil fields are ignored.
type ObserverFuncs struct {
	Progress  func(percent int)
	PageError func(page int, err error)
	Batch     func(page int, records []models.ArticleRecord)
}

func (o ObserverFuncs) OnProgress(percent int) {
	if o.Progress != nil {
		o.Progress(percent)
	}
}

func (o ObserverFuncs) OnPageError(page int, err error) {
	if o.PageError != nil {
		o.PageError(page, err)
	}
}

func (o ObserverFuncs) OnBatch(page int, records []models.ArticleRecord) {
	if o.Batch != nil {
		o.Batch(page, records)
	}
}
