package crawler

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/searchbridge/searchbridge/internal/contentstore"
	"github.com/searchbridge/searchbridge/internal/model"
	"github.com/searchbridge/searchbridge/internal/pipeline"
	"github.com/searchbridge/searchbridge/internal/queue"
)

// Scraper fetches one page.
type Scraper interface {
	Scrape(ctx context.Context, url string) (model.Document, error)
}

// Indexer runs the indexing pipeline for one document.
type Indexer interface {
	Index(ctx context.Context, doc model.Document, jobID, crawlID string) pipeline.Result
}

// ChangeEventStore updates change-event rows and persists rescraped
// content.
type ChangeEventStore interface {
	UpdateChangeEvent(ctx context.Context, id uint, status, rescrapeJobID string) error
	StoreAsync(sessionID string, docs []model.Document, source string)
}

// Rescraper executes rescrape jobs: fetch the changed page, then funnel it
// through the indexing pipeline like any webhook-delivered document.
type Rescraper struct {
	scraper Scraper
	indexer Indexer
	store   ChangeEventStore
}

// NewRescraper wires the rescrape flow.
func NewRescraper(scraper Scraper, indexer Indexer, store ChangeEventStore) *Rescraper {
	return &Rescraper{scraper: scraper, indexer: indexer, store: store}
}

// Rescrape handles one job. The in_progress update commits before the
// external call and the outcome update commits after it, as two separate
// writes: a failing scrape must never undo the state recording.
func (r *Rescraper) Rescrape(ctx context.Context, job *queue.Job) error {
	if err := r.store.UpdateChangeEvent(ctx, job.ChangeEventID, contentstore.ChangeStatusInProgress, job.ID); err != nil {
		return err
	}

	doc, err := r.scraper.Scrape(ctx, job.URL)
	if err != nil {
		r.recordOutcome(ctx, job, fmt.Sprintf("%s:%s", contentstore.ChangeStatusFailed, shortReason(err)))
		return err
	}

	r.store.StoreAsync(job.ID, []model.Document{doc}, model.SourceRescrape)

	result := r.indexer.Index(ctx, doc, job.ID, "")
	if !result.Success {
		r.recordOutcome(ctx, job, fmt.Sprintf("%s:%s", contentstore.ChangeStatusFailed, result.Error))
		return fmt.Errorf("rescrape indexing failed: %s", result.Error)
	}

	r.recordOutcome(ctx, job, contentstore.ChangeStatusCompleted)
	slog.Info("rescrape_completed", "job_id", job.ID, "url", job.URL, "chunks", result.ChunksIndexed)
	return nil
}

func (r *Rescraper) recordOutcome(ctx context.Context, job *queue.Job, status string) {
	if err := r.store.UpdateChangeEvent(ctx, job.ChangeEventID, status, ""); err != nil {
		slog.Warn("change_event_update_failed", "job_id", job.ID, "status", status, "error", err)
	}
}

// shortReason keeps failure statuses readable in the database.
func shortReason(err error) string {
	msg := err.Error()
	const max = 120
	if len(msg) > max {
		msg = msg[:max]
	}
	return msg
}
