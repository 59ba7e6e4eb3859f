package webhook

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/searchbridge/searchbridge/internal/contentstore"
	"github.com/searchbridge/searchbridge/internal/model"
	"github.com/searchbridge/searchbridge/internal/queue"
)

// Enqueuer is the slice of the job queue the dispatcher needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, job queue.Job) (string, error)
	EnqueueAll(ctx context.Context, jobs []queue.Job) ([]string, error)
}

// SessionStore is the slice of the content store the dispatcher needs.
// Content writes are fire-and-forget; session transitions are synchronous
// but their failures only get logged.
type SessionStore interface {
	StoreAsync(sessionID string, docs []model.Document, source string)
	StartSession(ctx context.Context, jobID, baseURL, operationType string) error
	CompleteSession(ctx context.Context, jobID string, counts contentstore.SessionCounts) error
	FailSession(ctx context.Context, jobID string, counts contentstore.SessionCounts) error
	CreateChangeEvent(ctx context.Context, watchID, watchURL string, detectedAt time.Time) (*contentstore.ChangeEvent, error)
}

// Outcome is a dispatch decision: the HTTP status and response body the
// handler should write.
type Outcome struct {
	Status int
	Body   map[string]any
}

// Dispatcher turns verified webhook events into queue jobs and session
// updates.
type Dispatcher struct {
	jobs       Enqueuer
	store      SessionStore
	jobTimeout time.Duration
}

// NewDispatcher creates a Dispatcher. jobTimeout is stamped onto enqueued
// indexing jobs.
func NewDispatcher(jobs Enqueuer, store SessionStore, jobTimeout time.Duration) *Dispatcher {
	if jobTimeout <= 0 {
		jobTimeout = 10 * time.Minute
	}
	return &Dispatcher{jobs: jobs, store: store, jobTimeout: jobTimeout}
}

// HandleFirecrawl dispatches one verified crawler event.
func (d *Dispatcher) HandleFirecrawl(ctx context.Context, event *FirecrawlEvent) Outcome {
	// The crawler reports its own failures with success=false; there is
	// nothing to index, only to acknowledge.
	if !event.Success {
		slog.Info("webhook_event_unsuccessful", "type", event.Type, "crawl_id", event.ID, "error", event.Error)
		return Outcome{Status: http.StatusOK, Body: map[string]any{
			"status":     "acknowledged",
			"event_type": event.Type,
		}}
	}

	switch event.Type {
	case EventCrawlPage:
		return d.handlePages(ctx, event, model.SourceCrawl)
	case EventBatchScrapePage:
		return d.handlePages(ctx, event, model.SourceBatchScrape)

	case EventCrawlStarted, EventBatchScrapeStarted:
		return d.handleLifecycleStart(ctx, event)
	case EventCrawlCompleted, EventBatchScrapeCompleted:
		return d.handleLifecycleFinish(ctx, event, true)
	case EventCrawlFailed:
		return d.handleLifecycleFinish(ctx, event, false)

	case EventExtractStarted, EventExtractCompleted, EventExtractFailed:
		// Extract events carry no indexable pages; they are acknowledged
		// and recorded in logs only, without touching session state.
		slog.Info("webhook_extract_event", "type", event.Type, "crawl_id", event.ID)
		return Outcome{Status: http.StatusOK, Body: map[string]any{
			"status":     "acknowledged",
			"event_type": event.Type,
		}}

	default:
		return Outcome{Status: http.StatusBadRequest, Body: map[string]any{
			"error": "unknown event type: " + event.Type,
		}}
	}
}

// handlePages validates each page independently, enqueues the valid ones
// as a single batch, and schedules the raw content write in the
// background. The response never waits on the database.
func (d *Dispatcher) handlePages(ctx context.Context, event *FirecrawlEvent, source string) Outcome {
	if len(event.Data) == 0 {
		return Outcome{Status: http.StatusUnprocessableEntity, Body: map[string]any{
			"error":             "invalid payload",
			"validation_errors": []string{"data array is empty"},
			"hint":              "page events must carry at least one document in data[]",
		}}
	}

	var documents []model.Document
	var failed []FailedDocument
	for i, page := range event.Data {
		if reasons := page.validate(); len(reasons) > 0 {
			failed = append(failed, FailedDocument{Index: i, URL: page.pageURL(), Errors: reasons})
			continue
		}
		documents = append(documents, page.toDocument(event.ID))
	}

	if len(documents) == 0 {
		slog.Warn("webhook_validation_failed",
			"type", event.Type,
			"crawl_id", event.ID,
			"failures", len(failed),
			"sample", event.sample())
		return Outcome{Status: http.StatusUnprocessableEntity, Body: map[string]any{
			"error":             "no valid documents in payload",
			"validation_errors": failed,
			"hint":              "each data[] item needs metadata.url and non-empty markdown",
		}}
	}

	jobIDs, err := d.jobs.EnqueueAll(ctx, []queue.Job{{
		Type:      queue.TypeIndexBatch,
		Documents: documents,
		CrawlID:   event.ID,
		Timeout:   d.jobTimeout,
	}})
	if err != nil {
		slog.Error("webhook_enqueue_failed", "crawl_id", event.ID, "error", err)
		return Outcome{Status: http.StatusInternalServerError, Body: map[string]any{
			"detail": "failed to enqueue indexing job",
		}}
	}

	// Raw content persists in the background; its failures surface only
	// in operation metrics.
	d.store.StoreAsync(event.ID, documents, source)

	body := map[string]any{
		"status":      "queued",
		"queued_jobs": len(jobIDs),
		"job_ids":     jobIDs,
	}
	if len(failed) > 0 {
		body["failed_documents"] = failed
	}

	slog.Info("webhook_pages_queued",
		"type", event.Type,
		"crawl_id", event.ID,
		"documents", len(documents),
		"failed", len(failed))
	return Outcome{Status: http.StatusAccepted, Body: body}
}

func (d *Dispatcher) handleLifecycleStart(ctx context.Context, event *FirecrawlEvent) Outcome {
	baseURL := ""
	if len(event.Data) > 0 {
		baseURL = event.Data[0].pageURL()
	}
	if err := d.store.StartSession(ctx, event.ID, baseURL, operationType(event.Type)); err != nil {
		slog.Warn("session_start_failed", "crawl_id", event.ID, "error", err)
	}
	return Outcome{Status: http.StatusOK, Body: map[string]any{
		"status":     "acknowledged",
		"event_type": event.Type,
	}}
}

func (d *Dispatcher) handleLifecycleFinish(ctx context.Context, event *FirecrawlEvent, completed bool) Outcome {
	counts := contentstore.SessionCounts{
		Total:     len(event.Data),
		Completed: len(event.Data),
	}

	var err error
	if completed {
		err = d.store.CompleteSession(ctx, event.ID, counts)
	} else {
		err = d.store.FailSession(ctx, event.ID, contentstore.SessionCounts{})
	}
	if err != nil {
		slog.Warn("session_finish_failed", "crawl_id", event.ID, "completed", completed, "error", err)
	}

	return Outcome{Status: http.StatusOK, Body: map[string]any{
		"status":     "acknowledged",
		"event_type": event.Type,
	}}
}

func operationType(eventType string) string {
	switch eventType {
	case EventBatchScrapeStarted:
		return "batch_scrape"
	default:
		return "crawl"
	}
}

// ChangePayload is the changedetection webhook body.
type ChangePayload struct {
	WatchID    string `json:"watch_id"`
	WatchURL   string `json:"watch_url"`
	DetectedAt string `json:"detected_at"`
	Snapshot   string `json:"snapshot,omitempty"`
	DiffURL    string `json:"diff_url,omitempty"`
}

// HandleChangeDetection records the change event and queues a rescrape.
func (d *Dispatcher) HandleChangeDetection(ctx context.Context, payload *ChangePayload) Outcome {
	if payload.WatchURL == "" || payload.WatchID == "" {
		return Outcome{Status: http.StatusBadRequest, Body: map[string]any{
			"error": "watch_id and watch_url are required",
		}}
	}

	detectedAt, err := time.Parse(time.RFC3339, payload.DetectedAt)
	if err != nil {
		detectedAt = time.Now().UTC()
	}

	event, err := d.store.CreateChangeEvent(ctx, payload.WatchID, payload.WatchURL, detectedAt)
	if err != nil {
		slog.Error("change_event_create_failed", "watch_id", payload.WatchID, "error", err)
		return Outcome{Status: http.StatusInternalServerError, Body: map[string]any{
			"detail": "failed to record change event",
		}}
	}

	jobID, err := d.jobs.Enqueue(ctx, queue.Job{
		Type:          queue.TypeRescrape,
		URL:           payload.WatchURL,
		ChangeEventID: event.ID,
		Timeout:       d.jobTimeout,
	})
	if err != nil {
		slog.Error("rescrape_enqueue_failed", "watch_id", payload.WatchID, "error", err)
		return Outcome{Status: http.StatusInternalServerError, Body: map[string]any{
			"detail": "failed to enqueue rescrape job",
		}}
	}

	slog.Info("change_event_queued",
		"watch_id", payload.WatchID,
		"url", payload.WatchURL,
		"job_id", jobID)
	return Outcome{Status: http.StatusAccepted, Body: map[string]any{
		"status":          "queued",
		"job_id":          jobID,
		"change_event_id": event.ID,
		"url":             payload.WatchURL,
	}}
}
