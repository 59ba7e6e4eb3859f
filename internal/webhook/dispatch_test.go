package webhook

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchbridge/searchbridge/internal/contentstore"
	"github.com/searchbridge/searchbridge/internal/model"
	"github.com/searchbridge/searchbridge/internal/queue"
)

// mockEnqueuer records enqueued jobs.
type mockEnqueuer struct {
	jobs      []queue.Job
	enqueueFn func(jobs []queue.Job) error
}

func (m *mockEnqueuer) Enqueue(ctx context.Context, job queue.Job) (string, error) {
	ids, err := m.EnqueueAll(ctx, []queue.Job{job})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

func (m *mockEnqueuer) EnqueueAll(_ context.Context, jobs []queue.Job) ([]string, error) {
	if m.enqueueFn != nil {
		if err := m.enqueueFn(jobs); err != nil {
			return nil, err
		}
	}
	ids := make([]string, len(jobs))
	for i := range jobs {
		if jobs[i].ID == "" {
			jobs[i].ID = uuid.New().String()
		}
		ids[i] = jobs[i].ID
	}
	m.jobs = append(m.jobs, jobs...)
	return ids, nil
}

// mockSessionStore records lifecycle calls.
type mockSessionStore struct {
	asyncDocs    []model.Document
	started      []string
	completed    []string
	failed       []string
	changeEvents []contentstore.ChangeEvent
}

func (m *mockSessionStore) StoreAsync(_ string, docs []model.Document, _ string) {
	m.asyncDocs = append(m.asyncDocs, docs...)
}

func (m *mockSessionStore) StartSession(_ context.Context, jobID, _, _ string) error {
	m.started = append(m.started, jobID)
	return nil
}

func (m *mockSessionStore) CompleteSession(_ context.Context, jobID string, _ contentstore.SessionCounts) error {
	m.completed = append(m.completed, jobID)
	return nil
}

func (m *mockSessionStore) FailSession(_ context.Context, jobID string, _ contentstore.SessionCounts) error {
	m.failed = append(m.failed, jobID)
	return nil
}

func (m *mockSessionStore) CreateChangeEvent(_ context.Context, watchID, watchURL string, detectedAt time.Time) (*contentstore.ChangeEvent, error) {
	event := contentstore.ChangeEvent{
		ID:             uint(len(m.changeEvents) + 1),
		WatchID:        watchID,
		WatchURL:       watchURL,
		DetectedAt:     detectedAt,
		RescrapeStatus: contentstore.ChangeStatusQueued,
	}
	m.changeEvents = append(m.changeEvents, event)
	return &event, nil
}

func validPage(url string) PageData {
	return PageData{
		Markdown: "# Page\n\nsome content",
		HTML:     "<h1>Page</h1>",
		Metadata: PageMetadata{
			URL:        url,
			SourceURL:  url,
			Title:      "Page",
			Language:   "en",
			StatusCode: 200,
		},
	}
}

func newTestDispatcher() (*Dispatcher, *mockEnqueuer, *mockSessionStore) {
	enqueuer := &mockEnqueuer{}
	store := &mockSessionStore{}
	return NewDispatcher(enqueuer, store, time.Minute), enqueuer, store
}

func TestHandleFirecrawl_UnsuccessfulEventAcknowledged(t *testing.T) {
	d, enqueuer, _ := newTestDispatcher()

	outcome := d.HandleFirecrawl(context.Background(), &FirecrawlEvent{
		Success: false,
		Type:    EventCrawlPage,
		Error:   "crawl aborted",
	})

	assert.Equal(t, http.StatusOK, outcome.Status)
	assert.Equal(t, "acknowledged", outcome.Body["status"])
	assert.Empty(t, enqueuer.jobs)
}

func TestHandleFirecrawl_PageEventQueuesOneBatch(t *testing.T) {
	d, enqueuer, store := newTestDispatcher()

	event := &FirecrawlEvent{
		Success: true,
		Type:    EventCrawlPage,
		ID:      "crawl-1",
		Data:    []PageData{validPage("https://e.com/a"), validPage("https://e.com/b")},
	}

	outcome := d.HandleFirecrawl(context.Background(), event)

	assert.Equal(t, http.StatusAccepted, outcome.Status)
	assert.Equal(t, "queued", outcome.Body["status"])
	assert.Equal(t, 1, outcome.Body["queued_jobs"])
	assert.NotContains(t, outcome.Body, "failed_documents")

	// Both documents ride in a single batch job
	require.Len(t, enqueuer.jobs, 1)
	job := enqueuer.jobs[0]
	assert.Equal(t, queue.TypeIndexBatch, job.Type)
	assert.Equal(t, "crawl-1", job.CrawlID)
	require.Len(t, job.Documents, 2)
	assert.Equal(t, "crawl-1", job.Documents[0].CrawlID)

	// Raw content was scheduled for background persistence
	assert.Len(t, store.asyncDocs, 2)
}

func TestHandleFirecrawl_MixedValidity(t *testing.T) {
	d, enqueuer, _ := newTestDispatcher()

	invalid := validPage("https://e.com/bad")
	invalid.Markdown = "   "

	event := &FirecrawlEvent{
		Success: true,
		Type:    EventBatchScrapePage,
		ID:      "batch-1",
		Data:    []PageData{validPage("https://e.com/ok"), invalid},
	}

	outcome := d.HandleFirecrawl(context.Background(), event)

	assert.Equal(t, http.StatusAccepted, outcome.Status)
	failed, ok := outcome.Body["failed_documents"].([]FailedDocument)
	require.True(t, ok)
	require.Len(t, failed, 1)
	assert.Equal(t, 1, failed[0].Index)
	assert.Contains(t, failed[0].Errors[0], "markdown")

	require.Len(t, enqueuer.jobs, 1)
	assert.Len(t, enqueuer.jobs[0].Documents, 1)
}

func TestHandleFirecrawl_AllInvalidIs422(t *testing.T) {
	d, enqueuer, _ := newTestDispatcher()

	bad := PageData{Markdown: ""}
	event := &FirecrawlEvent{
		Success: true,
		Type:    EventCrawlPage,
		ID:      "crawl-1",
		Data:    []PageData{bad},
	}

	outcome := d.HandleFirecrawl(context.Background(), event)

	assert.Equal(t, http.StatusUnprocessableEntity, outcome.Status)
	assert.Contains(t, outcome.Body, "validation_errors")
	assert.Contains(t, outcome.Body, "hint")
	assert.Empty(t, enqueuer.jobs)
}

func TestHandleFirecrawl_EmptyDataIs422(t *testing.T) {
	d, _, _ := newTestDispatcher()

	outcome := d.HandleFirecrawl(context.Background(), &FirecrawlEvent{
		Success: true,
		Type:    EventCrawlPage,
		ID:      "crawl-1",
	})

	assert.Equal(t, http.StatusUnprocessableEntity, outcome.Status)
}

func TestHandleFirecrawl_DeprecatedExtractRejected(t *testing.T) {
	d, enqueuer, _ := newTestDispatcher()

	page := validPage("https://e.com/a")
	page.Extract = []byte(`{"schema":"old"}`)

	outcome := d.HandleFirecrawl(context.Background(), &FirecrawlEvent{
		Success: true,
		Type:    EventCrawlPage,
		ID:      "crawl-1",
		Data:    []PageData{page},
	})

	assert.Equal(t, http.StatusUnprocessableEntity, outcome.Status)
	assert.Empty(t, enqueuer.jobs)
}

func TestHandleFirecrawl_Lifecycle(t *testing.T) {
	d, _, store := newTestDispatcher()
	ctx := context.Background()

	outcome := d.HandleFirecrawl(ctx, &FirecrawlEvent{Success: true, Type: EventCrawlStarted, ID: "job-1"})
	assert.Equal(t, http.StatusOK, outcome.Status)
	assert.Equal(t, []string{"job-1"}, store.started)

	outcome = d.HandleFirecrawl(ctx, &FirecrawlEvent{Success: true, Type: EventCrawlCompleted, ID: "job-1"})
	assert.Equal(t, http.StatusOK, outcome.Status)
	assert.Equal(t, []string{"job-1"}, store.completed)

	outcome = d.HandleFirecrawl(ctx, &FirecrawlEvent{Success: true, Type: EventCrawlFailed, ID: "job-2"})
	assert.Equal(t, http.StatusOK, outcome.Status)
	assert.Equal(t, []string{"job-2"}, store.failed)
}

func TestHandleFirecrawl_ExtractEventsDoNotTouchSessions(t *testing.T) {
	d, _, store := newTestDispatcher()

	for _, eventType := range []string{EventExtractStarted, EventExtractCompleted, EventExtractFailed} {
		outcome := d.HandleFirecrawl(context.Background(), &FirecrawlEvent{Success: true, Type: eventType, ID: "x-1"})
		assert.Equal(t, http.StatusOK, outcome.Status)
	}
	assert.Empty(t, store.started)
	assert.Empty(t, store.completed)
	assert.Empty(t, store.failed)
}

func TestHandleFirecrawl_UnknownEventType(t *testing.T) {
	d, _, _ := newTestDispatcher()

	outcome := d.HandleFirecrawl(context.Background(), &FirecrawlEvent{Success: true, Type: "crawl.exploded"})
	assert.Equal(t, http.StatusBadRequest, outcome.Status)
}

func TestHandleChangeDetection_QueuesRescrape(t *testing.T) {
	d, enqueuer, store := newTestDispatcher()

	outcome := d.HandleChangeDetection(context.Background(), &ChangePayload{
		WatchID:    "watch-1",
		WatchURL:   "https://e.com/watched",
		DetectedAt: time.Now().UTC().Format(time.RFC3339),
	})

	assert.Equal(t, http.StatusAccepted, outcome.Status)
	assert.Equal(t, "queued", outcome.Body["status"])
	assert.NotEmpty(t, outcome.Body["job_id"])

	require.Len(t, store.changeEvents, 1)
	require.Len(t, enqueuer.jobs, 1)
	assert.Equal(t, queue.TypeRescrape, enqueuer.jobs[0].Type)
	assert.Equal(t, "https://e.com/watched", enqueuer.jobs[0].URL)
	assert.Equal(t, store.changeEvents[0].ID, enqueuer.jobs[0].ChangeEventID)
}

func TestHandleChangeDetection_MissingFields(t *testing.T) {
	d, _, _ := newTestDispatcher()

	outcome := d.HandleChangeDetection(context.Background(), &ChangePayload{WatchURL: "https://e.com"})
	assert.Equal(t, http.StatusBadRequest, outcome.Status)
}
