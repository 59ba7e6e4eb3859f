package crawler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchbridge/searchbridge/internal/apperr"
	"github.com/searchbridge/searchbridge/internal/contentstore"
	"github.com/searchbridge/searchbridge/internal/model"
	"github.com/searchbridge/searchbridge/internal/pipeline"
	"github.com/searchbridge/searchbridge/internal/queue"
)

func TestScrape_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/scrape", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req scrapeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "https://e.com/changed", req.URL)

		_, _ = w.Write([]byte(`{
			"success": true,
			"data": {
				"markdown": "# Changed\n\nnew content",
				"html": "<h1>Changed</h1>",
				"metadata": {"url": "https://e.com/changed", "title": "Changed", "statusCode": 200}
			}
		}`))
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL, APIKey: "key"})
	doc, err := c.Scrape(context.Background(), "https://e.com/changed")

	require.NoError(t, err)
	assert.Equal(t, "https://e.com/changed", doc.URL)
	assert.Equal(t, "Changed", doc.Title)
	assert.Contains(t, doc.Markdown, "new content")
}

func TestScrape_EmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"success": true, "data": {"markdown": "  ", "metadata": {}}}`))
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL})
	_, err := c.Scrape(context.Background(), "https://e.com/x")

	require.Error(t, err)
	assert.Equal(t, apperr.CodeUpstreamEmpty, apperr.GetCode(err))
}

func TestScrape_UpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := New(Config{URL: srv.URL})
	_, err := c.Scrape(context.Background(), "https://e.com/x")

	require.Error(t, err)
	assert.Equal(t, apperr.CodeUpstreamUnavailable, apperr.GetCode(err))
}

// mockScraper returns a canned document or error.
type mockScraper struct {
	doc model.Document
	err error
}

func (m *mockScraper) Scrape(context.Context, string) (model.Document, error) {
	return m.doc, m.err
}

// mockIndexer returns a canned result.
type mockIndexer struct {
	result pipeline.Result
}

func (m *mockIndexer) Index(_ context.Context, doc model.Document, _, _ string) pipeline.Result {
	r := m.result
	r.URL = doc.URL
	return r
}

// mockEventStore records change-event updates in order.
type mockEventStore struct {
	updates []string
	stored  []model.Document
}

func (m *mockEventStore) UpdateChangeEvent(_ context.Context, _ uint, status, _ string) error {
	m.updates = append(m.updates, status)
	return nil
}

func (m *mockEventStore) StoreAsync(_ string, docs []model.Document, _ string) {
	m.stored = append(m.stored, docs...)
}

func rescrapeJob() *queue.Job {
	return &queue.Job{ID: "job-1", Type: queue.TypeRescrape, URL: "https://e.com/w", ChangeEventID: 7}
}

func TestRescrape_HappyPath(t *testing.T) {
	store := &mockEventStore{}
	r := NewRescraper(
		&mockScraper{doc: model.Document{URL: "https://e.com/w", Markdown: "body"}},
		&mockIndexer{result: pipeline.Result{Success: true, ChunksIndexed: 2}},
		store,
	)

	require.NoError(t, r.Rescrape(context.Background(), rescrapeJob()))

	// in_progress before the external call, completed after
	assert.Equal(t, []string{contentstore.ChangeStatusInProgress, contentstore.ChangeStatusCompleted}, store.updates)
	assert.Len(t, store.stored, 1)
}

func TestRescrape_ScrapeFailureRecordsReason(t *testing.T) {
	store := &mockEventStore{}
	r := NewRescraper(
		&mockScraper{err: errors.New("connection refused")},
		&mockIndexer{},
		store,
	)

	err := r.Rescrape(context.Background(), rescrapeJob())
	require.Error(t, err)

	// The in_progress write survives the failed external call
	require.Len(t, store.updates, 2)
	assert.Equal(t, contentstore.ChangeStatusInProgress, store.updates[0])
	assert.Contains(t, store.updates[1], contentstore.ChangeStatusFailed+":")
	assert.Contains(t, store.updates[1], "connection refused")
	assert.Empty(t, store.stored)
}

func TestRescrape_IndexFailureRecordsReason(t *testing.T) {
	store := &mockEventStore{}
	r := NewRescraper(
		&mockScraper{doc: model.Document{URL: "https://e.com/w", Markdown: "body"}},
		&mockIndexer{result: pipeline.Result{Success: false, Error: "Vector indexing failed: down"}},
		store,
	)

	err := r.Rescrape(context.Background(), rescrapeJob())
	require.Error(t, err)

	require.Len(t, store.updates, 2)
	assert.Contains(t, store.updates[1], "Vector indexing failed")
}
