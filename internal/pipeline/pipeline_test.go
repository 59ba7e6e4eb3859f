package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchbridge/searchbridge/internal/apperr"
	"github.com/searchbridge/searchbridge/internal/chunk"
	"github.com/searchbridge/searchbridge/internal/model"
	"github.com/searchbridge/searchbridge/internal/vectorstore"
)

// mockEmbedder returns vectors of a fixed dimension, or fails.
type mockEmbedder struct {
	dimensions int
	err        error
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := m.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (m *mockEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	if m.err != nil {
		return nil, m.err
	}
	vectors := make([][]float32, len(texts))
	for i := range vectors {
		vectors[i] = make([]float32, m.dimensions)
	}
	return vectors, nil
}

func (m *mockEmbedder) Dimensions() int                 { return m.dimensions }
func (m *mockEmbedder) ModelName() string               { return "mock" }
func (m *mockEmbedder) Healthy(_ context.Context) error { return nil }
func (m *mockEmbedder) Close() error                    { return nil }

// mockVectorIndex captures upserted points.
type mockVectorIndex struct {
	points   []vectorstore.Point
	upsertFn func(points []vectorstore.Point) error
}

func (m *mockVectorIndex) Upsert(_ context.Context, points []vectorstore.Point) error {
	if m.upsertFn != nil {
		if err := m.upsertFn(points); err != nil {
			return err
		}
	}
	m.points = append(m.points, points...)
	return nil
}

// mockKeywordIndex captures keyword entries.
type mockKeywordIndex struct {
	texts   []string
	indexFn func(text string, metadata map[string]any) error
}

func (m *mockKeywordIndex) Index(text string, metadata map[string]any) error {
	if m.indexFn != nil {
		if err := m.indexFn(text, metadata); err != nil {
			return err
		}
	}
	m.texts = append(m.texts, text)
	return nil
}

func newTestPipeline(t *testing.T, embedder *mockEmbedder, vectors *mockVectorIndex, keywords *mockKeywordIndex) *Pipeline {
	t.Helper()
	chunker, err := chunk.New(chunk.Config{MaxTokens: 64, OverlapTokens: 16})
	require.NoError(t, err)
	return New(chunker, embedder, vectors, keywords, embedder.dimensions)
}

func testDoc() model.Document {
	return model.Document{
		URL:      "https://E.com/a?utm_source=x",
		Markdown: "# A\n\nhello world",
		Title:    "A page",
		Language: "en",
	}
}

func TestIndex_HappyPath(t *testing.T) {
	vectors := &mockVectorIndex{}
	keywords := &mockKeywordIndex{}
	p := newTestPipeline(t, &mockEmbedder{dimensions: 4}, vectors, keywords)

	result := p.Index(context.Background(), testDoc(), "job-1", "crawl-1")

	require.True(t, result.Success, "error: %s", result.Error)
	assert.Equal(t, 1, result.ChunksIndexed)
	assert.Greater(t, result.TotalTokens, 0)

	require.Len(t, vectors.points, 1)
	payload := vectors.points[0].Payload
	assert.Equal(t, "https://e.com/a", payload["canonical_url"])
	assert.Equal(t, "e.com", payload["domain"])
	assert.Equal(t, "A page", payload["title"])
	assert.NotEmpty(t, payload["text"])

	// The keyword index gets the full cleaned document, not chunks
	require.Len(t, keywords.texts, 1)
	assert.Contains(t, keywords.texts[0], "hello world")
}

func TestIndex_EmptyAfterCleaning(t *testing.T) {
	vectors := &mockVectorIndex{}
	p := newTestPipeline(t, &mockEmbedder{dimensions: 4}, vectors, &mockKeywordIndex{})

	doc := testDoc()
	doc.Markdown = "  \x00\x01  \r "

	result := p.Index(context.Background(), doc, "", "")

	assert.False(t, result.Success)
	assert.Equal(t, "No content after cleaning", result.Error)
	assert.Zero(t, result.ChunksIndexed)
	assert.Empty(t, vectors.points)
}

func TestIndex_DimensionMismatchStopsBeforeUpsert(t *testing.T) {
	vectors := &mockVectorIndex{}
	keywords := &mockKeywordIndex{}
	chunker, err := chunk.New(chunk.Config{MaxTokens: 64, OverlapTokens: 16})
	require.NoError(t, err)

	// Embedder emits 4-dim vectors but the collection expects 3
	p := New(chunker, &mockEmbedder{dimensions: 4}, vectors, keywords, 3)

	result := p.Index(context.Background(), testDoc(), "", "")

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "dimension mismatch")
	assert.Equal(t, apperr.CodeDimensionMismatch, result.ErrorType)
	assert.Empty(t, vectors.points, "nothing may reach the vector store")
	assert.Empty(t, keywords.texts, "keyword index must stay untouched")
}

func TestIndex_EmbedFailure(t *testing.T) {
	embedErr := apperr.New(apperr.CodeUpstreamUnavailable, "inference down", nil)
	p := newTestPipeline(t, &mockEmbedder{dimensions: 4, err: embedErr}, &mockVectorIndex{}, &mockKeywordIndex{})

	result := p.Index(context.Background(), testDoc(), "", "")

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "Embedding failed")
	assert.Equal(t, apperr.CodeUpstreamUnavailable, result.ErrorType)
}

func TestIndex_UpsertFailure(t *testing.T) {
	vectors := &mockVectorIndex{
		upsertFn: func([]vectorstore.Point) error {
			return errors.New("connection refused")
		},
	}
	keywords := &mockKeywordIndex{}
	p := newTestPipeline(t, &mockEmbedder{dimensions: 4}, vectors, keywords)

	result := p.Index(context.Background(), testDoc(), "", "")

	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "Vector indexing failed")
	assert.Empty(t, keywords.texts, "keyword step must not run after a failed upsert")
}

func TestIndex_KeywordFailureIsNonFatal(t *testing.T) {
	vectors := &mockVectorIndex{}
	keywords := &mockKeywordIndex{
		indexFn: func(string, map[string]any) error {
			return errors.New("lock timeout")
		},
	}
	p := newTestPipeline(t, &mockEmbedder{dimensions: 4}, vectors, keywords)

	result := p.Index(context.Background(), testDoc(), "", "")

	assert.True(t, result.Success)
	assert.Equal(t, 1, result.ChunksIndexed)
	assert.NotEmpty(t, vectors.points)
}

func TestIndex_StablePointIDs(t *testing.T) {
	vectors := &mockVectorIndex{}
	p := newTestPipeline(t, &mockEmbedder{dimensions: 4}, vectors, &mockKeywordIndex{})

	p.Index(context.Background(), testDoc(), "", "")
	p.Index(context.Background(), testDoc(), "", "")

	require.Len(t, vectors.points, 2)
	assert.Equal(t, vectors.points[0].ID, vectors.points[1].ID,
		"re-indexing the same page must reuse point ids")
}

func TestIndex_MultiChunkDocument(t *testing.T) {
	vectors := &mockVectorIndex{}
	p := newTestPipeline(t, &mockEmbedder{dimensions: 4}, vectors, &mockKeywordIndex{})

	doc := testDoc()
	doc.Markdown = strings.Repeat("the quick brown fox jumps over the lazy dog ", 50)

	result := p.Index(context.Background(), doc, "", "")

	require.True(t, result.Success)
	assert.Greater(t, result.ChunksIndexed, 1)
	assert.Len(t, vectors.points, result.ChunksIndexed)

	// Each point carries its own chunk index
	seen := map[any]bool{}
	for _, pt := range vectors.points {
		seen[pt.Payload["chunk_index"]] = true
	}
	assert.Len(t, seen, result.ChunksIndexed)
}
