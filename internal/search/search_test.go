package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchbridge/searchbridge/internal/apperr"
	"github.com/searchbridge/searchbridge/internal/keyword"
	"github.com/searchbridge/searchbridge/internal/vectorstore"
)

type mockEmbedder struct {
	vector []float32
	err    error
}

func (m *mockEmbedder) Embed(context.Context, string) ([]float32, error) {
	return m.vector, m.err
}

type mockVectors struct {
	results   []vectorstore.SearchResult
	gotLimit  int
	gotFilter vectorstore.Filter
}

func (m *mockVectors) Search(_ context.Context, _ []float32, limit int, filter vectorstore.Filter) ([]vectorstore.SearchResult, error) {
	m.gotLimit = limit
	m.gotFilter = filter
	if limit < len(m.results) {
		return m.results[:limit], nil
	}
	return m.results, nil
}

type mockKeywords struct {
	results   []keyword.Result
	total     int
	gotLimit  int
	gotOffset int
}

func (m *mockKeywords) Search(_ string, limit, offset int, _ keyword.Filter) ([]keyword.Result, int, error) {
	m.gotLimit = limit
	m.gotOffset = offset
	end := offset + limit
	if offset > len(m.results) {
		return nil, m.total, nil
	}
	if end > len(m.results) {
		end = len(m.results)
	}
	return m.results[offset:end], m.total, nil
}

func semanticResult(canonicalURL string, score float32) vectorstore.SearchResult {
	return vectorstore.SearchResult{
		ID:    "pt-" + canonicalURL,
		Score: score,
		Payload: map[string]any{
			"url":           "https://" + canonicalURL,
			"canonical_url": canonicalURL,
			"title":         "Title " + canonicalURL,
			"text":          "chunk text " + canonicalURL,
		},
	}
}

func keywordResult(canonicalURL string, score float64) keyword.Result {
	return keyword.Result{
		Score: score,
		Text:  "full document " + canonicalURL,
		Metadata: map[string]any{
			"url":           "https://" + canonicalURL,
			"canonical_url": canonicalURL,
		},
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	o := New(&mockEmbedder{vector: []float32{1}}, &mockVectors{}, &mockKeywords{}, 60)

	rows, total, err := o.Search(context.Background(), Request{Query: "   ", Mode: ModeHybrid})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Zero(t, total)
}

func TestSearch_UnknownMode(t *testing.T) {
	o := New(&mockEmbedder{vector: []float32{1}}, &mockVectors{}, &mockKeywords{}, 60)

	_, _, err := o.Search(context.Background(), Request{Query: "q", Mode: "fuzzy"})
	require.Error(t, err)
	assert.Equal(t, apperr.CodeInvalidMode, apperr.GetCode(err))
}

func TestSearch_SemanticMode(t *testing.T) {
	vectors := &mockVectors{results: []vectorstore.SearchResult{
		semanticResult("a.com/1", 0.9),
		semanticResult("a.com/2", 0.8),
	}}
	o := New(&mockEmbedder{vector: []float32{1, 2}}, vectors, &mockKeywords{}, 60)

	rows, total, err := o.Search(context.Background(), Request{Query: "q", Mode: ModeSemantic, Limit: 10})
	require.NoError(t, err)

	assert.Equal(t, 2, total)
	require.Len(t, rows, 2)
	assert.Equal(t, "https://a.com/1", rows[0].URL)
	assert.Equal(t, "chunk text a.com/1", rows[0].Text)
	assert.InDelta(t, 0.9, rows[0].Score, 1e-6)
}

func TestSearch_SemanticOffsetBeyondResults(t *testing.T) {
	vectors := &mockVectors{results: []vectorstore.SearchResult{semanticResult("a.com/1", 0.9)}}
	o := New(&mockEmbedder{vector: []float32{1}}, vectors, &mockKeywords{}, 60)

	rows, total, err := o.Search(context.Background(), Request{Query: "q", Mode: ModeSemantic, Limit: 10, Offset: 5})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Equal(t, 1, total)
}

func TestSearch_KeywordModeAndAlias(t *testing.T) {
	keywords := &mockKeywords{
		results: []keyword.Result{keywordResult("b.com/1", 4.2)},
		total:   7,
	}
	o := New(&mockEmbedder{}, &mockVectors{}, keywords, 60)

	for _, mode := range []string{ModeKeyword, ModeBM25} {
		rows, total, err := o.Search(context.Background(), Request{Query: "q", Mode: mode, Limit: 5})
		require.NoError(t, err)
		assert.Equal(t, 7, total)
		require.Len(t, rows, 1)
		assert.Equal(t, "https://b.com/1", rows[0].URL)
		assert.Equal(t, "full document b.com/1", rows[0].Text)
	}
}

func TestSearch_HybridFusesAndAnnotates(t *testing.T) {
	// x appears in both legs, y only semantic, z only keyword
	vectors := &mockVectors{results: []vectorstore.SearchResult{
		semanticResult("x", 0.9),
		semanticResult("y", 0.8),
	}}
	keywords := &mockKeywords{
		results: []keyword.Result{keywordResult("x", 5.0), keywordResult("z", 3.0)},
		total:   2,
	}
	o := New(&mockEmbedder{vector: []float32{1}}, vectors, keywords, 60)

	rows, total, err := o.Search(context.Background(), Request{Query: "q", Mode: ModeHybrid, Limit: 10})
	require.NoError(t, err)

	require.Len(t, rows, 3)
	assert.Equal(t, "https://x", rows[0].URL)
	assert.InDelta(t, 1.0/61+1.0/61, rows[0].Score, 1e-12)
	assert.InDelta(t, 1.0/61+1.0/61, rows[0].Metadata["rrf_score"], 1e-12)
	assert.Equal(t, 2, total, "total is max of both legs")

	// The first occurrence of x was semantic, so its text is the chunk text
	assert.Equal(t, "chunk text x", rows[0].Text)
}

func TestSearch_HybridFetchWindow(t *testing.T) {
	vectors := &mockVectors{}
	keywords := &mockKeywords{}
	o := New(&mockEmbedder{vector: []float32{1}}, vectors, keywords, 60)

	_, _, err := o.Search(context.Background(), Request{Query: "q", Mode: ModeHybrid, Limit: 10, Offset: 10})
	require.NoError(t, err)

	// ceil((10+10)*1.5) == 30, fetched from rank zero on both legs
	assert.Equal(t, 30, vectors.gotLimit)
	assert.Equal(t, 30, keywords.gotLimit)
	assert.Equal(t, 0, keywords.gotOffset)
}

func TestSearch_DefaultModeIsHybrid(t *testing.T) {
	keywords := &mockKeywords{
		results: []keyword.Result{keywordResult("k.com", 2.0)},
		total:   1,
	}
	o := New(&mockEmbedder{vector: []float32{1}}, &mockVectors{}, keywords, 60)

	rows, _, err := o.Search(context.Background(), Request{Query: "q", Limit: 5})
	require.NoError(t, err)
	require.Len(t, rows, 1)
}

func TestSearch_EmptyEmbeddingShortCircuits(t *testing.T) {
	o := New(&mockEmbedder{vector: nil}, &mockVectors{}, &mockKeywords{}, 60)

	rows, total, err := o.Search(context.Background(), Request{Query: "q", Mode: ModeSemantic, Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, rows)
	assert.Zero(t, total)
}

func TestSearch_FiltersForwarded(t *testing.T) {
	vectors := &mockVectors{}
	mobile := true
	o := New(&mockEmbedder{vector: []float32{1}}, vectors, &mockKeywords{}, 60)

	_, _, err := o.Search(context.Background(), Request{
		Query: "q", Mode: ModeSemantic, Limit: 5,
		Filters: Filters{Domain: "e.com", Language: "en", IsMobile: &mobile},
	})
	require.NoError(t, err)

	assert.Equal(t, "e.com", vectors.gotFilter.Domain)
	assert.Equal(t, "en", vectors.gotFilter.Language)
	require.NotNil(t, vectors.gotFilter.IsMobile)
	assert.True(t, *vectors.gotFilter.IsMobile)
}
