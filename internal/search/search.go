// Package search orchestrates queries across the vector store and the
// keyword index. Hybrid mode over-fetches both legs, fuses them with
// reciprocal rank fusion, and pages over the fused ranking.
package search

import (
	"context"
	"math"
	"strings"

	"github.com/searchbridge/searchbridge/internal/apperr"
	"github.com/searchbridge/searchbridge/internal/keyword"
	"github.com/searchbridge/searchbridge/internal/vectorstore"
	"github.com/searchbridge/searchbridge/pkg/fusion"
)

// Search modes. "bm25" is accepted as an alias for keyword.
const (
	ModeHybrid   = "hybrid"
	ModeSemantic = "semantic"
	ModeKeyword  = "keyword"
	ModeBM25     = "bm25"
)

// hybridFetchFactor over-fetches each leg so fusion has enough candidates
// to fill the requested page after deduplication.
const hybridFetchFactor = 1.5

// QueryEmbedder embeds search queries.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// VectorSearcher is the slice of the vector store search needs.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, limit int, filter vectorstore.Filter) ([]vectorstore.SearchResult, error)
}

// KeywordSearcher is the slice of the BM25 engine search needs.
type KeywordSearcher interface {
	Search(query string, limit, offset int, filter keyword.Filter) ([]keyword.Result, int, error)
}

// Filters narrows results by exact metadata matches.
type Filters struct {
	Domain   string `json:"domain,omitempty"`
	Language string `json:"language,omitempty"`
	Country  string `json:"country,omitempty"`
	IsMobile *bool  `json:"isMobile,omitempty"`
}

// Request is one search invocation.
type Request struct {
	Query   string
	Mode    string
	Limit   int
	Offset  int
	Filters Filters
}

// Row is one result returned to the API layer.
type Row struct {
	URL         string         `json:"url"`
	Title       string         `json:"title,omitempty"`
	Description string         `json:"description,omitempty"`
	Text        string         `json:"text"`
	Score       float64        `json:"score"`
	Metadata    map[string]any `json:"metadata"`
}

// Orchestrator runs queries against the shared services.
type Orchestrator struct {
	embedder QueryEmbedder
	vectors  VectorSearcher
	keywords KeywordSearcher
	rrfK     int
}

// New creates an Orchestrator. rrfK of zero or less uses the default.
func New(embedder QueryEmbedder, vectors VectorSearcher, keywords KeywordSearcher, rrfK int) *Orchestrator {
	if rrfK <= 0 {
		rrfK = fusion.DefaultK
	}
	return &Orchestrator{embedder: embedder, vectors: vectors, keywords: keywords, rrfK: rrfK}
}

// Search dispatches on mode and returns the result page plus the total
// match count. An empty query short-circuits to an empty result.
func (o *Orchestrator) Search(ctx context.Context, req Request) ([]Row, int, error) {
	if strings.TrimSpace(req.Query) == "" {
		return []Row{}, 0, nil
	}
	if req.Limit <= 0 {
		req.Limit = 10
	}
	if req.Offset < 0 {
		req.Offset = 0
	}

	switch req.Mode {
	case ModeSemantic:
		return o.semantic(ctx, req)
	case ModeKeyword, ModeBM25:
		return o.keyword(req)
	case ModeHybrid, "":
		return o.hybrid(ctx, req)
	default:
		return nil, 0, apperr.Newf(apperr.CodeInvalidMode, "unknown search mode %q", req.Mode)
	}
}

// semantic embeds the query and pages over the kNN results.
func (o *Orchestrator) semantic(ctx context.Context, req Request) ([]Row, int, error) {
	results, err := o.semanticFetch(ctx, req.Query, req.Limit+req.Offset, req.Filters)
	if err != nil {
		return nil, 0, err
	}

	total := len(results)
	if req.Offset >= total {
		return []Row{}, total, nil
	}
	end := req.Offset + req.Limit
	if end > total {
		end = total
	}

	rows := make([]Row, 0, end-req.Offset)
	for _, r := range results[req.Offset:end] {
		rows = append(rows, rowFromPayload(r.Payload, float64(r.Score)))
	}
	return rows, total, nil
}

// keyword pages directly in the BM25 engine.
func (o *Orchestrator) keyword(req Request) ([]Row, int, error) {
	results, total, err := o.keywords.Search(req.Query, req.Limit, req.Offset, keywordFilter(req.Filters))
	if err != nil {
		return nil, 0, err
	}

	rows := make([]Row, 0, len(results))
	for _, r := range results {
		rows = append(rows, rowFromKeyword(r))
	}
	return rows, total, nil
}

// hybrid over-fetches both legs from rank zero, fuses them, then slices
// the requested page out of the fused ranking.
func (o *Orchestrator) hybrid(ctx context.Context, req Request) ([]Row, int, error) {
	window := int(math.Ceil(float64(req.Limit+req.Offset) * hybridFetchFactor))

	semanticResults, err := o.semanticFetch(ctx, req.Query, window, req.Filters)
	if err != nil {
		return nil, 0, err
	}

	keywordResults, keywordTotal, err := o.keywords.Search(req.Query, window, 0, keywordFilter(req.Filters))
	if err != nil {
		return nil, 0, err
	}

	if len(semanticResults) == 0 && len(keywordResults) == 0 {
		return []Row{}, 0, nil
	}

	semanticItems := make([]fusion.Item, 0, len(semanticResults))
	for _, r := range semanticResults {
		semanticItems = append(semanticItems, fusion.Item{
			ID:      r.ID,
			Score:   float64(r.Score),
			Payload: r.Payload,
		})
	}
	keywordItems := make([]fusion.Item, 0, len(keywordResults))
	for _, r := range keywordResults {
		keywordItems = append(keywordItems, fusion.Item{
			Score:    r.Score,
			Text:     r.Text,
			Metadata: r.Metadata,
		})
	}

	fused := fusion.Fuse([][]fusion.Item{semanticItems, keywordItems}, o.rrfK)

	total := len(semanticResults)
	if keywordTotal > total {
		total = keywordTotal
	}

	if req.Offset >= len(fused) {
		return []Row{}, total, nil
	}
	end := req.Offset + req.Limit
	if end > len(fused) {
		end = len(fused)
	}

	rows := make([]Row, 0, end-req.Offset)
	for _, f := range fused[req.Offset:end] {
		rows = append(rows, rowFromFused(f))
	}
	return rows, total, nil
}

// semanticFetch embeds the query and runs the kNN leg. An empty embedding
// yields no results rather than an error.
func (o *Orchestrator) semanticFetch(ctx context.Context, query string, limit int, filters Filters) ([]vectorstore.SearchResult, error) {
	vector, err := o.embedder.Embed(ctx, query)
	if err != nil {
		if apperr.HasCode(err, apperr.CodeUpstreamEmpty) {
			return nil, nil
		}
		return nil, err
	}
	if len(vector) == 0 {
		return nil, nil
	}
	return o.vectors.Search(ctx, vector, limit, vectorFilter(filters))
}

func vectorFilter(f Filters) vectorstore.Filter {
	return vectorstore.Filter{
		Domain:   f.Domain,
		Language: f.Language,
		Country:  f.Country,
		IsMobile: f.IsMobile,
	}
}

func keywordFilter(f Filters) keyword.Filter {
	return keyword.Filter{
		Domain:   f.Domain,
		Language: f.Language,
		Country:  f.Country,
		IsMobile: f.IsMobile,
	}
}

// rowFromPayload builds a row from a semantic result's payload.
func rowFromPayload(payload map[string]any, score float64) Row {
	return Row{
		URL:         payloadString(payload, "url"),
		Title:       payloadString(payload, "title"),
		Description: payloadString(payload, "description"),
		Text:        payloadString(payload, "text"),
		Score:       score,
		Metadata:    payload,
	}
}

// rowFromKeyword builds a row from a BM25 result.
func rowFromKeyword(r keyword.Result) Row {
	return Row{
		URL:         payloadString(r.Metadata, "url"),
		Title:       payloadString(r.Metadata, "title"),
		Description: payloadString(r.Metadata, "description"),
		Text:        r.Text,
		Score:       r.Score,
		Metadata:    r.Metadata,
	}
}

// rowFromFused builds a row from whichever shape the first occurrence had,
// annotated with the fused score.
func rowFromFused(f fusion.Fused) Row {
	var row Row
	if f.Payload != nil {
		row = rowFromPayload(f.Payload, f.RRFScore)
	} else {
		row = Row{
			URL:         payloadString(f.Metadata, "url"),
			Title:       payloadString(f.Metadata, "title"),
			Description: payloadString(f.Metadata, "description"),
			Text:        f.Text,
			Score:       f.RRFScore,
			Metadata:    f.Metadata,
		}
	}

	annotated := make(map[string]any, len(row.Metadata)+1)
	for k, v := range row.Metadata {
		annotated[k] = v
	}
	annotated["rrf_score"] = f.RRFScore
	row.Metadata = annotated
	return row
}

func payloadString(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}
