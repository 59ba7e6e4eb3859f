// Package pipeline runs the per-document indexing sequence: clean the
// Markdown, chunk it, embed the chunks, upsert vectors, then add the full
// document to the keyword index. Step order is strict; the keyword step is
// the only one allowed to fail without failing the document.
package pipeline

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"

	"github.com/searchbridge/searchbridge/internal/apperr"
	"github.com/searchbridge/searchbridge/internal/chunk"
	"github.com/searchbridge/searchbridge/internal/embed"
	"github.com/searchbridge/searchbridge/internal/model"
	"github.com/searchbridge/searchbridge/internal/textproc"
	"github.com/searchbridge/searchbridge/internal/vectorstore"
)

// VectorIndex is the slice of the vector store the pipeline needs.
type VectorIndex interface {
	Upsert(ctx context.Context, points []vectorstore.Point) error
}

// KeywordIndex is the slice of the BM25 engine the pipeline needs.
type KeywordIndex interface {
	Index(text string, metadata map[string]any) error
}

// Result reports the outcome of indexing one document. Failures are data,
// not errors: a batch collects one Result per document and never aborts.
type Result struct {
	Success       bool   `json:"success"`
	URL           string `json:"url"`
	ChunksIndexed int    `json:"chunks_indexed"`
	TotalTokens   int    `json:"total_tokens"`
	Error         string `json:"error,omitempty"`
	ErrorType     string `json:"error_type,omitempty"`
}

// Pipeline wires the shared services together for one document at a time.
// Instances are cheap; the service pool hands out a fresh one per job while
// the underlying clients stay shared.
type Pipeline struct {
	chunker    *chunk.Chunker
	embedder   embed.Embedder
	vectors    VectorIndex
	keywords   KeywordIndex
	dimensions int
}

// New creates a Pipeline around the shared services.
func New(chunker *chunk.Chunker, embedder embed.Embedder, vectors VectorIndex, keywords KeywordIndex, dimensions int) *Pipeline {
	return &Pipeline{
		chunker:    chunker,
		embedder:   embedder,
		vectors:    vectors,
		keywords:   keywords,
		dimensions: dimensions,
	}
}

// Index runs the full sequence for one document. jobID and crawlID are
// carried into logs only; the returned Result is what the batch worker
// stores.
func (p *Pipeline) Index(ctx context.Context, doc model.Document, jobID, crawlID string) Result {
	result := Result{URL: doc.URL}

	cleaned := textproc.CleanMarkdown(doc.Markdown)
	if cleaned == "" {
		result.Error = "No content after cleaning"
		result.ErrorType = apperr.CodeInvalidInput
		return result
	}

	metadata := buildMetadata(doc)

	chunks, err := p.chunker.Split(cleaned, metadata)
	if err != nil {
		result.Error = fmt.Sprintf("Chunking failed: %v", err)
		result.ErrorType = apperr.GetCode(err)
		return result
	}
	if len(chunks) == 0 {
		result.Error = "No chunks generated"
		result.ErrorType = apperr.CodeChunking
		return result
	}

	texts := make([]string, len(chunks))
	totalTokens := 0
	for i, ch := range chunks {
		texts[i] = ch.Text
		totalTokens += ch.TokenCount
	}
	result.TotalTokens = totalTokens

	embeddings, err := p.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		result.Error = fmt.Sprintf("Embedding failed: %v", err)
		result.ErrorType = apperr.GetCode(err)
		return result
	}

	if len(embeddings[0]) != p.dimensions {
		result.Error = fmt.Sprintf("Embedding dimension mismatch: got %d, expected %d",
			len(embeddings[0]), p.dimensions)
		result.ErrorType = apperr.CodeDimensionMismatch
		return result
	}

	points := make([]vectorstore.Point, len(chunks))
	for i, ch := range chunks {
		payload := make(map[string]any, len(metadata)+2)
		for k, v := range metadata {
			payload[k] = v
		}
		payload["text"] = ch.Text
		payload["chunk_index"] = ch.Index

		points[i] = vectorstore.Point{
			ID:      pointID(metadata["canonical_url"].(string), ch.Index),
			Vector:  embeddings[i],
			Payload: payload,
		}
	}

	if err := p.vectors.Upsert(ctx, points); err != nil {
		result.Error = fmt.Sprintf("Vector indexing failed: %v", err)
		result.ErrorType = apperr.GetCode(err)
		return result
	}
	result.ChunksIndexed = len(points)

	// Keyword indexing runs after the upsert so a searcher never finds a
	// keyword-only hit without its vector counterpart. Failure here does
	// not fail the document.
	if err := p.keywords.Index(cleaned, metadata); err != nil {
		slog.Warn("keyword_index_failed",
			"url", doc.URL, "job_id", jobID, "crawl_id", crawlID, "error", err)
	}

	result.Success = true
	return result
}

// buildMetadata assembles the metadata attached to every chunk payload and
// to the keyword entry.
func buildMetadata(doc model.Document) map[string]any {
	canonical := textproc.CanonicalURL(doc.URL)
	return map[string]any{
		"url":           doc.URL,
		"canonical_url": canonical,
		"domain":        textproc.Domain(canonical),
		"title":         doc.Title,
		"description":   doc.Description,
		"language":      doc.Language,
		"country":       doc.Country,
		"is_mobile":     doc.IsMobile,
	}
}

// pointID derives a stable UUID-shaped id from the canonical URL and chunk
// index so re-indexing the same page overwrites its points instead of
// accumulating duplicates.
func pointID(canonicalURL string, index int) string {
	h := sha256.Sum256(fmt.Appendf(nil, "%s#%d", canonicalURL, index))
	h[6] = (h[6] & 0x0f) | 0x50
	h[8] = (h[8] & 0x3f) | 0x80
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x",
		h[0:4], h[4:6], h[6:8], h[8:10], h[10:16])
}
