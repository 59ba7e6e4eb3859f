// Package services owns the process-wide singleton pool of long-lived
// clients: one tokenizer, one embedding HTTP pool, one vector store
// connection, one BM25 corpus. Every indexing job and search request
// borrows from the same pool instead of rebuilding clients.
package services

import (
	"context"
	"log/slog"
	"sync"

	"github.com/searchbridge/searchbridge/internal/chunk"
	"github.com/searchbridge/searchbridge/internal/config"
	"github.com/searchbridge/searchbridge/internal/embed"
	"github.com/searchbridge/searchbridge/internal/keyword"
	"github.com/searchbridge/searchbridge/internal/pipeline"
	"github.com/searchbridge/searchbridge/internal/search"
	"github.com/searchbridge/searchbridge/internal/vectorstore"
)

// Pool holds the shared service clients.
type Pool struct {
	Chunker  *chunk.Chunker
	Embedder embed.Embedder
	Vectors  *vectorstore.Store
	Keywords *keyword.Engine

	cfg *config.Config
}

var (
	mu       sync.Mutex
	instance *Pool
)

// Get returns the process pool, building it on first access. Construction
// runs under a mutex with a second existence check so concurrent first
// callers build it exactly once.
func Get(cfg *config.Config) (*Pool, error) {
	if p := current(); p != nil {
		return p, nil
	}

	mu.Lock()
	defer mu.Unlock()
	if instance != nil {
		return instance, nil
	}

	p, err := build(cfg)
	if err != nil {
		return nil, err
	}
	instance = p
	return instance, nil
}

func current() *Pool {
	mu.Lock()
	defer mu.Unlock()
	return instance
}

// build constructs all shared clients. None of them dials eagerly except
// the BM25 snapshot load, which tolerates lock contention at startup.
func build(cfg *config.Config) (*Pool, error) {
	chunker, err := chunk.New(chunk.Config{
		MaxTokens:     cfg.Chunking.MaxTokens,
		OverlapTokens: cfg.Chunking.OverlapTokens,
		Encoding:      cfg.Chunking.Encoding,
	})
	if err != nil {
		return nil, err
	}

	embedder := embed.NewCachedEmbedder(embed.NewTEIEmbedder(embed.Config{
		URL:        cfg.Embedder.URL,
		APIKey:     cfg.Embedder.APIKey,
		Model:      cfg.Embedder.Model,
		Dimensions: cfg.Embedder.VectorDim,
		Timeout:    cfg.Embedder.Timeout,
	}), cfg.Embedder.CacheSize)

	vectors, err := vectorstore.New(vectorstore.Config{
		Host:       cfg.Vector.Host,
		Port:       cfg.Vector.Port,
		APIKey:     cfg.Vector.APIKey,
		UseTLS:     cfg.Vector.UseTLS,
		Collection: cfg.Vector.Collection,
		Dimensions: cfg.Embedder.VectorDim,
		Timeout:    cfg.Vector.Timeout,
	})
	if err != nil {
		_ = embedder.Close()
		return nil, err
	}

	keywords, err := keyword.New(keyword.Config{
		K1:          cfg.BM25.K1,
		B:           cfg.BM25.B,
		IndexPath:   cfg.BM25.IndexPath,
		LockTimeout: cfg.BM25.LockTimeout,
	})
	if err != nil {
		_ = embedder.Close()
		_ = vectors.Close()
		return nil, err
	}

	slog.Info("service_pool_initialized",
		"collection", cfg.Vector.Collection,
		"vector_dim", cfg.Embedder.VectorDim,
		"bm25_documents", keywords.DocCount())

	return &Pool{
		Chunker:  chunker,
		Embedder: embedder,
		Vectors:  vectors,
		Keywords: keywords,
		cfg:      cfg,
	}, nil
}

// IndexingService returns a fresh pipeline wrapping the shared clients.
// Pipelines are stateless; one per job is the intended pattern.
func (p *Pool) IndexingService() *pipeline.Pipeline {
	return pipeline.New(p.Chunker, p.Embedder, p.Vectors, p.Keywords, p.cfg.Embedder.VectorDim)
}

// SearchService returns a search orchestrator over the shared clients.
func (p *Pool) SearchService() *search.Orchestrator {
	return search.New(p.Embedder, p.Vectors, p.Keywords, p.cfg.Search.RRFK)
}

// EnsureCollection prepares the vector collection at startup.
func (p *Pool) EnsureCollection(ctx context.Context) error {
	return p.Vectors.EnsureCollection(ctx)
}

// Close flushes the BM25 snapshot best-effort and drains the HTTP and
// gRPC pools.
func (p *Pool) Close() error {
	if err := p.Keywords.Save(); err != nil {
		slog.Warn("bm25_shutdown_flush_failed", "error", err)
	}
	if err := p.Embedder.Close(); err != nil {
		slog.Warn("embedder_close_failed", "error", err)
	}
	if err := p.Vectors.Close(); err != nil {
		slog.Warn("vector_store_close_failed", "error", err)
	}
	slog.Info("service_pool_closed")
	return nil
}

// Reset drops the singleton. Tests only.
func Reset() {
	mu.Lock()
	defer mu.Unlock()
	instance = nil
}
