package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/searchbridge/searchbridge/internal/apperr"
)

// TEIEmbedder generates embeddings over the text-embeddings-inference HTTP
// API. The HTTP client is built lazily on first use so that constructing the
// service pool never blocks on the network.
type TEIEmbedder struct {
	config Config

	initOnce  sync.Once
	client    *http.Client
	transport *http.Transport

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time
var _ Embedder = (*TEIEmbedder)(nil)

// teiRequest is the /embed request body.
type teiRequest struct {
	Inputs    []string `json:"inputs"`
	Truncate  bool     `json:"truncate"`
	Normalize bool     `json:"normalize"`
}

// NewTEIEmbedder creates a TEI client. No connection is made until the first
// embedding call.
func NewTEIEmbedder(cfg Config) *TEIEmbedder {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = DefaultConfig().PoolSize
	}
	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry = DefaultRetryConfig()
	}
	return &TEIEmbedder{config: cfg}
}

// init builds the pooled HTTP client. Per-request timeouts come from
// context, not the client, so callers keep cancellation control.
func (e *TEIEmbedder) init() {
	e.initOnce.Do(func() {
		e.transport = &http.Transport{
			MaxIdleConns:        e.config.PoolSize,
			MaxIdleConnsPerHost: e.config.PoolSize,
			MaxConnsPerHost:     e.config.PoolSize * 2,
			IdleConnTimeout:     90 * time.Second,
		}
		e.client = &http.Client{Transport: e.transport}
	})
}

// Embed generates an embedding for a single text.
func (e *TEIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch generates embeddings for multiple texts in one request.
// Empty input and blank texts fail with InvalidInput; a service response
// with missing or empty vectors fails with UpstreamEmpty; transport and
// status errors retry and then fail with UpstreamUnavailable.
func (e *TEIEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return nil, apperr.New(apperr.CodeInternal, "embedder is closed", nil)
	}
	e.mu.RUnlock()

	if len(texts) == 0 {
		return nil, apperr.New(apperr.CodeInvalidInput, "no texts to embed", nil)
	}
	for i, text := range texts {
		if strings.TrimSpace(text) == "" {
			return nil, apperr.Newf(apperr.CodeInvalidInput, "text at index %d is empty", i)
		}
	}

	e.init()

	var vectors [][]float32
	err := doWithRetry(ctx, e.config.Retry, func() error {
		attemptCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
		defer cancel()

		result, err := e.doEmbed(attemptCtx, texts)
		if err != nil {
			return err
		}
		vectors = result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vectors, nil
}

// doEmbed performs one /embed request.
func (e *TEIEmbedder) doEmbed(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(teiRequest{Inputs: texts, Truncate: true, Normalize: true})
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err)
	}

	url := strings.TrimRight(e.config.URL, "/") + "/embed"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if e.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+e.config.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("embedding service status %d: %s", resp.StatusCode, string(respBody))
	}

	var vectors [][]float32
	if err := json.NewDecoder(resp.Body).Decode(&vectors); err != nil {
		return nil, fmt.Errorf("decode embedding response: %w", err)
	}

	if len(vectors) != len(texts) {
		return nil, apperr.Newf(apperr.CodeUpstreamEmpty,
			"embedding service returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, vec := range vectors {
		if len(vec) == 0 {
			return nil, apperr.Newf(apperr.CodeUpstreamEmpty, "empty vector at index %d", i)
		}
	}

	return vectors, nil
}

// Dimensions returns the configured embedding dimension.
func (e *TEIEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// ModelName returns the model identifier.
func (e *TEIEmbedder) ModelName() string {
	return e.config.Model
}

// Healthy probes the service with a single short embedding call.
func (e *TEIEmbedder) Healthy(ctx context.Context) error {
	e.init()
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := e.doEmbed(ctx, []string{"ping"})
	return err
}

// Close drains the connection pool. Safe to call more than once.
func (e *TEIEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	if e.transport != nil {
		e.transport.CloseIdleConnections()
	}
	slog.Debug("embedder_closed")
	return nil
}
