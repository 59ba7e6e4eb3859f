// Package embed provides the client for the external embedding inference
// service. The service is an HTTP oracle: text in, fixed-dimension float
// vectors out. The client batches, retries, and pools connections.
package embed

import (
	"context"
	"time"
)

// Embedder generates embeddings for text.
type Embedder interface {
	// Embed generates an embedding for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch generates embeddings for multiple texts in one call.
	// The result has the same length and order as the input.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the embedding dimension.
	Dimensions() int

	// ModelName returns the model identifier.
	ModelName() string

	// Healthy probes the inference service.
	Healthy(ctx context.Context) error

	// Close releases HTTP resources.
	Close() error
}

// Config configures the TEI client.
type Config struct {
	// URL is the inference service base URL.
	URL string
	// APIKey is sent as a bearer token when set.
	APIKey string
	// Model is the model identifier, used for cache keys and reporting.
	Model string
	// Dimensions is the expected embedding dimension.
	Dimensions int
	// Timeout bounds each HTTP attempt (default 30s).
	Timeout time.Duration
	// PoolSize caps idle pooled connections (default 8).
	PoolSize int
	// Retry controls backoff for failed attempts.
	Retry RetryConfig
}

// DefaultConfig returns production defaults for the TEI client.
func DefaultConfig() Config {
	return Config{
		Timeout:  30 * time.Second,
		PoolSize: 8,
		Retry:    DefaultRetryConfig(),
	}
}
