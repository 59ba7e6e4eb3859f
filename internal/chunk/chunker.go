// Package chunk splits document text into overlapping token windows sized to
// the embedder's context. Windows are produced with the same tokenizer the
// embedding model uses, so token counts line up with the model's limits.
package chunk

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/searchbridge/searchbridge/internal/apperr"
)

// Chunk is one token window of a document.
type Chunk struct {
	// Index is the 0-based position of the chunk within its document.
	Index int
	// TokenCount is the number of tokens in this window.
	TokenCount int
	// StartToken and EndToken are the window's token offsets in the
	// document's full encoding. EndToken is exclusive.
	StartToken int
	EndToken   int
	// Text is the decoded window text.
	Text string
	// Metadata carries the document metadata inherited by every chunk.
	Metadata map[string]any
}

// Config sets the window geometry.
type Config struct {
	// MaxTokens is the window size. Chunks never exceed it.
	MaxTokens int
	// OverlapTokens is how many tokens consecutive windows share.
	// Must be smaller than MaxTokens.
	OverlapTokens int
	// Encoding names the tiktoken encoding (default cl100k_base).
	Encoding string
}

// DefaultConfig returns the window geometry used in production.
func DefaultConfig() Config {
	return Config{
		MaxTokens:     256,
		OverlapTokens: 50,
		Encoding:      "cl100k_base",
	}
}

// Chunker produces token windows from text. One instance is shared by all
// indexing jobs in the process; the tokenizer is not reentrant, so encode
// and decode run under a mutex.
type Chunker struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
	cfg Config
}

// New creates a Chunker with the given configuration.
func New(cfg Config) (*Chunker, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultConfig().MaxTokens
	}
	if cfg.OverlapTokens < 0 || cfg.OverlapTokens >= cfg.MaxTokens {
		cfg.OverlapTokens = DefaultConfig().OverlapTokens
		if cfg.OverlapTokens >= cfg.MaxTokens {
			cfg.OverlapTokens = cfg.MaxTokens / 4
		}
	}
	if cfg.Encoding == "" {
		cfg.Encoding = DefaultConfig().Encoding
	}

	enc, err := tiktoken.GetEncoding(cfg.Encoding)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeChunking, err)
	}

	return &Chunker{enc: enc, cfg: cfg}, nil
}

// Split encodes text and walks it in strides of MaxTokens−OverlapTokens,
// decoding each window back to text. Consecutive chunks overlap by exactly
// OverlapTokens tokens except for the final tail; together they cover the
// document end to end. Metadata is copied onto every chunk.
func (c *Chunker) Split(text string, metadata map[string]any) ([]Chunk, error) {
	if text == "" {
		return nil, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tokens := c.enc.Encode(text, nil, nil)
	if len(tokens) == 0 {
		return nil, nil
	}

	stride := c.cfg.MaxTokens - c.cfg.OverlapTokens
	if stride < 1 {
		stride = 1
	}

	var chunks []Chunk
	for start := 0; start < len(tokens); start += stride {
		end := start + c.cfg.MaxTokens
		if end > len(tokens) {
			end = len(tokens)
		}

		window := tokens[start:end]
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			TokenCount: len(window),
			StartToken: start,
			EndToken:   end,
			Text:       c.enc.Decode(window),
			Metadata:   copyMetadata(metadata),
		})

		if end == len(tokens) {
			break
		}
	}

	return chunks, nil
}

// CountTokens returns the token count of text under the chunker's encoding.
func (c *Chunker) CountTokens(text string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(text, nil, nil))
}

// MaxTokens returns the configured window size.
func (c *Chunker) MaxTokens() int {
	return c.cfg.MaxTokens
}

func copyMetadata(metadata map[string]any) map[string]any {
	if metadata == nil {
		return nil
	}
	out := make(map[string]any, len(metadata))
	for k, v := range metadata {
		out[k] = v
	}
	return out
}
