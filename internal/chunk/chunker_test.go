package chunk

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestChunker(t *testing.T, maxTokens, overlap int) *Chunker {
	t.Helper()
	c, err := New(Config{MaxTokens: maxTokens, OverlapTokens: overlap, Encoding: "cl100k_base"})
	require.NoError(t, err)
	return c
}

func TestSplit_ShortTextSingleChunk(t *testing.T) {
	c := newTestChunker(t, 256, 50)

	chunks, err := c.Split("hello world", map[string]any{"url": "https://e.com/a"})
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 0, chunks[0].StartToken)
	assert.Equal(t, chunks[0].TokenCount, chunks[0].EndToken)
	assert.Equal(t, "hello world", chunks[0].Text)
	assert.Equal(t, "https://e.com/a", chunks[0].Metadata["url"])
}

func TestSplit_EmptyTextNoChunks(t *testing.T) {
	c := newTestChunker(t, 256, 50)

	chunks, err := c.Split("", nil)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplit_WindowGeometry(t *testing.T) {
	// Given: a document much longer than one window
	c := newTestChunker(t, 32, 8)
	text := strings.Repeat("the quick brown fox jumps over the lazy dog ", 40)
	total := c.CountTokens(text)

	// When: splitting
	chunks, err := c.Split(text, nil)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 2)

	// Then: every chunk respects the token cap
	for _, ch := range chunks {
		assert.LessOrEqual(t, ch.TokenCount, 32)
		assert.Equal(t, ch.EndToken-ch.StartToken, ch.TokenCount)
	}

	// And: consecutive windows overlap by exactly the configured amount,
	// except possibly the final tail
	for i := 1; i < len(chunks); i++ {
		overlap := chunks[i-1].EndToken - chunks[i].StartToken
		if i < len(chunks)-1 {
			assert.Equal(t, 8, overlap, "chunk %d", i)
		} else {
			assert.GreaterOrEqual(t, overlap, 0)
		}
	}

	// And: windows cover the document end to end
	assert.Equal(t, 0, chunks[0].StartToken)
	assert.Equal(t, total, chunks[len(chunks)-1].EndToken)

	// And: summed token counts meet or exceed the document's encoding
	sum := 0
	for _, ch := range chunks {
		sum += ch.TokenCount
	}
	assert.GreaterOrEqual(t, sum, total)
}

func TestSplit_ChunkIndicesSequential(t *testing.T) {
	c := newTestChunker(t, 16, 4)
	text := strings.Repeat("alpha beta gamma delta ", 30)

	chunks, err := c.Split(text, nil)
	require.NoError(t, err)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
	}
}

func TestSplit_MetadataCopiedNotShared(t *testing.T) {
	c := newTestChunker(t, 16, 4)
	meta := map[string]any{"domain": "e.com"}

	chunks, err := c.Split(strings.Repeat("word ", 100), meta)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	chunks[0].Metadata["domain"] = "mutated"
	assert.Equal(t, "e.com", chunks[1].Metadata["domain"])
	assert.Equal(t, "e.com", meta["domain"])
}

func TestSplit_ConcurrentCallsSafe(t *testing.T) {
	// The tokenizer is shared; concurrent Split calls must serialize cleanly.
	c := newTestChunker(t, 32, 8)
	text := strings.Repeat("concurrent access to the tokenizer ", 50)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			chunks, err := c.Split(text, nil)
			assert.NoError(t, err)
			assert.NotEmpty(t, chunks)
		}()
	}
	wg.Wait()
}

func TestNew_InvalidOverlapFallsBack(t *testing.T) {
	c, err := New(Config{MaxTokens: 10, OverlapTokens: 20})
	require.NoError(t, err)

	chunks, err := c.Split(strings.Repeat("x ", 100), nil)
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
}
