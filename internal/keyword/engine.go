// Package keyword implements the Okapi BM25 index used for the keyword leg
// of hybrid search. The corpus lives in memory; a gob snapshot on disk makes
// it survive restarts and shares it across worker processes, guarded by an
// advisory lock file.
package keyword

import (
	"encoding/gob"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/searchbridge/searchbridge/internal/apperr"
)

func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// Config sets scoring parameters and persistence paths.
type Config struct {
	// K1 controls term-frequency saturation (default 1.5).
	K1 float64
	// B controls document-length normalization (default 0.75).
	B float64
	// IndexPath is the snapshot file. The lock file is IndexPath + ".lock".
	IndexPath string
	// LockTimeout bounds advisory lock acquisition (default 30s).
	LockTimeout time.Duration
}

// DefaultConfig returns production scoring parameters.
func DefaultConfig() Config {
	return Config{
		K1:          1.5,
		B:           0.75,
		LockTimeout: 30 * time.Second,
	}
}

// Filter narrows search results by exact metadata matches.
// Zero values mean "no constraint".
type Filter struct {
	Domain   string
	Language string
	Country  string
	IsMobile *bool
}

// Result is one scored document.
type Result struct {
	// Index is the document's position in the corpus.
	Index int
	// Score is the BM25 score for the query.
	Score float64
	// Text is the original document text.
	Text string
	// Metadata is the metadata stored at index time.
	Metadata map[string]any
}

// snapshot is the on-disk representation. The derived statistics are cheap
// to recompute, so only the raw corpus is persisted.
type snapshot struct {
	Corpus          []string
	TokenizedCorpus [][]string
	Metadata        []map[string]any
}

// Engine is the in-memory BM25 index. One instance is shared per process;
// the mutex serializes corpus access and the flock coordinates snapshot
// file access with peer processes.
type Engine struct {
	cfg      Config
	fileLock *flock.Flock

	mu       sync.RWMutex
	corpus   []string
	tokens   [][]string
	metadata []map[string]any

	// Derived scoring state, rebuilt on every corpus change.
	docFreq map[string]int
	docLen  []int
	avgLen  float64
}

// New creates an Engine and loads the snapshot if one exists. A lock
// timeout or a corrupt snapshot leaves the engine empty rather than
// failing startup; the file itself is never wiped on load problems.
func New(cfg Config) (*Engine, error) {
	def := DefaultConfig()
	if cfg.K1 <= 0 {
		cfg.K1 = def.K1
	}
	if cfg.B < 0 || cfg.B > 1 {
		cfg.B = def.B
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = def.LockTimeout
	}
	if cfg.IndexPath == "" {
		return nil, apperr.New(apperr.CodeConfigInvalid, "BM25 index path is required", nil)
	}

	e := &Engine{
		cfg:      cfg,
		fileLock: flock.New(cfg.IndexPath + ".lock"),
		docFreq:  make(map[string]int),
	}

	if err := e.Load(); err != nil {
		if apperr.HasCode(err, apperr.CodeLockTimeout) {
			slog.Warn("bm25_initial_load_timeout", "path", cfg.IndexPath)
		} else {
			return nil, err
		}
	}

	return e, nil
}

// Tokenize lowercases and splits on whitespace. The same routine is used
// for documents and queries so scores line up.
func Tokenize(text string) []string {
	return strings.Fields(strings.ToLower(text))
}

// Index adds one document to the corpus and persists the snapshot.
// Empty or whitespace-only text is rejected. A snapshot save timeout is
// non-fatal; memory remains authoritative until the next successful save.
func (e *Engine) Index(text string, metadata map[string]any) error {
	tokens := Tokenize(text)
	if len(tokens) == 0 {
		return apperr.New(apperr.CodeInvalidInput, "cannot index empty text", nil)
	}

	e.mu.Lock()
	e.corpus = append(e.corpus, text)
	e.tokens = append(e.tokens, tokens)
	e.metadata = append(e.metadata, metadata)
	e.rebuildStats()
	e.mu.Unlock()

	if err := e.Save(); err != nil {
		if apperr.HasCode(err, apperr.CodeLockTimeout) {
			slog.Warn("bm25_snapshot_save_timeout", "path", e.cfg.IndexPath)
			return nil
		}
		return err
	}
	return nil
}

// Search scores every document against the query, applies the filter, and
// returns the [offset, offset+limit) slice sorted by descending score
// together with the total match count.
func (e *Engine) Search(query string, limit, offset int, filter Filter) ([]Result, int, error) {
	queryTokens := Tokenize(query)
	if len(queryTokens) == 0 || limit <= 0 {
		return nil, 0, nil
	}
	if offset < 0 {
		offset = 0
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	var matches []Result
	for i := range e.corpus {
		if !matchesFilter(e.metadata[i], filter) {
			continue
		}
		score := e.score(queryTokens, i)
		if score <= 0 {
			continue
		}
		matches = append(matches, Result{
			Index:    i,
			Score:    score,
			Text:     e.corpus[i],
			Metadata: e.metadata[i],
		})
	}

	// Stable sort so equal scores keep corpus order.
	sort.SliceStable(matches, func(a, b int) bool {
		return matches[a].Score > matches[b].Score
	})

	total := len(matches)
	if offset >= total {
		return nil, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return matches[offset:end], total, nil
}

// DocCount returns the number of documents in the corpus.
func (e *Engine) DocCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.corpus)
}

// score computes the Okapi BM25 score of document i for the query tokens.
func (e *Engine) score(queryTokens []string, i int) float64 {
	n := float64(len(e.corpus))
	k1, b := e.cfg.K1, e.cfg.B

	termFreq := make(map[string]int, len(e.tokens[i]))
	for _, t := range e.tokens[i] {
		termFreq[t]++
	}

	lenNorm := 1 - b + b*float64(e.docLen[i])/e.avgLen

	var score float64
	for _, term := range queryTokens {
		tf := float64(termFreq[term])
		if tf == 0 {
			continue
		}
		df := float64(e.docFreq[term])
		idf := math.Log((n-df+0.5)/(df+0.5) + 1)
		score += idf * tf * (k1 + 1) / (tf + k1*lenNorm)
	}
	return score
}

// rebuildStats recomputes document frequencies and length statistics.
// Callers hold the write lock.
func (e *Engine) rebuildStats() {
	e.docFreq = make(map[string]int)
	e.docLen = make([]int, len(e.tokens))

	totalLen := 0
	for i, tokens := range e.tokens {
		e.docLen[i] = len(tokens)
		totalLen += len(tokens)

		seen := make(map[string]struct{}, len(tokens))
		for _, t := range tokens {
			if _, ok := seen[t]; ok {
				continue
			}
			seen[t] = struct{}{}
			e.docFreq[t]++
		}
	}

	if len(e.tokens) > 0 {
		e.avgLen = float64(totalLen) / float64(len(e.tokens))
	} else {
		e.avgLen = 0
	}
}

// Load reads the snapshot under a shared lock. A missing file means a
// fresh index. A corrupt snapshot resets memory to empty and is logged;
// the file is left in place for inspection.
func (e *Engine) Load() error {
	release, err := e.acquireLock(true)
	if err != nil {
		return err
	}
	defer release()

	f, err := os.Open(e.cfg.IndexPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return apperr.Wrap(apperr.CodeIndexing, err)
	}
	defer func() { _ = f.Close() }()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		slog.Warn("bm25_snapshot_corrupt",
			"path", e.cfg.IndexPath,
			"error", apperr.Wrap(apperr.CodeSnapshotCorrupt, err))

		e.mu.Lock()
		e.corpus, e.tokens, e.metadata = nil, nil, nil
		e.rebuildStats()
		e.mu.Unlock()
		return nil
	}

	e.mu.Lock()
	e.corpus = snap.Corpus
	e.tokens = snap.TokenizedCorpus
	e.metadata = snap.Metadata
	e.rebuildStats()
	e.mu.Unlock()

	slog.Debug("bm25_snapshot_loaded", "path", e.cfg.IndexPath, "documents", len(snap.Corpus))
	return nil
}

// Save rewrites the snapshot under an exclusive lock. The write goes to a
// temp file first so a crash mid-write cannot corrupt the snapshot.
func (e *Engine) Save() error {
	release, err := e.acquireLock(false)
	if err != nil {
		return err
	}
	defer release()

	e.mu.RLock()
	snap := snapshot{
		Corpus:          e.corpus,
		TokenizedCorpus: e.tokens,
		Metadata:        e.metadata,
	}
	e.mu.RUnlock()

	dir := filepath.Dir(e.cfg.IndexPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return apperr.Wrap(apperr.CodeIndexing, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(e.cfg.IndexPath)+".tmp-*")
	if err != nil {
		return apperr.Wrap(apperr.CodeIndexing, err)
	}
	tmpName := tmp.Name()

	if err := gob.NewEncoder(tmp).Encode(snap); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return apperr.Wrap(apperr.CodeIndexing, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return apperr.Wrap(apperr.CodeIndexing, err)
	}

	if err := os.Rename(tmpName, e.cfg.IndexPath); err != nil {
		_ = os.Remove(tmpName)
		return apperr.Wrap(apperr.CodeIndexing, err)
	}

	return nil
}

// acquireLock takes the advisory file lock with bounded retry: one attempt
// every 100ms until LockTimeout, then LockTimeout is raised. The returned
// function releases the lock.
func (e *Engine) acquireLock(shared bool) (func(), error) {
	deadline := time.Now().Add(e.cfg.LockTimeout)

	for {
		var acquired bool
		var err error
		if shared {
			acquired, err = e.fileLock.TryRLock()
		} else {
			acquired, err = e.fileLock.TryLock()
		}
		if err != nil {
			return nil, apperr.Wrap(apperr.CodeIndexing, err)
		}
		if acquired {
			return func() {
				if err := e.fileLock.Unlock(); err != nil {
					slog.Warn("bm25_lock_release_failed", "path", e.cfg.IndexPath, "error", err)
				}
			}, nil
		}

		if time.Now().After(deadline) {
			return nil, apperr.Newf(apperr.CodeLockTimeout,
				"could not acquire BM25 lock within %s", e.cfg.LockTimeout).
				WithDetail("path", e.cfg.IndexPath)
		}
		time.Sleep(100 * time.Millisecond)
	}
}

// matchesFilter applies conjunctive exact-match filtering over the
// metadata fields the search API exposes.
func matchesFilter(metadata map[string]any, f Filter) bool {
	if f.Domain != "" && stringField(metadata, "domain") != f.Domain {
		return false
	}
	if f.Language != "" && stringField(metadata, "language") != f.Language {
		return false
	}
	if f.Country != "" && stringField(metadata, "country") != f.Country {
		return false
	}
	if f.IsMobile != nil {
		v, ok := metadata["is_mobile"].(bool)
		if !ok || v != *f.IsMobile {
			return false
		}
	}
	return true
}

func stringField(metadata map[string]any, key string) string {
	v, _ := metadata[key].(string)
	return v
}
