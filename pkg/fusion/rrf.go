// Package fusion implements Reciprocal Rank Fusion over ranked result
// lists. It is the core of hybrid search: semantic and keyword rankings go
// in, one deduplicated ranking comes out.
package fusion

import (
	"fmt"
	"hash/fnv"
	"sort"
)

// DefaultK is the standard RRF smoothing constant.
const DefaultK = 60

// Item is one ranked result. Semantic results carry a Payload; keyword
// results carry Text and Metadata. Fusion treats both shapes uniformly.
type Item struct {
	ID       string
	Score    float64
	Text     string
	Payload  map[string]any
	Metadata map[string]any
}

// Fused is one deduplicated output row. Item is the first occurrence seen
// across the input lists, so its shape (payload vs. metadata) is preserved
// for downstream field extraction.
type Fused struct {
	Item
	// RRFScore is the accumulated reciprocal-rank score.
	RRFScore float64
}

// Fuse merges ranked lists with RRF: each occurrence of a document at
// 1-based rank r contributes 1/(k+r) to its score, accumulated across all
// lists it appears in. Results are sorted by descending score; ties keep
// first-occurrence order. The output length equals the number of distinct
// deduplication keys across all inputs.
func Fuse(lists [][]Item, k int) []Fused {
	if k <= 0 {
		k = DefaultK
	}

	type entry struct {
		fused Fused
		order int
	}
	byKey := make(map[string]*entry)
	var keys []string

	for listIdx, list := range lists {
		for rank, item := range list {
			key := dedupKey(item, rank, listIdx)
			contribution := 1.0 / float64(k+rank+1)

			if existing, ok := byKey[key]; ok {
				existing.fused.RRFScore += contribution
				continue
			}
			byKey[key] = &entry{
				fused: Fused{Item: item, RRFScore: contribution},
				order: len(keys),
			}
			keys = append(keys, key)
		}
	}

	entries := make([]*entry, 0, len(keys))
	for _, key := range keys {
		entries = append(entries, byKey[key])
	}

	// Stable sort: equal scores keep insertion order, so a document seen
	// earlier wins the tie.
	sort.SliceStable(entries, func(a, b int) bool {
		return entries[a].fused.RRFScore > entries[b].fused.RRFScore
	})

	out := make([]Fused, len(entries))
	for i, e := range entries {
		out[i] = e.fused
	}
	return out
}

// dedupKey picks the first present of canonical_url, url (in either shape),
// the result id, then a deterministic per-slot fallback.
func dedupKey(item Item, rank, listIdx int) string {
	for _, candidate := range []any{
		field(item.Payload, "canonical_url"),
		field(item.Metadata, "canonical_url"),
		field(item.Payload, "url"),
		field(item.Metadata, "url"),
	} {
		if s, ok := candidate.(string); ok && s != "" {
			return s
		}
	}
	if item.ID != "" {
		return item.ID
	}
	return fmt.Sprintf("__rank_%d_%x", rank, contentHash(item, listIdx))
}

func field(m map[string]any, key string) any {
	if m == nil {
		return nil
	}
	return m[key]
}

func contentHash(item Item, listIdx int) uint32 {
	h := fnv.New32a()
	fmt.Fprintf(h, "%d|%s", listIdx, item.Text)
	return h.Sum32()
}
