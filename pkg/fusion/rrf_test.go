package fusion

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func semantic(canonicalURL string) Item {
	return Item{
		ID:      "pt-" + canonicalURL,
		Payload: map[string]any{"canonical_url": canonicalURL, "text": "body of " + canonicalURL},
	}
}

func keyword(canonicalURL string) Item {
	return Item{
		Text:     "body of " + canonicalURL,
		Metadata: map[string]any{"canonical_url": canonicalURL},
	}
}

func TestFuse_DedupAccumulatesAcrossLists(t *testing.T) {
	// Given: vector list [x, y] and keyword list [x, z]
	vector := []Item{semantic("x"), semantic("y")}
	keywords := []Item{keyword("x"), keyword("z")}

	// When: fusing with k=60
	fused := Fuse([][]Item{vector, keywords}, 60)

	// Then: three unique results with x first, scored from both lists
	require.Len(t, fused, 3)
	assert.Equal(t, "x", fused[0].Payload["canonical_url"])
	assert.InDelta(t, 1.0/61+1.0/61, fused[0].RRFScore, 1e-12)

	// y and z each appeared once at rank 2
	assert.InDelta(t, 1.0/62, fused[1].RRFScore, 1e-12)
	assert.InDelta(t, 1.0/62, fused[2].RRFScore, 1e-12)
}

func TestFuse_ScoresMonotoneNonIncreasing(t *testing.T) {
	lists := [][]Item{
		{semantic("a"), semantic("b"), semantic("c")},
		{keyword("c"), keyword("d")},
		{keyword("b"), keyword("a")},
	}

	fused := Fuse(lists, 60)

	for i := 1; i < len(fused); i++ {
		assert.GreaterOrEqual(t, fused[i-1].RRFScore, fused[i].RRFScore)
	}
}

func TestFuse_TieBreakKeepsInsertionOrder(t *testing.T) {
	// a and b both appear once at rank 1, in separate lists; a was seen first
	fused := Fuse([][]Item{{semantic("a")}, {keyword("b")}}, 60)

	require.Len(t, fused, 2)
	assert.Equal(t, "a", fused[0].Payload["canonical_url"])
	assert.Equal(t, "b", fused[1].Metadata["canonical_url"])
}

func TestFuse_FirstOccurrenceShapeWins(t *testing.T) {
	// The same document arrives as a semantic payload first, keyword second
	fused := Fuse([][]Item{{semantic("x")}, {keyword("x")}}, 60)

	require.Len(t, fused, 1)
	assert.NotNil(t, fused[0].Payload, "semantic shape must be preserved")
	assert.Nil(t, fused[0].Metadata)
}

func TestFuse_KeyFallbackChain(t *testing.T) {
	// No canonical_url anywhere: url, then id, then the rank fallback
	withURL := Item{Payload: map[string]any{"url": "https://e.com/u"}}
	withID := Item{ID: "opaque-id"}
	bare := Item{Text: "no identifiers at all"}

	fused := Fuse([][]Item{{withURL, withID, bare}}, 60)

	assert.Len(t, fused, 3, "every item keeps a distinct key")
}

func TestFuse_BareItemsNeverCollide(t *testing.T) {
	bare1 := Item{Text: "first"}
	bare2 := Item{Text: "second"}

	fused := Fuse([][]Item{{bare1, bare2}}, 60)
	assert.Len(t, fused, 2)
}

func TestFuse_MoreListsNeverRankBelow(t *testing.T) {
	// x is rank 1 in two lists, y is rank 1 in one list: x must lead
	lists := [][]Item{
		{semantic("x")},
		{keyword("x")},
		{keyword("y")},
	}

	fused := Fuse(lists, 60)

	require.Len(t, fused, 2)
	assert.Equal(t, "x", fused[0].Payload["canonical_url"])
}

func TestFuse_EmptyInput(t *testing.T) {
	assert.Empty(t, Fuse(nil, 60))
	assert.Empty(t, Fuse([][]Item{{}, {}}, 60))
}

func TestFuse_ZeroKUsesDefault(t *testing.T) {
	fused := Fuse([][]Item{{semantic("x")}}, 0)
	require.Len(t, fused, 1)
	assert.InDelta(t, 1.0/float64(DefaultK+1), fused[0].RRFScore, 1e-12)
}
