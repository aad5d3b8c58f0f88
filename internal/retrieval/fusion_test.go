package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/minhdn/ragserve/internal/store"
)

func lexHits(texts ...string) []*store.LexicalResult {
	results := make([]*store.LexicalResult, len(texts))
	for i, text := range texts {
		results[i] = &store.LexicalResult{ID: "lex-" + text, Text: text, Score: 10.0 - float64(i)}
	}
	return results
}

func vecHits(texts ...string) []*store.VectorResult {
	results := make([]*store.VectorResult, len(texts))
	for i, text := range texts {
		results[i] = &store.VectorResult{ID: "vec-" + text, Text: text, Score: 0.9 - 0.1*float64(i)}
	}
	return results
}

func TestFuser_BothChannelsContribute(t *testing.T) {
	// Given: sparse returns [A, B], dense returns [B, C], k=60
	f := NewFuser(60)

	// When: the lists are fused
	fused := f.Fuse(lexHits("A", "B"), vecHits("B", "C"))

	// Then: B sums both contributions and wins
	//   A = 1/61, B = 1/62 + 1/61, C = 1/62
	require.Len(t, fused, 3)
	assert.Equal(t, "B", fused[0].Text)
	assert.Equal(t, "A", fused[1].Text)
	assert.Equal(t, "C", fused[2].Text)

	assert.InDelta(t, 1.0/62+1.0/61, fused[0].RRFScore, 1e-12)
	assert.InDelta(t, 1.0/61, fused[1].RRFScore, 1e-12)
	assert.InDelta(t, 1.0/62, fused[2].RRFScore, 1e-12)

	assert.True(t, fused[0].InBothChannels)
	assert.False(t, fused[1].InBothChannels)
}

func TestFuser_DedupByText(t *testing.T) {
	// The same passage under different IDs fuses into one candidate.
	f := NewFuser(60)

	sparse := []*store.LexicalResult{
		{ID: "chunk-1", Text: "  Shared Passage  ", Score: 5},
	}
	dense := []*store.VectorResult{
		{ID: "chunk-9", Text: "shared passage", Score: 0.8},
	}

	fused := f.Fuse(sparse, dense)
	require.Len(t, fused, 1)

	c := fused[0]
	assert.Equal(t, "chunk-1", c.ID)
	assert.Equal(t, "  Shared Passage  ", c.Text)
	assert.True(t, c.InBothChannels)
	assert.Equal(t, 1, c.SparseRank)
	assert.Equal(t, 1, c.DenseRank)
	assert.InDelta(t, 2.0/61, c.RRFScore, 1e-12)
}

func TestFuser_SingleChannel(t *testing.T) {
	f := NewFuser(60)

	// Dense-only results get only the dense contribution; no phantom
	// sparse rank is invented.
	fused := f.Fuse(nil, vecHits("X", "Y"))
	require.Len(t, fused, 2)

	assert.Equal(t, "X", fused[0].Text)
	assert.InDelta(t, 1.0/61, fused[0].RRFScore, 1e-12)
	assert.Zero(t, fused[0].SparseRank)
	assert.False(t, fused[0].InBothChannels)
}

func TestFuser_Empty(t *testing.T) {
	f := NewFuser(60)

	fused := f.Fuse(nil, nil)
	require.NotNil(t, fused)
	assert.Empty(t, fused)
}

func TestFuser_TieBreaksDeterministic(t *testing.T) {
	f := NewFuser(60)

	// Two candidates at the same rank in opposite channels have equal
	// RRF scores; neither is in both channels, sparse score decides.
	sparse := []*store.LexicalResult{
		{ID: "s1", Text: "sparse only", Score: 3.0},
	}
	dense := []*store.VectorResult{
		{ID: "d1", Text: "dense only", Score: 0.9},
	}

	fused := f.Fuse(sparse, dense)
	require.Len(t, fused, 2)
	assert.InDelta(t, fused[0].RRFScore, fused[1].RRFScore, 1e-12)
	assert.Equal(t, "sparse only", fused[0].Text)
}

func TestFuser_RepeatedCallsAgree(t *testing.T) {
	// Fusing the same inputs twice yields identical ordering and scores,
	// including candidates whose RRF scores tie.
	f := NewFuser(60)
	sparse := lexHits("A", "B", "C")
	dense := vecHits("C", "D", "A")

	first := f.Fuse(sparse, dense)
	second := f.Fuse(sparse, dense)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
		assert.Equal(t, first[i].Text, second[i].Text)
		assert.Equal(t, first[i].RRFScore, second[i].RRFScore)
		assert.Equal(t, first[i].SparseRank, second[i].SparseRank)
		assert.Equal(t, first[i].DenseRank, second[i].DenseRank)
	}
}

func TestFuser_DefaultK(t *testing.T) {
	assert.Equal(t, DefaultKRRF, NewFuser(0).K)
	assert.Equal(t, DefaultKRRF, NewFuser(-5).K)
	assert.Equal(t, 10, NewFuser(10).K)
}

func TestFuser_SmallerKSharpensTopRanks(t *testing.T) {
	// With a small k the rank-1 contribution dominates; with large k the
	// contributions flatten out.
	sparse := lexHits("first", "second")

	sharp := NewFuser(1).Fuse(sparse, nil)
	flat := NewFuser(1000).Fuse(sparse, nil)

	sharpGap := sharp[0].RRFScore - sharp[1].RRFScore
	flatGap := flat[0].RRFScore - flat[1].RRFScore
	assert.Greater(t, sharpGap, flatGap)
}
