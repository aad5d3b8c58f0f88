package retrieval

import (
	"sort"
	"strings"

	"github.com/minhdn/ragserve/internal/store"
)

// Fuser combines sparse and dense result lists with Reciprocal Rank
// Fusion:
//
//	RRF_score(d) = Σ_channels 1 / (k + rank_channel(d))
//
// ranks are 1-indexed positions in each channel's native ordering. A
// candidate absent from a channel simply gets no contribution from it.
// Candidates are deduplicated by chunk text (trimmed, case-insensitive),
// so the same passage indexed under two IDs still fuses into one entry.
type Fuser struct {
	K int
}

// NewFuser creates a fuser with the given smoothing constant. Non-positive
// k falls back to DefaultKRRF.
func NewFuser(k int) *Fuser {
	if k <= 0 {
		k = DefaultKRRF
	}
	return &Fuser{K: k}
}

// fusionKey normalizes chunk text for deduplication.
func fusionKey(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Fuse merges both channels into a single list sorted by RRF score
// descending. Ties break toward candidates seen by both channels, then by
// sparse score, then by ID for determinism. The first channel to surface a
// text wins its ID and metadata.
func (f *Fuser) Fuse(sparse []*store.LexicalResult, dense []*store.VectorResult) []*Candidate {
	if len(sparse) == 0 && len(dense) == 0 {
		return []*Candidate{}
	}

	byText := make(map[string]*Candidate, len(sparse)+len(dense))
	order := make([]string, 0, len(sparse)+len(dense))

	for i, r := range sparse {
		key := fusionKey(r.Text)
		c, ok := byText[key]
		if !ok {
			c = &Candidate{ID: r.ID, Text: r.Text, Metadata: r.Metadata}
			byText[key] = c
			order = append(order, key)
		}
		if c.SparseRank == 0 {
			c.SparseRank = i + 1
			c.SparseScore = r.Score
			c.RRFScore += 1.0 / float64(f.K+i+1)
		}
	}

	for i, r := range dense {
		key := fusionKey(r.Text)
		c, ok := byText[key]
		if !ok {
			c = &Candidate{ID: r.ID, Text: r.Text, Metadata: r.Metadata}
			byText[key] = c
			order = append(order, key)
		}
		if c.DenseRank == 0 {
			c.DenseRank = i + 1
			c.DenseScore = r.Score
			c.RRFScore += 1.0 / float64(f.K+i+1)
		}
		if c.SparseRank > 0 {
			c.InBothChannels = true
		}
	}

	results := make([]*Candidate, 0, len(order))
	for _, key := range order {
		results = append(results, byText[key])
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.RRFScore != b.RRFScore {
			return a.RRFScore > b.RRFScore
		}
		if a.InBothChannels != b.InBothChannels {
			return a.InBothChannels
		}
		if a.SparseScore != b.SparseScore {
			return a.SparseScore > b.SparseScore
		}
		return a.ID < b.ID
	})

	return results
}
