// Package retrieval implements the hybrid retrieval pipeline: sparse and
// dense channels searched in parallel, reciprocal rank fusion over both
// result lists, and cross-encoder reranking of the fused pool.
package retrieval

import "time"

// Default pipeline parameters.
const (
	// DefaultKRRF is the RRF smoothing constant. k=60 is the standard
	// choice across engines (Azure AI Search, OpenSearch).
	DefaultKRRF = 60

	// DefaultTopK is the number of results returned to the caller.
	DefaultTopK = 5

	// DefaultAlpha weights the reranker score against the RRF score in
	// the final blend.
	DefaultAlpha = 0.5
)

// Candidate is a chunk moving through the pipeline. Scores fill in as the
// stages run: native channel scores at fetch, RRFScore after fusion,
// RerankScore and FinalScore after reranking.
type Candidate struct {
	ID   string `json:"id"`
	Text string `json:"text"`

	SparseScore float64 `json:"sparse_score,omitempty"`
	SparseRank  int     `json:"sparse_rank,omitempty"`
	DenseScore  float64 `json:"dense_score,omitempty"`
	DenseRank   int     `json:"dense_rank,omitempty"`

	RRFScore    float64 `json:"rrf_score"`
	RerankScore float64 `json:"rerank_score,omitempty"`
	FinalScore  float64 `json:"final_score"`

	// InBothChannels marks candidates found by both sparse and dense
	// search.
	InBothChannels bool `json:"in_both_channels,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	// Scratch space for the normalized blend.
	normRerank float64
	normRRF    float64
}

// Options controls a single retrieval call. Zero values fall back to the
// orchestrator's configured defaults.
type Options struct {
	// TopK is the number of results to return. Must be positive.
	// TopKSet distinguishes an explicit zero, which is rejected, from
	// "use the default".
	TopK    int
	TopKSet bool

	// Alpha is the rerank weight in the final blend, in [0, 1].
	// final = alpha*rerank + (1-alpha)*rrf. AlphaSet distinguishes an
	// explicit zero from "use the default".
	Alpha    float64
	AlphaSet bool

	// KRRF is the RRF smoothing constant.
	KRRF int

	// NormalizedBlend min-max normalizes rerank and RRF scores over the
	// candidate pool before blending. Off by default: the raw blend
	// preserves the absolute score scales.
	NormalizedBlend bool

	// SkipRerank forces RRF-only ranking for this call.
	SkipRerank bool
}

// Response is the outcome of one retrieval call.
type Response struct {
	// Results holds at most TopK candidates, best first.
	Results []*Candidate `json:"results"`

	// RerankDegraded is set when the reranker was wanted but failed, and
	// the pipeline fell back to RRF-only ordering.
	RerankDegraded bool `json:"rerank_degraded,omitempty"`

	// Elapsed is the wall time of the whole pipeline.
	Elapsed time.Duration `json:"elapsed,omitempty"`
}
