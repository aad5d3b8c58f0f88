package embed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// StaticEmbedder produces deterministic embeddings by feature-hashing
// tokens into a fixed-size vector. It has no notion of semantics, but
// similar texts share tokens and land near each other, which is enough
// for tests and for running fully offline.
type StaticEmbedder struct {
	dims int
}

var _ Embedder = (*StaticEmbedder)(nil)

// NewStaticEmbedder creates a static embedder. A non-positive dims falls
// back to StaticDimensions.
func NewStaticEmbedder(dims int) *StaticEmbedder {
	if dims <= 0 {
		dims = StaticDimensions
	}
	return &StaticEmbedder{dims: dims}
}

// Embed hashes each token into two buckets with alternating sign and
// normalizes the result to unit length.
func (s *StaticEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, s.dims)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vec, nil
	}

	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()

		idx1 := int(sum % uint64(s.dims))
		idx2 := int((sum >> 32) % uint64(s.dims))
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[idx1] += sign
		vec[idx2] += sign * 0.5
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1.0 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// EmbedBatch embeds each text independently.
func (s *StaticEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		results[i] = vec
	}
	return results, nil
}

func (s *StaticEmbedder) Dimensions() int { return s.dims }

func (s *StaticEmbedder) ModelName() string { return "static-hash" }

func (s *StaticEmbedder) Available(ctx context.Context) bool { return true }

func (s *StaticEmbedder) Close() error { return nil }

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}
