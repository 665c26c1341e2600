package vector

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"
	"strings"
)

// StubEmbedder hashes word tokens into a fixed-dimension vector and
// normalizes it. Similar texts share tokens and therefore score higher
// under cosine similarity, which is all local retrieval needs.
type StubEmbedder struct {
	dim int
}

func NewStubEmbedder(dim int) *StubEmbedder {
	if dim <= 0 {
		dim = 64
	}
	return &StubEmbedder{dim: dim}
}

func (e *StubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.dim)
	for _, token := range strings.Fields(strings.ToLower(text)) {
		sum := sha256.Sum256([]byte(token))
		idx := int(binary.BigEndian.Uint32(sum[:4])) % e.dim
		sign := float32(1)
		if sum[4]%2 == 1 {
			sign = -1
		}
		vec[idx] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}

// CosineSimilarity returns 0 for mismatched or zero-length vectors rather
// than erroring; a missing embedding simply ranks last.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
