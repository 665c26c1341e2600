package vector

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStubEmbedderDeterministic(t *testing.T) {
	e := NewStubEmbedder(64)
	ctx := context.Background()

	a, err := e.Embed(ctx, "the intervention reduced symptoms")
	require.NoError(t, err)
	b, err := e.Embed(ctx, "the intervention reduced symptoms")
	require.NoError(t, err)
	assert.Equal(t, a, b)
	assert.Len(t, a, 64)

	// Normalized output has unit length.
	assert.InDelta(t, 1.0, float64(CosineSimilarity(a, a)), 1e-5)
}

func TestStubEmbedderRanksOverlapHigher(t *testing.T) {
	e := NewStubEmbedder(64)
	ctx := context.Background()

	query, _ := e.Embed(ctx, "symptom reduction after treatment")
	related, _ := e.Embed(ctx, "treatment produced symptom reduction in adults")
	unrelated, _ := e.Embed(ctx, "quarterly revenue guidance raised")

	assert.Greater(t, CosineSimilarity(query, related), CosineSimilarity(query, unrelated))
}

func TestCosineSimilarityEdgeCases(t *testing.T) {
	assert.Zero(t, CosineSimilarity(nil, nil))
	assert.Zero(t, CosineSimilarity([]float32{1, 0}, []float32{1}))
	assert.Zero(t, CosineSimilarity([]float32{0, 0}, []float32{1, 0}))
}

func TestNamespace(t *testing.T) {
	owner := uuid.MustParse("6a0f2a52-3a4b-4f7e-9c1d-2e5b8f9a0c3d")
	assert.Equal(t, "user:6a0f2a52-3a4b-4f7e-9c1d-2e5b8f9a0c3d", Namespace(owner))
}
