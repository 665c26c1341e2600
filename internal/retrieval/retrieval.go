package retrieval

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kwal0203/opus-blocks/internal/vector"
	"github.com/kwal0203/opus-blocks/pkg/config"
)

type RetrievedFact struct {
	FactID  uuid.UUID
	Content string
	Score   float64
}

// Retriever ranks an owner's facts against a query, optionally bounded by
// a paragraph's allow-list. The writer stage uses the scores to attach
// sentence-to-fact links.
type Retriever interface {
	Retrieve(ctx context.Context, ownerID uuid.UUID, query string, allowedFactIDs []uuid.UUID, limit int) ([]RetrievedFact, error)
}

// NoopRetriever returns nothing; it is the "none" backend for deployments
// that skip retrieval scoring entirely.
type NoopRetriever struct{}

func (NoopRetriever) Retrieve(ctx context.Context, ownerID uuid.UUID, query string, allowedFactIDs []uuid.UUID, limit int) ([]RetrievedFact, error) {
	return nil, nil
}

// VectorRetriever embeds the query and delegates ranking to a vector
// store, local or Milvus-backed.
type VectorRetriever struct {
	store    vector.Store
	embedder vector.Embedder
	limit    int
}

func NewVectorRetriever(store vector.Store, embedder vector.Embedder, cfg *config.RetrievalConfig) *VectorRetriever {
	limit := cfg.Limit
	if limit <= 0 {
		limit = 5
	}
	return &VectorRetriever{store: store, embedder: embedder, limit: limit}
}

func (r *VectorRetriever) Retrieve(ctx context.Context, ownerID uuid.UUID, query string, allowedFactIDs []uuid.UUID, limit int) ([]RetrievedFact, error) {
	if limit <= 0 {
		limit = r.limit
	}

	embedding, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := r.store.Query(ctx, vector.Namespace(ownerID), embedding, limit, allowedFactIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector store: %w", err)
	}

	out := make([]RetrievedFact, 0, len(matches))
	for _, m := range matches {
		out = append(out, RetrievedFact{
			FactID:  m.FactID,
			Content: m.Content,
			Score:   float64(m.Score),
		})
	}
	return out, nil
}
