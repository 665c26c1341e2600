package local

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/kwal0203/opus-blocks/internal/storage/models"
	"github.com/kwal0203/opus-blocks/internal/storage/sqlite"
	"github.com/kwal0203/opus-blocks/internal/vector"
)

// Store keeps fact embeddings in the relational database and ranks query
// matches with cosine similarity in process. It trades scale for zero
// infrastructure, which suits single-node deployments and tests.
type Store struct {
	db             *sqlite.Client
	embeddingModel string
}

func NewStore(db *sqlite.Client, embeddingModel string) *Store {
	return &Store{db: db, embeddingModel: embeddingModel}
}

func (s *Store) UpsertFact(ctx context.Context, v vector.FactVector) error {
	return s.db.UpsertFactEmbedding(ctx, &models.FactEmbedding{
		ID:             uuid.New(),
		FactID:         v.FactID,
		VectorID:       v.FactID.String(),
		EmbeddingModel: s.embeddingModel,
		Namespace:      v.Namespace,
		Embedding:      v.Embedding,
	})
}

func (s *Store) Query(ctx context.Context, namespace string, embedding []float32, topK int, allowedFactIDs []uuid.UUID) ([]vector.Match, error) {
	rows, err := s.db.ListFactEmbeddings(ctx, namespace, allowedFactIDs)
	if err != nil {
		return nil, err
	}

	matches := make([]vector.Match, 0, len(rows))
	for _, row := range rows {
		score := vector.CosineSimilarity(embedding, row.Embedding)
		content := ""
		fact, err := s.db.GetFact(ctx, row.FactID)
		if err != nil {
			return nil, err
		}
		if fact != nil {
			content = fact.Content
		}
		matches = append(matches, vector.Match{
			FactID:  row.FactID,
			Content: content,
			Score:   score,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if topK > 0 && len(matches) > topK {
		matches = matches[:topK]
	}
	return matches, nil
}

func (s *Store) DeleteFact(ctx context.Context, namespace string, factID uuid.UUID) error {
	return s.db.DeleteFactEmbedding(ctx, factID)
}
