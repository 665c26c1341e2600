package vector

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/kwal0203/opus-blocks/pkg/config"
)

// FactVector is one embedded fact scoped to an owner namespace.
type FactVector struct {
	FactID    uuid.UUID
	Namespace string
	Content   string
	Embedding []float32
}

type Match struct {
	FactID  uuid.UUID
	Content string
	Score   float32
}

// Store indexes fact embeddings per owner namespace. Namespaces take the
// form "user:<owner id>" and queries never cross them.
type Store interface {
	UpsertFact(ctx context.Context, v FactVector) error
	Query(ctx context.Context, namespace string, embedding []float32, topK int, allowedFactIDs []uuid.UUID) ([]Match, error)
	DeleteFact(ctx context.Context, namespace string, factID uuid.UUID) error
}

// Embedder turns text into a vector. The stub embedder is deterministic so
// local retrieval ranks the same inputs the same way every run.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

func Namespace(ownerID uuid.UUID) string {
	return fmt.Sprintf("user:%s", ownerID)
}

func ValidateBackend(cfg *config.RetrievalConfig) error {
	switch cfg.Backend {
	case "local", "milvus", "none":
		return nil
	}
	return fmt.Errorf("unknown retrieval backend %q", cfg.Backend)
}
