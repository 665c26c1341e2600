package milvus

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/milvus-io/milvus-sdk-go/v2/client"
	"github.com/milvus-io/milvus-sdk-go/v2/entity"
	"go.uber.org/zap"

	"github.com/kwal0203/opus-blocks/internal/vector"
	"github.com/kwal0203/opus-blocks/pkg/logger"
	"github.com/kwal0203/opus-blocks/pkg/retry"
)

// Store backs fact retrieval with a Milvus collection. One collection
// holds all tenants; the namespace field partitions them at query time.
type Store struct {
	client         client.Client
	collectionName string
	vectorDim      int
	retryPolicy    retry.Policy
}

func NewStore(endpoint, collectionName string, vectorDim int) (*Store, error) {
	c, err := client.NewGrpcClient(context.Background(), endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to create milvus client: %w", err)
	}

	logger.Info("Milvus client initialized",
		zap.String("endpoint", endpoint),
		zap.String("collection", collectionName),
	)

	return &Store{
		client:         c,
		collectionName: collectionName,
		vectorDim:      vectorDim,
		retryPolicy:    retry.VectorStore(logger.GetLogger()),
	}, nil
}

func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) EnsureCollection(ctx context.Context) error {
	has, err := s.client.HasCollection(ctx, s.collectionName)
	if err != nil {
		return fmt.Errorf("failed to check collection: %w", err)
	}
	if has {
		return nil
	}

	schema := &entity.Schema{
		CollectionName: s.collectionName,
		Description:    "Fact embeddings scoped by owner namespace",
		Fields: []*entity.Field{
			{
				Name:       "fact_id",
				DataType:   entity.FieldTypeVarChar,
				PrimaryKey: true,
				AutoID:     false,
				TypeParams: map[string]string{
					"max_length": "64",
				},
			},
			{
				Name:     "embedding",
				DataType: entity.FieldTypeFloatVector,
				TypeParams: map[string]string{
					"dim": fmt.Sprintf("%d", s.vectorDim),
				},
			},
			{
				Name:     "namespace",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "128",
				},
			},
			{
				Name:     "content",
				DataType: entity.FieldTypeVarChar,
				TypeParams: map[string]string{
					"max_length": "4096",
				},
			},
			{
				Name:     "created_at",
				DataType: entity.FieldTypeInt64,
			},
		},
	}

	if err := s.client.CreateCollection(ctx, schema, entity.DefaultShardNumber); err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	idx, err := entity.NewIndexIvfFlat(entity.IP, 1024)
	if err != nil {
		return fmt.Errorf("failed to create index definition: %w", err)
	}
	if err := s.client.CreateIndex(ctx, s.collectionName, "embedding", idx, false); err != nil {
		return fmt.Errorf("failed to create index: %w", err)
	}

	if err := s.client.LoadCollection(ctx, s.collectionName, false); err != nil {
		return fmt.Errorf("failed to load collection: %w", err)
	}

	logger.Info("Collection created and loaded", zap.String("collection", s.collectionName))
	return nil
}

func (s *Store) UpsertFact(ctx context.Context, v vector.FactVector) error {
	return retry.Do(ctx, s.retryPolicy, "milvus.upsert", func() error {
		// Delete-then-insert stands in for upsert on older servers.
		expr := fmt.Sprintf(`fact_id == "%s"`, v.FactID)
		if err := s.client.Delete(ctx, s.collectionName, "", expr); err != nil {
			return fmt.Errorf("failed to delete existing fact vector: %w", err)
		}

		_, err := s.client.Insert(
			ctx,
			s.collectionName,
			"",
			entity.NewColumnVarChar("fact_id", []string{v.FactID.String()}),
			entity.NewColumnFloatVector("embedding", s.vectorDim, [][]float32{v.Embedding}),
			entity.NewColumnVarChar("namespace", []string{v.Namespace}),
			entity.NewColumnVarChar("content", []string{v.Content}),
			entity.NewColumnInt64("created_at", []int64{time.Now().Unix()}),
		)
		if err != nil {
			return fmt.Errorf("failed to insert fact vector: %w", err)
		}
		if err := s.client.Flush(ctx, s.collectionName, false); err != nil {
			return fmt.Errorf("failed to flush: %w", err)
		}
		return nil
	})
}

func (s *Store) Query(ctx context.Context, namespace string, embedding []float32, topK int, allowedFactIDs []uuid.UUID) ([]vector.Match, error) {
	expr := fmt.Sprintf(`namespace == "%s"`, namespace)
	if len(allowedFactIDs) > 0 {
		expr += ` && fact_id in [`
		for i, id := range allowedFactIDs {
			if i > 0 {
				expr += ", "
			}
			expr += fmt.Sprintf(`"%s"`, id)
		}
		expr += `]`
	}

	sp, _ := entity.NewIndexIvfFlatSearchParam(16)

	var matches []vector.Match
	err := retry.Do(ctx, s.retryPolicy, "milvus.search", func() error {
		searchResult, err := s.client.Search(
			ctx,
			s.collectionName,
			[]string{},
			expr,
			[]string{"fact_id", "content"},
			[]entity.Vector{entity.FloatVector(embedding)},
			"embedding",
			entity.IP,
			topK,
			sp,
		)
		if err != nil {
			return fmt.Errorf("failed to search: %w", err)
		}

		matches = matches[:0]
		for _, sr := range searchResult {
			factIDCol := sr.Fields.GetColumn("fact_id")
			contentCol := sr.Fields.GetColumn("content")
			for i := 0; i < sr.ResultCount; i++ {
				factIDStr, _ := factIDCol.Get(i)
				content, _ := contentCol.Get(i)

				factID, err := uuid.Parse(factIDStr.(string))
				if err != nil {
					continue
				}
				matches = append(matches, vector.Match{
					FactID:  factID,
					Content: content.(string),
					Score:   sr.Scores[i],
				})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger.Debug("Vector search completed",
		zap.Int("topK", topK),
		zap.Int("results", len(matches)),
	)
	return matches, nil
}

func (s *Store) DeleteFact(ctx context.Context, namespace string, factID uuid.UUID) error {
	return retry.Do(ctx, s.retryPolicy, "milvus.delete", func() error {
		expr := fmt.Sprintf(`fact_id == "%s" && namespace == "%s"`, factID, namespace)
		if err := s.client.Delete(ctx, s.collectionName, "", expr); err != nil {
			return fmt.Errorf("failed to delete fact vector: %w", err)
		}
		return nil
	})
}
