package local

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kwal0203/opus-blocks/internal/storage/models"
	"github.com/kwal0203/opus-blocks/internal/storage/sqlite"
	"github.com/kwal0203/opus-blocks/internal/vector"
)

func newTestStore(t *testing.T) (*Store, *sqlite.Client) {
	t.Helper()
	db, err := sqlite.NewClient(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, db.InitSchema())
	t.Cleanup(func() { db.Close() })
	return NewStore(db, "stub-v1"), db
}

func createFact(t *testing.T, db *sqlite.Client, owner uuid.UUID, content string) uuid.UUID {
	t.Helper()
	fact := &models.Fact{
		ID: uuid.New(), OwnerID: owner, SourceType: models.SourceManual,
		Content: content, Confidence: 1.0, CreatedBy: models.CreatedByUser,
	}
	require.NoError(t, db.CreateFact(context.Background(), fact))
	return fact.ID
}

func TestLocalStoreQueryRanksByCosine(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	owner := uuid.New()
	ns := vector.Namespace(owner)
	embedder := vector.NewStubEmbedder(64)

	relatedID := createFact(t, db, owner, "treatment reduced symptom scores")
	unrelatedID := createFact(t, db, owner, "server uptime was nominal")

	for id, text := range map[uuid.UUID]string{
		relatedID:   "treatment reduced symptom scores",
		unrelatedID: "server uptime was nominal",
	} {
		emb, err := embedder.Embed(ctx, text)
		require.NoError(t, err)
		require.NoError(t, store.UpsertFact(ctx, vector.FactVector{
			FactID: id, Namespace: ns, Content: text, Embedding: emb,
		}))
	}

	query, err := embedder.Embed(ctx, "symptom scores after treatment")
	require.NoError(t, err)

	matches, err := store.Query(ctx, ns, query, 2, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, relatedID, matches[0].FactID)
	assert.Equal(t, "treatment reduced symptom scores", matches[0].Content)
	assert.Greater(t, matches[0].Score, matches[1].Score)
}

func TestLocalStoreNamespaceIsolation(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	embedder := vector.NewStubEmbedder(64)

	ownerA := uuid.New()
	factID := createFact(t, db, ownerA, "only owner A should see this")
	emb, _ := embedder.Embed(ctx, "only owner A should see this")
	require.NoError(t, store.UpsertFact(ctx, vector.FactVector{
		FactID: factID, Namespace: vector.Namespace(ownerA), Embedding: emb,
	}))

	matches, err := store.Query(ctx, vector.Namespace(uuid.New()), emb, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestLocalStoreAllowListAndTopK(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	owner := uuid.New()
	ns := vector.Namespace(owner)
	embedder := vector.NewStubEmbedder(64)

	var ids []uuid.UUID
	for _, text := range []string{"fact one", "fact two", "fact three"} {
		id := createFact(t, db, owner, text)
		emb, _ := embedder.Embed(ctx, text)
		require.NoError(t, store.UpsertFact(ctx, vector.FactVector{
			FactID: id, Namespace: ns, Content: text, Embedding: emb,
		}))
		ids = append(ids, id)
	}

	query, _ := embedder.Embed(ctx, "fact")
	matches, err := store.Query(ctx, ns, query, 10, ids[:1])
	require.NoError(t, err)
	require.Len(t, matches, 1)
	assert.Equal(t, ids[0], matches[0].FactID)

	matches, err = store.Query(ctx, ns, query, 2, nil)
	require.NoError(t, err)
	assert.Len(t, matches, 2)
}

func TestLocalStoreDeleteFact(t *testing.T) {
	store, db := newTestStore(t)
	ctx := context.Background()
	owner := uuid.New()
	ns := vector.Namespace(owner)
	embedder := vector.NewStubEmbedder(64)

	factID := createFact(t, db, owner, "to be removed")
	emb, _ := embedder.Embed(ctx, "to be removed")
	require.NoError(t, store.UpsertFact(ctx, vector.FactVector{
		FactID: factID, Namespace: ns, Embedding: emb,
	}))
	require.NoError(t, store.DeleteFact(ctx, ns, factID))

	matches, err := store.Query(ctx, ns, emb, 5, nil)
	require.NoError(t, err)
	assert.Empty(t, matches)
}
