package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"pdfchat/pkg/domain"
)

func seedCollection(t *testing.T, store *MemoryStore, chunks []domain.Chunk) Collection {
	t.Helper()
	ctx := context.Background()
	coll, err := store.Create(ctx, "corpus", "test-embed", 2)
	require.NoError(t, err)
	require.NoError(t, store.AddChunks(ctx, coll.ID, chunks))
	require.NoError(t, store.Activate(ctx, coll.ID))
	return coll
}

func TestMemorySearchOrdersByScoreThenSeq(t *testing.T) {
	store := NewMemoryStore()
	coll := seedCollection(t, store, []domain.Chunk{
		{ID: "a", Seq: 0, Content: "orthogonal", Embedding: []float32{0, 1}},
		{ID: "b", Seq: 1, Content: "aligned later", Embedding: []float32{2, 0}},
		{ID: "c", Seq: 2, Content: "aligned same direction", Embedding: []float32{1, 0}},
	})

	results, err := store.Search(context.Background(), coll.ID, []float32{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	// b and c have identical cosine similarity (same direction); the lower
	// ingestion sequence wins the tie.
	require.Equal(t, "b", results[0].Chunk.ID)
	require.Equal(t, "c", results[1].Chunk.ID)
	require.Equal(t, "a", results[2].Chunk.ID)
}

func TestMemorySearchReturnsFewerThanTopK(t *testing.T) {
	store := NewMemoryStore()
	coll := seedCollection(t, store, []domain.Chunk{
		{ID: "only", Seq: 0, Embedding: []float32{1, 0}},
	})

	results, err := store.Search(context.Background(), coll.ID, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
}

func TestMemorySearchEmptyCollection(t *testing.T) {
	store := NewMemoryStore()
	coll := seedCollection(t, store, nil)

	results, err := store.Search(context.Background(), coll.ID, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestActivateReplacesPredecessor(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	old := seedCollection(t, store, []domain.Chunk{
		{ID: "old", Seq: 0, Embedding: []float32{1, 0}},
	})

	fresh, err := store.Create(ctx, "corpus", "test-embed", 2)
	require.NoError(t, err)
	require.NoError(t, store.AddChunks(ctx, fresh.ID, []domain.Chunk{
		{ID: "new", Seq: 0, Embedding: []float32{0, 1}},
	}))

	// Until activation the old collection stays current.
	active, ok, err := store.Active(ctx, "corpus")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, old.ID, active.ID)

	require.NoError(t, store.Activate(ctx, fresh.ID))

	active, ok, err = store.Active(ctx, "corpus")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, fresh.ID, active.ID)

	// Predecessor is gone.
	_, err = store.Count(ctx, old.ID)
	require.ErrorIs(t, err, ErrCollectionNotFound)
}

func TestAddChunksRejectsDimensionMismatch(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	coll, err := store.Create(ctx, "corpus", "test-embed", 2)
	require.NoError(t, err)

	err = store.AddChunks(ctx, coll.ID, []domain.Chunk{
		{ID: "bad", Embedding: []float32{1, 2, 3}},
	})
	require.Error(t, err)
}

func TestDropUnknownCollectionIsNoop(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.Drop(context.Background(), "never-existed"))
}
