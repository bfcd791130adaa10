package retriever

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"pdfchat/internal/index"
	"pdfchat/pkg/domain"
)

type fixedEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (e *fixedEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	vec, ok := e.vectors[text]
	if !ok {
		return []float32{0, 0, 1}, nil
	}
	return vec, nil
}

func (e *fixedEmbedder) Model() string { return "test-embed" }

func seedCollection(t *testing.T, store index.Store) index.Collection {
	t.Helper()
	ctx := context.Background()
	coll, err := store.Create(ctx, "library", "test-embed", 3)
	require.NoError(t, err)
	require.NoError(t, store.AddChunks(ctx, coll.ID, []domain.Chunk{
		{ID: "c0", Seq: 0, Content: "about cats", Embedding: []float32{1, 0, 0}},
		{ID: "c1", Seq: 1, Content: "about dogs", Embedding: []float32{0, 1, 0}},
		{ID: "c2", Seq: 2, Content: "more cats", Embedding: []float32{0.9, 0.1, 0}},
	}))
	require.NoError(t, store.Activate(ctx, coll.ID))
	return coll
}

func TestRetrieveOrdersBySimilarity(t *testing.T) {
	store := index.NewMemoryStore()
	seedCollection(t, store)
	embedder := &fixedEmbedder{vectors: map[string][]float32{
		"cats?": {1, 0, 0},
	}}

	r, err := New(store, embedder, "library", 2)
	require.NoError(t, err)

	results, err := r.Retrieve(context.Background(), "cats?", 0)
	require.NoError(t, err)
	require.Len(t, results, 2)
	require.Equal(t, "c0", results[0].Chunk.ID)
	require.Equal(t, "c2", results[1].Chunk.ID)
}

func TestRetrieveWithoutActiveCollection(t *testing.T) {
	store := index.NewMemoryStore()
	r, err := New(store, &fixedEmbedder{}, "library", 4)
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), "anything", 0)
	require.ErrorIs(t, err, ErrNoActiveCollection)

	ready, err := r.Ready(context.Background())
	require.NoError(t, err)
	require.False(t, ready)
}

func TestRetrieveEmptyCollection(t *testing.T) {
	store := index.NewMemoryStore()
	ctx := context.Background()
	coll, err := store.Create(ctx, "library", "test-embed", 3)
	require.NoError(t, err)
	require.NoError(t, store.Activate(ctx, coll.ID))

	r, err := New(store, &fixedEmbedder{}, "library", 4)
	require.NoError(t, err)

	results, err := r.Retrieve(ctx, "anything", 0)
	require.NoError(t, err)
	require.Empty(t, results)
}

func TestRetrieveEmbedderFailure(t *testing.T) {
	store := index.NewMemoryStore()
	seedCollection(t, store)
	embedErr := errors.New("model down")

	r, err := New(store, &fixedEmbedder{err: embedErr}, "library", 4)
	require.NoError(t, err)

	_, err = r.Retrieve(context.Background(), "anything", 0)
	require.ErrorIs(t, err, embedErr)
}
