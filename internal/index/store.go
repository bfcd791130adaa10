package index

import (
	"context"
	"errors"
	"time"

	"pdfchat/pkg/domain"
)

// ErrCollectionNotFound is returned when a collection id or an active
// collection for a corpus name does not exist.
var ErrCollectionNotFound = errors.New("collection not found")

// Collection describes one corpus snapshot held by the store.
type Collection struct {
	ID        string
	Name      string
	Model     string
	Dim       int
	CreatedAt time.Time
}

// Store persists embedded chunks in named, versioned collections and
// answers top-K similarity queries.
//
// A rebuild creates a fresh inactive collection, fills it, then calls
// Activate, which atomically makes it the one visible for its name and
// removes its predecessors. Readers resolving Active therefore never see a
// half-built collection as the active one.
type Store interface {
	// Create registers a new inactive collection for name. The embedding
	// model and dimension are recorded so query-time mismatches are caught
	// as errors rather than silently returning garbage neighbors.
	Create(ctx context.Context, name, model string, dim int) (Collection, error)
	// AddChunks appends chunks to a collection. Chunk embeddings must match
	// the collection dimension.
	AddChunks(ctx context.Context, collectionID string, chunks []domain.Chunk) error
	// Activate makes the collection current for its name and drops all
	// other collections with the same name. Idempotent drop: absent
	// predecessors are not an error.
	Activate(ctx context.Context, collectionID string) error
	// Active resolves the active collection for a corpus name.
	Active(ctx context.Context, name string) (Collection, bool, error)
	// Drop removes a collection and its chunks. Unknown ids are a no-op.
	Drop(ctx context.Context, collectionID string) error
	// Search returns up to topK chunks of the collection ordered by
	// descending cosine similarity, ties broken by ingestion sequence.
	// An empty collection yields an empty result, not an error.
	Search(ctx context.Context, collectionID string, embedding []float32, topK int) ([]domain.ScoredChunk, error)
	// Count returns the number of chunks in a collection.
	Count(ctx context.Context, collectionID string) (int, error)
}
