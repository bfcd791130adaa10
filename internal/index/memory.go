package index

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"pdfchat/pkg/domain"
)

// MemoryStore is an in-process Store used in tests and when no vector
// database is configured. Search is an exact cosine scan, which is fine at
// the corpus sizes this serves.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
	active      map[string]string // corpus name -> collection id
}

type memCollection struct {
	info   Collection
	chunks []domain.Chunk
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memCollection),
		active:      make(map[string]string),
	}
}

// Create registers a new inactive collection.
func (m *MemoryStore) Create(_ context.Context, name, model string, dim int) (Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info := Collection{
		ID:        uuid.NewString(),
		Name:      name,
		Model:     model,
		Dim:       dim,
		CreatedAt: time.Now().UTC(),
	}
	m.collections[info.ID] = &memCollection{info: info}
	return info, nil
}

// AddChunks appends chunks after validating their dimension.
func (m *MemoryStore) AddChunks(_ context.Context, collectionID string, chunks []domain.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collectionID]
	if !ok {
		return ErrCollectionNotFound
	}
	for _, chunk := range chunks {
		if coll.info.Dim > 0 && len(chunk.Embedding) != coll.info.Dim {
			return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(chunk.Embedding), coll.info.Dim)
		}
	}
	coll.chunks = append(coll.chunks, chunks...)
	return nil
}

// Activate promotes the collection and forgets its predecessors.
func (m *MemoryStore) Activate(_ context.Context, collectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collectionID]
	if !ok {
		return ErrCollectionNotFound
	}
	name := coll.info.Name
	for id, other := range m.collections {
		if id != collectionID && other.info.Name == name {
			delete(m.collections, id)
		}
	}
	m.active[name] = collectionID
	return nil
}

// Active resolves the active collection for a corpus name.
func (m *MemoryStore) Active(_ context.Context, name string) (Collection, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.active[name]
	if !ok {
		return Collection{}, false, nil
	}
	coll, ok := m.collections[id]
	if !ok {
		return Collection{}, false, nil
	}
	return coll.info, true, nil
}

// Drop removes a collection; unknown ids are a no-op.
func (m *MemoryStore) Drop(_ context.Context, collectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collectionID]
	if !ok {
		return nil
	}
	if m.active[coll.info.Name] == collectionID {
		delete(m.active, coll.info.Name)
	}
	delete(m.collections, collectionID)
	return nil
}

// Search scans the collection and returns the topK most similar chunks.
func (m *MemoryStore) Search(_ context.Context, collectionID string, embedding []float32, topK int) ([]domain.ScoredChunk, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.collections[collectionID]
	if !ok {
		return nil, ErrCollectionNotFound
	}
	if coll.info.Dim > 0 && len(embedding) != coll.info.Dim {
		return nil, fmt.Errorf("query dimension mismatch: got %d, want %d", len(embedding), coll.info.Dim)
	}
	results := make([]domain.ScoredChunk, 0, len(coll.chunks))
	for _, chunk := range coll.chunks {
		results = append(results, domain.ScoredChunk{
			Chunk: chunk,
			Score: cosineSimilarity(embedding, chunk.Embedding),
		})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Chunk.Seq < results[j].Chunk.Seq
	})
	if topK < len(results) {
		results = results[:topK]
	}
	return results, nil
}

// Count returns the chunk count of a collection.
func (m *MemoryStore) Count(_ context.Context, collectionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	coll, ok := m.collections[collectionID]
	if !ok {
		return 0, ErrCollectionNotFound
	}
	return len(coll.chunks), nil
}

// cosineSimilarity returns a value in [-1, 1]; 1 means identical direction.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float32
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
