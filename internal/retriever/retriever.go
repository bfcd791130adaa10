package retriever

import (
	"context"
	"errors"
	"fmt"

	"pdfchat/internal/index"
	"pdfchat/pkg/ai"
	"pdfchat/pkg/domain"
)

// ErrNoActiveCollection is returned when retrieval runs before any corpus
// snapshot has been activated.
var ErrNoActiveCollection = errors.New("no active collection")

// DefaultTopK is how many chunks a conversational query pulls as context.
const DefaultTopK = 12

// Retriever turns a free-text query into its nearest corpus chunks. The
// same embedder used at ingestion time must be used here, otherwise the
// two vector spaces do not line up.
type Retriever struct {
	store    index.Store
	embedder ai.Embedder
	corpus   string
	topK     int
}

// New wires a retriever over the active collection of corpus.
func New(store index.Store, embedder ai.Embedder, corpus string, topK int) (*Retriever, error) {
	if store == nil {
		return nil, fmt.Errorf("index store required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if corpus == "" {
		return nil, fmt.Errorf("corpus name required")
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Retriever{store: store, embedder: embedder, corpus: corpus, topK: topK}, nil
}

// Retrieve embeds the query and returns up to topK chunks ordered by
// similarity; topK <= 0 falls back to the retriever's default breadth.
// An empty result is a normal outcome, not an error: it means the corpus
// holds nothing relevant and the caller should answer with the no-match
// response instead of generating.
func (r *Retriever) Retrieve(ctx context.Context, query string, topK int) ([]domain.ScoredChunk, error) {
	if topK <= 0 {
		topK = r.topK
	}
	coll, ok, err := r.store.Active(ctx, r.corpus)
	if err != nil {
		return nil, fmt.Errorf("resolve active collection: %w", err)
	}
	if !ok {
		return nil, ErrNoActiveCollection
	}
	embedding, err := r.embedder.EmbedText(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	results, err := r.store.Search(ctx, coll.ID, embedding, topK)
	if err != nil {
		return nil, fmt.Errorf("search collection: %w", err)
	}
	return results, nil
}

// Ready reports whether an active collection exists for the corpus.
func (r *Retriever) Ready(ctx context.Context) (bool, error) {
	_, ok, err := r.store.Active(ctx, r.corpus)
	return ok, err
}
