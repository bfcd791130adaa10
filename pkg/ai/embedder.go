package ai

import "context"

// Embedder provides embeddings for text. Ingestion and query embedding must
// go through the same Embedder instance so both sides share one model and
// one vector space.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	// Model identifies the embedding model/version behind this embedder.
	Model() string
}

// BatchEmbedder optionally supports embedding multiple texts at once.
type BatchEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
