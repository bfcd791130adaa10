package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"pdfchat/internal/index"
	"pdfchat/internal/util"
	"pdfchat/pkg/ai"
	"pdfchat/pkg/domain"
)

// ErrNoDocuments signals that the corpus directory is missing or holds no
// eligible files. Callers may treat this as "serve an empty index" rather
// than a fatal condition.
var ErrNoDocuments = errors.New("no corpus documents")

// Config tunes the ingestion pipeline.
type Config struct {
	CorpusName   string
	Extensions   []string
	ChunkSize    int
	ChunkOverlap int
	EmbeddingDim int
	BatchSize    int
	Concurrency  int
}

// Pipeline rebuilds the vector index from a corpus directory: enumerate,
// extract, split, embed, write into a fresh collection, activate.
type Pipeline struct {
	store       index.Store
	embedder    ai.Embedder
	splitter    *Splitter
	corpusName  string
	extensions  []string
	dim         int
	batchSize   int
	concurrency int
}

// NewPipeline wires a pipeline. The embedder should already carry the
// ingestion retry policy.
func NewPipeline(store index.Store, embedder ai.Embedder, cfg Config) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("index store required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if cfg.CorpusName == "" {
		return nil, fmt.Errorf("corpus name required")
	}
	if cfg.EmbeddingDim <= 0 {
		return nil, fmt.Errorf("embedding dim required")
	}
	exts := cfg.Extensions
	if len(exts) == 0 {
		exts = []string{".pdf"}
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 16
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 2
	}
	return &Pipeline{
		store:       store,
		embedder:    embedder,
		splitter:    NewSplitter(cfg.ChunkSize, cfg.ChunkOverlap),
		corpusName:  cfg.CorpusName,
		extensions:  exts,
		dim:         cfg.EmbeddingDim,
		batchSize:   batchSize,
		concurrency: concurrency,
	}, nil
}

// Rebuild ingests dir into a fresh collection and activates it, dropping
// the previous snapshot. Returns ErrNoDocuments when there is nothing to
// ingest; the old collection is left untouched in that case.
func (p *Pipeline) Rebuild(ctx context.Context, dir string) (index.Collection, error) {
	docs, err := ReadCorpus(dir, p.extensions)
	if err != nil {
		return index.Collection{}, fmt.Errorf("%w: %v", ErrNoDocuments, err)
	}
	if len(docs) == 0 {
		return index.Collection{}, fmt.Errorf("%w: no eligible files in %s", ErrNoDocuments, dir)
	}

	chunks := p.splitDocuments(docs)
	slog.Info("corpus read", "documents", len(docs), "chunks", len(chunks))

	coll, err := p.store.Create(ctx, p.corpusName, p.embedder.Model(), p.dim)
	if err != nil {
		return index.Collection{}, fmt.Errorf("create collection: %w", err)
	}
	if err := p.embedAndStore(ctx, coll.ID, chunks); err != nil {
		// Never serve a half-built snapshot: discard it and keep the old
		// collection active.
		_ = p.store.Drop(ctx, coll.ID)
		return index.Collection{}, err
	}
	if err := p.store.Activate(ctx, coll.ID); err != nil {
		_ = p.store.Drop(ctx, coll.ID)
		return index.Collection{}, fmt.Errorf("activate collection: %w", err)
	}
	slog.Info("index rebuilt", "collection", coll.ID, "chunks", len(chunks))
	return coll, nil
}

// ActivateEmpty creates and activates an empty collection, used when the
// corpus is missing so queries can still run and return no matches.
func (p *Pipeline) ActivateEmpty(ctx context.Context) (index.Collection, error) {
	coll, err := p.store.Create(ctx, p.corpusName, p.embedder.Model(), p.dim)
	if err != nil {
		return index.Collection{}, fmt.Errorf("create empty collection: %w", err)
	}
	if err := p.store.Activate(ctx, coll.ID); err != nil {
		return index.Collection{}, fmt.Errorf("activate empty collection: %w", err)
	}
	return coll, nil
}

// splitDocuments chunks every document, numbering chunks with one global
// ingestion sequence used later as the similarity tie-break.
func (p *Pipeline) splitDocuments(docs []Document) []domain.Chunk {
	now := time.Now().UTC()
	var chunks []domain.Chunk
	seq := 0
	for _, doc := range docs {
		for _, part := range p.splitter.Split(doc.Text) {
			chunks = append(chunks, domain.Chunk{
				ID:        util.NewID(),
				Source:    doc.Source,
				Seq:       seq,
				Content:   part,
				CreatedAt: now,
			})
			seq++
		}
	}
	return chunks
}

func (p *Pipeline) embedAndStore(ctx context.Context, collectionID string, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	batches := make([][]domain.Chunk, 0, (len(chunks)/p.batchSize)+1)
	for i := 0; i < len(chunks); i += p.batchSize {
		end := i + p.batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		batches = append(batches, chunks[i:end])
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.concurrency)
	for _, batch := range batches {
		b := batch
		g.Go(func() error {
			return p.processBatch(gctx, collectionID, b)
		})
	}
	return g.Wait()
}

func (p *Pipeline) processBatch(ctx context.Context, collectionID string, batch []domain.Chunk) error {
	texts := make([]string, 0, len(batch))
	for _, chunk := range batch {
		texts = append(texts, chunk.Content)
	}
	var embeddings [][]float32
	if embedder, ok := p.embedder.(ai.BatchEmbedder); ok && len(texts) > 1 {
		out, err := embedder.EmbedTexts(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed batch: %w", err)
		}
		embeddings = out
	} else {
		out := make([][]float32, 0, len(texts))
		for _, text := range texts {
			embedding, err := p.embedder.EmbedText(ctx, text)
			if err != nil {
				return fmt.Errorf("embed chunk: %w", err)
			}
			out = append(out, embedding)
		}
		embeddings = out
	}
	if len(embeddings) != len(batch) {
		return fmt.Errorf("embedding count mismatch: got %d, want %d", len(embeddings), len(batch))
	}
	for i, embedding := range embeddings {
		if len(embedding) != p.dim {
			return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(embedding), p.dim)
		}
		batch[i].Embedding = embedding
	}
	return p.store.AddChunks(ctx, collectionID, batch)
}
