package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
	"pdfchat/pkg/domain"
)

const migrateLockID int64 = 52105210

// PgvectorStore implements Store on Postgres with the pgvector extension.
type PgvectorStore struct {
	db  *gorm.DB
	dim int
}

// NewPgvectorStore opens the database, ensures the vector extension, and
// migrates the collection/chunk tables. dim fixes the embedding column
// width for every collection in this database.
func NewPgvectorStore(dsn string, dim int) (*PgvectorStore, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("embedding dim required")
	}
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("create pgvector extension: %w", err)
		}
		if err := tx.AutoMigrate(&CollectionModel{}, &ChunkModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(fmt.Sprintf(
			"ALTER TABLE index_chunks ALTER COLUMN embedding TYPE vector(%d)", dim,
		)).Error; err != nil {
			return fmt.Errorf("alter chunk embedding type: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'index_chunks'
					AND constraint_name = 'index_chunks_collection_id_fkey'
				) THEN
					ALTER TABLE index_chunks
					ADD CONSTRAINT index_chunks_collection_id_fkey
					FOREIGN KEY (collection_id) REFERENCES index_collections(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure chunk foreign key: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &PgvectorStore{db: db, dim: dim}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)"); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)")
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string) error {
	_, err := conn.ExecContext(ctx, query, migrateLockID)
	return err
}

// Create registers a new inactive collection.
func (s *PgvectorStore) Create(ctx context.Context, name, model string, dim int) (Collection, error) {
	if dim != s.dim {
		return Collection{}, fmt.Errorf("collection dim %d does not match store dim %d", dim, s.dim)
	}
	m := CollectionModel{
		ID:        uuid.NewString(),
		Name:      name,
		Model:     model,
		Dim:       dim,
		Active:    false,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&m).Error; err != nil {
		return Collection{}, fmt.Errorf("create collection: %w", err)
	}
	return collectionFromModel(m), nil
}

// AddChunks inserts chunks in batches.
func (s *PgvectorStore) AddChunks(ctx context.Context, collectionID string, chunks []domain.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	models := make([]ChunkModel, 0, len(chunks))
	for _, chunk := range chunks {
		if len(chunk.Embedding) != s.dim {
			return fmt.Errorf("embedding dimension mismatch: got %d, want %d", len(chunk.Embedding), s.dim)
		}
		meta, _ := json.Marshal(map[string]string{
			"source":     chunk.Source,
			"sourceType": sourceType(chunk.Source),
		})
		models = append(models, ChunkModel{
			ID:           chunk.ID,
			CollectionID: collectionID,
			Source:       chunk.Source,
			Seq:          chunk.Seq,
			Content:      chunk.Content,
			Embedding:    pgvector.NewVector(chunk.Embedding),
			Metadata:     meta,
			CreatedAt:    chunk.CreatedAt,
		})
	}
	return s.db.WithContext(ctx).CreateInBatches(&models, 200).Error
}

// Activate flips the active flag to this collection and deletes every
// other collection with the same name in one transaction. Chunk rows of
// dropped collections go with them via the FK cascade.
func (s *PgvectorStore) Activate(ctx context.Context, collectionID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m CollectionModel
		if err := tx.First(&m, "id = ?", collectionID).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrCollectionNotFound
			}
			return err
		}
		if err := tx.Delete(&CollectionModel{}, "name = ? AND id <> ?", m.Name, collectionID).Error; err != nil {
			return err
		}
		return tx.Model(&CollectionModel{}).Where("id = ?", collectionID).
			Update("active", true).Error
	})
}

// Active resolves the active collection for a corpus name.
func (s *PgvectorStore) Active(ctx context.Context, name string) (Collection, bool, error) {
	var m CollectionModel
	err := s.db.WithContext(ctx).
		Where("name = ? AND active", name).
		Order("created_at DESC").
		First(&m).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return Collection{}, false, nil
		}
		return Collection{}, false, err
	}
	return collectionFromModel(m), true, nil
}

// Drop removes a collection; unknown ids are a no-op.
func (s *PgvectorStore) Drop(ctx context.Context, collectionID string) error {
	return s.db.WithContext(ctx).Delete(&CollectionModel{}, "id = ?", collectionID).Error
}

type scoredChunkRow struct {
	ChunkModel
	Score float32
}

// Search orders chunks by cosine distance to the query; ties fall back to
// ingestion sequence so results are stable across identical scores.
func (s *PgvectorStore) Search(ctx context.Context, collectionID string, embedding []float32, topK int) ([]domain.ScoredChunk, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if len(embedding) != s.dim {
		return nil, fmt.Errorf("query dimension mismatch: got %d, want %d", len(embedding), s.dim)
	}
	vec := pgvector.NewVector(embedding)
	var rows []scoredChunkRow
	if err := s.db.WithContext(ctx).Raw(`
		SELECT *, 1 - (embedding <=> ?) AS score
		FROM index_chunks
		WHERE collection_id = ?
		ORDER BY embedding <=> ?, seq ASC
		LIMIT ?
	`, vec, collectionID, vec, topK).Scan(&rows).Error; err != nil {
		return nil, err
	}
	results := make([]domain.ScoredChunk, 0, len(rows))
	for _, row := range rows {
		results = append(results, domain.ScoredChunk{
			Chunk: domain.Chunk{
				ID:        row.ID,
				Source:    row.Source,
				Seq:       row.Seq,
				Content:   row.Content,
				Embedding: row.Embedding.Slice(),
				CreatedAt: row.CreatedAt,
			},
			Score: row.Score,
		})
	}
	return results, nil
}

// Count returns the chunk count of a collection.
func (s *PgvectorStore) Count(ctx context.Context, collectionID string) (int, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&ChunkModel{}).
		Where("collection_id = ?", collectionID).Count(&count).Error; err != nil {
		return 0, err
	}
	return int(count), nil
}

func sourceType(source string) string {
	switch strings.ToLower(filepath.Ext(source)) {
	case ".pdf":
		return "pdf"
	case ".epub":
		return "epub"
	default:
		return "text"
	}
}

func collectionFromModel(m CollectionModel) Collection {
	return Collection{
		ID:        m.ID,
		Name:      m.Name,
		Model:     m.Model,
		Dim:       m.Dim,
		CreatedAt: m.CreatedAt,
	}
}
