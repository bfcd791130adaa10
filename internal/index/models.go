package index

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
)

// GORM models used for persistence.
type CollectionModel struct {
	ID        string `gorm:"primaryKey"`
	Name      string `gorm:"not null;index"`
	Model     string `gorm:"not null"`
	Dim       int    `gorm:"not null"`
	Active    bool   `gorm:"not null;default:false;index"`
	CreatedAt time.Time `gorm:"not null"`
}

func (CollectionModel) TableName() string { return "index_collections" }

type ChunkModel struct {
	ID           string          `gorm:"primaryKey"`
	CollectionID string          `gorm:"not null;index"`
	Source       string          `gorm:"not null"`
	Seq          int             `gorm:"not null;index"`
	Content      string          `gorm:"type:text;not null"`
	Embedding    pgvector.Vector `gorm:"type:vector(768)"`
	Metadata     datatypes.JSON  `gorm:"type:jsonb"`
	CreatedAt    time.Time       `gorm:"not null"`
}

func (ChunkModel) TableName() string { return "index_chunks" }
