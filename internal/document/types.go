// Package document persists documents and their embedded chunks in
// PostgreSQL with pgvector similarity search.
package document

import (
	"time"

	"github.com/google/uuid"
)

// Status is the ingestion lifecycle state of a document.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessing Status = "PROCESSING"
	StatusEmbedding  Status = "EMBEDDING"
	StatusCompleted  Status = "COMPLETED"
	StatusFailed     Status = "FAILED"
)

// Document is one ingested source file. FileHash (sha256 of the file bytes)
// is the dedup key: re-ingesting identical bytes reuses the existing row.
type Document struct {
	ID                uuid.UUID
	FileName          string
	FileHash          string
	SizeBytes         int64
	Status            Status
	CurrentGeneration int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Chunk is one embedded text chunk of a document. Only chunks whose
// Generation matches the parent's CurrentGeneration are visible to search.
type Chunk struct {
	ID         uuid.UUID
	DocumentID uuid.UUID
	Generation int64
	Content    string
	Embedding  []float32
	PageNumber int // 0 = unknown
	Metadata   map[string]any
}

// SearchResult is one ranked chunk from a similarity search.
type SearchResult struct {
	DocumentID uuid.UUID
	FileName   string
	Content    string
	PageNumber int
	Metadata   map[string]any

	// Distance is the cosine distance to the query vector; lower is closer.
	Distance float64
}
