package document

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ErrNotFound indicates the requested document does not exist.
var ErrNotFound = errors.New("document not found")

// insertBatchSize bounds the rows per chunk insert batch.
const insertBatchSize = 500

// Store manages documents and their vector chunks.
// Safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a Store over the given connection pool.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// GetOrCreateByHash returns the document with the given file hash, creating a
// PENDING row if none exists. The boolean reports whether a row was created.
func (s *Store) GetOrCreateByHash(ctx context.Context, fileName, fileHash string, sizeBytes int64) (*Document, bool, error) {
	doc, err := s.getBy(ctx, "file_hash = $1", fileHash)
	if err == nil {
		return doc, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	id := uuid.New()
	row := s.pool.QueryRow(ctx, `
		INSERT INTO documents (id, file_name, file_hash, size_bytes, status)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (file_hash) DO UPDATE SET updated_at = now()
		RETURNING id, file_name, file_hash, size_bytes, status, current_generation, created_at, updated_at`,
		id, fileName, fileHash, sizeBytes, StatusPending)

	doc, err = scanDocument(row)
	if err != nil {
		return nil, false, fmt.Errorf("creating document: %w", err)
	}
	created := doc.ID == id
	if created {
		s.logger.Info("document created", "id", doc.ID, "file", fileName, "hash", fileHash[:12])
	}
	return doc, created, nil
}

// Get returns a document by ID.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*Document, error) {
	return s.getBy(ctx, "id = $1", id)
}

// GetByHash returns a document by its file hash.
func (s *Store) GetByHash(ctx context.Context, fileHash string) (*Document, error) {
	return s.getBy(ctx, "file_hash = $1", fileHash)
}

func (s *Store) getBy(ctx context.Context, where string, arg any) (*Document, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, file_name, file_hash, size_bytes, status, current_generation, created_at, updated_at
		FROM documents WHERE `+where, arg)

	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}
	return doc, nil
}

// List returns all documents, newest first.
func (s *Store) List(ctx context.Context) ([]Document, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, file_name, file_hash, size_bytes, status, current_generation, created_at, updated_at
		FROM documents ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing documents: %w", err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		docs = append(docs, *doc)
	}
	return docs, rows.Err()
}

// UpdateStatus transitions a document to the given lifecycle state.
func (s *Store) UpdateStatus(ctx context.Context, id uuid.UUID, status Status) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET status = $2, updated_at = now() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	s.logger.Debug("document status updated", "id", id, "status", status)
	return nil
}

// Delete removes a document; its chunks cascade.
func (s *Store) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ReplaceChunks writes a fresh generation of chunks for a document and swaps
// it live. The new rows are inserted under generation current+1 while the old
// generation stays visible; one transaction then flips current_generation and
// deletes the superseded rows. A crash mid-rebuild leaves the previous
// generation intact and searchable.
func (s *Store) ReplaceChunks(ctx context.Context, docID uuid.UUID, chunks []Chunk) error {
	doc, err := s.Get(ctx, docID)
	if err != nil {
		return err
	}
	newGen := doc.CurrentGeneration + 1

	for start := 0; start < len(chunks); start += insertBatchSize {
		end := min(start+insertBatchSize, len(chunks))
		if err := s.insertChunkBatch(ctx, docID, newGen, chunks[start:end]); err != nil {
			return fmt.Errorf("inserting chunk batch at %d: %w", start, err)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning swap transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()

	if _, err := tx.Exec(ctx, `
		UPDATE documents SET current_generation = $2, updated_at = now() WHERE id = $1`,
		docID, newGen); err != nil {
		return fmt.Errorf("swapping generation: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		DELETE FROM document_chunks WHERE document_id = $1 AND generation < $2`,
		docID, newGen); err != nil {
		return fmt.Errorf("pruning old generations: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing swap: %w", err)
	}

	s.logger.Info("chunks replaced", "document_id", docID, "generation", newGen, "chunks", len(chunks))
	return nil
}

func (s *Store) insertChunkBatch(ctx context.Context, docID uuid.UUID, generation int64, chunks []Chunk) error {
	batch := &pgx.Batch{}
	for _, c := range chunks {
		metadata, err := json.Marshal(c.Metadata)
		if err != nil {
			return fmt.Errorf("marshaling chunk metadata: %w", err)
		}
		var page *int
		if c.PageNumber > 0 {
			page = &c.PageNumber
		}
		batch.Queue(`
			INSERT INTO document_chunks (id, document_id, generation, content, embedding, page_number, metadata)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			uuid.New(), docID, generation, c.Content, pgvector.NewVector(c.Embedding), page, metadata)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer func() {
		_ = results.Close()
	}()
	for range chunks {
		if _, err := results.Exec(); err != nil {
			return err
		}
	}
	return nil
}

// ChunkCount returns the number of live chunks for a document.
func (s *Store) ChunkCount(ctx context.Context, docID uuid.UUID) (int64, error) {
	var count int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE c.document_id = $1 AND c.generation = d.current_generation`,
		docID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting chunks: %w", err)
	}
	return count, nil
}

// SearchChunks returns the k chunks closest to the query embedding by cosine
// distance, ascending. Only chunks of COMPLETED documents at their current
// generation are searched. A positive threshold drops results whose distance
// exceeds it; zero disables the filter.
func (s *Store) SearchChunks(ctx context.Context, embedding []float32, k int, threshold float64) ([]SearchResult, error) {
	query := `
		SELECT c.document_id, d.file_name, c.content, coalesce(c.page_number, 0), c.metadata,
		       c.embedding <=> $1 AS distance
		FROM document_chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.status = $2 AND c.generation = d.current_generation`
	args := []any{pgvector.NewVector(embedding), StatusCompleted}

	if threshold > 0 {
		args = append(args, threshold)
		query += fmt.Sprintf(" AND c.embedding <=> $1 <= $%d", len(args))
	}
	args = append(args, k)
	query += fmt.Sprintf(" ORDER BY distance ASC LIMIT $%d", len(args))

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var metadata []byte
		if err := rows.Scan(&r.DocumentID, &r.FileName, &r.Content, &r.PageNumber, &metadata, &r.Distance); err != nil {
			return nil, fmt.Errorf("scanning search result: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &r.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshaling chunk metadata: %w", err)
			}
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

// row abstracts pgx.Row and pgx.Rows for scanning.
type row interface {
	Scan(dest ...any) error
}

func scanDocument(r row) (*Document, error) {
	var doc Document
	err := r.Scan(&doc.ID, &doc.FileName, &doc.FileHash, &doc.SizeBytes,
		&doc.Status, &doc.CurrentGeneration, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &doc, nil
}
