// Package ingest drives the document ingestion pipeline: extraction, vision
// enrichment, chunk assembly, embedding and persistence, with a per-document
// status state machine (PENDING, PROCESSING, EMBEDDING, COMPLETED, FAILED).
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/koopa0/vitalia-kb/internal/chunk"
	"github.com/koopa0/vitalia-kb/internal/document"
	"github.com/koopa0/vitalia-kb/internal/extract"
)

// Chunks shorter than this are OCR noise, not embeddable content.
const minChunkLen = 10

var (
	// ErrNoChunks indicates the pipeline produced no usable chunks.
	ErrNoChunks = errors.New("no usable chunks produced")

	// ErrAlreadyIngested indicates the document is COMPLETED and force was
	// not requested.
	ErrAlreadyIngested = errors.New("document already ingested")
)

// Extractor partitions file bytes into ordered elements.
type Extractor interface {
	Partition(ctx context.Context, fileName string, data []byte, opts extract.Options) ([]extract.RawElement, error)
}

// Enricher describes image payloads in place.
type Enricher interface {
	Enrich(ctx context.Context, elements []extract.RawElement) error
}

// Embedder produces an embedding vector for a text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Store is the document persistence surface the pipeline needs.
type Store interface {
	GetOrCreateByHash(ctx context.Context, fileName, fileHash string, sizeBytes int64) (*document.Document, bool, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status document.Status) error
	ReplaceChunks(ctx context.Context, docID uuid.UUID, chunks []document.Chunk) error
}

// PageRange restricts ingestion to a 1-based inclusive page window.
type PageRange struct {
	From int
	To   int
}

// Contains reports whether the page falls inside the range.
func (r PageRange) Contains(page int) bool {
	return page >= r.From && (r.To == 0 || page <= r.To)
}

// Options configures one ingestion run.
type Options struct {
	// Language is the predominant document language ("en" or "pt"); it
	// selects the OCR model.
	Language string

	MaxChars int
	Overlap  int

	// TextOnly ignores tables, images and captions entirely.
	TextOnly bool

	// SkipVision keeps table structure but skips model-generated
	// descriptions.
	SkipVision bool

	FixHyphenation bool

	// Pages restricts processing to a page window for partial re-runs.
	Pages *PageRange

	// Force re-ingests a document that is already COMPLETED.
	Force bool

	// DryRun executes extraction, enrichment and chunking with a detailed
	// report but touches neither the database nor the document status.
	DryRun bool
}

// Result summarizes one document's ingestion.
type Result struct {
	Path       string
	DocumentID uuid.UUID
	Chunks     int
	Skipped    bool
	Err        error
}

// Pipeline runs the ingestion state machine for single documents and batches.
// Safe for concurrent use; vision work is serialized internally.
type Pipeline struct {
	extractor Extractor
	enricher  Enricher
	embedder  Embedder
	store     Store
	logger    *slog.Logger
}

// NewPipeline assembles a pipeline. enricher may be nil when no vision model
// is configured.
func NewPipeline(extractor Extractor, enricher Enricher, embedder Embedder, store Store, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		extractor: extractor,
		enricher:  enricher,
		embedder:  embedder,
		store:     store,
		logger:    logger,
	}
}

// Run ingests one file through the full pipeline. Stage failures move the
// document to FAILED and are returned; per-item failures (single images,
// single chunks) are logged and skipped.
func (p *Pipeline) Run(ctx context.Context, path string, opts Options) (*Result, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading source file: %w", err)
	}
	fileName := filepath.Base(path)
	sum := sha256.Sum256(data)
	fileHash := hex.EncodeToString(sum[:])

	result := &Result{Path: path}

	if opts.DryRun {
		records, err := p.produceChunks(ctx, fileName, data, opts)
		if err != nil {
			return nil, err
		}
		p.reportDryRun(records)
		result.Chunks = len(records)
		return result, nil
	}

	doc, created, err := p.store.GetOrCreateByHash(ctx, fileName, fileHash, int64(len(data)))
	if err != nil {
		return nil, err
	}
	result.DocumentID = doc.ID

	if !created && doc.Status == document.StatusCompleted && !opts.Force {
		p.logger.Info("document already ingested, skipping",
			"file", fileName, "id", doc.ID, "hash", fileHash[:12])
		result.Skipped = true
		return result, nil
	}

	if err := p.store.UpdateStatus(ctx, doc.ID, document.StatusProcessing); err != nil {
		return nil, err
	}

	records, err := p.produceChunks(ctx, fileName, data, opts)
	if err != nil {
		p.fail(ctx, doc.ID, err)
		return nil, err
	}

	if err := p.store.UpdateStatus(ctx, doc.ID, document.StatusEmbedding); err != nil {
		return nil, err
	}

	chunks, err := p.embedChunks(ctx, records)
	if err != nil {
		p.fail(ctx, doc.ID, err)
		return nil, err
	}

	if err := p.store.ReplaceChunks(ctx, doc.ID, chunks); err != nil {
		p.fail(ctx, doc.ID, err)
		return nil, err
	}
	if err := p.store.UpdateStatus(ctx, doc.ID, document.StatusCompleted); err != nil {
		return nil, err
	}

	p.logger.Info("document ingested", "file", fileName, "id", doc.ID, "chunks", len(chunks))
	result.Chunks = len(chunks)
	return result, nil
}

// produceChunks runs extraction, optional vision enrichment and chunk
// assembly. It performs no writes.
func (p *Pipeline) produceChunks(ctx context.Context, fileName string, data []byte, opts Options) ([]chunk.Record, error) {
	elements, err := p.extractor.Partition(ctx, fileName, data, extract.Options{
		Strategy:        "hi_res",
		Language:        ocrLanguage(opts.Language),
		ImageBlockTypes: extract.ImageBlockTypesFor(opts.TextOnly, opts.SkipVision),
	})
	if err != nil {
		return nil, fmt.Errorf("extraction stage: %w", err)
	}

	if opts.Pages != nil {
		elements = filterPages(elements, *opts.Pages)
		if len(elements) == 0 {
			return nil, fmt.Errorf("%w: no elements in page range %d-%d",
				ErrNoChunks, opts.Pages.From, opts.Pages.To)
		}
	}

	if p.enricher != nil && !opts.TextOnly && !opts.SkipVision {
		if err := p.enricher.Enrich(ctx, elements); err != nil {
			return nil, fmt.Errorf("vision stage: %w", err)
		}
	}

	records := chunk.Build(elements, chunk.Options{
		SourceName:     fileName,
		TextOnly:       opts.TextOnly,
		FixHyphenation: opts.FixHyphenation,
		MaxChars:       opts.MaxChars,
		Overlap:        opts.Overlap,
	}, p.logger)

	kept := records[:0]
	for _, r := range records {
		if utf8.RuneCountInString(r.Content) >= minChunkLen {
			kept = append(kept, r)
		}
	}
	if len(kept) == 0 {
		return nil, ErrNoChunks
	}
	return kept, nil
}

// embedChunks embeds each record. A single chunk's failure is logged and the
// chunk dropped; only losing every chunk fails the stage.
func (p *Pipeline) embedChunks(ctx context.Context, records []chunk.Record) ([]document.Chunk, error) {
	chunks := make([]document.Chunk, 0, len(records))
	for i, r := range records {
		vec, err := p.embedder.Embed(ctx, r.Content)
		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("embedding stage: %w", ctx.Err())
			}
			p.logger.Error("chunk embedding failed, skipping",
				"chunk", i, "page", r.Page, "error", err)
			continue
		}
		chunks = append(chunks, document.Chunk{
			Content:    r.Content,
			Embedding:  vec,
			PageNumber: r.Page,
			Metadata:   r.Metadata,
		})
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: all embeddings failed", ErrNoChunks)
	}
	return chunks, nil
}

// Batch ingests several files with bounded parallelism. Failures are
// isolated per document; the returned results are in input order.
func (p *Pipeline) Batch(ctx context.Context, paths []string, opts Options, parallelism int) []Result {
	if parallelism < 1 {
		parallelism = 1
	}

	results := make([]Result, len(paths))
	sem := make(chan struct{}, parallelism)
	var wg sync.WaitGroup

	for i, path := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			r, err := p.Run(ctx, path, opts)
			if err != nil {
				results[i] = Result{Path: path, Err: err}
				p.logger.Error("document ingestion failed", "file", path, "error", err)
				return
			}
			results[i] = *r
		}()
	}
	wg.Wait()
	return results
}

// fail moves the document to FAILED. The status write survives cancellation
// of the run context.
func (p *Pipeline) fail(ctx context.Context, id uuid.UUID, cause error) {
	p.logger.Error("ingestion failed", "id", id, "error", cause)
	if err := p.store.UpdateStatus(context.WithoutCancel(ctx), id, document.StatusFailed); err != nil {
		p.logger.Error("failed to mark document FAILED", "id", id, "error", err)
	}
}

func (p *Pipeline) reportDryRun(records []chunk.Record) {
	p.logger.Info("dry-run report", "chunks", len(records))
	for i, r := range records {
		preview := r.Content
		if utf8.RuneCountInString(preview) > 120 {
			preview = string([]rune(preview)[:120]) + "…"
		}
		p.logger.Info("dry-run chunk",
			"index", i+1,
			"page", r.Page,
			"chars", utf8.RuneCountInString(r.Content),
			"is_table", r.Metadata["is_table"],
			"has_vision", r.Metadata["has_vision"],
			"preview", preview)
	}
	p.logger.Info("dry-run complete, no database writes performed")
}

func filterPages(elements []extract.RawElement, r PageRange) []extract.RawElement {
	kept := elements[:0]
	for _, el := range elements {
		if el.Metadata.PageNumber == 0 || r.Contains(el.Metadata.PageNumber) {
			kept = append(kept, el)
		}
	}
	return kept
}

// ocrLanguage maps the CLI language flag to the OCR language code.
func ocrLanguage(lang string) string {
	if lang == "pt" {
		return "por"
	}
	return "eng"
}
