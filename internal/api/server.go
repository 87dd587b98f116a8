// Package api exposes the knowledge base over HTTP: document upload and
// lifecycle endpoints, the question-answering endpoint, and health probes.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/vitalia-kb/internal/document"
	"github.com/koopa0/vitalia-kb/internal/ingest"
	"github.com/koopa0/vitalia-kb/internal/rag"
	"github.com/koopa0/vitalia-kb/internal/worker"
)

// DocumentStore is the persistence surface the handlers need.
type DocumentStore interface {
	GetOrCreateByHash(ctx context.Context, fileName, fileHash string, sizeBytes int64) (*document.Document, bool, error)
	Get(ctx context.Context, id uuid.UUID) (*document.Document, error)
	List(ctx context.Context) ([]document.Document, error)
	Delete(ctx context.Context, id uuid.UUID) error
	ChunkCount(ctx context.Context, docID uuid.UUID) (int64, error)
}

// Asker answers questions over the knowledge base.
type Asker interface {
	Ask(ctx context.Context, question string, k int, threshold float64) (*rag.Answer, error)
}

// Enqueuer accepts background ingestion jobs.
type Enqueuer interface {
	Enqueue(job worker.Job) error
}

// ServerConfig contains configuration for creating the API server.
type ServerConfig struct {
	Logger *slog.Logger
	Store  DocumentStore // Required
	RAG    Asker         // Required
	Jobs   Enqueuer      // Required

	// SpoolDir receives uploaded files awaiting ingestion.
	SpoolDir string

	// IngestOptions are the defaults applied to uploaded documents.
	IngestOptions ingest.Options

	Pool       *pgxpool.Pool // Optional: nil disables DB ping in /readyz
	TrustProxy bool          // Trust X-Real-IP/X-Forwarded-For headers
	RateBurst  int           // Rate limiter burst size per IP (0 = default 60)
}

// Server is the JSON API HTTP server.
type Server struct {
	handler http.Handler
}

// NewServer creates the API server with all routes configured.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Store == nil {
		return nil, errors.New("document store is required")
	}
	if cfg.RAG == nil {
		return nil, errors.New("rag service is required")
	}
	if cfg.Jobs == nil {
		return nil, errors.New("job queue is required")
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dh := &documentHandler{
		store:    cfg.Store,
		jobs:     cfg.Jobs,
		spoolDir: cfg.SpoolDir,
		opts:     cfg.IngestOptions,
		logger:   logger,
	}
	ah := &askHandler{rag: cfg.RAG, logger: logger}
	hh := &healthHandler{pool: cfg.Pool, logger: logger}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/documents", dh.upload)
	mux.HandleFunc("GET /api/v1/documents", dh.list)
	mux.HandleFunc("GET /api/v1/documents/{id}", dh.get)
	mux.HandleFunc("DELETE /api/v1/documents/{id}", dh.delete)

	mux.HandleFunc("POST /api/v1/ask", ah.ask)

	mux.HandleFunc("GET /healthz", hh.healthz)
	mux.HandleFunc("GET /readyz", hh.readyz)

	burst := cfg.RateBurst
	if burst <= 0 {
		burst = 60
	}
	rl := newRateLimiter(1.0, burst)

	// Middleware stack, outermost first:
	//   Recovery -> Logging -> RateLimit -> Routes
	var handler http.Handler = mux
	handler = rateLimitMiddleware(rl, cfg.TrustProxy, logger)(handler)
	handler = loggingMiddleware(logger)(handler)
	handler = recoveryMiddleware(logger)(handler)

	return &Server{handler: handler}, nil
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}
