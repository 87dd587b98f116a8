package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/vitalia-kb/internal/document"
	"github.com/koopa0/vitalia-kb/internal/ingest"
	"github.com/koopa0/vitalia-kb/internal/worker"
)

// maxUploadBytes bounds multipart uploads (256 MiB covers scanned books).
const maxUploadBytes = 256 << 20

type documentHandler struct {
	store    DocumentStore
	jobs     Enqueuer
	spoolDir string
	opts     ingest.Options
	logger   *slog.Logger
}

type documentResponse struct {
	ID        uuid.UUID `json:"id"`
	FileName  string    `json:"file_name"`
	Status    string    `json:"status"`
	SizeBytes int64     `json:"size_bytes"`
	Chunks    int64     `json:"chunks,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toDocumentResponse(doc *document.Document, chunks int64) documentResponse {
	return documentResponse{
		ID:        doc.ID,
		FileName:  doc.FileName,
		Status:    string(doc.Status),
		SizeBytes: doc.SizeBytes,
		Chunks:    chunks,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}
}

// upload accepts a multipart file, spools it to disk, registers a PENDING
// document and enqueues an ingestion job keyed by the document ID. The
// response is 202: processing happens in the background and the returned
// document_id is immediately pollable via GET /api/v1/documents/{id}.
func (h *documentHandler) upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_upload", "could not parse multipart form")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_file", "form field 'file' is required")
		return
	}
	defer func() {
		_ = file.Close()
	}()

	fileName := filepath.Base(header.Filename)
	if fileName == "" || fileName == "." {
		writeError(w, http.StatusBadRequest, "invalid_filename", "upload has no usable file name")
		return
	}

	spooled := filepath.Join(h.spoolDir, fmt.Sprintf("%s_%s", uuid.New(), fileName))
	dst, err := os.Create(spooled)
	if err != nil {
		h.logger.Error("spool file creation failed", "path", spooled, "error", err)
		writeError(w, http.StatusInternalServerError, "spool_failed", "could not store upload")
		return
	}
	hasher := sha256.New()
	size, err := io.Copy(io.MultiWriter(dst, hasher), file)
	if err != nil {
		_ = dst.Close()
		_ = os.Remove(spooled)
		h.logger.Error("spooling upload failed", "path", spooled, "error", err)
		writeError(w, http.StatusInternalServerError, "spool_failed", "could not store upload")
		return
	}
	if err := dst.Close(); err != nil {
		_ = os.Remove(spooled)
		writeError(w, http.StatusInternalServerError, "spool_failed", "could not store upload")
		return
	}

	// The document enters PENDING here, before the job is queued, so the
	// returned ID is pollable straight away.
	fileHash := hex.EncodeToString(hasher.Sum(nil))
	doc, created, err := h.store.GetOrCreateByHash(r.Context(), fileName, fileHash, size)
	if err != nil {
		_ = os.Remove(spooled)
		h.logger.Error("registering document failed", "file", fileName, "error", err)
		writeError(w, http.StatusInternalServerError, "register_failed", "could not register document")
		return
	}

	opts := h.opts
	opts.Force = r.FormValue("force") == "true"
	if lang := r.FormValue("lang"); lang != "" {
		opts.Language = lang
	}

	job := worker.Job{DocumentID: doc.ID, Path: spooled, Options: opts}
	if err := h.jobs.Enqueue(job); err != nil {
		_ = os.Remove(spooled)
		if errors.Is(err, worker.ErrQueueFull) {
			w.Header().Set("Retry-After", "10")
			writeError(w, http.StatusServiceUnavailable, "queue_full", "ingestion queue is full, retry later")
			return
		}
		writeError(w, http.StatusServiceUnavailable, "queue_unavailable", "ingestion queue unavailable")
		return
	}

	h.logger.Info("upload accepted",
		"file", fileName, "document_id", doc.ID, "new_document", created)
	writeJSON(w, http.StatusAccepted, map[string]any{
		"document_id": doc.ID,
		"file_name":   doc.FileName,
		"status":      doc.Status,
	})
}

func (h *documentHandler) list(w http.ResponseWriter, r *http.Request) {
	docs, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("listing documents failed", "error", err)
		writeError(w, http.StatusInternalServerError, "list_failed", "could not list documents")
		return
	}

	out := make([]documentResponse, 0, len(docs))
	for i := range docs {
		out = append(out, toDocumentResponse(&docs[i], 0))
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": out})
}

func (h *documentHandler) get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "document id must be a UUID")
		return
	}

	doc, err := h.store.Get(r.Context(), id)
	if errors.Is(err, document.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "document not found")
		return
	}
	if err != nil {
		h.logger.Error("fetching document failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "get_failed", "could not fetch document")
		return
	}

	chunks, err := h.store.ChunkCount(r.Context(), id)
	if err != nil {
		h.logger.Warn("chunk count failed", "id", id, "error", err)
	}
	writeJSON(w, http.StatusOK, toDocumentResponse(doc, chunks))
}

func (h *documentHandler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "document id must be a UUID")
		return
	}

	err = h.store.Delete(r.Context(), id)
	if errors.Is(err, document.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", "document not found")
		return
	}
	if err != nil {
		h.logger.Error("deleting document failed", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "delete_failed", "could not delete document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type askHandler struct {
	rag    Asker
	logger *slog.Logger
}

type askRequest struct {
	Question  string  `json:"question"`
	TopK      int     `json:"top_k,omitempty"`
	Threshold float64 `json:"threshold,omitempty"`
}

func (h *askHandler) ask(w http.ResponseWriter, r *http.Request) {
	var req askRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "request body must be JSON")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, "missing_question", "field 'question' is required")
		return
	}

	answer, err := h.rag.Ask(r.Context(), req.Question, req.TopK, req.Threshold)
	if err != nil {
		h.logger.Error("question answering failed", "error", err)
		writeError(w, http.StatusBadGateway, "ask_failed", "could not answer the question")
		return
	}
	writeJSON(w, http.StatusOK, answer)
}

type healthHandler struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func (h *healthHandler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readyz reports readiness; with a pool configured it requires a live
// database connection.
func (h *healthHandler) readyz(w http.ResponseWriter, r *http.Request) {
	if h.pool != nil {
		if err := h.pool.Ping(r.Context()); err != nil {
			h.logger.Warn("readiness check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "not_ready", "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
