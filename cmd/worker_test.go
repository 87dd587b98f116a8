package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/koopa0/vitalia-kb/internal/document"
	"github.com/koopa0/vitalia-kb/internal/ingest"
	"github.com/koopa0/vitalia-kb/internal/log"
	"github.com/koopa0/vitalia-kb/internal/worker"
)

type mockRegistrar struct {
	byHash map[string]*document.Document
}

func newMockRegistrar() *mockRegistrar {
	return &mockRegistrar{byHash: map[string]*document.Document{}}
}

func (m *mockRegistrar) GetOrCreateByHash(_ context.Context, fileName, fileHash string, sizeBytes int64) (*document.Document, bool, error) {
	if doc, ok := m.byHash[fileHash]; ok {
		return doc, false, nil
	}
	doc := &document.Document{
		ID:        uuid.New(),
		FileName:  fileName,
		FileHash:  fileHash,
		SizeBytes: sizeBytes,
		Status:    document.StatusPending,
	}
	m.byHash[fileHash] = doc
	return doc, true, nil
}

type mockJobQueue struct {
	jobs []worker.Job
	full bool
}

func (m *mockJobQueue) Enqueue(job worker.Job) error {
	if m.full {
		return worker.ErrQueueFull
	}
	m.jobs = append(m.jobs, job)
	return nil
}

func dropFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing dropped file: %v", err)
	}
	return path
}

func TestScanDropDirRegistersAndQueues(t *testing.T) {
	dir := t.TempDir()
	dropFile(t, dir, "anatomy.pdf", "pdf bytes")

	store := newMockRegistrar()
	queue := &mockJobQueue{}
	queued := make(map[string]struct{})

	if err := scanDropDir(context.Background(), store, queue, dir,
		ingest.Options{}, queued, log.NewNop()); err != nil {
		t.Fatalf("scanDropDir() error = %v", err)
	}

	if len(queue.jobs) != 1 {
		t.Fatalf("queued jobs = %d, want 1", len(queue.jobs))
	}
	job := queue.jobs[0]

	wantHash := sha256.Sum256([]byte("pdf bytes"))
	doc, ok := store.byHash[hex.EncodeToString(wantHash[:])]
	if !ok {
		t.Fatal("no document registered for the dropped file's hash")
	}
	if doc.Status != document.StatusPending {
		t.Errorf("document status = %s, want PENDING", doc.Status)
	}
	if job.DocumentID != doc.ID {
		t.Errorf("job document = %s, registered document = %s", job.DocumentID, doc.ID)
	}
}

func TestScanDropDirSkipsQueuedFiles(t *testing.T) {
	dir := t.TempDir()
	dropFile(t, dir, "anatomy.pdf", "pdf bytes")

	store := newMockRegistrar()
	queue := &mockJobQueue{}
	queued := make(map[string]struct{})

	for i := 0; i < 3; i++ {
		if err := scanDropDir(context.Background(), store, queue, dir,
			ingest.Options{}, queued, log.NewNop()); err != nil {
			t.Fatalf("scanDropDir() error = %v", err)
		}
	}

	if len(queue.jobs) != 1 {
		t.Errorf("queued jobs = %d, want 1 (re-scans must not re-queue)", len(queue.jobs))
	}
}

func TestScanDropDirForgetsProcessedFiles(t *testing.T) {
	dir := t.TempDir()
	path := dropFile(t, dir, "anatomy.pdf", "pdf bytes")

	store := newMockRegistrar()
	queue := &mockJobQueue{}
	queued := make(map[string]struct{})

	if err := scanDropDir(context.Background(), store, queue, dir,
		ingest.Options{}, queued, log.NewNop()); err != nil {
		t.Fatalf("scanDropDir() error = %v", err)
	}

	// The pool removes the file once its job finishes.
	if err := os.Remove(path); err != nil {
		t.Fatalf("removing processed file: %v", err)
	}
	dropFile(t, dir, "anatomy.pdf", "pdf bytes")

	if err := scanDropDir(context.Background(), store, queue, dir,
		ingest.Options{}, queued, log.NewNop()); err != nil {
		t.Fatalf("scanDropDir() error = %v", err)
	}

	if len(queue.jobs) != 2 {
		t.Errorf("queued jobs = %d, want 2 (re-dropped file must queue again)", len(queue.jobs))
	}
	if queue.jobs[0].DocumentID != queue.jobs[1].DocumentID {
		t.Error("identical bytes must resolve to the same document")
	}
}

func TestScanDropDirQueueFullDefers(t *testing.T) {
	dir := t.TempDir()
	dropFile(t, dir, "a.pdf", "first")
	dropFile(t, dir, "b.pdf", "second")

	store := newMockRegistrar()
	queue := &mockJobQueue{full: true}
	queued := make(map[string]struct{})

	if err := scanDropDir(context.Background(), store, queue, dir,
		ingest.Options{}, queued, log.NewNop()); err != nil {
		t.Fatalf("scanDropDir() error = %v, want queue-full absorbed", err)
	}
	if len(queued) != 0 {
		t.Errorf("queued tracking = %d entries, want 0 so the next scan retries", len(queued))
	}

	queue.full = false
	if err := scanDropDir(context.Background(), store, queue, dir,
		ingest.Options{}, queued, log.NewNop()); err != nil {
		t.Fatalf("scanDropDir() retry error = %v", err)
	}
	if len(queue.jobs) != 2 {
		t.Errorf("queued jobs after retry = %d, want 2", len(queue.jobs))
	}
}
