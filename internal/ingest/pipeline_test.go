package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/koopa0/vitalia-kb/internal/document"
	"github.com/koopa0/vitalia-kb/internal/extract"
	"github.com/koopa0/vitalia-kb/internal/log"
	"github.com/koopa0/vitalia-kb/internal/testutil"
)

type mockExtractor struct {
	elements []extract.RawElement
	err      error
	gotOpts  extract.Options
}

func (m *mockExtractor) Partition(_ context.Context, _ string, _ []byte, opts extract.Options) ([]extract.RawElement, error) {
	m.gotOpts = opts
	return m.elements, m.err
}

type mockEnricher struct {
	called bool
	err    error
}

func (m *mockEnricher) Enrich(_ context.Context, _ []extract.RawElement) error {
	m.called = true
	return m.err
}

type mockStore struct {
	mu       sync.Mutex
	doc      document.Document
	created  bool
	statuses []document.Status
	chunks   []document.Chunk
	replErr  error
}

func newMockStore(status document.Status, created bool) *mockStore {
	return &mockStore{
		doc:     document.Document{ID: uuid.New(), Status: status},
		created: created,
	}
}

func (m *mockStore) GetOrCreateByHash(_ context.Context, fileName, fileHash string, sizeBytes int64) (*document.Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := m.doc
	return &doc, m.created, nil
}

func (m *mockStore) UpdateStatus(_ context.Context, _ uuid.UUID, status document.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
	return nil
}

func (m *mockStore) ReplaceChunks(_ context.Context, _ uuid.UUID, chunks []document.Chunk) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.replErr != nil {
		return m.replErr
	}
	m.chunks = chunks
	return nil
}

func (m *mockStore) recordedStatuses() []document.Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]document.Status(nil), m.statuses...)
}

func writeFixture(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fixture.pdf")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing fixture: %v", err)
	}
	return path
}

func narrativeElements() []extract.RawElement {
	return []extract.RawElement{
		{Type: extract.TypeNarrativeText, Text: "The skeletal system provides structural support for the body.",
			Metadata: extract.Metadata{PageNumber: 1}},
		{Type: extract.TypeNarrativeText, Text: "Joints connect bones and allow a range of movements.",
			Metadata: extract.Metadata{PageNumber: 2}},
	}
}

func newPipeline(ext Extractor, enr Enricher, store Store) *Pipeline {
	return NewPipeline(ext, enr, testutil.NewFakeEmbedder(8), store, log.NewNop())
}

func TestRunHappyPath(t *testing.T) {
	ext := &mockExtractor{elements: narrativeElements()}
	store := newMockStore(document.StatusPending, true)
	p := newPipeline(ext, nil, store)

	result, err := p.Run(context.Background(), writeFixture(t, "pdf bytes"), Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []document.Status{
		document.StatusProcessing,
		document.StatusEmbedding,
		document.StatusCompleted,
	}
	got := store.recordedStatuses()
	if len(got) != len(want) {
		t.Fatalf("status transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, got[i], want[i])
		}
	}
	if result.Chunks == 0 || len(store.chunks) == 0 {
		t.Error("no chunks persisted")
	}
	if result.Skipped {
		t.Error("fresh document must not be skipped")
	}
}

func TestRunSkipsCompletedWithoutForce(t *testing.T) {
	ext := &mockExtractor{elements: narrativeElements()}
	store := newMockStore(document.StatusCompleted, false)
	p := newPipeline(ext, nil, store)

	result, err := p.Run(context.Background(), writeFixture(t, "same bytes"), Options{})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !result.Skipped {
		t.Error("COMPLETED document without force must be skipped")
	}
	if len(store.recordedStatuses()) != 0 {
		t.Errorf("status changed for skipped document: %v", store.recordedStatuses())
	}
}

func TestRunForceReingests(t *testing.T) {
	ext := &mockExtractor{elements: narrativeElements()}
	store := newMockStore(document.StatusCompleted, false)
	p := newPipeline(ext, nil, store)

	result, err := p.Run(context.Background(), writeFixture(t, "same bytes"), Options{Force: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Skipped {
		t.Error("force must re-ingest a COMPLETED document")
	}
	statuses := store.recordedStatuses()
	if len(statuses) == 0 || statuses[len(statuses)-1] != document.StatusCompleted {
		t.Errorf("transitions = %v, want rebuild ending in COMPLETED", statuses)
	}
}

func TestRunExtractionFailureMarksFailed(t *testing.T) {
	ext := &mockExtractor{err: extract.ErrServiceUnavailable}
	store := newMockStore(document.StatusPending, true)
	p := newPipeline(ext, nil, store)

	_, err := p.Run(context.Background(), writeFixture(t, "bytes"), Options{})
	if !errors.Is(err, extract.ErrServiceUnavailable) {
		t.Fatalf("Run() error = %v, want extraction service error", err)
	}

	statuses := store.recordedStatuses()
	if statuses[len(statuses)-1] != document.StatusFailed {
		t.Errorf("final status = %s, want FAILED", statuses[len(statuses)-1])
	}
	if len(store.chunks) != 0 {
		t.Errorf("chunks persisted for failed document: %d", len(store.chunks))
	}
}

func TestRunVisionFailureMarksFailed(t *testing.T) {
	ext := &mockExtractor{elements: narrativeElements()}
	enr := &mockEnricher{err: errors.New("lease acquisition interrupted")}
	store := newMockStore(document.StatusPending, true)
	p := newPipeline(ext, enr, store)

	_, err := p.Run(context.Background(), writeFixture(t, "bytes"), Options{})
	if err == nil {
		t.Fatal("Run() error = nil, want vision stage error")
	}
	statuses := store.recordedStatuses()
	if statuses[len(statuses)-1] != document.StatusFailed {
		t.Errorf("final status = %s, want FAILED", statuses[len(statuses)-1])
	}
}

func TestRunSkipVisionBypassesEnricher(t *testing.T) {
	for _, tt := range []struct {
		name string
		opts Options
	}{
		{"skip-vision", Options{SkipVision: true}},
		{"text-only", Options{TextOnly: true}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			ext := &mockExtractor{elements: narrativeElements()}
			enr := &mockEnricher{}
			store := newMockStore(document.StatusPending, true)
			p := newPipeline(ext, enr, store)

			if _, err := p.Run(context.Background(), writeFixture(t, "bytes"), tt.opts); err != nil {
				t.Fatalf("Run() error = %v", err)
			}
			if enr.called {
				t.Error("enricher called despite vision being disabled")
			}
		})
	}
}

func TestRunDryRunTouchesNothing(t *testing.T) {
	ext := &mockExtractor{elements: narrativeElements()}
	store := newMockStore(document.StatusPending, true)
	p := newPipeline(ext, nil, store)

	result, err := p.Run(context.Background(), writeFixture(t, "bytes"), Options{DryRun: true})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Chunks == 0 {
		t.Error("dry-run produced no chunk report")
	}
	if len(store.recordedStatuses()) != 0 || len(store.chunks) != 0 {
		t.Error("dry-run performed database writes")
	}
}

func TestRunFiltersDegenerateChunks(t *testing.T) {
	ext := &mockExtractor{elements: []extract.RawElement{
		{Type: extract.TypeNarrativeText, Text: "tiny", Metadata: extract.Metadata{PageNumber: 1}},
	}}
	store := newMockStore(document.StatusPending, true)
	p := newPipeline(ext, nil, store)

	_, err := p.Run(context.Background(), writeFixture(t, "bytes"), Options{})
	if !errors.Is(err, ErrNoChunks) {
		t.Fatalf("Run() error = %v, want ErrNoChunks", err)
	}
	statuses := store.recordedStatuses()
	if statuses[len(statuses)-1] != document.StatusFailed {
		t.Errorf("final status = %s, want FAILED", statuses[len(statuses)-1])
	}
}

func TestRunPerChunkEmbedFailureSkipped(t *testing.T) {
	ext := &mockExtractor{elements: narrativeElements()}
	store := newMockStore(document.StatusPending, true)

	embedder := testutil.NewFakeEmbedder(8)
	embedder.Err = errors.New("model hiccup")
	embedder.FailOn = []string{"Joints connect bones"}
	p := NewPipeline(ext, nil, embedder, store, log.NewNop())

	result, err := p.Run(context.Background(), writeFixture(t, "bytes"),
		Options{MaxChars: 100, Overlap: 0})
	if err != nil {
		t.Fatalf("Run() error = %v, want per-chunk failure absorbed", err)
	}
	if result.Chunks != 1 {
		t.Errorf("chunks = %d, want 1 (failed chunk dropped)", result.Chunks)
	}
	statuses := store.recordedStatuses()
	if statuses[len(statuses)-1] != document.StatusCompleted {
		t.Errorf("final status = %s, want COMPLETED", statuses[len(statuses)-1])
	}
}

func TestRunAllEmbedsFailingMarksFailed(t *testing.T) {
	ext := &mockExtractor{elements: narrativeElements()}
	store := newMockStore(document.StatusPending, true)

	embedder := testutil.NewFakeEmbedder(8)
	embedder.Err = errors.New("host down")
	p := NewPipeline(ext, nil, embedder, store, log.NewNop())

	_, err := p.Run(context.Background(), writeFixture(t, "bytes"), Options{})
	if !errors.Is(err, ErrNoChunks) {
		t.Fatalf("Run() error = %v, want ErrNoChunks", err)
	}
	statuses := store.recordedStatuses()
	if statuses[len(statuses)-1] != document.StatusFailed {
		t.Errorf("final status = %s, want FAILED", statuses[len(statuses)-1])
	}
}

func TestRunPageRange(t *testing.T) {
	elements := []extract.RawElement{
		{Type: extract.TypeNarrativeText, Text: "Text from the first page of the book.", Metadata: extract.Metadata{PageNumber: 1}},
		{Type: extract.TypeNarrativeText, Text: "Text from the fifth page of the book.", Metadata: extract.Metadata{PageNumber: 5}},
	}
	ext := &mockExtractor{elements: elements}
	store := newMockStore(document.StatusPending, true)
	p := newPipeline(ext, nil, store)

	result, err := p.Run(context.Background(), writeFixture(t, "bytes"),
		Options{Pages: &PageRange{From: 4, To: 6}})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if result.Chunks != 1 {
		t.Fatalf("chunks = %d, want 1 (only page 5 in range)", result.Chunks)
	}
	for _, c := range store.chunks {
		if c.PageNumber != 5 {
			t.Errorf("chunk page = %d, want 5", c.PageNumber)
		}
	}
}

func TestRunLanguageSelectsOCRModel(t *testing.T) {
	ext := &mockExtractor{elements: narrativeElements()}
	store := newMockStore(document.StatusPending, true)
	p := newPipeline(ext, nil, store)

	if _, err := p.Run(context.Background(), writeFixture(t, "bytes"), Options{Language: "pt"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if ext.gotOpts.Language != "por" {
		t.Errorf("OCR language = %q, want por", ext.gotOpts.Language)
	}
}

func TestBatchIsolatesFailures(t *testing.T) {
	good := writeFixture(t, "good bytes")
	missing := filepath.Join(t.TempDir(), "missing.pdf")

	ext := &mockExtractor{elements: narrativeElements()}
	store := newMockStore(document.StatusPending, true)
	p := newPipeline(ext, nil, store)

	results := p.Batch(context.Background(), []string{good, missing}, Options{}, 2)

	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Err != nil {
		t.Errorf("good document failed: %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Error("missing file must fail its own document only")
	}
}
