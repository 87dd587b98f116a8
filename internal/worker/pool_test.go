package worker

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/koopa0/vitalia-kb/internal/ingest"
	"github.com/koopa0/vitalia-kb/internal/log"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type mockRunner struct {
	mu      sync.Mutex
	paths   []string
	err     error
	block   chan struct{}
	started chan struct{}
}

func (m *mockRunner) Run(_ context.Context, path string, _ ingest.Options) (*ingest.Result, error) {
	if m.started != nil {
		m.started <- struct{}{}
	}
	if m.block != nil {
		<-m.block
	}
	m.mu.Lock()
	m.paths = append(m.paths, path)
	m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	return &ingest.Result{Path: path, Chunks: 1}, nil
}

func (m *mockRunner) ranPaths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.paths...)
}

func TestPoolExecutesJobs(t *testing.T) {
	runner := &mockRunner{}
	pool := NewPool(runner, 2, 8, log.NewNop())
	pool.Start(context.Background())

	for _, path := range []string{"a.pdf", "b.pdf", "c.pdf"} {
		if err := pool.Enqueue(Job{Path: path}); err != nil {
			t.Fatalf("Enqueue(%s) error = %v", path, err)
		}
	}
	pool.Stop()

	if got := runner.ranPaths(); len(got) != 3 {
		t.Errorf("executed %d jobs, want 3: %v", len(got), got)
	}
}

func TestPoolAbsorbsJobFailures(t *testing.T) {
	runner := &mockRunner{err: errors.New("pipeline failed")}
	pool := NewPool(runner, 1, 8, log.NewNop())
	pool.Start(context.Background())

	if err := pool.Enqueue(Job{Path: "bad.pdf"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	if err := pool.Enqueue(Job{Path: "next.pdf"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	pool.Stop()

	if got := runner.ranPaths(); len(got) != 2 {
		t.Errorf("executed %d jobs, want 2 (failure must not kill the worker)", len(got))
	}
}

func TestPoolQueueFull(t *testing.T) {
	runner := &mockRunner{
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	pool := NewPool(runner, 1, 1, log.NewNop())
	pool.Start(context.Background())

	// First job occupies the worker, second fills the queue.
	if err := pool.Enqueue(Job{Path: "running.pdf"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	<-runner.started
	if err := pool.Enqueue(Job{Path: "queued.pdf"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}

	if err := pool.Enqueue(Job{Path: "overflow.pdf"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Enqueue() error = %v, want ErrQueueFull", err)
	}

	close(runner.block)
	<-runner.started
	pool.Stop()
}

func TestPoolEnqueueAfterStop(t *testing.T) {
	pool := NewPool(&mockRunner{}, 1, 1, log.NewNop())
	pool.Start(context.Background())
	pool.Stop()

	if err := pool.Enqueue(Job{Path: "late.pdf"}); !errors.Is(err, ErrStopped) {
		t.Errorf("Enqueue() after Stop error = %v, want ErrStopped", err)
	}
}

func TestPoolRemovesSpooledFileAfterJob(t *testing.T) {
	for _, tt := range []struct {
		name   string
		runErr error
	}{
		{"completed job", nil},
		{"failed job", errors.New("pipeline failed")},
	} {
		t.Run(tt.name, func(t *testing.T) {
			spooled := filepath.Join(t.TempDir(), "upload.pdf")
			if err := os.WriteFile(spooled, []byte("pdf bytes"), 0o600); err != nil {
				t.Fatalf("writing spooled file: %v", err)
			}

			runner := &mockRunner{err: tt.runErr}
			pool := NewPool(runner, 1, 4, log.NewNop())
			pool.Start(context.Background())

			if err := pool.Enqueue(Job{Path: spooled}); err != nil {
				t.Fatalf("Enqueue() error = %v", err)
			}
			pool.Stop()

			if _, err := os.Stat(spooled); !errors.Is(err, fs.ErrNotExist) {
				t.Errorf("spooled file still present after job: stat err = %v", err)
			}
		})
	}
}

// Enqueue racing Stop must never send on the closed queue channel.
func TestPoolEnqueueDuringStop(t *testing.T) {
	pool := NewPool(&mockRunner{}, 2, 4, log.NewNop())
	pool.Start(context.Background())

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				err := pool.Enqueue(Job{Path: "racing.pdf"})
				if errors.Is(err, ErrStopped) {
					return
				}
			}
		}()
	}

	pool.Stop()
	wg.Wait()
}

func TestPoolContextCancelStopsWorkers(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	pool := NewPool(&mockRunner{}, 2, 4, log.NewNop())
	pool.Start(ctx)

	cancel()

	done := make(chan struct{})
	go func() {
		pool.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("workers did not exit on context cancellation")
	}
}

func TestPoolInFlight(t *testing.T) {
	runner := &mockRunner{
		block:   make(chan struct{}),
		started: make(chan struct{}, 1),
	}
	pool := NewPool(runner, 1, 4, log.NewNop())
	pool.Start(context.Background())

	if err := pool.Enqueue(Job{Path: "slow.pdf"}); err != nil {
		t.Fatalf("Enqueue() error = %v", err)
	}
	<-runner.started

	if got := pool.InFlight(); got != 1 {
		t.Errorf("InFlight() = %d, want 1", got)
	}

	close(runner.block)
	pool.Stop()

	if got := pool.InFlight(); got != 0 {
		t.Errorf("InFlight() after Stop = %d, want 0", got)
	}
}
