// Package worker runs ingestion jobs from an in-process queue on a bounded
// pool of goroutines. The HTTP upload endpoint enqueues here so requests
// return immediately while documents are processed in the background.
package worker

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/koopa0/vitalia-kb/internal/ingest"
)

// ErrQueueFull indicates the job queue is at capacity.
var ErrQueueFull = errors.New("job queue full")

// ErrStopped indicates the pool is no longer accepting jobs.
var ErrStopped = errors.New("worker pool stopped")

// DefaultQueueSize bounds the number of jobs waiting for a worker.
const DefaultQueueSize = 64

// Job is one queued ingestion request. DocumentID references the PENDING
// document row the producer registered before enqueueing, so the document is
// pollable from the moment the job is accepted. Path points at a spooled copy
// of the file owned by the queue; the pool removes it once the job finishes.
type Job struct {
	DocumentID uuid.UUID
	Path       string
	Options    ingest.Options
	EnqueuedAt time.Time
}

// Runner executes one ingestion. Satisfied by *ingest.Pipeline.
type Runner interface {
	Run(ctx context.Context, path string, opts ingest.Options) (*ingest.Result, error)
}

// Pool consumes jobs with a fixed number of workers. Job failures are logged
// and absorbed here; the pipeline has already left the document FAILED.
type Pool struct {
	runner  Runner
	jobs    chan Job
	workers int
	logger  *slog.Logger

	// mu serializes Enqueue against Stop so no send can race the channel
	// close.
	mu      sync.Mutex
	stopped bool

	wg       sync.WaitGroup
	inFlight atomic.Int64
}

// NewPool creates a pool with the given worker count and queue capacity.
func NewPool(runner Runner, workers, queueSize int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		runner:  runner,
		jobs:    make(chan Job, queueSize),
		workers: workers,
		logger:  logger,
	}
}

// Start launches the workers. They exit when ctx is cancelled or the queue is
// closed via Stop.
func (p *Pool) Start(ctx context.Context) {
	p.logger.Info("worker pool starting", "workers", p.workers, "queue_size", cap(p.jobs))
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
}

// Enqueue adds a job to the queue without blocking.
func (p *Pool) Enqueue(job Job) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrStopped
	}
	job.EnqueuedAt = time.Now()

	select {
	case p.jobs <- job:
		p.logger.Debug("job enqueued", "document_id", job.DocumentID, "file", job.Path)
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop closes the queue and waits for in-flight jobs to finish.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// InFlight returns the number of jobs currently executing.
func (p *Pool) InFlight() int64 {
	return p.inFlight.Load()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.execute(ctx, id, job)
		}
	}
}

func (p *Pool) execute(ctx context.Context, workerID int, job Job) {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	defer p.removeSpooled(job.Path)

	start := time.Now()
	p.logger.Info("job started",
		"worker", workerID, "document_id", job.DocumentID, "file", job.Path,
		"queued_for", time.Since(job.EnqueuedAt).Round(time.Millisecond).String())

	result, err := p.runner.Run(ctx, job.Path, job.Options)
	if err != nil {
		p.logger.Error("job failed",
			"worker", workerID, "document_id", job.DocumentID, "file", job.Path, "error", err)
		return
	}

	p.logger.Info("job complete",
		"worker", workerID,
		"document_id", result.DocumentID,
		"chunks", result.Chunks,
		"skipped", result.Skipped,
		"duration", time.Since(start).Round(time.Millisecond).String())
}

// removeSpooled deletes the job's spooled file once the job is done with it.
func (p *Pool) removeSpooled(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		p.logger.Warn("removing spooled file failed", "path", path, "error", err)
	}
}
