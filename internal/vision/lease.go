package vision

import (
	"context"
	"log/slog"
)

// Unloader releases a model from shared GPU memory.
type Unloader interface {
	Unload(ctx context.Context, model string) error
}

// Lease serializes access to the single GPU-resident vision model across the
// whole process. Enrichment runs strictly one document at a time regardless of
// how many ingestions are in flight; Release issues the model unload signal so
// the GPU is free before the embedding model loads.
type Lease struct {
	slot     chan struct{}
	unloader Unloader
	logger   *slog.Logger
}

// NewLease creates a single-concurrency lease over the vision model resource.
func NewLease(unloader Unloader, logger *slog.Logger) *Lease {
	if logger == nil {
		logger = slog.Default()
	}
	slot := make(chan struct{}, 1)
	slot <- struct{}{}
	return &Lease{slot: slot, unloader: unloader, logger: logger}
}

// Acquire blocks until the vision slot is free or ctx is cancelled.
func (l *Lease) Acquire(ctx context.Context) error {
	select {
	case <-l.slot:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release frees the slot and asks the host to evict the model. The unload is
// best effort: a failure is logged, never propagated, because the work it
// guarded has already succeeded.
func (l *Lease) Release(ctx context.Context, model string) {
	if l.unloader != nil && model != "" {
		if err := l.unloader.Unload(ctx, model); err != nil {
			l.logger.Warn("vision model unload failed", "model", model, "error", err)
		}
	}
	l.slot <- struct{}{}
}
