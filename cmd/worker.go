package cmd

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/koopa0/vitalia-kb/internal/app"
	"github.com/koopa0/vitalia-kb/internal/config"
	"github.com/koopa0/vitalia-kb/internal/document"
	"github.com/koopa0/vitalia-kb/internal/ingest"
	"github.com/koopa0/vitalia-kb/internal/worker"
)

var workerFlags struct {
	dir      string
	interval time.Duration
	workers  int
	lang     string
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run ingestion workers over a drop directory",
	Long: `Worker runs the background ingestion pool without the HTTP surface.
Files dropped into the watched directory are registered as PENDING
documents, queued, and processed; each file is removed once its job
finishes, so the directory drains as ingestion progresses.`,
	Example: `  vitalia-kb worker --dir /var/spool/vitalia
  vitalia-kb worker --dir ./inbox --workers 4 --interval 10s`,
	RunE: runWorker,
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	info, err := os.Stat(workerFlags.dir)
	if err != nil {
		return fmt.Errorf("drop directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("drop directory %q is not a directory", workerFlags.dir)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	workers := workerFlags.workers
	if workers <= 0 {
		workers = cfg.WorkerCount
	}
	pool := worker.NewPool(a.Pipeline, workers, worker.DefaultQueueSize, logger)
	pool.Start(ctx)
	defer pool.Stop()

	opts := ingest.Options{
		Language:       workerFlags.lang,
		MaxChars:       cfg.MaxChars,
		Overlap:        cfg.Overlap,
		FixHyphenation: true,
	}

	logger.Info("watching drop directory",
		"dir", workerFlags.dir, "interval", workerFlags.interval.String(), "workers", workers)

	ticker := time.NewTicker(workerFlags.interval)
	defer ticker.Stop()

	queued := make(map[string]struct{})
	for {
		if err := scanDropDir(ctx, a.Store, pool, workerFlags.dir, opts, queued, logger); err != nil {
			logger.Error("scanning drop directory failed", "dir", workerFlags.dir, "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// docRegistrar creates the PENDING document row before a job is queued.
type docRegistrar interface {
	GetOrCreateByHash(ctx context.Context, fileName, fileHash string, sizeBytes int64) (*document.Document, bool, error)
}

type jobQueue interface {
	Enqueue(job worker.Job) error
}

// scanDropDir registers and enqueues every new file in dir. queued tracks
// paths already handed to the pool; the pool removes a file when its job
// finishes, and a path that has vanished from disk is forgotten so the same
// file name can be dropped again later.
func scanDropDir(ctx context.Context, store docRegistrar, pool jobQueue, dir string,
	opts ingest.Options, queued map[string]struct{}, logger *slog.Logger) error {

	for path := range queued {
		if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
			delete(queued, path)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading drop directory: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if _, ok := queued[path]; ok {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("reading dropped file failed", "path", path, "error", err)
			continue
		}
		hash := sha256.Sum256(data)

		doc, created, err := store.GetOrCreateByHash(ctx, entry.Name(),
			hex.EncodeToString(hash[:]), int64(len(data)))
		if err != nil {
			logger.Error("registering dropped file failed", "path", path, "error", err)
			continue
		}

		err = pool.Enqueue(worker.Job{DocumentID: doc.ID, Path: path, Options: opts})
		if errors.Is(err, worker.ErrQueueFull) {
			// Remaining files wait for the next scan.
			return nil
		}
		if err != nil {
			return fmt.Errorf("enqueueing %s: %w", path, err)
		}

		queued[path] = struct{}{}
		logger.Info("document queued",
			"file", entry.Name(), "document_id", doc.ID, "new_document", created)
	}
	return nil
}

func init() {
	f := workerCmd.Flags()
	f.StringVar(&workerFlags.dir, "dir", "", "directory watched for dropped documents (required)")
	f.DurationVar(&workerFlags.interval, "interval", 5*time.Second, "scan period for the drop directory")
	f.IntVar(&workerFlags.workers, "workers", 0, "worker count (default from config)")
	f.StringVar(&workerFlags.lang, "lang", "en", "predominant document language (en or pt), selects the OCR model")
	_ = workerCmd.MarkFlagRequired("dir")

	rootCmd.AddCommand(workerCmd)
}
