package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/koopa0/vitalia-kb/internal/api"
	"github.com/koopa0/vitalia-kb/internal/app"
	"github.com/koopa0/vitalia-kb/internal/config"
	"github.com/koopa0/vitalia-kb/internal/ingest"
	"github.com/koopa0/vitalia-kb/internal/worker"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 5 * time.Minute // large multipart uploads
	writeTimeout      = 2 * time.Minute
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var serveFlags struct {
	addr       string
	trustProxy bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Serve exposes the knowledge base over HTTP: document upload with
background ingestion, document status and deletion, and the question
answering endpoint. Uploads are processed by a bounded worker pool; the
response returns immediately and progress is visible in the document
status.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	addr := serveFlags.addr
	if addr == "" {
		addr = cfg.ListenAddr
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("starting HTTP API server", "version", Version, "addr", addr)

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing application: %w", err)
	}
	defer a.Close()

	spoolDir, err := os.MkdirTemp("", "vitalia-spool-*")
	if err != nil {
		return fmt.Errorf("creating spool directory: %w", err)
	}
	defer func() {
		_ = os.RemoveAll(spoolDir)
	}()

	pool := worker.NewPool(a.Pipeline, cfg.WorkerCount, worker.DefaultQueueSize, logger)
	pool.Start(ctx)
	defer pool.Stop()

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:   logger,
		Store:    a.Store,
		RAG:      a.RAG,
		Jobs:     pool,
		SpoolDir: spoolDir,
		IngestOptions: ingest.Options{
			MaxChars:       cfg.MaxChars,
			Overlap:        cfg.Overlap,
			FixHyphenation: true,
		},
		Pool:       a.Pool,
		TrustProxy: serveFlags.trustProxy,
		RateBurst:  cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.addr, "addr", "", "listen address (default from config, :8080)")
	serveCmd.Flags().BoolVar(&serveFlags.trustProxy, "trust-proxy", false, "trust X-Real-IP/X-Forwarded-For headers")

	rootCmd.AddCommand(serveCmd)
}
