// Package app wires configuration into the concrete object graph shared by
// the CLI commands and the HTTP server: database pool, document store, model
// host clients, ingestion pipeline and retrieval service.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/koopa0/vitalia-kb/internal/config"
	"github.com/koopa0/vitalia-kb/internal/database"
	"github.com/koopa0/vitalia-kb/internal/document"
	"github.com/koopa0/vitalia-kb/internal/extract"
	"github.com/koopa0/vitalia-kb/internal/gemini"
	"github.com/koopa0/vitalia-kb/internal/ingest"
	"github.com/koopa0/vitalia-kb/internal/ollama"
	"github.com/koopa0/vitalia-kb/internal/rag"
	"github.com/koopa0/vitalia-kb/internal/vision"
)

// App holds the wired application components.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Pool     *pgxpool.Pool
	Store    *document.Store
	Pipeline *ingest.Pipeline
	RAG      *rag.Service
}

// embedder and generator are satisfied by both model host adapters.
type embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Setup connects to the database and assembles the pipeline and retrieval
// service for the configured model provider.
func Setup(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := database.Open(ctx, cfg.DatabaseURL())
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	store := document.NewStore(pool, logger)
	extractor := extract.NewClient(cfg.ExtractorURL, logger)

	var (
		embed    embedder
		generate generator
		enricher ingest.Enricher
	)

	switch cfg.Provider {
	case config.ProviderOllama:
		client := ollama.NewClient(ollama.Config{BaseURL: cfg.OllamaHost}, logger)
		embed = client.NewTextEmbedder(cfg.EmbeddingModel)
		generate = client.NewTextGenerator(cfg.GenerationModel)
		if cfg.VisionModel != "" {
			lease := vision.NewLease(client, logger)
			enricher = vision.NewEnricher(client, lease, cfg.VisionModel, logger)
		}

	case config.ProviderGemini:
		client, err := gemini.NewClient(ctx, cfg.GeminiAPIKey, logger)
		if err != nil {
			pool.Close()
			return nil, err
		}
		embed = client.NewTextEmbedder(cfg.EmbeddingModel, int32(cfg.EmbeddingDim))
		generate = client.NewTextGenerator(cfg.GenerationModel)
		// Vision enrichment stays disabled: it depends on the local host's
		// explicit GPU unload contract.

	default:
		pool.Close()
		return nil, fmt.Errorf("%w: %s", config.ErrInvalidProvider, cfg.Provider)
	}

	return &App{
		Config:   cfg,
		Logger:   logger,
		Pool:     pool,
		Store:    store,
		Pipeline: ingest.NewPipeline(extractor, enricher, embed, store, logger),
		RAG:      rag.NewService(embed, generate, store, logger),
	}, nil
}

// Close releases the database pool.
func (a *App) Close() {
	a.Pool.Close()
}
