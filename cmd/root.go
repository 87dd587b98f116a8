// Package cmd implements the vitalia-kb command line interface.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/koopa0/vitalia-kb/internal/log"
)

var (
	logLevel string
	logJSON  bool

	// logger is initialized before any subcommand runs.
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "vitalia-kb",
	Short: "Vitalia knowledge base: document ingestion and retrieval",
	Long: `vitalia-kb ingests source documents (books, manuals, clinical guides)
into a vector knowledge base and answers questions grounded in them.

The ingestion pipeline extracts structure via OCR, optionally enriches
images and tables with a vision model, assembles page-attributed chunks
and embeds them into PostgreSQL with pgvector.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = log.New(log.Config{
			Level: parseLogLevel(logLevel),
			JSON:  logJSON,
		})
		slog.SetDefault(logger)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&logJSON, "log-json", false, "emit logs as JSON")
}
