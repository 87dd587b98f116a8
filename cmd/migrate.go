package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/koopa0/vitalia-kb/db"
	"github.com/koopa0/vitalia-kb/internal/config"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		if err := db.Migrate(cfg.DatabaseURL()); err != nil {
			return fmt.Errorf("running migrations: %w", err)
		}
		logger.Info("database schema is up to date")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
