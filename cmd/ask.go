package cmd

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/koopa0/vitalia-kb/internal/app"
	"github.com/koopa0/vitalia-kb/internal/config"
)

var askFlags struct {
	topK      int
	threshold float64
}

var askCmd = &cobra.Command{
	Use:   "ask [question]",
	Short: "Ask a question over the knowledge base",
	Long: `Ask embeds the question, retrieves the closest chunks by cosine
distance from COMPLETED documents, and generates an answer grounded
strictly in that context. The cited sources are printed with file name,
page and a content preview.`,
	Example: `  vitalia-kb ask "which bones form the knee joint?"
  vitalia-kb ask --top-k 8 --threshold 0.4 "what is the function of the meniscus?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	answer, err := a.RAG.Ask(ctx, question, askFlags.topK, askFlags.threshold)
	if err != nil {
		return fmt.Errorf("answering question: %w", err)
	}

	fmt.Println(answer.Answer)
	if len(answer.Sources) > 0 {
		fmt.Println("\nSources:")
		for i, s := range answer.Sources {
			page := "?"
			if s.Page > 0 {
				page = fmt.Sprintf("%d", s.Page)
			}
			fmt.Printf("  %d. %s (page %s): %s\n", i+1, s.File, page, s.Preview)
		}
	}
	return nil
}

func init() {
	askCmd.Flags().IntVar(&askFlags.topK, "top-k", 0, "number of chunks to retrieve (0 = default)")
	askCmd.Flags().Float64Var(&askFlags.threshold, "threshold", 0, "maximum cosine distance, 0 disables the filter")

	rootCmd.AddCommand(askCmd)
}
