package cmd

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/koopa0/vitalia-kb/internal/app"
	"github.com/koopa0/vitalia-kb/internal/config"
	"github.com/koopa0/vitalia-kb/internal/ingest"
)

var ingestFlags struct {
	lang           string
	maxChars       int
	overlap        int
	visionModel    string
	textOnly       bool
	skipVision     bool
	fixHyphenation bool
	pages          string
	force          bool
	dryRun         bool
	timeout        time.Duration
	parallel       int
}

var ingestCmd = &cobra.Command{
	Use:   "ingest [files...]",
	Short: "Ingest documents into the knowledge base",
	Long: `Ingest runs each file through the full pipeline: structural extraction
(OCR), optional vision enrichment of images and tables, chunk assembly
with page attribution, embedding and persistence.

A document is identified by the sha256 of its bytes; re-ingesting an
unchanged file is a no-op unless --force is given. Use --dry-run to see
the chunk report without writing anything.`,
	Example: `  vitalia-kb ingest anatomy.pdf --lang pt --vision-model llava
  vitalia-kb ingest *.pdf --text-only --fix-hyphenation
  vitalia-kb ingest book.pdf --pages 10-25 --force --dry-run`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIngest,
}

func runIngest(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if ingestFlags.visionModel != "" {
		cfg.VisionModel = ingestFlags.visionModel
	}
	if !ingestFlags.textOnly && !ingestFlags.skipVision {
		if err := cfg.ValidateVision(); err != nil {
			return fmt.Errorf("vision configuration: %w", err)
		}
	}

	pages, err := parsePageRange(ingestFlags.pages)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if ingestFlags.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, ingestFlags.timeout)
		defer cancel()
	}

	a, err := app.Setup(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := ingest.Options{
		Language:       ingestFlags.lang,
		MaxChars:       ingestFlags.maxChars,
		Overlap:        ingestFlags.overlap,
		TextOnly:       ingestFlags.textOnly,
		SkipVision:     ingestFlags.skipVision,
		FixHyphenation: ingestFlags.fixHyphenation,
		Pages:          pages,
		Force:          ingestFlags.force,
		DryRun:         ingestFlags.dryRun,
	}

	results := a.Pipeline.Batch(ctx, args, opts, ingestFlags.parallel)

	var failed int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failed++
			fmt.Printf("FAILED   %s: %v\n", r.Path, r.Err)
		case r.Skipped:
			fmt.Printf("SKIPPED  %s (already ingested, use --force to rebuild)\n", r.Path)
		case ingestFlags.dryRun:
			fmt.Printf("DRY-RUN  %s: %d chunks, nothing written\n", r.Path, r.Chunks)
		default:
			fmt.Printf("OK       %s: %d chunks\n", r.Path, r.Chunks)
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(results))
	}
	return nil
}

// parsePageRange parses "A-B" or "A" into a 1-based inclusive range.
func parsePageRange(s string) (*ingest.PageRange, error) {
	if s == "" {
		return nil, nil
	}

	from, to, found := strings.Cut(s, "-")
	r := &ingest.PageRange{}
	var err error
	if r.From, err = strconv.Atoi(strings.TrimSpace(from)); err != nil || r.From < 1 {
		return nil, fmt.Errorf("invalid --pages value %q: expected N or N-M", s)
	}
	if found {
		if r.To, err = strconv.Atoi(strings.TrimSpace(to)); err != nil {
			return nil, fmt.Errorf("invalid --pages value %q: expected N or N-M", s)
		}
		if r.To < r.From {
			return nil, errors.New("invalid --pages value: end before start")
		}
	} else {
		r.To = r.From
	}
	return r, nil
}

func init() {
	f := ingestCmd.Flags()
	f.StringVar(&ingestFlags.lang, "lang", "en", "predominant document language (en or pt), selects the OCR model")
	f.IntVar(&ingestFlags.maxChars, "max-chars", config.DefaultMaxChars, "maximum characters per chunk")
	f.IntVar(&ingestFlags.overlap, "overlap", config.DefaultOverlap, "characters of overlap carried between chunks")
	f.StringVar(&ingestFlags.visionModel, "vision-model", "", "vision model name (default from config, e.g. llava)")
	f.BoolVar(&ingestFlags.textOnly, "text-only", false, "ignore tables, images and captions entirely")
	f.BoolVar(&ingestFlags.skipVision, "skip-vision", false, "keep table structure but skip vision descriptions")
	f.BoolVar(&ingestFlags.fixHyphenation, "fix-hyphenation", false, "repair line-break hyphenation (analy-\\nsis -> analysis)")
	f.StringVar(&ingestFlags.pages, "pages", "", "restrict to a page range, e.g. 10-25")
	f.BoolVar(&ingestFlags.force, "force", false, "re-ingest even if the document is already COMPLETED")
	f.BoolVar(&ingestFlags.dryRun, "dry-run", false, "run the pipeline and report chunks without writing")
	f.DurationVar(&ingestFlags.timeout, "timeout", 0, "overall timeout for the run (0 = none)")
	f.IntVar(&ingestFlags.parallel, "parallel", 1, "number of documents ingested concurrently")

	rootCmd.AddCommand(ingestCmd)
}
