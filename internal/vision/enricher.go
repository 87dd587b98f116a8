// Package vision enriches extracted image and table elements with textual
// descriptions produced by a multimodal model.
//
// The model lives in shared GPU memory, so all enrichment in the process is
// serialized behind a single-concurrency lease; releasing the lease unloads
// the model to free the GPU for the embedding stage.
package vision

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/koopa0/vitalia-kb/internal/extract"
	"github.com/koopa0/vitalia-kb/internal/ollama"
)

// Quality gates for generated descriptions. Tiny payloads are page decoration
// rather than content, and degenerate model output tends to be very short or
// free of letters entirely.
const (
	minPayloadBytes   = 2048
	minDescriptionLen = 20
	temperature       = 0.1
)

const (
	imagePrompt = "Analyze this technical medical image. Describe in detail the " +
		"anatomical structures, visible labels, and spatial relationships. " +
		"Be technical and precise."

	tablePrompt = "Transcribe this table in full in Markdown format. " +
		"Keep every row and column. Do NOT summarize. " +
		"If there are codes (e.g. ICD, values), copy them exactly."
)

// Generator runs a vision-capable completion.
type Generator interface {
	Generate(ctx context.Context, model, prompt string, images []string, opts *ollama.GenerateOptions) (string, error)
}

// Enricher describes image payloads in place on a slice of extracted elements.
type Enricher struct {
	generator Generator
	lease     *Lease
	model     string
	logger    *slog.Logger
}

// NewEnricher creates an enricher bound to the given vision model.
func NewEnricher(generator Generator, lease *Lease, model string, logger *slog.Logger) *Enricher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Enricher{generator: generator, lease: lease, model: model, logger: logger}
}

// Enrich processes every element carrying an image payload, one at a time,
// under the process-wide lease. Accepted descriptions are spliced into the
// element text and the element is tagged as vision processed. Per-image
// failures are logged and skipped; only lease acquisition can fail the call.
func (e *Enricher) Enrich(ctx context.Context, elements []extract.RawElement) error {
	var candidates []int
	for i := range elements {
		if elements[i].HasImagePayload() {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		e.logger.Info("no image payloads extracted, skipping vision stage")
		return nil
	}

	if err := e.lease.Acquire(ctx); err != nil {
		return fmt.Errorf("acquiring vision lease: %w", err)
	}
	defer e.lease.Release(context.WithoutCancel(ctx), e.model)

	e.logger.Info("starting vision inference", "images", len(candidates), "model", e.model)

	for n, i := range candidates {
		el := &elements[i]
		page := el.Metadata.PageNumber

		if len(el.Metadata.ImageBase64) < minPayloadBytes {
			e.logger.Debug("skipping small image payload",
				"index", n, "page", page, "bytes", len(el.Metadata.ImageBase64))
			continue
		}

		start := time.Now()
		description, err := e.describe(ctx, el)
		if err != nil {
			e.logger.Error("vision inference failed",
				"index", n, "page", page, "type", el.Type, "error", err)
			continue
		}
		if description == "" {
			e.logger.Warn("vision output rejected by quality gate",
				"index", n, "page", page, "type", el.Type)
			continue
		}

		el.Text = fmt.Sprintf("[AI VISUAL DESCRIPTION]: %s\n\n[OCR CONTENT]: %s", description, el.Text)
		el.Metadata.VisionProcessed = true
		e.logger.Info("image processed",
			"index", n+1, "total", len(candidates),
			"page", page, "type", el.Type,
			"duration", time.Since(start).Round(10*time.Millisecond).String())
	}
	return nil
}

// describe runs one inference and applies the output quality gates. An empty
// return with nil error means the output was rejected.
func (e *Enricher) describe(ctx context.Context, el *extract.RawElement) (string, error) {
	prompt := imagePrompt
	if el.Type == extract.TypeTable {
		prompt = tablePrompt
	}

	raw, err := e.generator.Generate(ctx, e.model, prompt,
		[]string{el.Metadata.ImageBase64},
		&ollama.GenerateOptions{Temperature: temperature})
	if err != nil {
		return "", err
	}

	description := sanitize(raw)
	if len(description) < minDescriptionLen || !hasLetters(description) {
		return "", nil
	}
	return description, nil
}

// sanitize strips control characters (keeping newlines and tabs) and trims
// surrounding whitespace.
func sanitize(s string) string {
	cleaned := strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.TrimSpace(cleaned)
}

func hasLetters(s string) bool {
	return strings.ContainsFunc(s, unicode.IsLetter)
}
