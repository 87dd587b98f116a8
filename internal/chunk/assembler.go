// Package chunk turns the ordered element list of a partitioned document into
// embedded-page-marker text chunks ready for embedding.
//
// Assembly walks the elements once and produces one linear text stream with
// page markers and labeled table blocks. Splitting divides that stream along
// structural boundaries first (page marker, table heading, paragraph,
// sentence, word) before falling back to character windows. Attribution
// recovers a best-effort page number for every chunk from the markers the
// splitter left inside the text.
package chunk

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/koopa0/vitalia-kb/internal/extract"
)

// Default chunking parameters.
const (
	DefaultMaxChars = 2000
	DefaultOverlap  = 300

	// Uncategorized elements shorter than this are OCR noise.
	minUncategorizedLen = 5
)

const (
	visionDescriptionTag = "[AI VISUAL DESCRIPTION]:"
	ocrContentTag        = "[OCR CONTENT]:"
	tableHeadingPrefix   = "### TABLE"
)

// Options configures assembly and splitting for one document.
type Options struct {
	// SourceName identifies the document in chunk metadata.
	SourceName string

	// TextOnly drops Table, Image and FigureCaption elements entirely.
	TextOnly bool

	// FixHyphenation repairs line-break hyphenation before concatenation.
	FixHyphenation bool

	MaxChars int
	Overlap  int
}

// Record is one chunk ready for embedding and persistence.
type Record struct {
	Content  string
	Page     int // 0 = unknown
	Metadata map[string]any
}

// hyphenPattern matches a trailing hyphen broken across a line with a
// lowercase continuation, e.g. "analy-\nsis".
var hyphenPattern = regexp.MustCompile(`(\p{L})-[ \t]*\n[ \t]*(\p{Ll})`)

// pageMarkerPattern recovers the page number from an embedded marker, either
// the "=== PAGE N ===" form or a table heading "### TABLE PAGE N".
var pageMarkerPattern = regexp.MustCompile(`PAGE (\d+)`)

// Build runs the full assembly: element walk, splitting, page attribution.
func Build(elements []extract.RawElement, opts Options, logger *slog.Logger) []Record {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.MaxChars <= 0 {
		opts.MaxChars = DefaultMaxChars
	}
	if opts.Overlap < 0 {
		opts.Overlap = DefaultOverlap
	}

	stream := Assemble(elements, opts, logger)
	pieces := Split(stream, opts.MaxChars, opts.Overlap)
	records := Attribute(pieces, opts.SourceName, time.Now())

	logger.Info("chunk assembly complete",
		"elements", len(elements),
		"stream_chars", utf8.RuneCountInString(stream),
		"chunks", len(records))
	return records
}

// Assemble walks the elements in reading order and produces one text stream
// with embedded page markers and table blocks.
func Assemble(elements []extract.RawElement, opts Options, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}

	var b strings.Builder
	currentPage := 0

	for _, el := range elements {
		text := strings.TrimSpace(el.Text)
		page := el.Metadata.PageNumber

		switch el.Type {
		case extract.TypeHeader, extract.TypeFooter:
			continue
		case extract.TypeUncategorized:
			if utf8.RuneCountInString(text) < minUncategorizedLen {
				continue
			}
		}

		if opts.TextOnly {
			switch el.Type {
			case extract.TypeTable, extract.TypeImage, extract.TypeFigureCaption:
				continue
			}
		}

		newPage := el.Type == extract.TypePageBreak || (page > 0 && page != currentPage)
		if newPage && page > 0 {
			fmt.Fprintf(&b, "\n\n=== PAGE %d ===\n\n", page)
			currentPage = page
		}
		if el.Type == extract.TypePageBreak {
			continue
		}

		if el.Type == extract.TypeTable && el.Metadata.TextAsHTML != "" {
			md, err := TableMarkdown(el.Metadata.TextAsHTML)
			if err != nil {
				logger.Warn("table html unparseable, keeping raw text", "page", page, "error", err)
				md = text
			}
			fmt.Fprintf(&b, "\n\n%s PAGE %d\n%s\n\n", tableHeadingPrefix, page, repairHyphens(md, opts.FixHyphenation))

			if el.Metadata.VisionProcessed {
				if desc := visionDescription(el.Text); desc != "" {
					fmt.Fprintf(&b, "\n> AI transcription: %s\n\n", repairHyphens(desc, opts.FixHyphenation))
				}
			}
			continue
		}

		if text == "" {
			continue
		}
		b.WriteString(repairHyphens(text, opts.FixHyphenation))
		b.WriteString("\n\n")
	}

	return b.String()
}

// Attribute assigns a page number and metadata to each split piece. A piece
// without an embedded marker is a mid-page continuation and inherits the last
// page seen in stream order.
func Attribute(pieces []string, sourceName string, now time.Time) []Record {
	records := make([]Record, 0, len(pieces))
	lastSeenPage := 0

	for _, content := range pieces {
		page := lastSeenPage
		if m := pageMarkerPattern.FindStringSubmatch(content); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil {
				page = n
				lastSeenPage = n
			}
		}

		records = append(records, Record{
			Content: content,
			Page:    page,
			Metadata: map[string]any{
				"source":         sourceName,
				"generated_by":   "vitalia-kb ingest",
				"is_table":       strings.Contains(content, tableHeadingPrefix),
				"has_vision":     strings.Contains(content, "[AI VISUAL DESCRIPTION"),
				"ingestion_date": now.Format(time.RFC3339),
			},
		})
	}
	return records
}

// visionDescription extracts the model-generated description from an element
// whose text was spliced by the vision stage.
func visionDescription(text string) string {
	_, after, found := strings.Cut(text, visionDescriptionTag)
	if !found {
		return ""
	}
	desc, _, _ := strings.Cut(after, ocrContentTag)
	return strings.TrimSpace(desc)
}

func repairHyphens(text string, enabled bool) string {
	if !enabled {
		return text
	}
	return hyphenPattern.ReplaceAllString(text, "$1$2")
}
