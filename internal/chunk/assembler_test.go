package chunk

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/koopa0/vitalia-kb/internal/extract"
	"github.com/koopa0/vitalia-kb/internal/log"
)

func narrative(page int, text string) extract.RawElement {
	return extract.RawElement{
		Type:     extract.TypeNarrativeText,
		Text:     text,
		Metadata: extract.Metadata{PageNumber: page},
	}
}

func TestAssemblePageMarkers(t *testing.T) {
	elements := []extract.RawElement{
		narrative(1, "First page text."),
		narrative(1, "More first page text."),
		narrative(2, "Second page text."),
	}

	stream := Assemble(elements, Options{}, log.NewNop())

	if !strings.Contains(stream, "=== PAGE 1 ===") {
		t.Errorf("missing page 1 marker in %q", stream)
	}
	if !strings.Contains(stream, "=== PAGE 2 ===") {
		t.Errorf("missing page 2 marker in %q", stream)
	}
	if n := strings.Count(stream, "=== PAGE 1 ==="); n != 1 {
		t.Errorf("page 1 marker emitted %d times, want once", n)
	}
	if strings.Index(stream, "First page text.") > strings.Index(stream, "Second page text.") {
		t.Error("element order not preserved")
	}
}

func TestAssemblePageBreakContributesNoText(t *testing.T) {
	elements := []extract.RawElement{
		narrative(1, "Page one."),
		{Type: extract.TypePageBreak, Text: "IGNORED", Metadata: extract.Metadata{PageNumber: 2}},
		narrative(2, "Page two."),
	}

	stream := Assemble(elements, Options{}, log.NewNop())
	if strings.Contains(stream, "IGNORED") {
		t.Errorf("page break text leaked into stream: %q", stream)
	}
	if n := strings.Count(stream, "=== PAGE 2 ==="); n != 1 {
		t.Errorf("page 2 marker emitted %d times, want once", n)
	}
}

func TestAssembleFilters(t *testing.T) {
	elements := []extract.RawElement{
		{Type: extract.TypeHeader, Text: "RUNNING HEADER", Metadata: extract.Metadata{PageNumber: 1}},
		{Type: extract.TypeFooter, Text: "page footer", Metadata: extract.Metadata{PageNumber: 1}},
		{Type: extract.TypeUncategorized, Text: "ab", Metadata: extract.Metadata{PageNumber: 1}},
		{Type: extract.TypeUncategorized, Text: "long enough uncategorized text", Metadata: extract.Metadata{PageNumber: 1}},
		narrative(1, "Body."),
	}

	stream := Assemble(elements, Options{}, log.NewNop())

	for _, dropped := range []string{"RUNNING HEADER", "page footer", "ab\n"} {
		if strings.Contains(stream, dropped) {
			t.Errorf("filtered element leaked: %q", dropped)
		}
	}
	if !strings.Contains(stream, "long enough uncategorized text") {
		t.Error("uncategorized text above threshold was dropped")
	}
}

func TestAssembleTextOnlyDropsVisualElements(t *testing.T) {
	elements := []extract.RawElement{
		narrative(1, "Kept."),
		{Type: extract.TypeTable, Text: "table text", Metadata: extract.Metadata{PageNumber: 1, TextAsHTML: "<table><tr><td>x</td></tr></table>"}},
		{Type: extract.TypeImage, Text: "image text", Metadata: extract.Metadata{PageNumber: 1}},
		{Type: extract.TypeFigureCaption, Text: "caption", Metadata: extract.Metadata{PageNumber: 1}},
	}

	stream := Assemble(elements, Options{TextOnly: true}, log.NewNop())

	if !strings.Contains(stream, "Kept.") {
		t.Error("narrative text dropped in text-only mode")
	}
	for _, dropped := range []string{"table text", "image text", "caption", "### TABLE"} {
		if strings.Contains(stream, dropped) {
			t.Errorf("visual element leaked in text-only mode: %q", dropped)
		}
	}
}

func TestAssembleTableBlock(t *testing.T) {
	elements := []extract.RawElement{
		{
			Type: extract.TypeTable,
			Text: "[AI VISUAL DESCRIPTION]: | Bone | Count |\n\n[OCR CONTENT]: raw ocr",
			Metadata: extract.Metadata{
				PageNumber:      2,
				TextAsHTML:      "<table><tr><th>Bone</th><th>Count</th></tr><tr><td>Femur</td><td>2</td></tr></table>",
				VisionProcessed: true,
			},
		},
	}

	stream := Assemble(elements, Options{}, log.NewNop())

	if !strings.Contains(stream, "### TABLE PAGE 2") {
		t.Errorf("missing table heading in %q", stream)
	}
	if !strings.Contains(stream, "| Bone | Count |") || !strings.Contains(stream, "| Femur | 2 |") {
		t.Errorf("missing markdown table rows in %q", stream)
	}
	if !strings.Contains(stream, "> AI transcription: | Bone | Count |") {
		t.Errorf("missing vision transcription sub-block in %q", stream)
	}
}

func TestAssembleHyphenationRepair(t *testing.T) {
	elements := []extract.RawElement{narrative(1, "A full analy-\nsis of the tibia.")}

	repaired := Assemble(elements, Options{FixHyphenation: true}, log.NewNop())
	if !strings.Contains(repaired, "analysis") {
		t.Errorf("hyphenation not repaired: %q", repaired)
	}

	kept := Assemble(elements, Options{FixHyphenation: false}, log.NewNop())
	if !strings.Contains(kept, "analy-\nsis") {
		t.Errorf("text modified with repair disabled: %q", kept)
	}
}

func TestHyphenRepairKeepsUppercaseContinuations(t *testing.T) {
	elements := []extract.RawElement{narrative(1, "The Smith-\nJones classification.")}
	stream := Assemble(elements, Options{FixHyphenation: true}, log.NewNop())
	if !strings.Contains(stream, "Smith-\nJones") {
		t.Errorf("hyphen before uppercase continuation must be kept: %q", stream)
	}
}

func TestAttributePageFallback(t *testing.T) {
	pieces := []string{
		"=== PAGE 1 ===\n\nIntro text.",
		"continuation without a marker",
		"=== PAGE 3 ===\n\nLater text.",
		"another continuation",
	}

	records := Attribute(pieces, "book.pdf", time.Now())
	wantPages := []int{1, 1, 3, 3}
	for i, r := range records {
		if r.Page != wantPages[i] {
			t.Errorf("chunk %d page = %d, want %d", i, r.Page, wantPages[i])
		}
	}
}

func TestAttributeDeterministic(t *testing.T) {
	pieces := []string{"=== PAGE 2 ===\n\ntext", "tail"}
	now := time.Now()

	first := Attribute(pieces, "a.pdf", now)
	second := Attribute(pieces, "a.pdf", now)

	for i := range first {
		if first[i].Page != second[i].Page || first[i].Content != second[i].Content {
			t.Errorf("attribution not deterministic at chunk %d", i)
		}
	}
}

func TestAttributeMetadata(t *testing.T) {
	pieces := []string{
		"=== PAGE 2 ===\n\n### TABLE PAGE 2\n| a | b |",
		"[AI VISUAL DESCRIPTION]: a diagram",
		"plain narrative",
	}

	records := Attribute(pieces, "atlas.pdf", time.Now())

	if records[0].Metadata["is_table"] != true {
		t.Error("table chunk not flagged is_table")
	}
	if records[1].Metadata["has_vision"] != true {
		t.Error("vision chunk not flagged has_vision")
	}
	if records[2].Metadata["is_table"] != false || records[2].Metadata["has_vision"] != false {
		t.Error("plain chunk wrongly flagged")
	}
	for i, r := range records {
		if r.Metadata["source"] != "atlas.pdf" {
			t.Errorf("chunk %d source = %v", i, r.Metadata["source"])
		}
		if _, ok := r.Metadata["ingestion_date"].(string); !ok {
			t.Errorf("chunk %d missing ingestion_date", i)
		}
	}
}

func TestSplitSizeBound(t *testing.T) {
	var b strings.Builder
	for page := 1; page <= 5; page++ {
		fmt.Fprintf(&b, "\n\n=== PAGE %d ===\n\n", page)
		for s := 0; s < 40; s++ {
			b.WriteString("A sentence about the skeletal system and its articulations. ")
		}
	}

	const maxChars, overlap = 500, 100
	pieces := Split(b.String(), maxChars, overlap)

	if len(pieces) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(pieces))
	}
	for i, p := range pieces {
		if n := utf8.RuneCountInString(p); n > maxChars+overlap {
			t.Errorf("chunk %d length %d exceeds bound %d", i, n, maxChars+overlap)
		}
	}
}

func TestSplitPrefersPageMarkers(t *testing.T) {
	text := "=== PAGE 1 ===\n\n" + strings.Repeat("alpha ", 30) +
		"\n\n=== PAGE 2 ===\n\n" + strings.Repeat("beta ", 30)

	pieces := Split(text, 250, 0)

	if len(pieces) < 2 {
		t.Fatalf("expected split at page marker, got %d chunks", len(pieces))
	}
	if !strings.HasPrefix(pieces[1], "=== PAGE 2") {
		t.Errorf("second chunk does not start at page marker: %q", pieces[1][:40])
	}
}

func TestSplitShortTextSingleChunk(t *testing.T) {
	pieces := Split("short text", 2000, 300)
	if len(pieces) != 1 || pieces[0] != "short text" {
		t.Errorf("Split() = %v, want single unchanged chunk", pieces)
	}
}

func TestSplitEmpty(t *testing.T) {
	if pieces := Split("  \n ", 2000, 300); pieces != nil {
		t.Errorf("Split() on whitespace = %v, want nil", pieces)
	}
}

func TestSplitNoSeparators(t *testing.T) {
	text := strings.Repeat("x", 1000)
	pieces := Split(text, 300, 50)

	if len(pieces) < 3 {
		t.Fatalf("expected character windows, got %d chunks", len(pieces))
	}
	var rebuilt int
	for i, p := range pieces {
		if n := utf8.RuneCountInString(p); n > 300 {
			t.Errorf("chunk %d length %d exceeds max", i, n)
		}
		rebuilt += utf8.RuneCountInString(p)
	}
	if rebuilt < 1000 {
		t.Errorf("windows cover %d chars, want >= 1000 including overlap", rebuilt)
	}
}

func TestTableMarkdown(t *testing.T) {
	html := `<table>
		<tr><th>Code</th><th>Name</th></tr>
		<tr><td>M17.1</td><td>Gonarthrosis | primary</td></tr>
	</table>`

	got, err := TableMarkdown(html)
	if err != nil {
		t.Fatalf("TableMarkdown() error = %v", err)
	}

	lines := strings.Split(got, "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3:\n%s", len(lines), got)
	}
	if lines[0] != "| Code | Name |" {
		t.Errorf("header = %q", lines[0])
	}
	if lines[1] != "| --- | --- |" {
		t.Errorf("separator = %q", lines[1])
	}
	if !strings.Contains(lines[2], `Gonarthrosis \| primary`) {
		t.Errorf("pipe not escaped in cell: %q", lines[2])
	}
}

func TestBuildEndToEnd(t *testing.T) {
	elements := []extract.RawElement{
		narrative(1, "The appendicular skeleton includes the limbs."),
		narrative(2, "The axial skeleton includes the spine."),
		{
			Type:     extract.TypeTable,
			Metadata: extract.Metadata{PageNumber: 2, TextAsHTML: "<table><tr><td>Femur</td></tr></table>"},
		},
	}

	records := Build(elements, Options{SourceName: "anatomy.pdf", MaxChars: 2000, Overlap: 300}, log.NewNop())

	if len(records) == 0 {
		t.Fatal("no chunks produced")
	}
	if records[0].Page != 1 {
		t.Errorf("first chunk page = %d, want 1", records[0].Page)
	}
	if records[0].Metadata["source"] != "anatomy.pdf" {
		t.Errorf("source = %v", records[0].Metadata["source"])
	}
}
