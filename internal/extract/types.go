package extract

// ElementType identifies the structural category of a partitioned element.
// The values mirror the type tags emitted by the partition service.
type ElementType string

const (
	TypeNarrativeText ElementType = "NarrativeText"
	TypeTable         ElementType = "Table"
	TypeImage         ElementType = "Image"
	TypeHeader        ElementType = "Header"
	TypeFooter        ElementType = "Footer"
	TypePageBreak     ElementType = "PageBreak"
	TypeFigureCaption ElementType = "FigureCaption"
	TypeUncategorized ElementType = "UncategorizedText"
)

// RawElement is one typed structural unit returned by the partition service.
// Elements arrive in reading order; page provenance lives in Metadata.
type RawElement struct {
	Type     ElementType `json:"type"`
	Text     string      `json:"text"`
	Metadata Metadata    `json:"metadata"`
}

// Metadata carries per-element provenance and payloads.
type Metadata struct {
	// PageNumber is 1-based; 0 means the service reported no page.
	PageNumber int `json:"page_number"`

	// ImageBase64 is the embedded image payload when image block
	// extraction is enabled. Empty for text elements.
	ImageBase64 string `json:"image_base64,omitempty"`

	// TextAsHTML is the structured form of a Table element.
	TextAsHTML string `json:"text_as_html,omitempty"`

	// VisionProcessed is set by the vision enrichment stage, never by the
	// partition service.
	VisionProcessed bool `json:"-"`
}

// HasImagePayload reports whether the element carries an embedded image.
func (e *RawElement) HasImagePayload() bool {
	return e.Metadata.ImageBase64 != ""
}
