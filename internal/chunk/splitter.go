package chunk

import (
	"strings"
	"unicode/utf8"
)

// separators in priority order: page marker, table heading, paragraph break,
// sentence boundary, word boundary, raw characters. Structural boundaries win
// before finer splits.
var separators = []string{"=== PAGE", "\n\n### ", "\n\n", ". ", " "}

// Split divides a text stream into chunks of at most maxChars characters,
// carrying roughly overlap characters of trailing context into each following
// chunk. Separators are kept attached to the piece they introduce, so page
// markers survive inside chunk text for later attribution.
func Split(text string, maxChars, overlap int) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	if overlap >= maxChars {
		overlap = maxChars / 2
	}
	return splitRecursive(text, separators, maxChars, overlap)
}

func splitRecursive(text string, seps []string, maxChars, overlap int) []string {
	sep, rest := pickSeparator(text, seps)

	var pieces []string
	if sep == "" {
		pieces = windowSplit(text, maxChars, overlap)
	} else {
		pieces = splitKeepingSeparator(text, sep)
	}

	var out []string
	var pending []string
	flush := func() {
		if len(pending) > 0 {
			out = append(out, mergePieces(pending, maxChars, overlap)...)
			pending = nil
		}
	}

	for _, piece := range pieces {
		if utf8.RuneCountInString(piece) <= maxChars {
			pending = append(pending, piece)
			continue
		}
		flush()
		if sep == "" {
			// windowSplit never emits pieces longer than maxChars
			out = append(out, piece)
			continue
		}
		out = append(out, splitRecursive(piece, rest, maxChars, overlap)...)
	}
	flush()
	return out
}

// pickSeparator returns the highest-priority separator present in text and
// the lower-priority tail to recurse with. Empty string means character-level
// windowing.
func pickSeparator(text string, seps []string) (string, []string) {
	for i, s := range seps {
		if strings.Contains(text, s) {
			return s, seps[i+1:]
		}
	}
	return "", nil
}

// splitKeepingSeparator splits text by sep with the separator prefixed to the
// piece it introduces, so "a. b. c" on ". " yields ["a", ". b", ". c"].
func splitKeepingSeparator(text, sep string) []string {
	parts := strings.Split(text, sep)
	pieces := make([]string, 0, len(parts))
	for i, p := range parts {
		if i > 0 {
			p = sep + p
		}
		if p != "" {
			pieces = append(pieces, p)
		}
	}
	return pieces
}

// mergePieces greedily packs consecutive pieces into chunks of at most
// maxChars, then rewinds by up to overlap characters so the next chunk starts
// with trailing context from the previous one.
func mergePieces(pieces []string, maxChars, overlap int) []string {
	var out []string
	var current []string
	total := 0

	emit := func() {
		doc := strings.TrimSpace(strings.Join(current, ""))
		if doc != "" {
			out = append(out, doc)
		}
	}

	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if total+n > maxChars && total > 0 {
			emit()
			for total > overlap || (total+n > maxChars && total > 0) {
				total -= utf8.RuneCountInString(current[0])
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
	}
	emit()
	return out
}

// windowSplit is the last-resort character-level split for text with no
// usable separators: fixed windows advancing by maxChars-overlap.
func windowSplit(text string, maxChars, overlap int) []string {
	runes := []rune(text)
	step := maxChars - overlap
	if step <= 0 {
		step = maxChars
	}

	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			out = append(out, piece)
		}
		if end == len(runes) {
			break
		}
	}
	return out
}
