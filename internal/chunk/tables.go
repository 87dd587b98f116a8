package chunk

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// TableMarkdown renders the structured HTML form of a table element as a
// markdown table. The first row becomes the header row. Cell text is
// whitespace-normalized; pipes inside cells are escaped so they cannot break
// the column layout.
func TableMarkdown(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("parsing table html: %w", err)
	}

	var b strings.Builder
	doc.Find("tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("th, td")
		if cells.Length() == 0 {
			return
		}

		b.WriteString("|")
		cells.Each(func(_ int, cell *goquery.Selection) {
			b.WriteString(" ")
			b.WriteString(cellText(cell))
			b.WriteString(" |")
		})
		b.WriteString("\n")

		if i == 0 {
			b.WriteString("|")
			b.WriteString(strings.Repeat(" --- |", cells.Length()))
			b.WriteString("\n")
		}
	})

	return strings.TrimRight(b.String(), "\n"), nil
}

func cellText(cell *goquery.Selection) string {
	text := strings.Join(strings.Fields(cell.Text()), " ")
	return strings.ReplaceAll(text, "|", "\\|")
}
