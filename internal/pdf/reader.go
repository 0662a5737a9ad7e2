package pdf

import (
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"
)

var footerPattern = regexp.MustCompile(`Date: (\d{2}-\d{2}-\d{4})\s+Serial No: ([0-9A-Fa-f]{8})`)

// extractTextContent concatenates the plain text of every page, capped at
// maxTextSize bytes.
func extractTextContent(r *pdf.Reader, maxTextSize int) string {
	var builder strings.Builder

	for pageNum := 1; pageNum <= r.NumPage(); pageNum++ {
		page := r.Page(pageNum)
		if page.V.IsNull() {
			continue
		}

		content, err := page.GetPlainText(nil)
		if err != nil {
			// Continue with other pages even if one fails
			continue
		}

		if builder.Len()+len(content) > maxTextSize {
			if remaining := maxTextSize - builder.Len(); remaining > 0 {
				builder.WriteString(content[:remaining])
			}
			break
		}
		builder.WriteString(content)
	}

	return builder.String()
}

// ParseFooter finds the generation date and serial number in text.
func ParseFooter(text string) (*Footer, bool) {
	m := footerPattern.FindStringSubmatch(text)
	if m == nil {
		return nil, false
	}
	return &Footer{Date: m[1], Serial: m[2]}, true
}
