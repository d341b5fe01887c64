package sender

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/Notifuse/dispatch/internal/domain"
)

const blockElements = "p, div, br, li, tr, h1, h2, h3, h4, h5, h6, table, blockquote"

// PlainText derives the plain text alternative of an HTML body
func PlainText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML body: %w", err)
	}

	doc.Find("head, script, style").Remove()
	doc.Find("a[href]").Each(func(_ int, s *goquery.Selection) {
		href, _ := s.Attr("href")
		text := strings.TrimSpace(s.Text())
		if href != "" && text != "" && text != href && !strings.HasPrefix(href, "mailto:") {
			s.SetText(fmt.Sprintf("%s (%s)", text, href))
		}
	})
	doc.Find(blockElements).Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})

	var lines []string
	for _, line := range strings.Split(doc.Text(), "\n") {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n"), nil
}

// textBody returns the explicit text body, or the one derived from the HTML body
func textBody(payload *domain.Payload) string {
	if payload.Text != "" || payload.HTML == "" {
		return payload.Text
	}
	text, err := PlainText(payload.HTML)
	if err != nil {
		return ""
	}
	return text
}
