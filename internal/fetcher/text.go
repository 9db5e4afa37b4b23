package fetcher

import (
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/charset"
)

// noiseSelectors are removed before text extraction.
const noiseSelectors = "script, style, nav, footer, header, aside, noscript, iframe, svg, form"

// Extracted is the readable content of one HTML page.
type Extracted struct {
	Title string
	Text  string
}

// DecodeBody converts a response body to UTF-8 using the declared or sniffed charset.
func DecodeBody(body []byte, contentType string) string {
	enc, _, _ := charset.DetermineEncoding(body, contentType)
	decoded, err := enc.NewDecoder().Bytes(body)
	if err != nil {
		return string(body)
	}
	return string(decoded)
}

// ExtractText strips chrome and scripts from markup and returns the title and
// visible text with blank lines collapsed.
func ExtractText(markup string) (Extracted, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return Extracted{}, err
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find(noiseSelectors).Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}
	var b strings.Builder
	for _, n := range root.Nodes {
		writeText(&b, n)
	}
	return Extracted{Title: title, Text: CollapseLines(b.String())}, nil
}

// writeText emits text nodes in document order, one per line.
func writeText(b *strings.Builder, n *html.Node) {
	if n.Type == html.TextNode {
		b.WriteString(n.Data)
		b.WriteString("\n")
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(b, c)
	}
}

// CollapseLines trims every line and drops empty ones.
func CollapseLines(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		line = strings.Join(strings.Fields(line), " ")
		if line != "" {
			out = append(out, line)
		}
	}
	return strings.Join(out, "\n")
}

// Truncate cuts s to at most n bytes without splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
