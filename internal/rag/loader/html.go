package loader

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// htmlToText extracts visible text from an HTML document, block
// elements separated by blank lines so the chunker can split on
// paragraph boundaries.
func htmlToText(body []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}

	doc.Find("script, style, noscript, nav, footer").Remove()

	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var blocks []string
	root.Find("h1, h2, h3, h4, h5, h6, p, li, td, pre, blockquote").Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if text != "" {
			blocks = append(blocks, collapseSpaces(text))
		}
	})

	// Fallback for documents without block markup.
	if len(blocks) == 0 {
		text := strings.TrimSpace(root.Text())
		if text == "" {
			return "", nil
		}
		return collapseSpaces(text), nil
	}

	return strings.Join(blocks, "\n\n"), nil
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
