package ingress

import (
	"io"
	"strings"

	"golang.org/x/net/html"
)

// stripHTML removes markup from surrounding-page context before it is
// persisted, collapsing runs of whitespace the way BeautifulSoup's
// get_text(separator=" ") does in original_source/backend/src/routes/tasks.py.
// Tokenizing with golang.org/x/net/html rather than a regex strip avoids
// mangling text that happens to contain "<"/">" inside, say, a code sample.
func stripHTML(raw string) string {
	z := html.NewTokenizer(strings.NewReader(raw))
	var b strings.Builder
	for {
		tt := z.Next()
		switch tt {
		case html.ErrorToken:
			if z.Err() != io.EOF {
				// Not well-formed HTML; treat the input as plain text.
				return collapseWhitespace(raw)
			}
			return collapseWhitespace(b.String())
		case html.TextToken:
			b.Write(z.Text())
			b.WriteByte(' ')
		}
	}
}

func collapseWhitespace(s string) string {
	fields := strings.Fields(s)
	return strings.Join(fields, " ")
}
