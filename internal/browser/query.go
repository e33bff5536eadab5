package browser

import (
	"regexp"
	"strings"
)

// query is a parsed selector: plain CSS, optionally constrained to elements
// whose text contains Text. The text form is written `css:has-text("Text")`.
type query struct {
	CSS  string
	Text string
}

var hasTextPattern = regexp.MustCompile(`^(.*):has-text\((?:"([^"]*)"|'([^']*)')\)$`)

func parseQuery(selector string) query {
	selector = strings.TrimSpace(selector)
	m := hasTextPattern.FindStringSubmatch(selector)
	if m == nil {
		return query{CSS: selector}
	}

	css := strings.TrimSpace(m[1])
	if css == "" {
		css = "*"
	}
	text := m[2]
	if text == "" {
		text = m[3]
	}
	return query{CSS: css, Text: text}
}

// textPattern is the JS regex literal used to match the element text. Like
// Playwright's :has-text, matching ignores case.
func (q query) textPattern() string {
	return "/" + regexp.QuoteMeta(q.Text) + "/i"
}

// matchesText applies the textPattern rule in Go.
func (q query) matchesText(text string) bool {
	return strings.Contains(strings.ToLower(text), strings.ToLower(q.Text))
}

func (q query) hasText() bool {
	return q.Text != ""
}
