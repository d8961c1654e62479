// Package document splits a model answer into its markdown and HTML parts.
package document

import (
	"regexp"
	"strings"
)

const (
	MarkdownMarker = "[MARKDOWN]"
	HTMLMarker     = "[HTML]"
)

var (
	markdownRe = regexp.MustCompile(`\[MARKDOWN\]([\s\S]*?)(?:\[HTML\]|$)`)
	htmlRe     = regexp.MustCompile(`\[HTML\]([\s\S]*)$`)
)

// Parts is the result of Split. HTML is nil when the answer has no HTML section.
type Parts struct {
	Markdown string
	HTML     *string
}

// HasMultipleFormats reports whether both markers are present in content.
func HasMultipleFormats(content string) bool {
	return strings.Contains(content, MarkdownMarker) && strings.Contains(content, HTMLMarker)
}

// Split extracts the markdown section, falling back to the whole content when
// there is no markdown marker, and the HTML section when present.
func Split(content string) Parts {
	var p Parts
	if m := markdownRe.FindStringSubmatch(content); m != nil {
		p.Markdown = strings.TrimSpace(m[1])
	} else {
		p.Markdown = strings.TrimSpace(content)
	}
	if m := htmlRe.FindStringSubmatch(content); m != nil {
		html := strings.TrimSpace(m[1])
		p.HTML = &html
	}
	return p
}
