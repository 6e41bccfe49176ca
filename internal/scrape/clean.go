package scrape

import (
	"regexp"
	"strings"
)

var (
	trailingSpaces = regexp.MustCompile(`[ \t]+\n`)
	blankRuns      = regexp.MustCompile(`\n{3,}`)
	// Markdown links whose target is relative (or a bare fragment) are
	// dead once the content leaves its origin; keep only the link text.
	deadRelativeLink = regexp.MustCompile(`\[([^\]]*)\]\((?:/|#|\./)[^)]*\)`)
)

// collapseWhitespace removes trailing spaces and squeezes runs of three
// or more newlines down to a single blank line.
func collapseWhitespace(text string) string {
	text = trailingSpaces.ReplaceAllString(text, "\n")
	text = blankRuns.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

// dropDeadLinks reduces markdown links with relative targets to their
// visible text.
func dropDeadLinks(text string) string {
	return deadRelativeLink.ReplaceAllString(text, "$1")
}
