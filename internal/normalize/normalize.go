// Package normalize merges kept files into a corpus and flattens whitespace.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
)

// fileMarker is the provenance delimiter inserted before each file's content.
const fileMarker = "===== FILE: %s ====="

var (
	newlineRuns = regexp.MustCompile(`\n+`)
	spaceRuns   = regexp.MustCompile(`[ \t]+`)
)

// Entry is one (path, content) pair in fetch order.
type Entry struct {
	Path    string
	Content string
}

// BuildCorpus concatenates entries in order, prefixing each with a marker
// naming the file so provenance is recoverable from the raw corpus.
func BuildCorpus(entries []Entry) string {
	if len(entries) == 0 {
		return ""
	}

	var b strings.Builder
	for _, e := range entries {
		b.WriteString("\n\n")
		b.WriteString(fmt.Sprintf(fileMarker, e.Path))
		b.WriteString("\n\n")
		b.WriteString(e.Content)
	}
	return b.String()
}

// Marker returns the provenance marker for a path, exposed for tests and
// for tools that split a persisted corpus back into files.
func Marker(path string) string {
	return fmt.Sprintf(fileMarker, path)
}

// CollapseWhitespace reduces newline runs to a single newline, then
// space/tab runs to a single space, then trims the ends. The relative
// order of non-whitespace characters is preserved.
func CollapseWhitespace(s string) string {
	s = newlineRuns.ReplaceAllString(s, "\n")
	s = spaceRuns.ReplaceAllString(s, " ")
	return strings.TrimSpace(s)
}

// Flatten joins all whitespace-delimited tokens with single spaces,
// yielding one line with no embedded newlines. Chunking operates on the
// flattened form so split-point selection does not depend on source
// line-ending conventions.
func Flatten(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
