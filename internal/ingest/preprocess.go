package ingest

import (
	"regexp"
	"strings"
)

var manyBlankLines = regexp.MustCompile(`\n{3,}`)

// Preprocess normalizes text before chunking: line endings become LF,
// trailing whitespace is stripped per line, and runs of blank lines collapse
// to one. Newlines are kept because the structure-aware chunker reads
// headings and paragraph breaks from them. Chunk offsets refer to the
// preprocessed text.
func Preprocess(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")
	text = manyBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
