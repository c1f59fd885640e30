// Package extract provides text extraction from various document formats.
package extract

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Result is the extracted text plus whatever structural metadata the format
// carries. Pages is 0 for formats without page structure.
type Result struct {
	Text  string
	Pages int
}

// Extractor extracts plain text from document files.
type Extractor struct{}

// NewExtractor returns a new Extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract reads the file at path and returns its text content.
// For plain text files (.txt, .md, .rst), content is returned as-is (UTF-8 validated).
// For PDF, DOCX, and Excel, text is extracted from the binary format.
// Returns an error if the file cannot be read.
func (e *Extractor) Extract(path string) (*Result, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	return e.ExtractBytes(content, ext)
}

// ExtractBytes extracts text from content based on the given extension.
// ext should include the leading dot (e.g. ".pdf").
func (e *Extractor) ExtractBytes(content []byte, ext string) (*Result, error) {
	switch ext {
	case ".pdf":
		text, pages, err := extractPDF(content)
		if err != nil {
			return nil, err
		}
		return &Result{Text: text, Pages: pages}, nil
	case ".docx":
		text, err := extractDOCX(content)
		if err != nil {
			return nil, err
		}
		return &Result{Text: text}, nil
	case ".xlsx":
		text, err := extractExcel(content)
		if err != nil {
			return nil, err
		}
		return &Result{Text: text}, nil
	default:
		// Plain text and unknown extensions alike.
		text, err := extractPlain(content)
		if err != nil {
			return nil, err
		}
		return &Result{Text: text}, nil
	}
}
