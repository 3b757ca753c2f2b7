package parser

import (
	"context"
	"strings"
)

// ExtractedImage represents an image extracted from a document during parsing.
type ExtractedImage struct {
	Data         []byte
	MIMEType     string // "image/jpeg" or "image/png" from PDF; DOCX may also yield gif, bmp, tiff, emf or wmf
	PageNumber   int    // page/slide number (0 for DOCX)
	SectionIndex int    // index into ParseResult.Sections this image belongs to
	Width        int
	Height       int
}

// ParseResult is what a parser produces from a document file.
type ParseResult struct {
	Sections []Section         // Ordered sections extracted from the document
	Images   []ExtractedImage  // Images extracted from the document
	Method   string            // "native"
	Metadata map[string]string
}

// Section represents a logical section of a parsed document.
type Section struct {
	Heading    string
	Content    string
	Level      int    // Heading level (1=top, 2=sub, etc.)
	PageNumber int
	Type       string // "section", "table", "definition", "requirement", "paragraph", "annex"
	Children   []Section
	Metadata   map[string]string
}

// Parser can parse a specific document format.
type Parser interface {
	Parse(ctx context.Context, path string) (*ParseResult, error)
	SupportedFormats() []string
}

// FlattenText joins a document's sections (and their children, in
// order) into a single text body suitable for chunking. Headings are
// included so chunk boundaries retain some structural context.
func FlattenText(sections []Section) string {
	var b strings.Builder
	var walk func([]Section)
	walk = func(secs []Section) {
		for _, s := range secs {
			if s.Heading != "" {
				b.WriteString(s.Heading)
				b.WriteString("\n\n")
			}
			if s.Content != "" {
				b.WriteString(s.Content)
				b.WriteString("\n\n")
			}
			walk(s.Children)
		}
	}
	walk(sections)
	return strings.TrimSpace(b.String())
}
