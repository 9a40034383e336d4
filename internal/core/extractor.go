package core

import (
	"context"
)

// ExtractedText represents the result of text extraction, potentially with metadata.
type ExtractedText struct {
	Title    string
	Text     string
	Metadata map[string]string
}

// DocumentExtractor converts raw file bytes into text. The extension (".pdf", ".md", ...)
// selects the parsing strategy. Unsupported or unreadable input fails with *ExtractionError.
type DocumentExtractor interface {
	Extract(ctx context.Context, data []byte, extension string) (*ExtractedText, error)
}
