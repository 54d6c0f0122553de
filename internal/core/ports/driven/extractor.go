package driven

import "context"

// ExtractResult is plain text pulled from a source, plus whatever structural
// metadata the format exposes.
type ExtractResult struct {
	// Text is the extracted plain text.
	Text string

	// PageCount is non-zero when the format has pages.
	PageCount int

	// FileHash is the SHA-256 hex digest of the raw content.
	FileHash string
}

// TextExtractor converts a source into plain text. Format-specific parsing
// (PDF, DOCX, XLSX) lives behind this boundary; the pipeline only consumes
// already-extracted text. Unrecognised inputs fail with
// domain.ErrUnsupportedFormat.
type TextExtractor interface {
	// ExtractFile extracts text from a local file.
	ExtractFile(ctx context.Context, path string) (*ExtractResult, error)

	// ExtractURL fetches a URL and extracts its text.
	ExtractURL(ctx context.Context, url string) (*ExtractResult, error)
}
