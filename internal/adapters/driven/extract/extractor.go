// Package extract provides the TextExtractor adapter for plain-text sources.
//
// Supported inputs are plain-text files and http(s) URLs serving text
// content. Binary document formats (PDF, DOCX, XLSX) are rejected with
// domain.ErrUnsupportedFormat; parsing them belongs behind a dedicated
// adapter.
package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/custodia-labs/ragcore/internal/core/domain"
	"github.com/custodia-labs/ragcore/internal/core/ports/driven"
)

var _ driven.TextExtractor = (*Extractor)(nil)

// Default configuration values.
const (
	DefaultTimeout     = 30 * time.Second
	DefaultMaxBodySize = 20 << 20 // 20 MiB
)

// textExtensions lists the file extensions treated as plain text.
var textExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".log":      true,
	".csv":      true,
	".rst":      true,
}

// Config holds configuration for the extractor.
type Config struct {
	// Timeout is the per-URL fetch timeout (default: 30s).
	Timeout time.Duration

	// MaxBodySize caps how many bytes are read from a URL (default: 20 MiB).
	MaxBodySize int64
}

// Extractor converts plain-text files and URLs into extraction results.
type Extractor struct {
	client      *http.Client
	maxBodySize int64
}

// NewExtractor creates a text extractor.
func NewExtractor(cfg Config) *Extractor {
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxBodySize == 0 {
		cfg.MaxBodySize = DefaultMaxBodySize
	}

	return &Extractor{
		client:      &http.Client{Timeout: cfg.Timeout},
		maxBodySize: cfg.MaxBodySize,
	}
}

// ExtractFile reads a local plain-text file. Files with unrecognised
// extensions fail with domain.ErrUnsupportedFormat.
func (e *Extractor) ExtractFile(_ context.Context, path string) (*driven.ExtractResult, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if !textExtensions[ext] {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return buildResult(data), nil
}

// ExtractURL fetches an http(s) URL and returns its body as text. Responses
// declaring a non-text content type fail with domain.ErrUnsupportedFormat.
func (e *Extractor) ExtractURL(ctx context.Context, rawURL string) (*driven.ExtractResult, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", rawURL, resp.StatusCode)
	}

	ct := resp.Header.Get("Content-Type")
	if ct != "" && !isTextContentType(ct) {
		return nil, fmt.Errorf("%w: content type %s", domain.ErrUnsupportedFormat, ct)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", rawURL, err)
	}

	result := buildResult(data)
	if isHTMLContentType(ct) {
		result.Text = stripHTML(result.Text)
	}
	return result, nil
}

func buildResult(data []byte) *driven.ExtractResult {
	sum := sha256.Sum256(data)
	return &driven.ExtractResult{
		Text:     string(data),
		FileHash: hex.EncodeToString(sum[:]),
	}
}

func isTextContentType(ct string) bool {
	ct = strings.ToLower(ct)
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if strings.HasPrefix(ct, "text/") {
		return true
	}
	switch ct {
	case "application/json", "application/xml", "application/xhtml+xml":
		return true
	}
	return false
}
