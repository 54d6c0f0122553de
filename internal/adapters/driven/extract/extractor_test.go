package extract

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ragcore/internal/core/domain"
)

func TestExtractFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.md")
	content := []byte("# Heading\n\nSome body text.")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	e := NewExtractor(Config{})
	result, err := e.ExtractFile(context.Background(), path)

	require.NoError(t, err)
	assert.Equal(t, string(content), result.Text)

	sum := sha256.Sum256(content)
	assert.Equal(t, hex.EncodeToString(sum[:]), result.FileHash)
}

func TestExtractFile_UnsupportedExtension(t *testing.T) {
	e := NewExtractor(Config{})

	for _, path := range []string{"report.pdf", "sheet.xlsx", "doc.docx", "archive.zip", "noext"} {
		_, err := e.ExtractFile(context.Background(), path)
		assert.ErrorIs(t, err, domain.ErrUnsupportedFormat, path)
	}
}

func TestExtractFile_Missing(t *testing.T) {
	e := NewExtractor(Config{})

	_, err := e.ExtractFile(context.Background(), filepath.Join(t.TempDir(), "gone.txt"))
	require.Error(t, err)
	assert.NotErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestExtractURL(t *testing.T) {
	body := "plain text served over http"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte(body))
	}))
	defer server.Close()

	e := NewExtractor(Config{})
	result, err := e.ExtractURL(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Equal(t, body, result.Text)
	assert.NotEmpty(t, result.FileHash)
}

func TestExtractURL_NonTextContentType(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		w.Write([]byte("%PDF-1.7"))
	}))
	defer server.Close()

	e := NewExtractor(Config{})
	_, err := e.ExtractURL(context.Background(), server.URL)

	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestExtractURL_BadScheme(t *testing.T) {
	e := NewExtractor(Config{})

	for _, raw := range []string{"ftp://example.com/file.txt", "file:///etc/passwd", "not a url"} {
		_, err := e.ExtractURL(context.Background(), raw)
		assert.ErrorIs(t, err, domain.ErrUnsupportedFormat, raw)
	}
}

func TestExtractURL_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer server.Close()

	e := NewExtractor(Config{})
	_, err := e.ExtractURL(context.Background(), server.URL)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestExtractURL_HTMLIsStripped(t *testing.T) {
	page := `<html><head><title>Doc</title><style>p{color:red}</style></head>
<body><h1>Heading</h1><p>First &amp; second.</p><script>alert(1)</script></body></html>`
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(page))
	}))
	defer server.Close()

	e := NewExtractor(Config{})
	result, err := e.ExtractURL(context.Background(), server.URL)

	require.NoError(t, err)
	assert.Contains(t, result.Text, "Heading")
	assert.Contains(t, result.Text, "First & second.")
	assert.NotContains(t, result.Text, "<p>")
	assert.NotContains(t, result.Text, "alert")
	assert.NotContains(t, result.Text, "color:red")
}

func TestStripHTML(t *testing.T) {
	in := `<div>one</div><!-- hidden --><br><b>two</b> &lt;three&gt;`
	out := stripHTML(in)

	assert.Equal(t, "one\ntwo <three>", out)
}

func TestIsTextContentType(t *testing.T) {
	assert.True(t, isTextContentType("text/plain"))
	assert.True(t, isTextContentType("text/html; charset=utf-8"))
	assert.True(t, isTextContentType("application/json"))
	assert.False(t, isTextContentType("application/pdf"))
	assert.False(t, isTextContentType("image/png"))
}
