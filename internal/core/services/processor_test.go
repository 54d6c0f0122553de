package services

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/ragcore/internal/core/domain"
)

func TestChunkText_EmptyInput(t *testing.T) {
	p := NewDocumentProcessor()

	assert.Nil(t, p.ChunkText("doc-1", "", domain.ChunkMetadata{}, DefaultChunkConfig()))
	assert.Nil(t, p.ChunkText("doc-1", "   \n\n  ", domain.ChunkMetadata{}, DefaultChunkConfig()))
}

func TestChunkText_SingleShortText(t *testing.T) {
	p := NewDocumentProcessor()

	text := strings.Repeat("The quick brown fox jumps over the lazy dog today. ", 4)
	chunks := p.ChunkText("doc-1", text, domain.ChunkMetadata{Source: "a.txt"}, DefaultChunkConfig())

	require.Len(t, chunks, 1)
	assert.Equal(t, "doc-1", chunks[0].DocumentID)
	assert.Equal(t, 0, chunks[0].ChunkIndex)
	assert.Equal(t, 1, chunks[0].Metadata.TotalChunks)
	assert.Equal(t, "a.txt", chunks[0].Metadata.Source)
	assert.NotEmpty(t, chunks[0].ID)
}

func TestChunkText_LongTextProducesOverlappingChunks(t *testing.T) {
	p := NewDocumentProcessor()

	sentence := "The quick brown fox jumps over the lazy dog today."
	parts := make([]string, 49)
	for i := range parts {
		parts[i] = sentence
	}
	text := strings.Join(parts, " ")
	require.Equal(t, 2498, len(text))

	chunks := p.ChunkText("doc-1", text, domain.ChunkMetadata{}, DefaultChunkConfig())
	require.Len(t, chunks, 3)

	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		assert.Equal(t, 3, c.Metadata.TotalChunks)
		assert.GreaterOrEqual(t, len(c.Content), DefaultMinChunkSize)
		assert.LessOrEqual(t, len(c.Content), DefaultChunkSize)
		require.NotNil(t, c.Metadata.LineStart)
		require.NotNil(t, c.Metadata.LineEnd)
		assert.LessOrEqual(t, *c.Metadata.LineStart, *c.Metadata.LineEnd)
	}

	// Each chunk must start with a substantial suffix of its predecessor.
	assert.GreaterOrEqual(t, overlapLength(chunks[0].Content, chunks[1].Content), 100)
	assert.GreaterOrEqual(t, overlapLength(chunks[1].Content, chunks[2].Content), 100)
}

// overlapLength returns the length of the longest suffix of prev that is a
// prefix of next.
func overlapLength(prev, next string) int {
	max := len(prev)
	if len(next) < max {
		max = len(next)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(prev, next[:n]) {
			return n
		}
	}
	return 0
}

func TestChunkText_ReconstructsOriginalText(t *testing.T) {
	p := NewDocumentProcessor()

	parts := make([]string, 49)
	for i := range parts {
		parts[i] = fmt.Sprintf("Sentence number %03d is here today.", i)
	}

	// Mixed separators in the input; the chunker joins sentence units with
	// single spaces, so reconstruction is exact modulo that normalisation.
	var b strings.Builder
	for i, s := range parts {
		if i > 0 {
			if i%5 == 0 {
				b.WriteString("\n\n")
			} else {
				b.WriteString(" ")
			}
		}
		b.WriteString(s)
	}

	chunks := p.ChunkText("doc-1", b.String(), domain.ChunkMetadata{}, DefaultChunkConfig())
	require.GreaterOrEqual(t, len(chunks), 2)

	// Stitch chunks back together, dropping each chunk's overlap seed.
	recon := chunks[0].Content
	for _, c := range chunks[1:] {
		k := overlapLength(recon, c.Content)
		if k > 0 {
			recon += c.Content[k:]
		} else {
			recon += " " + c.Content
		}
	}

	assert.Equal(t, strings.Join(parts, " "), recon)
}

func TestChunkText_OversizedSentenceBecomesOwnChunk(t *testing.T) {
	p := NewDocumentProcessor()

	long := strings.Repeat("word ", 300) // no terminal punctuation until the end
	text := long + "."
	require.Greater(t, len(text), DefaultChunkSize)

	chunks := p.ChunkText("doc-1", text, domain.ChunkMetadata{}, DefaultChunkConfig())
	require.Len(t, chunks, 1)
	assert.Greater(t, len(chunks[0].Content), DefaultChunkSize)
}

func TestChunkText_TrailingBufferBelowMinIsDropped(t *testing.T) {
	p := NewDocumentProcessor()

	sentence := "The quick brown fox jumps over the lazy dog today."
	parts := make([]string, 20)
	for i := range parts {
		parts[i] = sentence
	}
	// One chunk's worth of text plus a tiny trailing fragment.
	text := strings.Join(parts, " ") + " Ok."

	cfg := ChunkConfig{ChunkSize: 1000, ChunkOverlap: 0, MinChunkSize: 100}
	chunks := p.ChunkText("doc-1", text, domain.ChunkMetadata{}, cfg)

	for _, c := range chunks {
		assert.GreaterOrEqual(t, len(c.Content), cfg.MinChunkSize)
	}
}

func TestChunkText_ZeroOverlap(t *testing.T) {
	p := NewDocumentProcessor()

	parts := make([]string, 49)
	for i := range parts {
		parts[i] = fmt.Sprintf("Sentence number %03d is here today.", i)
	}
	text := strings.Join(parts, " ")

	cfg := ChunkConfig{ChunkSize: 1000, ChunkOverlap: 0, MinChunkSize: 100}
	chunks := p.ChunkText("doc-1", text, domain.ChunkMetadata{}, cfg)
	require.GreaterOrEqual(t, len(chunks), 2)

	assert.Equal(t, 0, overlapLength(chunks[0].Content, chunks[1].Content))
}

func TestSplitSentences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{
			name: "terminal punctuation",
			in:   "First one. Second one! Third one?",
			want: []string{"First one.", "Second one!", "Third one?"},
		},
		{
			name: "newlines terminate segments",
			in:   "A heading\nbody text here.",
			want: []string{"A heading", "body text here."},
		},
		{
			name: "trailing fragment kept",
			in:   "Complete. Incomplete trailing",
			want: []string{"Complete.", "Incomplete trailing"},
		},
		{
			name: "empty",
			in:   "",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, splitSentences(tt.in))
		})
	}
}

func TestDefaultChunkConfig(t *testing.T) {
	cfg := DefaultChunkConfig()
	assert.Equal(t, 1000, cfg.ChunkSize)
	assert.Equal(t, 200, cfg.ChunkOverlap)
	assert.Equal(t, 100, cfg.MinChunkSize)
}
