package services

import (
	"strings"

	"github.com/google/uuid"

	"github.com/custodia-labs/ragcore/internal/core/domain"
)

// Default chunking parameters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
	DefaultMinChunkSize = 100
)

// charsPerLine is a fixed estimate used to derive line-position hints for
// citations. The hints are for traceability only, never for correctness.
const charsPerLine = 80

// ChunkConfig controls how text is split into chunks.
type ChunkConfig struct {
	// ChunkSize is the soft maximum chunk length in characters. A single
	// sentence longer than this still becomes one oversized chunk;
	// sentences are never split.
	ChunkSize int

	// ChunkOverlap is the target number of characters repeated from the end
	// of one chunk at the start of the next.
	ChunkOverlap int

	// MinChunkSize is the minimum length a buffer must reach before it can
	// be emitted. A trailing buffer below this is dropped.
	MinChunkSize int
}

// DefaultChunkConfig returns the standard chunking parameters.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		ChunkSize:    DefaultChunkSize,
		ChunkOverlap: DefaultChunkOverlap,
		MinChunkSize: DefaultMinChunkSize,
	}
}

// normalised fills zero values with defaults and keeps overlap below size.
func (c ChunkConfig) normalised() ChunkConfig {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.ChunkOverlap < 0 {
		c.ChunkOverlap = 0
	}
	if c.ChunkOverlap >= c.ChunkSize {
		c.ChunkOverlap = c.ChunkSize / 4
	}
	if c.MinChunkSize <= 0 {
		c.MinChunkSize = DefaultMinChunkSize
	}
	return c
}

// DocumentProcessor splits extracted text into overlapping, size-bounded
// chunks with location metadata.
type DocumentProcessor struct{}

// NewDocumentProcessor creates a new document processor.
func NewDocumentProcessor() *DocumentProcessor {
	return &DocumentProcessor{}
}

// ChunkText splits text into sentence-preserving chunks. Sentences are
// accumulated greedily; when appending the next sentence would push the
// buffer past ChunkSize and the buffer already exceeds MinChunkSize, the
// buffer is emitted and the next one is seeded with an overlap suffix of
// trailing words sized proportionally to ChunkOverlap/ChunkSize. The trailing
// buffer is emitted only if it reaches MinChunkSize. TotalChunks is
// backfilled uniformly once the count is known.
func (p *DocumentProcessor) ChunkText(
	documentID, text string, base domain.ChunkMetadata, cfg ChunkConfig,
) []domain.DocumentChunk {
	cfg = cfg.normalised()

	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return nil
	}

	var chunks []domain.DocumentChunk

	emit := func(content string, startOffset int) {
		meta := base
		meta.ChunkSize = cfg.ChunkSize
		lineStart := startOffset/charsPerLine + 1
		lineEnd := (startOffset+len(content))/charsPerLine + 1
		meta.LineStart = &lineStart
		meta.LineEnd = &lineEnd

		chunks = append(chunks, domain.DocumentChunk{
			ID:         uuid.New().String(),
			DocumentID: documentID,
			ChunkIndex: len(chunks),
			Content:    content,
			Metadata:   meta,
		})
	}

	var (
		buf        []string
		bufLen     int
		chunkStart int // estimated char offset where the buffer begins
		offset     int // estimated chars consumed from the input
	)

	for _, sentence := range sentences {
		sep := 0
		if bufLen > 0 {
			sep = 1
		}

		if bufLen+sep+len(sentence) > cfg.ChunkSize && bufLen > cfg.MinChunkSize {
			content := strings.Join(buf, " ")
			emit(content, chunkStart)

			seed := overlapSuffix(content, cfg)
			buf = buf[:0]
			bufLen = 0
			if seed != "" {
				buf = append(buf, seed)
				bufLen = len(seed)
			}
			chunkStart = offset - bufLen
			sep = 0
			if bufLen > 0 {
				sep = 1
			}
		}

		buf = append(buf, sentence)
		bufLen += sep + len(sentence)
		offset += len(sentence) + 1
	}

	if bufLen >= cfg.MinChunkSize {
		emit(strings.Join(buf, " "), chunkStart)
	}

	for i := range chunks {
		chunks[i].Metadata.TotalChunks = len(chunks)
	}

	return chunks
}

// overlapSuffix returns the trailing words of content that seed the next
// chunk. The word count is proportional to ChunkOverlap/ChunkSize.
func overlapSuffix(content string, cfg ChunkConfig) string {
	if cfg.ChunkOverlap <= 0 {
		return ""
	}

	words := strings.Fields(content)
	n := len(words) * cfg.ChunkOverlap / cfg.ChunkSize
	if n <= 0 {
		return ""
	}
	if n > len(words) {
		n = len(words)
	}

	return strings.Join(words[len(words)-n:], " ")
}

// splitSentences segments text into sentence units on terminal punctuation,
// discarding empty segments. Newlines also terminate a segment so headings
// and list items become their own units.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	for _, r := range text {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if s := strings.TrimSpace(current.String()); s != "" {
				sentences = append(sentences, s)
			}
			current.Reset()
		}
	}

	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}

	return sentences
}
