package domain

// SourceKind identifies where a document came from.
type SourceKind string

const (
	SourceFile SourceKind = "file"
	SourceURL  SourceKind = "url"
)

// ChunkMetadata carries the location and provenance information attached to
// every chunk. Position fields are pointers so that absent values are
// distinguishable from zero.
type ChunkMetadata struct {
	SourceKind  SourceKind `json:"sourceKind"`
	Source      string     `json:"source"`
	Page        *int       `json:"page,omitempty"`
	LineStart   *int       `json:"lineStart,omitempty"`
	LineEnd     *int       `json:"lineEnd,omitempty"`
	Section     string     `json:"section,omitempty"`
	Table       string     `json:"table,omitempty"`
	FileHash    string     `json:"fileHash,omitempty"`
	ChunkSize   int        `json:"chunkSize"`
	TotalChunks int        `json:"totalChunks"`
}

// DocumentChunk is a contiguous piece of an ingested document. The embedding
// is populated after the chunk text has been embedded; it is empty on chunks
// that have only been split.
type DocumentChunk struct {
	ID         string
	DocumentID string
	ChunkIndex int
	Content    string
	Metadata   ChunkMetadata
	Embedding  []float32
}

// RetrievalResult pairs a chunk with its similarity to a query. Score is on
// the canonical [0,1] scale where 1 is an exact match; Distance is 1 - Score.
type RetrievalResult struct {
	Chunk    DocumentChunk
	Score    float64
	Distance float64
}

// DocumentStats summarises a stored document.
type DocumentStats struct {
	DocumentID string
	Source     string
	SourceKind SourceKind
	FileHash   string
	ChunkCount int
	PageCount  int
}
