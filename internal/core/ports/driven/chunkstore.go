package driven

import (
	"context"

	"github.com/custodia-labs/ragcore/internal/core/domain"
)

// ChunkStore persists embedded document chunks and answers nearest-neighbour
// queries. Backed by SQLite; an accelerated similarity index is used when the
// capability probe at construction finds one, otherwise an exact cosine scan.
//
// Writes are transactional: a chunk set is persisted in full or not at all,
// and deletes cascade over a whole document.
type ChunkStore interface {
	// AddChunks upserts chunk records (content, metadata, embedding) and
	// mirrors embeddings into the similarity index when one is available.
	// All chunks must belong to documents; partial persistence is forbidden.
	AddChunks(ctx context.Context, chunks []domain.DocumentChunk) error

	// SearchSimilar returns up to topK results ordered strictly descending
	// by similarity score on the canonical [0,1] scale, ties broken by
	// insertion order. A non-empty documentID restricts the search.
	SearchSimilar(ctx context.Context, queryEmbedding []float32, topK int, documentID string) ([]domain.RetrievalResult, error)

	// GetChunksByDocument returns a document's chunks ordered by chunk index.
	GetChunksByDocument(ctx context.Context, documentID string) ([]domain.DocumentChunk, error)

	// DeleteDocument removes all chunks and index entries for the document,
	// transactionally. Subsequent lookups return empty.
	DeleteDocument(ctx context.Context, documentID string) error

	// Stats summarises one stored document.
	Stats(ctx context.Context, documentID string) (*domain.DocumentStats, error)

	// ListDocuments summarises every stored document.
	ListDocuments(ctx context.Context) ([]domain.DocumentStats, error)

	// Close releases resources.
	Close() error
}
