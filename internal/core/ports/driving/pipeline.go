package driving

import (
	"context"

	"github.com/custodia-labs/ragcore/internal/core/domain"
)

// Pipeline is the surface this core exposes to downstream consumers.
// It is stateless per call; the surrounding assessment workflow owns any
// approval gates.
type Pipeline interface {
	// IngestFile extracts, chunks, embeds, and persists a local file.
	IngestFile(ctx context.Context, path string) (*domain.IngestResult, error)

	// IngestURL does the same for a remote URL.
	IngestURL(ctx context.Context, url string) (*domain.IngestResult, error)

	// IngestDirectory ingests every supported file under dir, one at a
	// time, continuing past per-file failures. Each document is still
	// persisted all-or-nothing.
	IngestDirectory(ctx context.Context, dir string) ([]*domain.IngestResult, error)

	// Query answers a question with evidence-traced claims grounded in the
	// stored corpus.
	Query(ctx context.Context, question string, opts domain.QueryOptions) (*domain.QueryResult, error)

	// DeleteDocument removes a document and all of its chunks.
	DeleteDocument(ctx context.Context, documentID string) error

	// DocumentStats summarises a stored document.
	DocumentStats(ctx context.Context, documentID string) (*domain.DocumentStats, error)

	// DocumentChunks returns a document's chunks in order.
	DocumentChunks(ctx context.Context, documentID string) ([]domain.DocumentChunk, error)
}
