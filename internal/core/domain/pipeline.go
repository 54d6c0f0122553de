package domain

import "time"

// IngestResult reports what a single document ingestion produced.
type IngestResult struct {
	DocumentID string
	Source     string
	SourceKind SourceKind
	FileHash   string

	// ChunkCount is the number of chunks persisted.
	ChunkCount int

	// EmbeddedCount is the number of chunks that received embeddings.
	// Equal to ChunkCount on success; ingestion is all-or-nothing.
	EmbeddedCount int

	// PageCount is reported by the extractor when the format has pages.
	PageCount int

	// Elapsed is the total wall-clock time of the ingestion.
	Elapsed time.Duration
}

// QueryOptions controls retrieval and generation for one query call.
type QueryOptions struct {
	// TopK is the number of chunks to retrieve (default 12).
	TopK int

	// RerankTopK is the number of chunks kept after reranking (default 6).
	RerankTopK int

	// ConfidenceThreshold is the minimum similarity a retrieved chunk must
	// meet to be eligible as context (default 0.5).
	ConfidenceThreshold float64

	// EnableReranking applies the second-pass relevance scoring (default on).
	EnableReranking bool

	// DocumentID restricts retrieval to a single document when non-empty.
	DocumentID string
}

// DefaultQueryOptions returns the standard query parameters.
func DefaultQueryOptions() QueryOptions {
	return QueryOptions{
		TopK:                12,
		RerankTopK:          6,
		ConfidenceThreshold: 0.5,
		EnableReranking:     true,
	}
}

// QueryTimings breaks a query down by stage.
type QueryTimings struct {
	Retrieval  time.Duration
	Reranking  time.Duration
	Generation time.Duration
	Total      time.Duration
}

// QueryResult is the full outcome of one query: the evidence-traced response
// plus the chunk sets that informed it and per-stage timings.
type QueryResult struct {
	Response *EvidenceTracedResponse

	// Retrieved holds the results that survived the confidence threshold,
	// in retrieval order.
	Retrieved []RetrievalResult

	// Reranked holds the results actually used as context, in the order
	// they were concatenated. Equal to Retrieved when reranking is off.
	Reranked []RetrievalResult

	Timings QueryTimings
}
