package domain

import "errors"

// Domain errors represent business logic failures.
// These are distinct from infrastructure errors.
var (
	// ErrNotFound indicates a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates malformed or invalid input.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedFormat indicates the extractor does not recognise the
	// input. Fatal; surfaced to the caller.
	ErrUnsupportedFormat = errors.New("unsupported document format")

	// ErrEmbeddingFailed indicates an embedding call failed. Aborts the
	// current ingestion or query; nothing is partially persisted.
	ErrEmbeddingFailed = errors.New("embedding failed")

	// ErrInvalidResponse indicates a generated payload violated the
	// evidence-traced schema. Never surfaced past the generation client;
	// attempts are retried and then degrade.
	ErrInvalidResponse = errors.New("invalid evidence-traced response")

	// ErrEmbeddingUnavailable indicates the embedding service is not
	// configured. Ingestion and query both require embeddings.
	ErrEmbeddingUnavailable = errors.New("embedding service unavailable")

	// ErrLLMUnavailable indicates the generative service is not configured.
	ErrLLMUnavailable = errors.New("LLM service unavailable")
)
