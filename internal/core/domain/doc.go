// Package domain contains the core types of the evidence-traced retrieval
// pipeline: document chunks with location metadata, retrieval results on the
// canonical similarity scale, and the claim/evidence response schema.
// It has no dependencies on adapters or infrastructure.
package domain
