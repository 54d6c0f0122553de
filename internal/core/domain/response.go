package domain

import (
	"fmt"
	"time"
)

// EvidencePointer cites the exact location in a source document that backs a
// claim. Position fields mirror ChunkMetadata so pointers can be reconciled
// against retrieved chunks.
type EvidencePointer struct {
	SourceKind  SourceKind `json:"sourceKind"`
	Source      string     `json:"sourcePathOrUrl"`
	Page        *int       `json:"page,omitempty"`
	LineStart   *int       `json:"lineStart,omitempty"`
	LineEnd     *int       `json:"lineEnd,omitempty"`
	Section     string     `json:"section,omitempty"`
	Table       string     `json:"table,omitempty"`
	Snippet     string     `json:"snippet,omitempty"`
	Confidence  float64    `json:"confidence"`
	ExtractedAt time.Time  `json:"extractedAt,omitempty"`
	FileHash    string     `json:"fileHash,omitempty"`
}

// Claim is a single assertion backed by one or more evidence pointers.
type Claim struct {
	Text             string            `json:"text"`
	EvidencePointers []EvidencePointer `json:"evidencePointers"`
	GuidelineIDs     []string          `json:"guidelineIds,omitempty"`
	AttributeIDs     []string          `json:"attributeIds,omitempty"`
	Confidence       float64           `json:"confidence"`
}

// EvidenceTracedResponse is the structured answer produced by generation.
// Every claim must carry evidence; gaps name questions the corpus could not
// answer.
type EvidenceTracedResponse struct {
	Claims            []Claim  `json:"claims"`
	Summary           string   `json:"summary"`
	OverallConfidence float64  `json:"overallConfidence"`
	EvidenceGaps      []string `json:"evidenceGaps,omitempty"`
}

// Validate checks the structural invariants of a generated response: every
// claim has non-empty text and at least one evidence pointer, every pointer
// names its source, and all confidences are within [0,1].
func (r *EvidenceTracedResponse) Validate() error {
	if r.OverallConfidence < 0 || r.OverallConfidence > 1 {
		return fmt.Errorf("%w: overall confidence %f out of range", ErrInvalidResponse, r.OverallConfidence)
	}

	for i, claim := range r.Claims {
		if claim.Text == "" {
			return fmt.Errorf("%w: claim %d has empty text", ErrInvalidResponse, i)
		}
		if len(claim.EvidencePointers) == 0 {
			return fmt.Errorf("%w: claim %d has no evidence pointers", ErrInvalidResponse, i)
		}
		if claim.Confidence < 0 || claim.Confidence > 1 {
			return fmt.Errorf("%w: claim %d confidence %f out of range", ErrInvalidResponse, i, claim.Confidence)
		}
		for j, ptr := range claim.EvidencePointers {
			if ptr.Source == "" {
				return fmt.Errorf("%w: claim %d pointer %d has no source", ErrInvalidResponse, i, j)
			}
			if ptr.Confidence < 0 || ptr.Confidence > 1 {
				return fmt.Errorf("%w: claim %d pointer %d confidence %f out of range", ErrInvalidResponse, i, j, ptr.Confidence)
			}
		}
	}

	return nil
}

// DegradedResponse builds the canonical fallback returned when generation
// cannot produce a valid structured answer. It carries no claims and zero
// confidence so callers can always trust the evidence invariant.
func DegradedResponse(summary string, gaps ...string) *EvidenceTracedResponse {
	return &EvidenceTracedResponse{
		Claims:            []Claim{},
		Summary:           summary,
		OverallConfidence: 0,
		EvidenceGaps:      gaps,
	}
}
