// Package memory provides an in-memory ChunkStore for ephemeral corpora and
// tests. Search is always an exact cosine scan.
package memory

import (
	"context"
	"math"
	"sort"
	"sync"

	"github.com/custodia-labs/ragcore/internal/core/domain"
	"github.com/custodia-labs/ragcore/internal/core/ports/driven"
)

// Ensure ChunkStore implements the interface.
var _ driven.ChunkStore = (*ChunkStore)(nil)

// ChunkStore is an in-memory implementation of driven.ChunkStore.
type ChunkStore struct {
	mu     sync.RWMutex
	chunks map[string][]domain.DocumentChunk // by document ID
	order  []string                          // document insertion order
}

// NewChunkStore creates a new in-memory chunk store.
func NewChunkStore() *ChunkStore {
	return &ChunkStore{
		chunks: make(map[string][]domain.DocumentChunk),
	}
}

// AddChunks stores a document's chunks, replacing any previous set.
func (s *ChunkStore) AddChunks(_ context.Context, chunks []domain.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	documentID := chunks[0].DocumentID
	for _, c := range chunks {
		if c.DocumentID != documentID {
			return domain.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.chunks[documentID]; !exists {
		s.order = append(s.order, documentID)
	}

	stored := make([]domain.DocumentChunk, len(chunks))
	copy(stored, chunks)
	sort.SliceStable(stored, func(a, b int) bool {
		return stored[a].ChunkIndex < stored[b].ChunkIndex
	})
	s.chunks[documentID] = stored

	return nil
}

// SearchSimilar scans all embeddings and returns the topK by cosine
// similarity on the canonical [0,1] scale.
func (s *ChunkStore) SearchSimilar(_ context.Context, queryEmbedding []float32, topK int, documentID string) ([]domain.RetrievalResult, error) {
	if len(queryEmbedding) == 0 {
		return nil, domain.ErrInvalidInput
	}
	if topK <= 0 {
		return nil, nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []domain.RetrievalResult
	for _, docID := range s.order {
		if documentID != "" && docID != documentID {
			continue
		}
		for _, chunk := range s.chunks[docID] {
			if len(chunk.Embedding) != len(queryEmbedding) {
				continue
			}
			score := cosineSimilarity(queryEmbedding, chunk.Embedding)
			if score < 0 {
				score = 0
			} else if score > 1 {
				score = 1
			}
			results = append(results, domain.RetrievalResult{
				Chunk:    chunk,
				Score:    score,
				Distance: 1 - score,
			})
		}
	}

	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

// GetChunksByDocument retrieves a document's chunks in index order.
func (s *ChunkStore) GetChunksByDocument(_ context.Context, documentID string) ([]domain.DocumentChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks, ok := s.chunks[documentID]
	if !ok {
		return nil, nil
	}
	out := make([]domain.DocumentChunk, len(chunks))
	copy(out, chunks)
	return out, nil
}

// DeleteDocument removes a document and all of its chunks.
func (s *ChunkStore) DeleteDocument(_ context.Context, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.chunks, documentID)
	for i, id := range s.order {
		if id == documentID {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Stats summarises one stored document.
func (s *ChunkStore) Stats(_ context.Context, documentID string) (*domain.DocumentStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	chunks, ok := s.chunks[documentID]
	if !ok || len(chunks) == 0 {
		return nil, domain.ErrNotFound
	}
	return statsFor(documentID, chunks), nil
}

// ListDocuments summarises every stored document in insertion order.
func (s *ChunkStore) ListDocuments(_ context.Context) ([]domain.DocumentStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]domain.DocumentStats, 0, len(s.order))
	for _, docID := range s.order {
		if chunks := s.chunks[docID]; len(chunks) > 0 {
			all = append(all, *statsFor(docID, chunks))
		}
	}
	return all, nil
}

// Close is a no-op.
func (s *ChunkStore) Close() error {
	return nil
}

func statsFor(documentID string, chunks []domain.DocumentChunk) *domain.DocumentStats {
	meta := chunks[0].Metadata
	pageCount := 0
	for _, c := range chunks {
		if c.Metadata.Page != nil && *c.Metadata.Page > pageCount {
			pageCount = *c.Metadata.Page
		}
	}
	return &domain.DocumentStats{
		DocumentID: documentID,
		Source:     meta.Source,
		SourceKind: meta.SourceKind,
		FileHash:   meta.FileHash,
		ChunkCount: len(chunks),
		PageCount:  pageCount,
	}
}

func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
