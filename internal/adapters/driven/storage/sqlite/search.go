package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"sort"

	"github.com/viant/sqlite-vec/vec"

	"github.com/custodia-labs/ragcore/internal/core/domain"
)

// datasetID is the single dataset all chunks live in. The vec virtual table
// requires a dataset constraint on every MATCH.
const datasetID = "corpus"

// similaritySearch is the strategy behind SearchSimilar. One implementation
// is selected by a capability probe at store construction and holds for the
// life of the store: the vec virtual table when it loads, the exact cosine
// scan otherwise. Both report scores on the canonical [0,1] scale.
type similaritySearch interface {
	search(ctx context.Context, queryEmbedding []float32, topK int, documentID string) ([]domain.RetrievalResult, error)

	// addToIndex mirrors embeddings into the index inside the write
	// transaction. A no-op for the scan strategy.
	addToIndex(ctx context.Context, tx *sql.Tx, chunks []domain.DocumentChunk) error

	// removeDocument drops a document's index entries inside the delete
	// transaction. A no-op for the scan strategy.
	removeDocument(ctx context.Context, tx *sql.Tx, documentID string) error

	name() string
}

// indexSearch answers queries through the vec virtual table. Embeddings are
// mirrored into its shadow table; the extension maintains a persisted
// in-memory index per dataset and invalidates it on shadow writes.
type indexSearch struct {
	db *sql.DB
}

// newIndexSearch probes for the vec virtual table. Any failure here means
// the store falls back to the exact scan.
func newIndexSearch(db *sql.DB) (*indexSearch, error) {
	if err := vec.Register(db); err != nil {
		return nil, fmt.Errorf("registering vec module: %w", err)
	}

	if _, err := db.Exec(`CREATE VIRTUAL TABLE IF NOT EXISTS chunk_vectors USING vec(chunk_id)`); err != nil {
		return nil, fmt.Errorf("creating virtual table: %w", err)
	}

	// First MATCH creates the shadow table, its invalidation triggers, and
	// the index storage.
	rows, err := db.Query(`SELECT rowid FROM chunk_vectors WHERE dataset_id = ? AND chunk_id MATCH ?`,
		datasetID, "[0.0]")
	if err != nil {
		return nil, fmt.Errorf("probing virtual table: %w", err)
	}
	rows.Close()

	return &indexSearch{db: db}, nil
}

func (i *indexSearch) name() string { return "vec index" }

func (i *indexSearch) search(ctx context.Context, queryEmbedding []float32, topK int, documentID string) ([]domain.RetrievalResult, error) {
	query := `
		SELECT c.id, c.document_id, c.chunk_index, c.content, c.metadata, c.embedding, v.match_score
		FROM chunk_vectors v
		JOIN chunks c ON c.id = v.chunk_id
		WHERE v.dataset_id = ? AND v.chunk_id MATCH ?`
	args := []any{datasetID, float32SliceToBytes(queryEmbedding)}

	if documentID != "" {
		query += ` AND c.document_id = ?`
		args = append(args, documentID)
	}
	// Secondary rowid key keeps ties in insertion order, matching the scan
	// strategy's stable sort.
	query += ` ORDER BY v.match_score DESC, c.rowid LIMIT ?`
	args = append(args, topK)

	rows, err := i.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying vector index: %w", err)
	}
	defer rows.Close()

	var results []domain.RetrievalResult //nolint:prealloc // size unknown from query
	for rows.Next() {
		var chunk domain.DocumentChunk
		var metadataJSON string
		var embeddingBlob []byte
		var score float64

		if err := rows.Scan(&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex,
			&chunk.Content, &metadataJSON, &embeddingBlob, &score); err != nil {
			return nil, fmt.Errorf("scanning result: %w", err)
		}
		if err := unmarshalChunkMetadata(metadataJSON, &chunk); err != nil {
			return nil, err
		}
		chunk.Embedding = bytesToFloat32Slice(embeddingBlob)

		score = clamp01(score)
		results = append(results, domain.RetrievalResult{
			Chunk:    chunk,
			Score:    score,
			Distance: 1 - score,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating results: %w", err)
	}

	return results, nil
}

func (i *indexSearch) addToIndex(ctx context.Context, tx *sql.Tx, chunks []domain.DocumentChunk) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO _vec_chunk_vectors (dataset_id, id, content, meta, embedding)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(dataset_id, id) DO UPDATE SET
			content = excluded.content,
			meta = excluded.meta,
			embedding = excluded.embedding
	`)
	if err != nil {
		return fmt.Errorf("preparing index statement: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		// meta carries the document id so deletes can find entries.
		if _, err := stmt.ExecContext(ctx, datasetID, chunk.ID, chunk.Content,
			chunk.DocumentID, float32SliceToBytes(chunk.Embedding)); err != nil {
			return fmt.Errorf("indexing chunk %s: %w", chunk.ID, err)
		}
	}

	return nil
}

func (i *indexSearch) removeDocument(ctx context.Context, tx *sql.Tx, documentID string) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM _vec_chunk_vectors WHERE dataset_id = ? AND meta = ?`,
		datasetID, documentID)
	if err != nil {
		return fmt.Errorf("deleting index entries: %w", err)
	}
	return nil
}

// scanSearch is the fallback strategy: an exact cosine similarity scan over
// all stored embeddings. Correct at any scale, linear in corpus size.
type scanSearch struct {
	db *sql.DB
}

func (s *scanSearch) name() string { return "exact scan" }

func (s *scanSearch) search(ctx context.Context, queryEmbedding []float32, topK int, documentID string) ([]domain.RetrievalResult, error) {
	query := `
		SELECT id, document_id, chunk_index, content, metadata, embedding
		FROM chunks WHERE embedding IS NOT NULL`
	args := []any{}

	if documentID != "" {
		query += ` AND document_id = ?`
		args = append(args, documentID)
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var results []domain.RetrievalResult //nolint:prealloc // size unknown from query
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		if len(chunk.Embedding) != len(queryEmbedding) {
			continue
		}

		score := clamp01(cosineSimilarity(queryEmbedding, chunk.Embedding))
		results = append(results, domain.RetrievalResult{
			Chunk:    *chunk,
			Score:    score,
			Distance: 1 - score,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	// Stable sort keeps insertion order among ties.
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].Score > results[b].Score
	})
	if len(results) > topK {
		results = results[:topK]
	}

	return results, nil
}

func (s *scanSearch) addToIndex(_ context.Context, _ *sql.Tx, _ []domain.DocumentChunk) error {
	return nil
}

func (s *scanSearch) removeDocument(_ context.Context, _ *sql.Tx, _ string) error {
	return nil
}

// cosineSimilarity computes the cosine of the angle between two equal-length
// vectors, in [-1,1]. Zero-magnitude vectors score 0.
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

// clamp01 maps a raw similarity onto the canonical [0,1] scale.
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
