package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/custodia-labs/ragcore/internal/adapters/driven/storage/sqlite/migrations"
	"github.com/custodia-labs/ragcore/internal/core/domain"
	"github.com/custodia-labs/ragcore/internal/core/ports/driven"
	"github.com/custodia-labs/ragcore/internal/logger"
)

var _ driven.ChunkStore = (*Store)(nil)

// Store is a SQLite-backed chunk store. Similarity search runs through one
// of two strategies chosen once at construction: the vec virtual table when
// the extension loads, or an exact cosine scan over the chunks table.
type Store struct {
	db     *sql.DB
	path   string
	search similaritySearch
}

// NewStore creates a SQLite store under the specified data directory.
// If dataDir is empty, defaults to ~/.ragcore/data/ragcore.db.
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home directory: %w", err)
		}
		dataDir = filepath.Join(home, ".ragcore", "data")
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "ragcore.db")

	// Open database with WAL mode for better concurrency
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	s := &Store{
		db:   db,
		path: dbPath,
	}

	if err := s.migrate(migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	// Capability probe runs once; the chosen strategy holds for the life
	// of the store.
	if search, err := newIndexSearch(db); err != nil {
		logger.Warn("vector index unavailable, using exact scan: %v", err)
		s.search = &scanSearch{db: db}
	} else {
		s.search = search
	}
	logger.Debug("similarity search strategy: %s", s.search.name())

	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Accelerated reports whether the vector index strategy is active.
func (s *Store) Accelerated() bool {
	_, ok := s.search.(*indexSearch)
	return ok
}

func (s *Store) migrate(fsys embed.FS) error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	var currentVersion int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations")
	if err := row.Scan(&currentVersion); err != nil {
		return fmt.Errorf("getting current version: %w", err)
	}

	entries, err := fs.ReadDir(fsys, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	var upFiles []string
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasSuffix(name, ".up.sql") {
			upFiles = append(upFiles, name)
		}
	}
	sort.Strings(upFiles)

	for _, name := range upFiles {
		var version int
		if _, err := fmt.Sscanf(name, "%d_", &version); err != nil {
			continue
		}

		if version <= currentVersion {
			continue
		}

		content, err := fs.ReadFile(fsys, name)
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", name, err)
		}

		if _, err := s.db.Exec(string(content)); err != nil {
			return fmt.Errorf("executing migration %s: %w", name, err)
		}

		if _, err := s.db.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("recording migration %s: %w", name, err)
		}
	}

	return nil
}

// AddChunks upserts a set of chunks and their document row in one
// transaction. All chunks must belong to the same document; the embeddings
// are mirrored into the vector index when one is active.
func (s *Store) AddChunks(ctx context.Context, chunks []domain.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	documentID := chunks[0].DocumentID
	for _, c := range chunks {
		if c.DocumentID != documentID {
			return fmt.Errorf("%w: chunks span multiple documents", domain.ErrInvalidInput)
		}
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	meta := chunks[0].Metadata
	pageCount := 0
	for _, c := range chunks {
		if c.Metadata.Page != nil && *c.Metadata.Page > pageCount {
			pageCount = *c.Metadata.Page
		}
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO documents (id, source_kind, source, file_hash, page_count, chunk_count)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			source_kind = excluded.source_kind,
			source = excluded.source,
			file_hash = excluded.file_hash,
			page_count = excluded.page_count,
			chunk_count = excluded.chunk_count
	`, documentID, string(meta.SourceKind), meta.Source, meta.FileHash, pageCount, len(chunks))
	if err != nil {
		return fmt.Errorf("saving document: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, document_id, chunk_index, content, metadata, embedding)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			document_id = excluded.document_id,
			chunk_index = excluded.chunk_index,
			content = excluded.content,
			metadata = excluded.metadata,
			embedding = excluded.embedding
	`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	for _, chunk := range chunks {
		metadataJSON, err := json.Marshal(chunk.Metadata)
		if err != nil {
			return fmt.Errorf("marshalling chunk metadata: %w", err)
		}

		embeddingBlob := float32SliceToBytes(chunk.Embedding)

		if _, err := stmt.ExecContext(ctx, chunk.ID, chunk.DocumentID, chunk.ChunkIndex,
			chunk.Content, string(metadataJSON), embeddingBlob); err != nil {
			return fmt.Errorf("saving chunk: %w", err)
		}
	}

	if err := s.search.addToIndex(ctx, tx, chunks); err != nil {
		return fmt.Errorf("indexing chunks: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// SearchSimilar returns up to topK chunks ordered by descending similarity
// on the canonical [0,1] scale. A non-empty documentID restricts the search
// to that document.
func (s *Store) SearchSimilar(ctx context.Context, queryEmbedding []float32, topK int, documentID string) ([]domain.RetrievalResult, error) {
	if len(queryEmbedding) == 0 {
		return nil, fmt.Errorf("%w: empty query embedding", domain.ErrInvalidInput)
	}
	if topK <= 0 {
		return nil, nil
	}
	return s.search.search(ctx, queryEmbedding, topK, documentID)
}

// GetChunksByDocument retrieves all chunks of a document ordered by index.
func (s *Store) GetChunksByDocument(ctx context.Context, documentID string) ([]domain.DocumentChunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, chunk_index, content, metadata, embedding
		FROM chunks WHERE document_id = ?
		ORDER BY chunk_index
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.DocumentChunk //nolint:prealloc // size unknown from query
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *chunk)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating chunks: %w", err)
	}

	return chunks, nil
}

// DeleteDocument removes a document, its chunks, and its index entries.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := s.search.removeDocument(ctx, tx, documentID); err != nil {
		return fmt.Errorf("removing index entries: %w", err)
	}

	// Chunks cascade from the document row.
	if _, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = ?", documentID); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Stats summarises one stored document.
func (s *Store) Stats(ctx context.Context, documentID string) (*domain.DocumentStats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source_kind, source, file_hash, page_count, chunk_count
		FROM documents WHERE id = ?
	`, documentID)

	stats, err := scanStats(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", documentID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("querying document: %w", err)
	}
	return stats, nil
}

// ListDocuments summarises every stored document.
func (s *Store) ListDocuments(ctx context.Context) ([]domain.DocumentStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_kind, source, file_hash, page_count, chunk_count
		FROM documents ORDER BY created_at
	`)
	if err != nil {
		return nil, fmt.Errorf("querying documents: %w", err)
	}
	defer rows.Close()

	var all []domain.DocumentStats //nolint:prealloc // size unknown from query
	for rows.Next() {
		stats, err := scanStats(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		all = append(all, *stats)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}

	return all, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChunk(row scanner) (*domain.DocumentChunk, error) {
	var chunk domain.DocumentChunk
	var metadataJSON string
	var embeddingBlob []byte

	if err := row.Scan(&chunk.ID, &chunk.DocumentID, &chunk.ChunkIndex,
		&chunk.Content, &metadataJSON, &embeddingBlob); err != nil {
		return nil, fmt.Errorf("scanning chunk: %w", err)
	}

	if err := unmarshalChunkMetadata(metadataJSON, &chunk); err != nil {
		return nil, err
	}
	chunk.Embedding = bytesToFloat32Slice(embeddingBlob)

	return &chunk, nil
}

func unmarshalChunkMetadata(metadataJSON string, chunk *domain.DocumentChunk) error {
	if err := json.Unmarshal([]byte(metadataJSON), &chunk.Metadata); err != nil {
		return fmt.Errorf("unmarshalling chunk metadata: %w", err)
	}
	return nil
}

func scanStats(row scanner) (*domain.DocumentStats, error) {
	var stats domain.DocumentStats
	var kind string

	if err := row.Scan(&stats.DocumentID, &kind, &stats.Source,
		&stats.FileHash, &stats.PageCount, &stats.ChunkCount); err != nil {
		return nil, err
	}
	stats.SourceKind = domain.SourceKind(kind)

	return &stats, nil
}

// float32SliceToBytes converts a []float32 to a little-endian byte slice for
// storage. The same layout is used by the vector index shadow table.
func float32SliceToBytes(floats []float32) []byte {
	if len(floats) == 0 {
		return nil
	}
	b := make([]byte, len(floats)*4)
	for i, f := range floats {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(f))
	}
	return b
}

// bytesToFloat32Slice converts a byte slice back to []float32.
func bytesToFloat32Slice(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	floats := make([]float32, len(data)/4)
	for i := range floats {
		floats[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return floats
}
