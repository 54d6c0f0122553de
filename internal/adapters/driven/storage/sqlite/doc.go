// Package sqlite provides the SQLite-backed implementation of the ChunkStore
// driven port.
//
// This adapter uses modernc.org/sqlite, a pure Go SQLite implementation that
// requires no CGO, enabling easy cross-compilation. Similarity search runs
// through one of two strategies selected by a capability probe when the store
// is constructed:
//
//   - vec index: the viant/sqlite-vec virtual table, backed by a shadow table
//     of embeddings and a persisted in-memory index per dataset
//   - exact scan: a cosine similarity scan over all stored embeddings
//
// Both strategies report scores on the same canonical [0,1] scale, so results
// are interchangeable between deployments.
//
// # Schema
//
// The database schema is managed through versioned migrations stored in the
// migrations/ directory.
//
// # Data Location
//
// By default, the database is stored at ~/.ragcore/data/ragcore.db
//
// # Thread Safety
//
// All operations are thread-safe. The store uses database-level locking
// provided by SQLite in WAL mode.
package sqlite
