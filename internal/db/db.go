// Package db opens the SQLite database behind the local memory store.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// Every connection opened by this process gets the vec0 module.
	vec.Auto()
}

// DefaultEmbeddingDimension matches nomic-embed-text, the default Ollama
// embedding model. text-embedding-3-small produces 1536.
const DefaultEmbeddingDimension = 768

// DB wraps a *sql.DB and records whether vector search is available.
type DB struct {
	conn      *sql.DB
	vectors   bool
	rebuilt   bool
	dimension int
}

// Open opens (or creates) the SQLite database at path and applies migrations.
// dimension sizes the vector table; zero selects DefaultEmbeddingDimension.
func Open(path string, dimension int) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("db: create directory: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("db: resolve path: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", absPath)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite: %w", err)
	}

	// Single writer, multiple readers.
	conn.SetMaxOpenConns(1)

	if err := applyMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: apply migrations: %w", err)
	}

	if dimension <= 0 {
		dimension = DefaultEmbeddingDimension
	}
	d := &DB{conn: conn, dimension: dimension}
	// Without sqlite-vec the store falls back to keyword search.
	rebuilt, err := applyVectorTables(conn, dimension)
	d.vectors = err == nil
	d.rebuilt = rebuilt

	return d, nil
}

// Conn returns the underlying *sql.DB.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// VectorsEnabled reports whether the vec0 table was created.
func (d *DB) VectorsEnabled() bool {
	return d.vectors
}

// VectorsRebuilt reports whether Open replaced an outdated vector table, in
// which case stored memories have no embeddings until they are reindexed.
func (d *DB) VectorsRebuilt() bool {
	return d.rebuilt
}

// Dimension is the embedding width of the vector table.
func (d *DB) Dimension() int {
	return d.dimension
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Ping checks the connection is live.
func (d *DB) Ping() error {
	return d.conn.Ping()
}
