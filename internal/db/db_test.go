package db

import (
	"path/filepath"
	"strings"
	"testing"
)

func openTemp(t *testing.T) *DB {
	t.Helper()
	database, err := Open(filepath.Join(t.TempDir(), "nested", "memories.db"), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return database
}

func TestOpen_CreatesDatabase(t *testing.T) {
	database := openTemp(t)
	if err := database.Ping(); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if database.Dimension() != DefaultEmbeddingDimension {
		t.Errorf("Dimension = %d, want %d", database.Dimension(), DefaultEmbeddingDimension)
	}
}

func TestOpen_TablesExist(t *testing.T) {
	database := openTemp(t)
	for _, table := range []string{"memories", "sync_runs", "schema_migrations"} {
		var count int
		err := database.Conn().QueryRow(
			`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table,
		).Scan(&count)
		if err != nil {
			t.Fatalf("query table %q: %v", table, err)
		}
		if count != 1 {
			t.Errorf("table %q not found", table)
		}
	}
}

func TestOpen_MigrationsRecorded(t *testing.T) {
	database := openTemp(t)
	var count int
	if err := database.Conn().QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&count); err != nil {
		t.Fatalf("query migrations: %v", err)
	}
	if count != len(migrations) {
		t.Errorf("expected %d migrations recorded, got %d", len(migrations), count)
	}
}

func TestOpen_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "memories.db")

	db1, err := Open(dbPath, 0)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if _, err := db1.Conn().Exec(
		`INSERT INTO memories (id, text, memory_type, created_at) VALUES ('a', 'x', 'semantic', CURRENT_TIMESTAMP)`,
	); err != nil {
		t.Fatalf("insert: %v", err)
	}
	db1.Close()

	db2, err := Open(dbPath, 0)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer db2.Close()

	var count int
	db2.Conn().QueryRow(`SELECT COUNT(*) FROM memories`).Scan(&count)
	if count != 1 {
		t.Errorf("expected row to survive re-open, got %d", count)
	}
}

func TestOpen_VectorTable(t *testing.T) {
	database := openTemp(t)
	var count int
	database.Conn().QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name='vec_memories'`).Scan(&count)
	if database.VectorsEnabled() != (count == 1) {
		t.Errorf("VectorsEnabled = %v but vec_memories present = %v", database.VectorsEnabled(), count == 1)
	}
}

func TestClose(t *testing.T) {
	database, err := Open(filepath.Join(t.TempDir(), "memories.db"), 0)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := database.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := database.Ping(); err == nil {
		t.Error("expected Ping to fail after Close")
	}
}

func TestOpen_ReplacesL2VectorTable(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "memories.db")
	first, err := Open(dbPath, 4)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if !first.VectorsEnabled() {
		first.Close()
		t.Skip("sqlite-vec not available")
	}
	if first.VectorsRebuilt() {
		t.Error("fresh database should not report a rebuild")
	}
	// Simulate a table created by an older build with the default L2 metric.
	if _, err := first.Conn().Exec(`DROP TABLE vec_memories`); err != nil {
		t.Fatalf("drop: %v", err)
	}
	if _, err := first.Conn().Exec(`CREATE VIRTUAL TABLE vec_memories USING vec0(id TEXT PRIMARY KEY, embedding float[4])`); err != nil {
		t.Fatalf("create L2 table: %v", err)
	}
	first.Close()

	second, err := Open(dbPath, 4)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer second.Close()
	if !second.VectorsRebuilt() {
		t.Error("expected the L2 table to be rebuilt")
	}
	var ddl string
	second.Conn().QueryRow(`SELECT sql FROM sqlite_master WHERE name='vec_memories'`).Scan(&ddl)
	if !strings.Contains(ddl, "distance_metric=cosine") {
		t.Errorf("vector table not cosine: %s", ddl)
	}

	third, err := Open(dbPath, 4)
	if err != nil {
		t.Fatalf("third Open: %v", err)
	}
	defer third.Close()
	if third.VectorsRebuilt() {
		t.Error("cosine table should be kept on re-open")
	}
}
