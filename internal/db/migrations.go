package db

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// migrations is an ordered list of SQL statements, each applied once.
// New migrations are appended at the end.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS memories (
		id          TEXT PRIMARY KEY,
		text        TEXT NOT NULL,
		memory_type TEXT NOT NULL,
		topics      TEXT NOT NULL DEFAULT '[]',
		entities    TEXT NOT NULL DEFAULT '[]',
		namespace   TEXT NOT NULL DEFAULT '',
		user_id     TEXT NOT NULL DEFAULT '',
		session_id  TEXT NOT NULL DEFAULT '',
		source_ref  TEXT NOT NULL DEFAULT '',
		created_at  DATETIME NOT NULL,
		updated_at  DATETIME DEFAULT CURRENT_TIMESTAMP
	)`,

	`CREATE INDEX IF NOT EXISTS idx_memories_namespace ON memories(namespace)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_type      ON memories(memory_type)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_source    ON memories(source_ref)`,

	`CREATE TABLE IF NOT EXISTS sync_runs (
		run_id      TEXT PRIMARY KEY,
		ref         TEXT NOT NULL,
		mode        TEXT NOT NULL,
		synced      INTEGER NOT NULL DEFAULT 0,
		skipped     INTEGER NOT NULL DEFAULT 0,
		failed      INTEGER NOT NULL DEFAULT 0,
		records     INTEGER NOT NULL DEFAULT 0,
		started_at  DATETIME NOT NULL,
		finished_at DATETIME
	)`,

	`CREATE INDEX IF NOT EXISTS idx_sync_runs_started ON sync_runs(started_at DESC)`,
}

// applyMigrations runs any migrations that have not yet been applied.
func applyMigrations(conn *sql.DB) error {
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for i, stmt := range migrations {
		var count int
		row := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, i)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", i, err)
		}
		if count > 0 {
			continue
		}

		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i, err)
		}

		if _, err := conn.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, i); err != nil {
			return fmt.Errorf("record migration %d: %w", i, err)
		}
	}

	return nil
}

// applyVectorTables creates the sqlite-vec virtual table for memory
// embeddings. Distances are cosine so the search floor means the same thing
// as on the AMS backend. A table left by an older build with the default L2
// metric is dropped and recreated; rebuilt reports that its vectors are gone.
func applyVectorTables(conn *sql.DB, dimension int) (rebuilt bool, err error) {
	var existing string
	err = conn.QueryRow(`SELECT sql FROM sqlite_master WHERE name = 'vec_memories'`).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return false, fmt.Errorf("inspect vector table: %w", err)
	case !strings.Contains(existing, "distance_metric=cosine"):
		if _, err := conn.Exec(`DROP TABLE vec_memories`); err != nil {
			return false, fmt.Errorf("drop L2 vector table: %w", err)
		}
		rebuilt = true
	}

	stmt := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS vec_memories USING vec0(
		id TEXT PRIMARY KEY,
		embedding float[%d] distance_metric=cosine
	)`, dimension)
	if _, err := conn.Exec(stmt); err != nil {
		return false, fmt.Errorf("create vector table: %w", err)
	}
	return rebuilt, nil
}
