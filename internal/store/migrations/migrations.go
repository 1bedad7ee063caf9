// Package migrations creates and versions the harness's local tables.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// Each entry is one migration; its version is its index plus one. Entries
// are append-only.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS runs (
		id VARCHAR PRIMARY KEY,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		total INTEGER NOT NULL,
		passed INTEGER NOT NULL,
		failed INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS case_results (
		run_id VARCHAR NOT NULL,
		name VARCHAR NOT NULL,
		status VARCHAR NOT NULL,
		error VARCHAR DEFAULT '',
		duration_ms BIGINT NOT NULL DEFAULT 0
	)`,
}

// Run applies all pending migrations. Idempotent: applied versions are
// recorded in schema_migrations and skipped on subsequent runs.
func Run(ctx context.Context, db *sql.DB) error {
	_, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (version INTEGER PRIMARY KEY)`)
	if err != nil {
		return fmt.Errorf("failed to create schema_migrations: %w", err)
	}

	applied := map[int]bool{}
	rows, err := db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return err
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}

	for i, ddl := range migrations {
		version := i + 1
		if applied[version] {
			continue
		}
		if _, err := db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("migration %d failed: %w", version, err)
		}
		if _, err := db.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, version); err != nil {
			return fmt.Errorf("failed to record migration %d: %w", version, err)
		}
	}
	return nil
}
