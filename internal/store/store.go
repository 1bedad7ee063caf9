// Package store persists harness run history in DuckDB.
package store

import (
	"database/sql"

	_ "github.com/duckdb/duckdb-go/v2"
)

// NewDB opens a DuckDB database at the given path. ":memory:" (or the
// empty string) yields an in-memory database.
func NewDB(path string) (*sql.DB, error) {
	if path == ":memory:" {
		path = ""
	}
	return sql.Open("duckdb", path)
}

// Store provides access to all storage repositories.
type Store struct {
	db   *sql.DB
	runs *RunStore
}

func NewStore(db *sql.DB) *Store {
	return &Store{
		db:   db,
		runs: NewRunStore(db),
	}
}

func (s *Store) Runs() *RunStore {
	return s.runs
}

func (s *Store) Close() error {
	return s.db.Close()
}
