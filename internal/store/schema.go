package store

import (
	"database/sql"
	"fmt"
)

// configurePragmas sets the WAL-mode pragmas that give the store its
// single-writer/many-reader concurrency contract, lifted from the
// teacher's internal/db.configurePragmas.
func configurePragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=30000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("execute %s: %w", p, err)
		}
	}
	return nil
}

// createTables creates the four tables spec.md §6 names (the documents
// table and the three parallel vector tables keyed by the same id), plus a
// meta table recording the dimension the database was created with.
func createTables(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			content    TEXT NOT NULL,
			metadata   TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vec_full_docs (
			id        TEXT PRIMARY KEY REFERENCES documents(id),
			embedding BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vec_short_docs (
			id        TEXT PRIMARY KEY REFERENCES documents(id),
			embedding BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS vec_bit_docs (
			id        TEXT PRIMARY KEY REFERENCES documents(id),
			embedding BLOB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS meta (
			key   TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}
	return nil
}
