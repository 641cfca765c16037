package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// Compile-time check that SQLite implements Store.
var _ Store = (*SQLite)(nil)

// SQLite stores slots as rows in a single-table SQLite database. The
// modernc.org/sqlite driver is pure Go, so embedders get durability
// without cgo or an external process.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at path and ensures the slots
// table exists.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}

	// The store is accessed from multiple goroutines; a single connection
	// sidesteps SQLITE_BUSY on concurrent writers.
	db.SetMaxOpenConns(1)

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS slots (
			name       TEXT PRIMARY KEY,
			data       BLOB NOT NULL,
			updated_at TEXT NOT NULL
		)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating slots table: %w", err)
	}

	return &SQLite{db: db}, nil
}

func (s *SQLite) Read(slot string) ([]byte, error) {
	var data []byte
	err := s.db.QueryRow(`SELECT data FROM slots WHERE name = ?`, slot).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrSlotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("reading slot %q: %w", slot, err)
	}

	return data, nil
}

func (s *SQLite) Write(slot string, data []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO slots (name, data, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		slot, data, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("writing slot %q: %w", slot, err)
	}

	return nil
}

func (s *SQLite) Delete(slot string) error {
	if _, err := s.db.Exec(`DELETE FROM slots WHERE name = ?`, slot); err != nil {
		return fmt.Errorf("deleting slot %q: %w", slot, err)
	}

	return nil
}

// Close releases the underlying database handle.
func (s *SQLite) Close() error {
	return s.db.Close()
}
