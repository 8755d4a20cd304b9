package sqlite

import (
	"database/sql"
	"errors"
	"fmt"

	// Import the SQLite driver.
	_ "github.com/mattn/go-sqlite3"

	"github.com/indo-san/WKWebView/internal/state"
)

// Store keeps snapshots in a single key/blob table.
type Store struct {
	db *sql.DB
}

// Open initializes the SQLite database and creates the snapshots table if it
// doesn't exist.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS snapshots (
		name TEXT PRIMARY KEY,
		blob BLOB NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`)
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("sqlite: create table: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Save(key string, blob []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO snapshots (name, blob, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(name) DO UPDATE SET
			blob = excluded.blob,
			updated_at = CURRENT_TIMESTAMP
	`, key, blob)
	if err != nil {
		return fmt.Errorf("sqlite: save %s: %w", key, err)
	}

	return nil
}

func (s *Store) Load(key string) ([]byte, error) {
	var blob []byte

	err := s.db.QueryRow(`SELECT blob FROM snapshots WHERE name = ?`, key).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, state.ErrNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("sqlite: load %s: %w", key, err)
	}

	return blob, nil
}

func (s *Store) Clear(key string) error {
	if _, err := s.db.Exec(`DELETE FROM snapshots WHERE name = ?`, key); err != nil {
		return fmt.Errorf("sqlite: clear %s: %w", key, err)
	}

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
