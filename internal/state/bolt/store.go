package bolt

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/indo-san/WKWebView/internal/state"
)

const snapshotsBucket = "abp-state"

// Store keeps snapshots in a single bbolt bucket.
type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("bolt: create dir: %w", err)
	}

	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("bolt: open: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(snapshotsBucket))

		return err
	})
	if err != nil {
		db.Close()

		return nil, fmt.Errorf("bolt: create bucket: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Save(key string, blob []byte) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(snapshotsBucket)).Put([]byte(key), blob)
	})
	if err != nil {
		return fmt.Errorf("bolt: save %s: %w", key, err)
	}

	return nil
}

func (s *Store) Load(key string) ([]byte, error) {
	var blob []byte

	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket([]byte(snapshotsBucket)).Get([]byte(key)); v != nil {
			blob = append([]byte{}, v...)
		}

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("bolt: load %s: %w", key, err)
	}

	if blob == nil {
		return nil, state.ErrNotFound
	}

	return blob, nil
}

func (s *Store) Clear(key string) error {
	err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(snapshotsBucket)).Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("bolt: clear %s: %w", key, err)
	}

	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
