package store

import (
	"fmt"

	bolt "go.etcd.io/bbolt"
)

var bucketMonitors = []byte("monitors")

// Store is the durable symbol -> snapshot map. Writes happen after every
// monitor run; a failed write is the caller's to log, never to die on.
type Store struct {
	db *bolt.DB
}

func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, fmt.Errorf("open state db %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketMonitors)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create state bucket: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Put(symbol string, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMonitors).Put([]byte(symbol), data)
	})
}

// Get returns the stored snapshot for symbol, or nil if none exists.
func (s *Store) Get(symbol string) ([]byte, error) {
	var data []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		if v := tx.Bucket(bucketMonitors).Get([]byte(symbol)); v != nil {
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
