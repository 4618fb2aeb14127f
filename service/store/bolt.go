package store

import (
	"context"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"
)

var bucketSession = []byte("session")

// BoltStore is a Backend on a local BoltDB file.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if needed) the BoltDB file at path.
func NewBoltStore(path string, options *bolt.Options) (*BoltStore, error) {
	if options == nil {
		options = &bolt.Options{Timeout: time.Second}
	} else if options.Timeout == 0 {
		options.Timeout = time.Second
	}
	db, err := bolt.Open(path, 0o600, options)
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSession)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create session bucket: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Get implements Backend.
func (s *BoltStore) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		value := tx.Bucket(bucketSession).Get([]byte(key))
		if value == nil {
			return ErrNotFound
		}
		// values are only valid for the life of the transaction
		out = append([]byte(nil), value...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Put implements Backend.
func (s *BoltStore) Put(_ context.Context, key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSession).Put([]byte(key), value)
	})
}

// Delete implements Backend. Deleting a missing key is not an error.
func (s *BoltStore) Delete(_ context.Context, key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSession).Delete([]byte(key))
	})
}

// Close implements Backend.
func (s *BoltStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
