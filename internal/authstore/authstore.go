// Package authstore persists API keys in an embedded BoltDB file so the
// middleware's key-to-user mapping survives process restarts, following the
// teacher's bucket-per-collection convention (see
// registry/cmd/registryservice/main.go's ServiceBucket usage) generalized to
// a single string->string table.
package authstore

import (
	"time"

	bolt "go.etcd.io/bbolt"
)

const bucketName = "api_keys"

// Store is a bbolt-backed table of API key -> user id.
type Store struct {
	db *bolt.DB
}

// Open opens (creating if absent) the bucket-backed key store at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	}); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// Put associates an API key with a user id.
func (s *Store) Put(key, userID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Put([]byte(key), []byte(userID))
	})
}

// Delete removes an API key.
func (s *Store) Delete(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket([]byte(bucketName)).Delete([]byte(key))
	})
}

// All returns every key->user mapping, suitable for loading into the
// middleware's in-memory AuthConfig.APIKeys map at startup.
func (s *Store) All() (map[string]string, error) {
	out := make(map[string]string)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(bucketName))
		return b.ForEach(func(k, v []byte) error {
			out[string(k)] = string(v)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
