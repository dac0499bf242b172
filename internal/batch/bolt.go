package batch

import (
	"fmt"
	"time"

	"go.etcd.io/bbolt"
)

const sessionBucket = "sessions"

// BoltSessionStore keeps one encoded session per owner in a BoltDB file
type BoltSessionStore struct {
	db *bbolt.DB
}

// NewBoltSessionStore opens (or creates) the session database at path
func NewBoltSessionStore(path string) (*BoltSessionStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening session db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(sessionBucket))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating session bucket: %w", err)
	}

	return &BoltSessionStore{db: db}, nil
}

// Load returns the stored bytes for owner, or nil when there are none
func (b *BoltSessionStore) Load(owner string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket([]byte(sessionBucket)).Get([]byte(owner))
		if v != nil {
			// bbolt values are only valid inside the transaction
			data = append([]byte(nil), v...)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("loading session: %w", err)
	}
	return data, nil
}

// Save replaces the owner's session in a single transaction
func (b *BoltSessionStore) Save(owner string, data []byte) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(sessionBucket)).Put([]byte(owner), data)
	})
}

// Delete removes the owner's session. Deleting a missing key is not an error.
func (b *BoltSessionStore) Delete(owner string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(sessionBucket)).Delete([]byte(owner))
	})
}

// Close closes the database
func (b *BoltSessionStore) Close() error {
	return b.db.Close()
}
