package receipt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.etcd.io/bbolt"
)

const bucketName = "receipts"

// ErrNotFound is returned when a receipt does not exist for the owner
var ErrNotFound = errors.New("receipt not found")

// DB defines the interface for receipt persistence. Every receipt belongs to an owner.
type DB interface {
	// SaveReceipt stores a receipt, assigning an ID when it has none, and returns the ID
	SaveReceipt(ctx context.Context, owner string, record *Record) (string, error)

	// GetReceipt retrieves a receipt by ID
	GetReceipt(ctx context.Context, owner, id string) (*Record, error)

	// ListReceipts returns the owner's receipts, newest first
	ListReceipts(ctx context.Context, owner string) ([]*Record, error)

	// DeleteReceipt removes a receipt
	DeleteReceipt(ctx context.Context, owner, id string) error

	// Close closes the database connection
	Close() error
}

// BoltDB implements the DB interface using BoltDB, with one nested bucket per owner
type BoltDB struct {
	db *bbolt.DB
}

// NewBoltDB creates a new BoltDB instance
func NewBoltDB(path string) (*BoltDB, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(bucketName))
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltDB{db: db}, nil
}

// ownerBucket returns the owner's bucket, or nil if the owner has no receipts yet
func ownerBucket(tx *bbolt.Tx, owner string) *bbolt.Bucket {
	return tx.Bucket([]byte(bucketName)).Bucket([]byte(owner))
}

// SaveReceipt saves a receipt to the database
func (b *BoltDB) SaveReceipt(_ context.Context, owner string, record *Record) (string, error) {
	if owner == "" {
		return "", fmt.Errorf("owner is required")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}

	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.Bucket([]byte(bucketName)).CreateBucketIfNotExists([]byte(owner))
		if err != nil {
			return fmt.Errorf("creating owner bucket: %w", err)
		}
		data, err := json.Marshal(record)
		if err != nil {
			return fmt.Errorf("marshaling receipt: %w", err)
		}
		return bucket.Put([]byte(record.ID), data)
	})
	if err != nil {
		return "", err
	}
	return record.ID, nil
}

// GetReceipt retrieves a receipt by ID
func (b *BoltDB) GetReceipt(_ context.Context, owner, id string) (*Record, error) {
	var record *Record
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := ownerBucket(tx, owner)
		if bucket == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		data := bucket.Get([]byte(id))
		if data == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return json.Unmarshal(data, &record)
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// ListReceipts returns all receipts for the owner
func (b *BoltDB) ListReceipts(_ context.Context, owner string) ([]*Record, error) {
	records := make([]*Record, 0)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := ownerBucket(tx, owner)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var record Record
			if err := json.Unmarshal(v, &record); err != nil {
				return fmt.Errorf("unmarshaling receipt: %w", err)
			}
			records = append(records, &record)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// DeleteReceipt removes a receipt from the database
func (b *BoltDB) DeleteReceipt(_ context.Context, owner, id string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := ownerBucket(tx, owner)
		if bucket == nil || bucket.Get([]byte(id)) == nil {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return bucket.Delete([]byte(id))
	})
}

// Close closes the database connection
func (b *BoltDB) Close() error {
	return b.db.Close()
}
