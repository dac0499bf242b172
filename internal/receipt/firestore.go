package receipt

import (
	"context"
	"fmt"
	"sort"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreDB implements the DB interface on Cloud Firestore.
// Receipts live under users/{owner}/receipts.
type FirestoreDB struct {
	client *firestore.Client
}

// NewFirestoreDB creates a Firestore-backed DB for the given project
func NewFirestoreDB(ctx context.Context, projectID string) (*FirestoreDB, error) {
	if projectID == "" {
		return nil, fmt.Errorf("projectID must be provided to create a firestore client")
	}
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("creating firestore client: %w", err)
	}
	return &FirestoreDB{client: client}, nil
}

func (f *FirestoreDB) receipts(owner string) *firestore.CollectionRef {
	return f.client.Collection("users").Doc(owner).Collection("receipts")
}

// SaveReceipt adds a new document, or overwrites the one with record.ID
func (f *FirestoreDB) SaveReceipt(ctx context.Context, owner string, record *Record) (string, error) {
	if owner == "" {
		return "", fmt.Errorf("owner is required")
	}

	col := f.receipts(owner)
	if record.ID == "" {
		ref, _, err := col.Add(ctx, record)
		if err != nil {
			return "", fmt.Errorf("adding receipt: %w", err)
		}
		record.ID = ref.ID
		return ref.ID, nil
	}

	if _, err := col.Doc(record.ID).Set(ctx, record); err != nil {
		return "", fmt.Errorf("setting receipt %s: %w", record.ID, err)
	}
	return record.ID, nil
}

// GetReceipt retrieves a receipt by ID
func (f *FirestoreDB) GetReceipt(ctx context.Context, owner, id string) (*Record, error) {
	snap, err := f.receipts(owner).Doc(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting receipt %s: %w", id, err)
	}
	return snapshotToRecord(snap)
}

// ListReceipts returns all receipts for the owner, newest first
func (f *FirestoreDB) ListReceipts(ctx context.Context, owner string) ([]*Record, error) {
	iter := f.receipts(owner).Documents(ctx)
	defer iter.Stop()

	records := make([]*Record, 0)
	for {
		snap, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("iterating receipts: %w", err)
		}
		record, err := snapshotToRecord(snap)
		if err != nil {
			return nil, err
		}
		records = append(records, record)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	return records, nil
}

// DeleteReceipt removes a receipt document
func (f *FirestoreDB) DeleteReceipt(ctx context.Context, owner, id string) error {
	ref := f.receipts(owner).Doc(id)
	if _, err := ref.Get(ctx); err != nil {
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return fmt.Errorf("getting receipt %s for deletion: %w", id, err)
	}
	if _, err := ref.Delete(ctx); err != nil {
		return fmt.Errorf("deleting receipt %s: %w", id, err)
	}
	return nil
}

// Close closes the Firestore client
func (f *FirestoreDB) Close() error {
	return f.client.Close()
}

func snapshotToRecord(snap *firestore.DocumentSnapshot) (*Record, error) {
	var record Record
	if err := snap.DataTo(&record); err != nil {
		return nil, fmt.Errorf("decoding receipt %s: %w", snap.Ref.ID, err)
	}
	record.ID = snap.Ref.ID
	return &record, nil
}
