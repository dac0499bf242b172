package receipt

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strings"
	"time"
)

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Service handles reading, correcting and removing stored receipts
type Service struct {
	db         DB
	storage    Storage
	timeSource TimeSource
}

// NewService creates a new Service
func NewService(db DB, storage Storage) *Service {
	return NewServiceWithDeps(db, storage, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with a custom time source
func NewServiceWithDeps(db DB, storage Storage, timeSrc TimeSource) *Service {
	return &Service{
		db:         db,
		storage:    storage,
		timeSource: timeSrc,
	}
}

// ReceiptFilter narrows ListReceipts. Zero fields match everything.
type ReceiptFilter struct {
	Status Status
	Batch  string
}

func (f ReceiptFilter) matches(r *Record) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if f.Batch != "" && r.BatchTitle != f.Batch {
		return false
	}
	return true
}

// BatchSummary describes the receipts saved under one batch title
type BatchSummary struct {
	Title       string    `json:"batchTitle"`
	Receipts    int       `json:"receipts"`
	NeedsReview int       `json:"needsReview"`
	LastScanned time.Time `json:"lastScanned"`
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(ctx context.Context, owner, id string) (*Record, error) {
	record, err := s.db.GetReceipt(ctx, owner, id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return record, nil
}

// ListReceipts returns the owner's receipts matching filter. Filtering on
// needs_review builds the review queue; filtering on a batch title lists
// what one batch saved.
func (s *Service) ListReceipts(ctx context.Context, owner string, filter ReceiptFilter) ([]*Record, error) {
	records, err := s.db.ListReceipts(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	if filter == (ReceiptFilter{}) {
		return records, nil
	}

	filtered := make([]*Record, 0, len(records))
	for _, r := range records {
		if filter.matches(r) {
			filtered = append(filtered, r)
		}
	}
	return filtered, nil
}

// ListBatches groups the owner's receipts by batch title, most recently
// scanned first. Receipts without a title are left out.
func (s *Service) ListBatches(ctx context.Context, owner string) ([]*BatchSummary, error) {
	records, err := s.db.ListReceipts(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}

	byTitle := make(map[string]*BatchSummary)
	batches := make([]*BatchSummary, 0)
	for _, r := range records {
		if r.BatchTitle == "" {
			continue
		}
		b, ok := byTitle[r.BatchTitle]
		if !ok {
			b = &BatchSummary{Title: r.BatchTitle}
			byTitle[r.BatchTitle] = b
			batches = append(batches, b)
		}
		b.Receipts++
		if r.Status == StatusNeedsReview {
			b.NeedsReview++
		}
		if r.CreatedAt.After(b.LastScanned) {
			b.LastScanned = r.CreatedAt
		}
	}

	sort.SliceStable(batches, func(i, j int) bool {
		if !batches[i].LastScanned.Equal(batches[j].LastScanned) {
			return batches[i].LastScanned.After(batches[j].LastScanned)
		}
		return batches[i].Title < batches[j].Title
	})
	return batches, nil
}

// UpdateReceipt replaces the extracted fields of a stored receipt with
// corrected ones and classifies it again. The image, batch and scan time
// are kept. A receipt that is now complete leaves the review queue.
func (s *Service) UpdateReceipt(ctx context.Context, owner, id string, fields *Candidate) (*Record, error) {
	if fields == nil {
		return nil, ErrNoFields
	}

	record, err := s.db.GetReceipt(ctx, owner, id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt for update: %w", err)
	}

	record.Supplier = fields.Supplier
	record.TotalAmount = fields.TotalAmount
	record.TaxAmount = fields.TaxAmount
	record.ReceiptDate = fields.ReceiptDate
	record.Category = fields.Category
	record.InvoiceNumber = fields.InvoiceNumber
	record.KRAPin = fields.KRAPin
	record.CUInvoice = fields.CUInvoice
	record.Items = fields.Items
	if record.Items == nil {
		record.Items = []LineItem{}
	}
	record.Status = Classify(&record.Candidate)
	record.UpdatedAt = s.timeSource.Now()

	if _, err := s.db.SaveReceipt(ctx, owner, record); err != nil {
		return nil, fmt.Errorf("saving receipt %s: %w", id, err)
	}

	slog.Info("Receipt updated", "owner", owner, "id", id, "status", record.Status)
	return record, nil
}

// DeleteReceipt removes a receipt and its image
func (s *Service) DeleteReceipt(ctx context.Context, owner, id string) error {
	record, err := s.db.GetReceipt(ctx, owner, id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if record.ImagePath != "" {
		if err := s.storage.Delete(ctx, record.ImagePath); err != nil {
			// Log error but continue with database deletion
			slog.Warn("Failed to delete image", "path", record.ImagePath, "error", err)
		}
	}

	if err := s.db.DeleteReceipt(ctx, owner, id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	return nil
}

// GetReceiptFile retrieves the stored image for a receipt
func (s *Service) GetReceiptFile(ctx context.Context, owner, id string) ([]byte, string, error) {
	record, err := s.db.GetReceipt(ctx, owner, id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}

	data, err := s.storage.Get(ctx, record.ImagePath)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt file: %w", err)
	}

	contentType := record.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return data, contentType, nil
}

// GetFile returns a stored image by path. Only paths under the owner's
// prefix are served.
func (s *Service) GetFile(ctx context.Context, owner, p string) ([]byte, error) {
	clean := strings.TrimPrefix(path.Clean("/"+p), "/")
	if !strings.HasPrefix(clean, OwnerPrefix(owner)) {
		return nil, ErrFileNotFound
	}

	data, err := s.storage.Get(ctx, clean)
	if err != nil {
		return nil, fmt.Errorf("getting file: %w", err)
	}
	return data, nil
}
