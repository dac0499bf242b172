package receipt

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/zombor/receipt-scanner/internal/scanning"
)

// Status is the review state a stored receipt is saved with
type Status string

const (
	// StatusProcessed means every required field was present
	StatusProcessed Status = "processed"
	// StatusNeedsReview means the receipt was stored but a human has to fill gaps
	StatusNeedsReview Status = "needs_review"
)

// Valid reports whether s is a known status
func (s Status) Valid() bool {
	return s == StatusProcessed || s == StatusNeedsReview
}

// LineItem is one purchased item on a receipt
type LineItem struct {
	Name        string   `json:"name" firestore:"name"`
	Quantity    *float64 `json:"quantity" firestore:"quantity"`
	Price       string   `json:"price" firestore:"price"`
	Tax         string   `json:"tax,omitempty" firestore:"tax,omitempty"`
	IsZeroRated bool     `json:"isZeroRated" firestore:"isZeroRated"`
}

// Upload describes where an image was stored
type Upload struct {
	Path        string `json:"path"`
	URL         string `json:"url"`
	ContentType string `json:"content_type"`
}

// Candidate is an extracted receipt merged with its stored image and batch
// metadata, ready to be classified
type Candidate struct {
	Supplier      string     `json:"supplier" firestore:"supplier"`
	TotalAmount   string     `json:"totalAmount" firestore:"totalAmount"`
	TaxAmount     string     `json:"taxAmount" firestore:"taxAmount"`
	ReceiptDate   string     `json:"receiptDate" firestore:"receiptDate"`
	Category      string     `json:"category" firestore:"category"`
	InvoiceNumber string     `json:"invoiceNumber" firestore:"invoiceNumber"`
	KRAPin        string     `json:"kraPin" firestore:"kraPin"`
	CUInvoice     string     `json:"cuInvoice" firestore:"cuInvoice"`
	Items         []LineItem `json:"items" firestore:"items"`
	ImageURL      string     `json:"imageUrl" firestore:"imageUrl"`
	ImagePath     string     `json:"imagePath" firestore:"imagePath"`
	ContentType   string     `json:"contentType" firestore:"contentType"`
	BatchTitle    string     `json:"batchTitle" firestore:"batchTitle"`
	Timestamp     time.Time  `json:"timestamp" firestore:"clientTimestamp"`
}

// Record is a receipt as persisted, carrying the status it was classified with
type Record struct {
	ID string `json:"id" firestore:"-"`
	Candidate
	Status    Status    `json:"status" firestore:"status"`
	CreatedAt time.Time `json:"created_at" firestore:"createdAt"`
	UpdatedAt time.Time `json:"updated_at" firestore:"updatedAt"`
}

var (
	// ErrNoFields is returned when there is no extraction to build a candidate from
	ErrNoFields = errors.New("no extracted fields")
	// ErrNoUpload is returned when the image was not stored
	ErrNoUpload = errors.New("image upload missing")
)

// NewCandidate merges extracted fields with the stored image location, the
// batch title and the time the item was processed
func NewCandidate(fields *scanning.ExtractedFields, upload *Upload, batchTitle string, at time.Time) (*Candidate, error) {
	if fields == nil {
		return nil, ErrNoFields
	}
	if upload == nil || upload.URL == "" {
		return nil, ErrNoUpload
	}

	items := make([]LineItem, 0, len(fields.Items))
	for _, it := range fields.Items {
		var qty *float64
		if it.Quantity != nil {
			q := *it.Quantity
			qty = &q
		}
		items = append(items, LineItem{
			Name:        it.Name,
			Quantity:    qty,
			Price:       it.Price,
			Tax:         it.Tax,
			IsZeroRated: it.IsZeroRated,
		})
	}

	return &Candidate{
		Supplier:      fields.Supplier,
		TotalAmount:   fields.TotalAmount,
		TaxAmount:     fields.TaxAmount,
		ReceiptDate:   fields.ReceiptDate,
		Category:      fields.Category,
		InvoiceNumber: fields.InvoiceNumber,
		KRAPin:        fields.KRAPin,
		CUInvoice:     fields.CUInvoice,
		Items:         items,
		ImageURL:      upload.URL,
		ImagePath:     upload.Path,
		ContentType:   upload.ContentType,
		BatchTitle:    strings.TrimSpace(batchTitle),
		Timestamp:     at,
	}, nil
}

// NewRecord wraps a classified candidate for persistence
func NewRecord(c *Candidate, status Status) (*Record, error) {
	if c == nil {
		return nil, fmt.Errorf("nil candidate")
	}
	if !status.Valid() {
		return nil, fmt.Errorf("invalid status %q", status)
	}
	return &Record{
		Candidate: *c,
		Status:    status,
		CreatedAt: c.Timestamp,
		UpdatedAt: c.Timestamp,
	}, nil
}
