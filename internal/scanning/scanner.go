package scanning

import "context"

// LineItem is a single purchased item as read off the receipt
type LineItem struct {
	Name        string   `json:"name"`
	Quantity    *float64 `json:"quantity"`
	Price       string   `json:"price"`
	Tax         string   `json:"tax,omitempty"`
	IsZeroRated bool     `json:"isZeroRated,omitempty"`
}

// ExtractedFields contains the structured fields a model extracted from a receipt.
// Absent optional scalars are reported as "N/A".
type ExtractedFields struct {
	Supplier      string     `json:"supplier"`
	TotalAmount   string     `json:"totalAmount"`
	TaxAmount     string     `json:"taxAmount"`
	ReceiptDate   string     `json:"receiptDate"`
	Category      string     `json:"category"`
	InvoiceNumber string     `json:"invoiceNumber"`
	KRAPin        string     `json:"kraPin"`
	CUInvoice     string     `json:"cuInvoice"`
	Items         []LineItem `json:"items"`
}

// Scanner defines the interface for receipt scanning operations
type Scanner interface {
	// ScanReceipt analyzes a receipt image/PDF and extracts its fields
	ScanReceipt(ctx context.Context, imageData []byte, contentType string) (*ExtractedFields, error)
	// Close closes the scanner and releases resources
	Close() error
}
