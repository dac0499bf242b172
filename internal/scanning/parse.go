package scanning

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Colons survive cleaning so "12:50" reads as a misplaced decimal point
var nonPriceChars = regexp.MustCompile(`[^\d.,:]`)

// rawLineItem accepts whatever JSON types the model decided to use
type rawLineItem struct {
	Name        any `json:"name"`
	Quantity    any `json:"quantity"`
	Price       any `json:"price"`
	Tax         any `json:"tax"`
	IsZeroRated any `json:"isZeroRated"`
}

type rawReceipt struct {
	Supplier      any           `json:"supplier"`
	TotalAmount   any           `json:"totalAmount"`
	TaxAmount     any           `json:"taxAmount"`
	ReceiptDate   any           `json:"receiptDate"`
	Category      any           `json:"category"`
	InvoiceNumber any           `json:"invoiceNumber"`
	KRAPin        any           `json:"kraPin"`
	CUInvoice     any           `json:"cuInvoice"`
	Items         []rawLineItem `json:"items"`
}

// extractJSONObject strips markdown fences and any chatter around the first
// JSON object in a model response
func extractJSONObject(text string) (string, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	startIdx := strings.Index(text, "{")
	if startIdx == -1 {
		return "", fmt.Errorf("no JSON object found in response")
	}
	endIdx := strings.LastIndex(text, "}")
	if endIdx == -1 || endIdx < startIdx {
		return "", fmt.Errorf("invalid JSON object in response")
	}
	return text[startIdx : endIdx+1], nil
}

// parseReceiptJSON parses a model response into ExtractedFields
func parseReceiptJSON(text string) (*ExtractedFields, error) {
	obj, err := extractJSONObject(text)
	if err != nil {
		return nil, err
	}

	var raw rawReceipt
	if err := json.Unmarshal([]byte(obj), &raw); err != nil {
		return nil, fmt.Errorf("unmarshaling json: %w", err)
	}

	supplier := stringValue(raw.Supplier)
	total := stringValue(raw.TotalAmount)
	if supplier == "" || total == "" {
		return nil, fmt.Errorf("missing required fields in response")
	}

	fields := &ExtractedFields{
		Supplier:      supplier,
		TotalAmount:   sanitizePrice(raw.TotalAmount),
		TaxAmount:     sanitizePrice(raw.TaxAmount),
		ReceiptDate:   orNotAvailable(stringValue(raw.ReceiptDate)),
		Category:      normalizeCategory(stringValue(raw.Category)),
		InvoiceNumber: orNotAvailable(stringValue(raw.InvoiceNumber)),
		KRAPin:        orNotAvailable(stringValue(raw.KRAPin)),
		CUInvoice:     orNotAvailable(stringValue(raw.CUInvoice)),
		Items:         make([]LineItem, 0, len(raw.Items)),
	}

	for _, item := range raw.Items {
		quantity := numberValue(item.Quantity)
		if quantity == nil || *quantity == 0 {
			one := 1.0
			quantity = &one
		}
		fields.Items = append(fields.Items, LineItem{
			Name:        orNotAvailable(stringValue(item.Name)),
			Quantity:    quantity,
			Price:       sanitizePrice(item.Price),
			Tax:         sanitizePrice(item.Tax),
			IsZeroRated: boolValue(item.IsZeroRated),
		})
	}

	return fields, nil
}

// sanitizePrice turns whatever the model produced into a plain two-decimal
// amount ("KES 1,250.00" -> "1250.00"). Unreadable values become "".
func sanitizePrice(v any) string {
	switch val := v.(type) {
	case float64:
		return strconv.FormatFloat(val, 'f', 2, 64)
	case string:
		cleaned := nonPriceChars.ReplaceAllString(val, "")
		if strings.Contains(cleaned, ",") && strings.Contains(cleaned, ".") {
			cleaned = strings.ReplaceAll(cleaned, ",", "")
		}
		cleaned = strings.ReplaceAll(cleaned, ":", ".")
		num, ok := leadingFloat(cleaned)
		if !ok {
			return ""
		}
		return strconv.FormatFloat(num, 'f', 2, 64)
	}
	return ""
}

// leadingFloat parses the longest numeric prefix, mirroring parseFloat leniency
func leadingFloat(s string) (float64, bool) {
	end := 0
	seenDot := false
	for end < len(s) {
		c := s[end]
		if c == '.' && !seenDot {
			seenDot = true
		} else if c < '0' || c > '9' {
			break
		}
		end++
	}
	num, err := strconv.ParseFloat(strings.TrimSuffix(s[:end], "."), 64)
	if err != nil || math.IsNaN(num) {
		return 0, false
	}
	return num, true
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	}
	return ""
}

func numberValue(v any) *float64 {
	switch val := v.(type) {
	case float64:
		return &val
	case string:
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return &f
		}
	}
	return nil
}

func boolValue(v any) bool {
	switch val := v.(type) {
	case bool:
		return val
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(val))
		return b
	}
	return false
}

func orNotAvailable(s string) string {
	if s == "" {
		return notAvailable
	}
	return s
}
