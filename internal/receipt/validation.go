package receipt

import "strings"

// IsMissing reports whether an extracted value should be treated as absent:
// empty, whitespace only, or the "N/A" placeholder the models emit.
func IsMissing(v string) bool {
	return strings.TrimSpace(v) == "" || v == "N/A"
}

// Classify decides whether a candidate is complete enough to skip manual review.
// It has no side effects.
func Classify(c *Candidate) Status {
	if c == nil {
		return StatusNeedsReview
	}

	required := []string{
		c.Supplier,
		c.ReceiptDate,
		c.TotalAmount,
		c.TaxAmount,
		c.Category,
		c.InvoiceNumber,
		c.KRAPin,
		c.CUInvoice,
	}
	for _, v := range required {
		if IsMissing(v) {
			return StatusNeedsReview
		}
	}

	if len(c.Items) == 0 {
		return StatusNeedsReview
	}

	for _, item := range c.Items {
		if IsMissing(item.Name) || item.Quantity == nil || IsMissing(item.Price) {
			return StatusNeedsReview
		}
		// Zero-rated items carry no tax line
		if !item.IsZeroRated && IsMissing(item.Tax) {
			return StatusNeedsReview
		}
	}

	return StatusProcessed
}
