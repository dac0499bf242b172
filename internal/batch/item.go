package batch

// ItemStatus is the progress of a single image through the pipeline
type ItemStatus string

const (
	StatusPending     ItemStatus = "pending"
	StatusProcessing  ItemStatus = "processing"
	StatusDone        ItemStatus = "done"
	StatusNeedsReview ItemStatus = "needs_review"
	StatusFailed      ItemStatus = "failed"
)

// Messages shown next to terminal items
const (
	MessageSaved       = "Saved successfully"
	MessageNeedsReview = "Missing fields - saved for review"
	MessageFailed      = "Failed to process"
	MessageInterrupted = "Session interrupted"
)

// Terminal reports whether no further transition is possible
func (s ItemStatus) Terminal() bool {
	switch s {
	case StatusDone, StatusNeedsReview, StatusFailed:
		return true
	}
	return false
}

// canTransition enforces pending -> processing -> {done, needs_review, failed}
func canTransition(from, to ItemStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing
	case StatusProcessing:
		return to.Terminal()
	}
	return false
}

// ScanItem is one image's progress record. Its identity is its index in the batch.
type ScanItem struct {
	Name    string     `json:"name" msgpack:"name"`
	Status  ItemStatus `json:"status" msgpack:"status"`
	Message string     `json:"message,omitempty" msgpack:"message,omitempty"`
}

// ItemPatch is a partial update to a ScanItem. Empty Status and nil Message
// leave the field unchanged.
type ItemPatch struct {
	Status  ItemStatus
	Message *string
}

func patch(status ItemStatus, message string) ItemPatch {
	return ItemPatch{Status: status, Message: &message}
}

// Counts tallies ledger entries by status
type Counts struct {
	Pending     int `json:"pending"`
	Processing  int `json:"processing"`
	Done        int `json:"done"`
	NeedsReview int `json:"needs_review"`
	Failed      int `json:"failed"`
}
