package batch

import (
	"errors"
	"fmt"
)

var (
	// ErrIndexOutOfRange is returned when updating an index the ledger does not hold
	ErrIndexOutOfRange = errors.New("ledger index out of range")
	// ErrInvalidTransition is returned for a status change that would move an item backwards
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Ledger is the ordered list of per-item progress records for the current batch.
// Indexes are stable for the lifetime of a batch. It does no locking; the
// controller owns it.
type Ledger struct {
	items []ScanItem
}

// NewLedger creates a ledger holding a copy of items
func NewLedger(items []ScanItem) *Ledger {
	l := &Ledger{items: make([]ScanItem, 0, len(items))}
	l.items = append(l.items, items...)
	return l
}

// Append adds an item at the end and returns its index
func (l *Ledger) Append(item ScanItem) int {
	l.items = append(l.items, item)
	return len(l.items) - 1
}

// Update applies a partial update to the item at index and returns the result
func (l *Ledger) Update(index int, p ItemPatch) (ScanItem, error) {
	if index < 0 || index >= len(l.items) {
		return ScanItem{}, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(l.items))
	}

	item := l.items[index]
	if p.Status != "" && p.Status != item.Status {
		if !canTransition(item.Status, p.Status) {
			return item, fmt.Errorf("%w: %s -> %s at %d", ErrInvalidTransition, item.Status, p.Status, index)
		}
		item.Status = p.Status
	}
	if p.Message != nil {
		item.Message = *p.Message
	}

	l.items[index] = item
	return item, nil
}

// Item returns the item at index
func (l *Ledger) Item(index int) (ScanItem, bool) {
	if index < 0 || index >= len(l.items) {
		return ScanItem{}, false
	}
	return l.items[index], true
}

// Items returns a copy of every entry, never nil
func (l *Ledger) Items() []ScanItem {
	out := make([]ScanItem, len(l.items))
	copy(out, l.items)
	return out
}

// Len returns the number of entries
func (l *Ledger) Len() int {
	return len(l.items)
}

// Reset drops every entry
func (l *Ledger) Reset() {
	l.items = l.items[:0]
}

// AllTerminal reports whether the ledger is non-empty and every entry is finished
func (l *Ledger) AllTerminal() bool {
	if len(l.items) == 0 {
		return false
	}
	for _, item := range l.items {
		if !item.Status.Terminal() {
			return false
		}
	}
	return true
}

// HasPending reports whether any entry is waiting to be processed
func (l *Ledger) HasPending() bool {
	for _, item := range l.items {
		if item.Status == StatusPending {
			return true
		}
	}
	return false
}

// Counts tallies entries by status
func (l *Ledger) Counts() Counts {
	var c Counts
	for _, item := range l.items {
		switch item.Status {
		case StatusPending:
			c.Pending++
		case StatusProcessing:
			c.Processing++
		case StatusDone:
			c.Done++
		case StatusNeedsReview:
			c.NeedsReview++
		case StatusFailed:
			c.Failed++
		}
	}
	return c
}
