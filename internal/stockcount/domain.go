// Package stockcount reconciles physical counts against the ledger. A
// count freezes the system stock at creation time; confirming it posts the
// frozen variances as adjustment movements.
package stockcount

import (
	"errors"
	"time"
)

// Count statuses.
const (
	StatusDraft     = "DRAFT"
	StatusConfirmed = "CONFIRMED"
)

// ErrNotFound indicates the stock count id resolves to nothing.
var ErrNotFound = errors.New("stockcount: not found")

// ErrAlreadyConfirmed indicates the count was confirmed before, possibly
// by a concurrent request.
var ErrAlreadyConfirmed = errors.New("stockcount: already confirmed")

// ErrEmptyItems indicates a count without any counted product.
var ErrEmptyItems = errors.New("stockcount: at least one item required")

// StockCount is one physical counting session.
type StockCount struct {
	ID          int64       `json:"id"`
	Number      string      `json:"number"`
	Status      string      `json:"status"`
	Note        string      `json:"note"`
	CreatedBy   int64       `json:"created_by"`
	CreatedAt   time.Time   `json:"created_at"`
	ConfirmedAt *time.Time  `json:"confirmed_at,omitempty"`
	Items       []CountItem `json:"items"`
}

// CountItem records one product's counted quantity. SystemStock and
// Variance are frozen when the count is created: confirmation applies this
// variance even if stock moved in the meantime, because the physical count
// happened against the frozen snapshot.
type CountItem struct {
	ID           int64 `json:"id"`
	CountID      int64 `json:"count_id"`
	ProductID    int64 `json:"product_id"`
	SystemStock  int64 `json:"system_stock"`
	CountedStock int64 `json:"counted_stock"`
	Variance     int64 `json:"variance"`
}

// ItemInput is the caller-supplied portion of a count item.
type ItemInput struct {
	ProductID    int64
	CountedStock int64
}
