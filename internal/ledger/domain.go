package ledger

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// MovementKind enumerates supported stock movements.
type MovementKind string

const (
	// KindInbound represents goods received into stock.
	KindInbound MovementKind = "IN"
	// KindOutbound represents goods shipped out of stock.
	KindOutbound MovementKind = "OUT"
	// KindAdjustmentPlus represents a positive count correction.
	KindAdjustmentPlus MovementKind = "ADJ_PLUS"
	// KindAdjustmentMinus represents a negative count correction.
	KindAdjustmentMinus MovementKind = "ADJ_MINUS"
)

// Valid reports whether the kind is one of the four movement kinds.
func (k MovementKind) Valid() bool {
	switch k {
	case KindInbound, KindOutbound, KindAdjustmentPlus, KindAdjustmentMinus:
		return true
	}
	return false
}

// SignValid reports whether quantity carries the sign the kind requires:
// positive for IN/ADJ_PLUS, negative for OUT/ADJ_MINUS, never zero.
func (k MovementKind) SignValid(quantity int64) bool {
	switch k {
	case KindInbound, KindAdjustmentPlus:
		return quantity > 0
	case KindOutbound, KindAdjustmentMinus:
		return quantity < 0
	}
	return false
}

// SourceType identifies the business document a movement originates from.
type SourceType string

const (
	// SourceInboundOp references an inbound (goods receipt) operation.
	SourceInboundOp SourceType = "INBOUND_OP"
	// SourceOutboundOp references an outbound (shipment) operation.
	SourceOutboundOp SourceType = "OUTBOUND_OP"
	// SourceStockCount references a physical stock count.
	SourceStockCount SourceType = "STOCK_COUNT"
)

// Valid reports whether the source type is known.
func (t SourceType) Valid() bool {
	switch t {
	case SourceInboundOp, SourceOutboundOp, SourceStockCount:
		return true
	}
	return false
}

// SourceRef is the typed backlink from a movement to the document that
// caused it. Navigation only, never an ownership relation.
type SourceRef struct {
	Type SourceType `json:"type"`
	ID   int64      `json:"id"`
}

// Validate checks the reference is complete.
func (r SourceRef) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("%w: unknown source type %q", ErrInvalidArgument, r.Type)
	}
	if r.ID <= 0 {
		return fmt.Errorf("%w: source id required", ErrInvalidArgument)
	}
	return nil
}

// Key renders a stable identity string for idempotency keys.
func (r SourceRef) Key() string {
	return fmt.Sprintf("%s:%d", r.Type, r.ID)
}

// Movement is one immutable ledger entry. Rows are only ever inserted;
// corrections are new, opposite-signed entries.
type Movement struct {
	ID        int64        `json:"id"`
	ProductID int64        `json:"product_id"`
	VariantID int64        `json:"variant_id,omitempty"` // 0 when the product has no variants
	Quantity  int64        `json:"quantity"`
	Kind      MovementKind `json:"kind"`
	Source    SourceRef    `json:"source"`
	Note      string       `json:"note,omitempty"`
	ActorID   int64        `json:"actor_id,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// MovementItem is one line of a recorder call.
type MovementItem struct {
	ProductID int64
	VariantID int64
	Quantity  int64
}

// Adjustment is one count correction handed to the recorder.
type Adjustment struct {
	ProductID int64
	Variance  int64
}

// Shortage describes one unfulfillable outbound line.
type Shortage struct {
	ProductID int64 `json:"product_id"`
	VariantID int64 `json:"variant_id,omitempty"`
	Required  int64 `json:"required"`
	Available int64 `json:"available"`
	Shortage  int64 `json:"shortage"`
}

// InsufficientStockError reports every offending item of an outbound call
// at once so the caller can present one coherent message.
type InsufficientStockError struct {
	Shortages []Shortage
}

func (e *InsufficientStockError) Error() string {
	parts := make([]string, 0, len(e.Shortages))
	for _, s := range e.Shortages {
		parts = append(parts, fmt.Sprintf("product %d: need %d, have %d", s.ProductID, s.Required, s.Available))
	}
	return "ledger: insufficient stock: " + strings.Join(parts, "; ")
}

var (
	// ErrInvalidArgument indicates malformed caller input.
	ErrInvalidArgument = errors.New("ledger: invalid argument")
	// ErrWriteFailed wraps unexpected persistence faults; the enclosing
	// transaction has been rolled back in full.
	ErrWriteFailed = errors.New("ledger: write failed")
	// ErrSourceAlreadyPosted indicates the source document already has
	// ledger entries and must not post again.
	ErrSourceAlreadyPosted = errors.New("ledger: source document already posted")
)
