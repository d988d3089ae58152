// Package docs manages goods operation documents: inbound receipts and
// outbound shipments. A document is drafted first; posting it is what
// actually moves stock, through the ledger recorder.
package docs

import (
	"errors"
	"time"

	"github.com/lumbung-erp/lumbung-erp/internal/ledger"
	"github.com/lumbung-erp/lumbung-erp/internal/numbering"
)

// Directions.
const (
	DirectionInbound  = "IN"
	DirectionOutbound = "OUT"
)

// Statuses.
const (
	StatusDraft  = "DRAFT"
	StatusPosted = "POSTED"
)

// ErrNotFound indicates the document id resolves to nothing.
var ErrNotFound = errors.New("docs: operation not found")

// ErrAlreadyPosted indicates the document was posted before.
var ErrAlreadyPosted = errors.New("docs: operation already posted")

// ErrEmptyItems indicates a document without any line.
var ErrEmptyItems = errors.New("docs: at least one item required")

// Operation is one inbound or outbound goods document.
type Operation struct {
	ID          int64           `json:"id"`
	Number      string          `json:"number"`
	Direction   string          `json:"direction"`
	Status      string          `json:"status"`
	PartnerName string          `json:"partner_name"`
	Note        string          `json:"note"`
	CreatedBy   int64           `json:"created_by"`
	CreatedAt   time.Time       `json:"created_at"`
	PostedAt    *time.Time      `json:"posted_at,omitempty"`
	Items       []OperationItem `json:"items"`
}

// OperationItem is one line of a goods document.
type OperationItem struct {
	ID          int64 `json:"id"`
	OperationID int64 `json:"operation_id"`
	ProductID   int64 `json:"product_id"`
	VariantID   int64 `json:"variant_id,omitempty"`
	Quantity    int64 `json:"quantity"`
}

// ItemInput is the caller-supplied portion of a line.
type ItemInput struct {
	ProductID int64
	VariantID int64
	Quantity  int64
}

func docType(direction string) numbering.DocType {
	if direction == DirectionOutbound {
		return numbering.DocOutboundOp
	}
	return numbering.DocInboundOp
}

func sourceType(direction string) ledger.SourceType {
	if direction == DirectionOutbound {
		return ledger.SourceOutboundOp
	}
	return ledger.SourceInboundOp
}
