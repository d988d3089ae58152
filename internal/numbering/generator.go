// Package numbering issues human-readable document numbers of the form
// PREFIX-YYYYMMDD-NNNN, unique across concurrent writers.
package numbering

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DocType enumerates the numbered document types.
type DocType string

const (
	DocPurchaseOrder DocType = "PO"
	DocSalesOrder    DocType = "SO"
	DocInboundOp     DocType = "IN"
	DocOutboundOp    DocType = "OUT"
	DocInvoice       DocType = "INV"
	DocDeliveryOrder DocType = "DO"
	DocStockCount    DocType = "SC"
)

// Valid reports whether the document type is known.
func (t DocType) Valid() bool {
	switch t {
	case DocPurchaseOrder, DocSalesOrder, DocInboundOp, DocOutboundOp, DocInvoice, DocDeliveryOrder, DocStockCount:
		return true
	}
	return false
}

// Prefix returns the number prefix for the type.
func (t DocType) Prefix() string {
	return string(t)
}

// ErrExhaustedRetries is the matching target for ExhaustedError.
var ErrExhaustedRetries = errors.New("numbering: exhausted retries")

// ErrUnknownDocType indicates an unregistered document type.
var ErrUnknownDocType = errors.New("numbering: unknown document type")

// ExhaustedError reports that no free number was found within the attempt
// bound. It carries the prefix and date so the caller can surface which
// sequence ran dry rather than a flat message.
type ExhaustedError struct {
	Prefix string
	Date   time.Time
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("numbering: exhausted retries for %s on %s", e.Prefix, e.Date.Format("2006-01-02"))
}

// Is lets errors.Is match against ErrExhaustedRetries.
func (e *ExhaustedError) Is(target error) bool {
	return target == ErrExhaustedRetries
}

// Querier is satisfied by pgx.Tx and *pgxpool.Pool. Passing the caller's
// transaction makes the number commit or roll back together with the
// document it was issued for.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Generator issues document numbers. The sequence itself is reserved with
// a locking counter-row increment, so two concurrent writers can never
// read the same value; the probe-and-retry loop only covers collisions
// with numbers that entered the registry through other channels (imports,
// manual assignment).
type Generator struct {
	maxAttempts int
	now         func() time.Time
}

// Option mutates Generator construction.
type Option func(*Generator)

// WithMaxAttempts overrides the retry bound.
func WithMaxAttempts(n int) Option {
	return func(g *Generator) {
		if n > 0 {
			g.maxAttempts = n
		}
	}
}

// WithClock overrides the time source, used by tests.
func WithClock(now func() time.Time) Option {
	return func(g *Generator) {
		if now != nil {
			g.now = now
		}
	}
}

// NewGenerator builds Generator with a default bound of 10 attempts.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{maxAttempts: 10, now: func() time.Time { return time.Now().UTC() }}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Next issues the next number for the document type. The sequence resets
// daily per type; the first document of a day gets 0001.
func (g *Generator) Next(ctx context.Context, q Querier, docType DocType) (string, error) {
	return g.NextForDate(ctx, q, docType, g.now())
}

// NextForDate issues a number scoped to the given calendar date.
func (g *Generator) NextForDate(ctx context.Context, q Querier, docType DocType, date time.Time) (string, error) {
	if !docType.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownDocType, docType)
	}
	period := date.Format("20060102")
	for attempt := 0; attempt < g.maxAttempts; attempt++ {
		var seq int64
		err := q.QueryRow(ctx, `
			INSERT INTO document_sequences (doc_type, period, seq)
			VALUES ($1, $2, 1)
			ON CONFLICT (doc_type, period)
			DO UPDATE SET seq = document_sequences.seq + 1
			RETURNING seq
		`, string(docType), period).Scan(&seq)
		if err != nil {
			return "", fmt.Errorf("numbering: reserve sequence: %w", err)
		}
		number := fmt.Sprintf("%s-%s-%04d", docType.Prefix(), period, seq)
		var taken bool
		if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM issued_numbers WHERE doc_type=$1 AND number=$2)`, string(docType), number).Scan(&taken); err != nil {
			return "", fmt.Errorf("numbering: probe number: %w", err)
		}
		if taken {
			continue
		}
		if _, err := q.Exec(ctx, `INSERT INTO issued_numbers (doc_type, number, created_at) VALUES ($1, $2, NOW())`, string(docType), number); err != nil {
			return "", fmt.Errorf("numbering: register number: %w", err)
		}
		return number, nil
	}
	return "", &ExhaustedError{Prefix: docType.Prefix(), Date: date}
}
