package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository persists ledger entries in PostgreSQL. The stock_movements
// table is append-only: no statement in this package updates or deletes a
// movement row.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by the recorder.
type TxRepository interface {
	LockProducts(ctx context.Context, productIDs []int64) error
	SumProduct(ctx context.Context, productID int64) (int64, error)
	SumVariant(ctx context.Context, variantID int64) (int64, error)
	ExistsBySource(ctx context.Context, ref SourceRef) (bool, error)
	InsertMovement(ctx context.Context, m Movement) (int64, error)
}

type txRepository struct {
	tx pgx.Tx
}

// WithTx executes the callback inside a read-committed transaction. Read
// committed is load-bearing for the outbound guard: once LockProducts is
// granted, the next statement's snapshot includes whatever the previous
// lock holder committed, so the availability sum cannot read stale stock.
// A snapshot level would keep reading the pre-lock state, because the
// lock holder only inserts movements and never updates the locked row.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil {
		return errors.New("ledger repository not initialised")
	}
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	wrapper := &txRepository{tx: tx}
	if err := fn(ctx, wrapper); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// SumProduct returns the signed movement total for a product.
func (r *Repository) SumProduct(ctx context.Context, productID int64) (int64, error) {
	return sumProduct(ctx, r.pool, productID)
}

// SumVariant returns the signed movement total for a variant.
func (r *Repository) SumVariant(ctx context.Context, variantID int64) (int64, error) {
	return sumVariant(ctx, r.pool, variantID)
}

// ExistsBySource reports whether any movement references the document.
func (r *Repository) ExistsBySource(ctx context.Context, ref SourceRef) (bool, error) {
	return existsBySource(ctx, r.pool, ref)
}

// ListBySource returns all movements created by one document, insert order.
func (r *Repository) ListBySource(ctx context.Context, ref SourceRef) ([]Movement, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, variant_id, quantity, kind, source_type, source_id, note, created_by, created_at
FROM stock_movements
WHERE source_type=$1 AND source_id=$2
ORDER BY id ASC`, string(ref.Type), ref.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

// OpeningBalance sums all movements strictly before the given instant.
func (r *Repository) OpeningBalance(ctx context.Context, productID int64, before time.Time) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM stock_movements WHERE product_id=$1 AND created_at < $2`, productID, before).Scan(&sum)
	return sum, err
}

// ListWindow returns movements for a product within [from, to], ordered by
// (created_at, id). The id tiebreak keeps replay deterministic when several
// movements share a timestamp from the same transaction.
func (r *Repository) ListWindow(ctx context.Context, productID int64, from, to time.Time) ([]Movement, error) {
	// The casts keep both parameters typed when they bind NULL; an
	// untyped COALESCE over them would resolve to text and fail to plan.
	rows, err := r.pool.Query(ctx, `SELECT id, product_id, variant_id, quantity, kind, source_type, source_id, note, created_by, created_at
FROM stock_movements
WHERE product_id=$1
  AND ($2::timestamptz IS NULL OR created_at >= $2)
  AND ($3::timestamptz IS NULL OR created_at <= $3)
ORDER BY created_at ASC, id ASC`, productID, nullTime(from), nullTime(to))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanMovements(rows)
}

func (r *txRepository) LockProducts(ctx context.Context, productIDs []int64) error {
	// Locked in ascending id order so two concurrent calls touching the
	// same products cannot deadlock each other.
	rows, err := r.tx.Query(ctx, `SELECT id FROM products WHERE id = ANY($1) ORDER BY id FOR UPDATE`, productIDs)
	if err != nil {
		return err
	}
	defer rows.Close()
	locked := 0
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return err
		}
		locked++
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if locked != len(productIDs) {
		return fmt.Errorf("%w: unknown product in items", ErrInvalidArgument)
	}
	return nil
}

func (r *txRepository) SumProduct(ctx context.Context, productID int64) (int64, error) {
	return sumProduct(ctx, r.tx, productID)
}

func (r *txRepository) SumVariant(ctx context.Context, variantID int64) (int64, error) {
	return sumVariant(ctx, r.tx, variantID)
}

func (r *txRepository) ExistsBySource(ctx context.Context, ref SourceRef) (bool, error) {
	return existsBySource(ctx, r.tx, ref)
}

func (r *txRepository) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	var id int64
	err := r.tx.QueryRow(ctx, `INSERT INTO stock_movements (product_id, variant_id, quantity, kind, source_type, source_id, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,NOW()) RETURNING id`,
		m.ProductID, nullInt(m.VariantID), m.Quantity, string(m.Kind), string(m.Source.Type), m.Source.ID, m.Note, nullInt(m.ActorID)).Scan(&id)
	return id, err
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func sumProduct(ctx context.Context, q querier, productID int64) (int64, error) {
	var sum int64
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM stock_movements WHERE product_id=$1`, productID).Scan(&sum)
	return sum, err
}

func sumVariant(ctx context.Context, q querier, variantID int64) (int64, error) {
	var sum int64
	err := q.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM stock_movements WHERE variant_id=$1`, variantID).Scan(&sum)
	return sum, err
}

func existsBySource(ctx context.Context, q querier, ref SourceRef) (bool, error) {
	var exists bool
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_movements WHERE source_type=$1 AND source_id=$2)`, string(ref.Type), ref.ID).Scan(&exists)
	return exists, err
}

func scanMovements(rows pgx.Rows) ([]Movement, error) {
	movements := []Movement{}
	for rows.Next() {
		var (
			m         Movement
			variantID *int64
			actorID   *int64
		)
		if err := rows.Scan(&m.ID, &m.ProductID, &variantID, &m.Quantity, &m.Kind, &m.Source.Type, &m.Source.ID, &m.Note, &actorID, &m.CreatedAt); err != nil {
			return nil, err
		}
		if variantID != nil {
			m.VariantID = *variantID
		}
		if actorID != nil {
			m.ActorID = *actorID
		}
		movements = append(movements, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return movements, nil
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
