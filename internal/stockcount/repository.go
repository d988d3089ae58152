package stockcount

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumbung-erp/lumbung-erp/internal/numbering"
	"github.com/lumbung-erp/lumbung-erp/internal/platform/db"
)

// Repository persists stock counts. The document number is issued inside
// the same transaction as the insert, so an aborted create never burns a
// visible number gap beyond the sequence row itself.
type Repository struct {
	pool      *pgxpool.Pool
	generator *numbering.Generator
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool, generator *numbering.Generator) *Repository {
	return &Repository{pool: pool, generator: generator}
}

// Create inserts the count and its items, issuing the SC number in-tx.
func (r *Repository) Create(ctx context.Context, count *StockCount) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		number, err := r.generator.Next(ctx, tx, numbering.DocStockCount)
		if err != nil {
			return err
		}
		count.Number = number
		count.Status = StatusDraft
		err = tx.QueryRow(ctx, `INSERT INTO stock_counts (number, status, note, created_by, created_at)
VALUES ($1,$2,$3,$4,NOW()) RETURNING id, created_at`,
			count.Number, count.Status, count.Note, count.CreatedBy).Scan(&count.ID, &count.CreatedAt)
		if err != nil {
			return err
		}
		for i := range count.Items {
			item := &count.Items[i]
			item.CountID = count.ID
			err = tx.QueryRow(ctx, `INSERT INTO stock_count_items (count_id, product_id, system_stock, counted_stock, variance)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
				item.CountID, item.ProductID, item.SystemStock, item.CountedStock, item.Variance).Scan(&item.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Get fetches one count with its items.
func (r *Repository) Get(ctx context.Context, id int64) (StockCount, error) {
	var count StockCount
	err := r.pool.QueryRow(ctx, `SELECT id, number, status, note, created_by, created_at, confirmed_at
FROM stock_counts WHERE id=$1`, id).
		Scan(&count.ID, &count.Number, &count.Status, &count.Note, &count.CreatedBy, &count.CreatedAt, &count.ConfirmedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return StockCount{}, ErrNotFound
	}
	if err != nil {
		return StockCount{}, err
	}
	rows, err := r.pool.Query(ctx, `SELECT id, count_id, product_id, system_stock, counted_stock, variance
FROM stock_count_items WHERE count_id=$1 ORDER BY id ASC`, id)
	if err != nil {
		return StockCount{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var item CountItem
		if err := rows.Scan(&item.ID, &item.CountID, &item.ProductID, &item.SystemStock, &item.CountedStock, &item.Variance); err != nil {
			return StockCount{}, err
		}
		count.Items = append(count.Items, item)
	}
	return count, rows.Err()
}

// List returns counts newest-first, without items.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]StockCount, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, number, status, note, created_by, created_at, confirmed_at
FROM stock_counts ORDER BY id DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	counts := []StockCount{}
	for rows.Next() {
		var count StockCount
		if err := rows.Scan(&count.ID, &count.Number, &count.Status, &count.Note, &count.CreatedBy, &count.CreatedAt, &count.ConfirmedAt); err != nil {
			return nil, err
		}
		counts = append(counts, count)
	}
	return counts, rows.Err()
}

// ReplaceItems swaps a draft's items. The status predicate makes the edit
// guard race-safe: a count confirmed by a concurrent request matches zero
// rows here.
func (r *Repository) ReplaceItems(ctx context.Context, countID int64, note string, items []CountItem) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE stock_counts SET note=$2 WHERE id=$1 AND status=$3`, countID, note, StatusDraft)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return r.notDraft(ctx, countID)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM stock_count_items WHERE count_id=$1`, countID); err != nil {
			return err
		}
		for i := range items {
			item := &items[i]
			item.CountID = countID
			err = tx.QueryRow(ctx, `INSERT INTO stock_count_items (count_id, product_id, system_stock, counted_stock, variance)
VALUES ($1,$2,$3,$4,$5) RETURNING id`,
				item.CountID, item.ProductID, item.SystemStock, item.CountedStock, item.Variance).Scan(&item.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes a draft count and its items.
func (r *Repository) Delete(ctx context.Context, countID int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM stock_count_items WHERE count_id=$1`, countID); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM stock_counts WHERE id=$1 AND status=$2`, countID, StatusDraft)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return r.notDraft(ctx, countID)
		}
		return nil
	})
}

// MarkConfirmed flips the draft to CONFIRMED. Zero rows affected means a
// concurrent confirm won.
func (r *Repository) MarkConfirmed(ctx context.Context, countID int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `UPDATE stock_counts SET status=$2, confirmed_at=$3 WHERE id=$1 AND status=$4`,
		countID, StatusConfirmed, at, StatusDraft)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.notDraft(ctx, countID)
	}
	return nil
}

func (r *Repository) notDraft(ctx context.Context, countID int64) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM stock_counts WHERE id=$1)`, countID).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrAlreadyConfirmed
}
