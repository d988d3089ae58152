package stock

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository is the read side of the ledger: plain aggregate queries over
// stock_movements, no locking and no writes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// SumProduct returns the signed movement total for a product.
func (r *Repository) SumProduct(ctx context.Context, productID int64) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM stock_movements WHERE product_id=$1`, productID).Scan(&sum)
	return sum, err
}

// SumVariant returns the signed movement total for a variant.
func (r *Repository) SumVariant(ctx context.Context, variantID int64) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(quantity), 0) FROM stock_movements WHERE variant_id=$1`, variantID).Scan(&sum)
	return sum, err
}

// TodayTotal sums today's movements of one kind since the given midnight.
func (r *Repository) TodayTotal(ctx context.Context, kind string, since time.Time) (int64, error) {
	var sum int64
	err := r.pool.QueryRow(ctx, `SELECT COALESCE(SUM(ABS(quantity)), 0) FROM stock_movements WHERE kind=$1 AND created_at >= $2`, kind, since).Scan(&sum)
	return sum, err
}

// TotalStockValue prices every product's current stock at its purchase
// price and sums. The numeric comes back as text so the decimal survives
// the round trip without a float in between.
func (r *Repository) TotalStockValue(ctx context.Context) (decimal.Decimal, error) {
	var raw string
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(s.qty * p.purchase_price), 0)::text
		FROM (
			SELECT product_id, SUM(quantity) AS qty
			FROM stock_movements
			GROUP BY product_id
		) s
		JOIN products p ON p.id = s.product_id
	`).Scan(&raw)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw)
}
