// Package catalog holds product master data. Stock levels live in the
// movement ledger; this package only knows what a product is, not how many
// are on hand.
package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrProductNotFound indicates the product id resolves to nothing.
var ErrProductNotFound = errors.New("catalog: product not found")

// ErrVariantNotFound indicates the variant id resolves to nothing.
var ErrVariantNotFound = errors.New("catalog: variant not found")

// Product is master data for one sellable item.
type Product struct {
	ID            int64           `json:"id"`
	SKU           string          `json:"sku"`
	Name          string          `json:"name"`
	MinimumStock  int64           `json:"minimum_stock"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	HasVariants   bool            `json:"has_variants"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Variant is one concrete variation of a product (size, colour).
type Variant struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"product_id"`
	SKU       string `json:"sku"`
	Name      string `json:"name"`
}

// Repository reads product master data from PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetProduct fetches one product by id.
func (r *Repository) GetProduct(ctx context.Context, productID int64) (Product, error) {
	var p Product
	var price string
	err := r.pool.QueryRow(ctx, `SELECT id, sku, name, minimum_stock, purchase_price::text, has_variants, created_at
FROM products WHERE id=$1`, productID).Scan(&p.ID, &p.SKU, &p.Name, &p.MinimumStock, &price, &p.HasVariants, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	if err != nil {
		return Product{}, err
	}
	p.PurchasePrice, err = decimal.NewFromString(price)
	return p, err
}

// GetVariant fetches one variant by id.
func (r *Repository) GetVariant(ctx context.Context, variantID int64) (Variant, error) {
	var v Variant
	err := r.pool.QueryRow(ctx, `SELECT id, product_id, sku, name FROM product_variants WHERE id=$1`, variantID).
		Scan(&v.ID, &v.ProductID, &v.SKU, &v.Name)
	if errors.Is(err, pgx.ErrNoRows) {
		return Variant{}, ErrVariantNotFound
	}
	return v, err
}

// ListVariantIDs returns the variant ids of one product, ascending.
func (r *Repository) ListVariantIDs(ctx context.Context, productID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM product_variants WHERE product_id=$1 ORDER BY id ASC`, productID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListProductIDs returns every product id, used by the cache warmup job.
func (r *Repository) ListProductIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM products ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := []int64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
