// Package stock derives current figures from the movement ledger. Nothing
// here stores a counter: every number is a sum over stock_movements,
// optionally served from a TTL cache.
package stock

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"

	"github.com/lumbung-erp/lumbung-erp/internal/catalog"
	"github.com/lumbung-erp/lumbung-erp/internal/ledger"
	"github.com/lumbung-erp/lumbung-erp/internal/observability"
)

// ReadRepositoryPort exposes the aggregate reads the service needs.
type ReadRepositoryPort interface {
	SumProduct(ctx context.Context, productID int64) (int64, error)
	SumVariant(ctx context.Context, variantID int64) (int64, error)
	TodayTotal(ctx context.Context, kind string, since time.Time) (int64, error)
	TotalStockValue(ctx context.Context) (decimal.Decimal, error)
}

// ProductPort resolves product master data for valuation.
type ProductPort interface {
	GetProduct(ctx context.Context, productID int64) (catalog.Product, error)
}

// Aggregator answers "how much do we have" questions. Concurrent requests
// for the same figure are collapsed via singleflight so a cold cache does
// not stampede the database.
type Aggregator struct {
	repo    ReadRepositoryPort
	cache   *Cache
	catalog ProductPort
	metrics *observability.Metrics
	group   singleflight.Group
	now     func() time.Time
}

// NewAggregator builds Aggregator. cache and metrics may be nil.
func NewAggregator(repo ReadRepositoryPort, cache *Cache, products ProductPort, metrics *observability.Metrics) *Aggregator {
	return &Aggregator{
		repo:    repo,
		cache:   cache,
		catalog: products,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Invalidate drops the cached figures touched by a write to the product.
func (a *Aggregator) Invalidate(ctx context.Context, productID int64, variantIDs []int64) error {
	return a.cache.Invalidate(ctx, productID, variantIDs)
}

// CurrentStock returns the product's current stock, cached. For a product
// with variants this is still a plain sum: variant movements carry the
// product id, so the aggregate equals the sum of its per-variant stocks.
func (a *Aggregator) CurrentStock(ctx context.Context, productID int64) (int64, error) {
	if productID <= 0 {
		return 0, fmt.Errorf("%w: product required", ledger.ErrInvalidArgument)
	}
	return a.cachedInt64(ctx, keyProduct(productID), func(ctx context.Context) (int64, error) {
		return a.repo.SumProduct(ctx, productID)
	})
}

// CurrentStockFresh recomputes the product's stock from the ledger,
// bypassing the cache. Used where a stale figure is unacceptable, such as
// freezing a stock count snapshot.
func (a *Aggregator) CurrentStockFresh(ctx context.Context, productID int64) (int64, error) {
	if productID <= 0 {
		return 0, fmt.Errorf("%w: product required", ledger.ErrInvalidArgument)
	}
	return a.repo.SumProduct(ctx, productID)
}

// CurrentStockForVariant returns a single variant's current stock, cached.
func (a *Aggregator) CurrentStockForVariant(ctx context.Context, variantID int64) (int64, error) {
	if variantID <= 0 {
		return 0, fmt.Errorf("%w: variant required", ledger.ErrInvalidArgument)
	}
	return a.cachedInt64(ctx, keyVariant(variantID), func(ctx context.Context) (int64, error) {
		return a.repo.SumVariant(ctx, variantID)
	})
}

// TodayInbound totals units received since midnight UTC.
func (a *Aggregator) TodayInbound(ctx context.Context) (int64, error) {
	return a.cachedInt64(ctx, keyTodayInbound, func(ctx context.Context) (int64, error) {
		return a.repo.TodayTotal(ctx, string(ledger.KindInbound), a.midnight())
	})
}

// TodayOutbound totals units shipped since midnight UTC, as a positive
// figure.
func (a *Aggregator) TodayOutbound(ctx context.Context) (int64, error) {
	return a.cachedInt64(ctx, keyTodayOutbound, func(ctx context.Context) (int64, error) {
		return a.repo.TodayTotal(ctx, string(ledger.KindOutbound), a.midnight())
	})
}

// StockValue prices one product's current stock at its purchase price.
func (a *Aggregator) StockValue(ctx context.Context, productID int64) (decimal.Decimal, error) {
	product, err := a.catalog.GetProduct(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	qty, err := a.CurrentStock(ctx, productID)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(qty).Mul(product.PurchasePrice), nil
}

// TotalStockValue prices the whole warehouse, cached as a decimal string.
func (a *Aggregator) TotalStockValue(ctx context.Context) (decimal.Decimal, error) {
	raw, err, _ := a.group.Do(keyTotalValue, func() (any, error) {
		value, hit, err := a.cache.FetchString(ctx, keyTotalValue, func(ctx context.Context) (string, error) {
			total, err := a.repo.TotalStockValue(ctx)
			if err != nil {
				return "", err
			}
			return total.String(), nil
		})
		a.countCache(hit)
		return value, err
	})
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromString(raw.(string))
}

func (a *Aggregator) cachedInt64(ctx context.Context, key string, loader func(context.Context) (int64, error)) (int64, error) {
	value, err, _ := a.group.Do(key, func() (any, error) {
		value, hit, err := a.cache.FetchInt64(ctx, key, loader)
		a.countCache(hit)
		return value, err
	})
	if err != nil {
		return 0, err
	}
	return value.(int64), nil
}

func (a *Aggregator) countCache(hit bool) {
	if a.metrics != nil {
		a.metrics.CountCacheHit(hit)
	}
}

func (a *Aggregator) midnight() time.Time {
	now := a.now()
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}
