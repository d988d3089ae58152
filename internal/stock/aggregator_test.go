package stock

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/lumbung-erp/lumbung-erp/internal/catalog"
	"github.com/lumbung-erp/lumbung-erp/internal/ledger"
)

type fakeReadRepo struct {
	products   map[int64]int64
	variants   map[int64]int64
	today      map[string]int64
	totalValue decimal.Decimal
	sumCalls   int
}

func (r *fakeReadRepo) SumProduct(ctx context.Context, productID int64) (int64, error) {
	r.sumCalls++
	return r.products[productID], nil
}

func (r *fakeReadRepo) SumVariant(ctx context.Context, variantID int64) (int64, error) {
	r.sumCalls++
	return r.variants[variantID], nil
}

func (r *fakeReadRepo) TodayTotal(ctx context.Context, kind string, since time.Time) (int64, error) {
	return r.today[kind], nil
}

func (r *fakeReadRepo) TotalStockValue(ctx context.Context) (decimal.Decimal, error) {
	return r.totalValue, nil
}

type fakeCatalog struct {
	products map[int64]catalog.Product
}

func (c *fakeCatalog) GetProduct(ctx context.Context, productID int64) (catalog.Product, error) {
	product, ok := c.products[productID]
	if !ok {
		return catalog.Product{}, catalog.ErrProductNotFound
	}
	return product, nil
}

func newTestAggregator(t *testing.T, repo *fakeReadRepo, products *fakeCatalog) (*Aggregator, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	if products == nil {
		products = &fakeCatalog{}
	}
	return NewAggregator(repo, NewCache(client, time.Hour), products, nil), mr
}

func TestCurrentStockCachesLedgerSum(t *testing.T) {
	ctx := context.Background()
	repo := &fakeReadRepo{products: map[int64]int64{42: 65}}
	agg, _ := newTestAggregator(t, repo, nil)

	qty, err := agg.CurrentStock(ctx, 42)
	require.NoError(t, err)
	require.EqualValues(t, 65, qty)
	require.Equal(t, 1, repo.sumCalls)

	// Second read is served from the cache even though the repo changed.
	repo.products[42] = 999
	qty, err = agg.CurrentStock(ctx, 42)
	require.NoError(t, err)
	require.EqualValues(t, 65, qty)
	require.Equal(t, 1, repo.sumCalls)
}

func TestInvalidateDropsDependentKeys(t *testing.T) {
	ctx := context.Background()
	repo := &fakeReadRepo{
		products: map[int64]int64{42: 10},
		variants: map[int64]int64{7: 4},
		today:    map[string]int64{string(ledger.KindInbound): 10},
	}
	agg, mr := newTestAggregator(t, repo, nil)

	_, err := agg.CurrentStock(ctx, 42)
	require.NoError(t, err)
	_, err = agg.CurrentStockForVariant(ctx, 7)
	require.NoError(t, err)
	_, err = agg.TodayInbound(ctx)
	require.NoError(t, err)
	require.True(t, mr.Exists("stock:product:42"))
	require.True(t, mr.Exists("stock:variant:7"))
	require.True(t, mr.Exists("stock:today:in"))

	require.NoError(t, agg.Invalidate(ctx, 42, []int64{7}))
	require.False(t, mr.Exists("stock:product:42"))
	require.False(t, mr.Exists("stock:variant:7"))
	require.False(t, mr.Exists("stock:today:in"))

	// Next read recomputes from the ledger.
	repo.products[42] = 11
	qty, err := agg.CurrentStock(ctx, 42)
	require.NoError(t, err)
	require.EqualValues(t, 11, qty)
}

func TestCurrentStockFreshBypassesCache(t *testing.T) {
	ctx := context.Background()
	repo := &fakeReadRepo{products: map[int64]int64{42: 10}}
	agg, _ := newTestAggregator(t, repo, nil)

	_, err := agg.CurrentStock(ctx, 42)
	require.NoError(t, err)

	repo.products[42] = 3
	qty, err := agg.CurrentStockFresh(ctx, 42)
	require.NoError(t, err)
	require.EqualValues(t, 3, qty)
}

func TestStockValueUsesPurchasePrice(t *testing.T) {
	ctx := context.Background()
	repo := &fakeReadRepo{products: map[int64]int64{42: 4}}
	products := &fakeCatalog{products: map[int64]catalog.Product{
		42: {ID: 42, PurchasePrice: decimal.RequireFromString("19.95")},
	}}
	agg, _ := newTestAggregator(t, repo, products)

	value, err := agg.StockValue(ctx, 42)
	require.NoError(t, err)
	require.True(t, value.Equal(decimal.RequireFromString("79.80")), "got %s", value)
}

func TestTotalStockValueRoundTripsDecimal(t *testing.T) {
	ctx := context.Background()
	repo := &fakeReadRepo{totalValue: decimal.RequireFromString("12345.67")}
	agg, _ := newTestAggregator(t, repo, nil)

	total, err := agg.TotalStockValue(ctx)
	require.NoError(t, err)
	require.True(t, total.Equal(decimal.RequireFromString("12345.67")))

	// Cached copy survives a repo change until invalidation.
	repo.totalValue = decimal.Zero
	total, err = agg.TotalStockValue(ctx)
	require.NoError(t, err)
	require.True(t, total.Equal(decimal.RequireFromString("12345.67")))
}

func TestAggregatorDegradesWithoutRedis(t *testing.T) {
	ctx := context.Background()
	repo := &fakeReadRepo{products: map[int64]int64{42: 8}}
	agg := NewAggregator(repo, NewCache(nil, time.Hour), &fakeCatalog{}, nil)

	qty, err := agg.CurrentStock(ctx, 42)
	require.NoError(t, err)
	require.EqualValues(t, 8, qty)
}

func TestAggregatorRejectsBadIDs(t *testing.T) {
	ctx := context.Background()
	agg, _ := newTestAggregator(t, &fakeReadRepo{}, nil)

	_, err := agg.CurrentStock(ctx, 0)
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
	_, err = agg.CurrentStockForVariant(ctx, -1)
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
}
