package ledger

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type cardRepo struct {
	movements []Movement
}

func (r *cardRepo) OpeningBalance(ctx context.Context, productID int64, before time.Time) (int64, error) {
	var sum int64
	for _, m := range r.movements {
		if m.ProductID == productID && m.CreatedAt.Before(before) {
			sum += m.Quantity
		}
	}
	return sum, nil
}

func (r *cardRepo) ListWindow(ctx context.Context, productID int64, from, to time.Time) ([]Movement, error) {
	out := []Movement{}
	for _, m := range r.movements {
		if m.ProductID != productID {
			continue
		}
		if !from.IsZero() && m.CreatedAt.Before(from) {
			continue
		}
		if !to.IsZero() && m.CreatedAt.After(to) {
			continue
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func day(d int) time.Time {
	return time.Date(2026, time.March, d, 12, 0, 0, 0, time.UTC)
}

func TestStockCardRunningBalance(t *testing.T) {
	repo := &cardRepo{movements: []Movement{
		{ID: 1, ProductID: 42, Quantity: 100, Kind: KindInbound, CreatedAt: day(1)},
		{ID: 2, ProductID: 42, Quantity: -30, Kind: KindOutbound, CreatedAt: day(2)},
		{ID: 3, ProductID: 42, Quantity: -5, Kind: KindAdjustmentMinus, CreatedAt: day(3)},
		{ID: 4, ProductID: 99, Quantity: 7, Kind: KindInbound, CreatedAt: day(2)},
	}}
	reader := NewCardReader(repo)

	card, err := reader.StockCard(context.Background(), 42, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.EqualValues(t, 0, card.OpeningBalance)
	require.Len(t, card.Entries, 3)
	require.EqualValues(t, 100, card.Entries[0].RunningBalance)
	require.EqualValues(t, 70, card.Entries[1].RunningBalance)
	require.EqualValues(t, 65, card.Entries[2].RunningBalance)
}

func TestStockCardWindowedOpeningBalance(t *testing.T) {
	repo := &cardRepo{movements: []Movement{
		{ID: 1, ProductID: 42, Quantity: 100, Kind: KindInbound, CreatedAt: day(1)},
		{ID: 2, ProductID: 42, Quantity: -30, Kind: KindOutbound, CreatedAt: day(5)},
		{ID: 3, ProductID: 42, Quantity: 20, Kind: KindInbound, CreatedAt: day(9)},
	}}
	reader := NewCardReader(repo)

	card, err := reader.StockCard(context.Background(), 42, day(4), day(6))
	require.NoError(t, err)
	require.EqualValues(t, 100, card.OpeningBalance)
	require.Len(t, card.Entries, 1)
	require.EqualValues(t, 70, card.Entries[0].RunningBalance)
}

func TestStockCardSameTimestampOrderedByID(t *testing.T) {
	at := day(1)
	repo := &cardRepo{movements: []Movement{
		{ID: 2, ProductID: 42, Quantity: -3, Kind: KindOutbound, CreatedAt: at},
		{ID: 1, ProductID: 42, Quantity: 10, Kind: KindInbound, CreatedAt: at},
	}}
	reader := NewCardReader(repo)

	card, err := reader.StockCard(context.Background(), 42, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Len(t, card.Entries, 2)
	require.EqualValues(t, 1, card.Entries[0].Movement.ID)
	require.EqualValues(t, 10, card.Entries[0].RunningBalance)
	require.EqualValues(t, 7, card.Entries[1].RunningBalance)
}

func TestStockCardIsRestartable(t *testing.T) {
	repo := &cardRepo{movements: []Movement{
		{ID: 1, ProductID: 42, Quantity: 100, Kind: KindInbound, CreatedAt: day(1)},
		{ID: 2, ProductID: 42, Quantity: -60, Kind: KindOutbound, CreatedAt: day(2)},
	}}
	reader := NewCardReader(repo)

	first, err := reader.StockCard(context.Background(), 42, time.Time{}, time.Time{})
	require.NoError(t, err)
	second, err := reader.StockCard(context.Background(), 42, time.Time{}, time.Time{})
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestStockCardRejectsBadWindow(t *testing.T) {
	reader := NewCardReader(&cardRepo{})

	_, err := reader.StockCard(context.Background(), 0, time.Time{}, time.Time{})
	require.ErrorIs(t, err, ErrInvalidArgument)

	_, err = reader.StockCard(context.Background(), 42, day(5), day(2))
	require.ErrorIs(t, err, ErrInvalidArgument)
}
