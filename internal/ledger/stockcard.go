package ledger

import (
	"context"
	"fmt"
	"time"
)

// CardEntry pairs a movement with the running balance after applying it.
type CardEntry struct {
	Movement       Movement `json:"movement"`
	RunningBalance int64    `json:"running_balance"`
}

// Card is a reconstructed stock card: the opening balance before the
// window plus every movement within it, in replay order.
type Card struct {
	ProductID      int64       `json:"product_id"`
	OpeningBalance int64       `json:"opening_balance"`
	Entries        []CardEntry `json:"entries"`
}

// CardRepositoryPort exposes the reads the reconstructor needs.
type CardRepositoryPort interface {
	OpeningBalance(ctx context.Context, productID int64, before time.Time) (int64, error)
	ListWindow(ctx context.Context, productID int64, from, to time.Time) ([]Movement, error)
}

// CardReader replays the ledger for reporting. Read-only and restartable:
// the same window yields the same card as long as no new movements land.
type CardReader struct {
	repo CardRepositoryPort
}

// NewCardReader builds CardReader.
func NewCardReader(repo CardRepositoryPort) *CardReader {
	return &CardReader{repo: repo}
}

// StockCard reconstructs the running balance for a product across an
// optional [from, to] window. Zero times leave the window open-ended.
func (r *CardReader) StockCard(ctx context.Context, productID int64, from, to time.Time) (Card, error) {
	if productID <= 0 {
		return Card{}, fmt.Errorf("%w: product required", ErrInvalidArgument)
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return Card{}, fmt.Errorf("%w: window end before start", ErrInvalidArgument)
	}
	card := Card{ProductID: productID}
	if !from.IsZero() {
		opening, err := r.repo.OpeningBalance(ctx, productID, from)
		if err != nil {
			return Card{}, err
		}
		card.OpeningBalance = opening
	}
	movements, err := r.repo.ListWindow(ctx, productID, from, to)
	if err != nil {
		return Card{}, err
	}
	balance := card.OpeningBalance
	card.Entries = make([]CardEntry, 0, len(movements))
	for _, m := range movements {
		balance += m.Quantity
		card.Entries = append(card.Entries, CardEntry{Movement: m, RunningBalance: balance})
	}
	return card, nil
}
