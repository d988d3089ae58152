package stockcount

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lumbung-erp/lumbung-erp/internal/ledger"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	Create(ctx context.Context, count *StockCount) error
	Get(ctx context.Context, id int64) (StockCount, error)
	List(ctx context.Context, limit, offset int) ([]StockCount, error)
	ReplaceItems(ctx context.Context, countID int64, note string, items []CountItem) error
	Delete(ctx context.Context, countID int64) error
	MarkConfirmed(ctx context.Context, countID int64, at time.Time) error
}

// StockPort reads current stock straight from the ledger. Fresh reads
// only: a cached figure must never become a frozen snapshot.
type StockPort interface {
	CurrentStockFresh(ctx context.Context, productID int64) (int64, error)
}

// RecorderPort posts the variance adjustments.
type RecorderPort interface {
	RecordAdjustments(ctx context.Context, source ledger.SourceRef, actorID int64, adjustments []ledger.Adjustment) error
}

// Service drives the stock count lifecycle: draft, edit, confirm.
type Service struct {
	repo     RepositoryPort
	stock    StockPort
	recorder RecorderPort
	now      func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, stock StockPort, recorder RecorderPort) *Service {
	return &Service{repo: repo, stock: stock, recorder: recorder, now: func() time.Time { return time.Now().UTC() }}
}

// Create opens a draft count. System stock is read fresh per item and the
// variance frozen immediately, so later movements do not shift what the
// physical count was compared against.
func (s *Service) Create(ctx context.Context, actorID int64, note string, inputs []ItemInput) (StockCount, error) {
	items, err := s.freezeItems(ctx, inputs)
	if err != nil {
		return StockCount{}, err
	}
	count := StockCount{Note: note, CreatedBy: actorID, Items: items}
	if err := s.repo.Create(ctx, &count); err != nil {
		return StockCount{}, err
	}
	return count, nil
}

// Get fetches one count with items.
func (s *Service) Get(ctx context.Context, id int64) (StockCount, error) {
	return s.repo.Get(ctx, id)
}

// List pages through counts, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]StockCount, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}

// Update replaces a draft's items, re-freezing system stock for the new
// item set. Confirmed counts are immutable.
func (s *Service) Update(ctx context.Context, id int64, note string, inputs []ItemInput) (StockCount, error) {
	items, err := s.freezeItems(ctx, inputs)
	if err != nil {
		return StockCount{}, err
	}
	if err := s.repo.ReplaceItems(ctx, id, note, items); err != nil {
		return StockCount{}, err
	}
	return s.repo.Get(ctx, id)
}

// Delete removes a draft count. Confirmed counts are kept for audit.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

// Confirm posts the frozen variances as adjustment movements, all in one
// transaction, then closes the count. A repeat confirm returns
// ErrAlreadyConfirmed and writes nothing, even under concurrency: the
// ledger refuses a second posting for the same source document.
func (s *Service) Confirm(ctx context.Context, id int64, actorID int64) (StockCount, error) {
	count, err := s.repo.Get(ctx, id)
	if err != nil {
		return StockCount{}, err
	}
	if count.Status == StatusConfirmed {
		return StockCount{}, ErrAlreadyConfirmed
	}
	adjustments := make([]ledger.Adjustment, 0, len(count.Items))
	for _, item := range count.Items {
		adjustments = append(adjustments, ledger.Adjustment{ProductID: item.ProductID, Variance: item.Variance})
	}
	source := ledger.SourceRef{Type: ledger.SourceStockCount, ID: count.ID}
	if err := s.recorder.RecordAdjustments(ctx, source, actorID, adjustments); err != nil {
		if errors.Is(err, ledger.ErrSourceAlreadyPosted) {
			return StockCount{}, ErrAlreadyConfirmed
		}
		return StockCount{}, err
	}
	if err := s.repo.MarkConfirmed(ctx, id, s.now()); err != nil {
		return StockCount{}, err
	}
	return s.repo.Get(ctx, id)
}

func (s *Service) freezeItems(ctx context.Context, inputs []ItemInput) ([]CountItem, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyItems
	}
	items := make([]CountItem, 0, len(inputs))
	seen := map[int64]struct{}{}
	for i, input := range inputs {
		if input.ProductID <= 0 {
			return nil, fmt.Errorf("%w: item %d: product required", ledger.ErrInvalidArgument, i+1)
		}
		if input.CountedStock < 0 {
			return nil, fmt.Errorf("%w: item %d: counted stock cannot be negative", ledger.ErrInvalidArgument, i+1)
		}
		if _, ok := seen[input.ProductID]; ok {
			return nil, fmt.Errorf("%w: item %d: duplicate product", ledger.ErrInvalidArgument, i+1)
		}
		seen[input.ProductID] = struct{}{}
		system, err := s.stock.CurrentStockFresh(ctx, input.ProductID)
		if err != nil {
			return nil, err
		}
		items = append(items, CountItem{
			ProductID:    input.ProductID,
			SystemStock:  system,
			CountedStock: input.CountedStock,
			Variance:     input.CountedStock - system,
		})
	}
	return items, nil
}
