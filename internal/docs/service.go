package docs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/lumbung-erp/lumbung-erp/internal/ledger"
)

// RepositoryPort abstracts document persistence for the service.
type RepositoryPort interface {
	Create(ctx context.Context, op *Operation) error
	Get(ctx context.Context, id int64) (Operation, error)
	List(ctx context.Context, limit, offset int) ([]Operation, error)
	MarkPosted(ctx context.Context, id int64, at time.Time) error
	Delete(ctx context.Context, id int64) error
}

// RecorderPort posts document lines into the ledger.
type RecorderPort interface {
	RecordInbound(ctx context.Context, source ledger.SourceRef, actorID int64, items []ledger.MovementItem) error
	RecordOutbound(ctx context.Context, source ledger.SourceRef, actorID int64, items []ledger.MovementItem) error
}

// Service drives the goods document lifecycle for one direction.
type Service struct {
	repo      RepositoryPort
	recorder  RecorderPort
	direction string
	now       func() time.Time
}

// NewInboundService builds the inbound document service.
func NewInboundService(repo RepositoryPort, recorder RecorderPort) *Service {
	return &Service{repo: repo, recorder: recorder, direction: DirectionInbound, now: func() time.Time { return time.Now().UTC() }}
}

// NewOutboundService builds the outbound document service.
func NewOutboundService(repo RepositoryPort, recorder RecorderPort) *Service {
	return &Service{repo: repo, recorder: recorder, direction: DirectionOutbound, now: func() time.Time { return time.Now().UTC() }}
}

// Create drafts a document. Drafting never touches stock.
func (s *Service) Create(ctx context.Context, actorID int64, partnerName, note string, inputs []ItemInput) (Operation, error) {
	items, err := validateInputs(inputs)
	if err != nil {
		return Operation{}, err
	}
	op := Operation{PartnerName: partnerName, Note: note, CreatedBy: actorID, Items: items}
	if err := s.repo.Create(ctx, &op); err != nil {
		return Operation{}, err
	}
	return op, nil
}

// Get fetches one document with lines.
func (s *Service) Get(ctx context.Context, id int64) (Operation, error) {
	return s.repo.Get(ctx, id)
}

// List pages through documents, newest first.
func (s *Service) List(ctx context.Context, limit, offset int) ([]Operation, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.List(ctx, limit, offset)
}

// Post moves the document's goods through the ledger and closes it. The
// ledger write carries the availability check for outbound documents; a
// shortage surfaces as ledger.InsufficientStockError and the document
// stays a draft. A repeat post returns ErrAlreadyPosted.
func (s *Service) Post(ctx context.Context, id int64, actorID int64) (Operation, error) {
	op, err := s.repo.Get(ctx, id)
	if err != nil {
		return Operation{}, err
	}
	if op.Status == StatusPosted {
		return Operation{}, ErrAlreadyPosted
	}
	items := make([]ledger.MovementItem, 0, len(op.Items))
	for _, item := range op.Items {
		items = append(items, ledger.MovementItem{ProductID: item.ProductID, VariantID: item.VariantID, Quantity: item.Quantity})
	}
	source := ledger.SourceRef{Type: sourceType(s.direction), ID: op.ID}
	if s.direction == DirectionOutbound {
		err = s.recorder.RecordOutbound(ctx, source, actorID, items)
	} else {
		err = s.recorder.RecordInbound(ctx, source, actorID, items)
	}
	if err != nil {
		if errors.Is(err, ledger.ErrSourceAlreadyPosted) {
			return Operation{}, ErrAlreadyPosted
		}
		return Operation{}, err
	}
	if err := s.repo.MarkPosted(ctx, id, s.now()); err != nil {
		return Operation{}, err
	}
	return s.repo.Get(ctx, id)
}

// Delete removes a draft. Posted documents are immutable.
func (s *Service) Delete(ctx context.Context, id int64) error {
	return s.repo.Delete(ctx, id)
}

func validateInputs(inputs []ItemInput) ([]OperationItem, error) {
	if len(inputs) == 0 {
		return nil, ErrEmptyItems
	}
	items := make([]OperationItem, 0, len(inputs))
	for i, input := range inputs {
		if input.ProductID <= 0 {
			return nil, fmt.Errorf("%w: item %d: product required", ledger.ErrInvalidArgument, i+1)
		}
		if input.Quantity <= 0 {
			return nil, fmt.Errorf("%w: item %d: quantity must be positive", ledger.ErrInvalidArgument, i+1)
		}
		items = append(items, OperationItem{ProductID: input.ProductID, VariantID: input.VariantID, Quantity: input.Quantity})
	}
	return items, nil
}
