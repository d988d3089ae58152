package docs

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lumbung-erp/lumbung-erp/internal/ledger"
)

type memoryRepo struct {
	ops    map[int64]Operation
	nextID int64
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{ops: map[int64]Operation{}}
}

func (r *memoryRepo) Create(ctx context.Context, op *Operation) error {
	r.nextID++
	op.ID = r.nextID
	op.Number = "OUT-20260901-0001"
	op.Status = StatusDraft
	op.CreatedAt = time.Now().UTC()
	for i := range op.Items {
		op.Items[i].OperationID = op.ID
	}
	r.ops[op.ID] = *op
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (Operation, error) {
	op, ok := r.ops[id]
	if !ok {
		return Operation{}, ErrNotFound
	}
	return op, nil
}

func (r *memoryRepo) List(ctx context.Context, limit, offset int) ([]Operation, error) {
	out := []Operation{}
	for _, op := range r.ops {
		out = append(out, op)
	}
	return out, nil
}

func (r *memoryRepo) MarkPosted(ctx context.Context, id int64, at time.Time) error {
	op, ok := r.ops[id]
	if !ok {
		return ErrNotFound
	}
	if op.Status != StatusDraft {
		return ErrAlreadyPosted
	}
	op.Status = StatusPosted
	op.PostedAt = &at
	r.ops[id] = op
	return nil
}

func (r *memoryRepo) Delete(ctx context.Context, id int64) error {
	op, ok := r.ops[id]
	if !ok {
		return ErrNotFound
	}
	if op.Status != StatusDraft {
		return ErrAlreadyPosted
	}
	delete(r.ops, id)
	return nil
}

type fakeRecorder struct {
	available map[int64]int64
	inbound   map[string][]ledger.MovementItem
	outbound  map[string][]ledger.MovementItem
}

func newFakeRecorder() *fakeRecorder {
	return &fakeRecorder{
		available: map[int64]int64{},
		inbound:   map[string][]ledger.MovementItem{},
		outbound:  map[string][]ledger.MovementItem{},
	}
}

func (r *fakeRecorder) RecordInbound(ctx context.Context, source ledger.SourceRef, actorID int64, items []ledger.MovementItem) error {
	key := source.Key()
	if _, ok := r.inbound[key]; ok {
		return ledger.ErrSourceAlreadyPosted
	}
	r.inbound[key] = items
	return nil
}

func (r *fakeRecorder) RecordOutbound(ctx context.Context, source ledger.SourceRef, actorID int64, items []ledger.MovementItem) error {
	key := source.Key()
	if _, ok := r.outbound[key]; ok {
		return ledger.ErrSourceAlreadyPosted
	}
	shortages := []ledger.Shortage{}
	for _, item := range items {
		if item.Quantity > r.available[item.ProductID] {
			shortages = append(shortages, ledger.Shortage{
				ProductID: item.ProductID,
				Required:  item.Quantity,
				Available: r.available[item.ProductID],
				Shortage:  item.Quantity - r.available[item.ProductID],
			})
		}
	}
	if len(shortages) > 0 {
		return &ledger.InsufficientStockError{Shortages: shortages}
	}
	r.outbound[key] = items
	return nil
}

func TestCreateDraftDoesNotTouchStock(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	recorder := newFakeRecorder()
	svc := NewOutboundService(repo, recorder)

	op, err := svc.Create(ctx, 7, "PT Maju", "rush order", []ItemInput{{ProductID: 42, Quantity: 3}})
	require.NoError(t, err)
	require.Equal(t, StatusDraft, op.Status)
	require.NotEmpty(t, op.Number)
	require.Empty(t, recorder.outbound)
}

func TestPostOutboundRecordsAndCloses(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	recorder := newFakeRecorder()
	recorder.available[42] = 10
	svc := NewOutboundService(repo, recorder)

	op, err := svc.Create(ctx, 7, "", "", []ItemInput{{ProductID: 42, Quantity: 3}})
	require.NoError(t, err)

	posted, err := svc.Post(ctx, op.ID, 7)
	require.NoError(t, err)
	require.Equal(t, StatusPosted, posted.Status)
	require.NotNil(t, posted.PostedAt)

	source := ledger.SourceRef{Type: ledger.SourceOutboundOp, ID: op.ID}
	items := recorder.outbound[source.Key()]
	require.Len(t, items, 1)
	require.EqualValues(t, 3, items[0].Quantity)
}

func TestPostOutboundShortageKeepsDraft(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	recorder := newFakeRecorder()
	recorder.available[42] = 1
	svc := NewOutboundService(repo, recorder)

	op, err := svc.Create(ctx, 7, "", "", []ItemInput{{ProductID: 42, Quantity: 5}})
	require.NoError(t, err)

	_, err = svc.Post(ctx, op.ID, 7)
	var insufficient *ledger.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)

	stored, err := repo.Get(ctx, op.ID)
	require.NoError(t, err)
	require.Equal(t, StatusDraft, stored.Status)
}

func TestPostTwiceReturnsAlreadyPosted(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	recorder := newFakeRecorder()
	svc := NewInboundService(repo, recorder)

	op, err := svc.Create(ctx, 7, "", "", []ItemInput{{ProductID: 42, Quantity: 5}})
	require.NoError(t, err)

	_, err = svc.Post(ctx, op.ID, 7)
	require.NoError(t, err)

	_, err = svc.Post(ctx, op.ID, 7)
	require.ErrorIs(t, err, ErrAlreadyPosted)
	require.ErrorIs(t, svc.Delete(ctx, op.ID), ErrAlreadyPosted)
}

func TestCreateValidation(t *testing.T) {
	ctx := context.Background()
	svc := NewInboundService(newMemoryRepo(), newFakeRecorder())

	_, err := svc.Create(ctx, 7, "", "", nil)
	require.ErrorIs(t, err, ErrEmptyItems)

	_, err = svc.Create(ctx, 7, "", "", []ItemInput{{ProductID: 0, Quantity: 1}})
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)

	_, err = svc.Create(ctx, 7, "", "", []ItemInput{{ProductID: 42, Quantity: 0}})
	require.ErrorIs(t, err, ledger.ErrInvalidArgument)
}
