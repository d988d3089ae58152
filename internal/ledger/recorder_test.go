package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// memoryRepo mirrors the read-committed repository: per-product row locks
// are held until the transaction ends, and sums read whatever is committed
// at the moment of the query plus the transaction's own staged writes.
type memoryRepo struct {
	mu         sync.Mutex
	movements  []Movement
	nextID     int64
	failInsert error
	locked     [][]int64
	rowLocks   map[int64]*sync.Mutex
}

type memoryTx struct {
	repo   *memoryRepo
	staged []Movement
	held   []*sync.Mutex
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{rowLocks: map[int64]*sync.Mutex{}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	tx := &memoryTx{repo: r}
	err := fn(ctx, tx)
	if err == nil {
		r.mu.Lock()
		r.movements = append(r.movements, tx.staged...)
		r.mu.Unlock()
	}
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.held[i].Unlock()
	}
	return err
}

func (r *memoryRepo) rowLock(productID int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.rowLocks[productID] == nil {
		r.rowLocks[productID] = &sync.Mutex{}
	}
	return r.rowLocks[productID]
}

func (r *memoryRepo) sumProduct(productID int64, staged []Movement) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum int64
	for _, m := range r.movements {
		if m.ProductID == productID {
			sum += m.Quantity
		}
	}
	for _, m := range staged {
		if m.ProductID == productID {
			sum += m.Quantity
		}
	}
	return sum
}

func (r *memoryRepo) sumVariant(variantID int64, staged []Movement) int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	var sum int64
	for _, m := range r.movements {
		if m.VariantID == variantID {
			sum += m.Quantity
		}
	}
	for _, m := range staged {
		if m.VariantID == variantID {
			sum += m.Quantity
		}
	}
	return sum
}

func (tx *memoryTx) LockProducts(ctx context.Context, productIDs []int64) error {
	ids := make([]int64, len(productIDs))
	copy(ids, productIDs)
	tx.repo.mu.Lock()
	tx.repo.locked = append(tx.repo.locked, ids)
	tx.repo.mu.Unlock()
	for _, id := range ids {
		lock := tx.repo.rowLock(id)
		lock.Lock()
		tx.held = append(tx.held, lock)
	}
	return nil
}

func (tx *memoryTx) SumProduct(ctx context.Context, productID int64) (int64, error) {
	return tx.repo.sumProduct(productID, tx.staged), nil
}

func (tx *memoryTx) SumVariant(ctx context.Context, variantID int64) (int64, error) {
	return tx.repo.sumVariant(variantID, tx.staged), nil
}

func (tx *memoryTx) ExistsBySource(ctx context.Context, ref SourceRef) (bool, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	for _, m := range tx.repo.movements {
		if m.Source == ref {
			return true, nil
		}
	}
	return false, nil
}

func (tx *memoryTx) InsertMovement(ctx context.Context, m Movement) (int64, error) {
	tx.repo.mu.Lock()
	defer tx.repo.mu.Unlock()
	if tx.repo.failInsert != nil {
		return 0, tx.repo.failInsert
	}
	tx.repo.nextID++
	m.ID = tx.repo.nextID
	tx.staged = append(tx.staged, m)
	return m.ID, nil
}

// memoryKeys is an in-memory claim store.
type memoryKeys struct {
	mu   sync.Mutex
	held map[string]bool
}

func newMemoryKeys() *memoryKeys {
	return &memoryKeys{held: map[string]bool{}}
}

func (s *memoryKeys) Claim(ctx context.Context, key, scope string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.held[key] {
		return false, nil
	}
	s.held[key] = true
	return true, nil
}

func (s *memoryKeys) Release(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.held, key)
	return nil
}

func newTestRecorder(repo *memoryRepo) *Recorder {
	return NewRecorder(repo, nil, nil, nil, nil)
}

func TestRecorderLifecycle(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	rec := newTestRecorder(repo)

	err := rec.RecordInbound(ctx, SourceRef{Type: SourceInboundOp, ID: 1}, 7, []MovementItem{{ProductID: 42, Quantity: 100}})
	require.NoError(t, err)
	require.EqualValues(t, 100, repo.sumProduct(42, nil))

	err = rec.RecordOutbound(ctx, SourceRef{Type: SourceOutboundOp, ID: 1}, 7, []MovementItem{{ProductID: 42, Quantity: 30}})
	require.NoError(t, err)
	require.EqualValues(t, 70, repo.sumProduct(42, nil))

	err = rec.RecordAdjustment(ctx, SourceRef{Type: SourceStockCount, ID: 1}, 42, -5, 7)
	require.NoError(t, err)
	require.EqualValues(t, 65, repo.sumProduct(42, nil))

	for _, m := range repo.movements {
		require.True(t, m.Kind.SignValid(m.Quantity), "movement %d has wrong sign for %s", m.ID, m.Kind)
	}
}

func TestRecordOutboundInsufficientStock(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	rec := newTestRecorder(repo)

	require.NoError(t, rec.RecordInbound(ctx, SourceRef{Type: SourceInboundOp, ID: 1}, 7, []MovementItem{{ProductID: 42, Quantity: 65}}))

	err := rec.RecordOutbound(ctx, SourceRef{Type: SourceOutboundOp, ID: 9}, 7, []MovementItem{{ProductID: 42, Quantity: 1000}})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Len(t, insufficient.Shortages, 1)
	require.EqualValues(t, 1000, insufficient.Shortages[0].Required)
	require.EqualValues(t, 65, insufficient.Shortages[0].Available)
	require.EqualValues(t, 935, insufficient.Shortages[0].Shortage)

	// Nothing committed, balance untouched.
	require.EqualValues(t, 65, repo.sumProduct(42, nil))
	require.Len(t, repo.movements, 1)
}

func TestRecordOutboundReportsAllShortages(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	rec := newTestRecorder(repo)

	require.NoError(t, rec.RecordInbound(ctx, SourceRef{Type: SourceInboundOp, ID: 1}, 7, []MovementItem{
		{ProductID: 1, Quantity: 5},
		{ProductID: 2, Quantity: 50},
		{ProductID: 3, Quantity: 2},
	}))

	err := rec.RecordOutbound(ctx, SourceRef{Type: SourceOutboundOp, ID: 2}, 7, []MovementItem{
		{ProductID: 1, Quantity: 10},
		{ProductID: 2, Quantity: 20},
		{ProductID: 3, Quantity: 4},
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Len(t, insufficient.Shortages, 2)
	require.EqualValues(t, 1, insufficient.Shortages[0].ProductID)
	require.EqualValues(t, 3, insufficient.Shortages[1].ProductID)
	require.Len(t, repo.movements, 3)
}

func TestRecordOutboundAggregatesDemandPerProduct(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	rec := newTestRecorder(repo)

	require.NoError(t, rec.RecordInbound(ctx, SourceRef{Type: SourceInboundOp, ID: 1}, 7, []MovementItem{{ProductID: 42, Quantity: 10}}))

	// Two lines of 6 each: individually fine, together short by 2.
	err := rec.RecordOutbound(ctx, SourceRef{Type: SourceOutboundOp, ID: 2}, 7, []MovementItem{
		{ProductID: 42, Quantity: 6},
		{ProductID: 42, Quantity: 6},
	})
	var insufficient *InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	require.Len(t, insufficient.Shortages, 1)
	require.EqualValues(t, 12, insufficient.Shortages[0].Required)
	require.EqualValues(t, 2, insufficient.Shortages[0].Shortage)
}

func TestRecordOutboundLocksSortedUniqueProducts(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	rec := newTestRecorder(repo)

	require.NoError(t, rec.RecordInbound(ctx, SourceRef{Type: SourceInboundOp, ID: 1}, 7, []MovementItem{
		{ProductID: 9, Quantity: 10},
		{ProductID: 3, Quantity: 10},
	}))
	require.NoError(t, rec.RecordOutbound(ctx, SourceRef{Type: SourceOutboundOp, ID: 2}, 7, []MovementItem{
		{ProductID: 9, Quantity: 1},
		{ProductID: 3, Quantity: 1},
		{ProductID: 9, Quantity: 1},
	}))

	last := repo.locked[len(repo.locked)-1]
	require.Equal(t, []int64{3, 9}, last)
}

func TestRecordSameSourceTwiceRejected(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	rec := newTestRecorder(repo)

	source := SourceRef{Type: SourceInboundOp, ID: 5}
	require.NoError(t, rec.RecordInbound(ctx, source, 7, []MovementItem{{ProductID: 42, Quantity: 10}}))

	err := rec.RecordInbound(ctx, source, 7, []MovementItem{{ProductID: 42, Quantity: 10}})
	require.ErrorIs(t, err, ErrSourceAlreadyPosted)
	require.EqualValues(t, 10, repo.sumProduct(42, nil))
}

func TestRecordAdjustmentZeroVarianceIsNoop(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	rec := newTestRecorder(repo)

	require.NoError(t, rec.RecordAdjustment(ctx, SourceRef{Type: SourceStockCount, ID: 3}, 42, 0, 7))
	require.Empty(t, repo.movements)
}

func TestRecordAdjustmentsCommitTogether(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	rec := newTestRecorder(repo)

	err := rec.RecordAdjustments(ctx, SourceRef{Type: SourceStockCount, ID: 4}, 7, []Adjustment{
		{ProductID: 1, Variance: 3},
		{ProductID: 2, Variance: 0},
		{ProductID: 3, Variance: -2},
	})
	require.NoError(t, err)
	require.Len(t, repo.movements, 2)
	require.Equal(t, KindAdjustmentPlus, repo.movements[0].Kind)
	require.Equal(t, KindAdjustmentMinus, repo.movements[1].Kind)
	require.EqualValues(t, -2, repo.movements[1].Quantity)
}

func TestWriteFailureRollsBackWholeCall(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	repo.failInsert = errors.New("disk full")
	rec := newTestRecorder(repo)

	err := rec.RecordInbound(ctx, SourceRef{Type: SourceInboundOp, ID: 6}, 7, []MovementItem{
		{ProductID: 1, Quantity: 5},
		{ProductID: 2, Quantity: 5},
	})
	require.ErrorIs(t, err, ErrWriteFailed)
	require.Empty(t, repo.movements)
}

func TestConcurrentOutboundCannotOversell(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	rec := newTestRecorder(repo)

	require.NoError(t, rec.RecordInbound(ctx, SourceRef{Type: SourceInboundOp, ID: 1}, 7, []MovementItem{{ProductID: 42, Quantity: 100}}))

	// Two shipments of 60 against a stock of 100: whichever acquires the
	// row lock second must observe the first one's committed entries and
	// come up short.
	errs := make(chan error, 2)
	var wg sync.WaitGroup
	for i := int64(0); i < 2; i++ {
		wg.Add(1)
		go func(docID int64) {
			defer wg.Done()
			errs <- rec.RecordOutbound(ctx, SourceRef{Type: SourceOutboundOp, ID: docID}, 7, []MovementItem{{ProductID: 42, Quantity: 60}})
		}(10 + i)
	}
	wg.Wait()
	close(errs)

	succeeded, short := 0, 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		var insufficient *InsufficientStockError
		require.ErrorAs(t, err, &insufficient)
		require.EqualValues(t, 20, insufficient.Shortages[0].Shortage)
		short++
	}
	require.Equal(t, 1, succeeded)
	require.Equal(t, 1, short)
	require.EqualValues(t, 40, repo.sumProduct(42, nil))
}

func TestDuplicatePostAnsweredAsAlreadyPosted(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	keys := newMemoryKeys()
	rec := NewRecorder(repo, nil, nil, keys, nil)

	require.NoError(t, rec.RecordInbound(ctx, SourceRef{Type: SourceInboundOp, ID: 8}, 7, []MovementItem{{ProductID: 42, Quantity: 10}}))

	source := SourceRef{Type: SourceOutboundOp, ID: 8}
	require.NoError(t, rec.RecordOutbound(ctx, source, 7, []MovementItem{{ProductID: 42, Quantity: 5}}))
	err := rec.RecordOutbound(ctx, source, 7, []MovementItem{{ProductID: 42, Quantity: 5}})
	require.ErrorIs(t, err, ErrSourceAlreadyPosted)
	require.EqualValues(t, 5, repo.sumProduct(42, nil))
}

func TestFailedPostReleasesClaim(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryRepo()
	keys := newMemoryKeys()
	rec := NewRecorder(repo, nil, nil, keys, nil)

	repo.failInsert = errors.New("disk full")
	source := SourceRef{Type: SourceInboundOp, ID: 9}
	err := rec.RecordInbound(ctx, source, 7, []MovementItem{{ProductID: 1, Quantity: 5}})
	require.ErrorIs(t, err, ErrWriteFailed)
	require.Empty(t, keys.held)

	// With the key released, the retry goes through.
	repo.failInsert = nil
	require.NoError(t, rec.RecordInbound(ctx, source, 7, []MovementItem{{ProductID: 1, Quantity: 5}}))
	require.EqualValues(t, 5, repo.sumProduct(1, nil))
}

func TestRecorderValidation(t *testing.T) {
	ctx := context.Background()
	rec := newTestRecorder(newMemoryRepo())

	err := rec.RecordInbound(ctx, SourceRef{Type: "WISH", ID: 1}, 7, []MovementItem{{ProductID: 1, Quantity: 1}})
	require.ErrorIs(t, err, ErrInvalidArgument)

	err = rec.RecordInbound(ctx, SourceRef{Type: SourceInboundOp, ID: 1}, 7, nil)
	require.ErrorIs(t, err, ErrInvalidArgument)

	err = rec.RecordOutbound(ctx, SourceRef{Type: SourceOutboundOp, ID: 1}, 7, []MovementItem{{ProductID: 1, Quantity: -4}})
	require.ErrorIs(t, err, ErrInvalidArgument)

	err = rec.RecordAdjustment(ctx, SourceRef{Type: SourceStockCount, ID: 1}, 0, 5, 7)
	require.ErrorIs(t, err, ErrInvalidArgument)
}
