package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/google/uuid"

	"github.com/lumbung-erp/lumbung-erp/internal/observability"
	"github.com/lumbung-erp/lumbung-erp/internal/shared"
)

// RepositoryPort abstracts repository usage for the recorder.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
}

// CachePort invalidates derived stock figures after a committed write.
type CachePort interface {
	Invalidate(ctx context.Context, productID int64, variantIDs []int64) error
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// IdempotencyPort guards one posting per derived key.
type IdempotencyPort interface {
	Claim(ctx context.Context, key, scope string) (bool, error)
	Release(ctx context.Context, key string) error
}

// Recorder is the only writer of the stock ledger. Each entry point is one
// unit of work: every movement of a call commits together or none do.
type Recorder struct {
	repo        RepositoryPort
	cache       CachePort
	audit       AuditPort
	idempotency IdempotencyPort
	metrics     *observability.Metrics
}

// NewRecorder builds Recorder.
func NewRecorder(repo RepositoryPort, cache CachePort, audit AuditPort, idem IdempotencyPort, metrics *observability.Metrics) *Recorder {
	return &Recorder{repo: repo, cache: cache, audit: audit, idempotency: idem, metrics: metrics}
}

// RecordInbound writes one positive IN entry per item for a received
// document, in the order supplied.
func (r *Recorder) RecordInbound(ctx context.Context, source SourceRef, actorID int64, items []MovementItem) error {
	if err := validateItems(source, items); err != nil {
		return err
	}
	return r.post(ctx, source, actorID, KindInbound, items, "")
}

// RecordOutbound ships goods. Availability is checked and the entries are
// written inside the same transaction, under row locks on the affected
// products, so a concurrent shipment observes the committed stock of the
// first and cannot oversell. If any item is short the whole call fails
// with InsufficientStockError listing every offending item.
func (r *Recorder) RecordOutbound(ctx context.Context, source SourceRef, actorID int64, items []MovementItem) error {
	if err := validateItems(source, items); err != nil {
		return err
	}
	key, insertedKey, err := r.claimKey(ctx, fmt.Sprintf("%s:%s", KindOutbound, source.Key()))
	if err != nil {
		return err
	}
	err = r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		posted, err := tx.ExistsBySource(ctx, source)
		if err != nil {
			return wrapWrite(err)
		}
		if posted {
			return ErrSourceAlreadyPosted
		}
		if err := tx.LockProducts(ctx, uniqueProductIDs(items)); err != nil {
			return wrapWrite(err)
		}
		shortages, err := collectShortages(ctx, tx, items)
		if err != nil {
			return wrapWrite(err)
		}
		if len(shortages) > 0 {
			return &InsufficientStockError{Shortages: shortages}
		}
		for _, item := range items {
			movement := Movement{
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Quantity:  -item.Quantity,
				Kind:      KindOutbound,
				Source:    source,
				ActorID:   actorID,
			}
			if _, err := tx.InsertMovement(ctx, movement); err != nil {
				return wrapWrite(err)
			}
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = r.idempotency.Release(ctx, key)
		}
		return err
	}
	r.afterCommit(ctx, source, actorID, KindOutbound, items)
	return nil
}

// RecordAdjustment writes a single signed correction entry. A zero variance
// is a no-op: zero-variance reconciliations produce no ledger entry.
func (r *Recorder) RecordAdjustment(ctx context.Context, source SourceRef, productID int64, variance int64, actorID int64) error {
	if err := source.Validate(); err != nil {
		return err
	}
	if productID <= 0 {
		return fmt.Errorf("%w: product required", ErrInvalidArgument)
	}
	if variance == 0 {
		return nil
	}
	return r.RecordAdjustments(ctx, source, actorID, []Adjustment{{ProductID: productID, Variance: variance}})
}

// RecordAdjustments writes one correction entry per non-zero variance, all
// in one transaction. Used by stock count confirmation so a multi-item
// reconciliation cannot partially apply.
func (r *Recorder) RecordAdjustments(ctx context.Context, source SourceRef, actorID int64, adjustments []Adjustment) error {
	if err := source.Validate(); err != nil {
		return err
	}
	effective := make([]Adjustment, 0, len(adjustments))
	for _, adj := range adjustments {
		if adj.ProductID <= 0 {
			return fmt.Errorf("%w: product required", ErrInvalidArgument)
		}
		if adj.Variance == 0 {
			continue
		}
		effective = append(effective, adj)
	}
	if len(effective) == 0 {
		return nil
	}
	key, insertedKey, err := r.claimKey(ctx, fmt.Sprintf("ADJ:%s", source.Key()))
	if err != nil {
		return err
	}
	err = r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		posted, err := tx.ExistsBySource(ctx, source)
		if err != nil {
			return wrapWrite(err)
		}
		if posted {
			return ErrSourceAlreadyPosted
		}
		for _, adj := range effective {
			movement := Movement{
				ProductID: adj.ProductID,
				Quantity:  adj.Variance,
				Kind:      KindAdjustmentPlus,
				Source:    source,
				ActorID:   actorID,
				Note:      fmt.Sprintf("surplus of %d units", adj.Variance),
			}
			if adj.Variance < 0 {
				movement.Kind = KindAdjustmentMinus
				movement.Note = fmt.Sprintf("shortage of %d units", -adj.Variance)
			}
			if _, err := tx.InsertMovement(ctx, movement); err != nil {
				return wrapWrite(err)
			}
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = r.idempotency.Release(ctx, key)
		}
		return err
	}
	items := make([]MovementItem, 0, len(effective))
	kind := KindAdjustmentPlus
	for _, adj := range effective {
		items = append(items, MovementItem{ProductID: adj.ProductID, Quantity: adj.Variance})
		if adj.Variance < 0 {
			kind = KindAdjustmentMinus
		}
	}
	r.afterCommit(ctx, source, actorID, kind, items)
	return nil
}

func (r *Recorder) post(ctx context.Context, source SourceRef, actorID int64, kind MovementKind, items []MovementItem, note string) error {
	key, insertedKey, err := r.claimKey(ctx, fmt.Sprintf("%s:%s", kind, source.Key()))
	if err != nil {
		return err
	}
	err = r.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		posted, err := tx.ExistsBySource(ctx, source)
		if err != nil {
			return wrapWrite(err)
		}
		if posted {
			return ErrSourceAlreadyPosted
		}
		for _, item := range items {
			movement := Movement{
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				Quantity:  item.Quantity,
				Kind:      kind,
				Source:    source,
				Note:      note,
				ActorID:   actorID,
			}
			if _, err := tx.InsertMovement(ctx, movement); err != nil {
				return wrapWrite(err)
			}
		}
		return nil
	})
	if err != nil {
		if insertedKey {
			_ = r.idempotency.Release(ctx, key)
		}
		return err
	}
	r.afterCommit(ctx, source, actorID, kind, items)
	return nil
}

// claimKey reserves a deterministic idempotency key for one posting. The
// same operation on the same source always derives the same UUID, so a
// retried delivery collides instead of posting twice. The claim lands
// before the transaction opens: a duplicate arriving while the first
// post is still in flight is answered as already posted, and a failed
// post releases the key so a later retry can claim it again.
func (r *Recorder) claimKey(ctx context.Context, operation string) (string, bool, error) {
	key := uuid.NewSHA1(uuid.Nil, []byte(operation)).String()
	if r.idempotency == nil {
		return key, false, nil
	}
	fresh, err := r.idempotency.Claim(ctx, key, "ledger")
	if err != nil {
		return key, false, wrapWrite(err)
	}
	if !fresh {
		return key, false, ErrSourceAlreadyPosted
	}
	return key, true, nil
}

// afterCommit fans out cache invalidation and bookkeeping. The cache is a
// best-effort side channel: a failed invalidation is logged by the cache
// layer and bounded by its TTL, never a reason to fail the committed write.
func (r *Recorder) afterCommit(ctx context.Context, source SourceRef, actorID int64, kind MovementKind, items []MovementItem) {
	if r.cache != nil {
		variantsByProduct := map[int64][]int64{}
		for _, item := range items {
			if item.VariantID != 0 {
				variantsByProduct[item.ProductID] = append(variantsByProduct[item.ProductID], item.VariantID)
			} else if _, ok := variantsByProduct[item.ProductID]; !ok {
				variantsByProduct[item.ProductID] = nil
			}
		}
		for productID, variants := range variantsByProduct {
			_ = r.cache.Invalidate(ctx, productID, variants)
		}
	}
	if r.metrics != nil {
		r.metrics.CountMovement(string(kind))
	}
	if r.audit != nil {
		_ = r.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   fmt.Sprintf("ledger:%s", kind),
			Entity:   "stock_movement",
			EntityID: source.Key(),
			Meta: map[string]any{
				"source_type": string(source.Type),
				"source_id":   source.ID,
				"items":       len(items),
			},
		})
	}
}

func validateItems(source SourceRef, items []MovementItem) error {
	if err := source.Validate(); err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one item required", ErrInvalidArgument)
	}
	for i, item := range items {
		if item.ProductID <= 0 {
			return fmt.Errorf("%w: item %d: product required", ErrInvalidArgument, i+1)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %d: quantity must be positive", ErrInvalidArgument, i+1)
		}
	}
	return nil
}

func uniqueProductIDs(items []MovementItem) []int64 {
	seen := map[int64]struct{}{}
	ids := make([]int64, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

type demandKey struct {
	productID int64
	variantID int64
}

// collectShortages aggregates requested quantities per product or variant
// and compares them against the ledger sum read under the row locks.
func collectShortages(ctx context.Context, tx TxRepository, items []MovementItem) ([]Shortage, error) {
	demands := map[demandKey]int64{}
	order := []demandKey{}
	for _, item := range items {
		key := demandKey{productID: item.ProductID, variantID: item.VariantID}
		if _, ok := demands[key]; !ok {
			order = append(order, key)
		}
		demands[key] += item.Quantity
	}
	shortages := []Shortage{}
	for _, key := range order {
		required := demands[key]
		var (
			available int64
			err       error
		)
		if key.variantID != 0 {
			available, err = tx.SumVariant(ctx, key.variantID)
		} else {
			available, err = tx.SumProduct(ctx, key.productID)
		}
		if err != nil {
			return nil, err
		}
		if required > available {
			shortages = append(shortages, Shortage{
				ProductID: key.productID,
				VariantID: key.variantID,
				Required:  required,
				Available: available,
				Shortage:  required - available,
			})
		}
	}
	return shortages, nil
}

func wrapWrite(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrInvalidArgument) || errors.Is(err, ErrSourceAlreadyPosted) {
		return err
	}
	var shortage *InsufficientStockError
	if errors.As(err, &shortage) {
		return err
	}
	return fmt.Errorf("%w: %v", ErrWriteFailed, err)
}
