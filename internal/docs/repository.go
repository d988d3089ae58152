package docs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lumbung-erp/lumbung-erp/internal/numbering"
	"github.com/lumbung-erp/lumbung-erp/internal/platform/db"
)

// tableSet routes one direction to its pair of tables. The names are
// compile-time constants, never caller input.
type tableSet struct {
	ops   string
	items string
}

func tablesFor(direction string) tableSet {
	if direction == DirectionOutbound {
		return tableSet{ops: "outbound_ops", items: "outbound_op_items"}
	}
	return tableSet{ops: "inbound_ops", items: "inbound_op_items"}
}

// Repository persists goods documents for one direction. The document
// number is issued inside the create transaction.
type Repository struct {
	pool      *pgxpool.Pool
	generator *numbering.Generator
	direction string
	tables    tableSet
}

// NewInboundRepository constructs the inbound document repository.
func NewInboundRepository(pool *pgxpool.Pool, generator *numbering.Generator) *Repository {
	return &Repository{pool: pool, generator: generator, direction: DirectionInbound, tables: tablesFor(DirectionInbound)}
}

// NewOutboundRepository constructs the outbound document repository.
func NewOutboundRepository(pool *pgxpool.Pool, generator *numbering.Generator) *Repository {
	return &Repository{pool: pool, generator: generator, direction: DirectionOutbound, tables: tablesFor(DirectionOutbound)}
}

// Create inserts the document and its lines, issuing the number in-tx.
func (r *Repository) Create(ctx context.Context, op *Operation) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		number, err := r.generator.Next(ctx, tx, docType(r.direction))
		if err != nil {
			return err
		}
		op.Number = number
		op.Direction = r.direction
		op.Status = StatusDraft
		err = tx.QueryRow(ctx, fmt.Sprintf(`INSERT INTO %s (number, status, partner_name, note, created_by, created_at)
VALUES ($1,$2,$3,$4,$5,NOW()) RETURNING id, created_at`, r.tables.ops),
			op.Number, op.Status, op.PartnerName, op.Note, op.CreatedBy).Scan(&op.ID, &op.CreatedAt)
		if err != nil {
			return err
		}
		for i := range op.Items {
			item := &op.Items[i]
			item.OperationID = op.ID
			err = tx.QueryRow(ctx, fmt.Sprintf(`INSERT INTO %s (operation_id, product_id, variant_id, quantity)
VALUES ($1,$2,$3,$4) RETURNING id`, r.tables.items),
				item.OperationID, item.ProductID, nullInt(item.VariantID), item.Quantity).Scan(&item.ID)
			if err != nil {
				return err
			}
		}
		return nil
	})
}

// Get fetches one document with lines.
func (r *Repository) Get(ctx context.Context, id int64) (Operation, error) {
	var op Operation
	err := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT id, number, status, partner_name, note, created_by, created_at, posted_at
FROM %s WHERE id=$1`, r.tables.ops), id).
		Scan(&op.ID, &op.Number, &op.Status, &op.PartnerName, &op.Note, &op.CreatedBy, &op.CreatedAt, &op.PostedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Operation{}, ErrNotFound
	}
	if err != nil {
		return Operation{}, err
	}
	op.Direction = r.direction
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT id, operation_id, product_id, variant_id, quantity
FROM %s WHERE operation_id=$1 ORDER BY id ASC`, r.tables.items), id)
	if err != nil {
		return Operation{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			item      OperationItem
			variantID *int64
		)
		if err := rows.Scan(&item.ID, &item.OperationID, &item.ProductID, &variantID, &item.Quantity); err != nil {
			return Operation{}, err
		}
		if variantID != nil {
			item.VariantID = *variantID
		}
		op.Items = append(op.Items, item)
	}
	return op, rows.Err()
}

// List returns documents newest-first, without lines.
func (r *Repository) List(ctx context.Context, limit, offset int) ([]Operation, error) {
	rows, err := r.pool.Query(ctx, fmt.Sprintf(`SELECT id, number, status, partner_name, note, created_by, created_at, posted_at
FROM %s ORDER BY id DESC LIMIT $1 OFFSET $2`, r.tables.ops), limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ops := []Operation{}
	for rows.Next() {
		var op Operation
		if err := rows.Scan(&op.ID, &op.Number, &op.Status, &op.PartnerName, &op.Note, &op.CreatedBy, &op.CreatedAt, &op.PostedAt); err != nil {
			return nil, err
		}
		op.Direction = r.direction
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// MarkPosted flips the draft to POSTED. Zero rows affected means a
// concurrent post won.
func (r *Repository) MarkPosted(ctx context.Context, id int64, at time.Time) error {
	tag, err := r.pool.Exec(ctx, fmt.Sprintf(`UPDATE %s SET status=$2, posted_at=$3 WHERE id=$1 AND status=$4`, r.tables.ops),
		id, StatusPosted, at, StatusDraft)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.notDraft(ctx, id)
	}
	return nil
}

// Delete removes a draft document and its lines.
func (r *Repository) Delete(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE operation_id=$1`, r.tables.items), id); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id=$1 AND status=$2`, r.tables.ops), id, StatusDraft)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return r.notDraft(ctx, id)
		}
		return nil
	})
}

func (r *Repository) notDraft(ctx context.Context, id int64) error {
	var exists bool
	if err := r.pool.QueryRow(ctx, fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id=$1)`, r.tables.ops), id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return ErrNotFound
	}
	return ErrAlreadyPosted
}

func nullInt(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
