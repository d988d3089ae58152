package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
)

// LedgerIntegrityJob scans the movement ledger for rows violating the sign
// invariant and for products whose ledger sum went negative. Both indicate
// a write path bug; the job reports, it never repairs.
type LedgerIntegrityJob struct {
	Pool   *pgxpool.Pool
	Logger *slog.Logger
}

// NewLedgerIntegrityJob wires dependencies for the integrity handler.
func NewLedgerIntegrityJob(pool *pgxpool.Pool, logger *slog.Logger) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{Pool: pool, Logger: logger}
}

// Handle processes ledger integrity tasks.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Pool == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	logger := j.logger()
	started := time.Now()
	logger.Info("starting ledger integrity scan")

	var badSigns int64
	err := j.Pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM stock_movements
		WHERE (kind IN ('IN','ADJ_PLUS') AND quantity <= 0)
		   OR (kind IN ('OUT','ADJ_MINUS') AND quantity >= 0)
	`).Scan(&badSigns)
	if err != nil {
		logger.Error("scan sign invariant", slog.Any("error", err))
		return err
	}
	if badSigns > 0 {
		logger.Error("movements violating sign invariant", slog.Int64("count", badSigns))
	}

	rows, err := j.Pool.Query(ctx, `
		SELECT product_id, SUM(quantity) AS total
		FROM stock_movements
		GROUP BY product_id
		HAVING SUM(quantity) < 0
		ORDER BY product_id
	`)
	if err != nil {
		logger.Error("scan negative balances", slog.Any("error", err))
		return err
	}
	defer rows.Close()
	negatives := 0
	for rows.Next() {
		var productID, total int64
		if err := rows.Scan(&productID, &total); err != nil {
			return err
		}
		logger.Error("product ledger went negative", slog.Int64("product_id", productID), slog.Int64("total", total))
		negatives++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	logger.Info("completed ledger integrity scan",
		slog.Int64("bad_signs", badSigns),
		slog.Int("negative_products", negatives),
		slog.Duration("duration", time.Since(started)))
	return nil
}

func (j *LedgerIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}
