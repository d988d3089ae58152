package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/lumbung-erp/lumbung-erp/internal/stock"
)

// ProductLister enumerates products for warmup.
type ProductLister interface {
	ListProductIDs(ctx context.Context) ([]int64, error)
}

// StockWarmupJob pre-populates the stock figure cache after invalidation
// storms or a cold start, so the first dashboard hit of the day does not
// pay for every ledger sum.
type StockWarmupJob struct {
	Aggregator *stock.Aggregator
	Products   ProductLister
	Logger     *slog.Logger
}

// NewStockWarmupJob wires dependencies for the warmup handler.
func NewStockWarmupJob(aggregator *stock.Aggregator, products ProductLister, logger *slog.Logger) *StockWarmupJob {
	return &StockWarmupJob{Aggregator: aggregator, Products: products, Logger: logger}
}

// Handle processes stock warmup tasks.
func (j *StockWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Aggregator == nil || j.Products == nil {
		return errors.New("stock warmup: handler not configured")
	}
	var payload StockWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}

	logger := j.logger()
	started := time.Now()
	logger.Info("starting stock cache warmup")

	ids, err := j.Products.ListProductIDs(ctx)
	if err != nil {
		logger.Error("list products", slog.Any("error", err))
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(8)
	for _, id := range ids {
		productID := id
		group.Go(func() error {
			_, err := j.Aggregator.CurrentStock(groupCtx, productID)
			return err
		})
	}
	if err := group.Wait(); err != nil {
		logger.Error("warm product stock", slog.Any("error", err))
		return err
	}

	if _, err := j.Aggregator.TodayInbound(ctx); err != nil {
		return err
	}
	if _, err := j.Aggregator.TodayOutbound(ctx); err != nil {
		return err
	}
	if _, err := j.Aggregator.TotalStockValue(ctx); err != nil {
		return err
	}

	logger.Info("completed stock cache warmup",
		slog.Int("products", len(ids)),
		slog.Duration("duration", time.Since(started)))
	return nil
}

func (j *StockWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStockWarmup))
	}
	return slog.Default().With(slog.String("job", TaskStockWarmup))
}
