package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/lumbung-erp/lumbung-erp/internal/app"
	"github.com/lumbung-erp/lumbung-erp/internal/catalog"
	"github.com/lumbung-erp/lumbung-erp/internal/docs"
	"github.com/lumbung-erp/lumbung-erp/internal/ledger"
	"github.com/lumbung-erp/lumbung-erp/internal/numbering"
	"github.com/lumbung-erp/lumbung-erp/internal/observability"
	"github.com/lumbung-erp/lumbung-erp/internal/platform/cache"
	"github.com/lumbung-erp/lumbung-erp/internal/platform/db"
	"github.com/lumbung-erp/lumbung-erp/internal/shared"
	"github.com/lumbung-erp/lumbung-erp/internal/stock"
	"github.com/lumbung-erp/lumbung-erp/internal/stockcount"
	"github.com/lumbung-erp/lumbung-erp/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, db.Config{DSN: cfg.PGDSN, MaxConns: cfg.PGMaxConns, ConnectTimeout: cfg.PGConnectTimeout})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis ping", slog.Any("error", err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotencyStore := shared.NewIdempotencyStore(pool)
	generator := numbering.NewGenerator(numbering.WithMaxAttempts(cfg.NumberingMaxAttempts))

	catalogRepo := catalog.NewRepository(pool)
	stockCache := stock.NewCache(redisClient, cfg.StockCacheTTL)
	stockRepo := stock.NewRepository(pool)
	aggregator := stock.NewAggregator(stockRepo, stockCache, catalogRepo, metrics)

	ledgerRepo := ledger.NewRepository(pool)
	recorder := ledger.NewRecorder(ledgerRepo, aggregator, auditLogger, idempotencyStore, metrics)
	cardReader := ledger.NewCardReader(ledgerRepo)

	countRepo := stockcount.NewRepository(pool, generator)
	countService := stockcount.NewService(countRepo, aggregator, recorder)

	inboundRepo := docs.NewInboundRepository(pool, generator)
	inboundService := docs.NewInboundService(inboundRepo, recorder)
	outboundRepo := docs.NewOutboundRepository(pool, generator)
	outboundService := docs.NewOutboundService(outboundRepo, recorder)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:            logger,
		Config:            cfg,
		StockHandler:      stock.NewHandler(logger, aggregator, cardReader),
		StockCountHandler: stockcount.NewHandler(logger, countService),
		InboundHandler:    docs.NewHandler(logger, inboundService),
		OutboundHandler:   docs.NewHandler(logger, outboundService),
		JobHandler:        jobs.NewHandler(inspector, logger),
		Metrics:           metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
