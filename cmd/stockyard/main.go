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
	"golang.org/x/sync/errgroup"

	"github.com/siraevrus/stockyard/internal/app"
	"github.com/siraevrus/stockyard/internal/observability"
	"github.com/siraevrus/stockyard/internal/platform/cache"
	"github.com/siraevrus/stockyard/internal/platform/db"
	"github.com/siraevrus/stockyard/internal/products"
	"github.com/siraevrus/stockyard/internal/shared"
	"github.com/siraevrus/stockyard/internal/shipments"
	"github.com/siraevrus/stockyard/internal/stock"
	"github.com/siraevrus/stockyard/internal/templates"
	"github.com/siraevrus/stockyard/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(pool)
	idempotency := shared.NewIdempotencyStore(pool)

	balanceCache := stock.NewBalanceCache(redisClient, cfg.BalanceCacheTTL)
	stockRepo := stock.NewRepository(pool)
	stockService := stock.NewService(stockRepo, auditLogger, idempotency, metrics, balanceCache, logger)
	stockHandler := stock.NewHandler(logger, stockService)

	templatesService := templates.NewService(templates.NewRepository(pool), logger)
	templatesHandler := templates.NewHandler(logger, templatesService)

	productsService := products.NewService(products.NewRepository(pool), templatesService, stockService, metrics, logger)
	productsHandler := products.NewHandler(logger, productsService)

	shipmentsService := shipments.NewService(shipments.NewRepository(pool), templatesService, stockService, auditLogger, logger)
	shipmentsHandler := shipments.NewHandler(logger, shipmentsService)

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobsHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Pool:             pool,
		StockHandler:     stockHandler,
		TemplatesHandler: templatesHandler,
		ProductsHandler:  productsHandler,
		ShipmentsHandler: shipmentsHandler,
		JobsHandler:      jobsHandler,
		Metrics:          metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		logger.Error("server", slog.Any("error", err))
		os.Exit(1)
	}
}
