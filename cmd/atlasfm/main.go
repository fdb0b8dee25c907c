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
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/atlasfm/atlasfm/internal/app"
	"github.com/atlasfm/atlasfm/internal/closing"
	closinghttp "github.com/atlasfm/atlasfm/internal/closing/http"
	"github.com/atlasfm/atlasfm/internal/company"
	"github.com/atlasfm/atlasfm/internal/facility"
	facilityhttp "github.com/atlasfm/atlasfm/internal/facility/http"
	"github.com/atlasfm/atlasfm/internal/ledger"
	ledgerhttp "github.com/atlasfm/atlasfm/internal/ledger/http"
	"github.com/atlasfm/atlasfm/internal/observability"
	"github.com/atlasfm/atlasfm/internal/platform/cache"
	"github.com/atlasfm/atlasfm/internal/platform/db"
	"github.com/atlasfm/atlasfm/internal/shared"
	"github.com/atlasfm/atlasfm/internal/voucher"
	"github.com/atlasfm/atlasfm/jobs"
)

func runMigrations(dsn, dir string) error {
	sqlDB, err := goose.OpenDBWithDriver("postgres", dsn)
	if err != nil {
		return err
	}
	defer func() { _ = sqlDB.Close() }()
	return goose.Up(sqlDB, dir)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if err := runMigrations(cfg.PGDSN, cfg.MigrationsDir); err != nil {
		logger.Error("run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
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

	statusCache := closing.NewCache(redisClient, cfg.StatusCacheTTL)
	if err := statusCache.ListenForInvalidation(ctx, ""); err != nil {
		logger.Warn("cache invalidation listener", slog.Any("error", err))
	}

	runner := db.NewRunner(pool)
	auditLogger := shared.NewAuditLogger(pool)

	companyRepo := company.NewRepository(pool)

	voucherRepo := voucher.NewRepository(pool)
	voucherService := voucher.NewService(voucherRepo, runner, auditLogger)

	facilityRepo := facility.NewRepository(pool)
	facilityService := facility.NewService(facilityRepo, companyRepo, voucherService, runner, auditLogger)
	facilityHandler := facilityhttp.NewHandler(facilityService, logger)

	ledgerRepo := ledger.NewRepository(pool)
	ledgerService := ledger.NewService(ledgerRepo, facilityRepo, companyRepo, voucherService, statusCache, runner, auditLogger)
	ledgerHandler := ledgerhttp.NewHandler(ledgerService, logger)

	closingRepo := closing.NewRepository(pool)
	statusService := closing.NewStatusService(closingRepo, statusCache, cfg.QueryWorkers)
	inventoryHandler := closinghttp.NewHandler(statusService, logger)

	metrics := observability.NewMetrics()

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	jobHandler := jobs.NewHandler(inspector, logger)

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		FacilityHandler:  facilityHandler,
		LedgerHandler:    ledgerHandler,
		InventoryHandler: inventoryHandler,
		JobHandler:       jobHandler,
		Metrics:          metrics,
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
