package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/atlasfm/atlasfm/internal/app"
	"github.com/atlasfm/atlasfm/internal/closing"
	"github.com/atlasfm/atlasfm/internal/company"
	"github.com/atlasfm/atlasfm/internal/facility"
	"github.com/atlasfm/atlasfm/internal/observability"
	"github.com/atlasfm/atlasfm/internal/platform/db"
	"github.com/atlasfm/atlasfm/jobs"
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

	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	metrics := observability.NewMetrics()

	closingRepo := closing.NewRepository(pool)
	engine := closing.NewEngine(closingRepo, db.NewRunner(pool), logger)
	orchestrator := closing.NewOrchestrator(engine, metrics, logger, cfg.ClosingWorkers, cfg.ClosingUnitTimeout)

	companyRepo := company.NewRepository(pool)
	facilityRepo := facility.NewRepository(pool)
	closingJobs := jobs.NewClosingJobs(companyRepo, facilityRepo, orchestrator, logger, cfg.SystemActorID)

	dailyTask, err := jobs.NewDailyClosingTask(jobs.DailyClosingPayload{})
	if err != nil {
		logger.Error("build daily closing task", slog.Any("error", err))
		os.Exit(1)
	}
	monthlyTask, err := jobs.NewMonthlyClosingTask(jobs.MonthlyClosingPayload{})
	if err != nil {
		logger.Error("build monthly closing task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskClosingDaily, Handler: closingJobs.HandleDaily},
			{Type: jobs.TaskClosingMonthly, Handler: closingJobs.HandleMonthly},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.DailyClosingCron, Task: dailyTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.MonthlyClosingCron, Task: monthlyTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
