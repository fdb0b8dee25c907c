package closing

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/atlasfm/atlasfm/internal/shared"
)

// MetricsPort receives batch outcomes. Nil disables instrumentation.
type MetricsPort interface {
	ClosingUnit(outcome string)
	ClosingBatchDuration(kind string, seconds float64)
}

// UnitFailure records a single key that could not be closed.
type UnitFailure struct {
	Key Key
	Err error
}

// BatchResult summarises one batch run. Processed counts successful
// units only; a failed unit never stops its siblings.
type BatchResult struct {
	Processed int
	Failed    []UnitFailure
}

// Orchestrator fans one closing batch out over a bounded worker pool.
type Orchestrator struct {
	engine      *Engine
	metrics     MetricsPort
	logger      *slog.Logger
	workers     int
	unitTimeout time.Duration
	maxRetries  uint64
}

// NewOrchestrator builds an Orchestrator. workers bounds concurrent
// units; unitTimeout bounds each unit's computation.
func NewOrchestrator(engine *Engine, metrics MetricsPort, logger *slog.Logger, workers int, unitTimeout time.Duration) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	if unitTimeout <= 0 {
		unitTimeout = 30 * time.Second
	}
	return &Orchestrator{
		engine:      engine,
		metrics:     metrics,
		logger:      logger,
		workers:     workers,
		unitTimeout: unitTimeout,
		maxRetries:  3,
	}
}

// RunBatchClosing closes every (company, facility type) unit for date on
// a flat pool. Transient unit errors are retried; persistent failures
// are logged and collected without aborting the batch.
func (o *Orchestrator) RunBatchClosing(ctx context.Context, units []Key, date time.Time, actorID int64) (BatchResult, error) {
	started := time.Now()
	var (
		mu     sync.Mutex
		result BatchResult
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, unit := range units {
		unit := unit
		g.Go(func() error {
			err := o.runUnit(ctx, func(ctx context.Context) error {
				_, err := o.engine.ComputeDailyClosing(ctx, unit.CompanyID, unit.FacilityTypeID, date, actorID)
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, UnitFailure{Key: unit, Err: err})
				o.observeUnit("failure")
				o.logger.Error("daily closing unit failed",
					slog.Int64("company_id", unit.CompanyID),
					slog.Int64("facility_type_id", unit.FacilityTypeID),
					slog.String("date", date.Format("2006-01-02")),
					slog.Any("error", err))
				return nil
			}
			result.Processed++
			o.observeUnit("success")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	o.observeBatch("daily", time.Since(started))
	sortFailures(result.Failed)
	return result, nil
}

// RunBatchClosingGrouped partitions units by company and runs the
// partitions concurrently, sequentially within each. Companies whose
// units share a daily baseline stay ordered relative to each other.
func (o *Orchestrator) RunBatchClosingGrouped(ctx context.Context, units []Key, date time.Time, actorID int64) (BatchResult, error) {
	started := time.Now()
	partitions := make(map[int64][]Key)
	for _, unit := range units {
		partitions[unit.CompanyID] = append(partitions[unit.CompanyID], unit)
	}

	var (
		mu     sync.Mutex
		result BatchResult
	)
	sem := semaphore.NewWeighted(int64(o.workers))
	var wg sync.WaitGroup
	for _, partition := range partitions {
		if err := sem.Acquire(ctx, 1); err != nil {
			wg.Wait()
			return result, err
		}
		wg.Add(1)
		go func(partition []Key) {
			defer wg.Done()
			defer sem.Release(1)
			for _, unit := range partition {
				err := o.runUnit(ctx, func(ctx context.Context) error {
					_, err := o.engine.ComputeDailyClosing(ctx, unit.CompanyID, unit.FacilityTypeID, date, actorID)
					return err
				})
				mu.Lock()
				if err != nil {
					result.Failed = append(result.Failed, UnitFailure{Key: unit, Err: err})
					o.observeUnit("failure")
					o.logger.Error("daily closing unit failed",
						slog.Int64("company_id", unit.CompanyID),
						slog.Int64("facility_type_id", unit.FacilityTypeID),
						slog.String("date", date.Format("2006-01-02")),
						slog.Any("error", err))
				} else {
					result.Processed++
					o.observeUnit("success")
				}
				mu.Unlock()
			}
		}(partition)
	}
	wg.Wait()
	o.observeBatch("daily_grouped", time.Since(started))
	sortFailures(result.Failed)
	return result, ctx.Err()
}

// RunBatchMonthlyClosing closes every unit for the given month on the
// same flat pool as the daily batch.
func (o *Orchestrator) RunBatchMonthlyClosing(ctx context.Context, units []Key, year int, month time.Month, actorID int64) (BatchResult, error) {
	started := time.Now()
	var (
		mu     sync.Mutex
		result BatchResult
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(o.workers)
	for _, unit := range units {
		unit := unit
		g.Go(func() error {
			err := o.runUnit(ctx, func(ctx context.Context) error {
				_, err := o.engine.ComputeMonthlyClosing(ctx, unit.CompanyID, unit.FacilityTypeID, year, month, actorID)
				return err
			})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, UnitFailure{Key: unit, Err: err})
				o.observeUnit("failure")
				o.logger.Error("monthly closing unit failed",
					slog.Int64("company_id", unit.CompanyID),
					slog.Int64("facility_type_id", unit.FacilityTypeID),
					slog.Int("year", year),
					slog.Int("month", int(month)),
					slog.Any("error", err))
				return nil
			}
			result.Processed++
			o.observeUnit("success")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return result, err
	}
	o.observeBatch("monthly", time.Since(started))
	sortFailures(result.Failed)
	return result, nil
}

func (o *Orchestrator) runUnit(ctx context.Context, fn func(ctx context.Context) error) error {
	unitCtx, cancel := context.WithTimeout(ctx, o.unitTimeout)
	defer cancel()
	return shared.RetryTransient(unitCtx, o.maxRetries, fn)
}

func (o *Orchestrator) observeUnit(outcome string) {
	if o.metrics != nil {
		o.metrics.ClosingUnit(outcome)
	}
}

func (o *Orchestrator) observeBatch(kind string, elapsed time.Duration) {
	if o.metrics != nil {
		o.metrics.ClosingBatchDuration(kind, elapsed.Seconds())
	}
}

func sortFailures(failures []UnitFailure) {
	sort.Slice(failures, func(i, j int) bool {
		a, b := failures[i].Key, failures[j].Key
		if a.CompanyID != b.CompanyID {
			return a.CompanyID < b.CompanyID
		}
		return a.FacilityTypeID < b.FacilityTypeID
	})
}
