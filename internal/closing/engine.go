package closing

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/atlasfm/atlasfm/internal/shared"
)

// TxRunner scopes one snapshot computation; the in-memory key lock plus
// the transaction give each unit a consistent read of the ledger.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Engine computes inventory closing snapshots one key at a time.
type Engine struct {
	repo   Repository
	runner TxRunner
	keys   *shared.KeyedMutex
	logger *slog.Logger
	now    func() time.Time
}

// NewEngine builds Engine.
func NewEngine(repo Repository, runner TxRunner, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		repo:   repo,
		runner: runner,
		keys:   shared.NewKeyedMutex(),
		logger: logger,
		now:    time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (e *Engine) WithNow(now func() time.Time) {
	if now != nil {
		e.now = now
	}
}

// ComputeDailyClosing computes and persists the snapshot for one key and
// date. closing = previous + inbound - outbound; a negative result
// raises ErrNegativeClosing and persists nothing.
func (e *Engine) ComputeDailyClosing(ctx context.Context, companyID, facilityTypeID int64, date time.Time, actorID int64) (DailySnapshot, error) {
	key := Key{CompanyID: companyID, FacilityTypeID: facilityTypeID}
	day := dayStart(date)
	unlock := e.keys.Lock(dailyLockKey(key, day))
	defer unlock()

	var snap DailySnapshot
	err := e.runner.WithTx(ctx, func(ctx context.Context) error {
		previous := int64(0)
		if prior, ok, err := e.repo.LatestClosedDailyBefore(ctx, key, day); err != nil {
			return err
		} else if ok {
			previous = prior.ClosingQuantity
		}
		inbound, outbound, err := e.repo.SumMovements(ctx, key, day, day.AddDate(0, 0, 1))
		if err != nil {
			return err
		}
		closingQty := previous + inbound - outbound
		if closingQty < 0 {
			e.logger.Warn("daily closing rejected",
				slog.Int64("company_id", key.CompanyID),
				slog.Int64("facility_type_id", key.FacilityTypeID),
				slog.String("date", day.Format("2006-01-02")),
				slog.Int64("quantity", closingQty))
			return fmt.Errorf("closing: company %d type %d on %s: %d: %w",
				key.CompanyID, key.FacilityTypeID, day.Format("2006-01-02"), closingQty, ErrNegativeClosing)
		}
		closedAt := e.now()
		snap, err = e.repo.UpsertDaily(ctx, DailySnapshot{
			CompanyID:        key.CompanyID,
			FacilityTypeID:   key.FacilityTypeID,
			ClosingDate:      day,
			PreviousQuantity: previous,
			InboundQuantity:  inbound,
			OutboundQuantity: outbound,
			ClosingQuantity:  closingQty,
			IsClosed:         true,
			ClosedAt:         &closedAt,
			ClosedBy:         actorID,
		})
		return err
	})
	if err != nil {
		return DailySnapshot{}, err
	}
	return snap, nil
}

// RecalculateDailyClosing recomputes every snapshot that already exists
// on date, replacing each row. It deliberately touches only the
// requested date: snapshots after it keep their old baseline until the
// caller recalculates forward (see RecalculateDailyRange).
func (e *Engine) RecalculateDailyClosing(ctx context.Context, date time.Time, actorID int64) (int, error) {
	keys, err := e.repo.DailyKeysOn(ctx, dayStart(date))
	if err != nil {
		return 0, err
	}
	recomputed := 0
	for _, key := range keys {
		if _, err := e.ComputeDailyClosing(ctx, key.CompanyID, key.FacilityTypeID, date, actorID); err != nil {
			return recomputed, err
		}
		recomputed++
	}
	return recomputed, nil
}

// RecalculateDailyRange cascades recalculation day by day through
// [from, to]. This is the documented answer to historical corrections:
// the engine never cascades implicitly.
func (e *Engine) RecalculateDailyRange(ctx context.Context, from, to time.Time, actorID int64) (int, error) {
	if dayStart(to).Before(dayStart(from)) {
		return 0, fmt.Errorf("closing: range end before start: %w", shared.ErrValidation)
	}
	total := 0
	for day := dayStart(from); !day.After(dayStart(to)); day = day.AddDate(0, 0, 1) {
		n, err := e.RecalculateDailyClosing(ctx, day, actorID)
		if err != nil {
			return total, err
		}
		e.logger.Debug("daily closings recalculated",
			slog.String("date", day.Format("2006-01-02")),
			slog.Int("snapshots", n))
		total += n
	}
	return total, nil
}

// ComputeMonthlyClosing computes the monthly snapshot for one key. The
// baseline comes from the prior monthly snapshot and the sums cover the
// whole month straight from the ledger, independent of daily rows.
func (e *Engine) ComputeMonthlyClosing(ctx context.Context, companyID, facilityTypeID int64, year int, month time.Month, actorID int64) (MonthlySnapshot, error) {
	key := Key{CompanyID: companyID, FacilityTypeID: facilityTypeID}
	unlock := e.keys.Lock(monthlyLockKey(key, year, month))
	defer unlock()

	var snap MonthlySnapshot
	err := e.runner.WithTx(ctx, func(ctx context.Context) error {
		previous := int64(0)
		if prior, ok, err := e.repo.LatestClosedMonthlyBefore(ctx, key, year, month); err != nil {
			return err
		} else if ok {
			previous = prior.ClosingQuantity
		}
		start := monthStart(year, month, time.UTC)
		inbound, outbound, err := e.repo.SumMovements(ctx, key, start, start.AddDate(0, 1, 0))
		if err != nil {
			return err
		}
		closingQty := previous + inbound - outbound
		if closingQty < 0 {
			e.logger.Warn("monthly closing rejected",
				slog.Int64("company_id", key.CompanyID),
				slog.Int64("facility_type_id", key.FacilityTypeID),
				slog.String("month", fmt.Sprintf("%04d-%02d", year, int(month))),
				slog.Int64("quantity", closingQty))
			return fmt.Errorf("closing: company %d type %d on %04d-%02d: %d: %w",
				key.CompanyID, key.FacilityTypeID, year, int(month), closingQty, ErrNegativeClosing)
		}
		closedAt := e.now()
		snap, err = e.repo.UpsertMonthly(ctx, MonthlySnapshot{
			CompanyID:        key.CompanyID,
			FacilityTypeID:   key.FacilityTypeID,
			Year:             year,
			Month:            month,
			PreviousQuantity: previous,
			InboundQuantity:  inbound,
			OutboundQuantity: outbound,
			ClosingQuantity:  closingQty,
			IsClosed:         true,
			ClosedAt:         &closedAt,
			ClosedBy:         actorID,
		})
		return err
	})
	if err != nil {
		return MonthlySnapshot{}, err
	}
	return snap, nil
}

func dailyLockKey(key Key, day time.Time) string {
	return fmt.Sprintf("daily:%d:%d:%s", key.CompanyID, key.FacilityTypeID, day.Format("2006-01-02"))
}

func monthlyLockKey(key Key, year int, month time.Month) string {
	return fmt.Sprintf("monthly:%d:%d:%04d-%02d", key.CompanyID, key.FacilityTypeID, year, int(month))
}

// NoopRunner satisfies TxRunner without a database; tests and
// repositories that manage their own atomicity use it.
type NoopRunner struct{}

// WithTx invokes fn directly.
func (NoopRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
