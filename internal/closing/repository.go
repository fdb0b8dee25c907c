package closing

import (
	"context"
	"time"
)

// Repository is the persistence port for the closing engine and the
// current-inventory reconciler.
type Repository interface {
	// LatestClosedDailyBefore returns the most recent closed daily
	// snapshot strictly before date for the key, if any.
	LatestClosedDailyBefore(ctx context.Context, key Key, date time.Time) (DailySnapshot, bool, error)
	// LatestClosedDaily returns the most recent closed daily snapshot
	// for the key regardless of date, if any.
	LatestClosedDaily(ctx context.Context, key Key) (DailySnapshot, bool, error)
	// SumMovements counts un-cancelled inbound and outbound ledger
	// entries for the key in [from, to).
	SumMovements(ctx context.Context, key Key, from, to time.Time) (inbound, outbound int64, err error)
	// UpsertDaily replaces the snapshot for its unique key atomically.
	UpsertDaily(ctx context.Context, snap DailySnapshot) (DailySnapshot, error)
	// DailyKeysOn lists every key that already has a snapshot on date.
	DailyKeysOn(ctx context.Context, date time.Time) ([]Key, error)

	// LatestClosedMonthlyBefore returns the most recent closed monthly
	// snapshot strictly before (year, month) for the key, if any.
	LatestClosedMonthlyBefore(ctx context.Context, key Key, year int, month time.Month) (MonthlySnapshot, bool, error)
	// UpsertMonthly replaces the monthly snapshot atomically.
	UpsertMonthly(ctx context.Context, snap MonthlySnapshot) (MonthlySnapshot, error)

	// StatusKeys lists the (company, facility type) pairs matching the
	// filter that have ledger or snapshot history.
	StatusKeys(ctx context.Context, filter StatusFilter) ([]Key, error)
	// StatusKeysPage is the source-level paged variant of StatusKeys.
	StatusKeysPage(ctx context.Context, filter StatusFilter, limit, offset int) ([]Key, error)
}
