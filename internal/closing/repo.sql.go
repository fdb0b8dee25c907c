package closing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlasfm/atlasfm/internal/platform/db"
)

// SQLRepository implements Repository on PostgreSQL.
type SQLRepository struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
}

// NewRepository constructs SQLRepository.
func NewRepository(pool *pgxpool.Pool) *SQLRepository {
	return &SQLRepository{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

const dailyColumns = `id, company_id, facility_type_id, closing_date, previous_quantity,
inbound_quantity, outbound_quantity, closing_quantity, is_closed, closed_at, closed_by`

func scanDaily(row pgx.Row) (DailySnapshot, error) {
	var s DailySnapshot
	err := row.Scan(&s.ID, &s.CompanyID, &s.FacilityTypeID, &s.ClosingDate, &s.PreviousQuantity,
		&s.InboundQuantity, &s.OutboundQuantity, &s.ClosingQuantity, &s.IsClosed, &s.ClosedAt, &s.ClosedBy)
	return s, err
}

// LatestClosedDailyBefore returns the newest closed snapshot before date.
func (r *SQLRepository) LatestClosedDailyBefore(ctx context.Context, key Key, date time.Time) (DailySnapshot, bool, error) {
	q := db.From(ctx, r.pool)
	snap, err := scanDaily(q.QueryRow(ctx, `SELECT `+dailyColumns+` FROM daily_inventory_closings
WHERE company_id=$1 AND facility_type_id=$2 AND closing_date < $3 AND is_closed
ORDER BY closing_date DESC LIMIT 1`, key.CompanyID, key.FacilityTypeID, dayStart(date)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DailySnapshot{}, false, nil
		}
		return DailySnapshot{}, false, fmt.Errorf("closing: latest daily before: %w", err)
	}
	return snap, true, nil
}

// LatestClosedDaily returns the newest closed snapshot for the key.
func (r *SQLRepository) LatestClosedDaily(ctx context.Context, key Key) (DailySnapshot, bool, error) {
	q := db.From(ctx, r.pool)
	snap, err := scanDaily(q.QueryRow(ctx, `SELECT `+dailyColumns+` FROM daily_inventory_closings
WHERE company_id=$1 AND facility_type_id=$2 AND is_closed
ORDER BY closing_date DESC LIMIT 1`, key.CompanyID, key.FacilityTypeID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return DailySnapshot{}, false, nil
		}
		return DailySnapshot{}, false, fmt.Errorf("closing: latest daily: %w", err)
	}
	return snap, true, nil
}

// SumMovements counts un-cancelled entries for the key in [from, to).
// An entry counts inbound when it lands at the company and outbound when
// it leaves it; disposals count outbound through from_company_id.
func (r *SQLRepository) SumMovements(ctx context.Context, key Key, from, to time.Time) (int64, int64, error) {
	q := db.From(ctx, r.pool)
	var inbound, outbound int64
	err := q.QueryRow(ctx, `SELECT
  COUNT(*) FILTER (WHERE to_company_id = $1),
  COUNT(*) FILTER (WHERE from_company_id = $1)
FROM facility_transactions
WHERE facility_type_id = $2
  AND occurred_at >= $3 AND occurred_at < $4
  AND NOT cancelled
  AND (to_company_id = $1 OR from_company_id = $1)`,
		key.CompanyID, key.FacilityTypeID, from, to).Scan(&inbound, &outbound)
	if err != nil {
		return 0, 0, fmt.Errorf("closing: sum movements: %w", err)
	}
	return inbound, outbound, nil
}

// UpsertDaily replaces the snapshot for its unique key in one statement.
func (r *SQLRepository) UpsertDaily(ctx context.Context, snap DailySnapshot) (DailySnapshot, error) {
	q := db.From(ctx, r.pool)
	err := q.QueryRow(ctx, `INSERT INTO daily_inventory_closings
(company_id, facility_type_id, closing_date, previous_quantity, inbound_quantity, outbound_quantity, closing_quantity, is_closed, closed_at, closed_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (company_id, facility_type_id, closing_date) DO UPDATE SET
  previous_quantity=EXCLUDED.previous_quantity,
  inbound_quantity=EXCLUDED.inbound_quantity,
  outbound_quantity=EXCLUDED.outbound_quantity,
  closing_quantity=EXCLUDED.closing_quantity,
  is_closed=EXCLUDED.is_closed,
  closed_at=EXCLUDED.closed_at,
  closed_by=EXCLUDED.closed_by
RETURNING id`,
		snap.CompanyID, snap.FacilityTypeID, dayStart(snap.ClosingDate), snap.PreviousQuantity,
		snap.InboundQuantity, snap.OutboundQuantity, snap.ClosingQuantity, snap.IsClosed, snap.ClosedAt, snap.ClosedBy).
		Scan(&snap.ID)
	if err != nil {
		return DailySnapshot{}, fmt.Errorf("closing: upsert daily: %w", err)
	}
	return snap, nil
}

// DailyKeysOn lists keys holding a snapshot on date.
func (r *SQLRepository) DailyKeysOn(ctx context.Context, date time.Time) ([]Key, error) {
	rows, err := db.From(ctx, r.pool).Query(ctx, `SELECT company_id, facility_type_id
FROM daily_inventory_closings WHERE closing_date = $1 ORDER BY company_id, facility_type_id`, dayStart(date))
	if err != nil {
		return nil, fmt.Errorf("closing: daily keys: %w", err)
	}
	defer rows.Close()
	return scanKeys(rows)
}

const monthlyColumns = `id, company_id, facility_type_id, closing_year, closing_month, previous_quantity,
inbound_quantity, outbound_quantity, closing_quantity, is_closed, closed_at, closed_by`

// LatestClosedMonthlyBefore returns the newest closed monthly snapshot
// strictly before (year, month).
func (r *SQLRepository) LatestClosedMonthlyBefore(ctx context.Context, key Key, year int, month time.Month) (MonthlySnapshot, bool, error) {
	q := db.From(ctx, r.pool)
	var s MonthlySnapshot
	var m int
	err := q.QueryRow(ctx, `SELECT `+monthlyColumns+` FROM monthly_inventory_closings
WHERE company_id=$1 AND facility_type_id=$2 AND is_closed
  AND (closing_year, closing_month) < ($3, $4)
ORDER BY closing_year DESC, closing_month DESC LIMIT 1`,
		key.CompanyID, key.FacilityTypeID, year, int(month)).
		Scan(&s.ID, &s.CompanyID, &s.FacilityTypeID, &s.Year, &m, &s.PreviousQuantity,
			&s.InboundQuantity, &s.OutboundQuantity, &s.ClosingQuantity, &s.IsClosed, &s.ClosedAt, &s.ClosedBy)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return MonthlySnapshot{}, false, nil
		}
		return MonthlySnapshot{}, false, fmt.Errorf("closing: latest monthly before: %w", err)
	}
	s.Month = time.Month(m)
	return s, true, nil
}

// UpsertMonthly replaces the monthly snapshot in one statement.
func (r *SQLRepository) UpsertMonthly(ctx context.Context, snap MonthlySnapshot) (MonthlySnapshot, error) {
	q := db.From(ctx, r.pool)
	err := q.QueryRow(ctx, `INSERT INTO monthly_inventory_closings
(company_id, facility_type_id, closing_year, closing_month, previous_quantity, inbound_quantity, outbound_quantity, closing_quantity, is_closed, closed_at, closed_by)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
ON CONFLICT (company_id, facility_type_id, closing_year, closing_month) DO UPDATE SET
  previous_quantity=EXCLUDED.previous_quantity,
  inbound_quantity=EXCLUDED.inbound_quantity,
  outbound_quantity=EXCLUDED.outbound_quantity,
  closing_quantity=EXCLUDED.closing_quantity,
  is_closed=EXCLUDED.is_closed,
  closed_at=EXCLUDED.closed_at,
  closed_by=EXCLUDED.closed_by
RETURNING id`,
		snap.CompanyID, snap.FacilityTypeID, snap.Year, int(snap.Month), snap.PreviousQuantity,
		snap.InboundQuantity, snap.OutboundQuantity, snap.ClosingQuantity, snap.IsClosed, snap.ClosedAt, snap.ClosedBy).
		Scan(&snap.ID)
	if err != nil {
		return MonthlySnapshot{}, fmt.Errorf("closing: upsert monthly: %w", err)
	}
	return snap, nil
}

// StatusKeys lists pairs with snapshot or ledger history.
func (r *SQLRepository) StatusKeys(ctx context.Context, filter StatusFilter) ([]Key, error) {
	return r.statusKeys(ctx, filter, 0, 0)
}

// StatusKeysPage pushes paging into the query; required for large
// cardinality result sets.
func (r *SQLRepository) StatusKeysPage(ctx context.Context, filter StatusFilter, limit, offset int) ([]Key, error) {
	return r.statusKeys(ctx, filter, limit, offset)
}

func (r *SQLRepository) statusKeys(ctx context.Context, filter StatusFilter, limit, offset int) ([]Key, error) {
	// Keys with ledger-only history have no snapshot yet but still
	// carry stock, so both sources feed the key set.
	const keySource = `(
  SELECT company_id, facility_type_id FROM daily_inventory_closings
  UNION
  SELECT to_company_id, facility_type_id FROM facility_transactions
   WHERE to_company_id IS NOT NULL AND NOT cancelled
  UNION
  SELECT from_company_id, facility_type_id FROM facility_transactions
   WHERE from_company_id IS NOT NULL AND NOT cancelled
) AS keys`
	q := r.builder.
		Select("company_id", "facility_type_id").
		From(keySource).
		GroupBy("company_id", "facility_type_id").
		OrderBy("company_id", "facility_type_id")
	if filter.CompanyID != 0 {
		q = q.Where(squirrel.Eq{"company_id": filter.CompanyID})
	}
	if filter.FacilityTypeID != 0 {
		q = q.Where(squirrel.Eq{"facility_type_id": filter.FacilityTypeID})
	}
	if limit > 0 {
		q = q.Limit(uint64(limit)).Offset(uint64(offset))
	}
	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("closing: build status keys: %w", err)
	}
	rows, err := db.From(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("closing: status keys: %w", err)
	}
	defer rows.Close()
	return scanKeys(rows)
}

func scanKeys(rows pgx.Rows) ([]Key, error) {
	var keys []Key
	for rows.Next() {
		var k Key
		if err := rows.Scan(&k.CompanyID, &k.FacilityTypeID); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}
