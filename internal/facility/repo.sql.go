package facility

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atlasfm/atlasfm/internal/platform/db"
)

const facilitiesTable = "facilities"

// Repository persists facilities in PostgreSQL. Reads and writes join an
// active transaction when the context carries one.
type Repository struct {
	pool    *pgxpool.Pool
	builder squirrel.StatementBuilderType
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool:    pool,
		builder: squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar),
	}
}

const facilityColumns = `id, management_number, serial_number, brand, facility_type_id, status,
acquisition_cost, current_value, location_company_id, owner_company_id, active, created_at, updated_at`

func scanFacility(row pgx.Row) (Facility, error) {
	var f Facility
	err := row.Scan(&f.ID, &f.ManagementNumber, &f.SerialNumber, &f.Brand, &f.FacilityTypeID, &f.Status,
		&f.AcquisitionCost, &f.CurrentValue, &f.LocationCompanyID, &f.OwnerCompanyID, &f.Active, &f.CreatedAt, &f.UpdatedAt)
	return f, err
}

// Get loads one facility.
func (r *Repository) Get(ctx context.Context, id int64) (Facility, error) {
	q := db.From(ctx, r.pool)
	f, err := scanFacility(q.QueryRow(ctx, `SELECT `+facilityColumns+` FROM facilities WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Facility{}, ErrFacilityNotFound
		}
		return Facility{}, fmt.Errorf("facility: get: %w", err)
	}
	return f, nil
}

// GetForUpdate locks the facility row for the duration of the enclosing
// transaction. Ledger operations rely on this to apply movements for the
// same facility in submission order.
func (r *Repository) GetForUpdate(ctx context.Context, id int64) (Facility, error) {
	q := db.From(ctx, r.pool)
	f, err := scanFacility(q.QueryRow(ctx, `SELECT `+facilityColumns+` FROM facilities WHERE id=$1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Facility{}, ErrFacilityNotFound
		}
		return Facility{}, fmt.Errorf("facility: get for update: %w", err)
	}
	return f, nil
}

// Insert creates a facility row and returns it with generated fields.
func (r *Repository) Insert(ctx context.Context, f Facility) (Facility, error) {
	q := db.From(ctx, r.pool)
	err := q.QueryRow(ctx, `INSERT INTO facilities
(management_number, serial_number, brand, facility_type_id, status, acquisition_cost, current_value, location_company_id, owner_company_id, active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,TRUE,NOW(),NOW())
RETURNING id, created_at, updated_at`,
		f.ManagementNumber, f.SerialNumber, f.Brand, f.FacilityTypeID, string(f.Status),
		f.AcquisitionCost, f.CurrentValue, f.LocationCompanyID, f.OwnerCompanyID).
		Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return Facility{}, ErrDuplicateManagementNumber
		}
		return Facility{}, fmt.Errorf("facility: insert: %w", err)
	}
	f.Active = true
	return f, nil
}

// UpdateState rewrites the denormalized movement state of a facility.
func (r *Repository) UpdateState(ctx context.Context, id int64, status Status, locationCompanyID, ownerCompanyID int64, active bool) error {
	q := db.From(ctx, r.pool)
	tag, err := q.Exec(ctx, `UPDATE facilities
SET status=$2, location_company_id=$3, owner_company_id=$4, active=$5, updated_at=NOW()
WHERE id=$1`, id, string(status), locationCompanyID, ownerCompanyID, active)
	if err != nil {
		return fmt.Errorf("facility: update state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFacilityNotFound
	}
	return nil
}

// UpdateCurrentValue sets the book value after depreciation.
func (r *Repository) UpdateCurrentValue(ctx context.Context, id int64, value decimal.Decimal) error {
	q := db.From(ctx, r.pool)
	tag, err := q.Exec(ctx, `UPDATE facilities SET current_value=$2, updated_at=NOW() WHERE id=$1`, id, value)
	if err != nil {
		return fmt.Errorf("facility: update value: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFacilityNotFound
	}
	return nil
}

// buildListQuery translates a Filter into one parameterized query.
func (r *Repository) buildListQuery(filter Filter) squirrel.SelectBuilder {
	q := r.builder.
		Select("id", "management_number", "serial_number", "brand", "facility_type_id", "status",
			"acquisition_cost", "current_value", "location_company_id", "owner_company_id", "active", "created_at", "updated_at").
		From(facilitiesTable).
		OrderBy("id ASC")
	if filter.FacilityTypeID != 0 {
		q = q.Where(squirrel.Eq{"facility_type_id": filter.FacilityTypeID})
	}
	if filter.LocationCompanyID != 0 {
		q = q.Where(squirrel.Eq{"location_company_id": filter.LocationCompanyID})
	}
	if filter.OwnerCompanyID != 0 {
		q = q.Where(squirrel.Eq{"owner_company_id": filter.OwnerCompanyID})
	}
	if filter.Status != "" {
		q = q.Where(squirrel.Eq{"status": string(filter.Status)})
	}
	if filter.ActiveOnly {
		q = q.Where(squirrel.Eq{"active": true})
	}
	if filter.Search != "" {
		pattern := "%" + filter.Search + "%"
		q = q.Where(squirrel.Or{
			squirrel.ILike{"management_number": pattern},
			squirrel.ILike{"serial_number": pattern},
		})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit)).Offset(uint64(filter.Offset))
	}
	return q
}

// List returns facilities matching the filter.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Facility, error) {
	sql, args, err := r.buildListQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("facility: build list: %w", err)
	}
	rows, err := db.From(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("facility: list: %w", err)
	}
	var facilities []Facility
	if err := pgxscan.ScanAll(&facilities, rows); err != nil {
		return nil, fmt.Errorf("facility: scan list: %w", err)
	}
	return facilities, nil
}

// ListTypes returns all active facility types.
func (r *Repository) ListTypes(ctx context.Context) ([]FacilityType, error) {
	rows, err := db.From(ctx, r.pool).Query(ctx, `SELECT id, code, name, active FROM facility_types WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("facility: list types: %w", err)
	}
	var types []FacilityType
	if err := pgxscan.ScanAll(&types, rows); err != nil {
		return nil, fmt.Errorf("facility: scan types: %w", err)
	}
	return types, nil
}

// TypeIDs returns active facility-type ids for batch closing.
func (r *Repository) TypeIDs(ctx context.Context) ([]int64, error) {
	rows, err := db.From(ctx, r.pool).Query(ctx, `SELECT id FROM facility_types WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("facility: type ids: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
