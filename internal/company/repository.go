package company

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlasfm/atlasfm/internal/platform/db"
)

const companiesTable = "companies"

// Repository persists companies in PostgreSQL.
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

// Get loads one company by id.
func (r *Repository) Get(ctx context.Context, id int64) (Company, error) {
	var c Company
	q := db.From(ctx, r.pool)
	err := q.QueryRow(ctx, `SELECT id, code, name, kind, active, created_at, updated_at FROM companies WHERE id=$1`, id).
		Scan(&c.ID, &c.Code, &c.Name, &c.Kind, &c.Active, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Company{}, ErrCompanyNotFound
		}
		return Company{}, fmt.Errorf("company: get: %w", err)
	}
	return c, nil
}

// Exists reports whether an active company with the id exists.
func (r *Repository) Exists(ctx context.Context, id int64) (bool, error) {
	var ok bool
	q := db.From(ctx, r.pool)
	err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM companies WHERE id=$1 AND active)`, id).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("company: exists: %w", err)
	}
	return ok, nil
}

// buildListQuery translates a Filter into one parameterized query.
func (r *Repository) buildListQuery(filter Filter) squirrel.SelectBuilder {
	q := r.builder.
		Select("id", "code", "name", "kind", "active", "created_at", "updated_at").
		From(companiesTable).
		OrderBy("id ASC")
	if filter.Kind != "" {
		q = q.Where(squirrel.Eq{"kind": string(filter.Kind)})
	}
	if filter.ActiveOnly {
		q = q.Where(squirrel.Eq{"active": true})
	}
	if filter.Search != "" {
		q = q.Where(squirrel.ILike{"name": "%" + filter.Search + "%"})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit)).Offset(uint64(filter.Offset))
	}
	return q
}

// List returns companies matching the filter.
func (r *Repository) List(ctx context.Context, filter Filter) ([]Company, error) {
	sql, args, err := r.buildListQuery(filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("company: build list: %w", err)
	}
	rows, err := db.From(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("company: list: %w", err)
	}
	var companies []Company
	if err := pgxscan.ScanAll(&companies, rows); err != nil {
		return nil, fmt.Errorf("company: scan list: %w", err)
	}
	return companies, nil
}

// ActiveIDs returns the ids of all active companies, used by batch closing
// to build the company x facility-type cross product.
func (r *Repository) ActiveIDs(ctx context.Context) ([]int64, error) {
	rows, err := db.From(ctx, r.pool).Query(ctx, `SELECT id FROM companies WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("company: active ids: %w", err)
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
