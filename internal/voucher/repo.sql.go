package voucher

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlasfm/atlasfm/internal/platform/db"
)

// Repository persists vouchers in PostgreSQL. Inserts join an active
// transaction when the context carries one, so a voucher commits or
// rolls back together with the movement that caused it.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const voucherColumns = `id, voucher_number, voucher_type, voucher_date, description,
facility_id, transaction_id, total_amount, auto_generated, created_by, created_at`

func scanVoucher(row pgx.Row) (Voucher, error) {
	var v Voucher
	err := row.Scan(&v.ID, &v.VoucherNumber, &v.Type, &v.VoucherDate, &v.Description,
		&v.FacilityID, &v.TransactionID, &v.TotalAmount, &v.AutoGenerated, &v.CreatedBy, &v.CreatedAt)
	return v, err
}

// Insert persists the voucher header and its items.
func (r *Repository) Insert(ctx context.Context, v Voucher) (Voucher, error) {
	q := db.From(ctx, r.pool)
	row := q.QueryRow(ctx, `
		INSERT INTO vouchers (voucher_number, voucher_type, voucher_date, description,
			facility_id, transaction_id, total_amount, auto_generated, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at`,
		v.VoucherNumber, v.Type, v.VoucherDate, v.Description,
		v.FacilityID, v.TransactionID, v.TotalAmount, v.AutoGenerated, v.CreatedBy)
	if err := row.Scan(&v.ID, &v.CreatedAt); err != nil {
		return Voucher{}, fmt.Errorf("voucher: insert: %w", err)
	}
	for i := range v.Items {
		item := &v.Items[i]
		item.VoucherID = v.ID
		err := q.QueryRow(ctx, `
			INSERT INTO voucher_items (voucher_id, line_no, account_code, account_name, debit, credit, description)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			item.VoucherID, item.LineNo, item.AccountCode, item.AccountName,
			item.Debit, item.Credit, item.Description).Scan(&item.ID)
		if err != nil {
			return Voucher{}, fmt.Errorf("voucher: insert item: %w", err)
		}
	}
	return v, nil
}

// Get loads one voucher with its items.
func (r *Repository) Get(ctx context.Context, id int64) (Voucher, error) {
	q := db.From(ctx, r.pool)
	v, err := scanVoucher(q.QueryRow(ctx, `SELECT `+voucherColumns+` FROM vouchers WHERE id=$1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Voucher{}, ErrVoucherNotFound
		}
		return Voucher{}, fmt.Errorf("voucher: get: %w", err)
	}
	rows, err := q.Query(ctx, `
		SELECT id, voucher_id, line_no, account_code, account_name, debit, credit, description
		FROM voucher_items WHERE voucher_id=$1 ORDER BY line_no`, id)
	if err != nil {
		return Voucher{}, fmt.Errorf("voucher: get items: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var item Item
		if err := rows.Scan(&item.ID, &item.VoucherID, &item.LineNo, &item.AccountCode, &item.AccountName, &item.Debit, &item.Credit, &item.Description); err != nil {
			return Voucher{}, fmt.Errorf("voucher: scan item: %w", err)
		}
		v.Items = append(v.Items, item)
	}
	if err := rows.Err(); err != nil {
		return Voucher{}, fmt.Errorf("voucher: get items: %w", err)
	}
	return v, nil
}

// LastNumber returns the highest voucher number issued for the prefix
// and date segment, if any. Numbers sort lexicographically because the
// suffix is zero-padded.
func (r *Repository) LastNumber(ctx context.Context, prefix, dateSegment string) (string, bool, error) {
	q := db.From(ctx, r.pool)
	var number string
	err := q.QueryRow(ctx, `
		SELECT voucher_number FROM vouchers
		WHERE voucher_number LIKE $1
		ORDER BY voucher_number DESC
		LIMIT 1`,
		prefix+"-"+dateSegment+"-%").Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("voucher: last number: %w", err)
	}
	return number, true, nil
}
