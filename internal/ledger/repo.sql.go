package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/atlasfm/atlasfm/internal/platform/db"
)

// Repository persists ledger entries in PostgreSQL. All methods join an
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

func scanTransaction(row pgx.Row) (FacilityTransaction, error) {
	var t FacilityTransaction
	err := row.Scan(&t.ID, &t.Type, &t.FacilityID, &t.FacilityTypeID, &t.OccurredAt,
		&t.FromCompanyID, &t.ToCompanyID, &t.StatusBefore, &t.StatusAfter,
		&t.RelatedTransactionID, &t.BatchID, &t.Cancelled, &t.CancelReason,
		&t.ExpectedReturnDate, &t.ActualReturnDate, &t.ServiceRequestID,
		&t.PerformedBy, &t.Notes, &t.CreatedAt)
	return t, err
}

// Insert appends one entry and returns it with generated fields.
func (r *Repository) Insert(ctx context.Context, t FacilityTransaction) (FacilityTransaction, error) {
	q := db.From(ctx, r.pool)
	err := q.QueryRow(ctx, `INSERT INTO facility_transactions
(tx_type, facility_id, facility_type_id, occurred_at, from_company_id, to_company_id,
 status_before, status_after, related_transaction_id, batch_id, cancelled, cancel_reason,
 expected_return_date, actual_return_date, service_request_id, performed_by, notes, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,FALSE,'',$11,$12,$13,$14,$15,NOW())
RETURNING id, created_at`,
		string(t.Type), t.FacilityID, t.FacilityTypeID, t.OccurredAt, t.FromCompanyID, t.ToCompanyID,
		string(t.StatusBefore), string(t.StatusAfter), t.RelatedTransactionID, t.BatchID,
		t.ExpectedReturnDate, t.ActualReturnDate, t.ServiceRequestID, t.PerformedBy, t.Notes).
		Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return FacilityTransaction{}, fmt.Errorf("ledger: insert: %w", err)
	}
	return t, nil
}

// Get loads one entry by id.
func (r *Repository) Get(ctx context.Context, id int64) (FacilityTransaction, error) {
	sql, args, err := buildTransactionQuery(r.builder, TransactionFilter{}).
		Where(squirrel.Eq{"id": id}).ToSql()
	if err != nil {
		return FacilityTransaction{}, fmt.Errorf("ledger: build get: %w", err)
	}
	t, err := scanTransaction(db.From(ctx, r.pool).QueryRow(ctx, sql, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FacilityTransaction{}, ErrTransactionNotFound
		}
		return FacilityTransaction{}, fmt.Errorf("ledger: get: %w", err)
	}
	return t, nil
}

// FindOpenRental returns the rental for the facility that has no
// un-cancelled return paired to it yet.
func (r *Repository) FindOpenRental(ctx context.Context, facilityID int64) (FacilityTransaction, bool, error) {
	return r.findOpenOutgoing(ctx, facilityID, TypeRental)
}

// FindOpenServiceOut returns the outstanding service transfer for the
// facility, used to resolve the origin company on service return.
func (r *Repository) FindOpenServiceOut(ctx context.Context, facilityID int64) (FacilityTransaction, bool, error) {
	return r.findOpenOutgoing(ctx, facilityID, TypeService)
}

func (r *Repository) findOpenOutgoing(ctx context.Context, facilityID int64, txType TransactionType) (FacilityTransaction, bool, error) {
	q := db.From(ctx, r.pool)
	cols := ""
	for i, c := range transactionColumns {
		if i > 0 {
			cols += ", "
		}
		cols += "t." + c
	}
	query := `SELECT ` + cols + ` FROM facility_transactions t
WHERE t.facility_id = $1
  AND t.tx_type = $2
  AND NOT t.cancelled
  AND ($2 <> 'SERVICE' OR t.related_transaction_id IS NULL)
  AND NOT EXISTS (
    SELECT 1 FROM facility_transactions pair
    WHERE pair.related_transaction_id = t.id AND NOT pair.cancelled
  )
ORDER BY t.occurred_at DESC, t.id DESC
LIMIT 1`
	t, err := scanTransaction(q.QueryRow(ctx, query, facilityID, string(txType)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return FacilityTransaction{}, false, nil
		}
		return FacilityTransaction{}, false, fmt.Errorf("ledger: find open %s: %w", txType, err)
	}
	return t, true, nil
}

// HasResolution reports whether an un-cancelled entry already pairs with
// the given transaction id.
func (r *Repository) HasResolution(ctx context.Context, transactionID int64) (bool, error) {
	var ok bool
	err := db.From(ctx, r.pool).QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM facility_transactions WHERE related_transaction_id=$1 AND NOT cancelled)`,
		transactionID).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("ledger: has resolution: %w", err)
	}
	return ok, nil
}

// MarkCancelled flags an entry cancelled without touching anything else.
func (r *Repository) MarkCancelled(ctx context.Context, id int64, reason string) error {
	tag, err := db.From(ctx, r.pool).Exec(ctx,
		`UPDATE facility_transactions SET cancelled=TRUE, cancel_reason=$2 WHERE id=$1 AND NOT cancelled`,
		id, reason)
	if err != nil {
		return fmt.Errorf("ledger: mark cancelled: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyCancelled
	}
	return nil
}

// List returns entries matching the filter in submission order.
func (r *Repository) List(ctx context.Context, filter TransactionFilter) ([]FacilityTransaction, error) {
	sql, args, err := buildTransactionQuery(r.builder, filter).ToSql()
	if err != nil {
		return nil, fmt.Errorf("ledger: build list: %w", err)
	}
	rows, err := db.From(ctx, r.pool).Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()
	var txs []FacilityTransaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("ledger: scan list: %w", err)
		}
		txs = append(txs, t)
	}
	return txs, rows.Err()
}
