package ledger

import (
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
)

// TransactionFilter narrows ledger listings. Zero values mean "any".
// All call sites go through buildTransactionQuery so predicate
// composition lives in exactly one place.
type TransactionFilter struct {
	FacilityID       int64
	FacilityTypeID   int64
	FromCompanyID    int64
	ToCompanyID      int64
	Type             TransactionType
	BatchID          uuid.UUID
	From             time.Time
	To               time.Time
	ExcludeCancelled bool
	Limit            int
	Offset           int
}

const transactionsTable = "facility_transactions"

var transactionColumns = []string{
	"id", "tx_type", "facility_id", "facility_type_id", "occurred_at",
	"from_company_id", "to_company_id", "status_before", "status_after",
	"related_transaction_id", "batch_id", "cancelled", "cancel_reason",
	"expected_return_date", "actual_return_date", "service_request_id",
	"performed_by", "notes", "created_at",
}

// buildTransactionQuery translates a TransactionFilter into one
// parameterized query.
func buildTransactionQuery(builder squirrel.StatementBuilderType, filter TransactionFilter) squirrel.SelectBuilder {
	q := builder.
		Select(transactionColumns...).
		From(transactionsTable).
		OrderBy("occurred_at ASC", "id ASC")
	if filter.FacilityID != 0 {
		q = q.Where(squirrel.Eq{"facility_id": filter.FacilityID})
	}
	if filter.FacilityTypeID != 0 {
		q = q.Where(squirrel.Eq{"facility_type_id": filter.FacilityTypeID})
	}
	if filter.FromCompanyID != 0 {
		q = q.Where(squirrel.Eq{"from_company_id": filter.FromCompanyID})
	}
	if filter.ToCompanyID != 0 {
		q = q.Where(squirrel.Eq{"to_company_id": filter.ToCompanyID})
	}
	if filter.Type != "" {
		q = q.Where(squirrel.Eq{"tx_type": string(filter.Type)})
	}
	if filter.BatchID != uuid.Nil {
		q = q.Where(squirrel.Eq{"batch_id": filter.BatchID})
	}
	if !filter.From.IsZero() {
		q = q.Where(squirrel.GtOrEq{"occurred_at": filter.From})
	}
	if !filter.To.IsZero() {
		q = q.Where(squirrel.Lt{"occurred_at": filter.To})
	}
	if filter.ExcludeCancelled {
		q = q.Where(squirrel.Eq{"cancelled": false})
	}
	if filter.Limit > 0 {
		q = q.Limit(uint64(filter.Limit)).Offset(uint64(filter.Offset))
	}
	return q
}
