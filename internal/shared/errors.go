package shared

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Error kinds shared across domain packages. Domain packages declare their
// own sentinels wrapping one of these so callers classify with errors.Is
// without importing every package.
var (
	// ErrNotFound indicates a missing facility, company, transaction or voucher.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a state conflict such as an open rental or a
	// facility that is already disposed.
	ErrConflict = errors.New("conflict")
	// ErrValidation indicates malformed request fields.
	ErrValidation = errors.New("validation failed")
	// ErrQuantityIntegrity indicates a closing computation that would drive
	// a quantity negative. It is never corrected silently.
	ErrQuantityIntegrity = errors.New("quantity integrity violated")
	// ErrUnbalancedVoucher indicates debit and credit totals differ.
	ErrUnbalancedVoucher = errors.New("voucher not balanced")
)

// Transient reports whether err looks like a temporary store failure worth
// a bounded retry: connection-class Postgres errors, serialization
// failures, and deadline expiry inside a unit of work.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case strings.HasPrefix(pgErr.Code, "08"): // connection exception
			return true
		case pgErr.Code == "40001": // serialization_failure
			return true
		case pgErr.Code == "40P01": // deadlock_detected
			return true
		case pgErr.Code == "55P03": // lock_not_available
			return true
		}
	}
	return false
}
