package ledger

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/atlasfm/atlasfm/internal/facility"
	"github.com/atlasfm/atlasfm/internal/shared"
)

// TransactionType enumerates facility movements.
type TransactionType string

const (
	TypeInbound  TransactionType = "INBOUND"
	TypeOutbound TransactionType = "OUTBOUND"
	TypeMove     TransactionType = "MOVE"
	TypeRental   TransactionType = "RENTAL"
	TypeReturn   TransactionType = "RETURN"
	TypeService  TransactionType = "SERVICE"
	TypeDispose  TransactionType = "DISPOSE"
)

// FacilityTransaction is one append-only ledger entry. Committed entries
// are immutable; cancellation marks them excluded from balance sums but
// never deletes them.
type FacilityTransaction struct {
	ID                   int64           `json:"id"`
	Type                 TransactionType `json:"type"`
	FacilityID           int64           `json:"facility_id"`
	FacilityTypeID       int64           `json:"facility_type_id"`
	OccurredAt           time.Time       `json:"occurred_at"`
	FromCompanyID        *int64          `json:"from_company_id,omitempty"`
	ToCompanyID          *int64          `json:"to_company_id,omitempty"`
	StatusBefore         facility.Status `json:"status_before"`
	StatusAfter          facility.Status `json:"status_after"`
	RelatedTransactionID *int64          `json:"related_transaction_id,omitempty"`
	BatchID              uuid.UUID       `json:"batch_id"`
	Cancelled            bool            `json:"cancelled"`
	CancelReason         string          `json:"cancel_reason,omitempty"`
	ExpectedReturnDate   *time.Time      `json:"expected_return_date,omitempty"`
	ActualReturnDate     *time.Time      `json:"actual_return_date,omitempty"`
	ServiceRequestID     *int64          `json:"service_request_id,omitempty"`
	PerformedBy          int64           `json:"performed_by"`
	Notes                string          `json:"notes,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
}

var validate = validator.New()

func validateStruct(in any) error {
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("ledger: %v: %w", err, shared.ErrValidation)
	}
	return nil
}

// InboundInput records the first-time or returning entry into a company.
type InboundInput struct {
	FacilityID    int64 `validate:"required"`
	ToCompanyID   int64 `validate:"required"`
	FromCompanyID int64
	StatusAfter   facility.Status `validate:"required"`
	BatchID       uuid.UUID
	ActorID       int64 `validate:"required"`
	Notes         string
}

// Validate checks the inbound request.
func (in InboundInput) Validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if !facility.ValidStatus(in.StatusAfter) || in.StatusAfter == facility.StatusDisposed {
		return fmt.Errorf("ledger: invalid inbound status %q: %w", in.StatusAfter, shared.ErrValidation)
	}
	return nil
}

// OutboundInput records leaving a company, optionally with ownership.
type OutboundInput struct {
	FacilityID        int64 `validate:"required"`
	FromCompanyID     int64 `validate:"required"`
	ToCompanyID       int64 `validate:"required"`
	TransferOwnership bool
	StatusAfter       facility.Status `validate:"required"`
	BatchID           uuid.UUID
	ActorID           int64 `validate:"required"`
	Notes             string
}

// Validate checks the outbound request.
func (in OutboundInput) Validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if !facility.ValidStatus(in.StatusAfter) || in.StatusAfter == facility.StatusDisposed {
		return fmt.Errorf("ledger: invalid outbound status %q: %w", in.StatusAfter, shared.ErrValidation)
	}
	return nil
}

// MoveInput records a location-only change; ownership is untouched.
type MoveInput struct {
	FacilityID    int64 `validate:"required"`
	FromCompanyID int64 `validate:"required"`
	ToCompanyID   int64 `validate:"required"`
	StatusAfter   facility.Status
	BatchID       uuid.UUID
	ActorID       int64 `validate:"required"`
	Notes         string
}

// Validate checks the move request.
func (in MoveInput) Validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if in.StatusAfter != "" && (!facility.ValidStatus(in.StatusAfter) || in.StatusAfter == facility.StatusDisposed) {
		return fmt.Errorf("ledger: invalid move status %q: %w", in.StatusAfter, shared.ErrValidation)
	}
	if in.FromCompanyID == in.ToCompanyID {
		return fmt.Errorf("ledger: move requires distinct companies: %w", shared.ErrValidation)
	}
	return nil
}

// RentalInput lends a facility out; at most one rental can be open per
// facility at a time.
type RentalInput struct {
	FacilityID         int64 `validate:"required"`
	FromCompanyID      int64 `validate:"required"`
	ToCompanyID        int64 `validate:"required"`
	ExpectedReturnDate time.Time `validate:"required"`
	StatusAfter        facility.Status
	BatchID            uuid.UUID
	ActorID            int64 `validate:"required"`
	Notes              string
}

// Validate checks the rental request against the clock.
func (in RentalInput) Validate(now time.Time) error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if !in.ExpectedReturnDate.After(now) {
		return fmt.Errorf("ledger: expected return date must be in the future: %w", shared.ErrValidation)
	}
	return nil
}

// ReturnInput closes an open rental.
type ReturnInput struct {
	FacilityID          int64 `validate:"required"`
	RentalTransactionID int64 `validate:"required"`
	ActualReturnDate    *time.Time
	StatusAfter         facility.Status `validate:"required"`
	BatchID             uuid.UUID
	ActorID             int64 `validate:"required"`
	Notes               string
}

// Validate checks the return request.
func (in ReturnInput) Validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if !facility.ValidStatus(in.StatusAfter) || in.StatusAfter == facility.StatusDisposed {
		return fmt.Errorf("ledger: invalid return status %q: %w", in.StatusAfter, shared.ErrValidation)
	}
	return nil
}

// ServiceInput moves a facility to or from a service center.
type ServiceInput struct {
	FacilityID           int64 `validate:"required"`
	ServiceRequestID     int64 `validate:"required"`
	FromCompanyID        int64 `validate:"required"`
	ToCompanyID          int64
	IsReturn             bool
	RelatedTransactionID int64
	StatusAfter          facility.Status
	BatchID              uuid.UUID
	ActorID              int64 `validate:"required"`
	Notes                string
}

// Validate checks the service request. Outbound service transfers must
// name the destination center; returns may resolve it from the original
// transaction.
func (in ServiceInput) Validate() error {
	if err := validateStruct(in); err != nil {
		return err
	}
	if !in.IsReturn && in.ToCompanyID == 0 {
		return fmt.Errorf("ledger: service transfer requires destination company: %w", shared.ErrValidation)
	}
	return nil
}

// DisposeInput terminates a facility.
type DisposeInput struct {
	FacilityID int64 `validate:"required"`
	ActorID    int64 `validate:"required"`
	Notes      string
}

// Validate checks the dispose request.
func (in DisposeInput) Validate() error {
	return validateStruct(in)
}

// CancelInput marks a committed transaction cancelled. It never reverses
// the facility's denormalized state; the caller issues the compensating
// movement separately.
type CancelInput struct {
	TransactionID int64  `validate:"required"`
	Reason        string `validate:"required"`
	ActorID       int64  `validate:"required"`
}

// Validate checks the cancel request.
func (in CancelInput) Validate() error {
	return validateStruct(in)
}

var (
	// ErrTransactionNotFound indicates a missing ledger entry.
	ErrTransactionNotFound = fmt.Errorf("ledger: transaction %w", shared.ErrNotFound)
	// ErrOpenRentalExists rejects a second rental while one is open.
	ErrOpenRentalExists = fmt.Errorf("ledger: open rental exists: %w", shared.ErrConflict)
	// ErrAlreadyReturned rejects a return for a rental that was resolved.
	ErrAlreadyReturned = fmt.Errorf("ledger: already returned: %w", shared.ErrConflict)
	// ErrRelatedTransactionNotFound indicates the referenced pairing entry
	// is missing or of the wrong kind.
	ErrRelatedTransactionNotFound = fmt.Errorf("ledger: related transaction %w", shared.ErrNotFound)
	// ErrAlreadyCancelled rejects cancelling twice.
	ErrAlreadyCancelled = fmt.Errorf("ledger: already cancelled: %w", shared.ErrConflict)
)
