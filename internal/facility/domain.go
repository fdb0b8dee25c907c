package facility

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlasfm/atlasfm/internal/shared"
)

// Status enumerates the lifecycle states of a facility.
type Status string

const (
	StatusInStock     Status = "IN_STOCK"
	StatusInUse       Status = "IN_USE"
	StatusRented      Status = "RENTED"
	StatusUnderRepair Status = "UNDER_REPAIR"
	StatusInTransit   Status = "IN_TRANSIT"
	StatusDisposed    Status = "DISPOSED"
)

// ValidStatus reports whether s is a known status value.
func ValidStatus(s Status) bool {
	switch s {
	case StatusInStock, StatusInUse, StatusRented, StatusUnderRepair, StatusInTransit, StatusDisposed:
		return true
	default:
		return false
	}
}

// FacilityType is the classification closings aggregate over.
type FacilityType struct {
	ID     int64  `json:"id"`
	Code   string `json:"code"`
	Name   string `json:"name"`
	Active bool   `json:"active"`
}

// Facility is the asset record. Location, owner and status are
// denormalized from the transaction ledger; every movement rewrites them.
type Facility struct {
	ID                int64           `json:"id"`
	ManagementNumber  string          `json:"management_number"`
	SerialNumber      string          `json:"serial_number,omitempty"`
	Brand             string          `json:"brand,omitempty"`
	FacilityTypeID    int64           `json:"facility_type_id"`
	Status            Status          `json:"status"`
	AcquisitionCost   decimal.Decimal `json:"acquisition_cost"`
	CurrentValue      decimal.Decimal `json:"current_value"`
	LocationCompanyID int64           `json:"location_company_id"`
	OwnerCompanyID    int64           `json:"owner_company_id"`
	Active            bool            `json:"active"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// Filter narrows facility listings. Zero values mean "any".
type Filter struct {
	FacilityTypeID    int64
	LocationCompanyID int64
	OwnerCompanyID    int64
	Status            Status
	ActiveOnly        bool
	Search            string
	Limit             int
	Offset            int
}

// RegisterInput creates a facility together with its registration voucher.
type RegisterInput struct {
	ManagementNumber  string
	SerialNumber      string
	Brand             string
	FacilityTypeID    int64
	AcquisitionCost   decimal.Decimal
	LocationCompanyID int64
	OwnerCompanyID    int64
	ActorID           int64
}

// Validate checks the registration request.
func (in RegisterInput) Validate() error {
	if strings.TrimSpace(in.ManagementNumber) == "" {
		return fmt.Errorf("facility: management number required: %w", shared.ErrValidation)
	}
	if in.FacilityTypeID == 0 {
		return fmt.Errorf("facility: facility type required: %w", shared.ErrValidation)
	}
	if in.LocationCompanyID == 0 || in.OwnerCompanyID == 0 {
		return fmt.Errorf("facility: location and owner company required: %w", shared.ErrValidation)
	}
	if in.AcquisitionCost.IsNegative() {
		return fmt.Errorf("facility: acquisition cost must be >= 0: %w", shared.ErrValidation)
	}
	if in.ActorID == 0 {
		return fmt.Errorf("facility: actor required: %w", shared.ErrValidation)
	}
	return nil
}

// DepreciateInput reduces a facility's book value.
type DepreciateInput struct {
	FacilityID int64
	Amount     decimal.Decimal
	ActorID    int64
}

var (
	// ErrFacilityNotFound indicates a missing facility reference.
	ErrFacilityNotFound = fmt.Errorf("facility: %w", shared.ErrNotFound)
	// ErrFacilityDisposed indicates the facility is terminal and cannot move.
	ErrFacilityDisposed = fmt.Errorf("facility: already disposed: %w", shared.ErrConflict)
	// ErrDuplicateManagementNumber indicates the management number is taken.
	ErrDuplicateManagementNumber = fmt.Errorf("facility: duplicate management number: %w", shared.ErrConflict)
	// ErrValueExhausted indicates depreciation below zero book value.
	ErrValueExhausted = fmt.Errorf("facility: current value cannot go negative: %w", shared.ErrConflict)
)
