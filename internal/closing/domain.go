package closing

import (
	"fmt"
	"time"

	"github.com/atlasfm/atlasfm/internal/shared"
)

// Key identifies one closing unit: the company and facility type a
// snapshot aggregates over.
type Key struct {
	CompanyID      int64
	FacilityTypeID int64
}

// DailySnapshot is the persisted quantity-on-hand aggregate for one
// (company, facility type, date). Once closed it is immutable except
// through recalculation, which replaces the row atomically.
type DailySnapshot struct {
	ID               int64
	CompanyID        int64
	FacilityTypeID   int64
	ClosingDate      time.Time
	PreviousQuantity int64
	InboundQuantity  int64
	OutboundQuantity int64
	ClosingQuantity  int64
	IsClosed         bool
	ClosedAt         *time.Time
	ClosedBy         int64
}

// MonthlySnapshot mirrors DailySnapshot keyed by calendar month. Its
// sums come straight from the ledger, never from daily rows.
type MonthlySnapshot struct {
	ID               int64
	CompanyID        int64
	FacilityTypeID   int64
	Year             int
	Month            time.Month
	PreviousQuantity int64
	InboundQuantity  int64
	OutboundQuantity int64
	ClosingQuantity  int64
	IsClosed         bool
	ClosedAt         *time.Time
	ClosedBy         int64
}

// CurrentInventoryStatus composes the latest closed snapshot with the
// ledger deltas recorded since it.
type CurrentInventoryStatus struct {
	CompanyID         int64     `json:"company_id"`
	FacilityTypeID    int64     `json:"facility_type_id"`
	BaseQuantity      int64     `json:"base_quantity"`
	LatestClosingDate time.Time `json:"latest_closing_date"`
	RecentInbound     int64     `json:"recent_inbound"`
	RecentOutbound    int64     `json:"recent_outbound"`
	CurrentQuantity   int64     `json:"current_quantity"`
	AsOf              time.Time `json:"as_of"`
}

// StatusFilter narrows current-status queries. Zero values mean "all".
type StatusFilter struct {
	CompanyID      int64
	FacilityTypeID int64
}

// ErrNegativeClosing is raised when previous + inbound - outbound would
// go below zero; the engine never clamps or persists such a snapshot.
var ErrNegativeClosing = fmt.Errorf("closing: negative quantity: %w", shared.ErrQuantityIntegrity)

func dayStart(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

func monthStart(year int, month time.Month, loc *time.Location) time.Time {
	return time.Date(year, month, 1, 0, 0, 0, 0, loc)
}
