package company

import (
	"fmt"
	"time"

	"github.com/atlasfm/atlasfm/internal/shared"
)

// Kind classifies counterparties a facility can sit at.
type Kind string

const (
	KindHeadquarters  Kind = "HEADQUARTERS"
	KindStore         Kind = "STORE"
	KindServiceCenter Kind = "SERVICE_CENTER"
	KindVendor        Kind = "VENDOR"
)

// Company is a location or owner a facility is attached to.
type Company struct {
	ID        int64
	Code      string
	Name      string
	Kind      Kind
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Filter narrows company listings. Zero values mean "any".
type Filter struct {
	Kind       Kind
	ActiveOnly bool
	Search     string
	Limit      int
	Offset     int
}

// ErrCompanyNotFound indicates a missing company reference.
var ErrCompanyNotFound = fmt.Errorf("company: %w", shared.ErrNotFound)
