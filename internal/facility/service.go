package facility

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlasfm/atlasfm/internal/shared"
)

// RepositoryPort abstracts persistence for the service.
type RepositoryPort interface {
	Get(ctx context.Context, id int64) (Facility, error)
	GetForUpdate(ctx context.Context, id int64) (Facility, error)
	Insert(ctx context.Context, f Facility) (Facility, error)
	UpdateCurrentValue(ctx context.Context, id int64, value decimal.Decimal) error
	List(ctx context.Context, filter Filter) ([]Facility, error)
	ListTypes(ctx context.Context) ([]FacilityType, error)
}

// CompanyPort validates company references.
type CompanyPort interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// VoucherPort issues the financial postings that must accompany
// registration and depreciation. Both are mandatory: a voucher failure
// aborts the whole unit of work.
type VoucherPort interface {
	CreateRegistrationVoucher(ctx context.Context, facilityID int64, cost decimal.Decimal, date time.Time, actorID int64) (int64, error)
	CreateDepreciationVoucher(ctx context.Context, facilityID int64, amount decimal.Decimal, date time.Time, actorID int64) (int64, error)
}

// TxRunner scopes a unit of work.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AuditPort records administrative actions.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service owns facility registration and book-value maintenance.
// Movements are the ledger's job; this service never touches location.
type Service struct {
	repo      RepositoryPort
	companies CompanyPort
	vouchers  VoucherPort
	runner    TxRunner
	audit     AuditPort
	now       func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, companies CompanyPort, vouchers VoucherPort, runner TxRunner, audit AuditPort) *Service {
	return &Service{repo: repo, companies: companies, vouchers: vouchers, runner: runner, audit: audit, now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Register creates the facility together with its registration voucher in
// one transaction.
func (s *Service) Register(ctx context.Context, in RegisterInput) (Facility, error) {
	if err := in.Validate(); err != nil {
		return Facility{}, err
	}
	for _, companyID := range []int64{in.LocationCompanyID, in.OwnerCompanyID} {
		ok, err := s.companies.Exists(ctx, companyID)
		if err != nil {
			return Facility{}, err
		}
		if !ok {
			return Facility{}, fmt.Errorf("facility: company %d: %w", companyID, shared.ErrNotFound)
		}
	}
	var created Facility
	err := s.runner.WithTx(ctx, func(ctx context.Context) error {
		var err error
		created, err = s.repo.Insert(ctx, Facility{
			ManagementNumber:  in.ManagementNumber,
			SerialNumber:      in.SerialNumber,
			Brand:             in.Brand,
			FacilityTypeID:    in.FacilityTypeID,
			Status:            StatusInStock,
			AcquisitionCost:   in.AcquisitionCost,
			CurrentValue:      in.AcquisitionCost,
			LocationCompanyID: in.LocationCompanyID,
			OwnerCompanyID:    in.OwnerCompanyID,
		})
		if err != nil {
			return err
		}
		if in.AcquisitionCost.IsPositive() {
			if _, err := s.vouchers.CreateRegistrationVoucher(ctx, created.ID, in.AcquisitionCost, s.now(), in.ActorID); err != nil {
				return fmt.Errorf("facility: registration voucher: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return Facility{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "facility.register",
			Entity:   "facility",
			EntityID: fmt.Sprintf("%d", created.ID),
			Meta: map[string]any{
				"management_number": created.ManagementNumber,
				"facility_type_id":  created.FacilityTypeID,
			},
			At: s.now(),
		})
	}
	return created, nil
}

// Depreciate lowers the book value and posts the depreciation voucher in
// one transaction. Disposed facilities are excluded from depreciation.
func (s *Service) Depreciate(ctx context.Context, in DepreciateInput) (Facility, error) {
	if in.FacilityID == 0 || in.ActorID == 0 {
		return Facility{}, fmt.Errorf("facility: facility and actor required: %w", shared.ErrValidation)
	}
	if !in.Amount.IsPositive() {
		return Facility{}, fmt.Errorf("facility: depreciation amount must be > 0: %w", shared.ErrValidation)
	}
	var updated Facility
	err := s.runner.WithTx(ctx, func(ctx context.Context) error {
		current, err := s.repo.GetForUpdate(ctx, in.FacilityID)
		if err != nil {
			return err
		}
		if !current.Active || current.Status == StatusDisposed {
			return ErrFacilityDisposed
		}
		remaining := current.CurrentValue.Sub(in.Amount)
		if remaining.IsNegative() {
			return ErrValueExhausted
		}
		if err := s.repo.UpdateCurrentValue(ctx, current.ID, remaining); err != nil {
			return err
		}
		if _, err := s.vouchers.CreateDepreciationVoucher(ctx, current.ID, in.Amount, s.now(), in.ActorID); err != nil {
			return fmt.Errorf("facility: depreciation voucher: %w", err)
		}
		updated = current
		updated.CurrentValue = remaining
		return nil
	})
	if err != nil {
		return Facility{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  in.ActorID,
			Action:   "facility.depreciate",
			Entity:   "facility",
			EntityID: fmt.Sprintf("%d", updated.ID),
			Meta: map[string]any{
				"amount":        in.Amount.String(),
				"current_value": updated.CurrentValue.String(),
			},
			At: s.now(),
		})
	}
	return updated, nil
}

// Get returns one facility.
func (s *Service) Get(ctx context.Context, id int64) (Facility, error) {
	return s.repo.Get(ctx, id)
}

// List returns facilities matching the filter.
func (s *Service) List(ctx context.Context, filter Filter) ([]Facility, error) {
	return s.repo.List(ctx, filter)
}

// ListTypes returns the active facility types.
func (s *Service) ListTypes(ctx context.Context) ([]FacilityType, error) {
	return s.repo.ListTypes(ctx)
}
