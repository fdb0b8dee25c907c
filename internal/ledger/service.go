package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atlasfm/atlasfm/internal/facility"
	"github.com/atlasfm/atlasfm/internal/shared"
)

// RepositoryPort abstracts ledger persistence.
type RepositoryPort interface {
	Insert(ctx context.Context, t FacilityTransaction) (FacilityTransaction, error)
	Get(ctx context.Context, id int64) (FacilityTransaction, error)
	FindOpenRental(ctx context.Context, facilityID int64) (FacilityTransaction, bool, error)
	FindOpenServiceOut(ctx context.Context, facilityID int64) (FacilityTransaction, bool, error)
	HasResolution(ctx context.Context, transactionID int64) (bool, error)
	MarkCancelled(ctx context.Context, id int64, reason string) error
	List(ctx context.Context, filter TransactionFilter) ([]FacilityTransaction, error)
}

// FacilityPort mutates the facility's denormalized movement state.
type FacilityPort interface {
	GetForUpdate(ctx context.Context, id int64) (facility.Facility, error)
	UpdateState(ctx context.Context, id int64, status facility.Status, locationCompanyID, ownerCompanyID int64, active bool) error
}

// CompanyPort validates company references.
type CompanyPort interface {
	Exists(ctx context.Context, id int64) (bool, error)
}

// VoucherPort issues the disposal posting. Disposal vouchers are
// mandatory: failure aborts the disposal transaction.
type VoucherPort interface {
	CreateDisposalVoucher(ctx context.Context, facilityID, transactionID int64, acquisitionCost, residualValue decimal.Decimal, date time.Time, actorID int64) (int64, error)
}

// CachePort invalidates the current-inventory cache after ledger writes.
type CachePort interface {
	Bump(ctx context.Context) error
}

// TxRunner scopes a unit of work.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AuditPort records ledger activity.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service validates and appends movements, keeping the facility's
// denormalized state in step. Ledger append and facility mutation always
// share one transaction.
type Service struct {
	repo       RepositoryPort
	facilities FacilityPort
	companies  CompanyPort
	vouchers   VoucherPort
	cache      CachePort
	runner     TxRunner
	audit      AuditPort
	now        func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, facilities FacilityPort, companies CompanyPort, vouchers VoucherPort, cache CachePort, runner TxRunner, audit AuditPort) *Service {
	return &Service{
		repo:       repo,
		facilities: facilities,
		companies:  companies,
		vouchers:   vouchers,
		cache:      cache,
		runner:     runner,
		audit:      audit,
		now:        time.Now,
	}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// Inbound records entry of a facility into a company.
func (s *Service) Inbound(ctx context.Context, in InboundInput) (FacilityTransaction, error) {
	if err := in.Validate(); err != nil {
		return FacilityTransaction{}, err
	}
	if err := s.requireCompanies(ctx, in.ToCompanyID, in.FromCompanyID); err != nil {
		return FacilityTransaction{}, err
	}
	return s.append(ctx, appendParams{
		Type:        TypeInbound,
		FacilityID:  in.FacilityID,
		From:        optionalID(in.FromCompanyID),
		To:          optionalID(in.ToCompanyID),
		StatusAfter: in.StatusAfter,
		BatchID:     in.BatchID,
		ActorID:     in.ActorID,
		Notes:       in.Notes,
		Mutate: func(f facility.Facility) (stateChange, error) {
			if !f.Active || f.Status == facility.StatusDisposed {
				return stateChange{}, facility.ErrFacilityDisposed
			}
			return stateChange{
				Status:   in.StatusAfter,
				Location: in.ToCompanyID,
				Owner:    f.OwnerCompanyID,
				Active:   true,
			}, nil
		},
	})
}

// Outbound records leaving a company, optionally reassigning ownership.
func (s *Service) Outbound(ctx context.Context, in OutboundInput) (FacilityTransaction, error) {
	if err := in.Validate(); err != nil {
		return FacilityTransaction{}, err
	}
	if err := s.requireCompanies(ctx, in.FromCompanyID, in.ToCompanyID); err != nil {
		return FacilityTransaction{}, err
	}
	return s.append(ctx, appendParams{
		Type:        TypeOutbound,
		FacilityID:  in.FacilityID,
		From:        optionalID(in.FromCompanyID),
		To:          optionalID(in.ToCompanyID),
		StatusAfter: in.StatusAfter,
		BatchID:     in.BatchID,
		ActorID:     in.ActorID,
		Notes:       in.Notes,
		Mutate: func(f facility.Facility) (stateChange, error) {
			if !f.Active || f.Status == facility.StatusDisposed {
				return stateChange{}, facility.ErrFacilityDisposed
			}
			owner := f.OwnerCompanyID
			if in.TransferOwnership {
				owner = in.ToCompanyID
			}
			return stateChange{
				Status:   in.StatusAfter,
				Location: in.ToCompanyID,
				Owner:    owner,
				Active:   true,
			}, nil
		},
	})
}

// Move records a location-only change; ownership stays untouched.
func (s *Service) Move(ctx context.Context, in MoveInput) (FacilityTransaction, error) {
	if err := in.Validate(); err != nil {
		return FacilityTransaction{}, err
	}
	if err := s.requireCompanies(ctx, in.FromCompanyID, in.ToCompanyID); err != nil {
		return FacilityTransaction{}, err
	}
	return s.append(ctx, appendParams{
		Type:        TypeMove,
		FacilityID:  in.FacilityID,
		From:        optionalID(in.FromCompanyID),
		To:          optionalID(in.ToCompanyID),
		StatusAfter: in.StatusAfter,
		BatchID:     in.BatchID,
		ActorID:     in.ActorID,
		Notes:       in.Notes,
		Mutate: func(f facility.Facility) (stateChange, error) {
			if !f.Active || f.Status == facility.StatusDisposed {
				return stateChange{}, facility.ErrFacilityDisposed
			}
			status := f.Status
			if in.StatusAfter != "" {
				status = in.StatusAfter
			}
			return stateChange{
				Status:   status,
				Location: in.ToCompanyID,
				Owner:    f.OwnerCompanyID,
				Active:   true,
			}, nil
		},
	})
}

// Rental lends the facility out. At most one rental can be open per
// facility; a second request fails before anything is written.
func (s *Service) Rental(ctx context.Context, in RentalInput) (FacilityTransaction, error) {
	if err := in.Validate(s.now()); err != nil {
		return FacilityTransaction{}, err
	}
	if err := s.requireCompanies(ctx, in.FromCompanyID, in.ToCompanyID); err != nil {
		return FacilityTransaction{}, err
	}
	status := in.StatusAfter
	if status == "" {
		status = facility.StatusRented
	}
	expected := in.ExpectedReturnDate
	return s.append(ctx, appendParams{
		Type:               TypeRental,
		FacilityID:         in.FacilityID,
		From:               optionalID(in.FromCompanyID),
		To:                 optionalID(in.ToCompanyID),
		StatusAfter:        status,
		BatchID:            in.BatchID,
		ActorID:            in.ActorID,
		Notes:              in.Notes,
		ExpectedReturnDate: &expected,
		Prepare: func(ctx context.Context, f facility.Facility) error {
			if _, open, err := s.repo.FindOpenRental(ctx, f.ID); err != nil {
				return err
			} else if open {
				return ErrOpenRentalExists
			}
			return nil
		},
		Mutate: func(f facility.Facility) (stateChange, error) {
			if !f.Active || f.Status == facility.StatusDisposed {
				return stateChange{}, facility.ErrFacilityDisposed
			}
			return stateChange{
				Status:   status,
				Location: in.ToCompanyID,
				Owner:    f.OwnerCompanyID,
				Active:   true,
			}, nil
		},
	})
}

// Return closes an open rental and pairs the two entries through
// relatedTransaction.
func (s *Service) Return(ctx context.Context, in ReturnInput) (FacilityTransaction, error) {
	if err := in.Validate(); err != nil {
		return FacilityTransaction{}, err
	}
	actual := s.now()
	if in.ActualReturnDate != nil {
		actual = *in.ActualReturnDate
	}
	var rental FacilityTransaction
	params := appendParams{
		Type:             TypeReturn,
		FacilityID:       in.FacilityID,
		StatusAfter:      in.StatusAfter,
		BatchID:          in.BatchID,
		ActorID:          in.ActorID,
		Notes:            in.Notes,
		ActualReturnDate: &actual,
		Prepare: func(ctx context.Context, f facility.Facility) error {
			var err error
			rental, err = s.repo.Get(ctx, in.RentalTransactionID)
			if err != nil {
				return ErrRelatedTransactionNotFound
			}
			if rental.FacilityID != f.ID || rental.Type != TypeRental || rental.Cancelled {
				return ErrRelatedTransactionNotFound
			}
			resolved, err := s.repo.HasResolution(ctx, rental.ID)
			if err != nil {
				return err
			}
			if resolved {
				return ErrAlreadyReturned
			}
			return nil
		},
		Mutate: func(f facility.Facility) (stateChange, error) {
			location := f.LocationCompanyID
			if rental.FromCompanyID != nil {
				location = *rental.FromCompanyID
			}
			return stateChange{
				Status:   in.StatusAfter,
				Location: location,
				Owner:    f.OwnerCompanyID,
				Active:   f.Active,
			}, nil
		},
		Finalize: func(t *FacilityTransaction) {
			t.RelatedTransactionID = &rental.ID
			t.FromCompanyID = rental.ToCompanyID
			t.ToCompanyID = rental.FromCompanyID
		},
	}
	return s.append(ctx, params)
}

// ServiceTransfer moves a facility to a service center, or back from
// one. On return the destination resolves from the explicit related
// transaction, then from the outstanding service transfer, then falls
// back to the owner company.
func (s *Service) ServiceTransfer(ctx context.Context, in ServiceInput) (FacilityTransaction, error) {
	if err := in.Validate(); err != nil {
		return FacilityTransaction{}, err
	}
	if !in.IsReturn {
		return s.serviceOut(ctx, in)
	}
	return s.serviceReturn(ctx, in)
}

func (s *Service) serviceOut(ctx context.Context, in ServiceInput) (FacilityTransaction, error) {
	if err := s.requireCompanies(ctx, in.FromCompanyID, in.ToCompanyID); err != nil {
		return FacilityTransaction{}, err
	}
	status := in.StatusAfter
	if status == "" {
		status = facility.StatusUnderRepair
	}
	serviceRequestID := in.ServiceRequestID
	return s.append(ctx, appendParams{
		Type:             TypeService,
		FacilityID:       in.FacilityID,
		From:             optionalID(in.FromCompanyID),
		To:               optionalID(in.ToCompanyID),
		StatusAfter:      status,
		BatchID:          in.BatchID,
		ActorID:          in.ActorID,
		Notes:            in.Notes,
		ServiceRequestID: &serviceRequestID,
		Mutate: func(f facility.Facility) (stateChange, error) {
			if !f.Active || f.Status == facility.StatusDisposed {
				return stateChange{}, facility.ErrFacilityDisposed
			}
			return stateChange{
				Status:   status,
				Location: in.ToCompanyID,
				Owner:    f.OwnerCompanyID,
				Active:   true,
			}, nil
		},
	})
}

func (s *Service) serviceReturn(ctx context.Context, in ServiceInput) (FacilityTransaction, error) {
	status := in.StatusAfter
	if status == "" {
		status = facility.StatusInUse
	}
	serviceRequestID := in.ServiceRequestID
	var related *FacilityTransaction
	var destination int64
	return s.append(ctx, appendParams{
		Type:             TypeService,
		FacilityID:       in.FacilityID,
		From:             optionalID(in.FromCompanyID),
		StatusAfter:      status,
		BatchID:          in.BatchID,
		ActorID:          in.ActorID,
		Notes:            in.Notes,
		ServiceRequestID: &serviceRequestID,
		Prepare: func(ctx context.Context, f facility.Facility) error {
			if in.RelatedTransactionID != 0 {
				t, err := s.repo.Get(ctx, in.RelatedTransactionID)
				if err != nil {
					return ErrRelatedTransactionNotFound
				}
				if t.FacilityID != f.ID || t.Type != TypeService || t.Cancelled || t.RelatedTransactionID != nil {
					return ErrRelatedTransactionNotFound
				}
				resolved, err := s.repo.HasResolution(ctx, t.ID)
				if err != nil {
					return err
				}
				if resolved {
					return ErrAlreadyReturned
				}
				related = &t
			} else if t, open, err := s.repo.FindOpenServiceOut(ctx, f.ID); err != nil {
				return err
			} else if open {
				related = &t
			}
			destination = in.ToCompanyID
			if destination == 0 && related != nil && related.FromCompanyID != nil {
				destination = *related.FromCompanyID
			}
			if destination == 0 {
				destination = f.OwnerCompanyID
			}
			return nil
		},
		Mutate: func(f facility.Facility) (stateChange, error) {
			if !f.Active || f.Status == facility.StatusDisposed {
				return stateChange{}, facility.ErrFacilityDisposed
			}
			return stateChange{
				Status:   status,
				Location: destination,
				Owner:    f.OwnerCompanyID,
				Active:   true,
			}, nil
		},
		Finalize: func(t *FacilityTransaction) {
			t.ToCompanyID = &destination
			if related != nil {
				t.RelatedTransactionID = &related.ID
			}
		},
	})
}

// Dispose terminates a facility and posts the mandatory disposal voucher
// in the same unit of work.
func (s *Service) Dispose(ctx context.Context, in DisposeInput) (FacilityTransaction, error) {
	if err := in.Validate(); err != nil {
		return FacilityTransaction{}, err
	}
	var snapshot facility.Facility
	return s.append(ctx, appendParams{
		Type:        TypeDispose,
		FacilityID:  in.FacilityID,
		StatusAfter: facility.StatusDisposed,
		ActorID:     in.ActorID,
		Notes:       in.Notes,
		Mutate: func(f facility.Facility) (stateChange, error) {
			if !f.Active || f.Status == facility.StatusDisposed {
				return stateChange{}, facility.ErrFacilityDisposed
			}
			snapshot = f
			return stateChange{
				Status:   facility.StatusDisposed,
				Location: f.LocationCompanyID,
				Owner:    f.OwnerCompanyID,
				Active:   false,
			}, nil
		},
		Finalize: func(t *FacilityTransaction) {
			location := snapshot.LocationCompanyID
			t.FromCompanyID = &location
		},
		After: func(ctx context.Context, t FacilityTransaction) error {
			if s.vouchers == nil {
				return nil
			}
			if _, err := s.vouchers.CreateDisposalVoucher(ctx, snapshot.ID, t.ID, snapshot.AcquisitionCost, snapshot.CurrentValue, s.now(), in.ActorID); err != nil {
				return fmt.Errorf("ledger: disposal voucher: %w", err)
			}
			return nil
		},
	})
}

// Cancel flags a transaction as excluded from balance computation. The
// facility's current state is left alone; reversing it is a separate
// compensating movement the caller issues.
func (s *Service) Cancel(ctx context.Context, in CancelInput) (FacilityTransaction, error) {
	if err := in.Validate(); err != nil {
		return FacilityTransaction{}, err
	}
	var cancelled FacilityTransaction
	err := s.runner.WithTx(ctx, func(ctx context.Context) error {
		t, err := s.repo.Get(ctx, in.TransactionID)
		if err != nil {
			return err
		}
		if t.Cancelled {
			return ErrAlreadyCancelled
		}
		if err := s.repo.MarkCancelled(ctx, t.ID, in.Reason); err != nil {
			return err
		}
		cancelled = t
		cancelled.Cancelled = true
		cancelled.CancelReason = in.Reason
		return nil
	})
	if err != nil {
		return FacilityTransaction{}, err
	}
	s.afterCommit(ctx, in.ActorID, "ledger.cancel", cancelled, map[string]any{"reason": in.Reason})
	return cancelled, nil
}

// List returns ledger entries matching the filter.
func (s *Service) List(ctx context.Context, filter TransactionFilter) ([]FacilityTransaction, error) {
	return s.repo.List(ctx, filter)
}

// Get returns one ledger entry.
func (s *Service) Get(ctx context.Context, id int64) (FacilityTransaction, error) {
	return s.repo.Get(ctx, id)
}

type stateChange struct {
	Status   facility.Status
	Location int64
	Owner    int64
	Active   bool
}

type appendParams struct {
	Type               TransactionType
	FacilityID         int64
	From               *int64
	To                 *int64
	StatusAfter        facility.Status
	BatchID            uuid.UUID
	ActorID            int64
	Notes              string
	ExpectedReturnDate *time.Time
	ActualReturnDate   *time.Time
	ServiceRequestID   *int64

	// Prepare runs after the facility row is locked, before the entry is
	// built. Mutate derives the new denormalized state. Finalize patches
	// the entry just before insert. After runs inside the transaction
	// with the inserted entry.
	Prepare  func(ctx context.Context, f facility.Facility) error
	Mutate   func(f facility.Facility) (stateChange, error)
	Finalize func(t *FacilityTransaction)
	After    func(ctx context.Context, t FacilityTransaction) error
}

func (s *Service) append(ctx context.Context, params appendParams) (FacilityTransaction, error) {
	batchID := params.BatchID
	if batchID == uuid.Nil {
		batchID = uuid.New()
	}
	var inserted FacilityTransaction
	err := s.runner.WithTx(ctx, func(ctx context.Context) error {
		f, err := s.facilities.GetForUpdate(ctx, params.FacilityID)
		if err != nil {
			return err
		}
		if params.Prepare != nil {
			if err := params.Prepare(ctx, f); err != nil {
				return err
			}
		}
		change, err := params.Mutate(f)
		if err != nil {
			return err
		}
		entry := FacilityTransaction{
			Type:               params.Type,
			FacilityID:         f.ID,
			FacilityTypeID:     f.FacilityTypeID,
			OccurredAt:         s.now(),
			FromCompanyID:      params.From,
			ToCompanyID:        params.To,
			StatusBefore:       f.Status,
			StatusAfter:        change.Status,
			BatchID:            batchID,
			ExpectedReturnDate: params.ExpectedReturnDate,
			ActualReturnDate:   params.ActualReturnDate,
			ServiceRequestID:   params.ServiceRequestID,
			PerformedBy:        params.ActorID,
			Notes:              params.Notes,
		}
		if params.Finalize != nil {
			params.Finalize(&entry)
		}
		inserted, err = s.repo.Insert(ctx, entry)
		if err != nil {
			return err
		}
		if err := s.facilities.UpdateState(ctx, f.ID, change.Status, change.Location, change.Owner, change.Active); err != nil {
			return err
		}
		if params.After != nil {
			if err := params.After(ctx, inserted); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return FacilityTransaction{}, err
	}
	s.afterCommit(ctx, params.ActorID, "ledger."+string(params.Type), inserted, map[string]any{
		"facility_id": inserted.FacilityID,
		"batch_id":    inserted.BatchID.String(),
	})
	return inserted, nil
}

func (s *Service) afterCommit(ctx context.Context, actorID int64, action string, t FacilityTransaction, meta map[string]any) {
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   action,
			Entity:   "facility_transaction",
			EntityID: fmt.Sprintf("%d", t.ID),
			Meta:     meta,
			At:       s.now(),
		})
	}
	if s.cache != nil {
		_ = s.cache.Bump(ctx)
	}
}

func (s *Service) requireCompanies(ctx context.Context, ids ...int64) error {
	for _, id := range ids {
		if id == 0 {
			continue
		}
		ok, err := s.companies.Exists(ctx, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("ledger: company %d: %w", id, shared.ErrNotFound)
		}
	}
	return nil
}

func optionalID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}
