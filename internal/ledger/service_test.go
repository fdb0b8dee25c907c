package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atlasfm/atlasfm/internal/facility"
	"github.com/atlasfm/atlasfm/internal/shared"
)

type fakeLedgerRepo struct {
	txs    map[int64]*FacilityTransaction
	nextID int64
}

func newFakeLedgerRepo() *fakeLedgerRepo {
	return &fakeLedgerRepo{txs: make(map[int64]*FacilityTransaction)}
}

func (r *fakeLedgerRepo) Insert(ctx context.Context, t FacilityTransaction) (FacilityTransaction, error) {
	r.nextID++
	t.ID = r.nextID
	t.CreatedAt = time.Now()
	r.txs[t.ID] = &t
	return t, nil
}

func (r *fakeLedgerRepo) Get(ctx context.Context, id int64) (FacilityTransaction, error) {
	t, ok := r.txs[id]
	if !ok {
		return FacilityTransaction{}, ErrTransactionNotFound
	}
	return *t, nil
}

func (r *fakeLedgerRepo) FindOpenRental(ctx context.Context, facilityID int64) (FacilityTransaction, bool, error) {
	return r.findOpen(facilityID, TypeRental)
}

func (r *fakeLedgerRepo) FindOpenServiceOut(ctx context.Context, facilityID int64) (FacilityTransaction, bool, error) {
	return r.findOpen(facilityID, TypeService)
}

func (r *fakeLedgerRepo) findOpen(facilityID int64, txType TransactionType) (FacilityTransaction, bool, error) {
	for _, t := range r.txs {
		if t.FacilityID != facilityID || t.Type != txType || t.Cancelled {
			continue
		}
		if txType == TypeService && t.RelatedTransactionID != nil {
			continue
		}
		resolved, _ := r.HasResolution(context.Background(), t.ID)
		if !resolved {
			return *t, true, nil
		}
	}
	return FacilityTransaction{}, false, nil
}

func (r *fakeLedgerRepo) HasResolution(ctx context.Context, transactionID int64) (bool, error) {
	for _, t := range r.txs {
		if t.Cancelled || t.RelatedTransactionID == nil {
			continue
		}
		if *t.RelatedTransactionID == transactionID {
			return true, nil
		}
	}
	return false, nil
}

func (r *fakeLedgerRepo) MarkCancelled(ctx context.Context, id int64, reason string) error {
	t, ok := r.txs[id]
	if !ok || t.Cancelled {
		return ErrAlreadyCancelled
	}
	t.Cancelled = true
	t.CancelReason = reason
	return nil
}

func (r *fakeLedgerRepo) List(ctx context.Context, filter TransactionFilter) ([]FacilityTransaction, error) {
	var out []FacilityTransaction
	for _, t := range r.txs {
		if filter.FacilityID != 0 && t.FacilityID != filter.FacilityID {
			continue
		}
		if filter.ExcludeCancelled && t.Cancelled {
			continue
		}
		out = append(out, *t)
	}
	return out, nil
}

type fakeFacilities struct {
	items map[int64]*facility.Facility
}

func (f *fakeFacilities) GetForUpdate(ctx context.Context, id int64) (facility.Facility, error) {
	item, ok := f.items[id]
	if !ok {
		return facility.Facility{}, facility.ErrFacilityNotFound
	}
	return *item, nil
}

func (f *fakeFacilities) UpdateState(ctx context.Context, id int64, status facility.Status, locationCompanyID, ownerCompanyID int64, active bool) error {
	item := f.items[id]
	item.Status = status
	item.LocationCompanyID = locationCompanyID
	item.OwnerCompanyID = ownerCompanyID
	item.Active = active
	return nil
}

type fakeCompanies struct {
	missing map[int64]bool
}

func (c *fakeCompanies) Exists(ctx context.Context, id int64) (bool, error) {
	return !c.missing[id], nil
}

type disposalCall struct {
	facilityID      int64
	transactionID   int64
	acquisitionCost decimal.Decimal
	residualValue   decimal.Decimal
}

type fakeVouchers struct {
	calls []disposalCall
}

func (v *fakeVouchers) CreateDisposalVoucher(ctx context.Context, facilityID, transactionID int64, acquisitionCost, residualValue decimal.Decimal, date time.Time, actorID int64) (int64, error) {
	v.calls = append(v.calls, disposalCall{facilityID, transactionID, acquisitionCost, residualValue})
	return int64(len(v.calls)), nil
}

type fakeCache struct {
	bumps int
}

func (c *fakeCache) Bump(ctx context.Context) error {
	c.bumps++
	return nil
}

type passRunner struct{}

func (passRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

type fixture struct {
	service    *Service
	repo       *fakeLedgerRepo
	facilities *fakeFacilities
	vouchers   *fakeVouchers
	cache      *fakeCache
	now        time.Time
}

func newFixture() *fixture {
	repo := newFakeLedgerRepo()
	facilities := &fakeFacilities{items: map[int64]*facility.Facility{
		10: {
			ID:                10,
			ManagementNumber:  "FM-0010",
			FacilityTypeID:    7,
			Status:            facility.StatusInStock,
			AcquisitionCost:   decimal.RequireFromString("1000"),
			CurrentValue:      decimal.RequireFromString("200"),
			LocationCompanyID: 1,
			OwnerCompanyID:    1,
			Active:            true,
		},
	}}
	vouchers := &fakeVouchers{}
	cache := &fakeCache{}
	svc := NewService(repo, facilities, &fakeCompanies{missing: map[int64]bool{404: true}}, vouchers, cache, passRunner{}, nil)
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	svc.WithNow(func() time.Time { return now })
	return &fixture{service: svc, repo: repo, facilities: facilities, vouchers: vouchers, cache: cache, now: now}
}

func (fx *fixture) facility() facility.Facility {
	return *fx.facilities.items[10]
}

func TestInboundAppendsAndMutatesState(t *testing.T) {
	fx := newFixture()
	tx, err := fx.service.Inbound(context.Background(), InboundInput{
		FacilityID:  10,
		ToCompanyID: 2,
		StatusAfter: facility.StatusInUse,
		ActorID:     9,
	})
	require.NoError(t, err)
	require.Equal(t, TypeInbound, tx.Type)
	require.Equal(t, facility.StatusInStock, tx.StatusBefore)
	require.Equal(t, facility.StatusInUse, tx.StatusAfter)
	require.Equal(t, int64(7), tx.FacilityTypeID)
	require.NotNil(t, tx.ToCompanyID)
	require.Equal(t, int64(2), *tx.ToCompanyID)
	require.NotEqual(t, "00000000-0000-0000-0000-000000000000", tx.BatchID.String())

	f := fx.facility()
	require.Equal(t, facility.StatusInUse, f.Status)
	require.Equal(t, int64(2), f.LocationCompanyID)
	require.Equal(t, 1, fx.cache.bumps)
}

func TestInboundRejectsUnknownCompany(t *testing.T) {
	fx := newFixture()
	_, err := fx.service.Inbound(context.Background(), InboundInput{
		FacilityID:  10,
		ToCompanyID: 404,
		StatusAfter: facility.StatusInUse,
		ActorID:     9,
	})
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestOutboundTransfersOwnershipOnlyWhenAsked(t *testing.T) {
	fx := newFixture()
	_, err := fx.service.Outbound(context.Background(), OutboundInput{
		FacilityID:    10,
		FromCompanyID: 1,
		ToCompanyID:   3,
		StatusAfter:   facility.StatusInTransit,
		ActorID:       9,
	})
	require.NoError(t, err)
	require.Equal(t, int64(1), fx.facility().OwnerCompanyID)

	_, err = fx.service.Outbound(context.Background(), OutboundInput{
		FacilityID:        10,
		FromCompanyID:     3,
		ToCompanyID:       4,
		TransferOwnership: true,
		StatusAfter:       facility.StatusInUse,
		ActorID:           9,
	})
	require.NoError(t, err)
	require.Equal(t, int64(4), fx.facility().OwnerCompanyID)
}

func TestMoveRequiresDistinctCompanies(t *testing.T) {
	fx := newFixture()
	_, err := fx.service.Move(context.Background(), MoveInput{
		FacilityID:    10,
		FromCompanyID: 1,
		ToCompanyID:   1,
		ActorID:       9,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestRentalRejectsSecondOpenRental(t *testing.T) {
	fx := newFixture()
	in := RentalInput{
		FacilityID:         10,
		FromCompanyID:      1,
		ToCompanyID:        2,
		ExpectedReturnDate: fx.now.AddDate(0, 0, 14),
		ActorID:            9,
	}
	first, err := fx.service.Rental(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, facility.StatusRented, first.StatusAfter)

	_, err = fx.service.Rental(context.Background(), in)
	require.ErrorIs(t, err, ErrOpenRentalExists)
}

func TestRentalRejectsPastExpectedReturn(t *testing.T) {
	fx := newFixture()
	_, err := fx.service.Rental(context.Background(), RentalInput{
		FacilityID:         10,
		FromCompanyID:      1,
		ToCompanyID:        2,
		ExpectedReturnDate: fx.now.AddDate(0, 0, -1),
		ActorID:            9,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestReturnPairsWithRentalAndRestoresLocation(t *testing.T) {
	fx := newFixture()
	rental, err := fx.service.Rental(context.Background(), RentalInput{
		FacilityID:         10,
		FromCompanyID:      1,
		ToCompanyID:        2,
		ExpectedReturnDate: fx.now.AddDate(0, 0, 14),
		ActorID:            9,
	})
	require.NoError(t, err)

	ret, err := fx.service.Return(context.Background(), ReturnInput{
		FacilityID:          10,
		RentalTransactionID: rental.ID,
		StatusAfter:         facility.StatusInStock,
		ActorID:             9,
	})
	require.NoError(t, err)
	require.NotNil(t, ret.RelatedTransactionID)
	require.Equal(t, rental.ID, *ret.RelatedTransactionID)
	// Direction swaps relative to the rental.
	require.Equal(t, *rental.ToCompanyID, *ret.FromCompanyID)
	require.Equal(t, *rental.FromCompanyID, *ret.ToCompanyID)
	require.NotNil(t, ret.ActualReturnDate)

	f := fx.facility()
	require.Equal(t, facility.StatusInStock, f.Status)
	require.Equal(t, int64(1), f.LocationCompanyID)

	// Rental is resolved; a fresh one may open.
	_, err = fx.service.Rental(context.Background(), RentalInput{
		FacilityID:         10,
		FromCompanyID:      1,
		ToCompanyID:        3,
		ExpectedReturnDate: fx.now.AddDate(0, 0, 7),
		ActorID:            9,
	})
	require.NoError(t, err)
}

func TestReturnRejectsDoubleReturn(t *testing.T) {
	fx := newFixture()
	rental, err := fx.service.Rental(context.Background(), RentalInput{
		FacilityID:         10,
		FromCompanyID:      1,
		ToCompanyID:        2,
		ExpectedReturnDate: fx.now.AddDate(0, 0, 14),
		ActorID:            9,
	})
	require.NoError(t, err)

	in := ReturnInput{
		FacilityID:          10,
		RentalTransactionID: rental.ID,
		StatusAfter:         facility.StatusInStock,
		ActorID:             9,
	}
	_, err = fx.service.Return(context.Background(), in)
	require.NoError(t, err)
	_, err = fx.service.Return(context.Background(), in)
	require.ErrorIs(t, err, ErrAlreadyReturned)
}

func TestReturnRejectsMismatchedRental(t *testing.T) {
	fx := newFixture()
	other, err := fx.service.Inbound(context.Background(), InboundInput{
		FacilityID:  10,
		ToCompanyID: 2,
		StatusAfter: facility.StatusInUse,
		ActorID:     9,
	})
	require.NoError(t, err)

	_, err = fx.service.Return(context.Background(), ReturnInput{
		FacilityID:          10,
		RentalTransactionID: other.ID,
		StatusAfter:         facility.StatusInStock,
		ActorID:             9,
	})
	require.ErrorIs(t, err, ErrRelatedTransactionNotFound)

	_, err = fx.service.Return(context.Background(), ReturnInput{
		FacilityID:          10,
		RentalTransactionID: 9999,
		StatusAfter:         facility.StatusInStock,
		ActorID:             9,
	})
	require.ErrorIs(t, err, ErrRelatedTransactionNotFound)
}

func TestCancelledRentalReopensTheSlot(t *testing.T) {
	fx := newFixture()
	rental, err := fx.service.Rental(context.Background(), RentalInput{
		FacilityID:         10,
		FromCompanyID:      1,
		ToCompanyID:        2,
		ExpectedReturnDate: fx.now.AddDate(0, 0, 14),
		ActorID:            9,
	})
	require.NoError(t, err)

	_, err = fx.service.Cancel(context.Background(), CancelInput{
		TransactionID: rental.ID,
		Reason:        "entered against the wrong facility",
		ActorID:       9,
	})
	require.NoError(t, err)

	_, err = fx.service.Rental(context.Background(), RentalInput{
		FacilityID:         10,
		FromCompanyID:      1,
		ToCompanyID:        2,
		ExpectedReturnDate: fx.now.AddDate(0, 0, 14),
		ActorID:            9,
	})
	require.NoError(t, err)
}

func TestServiceTransferOutAndReturn(t *testing.T) {
	fx := newFixture()
	out, err := fx.service.ServiceTransfer(context.Background(), ServiceInput{
		FacilityID:       10,
		ServiceRequestID: 55,
		FromCompanyID:    1,
		ToCompanyID:      6,
		ActorID:          9,
	})
	require.NoError(t, err)
	require.Equal(t, facility.StatusUnderRepair, out.StatusAfter)
	require.Equal(t, int64(6), fx.facility().LocationCompanyID)

	// Return without naming the transfer: it resolves from the open
	// service-out and sends the facility back where it came from.
	ret, err := fx.service.ServiceTransfer(context.Background(), ServiceInput{
		FacilityID:       10,
		ServiceRequestID: 55,
		FromCompanyID:    6,
		IsReturn:         true,
		ActorID:          9,
	})
	require.NoError(t, err)
	require.Equal(t, facility.StatusInUse, ret.StatusAfter)
	require.NotNil(t, ret.RelatedTransactionID)
	require.Equal(t, out.ID, *ret.RelatedTransactionID)
	require.Equal(t, int64(1), fx.facility().LocationCompanyID)
}

func TestServiceOutRequiresDestination(t *testing.T) {
	fx := newFixture()
	_, err := fx.service.ServiceTransfer(context.Background(), ServiceInput{
		FacilityID:       10,
		ServiceRequestID: 55,
		FromCompanyID:    1,
		ActorID:          9,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDisposeTerminatesAndPostsVoucher(t *testing.T) {
	fx := newFixture()
	tx, err := fx.service.Dispose(context.Background(), DisposeInput{
		FacilityID: 10,
		ActorID:    9,
	})
	require.NoError(t, err)
	require.Equal(t, facility.StatusDisposed, tx.StatusAfter)
	require.NotNil(t, tx.FromCompanyID)
	require.Equal(t, int64(1), *tx.FromCompanyID)

	f := fx.facility()
	require.False(t, f.Active)
	require.Equal(t, facility.StatusDisposed, f.Status)

	require.Len(t, fx.vouchers.calls, 1)
	call := fx.vouchers.calls[0]
	require.Equal(t, int64(10), call.facilityID)
	require.Equal(t, tx.ID, call.transactionID)
	require.True(t, call.acquisitionCost.Equal(decimal.RequireFromString("1000")))
	require.True(t, call.residualValue.Equal(decimal.RequireFromString("200")))

	// Disposed facilities accept no further movements.
	_, err = fx.service.Dispose(context.Background(), DisposeInput{FacilityID: 10, ActorID: 9})
	require.ErrorIs(t, err, facility.ErrFacilityDisposed)
	_, err = fx.service.Inbound(context.Background(), InboundInput{
		FacilityID:  10,
		ToCompanyID: 2,
		StatusAfter: facility.StatusInUse,
		ActorID:     9,
	})
	require.ErrorIs(t, err, facility.ErrFacilityDisposed)
}

func TestCancelKeepsFacilityStateAndRejectsDouble(t *testing.T) {
	fx := newFixture()
	tx, err := fx.service.Inbound(context.Background(), InboundInput{
		FacilityID:  10,
		ToCompanyID: 2,
		StatusAfter: facility.StatusInUse,
		ActorID:     9,
	})
	require.NoError(t, err)

	cancelled, err := fx.service.Cancel(context.Background(), CancelInput{
		TransactionID: tx.ID,
		Reason:        "duplicate entry",
		ActorID:       9,
	})
	require.NoError(t, err)
	require.True(t, cancelled.Cancelled)
	require.Equal(t, "duplicate entry", cancelled.CancelReason)

	// Cancellation never reverses the denormalized state.
	require.Equal(t, facility.StatusInUse, fx.facility().Status)

	_, err = fx.service.Cancel(context.Background(), CancelInput{
		TransactionID: tx.ID,
		Reason:        "again",
		ActorID:       9,
	})
	require.ErrorIs(t, err, ErrAlreadyCancelled)
}
