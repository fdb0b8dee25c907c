package facility

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atlasfm/atlasfm/internal/shared"
)

type memFacilityRepo struct {
	items  map[int64]*Facility
	byMgmt map[string]int64
	nextID int64
}

func newMemFacilityRepo() *memFacilityRepo {
	return &memFacilityRepo{items: make(map[int64]*Facility), byMgmt: make(map[string]int64)}
}

func (r *memFacilityRepo) Get(ctx context.Context, id int64) (Facility, error) {
	f, ok := r.items[id]
	if !ok {
		return Facility{}, ErrFacilityNotFound
	}
	return *f, nil
}

func (r *memFacilityRepo) GetForUpdate(ctx context.Context, id int64) (Facility, error) {
	return r.Get(ctx, id)
}

func (r *memFacilityRepo) Insert(ctx context.Context, f Facility) (Facility, error) {
	if _, taken := r.byMgmt[f.ManagementNumber]; taken {
		return Facility{}, ErrDuplicateManagementNumber
	}
	r.nextID++
	f.ID = r.nextID
	f.Active = true
	f.CreatedAt = time.Now()
	r.items[f.ID] = &f
	r.byMgmt[f.ManagementNumber] = f.ID
	return f, nil
}

func (r *memFacilityRepo) UpdateCurrentValue(ctx context.Context, id int64, value decimal.Decimal) error {
	f, ok := r.items[id]
	if !ok {
		return ErrFacilityNotFound
	}
	f.CurrentValue = value
	return nil
}

func (r *memFacilityRepo) List(ctx context.Context, filter Filter) ([]Facility, error) {
	var out []Facility
	for _, f := range r.items {
		out = append(out, *f)
	}
	return out, nil
}

func (r *memFacilityRepo) ListTypes(ctx context.Context) ([]FacilityType, error) {
	return nil, nil
}

type voucherCall struct {
	facilityID int64
	amount     decimal.Decimal
}

type recordingVouchers struct {
	registrations []voucherCall
	depreciations []voucherCall
}

func (v *recordingVouchers) CreateRegistrationVoucher(ctx context.Context, facilityID int64, cost decimal.Decimal, date time.Time, actorID int64) (int64, error) {
	v.registrations = append(v.registrations, voucherCall{facilityID, cost})
	return int64(len(v.registrations)), nil
}

func (v *recordingVouchers) CreateDepreciationVoucher(ctx context.Context, facilityID int64, amount decimal.Decimal, date time.Time, actorID int64) (int64, error) {
	v.depreciations = append(v.depreciations, voucherCall{facilityID, amount})
	return int64(len(v.depreciations)), nil
}

type allCompanies struct{}

func (allCompanies) Exists(ctx context.Context, id int64) (bool, error) {
	return id != 404, nil
}

type directRunner struct{}

func (directRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func testFacilityService() (*Service, *memFacilityRepo, *recordingVouchers) {
	repo := newMemFacilityRepo()
	vouchers := &recordingVouchers{}
	svc := NewService(repo, allCompanies{}, vouchers, directRunner{}, nil)
	svc.WithNow(func() time.Time { return time.Date(2026, 3, 15, 9, 0, 0, 0, time.UTC) })
	return svc, repo, vouchers
}

func registerInput() RegisterInput {
	return RegisterInput{
		ManagementNumber:  "FM-0001",
		SerialNumber:      "SN-889",
		Brand:             "Karcher",
		FacilityTypeID:    3,
		AcquisitionCost:   decimal.RequireFromString("2500.00"),
		LocationCompanyID: 1,
		OwnerCompanyID:    1,
		ActorID:           9,
	}
}

func TestRegisterCreatesFacilityWithVoucher(t *testing.T) {
	svc, _, vouchers := testFacilityService()
	created, err := svc.Register(context.Background(), registerInput())
	require.NoError(t, err)
	require.Equal(t, StatusInStock, created.Status)
	require.True(t, created.CurrentValue.Equal(created.AcquisitionCost))
	require.True(t, created.Active)

	require.Len(t, vouchers.registrations, 1)
	require.Equal(t, created.ID, vouchers.registrations[0].facilityID)
	require.True(t, vouchers.registrations[0].amount.Equal(decimal.RequireFromString("2500.00")))
}

func TestRegisterSkipsVoucherAtZeroCost(t *testing.T) {
	svc, _, vouchers := testFacilityService()
	in := registerInput()
	in.AcquisitionCost = decimal.Zero
	_, err := svc.Register(context.Background(), in)
	require.NoError(t, err)
	require.Empty(t, vouchers.registrations)
}

func TestRegisterRejectsDuplicateManagementNumber(t *testing.T) {
	svc, _, _ := testFacilityService()
	_, err := svc.Register(context.Background(), registerInput())
	require.NoError(t, err)
	_, err = svc.Register(context.Background(), registerInput())
	require.ErrorIs(t, err, ErrDuplicateManagementNumber)
}

func TestRegisterRejectsUnknownCompany(t *testing.T) {
	svc, _, _ := testFacilityService()
	in := registerInput()
	in.OwnerCompanyID = 404
	_, err := svc.Register(context.Background(), in)
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRegisterValidation(t *testing.T) {
	svc, _, _ := testFacilityService()
	for name, mutate := range map[string]func(*RegisterInput){
		"blank management number": func(in *RegisterInput) { in.ManagementNumber = "  " },
		"missing type":            func(in *RegisterInput) { in.FacilityTypeID = 0 },
		"negative cost":           func(in *RegisterInput) { in.AcquisitionCost = decimal.RequireFromString("-1") },
		"missing actor":           func(in *RegisterInput) { in.ActorID = 0 },
	} {
		in := registerInput()
		mutate(&in)
		_, err := svc.Register(context.Background(), in)
		require.ErrorIs(t, err, shared.ErrValidation, name)
	}
}

func TestDepreciateLowersBookValueAndPostsVoucher(t *testing.T) {
	svc, repo, vouchers := testFacilityService()
	created, err := svc.Register(context.Background(), registerInput())
	require.NoError(t, err)

	updated, err := svc.Depreciate(context.Background(), DepreciateInput{
		FacilityID: created.ID,
		Amount:     decimal.RequireFromString("500"),
		ActorID:    9,
	})
	require.NoError(t, err)
	require.True(t, updated.CurrentValue.Equal(decimal.RequireFromString("2000")))
	require.True(t, repo.items[created.ID].CurrentValue.Equal(decimal.RequireFromString("2000")))

	require.Len(t, vouchers.depreciations, 1)
	require.True(t, vouchers.depreciations[0].amount.Equal(decimal.RequireFromString("500")))
}

func TestDepreciateToExactlyZeroIsAllowed(t *testing.T) {
	svc, _, _ := testFacilityService()
	created, err := svc.Register(context.Background(), registerInput())
	require.NoError(t, err)

	updated, err := svc.Depreciate(context.Background(), DepreciateInput{
		FacilityID: created.ID,
		Amount:     created.CurrentValue,
		ActorID:    9,
	})
	require.NoError(t, err)
	require.True(t, updated.CurrentValue.IsZero())
}

func TestDepreciateRejectsExhaustedValue(t *testing.T) {
	svc, _, vouchers := testFacilityService()
	created, err := svc.Register(context.Background(), registerInput())
	require.NoError(t, err)

	_, err = svc.Depreciate(context.Background(), DepreciateInput{
		FacilityID: created.ID,
		Amount:     created.CurrentValue.Add(decimal.RequireFromString("0.01")),
		ActorID:    9,
	})
	require.ErrorIs(t, err, ErrValueExhausted)
	require.Empty(t, vouchers.depreciations)
}

func TestDepreciateRejectsDisposedFacility(t *testing.T) {
	svc, repo, _ := testFacilityService()
	created, err := svc.Register(context.Background(), registerInput())
	require.NoError(t, err)
	repo.items[created.ID].Status = StatusDisposed
	repo.items[created.ID].Active = false

	_, err = svc.Depreciate(context.Background(), DepreciateInput{
		FacilityID: created.ID,
		Amount:     decimal.RequireFromString("100"),
		ActorID:    9,
	})
	require.ErrorIs(t, err, ErrFacilityDisposed)
}

func TestDepreciateRejectsNonPositiveAmount(t *testing.T) {
	svc, _, _ := testFacilityService()
	_, err := svc.Depreciate(context.Background(), DepreciateInput{
		FacilityID: 1,
		Amount:     decimal.Zero,
		ActorID:    9,
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}
