package voucher

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/atlasfm/atlasfm/internal/platform/db"
	"github.com/atlasfm/atlasfm/internal/shared"
)

type memVoucherRepo struct {
	mu       sync.Mutex
	vouchers []Voucher
	nextID   int64
}

func (r *memVoucherRepo) Insert(ctx context.Context, v Voucher) (Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	v.ID = r.nextID
	v.CreatedAt = time.Now()
	for i := range v.Items {
		v.Items[i].VoucherID = v.ID
	}
	r.vouchers = append(r.vouchers, v)
	return v, nil
}

func (r *memVoucherRepo) Get(ctx context.Context, id int64) (Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.vouchers {
		if v.ID == id {
			return v, nil
		}
	}
	return Voucher{}, ErrVoucherNotFound
}

func (r *memVoucherRepo) LastNumber(ctx context.Context, prefix, dateSegment string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	like := prefix + "-" + dateSegment + "-"
	var best string
	for _, v := range r.vouchers {
		if strings.HasPrefix(v.VoucherNumber, like) && v.VoucherNumber > best {
			best = v.VoucherNumber
		}
	}
	return best, best != "", nil
}

type noopRunner struct{}

func (noopRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	ctx, done := db.TxScope(ctx)
	defer done()
	return fn(ctx)
}

func testService(repo RepositoryPort) *Service {
	return NewService(repo, noopRunner{}, nil)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

var testDate = time.Date(2026, 3, 15, 0, 0, 0, 0, time.UTC)

func TestCreateVoucherRejectsUnbalanced(t *testing.T) {
	svc := testService(&memVoucherRepo{})
	_, err := svc.CreateVoucher(context.Background(), CreateInput{
		Type:        TypeManual,
		VoucherDate: testDate,
		CreatedBy:   1,
		Items: []ItemInput{
			{AccountCode: AccountCash, Debit: dec("100.00")},
			{AccountCode: AccountFacilityAsset, Credit: dec("99.99")},
		},
	})
	require.ErrorIs(t, err, ErrUnbalanced)
	require.ErrorIs(t, err, shared.ErrUnbalancedVoucher)
}

func TestCreateVoucherRejectsEmptyAndInvalidItems(t *testing.T) {
	svc := testService(&memVoucherRepo{})

	_, err := svc.CreateVoucher(context.Background(), CreateInput{
		Type: TypeManual, VoucherDate: testDate, CreatedBy: 1,
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateVoucher(context.Background(), CreateInput{
		Type: TypeManual, VoucherDate: testDate, CreatedBy: 1,
		Items: []ItemInput{
			{AccountCode: AccountCash, Debit: dec("10"), Credit: dec("10")},
		},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.CreateVoucher(context.Background(), CreateInput{
		Type: TypeManual, VoucherDate: testDate, CreatedBy: 1,
		Items: []ItemInput{
			{AccountCode: AccountCash, Debit: dec("-5")},
			{AccountCode: AccountFacilityAsset, Credit: dec("-5")},
		},
	})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestCreateVoucherAssignsSequentialNumbers(t *testing.T) {
	repo := &memVoucherRepo{}
	svc := testService(repo)

	input := CreateInput{
		Type: TypeManual, VoucherDate: testDate, CreatedBy: 1,
		Items: []ItemInput{
			{AccountCode: AccountCash, Debit: dec("10")},
			{AccountCode: AccountFacilityAsset, Credit: dec("10")},
		},
	}
	first, err := svc.CreateVoucher(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, "MAN-260315-00001", first.VoucherNumber)
	require.False(t, first.AutoGenerated)

	second, err := svc.CreateVoucher(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, "MAN-260315-00002", second.VoucherNumber)

	// Other dates and prefixes run their own sequences.
	input.VoucherDate = testDate.AddDate(0, 0, 1)
	third, err := svc.CreateVoucher(context.Background(), input)
	require.NoError(t, err)
	require.Equal(t, "MAN-260316-00001", third.VoucherNumber)
}

// stagedVoucherRepo emulates transaction visibility: inserted rows stay
// invisible to LastNumber until publish, like an uncommitted insert. The
// unique voucher number check plays the role of the database index.
type stagedVoucherRepo struct {
	mu        sync.Mutex
	staged    []Voucher
	committed []Voucher
	nextID    int64
}

func (r *stagedVoucherRepo) Insert(ctx context.Context, v Voucher) (Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range append(append([]Voucher{}, r.committed...), r.staged...) {
		if existing.VoucherNumber == v.VoucherNumber {
			return Voucher{}, fmt.Errorf("voucher: insert: duplicate voucher number %s", v.VoucherNumber)
		}
	}
	r.nextID++
	v.ID = r.nextID
	r.staged = append(r.staged, v)
	return v, nil
}

func (r *stagedVoucherRepo) Get(ctx context.Context, id int64) (Voucher, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, v := range r.committed {
		if v.ID == id {
			return v, nil
		}
	}
	return Voucher{}, ErrVoucherNotFound
}

func (r *stagedVoucherRepo) LastNumber(ctx context.Context, prefix, dateSegment string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	like := prefix + "-" + dateSegment + "-"
	var best string
	for _, v := range r.committed {
		if strings.HasPrefix(v.VoucherNumber, like) && v.VoucherNumber > best {
			best = v.VoucherNumber
		}
	}
	return best, best != "", nil
}

func (r *stagedVoucherRepo) publish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.committed = append(r.committed, r.staged...)
	r.staged = nil
}

// stagedTxRunner joins an enclosing transaction scope when ctx carries
// one; otherwise it owns the scope and publishes staged rows on commit.
type stagedTxRunner struct {
	repo *stagedVoucherRepo
}

func (r *stagedTxRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	scoped, done := db.TxScope(ctx)
	err := fn(scoped)
	if err == nil && scoped != ctx {
		r.repo.publish()
	}
	done()
	return err
}

func TestVoucherNumberingWaitsForEnclosingCommit(t *testing.T) {
	repo := &stagedVoucherRepo{}
	svc := NewService(repo, &stagedTxRunner{repo: repo}, nil)

	// A disposal posted inside a movement transaction: the insert stays
	// uncommitted until the movement's scope finishes.
	outerCtx, outerDone := db.TxScope(context.Background())
	_, err := svc.CreateDisposalVoucher(outerCtx, 1, 1, dec("1000"), decimal.Zero, testDate, 9)
	require.NoError(t, err)

	// A concurrent disposal on the same segment must queue behind the
	// open transaction instead of re-reading the stale sequence.
	secondErr := make(chan error, 1)
	go func() {
		_, err := svc.CreateDisposalVoucher(context.Background(), 2, 2, dec("500"), decimal.Zero, testDate, 9)
		secondErr <- err
	}()

	repo.publish()
	outerDone()

	require.NoError(t, <-secondErr)
	require.Len(t, repo.committed, 2)
	numbers := make(map[string]bool, 2)
	for _, v := range repo.committed {
		numbers[v.VoucherNumber] = true
	}
	require.True(t, numbers["DSP-260315-00001"])
	require.True(t, numbers["DSP-260315-00002"])
}

func TestNextSuffixFallsBackOnUnparseableNumbers(t *testing.T) {
	require.Equal(t, 1, nextSuffix("", false))
	require.Equal(t, 1, nextSuffix("MAN-260315-", true))
	require.Equal(t, 1, nextSuffix("garbage", true))
	require.Equal(t, 1, nextSuffix("MAN-260315-xyz", true))
	require.Equal(t, 8, nextSuffix("MAN-260315-00007", true))
}

func TestCreateRegistrationVoucherBalances(t *testing.T) {
	repo := &memVoucherRepo{}
	svc := testService(repo)
	id, err := svc.CreateRegistrationVoucher(context.Background(), 5, dec("1500.00"), testDate, 7)
	require.NoError(t, err)

	v, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, TypeRegistration, v.Type)
	require.True(t, v.AutoGenerated)
	require.True(t, v.TotalAmount.Equal(dec("1500.00")))
	require.Len(t, v.Items, 2)
	require.Equal(t, 1, v.Items[0].LineNo)
	require.Equal(t, AccountFacilityAsset, v.Items[0].AccountCode)
	require.Equal(t, "Facility Assets", v.Items[0].AccountName)
	require.True(t, v.Items[0].Debit.Equal(dec("1500.00")))
	require.Equal(t, 2, v.Items[1].LineNo)
	require.Equal(t, AccountCash, v.Items[1].AccountCode)
	require.Equal(t, "Cash", v.Items[1].AccountName)
	require.True(t, v.Items[1].Credit.Equal(dec("1500.00")))
}

func TestCreateDisposalVoucherWritesOffBookValue(t *testing.T) {
	repo := &memVoucherRepo{}
	svc := testService(repo)

	// Acquisition 1000, residual 200: clear 800 of accumulated
	// depreciation, book a 200 loss, credit the asset in full.
	id, err := svc.CreateDisposalVoucher(context.Background(), 5, 31, dec("1000"), dec("200"), testDate, 7)
	require.NoError(t, err)

	v, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, TypeDisposal, v.Type)
	require.Len(t, v.Items, 3)
	require.Equal(t, AccountAccumulatedDep, v.Items[0].AccountCode)
	require.True(t, v.Items[0].Debit.Equal(dec("800")))
	require.Equal(t, AccountDisposalLoss, v.Items[1].AccountCode)
	require.True(t, v.Items[1].Debit.Equal(dec("200")))
	require.Equal(t, AccountFacilityAsset, v.Items[2].AccountCode)
	require.True(t, v.Items[2].Credit.Equal(dec("1000")))
}

func TestCreateDisposalVoucherFullyDepreciated(t *testing.T) {
	repo := &memVoucherRepo{}
	svc := testService(repo)

	id, err := svc.CreateDisposalVoucher(context.Background(), 5, 31, dec("1000"), decimal.Zero, testDate, 7)
	require.NoError(t, err)

	v, err := svc.Get(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, v.Items, 2)
	require.True(t, v.Items[0].Debit.Equal(dec("1000")))
	require.True(t, v.Items[1].Credit.Equal(dec("1000")))
}
