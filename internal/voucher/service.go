package voucher

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlasfm/atlasfm/internal/platform/db"
	"github.com/atlasfm/atlasfm/internal/shared"
)

// RepositoryPort is the persistence surface the service needs.
type RepositoryPort interface {
	Insert(ctx context.Context, v Voucher) (Voucher, error)
	Get(ctx context.Context, id int64) (Voucher, error)
	LastNumber(ctx context.Context, prefix, dateSegment string) (string, bool, error)
}

// TxRunner scopes a unit of work.
type TxRunner interface {
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AuditPort records voucher postings.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service posts balanced vouchers. Number assignment is strictly
// serialised per (prefix, date): the key lock is acquired inside the
// transaction and released only once the outermost transaction has
// committed or rolled back, so a posting joined to a caller's
// transaction (disposal, registration, depreciation) cannot leak its
// number to a concurrent posting before the insert is visible.
type Service struct {
	repo   RepositoryPort
	runner TxRunner
	audit  AuditPort
	seq    *shared.KeyedMutex
	now    func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, runner TxRunner, audit AuditPort) *Service {
	return &Service{repo: repo, runner: runner, audit: audit, seq: shared.NewKeyedMutex(), now: time.Now}
}

// WithNow overrides the clock for deterministic tests.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// CreateVoucher validates, numbers and persists a voucher.
func (s *Service) CreateVoucher(ctx context.Context, input CreateInput) (Voucher, error) {
	if err := input.Validate(); err != nil {
		return Voucher{}, err
	}
	prefix := input.Type.Prefix()
	segment := input.VoucherDate.Format(numberDateLayout)

	var posted Voucher
	err := s.runner.WithTx(ctx, func(ctx context.Context) error {
		// The unlock must outlive this closure: a nested call joins the
		// caller's transaction, and the number only becomes visible to
		// the next LastNumber read once that outer transaction finishes.
		db.AfterTx(ctx, s.seq.Lock(prefix+":"+segment))

		last, found, err := s.repo.LastNumber(ctx, prefix, segment)
		if err != nil {
			return err
		}
		v := Voucher{
			VoucherNumber: formatNumber(prefix, input.VoucherDate, nextSuffix(last, found)),
			Type:          input.Type,
			VoucherDate:   input.VoucherDate,
			Description:   input.Description,
			FacilityID:    input.FacilityID,
			TransactionID: input.TransactionID,
			TotalAmount:   input.total(),
			AutoGenerated: input.AutoGenerated,
			CreatedBy:     input.CreatedBy,
		}
		for i, item := range input.Items {
			v.Items = append(v.Items, Item{
				LineNo:      i + 1,
				AccountCode: item.AccountCode,
				AccountName: item.AccountName,
				Debit:       item.Debit,
				Credit:      item.Credit,
				Description: item.Description,
			})
		}
		posted, err = s.repo.Insert(ctx, v)
		return err
	})
	if err != nil {
		return Voucher{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.CreatedBy,
			Action:   "voucher.create",
			Entity:   "voucher",
			EntityID: fmt.Sprintf("%d", posted.ID),
			Meta: map[string]any{
				"number": posted.VoucherNumber,
				"type":   string(posted.Type),
				"amount": posted.TotalAmount.String(),
			},
			At: s.now(),
		})
	}
	return posted, nil
}

// Get loads one voucher with items.
func (s *Service) Get(ctx context.Context, id int64) (Voucher, error) {
	return s.repo.Get(ctx, id)
}

// CreateRegistrationVoucher posts the acquisition of a facility: debit
// the facility asset account, credit cash.
func (s *Service) CreateRegistrationVoucher(ctx context.Context, facilityID int64, cost decimal.Decimal, date time.Time, actorID int64) (int64, error) {
	v, err := s.CreateVoucher(ctx, CreateInput{
		Type:          TypeRegistration,
		VoucherDate:   date,
		Description:   fmt.Sprintf("Facility %d registration", facilityID),
		FacilityID:    &facilityID,
		AutoGenerated: true,
		CreatedBy:     actorID,
		Items: []ItemInput{
			autoItem(AccountFacilityAsset, cost, decimal.Zero),
			autoItem(AccountCash, decimal.Zero, cost),
		},
	})
	if err != nil {
		return 0, err
	}
	return v.ID, nil
}

func autoItem(code string, debit, credit decimal.Decimal) ItemInput {
	return ItemInput{
		AccountCode: code,
		AccountName: accountNames[code],
		Debit:       debit,
		Credit:      credit,
	}
}

// CreateDepreciationVoucher posts one depreciation charge: debit
// depreciation expense, credit accumulated depreciation.
func (s *Service) CreateDepreciationVoucher(ctx context.Context, facilityID int64, amount decimal.Decimal, date time.Time, actorID int64) (int64, error) {
	v, err := s.CreateVoucher(ctx, CreateInput{
		Type:          TypeDepreciation,
		VoucherDate:   date,
		Description:   fmt.Sprintf("Facility %d depreciation", facilityID),
		FacilityID:    &facilityID,
		AutoGenerated: true,
		CreatedBy:     actorID,
		Items: []ItemInput{
			autoItem(AccountDepreciationExp, amount, decimal.Zero),
			autoItem(AccountAccumulatedDep, decimal.Zero, amount),
		},
	})
	if err != nil {
		return 0, err
	}
	return v.ID, nil
}

// CreateDisposalVoucher retires a facility from the books. The credit
// removes the asset at acquisition cost; debits clear accumulated
// depreciation and write off any remaining book value as disposal loss.
func (s *Service) CreateDisposalVoucher(ctx context.Context, facilityID, transactionID int64, acquisitionCost, residualValue decimal.Decimal, date time.Time, actorID int64) (int64, error) {
	accumulated := acquisitionCost.Sub(residualValue)
	items := []ItemInput{
		autoItem(AccountAccumulatedDep, accumulated, decimal.Zero),
	}
	if residualValue.IsPositive() {
		items = append(items, autoItem(AccountDisposalLoss, residualValue, decimal.Zero))
	}
	items = append(items, autoItem(AccountFacilityAsset, decimal.Zero, acquisitionCost))
	v, err := s.CreateVoucher(ctx, CreateInput{
		Type:          TypeDisposal,
		VoucherDate:   date,
		Description:   fmt.Sprintf("Facility %d disposal", facilityID),
		FacilityID:    &facilityID,
		TransactionID: &transactionID,
		AutoGenerated: true,
		CreatedBy:     actorID,
		Items:         items,
	})
	if err != nil {
		return 0, err
	}
	return v.ID, nil
}
