package voucher

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atlasfm/atlasfm/internal/shared"
)

// Type enumerates voucher origins.
type Type string

const (
	TypeRegistration Type = "REGISTRATION"
	TypeDepreciation Type = "DEPRECIATION"
	TypeDisposal     Type = "DISPOSAL"
	TypeManual       Type = "MANUAL"
)

// Prefix returns the voucher-number prefix for the type.
func (t Type) Prefix() string {
	switch t {
	case TypeRegistration:
		return "REG"
	case TypeDepreciation:
		return "DEP"
	case TypeDisposal:
		return "DSP"
	default:
		return "MAN"
	}
}

// Account codes used by the automatic postings.
const (
	AccountFacilityAsset   = "1201"
	AccountCash            = "1101"
	AccountAccumulatedDep  = "1209"
	AccountDepreciationExp = "5301"
	AccountDisposalLoss    = "5901"
)

// accountNames labels the fixed chart the automatic postings draw on.
var accountNames = map[string]string{
	AccountFacilityAsset:   "Facility Assets",
	AccountCash:            "Cash",
	AccountAccumulatedDep:  "Accumulated Depreciation",
	AccountDepreciationExp: "Depreciation Expense",
	AccountDisposalLoss:    "Loss on Facility Disposal",
}

// Voucher is a posted accounting document. Once persisted it is
// immutable; corrections are new vouchers.
type Voucher struct {
	ID            int64
	VoucherNumber string
	Type          Type
	VoucherDate   time.Time
	Description   string
	FacilityID    *int64
	TransactionID *int64
	TotalAmount   decimal.Decimal
	AutoGenerated bool
	CreatedBy     int64
	CreatedAt     time.Time
	Items         []Item
}

// Item is a single debit-or-credit leg of a voucher. LineNo orders the
// legs within their voucher starting at 1.
type Item struct {
	ID          int64
	VoucherID   int64
	LineNo      int
	AccountCode string
	AccountName string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// CreateInput describes a voucher to post. AutoGenerated marks vouchers
// the engine posts on its own (registration, depreciation, disposal) as
// opposed to manually entered ones.
type CreateInput struct {
	Type          Type
	VoucherDate   time.Time
	Description   string
	FacilityID    *int64
	TransactionID *int64
	AutoGenerated bool
	CreatedBy     int64
	Items         []ItemInput
}

// ItemInput is one leg of a requested voucher.
type ItemInput struct {
	AccountCode string
	AccountName string
	Debit       decimal.Decimal
	Credit      decimal.Decimal
	Description string
}

// Errors raised by the voucher engine.
var (
	ErrVoucherNotFound = fmt.Errorf("voucher: %w", shared.ErrNotFound)
	ErrUnbalanced      = fmt.Errorf("voucher: debit and credit totals differ: %w", shared.ErrUnbalancedVoucher)
)

// Validate enforces the double-entry invariants: at least one item,
// non-negative amounts, no leg carrying both sides, and exact equality
// of total debit and total credit.
func (in CreateInput) Validate() error {
	if in.Type == "" {
		return fmt.Errorf("voucher: type required: %w", shared.ErrValidation)
	}
	if in.VoucherDate.IsZero() {
		return fmt.Errorf("voucher: date required: %w", shared.ErrValidation)
	}
	if in.CreatedBy == 0 {
		return fmt.Errorf("voucher: created_by required: %w", shared.ErrValidation)
	}
	if len(in.Items) == 0 {
		return fmt.Errorf("voucher: at least one item required: %w", shared.ErrValidation)
	}
	var debit, credit decimal.Decimal
	for i, item := range in.Items {
		if item.AccountCode == "" {
			return fmt.Errorf("voucher: item %d: account code required: %w", i, shared.ErrValidation)
		}
		if item.Debit.IsNegative() || item.Credit.IsNegative() {
			return fmt.Errorf("voucher: item %d: negative amount: %w", i, shared.ErrValidation)
		}
		if item.Debit.IsPositive() && item.Credit.IsPositive() {
			return fmt.Errorf("voucher: item %d: both debit and credit set: %w", i, shared.ErrValidation)
		}
		debit = debit.Add(item.Debit)
		credit = credit.Add(item.Credit)
	}
	if !debit.Equal(credit) {
		return fmt.Errorf("debit %s credit %s: %w", debit, credit, ErrUnbalanced)
	}
	return nil
}

// total returns the voucher's balanced side total.
func (in CreateInput) total() decimal.Decimal {
	var debit decimal.Decimal
	for _, item := range in.Items {
		debit = debit.Add(item.Debit)
	}
	return debit
}
