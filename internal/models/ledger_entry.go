package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	LedgerKindDeposit         = "deposit"
	LedgerKindWithdrawal      = "withdrawal"
	LedgerKindInvestment      = "investment"
	LedgerKindEarning         = "earning"
	LedgerKindPrincipalReturn = "principal_return"
	LedgerKindRefund          = "refund"
	LedgerKindAdminAdjustment = "admin_adjustment"
)

// LedgerEntry is one immutable financial event. Rows are only ever
// appended; the balance cache is derived from them.
//
// The composite unique index is the idempotency constraint: a periodic
// earning carries the due-period day in PeriodDay, so at most one earning
// per position per period can exist, and at most one principal_return per
// position (PeriodDay empty). Entries without a position (deposits,
// withdrawals) have a NULL position_ref and are never deduplicated.
type LedgerEntry struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement"`
	Reference string `gorm:"type:uuid;not null"`
	Owner     string `gorm:"type:uuid;not null;index"`
	Kind      string `gorm:"type:varchar(30);not null;index;uniqueIndex:idx_ledger_position_kind_day,priority:2"`

	// Amount is positive; the kind implies the sign. admin_adjustment is
	// the one signed kind.
	Amount      decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	PositionRef *uint64         `gorm:"index;uniqueIndex:idx_ledger_position_kind_day,priority:1"`
	PeriodDay   string          `gorm:"type:varchar(10);not null;default:'';uniqueIndex:idx_ledger_position_kind_day,priority:3"`

	BalanceBefore decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	BalanceAfter  decimal.Decimal `gorm:"type:numeric(20,2);not null"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime;index"`
}

func (LedgerEntry) TableName() string {
	return "ledger_entries"
}

// Signed returns the entry's effect on the owner's available balance.
func (e LedgerEntry) Signed() decimal.Decimal {
	switch e.Kind {
	case LedgerKindDeposit, LedgerKindEarning, LedgerKindPrincipalReturn, LedgerKindRefund:
		return e.Amount
	case LedgerKindWithdrawal, LedgerKindInvestment:
		return e.Amount.Neg()
	case LedgerKindAdminAdjustment:
		return e.Amount
	default:
		return decimal.Zero
	}
}
