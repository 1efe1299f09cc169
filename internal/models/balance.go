package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Balance is the per-user mutable summary derived from ledger_entries.
// It is written only in the same transaction as a ledger append, and can
// be rebuilt from the ledger by the reconciler.
type Balance struct {
	ID    uint64 `gorm:"primaryKey;autoIncrement"`
	Owner string `gorm:"type:uuid;not null;uniqueIndex"`

	Available      decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	Locked         decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	TotalDeposited decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	TotalWithdrawn decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	TotalEarned    decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Balance) TableName() string {
	return "balances"
}
