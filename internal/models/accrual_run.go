package models

import (
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

// AccrualRun is the audit row written after every engine run, successful
// or not. StatsJSON carries the per-position error strings.
type AccrualRun struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement"`
	StartedAt  time.Time `gorm:"type:timestamptz;not null;index"`
	FinishedAt time.Time `gorm:"type:timestamptz;not null"`

	PositionsScanned   int `gorm:"not null"`
	EarningsApplied    int `gorm:"not null"`
	PositionsCompleted int `gorm:"not null"`
	ErrorCount         int `gorm:"not null"`

	TotalEarningsCredited  decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	TotalPrincipalReturned decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`

	StatsJSON datatypes.JSON `gorm:"type:jsonb"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
}

func (AccrualRun) TableName() string {
	return "accrual_runs"
}
