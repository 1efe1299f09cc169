package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	PayoutModePeriodic = "periodic"
	PayoutModeLumpSum  = "lump_sum_at_maturity"

	PositionStatusActive    = "active"
	PositionStatusCompleted = "completed"
)

// Position is one purchased plan instance. The financial terms are frozen
// at purchase time; only NextDueAt, CumulativeEarned and Status move after
// that, and only the accrual engine moves them.
type Position struct {
	ID    uint64 `gorm:"primaryKey;autoIncrement"`
	Owner string `gorm:"type:uuid;not null;index"`

	Principal       decimal.Decimal `gorm:"type:numeric(20,2);not null"`
	Rate            decimal.Decimal `gorm:"type:numeric(10,4);not null"`
	DurationPeriods int             `gorm:"not null"`
	PayoutMode      string          `gorm:"type:varchar(30);not null"`

	StartedAt time.Time  `gorm:"type:timestamptz;not null"`
	MaturesAt time.Time  `gorm:"type:timestamptz;not null;index"`
	NextDueAt *time.Time `gorm:"type:timestamptz;index"`

	CumulativeEarned decimal.Decimal `gorm:"type:numeric(20,2);not null;default:0"`
	Status           string          `gorm:"type:varchar(20);not null;default:'active';index"`

	CreatedAt time.Time `gorm:"type:timestamptz;autoCreateTime"`
	UpdatedAt time.Time `gorm:"type:timestamptz;autoUpdateTime"`
}

func (Position) TableName() string {
	return "positions"
}
