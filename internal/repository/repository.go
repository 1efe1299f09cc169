package repository

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"minevest/internal/models"
)

type ListPositionsParams struct {
	Owner   *string
	Status  *string
	Limit   int
	Offset  int
	OrderBy string
	Asc     *bool
}

type ListLedgerParams struct {
	Owner       *string
	Kind        *string
	PositionRef *uint64
	Since       *time.Time
	Limit       int
	Offset      int
}

// Repository is the single store interface shared by the accrual engine,
// the purchase/ledger services and the handlers. Writes that must land in
// one transaction take the *gorm.DB handed out by InTx.
type Repository interface {
	InTx(ctx context.Context, fn func(tx *gorm.DB) error) error

	// Positions.
	CreatePositionTx(ctx context.Context, tx *gorm.DB, item *models.Position) error
	GetPositionByID(ctx context.Context, id uint64) (*models.Position, error)
	ListPositions(ctx context.Context, params ListPositionsParams) ([]models.Position, error)
	CountPositions(ctx context.Context, params ListPositionsParams) (int64, error)
	// ListDuePositions returns active positions that are either periodic
	// with next_due_at unset or elapsed, or past their maturity.
	ListDuePositions(ctx context.Context, now time.Time, limit int) ([]models.Position, error)
	UpdatePositionTx(ctx context.Context, tx *gorm.DB, item *models.Position) error

	// Ledger. InsertLedgerEntryTx is the idempotent append: it reports
	// false when the uniqueness constraint already holds an entry for the
	// same (position_ref, kind, period_day).
	InsertLedgerEntryTx(ctx context.Context, tx *gorm.DB, item *models.LedgerEntry) (bool, error)
	ListLedgerEntries(ctx context.Context, params ListLedgerParams) ([]models.LedgerEntry, error)
	CountLedgerEntries(ctx context.Context, params ListLedgerParams) (int64, error)
	SumLedgerAmountsByKind(ctx context.Context, owner string) (map[string]decimal.Decimal, error)

	// Balance cache.
	GetBalance(ctx context.Context, owner string) (*models.Balance, error)
	GetBalanceForUpdateTx(ctx context.Context, tx *gorm.DB, owner string) (*models.Balance, error)
	SaveBalanceTx(ctx context.Context, tx *gorm.DB, item *models.Balance) error

	// Run audit.
	InsertAccrualRun(ctx context.Context, item *models.AccrualRun) error
	ListAccrualRuns(ctx context.Context, limit int) ([]models.AccrualRun, error)
}
