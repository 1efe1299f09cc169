package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"minevest/internal/models"
	"minevest/internal/repository"
)

var (
	ErrInvalidTerms      = errors.New("invalid purchase terms")
	ErrInsufficientFunds = errors.New("insufficient available balance")
)

// PurchaseService is the position-creation flow: it locks the principal,
// records the purchase in the ledger and creates the position, all in one
// transaction. The accrual engine takes over from there.
type PurchaseService struct {
	Repo   repository.Repository
	Logger *zap.Logger
	// Period is the accrual period; maturity is derived from it.
	Period time.Duration
	// LumpSumMinPeriods: positions at or above this duration pay out at
	// maturity instead of per period.
	LumpSumMinPeriods int
}

type PurchaseInput struct {
	Owner           string
	Principal       decimal.Decimal
	Rate            decimal.Decimal
	DurationPeriods int
	// StartedAt defaults to the current time.
	StartedAt time.Time
}

func (s *PurchaseService) Purchase(ctx context.Context, in PurchaseInput) (*models.Position, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	owner := strings.TrimSpace(in.Owner)
	if owner == "" || in.Principal.LessThanOrEqual(decimal.Zero) ||
		in.Rate.LessThanOrEqual(decimal.Zero) || in.DurationPeriods <= 0 {
		return nil, ErrInvalidTerms
	}

	start := in.StartedAt
	if start.IsZero() {
		start = time.Now()
	}
	start = start.UTC()
	period := s.period()

	mode := models.PayoutModePeriodic
	if in.DurationPeriods >= s.lumpSumMinPeriods() {
		mode = models.PayoutModeLumpSum
	}

	pos := &models.Position{
		Owner:            owner,
		Principal:        in.Principal.Round(2),
		Rate:             in.Rate,
		DurationPeriods:  in.DurationPeriods,
		PayoutMode:       mode,
		StartedAt:        start,
		MaturesAt:        start.Add(time.Duration(in.DurationPeriods) * period),
		CumulativeEarned: decimal.Zero,
		Status:           models.PositionStatusActive,
	}
	// NextDueAt stays nil: the scanner treats an uncredited periodic
	// position as due, so the first credit lands on the first scan after
	// purchase and all duration_periods credits fit before maturity.

	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		bal, err := s.Repo.GetBalanceForUpdateTx(ctx, tx, owner)
		if err != nil {
			return err
		}
		if bal.Available.LessThan(pos.Principal) {
			return ErrInsufficientFunds
		}
		if err := s.Repo.CreatePositionTx(ctx, tx, pos); err != nil {
			return err
		}
		entry := &models.LedgerEntry{
			Reference:     uuid.NewString(),
			Owner:         owner,
			Kind:          models.LedgerKindInvestment,
			Amount:        pos.Principal,
			PositionRef:   &pos.ID,
			BalanceBefore: bal.Available,
			BalanceAfter:  bal.Available.Sub(pos.Principal),
			CreatedAt:     start,
		}
		if _, err := s.Repo.InsertLedgerEntryTx(ctx, tx, entry); err != nil {
			return err
		}
		bal.Available = bal.Available.Sub(pos.Principal)
		bal.Locked = bal.Locked.Add(pos.Principal)
		return s.Repo.SaveBalanceTx(ctx, tx, bal)
	})
	if err != nil {
		return nil, err
	}

	if s.Logger != nil {
		s.Logger.Info("position purchased",
			zap.Uint64("position_id", pos.ID),
			zap.String("owner", owner),
			zap.String("principal", pos.Principal.String()),
			zap.String("payout_mode", mode),
		)
	}
	return pos, nil
}

func (s *PurchaseService) period() time.Duration {
	if s.Period > 0 {
		return s.Period
	}
	return 24 * time.Hour
}

func (s *PurchaseService) lumpSumMinPeriods() int {
	if s.LumpSumMinPeriods > 0 {
		return s.LumpSumMinPeriods
	}
	return 30
}
