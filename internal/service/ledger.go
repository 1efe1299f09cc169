package service

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"minevest/internal/models"
	"minevest/internal/repository"
)

var (
	ErrInvalidKind   = errors.New("ledger kind not accepted here")
	ErrInvalidAmount = errors.New("invalid amount")
)

// LedgerService is the append interface used by the external collaborators:
// deposit detection credits deposits, withdrawal approval debits
// withdrawals, support tooling posts refunds and adjustments. Earnings and
// principal returns are the engine's alone and are rejected here.
type LedgerService struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

type AppendInput struct {
	Owner  string
	Kind   string
	Amount decimal.Decimal
}

func (s *LedgerService) Append(ctx context.Context, in AppendInput) (*models.LedgerEntry, error) {
	if s == nil || s.Repo == nil {
		return nil, nil
	}
	owner := strings.TrimSpace(in.Owner)
	if owner == "" {
		return nil, ErrInvalidAmount
	}
	switch in.Kind {
	case models.LedgerKindDeposit, models.LedgerKindWithdrawal, models.LedgerKindRefund:
		if in.Amount.LessThanOrEqual(decimal.Zero) {
			return nil, ErrInvalidAmount
		}
	case models.LedgerKindAdminAdjustment:
		if in.Amount.IsZero() {
			return nil, ErrInvalidAmount
		}
	default:
		return nil, ErrInvalidKind
	}
	amount := in.Amount.Round(2)

	var entry *models.LedgerEntry
	err := s.Repo.InTx(ctx, func(tx *gorm.DB) error {
		bal, err := s.Repo.GetBalanceForUpdateTx(ctx, tx, owner)
		if err != nil {
			return err
		}
		candidate := models.LedgerEntry{
			Reference: uuid.NewString(),
			Owner:     owner,
			Kind:      in.Kind,
			Amount:    amount,
		}
		delta := candidate.Signed()
		after := bal.Available.Add(delta)
		if after.LessThan(decimal.Zero) {
			return ErrInsufficientFunds
		}
		candidate.BalanceBefore = bal.Available
		candidate.BalanceAfter = after
		if _, err := s.Repo.InsertLedgerEntryTx(ctx, tx, &candidate); err != nil {
			return err
		}

		bal.Available = after
		switch in.Kind {
		case models.LedgerKindDeposit:
			bal.TotalDeposited = bal.TotalDeposited.Add(amount)
		case models.LedgerKindWithdrawal:
			bal.TotalWithdrawn = bal.TotalWithdrawn.Add(amount)
		}
		if err := s.Repo.SaveBalanceTx(ctx, tx, bal); err != nil {
			return err
		}
		entry = &candidate
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.Logger != nil {
		s.Logger.Info("ledger event appended",
			zap.String("owner", owner),
			zap.String("kind", in.Kind),
			zap.String("amount", amount.String()),
		)
	}
	return entry, nil
}
