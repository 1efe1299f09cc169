package accrual

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"minevest/internal/models"
	"minevest/internal/repository"
)

var ErrOwnerRequired = errors.New("owner is required")

// BalanceView is one side of a reconciliation comparison.
type BalanceView struct {
	Available      decimal.Decimal `json:"available"`
	Locked         decimal.Decimal `json:"locked"`
	TotalDeposited decimal.Decimal `json:"totalDeposited"`
	TotalWithdrawn decimal.Decimal `json:"totalWithdrawn"`
	TotalEarned    decimal.Decimal `json:"totalEarned"`
}

// Report compares the stored balance cache against a pure fold over the
// owner's ledger entries.
type Report struct {
	Owner          string      `json:"owner"`
	Computed       BalanceView `json:"computed"`
	Stored         BalanceView `json:"stored"`
	AvailableDrift decimal.Decimal `json:"availableDrift"`
	LockedDrift    decimal.Decimal `json:"lockedDrift"`
	EarnedDrift    decimal.Decimal `json:"earnedDrift"`
	InSync         bool        `json:"inSync"`
	Applied        bool        `json:"applied"`
	CheckedAt      time.Time   `json:"checkedAt"`
}

// Reconciler rebuilds a user's balance from the ledger. Reconcile is
// read-only; Apply rewrites the cache from the fold. This is the formal
// replacement for one-off repair scripts.
type Reconciler struct {
	Repo   repository.Repository
	Logger *zap.Logger
}

func (r *Reconciler) Reconcile(ctx context.Context, owner string) (Report, error) {
	report := Report{CheckedAt: time.Now().UTC()}
	owner = strings.TrimSpace(owner)
	if r == nil || r.Repo == nil || owner == "" {
		return report, ErrOwnerRequired
	}
	report.Owner = owner

	computed, err := r.computeFromLedger(ctx, owner)
	if err != nil {
		return report, err
	}
	report.Computed = computed

	stored, err := r.Repo.GetBalance(ctx, owner)
	if err != nil {
		return report, err
	}
	if stored != nil {
		report.Stored = BalanceView{
			Available:      stored.Available,
			Locked:         stored.Locked,
			TotalDeposited: stored.TotalDeposited,
			TotalWithdrawn: stored.TotalWithdrawn,
			TotalEarned:    stored.TotalEarned,
		}
	} else {
		report.Stored = zeroView()
	}

	report.AvailableDrift = report.Stored.Available.Sub(computed.Available)
	report.LockedDrift = report.Stored.Locked.Sub(computed.Locked)
	report.EarnedDrift = report.Stored.TotalEarned.Sub(computed.TotalEarned)
	report.InSync = report.AvailableDrift.IsZero() &&
		report.LockedDrift.IsZero() &&
		report.EarnedDrift.IsZero() &&
		report.Stored.TotalDeposited.Equal(computed.TotalDeposited) &&
		report.Stored.TotalWithdrawn.Equal(computed.TotalWithdrawn)

	if !report.InSync && r.Logger != nil {
		r.Logger.Warn("balance drift detected",
			zap.String("owner", owner),
			zap.String("available_drift", report.AvailableDrift.String()),
			zap.String("locked_drift", report.LockedDrift.String()),
		)
	}
	return report, nil
}

// Apply overwrites the stored cache with the ledger fold and returns the
// pre-apply report.
func (r *Reconciler) Apply(ctx context.Context, owner string) (Report, error) {
	report, err := r.Reconcile(ctx, owner)
	if err != nil {
		return report, err
	}
	if report.InSync {
		return report, nil
	}
	err = r.Repo.InTx(ctx, func(tx *gorm.DB) error {
		bal, err := r.Repo.GetBalanceForUpdateTx(ctx, tx, owner)
		if err != nil {
			return err
		}
		bal.Available = report.Computed.Available
		bal.Locked = report.Computed.Locked
		bal.TotalDeposited = report.Computed.TotalDeposited
		bal.TotalWithdrawn = report.Computed.TotalWithdrawn
		bal.TotalEarned = report.Computed.TotalEarned
		return r.Repo.SaveBalanceTx(ctx, tx, bal)
	})
	if err != nil {
		return report, err
	}
	report.Applied = true
	if r.Logger != nil {
		r.Logger.Info("balance cache rebuilt from ledger", zap.String("owner", owner))
	}
	return report, nil
}

func (r *Reconciler) computeFromLedger(ctx context.Context, owner string) (BalanceView, error) {
	sums, err := r.Repo.SumLedgerAmountsByKind(ctx, owner)
	if err != nil {
		return zeroView(), err
	}
	get := func(kind string) decimal.Decimal {
		if v, ok := sums[kind]; ok {
			return v
		}
		return decimal.Zero
	}

	deposited := get(models.LedgerKindDeposit)
	withdrawn := get(models.LedgerKindWithdrawal)
	invested := get(models.LedgerKindInvestment)
	earned := get(models.LedgerKindEarning)
	returned := get(models.LedgerKindPrincipalReturn)
	refunded := get(models.LedgerKindRefund)
	adjusted := get(models.LedgerKindAdminAdjustment)

	return BalanceView{
		Available: deposited.Add(earned).Add(returned).Add(refunded).Add(adjusted).
			Sub(withdrawn).Sub(invested),
		Locked:         invested.Sub(returned),
		TotalDeposited: deposited,
		TotalWithdrawn: withdrawn,
		TotalEarned:    earned,
	}, nil
}

func zeroView() BalanceView {
	return BalanceView{
		Available:      decimal.Zero,
		Locked:         decimal.Zero,
		TotalDeposited: decimal.Zero,
		TotalWithdrawn: decimal.Zero,
		TotalEarned:    decimal.Zero,
	}
}
