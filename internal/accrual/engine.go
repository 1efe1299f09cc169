package accrual

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"minevest/internal/models"
	"minevest/internal/repository"
)

// Data-integrity conditions. These are never retried and never complete a
// position; the position stays active so it is re-flagged on every scan
// until someone reconciles it by hand.
var (
	ErrInsufficientLocked = errors.New("locked balance below principal at maturity")
	ErrMissingRate        = errors.New("position rate missing or non-positive")
	ErrUnknownPayoutMode  = errors.New("unknown payout mode")
)

const dayFormat = "2006-01-02"

var oneHundred = decimal.NewFromInt(100)

// RunResult is the aggregate outcome of one scan. Per-position failures
// land in Errors; they never abort the scan.
type RunResult struct {
	PositionsScanned       int             `json:"positionsScanned"`
	EarningsApplied        int             `json:"earningsApplied"`
	PositionsCompleted     int             `json:"positionsCompleted"`
	TotalEarningsCredited  decimal.Decimal `json:"totalEarningsCredited"`
	TotalPrincipalReturned decimal.Decimal `json:"totalPrincipalReturned"`
	Errors                 []string        `json:"errors"`
}

// Engine walks due positions and applies earning credits and maturity
// payouts. It is safe to run concurrently with itself: the ledger's
// uniqueness constraint, not a lock, prevents double-crediting.
type Engine struct {
	Repo       repository.Repository
	Logger     *zap.Logger
	Period     time.Duration
	MaxRetries int
	BatchLimit int
}

type positionOutcome struct {
	credited  decimal.Decimal
	returned  decimal.Decimal
	earned    bool
	completed bool
}

// Run executes one accrual scan as of now. A zero now means the current
// time. Only a failed due-position scan is a hard error; everything else
// is reported through the result.
func (e *Engine) Run(ctx context.Context, now time.Time) (RunResult, error) {
	res := RunResult{
		TotalEarningsCredited:  decimal.Zero,
		TotalPrincipalReturned: decimal.Zero,
		Errors:                 []string{},
	}
	if e == nil || e.Repo == nil {
		return res, nil
	}
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()
	startedAt := time.Now().UTC()

	items, err := e.Repo.ListDuePositions(ctx, now, e.batchLimit())
	if err != nil {
		return res, fmt.Errorf("scan due positions: %w", err)
	}
	res.PositionsScanned = len(items)

	for i := range items {
		// Interruptible between positions, never mid-position.
		if err := ctx.Err(); err != nil {
			e.record(ctx, startedAt, res)
			return res, err
		}
		pos := items[i]
		out, err := e.processWithRetry(ctx, pos, now)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("position %d: %v", pos.ID, err))
			if e.Logger != nil {
				e.Logger.Warn("accrual position failed",
					zap.Uint64("position_id", pos.ID),
					zap.String("owner", pos.Owner),
					zap.Error(err),
				)
			}
			continue
		}
		if out.earned {
			res.EarningsApplied++
			res.TotalEarningsCredited = res.TotalEarningsCredited.Add(out.credited)
		}
		if out.completed {
			res.PositionsCompleted++
			res.TotalPrincipalReturned = res.TotalPrincipalReturned.Add(out.returned)
		}
	}

	e.record(ctx, startedAt, res)
	if e.Logger != nil {
		e.Logger.Info("accrual scan done",
			zap.Int("scanned", res.PositionsScanned),
			zap.Int("earnings", res.EarningsApplied),
			zap.Int("completed", res.PositionsCompleted),
			zap.Int("errors", len(res.Errors)),
		)
	}
	return res, nil
}

func (e *Engine) processWithRetry(ctx context.Context, pos models.Position, now time.Time) (positionOutcome, error) {
	attempts := e.MaxRetries
	if attempts <= 0 {
		attempts = 3
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		out, err := e.processOne(ctx, pos, now)
		if err == nil {
			return out, nil
		}
		if isIntegrityError(err) || ctx.Err() != nil {
			return positionOutcome{}, err
		}
		lastErr = err
	}
	return positionOutcome{}, fmt.Errorf("after %d attempts: %w", attempts, lastErr)
}

// processOne handles a single due position inside one transaction. It
// works on a copy so a rolled-back attempt leaves no in-memory residue
// for the retry.
func (e *Engine) processOne(ctx context.Context, pos models.Position, now time.Time) (positionOutcome, error) {
	switch pos.PayoutMode {
	case models.PayoutModePeriodic:
		// Maturity supersedes the final period credit.
		if !now.Before(pos.MaturesAt) {
			return e.completeAtMaturity(ctx, pos, now)
		}
		return e.creditPeriod(ctx, pos, now)
	case models.PayoutModeLumpSum:
		if !now.Before(pos.MaturesAt) {
			return e.completeAtMaturity(ctx, pos, now)
		}
		// Scanner only returns lump-sum positions at maturity; a
		// pre-maturity hit means the caller passed an earlier now.
		return positionOutcome{}, nil
	default:
		return positionOutcome{}, fmt.Errorf("%w: %q", ErrUnknownPayoutMode, pos.PayoutMode)
	}
}

func (e *Engine) creditPeriod(ctx context.Context, pos models.Position, now time.Time) (positionOutcome, error) {
	if pos.Rate.LessThanOrEqual(decimal.Zero) {
		return positionOutcome{}, ErrMissingRate
	}
	amount := pos.Principal.Mul(pos.Rate).Div(oneHundred).Round(2)
	if amount.LessThanOrEqual(decimal.Zero) {
		return positionOutcome{}, ErrMissingRate
	}

	// The due-period window is keyed by the calendar day of next_due_at;
	// a position that has never been credited uses the scan day.
	periodDay := now.Format(dayFormat)
	if pos.NextDueAt != nil {
		periodDay = pos.NextDueAt.UTC().Format(dayFormat)
	}

	var out positionOutcome
	err := e.Repo.InTx(ctx, func(tx *gorm.DB) error {
		bal, err := e.Repo.GetBalanceForUpdateTx(ctx, tx, pos.Owner)
		if err != nil {
			return err
		}
		entry := &models.LedgerEntry{
			Reference:     uuid.NewString(),
			Owner:         pos.Owner,
			Kind:          models.LedgerKindEarning,
			Amount:        amount,
			PositionRef:   &pos.ID,
			PeriodDay:     periodDay,
			BalanceBefore: bal.Available,
			BalanceAfter:  bal.Available.Add(amount),
			CreatedAt:     now,
		}
		inserted, err := e.Repo.InsertLedgerEntryTx(ctx, tx, entry)
		if err != nil {
			return err
		}
		if inserted {
			bal.Available = bal.Available.Add(amount)
			bal.TotalEarned = bal.TotalEarned.Add(amount)
			if err := e.Repo.SaveBalanceTx(ctx, tx, bal); err != nil {
				return err
			}
			pos.CumulativeEarned = pos.CumulativeEarned.Add(amount)
			out.earned = true
			out.credited = amount
		}

		// Advance one period from the later of (next_due_at, now): a
		// position behind by several periods catches up one credit per
		// scan, and an idempotency hit still advances the schedule.
		base := now
		if pos.NextDueAt != nil && pos.NextDueAt.After(now) {
			base = pos.NextDueAt.UTC()
		}
		next := base.Add(e.period())
		pos.NextDueAt = &next
		return e.Repo.UpdatePositionTx(ctx, tx, &pos)
	})
	if err != nil {
		return positionOutcome{}, err
	}
	return out, nil
}

func (e *Engine) completeAtMaturity(ctx context.Context, pos models.Position, now time.Time) (positionOutcome, error) {
	var out positionOutcome
	err := e.Repo.InTx(ctx, func(tx *gorm.DB) error {
		bal, err := e.Repo.GetBalanceForUpdateTx(ctx, tx, pos.Owner)
		if err != nil {
			return err
		}

		if pos.PayoutMode == models.PayoutModeLumpSum {
			// For lump-sum positions the rate is the whole-term
			// percentage, not a per-period one.
			total := pos.Principal.Mul(pos.Rate).Div(oneHundred).Round(2)
			if total.GreaterThan(decimal.Zero) {
				entry := &models.LedgerEntry{
					Reference:     uuid.NewString(),
					Owner:         pos.Owner,
					Kind:          models.LedgerKindEarning,
					Amount:        total,
					PositionRef:   &pos.ID,
					BalanceBefore: bal.Available,
					BalanceAfter:  bal.Available.Add(total),
					CreatedAt:     now,
				}
				inserted, err := e.Repo.InsertLedgerEntryTx(ctx, tx, entry)
				if err != nil {
					return err
				}
				if inserted {
					bal.Available = bal.Available.Add(total)
					bal.TotalEarned = bal.TotalEarned.Add(total)
					pos.CumulativeEarned = total
					out.earned = true
					out.credited = total
				}
			}
		}

		// Historically the buggy step: the principal must come back
		// exactly once, and never out of thin air.
		prEntry := &models.LedgerEntry{
			Reference:     uuid.NewString(),
			Owner:         pos.Owner,
			Kind:          models.LedgerKindPrincipalReturn,
			Amount:        pos.Principal,
			PositionRef:   &pos.ID,
			BalanceBefore: bal.Available,
			BalanceAfter:  bal.Available.Add(pos.Principal),
			CreatedAt:     now,
		}
		inserted, err := e.Repo.InsertLedgerEntryTx(ctx, tx, prEntry)
		if err != nil {
			return err
		}
		if inserted {
			if bal.Locked.LessThan(pos.Principal) {
				return fmt.Errorf("%w: locked=%s principal=%s owner=%s",
					ErrInsufficientLocked, bal.Locked, pos.Principal, pos.Owner)
			}
			bal.Locked = bal.Locked.Sub(pos.Principal)
			bal.Available = bal.Available.Add(pos.Principal)
			out.returned = pos.Principal
		}

		if err := e.Repo.SaveBalanceTx(ctx, tx, bal); err != nil {
			return err
		}
		pos.Status = models.PositionStatusCompleted
		out.completed = true
		return e.Repo.UpdatePositionTx(ctx, tx, &pos)
	})
	if err != nil {
		return positionOutcome{}, err
	}
	return out, nil
}

func (e *Engine) record(ctx context.Context, startedAt time.Time, res RunResult) {
	stats, _ := json.Marshal(map[string]any{"errors": res.Errors})
	run := &models.AccrualRun{
		StartedAt:              startedAt,
		FinishedAt:             time.Now().UTC(),
		PositionsScanned:       res.PositionsScanned,
		EarningsApplied:        res.EarningsApplied,
		PositionsCompleted:     res.PositionsCompleted,
		ErrorCount:             len(res.Errors),
		TotalEarningsCredited:  res.TotalEarningsCredited,
		TotalPrincipalReturned: res.TotalPrincipalReturned,
		StatsJSON:              stats,
	}
	if err := e.Repo.InsertAccrualRun(ctx, run); err != nil && e.Logger != nil {
		e.Logger.Warn("record accrual run failed", zap.Error(err))
	}
}

func (e *Engine) period() time.Duration {
	if e.Period > 0 {
		return e.Period
	}
	return 24 * time.Hour
}

func (e *Engine) batchLimit() int {
	if e.BatchLimit > 0 {
		return e.BatchLimit
	}
	return 500
}

func isIntegrityError(err error) bool {
	return errors.Is(err, ErrInsufficientLocked) ||
		errors.Is(err, ErrMissingRate) ||
		errors.Is(err, ErrUnknownPayoutMode)
}
