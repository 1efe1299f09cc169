package accrual

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"minevest/internal/models"
	"minevest/internal/repository"
)

var errStoreDown = errors.New("simulated store error")

// stubRepo is a test-only in-memory implementation of
// repository.Repository. InTx snapshots the whole state and restores it
// when fn fails, so the engine's per-position atomicity is observable in
// tests.
type stubRepo struct {
	nextPositionID uint64
	nextEntryID    uint64
	nextBalanceID  uint64

	positions map[uint64]models.Position
	entries   []models.LedgerEntry
	uniq      map[string]struct{}
	balances  map[string]models.Balance
	runs      []models.AccrualRun

	// failLedgerInsert maps a position id to the number of remaining
	// ledger-insert attempts that should fail for it.
	failLedgerInsert map[uint64]int
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		positions:        map[uint64]models.Position{},
		uniq:             map[string]struct{}{},
		balances:         map[string]models.Balance{},
		failLedgerInsert: map[uint64]int{},
	}
}

func (s *stubRepo) addPosition(p models.Position) uint64 {
	s.nextPositionID++
	p.ID = s.nextPositionID
	if p.Status == "" {
		p.Status = models.PositionStatusActive
	}
	s.positions[p.ID] = p
	return p.ID
}

func (s *stubRepo) setBalance(owner string, available, locked decimal.Decimal) {
	s.nextBalanceID++
	s.balances[owner] = models.Balance{
		ID:             s.nextBalanceID,
		Owner:          owner,
		Available:      available,
		Locked:         locked,
		TotalDeposited: decimal.Zero,
		TotalWithdrawn: decimal.Zero,
		TotalEarned:    decimal.Zero,
	}
}

func (s *stubRepo) addEntry(e models.LedgerEntry) {
	s.nextEntryID++
	e.ID = s.nextEntryID
	s.entries = append(s.entries, e)
	if e.PositionRef != nil {
		s.uniq[uniqKey(*e.PositionRef, e.Kind, e.PeriodDay)] = struct{}{}
	}
}

func (s *stubRepo) entriesFor(positionRef uint64, kind string) []models.LedgerEntry {
	var out []models.LedgerEntry
	for _, e := range s.entries {
		if e.PositionRef != nil && *e.PositionRef == positionRef && (kind == "" || e.Kind == kind) {
			out = append(out, e)
		}
	}
	return out
}

func uniqKey(ref uint64, kind, day string) string {
	return fmt.Sprintf("%d|%s|%s", ref, kind, day)
}

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	snapPositions := make(map[uint64]models.Position, len(s.positions))
	for k, v := range s.positions {
		snapPositions[k] = v
	}
	snapEntries := append([]models.LedgerEntry(nil), s.entries...)
	snapUniq := make(map[string]struct{}, len(s.uniq))
	for k := range s.uniq {
		snapUniq[k] = struct{}{}
	}
	snapBalances := make(map[string]models.Balance, len(s.balances))
	for k, v := range s.balances {
		snapBalances[k] = v
	}
	snapIDs := [3]uint64{s.nextPositionID, s.nextEntryID, s.nextBalanceID}

	if err := fn(nil); err != nil {
		s.positions = snapPositions
		s.entries = snapEntries
		s.uniq = snapUniq
		s.balances = snapBalances
		s.nextPositionID, s.nextEntryID, s.nextBalanceID = snapIDs[0], snapIDs[1], snapIDs[2]
		return err
	}
	return nil
}

func (s *stubRepo) CreatePositionTx(ctx context.Context, tx *gorm.DB, item *models.Position) error {
	item.ID = s.addPosition(*item)
	return nil
}

func (s *stubRepo) GetPositionByID(ctx context.Context, id uint64) (*models.Position, error) {
	if p, ok := s.positions[id]; ok {
		cp := p
		return &cp, nil
	}
	return nil, nil
}

func (s *stubRepo) ListPositions(ctx context.Context, params repository.ListPositionsParams) ([]models.Position, error) {
	var out []models.Position
	for _, p := range s.positions {
		if params.Owner != nil && p.Owner != *params.Owner {
			continue
		}
		if params.Status != nil && p.Status != *params.Status {
			continue
		}
		out = append(out, p)
	}
	return out, nil
}

func (s *stubRepo) CountPositions(ctx context.Context, params repository.ListPositionsParams) (int64, error) {
	items, _ := s.ListPositions(ctx, params)
	return int64(len(items)), nil
}

func (s *stubRepo) ListDuePositions(ctx context.Context, now time.Time, limit int) ([]models.Position, error) {
	var out []models.Position
	for id := uint64(1); id <= s.nextPositionID; id++ {
		p, ok := s.positions[id]
		if !ok || p.Status != models.PositionStatusActive {
			continue
		}
		duePeriodic := p.PayoutMode == models.PayoutModePeriodic &&
			(p.NextDueAt == nil || !p.NextDueAt.After(now))
		matured := !now.Before(p.MaturesAt)
		if duePeriodic || matured {
			out = append(out, p)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *stubRepo) UpdatePositionTx(ctx context.Context, tx *gorm.DB, item *models.Position) error {
	if _, ok := s.positions[item.ID]; !ok {
		return errStoreDown
	}
	s.positions[item.ID] = *item
	return nil
}

func (s *stubRepo) InsertLedgerEntryTx(ctx context.Context, tx *gorm.DB, item *models.LedgerEntry) (bool, error) {
	if item.PositionRef != nil {
		if remaining, ok := s.failLedgerInsert[*item.PositionRef]; ok && remaining > 0 {
			s.failLedgerInsert[*item.PositionRef] = remaining - 1
			return false, errStoreDown
		}
		key := uniqKey(*item.PositionRef, item.Kind, item.PeriodDay)
		if _, exists := s.uniq[key]; exists {
			return false, nil
		}
	}
	s.addEntry(*item)
	return true, nil
}

func (s *stubRepo) ListLedgerEntries(ctx context.Context, params repository.ListLedgerParams) ([]models.LedgerEntry, error) {
	var out []models.LedgerEntry
	for _, e := range s.entries {
		if params.Owner != nil && e.Owner != *params.Owner {
			continue
		}
		if params.Kind != nil && e.Kind != *params.Kind {
			continue
		}
		if params.PositionRef != nil && (e.PositionRef == nil || *e.PositionRef != *params.PositionRef) {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *stubRepo) CountLedgerEntries(ctx context.Context, params repository.ListLedgerParams) (int64, error) {
	items, _ := s.ListLedgerEntries(ctx, params)
	return int64(len(items)), nil
}

func (s *stubRepo) SumLedgerAmountsByKind(ctx context.Context, owner string) (map[string]decimal.Decimal, error) {
	out := map[string]decimal.Decimal{}
	for _, e := range s.entries {
		if e.Owner != owner {
			continue
		}
		cur, ok := out[e.Kind]
		if !ok {
			cur = decimal.Zero
		}
		out[e.Kind] = cur.Add(e.Amount)
	}
	return out, nil
}

func (s *stubRepo) GetBalance(ctx context.Context, owner string) (*models.Balance, error) {
	if b, ok := s.balances[owner]; ok {
		cp := b
		return &cp, nil
	}
	return nil, nil
}

func (s *stubRepo) GetBalanceForUpdateTx(ctx context.Context, tx *gorm.DB, owner string) (*models.Balance, error) {
	if b, ok := s.balances[owner]; ok {
		cp := b
		return &cp, nil
	}
	s.nextBalanceID++
	b := models.Balance{
		ID:             s.nextBalanceID,
		Owner:          owner,
		Available:      decimal.Zero,
		Locked:         decimal.Zero,
		TotalDeposited: decimal.Zero,
		TotalWithdrawn: decimal.Zero,
		TotalEarned:    decimal.Zero,
	}
	s.balances[owner] = b
	cp := b
	return &cp, nil
}

func (s *stubRepo) SaveBalanceTx(ctx context.Context, tx *gorm.DB, item *models.Balance) error {
	if _, ok := s.balances[item.Owner]; !ok {
		return errStoreDown
	}
	s.balances[item.Owner] = *item
	return nil
}

func (s *stubRepo) InsertAccrualRun(ctx context.Context, item *models.AccrualRun) error {
	s.runs = append(s.runs, *item)
	return nil
}

func (s *stubRepo) ListAccrualRuns(ctx context.Context, limit int) ([]models.AccrualRun, error) {
	return append([]models.AccrualRun(nil), s.runs...), nil
}
