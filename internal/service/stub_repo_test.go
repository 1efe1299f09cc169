package service

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"minevest/internal/models"
	"minevest/internal/repository"
)

var errStoreDown = errors.New("simulated store error")

// stubRepo is a minimal in-memory repository.Repository for the service
// tests. InTx restores a snapshot when fn fails so the tests can assert
// rollback behavior.
type stubRepo struct {
	nextPositionID uint64
	nextEntryID    uint64
	nextBalanceID  uint64

	positions map[uint64]models.Position
	entries   []models.LedgerEntry
	balances  map[string]models.Balance

	failLedgerInsert bool
}

func newStubRepo() *stubRepo {
	return &stubRepo{
		positions: map[uint64]models.Position{},
		balances:  map[string]models.Balance{},
	}
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

func (s *stubRepo) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	snapPositions := make(map[uint64]models.Position, len(s.positions))
	for k, v := range s.positions {
		snapPositions[k] = v
	}
	snapEntries := append([]models.LedgerEntry(nil), s.entries...)
	snapBalances := make(map[string]models.Balance, len(s.balances))
	for k, v := range s.balances {
		snapBalances[k] = v
	}
	snapIDs := [3]uint64{s.nextPositionID, s.nextEntryID, s.nextBalanceID}

	if err := fn(nil); err != nil {
		s.positions = snapPositions
		s.entries = snapEntries
		s.balances = snapBalances
		s.nextPositionID, s.nextEntryID, s.nextBalanceID = snapIDs[0], snapIDs[1], snapIDs[2]
		return err
	}
	return nil
}

func (s *stubRepo) CreatePositionTx(ctx context.Context, tx *gorm.DB, item *models.Position) error {
	s.nextPositionID++
	item.ID = s.nextPositionID
	s.positions[item.ID] = *item
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
	return nil, nil
}

func (s *stubRepo) CountPositions(ctx context.Context, params repository.ListPositionsParams) (int64, error) {
	return 0, nil
}

func (s *stubRepo) ListDuePositions(ctx context.Context, now time.Time, limit int) ([]models.Position, error) {
	return nil, nil
}

func (s *stubRepo) UpdatePositionTx(ctx context.Context, tx *gorm.DB, item *models.Position) error {
	s.positions[item.ID] = *item
	return nil
}

func (s *stubRepo) InsertLedgerEntryTx(ctx context.Context, tx *gorm.DB, item *models.LedgerEntry) (bool, error) {
	if s.failLedgerInsert {
		return false, errStoreDown
	}
	s.nextEntryID++
	item.ID = s.nextEntryID
	s.entries = append(s.entries, *item)
	return true, nil
}

func (s *stubRepo) ListLedgerEntries(ctx context.Context, params repository.ListLedgerParams) ([]models.LedgerEntry, error) {
	return append([]models.LedgerEntry(nil), s.entries...), nil
}

func (s *stubRepo) CountLedgerEntries(ctx context.Context, params repository.ListLedgerParams) (int64, error) {
	return int64(len(s.entries)), nil
}

func (s *stubRepo) SumLedgerAmountsByKind(ctx context.Context, owner string) (map[string]decimal.Decimal, error) {
	return map[string]decimal.Decimal{}, nil
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
	s.balances[item.Owner] = *item
	return nil
}

func (s *stubRepo) InsertAccrualRun(ctx context.Context, item *models.AccrualRun) error {
	return nil
}

func (s *stubRepo) ListAccrualRuns(ctx context.Context, limit int) ([]models.AccrualRun, error) {
	return nil, nil
}
