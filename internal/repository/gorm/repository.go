package gormrepository

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"minevest/internal/models"
	"minevest/internal/repository"
)

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.WithContext(ctx).Transaction(fn)
}

// --- Positions --------------------------------------------------------------

func (s *Store) CreatePositionTx(ctx context.Context, tx *gorm.DB, item *models.Position) error {
	if s == nil || item == nil {
		return nil
	}
	return s.conn(ctx, tx).Create(item).Error
}

func (s *Store) GetPositionByID(ctx context.Context, id uint64) (*models.Position, error) {
	if s == nil || s.db == nil || id == 0 {
		return nil, nil
	}
	var item models.Position
	err := s.db.WithContext(ctx).First(&item, "id = ?", id).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) ListPositions(ctx context.Context, params repository.ListPositionsParams) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.positionsQuery(ctx, params)
	query = applyOrder(query, params.OrderBy, params.Asc, "created_at")
	limit := normalizeLimit(params.Limit, 100)
	offset := normalizeOffset(params.Offset)
	var items []models.Position
	if err := query.Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountPositions(ctx context.Context, params repository.ListPositionsParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.positionsQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) positionsQuery(ctx context.Context, params repository.ListPositionsParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.Position{})
	if params.Owner != nil && strings.TrimSpace(*params.Owner) != "" {
		query = query.Where("owner = ?", strings.TrimSpace(*params.Owner))
	}
	if params.Status != nil && strings.TrimSpace(*params.Status) != "" {
		query = query.Where("status = ?", strings.TrimSpace(*params.Status))
	}
	return query
}

func (s *Store) ListDuePositions(ctx context.Context, now time.Time, limit int) ([]models.Position, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	limit = normalizeLimit(limit, 500)
	var items []models.Position
	err := s.db.WithContext(ctx).
		Model(&models.Position{}).
		Where("status = ?", models.PositionStatusActive).
		Where(
			s.db.Where("payout_mode = ? AND (next_due_at IS NULL OR next_due_at <= ?)", models.PayoutModePeriodic, now).
				Or("matures_at <= ?", now),
		).
		Order("id asc").
		Limit(limit).
		Find(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) UpdatePositionTx(ctx context.Context, tx *gorm.DB, item *models.Position) error {
	if s == nil || item == nil || item.ID == 0 {
		return nil
	}
	return s.conn(ctx, tx).Save(item).Error
}

// --- Ledger -----------------------------------------------------------------

func (s *Store) InsertLedgerEntryTx(ctx context.Context, tx *gorm.DB, item *models.LedgerEntry) (bool, error) {
	if s == nil || item == nil {
		return false, nil
	}
	res := s.conn(ctx, tx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "position_ref"},
			{Name: "kind"},
			{Name: "period_day"},
		},
		DoNothing: true,
	}).Create(item)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, params repository.ListLedgerParams) ([]models.LedgerEntry, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	query := s.ledgerQuery(ctx, params)
	limit := normalizeLimit(params.Limit, 200)
	offset := normalizeOffset(params.Offset)
	var items []models.LedgerEntry
	if err := query.Order("id asc").Limit(limit).Offset(offset).Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (s *Store) CountLedgerEntries(ctx context.Context, params repository.ListLedgerParams) (int64, error) {
	if s == nil || s.db == nil {
		return 0, nil
	}
	var total int64
	if err := s.ledgerQuery(ctx, params).Count(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

func (s *Store) ledgerQuery(ctx context.Context, params repository.ListLedgerParams) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&models.LedgerEntry{})
	if params.Owner != nil && strings.TrimSpace(*params.Owner) != "" {
		query = query.Where("owner = ?", strings.TrimSpace(*params.Owner))
	}
	if params.Kind != nil && strings.TrimSpace(*params.Kind) != "" {
		query = query.Where("kind = ?", strings.TrimSpace(*params.Kind))
	}
	if params.PositionRef != nil && *params.PositionRef > 0 {
		query = query.Where("position_ref = ?", *params.PositionRef)
	}
	if params.Since != nil && !params.Since.IsZero() {
		query = query.Where("created_at >= ?", *params.Since)
	}
	return query
}

func (s *Store) SumLedgerAmountsByKind(ctx context.Context, owner string) (map[string]decimal.Decimal, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return map[string]decimal.Decimal{}, nil
	}
	type kindSum struct {
		Kind  string
		Total decimal.Decimal
	}
	var rows []kindSum
	err := s.db.WithContext(ctx).
		Model(&models.LedgerEntry{}).
		Select("kind, COALESCE(SUM(amount),0) AS total").
		Where("owner = ?", owner).
		Group("kind").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make(map[string]decimal.Decimal, len(rows))
	for _, row := range rows {
		out[row.Kind] = row.Total
	}
	return out, nil
}

// --- Balance cache ----------------------------------------------------------

func (s *Store) GetBalance(ctx context.Context, owner string) (*models.Balance, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, nil
	}
	var item models.Balance
	err := s.db.WithContext(ctx).First(&item, "owner = ?", owner).Error
	if err == gorm.ErrRecordNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

// GetBalanceForUpdateTx locks the owner's balance row for the duration of
// the transaction, creating a zero row if the owner has no financial
// history yet.
func (s *Store) GetBalanceForUpdateTx(ctx context.Context, tx *gorm.DB, owner string) (*models.Balance, error) {
	if s == nil {
		return nil, nil
	}
	owner = strings.TrimSpace(owner)
	if owner == "" {
		return nil, nil
	}
	conn := s.conn(ctx, tx)
	var item models.Balance
	err := conn.Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&item, "owner = ?", owner).Error
	if err == gorm.ErrRecordNotFound {
		item = models.Balance{Owner: owner}
		if err := conn.Create(&item).Error; err != nil {
			return nil, err
		}
		return &item, nil
	}
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func (s *Store) SaveBalanceTx(ctx context.Context, tx *gorm.DB, item *models.Balance) error {
	if s == nil || item == nil || item.ID == 0 {
		return nil
	}
	return s.conn(ctx, tx).Save(item).Error
}

// --- Run audit --------------------------------------------------------------

func (s *Store) InsertAccrualRun(ctx context.Context, item *models.AccrualRun) error {
	if s == nil || s.db == nil || item == nil {
		return nil
	}
	return s.db.WithContext(ctx).Create(item).Error
}

func (s *Store) ListAccrualRuns(ctx context.Context, limit int) ([]models.AccrualRun, error) {
	if s == nil || s.db == nil {
		return nil, nil
	}
	limit = normalizeLimit(limit, 50)
	var items []models.AccrualRun
	if err := s.db.WithContext(ctx).
		Model(&models.AccrualRun{}).
		Order("started_at desc").
		Limit(limit).
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// --- helpers ----------------------------------------------------------------

func (s *Store) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return s.db.WithContext(ctx)
}

func applyOrder(query *gorm.DB, orderBy string, asc *bool, fallback string) *gorm.DB {
	column := strings.TrimSpace(orderBy)
	if column == "" {
		column = fallback
	}
	direction := "desc"
	if asc != nil && *asc {
		direction = "asc"
	}
	return query.Order(column + " " + direction)
}

func normalizeLimit(limit, fallback int) int {
	if limit <= 0 {
		return fallback
	}
	if limit > 500 {
		return 500
	}
	return limit
}

func normalizeOffset(offset int) int {
	if offset < 0 {
		return 0
	}
	return offset
}
