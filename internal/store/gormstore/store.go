package gormstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"orbit/internal/store"
	"orbit/internal/store/model"

	"gorm.io/datatypes"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// GormStore implements store.Store on Gorm + SQLite.
type GormStore struct {
	db *gorm.DB
}

var _ store.Store = (*GormStore)(nil)

// New opens (or creates) the SQLite database at path and migrates the
// schema.
func New(path string) (*GormStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("gorm store: db path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&cache=shared", path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.StockPosition{},
		&model.OptionPosition{},
		&model.OptionLeg{},
		&model.EquityHolding{},
	); err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// SQLite + WAL: a little parallelism for the reader goroutine while
	// keeping lock contention low.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(2)
	return &GormStore{db: db}, nil
}

func (s *GormStore) Stocks() store.StockPositionRepository   { return &stockRepo{db: s.db} }
func (s *GormStore) Options() store.OptionPositionRepository { return &optionRepo{db: s.db} }
func (s *GormStore) Holdings() store.EquityHoldingRepository { return &holdingRepo{db: s.db} }

func (s *GormStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// --------------------- stock positions -------------------------

type stockRepo struct {
	db *gorm.DB
}

func (r *stockRepo) Create(ctx context.Context, pos *model.StockPosition) error {
	if pos.ID <= 0 {
		return fmt.Errorf("stock position requires entry order id")
	}
	now := time.Now().Unix()
	if pos.Status == "" {
		pos.Status = model.StatusPending
	}
	pos.CreatedAtUnix = now
	pos.UpdatedAtUnix = now
	return r.db.WithContext(ctx).Create(pos).Error
}

func (r *stockRepo) GetByID(ctx context.Context, id int64) (*model.StockPosition, error) {
	var pos model.StockPosition
	if err := r.db.WithContext(ctx).First(&pos, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &pos, nil
}

func (r *stockRepo) ListPending(ctx context.Context) ([]model.StockPosition, error) {
	return r.listByStatus(ctx, model.StatusPending)
}

func (r *stockRepo) ListOpen(ctx context.Context) ([]model.StockPosition, error) {
	return r.listByStatus(ctx, model.StatusOpen)
}

func (r *stockRepo) listByStatus(ctx context.Context, status model.Status) ([]model.StockPosition, error) {
	var out []model.StockPosition
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *stockRepo) ListClosedBetween(ctx context.Context, fromUnix, toUnix int64) ([]model.StockPosition, error) {
	var out []model.StockPosition
	err := r.db.WithContext(ctx).
		Where("status = ? AND exit_time >= ? AND exit_time < ?", model.StatusClosed, fromUnix, toUnix).
		Order("exit_time ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *stockRepo) CountActive(ctx context.Context) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).Model(&model.StockPosition{}).
		Where("status IN ?", []model.Status{model.StatusPending, model.StatusOpen}).
		Count(&total).Error
	return total, err
}

func (r *stockRepo) MarkOpen(ctx context.Context, id int64, fillPrice float64, fillTimeUnix int64, rawFill []byte) error {
	updates := map[string]any{
		"status":      model.StatusOpen,
		"entry_price": fillPrice,
		"entry_time":  fillTimeUnix,
		"updated_at":  time.Now().Unix(),
	}
	if len(rawFill) > 0 {
		updates["raw_fill_json"] = datatypes.JSON(rawFill)
	}
	return guardedUpdate(r.db.WithContext(ctx).Model(&model.StockPosition{}).
		Where("id = ? AND status = ?", id, model.StatusPending).
		Updates(updates))
}

func (r *stockRepo) SetExitIntent(ctx context.Context, id int64, reason model.ExitReason) error {
	return guardedUpdate(r.db.WithContext(ctx).Model(&model.StockPosition{}).
		Where("id = ? AND status = ?", id, model.StatusOpen).
		Updates(map[string]any{
			"exit_reason": reason,
			"updated_at":  time.Now().Unix(),
		}))
}

func (r *stockRepo) SetTrailingStop(ctx context.Context, id int64, price float64) error {
	return guardedUpdate(r.db.WithContext(ctx).Model(&model.StockPosition{}).
		Where("id = ? AND status = ?", id, model.StatusOpen).
		Updates(map[string]any{
			"trailing_stop_price": price,
			"stop_moved":          true,
			"updated_at":          time.Now().Unix(),
		}))
}

func (r *stockRepo) Close(ctx context.Context, id int64, exitPrice, realizedPnL float64, exitTimeUnix int64, reason model.ExitReason) error {
	return guardedUpdate(r.db.WithContext(ctx).Model(&model.StockPosition{}).
		Where("id = ? AND status = ?", id, model.StatusOpen).
		Updates(map[string]any{
			"status":       model.StatusClosed,
			"exit_price":   exitPrice,
			"exit_time":    exitTimeUnix,
			"exit_reason":  reason,
			"realized_pnl": realizedPnL,
			"updated_at":   time.Now().Unix(),
		}))
}

func (r *stockRepo) Cancel(ctx context.Context, id int64) error {
	return guardedUpdate(r.db.WithContext(ctx).Model(&model.StockPosition{}).
		Where("id = ? AND status = ?", id, model.StatusPending).
		Updates(map[string]any{
			"status":     model.StatusCancelled,
			"updated_at": time.Now().Unix(),
		}))
}

// --------------------- option positions -------------------------

type optionRepo struct {
	db *gorm.DB
}

func (r *optionRepo) Create(ctx context.Context, pos *model.OptionPosition) error {
	if pos.ID <= 0 {
		return fmt.Errorf("option position requires combo order id")
	}
	now := time.Now().Unix()
	if pos.Status == "" {
		pos.Status = model.StatusPending
	}
	pos.CreatedAtUnix = now
	pos.UpdatedAtUnix = now
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		legs := pos.Legs
		pos.Legs = nil
		if err := tx.Create(pos).Error; err != nil {
			pos.Legs = legs
			return err
		}
		pos.Legs = legs
		for i := range legs {
			legs[i].PositionID = pos.ID
		}
		if len(legs) == 0 {
			return nil
		}
		return tx.Create(&legs).Error
	})
}

func (r *optionRepo) GetByID(ctx context.Context, id int64) (*model.OptionPosition, error) {
	var pos model.OptionPosition
	if err := r.db.WithContext(ctx).Preload("Legs").First(&pos, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &pos, nil
}

func (r *optionRepo) ListPending(ctx context.Context) ([]model.OptionPosition, error) {
	return r.listByStatus(ctx, model.StatusPending)
}

func (r *optionRepo) ListOpen(ctx context.Context) ([]model.OptionPosition, error) {
	return r.listByStatus(ctx, model.StatusOpen)
}

func (r *optionRepo) listByStatus(ctx context.Context, status model.Status) ([]model.OptionPosition, error) {
	var out []model.OptionPosition
	err := r.db.WithContext(ctx).Preload("Legs").
		Where("status = ?", status).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *optionRepo) ListByHolding(ctx context.Context, holdingID int64) ([]model.OptionPosition, error) {
	var out []model.OptionPosition
	err := r.db.WithContext(ctx).Preload("Legs").
		Where("equity_holding_id = ?", holdingID).
		Order("entry_time DESC, id DESC").
		Find(&out).Error
	return out, err
}

func (r *optionRepo) MarkOpen(ctx context.Context, id int64, netCredit float64, fillTimeUnix int64) error {
	return guardedUpdate(r.db.WithContext(ctx).Model(&model.OptionPosition{}).
		Where("id = ? AND status = ?", id, model.StatusPending).
		Updates(map[string]any{
			"status":     model.StatusOpen,
			"net_credit": netCredit,
			"entry_time": fillTimeUnix,
			"updated_at": time.Now().Unix(),
		}))
}

// SetClosingOrder is the exactly-once guard for closing orders: the
// UPDATE matches only an OPEN row with no closing order yet, so a second
// attempt (or one against a non-OPEN row) affects zero rows.
func (r *optionRepo) SetClosingOrder(ctx context.Context, id, closingOrderID int64) error {
	res := r.db.WithContext(ctx).Model(&model.OptionPosition{}).
		Where("id = ? AND status = ? AND closing_order_id IS NULL", id, model.StatusOpen).
		Updates(map[string]any{
			"closing_order_id": closingOrderID,
			"updated_at":       time.Now().Unix(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrClosingOrderSet
	}
	return nil
}

func (r *optionRepo) Close(ctx context.Context, id int64, exitValue, realizedPnL float64, exitTimeUnix int64, reason model.ExitReason) error {
	return guardedUpdate(r.db.WithContext(ctx).Model(&model.OptionPosition{}).
		Where("id = ? AND status = ?", id, model.StatusOpen).
		Updates(map[string]any{
			"status":       model.StatusClosed,
			"exit_value":   exitValue,
			"exit_time":    exitTimeUnix,
			"exit_reason":  reason,
			"realized_pnl": realizedPnL,
			"updated_at":   time.Now().Unix(),
		}))
}

func (r *optionRepo) Cancel(ctx context.Context, id int64) error {
	return guardedUpdate(r.db.WithContext(ctx).Model(&model.OptionPosition{}).
		Where("id = ? AND status = ?", id, model.StatusPending).
		Updates(map[string]any{
			"status":     model.StatusCancelled,
			"updated_at": time.Now().Unix(),
		}))
}

// --------------------- equity holdings -------------------------

type holdingRepo struct {
	db *gorm.DB
}

func (r *holdingRepo) Create(ctx context.Context, h *model.EquityHolding) error {
	h.Symbol = strings.ToUpper(strings.TrimSpace(h.Symbol))
	if h.Symbol == "" {
		return fmt.Errorf("equity holding requires symbol")
	}
	now := time.Now().Unix()
	if h.Status == "" {
		h.Status = model.StatusPending
	}
	h.CreatedAtUnix = now
	h.UpdatedAtUnix = now
	err := r.db.WithContext(ctx).Create(h).Error
	if err != nil && isUniqueViolation(err) {
		return store.ErrHoldingExists
	}
	return err
}

func (r *holdingRepo) GetByID(ctx context.Context, id int64) (*model.EquityHolding, error) {
	var h model.EquityHolding
	if err := r.db.WithContext(ctx).First(&h, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &h, nil
}

func (r *holdingRepo) GetBySymbol(ctx context.Context, symbol string) (*model.EquityHolding, error) {
	var h model.EquityHolding
	err := r.db.WithContext(ctx).
		First(&h, "symbol = ?", strings.ToUpper(strings.TrimSpace(symbol))).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &h, nil
}

func (r *holdingRepo) ListPending(ctx context.Context) ([]model.EquityHolding, error) {
	return r.listByStatus(ctx, model.StatusPending)
}

func (r *holdingRepo) ListOpen(ctx context.Context) ([]model.EquityHolding, error) {
	return r.listByStatus(ctx, model.StatusOpen)
}

func (r *holdingRepo) listByStatus(ctx context.Context, status model.Status) ([]model.EquityHolding, error) {
	var out []model.EquityHolding
	err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("created_at ASC, id ASC").
		Find(&out).Error
	return out, err
}

func (r *holdingRepo) MarkOpen(ctx context.Context, id int64, costBasis float64, atUnix int64) error {
	return guardedUpdate(r.db.WithContext(ctx).Model(&model.EquityHolding{}).
		Where("id = ? AND status = ?", id, model.StatusPending).
		Updates(map[string]any{
			"status":      model.StatusOpen,
			"cost_basis":  costBasis,
			"acquired_at": atUnix,
			"updated_at":  time.Now().Unix(),
		}))
}

func (r *holdingRepo) UpdateShares(ctx context.Context, id, shares int64) error {
	return guardedUpdate(r.db.WithContext(ctx).Model(&model.EquityHolding{}).
		Where("id = ? AND status = ?", id, model.StatusOpen).
		Updates(map[string]any{
			"shares":     shares,
			"updated_at": time.Now().Unix(),
		}))
}

func (r *holdingRepo) Close(ctx context.Context, id int64, exitPrice, realizedPnL float64, atUnix int64, reason model.ExitReason) error {
	return guardedUpdate(r.db.WithContext(ctx).Model(&model.EquityHolding{}).
		Where("id = ? AND status = ?", id, model.StatusOpen).
		Updates(map[string]any{
			"status":       model.StatusClosed,
			"exit_price":   exitPrice,
			"exit_reason":  reason,
			"realized_pnl": realizedPnL,
			"closed_at":    atUnix,
			"updated_at":   time.Now().Unix(),
		}))
}

// --------------------------- helpers ------------------------------

// guardedUpdate turns a zero-row UPDATE into ErrNotOpen, which is how
// every status-guarded transition rejects stale or out-of-order calls.
func guardedUpdate(res *gorm.DB) error {
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return store.ErrNotOpen
	}
	return nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint") || strings.Contains(msg, "constraint failed")
}
