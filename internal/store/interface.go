package store

import (
	"context"
	"errors"

	"orbit/internal/store/model"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("store: record not found")
	// ErrClosingOrderSet is returned when a closing order is attached to
	// an option position that already has one, or that is not OPEN.
	ErrClosingOrderSet = errors.New("store: closing order already set or position not open")
	// ErrHoldingExists is returned when a second holding is created for
	// the same symbol.
	ErrHoldingExists = errors.New("store: holding for symbol already exists")
	// ErrNotOpen is returned when an OPEN-only transition targets a record
	// in another state.
	ErrNotOpen = errors.New("store: record is not open")
)

// Store is the entry point for database access.
type Store interface {
	Stocks() StockPositionRepository
	Options() OptionPositionRepository
	Holdings() EquityHoldingRepository
	// Close closes the store connection.
	Close() error
}

// StockPositionRepository persists intraday stock positions. Mutations
// are guarded by status so the PENDING→OPEN→CLOSED progression can never
// run backwards regardless of command ordering.
type StockPositionRepository interface {
	Create(ctx context.Context, pos *model.StockPosition) error
	GetByID(ctx context.Context, id int64) (*model.StockPosition, error)
	ListPending(ctx context.Context) ([]model.StockPosition, error)
	ListOpen(ctx context.Context) ([]model.StockPosition, error)
	ListClosedBetween(ctx context.Context, fromUnix, toUnix int64) ([]model.StockPosition, error)
	// CountActive counts PENDING plus OPEN positions, for the entry limit.
	CountActive(ctx context.Context) (int64, error)
	// MarkOpen transitions PENDING→OPEN with the actual fill.
	MarkOpen(ctx context.Context, id int64, fillPrice float64, fillTimeUnix int64, rawFill []byte) error
	// SetExitIntent records the exit reason while leaving status OPEN;
	// the close itself is confirmed by a later fill poll.
	SetExitIntent(ctx context.Context, id int64, reason model.ExitReason) error
	// SetTrailingStop persists a moved stop price and sets stop_moved.
	SetTrailingStop(ctx context.Context, id int64, price float64) error
	// Close transitions OPEN→CLOSED with the realized result.
	Close(ctx context.Context, id int64, exitPrice, realizedPnL float64, exitTimeUnix int64, reason model.ExitReason) error
	// Cancel transitions PENDING→CANCELLED.
	Cancel(ctx context.Context, id int64) error
}

// OptionPositionRepository persists multi-leg option spreads.
type OptionPositionRepository interface {
	Create(ctx context.Context, pos *model.OptionPosition) error
	GetByID(ctx context.Context, id int64) (*model.OptionPosition, error)
	ListPending(ctx context.Context) ([]model.OptionPosition, error)
	ListOpen(ctx context.Context) ([]model.OptionPosition, error)
	// ListByHolding returns the spreads linked to a holding, most recent
	// entry first.
	ListByHolding(ctx context.Context, holdingID int64) ([]model.OptionPosition, error)
	// MarkOpen transitions PENDING→OPEN, recording the actual net
	// credit/debit of the combo fill.
	MarkOpen(ctx context.Context, id int64, netCredit float64, fillTimeUnix int64) error
	// SetClosingOrder attaches the closing order id, allowed exactly once
	// and only while OPEN; any other call returns ErrClosingOrderSet.
	SetClosingOrder(ctx context.Context, id, closingOrderID int64) error
	// Close transitions OPEN→CLOSED with the exit value and realized P&L.
	Close(ctx context.Context, id int64, exitValue, realizedPnL float64, exitTimeUnix int64, reason model.ExitReason) error
	Cancel(ctx context.Context, id int64) error
}

// EquityHoldingRepository persists long-dated share positions.
type EquityHoldingRepository interface {
	// Create inserts a holding; a second holding for the same symbol
	// returns ErrHoldingExists.
	Create(ctx context.Context, h *model.EquityHolding) error
	GetByID(ctx context.Context, id int64) (*model.EquityHolding, error)
	GetBySymbol(ctx context.Context, symbol string) (*model.EquityHolding, error)
	ListPending(ctx context.Context) ([]model.EquityHolding, error)
	ListOpen(ctx context.Context) ([]model.EquityHolding, error)
	// MarkOpen transitions PENDING→OPEN with the actual fill cost basis.
	MarkOpen(ctx context.Context, id int64, costBasis float64, atUnix int64) error
	// UpdateShares decrements the share count after a partial assignment.
	UpdateShares(ctx context.Context, id, shares int64) error
	Close(ctx context.Context, id int64, exitPrice, realizedPnL float64, atUnix int64, reason model.ExitReason) error
}
