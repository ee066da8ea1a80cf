package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"orbit/internal/events"
	"orbit/internal/logger"
	"orbit/internal/store/model"
)

// ManageStockPositions polls fills for tracked stock positions and
// drives the PENDING→OPEN→CLOSED progression. It is the second phase of
// the EOD/stagnation exits: those convert the stop to market and record
// the reason, this command confirms the fill and writes CLOSED.
type ManageStockPositions struct {
	Deps
}

func NewManageStockPositions(deps Deps) *ManageStockPositions {
	return &ManageStockPositions{Deps: deps}
}

func (c *ManageStockPositions) Name() string { return "manage_stock_positions" }

func (c *ManageStockPositions) Execute(ev events.Event) error {
	ctx := context.Background()
	var errs []error
	if err := c.openPendingPositions(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.closeFilledStops(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// openPendingPositions transitions PENDING rows whose entry order has
// filled. A confirmed fill with no usable price is a hard error for that
// record; it must never be defaulted.
func (c *ManageStockPositions) openPendingPositions(ctx context.Context) error {
	pending, err := c.Store.Stocks().ListPending(ctx)
	if err != nil {
		return fmt.Errorf("listing pending stock positions: %w", err)
	}
	var errs []error
	for _, pos := range pending {
		fill, err := c.Broker.FillsByOrderID(pos.ID)
		if err != nil {
			logger.Warnf("fill poll for entry order %d (%s) failed: %v", pos.ID, pos.Symbol, err)
			continue
		}
		if fill == nil {
			continue
		}
		if fill.AvgPrice <= 0 {
			errs = append(errs, fmt.Errorf("entry order %d (%s) filled with no usable price", pos.ID, pos.Symbol))
			continue
		}
		raw, _ := json.Marshal(fill)
		if err := c.Store.Stocks().MarkOpen(ctx, pos.ID, fill.AvgPrice, fill.LastTime.Unix(), raw); err != nil {
			errs = append(errs, fmt.Errorf("opening position %d (%s): %w", pos.ID, pos.Symbol, err))
			continue
		}
		logger.Infof("position %d %s %s %d opened at %.2f", pos.ID, pos.Symbol, pos.Direction, pos.Shares, fill.AvgPrice)
		c.notifyText(fmt.Sprintf("OPENED %s %s %d @ %.2f (order %d)",
			pos.Symbol, pos.Direction, pos.Shares, fill.AvgPrice, pos.ID))
	}
	return errors.Join(errs...)
}

// closeFilledStops transitions OPEN rows whose stop order has filled.
// The exit reason recorded by an earlier exit intent wins; a plain stop
// fill means the stop-loss was hit.
func (c *ManageStockPositions) closeFilledStops(ctx context.Context) error {
	open, err := c.Store.Stocks().ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("listing open stock positions: %w", err)
	}
	var errs []error
	for _, pos := range open {
		fill, err := c.Broker.FillsByOrderID(pos.StopOrderID)
		if err != nil {
			logger.Warnf("fill poll for stop order %d (%s) failed: %v", pos.StopOrderID, pos.Symbol, err)
			continue
		}
		if fill == nil {
			continue
		}
		if fill.AvgPrice <= 0 {
			errs = append(errs, fmt.Errorf("stop order %d (%s) filled with no usable price", pos.StopOrderID, pos.Symbol))
			continue
		}
		reason := pos.ExitReason
		if reason == "" {
			reason = model.ExitStopLoss
		}
		pnl := stockPnL(pos.Direction, pos.EntryPrice, fill.AvgPrice, pos.Shares)
		if err := c.Store.Stocks().Close(ctx, pos.ID, fill.AvgPrice, pnl, fill.LastTime.Unix(), reason); err != nil {
			errs = append(errs, fmt.Errorf("closing position %d (%s): %w", pos.ID, pos.Symbol, err))
			continue
		}
		logger.Infof("position %d %s closed at %.2f reason=%s pnl=%.2f", pos.ID, pos.Symbol, fill.AvgPrice, reason, pnl)
		c.notifyText(fmt.Sprintf("CLOSED %s %s %d @ %.2f pnl=%.2f reason=%s",
			pos.Symbol, pos.Direction, pos.Shares, fill.AvgPrice, pnl, reason))
	}
	return errors.Join(errs...)
}
