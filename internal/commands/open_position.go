package commands

import (
	"context"
	"fmt"
	"strings"

	"orbit/internal/events"
	"orbit/internal/logger"
	"orbit/internal/store/model"
)

// OpenPositionRequest is the payload of an open-position event. Every
// field is required; validation fails fast and nothing is defaulted.
type OpenPositionRequest struct {
	Symbol        string
	Direction     string
	Shares        int64
	LimitPrice    float64
	StopLossPrice float64
	RangeSize     float64
}

func (r OpenPositionRequest) validate() error {
	if strings.TrimSpace(r.Symbol) == "" {
		return fmt.Errorf("open position: symbol is required")
	}
	dir := strings.ToUpper(r.Direction)
	if dir != model.DirectionLong && dir != model.DirectionShort {
		return fmt.Errorf("open position: direction must be LONG or SHORT, got %q", r.Direction)
	}
	if r.Shares <= 0 {
		return fmt.Errorf("open position: shares must be > 0, got %d", r.Shares)
	}
	if r.LimitPrice <= 0 {
		return fmt.Errorf("open position: limit price must be > 0, got %v", r.LimitPrice)
	}
	if r.StopLossPrice <= 0 {
		return fmt.Errorf("open position: stop loss must be > 0, got %v", r.StopLossPrice)
	}
	if r.RangeSize <= 0 {
		return fmt.Errorf("open position: range size must be > 0, got %v", r.RangeSize)
	}
	if dir == model.DirectionLong && r.StopLossPrice >= r.LimitPrice {
		return fmt.Errorf("open position: LONG stop %.2f must be below limit %.2f", r.StopLossPrice, r.LimitPrice)
	}
	if dir == model.DirectionShort && r.StopLossPrice <= r.LimitPrice {
		return fmt.Errorf("open position: SHORT stop %.2f must be above limit %.2f", r.StopLossPrice, r.LimitPrice)
	}
	return nil
}

// OpenStockPosition places an entry+stop bracket for a validated signal
// and persists the PENDING position keyed by the entry order id.
type OpenStockPosition struct {
	Deps
}

func NewOpenStockPosition(deps Deps) *OpenStockPosition {
	return &OpenStockPosition{Deps: deps}
}

func (c *OpenStockPosition) Name() string { return "open_stock_position" }

func (c *OpenStockPosition) Execute(ev events.Event) error {
	req, ok := ev.Data.(OpenPositionRequest)
	if !ok {
		return fmt.Errorf("open position: unexpected event payload %T", ev.Data)
	}
	if err := req.validate(); err != nil {
		return err
	}
	if !withinMarketHours(c.Cfg.Trading, c.now()) {
		return fmt.Errorf("open position: market closed, refusing %s", req.Symbol)
	}

	ctx := context.Background()
	active, err := c.Store.Stocks().CountActive(ctx)
	if err != nil {
		return fmt.Errorf("open position: counting active positions: %w", err)
	}
	if active >= int64(c.Cfg.Trading.MaxPositions) {
		return fmt.Errorf("open position: limit reached (%d/%d), refusing %s",
			active, c.Cfg.Trading.MaxPositions, req.Symbol)
	}

	direction := strings.ToUpper(req.Direction)
	symbol := strings.ToUpper(strings.TrimSpace(req.Symbol))
	entryID, stopID, err := c.Broker.PlaceStockEntryWithStop(symbol, direction, req.Shares, req.LimitPrice, req.StopLossPrice)
	if err != nil {
		return fmt.Errorf("open position: bracket for %s failed: %w", symbol, err)
	}

	pos := &model.StockPosition{
		ID:            entryID,
		StopOrderID:   stopID,
		Symbol:        symbol,
		Direction:     direction,
		Shares:        req.Shares,
		StopLossPrice: req.StopLossPrice,
		RangeSize:     req.RangeSize,
		Status:        model.StatusPending,
	}
	if err := c.Store.Stocks().Create(ctx, pos); err != nil {
		// Orders are live but untracked; cancel the bracket rather than
		// leave money state unaccounted for.
		if cerr := c.Broker.CancelOrder(entryID); cerr != nil {
			logger.Errorf("cancel of untracked entry order %d failed: %v", entryID, cerr)
		}
		return fmt.Errorf("open position: persisting %s failed: %w", symbol, err)
	}
	logger.Infof("bracket placed for %s %s %d: entry %d (lmt %.2f), stop %d (%.2f)",
		symbol, direction, req.Shares, entryID, req.LimitPrice, stopID, req.StopLossPrice)
	c.notifyText(fmt.Sprintf("PLACED %s %s %d lmt=%.2f stop=%.2f (order %d)",
		symbol, direction, req.Shares, req.LimitPrice, req.StopLossPrice, entryID))
	return nil
}
