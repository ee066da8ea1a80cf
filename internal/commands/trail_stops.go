package commands

import (
	"context"
	"errors"
	"fmt"

	"orbit/internal/events"
	"orbit/internal/logger"
	"orbit/internal/store/model"
)

// TrailStopOrders tightens the stop of every open stock position toward
// the current price by an ATR-derived distance. Stops only ever tighten;
// the stop order keeps its original id and is modified in place.
type TrailStopOrders struct {
	Deps
}

func NewTrailStopOrders(deps Deps) *TrailStopOrders {
	return &TrailStopOrders{Deps: deps}
}

func (c *TrailStopOrders) Name() string { return "trail_stop_orders" }

func (c *TrailStopOrders) Execute(ev events.Event) error {
	if !withinMarketHours(c.Cfg.Trading, c.now()) {
		return nil
	}
	ctx := context.Background()
	open, err := c.Store.Stocks().ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("listing open stock positions: %w", err)
	}
	var errs []error
	for _, pos := range open {
		// An exit is already on its way to market; leave the order alone.
		if pos.ExitReason != "" {
			continue
		}
		if err := c.trailOne(ctx, pos); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (c *TrailStopOrders) trailOne(ctx context.Context, pos model.StockPosition) error {
	price, err := c.Broker.StockPrice(pos.Symbol)
	if err != nil {
		logger.Warnf("price for %s unavailable, skip trailing: %v", pos.Symbol, err)
		return nil
	}
	dist, err := c.ATR.StopDistance(pos.Symbol, c.Cfg.Trading.ATRPeriod, c.Cfg.Trading.StopATRMultiplier)
	if err != nil {
		logger.Warnf("ATR for %s unavailable, skip trailing: %v", pos.Symbol, err)
		return nil
	}

	current := pos.CurrentStopPrice()
	var candidate float64
	var tighter bool
	if pos.IsLong() {
		candidate = price - dist
		tighter = candidate > current
	} else {
		candidate = price + dist
		tighter = candidate < current
	}
	if !tighter {
		return nil
	}

	if err := c.Broker.ModifyStopOrder(pos.StopOrderID, pos.Symbol, pos.Direction, pos.Shares, candidate); err != nil {
		return fmt.Errorf("modifying stop %d (%s): %w", pos.StopOrderID, pos.Symbol, err)
	}
	if err := c.Store.Stocks().SetTrailingStop(ctx, pos.ID, candidate); err != nil {
		return fmt.Errorf("persisting trailed stop for %d (%s): %w", pos.ID, pos.Symbol, err)
	}
	logger.Infof("stop for %s trailed %.2f -> %.2f (price %.2f, dist %.4f)", pos.Symbol, current, candidate, price, dist)
	return nil
}
