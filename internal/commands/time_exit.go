package commands

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"orbit/internal/events"
	"orbit/internal/logger"
	"orbit/internal/store/model"
)

// TimeBasedExit force-exits positions that have gone stagnant: open
// longer than the configured threshold with a price move smaller than a
// quarter of the recorded range, measured as a percentage of entry.
// The exit is two-phase: the stop is converted to market here and the
// CLOSED transition happens when the fill poll confirms it.
type TimeBasedExit struct {
	Deps
}

func NewTimeBasedExit(deps Deps) *TimeBasedExit {
	return &TimeBasedExit{Deps: deps}
}

func (c *TimeBasedExit) Name() string { return "time_based_exit" }

func (c *TimeBasedExit) Execute(ev events.Event) error {
	if !withinMarketHours(c.Cfg.Trading, c.now()) {
		return nil
	}
	ctx := context.Background()
	open, err := c.Store.Stocks().ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("listing open stock positions: %w", err)
	}
	now := c.now()
	threshold := time.Duration(c.Cfg.Trading.StagnationMinutes) * time.Minute
	var errs []error
	for _, pos := range open {
		if pos.ExitReason != "" {
			continue
		}
		if now.Sub(pos.EntryTime()) < threshold {
			continue
		}
		stagnant, err := c.isStagnant(pos)
		if err != nil {
			logger.Warnf("stagnation check for %s failed: %v", pos.Symbol, err)
			continue
		}
		if !stagnant {
			continue
		}
		if err := c.exitStagnant(ctx, pos); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// isStagnant compares the absolute move since entry against the
// configured fraction of the position's recorded range size, both as a
// percentage of entry price.
func (c *TimeBasedExit) isStagnant(pos model.StockPosition) (bool, error) {
	if pos.EntryPrice <= 0 || pos.RangeSize <= 0 {
		return false, fmt.Errorf("position %d has entry=%.2f range=%.2f", pos.ID, pos.EntryPrice, pos.RangeSize)
	}
	price, err := c.Broker.StockPrice(pos.Symbol)
	if err != nil {
		return false, err
	}
	movementPct := math.Abs(price-pos.EntryPrice) / pos.EntryPrice * 100
	rangePct := pos.RangeSize / pos.EntryPrice * 100
	return movementPct < rangePct*c.Cfg.Trading.StagnationMovePct, nil
}

func (c *TimeBasedExit) exitStagnant(ctx context.Context, pos model.StockPosition) error {
	if err := c.Broker.ConvertStopToMarket(pos.StopOrderID, pos.Symbol, pos.Direction, pos.Shares); err != nil {
		return fmt.Errorf("converting stop %d (%s) to market: %w", pos.StopOrderID, pos.Symbol, err)
	}
	if err := c.Store.Stocks().SetExitIntent(ctx, pos.ID, model.ExitStagnant); err != nil {
		return fmt.Errorf("recording stagnation exit for %d (%s): %w", pos.ID, pos.Symbol, err)
	}
	logger.Infof("position %d %s stagnant, stop %d converted to market", pos.ID, pos.Symbol, pos.StopOrderID)
	c.notifyText(fmt.Sprintf("TIME EXIT %s %s %d shares: stagnant, exiting at market",
		pos.Symbol, pos.Direction, pos.Shares))
	return nil
}
