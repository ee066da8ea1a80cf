package commands

import (
	"context"
	"errors"
	"fmt"

	"orbit/internal/events"
	"orbit/internal/logger"
	"orbit/internal/store/model"
)

// EndOfDayExit unconditionally converts every open stock position's stop
// to a market order at the daily cutoff, profitable or not. Status stays
// OPEN; the fill poll writes CLOSED with the recorded EOD reason.
type EndOfDayExit struct {
	Deps
}

func NewEndOfDayExit(deps Deps) *EndOfDayExit {
	return &EndOfDayExit{Deps: deps}
}

func (c *EndOfDayExit) Name() string { return "end_of_day_exit" }

func (c *EndOfDayExit) Execute(ev events.Event) error {
	ctx := context.Background()
	open, err := c.Store.Stocks().ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("listing open stock positions: %w", err)
	}
	if len(open) == 0 {
		return nil
	}
	logger.Infof("end of day: exiting %d open positions", len(open))
	var errs []error
	for _, pos := range open {
		if pos.ExitReason == model.ExitEndOfDay {
			continue
		}
		if err := c.Broker.ConvertStopToMarket(pos.StopOrderID, pos.Symbol, pos.Direction, pos.Shares); err != nil {
			errs = append(errs, fmt.Errorf("converting stop %d (%s) to market: %w", pos.StopOrderID, pos.Symbol, err))
			continue
		}
		if err := c.Store.Stocks().SetExitIntent(ctx, pos.ID, model.ExitEndOfDay); err != nil {
			errs = append(errs, fmt.Errorf("recording EOD exit for %d (%s): %w", pos.ID, pos.Symbol, err))
			continue
		}
		logger.Infof("EOD exit: position %d %s stop %d converted to market", pos.ID, pos.Symbol, pos.StopOrderID)
	}
	c.notifyText(fmt.Sprintf("EOD EXIT: %d open positions sent to market", len(open)))
	return errors.Join(errs...)
}
