package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"orbit/internal/events"
	"orbit/internal/logger"
)

// DailyPnLReport summarizes the day's closed stock positions after the
// end-of-day exit and sends the summary through the notifier.
type DailyPnLReport struct {
	Deps
}

func NewDailyPnLReport(deps Deps) *DailyPnLReport {
	return &DailyPnLReport{Deps: deps}
}

func (c *DailyPnLReport) Name() string { return "daily_pnl_report" }

func (c *DailyPnLReport) Execute(ev events.Event) error {
	loc := c.Cfg.Trading.Location()
	now := c.now().In(loc)
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	closed, err := c.Store.Stocks().ListClosedBetween(context.Background(), dayStart.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("daily report: listing closed positions: %w", err)
	}
	if len(closed) == 0 {
		c.notifyText(fmt.Sprintf("DAILY REPORT %s: no closed positions", now.Format("2006-01-02")))
		return nil
	}

	total := decimal.Zero
	wins := 0
	var b strings.Builder
	fmt.Fprintf(&b, "DAILY REPORT %s\n", now.Format("2006-01-02"))
	for _, pos := range closed {
		pnl := decimal.NewFromFloat(pos.RealizedPnL)
		total = total.Add(pnl)
		if pos.RealizedPnL > 0 {
			wins++
		}
		fmt.Fprintf(&b, "%s %s %d: %.2f -> %.2f  pnl=%s (%s)\n",
			pos.Symbol, pos.Direction, pos.Shares,
			pos.EntryPrice, pos.ExitPrice, pnl.StringFixed(2), pos.ExitReason)
	}
	fmt.Fprintf(&b, "trades=%d wins=%d total=%s", len(closed), wins, total.StringFixed(2))

	logger.Infof("daily report: %d trades, total pnl %s", len(closed), total.StringFixed(2))
	c.notifyText(b.String())
	return nil
}
