package commands

import (
	"time"

	"orbit/internal/config"
)

// withinMarketHours reports whether now falls inside the configured
// regular trading session.
func withinMarketHours(cfg config.TradingConfig, now time.Time) bool {
	loc := cfg.Location()
	local := now.In(loc)
	if local.Weekday() == time.Saturday || local.Weekday() == time.Sunday {
		return false
	}
	open, err := time.Parse("15:04", cfg.MarketOpen)
	if err != nil {
		return false
	}
	closeAt, err := time.Parse("15:04", cfg.MarketClose)
	if err != nil {
		return false
	}
	minutes := local.Hour()*60 + local.Minute()
	openMin := open.Hour()*60 + open.Minute()
	closeMin := closeAt.Hour()*60 + closeAt.Minute()
	return minutes >= openMin && minutes < closeMin
}
