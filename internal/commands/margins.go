package commands

import (
	"fmt"
	"strings"

	"orbit/internal/events"
	"orbit/internal/logger"
)

// CalculateStockMargins refreshes the per-share margin cache for the
// configured watchlist via what-if probes. Symbols the broker prices at
// a non-positive or implausibly low margin get a synthetic value: the
// mean of the real margins, or a fixed default when no probe succeeded.
type CalculateStockMargins struct {
	Deps
}

func NewCalculateStockMargins(deps Deps) *CalculateStockMargins {
	return &CalculateStockMargins{Deps: deps}
}

func (c *CalculateStockMargins) Name() string { return "calculate_stock_margins" }

func (c *CalculateStockMargins) Execute(ev events.Event) error {
	symbols := c.Cfg.Trading.Symbols
	if len(symbols) == 0 {
		logger.Infof("margin calc: no symbols configured, nothing to do")
		return nil
	}

	real := make(map[string]float64)
	var synthetic []string
	for _, raw := range symbols {
		symbol := strings.ToUpper(strings.TrimSpace(raw))
		if symbol == "" {
			continue
		}
		margin, err := c.Broker.MarginPerShare(symbol)
		if err != nil {
			logger.Warnf("margin probe for %s failed: %v", symbol, err)
			synthetic = append(synthetic, symbol)
			continue
		}
		if margin < c.Cfg.Trading.MinMarginPerShare {
			logger.Warnf("margin probe for %s returned %.2f, below floor %.2f, treating as synthetic",
				symbol, margin, c.Cfg.Trading.MinMarginPerShare)
			synthetic = append(synthetic, symbol)
			continue
		}
		real[symbol] = margin
	}

	fallback := c.syntheticMargin(real)
	for symbol, margin := range real {
		c.Margins.Set(symbol, margin)
	}
	for _, symbol := range synthetic {
		c.Margins.Set(symbol, fallback)
	}
	logger.Infof("margin calc: %d real, %d synthetic (%.2f)", len(real), len(synthetic), fallback)
	if len(real) == 0 && len(synthetic) > 0 {
		return fmt.Errorf("margin calc: every probe failed, %d symbols on fallback %.2f", len(synthetic), fallback)
	}
	return nil
}

// syntheticMargin is the mean of the real margins, or the configured
// default when none succeeded.
func (c *CalculateStockMargins) syntheticMargin(real map[string]float64) float64 {
	if len(real) == 0 {
		return c.Cfg.Trading.SyntheticMarginDef
	}
	var sum float64
	for _, v := range real {
		sum += v
	}
	return sum / float64(len(real))
}
