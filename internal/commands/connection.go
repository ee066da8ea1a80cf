package commands

import (
	"context"
	"fmt"

	"orbit/internal/events"
	"orbit/internal/logger"
)

// ConnectionCheck logs the connection and market-hours state each cycle
// and attempts one reconnect when the gateway has dropped.
type ConnectionCheck struct {
	Deps
}

func NewConnectionCheck(deps Deps) *ConnectionCheck {
	return &ConnectionCheck{Deps: deps}
}

func (c *ConnectionCheck) Name() string { return "connection_check" }

func (c *ConnectionCheck) Execute(ev events.Event) error {
	inHours := withinMarketHours(c.Cfg.Trading, c.now())
	if c.Broker.Connected() {
		logger.Debugf("connection check: connected, market_open=%v", inHours)
		return nil
	}
	logger.Warnf("connection check: gateway disconnected, attempting reconnect")
	if err := c.Broker.Reconnect(context.Background()); err != nil {
		c.notifyText(fmt.Sprintf("RECONNECT FAILED: %v", err))
		return fmt.Errorf("reconnect failed: %w", err)
	}
	logger.Infof("connection check: reconnected")
	c.notifyText("gateway reconnected")
	return nil
}
