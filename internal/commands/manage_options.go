package commands

import (
	"context"
	"errors"
	"fmt"

	"orbit/internal/events"
	"orbit/internal/logger"
	"orbit/internal/store/model"
)

// ManageOptionPositions drives the option spread lifecycle: combo fills
// open PENDING spreads at their recorded net credit/debit, closing-order
// fills realize the round trip, and spreads past expiration with no
// closing order expire worthless.
type ManageOptionPositions struct {
	Deps
}

func NewManageOptionPositions(deps Deps) *ManageOptionPositions {
	return &ManageOptionPositions{Deps: deps}
}

func (c *ManageOptionPositions) Name() string { return "manage_option_positions" }

func (c *ManageOptionPositions) Execute(ev events.Event) error {
	ctx := context.Background()
	var errs []error
	if err := c.openFilledCombos(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.closeFilledClosings(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.expireWorthless(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// openFilledCombos transitions PENDING spreads whose combo parent order
// has filled. The recorded net credit/debit is authoritative: per-leg
// fill averages do not reconstruct a combo price reliably.
func (c *ManageOptionPositions) openFilledCombos(ctx context.Context) error {
	pending, err := c.Store.Options().ListPending(ctx)
	if err != nil {
		return fmt.Errorf("listing pending option positions: %w", err)
	}
	var errs []error
	for _, pos := range pending {
		fill, err := c.Broker.FillsByOrderID(pos.ID)
		if err != nil {
			logger.Warnf("fill poll for combo order %d (%s) failed: %v", pos.ID, pos.Symbol, err)
			continue
		}
		if fill == nil {
			continue
		}
		if err := c.Store.Options().MarkOpen(ctx, pos.ID, pos.NetCredit, fill.LastTime.Unix()); err != nil {
			errs = append(errs, fmt.Errorf("opening spread %d (%s): %w", pos.ID, pos.Symbol, err))
			continue
		}
		logger.Infof("spread %d %s %s opened, net credit %.2f", pos.ID, pos.Symbol, pos.Strategy, pos.NetCredit)
		c.notifyText(fmt.Sprintf("SPREAD OPENED %s %s x%d net=%.2f (order %d)",
			pos.Symbol, pos.Strategy, pos.Contracts, pos.NetCredit, pos.ID))
	}
	return errors.Join(errs...)
}

// closeFilledClosings realizes spreads whose attached closing order has
// filled. P&L follows the credit/debit convention with the fixed 100
// contract multiplier.
func (c *ManageOptionPositions) closeFilledClosings(ctx context.Context) error {
	open, err := c.Store.Options().ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("listing open option positions: %w", err)
	}
	var errs []error
	for _, pos := range open {
		if pos.ClosingOrderID == nil {
			continue
		}
		fill, err := c.Broker.FillsByOrderID(*pos.ClosingOrderID)
		if err != nil {
			logger.Warnf("fill poll for closing order %d (%s) failed: %v", *pos.ClosingOrderID, pos.Symbol, err)
			continue
		}
		if fill == nil {
			continue
		}
		if fill.AvgPrice < 0 {
			errs = append(errs, fmt.Errorf("closing order %d (%s) filled with negative price", *pos.ClosingOrderID, pos.Symbol))
			continue
		}
		reason := pos.ExitReason
		if reason == "" {
			reason = model.ExitManual
		}
		pnl := spreadPnL(pos.NetCredit, fill.AvgPrice, pos.Contracts)
		if err := c.Store.Options().Close(ctx, pos.ID, fill.AvgPrice, pnl, fill.LastTime.Unix(), reason); err != nil {
			errs = append(errs, fmt.Errorf("closing spread %d (%s): %w", pos.ID, pos.Symbol, err))
			continue
		}
		logger.Infof("spread %d %s closed at %.2f pnl=%.2f", pos.ID, pos.Symbol, fill.AvgPrice, pnl)
		c.notifyText(fmt.Sprintf("SPREAD CLOSED %s %s exit=%.2f pnl=%.2f", pos.Symbol, pos.Strategy, fill.AvgPrice, pnl))
	}
	return errors.Join(errs...)
}

// expireWorthless closes spreads whose recorded expiration has passed
// with no closing order attached: credit spreads keep the premium,
// debit spreads lose it.
func (c *ManageOptionPositions) expireWorthless(ctx context.Context) error {
	open, err := c.Store.Options().ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("listing open option positions: %w", err)
	}
	loc := c.Cfg.Trading.Location()
	today := c.now().In(loc)
	var errs []error
	for _, pos := range open {
		if pos.ClosingOrderID != nil {
			continue
		}
		if _, err := pos.ExpirationDate(loc); err != nil {
			errs = append(errs, fmt.Errorf("spread %d (%s) has invalid expiration %q", pos.ID, pos.Symbol, pos.Expiration))
			continue
		}
		// Worthless only once the expiration day has fully passed.
		if today.Format("20060102") <= pos.Expiration {
			continue
		}
		pnl := expiredWorthlessPnL(pos.NetCredit, pos.Contracts)
		if err := c.Store.Options().Close(ctx, pos.ID, 0, pnl, c.now().Unix(), model.ExitExpiredWorthless); err != nil {
			errs = append(errs, fmt.Errorf("expiring spread %d (%s): %w", pos.ID, pos.Symbol, err))
			continue
		}
		logger.Infof("spread %d %s expired worthless, pnl=%.2f", pos.ID, pos.Symbol, pnl)
		c.notifyText(fmt.Sprintf("SPREAD EXPIRED %s %s pnl=%.2f", pos.Symbol, pos.Strategy, pnl))
	}
	return errors.Join(errs...)
}
