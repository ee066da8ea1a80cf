package commands

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"orbit/internal/events"
	"orbit/internal/gateway"
	"orbit/internal/logger"
	"orbit/internal/store/model"
)

// ManageEquityHoldings tracks long-dated share positions carried as
// collateral for option overlays: it confirms purchase fills, detects
// assignment by comparing recorded shares against the broker portfolio,
// and closes or decrements holdings accordingly.
type ManageEquityHoldings struct {
	Deps
}

func NewManageEquityHoldings(deps Deps) *ManageEquityHoldings {
	return &ManageEquityHoldings{Deps: deps}
}

func (c *ManageEquityHoldings) Name() string { return "manage_equity_holdings" }

func (c *ManageEquityHoldings) Execute(ev events.Event) error {
	ctx := context.Background()
	var errs []error
	if err := c.openFilledPurchases(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := c.detectAssignments(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (c *ManageEquityHoldings) openFilledPurchases(ctx context.Context) error {
	pending, err := c.Store.Holdings().ListPending(ctx)
	if err != nil {
		return fmt.Errorf("listing pending holdings: %w", err)
	}
	var errs []error
	for _, h := range pending {
		fill, err := c.Broker.FillsByOrderID(h.PurchaseOrderID)
		if err != nil {
			logger.Warnf("fill poll for purchase order %d (%s) failed: %v", h.PurchaseOrderID, h.Symbol, err)
			continue
		}
		if fill == nil {
			continue
		}
		if fill.AvgPrice <= 0 {
			errs = append(errs, fmt.Errorf("purchase order %d (%s) filled with no usable price", h.PurchaseOrderID, h.Symbol))
			continue
		}
		if err := c.Store.Holdings().MarkOpen(ctx, h.ID, fill.AvgPrice, fill.LastTime.Unix()); err != nil {
			errs = append(errs, fmt.Errorf("opening holding %s: %w", h.Symbol, err))
			continue
		}
		logger.Infof("holding %s opened: %d shares at %.2f", h.Symbol, h.Shares, fill.AvgPrice)
		c.notifyText(fmt.Sprintf("HOLDING OPENED %s %d shares @ %.2f", h.Symbol, h.Shares, fill.AvgPrice))
	}
	return errors.Join(errs...)
}

// detectAssignments compares each open holding's recorded share count
// with the broker-side portfolio. Shares gone entirely means the covered
// calls were assigned; a partial shortfall decrements the holding in
// place.
func (c *ManageEquityHoldings) detectAssignments(ctx context.Context) error {
	open, err := c.Store.Holdings().ListOpen(ctx)
	if err != nil {
		return fmt.Errorf("listing open holdings: %w", err)
	}
	if len(open) == 0 {
		return nil
	}
	portfolio, err := c.Broker.PortfolioPositions()
	if err != nil {
		return fmt.Errorf("portfolio query failed: %w", err)
	}
	byStock := make(map[string]int64)
	for _, item := range portfolio {
		if strings.EqualFold(item.SecType, "STK") {
			byStock[strings.ToUpper(item.Symbol)] = item.Shares
		}
	}

	var errs []error
	for _, h := range open {
		brokerShares := byStock[strings.ToUpper(h.Symbol)]
		switch {
		case brokerShares >= h.Shares:
			// All shares accounted for.
		case brokerShares <= 0:
			if err := c.closeAssigned(ctx, h); err != nil {
				errs = append(errs, err)
			}
		default:
			if err := c.Store.Holdings().UpdateShares(ctx, h.ID, brokerShares); err != nil {
				errs = append(errs, fmt.Errorf("decrementing holding %s: %w", h.Symbol, err))
				continue
			}
			logger.Warnf("holding %s partially assigned: %d -> %d shares", h.Symbol, h.Shares, brokerShares)
			c.notifyText(fmt.Sprintf("PARTIAL ASSIGNMENT %s: %d -> %d shares", h.Symbol, h.Shares, brokerShares))
		}
	}
	return errors.Join(errs...)
}

func (c *ManageEquityHoldings) closeAssigned(ctx context.Context, h model.EquityHolding) error {
	assignPrice := c.assignmentPrice(ctx, h)
	basis, err := c.effectiveCostBasis(ctx, h)
	if err != nil {
		logger.Warnf("effective cost basis for %s unavailable, using original: %v", h.Symbol, err)
		basis = h.CostBasis
	}
	pnl := holdingPnL(basis, assignPrice, h.Shares)
	if err := c.Store.Holdings().Close(ctx, h.ID, assignPrice, pnl, c.now().Unix(), model.ExitAssigned); err != nil {
		return fmt.Errorf("closing assigned holding %s: %w", h.Symbol, err)
	}
	logger.Infof("holding %s assigned: %d shares at %.2f, pnl=%.2f", h.Symbol, h.Shares, assignPrice, pnl)
	c.notifyText(fmt.Sprintf("ASSIGNED %s %d shares @ %.2f pnl=%.2f", h.Symbol, h.Shares, assignPrice, pnl))
	return nil
}

// assignmentPrice is the highest short-call strike of the most recent
// spread linked to the holding. Shares called away trade at that strike,
// not at the market price. Falls back to the original cost basis when no
// linked short call exists, which indicates a tracking gap.
func (c *ManageEquityHoldings) assignmentPrice(ctx context.Context, h model.EquityHolding) float64 {
	spreads, err := c.Store.Options().ListByHolding(ctx, h.ID)
	if err != nil {
		logger.Warnf("linked spreads for %s unavailable: %v", h.Symbol, err)
		spreads = nil
	}
	for _, spread := range spreads {
		var strike float64
		for _, leg := range spread.Legs {
			if strings.EqualFold(leg.Side, "SELL") && strings.EqualFold(leg.Right, "C") && leg.Strike > strike {
				strike = leg.Strike
			}
		}
		if strike > 0 {
			return strike
		}
	}
	logger.Warnf("holding %s assigned with no linked short call, falling back to cost basis %.2f", h.Symbol, h.CostBasis)
	c.notifyText(fmt.Sprintf("DATA WARNING %s: assignment price unknown, using cost basis %.2f", h.Symbol, h.CostBasis))
	return h.CostBasis
}

// effectiveCostBasis reduces the original basis by the per-share option
// P&L of every linked spread: realized for CLOSED spreads, live mark for
// OPEN ones.
func (c *ManageEquityHoldings) effectiveCostBasis(ctx context.Context, h model.EquityHolding) (float64, error) {
	if h.Shares <= 0 {
		return h.CostBasis, nil
	}
	spreads, err := c.Store.Options().ListByHolding(ctx, h.ID)
	if err != nil {
		return 0, err
	}
	var totalPnL float64
	for _, spread := range spreads {
		switch spread.Status {
		case model.StatusClosed:
			totalPnL += spread.RealizedPnL
		case model.StatusOpen:
			mark, err := c.spreadMark(spread)
			if err != nil {
				return 0, fmt.Errorf("marking spread %d: %w", spread.ID, err)
			}
			totalPnL += spreadPnL(spread.NetCredit, mark, spread.Contracts)
		}
	}
	return h.CostBasis - totalPnL/float64(h.Shares), nil
}

// spreadMark prices a spread off live leg midpoints: for a credit
// spread the cost to buy it back, for a debit spread the value received
// selling it.
func (c *ManageEquityHoldings) spreadMark(spread model.OptionPosition) (float64, error) {
	var sell, buy float64
	for _, leg := range spread.Legs {
		mid, err := c.Broker.OptionMid(gateway.OptionContract{
			Symbol:     spread.Symbol,
			Expiration: leg.Expiration,
			Strike:     leg.Strike,
			Right:      leg.Right,
		})
		if err != nil {
			return 0, err
		}
		ratio := float64(leg.Ratio)
		if ratio <= 0 {
			ratio = 1
		}
		if strings.EqualFold(leg.Side, "SELL") {
			sell += mid * ratio
		} else {
			buy += mid * ratio
		}
	}
	if spread.IsCreditSpread() {
		return sell - buy, nil
	}
	return buy - sell, nil
}
