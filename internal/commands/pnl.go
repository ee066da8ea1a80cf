package commands

import (
	"github.com/shopspring/decimal"

	"orbit/internal/store/model"
)

// Money math goes through decimal so realized P&L never picks up float
// artifacts on the way into the database.

const contractMultiplier = 100

// stockPnL is (exit − entry) × shares for LONG, inverted for SHORT.
func stockPnL(direction string, entryPrice, exitPrice float64, shares int64) float64 {
	entry := decimal.NewFromFloat(entryPrice)
	exit := decimal.NewFromFloat(exitPrice)
	qty := decimal.NewFromInt(shares)
	pnl := exit.Sub(entry).Mul(qty)
	if direction == model.DirectionShort {
		pnl = pnl.Neg()
	}
	f, _ := pnl.Float64()
	return f
}

// spreadPnL computes realized P&L for a multi-leg option round trip.
// NetCredit is per spread and pre-multiplier: positive means a credit
// spread, negative a debit spread.
func spreadPnL(netCredit, exitValue float64, contracts int64) float64 {
	credit := decimal.NewFromFloat(netCredit)
	exit := decimal.NewFromFloat(exitValue)
	mult := decimal.NewFromInt(contractMultiplier * max64(contracts, 1))

	var perSpread decimal.Decimal
	if netCredit > 0 {
		perSpread = credit.Sub(exit)
	} else {
		perSpread = exit.Sub(credit.Abs())
	}
	f, _ := perSpread.Mul(mult).Float64()
	return f
}

// expiredWorthlessPnL values an expired spread at zero: a credit spread
// keeps its premium, a debit spread loses it.
func expiredWorthlessPnL(netCredit float64, contracts int64) float64 {
	return spreadPnL(netCredit, 0, contracts)
}

// holdingPnL is (exit − cost basis) × shares for a long equity holding.
func holdingPnL(costBasis, exitPrice float64, shares int64) float64 {
	basis := decimal.NewFromFloat(costBasis)
	exit := decimal.NewFromFloat(exitPrice)
	f, _ := exit.Sub(basis).Mul(decimal.NewFromInt(shares)).Float64()
	return f
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
