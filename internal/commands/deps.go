package commands

import (
	"context"
	"time"

	"orbit/internal/atr"
	"orbit/internal/config"
	"orbit/internal/gateway"
	"orbit/internal/notify"
	"orbit/internal/store"
)

// Broker is the slice of the gateway the lifecycle commands consume.
// Narrowed to an interface so tests can run against a hand-rolled fake.
type Broker interface {
	Connected() bool
	Reconnect(ctx context.Context) error

	StockQuote(symbol string) (*gateway.Quote, error)
	StockPrice(symbol string) (float64, error)
	OptionMid(c gateway.OptionContract) (float64, error)
	OptionChain(symbol string) (*gateway.ChainParams, error)
	FillsByOrderID(orderID int64) (*gateway.FillSummary, error)
	AccountBalance(tag, currency string) (float64, error)
	PortfolioPositions() ([]gateway.PortfolioItem, error)

	PlaceStockEntryWithStop(symbol, direction string, shares int64, limitPrice, stopPrice float64) (int64, int64, error)
	ModifyStopOrder(orderID int64, symbol, direction string, shares int64, stopPrice float64) error
	ConvertStopToMarket(orderID int64, symbol, direction string, shares int64) error
	CancelOrder(orderID int64) error
	MarginPerShare(symbol string) (float64, error)
}

// Deps is the dependency bundle shared by every lifecycle command.
type Deps struct {
	Broker   Broker
	Store    store.Store
	ATR      *atr.Service
	Margins  *MarginCache
	Notifier notify.TextNotifier
	Cfg      *config.Config
	NowFn    func() time.Time
}

func (d Deps) now() time.Time {
	if d.NowFn != nil {
		return d.NowFn()
	}
	return time.Now()
}

func (d Deps) notifyText(text string) {
	if d.Notifier == nil {
		return
	}
	// Delivery is best effort; failures are logged by the notifier path.
	_ = d.Notifier.SendText(text)
}
