package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"orbit/internal/atr"
	"orbit/internal/config"
	"orbit/internal/gateway"
	"orbit/internal/store/gormstore"
	"orbit/internal/store/model"
)

// testNow is a Wednesday well inside the always-open test session.
var testNow = time.Date(2026, 8, 26, 15, 0, 0, 0, time.UTC)

type placedBracket struct {
	Symbol     string
	Direction  string
	Shares     int64
	LimitPrice float64
	StopPrice  float64
}

type stopModification struct {
	OrderID   int64
	StopPrice float64
}

// fakeBroker is a programmable in-memory Broker (plus atr.BarSource).
type fakeBroker struct {
	mu sync.Mutex

	connected    bool
	reconnectErr error
	reconnects   int

	prices    map[string]float64
	priceErrs map[string]error

	optionMids map[string]float64

	fills    map[int64]*gateway.FillSummary
	fillErrs map[int64]error

	portfolio    []gateway.PortfolioItem
	portfolioErr error

	margins    map[string]float64
	marginErrs map[string]error

	bars []gateway.Bar

	nextEntryID int64
	nextStopID  int64
	placeErr    error
	placed      []placedBracket

	modifyErr error
	modified  []stopModification

	convertErr error
	converted  []int64

	cancelled []int64
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		connected:   true,
		prices:      make(map[string]float64),
		priceErrs:   make(map[string]error),
		optionMids:  make(map[string]float64),
		fills:       make(map[int64]*gateway.FillSummary),
		fillErrs:    make(map[int64]error),
		margins:     make(map[string]float64),
		marginErrs:  make(map[string]error),
		nextEntryID: 100,
		nextStopID:  101,
	}
}

func midKey(c gateway.OptionContract) string {
	return fmt.Sprintf("%s|%s|%s|%.2f", c.Symbol, c.Expiration, c.Right, c.Strike)
}

func (b *fakeBroker) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *fakeBroker) Reconnect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.reconnects++
	if b.reconnectErr != nil {
		return b.reconnectErr
	}
	b.connected = true
	return nil
}

func (b *fakeBroker) StockQuote(symbol string) (*gateway.Quote, error) {
	price, err := b.StockPrice(symbol)
	if err != nil {
		return nil, err
	}
	return &gateway.Quote{Symbol: symbol, Last: price}, nil
}

func (b *fakeBroker) StockPrice(symbol string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.priceErrs[symbol]; err != nil {
		return 0, err
	}
	price, ok := b.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return price, nil
}

func (b *fakeBroker) OptionMid(c gateway.OptionContract) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	mid, ok := b.optionMids[midKey(c)]
	if !ok {
		return 0, fmt.Errorf("no mid for %s", midKey(c))
	}
	return mid, nil
}

func (b *fakeBroker) OptionChain(symbol string) (*gateway.ChainParams, error) {
	return &gateway.ChainParams{Symbol: symbol}, nil
}

func (b *fakeBroker) FillsByOrderID(orderID int64) (*gateway.FillSummary, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.fillErrs[orderID]; err != nil {
		return nil, err
	}
	return b.fills[orderID], nil
}

func (b *fakeBroker) AccountBalance(tag, currency string) (float64, error) {
	return 100000, nil
}

func (b *fakeBroker) PortfolioPositions() ([]gateway.PortfolioItem, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.portfolioErr != nil {
		return nil, b.portfolioErr
	}
	return b.portfolio, nil
}

func (b *fakeBroker) PlaceStockEntryWithStop(symbol, direction string, shares int64, limitPrice, stopPrice float64) (int64, int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.placeErr != nil {
		return 0, 0, b.placeErr
	}
	b.placed = append(b.placed, placedBracket{symbol, direction, shares, limitPrice, stopPrice})
	return b.nextEntryID, b.nextStopID, nil
}

func (b *fakeBroker) ModifyStopOrder(orderID int64, symbol, direction string, shares int64, stopPrice float64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.modifyErr != nil {
		return b.modifyErr
	}
	b.modified = append(b.modified, stopModification{orderID, stopPrice})
	return nil
}

func (b *fakeBroker) ConvertStopToMarket(orderID int64, symbol, direction string, shares int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.convertErr != nil {
		return b.convertErr
	}
	b.converted = append(b.converted, orderID)
	return nil
}

func (b *fakeBroker) CancelOrder(orderID int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.cancelled = append(b.cancelled, orderID)
	return nil
}

func (b *fakeBroker) MarginPerShare(symbol string) (float64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.marginErrs[symbol]; err != nil {
		return 0, err
	}
	return b.margins[symbol], nil
}

func (b *fakeBroker) DailyBars(symbol string, days int) ([]gateway.Bar, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.bars, nil
}

type textCapture struct {
	mu       sync.Mutex
	messages []string
}

func (n *textCapture) SendText(text string) error {
	n.mu.Lock()
	n.messages = append(n.messages, text)
	n.mu.Unlock()
	return nil
}

func (n *textCapture) all() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.messages))
	copy(out, n.messages)
	return out
}

func (n *textCapture) containsSubstring(sub string) bool {
	for _, m := range n.all() {
		if strings.Contains(m, sub) {
			return true
		}
	}
	return false
}

type testHarness struct {
	deps     Deps
	broker   *fakeBroker
	store    *gormstore.GormStore
	notifier *textCapture
	now      time.Time
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()
	s, err := gormstore.New(filepath.Join(t.TempDir(), "orbit_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	broker := newFakeBroker()
	notifier := &textCapture{}
	cfg := &config.Config{
		Trading: config.TradingConfig{
			Symbols:            []string{"AAPL", "MSFT"},
			MaxPositions:       5,
			ATRPeriod:          14,
			StopATRMultiplier:  0.10,
			StagnationMinutes:  60,
			StagnationMovePct:  0.25,
			MinMarginPerShare:  10.0,
			SyntheticMarginDef: 30.0,
			Timezone:           "UTC",
			MarketOpen:         "00:00",
			MarketClose:        "23:59",
			EODExitTime:        "23:50",
		},
	}
	h := &testHarness{broker: broker, store: s, notifier: notifier, now: testNow}
	atrSvc := atr.NewService(broker, time.UTC)
	atrSvc.SetNowFunc(func() time.Time { return h.now })
	h.deps = Deps{
		Broker:   broker,
		Store:    s,
		ATR:      atrSvc,
		Margins:  NewMarginCache(),
		Notifier: notifier,
		Cfg:      cfg,
		NowFn:    func() time.Time { return h.now },
	}
	return h
}

// seedStock inserts a stock position and optionally walks it to OPEN.
func (h *testHarness) seedStock(t *testing.T, pos model.StockPosition, open bool, entryPrice float64, entryAt time.Time) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.store.Stocks().Create(ctx, &pos))
	if open {
		require.NoError(t, h.store.Stocks().MarkOpen(ctx, pos.ID, entryPrice, entryAt.Unix(), nil))
	}
}

func fillAt(orderID int64, shares int64, price float64, at time.Time) *gateway.FillSummary {
	return &gateway.FillSummary{
		OrderID: orderID, Shares: shares, AvgPrice: price,
		FirstTime: at, LastTime: at,
	}
}
