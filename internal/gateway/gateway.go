package gateway

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"orbit/internal/config"
	"orbit/internal/events"
	"orbit/internal/logger"

	"github.com/gorilla/websocket"
	"github.com/tidwall/gjson"
)

// Gateway is the synchronous facade over the broker bridge's
// asynchronous websocket protocol. One reader goroutine owns the socket
// and demultiplexes inbound frames into the correlation tables; callers
// block on their own request's completion signal up to the configured
// timeout.
type Gateway struct {
	cfg    config.BrokerConfig
	bus    *events.Subject
	dialer *websocket.Dialer

	writeMu sync.Mutex
	conn    *websocket.Conn

	table *requestTable
	acks  *ackTable

	connected atomic.Bool

	orderMu  sync.Mutex
	orderSeq int64
}

func New(cfg config.BrokerConfig, bus *events.Subject) *Gateway {
	return &Gateway{
		cfg:    cfg,
		bus:    bus,
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		table:  newRequestTable(),
		acks:   newAckTable(),
	}
}

func (g *Gateway) Connected() bool {
	return g.connected.Load()
}

// Connect dials the bridge, starts the reader goroutine and seeds the
// local order id sequence from the broker's next valid id.
func (g *Gateway) Connect(ctx context.Context) error {
	url := fmt.Sprintf("%s?clientId=%d", g.cfg.WSURL, g.cfg.ClientID)
	conn, _, err := g.dialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("gateway: dial %s failed: %w", g.cfg.WSURL, err)
	}
	g.writeMu.Lock()
	g.conn = conn
	g.writeMu.Unlock()
	g.connected.Store(true)

	go g.readLoop(conn)

	seed, err := g.NextOrderID()
	if err != nil {
		g.Close()
		return fmt.Errorf("gateway: seeding order ids failed: %w", err)
	}
	g.orderMu.Lock()
	g.orderSeq = seed
	g.orderMu.Unlock()

	if g.bus != nil {
		g.bus.Notify(events.Event{Kind: events.KindConnected, At: time.Now()})
	}
	logger.Infof("gateway connected to %s, next order id %d", g.cfg.WSURL, seed)
	return nil
}

func (g *Gateway) Close() {
	g.writeMu.Lock()
	conn := g.conn
	g.conn = nil
	g.writeMu.Unlock()
	g.connected.Store(false)
	if conn != nil {
		conn.Close()
	}
}

// Reconnect tears down the current socket and dials again.
func (g *Gateway) Reconnect(ctx context.Context) error {
	g.Close()
	return g.Connect(ctx)
}

// readLoop is the single reader goroutine. It exits on the first read
// error, failing every outstanding request and publishing a disconnect
// event.
func (g *Gateway) readLoop(conn *websocket.Conn) {
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			g.connected.Store(false)
			lost := fmt.Errorf("gateway: connection lost: %w", err)
			g.table.failAll(lost)
			g.acks.failAll(lost)
			if g.bus != nil {
				g.bus.Notify(events.Event{Kind: events.KindDisconnected, At: time.Now(), Data: err.Error()})
			}
			logger.Warnf("gateway reader stopped: %v", err)
			return
		}
		g.dispatch(msg)
	}
}

func (g *Gateway) dispatch(frame []byte) {
	typ := gjson.GetBytes(frame, "type").String()
	id := gjson.GetBytes(frame, "id").Int()

	switch typ {
	case frameError:
		g.handleErrorFrame(frame, id)
	case frameAck:
		g.acks.deliver(gjson.GetBytes(frame, "orderId").Int(), frame)
	case frameTickEnd, frameBarEnd, frameFillEnd, frameChainEnd, framePositionEnd:
		g.table.complete(id)
	case frameBalance, frameNextID:
		g.table.append(id, frame)
		g.table.complete(id)
	case frameTick, frameBar, frameFill, frameChain, framePosition:
		g.table.append(id, frame)
	default:
		logger.Debugf("gateway: unhandled frame type %q", typ)
	}
}

// handleErrorFrame classifies broker info/error codes. Benign codes are
// connectivity chatter; disconnect/connect codes flip the connection
// state and publish bus events; anything else tied to a pending request
// fails that request only.
func (g *Gateway) handleErrorFrame(frame []byte, id int64) {
	code := gjson.GetBytes(frame, "code").Int()
	msg := gjson.GetBytes(frame, "msg").String()

	switch {
	case disconnectCodes[code]:
		if g.connected.Swap(false) && g.bus != nil {
			g.bus.Notify(events.Event{Kind: events.KindDisconnected, At: time.Now(), Data: msg})
		}
		logger.Warnf("broker reports disconnect (code %d): %s", code, msg)
		return
	case connectCodes[code]:
		if !g.connected.Swap(true) && g.bus != nil {
			g.bus.Notify(events.Event{Kind: events.KindConnected, At: time.Now(), Data: msg})
		}
		if benignCodes[code] {
			logger.Debugf("broker info (code %d): %s", code, msg)
			return
		}
		logger.Infof("broker reports connect (code %d): %s", code, msg)
		return
	case benignCodes[code]:
		logger.Debugf("broker info (code %d): %s", code, msg)
		return
	}
	if id > 0 {
		g.table.fail(id, fmt.Errorf("broker error %d: %s", code, msg))
		g.acks.fail(gjson.GetBytes(frame, "orderId").Int(), fmt.Errorf("broker error %d: %s", code, msg))
		return
	}
	logger.Warnf("broker error (code %d): %s", code, msg)
}

func (g *Gateway) send(op string, params map[string]any) (*pending, error) {
	if !g.connected.Load() {
		return nil, fmt.Errorf("gateway: not connected")
	}
	p := g.table.register(op)
	req := request{Op: op, ID: p.id, Params: params}

	g.writeMu.Lock()
	conn := g.conn
	var err error
	if conn == nil {
		err = fmt.Errorf("gateway: not connected")
	} else {
		err = conn.WriteJSON(req)
	}
	g.writeMu.Unlock()

	if err != nil {
		g.table.remove(p.id)
		return nil, fmt.Errorf("gateway: sending %s failed: %w", op, err)
	}
	return p, nil
}

// roundTrip issues one request and blocks until its terminal frame or
// the timeout. A timed-out request's slot is removed so any late frames
// are discarded.
func (g *Gateway) roundTrip(op string, params map[string]any) ([][]byte, error) {
	p, err := g.send(op, params)
	if err != nil {
		return nil, err
	}
	return g.table.await(p, g.cfg.RequestTimeout())
}

// nextLocalOrderID hands out order ids from the locally held sequence.
func (g *Gateway) nextLocalOrderID() int64 {
	g.orderMu.Lock()
	defer g.orderMu.Unlock()
	id := g.orderSeq
	g.orderSeq++
	return id
}

// NextOrderID asks the bridge for the broker's next valid order id.
func (g *Gateway) NextOrderID() (int64, error) {
	frames, err := g.roundTrip("nextId", nil)
	if err != nil {
		return 0, err
	}
	if len(frames) == 0 {
		return 0, fmt.Errorf("gateway: empty nextId response")
	}
	return gjson.GetBytes(frames[0], "value").Int(), nil
}

// StockQuote snapshots top-of-book for a stock. Tick fields arrive one
// per frame and are folded into a single Quote.
func (g *Gateway) StockQuote(symbol string) (*Quote, error) {
	frames, err := g.roundTrip("quote", map[string]any{
		"symbol": symbol, "secType": "STK",
	})
	if err != nil {
		return nil, err
	}
	return foldQuote(symbol, frames), nil
}

// StockPrice returns the last trade price, falling back to the midpoint.
func (g *Gateway) StockPrice(symbol string) (float64, error) {
	q, err := g.StockQuote(symbol)
	if err != nil {
		return 0, err
	}
	if q.Last > 0 {
		return q.Last, nil
	}
	if mid := q.Mid(); mid > 0 {
		return mid, nil
	}
	return 0, fmt.Errorf("gateway: no usable price for %s", symbol)
}

// OptionQuote snapshots one option contract.
func (g *Gateway) OptionQuote(c OptionContract) (*Quote, error) {
	frames, err := g.roundTrip("quote", map[string]any{
		"symbol": c.Symbol, "secType": "OPT",
		"expiration": c.Expiration, "strike": c.Strike, "right": c.Right,
	})
	if err != nil {
		return nil, err
	}
	return foldQuote(c.Symbol, frames), nil
}

// OptionMid returns the bid/ask midpoint for one option contract.
func (g *Gateway) OptionMid(c OptionContract) (float64, error) {
	q, err := g.OptionQuote(c)
	if err != nil {
		return 0, err
	}
	mid := q.Mid()
	if mid <= 0 {
		return 0, fmt.Errorf("gateway: no usable option price for %s %s %s %.2f", c.Symbol, c.Expiration, c.Right, c.Strike)
	}
	return mid, nil
}

func foldQuote(symbol string, frames [][]byte) *Quote {
	q := &Quote{Symbol: symbol}
	for _, f := range frames {
		field := gjson.GetBytes(f, "field").String()
		value := gjson.GetBytes(f, "value").Float()
		switch field {
		case "bid":
			q.Bid = value
		case "ask":
			q.Ask = value
		case "last":
			q.Last = value
		case "bidSize":
			q.BidSize = int64(value)
		case "askSize":
			q.AskSize = int64(value)
		}
	}
	return q
}

// Bars fetches historical bars. Duration and barSize use the bridge's
// notation ("5 D", "1 day").
func (g *Gateway) Bars(symbol, duration, barSize string) ([]Bar, error) {
	frames, err := g.roundTrip("bars", map[string]any{
		"symbol": symbol, "secType": "STK",
		"duration": duration, "barSize": barSize, "what": "TRADES",
	})
	if err != nil {
		return nil, err
	}
	bars := make([]Bar, 0, len(frames))
	for _, f := range frames {
		bars = append(bars, Bar{
			Time:   time.Unix(gjson.GetBytes(f, "t").Int(), 0),
			Open:   gjson.GetBytes(f, "o").Float(),
			High:   gjson.GetBytes(f, "h").Float(),
			Low:    gjson.GetBytes(f, "l").Float(),
			Close:  gjson.GetBytes(f, "c").Float(),
			Volume: gjson.GetBytes(f, "v").Int(),
		})
	}
	return bars, nil
}

// DailyBars fetches the last n complete daily bars.
func (g *Gateway) DailyBars(symbol string, days int) ([]Bar, error) {
	return g.Bars(symbol, fmt.Sprintf("%d D", days), "1 day")
}

// FillsByOrderID aggregates every execution of one order into total
// shares and a share-weighted average price. Returns nil when the order
// has no fills yet.
func (g *Gateway) FillsByOrderID(orderID int64) (*FillSummary, error) {
	frames, err := g.roundTrip("fills", map[string]any{"orderId": orderID})
	if err != nil {
		return nil, err
	}
	var fills []Fill
	for _, f := range frames {
		if gjson.GetBytes(f, "orderId").Int() != orderID {
			continue
		}
		fills = append(fills, Fill{
			OrderID: orderID,
			ExecID:  gjson.GetBytes(f, "execId").String(),
			Side:    gjson.GetBytes(f, "side").String(),
			Shares:  gjson.GetBytes(f, "shares").Int(),
			Price:   gjson.GetBytes(f, "price").Float(),
			Time:    time.Unix(gjson.GetBytes(f, "time").Int(), 0),
		})
	}
	if len(fills) == 0 {
		return nil, nil
	}
	sum := &FillSummary{OrderID: orderID, FirstTime: fills[0].Time, LastTime: fills[0].Time}
	var weighted float64
	for _, fl := range fills {
		sum.Shares += fl.Shares
		weighted += fl.Price * float64(fl.Shares)
		if fl.Time.Before(sum.FirstTime) {
			sum.FirstTime = fl.Time
		}
		if fl.Time.After(sum.LastTime) {
			sum.LastTime = fl.Time
		}
	}
	if sum.Shares > 0 {
		sum.AvgPrice = weighted / float64(sum.Shares)
	}
	return sum, nil
}

// OptionChain accumulates chain parameters for an underlying. Partial
// frames each carry a slice of expirations/strikes; duplicates across
// frames are collapsed and the results sorted.
func (g *Gateway) OptionChain(symbol string) (*ChainParams, error) {
	frames, err := g.roundTrip("chain", map[string]any{"symbol": symbol})
	if err != nil {
		return nil, err
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("gateway: empty option chain for %s", symbol)
	}
	expSet := make(map[string]bool)
	strikeSet := make(map[float64]bool)
	out := &ChainParams{Symbol: symbol}
	for _, f := range frames {
		for _, e := range gjson.GetBytes(f, "expirations").Array() {
			expSet[e.String()] = true
		}
		for _, s := range gjson.GetBytes(f, "strikes").Array() {
			strikeSet[s.Float()] = true
		}
		if m := gjson.GetBytes(f, "multiplier").String(); m != "" {
			out.Multiplier = m
		}
		if tc := gjson.GetBytes(f, "tradingClass").String(); tc != "" {
			out.TradingClass = tc
		}
	}
	for e := range expSet {
		out.Expirations = append(out.Expirations, e)
	}
	sort.Strings(out.Expirations)
	for s := range strikeSet {
		out.Strikes = append(out.Strikes, s)
	}
	sort.Float64s(out.Strikes)
	return out, nil
}

// AccountBalance reads one account value, e.g. NetLiquidation.
func (g *Gateway) AccountBalance(tag, currency string) (float64, error) {
	frames, err := g.roundTrip("balance", map[string]any{
		"tag": tag, "currency": currency, "account": g.cfg.Account,
	})
	if err != nil {
		return 0, err
	}
	if len(frames) == 0 {
		return 0, fmt.Errorf("gateway: empty balance response")
	}
	return gjson.GetBytes(frames[0], "value").Float(), nil
}

// PortfolioPositions lists the broker-side portfolio.
func (g *Gateway) PortfolioPositions() ([]PortfolioItem, error) {
	frames, err := g.roundTrip("positions", map[string]any{"account": g.cfg.Account})
	if err != nil {
		return nil, err
	}
	items := make([]PortfolioItem, 0, len(frames))
	for _, f := range frames {
		items = append(items, PortfolioItem{
			Symbol:  gjson.GetBytes(f, "symbol").String(),
			SecType: gjson.GetBytes(f, "secType").String(),
			Shares:  gjson.GetBytes(f, "shares").Int(),
			AvgCost: gjson.GetBytes(f, "avgCost").Float(),
		})
	}
	return items, nil
}

// placeOrder submits one order and blocks for its acknowledgement,
// which arrives keyed by order id rather than request id.
func (g *Gateway) placeOrder(orderID int64, params map[string]any) (*OrderAck, error) {
	params["orderId"] = orderID
	params["account"] = g.cfg.Account
	slot := g.acks.register(orderID)
	if _, err := g.send("place", params); err != nil {
		g.acks.fail(orderID, err)
		return nil, err
	}
	frame, err := g.acks.await(slot, g.cfg.RequestTimeout())
	if err != nil {
		return nil, err
	}
	return &OrderAck{
		OrderID:    orderID,
		Status:     gjson.GetBytes(frame, "status").String(),
		InitMargin: gjson.GetBytes(frame, "initMargin").Float(),
	}, nil
}

// PlaceStockEntryWithStop submits a limit entry plus an attached stop.
// Returns both order ids; the stop's id never changes for the life of
// the position.
func (g *Gateway) PlaceStockEntryWithStop(symbol, direction string, shares int64, limitPrice, stopPrice float64) (int64, int64, error) {
	entrySide, exitSide := sidesFor(direction)
	if entrySide == "" {
		return 0, 0, fmt.Errorf("gateway: invalid direction %q", direction)
	}
	entryID := g.nextLocalOrderID()
	stopID := g.nextLocalOrderID()

	if _, err := g.placeOrder(entryID, map[string]any{
		"symbol": symbol, "secType": "STK", "side": entrySide,
		"qty": shares, "orderType": "LMT", "lmtPrice": limitPrice,
		"tif": "DAY", "transmit": false,
	}); err != nil {
		return 0, 0, fmt.Errorf("gateway: entry order for %s failed: %w", symbol, err)
	}
	if _, err := g.placeOrder(stopID, map[string]any{
		"symbol": symbol, "secType": "STK", "side": exitSide,
		"qty": shares, "orderType": "STP", "stopPrice": stopPrice,
		"tif": "GTC", "parentId": entryID, "transmit": true,
	}); err != nil {
		return 0, 0, fmt.Errorf("gateway: stop order for %s failed: %w", symbol, err)
	}
	return entryID, stopID, nil
}

// ModifyStopOrder re-submits the stop order under its existing id with a
// new stop price.
func (g *Gateway) ModifyStopOrder(orderID int64, symbol, direction string, shares int64, stopPrice float64) error {
	_, exitSide := sidesFor(direction)
	if exitSide == "" {
		return fmt.Errorf("gateway: invalid direction %q", direction)
	}
	_, err := g.placeOrder(orderID, map[string]any{
		"symbol": symbol, "secType": "STK", "side": exitSide,
		"qty": shares, "orderType": "STP", "stopPrice": stopPrice,
		"tif": "GTC", "transmit": true,
	})
	return err
}

// ConvertStopToMarket re-submits the stop order under its existing id as
// an immediate market order.
func (g *Gateway) ConvertStopToMarket(orderID int64, symbol, direction string, shares int64) error {
	_, exitSide := sidesFor(direction)
	if exitSide == "" {
		return fmt.Errorf("gateway: invalid direction %q", direction)
	}
	_, err := g.placeOrder(orderID, map[string]any{
		"symbol": symbol, "secType": "STK", "side": exitSide,
		"qty": shares, "orderType": "MKT", "tif": "DAY", "transmit": true,
	})
	return err
}

// CancelOrder cancels an unfilled order.
func (g *Gateway) CancelOrder(orderID int64) error {
	_, err := g.roundTrip("cancel", map[string]any{"orderId": orderID})
	return err
}

// MarginPerShare probes the broker with a non-executing 10 share what-if
// buy and returns the per-share initial margin. A missing or
// non-positive margin is a hard error, never defaulted.
func (g *Gateway) MarginPerShare(symbol string) (float64, error) {
	const probeShares = 10
	orderID := g.nextLocalOrderID()
	ack, err := g.placeOrder(orderID, map[string]any{
		"symbol": symbol, "secType": "STK", "side": "BUY",
		"qty": probeShares, "orderType": "MKT", "tif": "DAY",
		"whatIf": true,
	})
	if err != nil {
		return 0, err
	}
	margin := math.Abs(ack.InitMargin)
	if margin <= 0 {
		return 0, fmt.Errorf("gateway: what-if for %s returned no margin", symbol)
	}
	return margin / probeShares, nil
}

func sidesFor(direction string) (entry, exit string) {
	switch strings.ToUpper(direction) {
	case "LONG":
		return "BUY", "SELL"
	case "SHORT":
		return "SELL", "BUY"
	default:
		return "", ""
	}
}
