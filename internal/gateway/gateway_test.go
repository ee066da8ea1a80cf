package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orbit/internal/config"
	"orbit/internal/events"
)

// bridgeRequest mirrors the outbound wire shape for the fake bridge.
type bridgeRequest struct {
	Op     string         `json:"op"`
	ID     int64          `json:"id"`
	Params map[string]any `json:"params"`
}

type bridgeHandler func(c *websocket.Conn, req bridgeRequest)

// fakeBridge is an in-process broker bridge. It answers nextId itself so
// Connect can seed the order sequence; everything else goes to the
// test-supplied handler.
type fakeBridge struct {
	srv    *httptest.Server
	handle bridgeHandler

	mu    sync.Mutex
	conns []*websocket.Conn
}

func newFakeBridge(t *testing.T, handle bridgeHandler) *fakeBridge {
	t.Helper()
	b := &fakeBridge{handle: handle}
	upgrader := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conns = append(b.conns, c)
		b.mu.Unlock()
		for {
			var req bridgeRequest
			if err := c.ReadJSON(&req); err != nil {
				return
			}
			if req.Op == "nextId" {
				c.WriteJSON(map[string]any{"type": "nextId", "id": req.ID, "value": 100})
				continue
			}
			if b.handle != nil {
				b.handle(c, req)
			}
		}
	}))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBridge) wsURL() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *fakeBridge) dropConnections() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, c := range b.conns {
		c.Close()
	}
	b.conns = nil
}

func testBrokerConfig(url string) config.BrokerConfig {
	return config.BrokerConfig{
		WSURL:                 url,
		Account:               "DU1234567",
		ClientID:              7,
		RequestTimeoutSeconds: 1,
		ReconnectWaitSeconds:  1,
	}
}

func connectedGateway(t *testing.T, bus *events.Subject, handle bridgeHandler) *Gateway {
	t.Helper()
	bridge := newFakeBridge(t, handle)
	g := New(testBrokerConfig(bridge.wsURL()), bus)
	require.NoError(t, g.Connect(context.Background()))
	t.Cleanup(g.Close)
	return g
}

func TestGatewayConnectSeedsOrderIDs(t *testing.T) {
	bus := events.NewSubject()
	seen := &kindRecorder{}
	bus.Subscribe(seen)

	g := connectedGateway(t, bus, nil)
	assert.True(t, g.Connected())
	assert.Equal(t, int64(100), g.nextLocalOrderID())
	assert.Equal(t, int64(101), g.nextLocalOrderID())
	assert.Contains(t, seen.kinds(), events.KindConnected)
}

func TestGatewayStockQuoteFoldsTickFrames(t *testing.T) {
	g := connectedGateway(t, nil, func(c *websocket.Conn, req bridgeRequest) {
		require.Equal(t, "quote", req.Op)
		c.WriteJSON(map[string]any{"type": "tick", "id": req.ID, "field": "bid", "value": 189.50})
		c.WriteJSON(map[string]any{"type": "tick", "id": req.ID, "field": "ask", "value": 189.54})
		c.WriteJSON(map[string]any{"type": "tick", "id": req.ID, "field": "last", "value": 189.52})
		c.WriteJSON(map[string]any{"type": "tickEnd", "id": req.ID})
	})

	q, err := g.StockQuote("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 189.50, q.Bid)
	assert.Equal(t, 189.54, q.Ask)
	assert.Equal(t, 189.52, q.Last)
	assert.InDelta(t, 189.52, q.Mid(), 1e-9)
}

func TestGatewayStockPriceFallsBackToMid(t *testing.T) {
	g := connectedGateway(t, nil, func(c *websocket.Conn, req bridgeRequest) {
		c.WriteJSON(map[string]any{"type": "tick", "id": req.ID, "field": "bid", "value": 50.00})
		c.WriteJSON(map[string]any{"type": "tick", "id": req.ID, "field": "ask", "value": 50.10})
		c.WriteJSON(map[string]any{"type": "tickEnd", "id": req.ID})
	})

	price, err := g.StockPrice("MSFT")
	require.NoError(t, err)
	assert.InDelta(t, 50.05, price, 1e-9)
}

func TestGatewayRequestTimeout(t *testing.T) {
	g := connectedGateway(t, nil, func(c *websocket.Conn, req bridgeRequest) {
		// Never answer.
	})

	start := time.Now()
	_, err := g.StockQuote("AAPL")
	var te *TimeoutError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, "quote", te.Op)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
}

func TestGatewayFillsAggregateWeightedAverage(t *testing.T) {
	g := connectedGateway(t, nil, func(c *websocket.Conn, req bridgeRequest) {
		require.Equal(t, "fills", req.Op)
		orderID := int64(req.Params["orderId"].(float64))
		c.WriteJSON(map[string]any{
			"type": "fill", "id": req.ID, "orderId": orderID,
			"execId": uuid.NewString(), "side": "BUY",
			"shares": 60, "price": 100.00, "time": 1700000000,
		})
		c.WriteJSON(map[string]any{
			"type": "fill", "id": req.ID, "orderId": orderID,
			"execId": uuid.NewString(), "side": "BUY",
			"shares": 40, "price": 100.50, "time": 1700000060,
		})
		// Fill for a different order must be filtered out.
		c.WriteJSON(map[string]any{
			"type": "fill", "id": req.ID, "orderId": orderID + 1,
			"execId": uuid.NewString(), "side": "BUY",
			"shares": 999, "price": 1.00, "time": 1700000000,
		})
		c.WriteJSON(map[string]any{"type": "fillEnd", "id": req.ID})
	})

	sum, err := g.FillsByOrderID(200)
	require.NoError(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, int64(100), sum.Shares)
	assert.InDelta(t, 100.20, sum.AvgPrice, 1e-9)
	assert.Equal(t, time.Unix(1700000000, 0), sum.FirstTime)
	assert.Equal(t, time.Unix(1700000060, 0), sum.LastTime)
}

func TestGatewayFillsNilWhenUnfilled(t *testing.T) {
	g := connectedGateway(t, nil, func(c *websocket.Conn, req bridgeRequest) {
		c.WriteJSON(map[string]any{"type": "fillEnd", "id": req.ID})
	})

	sum, err := g.FillsByOrderID(300)
	require.NoError(t, err)
	assert.Nil(t, sum)
}

func TestGatewayOptionChainMergesPartialFrames(t *testing.T) {
	g := connectedGateway(t, nil, func(c *websocket.Conn, req bridgeRequest) {
		c.WriteJSON(map[string]any{
			"type": "chain", "id": req.ID,
			"expirations": []string{"20260918", "20260821"},
			"strikes":     []float64{200, 195},
			"multiplier":  "100",
		})
		c.WriteJSON(map[string]any{
			"type": "chain", "id": req.ID,
			"expirations": []string{"20260821", "20261016"},
			"strikes":     []float64{195, 205},
		})
		c.WriteJSON(map[string]any{"type": "chainEnd", "id": req.ID})
	})

	chain, err := g.OptionChain("NVDA")
	require.NoError(t, err)
	assert.Equal(t, []string{"20260821", "20260918", "20261016"}, chain.Expirations)
	assert.Equal(t, []float64{195, 200, 205}, chain.Strikes)
	assert.Equal(t, "100", chain.Multiplier)
}

func TestGatewayPlaceStockEntryWithStop(t *testing.T) {
	var mu sync.Mutex
	var placed []bridgeRequest
	g := connectedGateway(t, nil, func(c *websocket.Conn, req bridgeRequest) {
		mu.Lock()
		placed = append(placed, req)
		mu.Unlock()
		c.WriteJSON(map[string]any{
			"type": "ack", "orderId": req.Params["orderId"], "status": "Submitted",
		})
	})

	entryID, stopID, err := g.PlaceStockEntryWithStop("AMD", "LONG", 50, 120.00, 118.50)
	require.NoError(t, err)
	assert.Equal(t, int64(100), entryID)
	assert.Equal(t, int64(101), stopID)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, placed, 2)
	entry, stop := placed[0].Params, placed[1].Params
	assert.Equal(t, "BUY", entry["side"])
	assert.Equal(t, "LMT", entry["orderType"])
	assert.Equal(t, false, entry["transmit"], "entry must be held until the stop attaches")
	assert.Equal(t, "SELL", stop["side"])
	assert.Equal(t, "STP", stop["orderType"])
	assert.Equal(t, "GTC", stop["tif"])
	assert.Equal(t, float64(entryID), stop["parentId"])
	assert.Equal(t, true, stop["transmit"])
}

func TestGatewayShortEntrySides(t *testing.T) {
	var mu sync.Mutex
	var placed []bridgeRequest
	g := connectedGateway(t, nil, func(c *websocket.Conn, req bridgeRequest) {
		mu.Lock()
		placed = append(placed, req)
		mu.Unlock()
		c.WriteJSON(map[string]any{
			"type": "ack", "orderId": req.Params["orderId"], "status": "Submitted",
		})
	})

	_, _, err := g.PlaceStockEntryWithStop("TSLA", "SHORT", 30, 250.00, 255.00)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, placed, 2)
	assert.Equal(t, "SELL", placed[0].Params["side"])
	assert.Equal(t, "BUY", placed[1].Params["side"])
}

func TestGatewayInvalidDirectionRejectedBeforeSending(t *testing.T) {
	g := connectedGateway(t, nil, func(c *websocket.Conn, req bridgeRequest) {
		t.Error("no order should reach the bridge")
	})

	_, _, err := g.PlaceStockEntryWithStop("AAPL", "SIDEWAYS", 10, 1, 1)
	assert.ErrorContains(t, err, "invalid direction")
}

func TestGatewayMarginPerShare(t *testing.T) {
	g := connectedGateway(t, nil, func(c *websocket.Conn, req bridgeRequest) {
		require.Equal(t, true, req.Params["whatIf"])
		c.WriteJSON(map[string]any{
			"type": "ack", "orderId": req.Params["orderId"],
			"status": "PreSubmitted", "initMargin": -305.0,
		})
	})

	margin, err := g.MarginPerShare("AMD")
	require.NoError(t, err)
	assert.InDelta(t, 30.5, margin, 1e-9)
}

func TestGatewayMarginPerShareZeroIsHardError(t *testing.T) {
	g := connectedGateway(t, nil, func(c *websocket.Conn, req bridgeRequest) {
		c.WriteJSON(map[string]any{
			"type": "ack", "orderId": req.Params["orderId"], "status": "PreSubmitted",
		})
	})

	_, err := g.MarginPerShare("AMD")
	assert.ErrorContains(t, err, "no margin")
}

func TestGatewayDisconnectFailsPendingAndPublishes(t *testing.T) {
	bus := events.NewSubject()
	seen := &kindRecorder{}
	bus.Subscribe(seen)

	bridge := newFakeBridge(t, func(c *websocket.Conn, req bridgeRequest) {
		// Quote request arrives, then the bridge dies mid-response.
	})
	g := New(testBrokerConfig(bridge.wsURL()), bus)
	require.NoError(t, g.Connect(context.Background()))
	defer g.Close()

	errCh := make(chan error, 1)
	go func() {
		_, err := g.StockQuote("AAPL")
		errCh <- err
	}()
	time.Sleep(50 * time.Millisecond)
	bridge.dropConnections()

	select {
	case err := <-errCh:
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection lost")
	case <-time.After(2 * time.Second):
		t.Fatal("pending request not failed on disconnect")
	}

	require.Eventually(t, func() bool {
		return !g.Connected()
	}, time.Second, 10*time.Millisecond)
	assert.Contains(t, seen.kinds(), events.KindDisconnected)
}

func TestGatewayBrokerErrorFailsOnlyThatRequest(t *testing.T) {
	g := connectedGateway(t, nil, func(c *websocket.Conn, req bridgeRequest) {
		switch req.Op {
		case "quote":
			c.WriteJSON(map[string]any{
				"type": "error", "id": req.ID, "code": 200,
				"msg": "No security definition has been found",
			})
		case "balance":
			c.WriteJSON(map[string]any{"type": "balance", "id": req.ID, "value": 25000.50})
		}
	})

	_, err := g.StockQuote("BOGUS")
	require.ErrorContains(t, err, "broker error 200")
	assert.True(t, g.Connected(), "request-scoped errors must not flip connection state")

	bal, err := g.AccountBalance("NetLiquidation", "USD")
	require.NoError(t, err)
	assert.Equal(t, 25000.50, bal)
}

func TestGatewayBenignCodeIsIgnored(t *testing.T) {
	g := connectedGateway(t, nil, func(c *websocket.Conn, req bridgeRequest) {
		c.WriteJSON(map[string]any{"type": "error", "id": 0, "code": 2105, "msg": "HMDS data farm broken"})
		c.WriteJSON(map[string]any{"type": "tick", "id": req.ID, "field": "last", "value": 10})
		c.WriteJSON(map[string]any{"type": "tickEnd", "id": req.ID})
	})

	q, err := g.StockQuote("AAPL")
	require.NoError(t, err)
	assert.Equal(t, 10.0, q.Last)
	assert.True(t, g.Connected())
}

func TestGatewayPortfolioPositions(t *testing.T) {
	g := connectedGateway(t, nil, func(c *websocket.Conn, req bridgeRequest) {
		c.WriteJSON(map[string]any{
			"type": "position", "id": req.ID,
			"symbol": "AAPL", "secType": "STK", "shares": 100, "avgCost": 180.25,
		})
		c.WriteJSON(map[string]any{
			"type": "position", "id": req.ID,
			"symbol": "AAPL", "secType": "OPT", "shares": -1, "avgCost": 150.0,
		})
		c.WriteJSON(map[string]any{"type": "positionEnd", "id": req.ID})
	})

	items, err := g.PortfolioPositions()
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "STK", items[0].SecType)
	assert.Equal(t, int64(100), items[0].Shares)
	assert.Equal(t, int64(-1), items[1].Shares)
}

// kindRecorder collects event kinds, safe for cross-goroutine use.
type kindRecorder struct {
	mu   sync.Mutex
	seen []events.Kind
}

func (r *kindRecorder) OnEvent(ev events.Event) {
	r.mu.Lock()
	r.seen = append(r.seen, ev.Kind)
	r.mu.Unlock()
}

func (r *kindRecorder) kinds() []events.Kind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Kind, len(r.seen))
	copy(out, r.seen)
	return out
}
