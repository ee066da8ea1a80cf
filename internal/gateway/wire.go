package gateway

import "time"

// Outbound frame. Every request carries a unique id; the bridge echoes it
// on every frame belonging to the response.
type request struct {
	Op     string         `json:"op"`
	ID     int64          `json:"id"`
	Params map[string]any `json:"params,omitempty"`
}

// Inbound frame types. Multi-part responses stream typed partials and
// finish with the matching *End sentinel.
const (
	frameTick        = "tick"
	frameTickEnd     = "tickEnd"
	frameBar         = "bar"
	frameBarEnd      = "barEnd"
	frameFill        = "fill"
	frameFillEnd     = "fillEnd"
	frameChain       = "chain"
	frameChainEnd    = "chainEnd"
	framePosition    = "position"
	framePositionEnd = "positionEnd"
	frameBalance     = "balance"
	frameNextID      = "nextId"
	frameAck         = "ack"
	frameError       = "error"
)

// Broker info/error codes, same classification the bridge's upstream API
// documents. Benign codes are connectivity chatter that needs no action.
var (
	benignCodes     = map[int64]bool{2105: true, 2106: true, 2107: true}
	disconnectCodes = map[int64]bool{504: true, 1100: true}
	connectCodes    = map[int64]bool{2104: true, 2106: true, 2107: true, 2158: true}
)

// Quote is a snapshot of top-of-book plus last trade.
type Quote struct {
	Symbol  string
	Bid     float64
	Ask     float64
	Last    float64
	BidSize int64
	AskSize int64
}

// Mid returns the bid/ask midpoint, falling back to last when one side
// is missing.
func (q Quote) Mid() float64 {
	if q.Bid > 0 && q.Ask > 0 {
		return (q.Bid + q.Ask) / 2
	}
	return q.Last
}

// Bar is one OHLCV bar.
type Bar struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// Fill is a single execution report.
type Fill struct {
	OrderID int64
	ExecID  string
	Side    string
	Shares  int64
	Price   float64
	Time    time.Time
}

// FillSummary aggregates every partial execution of one order into total
// shares and a share-weighted average price.
type FillSummary struct {
	OrderID   int64
	Shares    int64
	AvgPrice  float64
	FirstTime time.Time
	LastTime  time.Time
}

// ChainParams are the option-chain parameters for an underlying,
// accumulated across however many partial frames the bridge sends.
type ChainParams struct {
	Symbol       string
	Expirations  []string
	Strikes      []float64
	Multiplier   string
	TradingClass string
}

// OptionContract identifies one option leg.
type OptionContract struct {
	Symbol     string
	Expiration string // YYYYMMDD
	Strike     float64
	Right      string // "C" or "P"
}

// PortfolioItem is one row of the broker-side portfolio.
type PortfolioItem struct {
	Symbol  string
	SecType string
	Shares  int64
	AvgCost float64
}

// OrderAck is the synchronous acknowledgement of an order submission.
// InitMargin is the margin impact the broker reports; for what-if probes
// it is the only field that matters.
type OrderAck struct {
	OrderID    int64
	Status     string
	InitMargin float64
}
