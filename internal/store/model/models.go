package model

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Status is the lifecycle state of a tracked position or holding.
// Transitions are monotonic: PENDING→OPEN→CLOSED, or PENDING→CANCELLED.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusOpen      Status = "OPEN"
	StatusClosed    Status = "CLOSED"
	StatusCancelled Status = "CANCELLED"
)

// ExitReason records why a position was (or is being) closed. It is set
// before CLOSED for the two-phase exits, where the stop is converted to
// market first and the fill is detected on a later poll.
type ExitReason string

const (
	ExitStopLoss         ExitReason = "STOP_LOSS"
	ExitEndOfDay         ExitReason = "EOD_EXIT"
	ExitStagnant         ExitReason = "TIME_EXIT_STAGNANT"
	ExitExpiredWorthless ExitReason = "EXPIRED_WORTHLESS"
	ExitAssigned         ExitReason = "ASSIGNED"
	ExitManual           ExitReason = "MANUAL_CLOSE"
)

const (
	DirectionLong  = "LONG"
	DirectionShort = "SHORT"
)

// StockPosition is one intraday bracket trade. The primary key is the
// broker-assigned entry order id; the stop order id is immutable for the
// life of the position even as its price or type is modified in place.
type StockPosition struct {
	ID                int64          `gorm:"column:id;primaryKey;autoIncrement:false"`
	StopOrderID       int64          `gorm:"column:stop_order_id"`
	Symbol            string         `gorm:"column:symbol;index"`
	Direction         string         `gorm:"column:direction"`
	Shares            int64          `gorm:"column:shares"`
	EntryPrice        float64        `gorm:"column:entry_price"`
	EntryTimeUnix     int64          `gorm:"column:entry_time"`
	ExitPrice         float64        `gorm:"column:exit_price"`
	ExitTimeUnix      int64          `gorm:"column:exit_time"`
	StopLossPrice     float64        `gorm:"column:stop_loss_price"`
	TrailingStopPrice float64        `gorm:"column:trailing_stop_price"`
	StopMoved         bool           `gorm:"column:stop_moved"`
	RangeSize         float64        `gorm:"column:range_size"`
	Status            Status         `gorm:"column:status;index"`
	ExitReason        ExitReason     `gorm:"column:exit_reason"`
	RealizedPnL       float64        `gorm:"column:realized_pnl"`
	RawFillJSON       datatypes.JSON `gorm:"column:raw_fill_json;type:TEXT"`
	CreatedAtUnix     int64          `gorm:"column:created_at"`
	UpdatedAtUnix     int64          `gorm:"column:updated_at"`
}

func (StockPosition) TableName() string { return "stock_positions" }

// CurrentStopPrice is the effective stop: the trailed price once the
// stop has been moved, the original stop-loss otherwise.
func (p StockPosition) CurrentStopPrice() float64 {
	if p.StopMoved && p.TrailingStopPrice > 0 {
		return p.TrailingStopPrice
	}
	return p.StopLossPrice
}

func (p StockPosition) IsLong() bool {
	return strings.EqualFold(p.Direction, DirectionLong)
}

func (p StockPosition) EntryTime() time.Time { return time.Unix(p.EntryTimeUnix, 0) }

// OptionPosition is a multi-leg spread tracked as one unit. The primary
// key is the combo parent order id. NetCredit is per-spread and stored
// pre-multiplier: positive for credit spreads, negative for debit.
type OptionPosition struct {
	ID              int64       `gorm:"column:id;primaryKey;autoIncrement:false"`
	Symbol          string      `gorm:"column:symbol;index"`
	Strategy        string      `gorm:"column:strategy"`
	Contracts       int64       `gorm:"column:contracts"`
	NetCredit       float64     `gorm:"column:net_credit"`
	Expiration      string      `gorm:"column:expiration"`
	EquityHoldingID *int64      `gorm:"column:equity_holding_id;index"`
	ClosingOrderID  *int64      `gorm:"column:closing_order_id"`
	EntryTimeUnix   int64       `gorm:"column:entry_time"`
	ExitTimeUnix    int64       `gorm:"column:exit_time"`
	ExitValue       float64     `gorm:"column:exit_value"`
	Status          Status      `gorm:"column:status;index"`
	ExitReason      ExitReason  `gorm:"column:exit_reason"`
	RealizedPnL     float64     `gorm:"column:realized_pnl"`
	CreatedAtUnix   int64       `gorm:"column:created_at"`
	UpdatedAtUnix   int64       `gorm:"column:updated_at"`
	Legs            []OptionLeg `gorm:"foreignKey:PositionID"`
}

func (OptionPosition) TableName() string { return "option_positions" }

func (p OptionPosition) IsCreditSpread() bool { return p.NetCredit > 0 }

// ExpirationDate parses the recorded YYYYMMDD expiration in loc.
func (p OptionPosition) ExpirationDate(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("20060102", p.Expiration, loc)
}

// OptionLeg is one leg of a spread.
type OptionLeg struct {
	ID         int64   `gorm:"column:id;primaryKey"`
	PositionID int64   `gorm:"column:position_id;index"`
	Right      string  `gorm:"column:right"`
	Side       string  `gorm:"column:side"`
	Strike     float64 `gorm:"column:strike"`
	Expiration string  `gorm:"column:expiration"`
	Ratio      int     `gorm:"column:ratio"`
}

func (OptionLeg) TableName() string { return "option_legs" }

// EquityHolding is a long-dated share position carried as collateral for
// option overlays. At most one holding per symbol may exist.
type EquityHolding struct {
	ID              int64      `gorm:"column:id;primaryKey"`
	Symbol          string     `gorm:"column:symbol;uniqueIndex"`
	Shares          int64      `gorm:"column:shares"`
	CostBasis       float64    `gorm:"column:cost_basis"`
	PurchaseOrderID int64      `gorm:"column:purchase_order_id"`
	Status          Status     `gorm:"column:status;index"`
	ExitPrice       float64    `gorm:"column:exit_price"`
	ExitReason      ExitReason `gorm:"column:exit_reason"`
	RealizedPnL     float64    `gorm:"column:realized_pnl"`
	AcquiredAtUnix  int64      `gorm:"column:acquired_at"`
	ClosedAtUnix    int64      `gorm:"column:closed_at"`
	CreatedAtUnix   int64      `gorm:"column:created_at"`
	UpdatedAtUnix   int64      `gorm:"column:updated_at"`
}

func (EquityHolding) TableName() string { return "equity_holdings" }
