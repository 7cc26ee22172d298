package domain

import "time"

// OrderInstruction is the immutable description of a desired trade.
// It is produced by sizing/hedging services and consumed by the executor
// and the advanced order scheduler.
type OrderInstruction struct {
	VtSymbol  string    `json:"vt_symbol"`
	Direction Direction `json:"direction"`
	Offset    Offset    `json:"offset"`
	Volume    int       `json:"volume"`
	Price     float64   `json:"price"`
	Signal    string    `json:"signal"`
	OrderType OrderType `json:"order_type"`
}

// Order tracks the lifecycle of a single broker order.
type Order struct {
	VtOrderID  string      `json:"vt_orderid"`
	VtSymbol   string      `json:"vt_symbol"`
	Direction  Direction   `json:"direction"`
	Offset     Offset      `json:"offset"`
	Volume     int         `json:"volume"`
	Price      float64     `json:"price"`
	Status     OrderStatus `json:"status"`
	Traded     int         `json:"traded"`
	Signal     string      `json:"signal"`
	CreateTime time.Time   `json:"create_time"`
	UpdateTime time.Time   `json:"update_time"`
}

// NewOrder creates an order in the submitting state
func NewOrder(vtOrderID string, instr OrderInstruction) *Order {
	return &Order{
		VtOrderID:  vtOrderID,
		VtSymbol:   instr.VtSymbol,
		Direction:  instr.Direction,
		Offset:     instr.Offset,
		Volume:     instr.Volume,
		Price:      instr.Price,
		Status:     StatusSubmitting,
		Signal:     instr.Signal,
		CreateTime: time.Now(),
	}
}

// UpdateStatus applies a broker order event. Terminal statuses are immutable:
// once the order is finished, further updates are ignored.
func (o *Order) UpdateStatus(status OrderStatus, traded int, at time.Time) {
	if o.Status.IsFinished() {
		return
	}
	o.Status = status
	if traded > o.Traded {
		o.Traded = traded
	}
	if o.Traded > o.Volume {
		o.Traded = o.Volume
	}
	o.UpdateTime = at
}

// AddTrade records a fill against the order
func (o *Order) AddTrade(volume int, at time.Time) {
	if o.Status.IsFinished() {
		return
	}
	o.Traded += volume
	if o.Traded > o.Volume {
		o.Traded = o.Volume
	}
	o.UpdateTime = at
	if o.Traded >= o.Volume {
		o.Status = StatusAllTraded
	} else if o.Traded > 0 {
		o.Status = StatusPartTraded
	}
}

// IsActive reports whether the order may still trade
func (o *Order) IsActive() bool { return o.Status.IsActive() }

// IsFinished reports whether the order reached a terminal state
func (o *Order) IsFinished() bool { return o.Status.IsFinished() }

// IsOpenOrder reports whether the order opens a position
func (o *Order) IsOpenOrder() bool { return o.Offset == OffsetOpen }

// RemainingVolume returns the untraded volume
func (o *Order) RemainingVolume() int {
	if o.Volume > o.Traded {
		return o.Volume - o.Traded
	}
	return 0
}

// Trade is a single fill reported by the broker
type Trade struct {
	VtTradeID string    `json:"vt_tradeid"`
	VtOrderID string    `json:"vt_orderid"`
	VtSymbol  string    `json:"vt_symbol"`
	Direction Direction `json:"direction"`
	Offset    Offset    `json:"offset"`
	Volume    int       `json:"volume"`
	Price     float64   `json:"price"`
	Datetime  time.Time `json:"datetime"`
}

// QuoteRequest is a two-sided passive quote for market-making gateways
type QuoteRequest struct {
	VtSymbol  string  `json:"vt_symbol"`
	BidPrice  float64 `json:"bid_price"`
	BidVolume int     `json:"bid_volume"`
	AskPrice  float64 `json:"ask_price"`
	AskVolume int     `json:"ask_volume"`
}

// PositionReport is the broker's view of one position leg, used for
// reconciliation against strategy-tracked positions.
type PositionReport struct {
	VtSymbol  string    `json:"vt_symbol"`
	Direction Direction `json:"direction"`
	Volume    int       `json:"volume"`
	Price     float64   `json:"price"`
	PnL       float64   `json:"pnl"`
}
