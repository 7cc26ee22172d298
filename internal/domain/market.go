package domain

import "time"

// Bar is a single OHLCV bar for one contract
type Bar struct {
	VtSymbol string    `json:"vt_symbol"`
	Datetime time.Time `json:"datetime"`
	Interval Interval  `json:"interval"`
	Open     float64   `json:"open"`
	High     float64   `json:"high"`
	Low      float64   `json:"low"`
	Close    float64   `json:"close"`
	Volume   float64   `json:"volume"`
	Turnover float64   `json:"turnover"`
	OpenOI   float64   `json:"open_interest"`
}

// Tick is a top-of-book market data snapshot
type Tick struct {
	VtSymbol   string    `json:"vt_symbol"`
	Datetime   time.Time `json:"datetime"`
	LastPrice  float64   `json:"last_price"`
	Volume     float64   `json:"volume"`
	BidPrice1  float64   `json:"bid_price_1"`
	BidVolume1 float64   `json:"bid_volume_1"`
	AskPrice1  float64   `json:"ask_price_1"`
	AskVolume1 float64   `json:"ask_volume_1"`
	LimitUp    float64   `json:"limit_up"`
	LimitDown  float64   `json:"limit_down"`
}

// Spread returns ask1 - bid1
func (t *Tick) Spread() float64 {
	return t.AskPrice1 - t.BidPrice1
}

// Contract carries the static contract metadata needed by the engine
type Contract struct {
	VtSymbol   string     `json:"vt_symbol"`
	Symbol     string     `json:"symbol"`
	Exchange   string     `json:"exchange"`
	Product    string     `json:"product"`
	Name       string     `json:"name"`
	PriceTick  float64    `json:"pricetick"`
	Multiplier float64    `json:"multiplier"`
	MinVolume  float64    `json:"min_volume"`
	IsOption   bool       `json:"is_option"`
	OptionType OptionType `json:"option_type,omitempty"`
	Strike     float64    `json:"strike,omitempty"`
	Underlying string     `json:"underlying,omitempty"`
	Expiry     time.Time  `json:"expiry,omitempty"`
}

// AccountSnapshot is the broker account state at one point in time
type AccountSnapshot struct {
	Balance   float64   `json:"balance"`
	Available float64   `json:"available"`
	Frozen    float64   `json:"frozen"`
	Timestamp time.Time `json:"timestamp"`
}

// OptionQuote is one row of an option chain used by the option selector
type OptionQuote struct {
	VtSymbol         string     `json:"vt_symbol"`
	UnderlyingSymbol string     `json:"underlying_symbol"`
	OptionType       OptionType `json:"option_type"`
	StrikePrice      float64    `json:"strike_price"`
	ExpiryDate       string     `json:"expiry_date"`
	DaysToExpiry     int        `json:"days_to_expiry"`
	BidPrice         float64    `json:"bid_price"`
	BidVolume        int        `json:"bid_volume"`
	AskPrice         float64    `json:"ask_price"`
	AskVolume        int        `json:"ask_volume"`
	Volume           float64    `json:"volume"`
	Moneyness        float64    `json:"moneyness"`
}
