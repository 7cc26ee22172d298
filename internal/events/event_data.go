package events

import "time"

// ManualCloseDetectedData is published when the broker reports a position
// decrease that no tracked fill explains. The strategy corrects its own
// records and alerts the trader.
type ManualCloseDetectedData struct {
	VtSymbol string `json:"vt_symbol"`
	Volume   int    `json:"volume"`
}

// EventType returns the event type for ManualCloseDetectedData
func (d *ManualCloseDetectedData) EventType() EventType { return ManualCloseDetected }

// ManualOpenDetectedData is published when the broker reports a position
// increase the strategy did not initiate. The strategy will not manage the
// extra volume.
type ManualOpenDetectedData struct {
	VtSymbol string `json:"vt_symbol"`
	Volume   int    `json:"volume"`
}

// EventType returns the event type for ManualOpenDetectedData
func (d *ManualOpenDetectedData) EventType() EventType { return ManualOpenDetected }

// SignalGeneratedData records an open or close signal firing
type SignalGeneratedData struct {
	VtSymbol string `json:"vt_symbol"`
	Signal   string `json:"signal"`
	Reason   string `json:"reason,omitempty"`
}

// EventType returns the event type for SignalGeneratedData
func (d *SignalGeneratedData) EventType() EventType { return SignalGenerated }

// PositionClosedData records a position reaching zero volume
type PositionClosedData struct {
	VtSymbol       string  `json:"vt_symbol"`
	Signal         string  `json:"signal"`
	HoldingSeconds float64 `json:"holding_seconds"`
	PnL            float64 `json:"pnl"`
}

// EventType returns the event type for PositionClosedData
func (d *PositionClosedData) EventType() EventType { return PositionClosed }

// OrderStatusChangedData records a broker-side order transition
type OrderStatusChangedData struct {
	VtOrderID string `json:"vt_orderid"`
	VtSymbol  string `json:"vt_symbol"`
	OldStatus string `json:"old_status"`
	NewStatus string `json:"new_status"`
	Message   string `json:"message,omitempty"`
}

// EventType returns the event type for OrderStatusChangedData
func (d *OrderStatusChangedData) EventType() EventType { return OrderStatusChanged }

// OrderTimeoutData is published when a managed order exceeds its deadline
type OrderTimeoutData struct {
	VtOrderID      string  `json:"vt_orderid"`
	VtSymbol       string  `json:"vt_symbol"`
	ElapsedSeconds float64 `json:"elapsed_seconds"`
}

// EventType returns the event type for OrderTimeoutData
func (d *OrderTimeoutData) EventType() EventType { return OrderTimeout }

// OrderRetryExhaustedData is published when a managed order runs out of retries
type OrderRetryExhaustedData struct {
	VtOrderID  string `json:"vt_orderid"`
	VtSymbol   string `json:"vt_symbol"`
	RetryCount int    `json:"retry_count"`
}

// EventType returns the event type for OrderRetryExhaustedData
func (d *OrderRetryExhaustedData) EventType() EventType { return OrderRetryExhausted }

// RiskLimitExceededData is published when a daily open cap is reached
type RiskLimitExceededData struct {
	VtSymbol      string `json:"vt_symbol"`
	LimitType     string `json:"limit_type"` // "global" or "contract"
	CurrentVolume int    `json:"current_volume"`
	LimitVolume   int    `json:"limit_volume"`
}

// EventType returns the event type for RiskLimitExceededData
func (d *RiskLimitExceededData) EventType() EventType { return RiskLimitExceeded }

// GreeksRiskBreachData is published on an ok->breach transition of a Greeks
// threshold, at position or portfolio level.
type GreeksRiskBreachData struct {
	Level        string  `json:"level"`      // "position" | "portfolio"
	GreekName    string  `json:"greek_name"` // "delta" | "gamma" | "vega" | "theta"
	CurrentValue float64 `json:"current_value"`
	LimitValue   float64 `json:"limit_value"`
	VtSymbol     string  `json:"vt_symbol,omitempty"`
}

// EventType returns the event type for GreeksRiskBreachData
func (d *GreeksRiskBreachData) EventType() EventType { return GreeksRiskBreach }

// AdvancedOrderCompleteData is shared by the scheduler completion events
type AdvancedOrderCompleteData struct {
	kind         EventType
	OrderID      string `json:"order_id"`
	VtSymbol     string `json:"vt_symbol"`
	TotalVolume  int    `json:"total_volume"`
	FilledVolume int    `json:"filled_volume"`
}

// EventType returns the completion event type for the order's algorithm
func (d *AdvancedOrderCompleteData) EventType() EventType { return d.kind }

// NewAdvancedOrderComplete builds a completion event of the given kind
func NewAdvancedOrderComplete(kind EventType, orderID, vtSymbol string, total, filled int) *AdvancedOrderCompleteData {
	return &AdvancedOrderCompleteData{
		kind:         kind,
		OrderID:      orderID,
		VtSymbol:     vtSymbol,
		TotalVolume:  total,
		FilledVolume: filled,
	}
}

// AdvancedOrderCancelledData is shared by the scheduler cancellation events
type AdvancedOrderCancelledData struct {
	kind            EventType
	OrderID         string `json:"order_id"`
	VtSymbol        string `json:"vt_symbol"`
	FilledVolume    int    `json:"filled_volume"`
	RemainingVolume int    `json:"remaining_volume"`
}

// EventType returns the cancellation event type for the order's algorithm
func (d *AdvancedOrderCancelledData) EventType() EventType { return d.kind }

// NewAdvancedOrderCancelled builds a cancellation event of the given kind
func NewAdvancedOrderCancelled(kind EventType, orderID, vtSymbol string, filled, remaining int) *AdvancedOrderCancelledData {
	return &AdvancedOrderCancelledData{
		kind:            kind,
		OrderID:         orderID,
		VtSymbol:        vtSymbol,
		FilledVolume:    filled,
		RemainingVolume: remaining,
	}
}

// HedgeExecutedData records a delta hedge instruction being produced
type HedgeExecutedData struct {
	HedgeVolume          int     `json:"hedge_volume"`
	HedgeDirection       string  `json:"hedge_direction"`
	PortfolioDeltaBefore float64 `json:"portfolio_delta_before"`
	PortfolioDeltaAfter  float64 `json:"portfolio_delta_after"`
	HedgeInstrument      string  `json:"hedge_instrument"`
}

// EventType returns the event type for HedgeExecutedData
func (d *HedgeExecutedData) EventType() EventType { return HedgeExecuted }

// GammaScalpData records a gamma-scalp rebalance instruction being produced
type GammaScalpData struct {
	RebalanceVolume      int     `json:"rebalance_volume"`
	RebalanceDirection   string  `json:"rebalance_direction"`
	PortfolioDeltaBefore float64 `json:"portfolio_delta_before"`
	PortfolioGamma       float64 `json:"portfolio_gamma"`
	HedgeInstrument      string  `json:"hedge_instrument"`
}

// EventType returns the event type for GammaScalpData
func (d *GammaScalpData) EventType() EventType { return GammaScalp }

// ActiveContractChangedData records a rollover of the dominant contract
type ActiveContractChangedData struct {
	Product   string    `json:"product"`
	OldSymbol string    `json:"old_symbol"`
	NewSymbol string    `json:"new_symbol"`
	At        time.Time `json:"at"`
}

// EventType returns the event type for ActiveContractChangedData
func (d *ActiveContractChangedData) EventType() EventType { return ActiveContractChanged }
