// Package domain provides core domain models and types.
package domain

// Direction represents the side of an order or position
type Direction string

const (
	Long  Direction = "long"
	Short Direction = "short"
)

// Opposite returns the opposite direction
func (d Direction) Opposite() Direction {
	if d == Long {
		return Short
	}
	return Long
}

// Offset represents the open/close flag of an order
type Offset string

const (
	OffsetOpen           Offset = "open"
	OffsetClose          Offset = "close"
	OffsetCloseToday     Offset = "closetoday"
	OffsetCloseYesterday Offset = "closeyesterday"
)

// IsClose reports whether the offset closes an existing position
func (o Offset) IsClose() bool {
	return o == OffsetClose || o == OffsetCloseToday || o == OffsetCloseYesterday
}

// OrderType represents the execution type of an order
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
	OrderTypeFAK    OrderType = "fak"
	OrderTypeFOK    OrderType = "fok"
)

// OrderStatus represents the broker-side lifecycle state of an order
type OrderStatus string

const (
	StatusSubmitting OrderStatus = "submitting"
	StatusNotTraded  OrderStatus = "nottraded"
	StatusPartTraded OrderStatus = "parttraded"
	StatusAllTraded  OrderStatus = "alltraded"
	StatusCancelled  OrderStatus = "cancelled"
	StatusRejected   OrderStatus = "rejected"
)

// IsActive reports whether the order may still trade
func (s OrderStatus) IsActive() bool {
	return s == StatusSubmitting || s == StatusNotTraded || s == StatusPartTraded
}

// IsFinished reports whether the order reached a terminal state
func (s OrderStatus) IsFinished() bool {
	return s == StatusAllTraded || s == StatusCancelled || s == StatusRejected
}

// OptionType distinguishes calls from puts
type OptionType string

const (
	OptionCall OptionType = "call"
	OptionPut  OptionType = "put"
)

// Interval represents a bar interval
type Interval string

const (
	IntervalMinute Interval = "1m"
	IntervalHour   Interval = "1h"
	IntervalDaily  Interval = "d"
)
