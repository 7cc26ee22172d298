// Package advorders implements the advanced order scheduler: iceberg,
// TWAP, VWAP and timed-split execution of a parent order as a sequence
// of child orders.
package advorders

import (
	"errors"
	"time"

	"github.com/quantfisher/voltrader/internal/domain"
	"github.com/quantfisher/voltrader/internal/events"
)

// AlgoType identifies the split algorithm of an advanced order
type AlgoType string

const (
	AlgoIceberg        AlgoType = "ICEBERG"
	AlgoClassicIceberg AlgoType = "CLASSIC_ICEBERG"
	AlgoTimedSplit     AlgoType = "TIMED_SPLIT"
	AlgoTWAP           AlgoType = "TWAP"
	AlgoEnhancedTWAP   AlgoType = "ENHANCED_TWAP"
	AlgoVWAP           AlgoType = "VWAP"
)

// Status of an advanced order
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusActive    Status = "ACTIVE"
	StatusComplete  Status = "COMPLETE"
	StatusCancelled Status = "CANCELLED"
)

// Validation errors
var (
	ErrInvalidVolume   = errors.New("volume must be positive")
	ErrInvalidSlices   = errors.New("slice count must be positive")
	ErrInvalidWindow   = errors.New("time window must be positive")
	ErrInvalidRatio    = errors.New("randomization ratio must be in [0, 1]")
	ErrEmptyProfile    = errors.New("volume profile must be non-empty")
	ErrUnknownParent   = errors.New("unknown advanced order")
)

// ChildOrder is one slice of an advanced order
type ChildOrder struct {
	Index         int       `json:"index"`
	Volume        int       `json:"volume"`
	PriceOffset   float64   `json:"price_offset"` // signed ticks added to the parent price
	ScheduledTime time.Time `json:"scheduled_time"`
	VtOrderID     string    `json:"vt_orderid,omitempty"`
	Filled        int       `json:"filled"`
	Submitted     bool      `json:"submitted"`
	Cancelled     bool      `json:"cancelled"`
}

// AdvancedOrder is a parent order split into scheduled children
type AdvancedOrder struct {
	AdvancedID string                  `json:"advanced_id"`
	Algo       AlgoType                `json:"algo"`
	Parent     domain.OrderInstruction `json:"parent"`
	Status     Status                  `json:"status"`
	Children   []ChildOrder            `json:"children"`
	CreateTime time.Time               `json:"create_time"`
}

// FilledVolume returns the total filled across children
func (o *AdvancedOrder) FilledVolume() int {
	total := 0
	for _, c := range o.Children {
		total += c.Filled
	}
	return total
}

// RemainingVolume returns the volume not yet filled
func (o *AdvancedOrder) RemainingVolume() int {
	return o.Parent.Volume - o.FilledVolume()
}

// sequential reports whether children must wait for the previous fill
func (o *AdvancedOrder) sequential() bool {
	return o.Algo == AlgoIceberg || o.Algo == AlgoClassicIceberg
}

// completeEventType returns the completion event for the algorithm
func (o *AdvancedOrder) completeEventType() events.EventType {
	switch o.Algo {
	case AlgoIceberg, AlgoClassicIceberg:
		return events.IcebergComplete
	case AlgoTWAP, AlgoEnhancedTWAP:
		return events.TWAPComplete
	case AlgoVWAP:
		return events.VWAPComplete
	default:
		return events.TimedSplitComplete
	}
}

// cancelEventType returns the cancellation event for the algorithm
func (o *AdvancedOrder) cancelEventType() events.EventType {
	switch o.Algo {
	case AlgoIceberg, AlgoClassicIceberg:
		return events.IcebergCancelled
	default:
		return events.TWAPCancelled
	}
}
