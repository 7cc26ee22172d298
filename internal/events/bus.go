// Package events provides the in-process event bus and the typed domain
// events published by the engine. Delivery is synchronous: handlers run on
// the publisher's stack, in registration order.
package events

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
)

// EventType identifies a class of domain event
type EventType string

const (
	ManualCloseDetected    EventType = "manual_close_detected"
	ManualOpenDetected     EventType = "manual_open_detected"
	SignalGenerated        EventType = "signal_generated"
	PositionClosed         EventType = "position_closed"
	OrderStatusChanged     EventType = "order_status_changed"
	OrderTimeout           EventType = "order_timeout"
	OrderRetryExhausted    EventType = "order_retry_exhausted"
	RiskLimitExceeded      EventType = "risk_limit_exceeded"
	GreeksRiskBreach       EventType = "greeks_risk_breach"
	IcebergComplete        EventType = "iceberg_complete"
	IcebergCancelled       EventType = "iceberg_cancelled"
	TWAPComplete           EventType = "twap_complete"
	TWAPCancelled          EventType = "twap_cancelled"
	VWAPComplete           EventType = "vwap_complete"
	TimedSplitComplete     EventType = "timed_split_complete"
	HedgeExecuted          EventType = "hedge_executed"
	GammaScalp             EventType = "gamma_scalp"
	ActiveContractChanged  EventType = "active_contract_changed"
)

// EventData is implemented by every event payload
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// Event wraps a payload with its metadata
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Module    string    `json:"module"`
	Data      EventData `json:"data"`
}

// Handler receives published events
type Handler func(Event)

// Bus is a synchronous in-process publish/subscribe bus. It is not safe for
// concurrent use; the worker's single event loop is the only publisher.
type Bus struct {
	handlers map[EventType][]Handler
	all      []Handler
	log      zerolog.Logger
}

// NewBus creates a new event bus
func NewBus(log zerolog.Logger) *Bus {
	return &Bus{
		handlers: make(map[EventType][]Handler),
		log:      log.With().Str("service", "events").Logger(),
	}
}

// Subscribe registers a handler for one event type
func (b *Bus) Subscribe(eventType EventType, h Handler) {
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// SubscribeAll registers a handler for every event type
func (b *Bus) SubscribeAll(h Handler) {
	b.all = append(b.all, h)
}

// Publish delivers an event to all matching handlers and logs it
func (b *Bus) Publish(module string, data EventData) {
	if data == nil {
		return
	}
	event := Event{
		Type:      data.EventType(),
		Timestamp: time.Now(),
		Module:    module,
		Data:      data,
	}

	payload, _ := json.Marshal(data)
	b.log.Info().
		Str("event_type", string(event.Type)).
		Str("module", module).
		RawJSON("event", payload).
		Msg("Event emitted")

	for _, h := range b.handlers[event.Type] {
		h(event)
	}
	for _, h := range b.all {
		h(event)
	}
}

// PublishAll publishes a batch of events in order
func (b *Bus) PublishAll(module string, batch []EventData) {
	for _, data := range batch {
		b.Publish(module, data)
	}
}
