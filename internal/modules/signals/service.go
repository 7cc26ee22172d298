// Package signals defines the pluggable signal ports. Signal names are
// free-form strings; the engine only tags positions and events with them.
package signals

import (
	"github.com/quantfisher/voltrader/internal/domain"
	"github.com/quantfisher/voltrader/internal/modules/instruments"
)

// Service decides when to open and close positions for an instrument.
// Empty string means no signal.
type Service interface {
	CheckOpenSignal(inst *instruments.Instrument) string
	CheckCloseSignal(inst *instruments.Instrument, position domain.Position) string
}

// MeanReversion is a reference signal service: it sells volatility when
// RSI stretches away from its band and closes when it reverts.
type MeanReversion struct {
	UpperRSI float64
	LowerRSI float64
	ExitRSI  float64
}

// NewMeanReversion returns the reference signal service with its
// documented thresholds.
func NewMeanReversion() *MeanReversion {
	return &MeanReversion{UpperRSI: 70, LowerRSI: 30, ExitRSI: 50}
}

// CheckOpenSignal implements Service
func (m *MeanReversion) CheckOpenSignal(inst *instruments.Instrument) string {
	rsi, ok := inst.Indicators["rsi"]
	if !ok {
		return ""
	}
	switch {
	case rsi >= m.UpperRSI:
		return "sell_call_rsi_overbought"
	case rsi <= m.LowerRSI:
		return "sell_put_rsi_oversold"
	}
	return ""
}

// CheckCloseSignal implements Service
func (m *MeanReversion) CheckCloseSignal(inst *instruments.Instrument, position domain.Position) string {
	rsi, ok := inst.Indicators["rsi"]
	if !ok {
		return ""
	}
	switch position.Signal {
	case "sell_call_rsi_overbought":
		if rsi <= m.ExitRSI {
			return "close_rsi_reverted"
		}
	case "sell_put_rsi_oversold":
		if rsi >= m.ExitRSI {
			return "close_rsi_reverted"
		}
	}
	return ""
}
