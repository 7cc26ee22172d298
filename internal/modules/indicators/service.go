// Package indicators computes per-bar technical indicators into the
// instrument aggregate.
package indicators

import (
	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/quantfisher/voltrader/internal/domain"
	"github.com/quantfisher/voltrader/internal/modules/instruments"
)

// Service is the indicator port. CalculateBar writes its outputs into
// the instrument's indicator map; signal services read them back.
type Service interface {
	CalculateBar(inst *instruments.Instrument, bar domain.Bar)
	// MinBars is the history needed before outputs are meaningful
	MinBars() int
}

// TalibService computes a standard set of trend and volatility
// indicators with go-talib.
type TalibService struct {
	fastPeriod int
	slowPeriod int
	atrPeriod  int
	rsiPeriod  int
	log        zerolog.Logger
}

// NewTalibService returns the production indicator service
func NewTalibService(log zerolog.Logger) *TalibService {
	return &TalibService{
		fastPeriod: 5,
		slowPeriod: 20,
		atrPeriod:  14,
		rsiPeriod:  14,
		log:        log.With().Str("component", "indicators").Logger(),
	}
}

// MinBars implements Service
func (s *TalibService) MinBars() int { return s.slowPeriod + 1 }

// CalculateBar implements Service. With insufficient history it writes
// nothing; signal services treat missing keys as "not ready".
func (s *TalibService) CalculateBar(inst *instruments.Instrument, bar domain.Bar) {
	if len(inst.Bars) < s.MinBars() {
		return
	}

	n := len(inst.Bars)
	high := make([]float64, n)
	low := make([]float64, n)
	closes := make([]float64, n)
	for i, b := range inst.Bars {
		high[i] = b.High
		low[i] = b.Low
		closes[i] = b.Close
	}

	fast := talib.Ema(closes, s.fastPeriod)
	slow := talib.Ema(closes, s.slowPeriod)
	atr := talib.Atr(high, low, closes, s.atrPeriod)
	rsi := talib.Rsi(closes, s.rsiPeriod)

	inst.Indicators["ema_fast"] = fast[n-1]
	inst.Indicators["ema_slow"] = slow[n-1]
	inst.Indicators["atr"] = atr[n-1]
	inst.Indicators["rsi"] = rsi[n-1]
	inst.Indicators["close"] = bar.Close
}
