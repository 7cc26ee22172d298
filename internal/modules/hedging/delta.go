// Package hedging produces delta hedge and gamma scalp instructions
// from portfolio Greeks.
package hedging

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/quantfisher/voltrader/internal/domain"
	"github.com/quantfisher/voltrader/internal/events"
)

// Instruction is a hedge trade to be dispatched by the engine
type Instruction struct {
	VtSymbol  string
	Direction domain.Direction
	Volume    int
}

// DeltaHedger drives portfolio delta back inside the band around target
type DeltaHedger struct {
	TargetDelta     float64
	Band            float64
	HedgeVtSymbol   string
	HedgeUnitDelta  float64
	HedgeMultiplier float64
	log             zerolog.Logger
}

// NewDeltaHedger builds a hedger; zero unit delta and multiplier fall
// back to 1.
func NewDeltaHedger(target, band float64, vtSymbol string, unitDelta, multiplier float64, log zerolog.Logger) *DeltaHedger {
	if unitDelta == 0 {
		unitDelta = 1
	}
	if multiplier == 0 {
		multiplier = 1
	}
	return &DeltaHedger{
		TargetDelta:     target,
		Band:            band,
		HedgeVtSymbol:   vtSymbol,
		HedgeUnitDelta:  unitDelta,
		HedgeMultiplier: multiplier,
		log:             log.With().Str("component", "hedging").Logger(),
	}
}

// perLot is the delta contributed by one hedge lot
func (h *DeltaHedger) perLot() float64 {
	return h.HedgeUnitDelta * h.HedgeMultiplier
}

// Check returns the hedge instruction for the given portfolio delta, or
// nil when the delta sits inside the band or the rounded quantity is
// zero. The event reports the delta before and after the hedge.
func (h *DeltaHedger) Check(portfolioDelta float64) (*Instruction, *events.HedgeExecutedData) {
	gap := portfolioDelta - h.TargetDelta
	if math.Abs(gap) <= h.Band {
		return nil, nil
	}

	lots := int(math.Round(-gap / h.perLot()))
	if lots == 0 {
		return nil, nil
	}

	direction := domain.Long
	if lots < 0 {
		direction = domain.Short
	}
	volume := lots
	if volume < 0 {
		volume = -volume
	}
	after := portfolioDelta + float64(lots)*h.perLot()

	h.log.Info().
		Float64("portfolio_delta", portfolioDelta).
		Float64("target", h.TargetDelta).
		Int("hedge_volume", volume).
		Str("direction", string(direction)).
		Float64("delta_after", after).
		Msg("Delta hedge required")

	return &Instruction{
			VtSymbol:  h.HedgeVtSymbol,
			Direction: direction,
			Volume:    volume,
		}, &events.HedgeExecutedData{
			HedgeVolume:          volume,
			HedgeDirection:       string(direction),
			PortfolioDeltaBefore: portfolioDelta,
			PortfolioDeltaAfter:  after,
			HedgeInstrument:      h.HedgeVtSymbol,
		}
}

// GammaScalper rebalances delta to zero while the portfolio is long gamma
type GammaScalper struct {
	RebalanceThreshold float64
	HedgeVtSymbol      string
	HedgeUnitDelta     float64
	HedgeMultiplier    float64
	log                zerolog.Logger
}

// NewGammaScalper builds a scalper; zero unit delta and multiplier fall
// back to 1.
func NewGammaScalper(threshold float64, vtSymbol string, unitDelta, multiplier float64, log zerolog.Logger) *GammaScalper {
	if unitDelta == 0 {
		unitDelta = 1
	}
	if multiplier == 0 {
		multiplier = 1
	}
	return &GammaScalper{
		RebalanceThreshold: threshold,
		HedgeVtSymbol:      vtSymbol,
		HedgeUnitDelta:     unitDelta,
		HedgeMultiplier:    multiplier,
		log:                log.With().Str("component", "scalping").Logger(),
	}
}

// Check returns a rebalance instruction, or nil. Scalping requires long
// gamma: non-positive gamma always refuses.
func (g *GammaScalper) Check(portfolioDelta, portfolioGamma float64) (*Instruction, *events.GammaScalpData) {
	if portfolioGamma <= 0 {
		return nil, nil
	}
	if math.Abs(portfolioDelta) <= g.RebalanceThreshold {
		return nil, nil
	}

	perLot := g.HedgeUnitDelta * g.HedgeMultiplier
	lots := int(math.Round(-portfolioDelta / perLot))
	if lots == 0 {
		return nil, nil
	}

	direction := domain.Long
	if lots < 0 {
		direction = domain.Short
	}
	volume := lots
	if volume < 0 {
		volume = -volume
	}

	g.log.Info().
		Float64("portfolio_delta", portfolioDelta).
		Float64("portfolio_gamma", portfolioGamma).
		Int("rebalance_volume", volume).
		Str("direction", string(direction)).
		Msg("Gamma scalp rebalance")

	return &Instruction{
			VtSymbol:  g.HedgeVtSymbol,
			Direction: direction,
			Volume:    volume,
		}, &events.GammaScalpData{
			RebalanceVolume:      volume,
			RebalanceDirection:   string(direction),
			PortfolioDeltaBefore: portfolioDelta,
			PortfolioGamma:       portfolioGamma,
			HedgeInstrument:      g.HedgeVtSymbol,
		}
}
