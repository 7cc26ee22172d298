package risk

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfisher/voltrader/internal/domain"
	"github.com/quantfisher/voltrader/internal/events"
	"github.com/quantfisher/voltrader/internal/modules/greeks"
)

func newTestAggregator() *Aggregator {
	return NewAggregator(
		Thresholds{Delta: 50, Gamma: 10, Vega: 100, Theta: 100},
		Thresholds{Delta: 200, Gamma: 50, Vega: 500, Theta: 500},
		zerolog.Nop(),
	)
}

func TestCheckPositionRisk(t *testing.T) {
	a := newTestAggregator()

	ok, fields := a.CheckPositionRisk(domain.Position{}, greeks.Snapshot{Delta: 10, Vega: 50})
	assert.True(t, ok)
	assert.Empty(t, fields)

	ok, fields = a.CheckPositionRisk(domain.Position{}, greeks.Snapshot{Delta: -60, Vega: 150})
	assert.False(t, ok)
	assert.Equal(t, []string{"delta", "vega"}, fields)
}

func TestPortfolioAggregationWeighting(t *testing.T) {
	a := newTestAggregator()

	positions := []domain.Position{
		{VtSymbol: "C3900", Direction: domain.Long, Volume: 2},
		{VtSymbol: "P3800", Direction: domain.Short, Volume: 3},
	}
	per := map[string]greeks.Snapshot{
		"C3900": {Delta: 0.5, Gamma: 0.1, Vega: 10, Theta: -5},
		"P3800": {Delta: -0.4, Gamma: 0.1, Vega: 12, Theta: -6},
	}
	mult := map[string]float64{"C3900": 10, "P3800": 10}

	total, _ := a.AggregatePortfolioGreeks(positions, per, mult)

	// long 2x10x0.5 = 10; short 3x10x(-0.4) negated = +12
	assert.InDelta(t, 22.0, total.Delta, 1e-9)
	assert.InDelta(t, 2*10*0.1-3*10*0.1, total.Gamma, 1e-9)
	assert.InDelta(t, 2*10*10-3*10*12, total.Vega, 1e-9)
}

func TestBreachEventsAreEdgeTriggered(t *testing.T) {
	a := newTestAggregator()

	positions := []domain.Position{{VtSymbol: "C3900", Direction: domain.Long, Volume: 50}}
	hot := map[string]greeks.Snapshot{"C3900": {Delta: 0.9}}
	mult := map[string]float64{"C3900": 10}

	// 50 * 10 * 0.9 = 450: breaches position delta (50) and portfolio delta (200)
	_, evts := a.AggregatePortfolioGreeks(positions, hot, mult)
	require.Len(t, evts, 2)
	assert.False(t, a.InLimits())

	// Same state again: no repeat events
	_, evts = a.AggregatePortfolioGreeks(positions, hot, mult)
	assert.Empty(t, evts)
	assert.False(t, a.InLimits())

	// Recovery clears the standing breach silently
	cool := map[string]greeks.Snapshot{"C3900": {Delta: 0.01}}
	_, evts = a.AggregatePortfolioGreeks(positions, cool, mult)
	assert.Empty(t, evts)
	assert.True(t, a.InLimits())

	// Breaching again after recovery fires again
	_, evts = a.AggregatePortfolioGreeks(positions, hot, mult)
	require.Len(t, evts, 2)
	breach := evts[1].(*events.GreeksRiskBreachData)
	assert.Equal(t, "portfolio", breach.Level)
	assert.Equal(t, "delta", breach.GreekName)
}

func TestMissingGreeksSkipped(t *testing.T) {
	a := newTestAggregator()
	positions := []domain.Position{{VtSymbol: "unknown", Direction: domain.Long, Volume: 1}}

	total, evts := a.AggregatePortfolioGreeks(positions, nil, nil)
	assert.Equal(t, greeks.Snapshot{}, total)
	assert.Empty(t, evts)
}
