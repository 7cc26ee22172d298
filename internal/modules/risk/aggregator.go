// Package risk checks per-position and portfolio Greeks against
// configured thresholds, emitting edge-triggered breach events.
package risk

import (
	"math"
	"sync"

	"github.com/rs/zerolog"

	"github.com/quantfisher/voltrader/internal/domain"
	"github.com/quantfisher/voltrader/internal/events"
	"github.com/quantfisher/voltrader/internal/modules/greeks"
)

// Thresholds holds absolute limits for the four Greeks. Zero disables a
// limit.
type Thresholds struct {
	Delta float64
	Gamma float64
	Vega  float64
	Theta float64
}

// exceeded returns the names of Greeks whose magnitude breaks the limits
func (t Thresholds) exceeded(g greeks.Snapshot) []string {
	var out []string
	if t.Delta > 0 && math.Abs(g.Delta) > t.Delta {
		out = append(out, "delta")
	}
	if t.Gamma > 0 && math.Abs(g.Gamma) > t.Gamma {
		out = append(out, "gamma")
	}
	if t.Vega > 0 && math.Abs(g.Vega) > t.Vega {
		out = append(out, "vega")
	}
	if t.Theta > 0 && math.Abs(g.Theta) > t.Theta {
		out = append(out, "theta")
	}
	return out
}

// Aggregator tracks breach state so events fire only on ok -> breach
// transitions.
type Aggregator struct {
	position  Thresholds
	portfolio Thresholds
	log       zerolog.Logger

	mu       sync.Mutex
	breached map[string]bool // "level|greek|symbol" -> currently breached
}

// NewAggregator builds a risk aggregator with the given limits
func NewAggregator(position, portfolio Thresholds, log zerolog.Logger) *Aggregator {
	return &Aggregator{
		position:  position,
		portfolio: portfolio,
		log:       log.With().Str("component", "risk").Logger(),
		breached:  make(map[string]bool),
	}
}

// CheckPositionRisk reports whether the position's Greeks sit inside the
// per-position limits, with the list of breached fields.
func (a *Aggregator) CheckPositionRisk(position domain.Position, g greeks.Snapshot) (bool, []string) {
	fields := a.position.exceeded(g)
	return len(fields) == 0, fields
}

// AggregatePortfolioGreeks sums per-position Greeks weighted by signed
// volume and contract multiplier, returning the portfolio totals and the
// breach events for thresholds crossed since the previous call.
func (a *Aggregator) AggregatePortfolioGreeks(positions []domain.Position, perPosition map[string]greeks.Snapshot, multipliers map[string]float64) (greeks.Snapshot, []events.EventData) {
	var total greeks.Snapshot
	var evts []events.EventData

	for _, p := range positions {
		g, ok := perPosition[p.VtSymbol]
		if !ok {
			continue
		}
		mult := multipliers[p.VtSymbol]
		if mult == 0 {
			mult = 1
		}
		signed := float64(p.Volume) * mult
		if p.Direction == domain.Short {
			signed = -signed
		}
		weighted := g.Scale(signed)
		total = total.Add(weighted)

		evts = append(evts, a.edgeCheck("position", p.VtSymbol, a.position, weighted)...)
	}

	evts = append(evts, a.edgeCheck("portfolio", "", a.portfolio, total)...)
	return total, evts
}

// InLimits reports whether the portfolio currently has any standing
// breach at portfolio level. Used by the engine to block opens.
func (a *Aggregator) InLimits() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	for k, v := range a.breached {
		if v && len(k) > 10 && k[:10] == "portfolio|" {
			return false
		}
	}
	return true
}

func (a *Aggregator) edgeCheck(level, vtSymbol string, limits Thresholds, g greeks.Snapshot) []events.EventData {
	a.mu.Lock()
	defer a.mu.Unlock()

	now := map[string]bool{}
	values := map[string]float64{"delta": g.Delta, "gamma": g.Gamma, "vega": g.Vega, "theta": g.Theta}
	limitOf := map[string]float64{"delta": limits.Delta, "gamma": limits.Gamma, "vega": limits.Vega, "theta": limits.Theta}
	for _, name := range limits.exceeded(g) {
		now[name] = true
	}

	var evts []events.EventData
	for _, name := range []string{"delta", "gamma", "vega", "theta"} {
		key := level + "|" + name + "|" + vtSymbol
		was := a.breached[key]
		is := now[name]
		if is && !was {
			a.log.Warn().
				Str("level", level).
				Str("greek", name).
				Str("vt_symbol", vtSymbol).
				Float64("value", values[name]).
				Float64("limit", limitOf[name]).
				Msg("Greeks risk limit breached")
			evts = append(evts, &events.GreeksRiskBreachData{
				Level:        level,
				GreekName:    name,
				CurrentValue: values[name],
				LimitValue:   limitOf[name],
				VtSymbol:     vtSymbol,
			})
		}
		a.breached[key] = is
	}
	return evts
}
