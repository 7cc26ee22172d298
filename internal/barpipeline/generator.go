package barpipeline

import (
	"sync"
	"time"

	"github.com/quantfisher/voltrader/internal/domain"
)

// BarGenerator assembles broker ticks into one-minute bars. When a tick
// crosses a minute boundary the finished bars for all symbols are
// handed to the sink together. Tick volume is cumulative per session;
// the generator tracks the per-bar delta.
type BarGenerator struct {
	mu sync.Mutex

	sink       func(bars map[string]domain.Bar)
	minute     time.Time
	partial    map[string]*domain.Bar
	lastVolume map[string]float64
}

// NewBarGenerator builds a generator feeding sink
func NewBarGenerator(sink func(bars map[string]domain.Bar)) *BarGenerator {
	return &BarGenerator{
		sink:       sink,
		partial:    make(map[string]*domain.Bar),
		lastVolume: make(map[string]float64),
	}
}

// OnTick merges a tick into the current minute bar
func (g *BarGenerator) OnTick(t domain.Tick) {
	if t.LastPrice <= 0 {
		return
	}
	minute := t.Datetime.Truncate(time.Minute)

	g.mu.Lock()
	var flush map[string]domain.Bar
	if g.minute.IsZero() {
		g.minute = minute
	} else if minute.After(g.minute) {
		flush = g.drainLocked()
		g.minute = minute
	}

	delta := t.Volume - g.lastVolume[t.VtSymbol]
	if delta < 0 {
		// New session, cumulative volume reset at the broker
		delta = t.Volume
	}
	g.lastVolume[t.VtSymbol] = t.Volume

	bar, ok := g.partial[t.VtSymbol]
	if !ok {
		g.partial[t.VtSymbol] = &domain.Bar{
			VtSymbol: t.VtSymbol,
			Datetime: g.minute,
			Open:     t.LastPrice,
			High:     t.LastPrice,
			Low:      t.LastPrice,
			Close:    t.LastPrice,
			Volume:   delta,
		}
	} else {
		if t.LastPrice > bar.High {
			bar.High = t.LastPrice
		}
		if t.LastPrice < bar.Low {
			bar.Low = t.LastPrice
		}
		bar.Close = t.LastPrice
		bar.Volume += delta
	}
	g.mu.Unlock()

	if len(flush) > 0 {
		g.sink(flush)
	}
}

// Flush force-closes the current minute, used at session end
func (g *BarGenerator) Flush() {
	g.mu.Lock()
	flush := g.drainLocked()
	g.minute = time.Time{}
	g.mu.Unlock()

	if len(flush) > 0 {
		g.sink(flush)
	}
}

func (g *BarGenerator) drainLocked() map[string]domain.Bar {
	out := make(map[string]domain.Bar, len(g.partial))
	for sym, bar := range g.partial {
		out[sym] = *bar
	}
	g.partial = make(map[string]*domain.Bar)
	return out
}
