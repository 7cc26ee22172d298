// Package instruments holds per-symbol market state: bar history,
// indicators and the active contract map.
package instruments

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfisher/voltrader/internal/domain"
	"github.com/quantfisher/voltrader/internal/events"
)

// ErrStaleBar is returned when a bar does not advance the series datetime
var ErrStaleBar = errors.New("bar datetime does not advance the series")

// Instrument is the per-symbol aggregate state. Indicators is written by
// the indicator service and read by signal services.
type Instrument struct {
	VtSymbol   string
	Bars       []domain.Bar
	Indicators map[string]float64
}

// LatestBar returns the newest bar, or false when the series is empty
func (i *Instrument) LatestBar() (domain.Bar, bool) {
	if len(i.Bars) == 0 {
		return domain.Bar{}, false
	}
	return i.Bars[len(i.Bars)-1], true
}

// Aggregate owns all instruments and the product -> active contract map.
// Callers outside the engine only see copies.
type Aggregate struct {
	mu          sync.RWMutex
	instruments map[string]*Instrument
	active      map[string]string
	maxBars     int
	log         zerolog.Logger

	pendingEvents []events.EventData
}

// NewAggregate creates an empty aggregate. maxBars bounds per-symbol
// history; zero means unbounded.
func NewAggregate(maxBars int, log zerolog.Logger) *Aggregate {
	return &Aggregate{
		instruments: make(map[string]*Instrument),
		active:      make(map[string]string),
		maxBars:     maxBars,
		log:         log.With().Str("component", "instruments").Logger(),
	}
}

// GetOrCreate returns the instrument for vtSymbol, creating it if absent
func (a *Aggregate) GetOrCreate(vtSymbol string) *Instrument {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.getOrCreateLocked(vtSymbol)
}

func (a *Aggregate) getOrCreateLocked(vtSymbol string) *Instrument {
	inst, ok := a.instruments[vtSymbol]
	if !ok {
		inst = &Instrument{
			VtSymbol:   vtSymbol,
			Indicators: make(map[string]float64),
		}
		a.instruments[vtSymbol] = inst
	}
	return inst
}

// AppendBar adds a bar to the symbol's history. The series datetime must
// strictly increase; duplicates and regressions are rejected.
func (a *Aggregate) AppendBar(vtSymbol string, bar domain.Bar) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	inst := a.getOrCreateLocked(vtSymbol)
	if n := len(inst.Bars); n > 0 {
		last := inst.Bars[n-1].Datetime
		if !bar.Datetime.After(last) {
			return fmt.Errorf("%w: %s has %s, got %s",
				ErrStaleBar, vtSymbol, last.Format(time.RFC3339), bar.Datetime.Format(time.RFC3339))
		}
	}
	inst.Bars = append(inst.Bars, bar)
	if a.maxBars > 0 && len(inst.Bars) > a.maxBars {
		inst.Bars = inst.Bars[len(inst.Bars)-a.maxBars:]
	}
	return nil
}

// GetBarHistory returns a copy of the newest n bars for vtSymbol
func (a *Aggregate) GetBarHistory(vtSymbol string, n int) []domain.Bar {
	a.mu.RLock()
	defer a.mu.RUnlock()

	inst, ok := a.instruments[vtSymbol]
	if !ok || len(inst.Bars) == 0 {
		return nil
	}
	bars := inst.Bars
	if n > 0 && len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return append([]domain.Bar(nil), bars...)
}

// GetLatestPrice returns the last close of vtSymbol, or false when no
// bars have been seen.
func (a *Aggregate) GetLatestPrice(vtSymbol string) (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	inst, ok := a.instruments[vtSymbol]
	if !ok || len(inst.Bars) == 0 {
		return 0, false
	}
	return inst.Bars[len(inst.Bars)-1].Close, true
}

// HasEnoughData reports whether vtSymbol has at least minLen bars
func (a *Aggregate) HasEnoughData(vtSymbol string, minLen int) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()

	inst, ok := a.instruments[vtSymbol]
	return ok && len(inst.Bars) >= minLen
}

// SetActiveContract updates the product's active contract. A change is
// recorded as an ActiveContractChanged event; setting the same symbol
// again is a no-op.
func (a *Aggregate) SetActiveContract(product, vtSymbol string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	old := a.active[product]
	if old == vtSymbol {
		return
	}
	a.active[product] = vtSymbol
	a.log.Info().
		Str("product", product).
		Str("old_symbol", old).
		Str("new_symbol", vtSymbol).
		Msg("Active contract changed")
	a.pendingEvents = append(a.pendingEvents, &events.ActiveContractChangedData{
		Product:   product,
		OldSymbol: old,
		NewSymbol: vtSymbol,
		At:        time.Now(),
	})
}

// GetActiveContract returns the active contract for product
func (a *Aggregate) GetActiveContract(product string) (string, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.active[product]
	return s, ok
}

// GetAllActiveContracts returns a copy of the product -> symbol map
func (a *Aggregate) GetAllActiveContracts() map[string]string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make(map[string]string, len(a.active))
	for k, v := range a.active {
		out[k] = v
	}
	return out
}

// Symbols returns all tracked symbols
func (a *Aggregate) Symbols() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]string, 0, len(a.instruments))
	for s := range a.instruments {
		out = append(out, s)
	}
	return out
}

// Indicators returns a copy of the symbol's indicator map
func (a *Aggregate) Indicators(vtSymbol string) map[string]float64 {
	a.mu.RLock()
	defer a.mu.RUnlock()

	inst, ok := a.instruments[vtSymbol]
	if !ok {
		return nil
	}
	out := make(map[string]float64, len(inst.Indicators))
	for k, v := range inst.Indicators {
		out[k] = v
	}
	return out
}

// PopDomainEvents drains and returns the accumulated events
func (a *Aggregate) PopDomainEvents() []events.EventData {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.pendingEvents
	a.pendingEvents = nil
	return out
}
