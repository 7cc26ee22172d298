package instruments

import "github.com/quantfisher/voltrader/internal/domain"

// InstrumentState is the persisted form of one instrument
type InstrumentState struct {
	VtSymbol   string             `json:"vt_symbol"`
	Bars       []domain.Bar       `json:"bars"`
	Indicators map[string]float64 `json:"indicators"`
}

// State is the persisted form of the whole aggregate
type State struct {
	Instruments     map[string]InstrumentState `json:"instruments"`
	ActiveContracts map[string]string          `json:"active_contracts"`
}

// Snapshot returns a deep copy of the aggregate state for persistence
func (a *Aggregate) Snapshot() State {
	a.mu.RLock()
	defer a.mu.RUnlock()

	st := State{
		Instruments:     make(map[string]InstrumentState, len(a.instruments)),
		ActiveContracts: make(map[string]string, len(a.active)),
	}
	for sym, inst := range a.instruments {
		ind := make(map[string]float64, len(inst.Indicators))
		for k, v := range inst.Indicators {
			ind[k] = v
		}
		st.Instruments[sym] = InstrumentState{
			VtSymbol:   sym,
			Bars:       append([]domain.Bar(nil), inst.Bars...),
			Indicators: ind,
		}
	}
	for k, v := range a.active {
		st.ActiveContracts[k] = v
	}
	return st
}

// Restore replaces the aggregate state with a persisted snapshot.
// Restoring does not emit active contract events.
func (a *Aggregate) Restore(st State) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.instruments = make(map[string]*Instrument, len(st.Instruments))
	for sym, is := range st.Instruments {
		ind := is.Indicators
		if ind == nil {
			ind = make(map[string]float64)
		}
		a.instruments[sym] = &Instrument{
			VtSymbol:   sym,
			Bars:       append([]domain.Bar(nil), is.Bars...),
			Indicators: ind,
		}
	}
	a.active = make(map[string]string, len(st.ActiveContracts))
	for k, v := range st.ActiveContracts {
		a.active[k] = v
	}
	a.pendingEvents = nil
}
