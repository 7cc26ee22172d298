package positions

import "github.com/quantfisher/voltrader/internal/domain"

// State is the persisted form of the position aggregate
type State struct {
	Positions       []domain.Position `json:"positions"`
	DailyOpenCount  map[string]int    `json:"daily_open_count"`
	GlobalOpenCount int               `json:"global_open_count"`
	LastTradingDate string            `json:"last_trading_date"`
	BrokerVolumes   map[string]int    `json:"broker_volumes"`
}

// Snapshot returns a deep copy of the aggregate state for persistence.
// Pending orders are not persisted; they are reconciled from broker
// events after a restart.
func (a *Aggregate) Snapshot() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	st := State{
		Positions:       make([]domain.Position, 0, len(a.positions)),
		DailyOpenCount:  make(map[string]int, len(a.dailyOpenCount)),
		GlobalOpenCount: a.globalOpenCount,
		LastTradingDate: a.lastTradingDate,
		BrokerVolumes:   make(map[string]int, len(a.brokerVolumes)),
	}
	for _, p := range a.positions {
		st.Positions = append(st.Positions, *p)
	}
	for k, v := range a.dailyOpenCount {
		st.DailyOpenCount[k] = v
	}
	for k, v := range a.brokerVolumes {
		st.BrokerVolumes[k] = v
	}
	return st
}

// Restore replaces the aggregate state with a persisted snapshot
func (a *Aggregate) Restore(st State) {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.positions = make([]*domain.Position, 0, len(st.Positions))
	for i := range st.Positions {
		p := st.Positions[i]
		a.positions = append(a.positions, &p)
	}
	a.dailyOpenCount = make(map[string]int, len(st.DailyOpenCount))
	for k, v := range st.DailyOpenCount {
		a.dailyOpenCount[k] = v
	}
	a.globalOpenCount = st.GlobalOpenCount
	a.lastTradingDate = st.LastTradingDate
	a.brokerVolumes = make(map[string]int, len(st.BrokerVolumes))
	for k, v := range st.BrokerVolumes {
		a.brokerVolumes[k] = v
	}
	a.orders = make(map[string]*domain.Order)
	a.pendingEvents = nil
}
