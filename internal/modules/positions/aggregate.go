// Package positions owns strategy positions, tracked orders, daily open
// caps and manual intervention detection.
package positions

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfisher/voltrader/internal/domain"
	"github.com/quantfisher/voltrader/internal/events"
)

// Limits holds the daily open caps enforced by the aggregate
type Limits struct {
	GlobalDailyLimit   int
	ContractDailyLimit int
	CountManualOpens   bool
}

// Aggregate is the single owner of position and order state. All
// state-mutating methods are synchronous; domain events accumulate until
// PopDomainEvents drains them onto the bus.
type Aggregate struct {
	mu sync.Mutex

	positions []*domain.Position
	orders    map[string]*domain.Order // vt_orderid -> tracked order

	dailyOpenCount  map[string]int
	globalOpenCount int
	lastTradingDate string // "2006-01-02"

	// Broker-reported net volume per symbol+direction, from the last
	// reconciliation. Used to classify unexplained deltas.
	brokerVolumes map[string]int

	limits Limits
	log    zerolog.Logger

	pendingEvents []events.EventData
}

// NewAggregate creates an empty position aggregate
func NewAggregate(limits Limits, log zerolog.Logger) *Aggregate {
	return &Aggregate{
		orders:         make(map[string]*domain.Order),
		dailyOpenCount: make(map[string]int),
		brokerVolumes:  make(map[string]int),
		limits:         limits,
		log:            log.With().Str("component", "positions").Logger(),
	}
}

func legKey(vtSymbol string, direction domain.Direction) string {
	return vtSymbol + "." + string(direction)
}

// CreatePosition registers a new strategy position awaiting fills
func (a *Aggregate) CreatePosition(vtSymbol, underlying, signal string, targetVolume int, direction domain.Direction) *domain.Position {
	a.mu.Lock()
	defer a.mu.Unlock()

	p := domain.NewPosition(vtSymbol, underlying, signal, targetVolume, direction)
	a.positions = append(a.positions, p)
	a.log.Info().
		Str("vt_symbol", vtSymbol).
		Str("signal", signal).
		Int("target_volume", targetVolume).
		Str("direction", string(direction)).
		Msg("Position created")
	return p
}

// RecordOrderSubmitted starts tracking a freshly sent order
func (a *Aggregate) RecordOrderSubmitted(order *domain.Order) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.orders[order.VtOrderID] = order
}

// ApplyOrderUpdate applies a broker order event to the tracked order.
// Unknown orders are ignored. Status transitions emit OrderStatusChanged.
func (a *Aggregate) ApplyOrderUpdate(vtOrderID string, status domain.OrderStatus, traded int, at time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	order, ok := a.orders[vtOrderID]
	if !ok {
		return
	}
	old := order.Status
	order.UpdateStatus(status, traded, at)
	if order.Status != old {
		a.pendingEvents = append(a.pendingEvents, &events.OrderStatusChangedData{
			VtOrderID: vtOrderID,
			VtSymbol:  order.VtSymbol,
			OldStatus: string(old),
			NewStatus: string(order.Status),
		})
	}
	if order.IsFinished() {
		delete(a.orders, vtOrderID)
	}
}

// ApplyTrade applies a fill to the tracked order and the owning position.
// Open fills grow the position at the volume-weighted price; close fills
// shrink it, emitting PositionClosed when volume reaches zero.
func (a *Aggregate) ApplyTrade(trade domain.Trade) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if order, ok := a.orders[trade.VtOrderID]; ok {
		order.AddTrade(trade.Volume, trade.Datetime)
		if order.IsFinished() {
			delete(a.orders, trade.VtOrderID)
		}
	}

	if trade.Offset == domain.OffsetOpen {
		p := a.findOpenTarget(trade.VtSymbol, trade.Direction)
		if p == nil {
			return
		}
		p.AddFill(trade.Volume, trade.Price, trade.Datetime)
		a.brokerVolumes[legKey(trade.VtSymbol, trade.Direction)] += trade.Volume
		return
	}

	// Close fills reduce the position held in the opposite direction
	held := trade.Direction.Opposite()
	p := a.findActive(trade.VtSymbol, held)
	if p == nil {
		return
	}
	closed := trade.Volume
	if closed > p.Volume {
		closed = p.Volume
	}
	pnl := (trade.Price - p.OpenPrice) * float64(closed)
	if held == domain.Short {
		pnl = -pnl
	}
	p.RealizedPnL += pnl
	p.ReduceVolume(trade.Volume, trade.Datetime)
	a.brokerVolumes[legKey(trade.VtSymbol, held)] -= trade.Volume
	if p.IsClosed {
		a.pendingEvents = append(a.pendingEvents, &events.PositionClosedData{
			VtSymbol:       p.VtSymbol,
			Signal:         p.Signal,
			HoldingSeconds: p.HoldingSeconds(trade.Datetime),
			PnL:            p.RealizedPnL,
		})
		a.log.Info().
			Str("vt_symbol", p.VtSymbol).
			Str("signal", p.Signal).
			Float64("pnl", p.RealizedPnL).
			Msg("Position closed")
	}
}

// DiscardUnfilled removes a position that never received a fill, after
// its open order failed to dispatch. Positions holding volume are left
// untouched so fills can never be orphaned.
func (a *Aggregate) DiscardUnfilled(target *domain.Position) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i, p := range a.positions {
		if p != target {
			continue
		}
		if p.Volume > 0 || p.IsClosed {
			return
		}
		a.positions = append(a.positions[:i], a.positions[i+1:]...)
		a.log.Info().
			Str("vt_symbol", p.VtSymbol).
			Str("signal", p.Signal).
			Msg("Unfilled position discarded")
		return
	}
}

// findOpenTarget returns the unfilled position the open fill belongs to
func (a *Aggregate) findOpenTarget(vtSymbol string, direction domain.Direction) *domain.Position {
	for _, p := range a.positions {
		if p.VtSymbol == vtSymbol && p.Direction == direction && !p.IsClosed && p.PendingVolume() > 0 {
			return p
		}
	}
	return a.findActive(vtSymbol, direction)
}

func (a *Aggregate) findActive(vtSymbol string, direction domain.Direction) *domain.Position {
	for _, p := range a.positions {
		if p.VtSymbol == vtSymbol && p.Direction == direction && !p.IsClosed {
			return p
		}
	}
	return nil
}

// ReconcileExternalPosition compares the broker-reported leg against the
// strategy's expectation. Unexplained decreases mark positions manually
// closed and emit ManualCloseDetected; unexplained increases emit
// ManualOpenDetected and are otherwise left unmanaged.
func (a *Aggregate) ReconcileExternalPosition(report domain.PositionReport) {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := legKey(report.VtSymbol, report.Direction)
	expected := a.brokerVolumes[key]
	diff := report.Volume - expected
	if diff == 0 {
		return
	}
	a.brokerVolumes[key] = report.Volume

	if diff < 0 {
		missing := -diff
		a.log.Warn().
			Str("vt_symbol", report.VtSymbol).
			Int("volume", missing).
			Msg("Manual close detected")
		a.pendingEvents = append(a.pendingEvents, &events.ManualCloseDetectedData{
			VtSymbol: report.VtSymbol,
			Volume:   missing,
		})
		now := time.Now()
		for _, p := range a.positions {
			if missing == 0 {
				break
			}
			if p.VtSymbol != report.VtSymbol || p.Direction != report.Direction || !p.IsActive() {
				continue
			}
			take := p.Volume
			if take > missing {
				take = missing
			}
			p.MarkManuallyClosed(take, now)
			missing -= take
		}
		return
	}

	a.log.Warn().
		Str("vt_symbol", report.VtSymbol).
		Int("volume", diff).
		Msg("Manual open detected, volume will not be managed")
	a.pendingEvents = append(a.pendingEvents, &events.ManualOpenDetectedData{
		VtSymbol: report.VtSymbol,
		Volume:   diff,
	})
	if a.limits.CountManualOpens {
		a.recordOpenUsageLocked(report.VtSymbol, diff)
	}
}

// GetPositionsByUnderlying returns copies of active positions whose
// underlying matches vtSymbol.
func (a *Aggregate) GetPositionsByUnderlying(vtSymbol string) []domain.Position {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []domain.Position
	for _, p := range a.positions {
		if p.UnderlyingVtSymbol == vtSymbol && p.IsActive() {
			out = append(out, *p)
		}
	}
	return out
}

// ActivePositions returns copies of all positions still holding volume
func (a *Aggregate) ActivePositions() []domain.Position {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []domain.Position
	for _, p := range a.positions {
		if p.IsActive() {
			out = append(out, *p)
		}
	}
	return out
}

// ActivePositionCount returns the number of positions holding volume
func (a *Aggregate) ActivePositionCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()

	n := 0
	for _, p := range a.positions {
		if p.IsActive() {
			n++
		}
	}
	return n
}

// HasPendingClose reports whether a close order for the position's symbol
// is still working at the broker.
func (a *Aggregate) HasPendingClose(vtSymbol string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	for _, o := range a.orders {
		if o.VtSymbol == vtSymbol && o.Offset.IsClose() && o.IsActive() {
			return true
		}
	}
	return false
}

// PendingCloseVolume returns the total close volume still working for vtSymbol
func (a *Aggregate) PendingCloseVolume(vtSymbol string) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	total := 0
	for _, o := range a.orders {
		if o.VtSymbol == vtSymbol && o.Offset.IsClose() && o.IsActive() {
			total += o.RemainingVolume()
		}
	}
	return total
}

// GetReservedOpenVolume returns the open volume still working at the
// broker for vtSymbol, or across all symbols when vtSymbol is empty.
// Daily usage is charged at dispatch, so this is a reporting view of the
// in-flight portion.
func (a *Aggregate) GetReservedOpenVolume(vtSymbol string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.reservedOpenLocked(vtSymbol)
}

func (a *Aggregate) reservedOpenLocked(vtSymbol string) int {
	total := 0
	for _, o := range a.orders {
		if o.Offset == domain.OffsetOpen && o.IsActive() && (vtSymbol == "" || o.VtSymbol == vtSymbol) {
			total += o.RemainingVolume()
		}
	}
	return total
}

// RemovePendingOrder drops a cancelled order from tracking
func (a *Aggregate) RemovePendingOrder(vtOrderID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.orders, vtOrderID)
}

// CheckOpenLimit reports whether volumeWanted more opens fit under the
// daily caps. A limit of zero disables that cap. A refusal emits
// RiskLimitExceeded once per call.
func (a *Aggregate) CheckOpenLimit(vtSymbol string, volumeWanted int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if g := a.limits.GlobalDailyLimit; g > 0 && a.globalOpenCount+volumeWanted > g {
		a.pendingEvents = append(a.pendingEvents, &events.RiskLimitExceededData{
			VtSymbol:      vtSymbol,
			LimitType:     "global",
			CurrentVolume: a.globalOpenCount,
			LimitVolume:   g,
		})
		return false
	}
	if c := a.limits.ContractDailyLimit; c > 0 && a.dailyOpenCount[vtSymbol]+volumeWanted > c {
		a.pendingEvents = append(a.pendingEvents, &events.RiskLimitExceededData{
			VtSymbol:      vtSymbol,
			LimitType:     "contract",
			CurrentVolume: a.dailyOpenCount[vtSymbol],
			LimitVolume:   c,
		})
		return false
	}
	return true
}

// RecordOpenUsage charges volume against the daily caps. Called only
// after a successful dispatch.
func (a *Aggregate) RecordOpenUsage(vtSymbol string, volume int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.recordOpenUsageLocked(vtSymbol, volume)
}

func (a *Aggregate) recordOpenUsageLocked(vtSymbol string, volume int) {
	a.dailyOpenCount[vtSymbol] += volume
	a.globalOpenCount += volume
}

// OnNewTradingDay resets the daily counters when the trading date changes
func (a *Aggregate) OnNewTradingDay(date time.Time) {
	a.mu.Lock()
	defer a.mu.Unlock()

	d := date.Format("2006-01-02")
	if d == a.lastTradingDate {
		return
	}
	a.lastTradingDate = d
	a.dailyOpenCount = make(map[string]int)
	a.globalOpenCount = 0
	a.log.Info().Str("trading_date", d).Msg("Daily open counters reset")
}

// PopDomainEvents drains and returns the accumulated events
func (a *Aggregate) PopDomainEvents() []events.EventData {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := a.pendingEvents
	a.pendingEvents = nil
	return out
}
