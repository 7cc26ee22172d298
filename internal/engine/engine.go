// Package engine orchestrates the per-bar trading flow: aggregate
// updates, indicators, rollover, close and open signals, risk checks,
// dispatch, events and auto-save.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfisher/voltrader/internal/config"
	"github.com/quantfisher/voltrader/internal/domain"
	"github.com/quantfisher/voltrader/internal/events"
	"github.com/quantfisher/voltrader/internal/gateway"
	"github.com/quantfisher/voltrader/internal/metrics"
	"github.com/quantfisher/voltrader/internal/modules/advorders"
	"github.com/quantfisher/voltrader/internal/modules/execution"
	"github.com/quantfisher/voltrader/internal/modules/greeks"
	"github.com/quantfisher/voltrader/internal/modules/hedging"
	"github.com/quantfisher/voltrader/internal/modules/indicators"
	"github.com/quantfisher/voltrader/internal/modules/instruments"
	"github.com/quantfisher/voltrader/internal/modules/positions"
	"github.com/quantfisher/voltrader/internal/modules/risk"
	"github.com/quantfisher/voltrader/internal/modules/selection"
	"github.com/quantfisher/voltrader/internal/modules/signals"
	"github.com/quantfisher/voltrader/internal/modules/sizing"
	"github.com/quantfisher/voltrader/internal/modules/volsurface"
)

// rolloverHour/Minute is the daily rollover check trigger time
const (
	rolloverHour   = 14
	rolloverMinute = 50
)

// Services bundles the pluggable strategy services
type Services struct {
	Indicators indicators.Service
	Signals    signals.Service
	FutureSel  *selection.FutureSelector
	OptionSel  *selection.OptionSelector
	Sizer      *sizing.Sizer
	Risk       *risk.Aggregator
	Executor   *execution.Executor
	Scheduler  *advorders.Scheduler
	Greeks     *greeks.Calculator

	// Hedger and Scalper are optional; nil disables them
	Hedger  *hedging.DeltaHedger
	Scalper *hedging.GammaScalper
}

// AutoSave is invoked at the end of every bar
type AutoSave interface {
	Tick(now time.Time) bool
}

// Engine owns the aggregates and drives the strategy per window bar
type Engine struct {
	cfg config.StrategyConfig
	gw  gateway.Gateway
	bus *events.Bus
	svc Services

	Instruments *instruments.Aggregate
	Positions   *positions.Aggregate

	autoSave AutoSave
	log      zerolog.Logger

	mu               sync.Mutex
	currentDt        time.Time
	lastRolloverDate string
	lastTicks        map[string]domain.Tick
	candidates       map[string][]string // product -> future candidates
	surfaces         map[string]*volsurface.Surface
}

// New builds an engine. The caller wires gateway callbacks via
// BindGateway after construction.
func New(cfg config.StrategyConfig, gw gateway.Gateway, bus *events.Bus, svc Services, inst *instruments.Aggregate, pos *positions.Aggregate, autoSave AutoSave, log zerolog.Logger) *Engine {
	return &Engine{
		cfg:         cfg,
		gw:          gw,
		bus:         bus,
		svc:         svc,
		Instruments: inst,
		Positions:   pos,
		autoSave:    autoSave,
		log:         log.With().Str("component", "engine").Logger(),
		lastTicks:   make(map[string]domain.Tick),
		candidates:  make(map[string][]string),
		surfaces:    make(map[string]*volsurface.Surface),
	}
}

// BindGateway registers the broker callbacks feeding the engine
func (e *Engine) BindGateway(ctx context.Context) {
	e.gw.Register(gateway.Callbacks{
		OnTick:     e.ObserveTick,
		OnOrder:    func(o domain.Order) { e.OnOrder(ctx, o) },
		OnTrade:    e.OnTrade,
		OnPosition: e.OnPositionReport,
	})
}

// SetAutoSaver wires the per-bar snapshot hook after construction
func (e *Engine) SetAutoSaver(saver AutoSave) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.autoSave = saver
}

// ObserveTick caches the latest quote per symbol
func (e *Engine) ObserveTick(t domain.Tick) {
	e.mu.Lock()
	e.lastTicks[t.VtSymbol] = t
	e.mu.Unlock()
}

// OnOrder feeds a broker order update into positions and the executor
func (e *Engine) OnOrder(ctx context.Context, o domain.Order) {
	e.Positions.ApplyOrderUpdate(o.VtOrderID, o.Status, o.Traded, o.UpdateTime)
	e.svc.Executor.OnOrderUpdate(ctx, o)
}

// OnTrade feeds a fill into positions and the advanced-order scheduler
func (e *Engine) OnTrade(t domain.Trade) {
	e.Positions.ApplyTrade(t)
	e.svc.Scheduler.OnChildFilled(t.VtOrderID, t.Volume)
}

// OnPositionReport runs manual-intervention detection for one report
func (e *Engine) OnPositionReport(p domain.PositionReport) {
	e.Positions.ReconcileExternalPosition(p)
}

// LatestTick returns the last tick seen for vtSymbol
func (e *Engine) LatestTick(vtSymbol string) (domain.Tick, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	t, ok := e.lastTicks[vtSymbol]
	return t, ok
}

// SetCandidates replaces the rollover candidate symbols for a product
func (e *Engine) SetCandidates(product string, symbols []string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.candidates[product] = append([]string(nil), symbols...)
}

// CurrentDt returns the engine's bar clock
func (e *Engine) CurrentDt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentDt
}

// OnWindowBars runs the full per-bar flow. Errors in any stage are
// logged with the bar context and never abort the remaining stages.
func (e *Engine) OnWindowBars(ctx context.Context, bars map[string]domain.Bar) {
	if len(bars) == 0 {
		return
	}
	now := barTime(bars)
	e.mu.Lock()
	e.currentDt = now
	e.mu.Unlock()
	metrics.BarsProcessed.Inc()

	e.Positions.OnNewTradingDay(now)

	// 1-2. Aggregate update and indicators
	for sym, bar := range bars {
		if err := e.Instruments.AppendBar(sym, bar); err != nil {
			e.log.Warn().Err(err).Str("vt_symbol", sym).Time("bar_dt", bar.Datetime).Msg("Bar rejected")
			continue
		}
		e.svc.Indicators.CalculateBar(e.Instruments.GetOrCreate(sym), bar)
	}

	// 3. Rollover
	e.rolloverCheck(now)

	// 4. Close signals
	for sym := range bars {
		e.checkCloses(ctx, sym, now)
	}

	// 5. Open signals
	for sym := range bars {
		e.checkOpens(ctx, sym, now)
	}

	// Refresh vol surfaces and portfolio risk, then hedge
	e.rebuildSurfaces(bars, now)
	e.refreshPortfolioRisk(ctx, now)

	// Release due scheduler children
	e.dispatchPendingChildren(ctx, now)

	// 6. Domain events
	e.bus.PublishAll("instruments", e.Instruments.PopDomainEvents())
	e.bus.PublishAll("positions", e.Positions.PopDomainEvents())

	// 7. Auto-save
	if e.autoSave != nil {
		e.autoSave.Tick(now)
	}
	metrics.ActivePositions.Set(float64(e.Positions.ActivePositionCount()))
}

func barTime(bars map[string]domain.Bar) time.Time {
	for _, b := range bars {
		return b.Datetime
	}
	return time.Time{}
}

// rolloverCheck recomputes the active contract per product once per day
// at or after the trigger time. Re-running within the same day is a
// no-op, so at most one subscribe/unsubscribe pair per product per day.
func (e *Engine) rolloverCheck(now time.Time) {
	if now.Hour() < rolloverHour || (now.Hour() == rolloverHour && now.Minute() < rolloverMinute) {
		return
	}
	date := now.Format("2006-01-02")

	e.mu.Lock()
	if e.lastRolloverDate == date {
		e.mu.Unlock()
		return
	}
	e.lastRolloverDate = date
	cands := make(map[string][]string, len(e.candidates))
	for k, v := range e.candidates {
		cands[k] = v
	}
	e.mu.Unlock()

	for product, symbols := range cands {
		desired := e.svc.FutureSel.SelectActive(symbols, now)
		if desired == "" {
			continue
		}
		old, had := e.Instruments.GetActiveContract(product)
		if had && old == desired {
			continue
		}
		if err := e.gw.Subscribe(desired); err != nil {
			e.log.Warn().Err(err).Str("vt_symbol", desired).Msg("Rollover subscribe failed")
			continue
		}
		if had {
			if err := e.gw.Unsubscribe(old); err != nil {
				e.log.Warn().Err(err).Str("vt_symbol", old).Msg("Rollover unsubscribe failed")
			}
		}
		e.Instruments.SetActiveContract(product, desired)
	}
}

// checkCloses runs close signals for every position owned by the symbol
func (e *Engine) checkCloses(ctx context.Context, vtSymbol string, now time.Time) {
	inst := e.Instruments.GetOrCreate(vtSymbol)
	for _, pos := range e.Positions.GetPositionsByUnderlying(vtSymbol) {
		signal := e.svc.Signals.CheckCloseSignal(inst, pos)
		if signal == "" {
			continue
		}
		if e.Positions.HasPendingClose(pos.VtSymbol) {
			continue
		}
		e.bus.Publish("engine", &events.SignalGeneratedData{VtSymbol: pos.VtSymbol, Signal: signal})
		metrics.SignalsGenerated.WithLabelValues(signal).Inc()

		volume := e.svc.Sizer.CalculateExitVolume(pos.Volume, pos)
		if volume <= 0 {
			continue
		}
		instr := domain.OrderInstruction{
			VtSymbol:  pos.VtSymbol,
			Direction: pos.Direction.Opposite(),
			Offset:    domain.OffsetClose,
			Volume:    volume,
			Signal:    signal,
			OrderType: domain.OrderTypeLimit,
		}
		e.dispatch(ctx, instr)
	}
}

// checkOpens runs the open pipeline: signal, selection, liquidity gate,
// pre-trade risk, sizing, dispatch.
func (e *Engine) checkOpens(ctx context.Context, vtSymbol string, now time.Time) {
	if !e.svc.Risk.InLimits() && e.cfg.Risk.BlockOpensOnBreach {
		return
	}
	inst := e.Instruments.GetOrCreate(vtSymbol)
	signal := e.svc.Signals.CheckOpenSignal(inst)
	if signal == "" {
		return
	}
	e.bus.Publish("engine", &events.SignalGeneratedData{VtSymbol: vtSymbol, Signal: signal})
	metrics.SignalsGenerated.WithLabelValues(signal).Inc()

	target, contract, ok := e.pickTarget(vtSymbol, signal)
	if !ok {
		return
	}

	// No quote means no liquidity evidence: the gate fails closed
	desired := 1
	tick, hasTick := e.LatestTick(target)
	if !hasTick {
		e.log.Info().Str("vt_symbol", target).Msg("Open aborted, no quote for liquidity gate")
		return
	}
	if !selection.LiquidityGate(tick, desired, contract.PriceTick, e.cfg.Selector.MaxSpreadTicks) {
		e.log.Info().Str("vt_symbol", target).Msg("Open aborted by liquidity gate")
		return
	}

	if !e.preTradeRiskOK(target, contract, desired, now) {
		e.log.Info().Str("vt_symbol", target).Msg("Open aborted by pre-trade risk check")
		return
	}

	account, err := e.gw.QueryAccount(ctx)
	if err != nil {
		e.log.Warn().Err(err).Msg("Account query failed, skipping open")
		return
	}
	volume := e.svc.Sizer.CalculateOpenVolume(desired, target, contract, account)
	if volume <= 0 {
		return
	}

	instr := domain.OrderInstruction{
		VtSymbol:  target,
		Direction: domain.Short,
		Offset:    domain.OffsetOpen,
		Volume:    volume,
		Signal:    signal,
		OrderType: domain.OrderTypeLimit,
	}
	p := e.Positions.CreatePosition(target, vtSymbol, signal, volume, instr.Direction)
	if !e.dispatch(ctx, instr) {
		e.Positions.DiscardUnfilled(p)
		return
	}
	e.Positions.RecordOpenUsage(target, volume)
}

// pickTarget selects the tradeable contract for a signal: an option via
// the option selector when a chain exists, otherwise the future itself.
func (e *Engine) pickTarget(vtSymbol, signal string) (string, domain.Contract, bool) {
	price, ok := e.Instruments.GetLatestPrice(vtSymbol)
	if !ok {
		return "", domain.Contract{}, false
	}

	optType := domain.OptionPut
	if len(signal) >= 9 && signal[:9] == "sell_call" {
		optType = domain.OptionCall
	}

	chain := e.optionChain(vtSymbol)
	if len(chain) > 0 {
		quote, ok := e.svc.OptionSel.Select(chain, optType, price)
		if !ok {
			e.log.Info().Str("underlying", vtSymbol).Msg("No qualifying option, skipping open")
			return "", domain.Contract{}, false
		}
		contract, ok := e.gw.QueryContract(quote.VtSymbol)
		if !ok {
			return "", domain.Contract{}, false
		}
		return quote.VtSymbol, contract, true
	}

	contract, ok := e.gw.QueryContract(vtSymbol)
	if !ok {
		return "", domain.Contract{}, false
	}
	return vtSymbol, contract, true
}

// optionChain builds the selector input from contract metadata and live
// quotes for options on the underlying.
func (e *Engine) optionChain(underlying string) []domain.OptionQuote {
	var chain []domain.OptionQuote
	now := e.CurrentDt()
	for _, c := range e.gw.QueryAllContracts() {
		if !c.IsOption || c.Underlying != underlying {
			continue
		}
		tick, ok := e.LatestTick(c.VtSymbol)
		if !ok {
			continue
		}
		days := 0
		if !c.Expiry.IsZero() {
			days = int(c.Expiry.Sub(now).Hours() / 24)
		}
		chain = append(chain, domain.OptionQuote{
			VtSymbol:         c.VtSymbol,
			UnderlyingSymbol: underlying,
			OptionType:       c.OptionType,
			StrikePrice:      c.Strike,
			DaysToExpiry:     days,
			BidPrice:         tick.BidPrice1,
			BidVolume:        int(tick.BidVolume1),
			AskPrice:         tick.AskPrice1,
			AskVolume:        int(tick.AskVolume1),
			Volume:           tick.Volume,
		})
	}
	return chain
}

// preTradeRiskOK simulates adding the trade and checks portfolio limits
func (e *Engine) preTradeRiskOK(target string, contract domain.Contract, volume int, now time.Time) bool {
	if !contract.IsOption {
		return true
	}
	price, ok := e.Instruments.GetLatestPrice(contract.Underlying)
	if !ok {
		return true
	}
	tte := contract.Expiry.Sub(now).Hours() / 24 / 365
	iv := e.impliedVolFor(contract, price, tte)
	if iv <= 0 {
		return true
	}
	g, err := e.svc.Greeks.Greeks(price, contract.Strike, tte, 0.03, iv, contract.OptionType)
	if err != nil {
		return true
	}

	positionsNow := e.Positions.ActivePositions()
	simulated := append(positionsNow, domain.Position{
		VtSymbol: target, Direction: domain.Short, Volume: volume,
	})
	perPosition := e.perPositionGreeks(positionsNow, now)
	perPosition[target] = g
	multipliers := e.multipliers(simulated)

	_, breaches := e.svc.Risk.AggregatePortfolioGreeks(simulated, perPosition, multipliers)
	for _, b := range breaches {
		if data, ok := b.(*events.GreeksRiskBreachData); ok {
			metrics.RiskBreaches.WithLabelValues(data.Level, data.GreekName).Inc()
		}
		e.bus.Publish("risk", b)
	}
	return e.svc.Risk.InLimits()
}

// impliedVolFor solves IV from the option's live mid, falling back to
// the fitted surface when the quote is missing.
func (e *Engine) impliedVolFor(contract domain.Contract, spot, tte float64) float64 {
	if tte <= 0 {
		return 0
	}
	tick, ok := e.LatestTick(contract.VtSymbol)
	if !ok {
		if surf, ok := e.VolSurface(contract.Underlying); ok {
			if iv, err := surf.Query(contract.Strike, tte); err == nil {
				return iv
			}
		}
		return 0
	}
	mid := (tick.BidPrice1 + tick.AskPrice1) / 2
	iv, err := e.svc.Greeks.ImpliedVolatility(mid, spot, contract.Strike, tte, 0.03, contract.OptionType)
	if err != nil {
		return 0
	}
	return iv
}

func (e *Engine) perPositionGreeks(list []domain.Position, now time.Time) map[string]greeks.Snapshot {
	out := make(map[string]greeks.Snapshot, len(list))
	for _, p := range list {
		contract, ok := e.gw.QueryContract(p.VtSymbol)
		if !ok || !contract.IsOption {
			continue
		}
		spot, ok := e.Instruments.GetLatestPrice(contract.Underlying)
		if !ok {
			continue
		}
		tte := contract.Expiry.Sub(now).Hours() / 24 / 365
		iv := e.impliedVolFor(contract, spot, tte)
		if iv <= 0 {
			continue
		}
		g, err := e.svc.Greeks.Greeks(spot, contract.Strike, tte, 0.03, iv, contract.OptionType)
		if err != nil {
			continue
		}
		out[p.VtSymbol] = g
	}
	return out
}

func (e *Engine) multipliers(list []domain.Position) map[string]float64 {
	out := make(map[string]float64, len(list))
	for _, p := range list {
		if c, ok := e.gw.QueryContract(p.VtSymbol); ok {
			out[p.VtSymbol] = c.Multiplier
		}
	}
	return out
}

// rebuildSurfaces refits the vol surface for every bar symbol with a
// live option chain. Single-expiry chains cannot form a surface and are
// skipped quietly.
func (e *Engine) rebuildSurfaces(bars map[string]domain.Bar, now time.Time) {
	for sym := range bars {
		spot, ok := e.Instruments.GetLatestPrice(sym)
		if !ok {
			continue
		}
		var quotes []volsurface.Quote
		for _, c := range e.gw.QueryAllContracts() {
			if !c.IsOption || c.Underlying != sym || c.Expiry.IsZero() {
				continue
			}
			tte := c.Expiry.Sub(now).Hours() / 24 / 365
			if tte <= 0 {
				continue
			}
			tick, ok := e.LatestTick(c.VtSymbol)
			if !ok {
				continue
			}
			mid := (tick.BidPrice1 + tick.AskPrice1) / 2
			iv, err := e.svc.Greeks.ImpliedVolatility(mid, spot, c.Strike, tte, 0.03, c.OptionType)
			if err != nil {
				continue
			}
			quotes = append(quotes, volsurface.Quote{Strike: c.Strike, Expiry: tte, IV: iv})
		}
		if len(quotes) < 4 {
			continue
		}
		surf, err := volsurface.Build(quotes)
		if err != nil {
			continue
		}
		e.mu.Lock()
		e.surfaces[sym] = surf
		e.mu.Unlock()
	}
}

// VolSurface returns the latest fitted surface for an underlying
func (e *Engine) VolSurface(underlying string) (*volsurface.Surface, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.surfaces[underlying]
	return s, ok
}

// refreshPortfolioRisk recomputes portfolio Greeks against the live
// book, publishes any breach transitions, and runs the hedgers.
func (e *Engine) refreshPortfolioRisk(ctx context.Context, now time.Time) {
	positionsNow := e.Positions.ActivePositions()
	perPosition := e.perPositionGreeks(positionsNow, now)
	multipliers := e.multipliers(positionsNow)

	total, breaches := e.svc.Risk.AggregatePortfolioGreeks(positionsNow, perPosition, multipliers)
	for _, b := range breaches {
		if data, ok := b.(*events.GreeksRiskBreachData); ok {
			metrics.RiskBreaches.WithLabelValues(data.Level, data.GreekName).Inc()
		}
		e.bus.Publish("risk", b)
	}
	if len(positionsNow) == 0 {
		return
	}

	if e.svc.Hedger != nil {
		if instr, evt := e.svc.Hedger.Check(total.Delta); instr != nil {
			if e.dispatchHedge(ctx, instr) {
				e.bus.Publish("hedging", evt)
			}
		}
	}
	if e.svc.Scalper != nil {
		if instr, evt := e.svc.Scalper.Check(total.Delta, total.Gamma); instr != nil {
			if e.dispatchHedge(ctx, instr) {
				e.bus.Publish("hedging", evt)
			}
		}
	}
}

func (e *Engine) dispatchHedge(ctx context.Context, instr *hedging.Instruction) bool {
	return e.dispatch(ctx, domain.OrderInstruction{
		VtSymbol:  instr.VtSymbol,
		Direction: instr.Direction,
		Offset:    domain.OffsetOpen,
		Volume:    instr.Volume,
		Signal:    "delta_hedge",
		OrderType: domain.OrderTypeLimit,
	})
}

// dispatch sends an instruction through the executor, registering it
// with the position aggregate. Returns whether the send succeeded.
func (e *Engine) dispatch(ctx context.Context, instr domain.OrderInstruction) bool {
	priceTick := 0.0
	if c, ok := e.gw.QueryContract(instr.VtSymbol); ok {
		priceTick = c.PriceTick
	}
	vtOrderID, err := e.svc.Executor.SendOrder(ctx, instr, priceTick)
	if err != nil {
		e.log.Warn().Err(err).Str("vt_symbol", instr.VtSymbol).Msg("Dispatch failed")
		return false
	}
	e.Positions.RecordOrderSubmitted(domain.NewOrder(vtOrderID, instr))
	metrics.OrdersSent.WithLabelValues(string(instr.Direction), string(instr.Offset)).Inc()
	return true
}

// dispatchPendingChildren releases due scheduler children through the
// executor.
func (e *Engine) dispatchPendingChildren(ctx context.Context, now time.Time) {
	for _, child := range e.svc.Scheduler.GetPendingChildren(now) {
		priceTick := 0.0
		if c, ok := e.gw.QueryContract(child.Instruction.VtSymbol); ok {
			priceTick = c.PriceTick
		}
		vtOrderID, err := e.svc.Executor.SendOrder(ctx, child.Instruction, priceTick)
		if err != nil {
			e.log.Warn().Err(err).
				Str("parent_id", child.ParentID).
				Int("child", child.ChildIndex).
				Msg("Child dispatch failed")
			continue
		}
		if err := e.svc.Scheduler.MarkChildSubmitted(child.ParentID, child.ChildIndex, vtOrderID); err != nil {
			e.log.Error().Err(err).Str("parent_id", child.ParentID).Msg("Child bookkeeping failed")
			continue
		}
		e.Positions.RecordOrderSubmitted(domain.NewOrder(vtOrderID, child.Instruction))
	}
}

// SweepTimeouts runs the executor timeout check, wired to a cron job
func (e *Engine) SweepTimeouts(ctx context.Context, now time.Time) {
	e.svc.Executor.CheckTimeouts(ctx, now)
}

// String identifies the engine in logs
func (e *Engine) String() string {
	return fmt.Sprintf("engine(products=%v)", e.cfg.Products)
}
