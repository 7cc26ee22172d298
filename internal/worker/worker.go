// Package worker bootstraps one trading process: database, gateway,
// engine, monitor and background jobs, then runs the serial event loop.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfisher/voltrader/internal/barpipeline"
	"github.com/quantfisher/voltrader/internal/config"
	"github.com/quantfisher/voltrader/internal/database"
	"github.com/quantfisher/voltrader/internal/domain"
	"github.com/quantfisher/voltrader/internal/engine"
	"github.com/quantfisher/voltrader/internal/events"
	"github.com/quantfisher/voltrader/internal/gateway"
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
	"github.com/quantfisher/voltrader/internal/monitor"
	"github.com/quantfisher/voltrader/internal/persistence"
	"github.com/quantfisher/voltrader/internal/scheduler"
)

const (
	gatewayConnectTimeout = 60 * time.Second
	maxBarHistory         = 500
)

// stepper is implemented by gateways that simulate their own market
// data, like the paper gateway.
type stepper interface {
	Step(now time.Time)
}

// Worker owns the full trading process wiring
type Worker struct {
	cfg   *config.Config
	strat config.StrategyConfig
	gw    gateway.Gateway
	log   zerolog.Logger

	engine  *engine.Engine
	saver   *persistence.AutoSaver
	repo    *persistence.Repository
	monitor *monitor.Publisher
	sched   *scheduler.Scheduler

	bars chan map[string]domain.Bar
}

// New builds an unstarted worker. The gateway is injected so the
// standalone and live modes can differ only in the broker binding.
func New(cfg *config.Config, strat config.StrategyConfig, gw gateway.Gateway, log zerolog.Logger) *Worker {
	return &Worker{
		cfg:   cfg,
		strat: strat,
		gw:    gw,
		log:   log.With().Str("component", "worker").Logger(),
		bars:  make(chan map[string]domain.Bar, 16),
	}
}

// Run wires everything and blocks until ctx is cancelled or a fatal
// startup error occurs.
func (w *Worker) Run(ctx context.Context) error {
	// Factory.Initialize validates the required env vars for every driver
	factory := database.GetInstance(w.cfg.Database, w.log)
	if err := factory.Initialize(); err != nil {
		return fmt.Errorf("database init failed: %w", err)
	}
	db, err := factory.Get()
	if err != nil {
		return err
	}
	defer factory.Close()
	if err := database.EnsureSchema(db, w.cfg.Database.Driver); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}

	bus := events.NewBus(w.log)
	inst := instruments.NewAggregate(maxBarHistory, w.log)
	pos := positions.NewAggregate(positions.Limits{
		GlobalDailyLimit:   w.strat.Sizing.GlobalDailyLimit,
		ContractDailyLimit: w.strat.Sizing.ContractDailyLimit,
		CountManualOpens:   w.strat.CountManualOpens,
	}, w.log)

	w.repo = persistence.NewRepository(db, w.log)
	w.monitor = monitor.NewPublisher(db, w.cfg.Database.Driver, w.log)

	eng := w.buildEngine(bus, inst, pos)
	w.engine = eng

	if err := w.restoreState(inst, pos); err != nil {
		return err
	}
	w.saver = persistence.NewAutoSaver(
		w.repo, w.cfg.StrategyName,
		time.Duration(w.strat.AutoSaveIntervalSeconds*float64(time.Second)),
		w.snapshotSource(inst, pos),
		w.log,
	)
	eng.SetAutoSaver(w.saver)

	w.subscribeMonitor(bus)

	connectCtx, cancel := context.WithTimeout(ctx, gatewayConnectTimeout)
	err = w.gw.Connect(connectCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("gateway connect failed: %w", err)
	}
	defer func() { _ = w.gw.Close() }()

	if err := w.activateContracts(); err != nil {
		return err
	}
	w.reconcileBrokerPositions(ctx, pos)

	pipeline := barpipeline.New(w.strat.BarWindow, func(bars map[string]domain.Bar) {
		select {
		case w.bars <- bars:
		case <-ctx.Done():
		}
	}, w.log)
	pipeline.SetSymbols(inst.Symbols())

	barGen := barpipeline.NewBarGenerator(pipeline.HandleBars)
	w.chainTickCallback(ctx, barGen)

	if err := w.registerJobs(ctx); err != nil {
		return err
	}
	w.sched.Start()
	defer w.sched.Stop()

	if sim, ok := w.gw.(stepper); ok {
		go w.driveSim(ctx, sim)
	}

	w.log.Info().
		Str("strategy", w.cfg.StrategyName).
		Str("variant", w.cfg.VariantName).
		Int("bar_window", w.strat.BarWindow).
		Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.shutdown()
			return nil
		case bars := <-w.bars:
			eng.OnWindowBars(ctx, bars)
			w.publishMonitorSnapshot(bars)
		}
	}
}

func (w *Worker) buildEngine(bus *events.Bus, inst *instruments.Aggregate, pos *positions.Aggregate) *engine.Engine {
	exec := execution.New(execution.Config{
		SlippageTicks:   w.strat.Execution.SlippageTicks,
		TimeoutSeconds:  w.strat.Execution.TimeoutSeconds,
		MaxRetries:      w.strat.Execution.MaxRetries,
		OrdersPerSecond: w.strat.Execution.OrdersPerSecond,
	}, w.gw, bus, nil, w.log)

	svc := engine.Services{
		Indicators: indicators.NewTalibService(w.log),
		Signals:    signals.NewMeanReversion(),
		FutureSel:  selection.NewFutureSelector(w.strat.Selector.RolloverDays),
		OptionSel: selection.NewOptionSelector(w.strat.Selector.StrikeLevel, selection.OptionFilter{
			MinBidPrice:    w.strat.Selector.MinBidPrice,
			MinBidVolume:   w.strat.Selector.MinBidVolume,
			MinVolume:      w.strat.Selector.MinVolume,
			MinTradingDays: w.strat.Selector.MinTradingDays,
			MaxTradingDays: w.strat.Selector.MaxTradingDays,
		}),
		Sizer: sizing.NewSizer(w.strat.Sizing.MaxPositions, w.strat.Sizing.PositionRatio, pos, w.log),
		Risk: risk.NewAggregator(
			risk.Thresholds{
				Delta: w.strat.Risk.PositionDeltaLimit,
				Gamma: w.strat.Risk.PositionGammaLimit,
				Vega:  w.strat.Risk.PositionVegaLimit,
				Theta: w.strat.Risk.PositionThetaLimit,
			},
			risk.Thresholds{
				Delta: w.strat.Risk.PortfolioDeltaLimit,
				Gamma: w.strat.Risk.PortfolioGammaLimit,
				Vega:  w.strat.Risk.PortfolioVegaLimit,
				Theta: w.strat.Risk.PortfolioThetaLimit,
			},
			w.log,
		),
		Executor:  exec,
		Scheduler: advorders.NewScheduler(bus, w.log),
		Greeks:    greeks.NewCalculator(greeks.DefaultSolverConfig()),
	}
	if h := w.strat.Hedging; h.HedgeInstrumentVtSymbol != "" {
		svc.Hedger = hedging.NewDeltaHedger(
			h.TargetDelta, h.HedgingBand, h.HedgeInstrumentVtSymbol,
			h.HedgeInstrumentDelta, h.HedgeInstrumentMultiplier, w.log,
		)
	}
	if sc := w.strat.Scalping; sc.HedgeInstrumentVtSymbol != "" {
		svc.Scalper = hedging.NewGammaScalper(
			sc.RebalanceThreshold, sc.HedgeInstrumentVtSymbol,
			sc.HedgeInstrumentDelta, sc.HedgeInstrumentMultiplier, w.log,
		)
	}

	eng := engine.New(w.strat, w.gw, bus, svc, inst, pos, nil, w.log)
	exec.SetQuotes(eng.LatestTick)
	return eng
}

// restoreState loads the last snapshot. A missing archive is a normal
// first start; a corrupted one aborts so the operator can intervene.
func (w *Worker) restoreState(inst *instruments.Aggregate, pos *positions.Aggregate) error {
	snap, err := w.repo.Load(w.cfg.StrategyName)
	if err != nil {
		var notFound *persistence.ArchiveNotFound
		if errors.As(err, &notFound) {
			w.log.Info().Str("strategy", w.cfg.StrategyName).Msg("No saved state, starting fresh")
			return nil
		}
		return err
	}
	inst.Restore(snap.TargetAggregate)
	pos.Restore(snap.PositionAggregate)
	w.log.Info().
		Time("saved_at", snap.SavedAt).
		Int("schema_version", snap.SchemaVersion).
		Msg("State restored")
	return nil
}

func (w *Worker) snapshotSource(inst *instruments.Aggregate, pos *positions.Aggregate) persistence.SnapshotSource {
	return func() persistence.Snapshot {
		return persistence.Snapshot{
			SchemaVersion:     persistence.CurrentSchemaVersion,
			SavedAt:           time.Now(),
			CurrentDt:         w.engine.CurrentDt(),
			TargetAggregate:   inst.Snapshot(),
			PositionAggregate: pos.Snapshot(),
		}
	}
}

// activateContracts selects and subscribes the initial active contract
// per configured product, and seeds the engine's rollover candidates.
func (w *Worker) activateContracts() error {
	byProduct := make(map[string][]string)
	for _, c := range w.gw.QueryAllContracts() {
		if c.IsOption || c.Product == "" {
			continue
		}
		byProduct[c.Product] = append(byProduct[c.Product], c.VtSymbol)
	}

	now := time.Now()
	sel := selection.NewFutureSelector(w.strat.Selector.RolloverDays)
	for _, product := range w.strat.Products {
		symbols := byProduct[product]
		if len(symbols) == 0 {
			w.log.Warn().Str("product", product).Msg("No contracts found for product")
			continue
		}
		w.engine.SetCandidates(product, symbols)

		active := sel.SelectActive(symbols, now)
		if active == "" {
			continue
		}
		if err := w.gw.Subscribe(active); err != nil {
			return fmt.Errorf("subscribe %s failed: %w", active, err)
		}
		w.engine.Instruments.SetActiveContract(product, active)
		w.log.Info().Str("product", product).Str("vt_symbol", active).Msg("Active contract selected")
	}

	// Options on the active underlyings feed the selector's chain
	for _, c := range w.gw.QueryAllContracts() {
		if !c.IsOption {
			continue
		}
		if _, ok := w.engine.Instruments.GetLatestPrice(c.Underlying); ok || w.isActive(c.Underlying) {
			_ = w.gw.Subscribe(c.VtSymbol)
		}
	}
	return nil
}

func (w *Worker) isActive(vtSymbol string) bool {
	for _, active := range w.engine.Instruments.GetAllActiveContracts() {
		if active == vtSymbol {
			return true
		}
	}
	return false
}

// reconcileBrokerPositions feeds the broker's own position report
// through manual-intervention detection at startup.
func (w *Worker) reconcileBrokerPositions(ctx context.Context, pos *positions.Aggregate) {
	reports, err := w.gw.QueryPositions(ctx)
	if err != nil {
		w.log.Warn().Err(err).Msg("Startup position query failed")
		return
	}
	for _, r := range reports {
		pos.ReconcileExternalPosition(r)
	}
}

// chainTickCallback appends the bar generator to the engine's tick
// handling without disturbing the rest of the callback set.
func (w *Worker) chainTickCallback(ctx context.Context, barGen *barpipeline.BarGenerator) {
	w.gw.Register(gateway.Callbacks{
		OnTick: func(t domain.Tick) {
			w.engine.ObserveTick(t)
			barGen.OnTick(t)
		},
		OnOrder:    func(o domain.Order) { w.engine.OnOrder(ctx, o) },
		OnTrade:    func(t domain.Trade) { w.engine.OnTrade(t) },
		OnPosition: func(p domain.PositionReport) { w.engine.OnPositionReport(p) },
	})
}

func (w *Worker) registerJobs(ctx context.Context) error {
	w.sched = scheduler.New(w.log)

	if err := w.sched.AddJob("@every 5s", &scheduler.TimeoutSweepJob{Engine: w.engine, Ctx: ctx}); err != nil {
		return err
	}
	saveEvery := time.Duration(w.strat.AutoSaveIntervalSeconds * float64(time.Second))
	if saveEvery <= 0 {
		saveEvery = time.Minute
	}
	if err := w.sched.AddJob(fmt.Sprintf("@every %s", saveEvery), &scheduler.AutoSaveJob{Saver: w.saver}); err != nil {
		return err
	}
	return w.sched.AddJob("0 0 3 * * *", &scheduler.SnapshotCleanupJob{
		Repo:     w.repo,
		Strategy: w.cfg.StrategyName,
		KeepDays: w.strat.SnapshotKeepDays,
		Log:      w.log,
	})
}

// driveSim advances a self-contained market simulation twice a second
func (w *Worker) driveSim(ctx context.Context, sim stepper) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			sim.Step(now)
		}
	}
}

// subscribeMonitor mirrors every domain event into the monitor event
// table. Monitor failures are logged inside the publisher and never
// reach trading.
func (w *Worker) subscribeMonitor(bus *events.Bus) {
	bus.SubscribeAll(func(ev events.Event) {
		payload := toPayload(ev.Data)
		barDt := w.engine.CurrentDt()
		row := monitor.EventRow{
			Variant:    w.cfg.VariantName,
			InstanceID: w.cfg.MonitorInstanceID,
			VtSymbol:   stringField(payload, "vt_symbol"),
			EventType:  string(ev.Type),
			Extra:      stringField(payload, "signal"),
			Payload:    payload,
		}
		if !barDt.IsZero() {
			row.BarDt = &barDt
		}
		_ = w.monitor.InsertEvent(row)
	})
}

// publishMonitorSnapshot refreshes the dashboard's latest-state row
func (w *Worker) publishMonitorSnapshot(bars map[string]domain.Bar) {
	barDt := w.engine.CurrentDt()
	symbols := make([]string, 0, len(bars))
	indicatorState := make(map[string]any, len(bars))
	for sym := range bars {
		symbols = append(symbols, sym)
		if ind := w.engine.Instruments.Indicators(sym); len(ind) > 0 {
			indicatorState[sym] = ind
		}
	}

	row := monitor.SnapshotRow{
		Variant:     w.cfg.VariantName,
		InstanceID:  w.cfg.MonitorInstanceID,
		BarInterval: w.strat.BarInterval,
		BarWindow:   w.strat.BarWindow,
		Payload: map[string]any{
			"symbols":              symbols,
			"indicators":           indicatorState,
			"active_positions":     w.engine.Positions.ActivePositionCount(),
			"reserved_open_volume": w.engine.Positions.GetReservedOpenVolume(""),
			"active_contracts":     w.engine.Instruments.GetAllActiveContracts(),
		},
	}
	if !barDt.IsZero() {
		row.BarDt = &barDt
	}
	_ = w.monitor.UpsertSnapshot(row)
}

// shutdown forces a final snapshot before the process exits
func (w *Worker) shutdown() {
	if err := w.saver.Force(time.Now()); err != nil {
		w.log.Error().Err(err).Msg("Final snapshot failed")
		return
	}
	w.log.Info().Msg("Final snapshot saved")
}

func toPayload(data events.EventData) map[string]any {
	raw, err := json.Marshal(data)
	if err != nil {
		return map[string]any{}
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return map[string]any{}
	}
	return out
}

func stringField(payload map[string]any, key string) string {
	if v, ok := payload[key].(string); ok {
		return strings.TrimSpace(v)
	}
	return ""
}
