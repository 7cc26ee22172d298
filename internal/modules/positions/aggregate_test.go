package positions

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfisher/voltrader/internal/domain"
	"github.com/quantfisher/voltrader/internal/events"
)

func newTestAggregate() *Aggregate {
	return NewAggregate(Limits{GlobalDailyLimit: 50, ContractDailyLimit: 2}, zerolog.Nop())
}

func openOrder(id, symbol string, volume int) *domain.Order {
	return domain.NewOrder(id, domain.OrderInstruction{
		VtSymbol:  symbol,
		Direction: domain.Short,
		Offset:    domain.OffsetOpen,
		Volume:    volume,
		Price:     50,
	})
}

func TestOpenFillGrowsPositionAtWeightedPrice(t *testing.T) {
	a := newTestAggregate()
	a.CreatePosition("IO2603-P-3800.CFFEX", "IF2603.CFFEX", "sell_put", 3, domain.Short)

	now := time.Now()
	a.ApplyTrade(domain.Trade{
		VtOrderID: "o1", VtSymbol: "IO2603-P-3800.CFFEX",
		Direction: domain.Short, Offset: domain.OffsetOpen,
		Volume: 1, Price: 100, Datetime: now,
	})
	a.ApplyTrade(domain.Trade{
		VtOrderID: "o1", VtSymbol: "IO2603-P-3800.CFFEX",
		Direction: domain.Short, Offset: domain.OffsetOpen,
		Volume: 2, Price: 130, Datetime: now.Add(time.Second),
	})

	got := a.GetPositionsByUnderlying("IF2603.CFFEX")
	require.Len(t, got, 1)
	assert.Equal(t, 3, got[0].Volume)
	assert.InDelta(t, 120.0, got[0].OpenPrice, 1e-9)
	require.NotNil(t, got[0].OpenTime)
}

func TestCloseFillEmitsPositionClosed(t *testing.T) {
	a := newTestAggregate()
	a.CreatePosition("IO2603-P-3800.CFFEX", "IF2603.CFFEX", "sell_put", 2, domain.Short)

	t0 := time.Now()
	a.ApplyTrade(domain.Trade{
		VtSymbol: "IO2603-P-3800.CFFEX", Direction: domain.Short,
		Offset: domain.OffsetOpen, Volume: 2, Price: 100, Datetime: t0,
	})
	a.PopDomainEvents()

	// Buying back the short closes it
	a.ApplyTrade(domain.Trade{
		VtSymbol: "IO2603-P-3800.CFFEX", Direction: domain.Long,
		Offset: domain.OffsetClose, Volume: 2, Price: 80, Datetime: t0.Add(time.Hour),
	})

	evts := a.PopDomainEvents()
	require.Len(t, evts, 1)
	closed, ok := evts[0].(*events.PositionClosedData)
	require.True(t, ok)
	assert.Equal(t, "sell_put", closed.Signal)
	assert.InDelta(t, 3600.0, closed.HoldingSeconds, 1.0)
	// Short from 100, closed at 80: profit
	assert.InDelta(t, 40.0, closed.PnL, 1e-9)

	assert.Zero(t, a.ActivePositionCount())
}

func TestPartialFillClosePnLUsesFilledVolume(t *testing.T) {
	a := newTestAggregate()
	a.CreatePosition("IO2603-P-3800.CFFEX", "IF2603.CFFEX", "sell_put", 2, domain.Short)

	// Only one of the two target lots ever fills
	t0 := time.Now()
	a.ApplyTrade(domain.Trade{
		VtSymbol: "IO2603-P-3800.CFFEX", Direction: domain.Short,
		Offset: domain.OffsetOpen, Volume: 1, Price: 100, Datetime: t0,
	})
	a.PopDomainEvents()

	a.ApplyTrade(domain.Trade{
		VtSymbol: "IO2603-P-3800.CFFEX", Direction: domain.Long,
		Offset: domain.OffsetClose, Volume: 1, Price: 80, Datetime: t0.Add(time.Minute),
	})

	evts := a.PopDomainEvents()
	require.Len(t, evts, 1)
	closed, ok := evts[0].(*events.PositionClosedData)
	require.True(t, ok)
	// One lot short from 100 closed at 80, not the two-lot target
	assert.InDelta(t, 20.0, closed.PnL, 1e-9)
}

func TestMultiFillClosePnLAccumulates(t *testing.T) {
	a := newTestAggregate()
	a.CreatePosition("rb2605.SHFE", "rb2605.SHFE", "short_vol", 2, domain.Short)

	t0 := time.Now()
	a.ApplyTrade(domain.Trade{
		VtSymbol: "rb2605.SHFE", Direction: domain.Short,
		Offset: domain.OffsetOpen, Volume: 2, Price: 3500, Datetime: t0,
	})
	a.ApplyTrade(domain.Trade{
		VtSymbol: "rb2605.SHFE", Direction: domain.Long,
		Offset: domain.OffsetClose, Volume: 1, Price: 3480, Datetime: t0.Add(time.Minute),
	})
	a.PopDomainEvents()
	a.ApplyTrade(domain.Trade{
		VtSymbol: "rb2605.SHFE", Direction: domain.Long,
		Offset: domain.OffsetClose, Volume: 1, Price: 3510, Datetime: t0.Add(2 * time.Minute),
	})

	evts := a.PopDomainEvents()
	require.Len(t, evts, 1)
	closed, ok := evts[0].(*events.PositionClosedData)
	require.True(t, ok)
	// +20 on the first lot, -10 on the second
	assert.InDelta(t, 10.0, closed.PnL, 1e-9)
}

func TestDiscardUnfilledDropsOnlyEmptyPositions(t *testing.T) {
	a := newTestAggregate()
	stranded := a.CreatePosition("rb2605.SHFE", "rb2605.SHFE", "short_vol", 1, domain.Short)
	a.DiscardUnfilled(stranded)
	assert.Empty(t, a.Snapshot().Positions)

	// A later open must receive its own fills, with no stale entry
	// ahead of it in the scan order
	live := a.CreatePosition("rb2605.SHFE", "rb2605.SHFE", "short_vol", 1, domain.Short)
	a.ApplyTrade(domain.Trade{
		VtSymbol: "rb2605.SHFE", Direction: domain.Short,
		Offset: domain.OffsetOpen, Volume: 1, Price: 3500, Datetime: time.Now(),
	})
	assert.Equal(t, 1, live.Volume)

	// Filled positions are never discarded
	a.DiscardUnfilled(live)
	got := a.ActivePositions()
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Volume)
}

func TestOrderLifecycleAndPendingClose(t *testing.T) {
	a := newTestAggregate()
	closeOrd := domain.NewOrder("c1", domain.OrderInstruction{
		VtSymbol:  "rb2605.SHFE",
		Direction: domain.Long,
		Offset:    domain.OffsetClose,
		Volume:    5,
	})
	a.RecordOrderSubmitted(closeOrd)

	assert.True(t, a.HasPendingClose("rb2605.SHFE"))
	assert.Equal(t, 5, a.PendingCloseVolume("rb2605.SHFE"))

	a.ApplyOrderUpdate("c1", domain.StatusPartTraded, 2, time.Now())
	assert.Equal(t, 3, a.PendingCloseVolume("rb2605.SHFE"))

	evts := a.PopDomainEvents()
	require.Len(t, evts, 1)
	sc, ok := evts[0].(*events.OrderStatusChangedData)
	require.True(t, ok)
	assert.Equal(t, string(domain.StatusSubmitting), sc.OldStatus)
	assert.Equal(t, string(domain.StatusPartTraded), sc.NewStatus)

	// Terminal status stops tracking
	a.ApplyOrderUpdate("c1", domain.StatusCancelled, 2, time.Now())
	assert.False(t, a.HasPendingClose("rb2605.SHFE"))

	// Updates after terminal are ignored
	a.ApplyOrderUpdate("c1", domain.StatusAllTraded, 5, time.Now())
	assert.False(t, a.HasPendingClose("rb2605.SHFE"))
}

func TestRemovePendingOrder(t *testing.T) {
	a := newTestAggregate()
	a.RecordOrderSubmitted(openOrder("o9", "rb2605.SHFE", 1))
	a.RemovePendingOrder("o9")
	a.ApplyOrderUpdate("o9", domain.StatusAllTraded, 1, time.Now())
	assert.Empty(t, a.PopDomainEvents())
}

func TestDailyOpenLimits(t *testing.T) {
	a := newTestAggregate()

	assert.True(t, a.CheckOpenLimit("rb2605.SHFE", 2))
	a.RecordOpenUsage("rb2605.SHFE", 2)

	// Contract cap of 2 now exhausted
	assert.False(t, a.CheckOpenLimit("rb2605.SHFE", 1))
	evts := a.PopDomainEvents()
	require.Len(t, evts, 1)
	lim, ok := evts[0].(*events.RiskLimitExceededData)
	require.True(t, ok)
	assert.Equal(t, "contract", lim.LimitType)
	assert.Equal(t, 2, lim.LimitVolume)

	// Other contracts still open against the global cap
	assert.True(t, a.CheckOpenLimit("hc2605.SHFE", 2))

	b := NewAggregate(Limits{GlobalDailyLimit: 3, ContractDailyLimit: 0}, zerolog.Nop())
	b.RecordOpenUsage("x", 3)
	assert.False(t, b.CheckOpenLimit("y", 1))
	gEvts := b.PopDomainEvents()
	require.Len(t, gEvts, 1)
	assert.Equal(t, "global", gEvts[0].(*events.RiskLimitExceededData).LimitType)
}

func TestOnNewTradingDayResetsCounters(t *testing.T) {
	a := newTestAggregate()
	day1 := time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local)

	a.OnNewTradingDay(day1)
	a.RecordOpenUsage("rb2605.SHFE", 2)
	assert.False(t, a.CheckOpenLimit("rb2605.SHFE", 1))
	a.PopDomainEvents()

	// Same date again: counters survive
	a.OnNewTradingDay(day1.Add(2 * time.Hour))
	assert.False(t, a.CheckOpenLimit("rb2605.SHFE", 1))
	a.PopDomainEvents()

	a.OnNewTradingDay(day1.AddDate(0, 0, 1))
	assert.True(t, a.CheckOpenLimit("rb2605.SHFE", 2))
}

func TestManualCloseDetection(t *testing.T) {
	a := newTestAggregate()
	a.CreatePosition("rb2605.SHFE", "rb2605.SHFE", "short_vol", 3, domain.Short)
	a.ApplyTrade(domain.Trade{
		VtSymbol: "rb2605.SHFE", Direction: domain.Short,
		Offset: domain.OffsetOpen, Volume: 3, Price: 3500, Datetime: time.Now(),
	})
	a.PopDomainEvents()

	// Broker reports only 1 lot where the strategy expects 3
	a.ReconcileExternalPosition(domain.PositionReport{
		VtSymbol: "rb2605.SHFE", Direction: domain.Short, Volume: 1,
	})

	evts := a.PopDomainEvents()
	require.Len(t, evts, 1)
	mc, ok := evts[0].(*events.ManualCloseDetectedData)
	require.True(t, ok)
	assert.Equal(t, 2, mc.Volume)

	got := a.ActivePositions()
	require.Len(t, got, 1)
	assert.Equal(t, 1, got[0].Volume)
	assert.True(t, got[0].IsManuallyClosed)

	// Matching report afterwards is silent
	a.ReconcileExternalPosition(domain.PositionReport{
		VtSymbol: "rb2605.SHFE", Direction: domain.Short, Volume: 1,
	})
	assert.Empty(t, a.PopDomainEvents())
}

func TestManualOpenDetection(t *testing.T) {
	a := newTestAggregate()

	a.ReconcileExternalPosition(domain.PositionReport{
		VtSymbol: "rb2605.SHFE", Direction: domain.Long, Volume: 4,
	})

	evts := a.PopDomainEvents()
	require.Len(t, evts, 1)
	mo, ok := evts[0].(*events.ManualOpenDetectedData)
	require.True(t, ok)
	assert.Equal(t, 4, mo.Volume)

	// Unmanaged volume creates no strategy position and, by default,
	// does not count against daily caps
	assert.Zero(t, a.ActivePositionCount())
	assert.True(t, a.CheckOpenLimit("rb2605.SHFE", 2))
}

func TestManualOpensCountedWhenConfigured(t *testing.T) {
	a := NewAggregate(Limits{ContractDailyLimit: 2, CountManualOpens: true}, zerolog.Nop())
	a.ReconcileExternalPosition(domain.PositionReport{
		VtSymbol: "rb2605.SHFE", Direction: domain.Long, Volume: 2,
	})
	a.PopDomainEvents()
	assert.False(t, a.CheckOpenLimit("rb2605.SHFE", 1))
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	a := newTestAggregate()
	a.CreatePosition("rb2605.SHFE", "rb2605.SHFE", "short_vol", 2, domain.Short)
	a.ApplyTrade(domain.Trade{
		VtSymbol: "rb2605.SHFE", Direction: domain.Short,
		Offset: domain.OffsetOpen, Volume: 2, Price: 3500, Datetime: time.Now(),
	})
	a.OnNewTradingDay(time.Date(2026, 3, 2, 9, 0, 0, 0, time.Local))
	a.RecordOpenUsage("rb2605.SHFE", 2)
	a.PopDomainEvents()

	st := a.Snapshot()

	b := newTestAggregate()
	b.Restore(st)

	got := b.ActivePositions()
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Volume)
	assert.Equal(t, "short_vol", got[0].Signal)

	// Counters restored too
	assert.False(t, b.CheckOpenLimit("rb2605.SHFE", 1))

	// Broker expectation restored so reconciliation stays quiet
	b.PopDomainEvents()
	b.ReconcileExternalPosition(domain.PositionReport{
		VtSymbol: "rb2605.SHFE", Direction: domain.Short, Volume: 2,
	})
	assert.Empty(t, b.PopDomainEvents())
}
