package execution

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfisher/voltrader/internal/domain"
	"github.com/quantfisher/voltrader/internal/events"
	"github.com/quantfisher/voltrader/internal/gateway"
)

func TestRoundToTick(t *testing.T) {
	// Buys round up, sells round down
	assert.Equal(t, 100.2, RoundToTick(100.11, 0.2, domain.Long))
	assert.Equal(t, 100.0, RoundToTick(100.19, 0.2, domain.Short))

	// Already on a tick: unchanged either way
	assert.Equal(t, 100.2, RoundToTick(100.2, 0.2, domain.Long))
	assert.Equal(t, 100.2, RoundToTick(100.2, 0.2, domain.Short))

	// Zero tick passes through
	assert.Equal(t, 99.987, RoundToTick(99.987, 0, domain.Long))
}

func TestAdaptivePrice(t *testing.T) {
	tick := domain.Tick{BidPrice1: 100, AskPrice1: 101}

	// Buy lifts the ask plus slippage
	assert.Equal(t, 103.0, AdaptivePrice(tick, domain.Long, 2, 1))
	// Sell hits the bid minus slippage
	assert.Equal(t, 98.0, AdaptivePrice(tick, domain.Short, 2, 1))
}

func newTestExecutor(t *testing.T, mock *gateway.Mock, quotes QuoteFunc) (*Executor, *events.Bus) {
	t.Helper()
	bus := events.NewBus(zerolog.Nop())
	cfg := Config{SlippageTicks: 2, TimeoutSeconds: 10, MaxRetries: 3, OrdersPerSecond: 1000}
	return New(cfg, mock, bus, quotes, zerolog.Nop()), bus
}

func staticQuote(tick domain.Tick) QuoteFunc {
	return func(string) (domain.Tick, bool) { return tick, true }
}

func noQuote() QuoteFunc {
	return func(string) (domain.Tick, bool) { return domain.Tick{}, false }
}

func TestSendOrderUsesAdaptivePrice(t *testing.T) {
	mock := gateway.NewMock()
	mock.Contracts["rb2605.SHFE"] = domain.Contract{VtSymbol: "rb2605.SHFE", PriceTick: 1}
	ex, _ := newTestExecutor(t, mock, staticQuote(domain.Tick{BidPrice1: 3500, AskPrice1: 3501}))

	id, err := ex.SendOrder(context.Background(), domain.OrderInstruction{
		VtSymbol: "rb2605.SHFE", Direction: domain.Long, Offset: domain.OffsetOpen, Volume: 2,
	}, 1)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	sent, ok := mock.LastSent()
	require.True(t, ok)
	assert.Equal(t, 3503.0, sent.Price)
	assert.Equal(t, 1, ex.ManagedCount())
}

func TestFillEndsManagement(t *testing.T) {
	mock := gateway.NewMock()
	ex, _ := newTestExecutor(t, mock, noQuote())

	id, err := ex.SendOrder(context.Background(), domain.OrderInstruction{
		VtSymbol: "rb2605.SHFE", Direction: domain.Long, Volume: 1, Price: 3500,
	}, 1)
	require.NoError(t, err)

	ex.OnOrderUpdate(context.Background(), domain.Order{
		VtOrderID: id, VtSymbol: "rb2605.SHFE", Status: domain.StatusAllTraded, Volume: 1, Traded: 1,
	})
	assert.Zero(t, ex.ManagedCount())
}

func TestTimeoutCancelRetryFlow(t *testing.T) {
	mock := gateway.NewMock()
	mock.Contracts["rb2605.SHFE"] = domain.Contract{VtSymbol: "rb2605.SHFE", PriceTick: 1}
	ex, bus := newTestExecutor(t, mock, staticQuote(domain.Tick{BidPrice1: 3500, AskPrice1: 3501}))

	var timeouts []events.Event
	bus.Subscribe(events.OrderTimeout, func(e events.Event) { timeouts = append(timeouts, e) })

	id, err := ex.SendOrder(context.Background(), domain.OrderInstruction{
		VtSymbol: "rb2605.SHFE", Direction: domain.Long, Volume: 3, Price: 3500,
	}, 1)
	require.NoError(t, err)

	// Past deadline: a cancel goes out and OrderTimeout is emitted
	ex.CheckTimeouts(context.Background(), time.Now().Add(time.Minute))
	require.Len(t, mock.CancelledOrders, 1)
	assert.Equal(t, id, mock.CancelledOrders[0])
	require.Len(t, timeouts, 1)

	// Sweeping again does not double-cancel
	ex.CheckTimeouts(context.Background(), time.Now().Add(2*time.Minute))
	assert.Len(t, mock.CancelledOrders, 1)

	// Cancel ack with 1 of 3 traded: remainder re-sent at a fresh price
	ex.OnOrderUpdate(context.Background(), domain.Order{
		VtOrderID: id, VtSymbol: "rb2605.SHFE", Status: domain.StatusCancelled, Volume: 3, Traded: 1,
	})
	require.Equal(t, 2, mock.SentCount())
	resent, _ := mock.LastSent()
	assert.Equal(t, 2, resent.Volume)
	assert.Equal(t, 3503.0, resent.Price)
	assert.Equal(t, 1, ex.ManagedCount())
}

func TestRetryExhaustion(t *testing.T) {
	mock := gateway.NewMock()
	ex, bus := newTestExecutor(t, mock, staticQuote(domain.Tick{BidPrice1: 3500, AskPrice1: 3501}))
	ex.cfg.MaxRetries = 1

	var exhausted []events.Event
	bus.Subscribe(events.OrderRetryExhausted, func(e events.Event) { exhausted = append(exhausted, e) })

	id, err := ex.SendOrder(context.Background(), domain.OrderInstruction{
		VtSymbol: "rb2605.SHFE", Direction: domain.Short, Volume: 2, Price: 3500,
	}, 1)
	require.NoError(t, err)

	// First timeout/cancel cycle: retry allowed
	ex.CheckTimeouts(context.Background(), time.Now().Add(time.Minute))
	ex.OnOrderUpdate(context.Background(), domain.Order{
		VtOrderID: id, VtSymbol: "rb2605.SHFE", Status: domain.StatusCancelled, Volume: 2,
	})
	require.Equal(t, 2, mock.SentCount())
	retryID := mock.SentOrderIDs[1]

	// Second cycle: retries exhausted, event emitted, nothing re-sent
	ex.CheckTimeouts(context.Background(), time.Now().Add(time.Hour))
	ex.OnOrderUpdate(context.Background(), domain.Order{
		VtOrderID: retryID, VtSymbol: "rb2605.SHFE", Status: domain.StatusCancelled, Volume: 2,
	})
	assert.Equal(t, 2, mock.SentCount())
	require.Len(t, exhausted, 1)
	data := exhausted[0].Data.(*events.OrderRetryExhaustedData)
	assert.Equal(t, 1, data.RetryCount)
	assert.Zero(t, ex.ManagedCount())
}

func TestExternalCancelDoesNotRetry(t *testing.T) {
	mock := gateway.NewMock()
	ex, _ := newTestExecutor(t, mock, noQuote())

	id, err := ex.SendOrder(context.Background(), domain.OrderInstruction{
		VtSymbol: "rb2605.SHFE", Direction: domain.Long, Volume: 1, Price: 3500,
	}, 1)
	require.NoError(t, err)

	// Cancelled without a preceding timeout: treated as terminal
	ex.OnOrderUpdate(context.Background(), domain.Order{
		VtOrderID: id, VtSymbol: "rb2605.SHFE", Status: domain.StatusCancelled, Volume: 1,
	})
	assert.Equal(t, 1, mock.SentCount())
	assert.Zero(t, ex.ManagedCount())
}
