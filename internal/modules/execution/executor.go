// Package execution is the smart order executor: adaptive pricing, tick
// rounding, and a timeout/retry state machine over the broker gateway.
package execution

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/quantfisher/voltrader/internal/domain"
	"github.com/quantfisher/voltrader/internal/events"
	"github.com/quantfisher/voltrader/internal/gateway"
	"github.com/quantfisher/voltrader/internal/metrics"
)

// Config tunes the executor
type Config struct {
	SlippageTicks   float64
	TimeoutSeconds  float64
	MaxRetries      int
	OrdersPerSecond float64
}

// QuoteFunc returns the latest quote for a symbol, used to reprice retries
type QuoteFunc func(vtSymbol string) (domain.Tick, bool)

// managedOrder tracks one working order through timeout and retry
type managedOrder struct {
	vtOrderID  string
	instr      domain.OrderInstruction
	sentAt     time.Time
	deadline   time.Time
	retryCount int
	awaitingCancel bool
}

// Executor sends orders with adaptive pricing and re-submits on timeout
// until retries run out. It is safe for concurrent use.
type Executor struct {
	cfg     Config
	gw      gateway.Gateway
	bus     *events.Bus
	quotes  QuoteFunc
	limiter *rate.Limiter
	log     zerolog.Logger

	mu      sync.Mutex
	managed map[string]*managedOrder
}

// New builds an executor over the gateway. A nil quotes func means
// instruction prices are used as-is; SetQuotes can wire one in later.
func New(cfg Config, gw gateway.Gateway, bus *events.Bus, quotes QuoteFunc, log zerolog.Logger) *Executor {
	rps := cfg.OrdersPerSecond
	if rps <= 0 {
		rps = 5
	}
	if quotes == nil {
		quotes = func(string) (domain.Tick, bool) { return domain.Tick{}, false }
	}
	return &Executor{
		cfg:     cfg,
		gw:      gw,
		bus:     bus,
		quotes:  quotes,
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		log:     log.With().Str("component", "execution").Logger(),
		managed: make(map[string]*managedOrder),
	}
}

// SetQuotes replaces the quote source. Call before sending orders; the
// engine's tick cache is not available at construction time.
func (e *Executor) SetQuotes(quotes QuoteFunc) {
	if quotes != nil {
		e.quotes = quotes
	}
}

// AdaptivePrice biases the limit price toward the taker side by the
// slippage budget: buys lift the ask, sells hit the bid.
func AdaptivePrice(tick domain.Tick, direction domain.Direction, slippageTicks, priceTick float64) float64 {
	slip := slippageTicks * priceTick
	if direction == domain.Long {
		return RoundToTick(tick.AskPrice1+slip, priceTick, direction)
	}
	return RoundToTick(tick.BidPrice1-slip, priceTick, direction)
}

// RoundToTick rounds price to a valid tick, rounding toward the
// aggressive side: up for buys, down for sells.
func RoundToTick(price, priceTick float64, direction domain.Direction) float64 {
	if priceTick <= 0 {
		return price
	}
	ticks := price / priceTick
	const eps = 1e-9
	if direction == domain.Long {
		return math.Ceil(ticks-eps) * priceTick
	}
	return math.Floor(ticks+eps) * priceTick
}

// SendOrder prices the instruction off the current quote and dispatches
// it, registering it for timeout management. The instruction's price is
// used as-is when no quote is available.
func (e *Executor) SendOrder(ctx context.Context, instr domain.OrderInstruction, priceTick float64) (string, error) {
	if tick, ok := e.quotes(instr.VtSymbol); ok {
		instr.Price = AdaptivePrice(tick, instr.Direction, e.cfg.SlippageTicks, priceTick)
	} else {
		instr.Price = RoundToTick(instr.Price, priceTick, instr.Direction)
	}
	return e.dispatch(ctx, instr, 0)
}

func (e *Executor) dispatch(ctx context.Context, instr domain.OrderInstruction, retryCount int) (string, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return "", err
	}
	vtOrderID, err := e.gw.SendOrder(ctx, instr)
	if err != nil {
		e.log.Warn().Err(err).Str("vt_symbol", instr.VtSymbol).Msg("Order dispatch failed")
		return "", err
	}

	now := time.Now()
	e.mu.Lock()
	e.managed[vtOrderID] = &managedOrder{
		vtOrderID:  vtOrderID,
		instr:      instr,
		sentAt:     now,
		deadline:   now.Add(time.Duration(e.cfg.TimeoutSeconds * float64(time.Second))),
		retryCount: retryCount,
	}
	e.mu.Unlock()

	e.log.Info().
		Str("vt_orderid", vtOrderID).
		Str("vt_symbol", instr.VtSymbol).
		Str("direction", string(instr.Direction)).
		Int("volume", instr.Volume).
		Float64("price", instr.Price).
		Int("retry", retryCount).
		Msg("Order sent")
	return vtOrderID, nil
}

// OnOrderUpdate feeds broker order events into the state machine. Full
// fills and broker-side terminations end management; a cancel ack after
// a timeout triggers the retry path.
func (e *Executor) OnOrderUpdate(ctx context.Context, order domain.Order) {
	e.mu.Lock()
	m, ok := e.managed[order.VtOrderID]
	if !ok {
		e.mu.Unlock()
		return
	}

	switch {
	case order.Status == domain.StatusAllTraded:
		delete(e.managed, order.VtOrderID)
		e.mu.Unlock()
		return

	case order.Status == domain.StatusCancelled && m.awaitingCancel:
		// Our own timeout cancel came back; retry the untraded remainder
		delete(e.managed, order.VtOrderID)
		remaining := m.instr
		remaining.Volume = order.RemainingVolume()
		retry := m.retryCount + 1
		e.mu.Unlock()

		if remaining.Volume <= 0 {
			return
		}
		if retry > e.cfg.MaxRetries {
			e.log.Warn().
				Str("vt_orderid", order.VtOrderID).
				Int("retries", m.retryCount).
				Msg("Order retries exhausted")
			e.bus.Publish("execution", &events.OrderRetryExhaustedData{
				VtOrderID:  order.VtOrderID,
				VtSymbol:   order.VtSymbol,
				RetryCount: m.retryCount,
			})
			return
		}
		if tick, ok := e.quotes(remaining.VtSymbol); ok {
			priceTick := e.inferPriceTick(remaining.VtSymbol)
			remaining.Price = AdaptivePrice(tick, remaining.Direction, e.cfg.SlippageTicks, priceTick)
		}
		_, _ = e.dispatch(ctx, remaining, retry)
		return

	case order.Status.IsFinished():
		// Broker-side reject or external cancel; do not retry
		delete(e.managed, order.VtOrderID)
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
}

func (e *Executor) inferPriceTick(vtSymbol string) float64 {
	if c, ok := e.gw.QueryContract(vtSymbol); ok {
		return c.PriceTick
	}
	return 0
}

// CheckTimeouts sweeps managed orders and cancels those past deadline,
// emitting OrderTimeout. The retry itself happens when the cancel ack
// arrives via OnOrderUpdate.
func (e *Executor) CheckTimeouts(ctx context.Context, now time.Time) {
	e.mu.Lock()
	var timedOut []*managedOrder
	for _, m := range e.managed {
		if !m.awaitingCancel && now.After(m.deadline) {
			m.awaitingCancel = true
			timedOut = append(timedOut, m)
		}
	}
	e.mu.Unlock()

	for _, m := range timedOut {
		metrics.OrderTimeouts.Inc()
		elapsed := now.Sub(m.sentAt).Seconds()
		e.log.Warn().
			Str("vt_orderid", m.vtOrderID).
			Float64("elapsed_seconds", elapsed).
			Msg("Order timed out, cancelling")
		e.bus.Publish("execution", &events.OrderTimeoutData{
			VtOrderID:      m.vtOrderID,
			VtSymbol:       m.instr.VtSymbol,
			ElapsedSeconds: elapsed,
		})
		if err := e.gw.CancelOrder(ctx, m.vtOrderID); err != nil {
			// Cancel will be retried on the next sweep
			e.mu.Lock()
			m.awaitingCancel = false
			e.mu.Unlock()
		}
	}
}

// ManagedCount returns the number of orders under management
func (e *Executor) ManagedCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.managed)
}
