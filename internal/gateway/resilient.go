package gateway

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/quantfisher/voltrader/internal/domain"
)

// Resilient wraps a gateway with a circuit breaker around the calls
// that hit the broker session. When the breaker is open, calls fail
// fast with zero values instead of stacking up on a dead session.
type Resilient struct {
	inner   Gateway
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
}

// NewResilient wraps inner with the standard breaker settings
func NewResilient(inner Gateway, log zerolog.Logger) *Resilient {
	l := log.With().Str("component", "gateway").Logger()
	settings := gobreaker.Settings{
		Name:    "broker",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			l.Warn().
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Broker circuit breaker state changed")
		},
	}
	return &Resilient{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(settings),
		log:     l,
	}
}

func (r *Resilient) call(fn func() (any, error)) (any, error) {
	return r.breaker.Execute(fn)
}

// Connect implements Gateway
func (r *Resilient) Connect(ctx context.Context) error { return r.inner.Connect(ctx) }

// Close implements Gateway
func (r *Resilient) Close() error { return r.inner.Close() }

// Subscribe implements Gateway
func (r *Resilient) Subscribe(vtSymbol string) error { return r.inner.Subscribe(vtSymbol) }

// Unsubscribe implements Gateway
func (r *Resilient) Unsubscribe(vtSymbol string) error { return r.inner.Unsubscribe(vtSymbol) }

// SendOrder implements Gateway
func (r *Resilient) SendOrder(ctx context.Context, instr domain.OrderInstruction) (string, error) {
	v, err := r.call(func() (any, error) { return r.inner.SendOrder(ctx, instr) })
	if err != nil {
		r.log.Warn().Err(err).Str("vt_symbol", instr.VtSymbol).Msg("SendOrder failed")
		return "", err
	}
	return v.(string), nil
}

// CancelOrder implements Gateway
func (r *Resilient) CancelOrder(ctx context.Context, vtOrderID string) error {
	_, err := r.call(func() (any, error) { return nil, r.inner.CancelOrder(ctx, vtOrderID) })
	if err != nil {
		r.log.Warn().Err(err).Str("vt_orderid", vtOrderID).Msg("CancelOrder failed")
	}
	return err
}

// CancelAllOrders implements Gateway
func (r *Resilient) CancelAllOrders(ctx context.Context) error {
	_, err := r.call(func() (any, error) { return nil, r.inner.CancelAllOrders(ctx) })
	if err != nil {
		r.log.Warn().Err(err).Msg("CancelAllOrders failed")
	}
	return err
}

// ConvertOrderRequest implements Gateway. Conversion uses locally cached
// contract metadata, so it bypasses the breaker.
func (r *Resilient) ConvertOrderRequest(instr domain.OrderInstruction, lock, net bool) []domain.OrderInstruction {
	return r.inner.ConvertOrderRequest(instr, lock, net)
}

// SendQuote implements Gateway
func (r *Resilient) SendQuote(ctx context.Context, req domain.QuoteRequest) (string, error) {
	v, err := r.call(func() (any, error) { return r.inner.SendQuote(ctx, req) })
	if err != nil {
		r.log.Warn().Err(err).Str("vt_symbol", req.VtSymbol).Msg("SendQuote failed")
		return "", err
	}
	return v.(string), nil
}

// CancelQuote implements Gateway
func (r *Resilient) CancelQuote(ctx context.Context, vtQuoteID string) error {
	_, err := r.call(func() (any, error) { return nil, r.inner.CancelQuote(ctx, vtQuoteID) })
	if err != nil {
		r.log.Warn().Err(err).Str("vt_quoteid", vtQuoteID).Msg("CancelQuote failed")
	}
	return err
}

// QueryAccount implements Gateway
func (r *Resilient) QueryAccount(ctx context.Context) (domain.AccountSnapshot, error) {
	v, err := r.call(func() (any, error) { return r.inner.QueryAccount(ctx) })
	if err != nil {
		return domain.AccountSnapshot{}, err
	}
	return v.(domain.AccountSnapshot), nil
}

// QueryPositions implements Gateway
func (r *Resilient) QueryPositions(ctx context.Context) ([]domain.PositionReport, error) {
	v, err := r.call(func() (any, error) { return r.inner.QueryPositions(ctx) })
	if err != nil {
		return nil, err
	}
	return v.([]domain.PositionReport), nil
}

// QueryContract implements Gateway. Contract metadata is cached locally
// by real gateways, so it bypasses the breaker.
func (r *Resilient) QueryContract(vtSymbol string) (domain.Contract, bool) {
	return r.inner.QueryContract(vtSymbol)
}

// QueryAllContracts implements Gateway
func (r *Resilient) QueryAllContracts() []domain.Contract { return r.inner.QueryAllContracts() }

// GetTick implements Gateway. Ticks come from the local quote cache.
func (r *Resilient) GetTick(vtSymbol string) (domain.Tick, bool) {
	return r.inner.GetTick(vtSymbol)
}

// QueryContractsByProduct implements Gateway
func (r *Resilient) QueryContractsByProduct(product string) []domain.Contract {
	return r.inner.QueryContractsByProduct(product)
}

// QueryContractsByExchange implements Gateway
func (r *Resilient) QueryContractsByExchange(exchange string) []domain.Contract {
	return r.inner.QueryContractsByExchange(exchange)
}

// QueryHistory implements Gateway
func (r *Resilient) QueryHistory(ctx context.Context, vtSymbol string, interval domain.Interval, start, end int64) ([]domain.Bar, error) {
	v, err := r.call(func() (any, error) {
		return r.inner.QueryHistory(ctx, vtSymbol, interval, start, end)
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.Bar), nil
}

// Register implements Gateway
func (r *Resilient) Register(cb Callbacks) { r.inner.Register(cb) }
