package gateway

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/quantfisher/voltrader/internal/domain"
)

// Paper is an in-process gateway for paper trading. Orders fill
// immediately and fully at their limit price; market data is a random
// walk around each contract's seed price, advanced by Step.
type Paper struct {
	mu sync.Mutex

	cb          Callbacks
	nextOrderID int
	nextQuoteID int
	connected   bool

	contracts  map[string]domain.Contract
	subscribed map[string]bool
	prices     map[string]float64
	volumes    map[string]float64
	account    domain.AccountSnapshot

	rng *rand.Rand
}

// NewPaper builds a paper gateway seeded with the given contracts and
// starting prices.
func NewPaper(contracts []domain.Contract, seedPrices map[string]float64, balance float64) *Paper {
	p := &Paper{
		contracts:  make(map[string]domain.Contract, len(contracts)),
		subscribed: make(map[string]bool),
		prices:     make(map[string]float64, len(seedPrices)),
		volumes:    make(map[string]float64),
		account: domain.AccountSnapshot{
			Balance:   balance,
			Available: balance,
			Timestamp: time.Now(),
		},
		rng: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, c := range contracts {
		p.contracts[c.VtSymbol] = c
	}
	for sym, price := range seedPrices {
		p.prices[sym] = price
	}
	return p
}

// Connect implements Gateway
func (p *Paper) Connect(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

// Close implements Gateway
func (p *Paper) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = false
	return nil
}

// Subscribe implements Gateway
func (p *Paper) Subscribe(vtSymbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribed[vtSymbol] = true
	return nil
}

// Unsubscribe implements Gateway
func (p *Paper) Unsubscribe(vtSymbol string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.subscribed, vtSymbol)
	return nil
}

// SendOrder implements Gateway. The fill is emitted synchronously so the
// caller sees a consistent position immediately after dispatch.
func (p *Paper) SendOrder(ctx context.Context, instr domain.OrderInstruction) (string, error) {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return "", fmt.Errorf("paper gateway not connected")
	}
	p.nextOrderID++
	vtOrderID := fmt.Sprintf("paper.%d", p.nextOrderID)
	cb := p.cb
	p.mu.Unlock()

	now := time.Now()
	if cb.OnTrade != nil {
		cb.OnTrade(domain.Trade{
			VtTradeID: vtOrderID + ".t",
			VtOrderID: vtOrderID,
			VtSymbol:  instr.VtSymbol,
			Direction: instr.Direction,
			Offset:    instr.Offset,
			Volume:    instr.Volume,
			Price:     instr.Price,
			Datetime:  now,
		})
	}
	if cb.OnOrder != nil {
		cb.OnOrder(domain.Order{
			VtOrderID:  vtOrderID,
			VtSymbol:   instr.VtSymbol,
			Direction:  instr.Direction,
			Offset:     instr.Offset,
			Volume:     instr.Volume,
			Price:      instr.Price,
			Status:     domain.StatusAllTraded,
			Traded:     instr.Volume,
			Signal:     instr.Signal,
			CreateTime: now,
			UpdateTime: now,
		})
	}
	return vtOrderID, nil
}

// CancelOrder implements Gateway. Paper orders never rest, so there is
// nothing to cancel.
func (p *Paper) CancelOrder(ctx context.Context, vtOrderID string) error { return nil }

// CancelAllOrders implements Gateway
func (p *Paper) CancelAllOrders(ctx context.Context) error { return nil }

// ConvertOrderRequest implements Gateway
func (p *Paper) ConvertOrderRequest(instr domain.OrderInstruction, lock, net bool) []domain.OrderInstruction {
	exchange := ""
	if c, ok := p.QueryContract(instr.VtSymbol); ok {
		exchange = c.Exchange
	}
	return convertOrderRequest(instr, lock, net, exchange)
}

// SendQuote implements Gateway. Paper quotes are accepted but never
// rest and never fill.
func (p *Paper) SendQuote(ctx context.Context, req domain.QuoteRequest) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.connected {
		return "", fmt.Errorf("paper gateway not connected")
	}
	p.nextQuoteID++
	return fmt.Sprintf("paper.q.%d", p.nextQuoteID), nil
}

// CancelQuote implements Gateway
func (p *Paper) CancelQuote(ctx context.Context, vtQuoteID string) error { return nil }

// QueryAccount implements Gateway
func (p *Paper) QueryAccount(ctx context.Context) (domain.AccountSnapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	acct := p.account
	acct.Timestamp = time.Now()
	return acct, nil
}

// QueryPositions implements Gateway
func (p *Paper) QueryPositions(ctx context.Context) ([]domain.PositionReport, error) {
	return nil, nil
}

// QueryContract implements Gateway
func (p *Paper) QueryContract(vtSymbol string) (domain.Contract, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.contracts[vtSymbol]
	return c, ok
}

// QueryAllContracts implements Gateway
func (p *Paper) QueryAllContracts() []domain.Contract {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.Contract, 0, len(p.contracts))
	for _, c := range p.contracts {
		out = append(out, c)
	}
	return out
}

// GetTick implements Gateway, synthesizing a quote around the walk's
// current price.
func (p *Paper) GetTick(vtSymbol string) (domain.Tick, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	price, ok := p.prices[vtSymbol]
	if !ok || price <= 0 {
		return domain.Tick{}, false
	}
	tickSize := 1.0
	if c, ok := p.contracts[vtSymbol]; ok && c.PriceTick > 0 {
		tickSize = c.PriceTick
	}
	return domain.Tick{
		VtSymbol:   vtSymbol,
		Datetime:   time.Now(),
		LastPrice:  price,
		Volume:     p.volumes[vtSymbol],
		BidPrice1:  price - tickSize,
		BidVolume1: 10,
		AskPrice1:  price + tickSize,
		AskVolume1: 10,
	}, true
}

// QueryContractsByProduct implements Gateway
func (p *Paper) QueryContractsByProduct(product string) []domain.Contract {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Contract
	for _, c := range p.contracts {
		if c.Product == product {
			out = append(out, c)
		}
	}
	return out
}

// QueryContractsByExchange implements Gateway
func (p *Paper) QueryContractsByExchange(exchange string) []domain.Contract {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []domain.Contract
	for _, c := range p.contracts {
		if c.Exchange == exchange {
			out = append(out, c)
		}
	}
	return out
}

// QueryHistory implements Gateway
func (p *Paper) QueryHistory(ctx context.Context, vtSymbol string, interval domain.Interval, start, end int64) ([]domain.Bar, error) {
	return nil, nil
}

// Register implements Gateway
func (p *Paper) Register(cb Callbacks) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cb = cb
}

// Step advances the random walk one tick for every subscribed symbol
// and emits the quotes. The walk moves a fraction of a percent per step
// so minute bars look plausible.
func (p *Paper) Step(now time.Time) {
	p.mu.Lock()
	var ticks []domain.Tick
	for sym := range p.subscribed {
		price, ok := p.prices[sym]
		if !ok || price <= 0 {
			continue
		}
		price *= 1 + (p.rng.Float64()-0.5)*0.002
		p.prices[sym] = price
		p.volumes[sym] += float64(1 + p.rng.Intn(20))

		tickSize := 1.0
		if c, ok := p.contracts[sym]; ok && c.PriceTick > 0 {
			tickSize = c.PriceTick
		}
		ticks = append(ticks, domain.Tick{
			VtSymbol:   sym,
			Datetime:   now,
			LastPrice:  price,
			Volume:     p.volumes[sym],
			BidPrice1:  price - tickSize,
			BidVolume1: float64(10 + p.rng.Intn(90)),
			AskPrice1:  price + tickSize,
			AskVolume1: float64(10 + p.rng.Intn(90)),
		})
	}
	cb := p.cb
	p.mu.Unlock()

	if cb.OnTick == nil {
		return
	}
	for _, t := range ticks {
		cb.OnTick(t)
	}
}
