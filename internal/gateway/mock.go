package gateway

import (
	"context"
	"fmt"
	"sync"

	"github.com/quantfisher/voltrader/internal/domain"
)

// Mock is an in-memory gateway used by tests and the paper trading mode.
// Sent orders are recorded; fills are injected by the caller.
type Mock struct {
	mu sync.Mutex

	connected   bool
	nextOrderID int
	cb          Callbacks

	SentOrders      []domain.OrderInstruction
	SentOrderIDs    []string
	CancelledOrders []string
	SentQuotes      []domain.QuoteRequest
	CancelledQuotes []string
	Subscriptions   map[string]bool
	Contracts       map[string]domain.Contract
	Ticks           map[string]domain.Tick
	Account         domain.AccountSnapshot
	Positions       []domain.PositionReport

	nextQuoteID int

	// FailSends forces SendOrder to error, for degradation tests
	FailSends bool
}

// NewMock returns an empty mock gateway
func NewMock() *Mock {
	return &Mock{
		Subscriptions: make(map[string]bool),
		Contracts:     make(map[string]domain.Contract),
		Ticks:         make(map[string]domain.Tick),
	}
}

// Connect implements Gateway
func (m *Mock) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = true
	return nil
}

// Close implements Gateway
func (m *Mock) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	return nil
}

// Subscribe implements Gateway
func (m *Mock) Subscribe(vtSymbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Subscriptions[vtSymbol] = true
	return nil
}

// Unsubscribe implements Gateway
func (m *Mock) Unsubscribe(vtSymbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.Subscriptions, vtSymbol)
	return nil
}

// SendOrder implements Gateway
func (m *Mock) SendOrder(ctx context.Context, instr domain.OrderInstruction) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSends {
		return "", fmt.Errorf("broker session down")
	}
	m.nextOrderID++
	id := fmt.Sprintf("mock.%d", m.nextOrderID)
	m.SentOrders = append(m.SentOrders, instr)
	m.SentOrderIDs = append(m.SentOrderIDs, id)
	return id, nil
}

// CancelOrder implements Gateway
func (m *Mock) CancelOrder(ctx context.Context, vtOrderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelledOrders = append(m.CancelledOrders, vtOrderID)
	return nil
}

// CancelAllOrders implements Gateway
func (m *Mock) CancelAllOrders(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelledOrders = append(m.CancelledOrders, m.SentOrderIDs...)
	return nil
}

// ConvertOrderRequest implements Gateway
func (m *Mock) ConvertOrderRequest(instr domain.OrderInstruction, lock, net bool) []domain.OrderInstruction {
	exchange := ""
	if c, ok := m.QueryContract(instr.VtSymbol); ok {
		exchange = c.Exchange
	}
	return convertOrderRequest(instr, lock, net, exchange)
}

// SendQuote implements Gateway
func (m *Mock) SendQuote(ctx context.Context, req domain.QuoteRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailSends {
		return "", fmt.Errorf("broker session down")
	}
	m.nextQuoteID++
	id := fmt.Sprintf("mock.q.%d", m.nextQuoteID)
	m.SentQuotes = append(m.SentQuotes, req)
	return id, nil
}

// CancelQuote implements Gateway
func (m *Mock) CancelQuote(ctx context.Context, vtQuoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CancelledQuotes = append(m.CancelledQuotes, vtQuoteID)
	return nil
}

// QueryAccount implements Gateway
func (m *Mock) QueryAccount(ctx context.Context) (domain.AccountSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.Account, nil
}

// QueryPositions implements Gateway
func (m *Mock) QueryPositions(ctx context.Context) ([]domain.PositionReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.PositionReport(nil), m.Positions...), nil
}

// QueryContract implements Gateway
func (m *Mock) QueryContract(vtSymbol string) (domain.Contract, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.Contracts[vtSymbol]
	return c, ok
}

// QueryAllContracts implements Gateway
func (m *Mock) QueryAllContracts() []domain.Contract {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]domain.Contract, 0, len(m.Contracts))
	for _, c := range m.Contracts {
		out = append(out, c)
	}
	return out
}

// GetTick implements Gateway, returning the last emitted tick
func (m *Mock) GetTick(vtSymbol string) (domain.Tick, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.Ticks[vtSymbol]
	return t, ok
}

// QueryContractsByProduct implements Gateway
func (m *Mock) QueryContractsByProduct(product string) []domain.Contract {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Contract
	for _, c := range m.Contracts {
		if c.Product == product {
			out = append(out, c)
		}
	}
	return out
}

// QueryContractsByExchange implements Gateway
func (m *Mock) QueryContractsByExchange(exchange string) []domain.Contract {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Contract
	for _, c := range m.Contracts {
		if c.Exchange == exchange {
			out = append(out, c)
		}
	}
	return out
}

// QueryHistory implements Gateway
func (m *Mock) QueryHistory(ctx context.Context, vtSymbol string, interval domain.Interval, start, end int64) ([]domain.Bar, error) {
	return nil, nil
}

// Register implements Gateway
func (m *Mock) Register(cb Callbacks) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cb = cb
}

// EmitTrade pushes a trade to the registered callback
func (m *Mock) EmitTrade(t domain.Trade) {
	m.mu.Lock()
	cb := m.cb
	m.mu.Unlock()
	if cb.OnTrade != nil {
		cb.OnTrade(t)
	}
}

// EmitTick pushes a market tick to the registered callback
func (m *Mock) EmitTick(t domain.Tick) {
	m.mu.Lock()
	m.Ticks[t.VtSymbol] = t
	cb := m.cb
	m.mu.Unlock()
	if cb.OnTick != nil {
		cb.OnTick(t)
	}
}

// EmitOrder pushes an order update to the registered callback
func (m *Mock) EmitOrder(o domain.Order) {
	m.mu.Lock()
	cb := m.cb
	m.mu.Unlock()
	if cb.OnOrder != nil {
		cb.OnOrder(o)
	}
}

// SentCount returns how many orders were sent
func (m *Mock) SentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.SentOrders)
}

// LastSent returns the most recent instruction, or false when none
func (m *Mock) LastSent() (domain.OrderInstruction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.SentOrders) == 0 {
		return domain.OrderInstruction{}, false
	}
	return m.SentOrders[len(m.SentOrders)-1], true
}
