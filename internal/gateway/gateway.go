// Package gateway defines the broker port consumed by the engine and
// executors, plus a degrading wrapper for flaky sessions.
package gateway

import (
	"context"

	"github.com/quantfisher/voltrader/internal/domain"
)

// Callbacks receive broker push events. Implementations must be fast;
// they run on the gateway's receive path.
type Callbacks struct {
	OnTick     func(domain.Tick)
	OnOrder    func(domain.Order)
	OnTrade    func(domain.Trade)
	OnPosition func(domain.PositionReport)
	OnAccount  func(domain.AccountSnapshot)
}

// Gateway is the broker facade. All methods degrade gracefully when the
// session is down: they return zero values and an error, never panic.
type Gateway interface {
	Connect(ctx context.Context) error
	Close() error

	Subscribe(vtSymbol string) error
	Unsubscribe(vtSymbol string) error

	SendOrder(ctx context.Context, instr domain.OrderInstruction) (vtOrderID string, err error)
	CancelOrder(ctx context.Context, vtOrderID string) error
	CancelAllOrders(ctx context.Context) error

	// ConvertOrderRequest splits an instruction per exchange position
	// rules, e.g. close-today versus close-yesterday, before sending.
	ConvertOrderRequest(instr domain.OrderInstruction, lock, net bool) []domain.OrderInstruction

	SendQuote(ctx context.Context, req domain.QuoteRequest) (vtQuoteID string, err error)
	CancelQuote(ctx context.Context, vtQuoteID string) error

	QueryAccount(ctx context.Context) (domain.AccountSnapshot, error)
	QueryPositions(ctx context.Context) ([]domain.PositionReport, error)
	GetTick(vtSymbol string) (domain.Tick, bool)
	QueryContract(vtSymbol string) (domain.Contract, bool)
	QueryAllContracts() []domain.Contract
	QueryContractsByProduct(product string) []domain.Contract
	QueryContractsByExchange(exchange string) []domain.Contract
	QueryHistory(ctx context.Context, vtSymbol string, interval domain.Interval, start, end int64) ([]domain.Bar, error)

	Register(cb Callbacks)
}

// convertOrderRequest applies the common position rules shared by the
// in-process gateways. Lock and net modes pass the instruction through
// untouched; SHFE and INE require closes to state close-today, so a
// plain close on those exchanges is rewritten.
func convertOrderRequest(instr domain.OrderInstruction, lock, net bool, exchange string) []domain.OrderInstruction {
	if lock || net {
		return []domain.OrderInstruction{instr}
	}
	if instr.Offset == domain.OffsetClose && (exchange == "SHFE" || exchange == "INE") {
		instr.Offset = domain.OffsetCloseToday
	}
	return []domain.OrderInstruction{instr}
}
