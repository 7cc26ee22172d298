package greeks

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quantfisher/voltrader/internal/domain"
)

func newTestCalculator() *Calculator {
	return NewCalculator(DefaultSolverConfig())
}

func TestPutCallParity(t *testing.T) {
	calc := newTestCalculator()
	s, k, tt, r, sigma := 100.0, 100.0, 0.25, 0.03, 0.20

	call, err := calc.Price(s, k, tt, r, sigma, domain.OptionCall)
	require.NoError(t, err)
	put, err := calc.Price(s, k, tt, r, sigma, domain.OptionPut)
	require.NoError(t, err)

	parity := call - put - (s - k*math.Exp(-r*tt))
	assert.Less(t, math.Abs(parity), 1e-6)
}

func TestPutCallParityRandom(t *testing.T) {
	calc := newTestCalculator()
	rng := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		s := 50 + rng.Float64()*100
		k := 50 + rng.Float64()*100
		tt := 0.01 + rng.Float64()*2
		r := rng.Float64() * 0.1
		sigma := 0.05 + rng.Float64()*0.8

		call, err := calc.Price(s, k, tt, r, sigma, domain.OptionCall)
		require.NoError(t, err)
		put, err := calc.Price(s, k, tt, r, sigma, domain.OptionPut)
		require.NoError(t, err)

		parity := call - put - (s - k*math.Exp(-r*tt))
		assert.Less(t, math.Abs(parity), 1e-8,
			"parity broken at s=%v k=%v t=%v r=%v sigma=%v", s, k, tt, r, sigma)
	}
}

func TestPriceExpiredReturnsIntrinsic(t *testing.T) {
	calc := newTestCalculator()

	p, err := calc.Price(110, 100, 0, 0.03, 0.2, domain.OptionCall)
	require.NoError(t, err)
	assert.Equal(t, 10.0, p)

	p, err = calc.Price(110, 100, -0.1, 0.03, 0.2, domain.OptionPut)
	require.NoError(t, err)
	assert.Equal(t, 0.0, p)
}

func TestPriceRejectsNonPositiveVol(t *testing.T) {
	calc := newTestCalculator()
	_, err := calc.Price(100, 100, 0.5, 0.03, 0, domain.OptionCall)
	assert.ErrorIs(t, err, ErrInvalidVolatility)

	_, err = calc.Greeks(100, 100, 0.5, 0.03, -0.2, domain.OptionPut)
	assert.ErrorIs(t, err, ErrInvalidVolatility)
}

func TestGreeksRanges(t *testing.T) {
	calc := newTestCalculator()

	call, err := calc.Greeks(100, 100, 0.25, 0.03, 0.2, domain.OptionCall)
	require.NoError(t, err)
	put, err := calc.Greeks(100, 100, 0.25, 0.03, 0.2, domain.OptionPut)
	require.NoError(t, err)

	assert.Greater(t, call.Delta, 0.0)
	assert.Less(t, call.Delta, 1.0)
	assert.Less(t, put.Delta, 0.0)
	assert.Greater(t, put.Delta, -1.0)

	// Gamma and vega are identical for call and put
	assert.InDelta(t, call.Gamma, put.Gamma, 1e-12)
	assert.InDelta(t, call.Vega, put.Vega, 1e-12)
	assert.Greater(t, call.Gamma, 0.0)
	assert.Greater(t, call.Vega, 0.0)

	// Long options decay
	assert.Less(t, call.Theta, 0.0)
}

func TestGreeksTerminal(t *testing.T) {
	calc := newTestCalculator()

	itm, err := calc.Greeks(110, 100, 0, 0.03, 0.2, domain.OptionCall)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Delta: 1}, itm)

	otm, err := calc.Greeks(90, 100, 0, 0.03, 0.2, domain.OptionCall)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{}, otm)

	put, err := calc.Greeks(90, 100, -1, 0.03, 0.2, domain.OptionPut)
	require.NoError(t, err)
	assert.Equal(t, Snapshot{Delta: -1}, put)
}

func TestImpliedVolRoundTrip(t *testing.T) {
	calc := newTestCalculator()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 150; i++ {
		s := 60 + rng.Float64()*80
		k := 60 + rng.Float64()*80
		tt := 0.05 + rng.Float64()*1.5
		r := rng.Float64() * 0.08
		sigma := 0.05 + rng.Float64()*0.95
		opt := domain.OptionCall
		if rng.Intn(2) == 1 {
			opt = domain.OptionPut
		}

		price, err := calc.Price(s, k, tt, r, sigma, opt)
		require.NoError(t, err)
		if price < 1e-4 {
			continue // numerically dead, no information to invert
		}

		iv, err := calc.ImpliedVolatility(price, s, k, tt, r, opt)
		require.NoError(t, err,
			"solver failed at s=%v k=%v t=%v r=%v sigma=%v", s, k, tt, r, sigma)

		back, err := calc.Price(s, k, tt, r, iv, opt)
		require.NoError(t, err)
		assert.InDelta(t, price, back, 1e-4,
			"round trip lost price at s=%v k=%v sigma=%v iv=%v", s, k, sigma, iv)
	}
}

func TestImpliedVolRejectsBelowIntrinsic(t *testing.T) {
	calc := newTestCalculator()

	// Deep ITM call quoted below intrinsic value of 20
	_, err := calc.ImpliedVolatility(15, 120, 100, 0.25, 0.03, domain.OptionCall)
	assert.ErrorIs(t, err, ErrNoSolution)

	_, err = calc.ImpliedVolatility(0, 100, 100, 0.25, 0.03, domain.OptionCall)
	assert.ErrorIs(t, err, ErrNoSolution)

	_, err = calc.ImpliedVolatility(5, 100, 100, 0, 0.03, domain.OptionCall)
	assert.ErrorIs(t, err, ErrNoSolution)
}

func TestSnapshotArithmetic(t *testing.T) {
	a := Snapshot{Delta: 1, Gamma: 2, Theta: -3, Vega: 4}
	b := Snapshot{Delta: 0.5, Gamma: 0.5, Theta: 0.5, Vega: 0.5}

	sum := a.Add(b)
	assert.Equal(t, Snapshot{Delta: 1.5, Gamma: 2.5, Theta: -2.5, Vega: 4.5}, sum)

	scaled := a.Scale(10)
	assert.Equal(t, Snapshot{Delta: 10, Gamma: 20, Theta: -30, Vega: 40}, scaled)
}
