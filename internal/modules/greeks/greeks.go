// Package greeks implements Black-Scholes pricing, closed-form Greeks and
// an implied volatility solver for European options.
package greeks

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/quantfisher/voltrader/internal/domain"
)

var stdNormal = distuv.Normal{Mu: 0, Sigma: 1}

// ErrInvalidVolatility is returned when sigma is zero or negative
var ErrInvalidVolatility = errors.New("volatility must be positive")

// ErrNoSolution is returned when the implied vol solver cannot converge
// or the market price sits below intrinsic value.
var ErrNoSolution = errors.New("implied volatility has no solution")

// Snapshot holds the four Greeks of a single option.
// Vega is per 1.00 of volatility; callers wanting per-point scale by 0.01.
type Snapshot struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
}

// Add returns the element-wise sum of two snapshots
func (s Snapshot) Add(o Snapshot) Snapshot {
	return Snapshot{
		Delta: s.Delta + o.Delta,
		Gamma: s.Gamma + o.Gamma,
		Theta: s.Theta + o.Theta,
		Vega:  s.Vega + o.Vega,
	}
}

// Scale returns the snapshot multiplied by k
func (s Snapshot) Scale(k float64) Snapshot {
	return Snapshot{
		Delta: s.Delta * k,
		Gamma: s.Gamma * k,
		Theta: s.Theta * k,
		Vega:  s.Vega * k,
	}
}

// SolverConfig tunes the implied volatility solver
type SolverConfig struct {
	Tolerance     float64
	MaxIterations int
	MinVol        float64
	MaxVol        float64
}

// DefaultSolverConfig returns the production solver settings
func DefaultSolverConfig() SolverConfig {
	return SolverConfig{
		Tolerance:     1e-6,
		MaxIterations: 100,
		MinVol:        0.001,
		MaxVol:        10.0,
	}
}

// Calculator prices options and solves for implied volatility
type Calculator struct {
	solver SolverConfig
}

// NewCalculator returns a calculator with the given solver settings
func NewCalculator(solver SolverConfig) *Calculator {
	return &Calculator{solver: solver}
}

func d1d2(s, k, t, r, sigma float64) (float64, float64) {
	d1 := (math.Log(s/k) + (r+0.5*sigma*sigma)*t) / (sigma * math.Sqrt(t))
	d2 := d1 - sigma*math.Sqrt(t)
	return d1, d2
}

func intrinsic(s, k float64, opt domain.OptionType) float64 {
	if opt == domain.OptionCall {
		return math.Max(s-k, 0)
	}
	return math.Max(k-s, 0)
}

// Price returns the Black-Scholes price of a European option.
// Expired options (t <= 0) price at intrinsic value.
func (c *Calculator) Price(s, k, t, r, sigma float64, opt domain.OptionType) (float64, error) {
	if s <= 0 || k <= 0 {
		return 0, fmt.Errorf("spot and strike must be positive: s=%v k=%v", s, k)
	}
	if t <= 0 {
		return intrinsic(s, k, opt), nil
	}
	if sigma <= 0 {
		return 0, ErrInvalidVolatility
	}
	d1, d2 := d1d2(s, k, t, r, sigma)
	df := math.Exp(-r * t)
	if opt == domain.OptionCall {
		return s*stdNormal.CDF(d1) - k*df*stdNormal.CDF(d2), nil
	}
	return k*df*stdNormal.CDF(-d2) - s*stdNormal.CDF(-d1), nil
}

// Greeks returns delta, gamma, theta and vega for a European option.
// At expiry the Greeks collapse: delta is -1, 0 or 1, the rest are zero.
// Theta is per year; vega per 1.00 of volatility.
func (c *Calculator) Greeks(s, k, t, r, sigma float64, opt domain.OptionType) (Snapshot, error) {
	if s <= 0 || k <= 0 {
		return Snapshot{}, fmt.Errorf("spot and strike must be positive: s=%v k=%v", s, k)
	}
	if t <= 0 {
		return terminalGreeks(s, k, opt), nil
	}
	if sigma <= 0 {
		return Snapshot{}, ErrInvalidVolatility
	}
	d1, d2 := d1d2(s, k, t, r, sigma)
	pdf := stdNormal.Prob(d1)
	df := math.Exp(-r * t)
	sqrtT := math.Sqrt(t)

	var snap Snapshot
	snap.Gamma = pdf / (s * sigma * sqrtT)
	snap.Vega = s * pdf * sqrtT
	if opt == domain.OptionCall {
		snap.Delta = stdNormal.CDF(d1)
		snap.Theta = -s*pdf*sigma/(2*sqrtT) - r*k*df*stdNormal.CDF(d2)
	} else {
		snap.Delta = stdNormal.CDF(d1) - 1
		snap.Theta = -s*pdf*sigma/(2*sqrtT) + r*k*df*stdNormal.CDF(-d2)
	}
	return snap, nil
}

func terminalGreeks(s, k float64, opt domain.OptionType) Snapshot {
	var delta float64
	switch {
	case opt == domain.OptionCall && s > k:
		delta = 1
	case opt == domain.OptionPut && s < k:
		delta = -1
	}
	return Snapshot{Delta: delta}
}

// ImpliedVolatility solves for the volatility that reproduces marketPrice.
// Newton iteration starts from a Brenner-Subrahmanyam guess; when the
// iterate escapes the bracket or vega degenerates, the solver falls back
// to bisection on [MinVol, MaxVol]. Prices below intrinsic value, or
// iteration that fails to converge, return ErrNoSolution.
func (c *Calculator) ImpliedVolatility(marketPrice, s, k, t, r float64, opt domain.OptionType) (float64, error) {
	if t <= 0 {
		return 0, ErrNoSolution
	}
	const eps = 1e-9
	if marketPrice <= 0 || marketPrice < intrinsic(s, k, opt)-eps {
		return 0, ErrNoSolution
	}

	cfg := c.solver

	// Brenner-Subrahmanyam approximation for the starting point
	sigma := math.Sqrt(2*math.Pi/t) * marketPrice / s
	if sigma < cfg.MinVol || sigma > cfg.MaxVol || math.IsNaN(sigma) {
		sigma = 0.5
	}

	for i := 0; i < cfg.MaxIterations; i++ {
		price, err := c.Price(s, k, t, r, sigma, opt)
		if err != nil {
			break
		}
		diff := price - marketPrice
		if math.Abs(diff) < cfg.Tolerance {
			return sigma, nil
		}
		g, err := c.Greeks(s, k, t, r, sigma, opt)
		if err != nil || g.Vega < 1e-10 {
			break
		}
		next := sigma - diff/g.Vega
		if next <= cfg.MinVol || next >= cfg.MaxVol || math.IsNaN(next) {
			break
		}
		sigma = next
	}

	return c.bisect(marketPrice, s, k, t, r, opt)
}

func (c *Calculator) bisect(marketPrice, s, k, t, r float64, opt domain.OptionType) (float64, error) {
	cfg := c.solver
	lo, hi := cfg.MinVol, cfg.MaxVol

	pLo, errLo := c.Price(s, k, t, r, lo, opt)
	pHi, errHi := c.Price(s, k, t, r, hi, opt)
	if errLo != nil || errHi != nil {
		return 0, ErrNoSolution
	}
	if marketPrice < pLo-cfg.Tolerance || marketPrice > pHi+cfg.Tolerance {
		return 0, ErrNoSolution
	}

	for i := 0; i < cfg.MaxIterations; i++ {
		mid := (lo + hi) / 2
		p, err := c.Price(s, k, t, r, mid, opt)
		if err != nil {
			return 0, ErrNoSolution
		}
		diff := p - marketPrice
		if math.Abs(diff) < cfg.Tolerance || (hi-lo)/2 < 1e-8 {
			return mid, nil
		}
		if diff > 0 {
			hi = mid
		} else {
			lo = mid
		}
	}
	return 0, ErrNoSolution
}
