package selection

import (
	"sort"

	"github.com/quantfisher/voltrader/internal/domain"
)

// OptionFilter holds the liquidity and maturity constraints applied to
// the chain before strike selection.
type OptionFilter struct {
	MinBidPrice    float64
	MinBidVolume   int
	MinVolume      float64
	MaxSpreadTicks float64
	PriceTick      float64
	MinTradingDays int
	MaxTradingDays int
}

// OptionSelector picks the N-th out-of-the-money option from a chain
type OptionSelector struct {
	StrikeLevel int
	Filter      OptionFilter
}

// NewOptionSelector returns a selector targeting the given OTM level
func NewOptionSelector(strikeLevel int, filter OptionFilter) *OptionSelector {
	return &OptionSelector{StrikeLevel: strikeLevel, Filter: filter}
}

func (s *OptionSelector) passesLiquidity(q domain.OptionQuote) bool {
	f := s.Filter
	if q.BidPrice < f.MinBidPrice {
		return false
	}
	if q.BidVolume < f.MinBidVolume {
		return false
	}
	if q.Volume < f.MinVolume {
		return false
	}
	if f.PriceTick > 0 && f.MaxSpreadTicks > 0 {
		if (q.AskPrice-q.BidPrice)/f.PriceTick >= f.MaxSpreadTicks {
			return false
		}
	}
	return true
}

func (s *OptionSelector) passesMaturity(q domain.OptionQuote) bool {
	f := s.Filter
	if f.MinTradingDays > 0 && q.DaysToExpiry < f.MinTradingDays {
		return false
	}
	if f.MaxTradingDays > 0 && q.DaysToExpiry > f.MaxTradingDays {
		return false
	}
	return true
}

// Select picks the target option of the requested type from the chain.
// Quotes failing liquidity or the trading-days window are dropped, the
// survivors are ranked by how far out of the money they sit, and the
// StrikeLevel-th row is returned. No candidate means no trade; the
// selector never loosens its own constraints.
func (s *OptionSelector) Select(chain []domain.OptionQuote, optType domain.OptionType, underlyingPrice float64) (domain.OptionQuote, bool) {
	var otm []domain.OptionQuote
	for _, q := range chain {
		if q.OptionType != optType {
			continue
		}
		if !s.passesLiquidity(q) || !s.passesMaturity(q) {
			continue
		}
		q.Moneyness = moneyness(q, underlyingPrice)
		if q.Moneyness < 0 {
			continue // in the money
		}
		otm = append(otm, q)
	}
	if len(otm) == 0 {
		return domain.OptionQuote{}, false
	}

	// Nearest-the-money first, so level N counts outward from the spot
	sort.SliceStable(otm, func(i, j int) bool {
		return otm[i].Moneyness < otm[j].Moneyness
	})

	idx := s.StrikeLevel - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(otm) {
		return domain.OptionQuote{}, false
	}
	return otm[idx], true
}

// moneyness is positive out of the money, negative in the money
func moneyness(q domain.OptionQuote, underlyingPrice float64) float64 {
	if q.OptionType == domain.OptionCall {
		return q.StrikePrice - underlyingPrice
	}
	return underlyingPrice - q.StrikePrice
}

// LiquidityGate is the hard pre-trade check applied to the instrument's
// live quote before any taker open of volume v.
func LiquidityGate(tick domain.Tick, volume int, priceTick, maxSpreadTicks float64) bool {
	if tick.BidVolume1 < float64(volume) {
		return false
	}
	if priceTick > 0 && maxSpreadTicks > 0 {
		if tick.Spread()/priceTick >= maxSpreadTicks {
			return false
		}
	}
	return true
}
