// Package volsurface builds and queries implied volatility surfaces from
// option quotes.
package volsurface

import (
	"errors"
	"fmt"
	"sort"
)

// ErrInsufficientData is returned when fewer than two strikes or two
// expiries carry usable quotes.
var ErrInsufficientData = errors.New("need at least 2 strikes and 2 expiries to build a surface")

// ErrOutOfRange is returned for queries outside the surface grid
var ErrOutOfRange = errors.New("query point outside surface grid")

// Quote is one observed implied volatility point
type Quote struct {
	Strike float64
	Expiry float64 // time to expiry in years
	IV     float64
}

// Surface is an immutable rectangular implied volatility grid.
// Strikes and expiries are sorted ascending; IVs[i][j] holds the vol at
// expiry i, strike j. Every cell carries a usable vol: grid holes are
// filled from their quoted neighbors at build time.
type Surface struct {
	strikes  []float64
	expiries []float64
	ivs      [][]float64
}

// Build constructs a surface from raw quotes. Quotes with iv <= 0 are
// discarded. Duplicate (strike, expiry) pairs keep the last quote seen.
// Grid cells with no quote are interpolated along the strike axis from
// the nearest quoted neighbors.
func Build(quotes []Quote) (*Surface, error) {
	strikeSet := map[float64]struct{}{}
	expirySet := map[float64]struct{}{}
	cells := map[[2]float64]float64{}

	for _, q := range quotes {
		if q.IV <= 0 {
			continue
		}
		strikeSet[q.Strike] = struct{}{}
		expirySet[q.Expiry] = struct{}{}
		cells[[2]float64{q.Expiry, q.Strike}] = q.IV
	}

	if len(strikeSet) < 2 || len(expirySet) < 2 {
		return nil, ErrInsufficientData
	}

	strikes := sortedKeys(strikeSet)
	expiries := sortedKeys(expirySet)

	ivs := make([][]float64, len(expiries))
	for i, exp := range expiries {
		row := make([]float64, len(strikes))
		quoted := make([]bool, len(strikes))
		n := 0
		for j, k := range strikes {
			if iv, ok := cells[[2]float64{exp, k}]; ok {
				row[j] = iv
				quoted[j] = true
				n++
			}
		}
		// Every expiry in the set came from at least one quote
		if n < len(strikes) {
			fillRowHoles(strikes, row, quoted)
		}
		ivs[i] = row
	}

	return &Surface{strikes: strikes, expiries: expiries, ivs: ivs}, nil
}

// fillRowHoles interpolates unquoted cells between the nearest quoted
// strikes; holes past the last quote copy the nearest edge value.
func fillRowHoles(strikes, row []float64, quoted []bool) {
	for j := range row {
		if quoted[j] {
			continue
		}
		lo, hi := -1, -1
		for i := j - 1; i >= 0; i-- {
			if quoted[i] {
				lo = i
				break
			}
		}
		for i := j + 1; i < len(row); i++ {
			if quoted[i] {
				hi = i
				break
			}
		}
		switch {
		case lo >= 0 && hi >= 0:
			row[j] = lerp(strikes[lo], strikes[hi], row[lo], row[hi], strikes[j])
		case lo >= 0:
			row[j] = row[lo]
		default:
			row[j] = row[hi]
		}
	}
}

func sortedKeys(set map[float64]struct{}) []float64 {
	out := make([]float64, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Float64s(out)
	return out
}

// Strikes returns the sorted strike axis
func (s *Surface) Strikes() []float64 { return append([]float64(nil), s.strikes...) }

// Expiries returns the sorted expiry axis
func (s *Surface) Expiries() []float64 { return append([]float64(nil), s.expiries...) }

// bracket finds i such that axis[i] <= v <= axis[i+1]
func bracket(axis []float64, v float64) (int, bool) {
	if v < axis[0] || v > axis[len(axis)-1] {
		return 0, false
	}
	i := sort.SearchFloat64s(axis, v)
	if i == len(axis) || (axis[i] != v && i > 0) {
		i--
	}
	if i == len(axis)-1 {
		i--
	}
	return i, true
}

func lerp(x0, x1, y0, y1, x float64) float64 {
	if x1 == x0 {
		return y0
	}
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

// Query returns the bilinearly interpolated implied vol at the given
// strike and time to expiry. Points outside the grid return ErrOutOfRange.
func (s *Surface) Query(strike, timeToExpiry float64) (float64, error) {
	j, ok := bracket(s.strikes, strike)
	if !ok {
		return 0, fmt.Errorf("strike %v: %w", strike, ErrOutOfRange)
	}
	i, ok := bracket(s.expiries, timeToExpiry)
	if !ok {
		return 0, fmt.Errorf("expiry %v: %w", timeToExpiry, ErrOutOfRange)
	}

	lowRow := lerp(s.strikes[j], s.strikes[j+1], s.ivs[i][j], s.ivs[i][j+1], strike)
	highRow := lerp(s.strikes[j], s.strikes[j+1], s.ivs[i+1][j], s.ivs[i+1][j+1], strike)
	return lerp(s.expiries[i], s.expiries[i+1], lowRow, highRow, timeToExpiry), nil
}

// SmilePoint is one point of a volatility smile slice
type SmilePoint struct {
	Strike float64 `json:"strike"`
	IV     float64 `json:"iv"`
}

// ExtractSmile returns iv as a function of strike at the given time to
// expiry, interpolating between expiry rows when needed.
func (s *Surface) ExtractSmile(timeToExpiry float64) ([]SmilePoint, error) {
	i, ok := bracket(s.expiries, timeToExpiry)
	if !ok {
		return nil, fmt.Errorf("expiry %v: %w", timeToExpiry, ErrOutOfRange)
	}
	out := make([]SmilePoint, len(s.strikes))
	for j, k := range s.strikes {
		iv := lerp(s.expiries[i], s.expiries[i+1], s.ivs[i][j], s.ivs[i+1][j], timeToExpiry)
		out[j] = SmilePoint{Strike: k, IV: iv}
	}
	return out, nil
}

// TermPoint is one point of a term structure slice
type TermPoint struct {
	Expiry float64 `json:"expiry"`
	IV     float64 `json:"iv"`
}

// ExtractTermStructure returns iv as a function of time to expiry at the
// given strike, interpolating between strike columns when needed.
func (s *Surface) ExtractTermStructure(strike float64) ([]TermPoint, error) {
	j, ok := bracket(s.strikes, strike)
	if !ok {
		return nil, fmt.Errorf("strike %v: %w", strike, ErrOutOfRange)
	}
	out := make([]TermPoint, len(s.expiries))
	for i, exp := range s.expiries {
		iv := lerp(s.strikes[j], s.strikes[j+1], s.ivs[i][j], s.ivs[i][j+1], strike)
		out[i] = TermPoint{Expiry: exp, IV: iv}
	}
	return out, nil
}

// ToDict returns a stable map representation for persistence
func (s *Surface) ToDict() map[string]any {
	ivs := make([][]float64, len(s.ivs))
	for i, row := range s.ivs {
		ivs[i] = append([]float64(nil), row...)
	}
	return map[string]any{
		"strikes":  append([]float64(nil), s.strikes...),
		"expiries": append([]float64(nil), s.expiries...),
		"ivs":      ivs,
	}
}

// FromDict rebuilds a surface from its ToDict representation
func FromDict(d map[string]any) (*Surface, error) {
	strikes, err := toFloats(d["strikes"])
	if err != nil {
		return nil, fmt.Errorf("invalid strikes: %w", err)
	}
	expiries, err := toFloats(d["expiries"])
	if err != nil {
		return nil, fmt.Errorf("invalid expiries: %w", err)
	}
	rawIVs, ok := d["ivs"].([]any)
	if !ok {
		if direct, ok2 := d["ivs"].([][]float64); ok2 {
			return validated(strikes, expiries, direct)
		}
		return nil, errors.New("invalid ivs matrix")
	}
	ivs := make([][]float64, len(rawIVs))
	for i, r := range rawIVs {
		row, err := toFloats(r)
		if err != nil {
			return nil, fmt.Errorf("invalid ivs row %d: %w", i, err)
		}
		ivs[i] = row
	}
	return validated(strikes, expiries, ivs)
}

func validated(strikes, expiries []float64, ivs [][]float64) (*Surface, error) {
	if len(strikes) < 2 || len(expiries) < 2 {
		return nil, ErrInsufficientData
	}
	if len(ivs) != len(expiries) {
		return nil, fmt.Errorf("ivs has %d rows, want %d", len(ivs), len(expiries))
	}
	for i, row := range ivs {
		if len(row) != len(strikes) {
			return nil, fmt.Errorf("ivs row %d has %d columns, want %d", i, len(row), len(strikes))
		}
	}
	return &Surface{strikes: strikes, expiries: expiries, ivs: ivs}, nil
}

func toFloats(v any) ([]float64, error) {
	switch t := v.(type) {
	case []float64:
		return append([]float64(nil), t...), nil
	case []any:
		out := make([]float64, len(t))
		for i, e := range t {
			f, ok := e.(float64)
			if !ok {
				return nil, fmt.Errorf("element %d is %T, want float64", i, e)
			}
			out[i] = f
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported type %T", v)
	}
}
