// Package selection picks tradeable contracts: the active future per
// product and the target option from a chain.
package selection

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

var symbolDigits = regexp.MustCompile(`(\d{3,4})$`)

// ParseExpiryFromSymbol extracts the year-month encoded in the trailing
// digits of a futures symbol. Four digits read as YYMM; three digits
// (CZCE style) read as YMM with the decade inferred so the resulting
// date is never more than ~2 years in the past relative to ref.
func ParseExpiryFromSymbol(symbol string, ref time.Time) (time.Time, error) {
	// vt_symbols carry an exchange suffix, e.g. rb2501.SHFE
	if i := strings.IndexByte(symbol, '.'); i >= 0 {
		symbol = symbol[:i]
	}
	m := symbolDigits.FindString(symbol)
	if m == "" {
		return time.Time{}, fmt.Errorf("no expiry digits in symbol %q", symbol)
	}

	var year, month int
	switch len(m) {
	case 4:
		yy, _ := strconv.Atoi(m[:2])
		month, _ = strconv.Atoi(m[2:])
		year = 2000 + yy
	case 3:
		y, _ := strconv.Atoi(m[:1])
		month, _ = strconv.Atoi(m[1:])
		decade := (ref.Year() / 10) * 10
		year = decade + y
		// A single digit wraps every decade; years far behind the
		// reference belong to the next one.
		if year < ref.Year()-2 {
			year += 10
		}
	}
	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("invalid expiry month in symbol %q", symbol)
	}
	// Contracts stop trading mid-month; the exact day comes from the
	// exchange, month resolution is enough for the rollover rule.
	return time.Date(year, time.Month(month), 15, 0, 0, 0, 0, time.Local), nil
}

// FutureSelector applies the rollover rule to a product's futures
type FutureSelector struct {
	RolloverDays int
}

// NewFutureSelector returns a selector with the given rollover window
func NewFutureSelector(rolloverDays int) *FutureSelector {
	return &FutureSelector{RolloverDays: rolloverDays}
}

// SelectActive picks the contract to trade from the product's candidate
// symbols. Candidates are sorted by parsed expiry; when the front
// contract expires within RolloverDays the next one is chosen. Symbols
// that fail to parse sort last; if nothing parses the first candidate
// wins.
func (s *FutureSelector) SelectActive(symbols []string, today time.Time) string {
	if len(symbols) == 0 {
		return ""
	}

	type candidate struct {
		symbol string
		expiry time.Time
		ok     bool
	}
	cands := make([]candidate, 0, len(symbols))
	for _, sym := range symbols {
		exp, err := ParseExpiryFromSymbol(sym, today)
		cands = append(cands, candidate{symbol: sym, expiry: exp, ok: err == nil})
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].ok != cands[j].ok {
			return cands[i].ok
		}
		return cands[i].expiry.Before(cands[j].expiry)
	})

	front := cands[0]
	if !front.ok {
		return front.symbol
	}
	if front.expiry.Sub(today) > time.Duration(s.RolloverDays)*24*time.Hour {
		return front.symbol
	}
	if len(cands) > 1 && cands[1].ok {
		return cands[1].symbol
	}
	return front.symbol
}
