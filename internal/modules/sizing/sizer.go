// Package sizing computes open and exit volumes under the configured
// capital and concurrency constraints.
package sizing

import (
	"github.com/rs/zerolog"

	"github.com/quantfisher/voltrader/internal/domain"
)

// CapChecker exposes the daily open caps owned by the position aggregate
type CapChecker interface {
	CheckOpenLimit(vtSymbol string, volumeWanted int) bool
	ActivePositionCount() int
	PendingCloseVolume(vtSymbol string) int
}

// Sizer applies, in order: global daily cap, per-symbol daily cap,
// maximum concurrent positions, and the free-margin requirement.
type Sizer struct {
	maxPositions  int
	positionRatio float64
	caps          CapChecker
	log           zerolog.Logger
}

// NewSizer builds a sizer bound to the position aggregate's caps
func NewSizer(maxPositions int, positionRatio float64, caps CapChecker, log zerolog.Logger) *Sizer {
	return &Sizer{
		maxPositions:  maxPositions,
		positionRatio: positionRatio,
		caps:          caps,
		log:           log.With().Str("component", "sizing").Logger(),
	}
}

// CalculateOpenVolume returns how much of desired may be opened, or zero
// when any constraint fails. Daily usage is not charged here; the caller
// records it only after a successful dispatch.
func (s *Sizer) CalculateOpenVolume(desired int, vtSymbol string, contract domain.Contract, account domain.AccountSnapshot) int {
	if desired <= 0 {
		return 0
	}
	if !s.caps.CheckOpenLimit(vtSymbol, desired) {
		s.log.Warn().Str("vt_symbol", vtSymbol).Int("desired", desired).Msg("Open refused by daily cap")
		return 0
	}
	if s.maxPositions > 0 && s.caps.ActivePositionCount() >= s.maxPositions {
		s.log.Warn().Str("vt_symbol", vtSymbol).Int("max_positions", s.maxPositions).Msg("Open refused, concurrent position limit reached")
		return 0
	}
	if s.positionRatio > 0 {
		required := account.Balance * s.positionRatio
		if account.Available < required {
			s.log.Warn().
				Str("vt_symbol", vtSymbol).
				Float64("available", account.Available).
				Float64("required", required).
				Msg("Open refused, insufficient free margin")
			return 0
		}
	}
	return desired
}

// CalculateExitVolume clamps desired to the volume not already being
// closed by a working order.
func (s *Sizer) CalculateExitVolume(desired int, position domain.Position) int {
	if desired <= 0 {
		return 0
	}
	free := position.Volume - s.caps.PendingCloseVolume(position.VtSymbol)
	if free <= 0 {
		return 0
	}
	if desired > free {
		return free
	}
	return desired
}
