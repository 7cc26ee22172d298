package domain

import "time"

// Position tracks a strategy-initiated holding over its lifecycle.
// It records which signal opened it, so close logic can match positions
// back to the signal vocabulary without parsing the tag.
type Position struct {
	VtSymbol           string     `json:"vt_symbol"`
	UnderlyingVtSymbol string     `json:"underlying_vt_symbol"`
	Signal             string     `json:"signal"`
	Volume             int        `json:"volume"`
	TargetVolume       int        `json:"target_volume"`
	Direction          Direction  `json:"direction"`
	OpenPrice          float64    `json:"open_price"`
	RealizedPnL        float64    `json:"realized_pnl"`
	CreateTime         time.Time  `json:"create_time"`
	OpenTime           *time.Time `json:"open_time,omitempty"`
	CloseTime          *time.Time `json:"close_time,omitempty"`
	IsClosed           bool       `json:"is_closed"`
	IsManuallyClosed   bool       `json:"is_manually_closed"`
}

// NewPosition creates a position awaiting its first fill
func NewPosition(vtSymbol, underlying, signal string, targetVolume int, direction Direction) *Position {
	return &Position{
		VtSymbol:           vtSymbol,
		UnderlyingVtSymbol: underlying,
		Signal:             signal,
		TargetVolume:       targetVolume,
		Direction:          direction,
		CreateTime:         time.Now(),
	}
}

// AddFill records an open fill, maintaining the volume-weighted open price.
func (p *Position) AddFill(volume int, price float64, at time.Time) {
	if volume <= 0 {
		return
	}
	if p.Volume == 0 {
		p.OpenPrice = price
		t := at
		p.OpenTime = &t
		p.Volume = volume
		return
	}
	total := p.OpenPrice*float64(p.Volume) + price*float64(volume)
	p.Volume += volume
	p.OpenPrice = total / float64(p.Volume)
}

// ReduceVolume records a close fill. The position closes when volume
// reaches zero.
func (p *Position) ReduceVolume(volume int, at time.Time) {
	p.Volume -= volume
	if p.Volume <= 0 {
		p.Volume = 0
		p.IsClosed = true
		t := at
		p.CloseTime = &t
	}
}

// MarkManuallyClosed flags the position as reduced outside the strategy
func (p *Position) MarkManuallyClosed(volume int, at time.Time) {
	p.IsManuallyClosed = true
	p.ReduceVolume(volume, at)
}

// IsActive reports whether the position still holds volume
func (p *Position) IsActive() bool {
	return p.Volume > 0 && !p.IsClosed
}

// PendingVolume returns the volume still awaiting fills
func (p *Position) PendingVolume() int {
	if p.TargetVolume > p.Volume {
		return p.TargetVolume - p.Volume
	}
	return 0
}

// HoldingSeconds returns how long the position has been held, or zero if
// it never filled.
func (p *Position) HoldingSeconds(now time.Time) float64 {
	if p.OpenTime == nil {
		return 0
	}
	end := now
	if p.CloseTime != nil {
		end = *p.CloseTime
	}
	return end.Sub(*p.OpenTime).Seconds()
}

// OpenedBy reports whether the position was opened by one of the given signals
func (p *Position) OpenedBy(signals ...string) bool {
	for _, s := range signals {
		if p.Signal == s {
			return true
		}
	}
	return false
}
