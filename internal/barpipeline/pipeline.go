// Package barpipeline assembles low-frequency bars into window bars.
// With a window of 1 the pipeline is a passthrough; otherwise bars are
// merged over clock-aligned windows and emitted for all subscribed
// symbols at once, so downstream logic sees a consistent snapshot.
package barpipeline

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfisher/voltrader/internal/domain"
)

// WindowHandler receives the finished window bars keyed by vt_symbol
type WindowHandler func(bars map[string]domain.Bar)

// Pipeline accepts ticks and minute bars and calls back when a window
// closes.
type Pipeline interface {
	HandleTick(tick domain.Tick)
	HandleBars(bars map[string]domain.Bar)
	SetSymbols(symbols []string)
}

// New selects the pipeline variant for the configured window
func New(windowMinutes int, handler WindowHandler, log zerolog.Logger) Pipeline {
	if windowMinutes <= 1 {
		return &passthrough{handler: handler}
	}
	return &windowed{
		window:  windowMinutes,
		handler: handler,
		partial: make(map[string]*domain.Bar),
		symbols: make(map[string]bool),
		log:     log.With().Str("component", "barpipeline").Logger(),
	}
}

// passthrough forwards bars unchanged
type passthrough struct {
	handler WindowHandler
}

func (p *passthrough) HandleTick(domain.Tick) {}

func (p *passthrough) HandleBars(bars map[string]domain.Bar) {
	if len(bars) > 0 {
		p.handler(bars)
	}
}

func (p *passthrough) SetSymbols([]string) {}

// windowed merges minute bars over clock-aligned windows. A window
// closes when bars stamped at or past the next boundary arrive; the
// finished bars for every symbol are flushed together, stamped with the
// window start.
type windowed struct {
	mu      sync.Mutex
	window  int
	handler WindowHandler
	symbols map[string]bool

	windowStart time.Time
	partial     map[string]*domain.Bar
	log         zerolog.Logger
}

// SetSymbols replaces the subscribed symbol set forming the barrier
func (w *windowed) SetSymbols(symbols []string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.symbols = make(map[string]bool, len(symbols))
	for _, s := range symbols {
		w.symbols[s] = true
	}
}

// HandleTick is accepted for interface symmetry; the windowed pipeline
// works from minute bars.
func (w *windowed) HandleTick(domain.Tick) {}

func (w *windowed) windowOf(t time.Time) time.Time {
	minute := (t.Minute() / w.window) * w.window
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), minute, 0, 0, t.Location())
}

// HandleBars merges the minute bars into the current window, flushing
// the previous window when a bar crosses the boundary.
func (w *windowed) HandleBars(bars map[string]domain.Bar) {
	w.mu.Lock()
	var flush map[string]domain.Bar

	for sym, bar := range bars {
		ws := w.windowOf(bar.Datetime)
		if w.windowStart.IsZero() {
			w.windowStart = ws
		}
		if ws.After(w.windowStart) {
			if flush == nil {
				flush = w.drainLocked()
			}
			w.windowStart = ws
		}
		w.mergeLocked(sym, bar)
	}
	w.mu.Unlock()

	if len(flush) > 0 {
		w.handler(flush)
	}
}

func (w *windowed) mergeLocked(sym string, bar domain.Bar) {
	p, ok := w.partial[sym]
	if !ok {
		merged := bar
		merged.Datetime = w.windowStart
		w.partial[sym] = &merged
		return
	}
	if bar.High > p.High {
		p.High = bar.High
	}
	if bar.Low < p.Low {
		p.Low = bar.Low
	}
	p.Close = bar.Close
	p.Volume += bar.Volume
	p.Turnover += bar.Turnover
	p.OpenOI = bar.OpenOI
}

// drainLocked closes the current window. Only currently-subscribed
// symbols are emitted; all carry the same window timestamp.
func (w *windowed) drainLocked() map[string]domain.Bar {
	out := make(map[string]domain.Bar, len(w.partial))
	for sym, p := range w.partial {
		if len(w.symbols) > 0 && !w.symbols[sym] {
			continue
		}
		out[sym] = *p
	}
	w.partial = make(map[string]*domain.Bar)
	return out
}

// Flush force-closes the current window, used at session end
func (w *windowed) Flush() map[string]domain.Bar {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.drainLocked()
	w.windowStart = time.Time{}
	return out
}
