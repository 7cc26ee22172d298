package persistence

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfisher/voltrader/internal/metrics"
)

// SnapshotSource produces the current strategy snapshot on demand
type SnapshotSource func() Snapshot

// AutoSaver rate-limits snapshot writes: at most one save per interval,
// driven by the per-bar tick. Save failures are logged and retried on
// the next tick.
type AutoSaver struct {
	repo     *Repository
	strategy string
	interval time.Duration
	source   SnapshotSource
	log      zerolog.Logger

	mu       sync.Mutex
	lastSave time.Time
}

// NewAutoSaver builds an auto-saver for the strategy
func NewAutoSaver(repo *Repository, strategy string, interval time.Duration, source SnapshotSource, log zerolog.Logger) *AutoSaver {
	return &AutoSaver{
		repo:     repo,
		strategy: strategy,
		interval: interval,
		source:   source,
		log:      log.With().Str("component", "autosave").Logger(),
	}
}

// Tick saves if the interval has elapsed since the last successful save.
// Returns whether a save was performed.
func (a *AutoSaver) Tick(now time.Time) bool {
	a.mu.Lock()
	due := a.lastSave.IsZero() || now.Sub(a.lastSave) >= a.interval
	a.mu.Unlock()
	if !due {
		return false
	}

	snap := a.source()
	snap.SavedAt = now
	if err := a.repo.Save(a.strategy, snap); err != nil {
		a.log.Error().Err(err).Str("strategy", a.strategy).Msg("Auto-save failed, will retry next tick")
		metrics.SnapshotSaves.WithLabelValues("failure").Inc()
		return false
	}
	metrics.SnapshotSaves.WithLabelValues("success").Inc()

	a.mu.Lock()
	a.lastSave = now
	a.mu.Unlock()
	return true
}

// Force saves immediately, regardless of the interval
func (a *AutoSaver) Force(now time.Time) error {
	snap := a.source()
	snap.SavedAt = now
	if err := a.repo.Save(a.strategy, snap); err != nil {
		metrics.SnapshotSaves.WithLabelValues("failure").Inc()
		return err
	}
	metrics.SnapshotSaves.WithLabelValues("success").Inc()
	a.mu.Lock()
	a.lastSave = now
	a.mu.Unlock()
	return nil
}
