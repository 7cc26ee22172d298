package scheduler

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/quantfisher/voltrader/internal/engine"
	"github.com/quantfisher/voltrader/internal/persistence"
)

// TimeoutSweepJob cancels and reprices orders stuck past their deadline
type TimeoutSweepJob struct {
	Engine *engine.Engine
	Ctx    context.Context
}

// Name implements Job
func (j *TimeoutSweepJob) Name() string { return "timeout_sweep" }

// Run implements Job
func (j *TimeoutSweepJob) Run() error {
	j.Engine.SweepTimeouts(j.Ctx, time.Now())
	return nil
}

// AutoSaveJob forces a strategy snapshot regardless of the per-bar cadence.
// It covers quiet sessions where no bars arrive for long stretches.
type AutoSaveJob struct {
	Saver *persistence.AutoSaver
}

// Name implements Job
func (j *AutoSaveJob) Name() string { return "auto_save" }

// Run implements Job
func (j *AutoSaveJob) Run() error {
	return j.Saver.Force(time.Now())
}

// SnapshotCleanupJob prunes old snapshot rows
type SnapshotCleanupJob struct {
	Repo     *persistence.Repository
	Strategy string
	KeepDays int
	Log      zerolog.Logger
}

// Name implements Job
func (j *SnapshotCleanupJob) Name() string { return "snapshot_cleanup" }

// Run implements Job
func (j *SnapshotCleanupJob) Run() error {
	deleted, err := j.Repo.Cleanup(j.Strategy, j.KeepDays)
	if err != nil {
		return err
	}
	if deleted > 0 {
		j.Log.Info().Int64("deleted", deleted).Msg("Old snapshots pruned")
	}
	return nil
}
