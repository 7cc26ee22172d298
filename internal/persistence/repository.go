package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// ArchiveNotFound is returned when no snapshot exists for a strategy.
// It is a normal condition: the engine starts with empty state.
type ArchiveNotFound struct {
	StrategyName string
}

// Error implements the error interface
func (e *ArchiveNotFound) Error() string {
	return fmt.Sprintf("no saved state for strategy %q", e.StrategyName)
}

// CorruptionError is returned when a stored snapshot cannot be parsed.
// It propagates to the supervisor; recovery needs human intervention.
type CorruptionError struct {
	StrategyName string
	Err          error
}

// Error implements the error interface
func (e *CorruptionError) Error() string {
	return fmt.Sprintf("corrupted state for strategy %q: %v", e.StrategyName, e.Err)
}

// Unwrap returns the underlying error
func (e *CorruptionError) Unwrap() error { return e.Err }

// Repository persists strategy snapshots in the strategy_state table
type Repository struct {
	db  *sqlx.DB
	log zerolog.Logger
}

// NewRepository builds a repository over the shared connection
func NewRepository(db *sqlx.DB, log zerolog.Logger) *Repository {
	return &Repository{db: db, log: log.With().Str("component", "persistence").Logger()}
}

// Save appends a snapshot row for the strategy
func (r *Repository) Save(strategyName string, snap Snapshot) error {
	snap.SchemaVersion = CurrentSchemaVersion
	if snap.SavedAt.IsZero() {
		snap.SavedAt = time.Now()
	}
	raw, err := MarshalSnapshot(snap)
	if err != nil {
		return fmt.Errorf("failed to serialize snapshot for %q: %w", strategyName, err)
	}

	_, err = r.db.Exec(
		`INSERT INTO strategy_state (strategy_name, snapshot_json, schema_version, saved_at) VALUES (?, ?, ?, ?)`,
		strategyName, string(raw), snap.SchemaVersion, snap.SavedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot for %q: %w", strategyName, err)
	}
	r.log.Debug().
		Str("strategy", strategyName).
		Int("bytes", len(raw)).
		Msg("Snapshot saved")
	return nil
}

// Load returns the latest snapshot for the strategy. A missing archive
// returns ArchiveNotFound; unparseable JSON returns CorruptionError.
func (r *Repository) Load(strategyName string) (Snapshot, error) {
	var raw string
	err := r.db.Get(&raw,
		`SELECT snapshot_json FROM strategy_state WHERE strategy_name = ? ORDER BY saved_at DESC LIMIT 1`,
		strategyName,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Snapshot{}, &ArchiveNotFound{StrategyName: strategyName}
		}
		return Snapshot{}, fmt.Errorf("failed to load snapshot for %q: %w", strategyName, err)
	}

	snap, err := UnmarshalSnapshot([]byte(raw))
	if err != nil {
		return Snapshot{}, &CorruptionError{StrategyName: strategyName, Err: err}
	}
	return snap, nil
}

// VerifyIntegrity reports whether the latest snapshot is parseable JSON
// carrying a schema_version field.
func (r *Repository) VerifyIntegrity(strategyName string) bool {
	var raw string
	err := r.db.Get(&raw,
		`SELECT snapshot_json FROM strategy_state WHERE strategy_name = ? ORDER BY saved_at DESC LIMIT 1`,
		strategyName,
	)
	if err != nil {
		return false
	}
	var tree map[string]any
	if err := json.Unmarshal([]byte(raw), &tree); err != nil {
		return false
	}
	_, ok := tree["schema_version"].(float64)
	return ok
}

// Cleanup deletes snapshots older than keepDays, returning the number
// of rows removed.
func (r *Repository) Cleanup(strategyName string, keepDays int) (int64, error) {
	cutoff := time.Now().AddDate(0, 0, -keepDays)
	res, err := r.db.Exec(
		`DELETE FROM strategy_state WHERE strategy_name = ? AND saved_at < ?`,
		strategyName, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up snapshots for %q: %w", strategyName, err)
	}
	n, _ := res.RowsAffected()
	if n > 0 {
		r.log.Info().
			Str("strategy", strategyName).
			Int64("deleted", n).
			Msg("Old snapshots removed")
	}
	return n, nil
}
