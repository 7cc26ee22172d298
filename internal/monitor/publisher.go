// Package monitor publishes strategy signal state to the dashboard
// tables. The core never serves HTTP; the dashboard reads the database.
package monitor

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
)

// SnapshotRow is the latest signal state for one strategy variant
type SnapshotRow struct {
	Variant     string         `json:"variant"`
	InstanceID  string         `json:"instance_id"`
	BarDt       *time.Time     `json:"bar_dt,omitempty"`
	BarInterval string         `json:"bar_interval,omitempty"`
	BarWindow   int            `json:"bar_window,omitempty"`
	Payload     map[string]any `json:"payload"`
}

// EventRow is one append-only signal event
type EventRow struct {
	Variant    string         `json:"variant"`
	InstanceID string         `json:"instance_id"`
	VtSymbol   string         `json:"vt_symbol"`
	BarDt      *time.Time     `json:"bar_dt,omitempty"`
	EventType  string         `json:"event_type"`
	Extra      string         `json:"extra,omitempty"`
	Payload    map[string]any `json:"payload"`
}

// IdempotencyKey builds the unique key that deduplicates event inserts
func (e EventRow) IdempotencyKey() string {
	barDt := ""
	if e.BarDt != nil {
		barDt = e.BarDt.UTC().Format(time.RFC3339)
	}
	eventType := e.EventType
	if e.Extra != "" {
		eventType += "_" + e.Extra
	}
	return strings.Join([]string{e.Variant, e.InstanceID, e.VtSymbol, barDt, eventType}, "|")
}

// Publisher writes monitor rows. All methods log and swallow database
// errors except where noted: monitoring must never take down trading.
type Publisher struct {
	db     *sqlx.DB
	driver string
	log    zerolog.Logger
}

// NewPublisher builds a publisher for the given driver ("mysql" or
// "sqlite"; the upsert syntax differs).
func NewPublisher(db *sqlx.DB, driver string, log zerolog.Logger) *Publisher {
	return &Publisher{db: db, driver: driver, log: log.With().Str("component", "monitor").Logger()}
}

// UpsertSnapshot replaces the variant's latest snapshot row
func (p *Publisher) UpsertSnapshot(row SnapshotRow) error {
	payload, err := json.Marshal(row.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot payload: %w", err)
	}

	var stmt string
	switch p.driver {
	case "mysql":
		stmt = `INSERT INTO monitor_signal_snapshot
			(variant, instance_id, updated_at, bar_dt, bar_interval, bar_window, payload_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON DUPLICATE KEY UPDATE
			updated_at = VALUES(updated_at), bar_dt = VALUES(bar_dt),
			bar_interval = VALUES(bar_interval), bar_window = VALUES(bar_window),
			payload_json = VALUES(payload_json)`
	default:
		stmt = `INSERT INTO monitor_signal_snapshot
			(variant, instance_id, updated_at, bar_dt, bar_interval, bar_window, payload_json)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (variant, instance_id) DO UPDATE SET
			updated_at = excluded.updated_at, bar_dt = excluded.bar_dt,
			bar_interval = excluded.bar_interval, bar_window = excluded.bar_window,
			payload_json = excluded.payload_json`
	}

	_, err = p.db.Exec(stmt,
		row.Variant, row.InstanceID, time.Now(), row.BarDt, row.BarInterval, row.BarWindow, string(payload))
	if err != nil {
		p.log.Error().Err(err).Str("variant", row.Variant).Msg("Snapshot upsert failed")
		return err
	}
	return nil
}

// InsertEvent appends an event row. Duplicate idempotency keys are
// silently skipped, so re-publishing after a restart is safe.
func (p *Publisher) InsertEvent(row EventRow) error {
	payload, err := json.Marshal(row.Payload)
	if err != nil {
		return fmt.Errorf("failed to encode event payload: %w", err)
	}

	var stmt string
	switch p.driver {
	case "mysql":
		stmt = `INSERT IGNORE INTO monitor_signal_event
			(variant, instance_id, vt_symbol, bar_dt, event_type, event_key, created_at, payload_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	default:
		stmt = `INSERT OR IGNORE INTO monitor_signal_event
			(variant, instance_id, vt_symbol, bar_dt, event_type, event_key, created_at, payload_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	}

	_, err = p.db.Exec(stmt,
		row.Variant, row.InstanceID, row.VtSymbol, row.BarDt,
		row.EventType, row.IdempotencyKey(), time.Now(), string(payload))
	if err != nil {
		p.log.Error().Err(err).Str("variant", row.Variant).Str("event_type", row.EventType).Msg("Event insert failed")
		return err
	}
	return nil
}
