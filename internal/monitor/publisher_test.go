package monitor

import (
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/quantfisher/voltrader/internal/database"
)

func newTestPublisher(t *testing.T) (*Publisher, *sqlx.DB) {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.EnsureSchema(db, "sqlite"))
	return NewPublisher(db, "sqlite", zerolog.Nop()), db
}

func TestUpsertSnapshotReplacesRow(t *testing.T) {
	p, db := newTestPublisher(t)

	require.NoError(t, p.UpsertSnapshot(SnapshotRow{
		Variant: "default", InstanceID: "worker-1",
		Payload: map[string]any{"positions": 1},
	}))
	require.NoError(t, p.UpsertSnapshot(SnapshotRow{
		Variant: "default", InstanceID: "worker-1",
		Payload: map[string]any{"positions": 3},
	}))

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM monitor_signal_snapshot`))
	assert.Equal(t, 1, count)

	var payload string
	require.NoError(t, db.Get(&payload,
		`SELECT payload_json FROM monitor_signal_snapshot WHERE variant = ? AND instance_id = ?`,
		"default", "worker-1"))
	assert.JSONEq(t, `{"positions": 3}`, payload)

	// A second instance gets its own row
	require.NoError(t, p.UpsertSnapshot(SnapshotRow{
		Variant: "default", InstanceID: "worker-2",
		Payload: map[string]any{},
	}))
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM monitor_signal_snapshot`))
	assert.Equal(t, 2, count)
}

func TestInsertEventIdempotent(t *testing.T) {
	p, db := newTestPublisher(t)

	barDt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	row := EventRow{
		Variant: "default", InstanceID: "worker-1", VtSymbol: "rb2605.SHFE",
		BarDt: &barDt, EventType: "signal_generated", Extra: "short_vol",
		Payload: map[string]any{"signal": "short_vol"},
	}

	require.NoError(t, p.InsertEvent(row))
	// Replayed after a restart: deduplicated by the idempotency key
	require.NoError(t, p.InsertEvent(row))

	var count int
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM monitor_signal_event`))
	assert.Equal(t, 1, count)

	// Different bar produces a new row
	laterBar := barDt.Add(5 * time.Minute)
	row.BarDt = &laterBar
	require.NoError(t, p.InsertEvent(row))
	require.NoError(t, db.Get(&count, `SELECT COUNT(*) FROM monitor_signal_event`))
	assert.Equal(t, 2, count)
}

func TestIdempotencyKeyShape(t *testing.T) {
	barDt := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	row := EventRow{
		Variant: "v", InstanceID: "i", VtSymbol: "s",
		BarDt: &barDt, EventType: "open", Extra: "x",
	}
	assert.Equal(t, "v|i|s|2026-03-02T10:00:00Z|open_x", row.IdempotencyKey())

	row.BarDt = nil
	row.Extra = ""
	assert.Equal(t, "v|i|s||open", row.IdempotencyKey())
}
