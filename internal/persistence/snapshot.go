package persistence

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/quantfisher/voltrader/internal/modules/instruments"
	"github.com/quantfisher/voltrader/internal/modules/positions"
)

// CurrentSchemaVersion is the version written by this build
const CurrentSchemaVersion = 1

// Snapshot is the persisted strategy state
type Snapshot struct {
	SchemaVersion     int               `json:"schema_version"`
	SavedAt           time.Time         `json:"-"`
	TargetAggregate   instruments.State `json:"-"`
	PositionAggregate positions.State   `json:"-"`
	CurrentDt         time.Time         `json:"-"`
}

// MarshalSnapshot renders the snapshot with typed datetime markers at
// the top level.
func MarshalSnapshot(s Snapshot) ([]byte, error) {
	target, err := toTree(s.TargetAggregate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode target aggregate: %w", err)
	}
	position, err := toTree(s.PositionAggregate)
	if err != nil {
		return nil, fmt.Errorf("failed to encode position aggregate: %w", err)
	}
	top := map[string]any{
		"schema_version":     s.SchemaVersion,
		"saved_at":           Encode(s.SavedAt),
		"target_aggregate":   target,
		"position_aggregate": position,
		"current_dt":         Encode(s.CurrentDt),
	}
	return json.Marshal(top)
}

// UnmarshalSnapshot parses snapshot JSON, applying the migration chain
// to bring older schema versions up to date.
func UnmarshalSnapshot(raw []byte) (Snapshot, error) {
	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return Snapshot{}, err
	}

	tree, err := migrate(tree)
	if err != nil {
		return Snapshot{}, err
	}

	var s Snapshot
	if v, ok := tree["schema_version"].(float64); ok {
		s.SchemaVersion = int(v)
	}
	if dt, ok := Decode(tree["saved_at"]).(time.Time); ok {
		s.SavedAt = dt
	}
	if dt, ok := Decode(tree["current_dt"]).(time.Time); ok {
		s.CurrentDt = dt
	}
	if err := fromTree(tree["target_aggregate"], &s.TargetAggregate); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode target aggregate: %w", err)
	}
	if err := fromTree(tree["position_aggregate"], &s.PositionAggregate); err != nil {
		return Snapshot{}, fmt.Errorf("failed to decode position aggregate: %w", err)
	}
	return s, nil
}

func toTree(v any) (any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var tree any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, err
	}
	return tree, nil
}

func fromTree(tree any, dst any) error {
	if tree == nil {
		return nil
	}
	raw, err := json.Marshal(tree)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}

// migration upgrades a snapshot tree by exactly one schema version
type migration func(map[string]any) (map[string]any, error)

// migrations maps from-version to the upgrade into from-version+1.
// Once registered, a migration never changes.
var migrations = map[int]migration{}

// migrate applies the chain until the tree reaches the current version
func migrate(tree map[string]any) (map[string]any, error) {
	version := 0
	if v, ok := tree["schema_version"].(float64); ok {
		version = int(v)
	}
	if version == 0 {
		version = 1 // pre-versioning snapshots are treated as v1
		tree["schema_version"] = float64(1)
	}
	if version > CurrentSchemaVersion {
		return nil, fmt.Errorf("snapshot schema version %d is newer than supported %d", version, CurrentSchemaVersion)
	}
	for version < CurrentSchemaVersion {
		step, ok := migrations[version]
		if !ok {
			return nil, fmt.Errorf("no migration registered from schema version %d", version)
		}
		next, err := step(tree)
		if err != nil {
			return nil, fmt.Errorf("migration from version %d failed: %w", version, err)
		}
		tree = next
		version++
		tree["schema_version"] = float64(version)
	}
	return tree, nil
}

// RegisteredMigrations lists the from-versions with a migration, sorted
func RegisteredMigrations() []int {
	out := make([]int, 0, len(migrations))
	for v := range migrations {
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
