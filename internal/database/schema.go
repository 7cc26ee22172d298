package database

import (
	"fmt"

	"github.com/jmoiron/sqlx"
)

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS strategy_state (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		strategy_name VARCHAR(128) NOT NULL,
		snapshot_json LONGTEXT NOT NULL,
		schema_version INT NOT NULL DEFAULT 1,
		saved_at DATETIME(6) NOT NULL,
		KEY idx_strategy_saved (strategy_name, saved_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS monitor_signal_snapshot (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		variant VARCHAR(64) NOT NULL,
		instance_id VARCHAR(64) NOT NULL,
		updated_at DATETIME(6) NOT NULL,
		bar_dt DATETIME(6) NULL,
		bar_interval VARCHAR(16) NULL,
		bar_window INT NULL,
		payload_json JSON NOT NULL,
		UNIQUE KEY uk_variant_instance (variant, instance_id),
		KEY idx_updated_at (updated_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
	`CREATE TABLE IF NOT EXISTS monitor_signal_event (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		variant VARCHAR(64) NOT NULL,
		instance_id VARCHAR(64) NOT NULL,
		vt_symbol VARCHAR(64) NOT NULL,
		bar_dt DATETIME(6) NULL,
		event_type VARCHAR(32) NOT NULL,
		event_key VARCHAR(192) NOT NULL,
		created_at DATETIME(6) NOT NULL,
		payload_json JSON NOT NULL,
		UNIQUE KEY uk_event_key (event_key),
		KEY idx_variant_created (variant, created_at)
	) ENGINE=InnoDB DEFAULT CHARSET=utf8mb4`,
}

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS strategy_state (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		strategy_name TEXT NOT NULL,
		snapshot_json TEXT NOT NULL,
		schema_version INTEGER NOT NULL DEFAULT 1,
		saved_at DATETIME NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_strategy_saved ON strategy_state (strategy_name, saved_at)`,
	`CREATE TABLE IF NOT EXISTS monitor_signal_snapshot (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		variant TEXT NOT NULL,
		instance_id TEXT NOT NULL,
		updated_at DATETIME NOT NULL,
		bar_dt DATETIME NULL,
		bar_interval TEXT NULL,
		bar_window INTEGER NULL,
		payload_json TEXT NOT NULL,
		UNIQUE (variant, instance_id)
	)`,
	`CREATE TABLE IF NOT EXISTS monitor_signal_event (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		variant TEXT NOT NULL,
		instance_id TEXT NOT NULL,
		vt_symbol TEXT NOT NULL,
		bar_dt DATETIME NULL,
		event_type TEXT NOT NULL,
		event_key TEXT NOT NULL UNIQUE,
		created_at DATETIME NOT NULL,
		payload_json TEXT NOT NULL
	)`,
}

// EnsureSchema creates the persistence and monitor tables if absent
func EnsureSchema(db *sqlx.DB, driver string) error {
	var stmts []string
	switch driver {
	case "mysql":
		stmts = mysqlSchema
	case "sqlite":
		stmts = sqliteSchema
	default:
		return fmt.Errorf("unsupported database driver %q", driver)
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
