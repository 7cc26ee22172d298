// Package database provides the process-wide relational store connection.
// Construction is fail-fast: missing environment variables or an
// unreachable server abort startup. There is no embedded fallback.
package database

import (
	"context"
	"fmt"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql" // MySQL driver
	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite" // Pure Go SQLite driver, used by tests

	"github.com/quantfisher/voltrader/internal/config"
)

// ConnectTimeout bounds the initial connection validation
const ConnectTimeout = 5 * time.Second

// ConnectionError reports a failed connection attempt
type ConnectionError struct {
	Host     string
	Database string
	Err      error
}

// Error implements the error interface
func (e *ConnectionError) Error() string {
	return fmt.Sprintf("failed to connect to database %s@%s: %v", e.Database, e.Host, e.Err)
}

// Unwrap returns the underlying error
func (e *ConnectionError) Unwrap() error { return e.Err }

// Factory owns the singleton database connection
type Factory struct {
	cfg config.DatabaseConfig
	log zerolog.Logger

	mu   sync.Mutex
	conn *sqlx.DB
}

var (
	instance *Factory
	once     sync.Once
)

// GetInstance returns the process-wide factory, creating it on first call
func GetInstance(cfg config.DatabaseConfig, log zerolog.Logger) *Factory {
	once.Do(func() {
		instance = &Factory{cfg: cfg, log: log.With().Str("component", "database").Logger()}
	})
	return instance
}

// NewFactory creates an unshared factory. Tests use this directly.
func NewFactory(cfg config.DatabaseConfig, log zerolog.Logger) *Factory {
	return &Factory{cfg: cfg, log: log.With().Str("component", "database").Logger()}
}

// Initialize validates the environment and establishes the connection.
// Returns ConfigError when required variables are missing and
// ConnectionError when the server is unreachable within ConnectTimeout.
func (f *Factory) Initialize() error {
	if missing := config.ValidateEnvVars(); len(missing) > 0 {
		return &config.ConfigError{MissingVars: missing}
	}
	return f.connect()
}

// Get returns the live connection, connecting lazily if needed
func (f *Factory) Get() (*sqlx.DB, error) {
	f.mu.Lock()
	conn := f.conn
	f.mu.Unlock()
	if conn != nil {
		return conn, nil
	}
	if err := f.connect(); err != nil {
		return nil, err
	}
	return f.conn, nil
}

// Close closes the connection
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn == nil {
		return nil
	}
	err := f.conn.Close()
	f.conn = nil
	return err
}

// Reset tears down the singleton. For tests only.
func Reset() {
	if instance != nil {
		_ = instance.Close()
	}
	instance = nil
	once = sync.Once{}
}

func (f *Factory) connect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.conn != nil {
		return nil
	}

	driver, dsn, err := buildDSN(f.cfg)
	if err != nil {
		return err
	}

	conn, err := sqlx.Open(driver, dsn)
	if err != nil {
		return &ConnectionError{Host: f.cfg.Host, Database: f.cfg.Database, Err: err}
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), ConnectTimeout)
	defer cancel()
	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return &ConnectionError{Host: f.cfg.Host, Database: f.cfg.Database, Err: err}
	}

	f.conn = conn
	f.log.Info().
		Str("driver", driver).
		Str("host", f.cfg.Host).
		Str("database", f.cfg.Database).
		Msg("Database connection established")
	return nil
}

func buildDSN(cfg config.DatabaseConfig) (driver, dsn string, err error) {
	switch cfg.Driver {
	case "mysql":
		port := cfg.Port
		if port == 0 {
			port = 3306
		}
		dsn = fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=true&loc=Local",
			cfg.User, cfg.Password, cfg.Host, port, cfg.Database)
		return "mysql", dsn, nil
	case "sqlite":
		// cfg.Database carries the file path or a file: URI
		return "sqlite", cfg.Database, nil
	default:
		return "", "", fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}
