// Package config provides configuration management functionality.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds process-level configuration read from the environment
type Config struct {
	StrategyName      string
	VariantName       string
	MonitorInstanceID string
	LogLevel          string
	DevMode           bool

	Database DatabaseConfig
	Broker   BrokerConfig
}

// DatabaseConfig holds the relational store connection settings.
// The driver is mandatory; the system never falls back to an embedded store.
type DatabaseConfig struct {
	Driver   string
	Host     string
	Port     int
	Database string
	User     string
	Password string
}

// BrokerConfig holds broker gateway credentials
type BrokerConfig struct {
	UserID     string
	Password   string
	BrokerID   string
	TdAddress  string
	MdAddress  string
	AppID      string
	AuthCode   string
}

// RequiredEnvVars are the environment variables that must be present for
// the worker to start.
var RequiredEnvVars = []string{
	"VNPY_DATABASE_DRIVER",
	"VNPY_DATABASE_HOST",
	"VNPY_DATABASE_DATABASE",
	"VNPY_DATABASE_USER",
	"VNPY_DATABASE_PASSWORD",
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg := &Config{
		StrategyName:      getEnv("STRATEGY_NAME", "VolStrategy"),
		VariantName:       getEnv("STRATEGY_VARIANT", "default"),
		MonitorInstanceID: getEnv("MONITOR_INSTANCE_ID", "default"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		DevMode:           getEnvAsBool("DEV_MODE", false),
		Database: DatabaseConfig{
			Driver:   getEnv("VNPY_DATABASE_DRIVER", ""),
			Host:     getEnv("VNPY_DATABASE_HOST", ""),
			Port:     getEnvAsInt("VNPY_DATABASE_PORT", 3306),
			Database: getEnv("VNPY_DATABASE_DATABASE", ""),
			User:     getEnv("VNPY_DATABASE_USER", ""),
			Password: getEnv("VNPY_DATABASE_PASSWORD", ""),
		},
		Broker: BrokerConfig{
			UserID:    getEnv("CTP_USER_ID", ""),
			Password:  getEnv("CTP_PASSWORD", ""),
			BrokerID:  getEnv("CTP_BROKER_ID", ""),
			TdAddress: getEnv("CTP_TD_ADDRESS", ""),
			MdAddress: getEnv("CTP_MD_ADDRESS", ""),
			AppID:     getEnv("CTP_APP_ID", ""),
			AuthCode:  getEnv("CTP_AUTH_CODE", ""),
		},
	}

	return cfg, nil
}

// ValidateEnvVars returns exactly the set of required variable names that
// are missing or blank in the environment.
func ValidateEnvVars() []string {
	var missing []string
	for _, name := range RequiredEnvVars {
		if v, ok := os.LookupEnv(name); !ok || v == "" {
			missing = append(missing, name)
		}
	}
	return missing
}

// ConfigError reports missing required environment variables
type ConfigError struct {
	MissingVars []string
}

// Error implements the error interface
func (e *ConfigError) Error() string {
	return fmt.Sprintf("missing required environment variables: %v", e.MissingVars)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
