package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// StrategyConfig is the runtime strategy configuration loaded from YAML.
// Missing keys fall back to the documented defaults.
type StrategyConfig struct {
	Products    []string `yaml:"products"`
	BarWindow   int      `yaml:"bar_window"`
	BarInterval string   `yaml:"bar_interval"`

	AutoSaveIntervalSeconds float64 `yaml:"auto_save_interval_seconds"`
	SnapshotKeepDays        int     `yaml:"snapshot_keep_days"`
	CountManualOpens        bool    `yaml:"count_manual_opens"`

	Runtime   RuntimeConfig   `yaml:"runtime"`
	Selector  SelectorConfig  `yaml:"selector"`
	Sizing    SizingConfig    `yaml:"sizing"`
	Risk      RiskConfig      `yaml:"risk"`
	Execution ExecutionConfig `yaml:"execution"`
	Hedging   HedgingConfig   `yaml:"hedging"`
	Scalping  ScalpingConfig  `yaml:"scalping"`
}

// RuntimeConfig holds supervisor-level runtime settings
type RuntimeConfig struct {
	TradingPeriods  []TradingPeriod `yaml:"trading_periods"`
	MaxRestartCount int             `yaml:"max_restart_count"`
	RestartBaseSec  float64         `yaml:"restart_base_delay_seconds"`
	RestartMaxSec   float64         `yaml:"restart_max_delay_seconds"`
	ResetAfterHours float64         `yaml:"reset_after_hours"`
}

// TradingPeriod is one trading session window, e.g. 09:00-11:30
type TradingPeriod struct {
	Start string `yaml:"start"` // "HH:MM"
	End   string `yaml:"end"`
}

// Contains reports whether the clock time of t falls inside the period
func (p TradingPeriod) Contains(t time.Time) bool {
	start, err1 := time.Parse("15:04", p.Start)
	end, err2 := time.Parse("15:04", p.End)
	if err1 != nil || err2 != nil {
		return false
	}
	minute := t.Hour()*60 + t.Minute()
	s := start.Hour()*60 + start.Minute()
	e := end.Hour()*60 + end.Minute()
	if s <= e {
		return minute >= s && minute < e
	}
	// Overnight session, e.g. 21:00-02:30
	return minute >= s || minute < e
}

// SelectorConfig holds future/option selection parameters
type SelectorConfig struct {
	StrikeLevel    int     `yaml:"strike_level"`
	MinBidPrice    float64 `yaml:"min_bid_price"`
	MinBidVolume   int     `yaml:"min_bid_volume"`
	MinVolume      float64 `yaml:"min_volume"`
	MaxSpreadTicks float64 `yaml:"max_spread_ticks"`
	MinTradingDays int     `yaml:"min_trading_days"`
	MaxTradingDays int     `yaml:"max_trading_days"`
	RolloverDays   int     `yaml:"rollover_days"`
}

// SizingConfig holds position sizing parameters
type SizingConfig struct {
	MaxPositions       int     `yaml:"max_positions"`
	PositionRatio      float64 `yaml:"position_ratio"`
	GlobalDailyLimit   int     `yaml:"global_daily_limit"`
	ContractDailyLimit int     `yaml:"contract_daily_limit"`
}

// RiskConfig holds Greeks thresholds at position and portfolio level
type RiskConfig struct {
	PositionDeltaLimit  float64 `yaml:"position_delta_limit"`
	PositionGammaLimit  float64 `yaml:"position_gamma_limit"`
	PositionVegaLimit   float64 `yaml:"position_vega_limit"`
	PositionThetaLimit  float64 `yaml:"position_theta_limit"`
	PortfolioDeltaLimit float64 `yaml:"portfolio_delta_limit"`
	PortfolioGammaLimit float64 `yaml:"portfolio_gamma_limit"`
	PortfolioVegaLimit  float64 `yaml:"portfolio_vega_limit"`
	PortfolioThetaLimit float64 `yaml:"portfolio_theta_limit"`
	BlockOpensOnBreach  bool    `yaml:"block_opens_on_breach"`
}

// ExecutionConfig holds smart executor parameters
type ExecutionConfig struct {
	SlippageTicks   float64 `yaml:"slippage_ticks"`
	TimeoutSeconds  float64 `yaml:"timeout_seconds"`
	MaxRetries      int     `yaml:"max_retries"`
	OrdersPerSecond float64 `yaml:"orders_per_second"`
}

// HedgingConfig holds delta hedging parameters
type HedgingConfig struct {
	TargetDelta               float64 `yaml:"target_delta"`
	HedgingBand               float64 `yaml:"hedging_band"`
	HedgeInstrumentVtSymbol   string  `yaml:"hedge_instrument_vt_symbol"`
	HedgeInstrumentDelta      float64 `yaml:"hedge_instrument_delta"`
	HedgeInstrumentMultiplier float64 `yaml:"hedge_instrument_multiplier"`
}

// ScalpingConfig holds gamma scalping parameters
type ScalpingConfig struct {
	RebalanceThreshold        float64 `yaml:"rebalance_threshold"`
	HedgeInstrumentVtSymbol   string  `yaml:"hedge_instrument_vt_symbol"`
	HedgeInstrumentDelta      float64 `yaml:"hedge_instrument_delta"`
	HedgeInstrumentMultiplier float64 `yaml:"hedge_instrument_multiplier"`
}

// DefaultStrategyConfig returns the documented defaults
func DefaultStrategyConfig() StrategyConfig {
	return StrategyConfig{
		BarWindow:               1,
		BarInterval:             "1m",
		AutoSaveIntervalSeconds: 60,
		SnapshotKeepDays:        7,
		Runtime: RuntimeConfig{
			MaxRestartCount: 10,
			RestartBaseSec:  5,
			RestartMaxSec:   300,
			ResetAfterHours: 1,
		},
		Selector: SelectorConfig{
			StrikeLevel:    3,
			MinBidPrice:    10,
			MinBidVolume:   10,
			MinVolume:      100,
			MaxSpreadTicks: 3,
			MinTradingDays: 1,
			MaxTradingDays: 50,
			RolloverDays:   7,
		},
		Sizing: SizingConfig{
			MaxPositions:       5,
			PositionRatio:      0.1,
			GlobalDailyLimit:   50,
			ContractDailyLimit: 2,
		},
		Risk: RiskConfig{
			PositionDeltaLimit:  50,
			PositionGammaLimit:  10,
			PositionVegaLimit:   100,
			PositionThetaLimit:  100,
			PortfolioDeltaLimit: 200,
			PortfolioGammaLimit: 50,
			PortfolioVegaLimit:  500,
			PortfolioThetaLimit: 500,
			BlockOpensOnBreach:  true,
		},
		Execution: ExecutionConfig{
			SlippageTicks:   2,
			TimeoutSeconds:  10,
			MaxRetries:      3,
			OrdersPerSecond: 5,
		},
		Hedging: HedgingConfig{
			HedgingBand:               10,
			HedgeInstrumentDelta:      1,
			HedgeInstrumentMultiplier: 10,
		},
		Scalping: ScalpingConfig{
			RebalanceThreshold:        20,
			HedgeInstrumentDelta:      1,
			HedgeInstrumentMultiplier: 10,
		},
	}
}

// LoadStrategyConfig reads the YAML file at path, applying defaults for
// missing keys. An empty path returns the defaults.
func LoadStrategyConfig(path string) (StrategyConfig, error) {
	cfg := DefaultStrategyConfig()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read strategy config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse strategy config %s: %w", path, err)
	}
	return cfg, nil
}
