// Package config defines all configuration for the arbitrage engine.
// Config is loaded from a YAML file (default: configs/config.yaml) with
// sensitive fields overridable via ARB_* environment variables.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration. Maps directly to the YAML file structure.
type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	API        APIConfig        `mapstructure:"api"`
	Strategies StrategiesConfig `mapstructure:"strategies"`
	Risk       RiskConfig       `mapstructure:"risk"`
	RateLimits RateLimitConfig  `mapstructure:"rate_limits"`
	Journal    JournalConfig    `mapstructure:"journal"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// BotConfig holds session-level settings.
type BotConfig struct {
	Name     string `mapstructure:"name"`
	DryRun   bool   `mapstructure:"dry_run"`
	Capital  float64 `mapstructure:"capital"`
}

// APIConfig holds the CLOB REST/WS endpoints and credentials. Secret fields
// are normally supplied via environment variables rather than the YAML file.
type APIConfig struct {
	CLOBBaseURL string `mapstructure:"clob_base_url"`
	WSMarketURL string `mapstructure:"ws_market_url"`
	WSUserURL   string `mapstructure:"ws_user_url"`
	ApiKey      string `mapstructure:"api_key"`
	Secret      string `mapstructure:"secret"`
	Passphrase  string `mapstructure:"passphrase"`

	Exchanges []ExchangeConfig `mapstructure:"exchanges"`
}

// ExchangeConfig configures one spot-price PriceFeed.
type ExchangeConfig struct {
	Name    string   `mapstructure:"name"`
	WSURL   string   `mapstructure:"ws_url"`
	Symbols []string `mapstructure:"symbols"`
}

// RateLimitConfig sets the CLOB client's per-category token-bucket limits.
// A category left at its zero value falls back to the venue's published
// default for that category rather than disabling the limiter.
type RateLimitConfig struct {
	Order  RateLimitBucketConfig `mapstructure:"order"`
	Cancel RateLimitBucketConfig `mapstructure:"cancel"`
	Book   RateLimitBucketConfig `mapstructure:"book"`
}

// RateLimitBucketConfig configures one token bucket: Burst is the maximum
// tokens held, RatePerSecond the continuous refill rate.
type RateLimitBucketConfig struct {
	Burst         float64 `mapstructure:"burst"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
}

// StrategiesConfig groups the five detectors' per-strategy tuning, matching
// spec section 6's configuration schema verbatim.
type StrategiesConfig struct {
	LatencyArbitrage    LatencyArbitrageConfig    `mapstructure:"latency_arbitrage"`
	NearResolvedSniping NearResolvedSnipingConfig `mapstructure:"near_resolved_sniping"`
	YesNoArbitrage      YesNoArbitrageConfig      `mapstructure:"yes_no_arbitrage"`
	SpreadTrading       SpreadTradingConfig       `mapstructure:"spread_trading"`
	RangeCoverage       RangeCoverageConfig       `mapstructure:"range_coverage"`
	CompoundingBets     CompoundingBetsConfig     `mapstructure:"compounding_bets"`
}

type LatencyArbitrageConfig struct {
	Enabled                bool          `mapstructure:"enabled"`
	MinPriceDeviation      float64       `mapstructure:"min_price_deviation"`
	MaxPositionSize        float64       `mapstructure:"max_position_size"`
	ExecutionWindowSeconds time.Duration `mapstructure:"execution_window_seconds"`
	TargetMarkets          []string      `mapstructure:"target_markets"`
}

type NearResolvedSnipingConfig struct {
	Enabled                  bool    `mapstructure:"enabled"`
	MinProbability           float64 `mapstructure:"min_probability"`
	MaxProbability           float64 `mapstructure:"max_probability"`
	MinYield                 float64 `mapstructure:"min_yield"`
	MaxTimeToResolutionHours float64 `mapstructure:"max_time_to_resolution_hours"`
	ReinvestProfits          bool    `mapstructure:"reinvest_profits"`
}

type YesNoArbitrageConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	MinSpread       float64 `mapstructure:"min_spread"`
	MaxSlippage     float64 `mapstructure:"max_slippage"`
	TargetProfitPct float64 `mapstructure:"target_profit_pct"`
	MaxPositionSize float64 `mapstructure:"max_position_size"`
}

type SpreadTradingConfig struct {
	Enabled              bool          `mapstructure:"enabled"`
	MinSpread            float64       `mapstructure:"min_spread"`
	OrderRefreshSeconds  time.Duration `mapstructure:"order_refresh_seconds"`
	MaxInventoryImbalance float64      `mapstructure:"max_inventory_imbalance"`
	OrderSize            float64       `mapstructure:"order_size"`
}

type RangeCoverageConfig struct {
	Enabled            bool    `mapstructure:"enabled"`
	MaxTotalCost       float64 `mapstructure:"max_total_cost"`
	TargetProfitPct    float64 `mapstructure:"target_profit_pct"`
	MinOutcomesCovered int     `mapstructure:"min_outcomes_covered"`
	MaxPositionSize    float64 `mapstructure:"max_position_size"`
}

type CompoundingBetsConfig struct {
	TargetWinRate     float64 `mapstructure:"target_win_rate"`
	MinCertainty      float64 `mapstructure:"min_certainty"`
	MaxPositionPct    float64 `mapstructure:"max_position_pct"`
	CompoundFrequency string  `mapstructure:"compound_frequency"` // "immediate" or "daily"
}

// RiskConfig sets the session-wide halt limits enforced by the Scheduler.
type RiskConfig struct {
	MaxDailyLoss    float64 `mapstructure:"max_daily_loss"`
	MaxPositionSize float64 `mapstructure:"max_position_size"`
}

// JournalConfig sets where the append-only trade journal is written.
type JournalConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads config from a YAML file with env var overrides.
// Sensitive fields use env vars: ARB_API_KEY, ARB_API_SECRET, ARB_PASSPHRASE.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("ARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("ARB_API_KEY"); key != "" {
		cfg.API.ApiKey = key
	}
	if secret := os.Getenv("ARB_API_SECRET"); secret != "" {
		cfg.API.Secret = secret
	}
	if pass := os.Getenv("ARB_PASSPHRASE"); pass != "" {
		cfg.API.Passphrase = pass
	}
	if os.Getenv("ARB_DRY_RUN") == "true" || os.Getenv("ARB_DRY_RUN") == "1" {
		cfg.Bot.DryRun = true
	}

	return &cfg, nil
}

// Validate checks all required fields and value ranges.
func (c *Config) Validate() error {
	if c.API.CLOBBaseURL == "" {
		return fmt.Errorf("api.clob_base_url is required")
	}
	if c.Bot.Capital <= 0 {
		return fmt.Errorf("bot.capital must be > 0")
	}
	if !c.Bot.DryRun {
		if c.API.ApiKey == "" || c.API.Secret == "" || c.API.Passphrase == "" {
			return fmt.Errorf("api.api_key, api.secret, and api.passphrase are required outside dry-run (set ARB_API_KEY/ARB_API_SECRET/ARB_PASSPHRASE)")
		}
	}
	if c.Risk.MaxDailyLoss <= 0 {
		return fmt.Errorf("risk.max_daily_loss must be > 0")
	}
	if c.Risk.MaxPositionSize <= 0 {
		return fmt.Errorf("risk.max_position_size must be > 0")
	}
	for _, ex := range c.API.Exchanges {
		if ex.Name == "" || ex.WSURL == "" {
			return fmt.Errorf("api.exchanges entries require name and ws_url")
		}
	}
	return nil
}
