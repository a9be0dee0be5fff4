// Package config provides configuration management for the trading engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"

	"github.com/eddiefleurent/schrute_scalper/internal/models"
)

// Risk defaults applied when strategy exit ratios are unset.
const (
	// defaultProfitTargetRatio closes when buy-back cost falls to 50% of credit
	defaultProfitTargetRatio = 0.50
	// defaultStopLossRatio closes when buy-back cost reaches 200% of credit
	defaultStopLossRatio = 2.00
	// defaultStrikeIncrement is the strike grid granularity in dollars
	defaultStrikeIncrement = 5.0
	// defaultTimezone is the exchange timezone used for all session math
	defaultTimezone = "America/New_York"
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Feed        FeedConfig        `yaml:"feed"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings.
type BrokerConfig struct {
	Provider    string `yaml:"provider"`
	APIKey      string `yaml:"api_key"`
	APIEndpoint string `yaml:"api_endpoint"`
	AccountID   string `yaml:"account_id"`
}

// ScheduleConfig defines the trading session clock for a single day.
// All times are "HH:MM" wall-clock values in Timezone.
type ScheduleConfig struct {
	Timezone       string `yaml:"timezone"`
	OpenTime       string `yaml:"open_time"`        // session start, e.g. "09:30"
	ActiveEndTime  string `yaml:"active_end_time"`  // last instant new risk may be opened, e.g. "15:30"
	SessionEndTime string `yaml:"session_end_time"` // hard session end, e.g. "16:00"
}

// StrategyConfig defines signal and risk parameters.
type StrategyConfig struct {
	Tickers           []string `yaml:"tickers"`
	ContractsPerTrade int      `yaml:"contracts_per_trade"`
	ProfitTargetRatio float64  `yaml:"profit_target_ratio"` // buy-back cost / credit that takes profit
	StopLossRatio     float64  `yaml:"stop_loss_ratio"`     // buy-back cost / credit that stops out
	StrikeIncrement   float64  `yaml:"strike_increment"`    // strike grid granularity in dollars
	StrikeTieBreak    string   `yaml:"strike_tie_break"`    // otm | nearest
}

// FeedConfig selects the tick source implementation.
type FeedConfig struct {
	Provider     string  `yaml:"provider"` // synthetic | replay | websocket
	URL          string  `yaml:"url"`      // websocket endpoint
	ReplayPath   string  `yaml:"replay_path"`
	TickInterval string  `yaml:"tick_interval"` // synthetic cadence, e.g. "1s"
	StartPrice   float64 `yaml:"start_price"`   // synthetic starting price
}

// StorageConfig defines persistence settings for positions and trades.
type StorageConfig struct {
	Backend string `yaml:"backend"` // json | sqlite
	Path    string `yaml:"path"`
}

// DashboardConfig defines the status HTTP server settings.
type DashboardConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads and parses the configuration file from the specified path.
func Load(configPath string) (*Config, error) {
	if configPath == "" {
		configPath = "config.yaml"
	}

	data, err := os.ReadFile(configPath) // #nosec G304 -- configPath is a user-provided config file path
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var config Config
	dec := yaml.NewDecoder(strings.NewReader(expanded))
	dec.KnownFields(true)
	if err := dec.Decode(&config); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	config.normalize()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// normalize fills unset fields with documented defaults.
func (c *Config) normalize() {
	if c.Strategy.ProfitTargetRatio == 0 {
		c.Strategy.ProfitTargetRatio = defaultProfitTargetRatio
	}
	if c.Strategy.StopLossRatio == 0 {
		c.Strategy.StopLossRatio = defaultStopLossRatio
	}
	if c.Strategy.StrikeIncrement == 0 {
		c.Strategy.StrikeIncrement = defaultStrikeIncrement
	}
	if c.Strategy.StrikeTieBreak == "" {
		c.Strategy.StrikeTieBreak = "otm"
	}
	if c.Strategy.ContractsPerTrade == 0 {
		c.Strategy.ContractsPerTrade = 1
	}
	if c.Schedule.Timezone == "" {
		c.Schedule.Timezone = defaultTimezone
	}
	if c.Schedule.OpenTime == "" {
		c.Schedule.OpenTime = "09:30"
	}
	if c.Schedule.ActiveEndTime == "" {
		c.Schedule.ActiveEndTime = "15:30"
	}
	if c.Schedule.SessionEndTime == "" {
		c.Schedule.SessionEndTime = "16:00"
	}
	if c.Storage.Backend == "" {
		c.Storage.Backend = "json"
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "positions.json"
	}
	if c.Feed.Provider == "" {
		c.Feed.Provider = "synthetic"
	}
}

// Validate checks that all configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Environment.Mode == "live" {
		if c.Broker.APIKey == "" {
			return fmt.Errorf("broker.api_key is required in live mode")
		}
		if c.Broker.AccountID == "" {
			return fmt.Errorf("broker.account_id is required in live mode")
		}
	}

	if len(c.Strategy.Tickers) == 0 {
		return fmt.Errorf("strategy.tickers must list at least one ticker")
	}
	seen := make(map[string]bool, len(c.Strategy.Tickers))
	for _, ticker := range c.Strategy.Tickers {
		if ticker == "" {
			return fmt.Errorf("strategy.tickers must not contain empty entries")
		}
		if seen[ticker] {
			return fmt.Errorf("strategy.tickers contains duplicate ticker %q", ticker)
		}
		seen[ticker] = true
	}
	if c.Strategy.ContractsPerTrade <= 0 {
		return fmt.Errorf("strategy.contracts_per_trade must be > 0")
	}
	if c.Strategy.ProfitTargetRatio <= 0 || c.Strategy.ProfitTargetRatio >= 1 {
		return fmt.Errorf("strategy.profit_target_ratio must be in (0,1)")
	}
	if c.Strategy.StopLossRatio <= 1 {
		return fmt.Errorf("strategy.stop_loss_ratio must be > 1")
	}
	if c.Strategy.StrikeIncrement <= 0 {
		return fmt.Errorf("strategy.strike_increment must be > 0")
	}
	if c.Strategy.StrikeTieBreak != "otm" && c.Strategy.StrikeTieBreak != "nearest" {
		return fmt.Errorf("strategy.strike_tie_break must be 'otm' or 'nearest'")
	}

	loc, err := c.Location()
	if err != nil {
		return fmt.Errorf("schedule.timezone invalid: %w", err)
	}
	open, err1 := time.ParseInLocation("15:04", c.Schedule.OpenTime, loc)
	activeEnd, err2 := time.ParseInLocation("15:04", c.Schedule.ActiveEndTime, loc)
	sessionEnd, err3 := time.ParseInLocation("15:04", c.Schedule.SessionEndTime, loc)
	if err1 != nil || err2 != nil || err3 != nil {
		return fmt.Errorf("schedule times must be HH:MM")
	}
	if !open.Before(activeEnd) || !activeEnd.Before(sessionEnd) {
		return fmt.Errorf("schedule must satisfy open_time < active_end_time < session_end_time")
	}

	switch c.Storage.Backend {
	case "json", "sqlite":
	default:
		return fmt.Errorf("storage.backend must be 'json' or 'sqlite'")
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}

	switch c.Feed.Provider {
	case "synthetic", "replay":
	case "websocket":
		if c.Feed.URL == "" {
			return fmt.Errorf("feed.url is required for the websocket provider")
		}
	default:
		return fmt.Errorf("feed.provider must be 'synthetic', 'replay' or 'websocket'")
	}
	if c.Feed.TickInterval != "" {
		if _, err := time.ParseDuration(c.Feed.TickInterval); err != nil {
			return fmt.Errorf("feed.tick_interval invalid: %w", err)
		}
	}

	if c.Dashboard.Enabled && (c.Dashboard.Port <= 0 || c.Dashboard.Port > 65535) {
		return fmt.Errorf("dashboard.port must be in (0,65535]")
	}

	return nil
}

// IsPaperTrading returns true if the engine is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// Location returns the configured exchange timezone.
func (c *Config) Location() (*time.Location, error) {
	tz := c.Schedule.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	return time.LoadLocation(tz)
}

// TickInterval returns the synthetic feed cadence.
func (c *Config) TickInterval() time.Duration {
	d, err := time.ParseDuration(c.Feed.TickInterval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}

// SessionFor builds the TradingSession governing the given calendar day.
func (c *Config) SessionFor(day time.Time, loc *time.Location) (models.TradingSession, error) {
	day = day.In(loc)
	at := func(hhmm string) (time.Time, error) {
		clock, err := time.ParseInLocation("15:04", hhmm, loc)
		if err != nil {
			return time.Time{}, fmt.Errorf("parsing %q: %w", hhmm, err)
		}
		return time.Date(day.Year(), day.Month(), day.Day(),
			clock.Hour(), clock.Minute(), 0, 0, loc), nil
	}

	open, err := at(c.Schedule.OpenTime)
	if err != nil {
		return models.TradingSession{}, err
	}
	activeEnd, err := at(c.Schedule.ActiveEndTime)
	if err != nil {
		return models.TradingSession{}, err
	}
	sessionEnd, err := at(c.Schedule.SessionEndTime)
	if err != nil {
		return models.TradingSession{}, err
	}

	return models.TradingSession{
		Date:           time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, loc),
		OpenTime:       open,
		ActiveEndTime:  activeEnd,
		SessionEndTime: sessionEnd,
	}, nil
}
