// Package config provides configuration management for the trading engine.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// Defaults applied by Validate when the corresponding key is unset.
const (
	// defaultMissedGraceSeconds bounds how stale a breakout close may be
	// and still be traded.
	defaultMissedGraceSeconds = 300
	// defaultCooldownSeconds suppresses duplicate signal fingerprints.
	defaultCooldownSeconds = 300
	// defaultLotSize is the current NIFTY contract lot size.
	defaultLotSize = 75
	// defaultSnapshotRetention is how many state snapshots are kept on disk.
	defaultSnapshotRetention = 100
	// defaultFetchWindowHours is how far back each cycle fetches spot
	// candles.
	defaultFetchWindowHours = 48
)

// Config represents the complete application configuration.
type Config struct {
	Environment EnvironmentConfig `yaml:"environment"`
	Broker      BrokerConfig      `yaml:"broker"`
	Schedule    ScheduleConfig    `yaml:"schedule"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Risk        RiskConfig        `yaml:"risk"`
	Storage     StorageConfig     `yaml:"storage"`
	Dashboard   DashboardConfig   `yaml:"dashboard"`
	Backtest    BacktestConfig    `yaml:"backtest"`
}

// EnvironmentConfig defines the environment settings.
type EnvironmentConfig struct {
	Mode     string `yaml:"mode"`      // paper | live
	LogLevel string `yaml:"log_level"` // debug | info | warn | error
}

// BrokerConfig defines broker API settings. Credentials normally come
// in via ${VAR} expansion from the environment.
type BrokerConfig struct {
	Provider  string `yaml:"provider"`
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
	ClientID  string `yaml:"client_id"`
}

// ScheduleConfig defines the engine's polling cadence.
type ScheduleConfig struct {
	CycleInterval     string `yaml:"cycle_interval"`     // live runner cycle, e.g. "10s"
	MonitorInterval   string `yaml:"monitor_interval"`   // position monitor tick, e.g. "10s"
	ReconcileInterval string `yaml:"reconcile_interval"` // broker reconciliation, e.g. "60s"
}

// StrategyConfig defines trading strategy parameters.
type StrategyConfig struct {
	Symbol             string       `yaml:"symbol"`
	Lots               int          `yaml:"lots"`
	LotSize            int          `yaml:"lot_size"`
	Strike             StrikeConfig `yaml:"strike"`
	Exit               ExitConfig   `yaml:"exit"`
	MissedGraceSeconds int          `yaml:"missed_grace_seconds"`
	CooldownSeconds    int          `yaml:"cooldown_seconds"`
	ExpiryWeekday      string       `yaml:"expiry_weekday"` // e.g. "Tuesday"
	MinCandles         int          `yaml:"min_candles"`
	FetchWindowHours   int          `yaml:"fetch_window_hours"`
}

// StrikeConfig defines strike selection relative to spot.
type StrikeConfig struct {
	Mode   string `yaml:"mode"` // ATM | ITM | OTM
	Offset int    `yaml:"offset"`
}

// ExitConfig defines the position exit ruleset, in option premium points.
type ExitConfig struct {
	SLPoints         float64 `yaml:"sl_points"`
	TrailPoints      float64 `yaml:"trail_points"`
	Book1Points      float64 `yaml:"book1_points"`
	Book2Points      float64 `yaml:"book2_points"`
	Book1Ratio       float64 `yaml:"book1_ratio"`
	BEAtR            float64 `yaml:"be_at_r"`
	RRRatio          float64 `yaml:"rr_ratio"`
	HalfBookOnExpiry bool    `yaml:"half_book_on_expiry"`
}

// RiskConfig defines account-level risk gates. The daily loss limit is
// a percentage of InitialCapital, converted to rupees by MaxDailyLoss.
type RiskConfig struct {
	InitialCapital    float64 `yaml:"initial_capital"`
	DailyLossLimitPct float64 `yaml:"daily_loss_limit_pct"`
	MaxPositions      int     `yaml:"max_positions"`
	MarginPerLot      float64 `yaml:"margin_per_lot"`
	ExecutionArmed    bool    `yaml:"execution_armed"` // startup default; toggled at runtime
}

// StorageConfig defines on-disk locations.
type StorageConfig struct {
	StateDir          string `yaml:"state_dir"`
	JournalPath       string `yaml:"journal_path"`
	MissedJournalPath string `yaml:"missed_journal_path"`
	HistoryDBPath     string `yaml:"history_db_path"`
	SnapshotRetention int    `yaml:"snapshot_retention"`
}

// DashboardConfig defines the HTTP dashboard listener.
type DashboardConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// BacktestConfig defines simulator-only parameters.
type BacktestConfig struct {
	UseTieredExits bool    `yaml:"use_tiered_exits"`
	SLPct          float64 `yaml:"sl_pct"` // legacy percent stop, e.g. 0.35
	InitialCapital float64 `yaml:"initial_capital"`
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

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &config, nil
}

// Validate checks that all configuration values are valid and
// consistent, applying defaults for optional keys.
func (c *Config) Validate() error {
	if c.Environment.Mode != "paper" && c.Environment.Mode != "live" {
		return fmt.Errorf("environment.mode must be 'paper' or 'live'")
	}

	if c.Environment.Mode == "live" {
		if c.Broker.APIKey == "" {
			return fmt.Errorf("broker.api_key is required in live mode")
		}
		if c.Broker.ClientID == "" {
			return fmt.Errorf("broker.client_id is required in live mode")
		}
	}

	if c.Strategy.Symbol == "" {
		return fmt.Errorf("strategy.symbol is required")
	}
	if c.Strategy.Lots <= 0 {
		return fmt.Errorf("strategy.lots must be > 0")
	}
	if c.Strategy.LotSize == 0 {
		c.Strategy.LotSize = defaultLotSize
	}
	if c.Strategy.LotSize < 0 {
		return fmt.Errorf("strategy.lot_size must be > 0")
	}
	switch c.Strategy.Strike.Mode {
	case "ATM", "ITM", "OTM":
	case "":
		c.Strategy.Strike.Mode = "ATM"
	default:
		return fmt.Errorf("strategy.strike.mode must be ATM, ITM or OTM")
	}
	if c.Strategy.Strike.Offset < 0 {
		return fmt.Errorf("strategy.strike.offset must be >= 0")
	}
	if c.Strategy.MissedGraceSeconds == 0 {
		c.Strategy.MissedGraceSeconds = defaultMissedGraceSeconds
	}
	if c.Strategy.MissedGraceSeconds < 0 {
		return fmt.Errorf("strategy.missed_grace_seconds must be >= 0")
	}
	if c.Strategy.CooldownSeconds == 0 {
		c.Strategy.CooldownSeconds = defaultCooldownSeconds
	}
	if c.Strategy.FetchWindowHours == 0 {
		c.Strategy.FetchWindowHours = defaultFetchWindowHours
	}
	if c.Strategy.FetchWindowHours < 0 {
		return fmt.Errorf("strategy.fetch_window_hours must be > 0")
	}
	if c.Strategy.ExpiryWeekday == "" {
		c.Strategy.ExpiryWeekday = "Tuesday"
	}
	if _, err := parseWeekday(c.Strategy.ExpiryWeekday); err != nil {
		return fmt.Errorf("strategy.expiry_weekday: %w", err)
	}

	if c.Strategy.Exit.SLPoints <= 0 {
		return fmt.Errorf("strategy.exit.sl_points must be > 0")
	}
	if c.Strategy.Exit.TrailPoints < 0 {
		return fmt.Errorf("strategy.exit.trail_points must be >= 0")
	}
	if c.Strategy.Exit.Book1Points < 0 || c.Strategy.Exit.Book2Points < 0 {
		return fmt.Errorf("strategy.exit book points must be >= 0")
	}
	if c.Strategy.Exit.Book2Points > 0 && c.Strategy.Exit.Book2Points <= c.Strategy.Exit.Book1Points {
		return fmt.Errorf("strategy.exit.book2_points (%.1f) must be > book1_points (%.1f)",
			c.Strategy.Exit.Book2Points, c.Strategy.Exit.Book1Points)
	}
	if c.Strategy.Exit.Book1Ratio < 0 || c.Strategy.Exit.Book1Ratio > 1 {
		return fmt.Errorf("strategy.exit.book1_ratio must be in [0,1]")
	}
	if c.Strategy.Exit.BEAtR < 0 {
		return fmt.Errorf("strategy.exit.be_at_r must be >= 0")
	}
	if c.Strategy.Exit.RRRatio <= 0 {
		c.Strategy.Exit.RRRatio = 2.0
	}

	if c.Risk.InitialCapital <= 0 {
		return fmt.Errorf("risk.initial_capital must be > 0")
	}
	if c.Risk.DailyLossLimitPct <= 0 || c.Risk.DailyLossLimitPct > 100 {
		return fmt.Errorf("risk.daily_loss_limit_pct must be in (0, 100]")
	}
	if c.Risk.MaxPositions <= 0 {
		return fmt.Errorf("risk.max_positions must be > 0")
	}
	if c.Risk.MarginPerLot <= 0 {
		return fmt.Errorf("risk.margin_per_lot must be > 0")
	}

	for key, val := range map[string]*string{
		"schedule.cycle_interval":     &c.Schedule.CycleInterval,
		"schedule.monitor_interval":   &c.Schedule.MonitorInterval,
		"schedule.reconcile_interval": &c.Schedule.ReconcileInterval,
	} {
		if *val == "" {
			continue
		}
		if _, err := time.ParseDuration(*val); err != nil {
			return fmt.Errorf("%s invalid: %w", key, err)
		}
	}

	if c.Storage.StateDir == "" {
		c.Storage.StateDir = "data/state"
	}
	if c.Storage.JournalPath == "" {
		c.Storage.JournalPath = "data/trades.csv"
	}
	if c.Storage.MissedJournalPath == "" {
		c.Storage.MissedJournalPath = "data/missed_trades.csv"
	}
	if c.Storage.SnapshotRetention == 0 {
		c.Storage.SnapshotRetention = defaultSnapshotRetention
	}
	if c.Storage.SnapshotRetention < 0 {
		return fmt.Errorf("storage.snapshot_retention must be > 0")
	}

	if c.Dashboard.Enabled && c.Dashboard.Addr == "" {
		c.Dashboard.Addr = ":8080"
	}

	if c.Backtest.SLPct == 0 {
		c.Backtest.SLPct = 0.35
	}
	if c.Backtest.SLPct < 0 || c.Backtest.SLPct >= 1 {
		return fmt.Errorf("backtest.sl_pct must be in (0,1)")
	}
	if c.Backtest.InitialCapital < 0 {
		return fmt.Errorf("backtest.initial_capital must be >= 0")
	}

	return nil
}

// IsPaperTrading returns true if the engine is configured for paper trading.
func (c *Config) IsPaperTrading() bool {
	return c.Environment.Mode == "paper"
}

// MaxDailyLoss converts the percent loss limit into rupees of initial
// capital.
func (c *Config) MaxDailyLoss() float64 {
	return c.Risk.InitialCapital * c.Risk.DailyLossLimitPct / 100
}

// GetCycleInterval returns the live runner cycle interval.
func (c *Config) GetCycleInterval() time.Duration {
	return durationOr(c.Schedule.CycleInterval, 10*time.Second)
}

// GetMonitorInterval returns the position monitor tick interval.
func (c *Config) GetMonitorInterval() time.Duration {
	return durationOr(c.Schedule.MonitorInterval, 10*time.Second)
}

// GetReconcileInterval returns the broker reconciliation interval.
func (c *Config) GetReconcileInterval() time.Duration {
	return durationOr(c.Schedule.ReconcileInterval, 60*time.Second)
}

// FetchWindow returns how far back each cycle fetches spot candles.
func (c *Config) FetchWindow() time.Duration {
	return time.Duration(c.Strategy.FetchWindowHours) * time.Hour
}

// MissedGrace returns the breakout staleness window as a duration.
func (c *Config) MissedGrace() time.Duration {
	return time.Duration(c.Strategy.MissedGraceSeconds) * time.Second
}

// Cooldown returns the duplicate-signal suppression window.
func (c *Config) Cooldown() time.Duration {
	return time.Duration(c.Strategy.CooldownSeconds) * time.Second
}

// ExpiryWeekday returns the configured weekly expiry weekday.
func (c *Config) ExpiryWeekday() time.Weekday {
	wd, err := parseWeekday(c.Strategy.ExpiryWeekday)
	if err != nil {
		return time.Tuesday
	}
	return wd
}

func durationOr(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func parseWeekday(s string) (time.Weekday, error) {
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		if strings.EqualFold(s, wd.String()) {
			return wd, nil
		}
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
