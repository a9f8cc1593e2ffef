package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Environment: EnvironmentConfig{Mode: "paper", LogLevel: "info"},
		Schedule: ScheduleConfig{
			CycleInterval:   "30s",
			MonitorInterval: "5s",
		},
		Strategy: StrategyConfig{
			Symbol:  "NIFTY",
			Lots:    2,
			LotSize: 75,
			Strike:  StrikeConfig{Mode: "ITM", Offset: 100},
			Exit: ExitConfig{
				SLPoints:    20,
				TrailPoints: 20,
				Book1Points: 40,
				Book2Points: 80,
				Book1Ratio:  0.5,
				BEAtR:       1.0,
				RRRatio:     2.0,
			},
			MissedGraceSeconds: 300,
			CooldownSeconds:    300,
			ExpiryWeekday:      "Tuesday",
		},
		Risk: RiskConfig{
			InitialCapital:    200000,
			DailyLossLimitPct: 5,
			MaxPositions:      2,
			MarginPerLot:      150000,
		},
		Storage: StorageConfig{StateDir: "data/state", JournalPath: "data/trades.csv"},
	}
}

func TestValidateMutations(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid config passes",
			mutate: func(c *Config) {},
		},
		{
			name:    "bad mode",
			mutate:  func(c *Config) { c.Environment.Mode = "dry-run" },
			wantErr: "environment.mode",
		},
		{
			name:    "live mode requires credentials",
			mutate:  func(c *Config) { c.Environment.Mode = "live" },
			wantErr: "broker.api_key",
		},
		{
			name:    "missing symbol",
			mutate:  func(c *Config) { c.Strategy.Symbol = "" },
			wantErr: "strategy.symbol",
		},
		{
			name:    "zero lots",
			mutate:  func(c *Config) { c.Strategy.Lots = 0 },
			wantErr: "strategy.lots",
		},
		{
			name:    "bad strike mode",
			mutate:  func(c *Config) { c.Strategy.Strike.Mode = "DEEP" },
			wantErr: "strategy.strike.mode",
		},
		{
			name:    "zero stop",
			mutate:  func(c *Config) { c.Strategy.Exit.SLPoints = 0 },
			wantErr: "sl_points",
		},
		{
			name:    "inverted book tiers",
			mutate:  func(c *Config) { c.Strategy.Exit.Book2Points = 30 },
			wantErr: "book2_points",
		},
		{
			name:    "book ratio above one",
			mutate:  func(c *Config) { c.Strategy.Exit.Book1Ratio = 1.5 },
			wantErr: "book1_ratio",
		},
		{
			name:    "zero daily loss percent",
			mutate:  func(c *Config) { c.Risk.DailyLossLimitPct = 0 },
			wantErr: "daily_loss_limit_pct",
		},
		{
			name:    "loss percent above hundred",
			mutate:  func(c *Config) { c.Risk.DailyLossLimitPct = 120 },
			wantErr: "daily_loss_limit_pct",
		},
		{
			name:    "bad cycle interval",
			mutate:  func(c *Config) { c.Schedule.CycleInterval = "soon" },
			wantErr: "cycle_interval",
		},
		{
			name:    "bad expiry weekday",
			mutate:  func(c *Config) { c.Strategy.ExpiryWeekday = "Someday" },
			wantErr: "expiry_weekday",
		},
		{
			name:    "negative fetch window",
			mutate:  func(c *Config) { c.Strategy.FetchWindowHours = -1 },
			wantErr: "fetch_window_hours",
		},
		{
			name:    "bad legacy stop pct",
			mutate:  func(c *Config) { c.Backtest.SLPct = 1.5 },
			wantErr: "backtest.sl_pct",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestValidateDefaults(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy.LotSize = 0
	cfg.Strategy.MissedGraceSeconds = 0
	cfg.Strategy.CooldownSeconds = 0
	cfg.Strategy.Strike.Mode = ""
	cfg.Storage = StorageConfig{}
	cfg.Backtest.SLPct = 0

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 75, cfg.Strategy.LotSize)
	assert.Equal(t, 300, cfg.Strategy.MissedGraceSeconds)
	assert.Equal(t, "ATM", cfg.Strategy.Strike.Mode)
	assert.Equal(t, "data/state", cfg.Storage.StateDir)
	assert.Equal(t, 100, cfg.Storage.SnapshotRetention)
	assert.Equal(t, 0.35, cfg.Backtest.SLPct)
	assert.Equal(t, time.Tuesday, cfg.ExpiryWeekday())
	assert.Equal(t, 5*time.Minute, cfg.MissedGrace())
	assert.Equal(t, 48*time.Hour, cfg.FetchWindow())
}

func TestFetchWindowFromConfig(t *testing.T) {
	cfg := validConfig()
	cfg.Strategy.FetchWindowHours = 168
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 7*24*time.Hour, cfg.FetchWindow())
}

func TestLoadExpandsEnvAndRejectsUnknownKeys(t *testing.T) {
	t.Setenv("TEST_BROKER_KEY", "k-123")

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	body := `
environment:
  mode: live
  log_level: info
broker:
  provider: paper
  api_key: ${TEST_BROKER_KEY}
  client_id: C1
strategy:
  symbol: NIFTY
  lots: 1
  exit:
    sl_points: 20
risk:
  initial_capital: 100000
  daily_loss_limit_pct: 5
  max_positions: 1
  margin_per_lot: 150000
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "k-123", cfg.Broker.APIKey)

	require.NoError(t, os.WriteFile(path, []byte(body+"\nmystery: 1\n"), 0o600))
	_, err = Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parsing config")
}

func TestMaxDailyLossFromPercent(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.InDelta(t, 10000.0, cfg.MaxDailyLoss(), 1e-9, "5% of 200000")

	pct := 2.5
	require.NoError(t, cfg.ApplyTunables(Tunables{DailyLossLimitPct: &pct}))
	assert.InDelta(t, 5000.0, cfg.MaxDailyLoss(), 1e-9)
}

func TestApplyTunables(t *testing.T) {
	cfg := validConfig()
	require.NoError(t, cfg.Validate())

	sl := 25.0
	lots := 3
	require.NoError(t, cfg.ApplyTunables(Tunables{SLPoints: &sl, Lots: &lots}))
	assert.Equal(t, 25.0, cfg.Strategy.Exit.SLPoints)
	assert.Equal(t, 3, cfg.Strategy.Lots)

	// A rejected update leaves everything untouched.
	bad := -5.0
	err := cfg.ApplyTunables(Tunables{SLPoints: &bad})
	require.Error(t, err)
	assert.Equal(t, 25.0, cfg.Strategy.Exit.SLPoints)
}
