package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

const validPaperConfig = `
environment:
  mode: paper
  log_level: info
broker:
  provider: tradier
schedule:
  timezone: America/New_York
  open_time: "09:30"
  active_end_time: "15:30"
  session_end_time: "16:00"
strategy:
  tickers: [SPY]
  contracts_per_trade: 2
  profit_target_ratio: 0.5
  stop_loss_ratio: 2.0
  strike_increment: 5
feed:
  provider: synthetic
  start_price: 600
storage:
  backend: json
  path: positions.json
`

func TestLoadValidConfig(t *testing.T) {
	cfg, err := Load(writeConfig(t, validPaperConfig))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if !cfg.IsPaperTrading() {
		t.Error("expected paper trading mode")
	}
	if got := cfg.Strategy.ContractsPerTrade; got != 2 {
		t.Errorf("ContractsPerTrade = %d, want 2", got)
	}
	if got := cfg.Strategy.StrikeTieBreak; got != "otm" {
		t.Errorf("StrikeTieBreak default = %q, want otm", got)
	}
}

func TestLoadRejectsUnknownFields(t *testing.T) {
	bad := validPaperConfig + "\nbogus_section:\n  x: 1\n"
	if _, err := Load(writeConfig(t, bad)); err == nil {
		t.Fatal("expected error for unknown config field")
	}
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		cfg := &Config{}
		cfg.Environment.Mode = "paper"
		cfg.Strategy.Tickers = []string{"SPY"}
		cfg.normalize()
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "defaults are valid",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "invalid mode",
			mutate:  func(c *Config) { c.Environment.Mode = "yolo" },
			wantErr: true,
		},
		{
			name:    "live mode requires api key",
			mutate:  func(c *Config) { c.Environment.Mode = "live" },
			wantErr: true,
		},
		{
			name:    "no tickers",
			mutate:  func(c *Config) { c.Strategy.Tickers = nil },
			wantErr: true,
		},
		{
			name:    "duplicate tickers",
			mutate:  func(c *Config) { c.Strategy.Tickers = []string{"SPY", "SPY"} },
			wantErr: true,
		},
		{
			name:    "profit target out of range",
			mutate:  func(c *Config) { c.Strategy.ProfitTargetRatio = 1.5 },
			wantErr: true,
		},
		{
			name:    "stop loss must exceed credit",
			mutate:  func(c *Config) { c.Strategy.StopLossRatio = 0.8 },
			wantErr: true,
		},
		{
			name:    "schedule out of order",
			mutate:  func(c *Config) { c.Schedule.ActiveEndTime = "16:30" },
			wantErr: true,
		},
		{
			name:    "websocket feed requires url",
			mutate:  func(c *Config) { c.Feed.Provider = "websocket" },
			wantErr: true,
		},
		{
			name:    "unknown storage backend",
			mutate:  func(c *Config) { c.Storage.Backend = "etcd" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestSessionFor(t *testing.T) {
	cfg := &Config{}
	cfg.Environment.Mode = "paper"
	cfg.Strategy.Tickers = []string{"SPY"}
	cfg.normalize()

	loc, err := cfg.Location()
	if err != nil {
		t.Fatalf("Location() error: %v", err)
	}

	day := time.Date(2025, 3, 14, 12, 0, 0, 0, loc)
	session, err := cfg.SessionFor(day, loc)
	if err != nil {
		t.Fatalf("SessionFor() error: %v", err)
	}

	if session.OpenTime.Hour() != 9 || session.OpenTime.Minute() != 30 {
		t.Errorf("OpenTime = %v, want 09:30", session.OpenTime)
	}
	if session.ActiveEndTime.Hour() != 15 || session.ActiveEndTime.Minute() != 30 {
		t.Errorf("ActiveEndTime = %v, want 15:30", session.ActiveEndTime)
	}
	if !session.OpenTime.Before(session.ActiveEndTime) ||
		!session.ActiveEndTime.Before(session.SessionEndTime) {
		t.Error("session times out of order")
	}
	if !session.Contains(session.OpenTime) {
		t.Error("session should contain its open instant")
	}
	if session.Contains(session.SessionEndTime) {
		t.Error("session end is exclusive")
	}
}
