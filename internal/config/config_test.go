package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Remove(tmpfile.Name()) })

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}
	return tmpfile.Name()
}

func TestLoadAndValidate(t *testing.T) {
	path := writeConfig(t, `
sources:
  option_data: "/data/options/*.xlsx"
  stock_data: "/data/stocks/*.xlsx"
  atm_options: "/data/atm.xlsx"
  atm_only: true

cleaning:
  window_days: 30
  max_missings: 5

volatility:
  window_start_days: 90
  window_end_days: 30
  factor: "SMB"
  workers: 8

telegram:
  bot_token: "test_token"
  chat_id: "12345"
  enabled: true
  retry_delay_base: 2s

storage:
  db_path: "./data/test.db"

logging:
  level: "debug"
  format: "text"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Sources.OptionData != "/data/options/*.xlsx" {
		t.Errorf("Unexpected option data glob: %s", cfg.Sources.OptionData)
	}
	if !cfg.Sources.ATMOnly {
		t.Error("Expected atm_only to be set")
	}
	if cfg.Sources.StrikeDivisor != 1000 {
		t.Errorf("Expected default strike divisor 1000, got %f", cfg.Sources.StrikeDivisor)
	}
	if cfg.Cleaning.MaxMissings != 5 {
		t.Errorf("Unexpected max missings: %d", cfg.Cleaning.MaxMissings)
	}
	if cfg.Hedge.DaysPerYear != 365 {
		t.Errorf("Expected default days per year 365, got %f", cfg.Hedge.DaysPerYear)
	}
	if cfg.Volatility.WindowStartDays != 90 || cfg.Volatility.Factor != "SMB" {
		t.Errorf("Unexpected volatility config: %+v", cfg.Volatility)
	}
	if cfg.Telegram.RetryDelayBase != 2*time.Second {
		t.Errorf("Unexpected retry delay: %v", cfg.Telegram.RetryDelayBase)
	}
	if !cfg.Storage.Enabled || cfg.Storage.MaxRuns != 20 {
		t.Errorf("Unexpected storage defaults: %+v", cfg.Storage)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate failed: %v", err)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
cleaning:
  max_missings: 5
`)
	t.Setenv("HEDGEGAIN_CLEANING_MAX_MISSINGS", "2")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Cleaning.MaxMissings != 2 {
		t.Errorf("Expected env override 2, got %d", cfg.Cleaning.MaxMissings)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/config.yaml"); err == nil {
		t.Error("Expected error for missing config file")
	}
}

func TestDefaultIsValid(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{
			name:    "defaults",
			mutate:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing option data",
			mutate:  func(c *Config) { c.Sources.OptionData = "" },
			wantErr: true,
		},
		{
			name: "atm only without atm table",
			mutate: func(c *Config) {
				c.Sources.ATMOnly = true
				c.Sources.ATMOptions = ""
			},
			wantErr: true,
		},
		{
			name:    "negative max missings",
			mutate:  func(c *Config) { c.Cleaning.MaxMissings = -1 },
			wantErr: true,
		},
		{
			name:    "zero max missings",
			mutate:  func(c *Config) { c.Cleaning.MaxMissings = 0 },
			wantErr: false,
		},
		{
			name: "inverted volatility window",
			mutate: func(c *Config) {
				c.Volatility.WindowStartDays = 30
				c.Volatility.WindowEndDays = 60
			},
			wantErr: true,
		},
		{
			name:    "unknown factor",
			mutate:  func(c *Config) { c.Volatility.Factor = "RMW" },
			wantErr: true,
		},
		{
			name:    "zero workers",
			mutate:  func(c *Config) { c.Volatility.Workers = 0 },
			wantErr: true,
		},
		{
			name:    "missing telegram token when enabled",
			mutate:  func(c *Config) { c.Telegram.Enabled = true; c.Telegram.ChatID = "1" },
			wantErr: true,
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.Logging.Level = "verbose" },
			wantErr: true,
		},
		{
			name:    "invalid log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
