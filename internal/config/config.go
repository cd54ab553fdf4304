package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rewired-gh/hedgegain/internal/models"
)

// Config represents the complete application configuration
type Config struct {
	Sources    SourcesConfig    `mapstructure:"sources"`
	Cleaning   CleaningConfig   `mapstructure:"cleaning"`
	Hedge      HedgeConfig      `mapstructure:"hedge"`
	Volatility VolatilityConfig `mapstructure:"volatility"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Telegram   TelegramConfig   `mapstructure:"telegram"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// SourcesConfig holds the spreadsheet inputs, one glob per dataset
type SourcesConfig struct {
	OptionData    string  `mapstructure:"option_data"`
	StockData     string  `mapstructure:"stock_data"`
	ATMOptions    string  `mapstructure:"atm_options"`
	Sheet         string  `mapstructure:"sheet"` // empty = first sheet
	StrikeDivisor float64 `mapstructure:"strike_divisor"`
	ATMOnly       bool    `mapstructure:"atm_only"`
}

// CleaningConfig holds the option-data cleaning rules
type CleaningConfig struct {
	WindowDays  int `mapstructure:"window_days"`
	MaxMissings int `mapstructure:"max_missings"`
}

// HedgeConfig holds delta-hedged gain settings
type HedgeConfig struct {
	DaysPerYear float64 `mapstructure:"days_per_year"`
}

// VolatilityConfig holds the volatility decomposition settings
type VolatilityConfig struct {
	WindowStartDays    int    `mapstructure:"window_start_days"`
	WindowEndDays      int    `mapstructure:"window_end_days"`
	Factor             string `mapstructure:"factor"`
	ScaleIdiosyncratic bool   `mapstructure:"scale_idiosyncratic"`
	Workers            int    `mapstructure:"workers"`
}

// StorageConfig holds the result sink configuration
type StorageConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	DBPath  string `mapstructure:"db_path"`
	MaxRuns int    `mapstructure:"max_runs"`
}

// TelegramConfig holds Telegram notification configuration
type TelegramConfig struct {
	BotToken       string        `mapstructure:"bot_token"`
	ChatID         string        `mapstructure:"chat_id"`
	Enabled        bool          `mapstructure:"enabled"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelayBase time.Duration `mapstructure:"retry_delay_base"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)

	setDefaults(v)

	// HEDGEGAIN_CLEANING_MAX_MISSINGS overrides cleaning.max_missings, etc.
	v.SetEnvPrefix("HEDGEGAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when no file overrides a key.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	_ = v.Unmarshal(&cfg)
	return &cfg
}

// setDefaults configures default values for all configuration options
func setDefaults(v *viper.Viper) {
	// Sources defaults
	v.SetDefault("sources.option_data", "./data/Option_data/*.xlsx")
	v.SetDefault("sources.stock_data", "./data/Stock_data/*.xlsx")
	v.SetDefault("sources.atm_options", "./data/ATM_c_option_m30_all.xlsx")
	v.SetDefault("sources.sheet", "")
	v.SetDefault("sources.strike_divisor", 1000.0)
	v.SetDefault("sources.atm_only", false)

	// Cleaning defaults
	v.SetDefault("cleaning.window_days", 30)
	v.SetDefault("cleaning.max_missings", 6)

	// Hedge defaults
	v.SetDefault("hedge.days_per_year", 365.0)

	// Volatility defaults
	v.SetDefault("volatility.window_start_days", 60)
	v.SetDefault("volatility.window_end_days", 30)
	v.SetDefault("volatility.factor", "mkt")
	v.SetDefault("volatility.scale_idiosyncratic", false)
	v.SetDefault("volatility.workers", 4)

	// Storage defaults
	v.SetDefault("storage.enabled", true)
	v.SetDefault("storage.db_path", "") // empty = $TMPDIR/hedgegain/results.db
	v.SetDefault("storage.max_runs", 20)

	// Telegram defaults
	v.SetDefault("telegram.enabled", false)
	v.SetDefault("telegram.max_retries", 3)
	v.SetDefault("telegram.retry_delay_base", "1s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks that all configuration values are valid
func (c *Config) Validate() error {
	// Validate Sources config
	if c.Sources.OptionData == "" {
		return fmt.Errorf("sources.option_data is required")
	}
	if c.Sources.StockData == "" {
		return fmt.Errorf("sources.stock_data is required")
	}
	if c.Sources.ATMOnly && c.Sources.ATMOptions == "" {
		return fmt.Errorf("sources.atm_options is required when sources.atm_only is set")
	}
	if c.Sources.StrikeDivisor <= 0 {
		return fmt.Errorf("sources.strike_divisor must be positive")
	}

	// Validate Cleaning config
	if c.Cleaning.WindowDays < 1 {
		return fmt.Errorf("cleaning.window_days must be at least 1")
	}
	if c.Cleaning.MaxMissings < 0 {
		return fmt.Errorf("cleaning.max_missings must not be negative")
	}

	// Validate Hedge config
	if c.Hedge.DaysPerYear <= 0 {
		return fmt.Errorf("hedge.days_per_year must be positive")
	}

	// Validate Volatility config
	if c.Volatility.WindowEndDays < 0 {
		return fmt.Errorf("volatility.window_end_days must not be negative")
	}
	if c.Volatility.WindowStartDays <= c.Volatility.WindowEndDays {
		return fmt.Errorf("volatility.window_start_days must be greater than volatility.window_end_days")
	}
	validFactor := false
	for _, name := range models.FactorNames {
		if c.Volatility.Factor == name {
			validFactor = true
			break
		}
	}
	if !validFactor {
		return fmt.Errorf("volatility.factor must be one of: %v", models.FactorNames)
	}
	if c.Volatility.Workers < 1 {
		return fmt.Errorf("volatility.workers must be at least 1")
	}

	// Validate Storage config
	if c.Storage.Enabled && c.Storage.MaxRuns < 1 {
		return fmt.Errorf("storage.max_runs must be at least 1")
	}

	// Validate Telegram config
	if c.Telegram.Enabled {
		if c.Telegram.BotToken == "" {
			return fmt.Errorf("telegram.bot_token is required when telegram is enabled")
		}
		if c.Telegram.ChatID == "" {
			return fmt.Errorf("telegram.chat_id is required when telegram is enabled")
		}
	}

	// Validate Logging config
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	return nil
}
