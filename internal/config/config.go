// Package config loads the ETL configuration from a YAML file with
// environment variable overrides, and validates it before the pipeline
// starts. Defaults cover local development against a TimescaleDB on
// localhost.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	qerrors "github.com/quantlake/go-market-etl/internal/errors"
	"github.com/quantlake/go-market-etl/internal/models"
)

// Config is the complete application configuration.
type Config struct {
	Symbols      []string       `mapstructure:"symbols"`
	Interval     string         `mapstructure:"interval"`
	LookbackDays int            `mapstructure:"lookback_days"`
	Concurrency  int            `mapstructure:"concurrency"`
	Database     DatabaseConfig `mapstructure:"database"`
	Exchange     ExchangeConfig `mapstructure:"exchange"`
	Logging      LoggingConfig  `mapstructure:"logging"`
}

// DatabaseConfig configures the time-series store connection.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"sslmode"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// DSN renders the PostgreSQL connection string.
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// ExchangeConfig configures the exchange adapter. The registry resolves
// symbols scoped to Name; BaseURL override exists for testing.
type ExchangeConfig struct {
	Name    string        `mapstructure:"name"`
	BaseURL string        `mapstructure:"base_url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json or text
	OutputFile string `mapstructure:"output_file"` // optional rotating file sink
}

// Load reads the configuration from path (or the defaults when path is
// empty) with environment overrides such as MARKETETL_DATABASE_HOST.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("MARKETETL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, qerrors.NewConfigurationError("config", "failed to read %s: %v", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, qerrors.NewConfigurationError("config", "failed to unmarshal: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("symbols", []string{"BTCUSDT"})
	v.SetDefault("interval", "1h")
	v.SetDefault("lookback_days", 30)
	v.SetDefault("concurrency", 4)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "quantlake")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_conns", 8)

	v.SetDefault("exchange.name", "BINANCE")
	v.SetDefault("exchange.timeout", 30*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

// Validate checks the configuration for values the pipeline cannot run
// with. Invalid config aborts the run pre-flight.
func (c *Config) Validate() error {
	if len(c.Symbols) == 0 {
		return qerrors.NewConfigurationError("symbols", "at least one symbol is required")
	}
	if _, err := models.ParseInterval(c.Interval); err != nil {
		return qerrors.NewConfigurationError("interval", "%v", err)
	}
	if c.LookbackDays < 1 {
		return qerrors.NewConfigurationError("lookback_days", "must be >= 1, got %d", c.LookbackDays)
	}
	if c.Concurrency < 1 {
		return qerrors.NewConfigurationError("concurrency", "must be >= 1, got %d", c.Concurrency)
	}
	if c.Database.Host == "" {
		return qerrors.NewConfigurationError("database.host", "is required")
	}
	if c.Database.Name == "" {
		return qerrors.NewConfigurationError("database.name", "is required")
	}
	if c.Exchange.Name == "" {
		return qerrors.NewConfigurationError("exchange.name", "is required")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return qerrors.NewConfigurationError("logging.level", "must be one of debug, info, warn, error; got %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return qerrors.NewConfigurationError("logging.format", "must be json or text; got %q", c.Logging.Format)
	}
	return nil
}
