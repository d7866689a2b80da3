// Package config loads service configuration from a YAML file, the
// environment and built-in defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment override, e.g.
// TRADECORE_DATABASE_DSN for database.dsn.
const EnvPrefix = "TRADECORE"

// Config is the root configuration
type Config struct {
	LogLevel   string           `mapstructure:"log_level" validate:"omitempty,oneof=debug info warn error"`
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Trading    TradingConfig    `mapstructure:"trading"`
	MarketData MarketDataConfig `mapstructure:"marketdata"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Messaging  MessagingConfig  `mapstructure:"messaging"`
	Tracing    TracingConfig    `mapstructure:"tracing"`
}

// ServerConfig configures the HTTP listener
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	AllowedOrigins  []string      `mapstructure:"allowed_origins"`
}

// Addr returns host:port for http.Server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the GORM dialector and pool sizes
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=postgres sqlite"`
	DSN             string        `mapstructure:"dsn" validate:"required"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	LogLevel        string        `mapstructure:"log_level"`
}

// TradingConfig holds order intake and settlement parameters
type TradingConfig struct {
	CommissionRate     string        `mapstructure:"commission_rate" validate:"required,numeric"`
	DefaultTimeInForce string        `mapstructure:"default_time_in_force" validate:"oneof=day gtc ioc fok"`
	SweepInterval      time.Duration `mapstructure:"sweep_interval"`
	MonitorEnabled     bool          `mapstructure:"monitor_enabled"`
}

// Commission returns the parsed commission rate.
func (t TradingConfig) Commission() decimal.Decimal {
	d, err := decimal.NewFromString(t.CommissionRate)
	if err != nil {
		return decimal.RequireFromString(defaultCommissionRate)
	}
	return d
}

// MarketDataConfig selects and tunes the tick source
type MarketDataConfig struct {
	Source       string             `mapstructure:"source" validate:"oneof=bridge simulator"`
	BridgeURL    string             `mapstructure:"bridge_url"`
	DialTimeout  time.Duration      `mapstructure:"dial_timeout"`
	Symbols      []string           `mapstructure:"symbols" validate:"min=1"`
	StartPrices  map[string]float64 `mapstructure:"start_prices"`
	TickInterval time.Duration      `mapstructure:"tick_interval"`
	ReplaySize   int                `mapstructure:"replay_size"`
	SendBuffer   int                `mapstructure:"send_buffer"`
	HistoryLimit int                `mapstructure:"history_limit"`
}

// RedisConfig configures the optional tick relay
type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Address  string `mapstructure:"address"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// MessagingConfig wraps the event publisher settings
type MessagingConfig struct {
	Kafka KafkaConfig `mapstructure:"kafka"`
}

// KafkaConfig configures the optional order/trade event publisher
type KafkaConfig struct {
	Enabled     bool     `mapstructure:"enabled"`
	Brokers     []string `mapstructure:"brokers"`
	OrdersTopic string   `mapstructure:"orders_topic"`
	TradesTopic string   `mapstructure:"trades_topic"`
}

// TracingConfig toggles the stdout OpenTelemetry exporter
type TracingConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	ServiceName string `mapstructure:"service_name"`
}

const defaultCommissionRate = "0.001"

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_level", "info")

	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", "tradecore.db")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("trading.commission_rate", defaultCommissionRate)
	v.SetDefault("trading.default_time_in_force", "gtc")
	v.SetDefault("trading.sweep_interval", time.Minute)
	v.SetDefault("trading.monitor_enabled", true)

	v.SetDefault("marketdata.source", "simulator")
	v.SetDefault("marketdata.bridge_url", "ws://localhost:8765")
	v.SetDefault("marketdata.dial_timeout", 5*time.Second)
	v.SetDefault("marketdata.symbols", []string{"EURUSD", "GBPUSD", "USDJPY", "XAUUSD"})
	v.SetDefault("marketdata.start_prices", map[string]float64{
		"EURUSD": 1.085, "GBPUSD": 1.265, "USDJPY": 151.2, "XAUUSD": 2350,
	})
	v.SetDefault("marketdata.tick_interval", time.Second)
	v.SetDefault("marketdata.replay_size", 1)
	v.SetDefault("marketdata.send_buffer", 256)
	v.SetDefault("marketdata.history_limit", 500)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")

	v.SetDefault("messaging.kafka.enabled", false)
	v.SetDefault("messaging.kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("messaging.kafka.orders_topic", "tradecore.orders")
	v.SetDefault("messaging.kafka.trades_topic", "tradecore.trades")

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "tradecore")
}

// Load reads configuration from path (if it exists), overlays TRADECORE_*
// environment variables and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigType("yaml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

// Validate checks struct tags and cross-field rules.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return err
	}
	if c.MarketData.Source == "bridge" && c.MarketData.BridgeURL == "" {
		return fmt.Errorf("marketdata.bridge_url is required when source is bridge")
	}
	if c.Redis.Enabled && c.Redis.Address == "" {
		return fmt.Errorf("redis.address is required when redis is enabled")
	}
	if c.Messaging.Kafka.Enabled && len(c.Messaging.Kafka.Brokers) == 0 {
		return fmt.Errorf("messaging.kafka.brokers is required when kafka is enabled")
	}
	if c.Trading.Commission().IsNegative() {
		return fmt.Errorf("trading.commission_rate must not be negative")
	}
	return nil
}
