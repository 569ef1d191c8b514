// Package config defines configuration for both services: the stream
// proxy (StreamProxyConfig) and the execution engine (ExecEngineConfig).
// Both load from a YAML file with env var overrides, following the
// teacher's internal/config/config.go pattern exactly — viper.New, an
// env prefix, AutomaticEnv, and a post-load Validate().
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// StreamProxyConfig is cmd/streamproxy's top-level configuration.
type StreamProxyConfig struct {
	Vendor  VendorConfig  `mapstructure:"vendor"`
	GRPC    GRPCConfig    `mapstructure:"grpc"`
	Hub     HubConfig     `mapstructure:"hub"`
	Logging LoggingConfig `mapstructure:"logging"`
}

type VendorConfig struct {
	StockWSURL   string `mapstructure:"stock_ws_url"`
	OptionWSURL  string `mapstructure:"option_ws_url"`
	OrdersWSURL  string `mapstructure:"orders_ws_url"`
	APIKey       string `mapstructure:"api_key"`
	APISecret    string `mapstructure:"api_secret"`
	// MaxAuthTries is loaded and defaulted but not passed to
	// internal/session, whose limit is the session.MaxAuthAttempts constant.
	MaxAuthTries int `mapstructure:"max_auth_tries"`
}

type GRPCConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

type HubConfig struct {
	ChannelCapacity int `mapstructure:"channel_capacity"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// ExecEngineConfig is cmd/execengine's top-level configuration.
type ExecEngineConfig struct {
	Environment string              `mapstructure:"environment"`
	Broker      BrokerConfig        `mapstructure:"broker"`
	Risk        RiskConfig          `mapstructure:"risk"`
	Persistence PersistenceConfig   `mapstructure:"persistence"`
	Reconcile   ReconcileConfig     `mapstructure:"reconcile"`
	GRPC        GRPCConfig          `mapstructure:"grpc"`
	StreamProxy StreamProxyUpstream `mapstructure:"stream_proxy"`
	Logging     LoggingConfig       `mapstructure:"logging"`
}

type BrokerConfig struct {
	BaseURL    string `mapstructure:"base_url"`
	APIKey     string `mapstructure:"api_key"`
	APISecret  string `mapstructure:"api_secret"`
	RateLimit  int    `mapstructure:"rate_limit_per_minute"`
}

// RiskConfig carries the active ExposureLimits as plain numeric fields;
// cmd/execengine converts these to decimal.Decimal when constructing a
// types.RiskPolicy, the same "config in floats, domain in decimal" split
// the teacher uses throughout internal/config/config.go.
type RiskConfig struct {
	MaxUnitsPerInstrument     float64 `mapstructure:"max_units_per_instrument"`
	MaxNotionalPerInstrument  float64 `mapstructure:"max_notional_per_instrument"`
	MaxPctEquityPerInstrument float64 `mapstructure:"max_pct_equity_per_instrument"`
	MaxGrossExposure          float64 `mapstructure:"max_gross_exposure"`
	MaxNetExposure            float64 `mapstructure:"max_net_exposure"`
	MaxConcentration          float64 `mapstructure:"max_concentration"`
	MaxDelta                  float64 `mapstructure:"max_delta"`
	MaxGamma                  float64 `mapstructure:"max_gamma"`
	MaxVega                   float64 `mapstructure:"max_vega"`
	MaxTheta                  float64 `mapstructure:"max_theta"`
	MinBuyingPowerPct         float64 `mapstructure:"min_buying_power_pct"`
	SizingSanityMultiple      float64 `mapstructure:"sizing_sanity_multiple"`
	PartialFillTimeout        time.Duration `mapstructure:"partial_fill_timeout"`
}

type PersistenceConfig struct {
	DBPath           string        `mapstructure:"db_path"`
	SnapshotInterval time.Duration `mapstructure:"snapshot_interval"`
}

type ReconcileConfig struct {
	ProtectionWindow   time.Duration `mapstructure:"protection_window"`
	MaxOrderAge        time.Duration `mapstructure:"max_order_age"`
	AutoResolveOrphans bool          `mapstructure:"auto_resolve_orphans"`
	PriceTolerancePct  float64       `mapstructure:"price_tolerance_pct"`
	CriticalAction     string        `mapstructure:"critical_action"`
}

type StreamProxyUpstream struct {
	Addr string `mapstructure:"addr"`
}

// LoadStreamProxy reads the stream proxy's config from a YAML file with
// STREAMPROXY_* env var overrides.
func LoadStreamProxy(path string) (*StreamProxyConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("STREAMPROXY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg StreamProxyConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("STREAMPROXY_API_KEY"); key != "" {
		cfg.Vendor.APIKey = key
	}
	if secret := os.Getenv("STREAMPROXY_API_SECRET"); secret != "" {
		cfg.Vendor.APISecret = secret
	}

	return &cfg, nil
}

// Validate checks required fields for the stream proxy.
func (c *StreamProxyConfig) Validate() error {
	if c.Vendor.StockWSURL == "" {
		return fmt.Errorf("vendor.stock_ws_url is required")
	}
	if c.Vendor.APIKey == "" {
		return fmt.Errorf("vendor.api_key is required (set STREAMPROXY_API_KEY)")
	}
	if c.Vendor.APISecret == "" {
		return fmt.Errorf("vendor.api_secret is required (set STREAMPROXY_API_SECRET)")
	}
	if c.GRPC.ListenAddr == "" {
		return fmt.Errorf("grpc.listen_addr is required")
	}
	if c.Vendor.MaxAuthTries <= 0 {
		c.Vendor.MaxAuthTries = 5
	}
	if c.Hub.ChannelCapacity <= 0 {
		c.Hub.ChannelCapacity = 10_000
	}
	return nil
}

// LoadExecEngine reads the execution engine's config from a YAML file
// with EXECENGINE_* env var overrides.
func LoadExecEngine(path string) (*ExecEngineConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("EXECENGINE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg ExecEngineConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("EXECENGINE_BROKER_API_KEY"); key != "" {
		cfg.Broker.APIKey = key
	}
	if secret := os.Getenv("EXECENGINE_BROKER_API_SECRET"); secret != "" {
		cfg.Broker.APISecret = secret
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges for the execution
// engine.
func (c *ExecEngineConfig) Validate() error {
	switch c.Environment {
	case "paper", "live":
	default:
		return fmt.Errorf("environment must be \"paper\" or \"live\", got %q", c.Environment)
	}
	if c.Broker.BaseURL == "" {
		return fmt.Errorf("broker.base_url is required")
	}
	if c.Broker.APIKey == "" {
		return fmt.Errorf("broker.api_key is required (set EXECENGINE_BROKER_API_KEY)")
	}
	if c.Risk.MaxGrossExposure <= 0 {
		return fmt.Errorf("risk.max_gross_exposure must be > 0")
	}
	if c.Persistence.DBPath == "" {
		return fmt.Errorf("persistence.db_path is required")
	}
	if c.Persistence.SnapshotInterval <= 0 {
		c.Persistence.SnapshotInterval = 60 * time.Second
	}
	if c.Reconcile.MaxOrderAge <= 0 {
		c.Reconcile.MaxOrderAge = 24 * time.Hour
	}
	if c.Reconcile.ProtectionWindow <= 0 {
		c.Reconcile.ProtectionWindow = 30 * time.Minute
	}
	switch c.Reconcile.CriticalAction {
	case "", "Halt", "LogAndContinue", "Alert":
	default:
		return fmt.Errorf("reconcile.critical_action must be one of Halt, LogAndContinue, Alert, got %q", c.Reconcile.CriticalAction)
	}
	return nil
}
