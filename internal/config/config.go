// Package config defines all configuration for the trading core. Config is
// loaded from a YAML file with sensitive fields overridable via MKT_* env
// variables via viper.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"marketcore/pkg/types"
)

// Config is the top-level configuration, mapping directly to the YAML file.
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Store   StoreConfig   `mapstructure:"store"`
	Hub     HubConfig     `mapstructure:"hub"`
	Session SessionConfig `mapstructure:"session"`
	Runner  RunnerConfig  `mapstructure:"runner"`
	Markets []MarketEntry `mapstructure:"markets"`
}

// LoggingConfig controls the slog handler used across the process.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "json" or "text"
}

// StoreConfig configures the per-market Trade Log Store.
type StoreConfig struct {
	DataDir          string        `mapstructure:"data_dir"`
	WriterQueueDepth int           `mapstructure:"writer_queue_depth"`
	InitialCacheSpan time.Duration `mapstructure:"initial_cache_span"`
}

// HubConfig controls the Market Hub and optional UDP sidecar fanout.
type HubConfig struct {
	SubscriberBuffer int    `mapstructure:"subscriber_buffer"`
	UDPEnabled       bool   `mapstructure:"udp_enabled"`
	UDPMulticastAddr string `mapstructure:"udp_multicast_addr"`
}

// SessionConfig tunes the agent's stateful view of a market.
type SessionConfig struct {
	AgentID           string  `mapstructure:"agent_id"`
	Mode              string  `mapstructure:"mode"` // Real | Dry | BackTest
	ClockIntervalSec  float64 `mapstructure:"clock_interval_sec"`
	ExpireOrderTTLSec float64 `mapstructure:"expire_order_ttl_sec"`
}

// RunnerConfig bounds the agent runner's execution window.
type RunnerConfig struct {
	ExecuteTimeSec float64 `mapstructure:"execute_time_sec"`
	ClientMode     bool    `mapstructure:"client_mode"`
}

// MarketEntry is one configured market: its immutable MarketConfig plus the
// exchange endpoints and credentials needed to reach it.
type MarketEntry struct {
	Exchange        string   `mapstructure:"exchange"`
	TradeCategory   string   `mapstructure:"trade_category"`
	TradeSymbol     string   `mapstructure:"trade_symbol"`
	HomeCurrency    string   `mapstructure:"home_currency"`
	ForeignCurrency string   `mapstructure:"foreign_currency"`
	PriceUnit       string   `mapstructure:"price_unit"`
	PriceScale      int32    `mapstructure:"price_scale"`
	SizeUnit        string   `mapstructure:"size_unit"`
	SizeScale       int32    `mapstructure:"size_scale"`
	MakerFee        string   `mapstructure:"maker_fee"`
	TakerFee        string   `mapstructure:"taker_fee"`
	FeeType         string   `mapstructure:"fee_type"`
	PriceType       string   `mapstructure:"price_type"`
	MarketOrderSlip string   `mapstructure:"market_order_price_slip"`
	BoardDepth      int      `mapstructure:"board_depth"`
	PublicChannels  []string `mapstructure:"public_subscribe_channel"`

	RestBaseURL string `mapstructure:"rest_base_url"`
	WSURL       string `mapstructure:"ws_url"`
	APIKey      string `mapstructure:"api_key"`
	APISecret   string `mapstructure:"api_secret"`
}

// ToMarketConfig converts the YAML-friendly entry into the immutable
// types.MarketConfig used everywhere else, parsing decimal fields exactly
// (never via floating point).
func (e MarketEntry) ToMarketConfig() (types.MarketConfig, error) {
	parse := func(s string, field string) (decimal.Decimal, error) {
		if s == "" {
			return decimal.Zero, nil
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return decimal.Zero, fmt.Errorf("market %s: invalid %s %q: %w", e.TradeSymbol, field, s, err)
		}
		return d, nil
	}

	priceUnit, err := parse(e.PriceUnit, "price_unit")
	if err != nil {
		return types.MarketConfig{}, err
	}
	sizeUnit, err := parse(e.SizeUnit, "size_unit")
	if err != nil {
		return types.MarketConfig{}, err
	}
	makerFee, err := parse(e.MakerFee, "maker_fee")
	if err != nil {
		return types.MarketConfig{}, err
	}
	takerFee, err := parse(e.TakerFee, "taker_fee")
	if err != nil {
		return types.MarketConfig{}, err
	}
	slip, err := parse(e.MarketOrderSlip, "market_order_price_slip")
	if err != nil {
		return types.MarketConfig{}, err
	}

	return types.MarketConfig{
		ExchangeName:           e.Exchange,
		TradeCategory:          e.TradeCategory,
		TradeSymbol:            e.TradeSymbol,
		HomeCurrency:           e.HomeCurrency,
		ForeignCurrency:        e.ForeignCurrency,
		PriceUnit:              priceUnit,
		PriceScale:             e.PriceScale,
		SizeUnit:               sizeUnit,
		SizeScale:              e.SizeScale,
		MakerFee:               makerFee,
		TakerFee:               takerFee,
		FeeType:                types.FeeType(e.FeeType),
		PriceType:              types.PriceType(e.PriceType),
		MarketOrderPriceSlip:   slip,
		BoardDepth:             e.BoardDepth,
		PublicSubscribeChannel: e.PublicChannels,
	}, nil
}

// Load reads config from a YAML file. MKT_API_KEY and MKT_API_SECRET
// override the credentials of the first configured market only; other
// markets take theirs from the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("MKT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if key := os.Getenv("MKT_API_KEY"); key != "" && len(cfg.Markets) > 0 {
		cfg.Markets[0].APIKey = key
	}
	if secret := os.Getenv("MKT_API_SECRET"); secret != "" && len(cfg.Markets) > 0 {
		cfg.Markets[0].APISecret = secret
	}

	return &cfg, nil
}

// Validate checks required fields and value ranges.
func (c *Config) Validate() error {
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	if len(c.Markets) == 0 {
		return fmt.Errorf("at least one market must be configured")
	}
	switch c.Session.Mode {
	case "Real", "Dry", "BackTest", "":
	default:
		return fmt.Errorf("session.mode must be one of Real, Dry, BackTest")
	}
	for _, m := range c.Markets {
		if m.TradeSymbol == "" {
			return fmt.Errorf("markets[].trade_symbol is required")
		}
		if _, err := m.ToMarketConfig(); err != nil {
			return err
		}
	}
	return nil
}
