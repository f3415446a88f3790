// Package config loads and validates the TOML configuration file, with the
// private key overridable via the PRIVATE_KEY environment variable.
package config

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"refmaker/internal/types"
)

// Config is the top-level configuration, mapping directly to the TOML
// sections in §6 of the specification.
type Config struct {
	System   SystemConfig   `mapstructure:"system"`
	Network  NetworkConfig  `mapstructure:"network"`
	Markets  MarketsConfig  `mapstructure:"markets"`
	Strategy StrategyConfig `mapstructure:"strategy"`
	Risk     RiskConfig     `mapstructure:"risk"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Status   StatusConfig   `mapstructure:"status"`

	// PrivateKey is never read from the TOML file; it is populated
	// exclusively from the PRIVATE_KEY environment variable by Load.
	PrivateKey string `mapstructure:"-"`
}

// SystemConfig names the deployment environment.
type SystemConfig struct {
	Env string `mapstructure:"env"`
}

// NetworkConfig holds every external endpoint the process dials.
//
// OnchainRPCURL and ExchangeContractAddr are additive, optional fields
// beyond spec.md §6's literal key list: they configure the on-chain fill
// listener (internal/feed) that supplements the IV topic alongside the
// venue's own fill reporting. An empty OnchainRPCURL disables it.
type NetworkConfig struct {
	ReferenceWSURL       string `mapstructure:"reference_ws_url"`
	VenueAPIURL          string `mapstructure:"venue_api_url"`
	BusPubEndpoint       string `mapstructure:"bus_pub_endpoint"`
	BusSubEndpoint       string `mapstructure:"bus_sub_endpoint"`
	BusExecEndpoint      string `mapstructure:"bus_exec_endpoint"`
	OnchainRPCURL        string `mapstructure:"onchain_rpc_url"`
	ExchangeContractAddr string `mapstructure:"exchange_contract_addr"`
}

// MarketsConfig names the tracked markets. ReferenceIDs are passed through
// directly as the symbol_id emitted on the fabric — see DESIGN.md's
// symbol_id policy resolution.
type MarketsConfig struct {
	ReferenceIDs   []string `mapstructure:"reference_ids"`
	TargetMarketID uint64   `mapstructure:"target_market_id"`
}

// StrategyConfig tunes the Avellaneda-Stoikov quoting engine. Mirrors
// types.StrategyConfig field-for-field; kept as a distinct mapstructure
// type so viper's tag names stay decoupled from the wire-facing entity.
type StrategyConfig struct {
	RiskAversionGamma     float64 `mapstructure:"risk_aversion_gamma"`
	LiquidityK            float64 `mapstructure:"liquidity_k"`
	MinSpreadBps          float64 `mapstructure:"min_spread_bps"`
	TickSize              float64 `mapstructure:"tick_size"`
	MaxInventoryUSD       float64 `mapstructure:"max_inventory_usd"`
	MaturityTimestampMs   int64   `mapstructure:"maturity_timestamp_ms"`
	TerminalDumpingFactor float64 `mapstructure:"terminal_dumping_factor"`
	ClosingWindowSeconds  int64   `mapstructure:"closing_window_seconds"`
}

// ToTypes converts the config shape into the immutable runtime entity.
func (s StrategyConfig) ToTypes() types.StrategyConfig {
	return types.StrategyConfig{
		RiskAversionGamma:     s.RiskAversionGamma,
		LiquidityK:            s.LiquidityK,
		MinSpreadBps:          s.MinSpreadBps,
		TickSize:              s.TickSize,
		MaxInventoryUSD:       s.MaxInventoryUSD,
		MaturityTSMillis:      s.MaturityTimestampMs,
		TerminalDumpingFactor: s.TerminalDumpingFactor,
		ClosingWindowSeconds:  s.ClosingWindowSeconds,
	}
}

// RiskConfig sets the hard limits enforced by the risk manager.
type RiskConfig struct {
	MaxDrawdownUSD  float64 `mapstructure:"max_drawdown_usd"`
	MaxOrderSizeUSD float64 `mapstructure:"max_order_size_usd"`
	PriceFloor      float64 `mapstructure:"price_floor"`
	PriceCeiling    float64 `mapstructure:"price_ceiling"`
}

// ToTypes converts the config shape into the immutable runtime entity.
func (r RiskConfig) ToTypes() types.RiskConfig {
	return types.RiskConfig{
		MaxDrawdownUSD:  r.MaxDrawdownUSD,
		MaxOrderSizeUSD: r.MaxOrderSizeUSD,
		PriceFloor:      r.PriceFloor,
		PriceCeiling:    r.PriceCeiling,
	}
}

// StoreConfig sets where the ledger snapshot is persisted.
type StoreConfig struct {
	DataDir string `mapstructure:"data_dir"`
}

// LoggingConfig controls the slog handler.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StatusConfig controls the operational /health + /status HTTP surface.
// An empty ListenAddr disables it.
type StatusConfig struct {
	ListenAddr string `mapstructure:"listen_addr"`
}

// Load reads config from a TOML file, with PRIVATE_KEY overriding the
// wallet key. Unlike the env-var scheme some sibling projects use, this
// one has no prefix: spec.md names the bare variable.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	cfg.PrivateKey = os.Getenv("PRIVATE_KEY")

	return &cfg, nil
}

// Validate checks all required fields and fails fast on malformed config.
func (c *Config) Validate() error {
	if c.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required")
	}
	if c.Network.VenueAPIURL == "" {
		return fmt.Errorf("network.venue_api_url is required")
	}
	if c.Network.ReferenceWSURL == "" {
		return fmt.Errorf("network.reference_ws_url is required")
	}
	if len(c.Markets.ReferenceIDs) == 0 {
		return fmt.Errorf("markets.reference_ids must name at least one market")
	}
	if c.Strategy.RiskAversionGamma <= 0 {
		return fmt.Errorf("strategy.risk_aversion_gamma must be > 0")
	}
	if c.Strategy.LiquidityK <= 0 {
		return fmt.Errorf("strategy.liquidity_k must be > 0")
	}
	if c.Strategy.TickSize <= 0 {
		return fmt.Errorf("strategy.tick_size must be > 0")
	}
	if c.Strategy.MaturityTimestampMs <= 0 {
		return fmt.Errorf("strategy.maturity_timestamp_ms must be > 0")
	}
	if c.Risk.MaxDrawdownUSD <= 0 {
		return fmt.Errorf("risk.max_drawdown_usd must be > 0")
	}
	if c.Risk.MaxOrderSizeUSD <= 0 {
		return fmt.Errorf("risk.max_order_size_usd must be > 0")
	}
	if c.Risk.PriceFloor < 0 || c.Risk.PriceCeiling > 1 || c.Risk.PriceFloor >= c.Risk.PriceCeiling {
		return fmt.Errorf("risk.price_floor/price_ceiling must satisfy 0 <= floor < ceiling <= 1")
	}
	if c.Store.DataDir == "" {
		return fmt.Errorf("store.data_dir is required")
	}
	return nil
}
