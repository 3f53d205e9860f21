// Package config provides configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
type Config struct {
	App       AppConfig       `mapstructure:"app"`
	Pricing   PricingConfig   `mapstructure:"pricing"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Source    SourceConfig    `mapstructure:"source"`
	Ethereum  EthereumConfig  `mapstructure:"ethereum"`
	Refresh   RefreshConfig   `mapstructure:"refresh"`
	Store     StoreConfig     `mapstructure:"store"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"log_level"`
	HealthPort  int    `mapstructure:"health_port"`
}

// TokenConfig declares token metadata up front. Sources may add more.
type TokenConfig struct {
	ID       string `mapstructure:"id"`
	Symbol   string `mapstructure:"symbol"`
	Decimals int    `mapstructure:"decimals"`
}

// PricingConfig holds anchors and run parameters for the propagation engine.
type PricingConfig struct {
	Stablecoins       []string      `mapstructure:"stablecoins"`
	BTCAnchor         string        `mapstructure:"btc_anchor"`
	Tokens            []TokenConfig `mapstructure:"tokens"`
	MaxCycles         int           `mapstructure:"max_cycles"`
	DecayFactor       float64       `mapstructure:"decay_factor"`
	MinLiquidityUSD   string        `mapstructure:"min_liquidity_usd"`
	Workers           int           `mapstructure:"workers"`
	ConfidenceEpsilon float64       `mapstructure:"confidence_epsilon"`
}

// MinLiquidityUSDDecimal returns the inclusion threshold as decimal.Decimal.
func (c *PricingConfig) MinLiquidityUSDDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(c.MinLiquidityUSD)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Oracle provider names.
const (
	OracleStatic        = "static"
	OracleBinance       = "binance"
	OracleBinanceStream = "binance_stream"
)

// OracleConfig selects the BTC/USD price provider.
type OracleConfig struct {
	Provider    string        `mapstructure:"provider"`
	StaticPrice string        `mapstructure:"static_price"`
	Binance     BinanceConfig `mapstructure:"binance"`
}

// StaticPriceDecimal returns the configured static price.
func (c *OracleConfig) StaticPriceDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(c.StaticPrice)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// BinanceConfig holds Binance REST and stream settings.
type BinanceConfig struct {
	RESTURL      string        `mapstructure:"rest_url"`
	WebSocketURL string        `mapstructure:"websocket_url"` // wss://stream.binance.com:9443 or wss://stream.binance.us:9443 for US
	Symbol       string        `mapstructure:"symbol"`
	CacheTTL     time.Duration `mapstructure:"cache_ttl"`
	StaleTimeout time.Duration `mapstructure:"stale_timeout"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Retries      int           `mapstructure:"retries"`
}

// Pool source provider names.
const (
	SourceFile = "file"
	SourceHTTP = "http"
	SourceEVM  = "evm"
)

// SourceConfig selects where pools and reserves come from.
type SourceConfig struct {
	Provider    string        `mapstructure:"provider"`
	FilePath    string        `mapstructure:"file_path"`
	HTTPURL     string        `mapstructure:"http_url"`
	HTTPTimeout time.Duration `mapstructure:"http_timeout"`
	HTTPRetries int           `mapstructure:"http_retries"`
	EVM         EVMConfig     `mapstructure:"evm"`
}

// EVMConfig lists the V2-style pair contracts to read.
type EVMConfig struct {
	Pairs       []string      `mapstructure:"pairs"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	Concurrency int           `mapstructure:"concurrency"`
}

// PairAddresses returns the configured pairs as common.Address.
func (c *EVMConfig) PairAddresses() []common.Address {
	out := make([]common.Address, 0, len(c.Pairs))
	for _, p := range c.Pairs {
		out = append(out, common.HexToAddress(p))
	}
	return out
}

// EthereumConfig holds Ethereum node configuration.
type EthereumConfig struct {
	HTTPURL      string        `mapstructure:"http_url"`
	ChainID      uint64        `mapstructure:"chain_id"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// RefreshConfig controls when the engine re-runs.
type RefreshConfig struct {
	Interval              time.Duration `mapstructure:"interval"`
	RunTimeout            time.Duration `mapstructure:"run_timeout"`
	OnNewBlock            bool          `mapstructure:"on_new_block"`
	ForceRefreshPerMinute int           `mapstructure:"force_refresh_per_minute"`
	MaxSnapshotAge        time.Duration `mapstructure:"max_snapshot_age"`
	ConsoleReport         bool          `mapstructure:"console_report"`
	ConsoleTopN           int           `mapstructure:"console_top_n"`
}

// Store backends.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreNoop     = "noop"
)

// StoreConfig holds snapshot and history persistence settings.
type StoreConfig struct {
	Snapshot SnapshotStoreConfig `mapstructure:"snapshot"`
	History  HistoryStoreConfig  `mapstructure:"history"`
}

// SnapshotStoreConfig selects where the latest snapshot is kept.
type SnapshotStoreConfig struct {
	Provider  string        `mapstructure:"provider"`
	TTL       time.Duration `mapstructure:"ttl"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisPass string        `mapstructure:"redis_password"`
	RedisDB   int           `mapstructure:"redis_db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
}

// HistoryStoreConfig selects where per-run price rows are appended.
type HistoryStoreConfig struct {
	Provider string `mapstructure:"provider"`
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// TelemetryConfig holds observability configuration.
type TelemetryConfig struct {
	Enabled         bool              `mapstructure:"enabled"`
	ServiceName     string            `mapstructure:"service_name"`
	TraceProvider   string            `mapstructure:"trace_provider"`
	OTLPEndpoint    string            `mapstructure:"otlp_endpoint"`
	OTLPHeaders     map[string]string `mapstructure:"otlp_headers"`
	OTLPInsecure    bool              `mapstructure:"otlp_insecure"`
	SampleRatio     float64           `mapstructure:"sample_ratio"`
	MetricProviders []string          `mapstructure:"metric_providers"`
	PrometheusPort  int               `mapstructure:"prometheus_port"`
}

// Load loads configuration from file and environment variables.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.SetEnvPrefix("PRICER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	bindEnvVars(v)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.Pricing.Workers <= 0 {
		cfg.Pricing.Workers = runtime.GOMAXPROCS(0)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

func bindEnvVars(v *viper.Viper) {
	// App
	_ = v.BindEnv("app.name", "PRICER_APP_NAME", "SERVICE_NAME")
	_ = v.BindEnv("app.environment", "PRICER_ENVIRONMENT", "ENVIRONMENT")
	_ = v.BindEnv("app.log_level", "PRICER_LOG_LEVEL", "LOG_LEVEL")

	// Pricing
	_ = v.BindEnv("pricing.btc_anchor", "PRICER_BTC_ANCHOR")
	_ = v.BindEnv("pricing.stablecoins", "PRICER_STABLECOINS")

	// Oracle
	_ = v.BindEnv("oracle.provider", "PRICER_ORACLE")
	_ = v.BindEnv("oracle.static_price", "PRICER_BTC_PRICE")
	_ = v.BindEnv("oracle.binance.websocket_url", "PRICER_BINANCE_WS_URL", "BINANCE_WS_URL")

	// Source
	_ = v.BindEnv("source.provider", "PRICER_SOURCE")
	_ = v.BindEnv("source.file_path", "PRICER_POOLS_FILE")
	_ = v.BindEnv("source.http_url", "PRICER_POOLS_URL")

	// Ethereum
	_ = v.BindEnv("ethereum.http_url", "PRICER_ETH_HTTP_URL", "ETH_HTTP_URL")
	_ = v.BindEnv("ethereum.chain_id", "PRICER_ETH_CHAIN_ID", "ETH_CHAIN_ID")

	// Store
	_ = v.BindEnv("store.snapshot.redis_addr", "PRICER_REDIS_ADDR", "REDIS_ADDR")
	_ = v.BindEnv("store.snapshot.redis_password", "PRICER_REDIS_PASSWORD", "REDIS_PASSWORD")
	_ = v.BindEnv("store.history.dsn", "PRICER_DATABASE_URL", "DATABASE_URL")

	// Telemetry
	_ = v.BindEnv("telemetry.enabled", "PRICER_OTEL_ENABLED", "OTEL_ENABLED")
	_ = v.BindEnv("telemetry.service_name", "PRICER_OTEL_SERVICE_NAME", "OTEL_SERVICE_NAME")
	_ = v.BindEnv("telemetry.otlp_endpoint", "PRICER_OTEL_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "pool-pricer")
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.log_level", "info")
	v.SetDefault("app.health_port", 8081)

	v.SetDefault("pricing.stablecoins", []string{
		"0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", // USDC
		"0xdAC17F958D2ee523a2206206994597C13D831ec7", // USDT
		"0x6B175474E89094C44Da98b954EedeAC495271d0F", // DAI
	})
	v.SetDefault("pricing.btc_anchor", "0x2260FAC5E5542a773Aa44fBCfeDf7C193bc2C599") // WBTC
	v.SetDefault("pricing.max_cycles", 16)
	v.SetDefault("pricing.decay_factor", 0.85)
	v.SetDefault("pricing.min_liquidity_usd", "0")
	v.SetDefault("pricing.workers", 0)
	v.SetDefault("pricing.confidence_epsilon", 1e-9)

	v.SetDefault("oracle.provider", OracleBinance)
	v.SetDefault("oracle.binance.rest_url", "https://api.binance.com")
	v.SetDefault("oracle.binance.websocket_url", "wss://stream.binance.com:9443")
	v.SetDefault("oracle.binance.symbol", "BTCUSDT")
	v.SetDefault("oracle.binance.cache_ttl", "10s")
	v.SetDefault("oracle.binance.stale_timeout", "30s")
	v.SetDefault("oracle.binance.timeout", "5s")
	v.SetDefault("oracle.binance.retries", 1)

	v.SetDefault("source.provider", SourceFile)
	v.SetDefault("source.file_path", "pools.json")
	v.SetDefault("source.http_timeout", "10s")
	v.SetDefault("source.http_retries", 2)
	v.SetDefault("source.evm.call_timeout", "10s")
	v.SetDefault("source.evm.concurrency", 8)

	v.SetDefault("ethereum.chain_id", 1)
	v.SetDefault("ethereum.poll_interval", "12s")

	v.SetDefault("refresh.interval", "1m")
	v.SetDefault("refresh.run_timeout", "30s")
	v.SetDefault("refresh.on_new_block", false)
	v.SetDefault("refresh.force_refresh_per_minute", 6)
	v.SetDefault("refresh.max_snapshot_age", "5m")
	v.SetDefault("refresh.console_report", false)
	v.SetDefault("refresh.console_top_n", 10)

	v.SetDefault("store.snapshot.provider", StoreMemory)
	v.SetDefault("store.snapshot.ttl", "1h")
	v.SetDefault("store.snapshot.redis_addr", "localhost:6379")
	v.SetDefault("store.snapshot.key_prefix", "pricer")
	v.SetDefault("store.history.provider", StoreNoop)
	v.SetDefault("store.history.max_conns", 4)

	v.SetDefault("telemetry.enabled", false)
	v.SetDefault("telemetry.service_name", "pool-pricer")
	v.SetDefault("telemetry.trace_provider", "empty")
	v.SetDefault("telemetry.sample_ratio", 1.0)
	v.SetDefault("telemetry.metric_providers", []string{"prometheus"})
	v.SetDefault("telemetry.prometheus_port", 9090)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	p := c.Pricing
	if strings.TrimSpace(p.BTCAnchor) == "" {
		return fmt.Errorf("pricing.btc_anchor is required")
	}
	if p.MaxCycles < 1 {
		return fmt.Errorf("pricing.max_cycles must be >= 1, got %d", p.MaxCycles)
	}
	if p.DecayFactor <= 0 || p.DecayFactor >= 1 {
		return fmt.Errorf("pricing.decay_factor must be in (0, 1), got %v", p.DecayFactor)
	}
	if min, err := decimal.NewFromString(p.MinLiquidityUSD); err != nil || min.IsNegative() {
		return fmt.Errorf("invalid pricing.min_liquidity_usd: %q", p.MinLiquidityUSD)
	}
	for _, t := range p.Tokens {
		if t.ID == "" || t.Decimals < 0 {
			return fmt.Errorf("invalid pricing.tokens entry: %+v", t)
		}
	}

	switch c.Oracle.Provider {
	case OracleStatic:
		if !c.Oracle.StaticPriceDecimal().IsPositive() {
			return fmt.Errorf("oracle.static_price must be positive, got %q", c.Oracle.StaticPrice)
		}
	case OracleBinance, OracleBinanceStream:
		if c.Oracle.Binance.Symbol == "" {
			return fmt.Errorf("oracle.binance.symbol is required")
		}
	default:
		return fmt.Errorf("unknown oracle.provider %q", c.Oracle.Provider)
	}

	switch c.Source.Provider {
	case SourceFile:
		if c.Source.FilePath == "" {
			return fmt.Errorf("source.file_path is required for the file source")
		}
	case SourceHTTP:
		if c.Source.HTTPURL == "" {
			return fmt.Errorf("source.http_url is required for the http source")
		}
	case SourceEVM:
		if c.Ethereum.HTTPURL == "" {
			return fmt.Errorf("ethereum.http_url is required for the evm source")
		}
		if len(c.Source.EVM.Pairs) == 0 {
			return fmt.Errorf("source.evm.pairs cannot be empty")
		}
		for _, pair := range c.Source.EVM.Pairs {
			if !common.IsHexAddress(pair) {
				return fmt.Errorf("invalid source.evm.pairs address: %s", pair)
			}
		}
	default:
		return fmt.Errorf("unknown source.provider %q", c.Source.Provider)
	}

	if c.Refresh.OnNewBlock && c.Ethereum.HTTPURL == "" {
		return fmt.Errorf("refresh.on_new_block requires ethereum.http_url")
	}
	if c.Refresh.RunTimeout <= 0 {
		return fmt.Errorf("refresh.run_timeout must be positive")
	}

	switch c.Store.Snapshot.Provider {
	case StoreMemory, StoreRedis:
	default:
		return fmt.Errorf("unknown store.snapshot.provider %q", c.Store.Snapshot.Provider)
	}
	switch c.Store.History.Provider {
	case StoreNoop:
	case StorePostgres:
		if c.Store.History.DSN == "" {
			return fmt.Errorf("store.history.dsn is required for postgres")
		}
	default:
		return fmt.Errorf("unknown store.history.provider %q", c.Store.History.Provider)
	}

	return nil
}
