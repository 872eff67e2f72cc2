package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config represents the wallet middleware configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Backend    BackendConfig    `mapstructure:"backend"`
	Provider   ProviderConfig   `mapstructure:"provider"`
	Chains     ChainsConfig     `mapstructure:"chains"`
	Oracle     OracleConfig     `mapstructure:"oracle"`
	Payments   PaymentsConfig   `mapstructure:"payments"`
	Session    SessionConfig    `mapstructure:"session"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ServerConfig contains HTTP server settings
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig contains database connection settings
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// RedisConfig contains Redis connection settings for the session store.
// When Addr is empty the server falls back to the in-memory store.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// BackendConfig contains settings for the Ghiblify REST backend
type BackendConfig struct {
	URL            string        `mapstructure:"url"`
	APIKey         string        `mapstructure:"api_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	RetryDelay     time.Duration `mapstructure:"retry_delay"`
}

// ProviderConfig contains the wallet provider bridge endpoint. The
// bridge relays EIP-1193 requests to the user's wallet; walletd never
// holds keys.
type ProviderConfig struct {
	URL            string        `mapstructure:"url"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// ChainsConfig groups the supported EVM networks
type ChainsConfig struct {
	Base ChainConfig `mapstructure:"base"`
	Celo ChainConfig `mapstructure:"celo"`
}

// ChainConfig contains per-network client settings
type ChainConfig struct {
	RPCURL             string        `mapstructure:"rpc_url"`
	ChainID            int64         `mapstructure:"chain_id"`
	PaymentsContract   string        `mapstructure:"payments_contract"`
	TokenContract      string        `mapstructure:"token_contract"`
	ConfirmationBlocks int           `mapstructure:"confirmation_blocks"`
	PollingInterval    time.Duration `mapstructure:"polling_interval"`
	LookbackBlocks     int64         `mapstructure:"lookback_blocks"`
}

// OracleConfig contains price oracle settings
type OracleConfig struct {
	CacheTTL         time.Duration `mapstructure:"cache_ttl"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	MaxDeviation     float64       `mapstructure:"max_deviation"`
	MaxPriceUSD      float64       `mapstructure:"max_price_usd"`
	StabilityWindow  float64       `mapstructure:"stability_window"`
	FallbackPriceUSD float64       `mapstructure:"fallback_price_usd"`
	DexScreenerURL   string        `mapstructure:"dexscreener_url"`
	GeckoTerminalURL string        `mapstructure:"geckoterminal_url"`
}

// PaymentsConfig contains payment processing settings
type PaymentsConfig struct {
	PollInterval    time.Duration `mapstructure:"poll_interval"`
	PollTimeout     time.Duration `mapstructure:"poll_timeout"`
	MaxPollAttempts int           `mapstructure:"max_poll_attempts"`
	DedupTTL        time.Duration `mapstructure:"dedup_ttl"`
}

// SessionConfig contains wallet session lifecycle settings
type SessionConfig struct {
	WalletTTL       time.Duration `mapstructure:"wallet_ttl"`
	AuthTTL         time.Duration `mapstructure:"auth_ttl"`
	ConnectDebounce time.Duration `mapstructure:"connect_debounce"`
	NonceTTL        time.Duration `mapstructure:"nonce_ttl"`
}

// AuthConfig contains SIWE session token settings
type AuthConfig struct {
	Secret   string        `mapstructure:"secret"`
	Issuer   string        `mapstructure:"issuer"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
	Domain   string        `mapstructure:"domain"`
	URI      string        `mapstructure:"uri"`
}

// MonitoringConfig contains monitoring and metrics settings
type MonitoringConfig struct {
	Enabled     bool `mapstructure:"enabled"`
	MetricsPort int  `mapstructure:"metrics_port"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"output_path"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	// Server defaults
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", "30s")
	viper.SetDefault("server.write_timeout", "30s")
	viper.SetDefault("server.idle_timeout", "120s")
	viper.SetDefault("server.shutdown_timeout", "30s")

	// Database defaults
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.database", "ghiblify_wallet")

	// Redis defaults
	viper.SetDefault("redis.addr", "")
	viper.SetDefault("redis.db", 0)

	// Backend defaults
	viper.SetDefault("backend.request_timeout", "30s")
	viper.SetDefault("backend.max_retries", 3)
	viper.SetDefault("backend.retry_delay", "500ms")

	// Provider defaults
	viper.SetDefault("provider.request_timeout", "120s")

	// Chain defaults
	viper.SetDefault("chains.base.chain_id", 8453)
	viper.SetDefault("chains.base.confirmation_blocks", 1)
	viper.SetDefault("chains.base.polling_interval", "2s")
	viper.SetDefault("chains.base.lookback_blocks", 1000)
	viper.SetDefault("chains.celo.chain_id", 42220)
	viper.SetDefault("chains.celo.confirmation_blocks", 1)
	viper.SetDefault("chains.celo.polling_interval", "2s")
	viper.SetDefault("chains.celo.lookback_blocks", 1000)

	// Oracle defaults
	viper.SetDefault("oracle.cache_ttl", "5m")
	viper.SetDefault("oracle.request_timeout", "10s")
	viper.SetDefault("oracle.max_deviation", 0.5)
	viper.SetDefault("oracle.max_price_usd", 1.0)
	viper.SetDefault("oracle.stability_window", 0.3)
	viper.SetDefault("oracle.fallback_price_usd", 0.0001)
	viper.SetDefault("oracle.dexscreener_url", "https://api.dexscreener.com/latest/dex/tokens")
	viper.SetDefault("oracle.geckoterminal_url", "https://api.geckoterminal.com/api/v2/networks/base/tokens")

	// Payments defaults
	viper.SetDefault("payments.poll_interval", "5s")
	viper.SetDefault("payments.poll_timeout", "5m")
	viper.SetDefault("payments.max_poll_attempts", 60)
	viper.SetDefault("payments.dedup_ttl", "24h")

	// Session defaults
	viper.SetDefault("session.wallet_ttl", "1h")
	viper.SetDefault("session.auth_ttl", "24h")
	viper.SetDefault("session.connect_debounce", "2s")
	viper.SetDefault("session.nonce_ttl", "15m")

	// Auth defaults
	viper.SetDefault("auth.issuer", "ghiblify-wallet")
	viper.SetDefault("auth.token_ttl", "24h")
	viper.SetDefault("auth.domain", "ghiblify.art")
	viper.SetDefault("auth.uri", "https://ghiblify.art")

	// Monitoring defaults
	viper.SetDefault("monitoring.enabled", true)
	viper.SetDefault("monitoring.metrics_port", 9090)

	// Logging defaults
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.output_path", "stdout")
}

func validate(config *Config) error {
	if config.Database.Host == "" {
		return fmt.Errorf("database.host is required")
	}
	if config.Backend.URL == "" {
		return fmt.Errorf("backend.url is required")
	}
	if config.Provider.URL == "" {
		return fmt.Errorf("provider.url is required")
	}
	if config.Chains.Base.RPCURL == "" {
		return fmt.Errorf("chains.base.rpc_url is required")
	}
	if config.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is required")
	}
	return nil
}

// GetConnectionString returns a PostgreSQL connection string
func (c *DatabaseConfig) GetConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}
