// Package config defines the top-level configuration for the margin engine
// and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/alanyoungcy/marginbot/internal/domain"
	"github.com/alanyoungcy/marginbot/internal/risk"
)

// Config is the root configuration structure. Fields are populated from a TOML
// file and then optionally overridden by MARGINBOT_* environment variables.
type Config struct {
	Network  string         `toml:"network"`
	Indexer  IndexerConfig  `toml:"indexer"`
	Gateway  GatewayConfig  `toml:"gateway"`
	Wallet   WalletConfig   `toml:"wallet"`
	Risk     RiskConfig     `toml:"risk"`
	Poll     PollConfig     `toml:"poll"`
	Sizing   SizingConfig   `toml:"sizing"`
	Margin   MarginConfig   `toml:"margin"`
	Supabase SupabaseConfig `toml:"supabase"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Mode     string         `toml:"mode"`
	LogLevel string         `toml:"log_level"`
}

// IndexerConfig points at the read-only indexing service. An empty URL
// selects the public indexer of the configured network.
type IndexerConfig struct {
	URL     string   `toml:"url"`
	Timeout duration `toml:"timeout"`
}

// GatewayConfig holds the execution gateway and the fullnode used to
// confirm its transactions.
type GatewayConfig struct {
	URL                  string   `toml:"url"`
	Timeout              duration `toml:"timeout"`
	RPCURL               string   `toml:"rpc_url"`
	FinalityPollInterval duration `toml:"finality_poll_interval"`
}

// WalletConfig holds the operator's ed25519 key.
type WalletConfig struct {
	PrivateKey       string `toml:"private_key"`
	EncryptedKeyPath string `toml:"encrypted_key_path"`
	KeyPassword      string `toml:"key_password"`
	// Address is informational; the signer derives the real one.
	Address string `toml:"address"`
}

// RiskConfig holds the risk-ratio boundaries.
type RiskConfig struct {
	Liquidation float64 `toml:"liquidation"`
	Warning     float64 `toml:"warning"`
	WithdrawMin float64 `toml:"withdraw_min"`
	BorrowMin   float64 `toml:"borrow_min"`
}

// Thresholds converts the section to risk.Thresholds.
func (r RiskConfig) Thresholds() risk.Thresholds {
	return risk.Thresholds{
		Liquidation: r.Liquidation,
		Warning:     r.Warning,
		WithdrawMin: r.WithdrawMin,
		BorrowMin:   r.BorrowMin,
	}
}

// PollConfig holds the polling cadences.
type PollConfig struct {
	PositionInterval    duration `toml:"position_interval"`
	LiquidationInterval duration `toml:"liquidation_interval"`
	PostActionDelay     duration `toml:"post_action_delay"`
	// LiquidationPool restricts the scanner to one pool id; empty scans all.
	LiquidationPool string `toml:"liquidation_pool"`
	// Watch lists margin manager ids polled from startup.
	Watch []string `toml:"watch"`
}

// SizingConfig holds order sizing parameters.
type SizingConfig struct {
	BuyHaircut float64 `toml:"buy_haircut"`
}

// MarginConfig lists, per network, the asset symbols that have a margin
// pool, and the DEEP coin used as third collateral.
type MarginConfig struct {
	Assets       map[string][]string `toml:"assets"`
	DeepCoinType map[string]string   `toml:"deep_coin_type"`
	DeepDecimals int                 `toml:"deep_decimals"`
}

// AssetsFor returns the margin asset symbols configured for network.
func (m MarginConfig) AssetsFor(network domain.Network) []string {
	return m.Assets[string(network)]
}

// DeepFor returns the DEEP coin type configured for network.
func (m MarginConfig) DeepFor(network domain.Network) string {
	return m.DeepCoinType[string(network)]
}

// SupabaseConfig holds PostgreSQL / Supabase connection parameters.
type SupabaseConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters.
type RedisConfig struct {
	Addr       string `toml:"addr"`
	Password   string `toml:"password"`
	DB         int    `toml:"db"`
	PoolSize   int    `toml:"pool_size"`
	MaxRetries int    `toml:"max_retries"`
	TLSEnabled bool   `toml:"tls_enabled"`
	// KeyPrefix is joined with the network, "marginbot" gives
	// "marginbot:mainnet:...".
	KeyPrefix   string   `toml:"key_prefix"`
	SnapshotTTL duration `toml:"snapshot_ttl"`
	BalanceTTL  duration `toml:"balance_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// ArchiveConfig controls the cold archive job.
type ArchiveConfig struct {
	Enabled       bool     `toml:"enabled"`
	RetentionDays int      `toml:"retention_days"`
	Interval      duration `toml:"interval"`
}

// duration is a wrapper around time.Duration that supports TOML string decoding
// (e.g. "5m", "30s").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	APIKey      string   `toml:"api_key"`
	RateLimit   int      `toml:"rate_limit"`
	RateWindow  duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

var defaultIndexerURLs = map[domain.Network]string{
	domain.NetworkMainnet: "https://deepbook-indexer.mainnet.mystenlabs.com",
	domain.NetworkTestnet: "https://deepbook-indexer.testnet.mystenlabs.com",
}

var defaultRPCURLs = map[domain.Network]string{
	domain.NetworkMainnet: "https://fullnode.mainnet.sui.io:443",
	domain.NetworkTestnet: "https://fullnode.testnet.sui.io:443",
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	t := risk.DefaultThresholds()
	return Config{
		Network: string(domain.NetworkMainnet),
		Indexer: IndexerConfig{
			Timeout: duration{15 * time.Second},
		},
		Gateway: GatewayConfig{
			URL:                  "http://localhost:8700",
			Timeout:              duration{60 * time.Second},
			FinalityPollInterval: duration{time.Second},
		},
		Risk: RiskConfig{
			Liquidation: t.Liquidation,
			Warning:     t.Warning,
			WithdrawMin: t.WithdrawMin,
			BorrowMin:   t.BorrowMin,
		},
		Poll: PollConfig{
			PositionInterval:    duration{10 * time.Second},
			LiquidationInterval: duration{30 * time.Second},
			PostActionDelay:     duration{3 * time.Second},
		},
		Sizing: SizingConfig{BuyHaircut: 0.99},
		Margin: MarginConfig{
			Assets: map[string][]string{
				"mainnet": {"SUI", "USDC", "DEEP", "WAL"},
				"testnet": {"SUI", "USDC", "DEEP"},
			},
			DeepCoinType: map[string]string{
				"mainnet": "0xdeeb7a4662eec9f2f3def03fb937a663dddaa2e215b8078a284d026b7946c270::deep::DEEP",
				"testnet": "0x36dbef866a1d62bf7328989a10fb2f07d769f4ee587c0de4a0a256e57e0a58a8::deep::DEEP",
			},
			DeepDecimals: 6,
		},
		Supabase: SupabaseConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "postgres",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:        "localhost:6379",
			PoolSize:    20,
			MaxRetries:  3,
			KeyPrefix:   "marginbot",
			SnapshotTTL: duration{time.Minute},
			BalanceTTL:  duration{30 * time.Second},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marginbot-archive",
			ForcePathStyle: true,
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Host:        "0.0.0.0",
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   120,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"health_warning", "health_liquidatable", "liquidation_found", "liquidation_executed", "liquidation_failed", "action_failed", "archive"},
		},
		Mode:     "monitor",
		LogLevel: "info",
	}
}

// NetworkID returns the parsed network. Call after Validate.
func (c *Config) NetworkID() domain.Network {
	n, _ := domain.ParseNetwork(c.Network)
	return n
}

// IndexerURL returns the configured indexer or the public one.
func (c *Config) IndexerURL() string {
	if c.Indexer.URL != "" {
		return c.Indexer.URL
	}
	return defaultIndexerURLs[c.NetworkID()]
}

// RPCURL returns the configured fullnode or the public one.
func (c *Config) RPCURL() string {
	if c.Gateway.RPCURL != "" {
		return c.Gateway.RPCURL
	}
	return defaultRPCURLs[c.NetworkID()]
}

// RedisPrefix namespaces cache keys per network.
func (c *Config) RedisPrefix() string {
	if c.Redis.KeyPrefix == "" {
		return c.Network
	}
	return c.Redis.KeyPrefix + ":" + c.Network
}

// Executes reports whether the mode dispatches transactions.
func (c *Config) Executes() bool {
	m := strings.ToLower(c.Mode)
	return m == "trade" || m == "full"
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"monitor": true,
	"trade":   true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks Config for obviously invalid or missing values and returns a
// combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if _, err := domain.ParseNetwork(c.Network); err != nil {
		errs = append(errs, fmt.Sprintf("unknown network %q (valid: mainnet, testnet)", c.Network))
	}

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: monitor, trade, full)", c.Mode))
	}

	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Wallet: executing modes sign gateway requests.
	if c.Executes() {
		if c.Wallet.PrivateKey == "" && c.Wallet.EncryptedKeyPath == "" {
			errs = append(errs, "wallet: either private_key or encrypted_key_path must be set for mode "+c.Mode)
		}
		if c.Wallet.EncryptedKeyPath != "" && c.Wallet.KeyPassword == "" {
			errs = append(errs, "wallet: key_password is required when encrypted_key_path is set")
		}
		if c.Gateway.URL == "" {
			errs = append(errs, "gateway: url must not be empty for mode "+c.Mode)
		}
	}

	if c.Indexer.Timeout.Duration <= 0 {
		errs = append(errs, "indexer: timeout must be > 0")
	}
	if c.Gateway.FinalityPollInterval.Duration <= 0 {
		errs = append(errs, "gateway: finality_poll_interval must be > 0")
	}

	if err := c.Risk.Thresholds().Validate(); err != nil {
		errs = append(errs, "risk: "+err.Error())
	}

	if c.Poll.PositionInterval.Duration <= 0 {
		errs = append(errs, "poll: position_interval must be > 0")
	}
	if c.Poll.LiquidationInterval.Duration <= 0 {
		errs = append(errs, "poll: liquidation_interval must be > 0")
	}
	if c.Poll.PostActionDelay.Duration < 0 {
		errs = append(errs, "poll: post_action_delay must be >= 0")
	}

	if c.Sizing.BuyHaircut <= 0 || c.Sizing.BuyHaircut > 1 {
		errs = append(errs, fmt.Sprintf("sizing: buy_haircut must be in (0, 1], got %v", c.Sizing.BuyHaircut))
	}

	if n, err := domain.ParseNetwork(c.Network); err == nil {
		if len(c.Margin.AssetsFor(n)) == 0 {
			errs = append(errs, "margin: no assets configured for network "+c.Network)
		}
		if c.Margin.DeepFor(n) == "" {
			errs = append(errs, "margin: deep_coin_type missing for network "+c.Network)
		}
	}
	if c.Margin.DeepDecimals < 0 {
		errs = append(errs, "margin: deep_decimals must be >= 0")
	}

	// Supabase
	if strings.TrimSpace(c.Supabase.DSN) == "" {
		if c.Supabase.Host == "" {
			errs = append(errs, "supabase: host must not be empty (or set supabase.dsn)")
		}
		if c.Supabase.Port <= 0 || c.Supabase.Port > 65535 {
			errs = append(errs, fmt.Sprintf("supabase: port must be 1-65535, got %d", c.Supabase.Port))
		}
		if c.Supabase.Database == "" {
			errs = append(errs, "supabase: database must not be empty")
		}
	}
	if c.Supabase.PoolMaxConns < 1 {
		errs = append(errs, "supabase: pool_max_conns must be >= 1")
	}
	if c.Supabase.PoolMinConns < 0 {
		errs = append(errs, "supabase: pool_min_conns must be >= 0")
	}
	if c.Supabase.PoolMinConns > c.Supabase.PoolMaxConns {
		errs = append(errs, "supabase: pool_min_conns must not exceed pool_max_conns")
	}

	// Redis
	if c.Redis.Addr == "" {
		errs = append(errs, "redis: addr must not be empty")
	}
	if c.Redis.PoolSize < 1 {
		errs = append(errs, "redis: pool_size must be >= 1")
	}

	// S3 is only needed by the archive job.
	if c.Archive.Enabled {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be > 0 when rate_limit is set")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w:\n  - %s", domain.ErrInvalidConfig, strings.Join(errs, "\n  - "))
	}
	return nil
}
