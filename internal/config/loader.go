package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies MARGINBOT_* environment variable overrides, and
// returns the final Config. The returned Config has NOT been validated; the
// caller should invoke Config.Validate() after Load.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}

	// Load .env file if present (silently ignore if missing).
	_ = godotenv.Load()

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides reads well-known MARGINBOT_* environment variables and
// overwrites the corresponding Config fields when a variable is set (i.e. not
// empty). This lets operators inject secrets at deploy time without touching
// the TOML file.
func applyEnvOverrides(cfg *Config) {
	setStr(&cfg.Network, "MARGINBOT_NETWORK")

	// ── Indexer ──
	setStr(&cfg.Indexer.URL, "MARGINBOT_INDEXER_URL")
	setDuration(&cfg.Indexer.Timeout, "MARGINBOT_INDEXER_TIMEOUT")

	// ── Gateway ──
	setStr(&cfg.Gateway.URL, "MARGINBOT_GATEWAY_URL")
	setDuration(&cfg.Gateway.Timeout, "MARGINBOT_GATEWAY_TIMEOUT")
	setStr(&cfg.Gateway.RPCURL, "MARGINBOT_GATEWAY_RPC_URL")
	setDuration(&cfg.Gateway.FinalityPollInterval, "MARGINBOT_GATEWAY_FINALITY_POLL_INTERVAL")

	// ── Wallet ──
	setStr(&cfg.Wallet.PrivateKey, "MARGINBOT_WALLET_PRIVATE_KEY")
	setStr(&cfg.Wallet.EncryptedKeyPath, "MARGINBOT_WALLET_ENCRYPTED_KEY_PATH")
	setStr(&cfg.Wallet.KeyPassword, "MARGINBOT_WALLET_KEY_PASSWORD")
	setStr(&cfg.Wallet.Address, "MARGINBOT_WALLET_ADDRESS")

	// ── Risk ──
	setFloat64(&cfg.Risk.Liquidation, "MARGINBOT_RISK_LIQUIDATION")
	setFloat64(&cfg.Risk.Warning, "MARGINBOT_RISK_WARNING")
	setFloat64(&cfg.Risk.WithdrawMin, "MARGINBOT_RISK_WITHDRAW_MIN")
	setFloat64(&cfg.Risk.BorrowMin, "MARGINBOT_RISK_BORROW_MIN")

	// ── Poll ──
	setDuration(&cfg.Poll.PositionInterval, "MARGINBOT_POLL_POSITION_INTERVAL")
	setDuration(&cfg.Poll.LiquidationInterval, "MARGINBOT_POLL_LIQUIDATION_INTERVAL")
	setDuration(&cfg.Poll.PostActionDelay, "MARGINBOT_POLL_POST_ACTION_DELAY")
	setStr(&cfg.Poll.LiquidationPool, "MARGINBOT_POLL_LIQUIDATION_POOL")
	setStringSlice(&cfg.Poll.Watch, "MARGINBOT_POLL_WATCH")

	// ── Sizing ──
	setFloat64(&cfg.Sizing.BuyHaircut, "MARGINBOT_SIZING_BUY_HAIRCUT")

	// ── Supabase ──
	setStr(&cfg.Supabase.DSN, "MARGINBOT_SUPABASE_DSN")
	setStr(&cfg.Supabase.DSN, "MARGINBOT_SUPABASE_URL") // compatibility alias
	setStr(&cfg.Supabase.Host, "MARGINBOT_SUPABASE_HOST")
	setInt(&cfg.Supabase.Port, "MARGINBOT_SUPABASE_PORT")
	setStr(&cfg.Supabase.Database, "MARGINBOT_SUPABASE_DATABASE")
	setStr(&cfg.Supabase.User, "MARGINBOT_SUPABASE_USER")
	setStr(&cfg.Supabase.Password, "MARGINBOT_SUPABASE_PASSWORD")
	setStr(&cfg.Supabase.SSLMode, "MARGINBOT_SUPABASE_SSL_MODE")
	setInt(&cfg.Supabase.PoolMaxConns, "MARGINBOT_SUPABASE_POOL_MAX_CONNS")
	setInt(&cfg.Supabase.PoolMinConns, "MARGINBOT_SUPABASE_POOL_MIN_CONNS")
	setBool(&cfg.Supabase.RunMigrations, "MARGINBOT_SUPABASE_RUN_MIGRATIONS")

	// ── Redis ──
	setStr(&cfg.Redis.Addr, "MARGINBOT_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "MARGINBOT_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "MARGINBOT_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "MARGINBOT_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "MARGINBOT_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "MARGINBOT_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "MARGINBOT_REDIS_KEY_PREFIX")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "MARGINBOT_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "MARGINBOT_S3_REGION")
	setStr(&cfg.S3.Bucket, "MARGINBOT_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "MARGINBOT_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "MARGINBOT_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "MARGINBOT_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "MARGINBOT_S3_FORCE_PATH_STYLE")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "MARGINBOT_ARCHIVE_ENABLED")
	setInt(&cfg.Archive.RetentionDays, "MARGINBOT_ARCHIVE_RETENTION_DAYS")
	setDuration(&cfg.Archive.Interval, "MARGINBOT_ARCHIVE_INTERVAL")

	// ── Server ──
	setBool(&cfg.Server.Enabled, "MARGINBOT_SERVER_ENABLED")
	setStr(&cfg.Server.Host, "MARGINBOT_SERVER_HOST")
	setInt(&cfg.Server.Port, "MARGINBOT_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "MARGINBOT_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "MARGINBOT_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "MARGINBOT_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "MARGINBOT_SERVER_RATE_WINDOW")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "MARGINBOT_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "MARGINBOT_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "MARGINBOT_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "MARGINBOT_NOTIFY_EVENTS")

	// ── Top-level ──
	setStr(&cfg.Mode, "MARGINBOT_MODE")
	setStr(&cfg.LogLevel, "MARGINBOT_LOG_LEVEL")
}

// ---------------------------------------------------------------------------
// Typed env-var helpers. Each only mutates the target when the environment
// variable is present and non-empty.
// ---------------------------------------------------------------------------

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
