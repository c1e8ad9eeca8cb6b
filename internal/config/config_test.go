package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if cfg.Executes() {
		t.Error("default mode should not execute")
	}
}

func TestValidateCollectsProblems(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"network", func(c *Config) { c.Network = "devnet" }, "unknown network"},
		{"mode", func(c *Config) { c.Mode = "scrape" }, "unknown mode"},
		{"threshold order", func(c *Config) { c.Risk.Warning = 1.05 }, "risk:"},
		{"wallet for trade", func(c *Config) { c.Mode = "trade" }, "wallet: either private_key"},
		{"key password", func(c *Config) {
			c.Mode = "full"
			c.Wallet.EncryptedKeyPath = "/tmp/key.json"
		}, "key_password is required"},
		{"haircut", func(c *Config) { c.Sizing.BuyHaircut = 1.5 }, "buy_haircut"},
		{"margin assets", func(c *Config) { c.Network = "testnet"; c.Margin.Assets = nil }, "no assets configured"},
		{"archive bucket", func(c *Config) { c.Archive.Enabled = true; c.S3.Bucket = "" }, "s3: bucket"},
		{"rate window", func(c *Config) { c.Server.RateWindow = duration{} }, "rate_window"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, domain.ErrInvalidConfig) {
				t.Errorf("error does not wrap ErrInvalidConfig: %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadMergesFileAndEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marginbot.toml")
	body := `
network = "testnet"
mode = "full"

[wallet]
private_key = "abc"

[poll]
position_interval = "5s"

[risk]
warning = 1.18
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("MARGINBOT_SERVER_PORT", "9100")
	t.Setenv("MARGINBOT_SERVER_CORS_ORIGINS", "https://a.example, ,https://b.example")
	t.Setenv("MARGINBOT_POLL_POST_ACTION_DELAY", "1500ms")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.NetworkID() != domain.NetworkTestnet || cfg.Mode != "full" {
		t.Errorf("network/mode = %s/%s", cfg.Network, cfg.Mode)
	}
	if cfg.Poll.PositionInterval.Duration != 5*time.Second {
		t.Errorf("position interval = %v", cfg.Poll.PositionInterval)
	}
	if cfg.Poll.LiquidationInterval.Duration != 30*time.Second {
		t.Errorf("liquidation interval default lost: %v", cfg.Poll.LiquidationInterval)
	}
	if cfg.Poll.PostActionDelay.Duration != 1500*time.Millisecond {
		t.Errorf("post action delay = %v", cfg.Poll.PostActionDelay)
	}
	if cfg.Risk.Warning != 1.18 || cfg.Risk.Liquidation != 1.0 {
		t.Errorf("risk = %+v", cfg.Risk)
	}
	if cfg.Server.Port != 9100 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if got := strings.Join(cfg.Server.CORSOrigins, "|"); got != "https://a.example|https://b.example" {
		t.Errorf("cors = %s", got)
	}
	if cfg.IndexerURL() != "https://deepbook-indexer.testnet.mystenlabs.com" {
		t.Errorf("indexer url = %s", cfg.IndexerURL())
	}
	if cfg.RedisPrefix() != "marginbot:testnet" {
		t.Errorf("redis prefix = %s", cfg.RedisPrefix())
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config invalid: %v", err)
	}
}

func TestLoadWithoutFile(t *testing.T) {
	t.Setenv("MARGINBOT_NETWORK", "testnet")
	cfg, err := Load("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Network != "testnet" {
		t.Errorf("network = %s", cfg.Network)
	}
	if got := cfg.Margin.AssetsFor(cfg.NetworkID()); len(got) != 3 {
		t.Errorf("testnet margin assets = %v", got)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Wallet.PrivateKey = "seed"
	cfg.Server.APIKey = "key"
	cfg.Supabase.Password = "pw"

	out := RedactedConfig(&cfg)
	for name, v := range map[string]string{
		"private_key": out.Wallet.PrivateKey,
		"api_key":     out.Server.APIKey,
		"password":    out.Supabase.Password,
	} {
		if v != redacted {
			t.Errorf("%s = %q", name, v)
		}
	}
	if out.Redis.Password != "" {
		t.Error("empty secret should stay empty")
	}
	if cfg.Wallet.PrivateKey != "seed" {
		t.Error("original mutated")
	}
	out.Margin.Assets["mainnet"][0] = "X"
	if cfg.Margin.Assets["mainnet"][0] != "SUI" {
		t.Error("redacted copy shares margin assets")
	}
}
