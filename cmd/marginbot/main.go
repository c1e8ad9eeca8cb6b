// Command marginbot is the entry point for the margin risk engine. It loads
// configuration, validates it, wires dependencies, sets up signal handling, and
// starts the application in the configured mode.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alanyoungcy/marginbot/internal/app"
	"github.com/alanyoungcy/marginbot/internal/config"
	"github.com/alanyoungcy/marginbot/internal/crypto"
)

func main() {
	configPath := flag.String("config", "marginbot.toml", "path to configuration file (empty for env only)")
	encryptOut := flag.String("encrypt-key", "", "write MARGINBOT_WALLET_PRIVATE_KEY encrypted with MARGINBOT_WALLET_KEY_PASSWORD to this path and exit")
	flag.Parse()

	if *encryptOut != "" {
		if err := encryptKey(*encryptOut); err != nil {
			fmt.Fprintf(os.Stderr, "encrypt-key: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// Setup structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Error("failed to load config",
			slog.String("path", *configPath),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}

	// Set log level from config.
	var level slog.Level
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("marginbot starting",
		slog.String("mode", cfg.Mode),
		slog.String("network", cfg.Network),
		slog.String("config", *configPath),
	)
	logger.Debug("active configuration", slog.Any("config", config.RedactedConfig(cfg)))

	application := app.New(cfg, logger)
	defer application.Close()

	// Setup signal handling for graceful shutdown.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("application exited with error",
			slog.String("error", err.Error()),
		)
		application.Close()
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}

	logger.Info("marginbot stopped")
}

// encryptKey seals the seed from the environment into a key file usable as
// wallet.encrypted_key_path.
func encryptKey(path string) error {
	seed := os.Getenv("MARGINBOT_WALLET_PRIVATE_KEY")
	password := os.Getenv("MARGINBOT_WALLET_KEY_PASSWORD")
	if seed == "" {
		return errors.New("MARGINBOT_WALLET_PRIVATE_KEY is not set")
	}
	data, err := crypto.EncryptKey(seed, password)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	signer, err := crypto.NewSigner(seed)
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s for address %s\n", path, signer.Address())
	return nil
}
