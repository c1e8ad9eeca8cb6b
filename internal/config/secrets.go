package config

// RedactedConfig returns a shallow copy of cfg with sensitive fields replaced
// by the redaction placeholder "***". Use this when logging or printing the
// active configuration so secrets are never accidentally exposed.
func RedactedConfig(cfg *Config) Config {
	out := *cfg // shallow copy of the top-level struct

	// Wallet
	redact(&out.Wallet.PrivateKey)
	redact(&out.Wallet.KeyPassword)

	// Supabase
	redact(&out.Supabase.DSN)
	redact(&out.Supabase.Password)

	// Redis
	redact(&out.Redis.Password)

	// S3
	redact(&out.S3.AccessKey)
	redact(&out.S3.SecretKey)

	// Server
	redact(&out.Server.APIKey)

	// Notify
	redact(&out.Notify.TelegramToken)
	redact(&out.Notify.DiscordWebhookURL)

	// Copy slices so callers cannot mutate the original through the redacted
	// copy.
	if cfg.Notify.Events != nil {
		out.Notify.Events = append([]string(nil), cfg.Notify.Events...)
	}
	if cfg.Server.CORSOrigins != nil {
		out.Server.CORSOrigins = append([]string(nil), cfg.Server.CORSOrigins...)
	}

	if cfg.Poll.Watch != nil {
		out.Poll.Watch = append([]string(nil), cfg.Poll.Watch...)
	}

	// Copy maps so mutations to the redacted copy do not affect the original.
	if cfg.Margin.Assets != nil {
		out.Margin.Assets = make(map[string][]string, len(cfg.Margin.Assets))
		for k, v := range cfg.Margin.Assets {
			out.Margin.Assets[k] = append([]string(nil), v...)
		}
	}
	if cfg.Margin.DeepCoinType != nil {
		out.Margin.DeepCoinType = make(map[string]string, len(cfg.Margin.DeepCoinType))
		for k, v := range cfg.Margin.DeepCoinType {
			out.Margin.DeepCoinType[k] = v
		}
	}

	return out
}

const redacted = "***"

// redact replaces a non-empty string with the redacted placeholder.
func redact(s *string) {
	if *s != "" {
		*s = redacted
	}
}
