package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/titanous/json5"
)

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3000,
		},
		Evolution: EvolutionConfig{
			BaseURL:  "http://localhost:8080",
			Instance: "atenbot",
		},
		Gemini: GeminiConfig{
			Model:             "gemini-2.5-flash",
			RequestsPerMinute: 10,
			MaxTokens:         8000,
			Temperature:       0.7,
		},
		Queue: QueueConfig{
			SqlitePath: "~/.atenbot/atenbot.db",
		},
		Workers: WorkersConfig{
			Concurrency: 5,
		},
		Dedup: DedupConfig{
			TTLSeconds: 60,
		},
		Bot: BotConfig{
			AutoReplyDefault:  true,
			HistoryLimit:      10,
			AudioHistoryLimit: 5,
		},
	}
}

// Load reads config from a JSON5 file, then overlays env vars.
// A missing file is not an error: defaults + env apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.ApplyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// ApplyEnvOverrides overlays ATENBOT_* environment variables on top of
// the loaded file. Secrets are env-only and only ever land here.
func (c *Config) ApplyEnvOverrides() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setInt := func(dst *int, key string) {
		if v := os.Getenv(key); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setBool := func(dst *bool, key string) {
		if v := os.Getenv(key); v != "" {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}

	setString(&c.Server.Host, "ATENBOT_HOST")
	setInt(&c.Server.Port, "ATENBOT_PORT")
	setBool(&c.Server.WebhookSecretEnabled, "ATENBOT_WEBHOOK_SECURITY_ENABLED")
	setString(&c.Server.WebhookSecret, "ATENBOT_WEBHOOK_SECRET")

	setString(&c.Evolution.BaseURL, "ATENBOT_EVOLUTION_API_URL")
	setString(&c.Evolution.APIKey, "ATENBOT_EVOLUTION_API_KEY")
	setString(&c.Evolution.Instance, "ATENBOT_EVOLUTION_INSTANCE")

	setString(&c.Gemini.Model, "ATENBOT_GEMINI_MODEL")
	setString(&c.Gemini.APIKey, "ATENBOT_GEMINI_API_KEY")
	setString(&c.Gemini.APIKeyBackup, "ATENBOT_GEMINI_API_KEY_BACKUP")
	setInt(&c.Gemini.RequestsPerMinute, "ATENBOT_GEMINI_RPM")
	setInt(&c.Gemini.MaxTokens, "ATENBOT_GEMINI_MAX_TOKENS")

	setString(&c.Queue.SqlitePath, "ATENBOT_SQLITE_PATH")
	setInt(&c.Workers.Concurrency, "ATENBOT_WORKER_CONCURRENCY")
	setInt(&c.Dedup.TTLSeconds, "ATENBOT_DEDUP_TTL_SECONDS")

	setString(&c.Bot.DefaultPersona, "ATENBOT_DEFAULT_PERSONA")

	setString(&c.Database.PostgresDSN, "ATENBOT_POSTGRES_DSN")
	setString(&c.Database.Mode, "ATENBOT_DB_MODE")

	setBool(&c.Telemetry.Enabled, "ATENBOT_OTEL_ENABLED")
	setString(&c.Telemetry.OTLPEndpoint, "ATENBOT_OTLP_ENDPOINT")
}
