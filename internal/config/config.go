package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Config is the root configuration for the AtenBot reply service.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Evolution EvolutionConfig `json:"evolution"`
	Gemini    GeminiConfig    `json:"gemini"`
	Queue     QueueConfig     `json:"queue"`
	Workers   WorkersConfig   `json:"workers"`
	Dedup     DedupConfig     `json:"dedup"`
	Bot       BotConfig       `json:"bot"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
}

// ServerConfig configures the inbound webhook HTTP listener.
type ServerConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`

	// WebhookSecretEnabled turns on the shared-secret check on the
	// apikey / x-api-key header. The secret itself is env-only.
	WebhookSecretEnabled bool   `json:"webhook_secret_enabled,omitempty"`
	WebhookSecret        string `json:"-"` // from env ATENBOT_WEBHOOK_SECRET only

	// RateLimitRPM limits webhook calls per remote key per minute.
	// 0 = default (60), negative = disabled.
	RateLimitRPM int `json:"rate_limit_rpm,omitempty"`
}

// EvolutionConfig configures the outbound Evolution API client and the
// optional websocket event consumer.
type EvolutionConfig struct {
	BaseURL  string `json:"base_url"`
	APIKey   string `json:"-"` // from env ATENBOT_EVOLUTION_API_KEY only
	Instance string `json:"instance"`

	// Websocket switches ingestion to Evolution's websocket event mode.
	// The webhook endpoint stays up either way.
	Websocket bool `json:"websocket,omitempty"`
}

// GeminiConfig configures the generation provider.
// API keys come from env only (ATENBOT_GEMINI_API_KEY and
// ATENBOT_GEMINI_API_KEY_BACKUP), never from the config file.
type GeminiConfig struct {
	Model             string  `json:"model"`
	APIKey            string  `json:"-"`
	APIKeyBackup      string  `json:"-"`
	RequestsPerMinute int     `json:"requests_per_minute"`
	MaxTokens         int     `json:"max_tokens"`
	Temperature       float64 `json:"temperature"`
}

// Keys returns the configured credential list, primary first.
func (g GeminiConfig) Keys() []string {
	keys := []string{g.APIKey}
	if g.APIKeyBackup != "" {
		keys = append(keys, g.APIKeyBackup)
	}
	return keys
}

// QueueConfig configures the durable job queue backend.
// Standalone mode stores jobs in sqlite; managed mode uses Postgres
// (database.postgres_dsn).
type QueueConfig struct {
	SqlitePath string `json:"sqlite_path,omitempty"` // default ~/.atenbot/atenbot.db
}

// WorkersConfig configures the consumer pool.
type WorkersConfig struct {
	Concurrency int `json:"concurrency"` // parallel job consumers (default 5)
}

// DedupConfig configures the webhook deduplication cache.
type DedupConfig struct {
	TTLSeconds int `json:"ttl_seconds"` // retention window for seen message IDs
}

// TTL returns the dedup retention window as a duration.
func (d DedupConfig) TTL() time.Duration {
	return time.Duration(d.TTLSeconds) * time.Second
}

// BotConfig holds reply-behaviour defaults. Per-instance settings in the
// store override these.
type BotConfig struct {
	DefaultPersona    string `json:"default_persona,omitempty"`
	AutoReplyDefault  bool   `json:"auto_reply_default"`
	HistoryLimit      int    `json:"history_limit"`       // turns of context for the text pipeline
	AudioHistoryLimit int    `json:"audio_history_limit"` // turns of context for direct audio calls
}

// DatabaseConfig configures Postgres for managed mode.
// PostgresDSN is NEVER read from the config file (secret) — only from
// env ATENBOT_POSTGRES_DSN.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
	Mode        string `json:"mode,omitempty"` // "standalone" (default) or "managed"
}

// IsManagedMode returns true when the service runs against Postgres.
func (c *Config) IsManagedMode() bool {
	return c.Database.Mode == "managed" && c.Database.PostgresDSN != ""
}

// TelemetryConfig configures optional OTLP trace export.
type TelemetryConfig struct {
	Enabled      bool   `json:"enabled,omitempty"`
	OTLPEndpoint string `json:"otlp_endpoint,omitempty"` // host:port for OTLP/HTTP
	ServiceName  string `json:"service_name,omitempty"`
}

// Addr returns the listen address for the webhook server.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// ExpandHome expands a leading ~/ to the user's home directory.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// Validate checks the parts of the config that serve cannot run without.
func (c *Config) Validate() error {
	if c.Gemini.APIKey == "" {
		return fmt.Errorf("gemini api key is required (set ATENBOT_GEMINI_API_KEY)")
	}
	if c.Evolution.BaseURL == "" {
		return fmt.Errorf("evolution base_url is required")
	}
	if c.Gemini.RequestsPerMinute <= 0 {
		return fmt.Errorf("gemini requests_per_minute must be positive")
	}
	if c.Workers.Concurrency <= 0 {
		return fmt.Errorf("workers concurrency must be positive")
	}
	return nil
}
