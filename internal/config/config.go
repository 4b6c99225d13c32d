package config

import (
	"time"
)

// Config is the root configuration for the FireSend engine.
type Config struct {
	Server    ServerConfig    `json:"server"`
	Webhook   WebhookConfig   `json:"webhook"`
	Database  DatabaseConfig  `json:"database,omitempty"`
	Pipeline  PipelineConfig  `json:"pipeline"`
	Providers ProvidersConfig `json:"providers"`
	Instagram InstagramConfig `json:"instagram"`
	Scheduler SchedulerConfig `json:"scheduler,omitempty"`
	Telemetry TelemetryConfig `json:"telemetry,omitempty"`
	LogLevel  string          `json:"log_level,omitempty"` // debug, info, warn, error
}

// ServerConfig configures the HTTP listener shared by the webhook endpoint,
// the dashboard API and the events feed.
type ServerConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	APIToken string `json:"-"` // bearer token for dashboard API; env FIRESEND_API_TOKEN only
}

// WebhookConfig holds the Meta webhook secrets. Both are secrets and come
// from the environment only, never from the config file.
type WebhookConfig struct {
	VerifyToken string `json:"-"` // hub.verify_token for GET subscription checks
	AppSecret   string `json:"-"` // HMAC key for X-Hub-Signature-256
}

// DatabaseConfig configures Postgres. The DSN is a secret and is only
// accepted via the FIRESEND_POSTGRES_DSN env variable.
type DatabaseConfig struct {
	PostgresDSN string `json:"-"`
}

// PipelineConfig tunes the responder.
type PipelineConfig struct {
	DebounceMS   int     `json:"debounce_ms"`   // burst coalescing window
	HistoryLimit int     `json:"history_limit"` // chat turns loaded for generation
	RAGTopK      int     `json:"rag_top_k"`
	RAGFloor     float64 `json:"rag_floor"` // minimum cosine score kept
}

// Debounce returns the debounce window as a duration.
func (p PipelineConfig) Debounce() time.Duration {
	return time.Duration(p.DebounceMS) * time.Millisecond
}

// ProvidersConfig configures the LLM backend. The platform key is the
// fallback for tenants without their own.
type ProvidersConfig struct {
	Gemini GeminiConfig `json:"gemini"`
}

// GeminiConfig configures the Gemini API client.
type GeminiConfig struct {
	APIKey         string `json:"-"` // env FIRESEND_GEMINI_API_KEY only
	Model          string `json:"model,omitempty"`
	EmbeddingModel string `json:"embedding_model,omitempty"`
}

// InstagramConfig configures the Graph API client and the OAuth app
// credentials used by the token refresh job.
type InstagramConfig struct {
	GraphBaseURL string  `json:"graph_base_url,omitempty"`
	AppID        string  `json:"-"` // env FIRESEND_META_APP_ID only
	AppSecret    string  `json:"-"` // env FIRESEND_META_APP_SECRET only
	SendRPS      float64 `json:"send_rps,omitempty"` // per-token outbound rate
}

// SchedulerConfig holds cron expressions for background jobs.
type SchedulerConfig struct {
	TokenRefresh string `json:"token_refresh,omitempty"` // default "0 3 * * 1"
	StatsRollup  string `json:"stats_rollup,omitempty"`  // default "15 0 * * *"
	Disabled     bool   `json:"disabled,omitempty"`
}

// TelemetryConfig configures the optional OTLP trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `json:"enabled,omitempty"`
	Endpoint    string `json:"endpoint,omitempty"`
	Protocol    string `json:"protocol,omitempty"` // "http" (default) or "grpc"
	ServiceName string `json:"service_name,omitempty"`
	Insecure    bool   `json:"insecure,omitempty"`
}

const secretMask = "***"

// MaskedCopy returns a copy with secret fields masked, for config echo
// surfaces (logs, debug endpoints).
func (c *Config) MaskedCopy() Config {
	cp := *c
	maskNonEmpty(&cp.Server.APIToken)
	maskNonEmpty(&cp.Webhook.VerifyToken)
	maskNonEmpty(&cp.Webhook.AppSecret)
	maskNonEmpty(&cp.Database.PostgresDSN)
	maskNonEmpty(&cp.Providers.Gemini.APIKey)
	maskNonEmpty(&cp.Instagram.AppID)
	maskNonEmpty(&cp.Instagram.AppSecret)
	return cp
}

func maskNonEmpty(s *string) {
	if *s != "" {
		*s = secretMask
	}
}
