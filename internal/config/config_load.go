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
			Port: 8080,
		},
		Pipeline: PipelineConfig{
			DebounceMS:   3000,
			HistoryLimit: 20,
			RAGTopK:      3,
			RAGFloor:     0.5,
		},
		Providers: ProvidersConfig{
			Gemini: GeminiConfig{
				Model:          "gemini-1.5-flash",
				EmbeddingModel: "text-embedding-004",
			},
		},
		Instagram: InstagramConfig{
			GraphBaseURL: "https://graph.facebook.com/v21.0",
			SendRPS:      2,
		},
		Scheduler: SchedulerConfig{
			TokenRefresh: "0 3 * * 1",
			StatsRollup:  "15 0 * * *",
		},
		Telemetry: TelemetryConfig{
			Protocol:    "http",
			ServiceName: "firesend-engine",
		},
		LogLevel: "info",
	}
}

// Load reads config from a JSON5 file, then overlays env vars. A missing
// file is not an error: env-only deployments are the common case.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config. Env vars take
// precedence over file values; secrets are env-only.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	envStr("FIRESEND_HOST", &c.Server.Host)
	if v := os.Getenv("FIRESEND_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Server.Port = port
		}
	}
	envStr("FIRESEND_API_TOKEN", &c.Server.APIToken)

	envStr("FIRESEND_VERIFY_TOKEN", &c.Webhook.VerifyToken)
	envStr("FIRESEND_APP_SECRET", &c.Webhook.AppSecret)

	envStr("FIRESEND_POSTGRES_DSN", &c.Database.PostgresDSN)

	envStr("FIRESEND_GEMINI_API_KEY", &c.Providers.Gemini.APIKey)
	envStr("FIRESEND_GEMINI_MODEL", &c.Providers.Gemini.Model)

	envStr("FIRESEND_META_APP_ID", &c.Instagram.AppID)
	envStr("FIRESEND_META_APP_SECRET", &c.Instagram.AppSecret)
	envStr("FIRESEND_GRAPH_BASE_URL", &c.Instagram.GraphBaseURL)

	if v := os.Getenv("FIRESEND_DEBOUNCE_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms >= 0 {
			c.Pipeline.DebounceMS = ms
		}
	}

	envStr("FIRESEND_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("FIRESEND_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("FIRESEND_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("FIRESEND_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("FIRESEND_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	envStr("FIRESEND_LOG_LEVEL", &c.LogLevel)
}
