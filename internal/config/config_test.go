package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Pipeline.DebounceMS != 3000 {
		t.Errorf("debounce = %d", cfg.Pipeline.DebounceMS)
	}
	if cfg.Providers.Gemini.Model != "gemini-1.5-flash" {
		t.Errorf("model = %q", cfg.Providers.Gemini.Model)
	}
	if cfg.Instagram.GraphBaseURL != "https://graph.facebook.com/v21.0" {
		t.Errorf("graph base = %q", cfg.Instagram.GraphBaseURL)
	}
}

func TestLoadFileWithComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{
		// listener settings
		server: { host: "127.0.0.1", port: 9090 },
		pipeline: { debounce_ms: 1500, history_limit: 10, rag_top_k: 3, rag_floor: 0.5 },
	}`
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Host != "127.0.0.1" || cfg.Server.Port != 9090 {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Pipeline.DebounceMS != 1500 {
		t.Errorf("debounce = %d", cfg.Pipeline.DebounceMS)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FIRESEND_PORT", "7070")
	t.Setenv("FIRESEND_APP_SECRET", "env-secret")
	t.Setenv("FIRESEND_POSTGRES_DSN", "postgres://env")
	t.Setenv("FIRESEND_DEBOUNCE_MS", "500")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Webhook.AppSecret != "env-secret" {
		t.Errorf("app secret not overlaid")
	}
	if cfg.Database.PostgresDSN != "postgres://env" {
		t.Errorf("dsn not overlaid")
	}
	if cfg.Pipeline.DebounceMS != 500 {
		t.Errorf("debounce = %d", cfg.Pipeline.DebounceMS)
	}
}

func TestMaskedCopy(t *testing.T) {
	cfg := Default()
	cfg.Webhook.AppSecret = "hunter2"
	cfg.Providers.Gemini.APIKey = "AIza-something"
	cfg.Database.PostgresDSN = ""

	masked := cfg.MaskedCopy()
	if masked.Webhook.AppSecret != "***" {
		t.Errorf("app secret = %q", masked.Webhook.AppSecret)
	}
	if masked.Providers.Gemini.APIKey != "***" {
		t.Errorf("api key = %q", masked.Providers.Gemini.APIKey)
	}
	if masked.Database.PostgresDSN != "" {
		t.Errorf("empty secret should stay empty, got %q", masked.Database.PostgresDSN)
	}
	// Original untouched.
	if cfg.Webhook.AppSecret != "hunter2" {
		t.Errorf("original mutated")
	}
}
