package app

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestApplyEnvToConfig(t *testing.T) {
	t.Setenv("LLM_PROVIDER", "anthropic")
	t.Setenv("LLM_API_KEY", "env-key")
	t.Setenv("WORK_MODEL", "env-work")
	t.Setenv("SEARXNG_URL", "http://searx.env:8888")
	t.Setenv("CACHE_MAX_AGE", "24h")

	cfg := Config{WorkModel: "flag-work"}
	ApplyEnvToConfig(&cfg)

	if cfg.Provider != "anthropic" || cfg.APIKey != "env-key" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if cfg.WorkModel != "flag-work" {
		t.Fatalf("flag value overridden by env: %q", cfg.WorkModel)
	}
	if cfg.SearxURL != "http://searx.env:8888" {
		t.Fatalf("searx fallback env: %q", cfg.SearxURL)
	}
	if cfg.CacheMaxAge != 24*time.Hour {
		t.Fatalf("cache max age: %v", cfg.CacheMaxAge)
	}
	if cfg.TokenExpiryMinutes != DefaultTokenExpiryMinutes {
		t.Fatalf("token expiry default: %d", cfg.TokenExpiryMinutes)
	}
}

func TestApplyConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := `provider: openrouter
work_model: file-work
final_model: file-final
searx_url: http://searx.file:8888
academic_mode: true
cache_max_age: 12h
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg := Config{WorkModel: "flag-work"}
	if err := ApplyConfigFile(&cfg, path); err != nil {
		t.Fatalf("apply: %v", err)
	}
	if cfg.WorkModel != "flag-work" {
		t.Fatal("flag value overridden by file")
	}
	if cfg.Provider != "openrouter" || cfg.FinalModel != "file-final" {
		t.Fatalf("file not applied: %+v", cfg)
	}
	if !cfg.AcademicMode || cfg.CacheMaxAge != 12*time.Hour {
		t.Fatalf("file extras not applied: %+v", cfg)
	}
}

func TestApplyConfigFile_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	if err := os.WriteFile(path, []byte("provider: [unclosed"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ApplyConfigFile(&Config{}, path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestNew_RequiresKeyAndModel(t *testing.T) {
	if _, err := New(Config{WorkModel: "m"}); err == nil {
		t.Fatal("expected missing key error")
	}
	if _, err := New(Config{APIKey: "k"}); err == nil {
		t.Fatal("expected missing model error")
	}
	if _, err := New(Config{APIKey: "k", WorkModel: "m"}); err == nil {
		t.Fatal("expected missing search backend error")
	}
	if _, err := New(Config{APIKey: "k", WorkModel: "m", SearxURL: "http://searx:8888"}); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}
