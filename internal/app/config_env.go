package app

import (
	"os"
	"strconv"
	"time"
)

// ApplyEnvToConfig populates unset fields of cfg from environment
// variables. Explicit cfg values take precedence over env.
func ApplyEnvToConfig(cfg *Config) {
	if cfg == nil {
		return
	}
	if cfg.Provider == "" {
		cfg.Provider = os.Getenv("LLM_PROVIDER")
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("LLM_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = os.Getenv("LLM_BASE_URL")
	}
	if cfg.WorkModel == "" {
		cfg.WorkModel = os.Getenv("WORK_MODEL")
	}
	if cfg.FinalModel == "" {
		cfg.FinalModel = os.Getenv("FINAL_MODEL")
	}

	if cfg.SearxURL == "" {
		// Support both SEARX_URL and SEARXNG_URL; prefer SEARX_URL if set.
		v := os.Getenv("SEARX_URL")
		if v == "" {
			v = os.Getenv("SEARXNG_URL")
		}
		cfg.SearxURL = v
	}
	if cfg.SearxKey == "" {
		v := os.Getenv("SEARX_KEY")
		if v == "" {
			v = os.Getenv("SEARXNG_KEY")
		}
		cfg.SearxKey = v
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = os.Getenv("CACHE_DIR")
	}
	if cfg.StoreDir == "" {
		cfg.StoreDir = os.Getenv("SESSION_DIR")
	}
	if cfg.Language == "" {
		cfg.Language = os.Getenv("LANGUAGE")
	}
	if cfg.CacheMaxAge == 0 {
		if v := os.Getenv("CACHE_MAX_AGE"); v != "" {
			if d, err := time.ParseDuration(v); err == nil {
				cfg.CacheMaxAge = d
			}
		}
	}
	if cfg.TokenExpiryMinutes == 0 {
		if v := os.Getenv("TOKEN_EXPIRY_MINUTES"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				cfg.TokenExpiryMinutes = n
			}
		}
	}
	if cfg.TokenExpiryMinutes == 0 {
		cfg.TokenExpiryMinutes = DefaultTokenExpiryMinutes
	}
}
