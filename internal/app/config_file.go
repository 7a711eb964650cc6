package app

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the YAML shape of an on-disk config file. Only fields the
// user set are applied; everything else keeps its current value.
type fileConfig struct {
	Provider   *string `yaml:"provider"`
	APIKey     *string `yaml:"api_key"`
	BaseURL    *string `yaml:"base_url"`
	WorkModel  *string `yaml:"work_model"`
	FinalModel *string `yaml:"final_model"`

	SearxURL *string `yaml:"searx_url"`
	SearxKey *string `yaml:"searx_key"`

	Output *string `yaml:"output"`
	PDF    *string `yaml:"pdf"`

	StoreDir *string `yaml:"session_dir"`
	CacheDir *string `yaml:"cache_dir"`
	CacheAge *string `yaml:"cache_max_age"`

	Language *string `yaml:"language"`
	Academic *bool   `yaml:"academic_mode"`
}

// ApplyConfigFile loads a YAML config file and overlays it onto cfg.
// Values already set on cfg (flags) win over the file.
func ApplyConfigFile(cfg *Config, path string) error {
	if cfg == nil || path == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	setIfEmpty(&cfg.Provider, fc.Provider)
	setIfEmpty(&cfg.APIKey, fc.APIKey)
	setIfEmpty(&cfg.BaseURL, fc.BaseURL)
	setIfEmpty(&cfg.WorkModel, fc.WorkModel)
	setIfEmpty(&cfg.FinalModel, fc.FinalModel)
	setIfEmpty(&cfg.SearxURL, fc.SearxURL)
	setIfEmpty(&cfg.SearxKey, fc.SearxKey)
	setIfEmpty(&cfg.OutputPath, fc.Output)
	setIfEmpty(&cfg.PDFPath, fc.PDF)
	setIfEmpty(&cfg.StoreDir, fc.StoreDir)
	setIfEmpty(&cfg.CacheDir, fc.CacheDir)
	setIfEmpty(&cfg.Language, fc.Language)
	if fc.Academic != nil && !cfg.AcademicMode {
		cfg.AcademicMode = *fc.Academic
	}
	if fc.CacheAge != nil && cfg.CacheMaxAge == 0 {
		if d, err := time.ParseDuration(*fc.CacheAge); err == nil {
			cfg.CacheMaxAge = d
		}
	}
	return nil
}

func setIfEmpty(dst *string, src *string) {
	if src != nil && *dst == "" {
		*dst = *src
	}
}
