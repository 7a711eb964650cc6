package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/deepresearch/internal/app"
)

func main() {
	// Logging setup
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load .env before the env overlay reads it; missing file is fine.
	_ = godotenv.Load()

	var (
		cfg        app.Config
		configPath string
		query      string
	)
	flag.StringVar(&query, "query", "", "Research question (or pass as the first positional argument)")
	flag.StringVar(&cfg.Provider, "llm.provider", "", "LLM provider: openrouter, openai, anthropic, google, huggingface")
	flag.StringVar(&cfg.APIKey, "llm.key", "", "API key for the provider")
	flag.StringVar(&cfg.BaseURL, "llm.base", "", "Optional base URL override")
	flag.StringVar(&cfg.WorkModel, "llm.work", "", "Work model for per-step calls")
	flag.StringVar(&cfg.FinalModel, "llm.final", "", "Final model for synthesis (defaults to work model)")
	flag.StringVar(&cfg.SearxURL, "searx.url", "", "SearxNG base URL")
	flag.StringVar(&cfg.SearxKey, "searx.key", "", "SearxNG API key (optional)")
	flag.StringVar(&cfg.ResultsFile, "search.file", "", "Local JSON search results for offline runs")
	flag.StringVar(&cfg.OutputPath, "output", "report.md", "Path to write the final Markdown report")
	flag.StringVar(&cfg.PDFPath, "pdf", "", "Optional path to also write a PDF rendition")
	flag.StringVar(&cfg.StoreDir, "session.dir", "", "Directory for session persistence (optional)")
	flag.StringVar(&cfg.Language, "lang", "", "Language hint, e.g. 'en' or 'de'")
	flag.BoolVar(&cfg.AcademicMode, "academic", false, "Use academic-mode prompts and report structure")
	flag.StringVar(&cfg.CacheDir, "cache.dir", "", "LLM response cache directory (optional)")
	flag.DurationVar(&cfg.CacheMaxAge, "cache.maxAge", 0, "Purge cache entries older than this before the run")
	flag.BoolVar(&cfg.CacheClear, "cache.clear", false, "Clear the cache directory before the run")
	flag.BoolVar(&cfg.Verbose, "v", false, "Verbose logging")
	flag.StringVar(&configPath, "config", "", "Optional YAML config file")
	flag.Parse()

	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	if query == "" && flag.NArg() > 0 {
		query = strings.Join(flag.Args(), " ")
	}
	if strings.TrimSpace(query) == "" {
		fmt.Fprintln(os.Stderr, "usage: deepresearch [flags] <research question>")
		flag.PrintDefaults()
		os.Exit(2)
	}

	if configPath != "" {
		if err := app.ApplyConfigFile(&cfg, configPath); err != nil {
			log.Fatal().Err(err).Msg("config file")
		}
	}
	app.ApplyEnvToConfig(&cfg)
	cfg.UserAgent = "deepresearch/1.0 (+https://github.com/hyperifyio/deepresearch)"

	a, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Run(ctx, query); err != nil {
		log.Error().Err(err).Msg("research run failed")
		os.Exit(1)
	}
}
