package app

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/deepresearch/internal/cache"
	"github.com/hyperifyio/deepresearch/internal/fetch"
	"github.com/hyperifyio/deepresearch/internal/lang"
	"github.com/hyperifyio/deepresearch/internal/llm"
	"github.com/hyperifyio/deepresearch/internal/pipeline"
	"github.com/hyperifyio/deepresearch/internal/report"
	"github.com/hyperifyio/deepresearch/internal/search"
	"github.com/hyperifyio/deepresearch/internal/state"
	"github.com/hyperifyio/deepresearch/internal/store"
)

// App wires the pipeline's collaborators for a CLI run.
type App struct {
	cfg      Config
	pipeline *pipeline.Pipeline
	sessions store.Store
}

// New builds an App from configuration. It fails fast on configuration
// errors so a run never starts half-wired.
func New(cfg Config) (*App, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("missing API key for provider %q", cfg.Provider)
	}
	if cfg.WorkModel == "" {
		return nil, fmt.Errorf("missing work model")
	}

	if cfg.CacheDir != "" {
		if cfg.CacheClear {
			_ = cache.ClearDir(cfg.CacheDir)
		}
		if cfg.CacheMaxAge > 0 {
			if n, _ := cache.PurgeByAge(cfg.CacheDir, cfg.CacheMaxAge); n > 0 {
				log.Info().Int("removed", n).Msg("purged stale cache entries")
			}
		}
	}

	var opts []llm.Option
	if cfg.BaseURL != "" {
		opts = append(opts, llm.WithBaseURL(cfg.BaseURL))
	}
	client := llm.New(llm.Provider(cfg.Provider), cfg.APIKey, opts...)

	var provider search.Provider
	switch {
	case cfg.ResultsFile != "":
		provider = &search.FileProvider{Path: cfg.ResultsFile}
	case cfg.SearxURL != "":
		provider = &search.SearxNG{BaseURL: cfg.SearxURL, APIKey: cfg.SearxKey, UserAgent: cfg.UserAgent}
	default:
		return nil, fmt.Errorf("no search backend configured (set searx url or results file)")
	}

	p := &pipeline.Pipeline{
		LLM:        client,
		WorkModel:  cfg.WorkModel,
		FinalModel: cfg.FinalModel,
		Search:     &search.Executor{Provider: provider},
		Fetcher:    &fetch.Browser{UserAgent: cfg.UserAgent},
	}
	if cfg.CacheDir != "" {
		p.Cache = &cache.LLMCache{Dir: cfg.CacheDir}
	}

	var sessions store.Store = store.NewMemStore()
	if cfg.StoreDir != "" {
		sessions = &store.FileStore{Dir: cfg.StoreDir}
	}

	return &App{cfg: cfg, pipeline: p, sessions: sessions}, nil
}

// Pipeline exposes the wired pipeline for callers that drive stages
// themselves (the HTTP server).
func (a *App) Pipeline() *pipeline.Pipeline { return a.pipeline }

// Sessions exposes the session store.
func (a *App) Sessions() store.Store { return a.sessions }

// Run executes the full pipeline for one research question without user
// interaction: clarification questions are generated and logged but
// answered with silence, matching a non-interactive CLI run.
func (a *App) Run(ctx context.Context, userQuery string) error {
	st := state.New()
	st.Language = lang.Normalize(a.cfg.Language)

	title, queries, err := a.pipeline.Overview(ctx, st, userQuery)
	if err != nil {
		return err
	}
	log.Info().Str("title", title).Int("queries", len(queries)).Msg("overview complete")
	a.save(st)

	urls, err := a.pipeline.SearchAndPick(ctx, st)
	if err != nil {
		return err
	}
	log.Info().Int("urls", len(urls)).Msg("sources selected")
	a.save(st)

	if len(urls) > 0 {
		clarification, err := a.pipeline.Clarify(ctx, st)
		if err != nil {
			log.Warn().Err(err).Msg("clarify failed; planning without follow-ups")
		} else {
			log.Info().Msg("clarification suggested (non-interactive run, not answered)")
			log.Debug().Str("clarification", clarification).Msg("clarify output")
		}
	}

	points, err := a.pipeline.Plan(ctx, st, nil, nil, a.cfg.AcademicMode)
	if err != nil {
		return err
	}
	log.Info().Int("points", len(points)).Msg("research plan ready")
	a.save(st)

	events, err := a.pipeline.DeepResearch(ctx, st)
	if err != nil {
		return err
	}
	var final string
	for ev := range events {
		switch ev.Type {
		case pipeline.EventStatus, pipeline.EventSources, pipeline.EventSynthesisStart:
			log.Info().Str("type", ev.Type).Msg(ev.Message)
		case pipeline.EventPointComplete:
			log.Info().Msg(ev.Message)
			a.save(st)
		case pipeline.EventDone:
			final, _ = ev.Data["final_document"].(string)
		case pipeline.EventError:
			return fmt.Errorf("deep research failed: %s", ev.Message)
		}
	}
	if final == "" {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fmt.Errorf("deep research ended without a final document")
	}
	a.save(st)

	if err := report.WriteMarkdown(final, a.cfg.OutputPath); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	log.Info().Str("out", a.cfg.OutputPath).Msg("wrote report")
	if a.cfg.PDFPath != "" {
		if err := report.WritePDF(final, a.cfg.PDFPath); err != nil {
			return fmt.Errorf("write pdf: %w", err)
		}
		log.Info().Str("out", a.cfg.PDFPath).Msg("wrote pdf")
	}
	return nil
}

func (a *App) save(st *state.ContextState) {
	if err := a.sessions.Save(st); err != nil {
		log.Warn().Err(err).Msg("session save failed")
	}
}
