// Command researchd exposes the research pipeline over HTTP. Stages 1-4
// are plain JSON calls; stage 5 streams newline-delimited JSON events.
// Callers arrive pre-authenticated: the reverse proxy in front of this
// service sets X-Principal, and provider keys are resolved through a
// key-lookup hook.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/deepresearch/internal/app"
	"github.com/hyperifyio/deepresearch/internal/lang"
	"github.com/hyperifyio/deepresearch/internal/llm"
	"github.com/hyperifyio/deepresearch/internal/pipeline"
	"github.com/hyperifyio/deepresearch/internal/state"
	"github.com/hyperifyio/deepresearch/internal/store"
)

type server struct {
	app *app.App
	cfg app.Config
	// keyFor resolves a provider key for a principal. The default is the
	// process-wide key; a multi-tenant deployment swaps this hook.
	keyFor func(principal, provider string) string
}

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	_ = godotenv.Load()

	var (
		cfg  app.Config
		addr string
	)
	flag.StringVar(&addr, "addr", ":8080", "Listen address")
	flag.StringVar(&cfg.Provider, "llm.provider", "", "LLM provider")
	flag.StringVar(&cfg.APIKey, "llm.key", "", "Default provider API key")
	flag.StringVar(&cfg.WorkModel, "llm.work", "", "Work model")
	flag.StringVar(&cfg.FinalModel, "llm.final", "", "Final model")
	flag.StringVar(&cfg.SearxURL, "searx.url", "", "SearxNG base URL")
	flag.StringVar(&cfg.SearxKey, "searx.key", "", "SearxNG API key")
	flag.StringVar(&cfg.StoreDir, "session.dir", ".deepresearch-sessions", "Session store directory")
	flag.StringVar(&cfg.CacheDir, "cache.dir", "", "LLM cache directory")
	flag.BoolVar(&cfg.Verbose, "v", false, "Verbose logging")
	flag.Parse()

	if cfg.Verbose {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
		gin.SetMode(gin.ReleaseMode)
	}
	app.ApplyEnvToConfig(&cfg)
	cfg.UserAgent = "deepresearch/1.0 (+https://github.com/hyperifyio/deepresearch)"

	a, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("configuration")
	}
	s := &server{
		app: a,
		cfg: cfg,
		keyFor: func(string, string) string {
			return cfg.APIKey
		},
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api")
	api.POST("/research/overview", s.handleOverview)
	api.POST("/research/pick", s.handlePick)
	api.POST("/research/clarify", s.handleClarify)
	api.POST("/research/plan", s.handlePlan)
	api.POST("/research/deep", s.handleDeep)
	api.GET("/sessions", s.handleList)
	api.GET("/sessions/:id", s.handleGet)
	api.DELETE("/sessions/:id", s.handleDelete)

	log.Info().Str("addr", addr).Msg("researchd listening")
	if err := r.Run(addr); err != nil {
		log.Fatal().Err(err).Msg("server")
	}
}

// pipelineFor threads a per-request model client so different principals
// can use different providers without touching shared configuration.
func (s *server) pipelineFor(c *gin.Context) *pipeline.Pipeline {
	p := *s.app.Pipeline()
	providerName := c.GetHeader("X-Provider")
	if providerName == "" {
		providerName = s.cfg.Provider
	}
	key := s.keyFor(c.GetHeader("X-Principal"), providerName)
	p.LLM = llm.New(llm.Provider(providerName), key)
	return &p
}

func (s *server) loadSession(c *gin.Context, id string) *state.ContextState {
	st, err := s.app.Sessions().Load(id)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return nil
	}
	return st
}

func (s *server) saveSession(c *gin.Context, st *state.ContextState) bool {
	if err := s.app.Sessions().Save(st); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return false
	}
	return true
}

func stageStatus(err error) int {
	var se *pipeline.StageError
	if errors.As(err, &se) {
		switch se.Kind {
		case pipeline.KindState, pipeline.KindValidation:
			return http.StatusBadRequest
		case pipeline.KindConfiguration:
			return http.StatusServiceUnavailable
		default:
			return http.StatusBadGateway
		}
	}
	return http.StatusInternalServerError
}

func (s *server) handleOverview(c *gin.Context) {
	var req struct {
		Query        string `json:"query"`
		Language     string `json:"language"`
		AcademicMode bool   `json:"academic_mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st := state.New()
	st.Language = lang.Normalize(req.Language)
	st.AcademicMode = req.AcademicMode

	title, queries, err := s.pipelineFor(c).Overview(c.Request.Context(), st, req.Query)
	if err != nil {
		c.JSON(stageStatus(err), gin.H{"error": err.Error()})
		return
	}
	if !s.saveSession(c, st) {
		return
	}
	if fs, ok := s.app.Sessions().(*store.FileStore); ok {
		_ = fs.SetPrincipal(st.SessionID, c.GetHeader("X-Principal"))
	}
	c.JSON(http.StatusOK, gin.H{"session_id": st.SessionID, "title": title, "queries": queries})
}

func (s *server) handlePick(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st := s.loadSession(c, req.SessionID)
	if st == nil {
		return
	}
	urls, err := s.pipelineFor(c).SearchAndPick(c.Request.Context(), st)
	if err != nil {
		c.JSON(stageStatus(err), gin.H{"error": err.Error()})
		return
	}
	if !s.saveSession(c, st) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": st.SessionID, "urls": urls})
}

func (s *server) handleClarify(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st := s.loadSession(c, req.SessionID)
	if st == nil {
		return
	}
	text, err := s.pipelineFor(c).Clarify(c.Request.Context(), st)
	if err != nil {
		c.JSON(stageStatus(err), gin.H{"error": err.Error()})
		return
	}
	// Clarify is a read-only suggestion; nothing to save.
	c.JSON(http.StatusOK, gin.H{"session_id": st.SessionID, "clarification": text})
}

func (s *server) handlePlan(c *gin.Context) {
	var req struct {
		SessionID    string   `json:"session_id"`
		Questions    []string `json:"questions"`
		Answers      []string `json:"answers"`
		AcademicMode bool     `json:"academic_mode"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st := s.loadSession(c, req.SessionID)
	if st == nil {
		return
	}
	points, err := s.pipelineFor(c).Plan(c.Request.Context(), st, req.Questions, req.Answers, req.AcademicMode)
	if err != nil {
		c.JSON(stageStatus(err), gin.H{"error": err.Error()})
		return
	}
	if !s.saveSession(c, st) {
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": st.SessionID, "plan_points": points, "plan_version": st.PlanVersion})
}

func (s *server) handleDeep(c *gin.Context) {
	var req struct {
		SessionID string `json:"session_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st := s.loadSession(c, req.SessionID)
	if st == nil {
		return
	}
	events, err := s.pipelineFor(c).DeepResearch(c.Request.Context(), st)
	if err != nil {
		c.JSON(stageStatus(err), gin.H{"error": err.Error()})
		return
	}

	c.Header("Content-Type", "application/x-ndjson")
	c.Status(http.StatusOK)
	enc := json.NewEncoder(c.Writer)
	for ev := range events {
		if err := enc.Encode(ev); err != nil {
			// Consumer is gone; the request context cancellation stops
			// the producer.
			break
		}
		c.Writer.Flush()
		if ev.Type == pipeline.EventPointComplete || ev.Type == pipeline.EventDone {
			_ = s.app.Sessions().Save(st)
		}
	}
	_ = s.app.Sessions().Save(st)
}

func (s *server) handleList(c *gin.Context) {
	summaries, err := s.app.Sessions().List(c.GetHeader("X-Principal"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if summaries == nil {
		summaries = []store.Summary{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": summaries})
}

func (s *server) handleGet(c *gin.Context) {
	st := s.loadSession(c, c.Param("id"))
	if st == nil {
		return
	}
	c.JSON(http.StatusOK, st)
}

func (s *server) handleDelete(c *gin.Context) {
	if err := s.app.Sessions().Delete(c.Param("id")); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, store.ErrNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}
