// Package pipeline orchestrates the six-stage deep-research state machine:
// overview, search-and-pick, clarify, plan, the per-point deep-research
// loop, and final synthesis. Stages operate on a loaded ContextState; a
// failed stage never commits a partial update.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hyperifyio/deepresearch/internal/cache"
	"github.com/hyperifyio/deepresearch/internal/fetch"
	"github.com/hyperifyio/deepresearch/internal/llm"
	"github.com/hyperifyio/deepresearch/internal/prompts"
	"github.com/hyperifyio/deepresearch/internal/search"
)

// Tunables for the model-call substrate. Dossier and synthesis calls get a
// raised token budget and a longer deadline than the per-step work calls.
const (
	workCallTimeout      = 60 * time.Second
	dossierCallTimeout   = 120 * time.Second
	synthesisCallTimeout = 180 * time.Second

	overviewMaxTokens  = 1500
	thinkMaxTokens     = 4000
	pickMaxTokens      = 2000
	clarifyMaxTokens   = 2000
	planMaxTokens      = 2000
	dossierMaxTokens   = 12000
	synthesisMaxTokens = 16000

	stagePickPerQuery = 10
	deepPickPerQuery  = 15

	clarifyMaxURLs      = 15
	clarifyPageCapChars = 3000
	dossierPageCapChars = 10000

	deepFetchTimeout = 30 * time.Second
)

// ErrKind classifies stage failures.
type ErrKind string

const (
	KindConfiguration ErrKind = "configuration"
	KindTransport     ErrKind = "transport"
	KindValidation    ErrKind = "validation"
	KindParsing       ErrKind = "parsing"
	KindState         ErrKind = "state"
)

// StageError is a structured stage failure. The originating stage's state
// is guaranteed unchanged when one is returned.
type StageError struct {
	Stage   string
	Kind    ErrKind
	Message string
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %s error: %s", e.Stage, e.Kind, e.Message)
}

func stageErr(stage string, kind ErrKind, format string, args ...any) *StageError {
	return &StageError{Stage: stage, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Pipeline executes research stages for one session. The model client and
// models are threaded explicitly so concurrent sessions can run against
// different providers and credentials.
type Pipeline struct {
	LLM        llm.Caller
	WorkModel  string
	FinalModel string

	Search  *search.Executor
	Fetcher fetch.Fetcher

	// Cache, when set, short-circuits repeated identical model calls.
	Cache *cache.LLMCache
}

// finalModel falls back to the work model when no dedicated synthesis
// model is configured.
func (p *Pipeline) finalModel() string {
	if p.FinalModel != "" {
		return p.FinalModel
	}
	return p.WorkModel
}

func (p *Pipeline) checkConfigured(stage string) *StageError {
	if p.LLM == nil || p.WorkModel == "" {
		return stageErr(stage, KindConfiguration, "model client not configured")
	}
	return nil
}

// callModel runs one chat completion with optional response caching.
func (p *Pipeline) callModel(ctx context.Context, stage string, pr prompts.Pair, model string, maxTokens int, timeout time.Duration) (string, *StageError) {
	key := ""
	if p.Cache != nil {
		key = cache.KeyFrom(model, pr.System+"\n\n"+pr.User)
		if raw, ok, _ := p.Cache.Get(ctx, key); ok {
			var cached struct {
				Content string `json:"content"`
			}
			if err := json.Unmarshal(raw, &cached); err == nil && cached.Content != "" {
				return cached.Content, nil
			}
		}
	}
	res := p.LLM.Call(ctx, []llm.Message{
		{Role: llm.RoleSystem, Content: pr.System},
		{Role: llm.RoleUser, Content: pr.User},
	}, model, maxTokens, timeout)
	if res.Err != "" {
		return "", stageErr(stage, KindTransport, "%s", res.Err)
	}
	if p.Cache != nil && res.Content != "" {
		if payload, err := json.Marshal(map[string]string{"content": res.Content}); err == nil {
			_ = p.Cache.Save(ctx, key, payload)
		}
	}
	return res.Content, nil
}
