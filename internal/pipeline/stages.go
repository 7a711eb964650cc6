package pipeline

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/deepresearch/internal/extract"
	"github.com/hyperifyio/deepresearch/internal/parse"
	"github.com/hyperifyio/deepresearch/internal/prompts"
	"github.com/hyperifyio/deepresearch/internal/state"
	"github.com/hyperifyio/deepresearch/internal/validate"
)

// Overview runs stage 1: derive a session title and initial search queries
// from the user's question.
func (p *Pipeline) Overview(ctx context.Context, st *state.ContextState, userQuery string) (string, []string, error) {
	const stage = "overview"
	if err := p.checkConfigured(stage); err != nil {
		return "", nil, err
	}
	query := validate.SanitizeInput(userQuery, true)
	if strings.TrimSpace(query) == "" {
		return "", nil, stageErr(stage, KindValidation, "empty research query")
	}
	if validate.DetectInjection(query) {
		log.Warn().Str("session", st.SessionID).Msg("possible prompt injection in research query")
	}

	resp, serr := p.callModel(ctx, stage, prompts.Overview(query, st.Language), p.WorkModel, overviewMaxTokens, workCallTimeout)
	if serr != nil {
		return "", nil, serr
	}
	title, queries := parse.Overview(resp)
	if len(queries) == 0 {
		return "", nil, stageErr(stage, KindParsing, "no search queries in overview response")
	}
	if title == "" {
		title = fallbackTitle(query)
	}

	st.SetQuery(query)
	st.SetTitle(title)
	st.SetQueries(queries)
	st.SetStep(1)
	return title, queries, nil
}

// fallbackTitle derives a short title from the query when the model did
// not produce one.
func fallbackTitle(query string) string {
	words := strings.Fields(query)
	if len(words) > 8 {
		words = words[:8]
	}
	return strings.Join(words, " ")
}

// SearchAndPick runs stage 2: execute the stage-1 queries and have the
// model choose the most relevant URLs. An empty selection is a valid
// outcome (for example, when every result fails SSRF validation).
func (p *Pipeline) SearchAndPick(ctx context.Context, st *state.ContextState) ([]string, error) {
	const stage = "search_and_pick"
	if err := p.checkConfigured(stage); err != nil {
		return nil, err
	}
	if len(st.Queries) == 0 {
		return nil, stageErr(stage, KindState, "no search queries; run overview first")
	}
	if p.Search == nil {
		return nil, stageErr(stage, KindConfiguration, "search provider not configured")
	}

	results := p.Search.ExecuteSearches(ctx, st.Queries, stagePickPerQuery)
	formatted := formatSearchResults(st.Queries, results)

	pr := prompts.PickURLs(st.OriginalQuery, "", "", formatted, "", st.Language)
	resp, serr := p.callModel(ctx, stage, pr, p.WorkModel, pickMaxTokens, workCallTimeout)
	if serr != nil {
		return nil, serr
	}
	urls, rejections := parse.PickURLs(resp)
	if len(urls) == 0 {
		urls = parse.ScrapeURLs(resp)
	}
	if len(rejections) > 0 {
		log.Debug().Str("session", st.SessionID).Int("count", len(rejections)).Msg("model rejected sources")
	}

	st.SetSearchResults(results)
	st.SetURLs(urls)
	st.SetStep(2)
	return urls, nil
}

// Clarify runs stage 3: fetch a sample of the selected URLs and ask the
// model for focused follow-up questions. The suggestion is read-only;
// nothing is committed until the caller passes questions and answers to
// Plan, so discarding it costs nothing.
func (p *Pipeline) Clarify(ctx context.Context, st *state.ContextState) (string, error) {
	const stage = "clarify"
	if err := p.checkConfigured(stage); err != nil {
		return "", err
	}
	if len(st.URLs) == 0 {
		return "", stageErr(stage, KindState, "no selected urls; run search_and_pick first")
	}
	if p.Fetcher == nil {
		return "", stageErr(stage, KindConfiguration, "fetcher not configured")
	}

	urls := st.URLs
	if len(urls) > clarifyMaxURLs {
		urls = urls[:clarifyMaxURLs]
	}
	// Clarify reads raw documents and extracts readable text itself, so
	// page structure (headings, lists) survives into the prompt.
	docs := p.Fetcher.FetchBatchHTML(ctx, urls, deepFetchTimeout)
	pages := make(map[string]string, len(docs))
	for u, html := range docs {
		if text := extract.PageText([]byte(html), clarifyPageCapChars); strings.TrimSpace(text) != "" {
			pages[u] = text
		}
	}
	content := formatScrapedPages(urls, pages, clarifyPageCapChars)

	pr := prompts.Clarify(st.FormatForLLM(), content, st.Language)
	resp, serr := p.callModel(ctx, stage, pr, p.WorkModel, clarifyMaxTokens, workCallTimeout)
	if serr != nil {
		return "", serr
	}
	return strings.TrimSpace(resp), nil
}

// Plan runs stage 4: commit the clarification exchange (when supplied) and
// produce the research plan. The plan replaces any previous plan and bumps
// the plan version. No state is touched unless the stage succeeds.
func (p *Pipeline) Plan(ctx context.Context, st *state.ContextState, questions, answers []string, academicMode bool) ([]string, error) {
	const stage = "plan"
	if err := p.checkConfigured(stage); err != nil {
		return nil, err
	}
	if strings.TrimSpace(st.OriginalQuery) == "" {
		return nil, stageErr(stage, KindState, "no original query; run overview first")
	}

	// Build the prompt over a scratch copy so a failed call leaves the
	// session untouched.
	scratch := *st
	if len(questions) > 0 {
		scratch.ClarificationQuestions = sanitizeAll(questions)
	}
	if len(answers) > 0 {
		scratch.ClarificationAnswers = sanitizeAll(answers)
	}
	scratch.AcademicMode = academicMode

	pr := prompts.Plan(scratch.FormatForLLM(), academicMode, st.Language)
	resp, serr := p.callModel(ctx, stage, pr, p.WorkModel, planMaxTokens, workCallTimeout)
	if serr != nil {
		return nil, serr
	}
	points := parse.Plan(resp)
	if len(points) == 0 {
		return nil, stageErr(stage, KindParsing, "no plan points in plan response")
	}

	if len(questions) > 0 {
		st.AddClarification(scratch.ClarificationQuestions)
	}
	if len(answers) > 0 {
		st.AddAnswers(scratch.ClarificationAnswers)
	}
	st.AcademicMode = academicMode
	st.SetPlan(points)
	st.SetStep(4)
	return points, nil
}

func sanitizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		out = append(out, validate.SanitizeInput(s, true))
	}
	return out
}
