package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/deepresearch/internal/parse"
	"github.com/hyperifyio/deepresearch/internal/prompts"
	"github.com/hyperifyio/deepresearch/internal/search"
	"github.com/hyperifyio/deepresearch/internal/state"
)

// DeepResearch runs stage 5: for each plan point, think, search, pick,
// fetch, and write a dossier, renumbering its citations into the session's
// global registry. Events are produced in strict order on the returned
// channel; a cancelled context closes the stream without a done event.
// Failures inside a point skip that point rather than aborting the run.
func (p *Pipeline) DeepResearch(ctx context.Context, st *state.ContextState) (<-chan Event, error) {
	const stage = "deep_research"
	if err := p.checkConfigured(stage); err != nil {
		return nil, err
	}
	if len(st.PlanPoints) == 0 {
		return nil, stageErr(stage, KindState, "no plan points; run plan first")
	}
	if p.Search == nil || p.Fetcher == nil {
		return nil, stageErr(stage, KindConfiguration, "search and fetcher must be configured")
	}

	ch := make(chan Event)
	go p.runDeepResearch(ctx, st, ch)
	return ch, nil
}

func (p *Pipeline) runDeepResearch(ctx context.Context, st *state.ContextState, ch chan<- Event) {
	defer close(ch)
	start := time.Now()

	// emit delivers one event, reporting false when the consumer is gone.
	emit := func(ev Event) bool {
		select {
		case ch <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("session", st.SessionID).Msg("deep research aborted")
			emit(Event{Type: EventError, Message: fmt.Sprintf("internal error: %v", r)})
		}
	}()

	st.SetStep(5)
	points := st.PlanPoints
	total := len(points)

	for idx, point := range points {
		if ctx.Err() != nil {
			return
		}
		num := idx + 1
		if !emit(Event{
			Type:    EventStatus,
			Message: fmt.Sprintf("Researching point %d/%d: %s", num, total, point),
			Data:    map[string]any{"point_number": num, "total_points": total},
		}) {
			return
		}
		if !p.researchPoint(ctx, st, point, num, total, emit) {
			return
		}
	}

	if !emit(Event{
		Type:    EventSynthesisStart,
		Message: "All points researched; synthesizing final report",
		Data: map[string]any{
			"dossier_count": len(st.Dossiers),
			"total_sources": len(st.SourceRegistry),
		},
	}) {
		return
	}

	final := p.synthesize(ctx, st)
	st.SetStep(6)

	data := map[string]any{
		"final_document":   final,
		"total_points":     total,
		"total_sources":    len(st.SourceRegistry),
		"duration_seconds": int(time.Since(start).Seconds()),
		"source_registry":  st.AllSources(),
		"session_id":       st.SessionID,
	}
	if snapshot, err := st.ToJSON(); err == nil {
		data["context"] = json.RawMessage(snapshot)
	}
	emit(Event{Type: EventDone, Message: "Research complete", Data: data})
}

// researchPoint runs the think→search→pick→fetch→dossier sub-pipeline for
// one plan point. It returns false only when the stream consumer is gone;
// per-point failures emit a skipped point_complete and return true so the
// loop advances.
func (p *Pipeline) researchPoint(ctx context.Context, st *state.ContextState, point string, num, total int, emit func(Event) bool) bool {
	skip := func(reason string) bool {
		log.Warn().Str("session", st.SessionID).Str("point", point).Str("reason", reason).Msg("skipping plan point")
		return emit(Event{
			Type:    EventPointComplete,
			Message: fmt.Sprintf("Skipped point %d/%d: %s", num, total, reason),
			Data: map[string]any{
				"point_title":  point,
				"point_number": num,
				"total_points": total,
				"skipped":      true,
			},
		})
	}

	// (a) Think: plan the searches, carrying all prior learnings so the
	// model avoids re-searching covered ground.
	thinkPrompt := prompts.Think(st.OriginalQuery, point, st.AllLearnings(), st.Language)
	resp, serr := p.callModel(ctx, "deep_research", thinkPrompt, p.WorkModel, thinkMaxTokens, workCallTimeout)
	if serr != nil {
		return skip("think call failed: " + serr.Message)
	}
	thinking, queries := parse.Think(resp)
	if len(queries) == 0 {
		return skip("no search queries produced")
	}

	// (b) Search.
	results := p.Search.ExecuteSearches(ctx, queries, deepPickPerQuery)
	if countResults(results) == 0 {
		return skip("no search results")
	}

	// (c) Pick.
	pickPrompt := prompts.PickURLs(st.OriginalQuery, point, thinking,
		formatSearchResults(queries, results), st.PreviousLearnings(5), st.Language)
	resp, serr = p.callModel(ctx, "deep_research", pickPrompt, p.WorkModel, pickMaxTokens, workCallTimeout)
	if serr != nil {
		return skip("pick call failed: " + serr.Message)
	}
	picked, _ := parse.PickURLs(resp)
	if len(picked) == 0 {
		picked = parse.ScrapeURLs(resp)
	}
	if len(picked) == 0 {
		return skip("no urls selected")
	}
	if !emit(Event{
		Type:    EventSources,
		Message: fmt.Sprintf("Reading %d sources for point %d/%d", len(picked), num, total),
		Data:    map[string]any{"urls": picked},
	}) {
		return false
	}

	// (d) Fetch.
	pages := p.Fetcher.FetchBatch(ctx, picked, deepFetchTimeout)
	fetched := fetchedInOrder(picked, pages)
	if len(fetched) == 0 {
		return skip("no pages fetched")
	}

	// (e) Dossier.
	dossierPrompt := prompts.Dossier(st.OriginalQuery, point, thinking,
		formatScrapedPages(fetched, pages, dossierPageCapChars), st.AcademicMode, st.Language)
	resp, serr = p.callModel(ctx, "deep_research", dossierPrompt, p.WorkModel, dossierMaxTokens, dossierCallTimeout)
	if serr != nil {
		return skip("dossier call failed: " + serr.Message)
	}
	dossierText, learnings, localCitations := parse.Dossier(resp)
	if strings.TrimSpace(dossierText) == "" {
		return skip("empty dossier")
	}

	// (f) Global renumbering: local [i] cites fetched[i-1]; map each onto
	// its registry number in one pass.
	mapping := st.RegisterSources(fetched)
	urlToGlobal := make(map[string]int, len(mapping))
	for g, u := range mapping {
		urlToGlobal[u] = g
	}
	localToGlobal := make(map[int]int, len(fetched))
	for i, u := range fetched {
		localToGlobal[i+1] = urlToGlobal[u]
	}
	dossierText = RewriteCitations(dossierText, localToGlobal)
	learnings = RewriteCitations(learnings, localToGlobal)

	globalCitations := make(map[int]string, len(localCitations))
	for local, desc := range localCitations {
		if g, ok := localToGlobal[local]; ok {
			globalCitations[g] = desc
		}
	}

	// (g) Commit.
	st.AddDossier(point, dossierText, fetched, learnings)

	data := map[string]any{
		"point_title":   point,
		"point_number":  num,
		"total_points":  total,
		"key_learnings": learnings,
		"dossier_full":  dossierText,
		"sources":       fetched,
	}
	if len(globalCitations) > 0 {
		data["citations"] = globalCitations
	}
	return emit(Event{
		Type:    EventPointComplete,
		Message: fmt.Sprintf("Completed point %d/%d", num, total),
		Data:    data,
	})
}

// synthesize runs the terminal stage-6 call over all dossiers. When the
// model call fails, the dossiers are concatenated verbatim under their
// point titles so the session still ends with a usable document.
func (p *Pipeline) synthesize(ctx context.Context, st *state.ContextState) string {
	pr := prompts.FinalSynthesis(st.OriginalQuery, st.FormatPlanForUser(),
		st.FormatDossiersForSynthesis(), st.AcademicMode, st.Language)
	resp, serr := p.callModel(ctx, "synthesis", pr, p.finalModel(), synthesisMaxTokens, synthesisCallTimeout)
	if serr != nil {
		log.Warn().Str("session", st.SessionID).Str("error", serr.Message).Msg("synthesis failed; falling back to dossier concatenation")
		return p.fallbackReport(st)
	}
	report, _ := parse.Synthesis(resp)
	if strings.TrimSpace(report) == "" {
		return p.fallbackReport(st)
	}
	return report + "\n\n" + st.FormatSourcesForReport()
}

func (p *Pipeline) fallbackReport(st *state.ContextState) string {
	var b strings.Builder
	title := st.SessionTitle
	if title == "" {
		title = "Research Report"
	}
	fmt.Fprintf(&b, "# %s\n\n", title)
	for _, d := range st.Dossiers {
		fmt.Fprintf(&b, "## %d. %s\n\n%s\n\n", d.PointNumber, d.Point, d.Dossier)
	}
	b.WriteString(st.FormatSourcesForReport())
	return b.String()
}

func countResults(results map[string][]search.Result) int {
	n := 0
	for _, rs := range results {
		n += len(rs)
	}
	return n
}
