package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hyperifyio/deepresearch/internal/llm"
	"github.com/hyperifyio/deepresearch/internal/search"
	"github.com/hyperifyio/deepresearch/internal/state"
)

// fakeCaller routes calls to scripted responses by prompt anchors, so one
// fake serves every stage.
type fakeCaller struct {
	overview  string
	think     string
	pick      string
	clarify   string
	plan      string
	dossier   func(user string) string
	synthesis string

	failStages map[string]bool
	calls      []string
}

func (f *fakeCaller) stageOf(system string) string {
	switch {
	case strings.Contains(system, "=== SESSION TITLE ==="):
		return "overview"
	case strings.Contains(system, "=== THINKING ==="):
		return "think"
	case strings.Contains(system, "selecting the most relevant sources"):
		return "pick"
	case strings.Contains(system, "refining the scope"):
		return "clarify"
	case strings.Contains(system, "research planning assistant"):
		return "plan"
	case strings.Contains(system, "knowledge preparation"):
		return "dossier"
	case strings.Contains(system, "final report"):
		return "synthesis"
	}
	return "unknown"
}

func (f *fakeCaller) Call(ctx context.Context, messages []llm.Message, model string, maxTokens int, timeout time.Duration) llm.Result {
	if ctx.Err() != nil {
		return llm.Result{Err: "LLM timeout"}
	}
	stage := f.stageOf(messages[0].Content)
	f.calls = append(f.calls, stage)
	if f.failStages[stage] {
		return llm.Result{Err: "HTTP 500: backend exploded"}
	}
	switch stage {
	case "overview":
		return llm.Result{Content: f.overview}
	case "think":
		return llm.Result{Content: f.think}
	case "pick":
		return llm.Result{Content: f.pick}
	case "clarify":
		return llm.Result{Content: f.clarify}
	case "plan":
		return llm.Result{Content: f.plan}
	case "dossier":
		if f.dossier != nil {
			return llm.Result{Content: f.dossier(messages[1].Content)}
		}
		return llm.Result{Content: ""}
	case "synthesis":
		return llm.Result{Content: f.synthesis}
	}
	return llm.Result{Err: "LLM call failed: unknown stage"}
}

// fakeSearchProvider returns fixed results for every query.
type fakeSearchProvider struct {
	results []search.Result
	err     error
}

func (f *fakeSearchProvider) Name() string { return "fake" }

func (f *fakeSearchProvider) Search(context.Context, string, int) ([]search.Result, error) {
	return f.results, f.err
}

// fakeFetcher serves scripted page text.
type fakeFetcher struct {
	pages   map[string]string
	batches [][]string
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) (string, error) {
	if text, ok := f.pages[url]; ok {
		return text, nil
	}
	return "", errors.New("not scripted")
}

func (f *fakeFetcher) FetchText(ctx context.Context, url string) (string, error) {
	return f.Fetch(ctx, url)
}

func (f *fakeFetcher) FetchBatch(_ context.Context, urls []string, _ time.Duration) map[string]string {
	f.batches = append(f.batches, urls)
	out := map[string]string{}
	for _, u := range urls {
		if text, ok := f.pages[u]; ok {
			out[u] = text
		}
	}
	return out
}

func (f *fakeFetcher) FetchBatchHTML(ctx context.Context, urls []string, perURL time.Duration) map[string]string {
	return f.FetchBatch(ctx, urls, perURL)
}

const overviewResp = `=== SESSION TITLE ===
Test Session

=== QUERIES ===
query 1: topic overview
query 2: topic criticism
`

const thinkResp = `=== THINKING ===
Need primary and community sources.

=== SEARCHES ===
search 1 (Primary): topic official docs
search 2 (Community): topic experiences forum
`

const planResp = `(1) First research point

(2) Second research point
`

func dossierWith(body string) string {
	return body + `

## 💡 KEY LEARNINGS

**Findings:**
1) learned the main thing[1]

=== SOURCES ===
[1] https://u1.example.com/ - source one
[2] https://u2.example.com/ - source two
=== END SOURCES ===

=== END DOSSIER ===
`
}

func newTestPipeline(fc *fakeCaller, provider search.Provider, fetcher *fakeFetcher) *Pipeline {
	return &Pipeline{
		LLM:       fc,
		WorkModel: "work-model",
		Search:    &search.Executor{Provider: provider, Sleep: func(time.Duration) {}},
		Fetcher:   fetcher,
	}
}

func TestOverview_CommitsState(t *testing.T) {
	fc := &fakeCaller{overview: overviewResp}
	p := newTestPipeline(fc, &fakeSearchProvider{}, &fakeFetcher{})
	st := state.New()

	title, queries, err := p.Overview(context.Background(), st, "how does topic work?")
	if err != nil {
		t.Fatalf("overview: %v", err)
	}
	if title != "Test Session" || len(queries) != 2 {
		t.Fatalf("got %q %v", title, queries)
	}
	if st.CurrentStep != 1 || st.SessionTitle != "Test Session" || st.OriginalQuery == "" {
		t.Fatalf("state: %+v", st)
	}
}

func TestOverview_EmptyQueryRejected(t *testing.T) {
	p := newTestPipeline(&fakeCaller{}, &fakeSearchProvider{}, &fakeFetcher{})
	st := state.New()
	_, _, err := p.Overview(context.Background(), st, "   ")
	var se *StageError
	if !errors.As(err, &se) || se.Kind != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if st.CurrentStep != 0 {
		t.Fatal("state mutated on failed stage")
	}
}

func TestSearchAndPick_RequiresQueries(t *testing.T) {
	p := newTestPipeline(&fakeCaller{}, &fakeSearchProvider{}, &fakeFetcher{})
	st := state.New()
	_, err := p.SearchAndPick(context.Background(), st)
	var se *StageError
	if !errors.As(err, &se) || se.Kind != KindState {
		t.Fatalf("expected state error, got %v", err)
	}
}

// Every search result fails SSRF validation; the stage succeeds with
// zero URLs and still advances to step 2.
func TestSearchAndPick_EmptyPickIsNotAnError(t *testing.T) {
	fc := &fakeCaller{pick: "url 1: http://localhost/internal\n"}
	provider := &fakeSearchProvider{results: []search.Result{
		{Title: "internal", URL: "http://localhost/internal", Snippet: "nope"},
	}}
	p := newTestPipeline(fc, provider, &fakeFetcher{})
	st := state.New()
	st.SetQuery("q")
	st.SetQueries([]string{"q1"})

	urls, err := p.SearchAndPick(context.Background(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(urls) != 0 {
		t.Fatalf("urls: %v", urls)
	}
	if st.CurrentStep != 2 {
		t.Fatalf("step: %d", st.CurrentStep)
	}
}

func TestSearchAndPick_RegexFallback(t *testing.T) {
	fc := &fakeCaller{pick: "I could not follow the format but https://good.example.com/a looks right."}
	provider := &fakeSearchProvider{results: []search.Result{
		{Title: "good", URL: "https://good.example.com/a", Snippet: "s"},
	}}
	p := newTestPipeline(fc, provider, &fakeFetcher{})
	st := state.New()
	st.SetQuery("q")
	st.SetQueries([]string{"q1"})

	urls, err := p.SearchAndPick(context.Background(), st)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(urls) != 1 || urls[0] != "https://good.example.com/a" {
		t.Fatalf("fallback urls: %v", urls)
	}
}

func TestClarify_ReadOnlyAndCapped(t *testing.T) {
	fetcher := &fakeFetcher{pages: map[string]string{}}
	var urls []string
	for i := 0; i < 20; i++ {
		u := "https://example.com/p" + string(rune('a'+i))
		urls = append(urls, u)
		fetcher.pages[u] = strings.Repeat("content ", 20)
	}
	fc := &fakeCaller{clarify: "Interesting topic! 1. What scope? 2. What depth?"}
	p := newTestPipeline(fc, &fakeSearchProvider{}, fetcher)
	st := state.New()
	st.SetQuery("q")
	st.SetURLs(urls)
	before, _ := st.ToJSON()

	text, err := p.Clarify(context.Background(), st)
	if err != nil {
		t.Fatalf("clarify: %v", err)
	}
	if !strings.Contains(text, "What scope?") {
		t.Fatalf("text: %q", text)
	}
	if len(fetcher.batches) != 1 || len(fetcher.batches[0]) != clarifyMaxURLs {
		t.Fatalf("expected one batch of %d urls, got %v", clarifyMaxURLs, fetcher.batches)
	}
	after, _ := st.ToJSON()
	if string(before) != string(after) {
		t.Fatal("clarify mutated state")
	}
}

func TestPlan_CommitsClarificationsAndPlan(t *testing.T) {
	fc := &fakeCaller{plan: planResp}
	p := newTestPipeline(fc, &fakeSearchProvider{}, &fakeFetcher{})
	st := state.New()
	st.SetQuery("q")

	points, err := p.Plan(context.Background(), st, []string{"scope?"}, []string{"broad"}, true)
	if err != nil {
		t.Fatalf("plan: %v", err)
	}
	if len(points) != 2 || points[0] != "First research point" {
		t.Fatalf("points: %v", points)
	}
	if st.PlanVersion != 1 || !st.AcademicMode || st.CurrentStep != 4 {
		t.Fatalf("state: %+v", st)
	}
	if len(st.ClarificationQuestions) != 1 || len(st.ClarificationAnswers) != 1 {
		t.Fatalf("clarifications not committed")
	}

	// Re-planning bumps the version.
	if _, err := p.Plan(context.Background(), st, nil, nil, true); err != nil {
		t.Fatal(err)
	}
	if st.PlanVersion != 2 {
		t.Fatalf("plan version: %d", st.PlanVersion)
	}
}

// Property: a transport failure leaves the state byte-identical.
func TestPlan_TransportFailureLeavesStateUntouched(t *testing.T) {
	fc := &fakeCaller{failStages: map[string]bool{"plan": true}}
	p := newTestPipeline(fc, &fakeSearchProvider{}, &fakeFetcher{})
	st := state.New()
	st.SetQuery("q")
	before, _ := st.ToJSON()

	_, err := p.Plan(context.Background(), st, []string{"scope?"}, []string{"broad"}, true)
	var se *StageError
	if !errors.As(err, &se) || se.Kind != KindTransport {
		t.Fatalf("expected transport error, got %v", err)
	}
	if se.Message != "HTTP 500: backend exploded" {
		t.Fatalf("message: %q", se.Message)
	}
	after, _ := st.ToJSON()
	if string(before) != string(after) {
		t.Fatalf("state mutated:\n%s\n%s", before, after)
	}
}

// Property: the first four stages are deterministic given deterministic
// collaborators.
func TestStages_DeterministicRerun(t *testing.T) {
	run := func() *state.ContextState {
		fc := &fakeCaller{
			overview: overviewResp,
			pick:     "url 1: https://good.example.com/a\n",
			clarify:  "1. scope?",
			plan:     planResp,
		}
		provider := &fakeSearchProvider{results: []search.Result{
			{Title: "good", URL: "https://good.example.com/a", Snippet: "s"},
		}}
		p := newTestPipeline(fc, provider, &fakeFetcher{pages: map[string]string{
			"https://good.example.com/a": strings.Repeat("text ", 30),
		}})
		st := state.New()
		if _, _, err := p.Overview(context.Background(), st, "same question"); err != nil {
			t.Fatal(err)
		}
		if _, err := p.SearchAndPick(context.Background(), st); err != nil {
			t.Fatal(err)
		}
		if _, err := p.Clarify(context.Background(), st); err != nil {
			t.Fatal(err)
		}
		if _, err := p.Plan(context.Background(), st, []string{"scope?"}, []string{"broad"}, false); err != nil {
			t.Fatal(err)
		}
		return st
	}
	a, b := run(), run()
	if a.SessionTitle != b.SessionTitle {
		t.Fatalf("titles differ: %q vs %q", a.SessionTitle, b.SessionTitle)
	}
	if strings.Join(a.PlanPoints, "|") != strings.Join(b.PlanPoints, "|") {
		t.Fatalf("plans differ: %v vs %v", a.PlanPoints, b.PlanPoints)
	}
	if len(a.SourceRegistry) != len(b.SourceRegistry) {
		t.Fatalf("registries differ")
	}
}
