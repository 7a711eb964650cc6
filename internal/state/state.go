// Package state holds the per-session research accumulator. A ContextState
// travels through the pipeline stages and is the canonical serialized form
// of a session both at rest and on the wire.
package state

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/deepresearch/internal/search"
)

// Dossier is one completed per-point research document.
type Dossier struct {
	Point       string   `json:"point"`
	Dossier     string   `json:"dossier"`
	Sources     []string `json:"sources"`
	PointNumber int      `json:"point_number"`
}

// ContextState tracks the complete state of a research session: queries,
// chosen URLs, clarification turns, the plan, completed dossiers,
// accumulated key learnings, and the global citation registry.
type ContextState struct {
	SessionID     string
	SessionTitle  string
	OriginalQuery string
	CurrentStep   int

	Queries       []string
	URLs          []string
	SearchResults map[string][]search.Result

	ClarificationQuestions []string
	ClarificationAnswers   []string

	PlanPoints  []string
	PlanVersion int

	Dossiers     []Dossier
	KeyLearnings []string

	SourceRegistry map[int]string
	SourceCounter  int

	Language     string
	AcademicMode bool

	// urlNumbers is the reverse of SourceRegistry, maintained so repeated
	// registration stays O(1). Rebuilt on load.
	urlNumbers map[string]int
	// extra preserves fields this version does not know about, so state
	// written by a newer consumer round-trips without loss.
	extra map[string]json.RawMessage
}

// New creates an empty session state with a fresh id.
func New() *ContextState {
	return &ContextState{
		SessionID:      uuid.NewString(),
		SearchResults:  map[string][]search.Result{},
		SourceRegistry: map[int]string{},
		SourceCounter:  1,
		Language:       "en",
		urlNumbers:     map[string]int{},
	}
}

// === Setters. All setters log; none coalesces silently. ===

// SetQuery stores the user's original research question.
func (s *ContextState) SetQuery(query string) {
	s.OriginalQuery = query
	log.Debug().Str("session", s.SessionID).Msgf("set original query: %.50s", query)
}

// SetTitle stores the session title derived in the overview stage.
func (s *ContextState) SetTitle(title string) {
	s.SessionTitle = title
	log.Debug().Str("session", s.SessionID).Str("title", title).Msg("set session title")
}

// SetQueries stores the generated search queries.
func (s *ContextState) SetQueries(queries []string) {
	s.Queries = queries
	log.Debug().Str("session", s.SessionID).Int("count", len(queries)).Msg("set search queries")
}

// SetURLs stores the URLs chosen from search results.
func (s *ContextState) SetURLs(urls []string) {
	s.URLs = urls
	log.Debug().Str("session", s.SessionID).Int("count", len(urls)).Msg("set selected urls")
}

// SetSearchResults stores raw results keyed by query.
func (s *ContextState) SetSearchResults(results map[string][]search.Result) {
	s.SearchResults = results
	total := 0
	for _, rs := range results {
		total += len(rs)
	}
	log.Debug().Str("session", s.SessionID).Int("queries", len(results)).Int("results", total).Msg("set search results")
}

// AddClarification stores follow-up questions from the clarify stage.
func (s *ContextState) AddClarification(questions []string) {
	s.ClarificationQuestions = questions
	log.Debug().Str("session", s.SessionID).Int("count", len(questions)).Msg("set clarification questions")
}

// AddAnswers stores the user's answers to follow-up questions.
func (s *ContextState) AddAnswers(answers []string) {
	s.ClarificationAnswers = answers
	log.Debug().Str("session", s.SessionID).Int("count", len(answers)).Msg("set clarification answers")
}

// SetPlan replaces the research plan and bumps its version.
func (s *ContextState) SetPlan(points []string) {
	s.PlanPoints = points
	s.PlanVersion++
	log.Debug().Str("session", s.SessionID).Int("version", s.PlanVersion).Int("points", len(points)).Msg("set research plan")
}

// SetStep advances the pipeline step. Steps never move backwards.
func (s *ContextState) SetStep(step int) {
	if step > s.CurrentStep {
		s.CurrentStep = step
		log.Debug().Str("session", s.SessionID).Int("step", step).Msg("advanced pipeline step")
	}
}

// === Key learnings (anti-redundancy context) ===

// AddLearnings appends non-empty learnings. The list is append-only:
// never reordered, never deduplicated.
func (s *ContextState) AddLearnings(learnings ...string) {
	added := 0
	for _, l := range learnings {
		if t := strings.TrimSpace(l); t != "" {
			s.KeyLearnings = append(s.KeyLearnings, t)
			added++
		}
	}
	if added > 0 {
		log.Debug().Str("session", s.SessionID).Int("total", len(s.KeyLearnings)).Msg("added key learnings")
	}
}

// PreviousLearnings formats the most recent learnings as bullet lines for
// prompt context, or the literal "None yet" when none exist.
func (s *ContextState) PreviousLearnings(limit int) string {
	if len(s.KeyLearnings) == 0 {
		return "None yet"
	}
	recent := s.KeyLearnings
	if limit > 0 && len(recent) > limit {
		recent = recent[len(recent)-limit:]
	}
	lines := make([]string, 0, len(recent))
	for _, l := range recent {
		lines = append(lines, "- "+l)
	}
	return strings.Join(lines, "\n")
}

// AllLearnings returns a copy of every accumulated learning.
func (s *ContextState) AllLearnings() []string {
	out := make([]string, len(s.KeyLearnings))
	copy(out, s.KeyLearnings)
	return out
}

// === Source registry ===

func (s *ContextState) ensureRegistry() {
	if s.SourceRegistry == nil {
		s.SourceRegistry = map[int]string{}
	}
	if s.SourceCounter < 1 {
		s.SourceCounter = 1
	}
	if s.urlNumbers == nil {
		s.urlNumbers = make(map[string]int, len(s.SourceRegistry))
		for n, u := range s.SourceRegistry {
			s.urlNumbers[u] = n
		}
	}
}

// RegisterSources assigns citation numbers to URLs. A URL already in the
// registry keeps its number; new URLs get sequential numbers. The returned
// mapping covers exactly the URLs given.
func (s *ContextState) RegisterSources(urls []string) map[int]string {
	s.ensureRegistry()
	out := make(map[int]string, len(urls))
	for _, u := range urls {
		if n, ok := s.urlNumbers[u]; ok {
			out[n] = u
			continue
		}
		n := s.SourceCounter
		s.SourceRegistry[n] = u
		s.urlNumbers[u] = n
		s.SourceCounter++
		out[n] = u
	}
	log.Debug().Str("session", s.SessionID).Int("batch", len(out)).Int("total", len(s.SourceRegistry)).Msg("registered sources")
	return out
}

// SourceURL returns the URL behind a citation number, if registered.
func (s *ContextState) SourceURL(n int) (string, bool) {
	u, ok := s.SourceRegistry[n]
	return u, ok
}

// AllSources returns a copy of the registry.
func (s *ContextState) AllSources() map[int]string {
	out := make(map[int]string, len(s.SourceRegistry))
	for n, u := range s.SourceRegistry {
		out[n] = u
	}
	return out
}

// === Dossiers ===

// AddDossier appends a completed dossier, registers its sources, and folds
// its learnings into the running list.
func (s *ContextState) AddDossier(point, dossierText string, sources []string, learnings string) {
	s.Dossiers = append(s.Dossiers, Dossier{
		Point:       point,
		Dossier:     dossierText,
		Sources:     sources,
		PointNumber: len(s.Dossiers) + 1,
	})
	s.RegisterSources(sources)
	if learnings != "" {
		s.AddLearnings(learnings)
	}
	log.Debug().Str("session", s.SessionID).Msgf("added dossier for point: %.50s", point)
}

// AllDossiers returns a copy of the completed dossiers.
func (s *ContextState) AllDossiers() []Dossier {
	out := make([]Dossier, len(s.Dossiers))
	copy(out, s.Dossiers)
	return out
}

// === Prompt formatting ===

// FormatForLLM renders the state as marker-delimited text for prompts,
// omitting empty sections. Section order is fixed.
func (s *ContextState) FormatForLLM() string {
	var b strings.Builder

	b.WriteString("=== YOUR TASK ===\n")
	b.WriteString(s.OriginalQuery)
	b.WriteString("\n\n")

	if len(s.Queries) > 0 {
		b.WriteString("=== SEARCH QUERIES ===\n")
		for i, q := range s.Queries {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
		b.WriteString("\n")
	}
	if len(s.URLs) > 0 {
		b.WriteString("=== SELECTED SOURCES ===\n")
		for i, u := range s.URLs {
			fmt.Fprintf(&b, "%d. %s\n", i+1, u)
		}
		b.WriteString("\n")
	}
	if len(s.ClarificationQuestions) > 0 {
		b.WriteString("=== FOLLOW-UP QUESTIONS ===\n")
		for i, q := range s.ClarificationQuestions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, q)
		}
		b.WriteString("\n")
	}
	if len(s.ClarificationAnswers) > 0 {
		b.WriteString("=== USER ANSWERS ===\n")
		for i, a := range s.ClarificationAnswers {
			fmt.Fprintf(&b, "%d. %s\n", i+1, a)
		}
		b.WriteString("\n")
	}
	if len(s.PlanPoints) > 0 {
		fmt.Fprintf(&b, "=== RESEARCH PLAN (v%d) ===\n", s.PlanVersion)
		for i, p := range s.PlanPoints {
			fmt.Fprintf(&b, "(%d) %s\n", i+1, p)
		}
		b.WriteString("\n")
	}
	if len(s.KeyLearnings) > 0 {
		b.WriteString("=== KEY LEARNINGS ===\n")
		recent := s.KeyLearnings
		if len(recent) > 5 {
			recent = recent[len(recent)-5:]
		}
		for _, l := range recent {
			b.WriteString("- ")
			b.WriteString(l)
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

// FormatPlanForUser renders only the plan as display markdown.
func (s *ContextState) FormatPlanForUser() string {
	if len(s.PlanPoints) == 0 {
		return "No research plan available."
	}
	lines := []string{"**Research Plan:**", ""}
	for i, p := range s.PlanPoints {
		lines = append(lines, fmt.Sprintf("(%d) %s", i+1, p))
	}
	return strings.Join(lines, "\n")
}

// FormatDossiersForSynthesis labels and concatenates all dossiers for the
// final synthesis prompt.
func (s *ContextState) FormatDossiersForSynthesis() string {
	if len(s.Dossiers) == 0 {
		return "No dossiers available."
	}
	var parts []string
	for i, d := range s.Dossiers {
		parts = append(parts, fmt.Sprintf("=== DOSSIER %d: %s ===", i+1, d.Point))
		parts = append(parts, d.Dossier)
		parts = append(parts, "")
	}
	return strings.Join(parts, "\n")
}

// FormatSourcesForReport renders the registry as a numbered reference list.
func (s *ContextState) FormatSourcesForReport() string {
	if len(s.SourceRegistry) == 0 {
		return "No sources registered."
	}
	nums := make([]int, 0, len(s.SourceRegistry))
	for n := range s.SourceRegistry {
		nums = append(nums, n)
	}
	sort.Ints(nums)
	lines := []string{"## Sources", ""}
	for _, n := range nums {
		lines = append(lines, fmt.Sprintf("[%d] %s", n, s.SourceRegistry[n]))
	}
	return strings.Join(lines, "\n")
}

// === Utilities ===

// Progress summarizes how far the session has come.
func (s *ContextState) Progress() map[string]any {
	return map[string]any{
		"session_id":         s.SessionID,
		"session_title":      s.SessionTitle,
		"current_step":       s.CurrentStep,
		"queries_count":      len(s.Queries),
		"urls_count":         len(s.URLs),
		"plan_points_count":  len(s.PlanPoints),
		"dossiers_completed": len(s.Dossiers),
		"total_sources":      len(s.SourceRegistry),
		"total_learnings":    len(s.KeyLearnings),
	}
}

// Reset clears research state for a fresh run while keeping the session id.
func (s *ContextState) Reset() {
	id := s.SessionID
	lang := s.Language
	*s = *New()
	s.SessionID = id
	s.Language = lang
	log.Debug().Str("session", id).Msg("reset session state")
}

func (s *ContextState) String() string {
	return fmt.Sprintf("ContextState(session=%s, step=%d, dossiers=%d)", s.SessionID, s.CurrentStep, len(s.Dossiers))
}
