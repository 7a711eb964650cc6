package state

import (
	"encoding/json"
	"fmt"

	"github.com/hyperifyio/deepresearch/internal/search"
)

// The serialized field names are the canonical wire and at-rest contract.
// Unknown fields are preserved verbatim so state written by a newer
// consumer survives a load/save cycle here.

type knownFields struct {
	SessionID              string                     `json:"session_id"`
	SessionTitle           string                     `json:"session_title"`
	OriginalQuery          string                     `json:"original_query"`
	CurrentStep            int                        `json:"current_step"`
	Queries                []string                   `json:"queries"`
	URLs                   []string                   `json:"urls"`
	SearchResults          map[string][]search.Result `json:"search_results"`
	ClarificationQuestions []string                   `json:"clarification_questions"`
	ClarificationAnswers   []string                   `json:"clarification_answers"`
	PlanPoints             []string                   `json:"plan_points"`
	PlanVersion            int                        `json:"plan_version"`
	Dossiers               []Dossier                  `json:"dossiers"`
	KeyLearnings           []string                   `json:"key_learnings"`
	SourceRegistry         map[int]string             `json:"source_registry"`
	SourceCounter          int                        `json:"source_counter"`
	Language               string                     `json:"language"`
	AcademicMode           bool                       `json:"academic_mode"`
}

var knownKeys = map[string]struct{}{
	"session_id": {}, "session_title": {}, "original_query": {}, "current_step": {},
	"queries": {}, "urls": {}, "search_results": {}, "clarification_questions": {},
	"clarification_answers": {}, "plan_points": {}, "plan_version": {}, "dossiers": {},
	"key_learnings": {}, "source_registry": {}, "source_counter": {}, "language": {},
	"academic_mode": {},
}

// MarshalJSON emits the canonical representation. Integer registry keys
// become strings on the wire, which encoding/json does natively for
// int-keyed maps. Collections serialize as empty, never null.
func (s *ContextState) MarshalJSON() ([]byte, error) {
	k := knownFields{
		SessionID:              s.SessionID,
		SessionTitle:           s.SessionTitle,
		OriginalQuery:          s.OriginalQuery,
		CurrentStep:            s.CurrentStep,
		Queries:                emptyIfNil(s.Queries),
		URLs:                   emptyIfNil(s.URLs),
		SearchResults:          s.SearchResults,
		ClarificationQuestions: emptyIfNil(s.ClarificationQuestions),
		ClarificationAnswers:   emptyIfNil(s.ClarificationAnswers),
		PlanPoints:             emptyIfNil(s.PlanPoints),
		PlanVersion:            s.PlanVersion,
		Dossiers:               s.Dossiers,
		KeyLearnings:           emptyIfNil(s.KeyLearnings),
		SourceRegistry:         s.SourceRegistry,
		SourceCounter:          s.SourceCounter,
		Language:               s.Language,
		AcademicMode:           s.AcademicMode,
	}
	if k.SearchResults == nil {
		k.SearchResults = map[string][]search.Result{}
	}
	if k.Dossiers == nil {
		k.Dossiers = []Dossier{}
	}
	if k.SourceRegistry == nil {
		k.SourceRegistry = map[int]string{}
	}
	if k.SourceCounter < 1 {
		k.SourceCounter = 1
	}

	base, err := json.Marshal(k)
	if err != nil {
		return nil, err
	}
	if len(s.extra) == 0 {
		return base, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(base, &merged); err != nil {
		return nil, err
	}
	for key, raw := range s.extra {
		if _, known := knownKeys[key]; !known {
			merged[key] = raw
		}
	}
	return json.Marshal(merged)
}

// UnmarshalJSON restores state from its canonical representation and keeps
// any unknown fields for later re-emission.
func (s *ContextState) UnmarshalJSON(data []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("decode state: %w", err)
	}
	var k knownFields
	if err := json.Unmarshal(data, &k); err != nil {
		return fmt.Errorf("decode state fields: %w", err)
	}

	s.SessionID = k.SessionID
	s.SessionTitle = k.SessionTitle
	s.OriginalQuery = k.OriginalQuery
	s.CurrentStep = k.CurrentStep
	s.Queries = k.Queries
	s.URLs = k.URLs
	s.SearchResults = k.SearchResults
	s.ClarificationQuestions = k.ClarificationQuestions
	s.ClarificationAnswers = k.ClarificationAnswers
	s.PlanPoints = k.PlanPoints
	s.PlanVersion = k.PlanVersion
	s.Dossiers = k.Dossiers
	s.KeyLearnings = k.KeyLearnings
	s.SourceRegistry = k.SourceRegistry
	s.SourceCounter = k.SourceCounter
	s.Language = k.Language
	s.AcademicMode = k.AcademicMode

	if s.SourceRegistry == nil {
		s.SourceRegistry = map[int]string{}
	}
	if s.SourceCounter < 1 {
		s.SourceCounter = 1
		for n := range s.SourceRegistry {
			if n >= s.SourceCounter {
				s.SourceCounter = n + 1
			}
		}
	}
	if s.Language == "" {
		s.Language = "en"
	}
	s.urlNumbers = make(map[string]int, len(s.SourceRegistry))
	for n, u := range s.SourceRegistry {
		s.urlNumbers[u] = n
	}

	s.extra = nil
	for key, raw := range fields {
		if _, known := knownKeys[key]; known {
			continue
		}
		if s.extra == nil {
			s.extra = map[string]json.RawMessage{}
		}
		s.extra[key] = raw
	}
	return nil
}

// ToJSON serializes the state.
func (s *ContextState) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

// FromJSON restores a state previously produced by ToJSON.
func FromJSON(data []byte) (*ContextState, error) {
	var s ContextState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func emptyIfNil(in []string) []string {
	if in == nil {
		return []string{}
	}
	return in
}
