// Package store persists session state between client calls. The durable
// schema is owned by the deployment; these implementations cover the
// single-process cases: an in-memory store for tests and short-lived runs,
// and a directory-of-JSON store for the CLI and the reference server.
package store

import (
	"errors"
	"time"

	"github.com/hyperifyio/deepresearch/internal/state"
)

// ErrNotFound is returned when a session id is unknown.
var ErrNotFound = errors.New("session not found")

// Summary is the listing row for a session.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	Phase        string    `json:"phase"`
	AcademicMode bool      `json:"academic_mode"`
	TotalSources int       `json:"total_sources"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Store is the session persistence contract the pipeline's callers use.
type Store interface {
	Load(sessionID string) (*state.ContextState, error)
	Save(st *state.ContextState) error
	Delete(sessionID string) error
	List(principal string) ([]Summary, error)
}

// Phase maps a pipeline step onto the coarse lifecycle phase shown in
// listings.
func Phase(step int) string {
	switch {
	case step <= 1:
		return "initial"
	case step <= 3:
		return "clarifying"
	case step == 4:
		return "planning"
	case step == 5:
		return "researching"
	default:
		return "done"
	}
}

func summarize(st *state.ContextState, createdAt, updatedAt time.Time) Summary {
	title := st.SessionTitle
	if title == "" {
		title = "New Research"
	}
	return Summary{
		ID:           st.SessionID,
		Title:        title,
		Phase:        Phase(st.CurrentStep),
		AcademicMode: st.AcademicMode,
		TotalSources: len(st.SourceRegistry),
		CreatedAt:    createdAt,
		UpdatedAt:    updatedAt,
	}
}
