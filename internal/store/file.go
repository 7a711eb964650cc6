package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/hyperifyio/deepresearch/internal/state"
)

// FileStore persists each session as one JSON file under Dir. The state
// payload is stored verbatim, so fields written by other consumers
// round-trip untouched.
type FileStore struct {
	Dir string
}

type fileRecord struct {
	Principal string          `json:"principal,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
	State     json.RawMessage `json:"state"`
}

func (f *FileStore) pathFor(sessionID string) string {
	// Session ids are uuids; "/" and ".." are rewritten to "_" so an id
	// cannot escape the dir.
	clean := strings.ReplaceAll(strings.ReplaceAll(sessionID, "/", "_"), "..", "_")
	return filepath.Join(f.Dir, clean+".json")
}

func (f *FileStore) read(sessionID string) (*fileRecord, error) {
	b, err := os.ReadFile(f.pathFor(sessionID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec fileRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (f *FileStore) write(sessionID string, rec *fileRecord) error {
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return err
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return os.WriteFile(f.pathFor(sessionID), b, 0o644)
}

func (f *FileStore) Load(sessionID string) (*state.ContextState, error) {
	rec, err := f.read(sessionID)
	if err != nil {
		return nil, err
	}
	return state.FromJSON(rec.State)
}

func (f *FileStore) Save(st *state.ContextState) error {
	data, err := st.ToJSON()
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	rec, err := f.read(st.SessionID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		rec = &fileRecord{CreatedAt: now}
	}
	rec.UpdatedAt = now
	rec.State = data
	return f.write(st.SessionID, rec)
}

func (f *FileStore) Delete(sessionID string) error {
	err := os.Remove(f.pathFor(sessionID))
	if errors.Is(err, os.ErrNotExist) {
		return ErrNotFound
	}
	return err
}

// SetPrincipal associates a session with its owning caller.
func (f *FileStore) SetPrincipal(sessionID, principal string) error {
	rec, err := f.read(sessionID)
	if err != nil {
		return err
	}
	rec.Principal = principal
	return f.write(sessionID, rec)
}

func (f *FileStore) List(principal string) ([]Summary, error) {
	entries, err := os.ReadDir(f.Dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var out []Summary
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		id := strings.TrimSuffix(e.Name(), ".json")
		rec, err := f.read(id)
		if err != nil {
			log.Warn().Err(err).Str("session", id).Msg("skipping unreadable session file")
			continue
		}
		if principal != "" && rec.Principal != principal {
			continue
		}
		st, err := state.FromJSON(rec.State)
		if err != nil {
			log.Warn().Err(err).Str("session", id).Msg("skipping corrupt session state")
			continue
		}
		out = append(out, summarize(st, rec.CreatedAt, rec.UpdatedAt))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
