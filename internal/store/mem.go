package store

import (
	"sort"
	"sync"
	"time"

	"github.com/hyperifyio/deepresearch/internal/state"
)

// MemStore keeps sessions in process memory. Used by tests and
// single-session CLI runs.
type MemStore struct {
	mu      sync.RWMutex
	records map[string]*memRecord
}

type memRecord struct {
	principal string
	createdAt time.Time
	updatedAt time.Time
	data      []byte
}

// NewMemStore creates an empty in-memory store.
func NewMemStore() *MemStore {
	return &MemStore{records: map[string]*memRecord{}}
}

func (m *MemStore) Load(sessionID string) (*state.ContextState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.records[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	return state.FromJSON(rec.data)
}

func (m *MemStore) Save(st *state.ContextState) error {
	data, err := st.ToJSON()
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if rec, ok := m.records[st.SessionID]; ok {
		rec.data = data
		rec.updatedAt = now
		return nil
	}
	m.records[st.SessionID] = &memRecord{createdAt: now, updatedAt: now, data: data}
	return nil
}

func (m *MemStore) Delete(sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.records[sessionID]; !ok {
		return ErrNotFound
	}
	delete(m.records, sessionID)
	return nil
}

// SetPrincipal associates a session with its owning caller.
func (m *MemStore) SetPrincipal(sessionID, principal string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec, ok := m.records[sessionID]; ok {
		rec.principal = principal
	}
}

func (m *MemStore) List(principal string) ([]Summary, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Summary
	for _, rec := range m.records {
		if principal != "" && rec.principal != principal {
			continue
		}
		st, err := state.FromJSON(rec.data)
		if err != nil {
			continue
		}
		out = append(out, summarize(st, rec.createdAt, rec.updatedAt))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}
