package store

import (
	"errors"
	"testing"

	"github.com/hyperifyio/deepresearch/internal/state"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	return map[string]Store{
		"mem":  NewMemStore(),
		"file": &FileStore{Dir: t.TempDir()},
	}
}

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			st := state.New()
			st.SetQuery("question")
			st.SetTitle("Title")
			st.RegisterSources([]string{"https://a.example.com", "https://b.example.com"})
			st.SetStep(2)

			if err := s.Save(st); err != nil {
				t.Fatalf("save: %v", err)
			}
			got, err := s.Load(st.SessionID)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got.OriginalQuery != "question" || got.SourceCounter != 3 || got.CurrentStep != 2 {
				t.Fatalf("restored: %+v", got)
			}
		})
	}
}

func TestStore_LoadMissing(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if _, err := s.Load("nope"); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			st := state.New()
			if err := s.Save(st); err != nil {
				t.Fatal(err)
			}
			if err := s.Delete(st.SessionID); err != nil {
				t.Fatalf("delete: %v", err)
			}
			if _, err := s.Load(st.SessionID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("expected ErrNotFound after delete, got %v", err)
			}
			if err := s.Delete(st.SessionID); !errors.Is(err, ErrNotFound) {
				t.Fatalf("double delete: %v", err)
			}
		})
	}
}

func TestStore_ListFiltersByPrincipal(t *testing.T) {
	mem := NewMemStore()
	a := state.New()
	a.SetTitle("A")
	b := state.New()
	b.SetTitle("B")
	if err := mem.Save(a); err != nil {
		t.Fatal(err)
	}
	if err := mem.Save(b); err != nil {
		t.Fatal(err)
	}
	mem.SetPrincipal(a.SessionID, "alice")
	mem.SetPrincipal(b.SessionID, "bob")

	got, err := mem.List("alice")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Title != "A" {
		t.Fatalf("list: %+v", got)
	}
	all, err := mem.List("")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("unfiltered list: %+v", all)
	}
}

func TestStore_SummaryFields(t *testing.T) {
	fs := &FileStore{Dir: t.TempDir()}
	st := state.New()
	st.SetTitle("Deep Dive")
	st.AcademicMode = true
	st.RegisterSources([]string{"https://a.example.com"})
	st.SetStep(5)
	if err := fs.Save(st); err != nil {
		t.Fatal(err)
	}
	got, err := fs.List("")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("list: %+v", got)
	}
	sum := got[0]
	if sum.Title != "Deep Dive" || !sum.AcademicMode || sum.TotalSources != 1 || sum.Phase != "researching" {
		t.Fatalf("summary: %+v", sum)
	}
	if sum.CreatedAt.IsZero() || sum.UpdatedAt.IsZero() {
		t.Fatal("timestamps not set")
	}
}

func TestPhase(t *testing.T) {
	cases := map[int]string{0: "initial", 1: "initial", 2: "clarifying", 3: "clarifying", 4: "planning", 5: "researching", 6: "done"}
	for step, want := range cases {
		if got := Phase(step); got != want {
			t.Errorf("Phase(%d) = %q, want %q", step, got, want)
		}
	}
}
