package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLLMCache_SaveGet(t *testing.T) {
	tmp := t.TempDir()
	c := &LLMCache{Dir: tmp}
	key := KeyFrom("work-model", "=== THINKING ===\nprompt")
	data := []byte(`{"content":"=== SEARCHES ===\nsearch 1: a"}`)
	if err := c.Save(context.Background(), key, data); err != nil {
		t.Fatalf("save: %v", err)
	}
	got, ok, err := c.Get(context.Background(), key)
	if err != nil || !ok {
		t.Fatalf("get: %v ok=%v", err, ok)
	}
	if string(got) != string(data) {
		t.Fatalf("mismatch")
	}
	if _, ok, _ := c.Get(context.Background(), KeyFrom("other-model", "prompt")); ok {
		t.Fatal("unexpected hit for different model")
	}
}

func TestPurgeByAge(t *testing.T) {
	tmp := t.TempDir()
	old := filepath.Join(tmp, "old.json")
	fresh := filepath.Join(tmp, "fresh.json")
	if err := os.WriteFile(old, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(fresh, []byte("{}"), 0o644); err != nil {
		t.Fatal(err)
	}
	stale := time.Now().Add(-48 * time.Hour)
	if err := os.Chtimes(old, stale, stale); err != nil {
		t.Fatal(err)
	}
	removed, err := PurgeByAge(tmp, 24*time.Hour)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed %d, want 1", removed)
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("fresh entry should survive")
	}
}
