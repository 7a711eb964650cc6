package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestCall_OpenAIShape(t *testing.T) {
	var gotAuth, gotCT string
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotCT = r.Header.Get("Content-Type")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"}}]}`))
	}))
	defer srv.Close()

	c := New(OpenRouter, "sk-test", WithBaseURL(srv.URL))
	res := c.Call(context.Background(), []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hi"},
	}, "test-model", 128, 5*time.Second)

	if res.Err != "" {
		t.Fatalf("unexpected error: %s", res.Err)
	}
	if res.Content != "hello" {
		t.Fatalf("content: got %q", res.Content)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("authorization header: %q", gotAuth)
	}
	if gotCT != "application/json" {
		t.Errorf("content-type header: %q", gotCT)
	}
	if gotBody["model"] != "test-model" {
		t.Errorf("model in body: %v", gotBody["model"])
	}
	if temp, ok := gotBody["temperature"].(float64); !ok || temp < 0.29 || temp > 0.31 {
		t.Errorf("temperature in body: %v", gotBody["temperature"])
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 2 {
		t.Errorf("messages in body: %v", gotBody["messages"])
	}
}

func TestCall_AnthropicLiftsSystem(t *testing.T) {
	var gotBody map[string]any
	var gotVersion, gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotVersion = r.Header.Get("anthropic-version")
		gotKey = r.Header.Get("x-api-key")
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"content":[{"type":"text","text":"claude says"}]}`))
	}))
	defer srv.Close()

	c := New(Anthropic, "ak-test", WithBaseURL(srv.URL))
	res := c.Call(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	}, "claude-model", 64, 5*time.Second)

	if res.Err != "" {
		t.Fatalf("unexpected error: %s", res.Err)
	}
	if res.Content != "claude says" {
		t.Fatalf("content: got %q", res.Content)
	}
	if gotVersion != "2023-06-01" {
		t.Errorf("anthropic-version: %q", gotVersion)
	}
	if gotKey != "ak-test" {
		t.Errorf("x-api-key: %q", gotKey)
	}
	if gotBody["system"] != "be brief" {
		t.Errorf("system not lifted: %v", gotBody["system"])
	}
	msgs, _ := gotBody["messages"].([]any)
	if len(msgs) != 1 {
		t.Errorf("expected system message removed from turns, got %v", gotBody["messages"])
	}
	if _, present := gotBody["temperature"]; present {
		t.Errorf("anthropic body should not carry temperature: %v", gotBody)
	}
}

func TestCall_GoogleHeader(t *testing.T) {
	var gotGoog string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotGoog = r.Header.Get("x-goog-api-key")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ok"}}]}`))
	}))
	defer srv.Close()

	c := New(Google, "g-key", WithBaseURL(srv.URL))
	if res := c.Call(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, "m", 8, time.Second); res.Err != "" {
		t.Fatalf("unexpected error: %s", res.Err)
	}
	if gotGoog != "g-key" {
		t.Errorf("x-goog-api-key: %q", gotGoog)
	}
}

func TestCall_HTTPErrorDrillsMessage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	c := New(OpenAI, "k", WithBaseURL(srv.URL))
	res := c.Call(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, "m", 8, time.Second)
	if res.Err != "HTTP 429: rate limited" {
		t.Fatalf("error: got %q", res.Err)
	}
	if res.Content != "" {
		t.Fatalf("expected no content, got %q", res.Content)
	}
}

func TestCall_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := New(OpenAI, "k", WithBaseURL(srv.URL))
	res := c.Call(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, "m", 8, 30*time.Millisecond)
	if res.Err != "LLM timeout" {
		t.Fatalf("error: got %q", res.Err)
	}
}

func TestCall_EmptyContentIsNotError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	c := New(OpenAI, "k", WithBaseURL(srv.URL))
	res := c.Call(context.Background(), []Message{{Role: RoleUser, Content: "q"}}, "m", 8, time.Second)
	if res.Err != "" {
		t.Fatalf("unexpected error: %s", res.Err)
	}
	if res.Content != "" {
		t.Fatalf("expected empty content, got %q", res.Content)
	}
}

func TestDefaultBaseURLs(t *testing.T) {
	for _, p := range []Provider{OpenRouter, OpenAI, Anthropic, Google, HuggingFace} {
		u := p.DefaultBaseURL()
		if !strings.HasPrefix(u, "https://") {
			t.Errorf("provider %s: bad default base url %q", p, u)
		}
	}
	if Provider("nope").Known() {
		t.Error("unknown provider reported as known")
	}
}
