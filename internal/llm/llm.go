// Package llm implements a provider-polymorphic chat-completion adapter.
// All providers except Anthropic speak the OpenAI chat-completions shape,
// so their requests and responses reuse the go-openai types; Anthropic
// lifts the system message to a top-level field and nests content blocks.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// Provider identifies a chat-completion backend.
type Provider string

const (
	OpenRouter  Provider = "openrouter"
	OpenAI      Provider = "openai"
	Anthropic   Provider = "anthropic"
	Google      Provider = "google"
	HuggingFace Provider = "huggingface"
)

// DefaultBaseURL returns the provider's chat-completion endpoint. Google is
// served through its OpenAI-compatible surface.
func (p Provider) DefaultBaseURL() string {
	switch p {
	case OpenRouter:
		return "https://openrouter.ai/api/v1/chat/completions"
	case OpenAI:
		return "https://api.openai.com/v1/chat/completions"
	case Anthropic:
		return "https://api.anthropic.com/v1/messages"
	case Google:
		return "https://generativelanguage.googleapis.com/v1beta/openai/chat/completions"
	case HuggingFace:
		return "https://api-inference.huggingface.co/v1/chat/completions"
	}
	return ""
}

// Known reports whether p names a supported provider.
func (p Provider) Known() bool {
	switch p {
	case OpenRouter, OpenAI, Anthropic, Google, HuggingFace:
		return true
	}
	return false
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = openai.ChatMessageRoleSystem
	RoleUser      = openai.ChatMessageRoleUser
	RoleAssistant = openai.ChatMessageRoleAssistant
)

// Result carries the outcome of a single chat-completion call. Err is a
// plain string so it can travel through serialized state and events; empty
// means success. Content may be empty on success when the model returned
// nothing.
type Result struct {
	Content string
	Err     string
	Raw     json.RawMessage
}

// Caller is the call surface the pipeline depends on. Tests substitute
// deterministic fakes.
type Caller interface {
	Call(ctx context.Context, messages []Message, model string, maxTokens int, timeout time.Duration) Result
}

// Client issues chat-completion requests against a single provider. The
// zero value is not usable; construct with New. A Client is threaded
// explicitly through each pipeline rather than stored in process-wide
// slots, so concurrent sessions can use different providers and keys.
type Client struct {
	Provider   Provider
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// Option adjusts a Client at construction time.
type Option func(*Client)

// WithBaseURL overrides the provider's default endpoint.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		if u != "" {
			c.BaseURL = u
		}
	}
}

// WithHTTPClient substitutes the transport, mainly for tests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.HTTPClient = hc
		}
	}
}

// New builds a Client for the given provider and key.
func New(provider Provider, apiKey string, opts ...Option) *Client {
	if !provider.Known() {
		provider = OpenRouter
	}
	c := &Client{
		Provider:   provider,
		BaseURL:    provider.DefaultBaseURL(),
		APIKey:     apiKey,
		HTTPClient: &http.Client{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// headers returns the provider-specific header set.
func (c *Client) headers() http.Header {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		h.Set("Authorization", "Bearer "+c.APIKey)
		switch c.Provider {
		case Google:
			h.Set("x-goog-api-key", c.APIKey)
		case Anthropic:
			h.Set("x-api-key", c.APIKey)
			h.Set("anthropic-version", "2023-06-01")
		}
	}
	return h
}

// anthropicRequest is the /v1/messages body: the first system message is
// lifted out of the turn list.
type anthropicRequest struct {
	Model     string    `json:"model"`
	Messages  []Message `json:"messages"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system,omitempty"`
}

func (c *Client) buildBody(messages []Message, model string, maxTokens int) ([]byte, error) {
	if c.Provider == Anthropic {
		req := anthropicRequest{Model: model, MaxTokens: maxTokens}
		for _, m := range messages {
			if m.Role == RoleSystem && req.System == "" {
				req.System = m.Content
				continue
			}
			req.Messages = append(req.Messages, m)
		}
		return json.Marshal(req)
	}
	req := openai.ChatCompletionRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		Temperature: 0.3,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}
	return json.Marshal(req)
}

// parseContent extracts the assistant text from a raw response body.
// Missing or empty content is not an error.
func (c *Client) parseContent(raw []byte) (string, error) {
	if c.Provider == Anthropic {
		var resp struct {
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
		}
		if err := json.Unmarshal(raw, &resp); err != nil {
			return "", err
		}
		if len(resp.Content) == 0 {
			return "", nil
		}
		return resp.Content[0].Text, nil
	}
	var resp openai.ChatCompletionResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", nil
	}
	return resp.Choices[0].Message.Content, nil
}

// errorEnvelope is the common {"error": {"message": ...}} failure shape.
type errorEnvelope struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Call executes one chat completion. Transport failures are reported in
// Result.Err; retries are deliberately left to the fetch layer.
func (c *Client) Call(ctx context.Context, messages []Message, model string, maxTokens int, timeout time.Duration) Result {
	body, err := c.buildBody(messages, model, maxTokens)
	if err != nil {
		return Result{Err: fmt.Sprintf("LLM call failed: %v", err)}
	}

	log.Debug().Str("provider", string(c.Provider)).Str("model", model).
		Int("max_tokens", maxTokens).Msg("llm call")

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(body))
	if err != nil {
		return Result{Err: fmt.Sprintf("LLM call failed: %v", err)}
	}
	req.Header = c.headers()

	hc := c.HTTPClient
	if hc == nil {
		hc = &http.Client{}
	}
	resp, err := hc.Do(req)
	if err != nil {
		if isTimeout(err) {
			return Result{Err: "LLM timeout"}
		}
		return Result{Err: fmt.Sprintf("LLM call failed: %v", err)}
	}
	defer resp.Body.Close()

	raw, err := readAll(resp.Body)
	if err != nil {
		if isTimeout(err) {
			return Result{Err: "LLM timeout"}
		}
		return Result{Err: fmt.Sprintf("LLM call failed: %v", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := drillErrorMessage(raw)
		errText := fmt.Sprintf("HTTP %d: %s", resp.StatusCode, msg)
		log.Error().Str("provider", string(c.Provider)).Msg("llm api error: " + errText)
		return Result{Err: errText}
	}

	content, err := c.parseContent(raw)
	if err != nil {
		return Result{Err: fmt.Sprintf("LLM call failed: %v", err)}
	}
	if strings.TrimSpace(content) == "" {
		log.Warn().Str("provider", string(c.Provider)).Msg("llm returned empty content")
	}
	return Result{Content: content, Raw: raw}
}

// drillErrorMessage pulls error.message out of a failure body, falling back
// to the raw text.
func drillErrorMessage(raw []byte) string {
	var env errorEnvelope
	if err := json.Unmarshal(raw, &env); err == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	s := strings.TrimSpace(string(raw))
	if len(s) > 500 {
		s = s[:500]
	}
	return s
}

// readAll bounds response bodies so a misbehaving endpoint cannot exhaust
// memory.
func readAll(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, 32<<20))
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) {
		return ne.Timeout()
	}
	return false
}
