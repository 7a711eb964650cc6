package search

import (
	"context"
	"strings"

	"github.com/hyperifyio/deepresearch/internal/validate"
)

// Field bounds applied at the adapter boundary so oversized upstream
// responses cannot bloat state or prompts.
const (
	maxTitleChars   = 500
	maxSnippetChars = 500
)

// Result represents a single search hit from any provider.
type Result struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
	Source  string `json:"source,omitempty"` // provider name for observability
}

// Provider is a minimal interface for search providers.
type Provider interface {
	Search(ctx context.Context, query string, limit int) ([]Result, error)
	Name() string
}

// CleanQuery strips quote characters and bounds query length before a query
// reaches a provider.
func CleanQuery(q string) string {
	q = strings.TrimSpace(q)
	q = strings.NewReplacer(`"`, "", "'", "", "“", "", "”", "").Replace(q)
	if len(q) > validate.MaxSearchQueryLength {
		q = q[:validate.MaxSearchQueryLength]
	}
	return q
}

// bound clamps a result's fields to the adapter limits.
func bound(r Result) Result {
	if len(r.Title) > maxTitleChars {
		r.Title = r.Title[:maxTitleChars]
	}
	if len(r.Snippet) > maxSnippetChars {
		r.Snippet = r.Snippet[:maxSnippetChars]
	}
	if len(r.URL) > validate.MaxURLLength {
		r.URL = r.URL[:validate.MaxURLLength]
	}
	return r
}
