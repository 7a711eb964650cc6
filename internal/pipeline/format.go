package pipeline

import (
	"fmt"
	"strings"

	"github.com/hyperifyio/deepresearch/internal/search"
	"github.com/hyperifyio/deepresearch/internal/validate"
)

// formatSearchResults renders search results grouped per query, in query
// order, for the pick-URLs prompt.
func formatSearchResults(queries []string, results map[string][]search.Result) string {
	var b strings.Builder
	for _, q := range queries {
		rs := results[q]
		if len(rs) == 0 {
			continue
		}
		fmt.Fprintf(&b, "### Results for: %s\n", q)
		for i, r := range rs {
			fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, r.Title, r.URL)
			if r.Snippet != "" {
				fmt.Fprintf(&b, "   %s\n", r.Snippet)
			}
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "No search results."
	}
	return b.String()
}

// formatScrapedPages renders fetched page text for a prompt, capping each
// page and escaping structural markers so page content cannot forge parser
// anchors. Pages appear in the order of urls; URLs without content are
// skipped.
func formatScrapedPages(urls []string, pages map[string]string, capPerPage int) string {
	var b strings.Builder
	n := 0
	for _, u := range urls {
		content, ok := pages[u]
		if !ok {
			continue
		}
		n++
		if len(content) > capPerPage {
			content = content[:capPerPage] + "\n[... truncated ...]"
		}
		fmt.Fprintf(&b, "--- SOURCE %d: %s ---\n%s\n\n", n, u, validate.EscapeMarkers(content))
	}
	if n == 0 {
		return "No page content available."
	}
	return b.String()
}

// fetchedInOrder returns the picked URLs that actually yielded content,
// preserving pick order. Local dossier citations [1]..[k] refer to exactly
// this sequence.
func fetchedInOrder(picked []string, pages map[string]string) []string {
	out := make([]string, 0, len(pages))
	for _, u := range picked {
		if _, ok := pages[u]; ok {
			out = append(out, u)
		}
	}
	return out
}
