package search

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"strings"
)

// FileProvider loads search results from a local JSON file for offline and
// testing use. The file is an array of {"title", "url", "snippet"} objects.
type FileProvider struct {
	Path string
}

func (f *FileProvider) Name() string { return "file" }

func (f *FileProvider) Search(_ context.Context, query string, limit int) ([]Result, error) {
	if strings.TrimSpace(f.Path) == "" {
		return nil, errors.New("file provider path is empty")
	}
	b, err := os.ReadFile(f.Path)
	if err != nil {
		return nil, err
	}
	var raw []Result
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, err
	}
	q := strings.ToLower(CleanQuery(query))
	out := make([]Result, 0, len(raw))
	for _, r := range raw {
		if r.URL == "" || r.Title == "" {
			continue
		}
		if q == "" || strings.Contains(strings.ToLower(r.Title), q) ||
			strings.Contains(strings.ToLower(r.Snippet), q) || matchesByTokens(q, r.Title+"\n"+r.Snippet) {
			r.Source = f.Name()
			out = append(out, bound(r))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}

// matchesByTokens performs a loose token-based match between the query and
// the candidate text: at least two query tokens of length >= 3 must appear,
// making the file provider usable for natural-language queries offline.
func matchesByTokens(query, text string) bool {
	text = strings.ToLower(text)
	meaningful := 0
	for _, tok := range strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	}) {
		if len(tok) < 3 {
			continue
		}
		if strings.Contains(text, tok) {
			meaningful++
			if meaningful >= 2 {
				return true
			}
		}
	}
	return false
}
