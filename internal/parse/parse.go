// Package parse extracts structured artifacts from model output. Parsers
// are defensive: input length is capped before any regex work, sections are
// located with anchor strings rather than greedy patterns, and every output
// is bounded.
package parse

import (
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/hyperifyio/deepresearch/internal/validate"
)

const (
	// maxSmallInput bounds responses whose useful part is a short list.
	maxSmallInput = 100_000
	// maxLargeInput bounds dossier and synthesis responses.
	maxLargeInput = 500_000

	maxThinkQueries = 10
	maxPickedURLs   = 20
	maxRejections   = 10
	maxPlanPoints   = 20
	maxTitleChars   = 300
	maxPointChars   = 2000
)

const (
	anchorSessionTitle  = "=== SESSION TITLE ==="
	anchorQueries       = "=== QUERIES ==="
	anchorThinking      = "=== THINKING ==="
	anchorSearches      = "=== SEARCHES ==="
	anchorSources       = "=== SOURCES ==="
	anchorEndSources    = "=== END SOURCES ==="
	anchorEndDossier    = "=== END DOSSIER ==="
	anchorEndReport     = "=== END REPORT ==="
	anchorLearnings     = "## 💡 KEY LEARNINGS"
	anchorLearningsBare = "💡 KEY LEARNINGS"
	anchorLearningsOld  = "=== KEY LEARNINGS ==="
	anchorLearningsEnd  = "=== END LEARNINGS ==="
)

func capInput(s string, max int) string {
	if len(s) > max {
		return s[:max]
	}
	return s
}

// between returns the text after the first occurrence of start, cut at the
// first following occurrence of end (or the rest of s when end is absent).
func between(s, start, end string) (string, bool) {
	i := strings.Index(s, start)
	if i < 0 {
		return "", false
	}
	rest := s[i+len(start):]
	if end != "" {
		if j := strings.Index(rest, end); j >= 0 {
			rest = rest[:j]
		}
	}
	return rest, true
}

var (
	queryLineRe  = regexp.MustCompile(`(?i)^query\s+\d{1,3}\s*[:.]\s*(.+)$`)
	searchLineRe = regexp.MustCompile(`(?i)^search\s+\d{1,3}\s*(\([^)]{0,40}\))?\s*:\s*(.+)$`)
	urlLineRe    = regexp.MustCompile(`(?i)^url\s+\d{1,3}\s*[:.]\s*(\S+)\s*$`)
	rejectedRe   = regexp.MustCompile(`(?i)^rejected\s*[:.]\s*(.+)$`)
	planParenRe  = regexp.MustCompile(`^\((\d{1,2})\)\s*(.+)$`)
	planDotRe    = regexp.MustCompile(`^(\d{1,2})\.\s+(.+)$`)
	sourceLineRe = regexp.MustCompile(`^\[(\d{1,5})\]\s+(.+)$`)
	qParamRe     = regexp.MustCompile(`[?&]q=([^&]+)`)
	pctEscapeRe  = regexp.MustCompile(`%[0-9A-Fa-f]{2}`)
	bareURLRe    = regexp.MustCompile(`https?://[^\s<>"'\)\]]+`)
)

// Overview extracts the session title and initial search queries from an
// overview response.
func Overview(response string) (title string, queries []string) {
	response = capInput(response, maxSmallInput)

	if block, ok := between(response, anchorSessionTitle, anchorQueries); ok {
		for _, line := range strings.Split(block, "\n") {
			if t := strings.TrimSpace(line); t != "" {
				title = t
				break
			}
		}
	}
	if len(title) > maxTitleChars {
		title = title[:maxTitleChars]
	}

	if block, ok := between(response, anchorQueries, "==="); ok {
		for _, line := range strings.Split(block, "\n") {
			line = strings.TrimSpace(line)
			if m := queryLineRe.FindStringSubmatch(line); m != nil {
				q := strings.TrimSpace(m[1])
				if len(q) > validate.MaxSearchQueryLength {
					q = q[:validate.MaxSearchQueryLength]
				}
				if q != "" {
					queries = append(queries, q)
				}
			}
		}
	}
	return title, queries
}

// Think extracts the thinking block and up to ten search queries from a
// think response. Queries that look like URLs are either reduced to their
// q= keywords or dropped, and site:-scoped queries are dropped.
func Think(response string) (thinking string, queries []string) {
	response = capInput(response, maxSmallInput)

	if block, ok := between(response, anchorThinking, anchorSearches); ok {
		thinking = strings.TrimSpace(block)
	} else if block, ok := between(response, anchorThinking, ""); ok {
		thinking = strings.TrimSpace(block)
	}

	block, ok := between(response, anchorSearches, "")
	if !ok {
		return thinking, nil
	}
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		m := searchLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		q := strings.TrimSpace(m[2])
		if strings.HasPrefix(q, "http://") || strings.HasPrefix(q, "https://") {
			// A URL slipped through: recover keywords from a q= parameter
			// or drop the line.
			qm := qParamRe.FindStringSubmatch(q)
			if qm == nil {
				continue
			}
			q = strings.ReplaceAll(qm[1], "+", " ")
			q = strings.ReplaceAll(q, "%20", " ")
			q = pctEscapeRe.ReplaceAllString(q, " ")
			q = strings.TrimSpace(q)
		}
		if strings.Contains(q, "://") || strings.HasPrefix(q, "site:") {
			continue
		}
		if len(q) > validate.MaxSearchQueryLength {
			q = q[:validate.MaxSearchQueryLength]
		}
		if len(q) > 3 {
			queries = append(queries, q)
		}
		if len(queries) >= maxThinkQueries {
			break
		}
	}
	return thinking, queries
}

// PickURLs extracts selected URLs and rejection notes from a pick response.
// URLs are SSRF-filtered and capped at twenty.
func PickURLs(response string) (urls []string, rejections []string) {
	response = capInput(response, maxSmallInput)
	var raw []string
	for _, line := range strings.Split(response, "\n") {
		line = strings.TrimSpace(line)
		if m := urlLineRe.FindStringSubmatch(line); m != nil {
			raw = append(raw, m[1])
			continue
		}
		if m := rejectedRe.FindStringSubmatch(line); m != nil && len(rejections) < maxRejections {
			note := strings.TrimSpace(m[1])
			if len(note) > 500 {
				note = note[:500]
			}
			rejections = append(rejections, note)
		}
	}
	urls = validate.FilterURLs(raw)
	if len(urls) > maxPickedURLs {
		urls = urls[:maxPickedURLs]
	}
	return urls, rejections
}

// Plan extracts plan points from a plan response. The primary format is
// "(N) point" blocks separated by blank lines; "N. point" lines are the
// fallback.
func Plan(response string) []string {
	response = capInput(response, maxSmallInput)
	points := planBlocks(response, planParenRe)
	if len(points) == 0 {
		points = planBlocks(response, planDotRe)
	}
	if len(points) > maxPlanPoints {
		points = points[:maxPlanPoints]
	}
	return points
}

// planBlocks collects numbered blocks: a matching line starts a point and
// following non-blank, non-numbered lines continue it.
func planBlocks(response string, re *regexp.Regexp) []string {
	var points []string
	var current strings.Builder
	flush := func() {
		p := strings.TrimSpace(current.String())
		if p != "" {
			if len(p) > maxPointChars {
				p = p[:maxPointChars]
			}
			points = append(points, p)
		}
		current.Reset()
	}
	for _, line := range strings.Split(response, "\n") {
		trimmed := strings.TrimSpace(line)
		if m := re.FindStringSubmatch(trimmed); m != nil {
			flush()
			current.WriteString(strings.TrimSpace(m[2]))
			continue
		}
		if trimmed == "" {
			flush()
			continue
		}
		if current.Len() > 0 && current.Len() < maxPointChars {
			current.WriteString(" ")
			current.WriteString(trimmed)
		}
	}
	flush()
	return points
}

// sourcesBlock scans the "[N] url - description" lines between the sources
// anchors. Overlong lines are skipped; citation numbers are bounded.
func sourcesBlock(response string) map[int]string {
	citations := make(map[int]string)
	block, ok := between(response, anchorSources, anchorEndSources)
	if !ok {
		return citations
	}
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || len(line) > 2000 {
			continue
		}
		m := sourceLineRe.FindStringSubmatch(line)
		if m == nil || utf8.RuneCountInString(m[2]) > 1900 {
			continue
		}
		num, err := strconv.Atoi(m[1])
		if err != nil || num < 1 || num > 99_999 {
			continue
		}
		citations[num] = strings.TrimSpace(m[2])
	}
	return citations
}

// Dossier splits a dossier response into the dossier body, the key-learnings
// block, and the local citation map.
func Dossier(response string) (dossierText string, keyLearnings string, citations map[int]string) {
	response = capInput(response, maxLargeInput)
	citations = sourcesBlock(response)

	dossierText = strings.TrimSpace(response)
	splitAnchor := ""
	for _, anchor := range []string{anchorLearnings, anchorLearningsBare, anchorLearningsOld} {
		if strings.Contains(response, anchor) {
			splitAnchor = anchor
			break
		}
	}
	if splitAnchor == "" {
		return dossierText, "", citations
	}
	parts := strings.SplitN(response, splitAnchor, 2)
	dossierText = strings.TrimSpace(parts[0])
	learnings := parts[1]
	for _, end := range []string{anchorSources, anchorLearningsEnd, anchorEndDossier} {
		if i := strings.Index(learnings, end); i >= 0 {
			learnings = learnings[:i]
		}
	}
	return dossierText, strings.TrimSpace(learnings), citations
}

// Synthesis splits a final-synthesis response into the report body and its
// citation map. The body ends where the sources block (or the end-report
// marker) begins.
func Synthesis(response string) (reportText string, citations map[int]string) {
	response = capInput(response, maxLargeInput)
	citations = sourcesBlock(response)

	reportText = response
	if i := strings.Index(reportText, anchorSources); i >= 0 {
		reportText = reportText[:i]
	}
	reportText = strings.ReplaceAll(reportText, anchorEndReport, "")
	return strings.TrimSpace(reportText), citations
}

// ScrapeURLs is the fallback extractor: it pulls bare http(s) URLs out of
// free text, SSRF-filters them, and caps the result.
func ScrapeURLs(response string) []string {
	response = capInput(response, maxSmallInput)
	matches := bareURLRe.FindAllString(response, maxPickedURLs*2)
	cleaned := make([]string, 0, len(matches))
	seen := make(map[string]struct{}, len(matches))
	for _, m := range matches {
		m = strings.TrimRight(m, ".,;")
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		cleaned = append(cleaned, m)
	}
	urls := validate.FilterURLs(cleaned)
	if len(urls) > maxPickedURLs {
		urls = urls[:maxPickedURLs]
	}
	return urls
}
