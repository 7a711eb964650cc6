package pipeline

import (
	"regexp"
	"strconv"
)

var citeTokenRe = regexp.MustCompile(`\[(\d+)\]`)

// RewriteCitations rewrites bracketed citation tokens through a local-to-
// global table in a single pass. Tokens absent from the table pass through
// untouched. Because every token is resolved against the table exactly
// once, chains like 1→3 alongside 3→1 cannot alias the way successive
// textual substitutions would, and [1] can never match inside [12].
func RewriteCitations(text string, table map[int]int) string {
	if len(table) == 0 {
		return text
	}
	return citeTokenRe.ReplaceAllStringFunc(text, func(tok string) string {
		n, err := strconv.Atoi(tok[1 : len(tok)-1])
		if err != nil {
			return tok
		}
		if g, ok := table[n]; ok && g != n {
			return "[" + strconv.Itoa(g) + "]"
		}
		return tok
	})
}
