// Package lang normalizes user-supplied language hints into BCP 47 tags.
package lang

import "golang.org/x/text/language"

// Normalize parses a language hint such as "en", "de-DE", or "fin" and
// returns its canonical tag. Empty or unparseable hints fall back to "en".
func Normalize(hint string) string {
	if hint == "" {
		return "en"
	}
	tag, err := language.Parse(hint)
	if err != nil || tag == language.Und {
		return "en"
	}
	return tag.String()
}
