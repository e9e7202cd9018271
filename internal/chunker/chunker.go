// Package chunker splits long text into synthesis-sized segments.
package chunker

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxChars is the per-chunk budget applied when a caller passes a
// non-positive limit.
const DefaultMaxChars = 1000

// boundaries in preference order. The winning cut is the boundary whose last
// occurrence ends furthest right in the window, regardless of list position.
var boundaries = []string{". ", "! ", "? ", "\n", "\r"}

// Split breaks text into ordered chunks of at most maxChars bytes, cutting at
// sentence boundaries when possible, then at the last space, then hard. Every
// chunk is trimmed and non-empty; empty or all-whitespace input yields nil.
func Split(text string, maxChars int) []string {
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}
	rest := strings.TrimSpace(text)
	if rest == "" {
		return nil
	}

	var chunks []string
	for len(rest) > 0 {
		if len(rest) <= maxChars {
			chunks = append(chunks, rest)
			break
		}
		window := rest[:maxChars]
		cut := 0
		for _, b := range boundaries {
			if idx := strings.LastIndex(window, b); idx >= 0 && idx+len(b) > cut {
				cut = idx + len(b)
			}
		}
		if cut == 0 {
			if idx := strings.LastIndex(window, " "); idx > 0 {
				cut = idx
			} else {
				// Hard cut, backed off so a multi-byte rune is never split.
				cut = maxChars
				for cut > 0 && !utf8.RuneStart(rest[cut]) {
					cut--
				}
				if cut == 0 {
					_, cut = utf8.DecodeRuneInString(rest)
				}
			}
		}
		if chunk := strings.TrimSpace(rest[:cut]); chunk != "" {
			chunks = append(chunks, chunk)
		}
		rest = strings.TrimSpace(rest[cut:])
	}
	return chunks
}
