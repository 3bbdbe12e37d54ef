// Package transcriber turns a recorded session's audio segments into
// per-speaker transcripts and a merged conversation timeline.
package transcriber

import (
	"regexp"
	"strings"
)

// noiseRE matches standalone filler vocalizations that carry no content.
var noiseRE = regexp.MustCompile(`(?i)\b(uhm+|um+|eh+|e{3,}|y{3,})\b`)

var (
	spaceRE      = regexp.MustCompile(`\s+`)
	punctSpaceRE = regexp.MustCompile(` +([,.!?;:])`)
	normStripRE  = regexp.MustCompile(`[^\p{L}\p{N}\s]+`)
)

// Sanitize normalizes engine output text: optional filler removal,
// whitespace collapsing, and no space before punctuation. An utterance that
// was pure filler sanitizes to the empty string.
func Sanitize(text string, stripFiller bool) string {
	t := strings.TrimSpace(text)
	if stripFiller {
		t = noiseRE.ReplaceAllString(t, "")
	}
	t = spaceRE.ReplaceAllString(t, " ")
	t = punctSpaceRE.ReplaceAllString(t, "$1")
	return strings.TrimSpace(t)
}

// normText reduces text to a comparison key for near-duplicate detection:
// lowercased, punctuation stripped, whitespace collapsed.
func normText(text string) string {
	t := strings.ToLower(text)
	t = normStripRE.ReplaceAllString(t, "")
	t = spaceRE.ReplaceAllString(t, " ")
	return strings.TrimSpace(t)
}
