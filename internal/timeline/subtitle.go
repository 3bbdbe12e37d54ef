package timeline

import (
	"fmt"
	"os"
	"strings"
)

// Cue is one timed subtitle entry with offsets in seconds.
type Cue struct {
	Start float64
	End   float64
	Text  string
}

// formatTimestamp renders seconds as HH:MM:SS<sep>mmm. SRT separates the
// millisecond field with a comma, WebVTT with a dot.
func formatTimestamp(seconds float64, sep string) string {
	if seconds < 0 {
		seconds = 0
	}
	ms := int64(seconds*1000 + 0.5)
	h := ms / 3_600_000
	ms -= h * 3_600_000
	m := ms / 60_000
	ms -= m * 60_000
	s := ms / 1000
	ms -= s * 1000
	return fmt.Sprintf("%02d:%02d:%02d%s%03d", h, m, s, sep, ms)
}

// WriteSRT writes cues as a SubRip file.
func WriteSRT(path string, cues []Cue) error {
	var b strings.Builder
	for i, c := range cues {
		fmt.Fprintf(&b, "%d\n%s --> %s\n%s\n\n",
			i+1,
			formatTimestamp(c.Start, ","),
			formatTimestamp(c.End, ","),
			strings.TrimSpace(c.Text))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write srt %s: %w", path, err)
	}
	return nil
}

// WriteVTT writes cues as a WebVTT file.
func WriteVTT(path string, cues []Cue) error {
	var b strings.Builder
	b.WriteString("WEBVTT\n\n")
	for _, c := range cues {
		fmt.Fprintf(&b, "%s --> %s\n%s\n\n",
			formatTimestamp(c.Start, "."),
			formatTimestamp(c.End, "."),
			strings.TrimSpace(c.Text))
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("write vtt %s: %w", path, err)
	}
	return nil
}
