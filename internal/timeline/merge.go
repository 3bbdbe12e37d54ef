// Package timeline assembles per-speaker transcript segments into a single
// ordered conversation and renders subtitle exports.
package timeline

import (
	"sort"
	"strings"
	"time"

	"voice-scribe-service/internal/models"
	"voice-scribe-service/internal/observability/metrics"
)

// MergeOptions tunes how adjacent same-speaker segments are joined.
type MergeOptions struct {
	// MaxGap is the largest silence between two segments that still joins
	// them into one entry.
	MaxGap time.Duration
	// MaxMergedChars caps the combined text length of a merged entry so
	// short pauses never produce wall-of-text entries.
	MaxMergedChars int
}

// MergeSegments joins consecutive segments of one speaker's transcript when
// the gap between them is small and the combined text stays readable. Input
// order is preserved; times stay relative to the source audio file.
func MergeSegments(segs []models.TranscriptSegment, opts MergeOptions) []models.TranscriptSegment {
	if len(segs) == 0 {
		return nil
	}

	out := make([]models.TranscriptSegment, 0, len(segs))
	cur := segs[0]
	for _, next := range segs[1:] {
		gap := next.Start - cur.End
		combined := len(cur.Text) + 1 + len(next.Text)
		if next.File == cur.File && gap >= 0 && gap <= opts.MaxGap.Seconds() && combined <= opts.MaxMergedChars {
			cur.End = next.End
			cur.Text = strings.TrimSpace(cur.Text + " " + next.Text)
			cur.Words = append(cur.Words, next.Words...)
			continue
		}
		out = append(out, cur)
		cur = next
	}
	return append(out, cur)
}

// Build interleaves every speaker's segments into one session-relative
// conversation. Ordering is by absolute start time; exact ties fall back to
// the order in which speakers first appeared in the session. Adjacent
// entries by the same speaker are soft-merged under the same gap and length
// rules as per-speaker transcripts. When the session start is known, every
// entry also carries its wall-clock start.
func Build(sessionDir, sessionStartISO string, perSpeaker map[string][]models.TranscriptSegment, joinOrder []string, opts MergeOptions) models.Timeline {
	rank := make(map[string]int, len(joinOrder))
	for i, id := range joinOrder {
		rank[id] = i
	}
	rankOf := func(id string) int {
		if r, ok := rank[id]; ok {
			return r
		}
		return len(rank)
	}

	var entries []models.TimelineEntry
	for _, segs := range perSpeaker {
		for _, seg := range segs {
			entries = append(entries, models.TimelineEntry{
				Speaker:   seg.Speaker,
				SpeakerID: seg.SpeakerID,
				Start:     seg.SessionEpoch + seg.Start,
				End:       seg.SessionEpoch + seg.End,
				Text:      seg.Text,
				Files:     []string{seg.File},
			})
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Start != entries[j].Start {
			return entries[i].Start < entries[j].Start
		}
		return rankOf(entries[i].SpeakerID) < rankOf(entries[j].SpeakerID)
	})

	merged := mergeEntries(entries, opts)
	if start, err := time.Parse(time.RFC3339, sessionStartISO); err == nil {
		for i := range merged {
			abs := start.Add(time.Duration(merged[i].Start * float64(time.Second)))
			merged[i].AbsoluteStart = abs.UTC().Format(time.RFC3339)
		}
	}
	metrics.DefaultMetrics.TimelineEntries.Add(float64(len(merged)))

	return models.Timeline{
		SessionDir:      sessionDir,
		SessionStartISO: sessionStartISO,
		GeneratedAt:     time.Now().UTC().Format(time.RFC3339),
		Segments:        merged,
	}
}

func mergeEntries(entries []models.TimelineEntry, opts MergeOptions) []models.TimelineEntry {
	if len(entries) == 0 {
		return []models.TimelineEntry{}
	}

	out := make([]models.TimelineEntry, 0, len(entries))
	cur := entries[0]
	for _, next := range entries[1:] {
		gap := next.Start - cur.End
		combined := len(cur.Text) + 1 + len(next.Text)
		if next.SpeakerID == cur.SpeakerID && gap >= 0 && gap <= opts.MaxGap.Seconds() && combined <= opts.MaxMergedChars {
			cur.End = next.End
			cur.Text = strings.TrimSpace(cur.Text + " " + next.Text)
			cur.Files = appendUnique(cur.Files, next.Files...)
			continue
		}
		out = append(out, cur)
		cur = next
	}
	return append(out, cur)
}

func appendUnique(files []string, more ...string) []string {
	for _, f := range more {
		dup := false
		for _, have := range files {
			if have == f {
				dup = true
				break
			}
		}
		if !dup {
			files = append(files, f)
		}
	}
	return files
}
