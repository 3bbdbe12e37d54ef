package timeline

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"voice-scribe-service/internal/models"
)

var testOpts = MergeOptions{MaxGap: 2 * time.Second, MaxMergedChars: 400}

func seg(speaker, id string, epoch, start, end float64, text, file string) models.TranscriptSegment {
	return models.TranscriptSegment{
		Speaker:      speaker,
		SpeakerID:    id,
		Start:        start,
		End:          end,
		Text:         text,
		File:         file,
		SessionEpoch: epoch,
	}
}

func TestMergeSegments_JoinsSmallGaps(t *testing.T) {
	segs := []models.TranscriptSegment{
		seg("alice", "1001", 0, 0.0, 1.0, "dobra", "a.wav"),
		seg("alice", "1001", 0, 2.0, 3.0, "zaczynamy", "a.wav"),
	}

	merged := MergeSegments(segs, testOpts)

	if len(merged) != 1 {
		t.Fatalf("expected 1 merged segment, got %d", len(merged))
	}
	if merged[0].Text != "dobra zaczynamy" {
		t.Errorf("unexpected merged text: %q", merged[0].Text)
	}
	if merged[0].Start != 0.0 || merged[0].End != 3.0 {
		t.Errorf("unexpected merged bounds: %v-%v", merged[0].Start, merged[0].End)
	}
}

func TestMergeSegments_LargeGapStaysSplit(t *testing.T) {
	segs := []models.TranscriptSegment{
		seg("alice", "1001", 0, 0.0, 1.0, "dobra", "a.wav"),
		seg("alice", "1001", 0, 6.0, 7.0, "zaczynamy", "a.wav"),
	}

	if merged := MergeSegments(segs, testOpts); len(merged) != 2 {
		t.Errorf("expected 2 segments for a 5s gap, got %d", len(merged))
	}
}

func TestMergeSegments_CharBudgetStopsMerge(t *testing.T) {
	long := strings.Repeat("x", 250)
	segs := []models.TranscriptSegment{
		seg("alice", "1001", 0, 0.0, 1.0, long, "a.wav"),
		seg("alice", "1001", 0, 1.5, 2.5, long, "a.wav"),
	}

	if merged := MergeSegments(segs, testOpts); len(merged) != 2 {
		t.Errorf("expected char budget to prevent merge, got %d segments", len(merged))
	}
}

func TestMergeSegments_DifferentFilesStaySplit(t *testing.T) {
	segs := []models.TranscriptSegment{
		seg("alice", "1001", 0, 0.0, 1.0, "dobra", "a.wav"),
		seg("alice", "1001", 10, 1.2, 2.0, "zaczynamy", "b.wav"),
	}

	if merged := MergeSegments(segs, testOpts); len(merged) != 2 {
		t.Errorf("expected segments from different files to stay split, got %d", len(merged))
	}
}

func TestMergeSegments_Empty(t *testing.T) {
	if merged := MergeSegments(nil, testOpts); merged != nil {
		t.Errorf("expected nil for empty input, got %v", merged)
	}
}

func TestBuild_InterleavesBySessionTime(t *testing.T) {
	perSpeaker := map[string][]models.TranscriptSegment{
		"1001": {
			seg("alice", "1001", 0, 0.0, 1.5, "czesc wszystkim", "a0.wav"),
			seg("alice", "1001", 5, 0.0, 1.0, "to zaczynamy", "a1.wav"),
		},
		"2002": {
			seg("bob", "2002", 2, 0.0, 1.5, "hej", "b0.wav"),
		},
	}

	tl := Build("/rec/s1", "2026-08-30T10:00:00Z", perSpeaker, []string{"1001", "2002"}, testOpts)

	if len(tl.Segments) != 3 {
		t.Fatalf("expected 3 entries, got %d: %+v", len(tl.Segments), tl.Segments)
	}
	order := []string{tl.Segments[0].Speaker, tl.Segments[1].Speaker, tl.Segments[2].Speaker}
	if !reflect.DeepEqual(order, []string{"alice", "bob", "alice"}) {
		t.Errorf("unexpected speaker order: %v", order)
	}
	if tl.Segments[1].Start != 2.0 {
		t.Errorf("expected session-relative start 2.0, got %v", tl.Segments[1].Start)
	}
	if tl.SessionStartISO != "2026-08-30T10:00:00Z" {
		t.Errorf("unexpected session start: %s", tl.SessionStartISO)
	}
	if tl.Segments[1].AbsoluteStart != "2026-08-30T10:00:02Z" {
		t.Errorf("unexpected absolute start: %s", tl.Segments[1].AbsoluteStart)
	}
}

func TestBuild_NoSessionStartLeavesAbsoluteEmpty(t *testing.T) {
	perSpeaker := map[string][]models.TranscriptSegment{
		"1001": {seg("alice", "1001", 0, 0.0, 1.0, "tak", "a.wav")},
	}

	tl := Build("/rec/s1", "", perSpeaker, []string{"1001"}, testOpts)

	if got := tl.Segments[0].AbsoluteStart; got != "" {
		t.Errorf("expected no absolute start without a session start, got %q", got)
	}
}

func TestBuild_TieBrokenByJoinOrder(t *testing.T) {
	perSpeaker := map[string][]models.TranscriptSegment{
		"1001": {seg("alice", "1001", 3, 0.0, 1.0, "tak", "a.wav")},
		"2002": {seg("bob", "2002", 3, 0.0, 1.0, "nie", "b.wav")},
	}

	tl := Build("/rec/s1", "", perSpeaker, []string{"2002", "1001"}, testOpts)

	if len(tl.Segments) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(tl.Segments))
	}
	if tl.Segments[0].Speaker != "bob" {
		t.Errorf("expected join order to break the tie, got %s first", tl.Segments[0].Speaker)
	}
}

func TestBuild_MergesAdjacentSameSpeaker(t *testing.T) {
	perSpeaker := map[string][]models.TranscriptSegment{
		"1001": {
			seg("alice", "1001", 0, 0.0, 1.0, "dobra", "a0.wav"),
			seg("alice", "1001", 2, 0.0, 1.0, "zaczynamy", "a1.wav"),
		},
	}

	tl := Build("/rec/s1", "", perSpeaker, []string{"1001"}, testOpts)

	if len(tl.Segments) != 1 {
		t.Fatalf("expected merged entry, got %d", len(tl.Segments))
	}
	e := tl.Segments[0]
	if e.Text != "dobra zaczynamy" {
		t.Errorf("unexpected merged text: %q", e.Text)
	}
	if !reflect.DeepEqual(e.Files, []string{"a0.wav", "a1.wav"}) {
		t.Errorf("expected both source files recorded, got %v", e.Files)
	}
}

func TestBuild_Empty(t *testing.T) {
	tl := Build("/rec/s1", "", nil, nil, testOpts)
	if tl.Segments == nil || len(tl.Segments) != 0 {
		t.Errorf("expected empty non-nil segments, got %v", tl.Segments)
	}
}

func TestFormatTimestamp(t *testing.T) {
	tests := []struct {
		seconds float64
		sep     string
		want    string
	}{
		{0, ",", "00:00:00,000"},
		{1.5, ",", "00:00:01,500"},
		{61.042, ",", "00:01:01,042"},
		{3661.007, ".", "01:01:01.007"},
		{-2, ",", "00:00:00,000"},
	}
	for _, tt := range tests {
		if got := formatTimestamp(tt.seconds, tt.sep); got != tt.want {
			t.Errorf("formatTimestamp(%v) = %q, want %q", tt.seconds, got, tt.want)
		}
	}
}

func TestWriteSRT(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.srt")
	cues := []Cue{
		{Start: 0, End: 1.5, Text: "czesc wszystkim"},
		{Start: 2, End: 3, Text: "hej"},
	}

	if err := WriteSRT(path, cues); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, _ := os.ReadFile(path)
	want := "1\n00:00:00,000 --> 00:00:01,500\nczesc wszystkim\n\n2\n00:00:02,000 --> 00:00:03,000\nhej\n\n"
	if string(data) != want {
		t.Errorf("unexpected srt output:\n%s", data)
	}
}

func TestWriteVTT(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.vtt")
	cues := []Cue{{Start: 0, End: 1.5, Text: "czesc"}}

	if err := WriteVTT(path, cues); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	data, _ := os.ReadFile(path)
	want := "WEBVTT\n\n00:00:00.000 --> 00:00:01.500\nczesc\n\n"
	if string(data) != want {
		t.Errorf("unexpected vtt output:\n%s", data)
	}
}
