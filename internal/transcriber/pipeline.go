package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"voice-scribe-service/internal/events"
	"voice-scribe-service/internal/manifest"
	"voice-scribe-service/internal/models"
	"voice-scribe-service/internal/observability/logging"
	"voice-scribe-service/internal/timeline"
)

// Config holds pipeline tunables.
type Config struct {
	MergeMaxGap     time.Duration
	MergeMaxChars   int
	MinSegmentBytes int64
}

// Pipeline assembles a recorded session directory into transcripts: one
// JSON/SRT/VTT triple per speaker, a merged conversation timeline, and a
// synchronized manifest.
type Pipeline struct {
	cfg Config
	seg *Segmenter
	pub *events.Publisher
}

// New creates a transcription pipeline over a provisioned segmenter.
func New(cfg Config, seg *Segmenter, pub *events.Publisher) *Pipeline {
	return &Pipeline{cfg: cfg, seg: seg, pub: pub}
}

// Result summarizes one pipeline run.
type Result struct {
	Speakers     int
	Segments     int
	TimelinePath string
	Succeeded    []string // speaker ids with written artifacts
	Failed       []string // speaker ids none of whose segments transcribed
	FailedFiles  []string // raw segments skipped after an engine error
}

// sourceFile is one raw audio segment attributed to a speaker.
type sourceFile struct {
	path    string // absolute
	relPath string // relative to the session directory
	speaker string
	id      string
	index   int     // recorder segment index, for ordering
	epoch   float64 // session-relative start in seconds
}

// segFileRE parses recorder file names: <speaker>_<id>_seg<NNN>.wav.
var segFileRE = regexp.MustCompile(`^(.+)_([^_]+)_seg(\d+)\.wav$`)

// Run transcribes every raw segment in sessionDir and writes all derived
// artifacts under its transcripts directory.
func (p *Pipeline) Run(ctx context.Context, sessionDir string) (*Result, error) {
	log := logging.WithStage(sessionDir, "transcribe")

	doc, err := manifest.Load(filepath.Join(sessionDir, "manifest.json"))
	if err != nil {
		return nil, err
	}

	sources, joinOrder, recoveredStart, err := p.collectSources(sessionDir, doc)
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("no usable audio segments in %s", sessionDir)
	}

	// A session recorded elsewhere may lack a start timestamp; persist the
	// estimate so reruns and downstream readers agree on it.
	if stringField(doc, "startISO") == "" && recoveredStart != "" {
		doc["startISO"] = recoveredStart
		if err := manifest.WriteAtomic(filepath.Join(sessionDir, "manifest.json"), doc); err != nil {
			return nil, err
		}
		log.Info().Str("startISO", recoveredStart).Msg("Recovered session start from segment timestamps")
	}

	transcriptsDir := filepath.Join(sessionDir, "transcripts")
	if err := os.MkdirAll(transcriptsDir, 0o755); err != nil {
		return nil, fmt.Errorf("create transcripts directory: %w", err)
	}

	// Group per speaker, in stable speaker order.
	bySpeaker := make(map[string][]sourceFile)
	for _, src := range sources {
		bySpeaker[src.id] = append(bySpeaker[src.id], src)
	}
	ids := make([]string, 0, len(bySpeaker))
	for id := range bySpeaker {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	mergeOpts := timeline.MergeOptions{MaxGap: p.cfg.MergeMaxGap, MaxMergedChars: p.cfg.MergeMaxChars}
	perSpeaker := make(map[string][]models.TranscriptSegment)
	arts := manifest.Artifacts{PerSpeaker: map[string]manifest.SpeakerArtifacts{}}
	totalSegments := 0

	var succeeded, failed, failedFiles []string
	for _, id := range ids {
		files := bySpeaker[id]
		sort.Slice(files, func(i, j int) bool {
			if files[i].index != files[j].index {
				return files[i].index < files[j].index
			}
			return files[i].relPath < files[j].relPath
		})

		var segs []models.TranscriptSegment
		wavPaths := make([]string, 0, len(files))
		for _, src := range files {
			fileSegs, err := p.seg.TranscribeFile(ctx, src.path, src.speaker, src.id, src.epoch)
			if err != nil {
				// A damaged segment must not take the rest of the
				// session down with it.
				log.Warn().Err(err).Str("speaker", src.speaker).Str("file", src.relPath).Msg("Skipping segment that failed to transcribe")
				failedFiles = append(failedFiles, src.relPath)
				continue
			}
			wavPaths = append(wavPaths, src.relPath)
			segs = append(segs, fileSegs...)
		}
		if len(wavPaths) == 0 {
			failed = append(failed, id)
			log.Warn().Str("speaker", files[0].speaker).Int("files", len(files)).Msg("No transcribable audio for speaker")
			continue
		}

		merged := timeline.MergeSegments(segs, mergeOpts)
		perSpeaker[id] = merged
		totalSegments += len(merged)

		sa, err := p.writeSpeaker(transcriptsDir, id, files[0].speaker, merged)
		if err != nil {
			return nil, err
		}
		sa.WavPaths = wavPaths
		arts.PerSpeaker[id] = sa
		succeeded = append(succeeded, id)

		log.Info().Str("speaker", files[0].speaker).Int("segments", len(merged)).Msg("Speaker transcript written")
	}
	if len(succeeded) == 0 {
		return nil, fmt.Errorf("transcription failed for every speaker in %s", sessionDir)
	}

	tl := timeline.Build(sessionDir, stringField(doc, "startISO"), perSpeaker, joinOrder, mergeOpts)
	timelinePath, err := p.writeTimeline(sessionDir, transcriptsDir, tl, arts, doc)
	if err != nil {
		return nil, err
	}

	arts.Timeline = "transcripts/conversation.json"
	arts.UpdatedAt = time.Now().UTC().Format(time.RFC3339)
	if _, err := manifest.Sync(filepath.Join(sessionDir, "manifest.json"), arts); err != nil {
		return nil, err
	}

	res := &Result{
		Speakers:     len(succeeded),
		Segments:     totalSegments,
		TimelinePath: timelinePath,
		Succeeded:    succeeded,
		Failed:       failed,
		FailedFiles:  failedFiles,
	}

	if p.pub != nil {
		ev := models.TranscriptCompleted{
			EventType:  "voice.transcript.completed",
			SessionDir: sessionDir,
			Speakers:   res.Speakers,
			Segments:   res.Segments,
			Timeline:   arts.Timeline,
			Timestamp:  time.Now().UnixMilli(),
		}
		if err := p.pub.PublishTranscript(ctx, stringField(doc, "sessionId"), ev); err != nil {
			log.Warn().Err(err).Msg("Failed to publish transcript completion event")
		}
	}

	log.Info().Int("speakers", res.Speakers).Int("segments", res.Segments).Int("skippedFiles", len(failedFiles)).Msg("Transcription complete")
	return res, nil
}

// collectSources lists the usable raw audio segments and attributes each to
// a speaker. Attribution prefers the manifest's recordings section; for
// files the manifest does not know, the recorder's file naming is parsed.
// Session-relative offsets likewise come from the manifest, falling back to
// file modification times.
func (p *Pipeline) collectSources(sessionDir string, doc map[string]any) ([]sourceFile, []string, string, error) {
	rawDir := filepath.Join(sessionDir, "raw")
	entries, err := os.ReadDir(rawDir)
	if err != nil {
		return nil, nil, "", fmt.Errorf("read raw directory: %w", err)
	}

	type recording struct {
		speaker  string
		id       string
		offsetMs float64
	}
	known := map[string]recording{}
	if recs, ok := doc["recordings"].([]any); ok {
		for _, r := range recs {
			m, ok := r.(map[string]any)
			if !ok {
				continue
			}
			rel := stringField(m, "path")
			offset, _ := m["startOffsetMs"].(float64)
			known[filepath.Base(rel)] = recording{
				speaker:  stringField(m, "speaker"),
				id:       stringField(m, "speakerId"),
				offsetMs: offset,
			}
		}
	}

	sessionStart, haveStart := parseISO(stringField(doc, "startISO"))
	recoveredStart := ""
	if !haveStart {
		// Oldest segment approximates the session start.
		for _, e := range entries {
			if info, err := e.Info(); err == nil && strings.HasSuffix(e.Name(), ".wav") {
				if !haveStart || info.ModTime().Before(sessionStart) {
					sessionStart = info.ModTime()
					haveStart = true
				}
			}
		}
		if haveStart {
			recoveredStart = sessionStart.UTC().Format(time.RFC3339)
		}
	}

	minBytes := p.cfg.MinSegmentBytes
	if minBytes <= 0 {
		minBytes = 1024
	}

	var sources []sourceFile
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".wav") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.Size() < minBytes {
			continue
		}

		src := sourceFile{
			path:    filepath.Join(rawDir, name),
			relPath: filepath.Join("raw", name),
		}
		// The numeric index orders a speaker's segments; a lexical sort of
		// zero-padded names breaks past the padding width.
		m := segFileRE.FindStringSubmatch(name)
		if m != nil {
			src.index, _ = strconv.Atoi(m[3])
		}
		if rec, ok := known[name]; ok && rec.id != "" {
			src.speaker = rec.speaker
			src.id = rec.id
			src.epoch = rec.offsetMs / 1000
		} else if m != nil {
			src.speaker = m[1]
			src.id = m[2]
			if haveStart {
				if d := info.ModTime().Sub(sessionStart).Seconds(); d > 0 {
					src.epoch = d
				}
			}
		} else {
			continue
		}
		if src.speaker == "" {
			src.speaker = src.id
		}
		sources = append(sources, src)
	}

	var joinOrder []string
	if order, ok := doc["speakerOrder"].([]any); ok {
		for _, v := range order {
			if s, ok := v.(string); ok {
				joinOrder = append(joinOrder, s)
			}
		}
	}
	return sources, joinOrder, recoveredStart, nil
}

// writeSpeaker persists one speaker's JSON, SRT and VTT artifacts. Subtitle
// cue times are session-relative so the exports line up across speakers.
func (p *Pipeline) writeSpeaker(transcriptsDir, id, speaker string, segs []models.TranscriptSegment) (manifest.SpeakerArtifacts, error) {
	base := "user_" + safeID(id)
	sa := manifest.SpeakerArtifacts{
		JSONPath: filepath.Join("transcripts", base+".json"),
		SRTPath:  filepath.Join("transcripts", base+".srt"),
		VTTPath:  filepath.Join("transcripts", base+".vtt"),
	}

	payload := map[string]any{
		"speaker":     speaker,
		"speakerId":   id,
		"generatedAt": time.Now().UTC().Format(time.RFC3339),
		"segments":    segs,
	}
	if err := writeJSON(filepath.Join(transcriptsDir, base+".json"), payload); err != nil {
		return sa, err
	}

	cues := make([]timeline.Cue, 0, len(segs))
	for _, s := range segs {
		cues = append(cues, timeline.Cue{
			Start: s.SessionEpoch + s.Start,
			End:   s.SessionEpoch + s.End,
			Text:  s.Text,
		})
	}
	if err := timeline.WriteSRT(filepath.Join(transcriptsDir, base+".srt"), cues); err != nil {
		return sa, err
	}
	if err := timeline.WriteVTT(filepath.Join(transcriptsDir, base+".vtt"), cues); err != nil {
		return sa, err
	}
	return sa, nil
}

// writeTimeline persists the merged conversation, the combined subtitle
// export, and the session index.
func (p *Pipeline) writeTimeline(sessionDir, transcriptsDir string, tl models.Timeline, arts manifest.Artifacts, doc map[string]any) (string, error) {
	timelinePath := filepath.Join(transcriptsDir, "conversation.json")
	if err := writeJSON(timelinePath, tl); err != nil {
		return "", err
	}

	cues := make([]timeline.Cue, 0, len(tl.Segments))
	for _, e := range tl.Segments {
		cues = append(cues, timeline.Cue{
			Start: e.Start,
			End:   e.End,
			Text:  fmt.Sprintf("%s: %s", e.Speaker, e.Text),
		})
	}
	if err := timeline.WriteSRT(filepath.Join(transcriptsDir, "all_in_one.srt"), cues); err != nil {
		return "", err
	}

	speakers := make([]map[string]any, 0, len(arts.PerSpeaker))
	ids := make([]string, 0, len(arts.PerSpeaker))
	for id := range arts.PerSpeaker {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		sa := arts.PerSpeaker[id]
		speakers = append(speakers, map[string]any{
			"speakerId": id,
			"wavPath":   sa.WavPaths,
			"jsonPath":  sa.JSONPath,
			"srtPath":   sa.SRTPath,
			"vttPath":   sa.VTTPath,
		})
	}
	index := map[string]any{
		"sessionId":   stringField(doc, "sessionId"),
		"roomId":      stringField(doc, "roomId"),
		"generatedAt": time.Now().UTC().Format(time.RFC3339),
		"speakers":    speakers,
		"timeline":    "transcripts/conversation.json",
		"combinedSrt": "transcripts/all_in_one.srt",
		"segments":    len(tl.Segments),
	}
	if err := writeJSON(filepath.Join(transcriptsDir, "index.json"), index); err != nil {
		return "", err
	}
	return timelinePath, nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

func stringField(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

func parseISO(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func safeID(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, id)
}
