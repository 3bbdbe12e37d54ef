// Package manifest maintains the durable per-session descriptor. The
// transcription pipeline only ever touches the reserved "transcripts"
// section; every other top-level field passes through untouched.
package manifest

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"voice-scribe-service/internal/observability/metrics"
)

// ReservedKey is the manifest section owned by the transcription pipeline.
const ReservedKey = "transcripts"

// SpeakerArtifacts references the files produced for one speaker.
type SpeakerArtifacts struct {
	WavPaths []string `json:"wavPath"`
	JSONPath string   `json:"jsonPath"`
	SRTPath  string   `json:"srtPath"`
	VTTPath  string   `json:"vttPath"`
}

// Artifacts is the set of references merged into the reserved section.
type Artifacts struct {
	PerSpeaker map[string]SpeakerArtifacts
	Timeline   string
	UpdatedAt  string
}

// Load reads a manifest document, returning an empty shell when the file
// does not exist. A corrupt manifest is an error, not silently replaced.
func Load(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]any{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", path, err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse manifest %s: %w", path, err)
	}
	if doc == nil {
		doc = map[string]any{}
	}
	return doc, nil
}

// Merge deep-merges new artifacts into the reserved transcripts section of
// the existing document. Per-speaker entries for regenerated artifacts are
// replaced; entries for other speakers and all fields outside the reserved
// section are preserved. Merging the same artifacts twice yields the same
// document.
func Merge(existing map[string]any, arts Artifacts) map[string]any {
	out := make(map[string]any, len(existing)+1)
	for k, v := range existing {
		out[k] = v
	}

	section := map[string]any{}
	if prev, ok := existing[ReservedKey].(map[string]any); ok {
		for k, v := range prev {
			section[k] = v
		}
	}

	perSpeaker := map[string]any{}
	if prev, ok := section["perSpeaker"].(map[string]any); ok {
		for k, v := range prev {
			perSpeaker[k] = v
		}
	}
	for id, sa := range arts.PerSpeaker {
		perSpeaker[id] = map[string]any{
			"wavPath":  append([]string(nil), sa.WavPaths...),
			"jsonPath": sa.JSONPath,
			"srtPath":  sa.SRTPath,
			"vttPath":  sa.VTTPath,
		}
	}
	section["perSpeaker"] = perSpeaker

	if arts.Timeline != "" {
		section["timeline"] = arts.Timeline
	}
	if arts.UpdatedAt != "" {
		section["updatedAt"] = arts.UpdatedAt
	}

	out[ReservedKey] = section
	return out
}

// WriteAtomic persists a manifest document via temp file and rename so a
// crash mid-write never leaves a truncated manifest. A failed write is
// retried once before the error surfaces.
func WriteAtomic(path string, doc map[string]any) error {
	err := writeOnce(path, doc)
	if err == nil {
		metrics.DefaultMetrics.ManifestWrites.Inc()
		return nil
	}

	log.Warn().Err(err).Str("path", path).Msg("Manifest write failed, retrying once")
	metrics.DefaultMetrics.ManifestWriteRetries.Inc()
	if err := writeOnce(path, doc); err != nil {
		return fmt.Errorf("manifest write failed after retry: %w", err)
	}
	metrics.DefaultMetrics.ManifestWrites.Inc()
	return nil
}

func writeOnce(path string, doc map[string]any) error {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal manifest: %w", err)
	}

	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".manifest-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp manifest: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("write temp manifest: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("close temp manifest: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("rename manifest into place: %w", err)
	}
	return nil
}

// Sync loads, merges, and atomically writes back the manifest at path.
func Sync(path string, arts Artifacts) (map[string]any, error) {
	doc, err := Load(path)
	if err != nil {
		return nil, err
	}
	merged := Merge(doc, arts)
	if err := WriteAtomic(path, merged); err != nil {
		return nil, err
	}
	return merged, nil
}
