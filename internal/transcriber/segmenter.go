package transcriber

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"sync"
	"time"

	"voice-scribe-service/internal/engine"
	"voice-scribe-service/internal/models"
	"voice-scribe-service/internal/observability/metrics"
)

// Aligner produces word-level timings for already-transcribed segments.
// Implementations are optional; without one, segments carry no word timing.
type Aligner interface {
	Align(ctx context.Context, wavPath string, segs []models.TranscriptSegment) ([]models.TranscriptSegment, error)
}

// SegmenterOptions tunes post-processing of raw engine output.
type SegmenterOptions struct {
	// DedupeWindow drops a segment whose normalized text repeats the
	// previous one within this many seconds. Engines occasionally emit
	// the same phrase twice around a VAD boundary.
	DedupeWindow time.Duration
	MinSilenceMs int
	PaddingMs    int
}

// Segmenter runs one shared inference engine over audio files. Engine
// instances are not concurrency-safe, so all Transcribe calls are
// serialized; the throughput cost is acceptable because inference dominates.
type Segmenter struct {
	mu      sync.Mutex
	eng     engine.Engine
	cfg     engine.Config
	aligner Aligner
	opts    SegmenterOptions
}

// NewSegmenter wraps a provisioned engine.
func NewSegmenter(eng engine.Engine, cfg engine.Config, aligner Aligner, opts SegmenterOptions) *Segmenter {
	return &Segmenter{eng: eng, cfg: cfg, aligner: aligner, opts: opts}
}

// TranscribeFile transcribes one speaker's audio segment. Times in the
// returned segments are relative to the file; epoch carries the file's
// session-relative start in seconds. A silent file yields zero segments and
// no error.
func (s *Segmenter) TranscribeFile(ctx context.Context, wavPath, speaker, speakerID string, epoch float64) ([]models.TranscriptSegment, error) {
	opts := engine.Options{
		BeamSize:     s.cfg.BeamSize,
		Language:     s.cfg.Language,
		VADFilter:    s.cfg.VADFilter,
		MinSilenceMs: s.opts.MinSilenceMs,
		PaddingMs:    s.opts.PaddingMs,
	}

	s.mu.Lock()
	start := time.Now()
	raw, err := s.eng.Transcribe(ctx, wavPath, opts)
	elapsed := time.Since(start)
	s.mu.Unlock()

	metrics.DefaultMetrics.InferenceLatency.Observe(elapsed.Seconds())
	if err != nil {
		metrics.DefaultMetrics.InferenceErrors.Inc()
		return nil, fmt.Errorf("transcribe %s: %w", wavPath, err)
	}

	var out []models.TranscriptSegment
	var prevNorm string
	var prevStart float64
	for _, rs := range raw {
		text := Sanitize(rs.Text, s.cfg.StripFiller)
		if text == "" {
			continue
		}

		norm := normText(text)
		if norm == prevNorm && math.Abs(rs.Start-prevStart) <= s.opts.DedupeWindow.Seconds() {
			continue
		}
		prevNorm = norm
		prevStart = rs.Start

		out = append(out, models.TranscriptSegment{
			Speaker:      speaker,
			SpeakerID:    speakerID,
			Start:        rs.Start,
			End:          rs.End,
			Text:         text,
			File:         filepath.Base(wavPath),
			SessionEpoch: epoch,
		})
	}
	metrics.DefaultMetrics.TranscriptSegments.Add(float64(len(out)))

	if s.cfg.AlignWords && s.aligner != nil && len(out) > 0 {
		aligned, err := s.aligner.Align(ctx, wavPath, out)
		if err != nil {
			// Word timing is an enrichment; the transcript stands
			// without it.
			return out, nil
		}
		out = aligned
	}
	return out, nil
}
