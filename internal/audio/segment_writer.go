package audio

import (
	"fmt"
	"os"
)

// SegmentWriter streams decoded PCM into a WAV file for one utterance. The
// file handle is guaranteed closed on every exit path; a segment whose
// payload stays below the minimum byte threshold is deleted on Close rather
// than exposed downstream.
type SegmentWriter struct {
	f        *os.File
	path     string
	payload  int64
	minBytes int64

	sampleRate int
	channels   int
	closed     bool
}

// NewSegmentWriter creates the destination file and reserves space for the
// WAV header. The header is finalized on Close once the payload size is
// known.
func NewSegmentWriter(path string, sampleRate, channels int, minBytes int64) (*SegmentWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create segment file: %w", err)
	}
	if _, err := f.Write(marshalWAVHeader(newWAVHeader(sampleRate, channels, 0))); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write segment header: %w", err)
	}
	return &SegmentWriter{
		f:          f,
		path:       path,
		minBytes:   minBytes,
		sampleRate: sampleRate,
		channels:   channels,
	}, nil
}

// Path returns the destination file path.
func (w *SegmentWriter) Path() string { return w.path }

// Payload returns the number of PCM bytes written so far.
func (w *SegmentWriter) Payload() int64 { return w.payload }

// WritePCM appends decoded samples to the segment.
func (w *SegmentWriter) WritePCM(pcm []byte) error {
	if w.closed {
		return fmt.Errorf("segment writer already closed")
	}
	n, err := w.f.Write(pcm)
	w.payload += int64(n)
	if err != nil {
		return fmt.Errorf("write segment payload: %w", err)
	}
	return nil
}

// Close finalizes the segment. It returns kept=false when the payload was
// below the minimum threshold and the file was deleted. Close is idempotent.
func (w *SegmentWriter) Close() (kept bool, size int64, err error) {
	if w.closed {
		return false, 0, nil
	}
	w.closed = true

	if w.payload < w.minBytes {
		w.f.Close()
		if rmErr := os.Remove(w.path); rmErr != nil && !os.IsNotExist(rmErr) {
			return false, 0, fmt.Errorf("remove empty segment: %w", rmErr)
		}
		return false, 0, nil
	}

	if _, err := w.f.Seek(0, 0); err != nil {
		w.f.Close()
		return false, 0, fmt.Errorf("rewind segment header: %w", err)
	}
	if _, err := w.f.Write(marshalWAVHeader(newWAVHeader(w.sampleRate, w.channels, uint32(w.payload)))); err != nil {
		w.f.Close()
		return false, 0, fmt.Errorf("finalize segment header: %w", err)
	}
	if err := w.f.Close(); err != nil {
		return false, 0, fmt.Errorf("close segment file: %w", err)
	}
	return true, wavHeaderSize + w.payload, nil
}

// Discard closes and deletes the segment regardless of payload size. Used on
// decode errors so a partially written file never surfaces as a segment.
func (w *SegmentWriter) Discard() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.f.Close()
	if err := os.Remove(w.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("discard segment: %w", err)
	}
	return nil
}
