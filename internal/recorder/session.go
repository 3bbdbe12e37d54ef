package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"voice-scribe-service/internal/manifest"
	"voice-scribe-service/internal/models"
	"voice-scribe-service/internal/voice"
)

// Session captures one room from start to stop. All frame routing happens on
// the session's run goroutine; per-speaker decode and file IO happen on the
// speaker streams it spawns.
type Session struct {
	ID        string
	Room      models.Room
	Dir       string
	StartedAt time.Time
	StoppedAt time.Time

	cfg  Config
	conn voice.Conn
	log  zerolog.Logger

	wg       sync.WaitGroup
	stopOnce sync.Once

	mu        sync.Mutex
	segments  []models.AudioSegment
	joinOrder []string
}

func newSession(cfg Config, room models.Room, id string, conn voice.Conn) (*Session, error) {
	started := time.Now()
	dir := filepath.Join(cfg.StorageRoot, fmt.Sprintf("%s_%s", safeName(room.ID), started.Format("20060102-150405")))
	if err := os.MkdirAll(filepath.Join(dir, "raw"), 0o755); err != nil {
		return nil, fmt.Errorf("create session directory: %w", err)
	}

	s := &Session{
		ID:        id,
		Room:      room,
		Dir:       dir,
		StartedAt: started,
		cfg:       cfg,
		conn:      conn,
	}

	doc := map[string]any{
		"sessionId":  id,
		"roomId":     room.ID,
		"roomName":   room.Name,
		"startISO":   started.UTC().Format(time.RFC3339),
		"recordedBy": cfg.Principal,
		"active":     true,
	}
	if err := manifest.WriteAtomic(s.ManifestPath(), doc); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("write session manifest: %w", err)
	}
	return s, nil
}

// ManifestPath returns the location of the session's manifest document.
func (s *Session) ManifestPath() string {
	return filepath.Join(s.Dir, "manifest.json")
}

// Segments returns the audio segments persisted so far.
func (s *Session) Segments() []models.AudioSegment {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.AudioSegment(nil), s.segments...)
}

// SpeakerCount returns how many distinct speakers have spoken so far.
func (s *Session) SpeakerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.joinOrder)
}

// run routes speaking events and audio frames to per-speaker streams until
// the connection's channels close.
func (s *Session) run() {
	streams := make(map[uint32]*speakerStream)
	defer func() {
		for _, st := range streams {
			st.shutdown()
		}
	}()

	events := s.conn.Events()
	frames := s.conn.Frames()

	for events != nil || frames != nil {
		select {
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			st, exists := streams[ev.SSRC]
			if ev.Speaking {
				if !exists {
					st = s.newSpeakerStream(ev)
					streams[ev.SSRC] = st
				}
				st.markSpeaking()
			} else if exists {
				st.markSilence()
			}

		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			st, exists := streams[f.SSRC]
			if !exists {
				// Frames arriving before any speaking event for
				// this SSRC cannot be attributed to a speaker.
				s.log.Debug().Uint32("ssrc", f.SSRC).Msg("Dropping frame for unknown SSRC")
				continue
			}
			st.submit(f)
		}
	}
}

func (s *Session) newSpeakerStream(ev voice.SpeakingEvent) *speakerStream {
	s.mu.Lock()
	known := false
	for _, id := range s.joinOrder {
		if id == ev.UserID {
			known = true
			break
		}
	}
	if !known {
		s.joinOrder = append(s.joinOrder, ev.UserID)
	}
	s.mu.Unlock()

	st := newSpeakerStream(s, ev.UserID, ev.Username)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		st.run()
	}()
	return st
}

func (s *Session) addSegment(seg models.AudioSegment) {
	s.mu.Lock()
	s.segments = append(s.segments, seg)
	s.mu.Unlock()
}

// stop closes the voice connection, waits for every speaker stream to flush,
// and records the final state in the manifest. It is idempotent.
func (s *Session) stop() {
	s.stopOnce.Do(func() {
		if err := s.conn.Close(); err != nil {
			s.log.Warn().Err(err).Msg("Error closing voice connection")
		}
		s.wg.Wait()
		s.StoppedAt = time.Now()

		s.mu.Lock()
		recordings := make([]map[string]any, 0, len(s.segments))
		for _, seg := range s.segments {
			recordings = append(recordings, map[string]any{
				"speaker":       seg.Speaker,
				"speakerId":     seg.SpeakerID,
				"index":         seg.Index,
				"path":          seg.Path,
				"bytes":         seg.Bytes,
				"startOffsetMs": seg.StartOffset.Milliseconds(),
			})
		}
		order := append([]string(nil), s.joinOrder...)
		s.mu.Unlock()

		doc, err := manifest.Load(s.ManifestPath())
		if err != nil {
			s.log.Error().Err(err).Msg("Failed to reload session manifest on stop")
			doc = map[string]any{}
		}
		doc["active"] = false
		doc["stopISO"] = s.StoppedAt.UTC().Format(time.RFC3339)
		doc["recordings"] = recordings
		doc["speakerOrder"] = order
		if err := manifest.WriteAtomic(s.ManifestPath(), doc); err != nil {
			s.log.Error().Err(err).Msg("Failed to write session manifest on stop")
		}

		s.log.Info().
			Int("segments", len(recordings)).
			Dur("duration", s.StoppedAt.Sub(s.StartedAt)).
			Msg("Recording session stopped")
	})
}

// safeName strips characters that are unsafe in file names.
func safeName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}
