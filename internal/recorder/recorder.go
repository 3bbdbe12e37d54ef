// Package recorder owns voice-capture sessions: one per room, each fanning
// out into concurrent per-speaker decode/write pipelines.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"voice-scribe-service/internal/audio"
	"voice-scribe-service/internal/events"
	"voice-scribe-service/internal/models"
	"voice-scribe-service/internal/observability/logging"
	"voice-scribe-service/internal/observability/metrics"
	"voice-scribe-service/internal/voice"
)

// Errors reported back to the command issuer.
var (
	ErrAlreadyRecording = errors.New("a recording session is already active for this room")
	ErrNoActiveSession  = errors.New("no active recording session for this room")
)

// Config holds capture settings shared by all sessions.
type Config struct {
	StorageRoot     string
	SilenceTimeout  time.Duration
	MinSegmentBytes int64
	SampleRate      int
	Channels        int
	Principal       string

	// NewDecoder builds a fresh decoder per speaker stream. Defaults to
	// the Opus decoder.
	NewDecoder func() audio.FrameDecoder
}

// Recorder is the per-room session registry. Registry mutation is mutually
// exclusive so two concurrent starts for the same room cannot both succeed.
type Recorder struct {
	cfg       Config
	gateway   voice.Gateway
	publisher *events.Publisher

	mu       sync.Mutex
	sessions map[string]*Session
}

// New creates a Recorder over the given voice gateway.
func New(cfg Config, gateway voice.Gateway, publisher *events.Publisher) *Recorder {
	if cfg.NewDecoder == nil {
		cfg.NewDecoder = func() audio.FrameDecoder { return audio.NewOpusDecoder() }
	}
	return &Recorder{
		cfg:       cfg,
		gateway:   gateway,
		publisher: publisher,
		sessions:  make(map[string]*Session),
	}
}

// Start opens a capture session for the room. It fails with
// ErrAlreadyRecording while another session is active for the same room.
func (r *Recorder) Start(ctx context.Context, room models.Room) (*Session, error) {
	r.mu.Lock()
	if _, exists := r.sessions[room.ID]; exists {
		r.mu.Unlock()
		return nil, ErrAlreadyRecording
	}
	// Reserve the slot before the (slow) gateway join so a concurrent
	// start for the same room fails fast.
	placeholder := &Session{Room: room}
	r.sessions[room.ID] = placeholder
	r.mu.Unlock()

	s, err := r.open(ctx, room)
	if err != nil {
		r.mu.Lock()
		delete(r.sessions, room.ID)
		r.mu.Unlock()
		return nil, err
	}

	r.mu.Lock()
	r.sessions[room.ID] = s
	r.mu.Unlock()

	metrics.DefaultMetrics.SessionsTotal.Inc()
	metrics.DefaultMetrics.SessionsActive.Inc()

	if r.publisher != nil {
		ev := models.SessionStarted{
			EventType: "voice.session.started",
			SessionID: s.ID,
			RoomID:    room.ID,
			RoomName:  room.Name,
			Timestamp: time.Now().UnixMilli(),
		}
		if err := r.publisher.PublishSession(context.Background(), room.ID, ev); err != nil {
			s.log.Warn().Err(err).Msg("Failed to publish session start event")
		}
	}
	return s, nil
}

func (r *Recorder) open(ctx context.Context, room models.Room) (*Session, error) {
	conn, err := r.gateway.Join(ctx, room.ID)
	if err != nil {
		return nil, fmt.Errorf("join voice channel %s: %w", room.ID, err)
	}

	s, err := newSession(r.cfg, room, uuid.NewString(), conn)
	if err != nil {
		conn.Close()
		return nil, err
	}

	s.log = logging.WithSession(s.ID, room.ID)
	s.log.Info().Str("dir", s.Dir).Msg("Recording session started")

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run()
	}()
	return s, nil
}

// Stop tears down the room's session: every live speaker stream is flushed
// and closed before the stop timestamp lands in the manifest. It fails with
// ErrNoActiveSession when nothing is recording.
func (r *Recorder) Stop(roomID string) (*Session, error) {
	r.mu.Lock()
	s, exists := r.sessions[roomID]
	// A reserved slot whose gateway join has not completed yet is not
	// stoppable; the join either finishes or releases the slot itself.
	if !exists || s.conn == nil {
		r.mu.Unlock()
		return nil, ErrNoActiveSession
	}
	delete(r.sessions, roomID)
	r.mu.Unlock()

	s.stop()
	metrics.DefaultMetrics.SessionsActive.Dec()
	metrics.DefaultMetrics.SessionDuration.Observe(s.StoppedAt.Sub(s.StartedAt).Seconds())

	if r.publisher != nil {
		ev := models.SessionStopped{
			EventType: "voice.session.stopped",
			SessionID: s.ID,
			RoomID:    roomID,
			Segments:  len(s.Segments()),
			Timestamp: time.Now().UnixMilli(),
		}
		if err := r.publisher.PublishSession(context.Background(), roomID, ev); err != nil {
			s.log.Warn().Err(err).Msg("Failed to publish session stop event")
		}
	}
	return s, nil
}

// Active returns the session currently recording the room, if any.
func (r *Recorder) Active(roomID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[roomID]
	return s, ok
}

// Status is a point-in-time view of one active session.
type Status struct {
	SessionID string
	RoomID    string
	StartedAt time.Time
	Speakers  int
}

// Snapshot reports every active session, for the monitoring server. Slots
// still waiting on their gateway join are not included.
func (r *Recorder) Snapshot() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Status, 0, len(r.sessions))
	for _, s := range r.sessions {
		if s.conn == nil {
			continue
		}
		out = append(out, Status{
			SessionID: s.ID,
			RoomID:    s.Room.ID,
			StartedAt: s.StartedAt,
			Speakers:  s.SpeakerCount(),
		})
	}
	return out
}

// StopAll tears down every active session, for process shutdown.
func (r *Recorder) StopAll() {
	r.mu.Lock()
	rooms := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		rooms = append(rooms, id)
	}
	r.mu.Unlock()

	log := logging.WithComponent("recorder")
	for _, id := range rooms {
		if _, err := r.Stop(id); err != nil && !errors.Is(err, ErrNoActiveSession) {
			log.Error().Err(err).Str("roomId", id).Msg("Failed to stop session")
		}
	}
}
