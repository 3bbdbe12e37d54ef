package recorder

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"voice-scribe-service/internal/audio"
	"voice-scribe-service/internal/models"
	"voice-scribe-service/internal/observability/logging"
	"voice-scribe-service/internal/observability/metrics"
	"voice-scribe-service/internal/voice"
)

// frameBacklog bounds how far a speaker stream may fall behind the router
// before frames are dropped. At one frame per 20 ms this is about 10 s.
const frameBacklog = 512

// speakerStream owns the decode-and-write pipeline for one participant. All
// of its state is touched only from its own run goroutine; the router talks
// to it through channels.
type speakerStream struct {
	session  *Session
	userID   string
	username string

	frames chan voice.Frame
	marks  chan bool

	dec audio.FrameDecoder
	log zerolog.Logger

	writer      *audio.SegmentWriter
	segIndex    int
	curIndex    int
	curName     string
	startOffset time.Duration
	aborted     bool
}

func newSpeakerStream(s *Session, userID, username string) *speakerStream {
	return &speakerStream{
		session:  s,
		userID:   userID,
		username: username,
		frames:   make(chan voice.Frame, frameBacklog),
		marks:    make(chan bool, 8),
		dec:      s.cfg.NewDecoder(),
		log:      logging.WithSpeaker(s.ID, s.Room.ID, username),
	}
}

// submit hands a frame to the stream. The router must never block on a slow
// stream, so a full backlog drops the frame instead.
func (st *speakerStream) submit(f voice.Frame) {
	select {
	case st.frames <- f:
	default:
		st.log.Warn().Uint32("ssrc", f.SSRC).Msg("Speaker stream backlog full, dropping frame")
	}
}

func (st *speakerStream) markSpeaking() {
	select {
	case st.marks <- true:
	default:
	}
}

func (st *speakerStream) markSilence() {
	select {
	case st.marks <- false:
	default:
	}
}

// shutdown tells the stream to flush and exit. Called by the router exactly
// once, after which no more frames are submitted.
func (st *speakerStream) shutdown() {
	close(st.frames)
}

func (st *speakerStream) run() {
	metrics.DefaultMetrics.SpeakerStreamsTotal.Inc()
	metrics.DefaultMetrics.SpeakerStreamsActive.Inc()
	defer metrics.DefaultMetrics.SpeakerStreamsActive.Dec()

	st.log.Info().Msg("Speaker stream started")

	timer := time.NewTimer(st.session.cfg.SilenceTimeout)
	if !timer.Stop() {
		<-timer.C
	}
	armed := false
	disarm := func() {
		if armed && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		armed = false
	}

	for {
		select {
		case f, ok := <-st.frames:
			if !ok {
				disarm()
				st.flush()
				st.log.Info().Msg("Speaker stream stopped")
				return
			}
			disarm()
			st.handle(f)

		case speaking := <-st.marks:
			disarm()
			if !speaking {
				timer.Reset(st.session.cfg.SilenceTimeout)
				armed = true
			}

		case <-timer.C:
			armed = false
			st.flush()
		}
	}
}

// handle decodes one frame and appends it to the open segment, opening a new
// one at the start of an utterance. After a decode or write failure the rest
// of the utterance is dropped; the next flush starts clean.
func (st *speakerStream) handle(f voice.Frame) {
	if st.aborted {
		return
	}

	pcm, err := st.dec.Decode(f.Opus)
	if err != nil {
		metrics.DefaultMetrics.DecodeErrors.Inc()
		st.log.Warn().Err(err).Uint16("seq", f.Sequence).Msg("Frame decode failed, discarding segment")
		st.abort()
		return
	}
	if len(pcm) == 0 {
		return
	}

	if st.writer == nil {
		if err := st.openSegment(); err != nil {
			st.log.Error().Err(err).Msg("Failed to open segment")
			st.aborted = true
			return
		}
	}
	if err := st.writer.WritePCM(pcm); err != nil {
		st.log.Error().Err(err).Msg("Failed to write segment payload")
		st.abort()
	}
}

func (st *speakerStream) openSegment() error {
	idx := st.segIndex
	st.segIndex++

	name := fmt.Sprintf("%s_%s_seg%03d.wav", safeName(st.username), safeName(st.userID), idx)
	path := filepath.Join(st.session.Dir, "raw", name)
	w, err := audio.NewSegmentWriter(path, st.session.cfg.SampleRate, st.session.cfg.Channels, st.session.cfg.MinSegmentBytes)
	if err != nil {
		return err
	}
	st.writer = w
	st.curIndex = idx
	st.curName = name
	st.startOffset = time.Since(st.session.StartedAt)
	return nil
}

// abort discards the open segment. Its index is not reused.
func (st *speakerStream) abort() {
	st.aborted = true
	if st.writer == nil {
		return
	}
	if err := st.writer.Discard(); err != nil {
		st.log.Warn().Err(err).Msg("Failed to discard segment")
	}
	st.writer = nil
	metrics.DefaultMetrics.SegmentsDiscarded.WithLabelValues("decode_error").Inc()
}

// flush closes the open segment and reports it to the session when the
// writer kept it.
func (st *speakerStream) flush() {
	st.aborted = false
	if st.writer == nil {
		return
	}
	w := st.writer
	st.writer = nil

	kept, size, err := w.Close()
	if err != nil {
		st.log.Error().Err(err).Msg("Failed to finalize segment")
		metrics.DefaultMetrics.SegmentsDiscarded.WithLabelValues("error").Inc()
		return
	}
	if !kept {
		st.log.Debug().Str("segment", st.curName).Msg("Segment below minimum size, discarded")
		metrics.DefaultMetrics.SegmentsDiscarded.WithLabelValues("too_short").Inc()
		return
	}

	metrics.DefaultMetrics.SegmentsWritten.Inc()
	metrics.DefaultMetrics.SegmentBytes.Observe(float64(size))
	st.log.Debug().Str("segment", st.curName).Int64("bytes", size).Msg("Segment persisted")

	st.session.addSegment(models.AudioSegment{
		Speaker:     st.username,
		SpeakerID:   st.userID,
		Index:       st.curIndex,
		Path:        filepath.Join("raw", st.curName),
		Bytes:       size,
		StartOffset: st.startOffset,
	})
}
