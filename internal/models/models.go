// Package models defines the data structures shared across the recording
// and transcription pipeline.
package models

import "time"

// Room identifies a voice channel that can be recorded.
type Room struct {
	ID   string `json:"roomId"`
	Name string `json:"roomName"`
}

// AudioSegment is one persisted utterance recording. Segments below the
// minimum payload threshold are deleted by the writer and never appear here.
type AudioSegment struct {
	Speaker     string        `json:"speaker"`
	SpeakerID   string        `json:"speakerId"`
	Index       int           `json:"index"`
	Path        string        `json:"path"`
	Bytes       int64         `json:"bytes"`
	StartOffset time.Duration `json:"startOffsetMs"`
}

// Word carries word-level timing produced by the optional aligner.
type Word struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// TranscriptSegment is a timed text unit. Start and End are relative to the
// audio segment the text was transcribed from, in seconds.
type TranscriptSegment struct {
	Speaker      string  `json:"speaker"`
	SpeakerID    string  `json:"speakerId"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
	File         string  `json:"file"`
	SessionEpoch float64 `json:"-"`
	Words        []Word  `json:"words,omitempty"`
}

// TimelineEntry is one entry of the merged conversation timeline.
// Start and End are session-relative seconds.
type TimelineEntry struct {
	Speaker       string   `json:"user"`
	SpeakerID     string   `json:"userId"`
	Start         float64  `json:"start"`
	End           float64  `json:"end"`
	AbsoluteStart string   `json:"absoluteStart,omitempty"`
	Text          string   `json:"text"`
	Files         []string `json:"files"`
}

// Timeline is the ordered union of all speakers' transcript segments.
type Timeline struct {
	SessionDir      string          `json:"sessionDir"`
	SessionStartISO string          `json:"sessionStartIso,omitempty"`
	GeneratedAt     string          `json:"generatedAt"`
	Segments        []TimelineEntry `json:"segments"`
}

// SessionStarted is published when a recording session begins.
type SessionStarted struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	RoomID    string `json:"roomId"`
	RoomName  string `json:"roomName"`
	Timestamp int64  `json:"timestamp"`
}

// SessionStopped is published when a recording session ends.
type SessionStopped struct {
	EventType string `json:"eventType"`
	SessionID string `json:"sessionId"`
	RoomID    string `json:"roomId"`
	Segments  int    `json:"segments"`
	Timestamp int64  `json:"timestamp"`
}

// TranscriptCompleted is published after a session's transcripts have been
// assembled and the manifest updated.
type TranscriptCompleted struct {
	EventType  string `json:"eventType"`
	SessionDir string `json:"sessionDir"`
	Speakers   int    `json:"speakers"`
	Segments   int    `json:"segments"`
	Timeline   string `json:"timeline"`
	Timestamp  int64  `json:"timestamp"`
}
