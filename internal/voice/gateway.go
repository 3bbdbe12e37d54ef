// Package voice defines the boundary to the voice platform: joining a room,
// receiving speaking-activity events, and receiving per-speaker audio frames.
package voice

import (
	"context"
	"time"
)

// SpeakingEvent signals that a participant started or stopped speaking.
// The SSRC maps subsequent audio frames to the speaker.
type SpeakingEvent struct {
	UserID   string
	Username string
	SSRC     uint32
	Speaking bool
	At       time.Time
}

// Frame is one compressed audio frame received from the platform.
type Frame struct {
	SSRC      uint32
	Sequence  uint16
	Timestamp uint32
	Opus      []byte
}

// Conn is an established voice connection to one room. Events and Frames
// are closed when the connection terminates.
type Conn interface {
	Events() <-chan SpeakingEvent
	Frames() <-chan Frame
	Close() error
}

// Gateway joins rooms on the voice platform. Join requires that the client
// session is already authenticated with the platform.
type Gateway interface {
	Join(ctx context.Context, roomID string) (Conn, error)
}
