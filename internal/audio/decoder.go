package audio

import (
	"fmt"

	"github.com/pion/opus"
)

// maxPCMFrameBytes fits one 20 ms mono frame at 48 kHz, 16-bit.
const maxPCMFrameBytes = 1920

// FrameDecoder converts compressed audio frames into S16LE PCM.
type FrameDecoder interface {
	Decode(frame []byte) ([]byte, error)
}

// OpusDecoder decodes Opus frames with the pure-Go pion decoder. It is not
// safe for concurrent use; each speaker stream owns its own instance.
type OpusDecoder struct {
	dec opus.Decoder
	out []byte
}

// NewOpusDecoder creates a decoder for one speaker's Opus stream.
func NewOpusDecoder() *OpusDecoder {
	return &OpusDecoder{
		dec: opus.NewDecoder(),
		out: make([]byte, maxPCMFrameBytes),
	}
}

// Decode returns the PCM payload for one Opus frame. The returned slice is
// only valid until the next call.
func (d *OpusDecoder) Decode(frame []byte) ([]byte, error) {
	if len(frame) == 0 {
		return nil, nil
	}
	if _, _, err := d.dec.Decode(frame, d.out); err != nil {
		return nil, fmt.Errorf("opus decode: %w", err)
	}
	return d.out, nil
}

// PCMPassthrough treats incoming frames as already-decoded PCM. Used by the
// test client and in-memory gateways that feed raw audio.
type PCMPassthrough struct{}

func (PCMPassthrough) Decode(frame []byte) ([]byte, error) { return frame, nil }
