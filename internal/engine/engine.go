// Package engine provisions speech-to-text inference engines: profile
// resolution, device fallback, and a deterministic retry sequence on
// resource exhaustion.
package engine

import (
	"context"
	"errors"
)

// Errors surfaced by engine provisioning.
var (
	// ErrResourceExhausted marks a load attempt rejected for lack of
	// device memory. It drives the fallback sequence.
	ErrResourceExhausted = errors.New("engine resources exhausted")

	// ErrEngineUnavailable is returned once every fallback candidate has
	// been tried and rejected.
	ErrEngineUnavailable = errors.New("no engine configuration could be initialized")
)

// Device is an inference device class.
type Device string

const (
	DeviceCUDA Device = "cuda"
	DeviceCPU  Device = "cpu"
)

// Precision is the numeric compute mode for the model.
type Precision string

const (
	PrecisionInt8Float16 Precision = "int8_float16"
	PrecisionInt8        Precision = "int8"
	PrecisionFloat16     Precision = "float16"
)

// Options are per-call inference parameters.
type Options struct {
	BeamSize     int
	Language     string
	VADFilter    bool
	MinSilenceMs int
	PaddingMs    int
}

// Segment is one timed text unit returned by the engine, with offsets
// relative to the submitted audio file.
type Segment struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Text       string  `json:"text"`
	Confidence float64 `json:"confidence"`
}

// Engine is a loaded inference engine instance. Implementations are not
// required to be safe for concurrent Transcribe calls; callers serialize.
type Engine interface {
	Transcribe(ctx context.Context, wavPath string, opts Options) ([]Segment, error)
	Close() error
}

// Candidate is one device/model/precision triple to attempt loading.
type Candidate struct {
	Device    Device
	Model     string
	Precision Precision
	Reason    string
}

// Loader initializes engines. TryLoad returns ErrResourceExhausted when the
// candidate does not fit on the device; any other error is terminal.
type Loader interface {
	TryLoad(c Candidate) (Engine, error)
	DeviceAvailable(d Device) bool
}
