package engine

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// IsResourceExhausted reports whether an error represents device memory
// exhaustion, either as the typed sentinel or as a backend message carrying
// a known OOM signature.
func IsResourceExhausted(err error) bool {
	if errors.Is(err, ErrResourceExhausted) {
		return true
	}
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, sig := range oomSignatures {
		if strings.Contains(msg, sig) {
			return true
		}
	}
	return false
}

var oomSignatures = []string{
	"cuda out of memory",
	"cuda error: out of memory",
	"failed to allocate gpu memory",
	"cublas_status_alloc_failed",
	"oom",
}

// MockEngine produces fixed placeholder output without touching a real
// inference backend. Used by the ci-mock profile for fast validation.
type MockEngine struct {
	Language string
}

// NewMockEngine creates a deterministic placeholder engine.
func NewMockEngine(language string) *MockEngine {
	return &MockEngine{Language: language}
}

// Transcribe returns one placeholder segment derived from the file name.
func (m *MockEngine) Transcribe(_ context.Context, wavPath string, _ Options) ([]Segment, error) {
	base := strings.TrimSuffix(filepath.Base(wavPath), filepath.Ext(wavPath))
	return []Segment{{
		Start:      0,
		End:        1,
		Text:       fmt.Sprintf("[mock:%s] %s", m.Language, base),
		Confidence: 1,
	}}, nil
}

func (m *MockEngine) Close() error { return nil }
