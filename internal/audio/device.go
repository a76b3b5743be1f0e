// Package audio provides microphone capture, speaker output, level metering
// and codec helpers for the voice pipeline.
package audio

import (
	"context"
	"strings"
	"time"

	"github.com/agalue/voice-companion/internal/fault"
)

// Buffer holds mono PCM samples with metadata.
type Buffer struct {
	Samples    []float32 // Mono samples in [-1, 1]
	SampleRate int       // Sample rate in Hz
}

// Duration returns the play time of the buffer.
func (b Buffer) Duration() time.Duration {
	if b.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(b.Samples)) * time.Second / time.Duration(b.SampleRate)
}

// Tap exposes the most recent samples of a live stream for analysis.
// Window copies up to len(dst) of the newest samples in chronological order
// and returns how many were copied.
type Tap interface {
	Window(dst []float32) int
}

// Source opens microphone streams. onSamples is called from a capture
// goroutine with samples already converted to sampleRate.
type Source interface {
	Open(ctx context.Context, sampleRate int, onSamples func(samples []float32)) (InputStream, error)
}

// InputStream is an opened but possibly not yet running microphone stream.
type InputStream interface {
	Start() error
	Close() error
}

// classifyDeviceError maps backend device failures onto the fault taxonomy.
func classifyDeviceError(op string, err error) error {
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"access denied", "permission", "not authorized", "operation not permitted"} {
		if strings.Contains(msg, hint) {
			return fault.New(fault.PermissionDenied, op, err)
		}
	}
	return fault.New(fault.DeviceUnavailable, op, err)
}
