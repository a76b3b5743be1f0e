// Package fault classifies the failures that cross component boundaries in
// the voice pipeline.
package fault

import (
	"context"
	"errors"
	"fmt"
)

// Kind identifies a failure class.
type Kind int

const (
	// Unknown is any error that carries no classification.
	Unknown Kind = iota
	// PermissionDenied means access to an audio device was refused.
	PermissionDenied
	// DeviceUnavailable means no usable microphone or speaker exists.
	DeviceUnavailable
	// TranscriptionFailed means speech could not be turned into text.
	TranscriptionFailed
	// GenerationFailed means no reply text could be produced.
	GenerationFailed
	// SynthesisFailed means reply text could not be turned into audio.
	SynthesisFailed
	// PlaybackFailed means audio could neither be decoded nor spoken.
	PlaybackFailed
	// Timeout means a bounded wait expired.
	Timeout
	// Cancelled is the expected outcome of barge-in and is never shown to the user.
	Cancelled
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	case DeviceUnavailable:
		return "device_unavailable"
	case TranscriptionFailed:
		return "transcription_failed"
	case GenerationFailed:
		return "generation_failed"
	case SynthesisFailed:
		return "synthesis_failed"
	case PlaybackFailed:
		return "playback_failed"
	case Timeout:
		return "timeout"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Error is a classified failure of an operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

// New wraps err with a kind and the failing operation.
// Context errors take precedence over kind so that deadline and
// cancellation outcomes stay recognisable after wrapping.
func New(kind Kind, op string, err error) *Error {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = Timeout
	case errors.Is(err, context.Canceled):
		kind = Cancelled
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a *Error with the same kind. It lets callers
// match with errors.Is(err, &fault.Error{Kind: fault.Timeout}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// KindOf returns the kind of the outermost classified error in err's chain.
// Bare context errors are classified as Timeout or Cancelled.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Timeout
	case errors.Is(err, context.Canceled):
		return Cancelled
	}
	return Unknown
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Visible reports whether err should surface to the user.
func Visible(err error) bool {
	return err != nil && KindOf(err) != Cancelled
}
