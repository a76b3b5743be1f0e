package fault

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestKindOf(t *testing.T) {
	t.Parallel()

	base := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, Unknown},
		{"plain", base, Unknown},
		{"classified", New(GenerationFailed, "generate", base), GenerationFailed},
		{"wrapped", fmt.Errorf("cycle 3: %w", New(SynthesisFailed, "synthesize", base)), SynthesisFailed},
		{"deadline wins", New(GenerationFailed, "generate", context.DeadlineExceeded), Timeout},
		{"cancel wins", New(TranscriptionFailed, "transcribe", fmt.Errorf("post: %w", context.Canceled)), Cancelled},
		{"bare deadline", context.DeadlineExceeded, Timeout},
		{"bare cancel", context.Canceled, Cancelled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestErrorUnwrapAndMatch(t *testing.T) {
	t.Parallel()

	base := errors.New("mic busy")
	err := fmt.Errorf("start: %w", New(DeviceUnavailable, "open microphone", base))

	if !errors.Is(err, base) {
		t.Error("errors.Is(err, base) = false, want true")
	}
	if !errors.Is(err, &Error{Kind: DeviceUnavailable}) {
		t.Error("errors.Is(err, DeviceUnavailable) = false, want true")
	}
	if errors.Is(err, &Error{Kind: PermissionDenied}) {
		t.Error("errors.Is(err, PermissionDenied) = true, want false")
	}
	if got, want := New(Timeout, "generate", nil).Error(), "generate: timeout"; got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestVisible(t *testing.T) {
	t.Parallel()

	if Visible(nil) {
		t.Error("Visible(nil) = true")
	}
	if Visible(New(GenerationFailed, "generate", context.Canceled)) {
		t.Error("cancelled error reported as visible")
	}
	if !Visible(New(PermissionDenied, "open microphone", errors.New("denied"))) {
		t.Error("permission error reported as invisible")
	}
}
