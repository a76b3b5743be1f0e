// Package stt turns captured utterances into text, either on device with a
// Whisper model or through a hosted transcription API.
package stt

import (
	"context"
	"strings"
	"time"

	"github.com/agalue/voice-companion/internal/fault"
)

// Transcriber recognizes speech in one encoded audio segment.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, mime string) (string, error)
}

// WithTimeout bounds every Transcribe call of t.
func WithTimeout(t Transcriber, d time.Duration) Transcriber {
	if d <= 0 {
		return t
	}
	return &timeoutTranscriber{next: t, timeout: d}
}

type timeoutTranscriber struct {
	next    Transcriber
	timeout time.Duration
}

func (t *timeoutTranscriber) Transcribe(ctx context.Context, audio []byte, mime string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	text, err := t.next.Transcribe(ctx, audio, mime)
	if err != nil {
		return "", fault.New(fault.TranscriptionFailed, "transcribe", err)
	}
	return text, nil
}

// clean trims recognizer output. Whisper emits bracketed annotations such as
// "[BLANK_AUDIO]" for silence; those carry no speech.
func clean(text string) string {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]") && !strings.Contains(text[1:len(text)-1], "[") {
		return ""
	}
	if strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")") && !strings.Contains(text[1:len(text)-1], "(") {
		return ""
	}
	return text
}
