// Package tts turns reply text into speech, through a hosted speech API or
// an on-device Kokoro model.
package tts

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/agalue/voice-companion/internal/audio"
)

// ErrNoVoice means no on-device voice is configured.
var ErrNoVoice = errors.New("no on-device voice")

// errEmptyText is returned for blank input.
var errEmptyText = errors.New("empty text")

// Audio is an encoded clip ready for playback.
type Audio struct {
	Data []byte
	MIME string
}

// Synthesizer renders text with the named voice.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (Audio, error)
}

// LocalVoice speaks text on device, straight to PCM. It is the fallback
// when a clip cannot be synthesized or decoded.
type LocalVoice interface {
	Speak(ctx context.Context, text string) (audio.Buffer, error)
}

// OpenAIVoices lists the voices the hosted speech API accepts.
var OpenAIVoices = []string{"alloy", "echo", "fable", "onyx", "nova", "shimmer"}

// ValidOpenAIVoice reports whether v is a hosted voice name.
func ValidOpenAIVoice(v string) bool {
	return slices.Contains(OpenAIVoices, v)
}

// SplitSentences splits text at sentence boundaries so long replies can be
// synthesized piecewise.
func SplitSentences(text string) []string {
	var (
		sentences []string
		current   strings.Builder
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			sentences = append(sentences, s)
		}
		current.Reset()
	}
	for _, c := range text {
		current.WriteRune(c)
		if c == '.' || c == '!' || c == '?' || c == '\n' {
			flush()
		}
	}
	flush()
	return sentences
}
