package tts

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	"github.com/agalue/voice-companion/internal/audio"
	"github.com/agalue/voice-companion/internal/fault"
	"github.com/agalue/voice-companion/internal/sherpa"
)

// KokoroConfig holds the on-device voice settings.
type KokoroConfig struct {
	Model      string // Path to model.onnx
	Voices     string // Path to voices.bin
	Tokens     string // Path to tokens.txt
	DataDir    string // espeak-ng-data directory
	Lexicon    string // Optional lexicon.txt
	Language   string // espeak code for multi-lingual models, e.g. "en-us"
	SpeakerID  int    // Speaker used by Speak and for unknown voice names
	Speakers   map[string]int
	Speed      float32
	Provider   string // cpu, cuda, coreml
	NumThreads int
	Verbose    bool
}

// Kokoro synthesizes speech locally. It serves both as the fallback voice
// and, without a hosted backend, as the primary synthesizer.
type Kokoro struct {
	tts      *sherpa.OfflineTts
	speaker  int
	speakers map[string]int
	speed    float32
	logger   *slog.Logger
	mu       sync.Mutex // The engine is not safe for concurrent use
}

var (
	_ Synthesizer = (*Kokoro)(nil)
	_ LocalVoice  = (*Kokoro)(nil)
)

// NewKokoro loads the model files.
func NewKokoro(cfg KokoroConfig, logger *slog.Logger) (*Kokoro, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Speed <= 0 {
		cfg.Speed = 1.0
	}

	tc := &sherpa.OfflineTtsConfig{}
	tc.Model.Kokoro.Model = cfg.Model
	tc.Model.Kokoro.Voices = cfg.Voices
	tc.Model.Kokoro.Tokens = cfg.Tokens
	tc.Model.Kokoro.DataDir = cfg.DataDir
	tc.Model.Kokoro.Lexicon = cfg.Lexicon
	tc.Model.Kokoro.Lang = cfg.Language
	tc.Model.Kokoro.LengthScale = 1.0 / cfg.Speed
	tc.Model.NumThreads = max(cfg.NumThreads, 1)
	tc.Model.Provider = sherpa.Provider(cfg.Provider)
	tc.MaxNumSentences = 1 // Kokoro handles one sentence per call
	if cfg.Verbose {
		tc.Model.Debug = 1
	}

	engine := sherpa.NewOfflineTts(tc)
	if engine == nil {
		return nil, errors.New("failed to create kokoro synthesizer")
	}
	return &Kokoro{
		tts:      engine,
		speaker:  cfg.SpeakerID,
		speakers: cfg.Speakers,
		speed:    cfg.Speed,
		logger:   logger,
	}, nil
}

// Speak renders text with the configured speaker.
func (k *Kokoro) Speak(ctx context.Context, text string) (audio.Buffer, error) {
	return k.generate(ctx, text, k.speaker)
}

// Synthesize renders text as a WAV clip. Unknown voice names use the
// configured speaker.
func (k *Kokoro) Synthesize(ctx context.Context, text, voice string) (Audio, error) {
	sid, ok := k.speakers[voice]
	if !ok {
		sid = k.speaker
	}
	buf, err := k.generate(ctx, text, sid)
	if err != nil {
		return Audio{}, err
	}
	return Audio{Data: audio.EncodeWAV(buf), MIME: audio.MIMEWAV}, nil
}

// generate synthesizes sentence by sentence, checking ctx in between since
// a single sentence cannot be interrupted.
func (k *Kokoro) generate(ctx context.Context, text string, sid int) (audio.Buffer, error) {
	sentences := SplitSentences(strings.TrimSpace(text))
	if len(sentences) == 0 {
		return audio.Buffer{}, fault.New(fault.SynthesisFailed, "kokoro", errEmptyText)
	}

	var out audio.Buffer
	for _, sentence := range sentences {
		if err := ctx.Err(); err != nil {
			return audio.Buffer{}, fault.New(fault.SynthesisFailed, "kokoro", err)
		}
		generated, err := k.sentence(sentence, sid)
		if err != nil {
			return audio.Buffer{}, fault.New(fault.SynthesisFailed, "kokoro", err)
		}
		if generated == nil || len(generated.Samples) == 0 {
			k.logger.Debug("kokoro produced no audio", "sentence", sentence)
			continue
		}
		out.SampleRate = int(generated.SampleRate)
		out.Samples = append(out.Samples, generated.Samples...)
	}
	if len(out.Samples) == 0 {
		return audio.Buffer{}, fault.New(fault.SynthesisFailed, "kokoro", errors.New("no audio generated"))
	}
	k.logger.Debug("kokoro speech", "sentences", len(sentences), "seconds", out.Duration().Seconds())
	return out, nil
}

func (k *Kokoro) sentence(text string, sid int) (*sherpa.GeneratedAudio, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.tts == nil {
		return nil, errors.New("synthesizer closed")
	}
	return k.tts.Generate(text, sid, k.speed), nil
}

// Close releases the model.
func (k *Kokoro) Close() {
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.tts != nil {
		sherpa.DeleteOfflineTts(k.tts)
		k.tts = nil
	}
}
