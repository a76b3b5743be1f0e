package stt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/agalue/voice-companion/internal/audio"
	"github.com/agalue/voice-companion/internal/fault"
	"github.com/agalue/voice-companion/internal/sherpa"
)

// WhisperConfig holds the on-device recognizer settings.
type WhisperConfig struct {
	Encoder    string
	Decoder    string
	Tokens     string
	Language   string // "en", "es", ... or "auto"
	Provider   string // cpu, cuda, coreml
	NumThreads int
	SampleRate int // Rate the model expects, 16kHz for Whisper
	Verbose    bool
}

// Whisper transcribes segments with a sherpa-onnx Whisper model.
type Whisper struct {
	recognizer *sherpa.OfflineRecognizer
	sampleRate int
	logger     *slog.Logger
	mu         sync.Mutex // sherpa-onnx recognizers are not thread-safe
}

var _ Transcriber = (*Whisper)(nil)

// NewWhisper loads the model files.
func NewWhisper(cfg WhisperConfig, logger *slog.Logger) (*Whisper, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}

	rc := &sherpa.OfflineRecognizerConfig{}
	rc.ModelConfig.Whisper.Encoder = cfg.Encoder
	rc.ModelConfig.Whisper.Decoder = cfg.Decoder
	// An empty language makes Whisper detect it.
	if !strings.EqualFold(cfg.Language, "auto") {
		rc.ModelConfig.Whisper.Language = cfg.Language
	}
	rc.ModelConfig.Whisper.Task = "transcribe"
	rc.ModelConfig.Whisper.TailPaddings = -1
	rc.ModelConfig.Tokens = cfg.Tokens
	rc.ModelConfig.NumThreads = max(cfg.NumThreads, 1)
	rc.ModelConfig.Provider = sherpa.Provider(cfg.Provider)
	rc.DecodingMethod = "greedy_search"
	if cfg.Verbose {
		rc.ModelConfig.Debug = 1
	}

	recognizer := sherpa.NewOfflineRecognizer(rc)
	if recognizer == nil {
		return nil, errors.New("failed to create whisper recognizer")
	}
	return &Whisper{recognizer: recognizer, sampleRate: cfg.SampleRate, logger: logger}, nil
}

// Transcribe decodes the segment and runs recognition. Recognition itself
// cannot be interrupted; when ctx ends first the result is dropped.
func (w *Whisper) Transcribe(ctx context.Context, data []byte, mime string) (string, error) {
	buf, err := audio.Decode(data, mime)
	if err != nil {
		return "", fault.New(fault.TranscriptionFailed, "whisper decode", err)
	}
	samples := audio.Resample(buf.Samples, buf.SampleRate, w.sampleRate)
	if len(samples) == 0 {
		return "", nil
	}

	type result struct {
		text string
		err  error
	}
	done := make(chan result, 1)
	go func() {
		text, err := w.recognize(samples)
		done <- result{text, err}
	}()

	select {
	case <-ctx.Done():
		return "", fault.New(fault.TranscriptionFailed, "whisper", ctx.Err())
	case r := <-done:
		if r.err != nil {
			return "", fault.New(fault.TranscriptionFailed, "whisper", r.err)
		}
		w.logger.Debug("whisper transcript", "seconds", buf.Duration().Seconds(), "chars", len(r.text))
		return r.text, nil
	}
}

func (w *Whisper) recognize(samples []float32) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.recognizer == nil {
		return "", errors.New("recognizer closed")
	}

	stream := sherpa.NewOfflineStream(w.recognizer)
	if stream == nil {
		return "", fmt.Errorf("create offline stream")
	}
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(w.sampleRate, samples)
	w.recognizer.Decode(stream)
	return clean(stream.GetResult().Text), nil
}

// Close releases the model.
func (w *Whisper) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.recognizer != nil {
		sherpa.DeleteOfflineRecognizer(w.recognizer)
		w.recognizer = nil
	}
}
