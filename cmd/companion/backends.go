package main

import (
	"context"
	"fmt"
	"log/slog"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/agalue/voice-companion/internal/config"
	"github.com/agalue/voice-companion/internal/llm"
	"github.com/agalue/voice-companion/internal/persona"
	"github.com/agalue/voice-companion/internal/stt"
	"github.com/agalue/voice-companion/internal/tts"
)

// backends are the speech and language services for one run.
type backends struct {
	transcriber stt.Transcriber
	generator   llm.Generator
	synthesizer tts.Synthesizer // nil speaks every reply with voice
	voice       tts.LocalVoice  // nil when no on-device voice is installed

	closers []func()
}

func (b *backends) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// newBackends prefers the hosted API and falls back to on-device models.
// Ollama backs up hosted generation when it is reachable.
func newBackends(ctx context.Context, cfg *config.Config, p persona.Persona, logger *slog.Logger) (*backends, error) {
	b := &backends{}

	var kokoro *tts.Kokoro
	if cfg.KokoroAvailable(p) {
		logger.Info("🔊 Loading on-device voice...", "voice", p.LocalVoice)
		k, err := tts.NewKokoro(cfg.Kokoro(p), logger)
		if err != nil {
			logger.Warn("⚠️ on-device voice unavailable", "error", err)
		} else {
			kokoro = k
			b.voice = k
			b.closers = append(b.closers, k.Close)
		}
	} else {
		logger.Warn("⚠️ on-device voice not installed, failed speech will be silent")
	}

	ollama, ollamaErr := llm.NewOllama(cfg.OllamaConfig())
	if ollamaErr == nil {
		logger.Info("🔗 Checking Ollama connection...", "url", cfg.Ollama.URL)
		ollamaErr = ollama.HealthCheck(ctx)
	}

	if cfg.UseOpenAI() {
		opts := []option.RequestOption{option.WithAPIKey(cfg.OpenAI.APIKey)}
		if cfg.OpenAI.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.OpenAI.BaseURL))
		}
		client := oai.NewClient(opts...)

		b.transcriber = stt.NewOpenAI(client, cfg.OpenAI.TranscribeModel, cfg.OpenAI.Language)
		b.synthesizer = tts.NewOpenAI(client, cfg.OpenAI.SpeechModel, cfg.OpenAI.SpeechSpeed)
		gen := llm.NewFallback("openai", llm.NewOpenAI(client, cfg.OpenAI.ChatModel), logger)
		if ollamaErr == nil {
			gen.Add("ollama", ollama)
			logger.Info("✅ Ollama connected as backup", "model", cfg.Ollama.Model)
		}
		b.generator = gen
		logger.Info("✅ Using OpenAI", "chat_model", cfg.OpenAI.ChatModel, "voice", p.Voice)
		return b, nil
	}

	if ollamaErr != nil {
		b.Close()
		return nil, fmt.Errorf("ollama connection failed: %w", ollamaErr)
	}
	b.generator = ollama
	logger.Info("✅ Ollama connected", "model", cfg.Ollama.Model)

	wc := cfg.Whisper()
	logger.Info("🧠 Loading speech recognition models...", "provider", wc.Provider, "threads", wc.NumThreads)
	whisper, err := stt.NewWhisper(wc, logger)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("load whisper: %w", err)
	}
	b.closers = append(b.closers, whisper.Close)
	b.transcriber = stt.WithTimeout(whisper, cfg.Timeout)
	logger.Info("✅ Speech recognition ready")

	if kokoro != nil {
		b.synthesizer = kokoro
	}
	return b, nil
}
