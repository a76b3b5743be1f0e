// Voice Companion - a spoken companion with push-to-talk or always-listening
// input, barge-in, and an animated avatar feed.
//
// Speech is transcribed, answered and spoken through the OpenAI API when a
// key is configured, or fully on device otherwise:
//   - Speech-to-Text (Whisper via sherpa-onnx)
//   - LLM replies (Ollama)
//   - Text-to-Speech (Kokoro via sherpa-onnx)
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/agalue/voice-companion/internal/audio"
	"github.com/agalue/voice-companion/internal/avatar"
	"github.com/agalue/voice-companion/internal/capture"
	"github.com/agalue/voice-companion/internal/config"
	"github.com/agalue/voice-companion/internal/conversation"
	"github.com/agalue/voice-companion/internal/input"
	"github.com/agalue/voice-companion/internal/observe"
	"github.com/agalue/voice-companion/internal/persona"
	"github.com/agalue/voice-companion/internal/playback"
)

// version is set at build time.
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	cfg, opts, err := config.Load(os.Args[1:], nil)
	if errors.Is(err, config.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 2
	}
	if opts.ListVoices {
		config.PrintVoices(os.Stdout)
		return 0
	}
	if opts.VoiceInfo != "" {
		if err := config.PrintVoiceInfo(os.Stdout, opts.VoiceInfo); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		return 0
	}

	level, err := observe.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return 2
	}
	logger := observe.NewLogger(os.Stderr, level)
	if err := cfg.Validate(); err != nil {
		logger.Error("configuration error", "error", err)
		return 2
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg, logger); err != nil {
		logger.Error("companion stopped", "error", err)
		return 1
	}
	logger.Info("✅ Shutdown complete")
	return 0
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	p, err := persona.Lookup(cfg.Persona)
	if err != nil {
		return err
	}
	logger.Info("🎤 Voice companion starting", "version", version, "persona", p.DisplayName, "listen", cfg.ListenMode)

	provider, err := observe.InitProvider(ctx, "voice-companion", version)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(sctx)
	}()
	metrics, err := observe.NewMetrics(provider.MeterProvider)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	b, err := newBackends(ctx, cfg, p, logger)
	if err != nil {
		return err
	}
	defer b.Close()

	speaker, err := audio.NewSpeaker(cfg.Audio.BufferMs, logger)
	if err != nil {
		return fmt.Errorf("open speaker: %w", err)
	}
	defer speaker.Close()

	playOpts := []playback.Option{playback.WithLogger(logger)}
	if b.voice != nil {
		playOpts = append(playOpts, playback.WithLocalVoice(b.voice))
	}
	player := playback.New(speaker, playOpts...)

	mic, err := audio.NewMicrophone(0, logger)
	if err != nil {
		return fmt.Errorf("open microphone: %w", err)
	}
	defer mic.Close()

	profile := conversation.NewProfile(p, cfg.BondLevel, cfg.Answers)
	orch := conversation.New(b.transcriber, b.generator, b.synthesizer, player,
		profile, &conversation.Transcript{},
		conversation.Config{Timeout: cfg.Timeout, HistoryTurns: cfg.HistoryTurns, Stream: cfg.Stream},
		conversation.WithLogger(logger), conversation.WithMetrics(metrics))

	session := capture.New(mic, cfg.Capture(),
		capture.WithLogger(logger),
		capture.WithSpeechStart(orch.CaptureStarted),
		capture.WithSegment(orch.SubmitSegment),
		capture.WithEcho(player),
	)
	controller := input.NewController(session, orch, logger)

	driver := avatar.NewDriver(avatar.Sources{Mic: session, Cycle: orch, Speaker: player},
		time.Second/time.Duration(cfg.Server.FrameRate))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return orch.Run(gctx) })
	g.Go(func() error { return driver.Run(gctx) })

	if cfg.Server.Addr != "" {
		var controls avatar.Controls
		if cfg.ListenMode == config.PushToTalk {
			controls = controller
		}
		mux := observe.NewMux(provider.Handler)
		mux.Handle("GET /avatar", avatar.NewServer(driver, controls,
			avatar.WithServerLogger(logger), avatar.WithOrigins(cfg.Server.Origins...), avatar.WithPetting(orch)))
		startHTTP(gctx, g, cfg.Server.Addr, mux, logger)
	}

	switch cfg.ListenMode {
	case config.AlwaysListening:
		g.Go(func() error {
			if err := session.Start(gctx, capture.AlwaysListening); err != nil {
				return fmt.Errorf("start listening: %w", err)
			}
			logger.Info("🎙️ Listening... (speak to interact, Ctrl+C to quit)")
			return nil
		})
	default:
		kb := input.NewKeyboard(controller, logger)
		g.Go(func() error {
			err := kb.Run(gctx)
			if err != nil && !errors.Is(err, input.ErrQuit) {
				logger.Warn("⚠️ keyboard unavailable, talk through the avatar feed", "error", err)
				return nil
			}
			return err
		})
		logger.Info("🎙️ Press space to talk, space again to send (Esc to quit)")
	}

	// Release the microphone on the way out.
	g.Go(func() error {
		<-gctx.Done()
		if session.Active() {
			_, _ = session.Stop()
		}
		return nil
	})

	if cfg.Greet {
		orch.Greet()
	}

	err = g.Wait()
	logger.Info("🛑 Shutting down...")
	if errors.Is(err, input.ErrQuit) {
		return nil
	}
	return err
}

func startHTTP(ctx context.Context, g *errgroup.Group, addr string, h http.Handler, logger *slog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	g.Go(func() error {
		logger.Info("🔗 Avatar feed and metrics listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	})
}
