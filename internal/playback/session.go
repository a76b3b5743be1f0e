// Package playback plays one reply clip at a time and reports its live
// level for the avatar.
package playback

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/agalue/voice-companion/internal/audio"
	"github.com/agalue/voice-companion/internal/fault"
	"github.com/agalue/voice-companion/internal/tts"
)

// ErrNoAudio means a clip carried no audio bytes.
var ErrNoAudio = errors.New("clip has no audio")

// Output is a speaker that can also be tapped for metering.
type Output interface {
	audio.Tap
	Play(ctx context.Context, buf audio.Buffer) error
}

// LevelMeter is the part of audio.Meter the session uses.
type LevelMeter interface {
	Attach(audio.Tap)
	Detach()
	Sample() float64
}

// Clip is a synthesized reply. Text is spoken with the on-device voice when
// the audio cannot be played.
type Clip struct {
	Audio []byte
	MIME  string
	Text  string
}

// Option configures a Session.
type Option func(*Session)

// WithLocalVoice sets the fallback voice.
func WithLocalVoice(v tts.LocalVoice) Option { return func(s *Session) { s.voice = v } }

// WithMeter replaces the default speaker meter.
func WithMeter(m LevelMeter) Option { return func(s *Session) { s.meter = m } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.logger = l } }

// Session exclusively owns the output. At most one clip plays at a time.
type Session struct {
	out    Output
	voice  tts.LocalVoice
	meter  LevelMeter
	logger *slog.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	playing atomic.Bool
}

// New creates an idle session on out.
func New(out Output, opts ...Option) *Session {
	s := &Session{out: out, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if s.meter == nil {
		cfg := audio.DefaultMeterConfig()
		cfg.Ceiling = audio.SpeakerCeiling
		s.meter = audio.NewMeter(cfg)
	}
	return s
}

// Play replaces whatever is playing with clip and blocks until it finishes,
// is stopped, or fails.
func (s *Session) Play(ctx context.Context, clip Clip) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	s.mu.Lock()
	prevCancel, prevDone := s.cancel, s.done
	s.cancel, s.done = cancel, done
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		if s.done == done {
			s.cancel, s.done = nil, nil
		}
		s.mu.Unlock()
		close(done)
	}()

	if prevCancel != nil {
		prevCancel()
		<-prevDone
	}
	if ctx.Err() != nil {
		return fault.New(fault.Cancelled, "playback", ctx.Err())
	}

	buf, err := decode(clip)
	if err != nil {
		s.logger.Warn("clip not playable, using local voice", "error", err)
		return s.speak(ctx, clip.Text, err)
	}
	if err := s.output(ctx, buf); err != nil {
		if ctx.Err() != nil {
			return fault.New(fault.Cancelled, "playback", ctx.Err())
		}
		s.logger.Warn("playback failed, using local voice", "error", err)
		return s.speak(ctx, clip.Text, err)
	}
	return nil
}

func decode(clip Clip) (audio.Buffer, error) {
	if len(clip.Audio) == 0 {
		return audio.Buffer{}, ErrNoAudio
	}
	return audio.Decode(clip.Audio, clip.MIME)
}

// speak renders text with the local voice after cause prevented normal
// playback. On-device synthesis cannot be interrupted mid-sentence, so it
// runs apart from the session and a stop abandons it: Stop never waits for
// synthesis, only for output.
func (s *Session) speak(ctx context.Context, text string, cause error) error {
	if s.voice == nil {
		return fault.New(fault.PlaybackFailed, "playback", errors.Join(cause, tts.ErrNoVoice))
	}
	type spoken struct {
		buf audio.Buffer
		err error
	}
	result := make(chan spoken, 1)
	go func() {
		buf, err := s.voice.Speak(ctx, text)
		result <- spoken{buf, err}
	}()

	var err error
	select {
	case <-ctx.Done():
	case r := <-result:
		err = r.err
		if err == nil && ctx.Err() == nil {
			err = s.output(ctx, r.buf)
		}
	}
	switch {
	case ctx.Err() != nil:
		return fault.New(fault.Cancelled, "local voice", ctx.Err())
	case err == nil:
		return nil
	default:
		return fault.New(fault.PlaybackFailed, "local voice", errors.Join(cause, err))
	}
}

func (s *Session) output(ctx context.Context, buf audio.Buffer) error {
	s.meter.Attach(s.out)
	s.playing.Store(true)
	defer func() {
		s.playing.Store(false)
		s.meter.Detach()
	}()
	return s.out.Play(ctx, buf)
}

// Stop silences the output. It returns once playback has ended and is safe
// to call when nothing plays.
func (s *Session) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Playing reports whether audio is being output.
func (s *Session) Playing() bool { return s.playing.Load() }

// Level returns the output level while playing and 0 otherwise.
func (s *Session) Level() float64 {
	if !s.playing.Load() {
		return 0
	}
	return s.meter.Sample()
}
