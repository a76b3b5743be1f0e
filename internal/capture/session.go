// Package capture owns the microphone for one conversation: it records
// push-to-talk segments on command, or lets the voice activity detector
// decide when an utterance starts and ends.
package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agalue/voice-companion/internal/audio"
	"github.com/agalue/voice-companion/internal/fault"
	"github.com/agalue/voice-companion/internal/vad"
)

// Mode selects how recording is triggered.
type Mode int

const (
	// Manual records from Start until Stop.
	Manual Mode = iota
	// AlwaysListening monitors levels and records only between VAD events.
	AlwaysListening
)

func (m Mode) String() string {
	if m == AlwaysListening {
		return "always-listening"
	}
	return "manual"
}

var (
	// ErrAlreadyActive is returned by Start while the microphone is held.
	ErrAlreadyActive = errors.New("capture already active")
	// ErrNotActive is returned by Stop when nothing is being captured.
	ErrNotActive = errors.New("capture not active")
)

// Segment is one bounded utterance, encoded for transcription.
type Segment struct {
	Data       []byte
	MIME       string
	Duration   time.Duration
	CapturedAt time.Time
}

// LevelMeter is the part of audio.Meter the session uses.
type LevelMeter interface {
	Attach(audio.Tap)
	Detach()
	Sample() float64
}

// Config holds capture settings.
type Config struct {
	SampleRate    int           // Rate delivered to transcription
	FrameInterval time.Duration // Tick period of the internal frame loop; 0 disables it
	Preroll       time.Duration // Audio kept from before a VAD speech start
	MaxSegment    time.Duration // Recording is cut at this length; 0 means unbounded
	// EchoGuard scales the speaker level a VAD start must exceed while the
	// echo source plays; 0 disables the guard.
	EchoGuard float64
	VAD       vad.Config
}

// DefaultConfig returns 16kHz capture at a 60Hz frame rate.
func DefaultConfig() Config {
	return Config{
		SampleRate:    16000,
		FrameInterval: 16 * time.Millisecond,
		Preroll:       300 * time.Millisecond,
		MaxSegment:    60 * time.Second,
		EchoGuard:     1,
		VAD:           vad.DefaultConfig(),
	}
}

// Echo is the output the microphone may pick up, such as the reply player.
type Echo interface {
	Playing() bool
	Level() float64
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(s *Session) { s.logger = l } }

// WithMeter replaces the default microphone meter.
func WithMeter(m LevelMeter) Option { return func(s *Session) { s.meter = m } }

// WithSpeechStart registers a callback for VAD speech starts.
func WithSpeechStart(fn func()) Option { return func(s *Session) { s.onSpeechStart = fn } }

// WithSegment registers the receiver of VAD-delimited segments.
func WithSegment(fn func(Segment)) Option { return func(s *Session) { s.onSegment = fn } }

// WithEcho guards always-listening mode against hearing e. While e plays,
// speech only starts when the microphone is louder than EchoGuard times
// the output level. Speech already in progress is not affected.
func WithEcho(e Echo) Option { return func(s *Session) { s.echo = e } }

// Session owns the microphone while active. Start and Stop may be called
// from any goroutine; Tick is driven by the frame loop or by the caller.
type Session struct {
	src    audio.Source
	cfg    Config
	meter  LevelMeter
	logger *slog.Logger

	onSpeechStart func()
	onSegment     func(Segment)
	echo          Echo

	mu        sync.Mutex
	starting  bool
	active    bool
	mode      Mode
	stream    audio.InputStream
	stopLoop  context.CancelFunc
	loopDone  chan struct{}
	recording bool
	pcm       []float32
	startedAt time.Time
	detector  *vad.Detector
	recent    *audio.Recent

	level atomic.Uint64 // float64 bits
}

// New creates an idle session reading from src.
func New(src audio.Source, cfg Config, opts ...Option) *Session {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultConfig().SampleRate
	}
	preroll := max(int(cfg.Preroll.Seconds()*float64(cfg.SampleRate)), 256)

	s := &Session{
		src:      src,
		cfg:      cfg,
		logger:   slog.Default(),
		detector: vad.New(cfg.VAD),
		recent:   audio.NewRecent(preroll),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.meter == nil {
		s.meter = audio.NewMeter(audio.DefaultMeterConfig())
	}
	return s
}

// Start acquires the microphone in the given mode. On any failure nothing
// stays open and the session remains idle.
func (s *Session) Start(ctx context.Context, mode Mode) error {
	s.mu.Lock()
	if s.active || s.starting {
		s.mu.Unlock()
		return ErrAlreadyActive
	}
	s.starting = true
	s.recent.Reset()
	s.detector.Reset()
	s.pcm = nil
	s.mu.Unlock()

	// The stream delivers samples into the session, so it is opened and,
	// on failure, closed without holding the lock.
	stream, err := s.src.Open(ctx, s.cfg.SampleRate, s.onSamples)
	if err != nil {
		s.abortStart()
		return deviceError("open microphone", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		s.abortStart()
		return deviceError("start microphone", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.starting = false
	s.active = true
	s.mode = mode
	s.stream = stream
	s.meter.Attach(s.recent)
	if mode == Manual {
		s.recording = true
		s.startedAt = time.Now()
	}

	if s.cfg.FrameInterval > 0 {
		loopCtx, cancel := context.WithCancel(ctx)
		done := make(chan struct{})
		s.stopLoop, s.loopDone = cancel, done
		go s.frameLoop(loopCtx, done)
	}

	s.logger.Debug("capture started", "mode", mode)
	return nil
}

func (s *Session) abortStart() {
	s.mu.Lock()
	s.starting = false
	s.mu.Unlock()
}

// Stop releases the microphone. In manual mode it returns the recorded
// segment, or nil when nothing was captured. In always-listening mode any
// partial segment is dropped and nil is returned.
func (s *Session) Stop() (*Segment, error) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return nil, ErrNotActive
	}
	stream, stopLoop, loopDone := s.stream, s.stopLoop, s.loopDone
	mode, pcm, startedAt := s.mode, s.pcm, s.startedAt

	s.active = false
	s.recording = false
	s.stream, s.stopLoop, s.loopDone = nil, nil, nil
	s.pcm = nil
	s.detector.Reset()
	s.meter.Detach()
	s.level.Store(0)
	s.mu.Unlock()

	// The stream and loop call back into the session, so they are torn
	// down without holding the lock.
	if stopLoop != nil {
		stopLoop()
		<-loopDone
	}
	if err := stream.Close(); err != nil {
		s.logger.Warn("closing microphone", "error", err)
	}

	if mode != Manual || len(pcm) == 0 {
		return nil, nil
	}
	seg := s.encode(pcm, startedAt)
	return &seg, nil
}

// Active reports whether the microphone is held.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Recording reports whether audio is currently being kept for a segment.
func (s *Session) Recording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

// Mode returns the mode of the active session.
func (s *Session) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Level returns the microphone level sampled at the last tick.
func (s *Session) Level() float64 {
	return math.Float64frombits(s.level.Load())
}

// Tick samples the meter and, in always-listening mode, advances the VAD.
// It is the per-frame callback of the capture loop.
func (s *Session) Tick(now time.Time) {
	var (
		started bool
		seg     *Segment
	)

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	level := s.meter.Sample()
	s.level.Store(math.Float64bits(level))

	if s.mode == AlwaysListening {
		switch ev := s.detector.Process(s.voiceLevel(level), now); ev.Type {
		case vad.SpeechStart:
			started = true
			s.recording = true
			s.startedAt = now
			s.pcm = s.preroll()
		case vad.SpeechEnd:
			pcm := s.pcm
			s.recording = false
			s.pcm = nil
			if s.cfg.VAD.Accept(ev.Voiced) {
				enc := s.encode(pcm, s.startedAt)
				enc.Duration = ev.Voiced
				seg = &enc
			} else {
				s.logger.Debug("discarding short speech", "voiced", ev.Voiced, "min", s.cfg.VAD.MinSpeechDuration)
			}
		}
	}
	s.mu.Unlock()

	if started && s.onSpeechStart != nil {
		s.onSpeechStart()
	}
	if seg != nil && s.onSegment != nil {
		s.onSegment(*seg)
	}
}

// voiceLevel is the level fed to the detector. Before speech starts, a level
// the echo source could account for counts as silence.
func (s *Session) voiceLevel(level float64) float64 {
	if s.echo == nil || s.cfg.EchoGuard <= 0 || s.detector.State() != vad.Idle {
		return level
	}
	if s.echo.Playing() && level <= s.cfg.EchoGuard*s.echo.Level() {
		return 0
	}
	return level
}

func (s *Session) frameLoop(ctx context.Context, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.cfg.FrameInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.Tick(now)
		}
	}
}

// onSamples receives converted microphone audio.
func (s *Session) onSamples(samples []float32) {
	s.recent.Write(samples)

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.active || !s.recording {
		return
	}
	if limit := int(s.cfg.MaxSegment.Seconds() * float64(s.cfg.SampleRate)); limit > 0 && len(s.pcm)+len(samples) > limit {
		samples = samples[:max(limit-len(s.pcm), 0)]
	}
	s.pcm = append(s.pcm, samples...)
}

// preroll returns the audio captured just before a speech start, since the
// detector only fires once the level has already risen.
func (s *Session) preroll() []float32 {
	buf := make([]float32, int(s.cfg.Preroll.Seconds()*float64(s.cfg.SampleRate)))
	return buf[:s.recent.Window(buf)]
}

func (s *Session) encode(pcm []float32, startedAt time.Time) Segment {
	b := audio.Buffer{Samples: pcm, SampleRate: s.cfg.SampleRate}
	return Segment{
		Data:       audio.EncodeWAV(b),
		MIME:       audio.MIMEWAV,
		Duration:   b.Duration(),
		CapturedAt: startedAt,
	}
}

// deviceError keeps an existing classification and otherwise reports the
// failure as an unavailable device.
func deviceError(op string, err error) error {
	if fault.KindOf(err) != fault.Unknown {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fault.New(fault.DeviceUnavailable, op, err)
}
