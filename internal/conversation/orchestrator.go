// Package conversation coordinates one spoken conversation: it turns
// captured speech into user turns, asks for a reply, speaks it, and aborts
// the whole cycle the moment the user talks over it.
package conversation

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/agalue/voice-companion/internal/capture"
	"github.com/agalue/voice-companion/internal/fault"
	"github.com/agalue/voice-companion/internal/llm"
	"github.com/agalue/voice-companion/internal/observe"
	"github.com/agalue/voice-companion/internal/persona"
	"github.com/agalue/voice-companion/internal/playback"
	"github.com/agalue/voice-companion/internal/stt"
	"github.com/agalue/voice-companion/internal/tts"
)

// Player is the part of playback.Session the orchestrator drives.
type Player interface {
	Play(ctx context.Context, clip playback.Clip) error
	Stop()
}

// Config bounds the orchestrator's backend calls.
type Config struct {
	Timeout      time.Duration // Per transcription, generation and synthesis call
	HistoryTurns int           // Turns of transcript sent with each request
	Stream       bool          // Consume generation incrementally
}

// DefaultConfig returns a 30s bound and a 20-turn history window.
func DefaultConfig() Config {
	return Config{Timeout: 30 * time.Second, HistoryTurns: 20}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(o *Orchestrator) { o.logger = l } }

// WithMetrics records stage latencies and cycle outcomes.
func WithMetrics(m *observe.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

// WithClock replaces time.Now for turn timestamps.
func WithClock(now func() time.Time) Option { return func(o *Orchestrator) { o.now = now } }

// Orchestrator runs the Machine. Every state change happens on the Run
// goroutine; the other methods only post events and may be called from
// any goroutine.
type Orchestrator struct {
	stt        stt.Transcriber
	gen        llm.Generator
	synth      tts.Synthesizer
	player     Player
	profile    *Profile
	transcript *Transcript
	cfg        Config
	logger     *slog.Logger
	metrics    *observe.Metrics
	now        func() time.Time

	events chan Event
	done   chan struct{}

	// Owned by the Run goroutine.
	machine          Machine
	cycles           map[uint64]cycle
	cancelTranscribe context.CancelFunc
	pending          sync.WaitGroup

	mu       sync.Mutex
	snapshot Machine
}

// New creates an orchestrator. synth may be nil, in which case every reply
// goes straight to the on-device voice.
func New(transcriber stt.Transcriber, gen llm.Generator, synth tts.Synthesizer, player Player,
	profile *Profile, transcript *Transcript, cfg Config, opts ...Option) *Orchestrator {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.HistoryTurns <= 0 {
		cfg.HistoryTurns = def.HistoryTurns
	}
	o := &Orchestrator{
		stt:        transcriber,
		gen:        gen,
		synth:      synth,
		player:     player,
		profile:    profile,
		transcript: transcript,
		cfg:        cfg,
		logger:     slog.Default(),
		now:        time.Now,
		events:     make(chan Event, 64),
		done:       make(chan struct{}),
		cycles:     make(map[uint64]cycle),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.machine = NewMachine(Fallbacks{Reply: FallbackReply, Greeting: profile.Persona.Greeting}, profile.Greeted)
	o.snapshot = o.machine
	return o
}

// CaptureStarted reports that the user began recording.
func (o *Orchestrator) CaptureStarted() { o.post(CaptureStarted{}) }

// SubmitSegment hands a finished recording over for transcription.
func (o *Orchestrator) SubmitSegment(seg capture.Segment) { o.post(SegmentCaptured{Segment: seg}) }

// SubmitText answers typed or already transcribed text.
func (o *Orchestrator) SubmitText(text string) { o.post(UtteranceReady{Text: text}) }

// Greet requests the opening greeting. Only the first request counts.
func (o *Orchestrator) Greet() { o.post(GreetingRequested{}) }

// Pet changes the bond level by delta. Later prompts see the new level.
func (o *Orchestrator) Pet(delta int) { o.post(Petted{Delta: delta}) }

// BondLevel returns the current bond level.
func (o *Orchestrator) BondLevel() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.profile.BondLevel
}

// State returns the current cycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot.State
}

// Transcribing reports whether a segment is awaiting transcription.
func (o *Orchestrator) Transcribing() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot.Transcribing
}

// Snapshot returns a copy of the machine.
func (o *Orchestrator) Snapshot() Machine {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.snapshot
}

// post queues ev. Events posted after Run returned are dropped.
func (o *Orchestrator) post(ev Event) {
	select {
	case o.events <- ev:
	case <-o.done:
	}
}

// Run processes events until ctx ends. It then cancels outstanding work,
// stops playback and waits for background calls to return.
func (o *Orchestrator) Run(ctx context.Context) error {
	defer func() {
		for id, c := range o.cycles {
			c.cancel()
			delete(o.cycles, id)
		}
		if o.cancelTranscribe != nil {
			o.cancelTranscribe()
		}
		o.player.Stop()
		close(o.done)
		o.pending.Wait()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-o.events:
			o.handle(ctx, ev)
		}
	}
}

func (o *Orchestrator) handle(ctx context.Context, ev Event) {
	prev := o.machine.State
	next, effects := o.machine.Step(ev)
	o.machine = next

	o.mu.Lock()
	o.snapshot = next
	o.mu.Unlock()

	if prev != next.State {
		o.logger.Debug("cycle state", "from", prev, "to", next.State, "cycle", next.Cycle)
	}
	for _, eff := range effects {
		o.apply(ctx, eff)
	}
}

func (o *Orchestrator) apply(ctx context.Context, eff Effect) {
	switch eff := eff.(type) {
	case AppendTurn:
		o.transcript.Append(Turn{Role: eff.Role, Text: eff.Text, At: o.now()})
		o.logger.Info("turn", "role", eff.Role, "text", eff.Text)
	case MarkGreeted:
		o.profile.Greeted = true
	case AdjustBond:
		o.mu.Lock()
		o.profile.BondLevel = persona.ClampBond(o.profile.BondLevel + eff.Delta)
		o.mu.Unlock()
		o.logger.Debug("bond level", "level", o.profile.BondLevel)
	case Transcribe:
		o.transcribe(ctx, eff)
	case RequestReply:
		o.requestReply(o.cycleContext(ctx, eff.Cycle), eff)
	case RequestSynthesis:
		o.synthesize(o.cycleContext(ctx, eff.Cycle), eff)
	case StartPlayback:
		o.play(o.cycleContext(ctx, eff.Cycle), eff)
	case StopPlayback:
		o.player.Stop()
	case EndCycle:
		if c, ok := o.cycles[eff.Cycle]; ok {
			c.cancel()
			delete(o.cycles, eff.Cycle)
		}
		if eff.Outcome == Interrupted {
			o.metrics.RecordBargeIn(ctx)
		}
		o.metrics.RecordCycle(ctx, eff.Outcome.String())
		o.logger.Debug("cycle ended", "cycle", eff.Cycle, "outcome", eff.Outcome)
	}
}

type cycle struct {
	ctx    context.Context
	cancel context.CancelFunc
}

// cycleContext returns the context of cycle id, creating it on first use.
// Ending the cycle cancels it, which aborts in-flight requests and playback.
func (o *Orchestrator) cycleContext(ctx context.Context, id uint64) context.Context {
	c, ok := o.cycles[id]
	if !ok {
		c.ctx, c.cancel = context.WithCancel(ctx)
		o.cycles[id] = c
	}
	return c.ctx
}

// spawn runs fn in the background, tracked for shutdown.
func (o *Orchestrator) spawn(fn func()) {
	o.pending.Add(1)
	go func() {
		defer o.pending.Done()
		fn()
	}()
}

func (o *Orchestrator) transcribe(ctx context.Context, eff Transcribe) {
	if o.cancelTranscribe != nil {
		o.cancelTranscribe()
	}
	tctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	o.cancelTranscribe = cancel

	o.spawn(func() {
		defer cancel()
		start := time.Now()
		text, err := o.stt.Transcribe(tctx, eff.Segment.Data, eff.Segment.MIME)
		if err != nil {
			err = classify(fault.TranscriptionFailed, "transcribe", err)
		}
		o.metrics.RecordStage(tctx, observe.StageTranscribe, time.Since(start), err)
		if fault.Visible(err) {
			o.logger.Warn("transcription failed, discarding utterance", "error", err)
		}
		o.post(Transcribed{Capture: eff.Capture, Text: text, Err: err})
	})
}

func (o *Orchestrator) requestReply(ctx context.Context, eff RequestReply) {
	req := o.buildRequest(eff.Greeting)
	o.spawn(func() {
		gctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
		start := time.Now()
		text, err := o.generate(gctx, req)
		if err != nil {
			err = classify(fault.GenerationFailed, "generate", err)
		}
		o.metrics.RecordStage(gctx, observe.StageGenerate, time.Since(start), err)
		if fault.Visible(err) && ctx.Err() == nil {
			o.logger.Warn("generation failed, using fallback reply", "error", err, "greeting", eff.Greeting)
		}
		o.post(ReplyReady{Cycle: eff.Cycle, Text: text, Err: err})
	})
}

func (o *Orchestrator) generate(ctx context.Context, req llm.Request) (string, error) {
	if !o.cfg.Stream {
		return o.gen.Generate(ctx, req)
	}
	ch, err := o.gen.Stream(ctx, req)
	if err != nil {
		return "", err
	}
	return llm.Collect(ctx, ch)
}

// buildRequest assembles the persona prompt and the recent transcript.
// Greetings carry the greeting instruction as the message to answer.
func (o *Orchestrator) buildRequest(greeting bool) llm.Request {
	p := o.profile.Persona
	req := llm.Request{System: p.SystemPrompt(o.profile.context())}
	for _, t := range o.transcript.Last(o.cfg.HistoryTurns) {
		role := llm.RoleUser
		if t.Role == Assistant {
			role = llm.RoleAssistant
		}
		req.Messages = append(req.Messages, llm.Message{Role: role, Content: t.Text})
	}
	if greeting {
		req.Messages = append(req.Messages, llm.Message{Role: llm.RoleUser, Content: p.GreetingPrompt(o.profile.context())})
	}
	return req
}

func (o *Orchestrator) synthesize(ctx context.Context, eff RequestSynthesis) {
	voice := o.profile.Persona.Voice
	o.spawn(func() {
		if o.synth == nil {
			o.post(Synthesized{Cycle: eff.Cycle, Err: errNoSynthesizer})
			return
		}
		sctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
		defer cancel()
		start := time.Now()
		clip, err := o.synth.Synthesize(sctx, eff.Text, voice)
		if err != nil {
			err = classify(fault.SynthesisFailed, "synthesize", err)
		}
		o.metrics.RecordStage(sctx, observe.StageSynthesize, time.Since(start), err)
		if fault.Visible(err) && ctx.Err() == nil {
			o.logger.Warn("synthesis failed, falling back to local voice", "error", err)
		}
		o.post(Synthesized{Cycle: eff.Cycle, Audio: clip, Err: err})
	})
}

func (o *Orchestrator) play(ctx context.Context, eff StartPlayback) {
	o.spawn(func() {
		start := time.Now()
		err := o.player.Play(ctx, playback.Clip{Audio: eff.Audio.Data, MIME: eff.Audio.MIME, Text: eff.Text})
		o.metrics.RecordStage(ctx, observe.StagePlayback, time.Since(start), err)
		if fault.Visible(err) {
			o.logger.Warn("reply could not be spoken", "error", err)
		}
		o.post(PlaybackEnded{Cycle: eff.Cycle, Err: err})
	})
}

var errNoSynthesizer = errors.New("no synthesizer configured")

// classify keeps an existing classification and otherwise applies kind.
func classify(kind fault.Kind, op string, err error) error {
	if fault.KindOf(err) != fault.Unknown {
		return err
	}
	return fault.New(kind, op, err)
}
