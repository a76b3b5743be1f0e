package conversation

import (
	"strings"

	"github.com/agalue/voice-companion/internal/capture"
	"github.com/agalue/voice-companion/internal/tts"
)

// State is the phase of the current conversational cycle.
type State int

const (
	Idle State = iota
	AwaitingReply
	Speaking
)

func (s State) String() string {
	switch s {
	case AwaitingReply:
		return "awaiting_reply"
	case Speaking:
		return "speaking"
	default:
		return "idle"
	}
}

// Outcome is how a cycle ended.
type Outcome int

const (
	Completed Outcome = iota
	Interrupted
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Interrupted:
		return "interrupted"
	case Failed:
		return "failed"
	default:
		return "completed"
	}
}

// FallbackReply is spoken when no reply could be generated.
const FallbackReply = "I'm having a moment... could you try again?"

// Fallbacks are the texts used when generation fails.
type Fallbacks struct {
	Reply    string
	Greeting string
}

// Event is an input to the machine.
type Event interface{ event() }

// CaptureStarted means the user began recording. It interrupts any cycle.
type CaptureStarted struct{}

// SegmentCaptured carries a finished recording of the latest capture.
type SegmentCaptured struct{ Segment capture.Segment }

// Transcribed is the transcription result for capture Capture.
type Transcribed struct {
	Capture uint64
	Text    string
	Err     error
}

// UtteranceReady is user text to answer.
type UtteranceReady struct{ Text string }

// GreetingRequested asks for the one-time opening greeting.
type GreetingRequested struct{}

// ReplyReady is the generation result for cycle Cycle.
type ReplyReady struct {
	Cycle uint64
	Text  string
	Err   error
}

// Synthesized is the speech synthesis result for cycle Cycle.
type Synthesized struct {
	Cycle uint64
	Audio tts.Audio
	Err   error
}

// PlaybackEnded reports that playback for cycle Cycle returned.
type PlaybackEnded struct {
	Cycle uint64
	Err   error
}

// Petted raises or lowers the bond level. It never interrupts a cycle.
type Petted struct{ Delta int }

func (CaptureStarted) event()    {}
func (SegmentCaptured) event()   {}
func (Transcribed) event()       {}
func (UtteranceReady) event()    {}
func (GreetingRequested) event() {}
func (ReplyReady) event()        {}
func (Synthesized) event()       {}
func (PlaybackEnded) event()     {}
func (Petted) event()            {}

// Effect is work the runtime performs after a step, in order.
type Effect interface{ effect() }

// AppendTurn records a turn in the transcript.
type AppendTurn struct {
	Role Role
	Text string
}

// Transcribe starts transcription of a segment, superseding any pending one.
type Transcribe struct {
	Capture uint64
	Segment capture.Segment
}

// RequestReply starts generation for a cycle.
type RequestReply struct {
	Cycle    uint64
	Greeting bool
}

// RequestSynthesis starts speech synthesis of the reply.
type RequestSynthesis struct {
	Cycle uint64
	Text  string
}

// StartPlayback plays the reply. Audio may be empty, leaving playback to
// the on-device voice.
type StartPlayback struct {
	Cycle uint64
	Audio tts.Audio
	Text  string
}

// StopPlayback silences the output before the step's later effects run.
type StopPlayback struct{}

// EndCycle releases a cycle's resources. Its pending work is cancelled.
type EndCycle struct {
	Cycle   uint64
	Outcome Outcome
}

// MarkGreeted records that the greeting fired.
type MarkGreeted struct{}

// AdjustBond changes the bond level by Delta, clamped to 0..100.
type AdjustBond struct{ Delta int }

func (AppendTurn) effect()       {}
func (Transcribe) effect()       {}
func (RequestReply) effect()     {}
func (RequestSynthesis) effect() {}
func (StartPlayback) effect()    {}
func (StopPlayback) effect()     {}
func (EndCycle) effect()         {}
func (MarkGreeted) effect()      {}
func (AdjustBond) effect()       {}

// Machine is the turn-taking state. It has no side effects: Step returns
// the next state and the effects to run. Cycle and Capture ids only grow,
// and results tagged with an older id are dropped.
type Machine struct {
	State        State
	Cycle        uint64
	Capture      uint64
	Transcribing bool
	Greeted      bool
	Reply        string

	greeting  bool // Current cycle is the greeting
	failed    bool // Current cycle degraded
	fallbacks Fallbacks
}

// NewMachine returns an idle machine. greeted is true when the greeting
// already fired in an earlier session.
func NewMachine(fb Fallbacks, greeted bool) Machine {
	if fb.Reply == "" {
		fb.Reply = FallbackReply
	}
	if fb.Greeting == "" {
		fb.Greeting = fb.Reply
	}
	return Machine{Greeted: greeted, fallbacks: fb}
}

// Step applies ev.
func (m Machine) Step(ev Event) (Machine, []Effect) {
	switch ev := ev.(type) {
	case CaptureStarted:
		m.Capture++
		m.Transcribing = false
		return m.abort(nil)

	case SegmentCaptured:
		m.Transcribing = true
		return m, []Effect{Transcribe{Capture: m.Capture, Segment: ev.Segment}}

	case Transcribed:
		if ev.Capture != m.Capture || !m.Transcribing {
			return m, nil
		}
		m.Transcribing = false
		if ev.Err != nil {
			return m, nil
		}
		return m.utterance(ev.Text)

	case UtteranceReady:
		return m.utterance(ev.Text)

	case GreetingRequested:
		if m.Greeted {
			return m, nil
		}
		m.Greeted = true
		effects := []Effect{MarkGreeted{}}
		if m.State != Idle || m.Transcribing {
			return m, effects
		}
		m = m.begin(true)
		return m, append(effects, RequestReply{Cycle: m.Cycle, Greeting: true})

	case ReplyReady:
		if ev.Cycle != m.Cycle || m.State != AwaitingReply {
			return m, nil
		}
		text := strings.TrimSpace(ev.Text)
		if ev.Err != nil || text == "" {
			m.failed = true
			text = m.fallbacks.Reply
			if m.greeting {
				text = m.fallbacks.Greeting
			}
		}
		m.State = Speaking
		m.Reply = text
		return m, []Effect{
			AppendTurn{Role: Assistant, Text: text},
			RequestSynthesis{Cycle: m.Cycle, Text: text},
		}

	case Synthesized:
		if ev.Cycle != m.Cycle || m.State != Speaking {
			return m, nil
		}
		clip := ev.Audio
		if ev.Err != nil {
			clip = tts.Audio{}
		}
		return m, []Effect{StartPlayback{Cycle: m.Cycle, Audio: clip, Text: m.Reply}}

	case Petted:
		if ev.Delta == 0 {
			return m, nil
		}
		return m, []Effect{AdjustBond{Delta: ev.Delta}}
	case PlaybackEnded:
		if ev.Cycle != m.Cycle || m.State != Speaking {
			return m, nil
		}
		outcome := Completed
		if ev.Err != nil || m.failed {
			outcome = Failed
		}
		m.State = Idle
		m.Reply = ""
		m.greeting, m.failed = false, false
		return m, []Effect{EndCycle{Cycle: m.Cycle, Outcome: outcome}}
	}
	return m, nil
}

// utterance starts a cycle for text, aborting the active one.
func (m Machine) utterance(text string) (Machine, []Effect) {
	text = strings.TrimSpace(text)
	if text == "" {
		return m, nil
	}
	m, effects := m.abort(nil)
	m = m.begin(false)
	return m, append(effects,
		AppendTurn{Role: User, Text: text},
		RequestReply{Cycle: m.Cycle},
	)
}

// abort ends the active cycle, if any, as interrupted.
func (m Machine) abort(effects []Effect) (Machine, []Effect) {
	if m.State == Idle {
		return m, effects
	}
	effects = append(effects, EndCycle{Cycle: m.Cycle, Outcome: Interrupted})
	if m.State == Speaking {
		effects = append(effects, StopPlayback{})
	}
	m.State = Idle
	m.Reply = ""
	m.greeting, m.failed = false, false
	m.Cycle++ // Anything still in flight for the old cycle is now stale
	return m, effects
}

func (m Machine) begin(greeting bool) Machine {
	m.Cycle++
	m.State = AwaitingReply
	m.greeting = greeting
	return m
}
