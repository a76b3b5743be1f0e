// Package vad classifies a stream of audio levels into speech and silence
// using two thresholds and a silence timer.
package vad

import (
	"errors"
	"fmt"
	"time"
)

// State is the detector state.
type State int

const (
	Idle State = iota
	Speaking
)

func (s State) String() string {
	if s == Speaking {
		return "speaking"
	}
	return "idle"
}

// EventType identifies what a Process call observed.
type EventType int

const (
	None EventType = iota
	SpeechStart
	SpeechEnd
)

// Event is the outcome of one Process call.
type Event struct {
	Type EventType
	At   time.Time
	// Voiced is the time from speech start until the trailing silence began.
	// Only set for SpeechEnd.
	Voiced time.Duration
	// Elapsed is the time from speech start until the end fired, trailing
	// silence included. Only set for SpeechEnd.
	Elapsed time.Duration
}

// Config holds detector thresholds. Levels are in [0,1].
type Config struct {
	SpeechThreshold   float64       `yaml:"speech_threshold"`
	SilenceThreshold  float64       `yaml:"silence_threshold"`
	SilenceDuration   time.Duration `yaml:"silence_duration"`
	MinSpeechDuration time.Duration `yaml:"min_speech_duration"`
}

// DefaultConfig returns the thresholds tuned for a close-talking microphone.
func DefaultConfig() Config {
	return Config{
		SpeechThreshold:   0.05,
		SilenceThreshold:  0.02,
		SilenceDuration:   1500 * time.Millisecond,
		MinSpeechDuration: 500 * time.Millisecond,
	}
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	var errs []error
	if c.SpeechThreshold <= 0 || c.SpeechThreshold > 1 {
		errs = append(errs, fmt.Errorf("speech threshold %v must be in (0,1]", c.SpeechThreshold))
	}
	if c.SilenceThreshold < 0 || c.SilenceThreshold >= c.SpeechThreshold {
		errs = append(errs, fmt.Errorf("silence threshold %v must be in [0, speech threshold %v)", c.SilenceThreshold, c.SpeechThreshold))
	}
	if c.SilenceDuration <= 0 {
		errs = append(errs, fmt.Errorf("silence duration %v must be positive", c.SilenceDuration))
	}
	if c.MinSpeechDuration < 0 {
		errs = append(errs, fmt.Errorf("min speech duration %v must not be negative", c.MinSpeechDuration))
	}
	return errors.Join(errs...)
}

// Accept reports whether a speech episode of the given voiced duration is
// long enough to be treated as an utterance.
func (c Config) Accept(voiced time.Duration) bool {
	return voiced >= c.MinSpeechDuration
}

// Detector is the hysteresis state machine. It is not safe for concurrent
// use; a single frame loop owns it.
type Detector struct {
	cfg              Config
	state            State
	speechStartedAt  time.Time
	silenceStartedAt time.Time
}

// New creates an idle detector.
func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Config returns the detector configuration.
func (d *Detector) Config() Config { return d.cfg }

// State returns the current state.
func (d *Detector) State() State { return d.state }

// Process feeds one level sample taken at now.
func (d *Detector) Process(level float64, now time.Time) Event {
	switch d.state {
	case Idle:
		if level > d.cfg.SpeechThreshold {
			d.state = Speaking
			d.speechStartedAt = now
			d.silenceStartedAt = time.Time{}
			return Event{Type: SpeechStart, At: now}
		}

	case Speaking:
		if level >= d.cfg.SilenceThreshold {
			d.silenceStartedAt = time.Time{}
			return Event{}
		}
		if d.silenceStartedAt.IsZero() {
			d.silenceStartedAt = now
		}
		if now.Sub(d.silenceStartedAt) > d.cfg.SilenceDuration {
			ev := Event{
				Type:    SpeechEnd,
				At:      now,
				Voiced:  d.silenceStartedAt.Sub(d.speechStartedAt),
				Elapsed: now.Sub(d.speechStartedAt),
			}
			d.Reset()
			return ev
		}
	}
	return Event{}
}

// Reset returns the detector to Idle and clears both timers.
func (d *Detector) Reset() {
	d.state = Idle
	d.speechStartedAt = time.Time{}
	d.silenceStartedAt = time.Time{}
}
