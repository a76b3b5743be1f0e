package vad

import (
	"math/rand"
	"testing"
	"time"
)

const frame = 16 * time.Millisecond

var epoch = time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

// feed drives d with level for the given span, one sample per frame,
// starting at *now, and returns the non-empty events.
func feed(d *Detector, now *time.Time, level float64, span time.Duration) []Event {
	var events []Event
	end := now.Add(span)
	for ; now.Before(end); *now = now.Add(frame) {
		if ev := d.Process(level, *now); ev.Type != None {
			events = append(events, ev)
		}
	}
	return events
}

func TestHysteresisBandNeverChangesState(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	rng := rand.New(rand.NewSource(7))
	for _, start := range []State{Idle, Speaking} {
		d := New(cfg)
		now := epoch
		if start == Speaking {
			d.Process(0.9, now)
		}
		for i := 0; i < 5000; i++ {
			now = now.Add(frame)
			// Strictly between the thresholds.
			level := cfg.SilenceThreshold + (cfg.SpeechThreshold-cfg.SilenceThreshold)*(0.001+0.998*rng.Float64())
			if ev := d.Process(level, now); ev.Type != None {
				t.Fatalf("start=%s sample %d level %v: got event %v", start, i, level, ev.Type)
			}
			if d.State() != start {
				t.Fatalf("start=%s sample %d: state changed to %s", start, i, d.State())
			}
		}
	}
}

func TestScenarioAcceptedUtterance(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	d := New(cfg)
	now := epoch

	var events []Event
	events = append(events, feed(d, &now, 0.01, 200*time.Millisecond)...)
	speechAt := now
	events = append(events, feed(d, &now, 0.08, 600*time.Millisecond)...)
	silenceAt := now
	events = append(events, feed(d, &now, 0.01, 1600*time.Millisecond)...)

	if len(events) != 2 {
		t.Fatalf("got %d events, want 2: %+v", len(events), events)
	}
	start, end := events[0], events[1]
	if start.Type != SpeechStart || !start.At.Equal(speechAt) {
		t.Errorf("start = %+v, want SpeechStart at %v", start, speechAt)
	}
	if end.Type != SpeechEnd {
		t.Fatalf("end.Type = %v, want SpeechEnd", end.Type)
	}
	after := end.At.Sub(silenceAt)
	if after <= cfg.SilenceDuration || after > cfg.SilenceDuration+2*frame {
		t.Errorf("end fired %v after silence began, want just over %v", after, cfg.SilenceDuration)
	}
	if end.Voiced < 600*time.Millisecond {
		t.Errorf("Voiced = %v, want >= 600ms", end.Voiced)
	}
	if !cfg.Accept(end.Voiced) {
		t.Errorf("Accept(%v) = false, want true", end.Voiced)
	}
	if d.State() != Idle {
		t.Errorf("state = %s, want idle", d.State())
	}
}

func TestScenarioShortSpeechRejected(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	d := New(cfg)
	now := epoch

	var events []Event
	events = append(events, feed(d, &now, 0.08, 300*time.Millisecond)...)
	events = append(events, feed(d, &now, 0.01, 1600*time.Millisecond)...)

	if len(events) != 2 || events[1].Type != SpeechEnd {
		t.Fatalf("events = %+v, want start then end", events)
	}
	if cfg.Accept(events[1].Voiced) {
		t.Errorf("Accept(%v) = true, want false for a 300ms episode", events[1].Voiced)
	}
}

func TestSilenceInterruptedByVoiceCancelsEnd(t *testing.T) {
	t.Parallel()

	d := New(DefaultConfig())
	now := epoch

	feed(d, &now, 0.08, 100*time.Millisecond)
	feed(d, &now, 0.01, time.Second)
	// Back above the silence threshold, but below the speech threshold.
	if evs := feed(d, &now, 0.03, 50*time.Millisecond); len(evs) != 0 {
		t.Fatalf("unexpected events %+v", evs)
	}
	if evs := feed(d, &now, 0.01, time.Second); len(evs) != 0 {
		t.Fatalf("silence timer was not restarted: %+v", evs)
	}
	if d.State() != Speaking {
		t.Fatalf("state = %s, want speaking", d.State())
	}
	if evs := feed(d, &now, 0.01, time.Second); len(evs) != 1 || evs[0].Type != SpeechEnd {
		t.Fatalf("events = %+v, want one SpeechEnd", evs)
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"inverted thresholds", func(c *Config) { c.SilenceThreshold = 0.1 }, true},
		{"equal thresholds", func(c *Config) { c.SilenceThreshold = c.SpeechThreshold }, true},
		{"zero silence duration", func(c *Config) { c.SilenceDuration = 0 }, true},
		{"speech threshold above one", func(c *Config) { c.SpeechThreshold = 1.5 }, true},
		{"negative min speech", func(c *Config) { c.MinSpeechDuration = -time.Second }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
