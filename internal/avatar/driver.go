package avatar

import (
	"context"
	"sync"
	"time"

	"github.com/agalue/voice-companion/internal/conversation"
)

// Recorder reports microphone activity.
type Recorder interface {
	Recording() bool
	Level() float64
}

// Player reports speaker activity.
type Player interface {
	Playing() bool
	Level() float64
}

// Cycle exposes the conversation state.
type Cycle interface {
	Snapshot() conversation.Machine
}

// Sources are the components a Driver samples.
type Sources struct {
	Mic     Recorder
	Cycle   Cycle
	Speaker Player
}

// Sample reads every source once. Nil sources read as inactive.
func (s Sources) Sample() Snapshot {
	var snap Snapshot
	if s.Mic != nil {
		snap.Recording = s.Mic.Recording()
		snap.MicLevel = s.Mic.Level()
	}
	if s.Cycle != nil {
		snap.Cycle = s.Cycle.Snapshot()
	}
	if s.Speaker != nil {
		snap.Playing = s.Speaker.Playing()
		snap.SpeakerLevel = s.Speaker.Level()
	}
	return snap
}

// Driver samples its sources on a fixed interval and fans frames out to
// subscribers. Slow subscribers only ever see the latest frame.
type Driver struct {
	sources  Sources
	interval time.Duration

	mu   sync.Mutex
	subs map[chan Frame]struct{}
	last Frame
}

// NewDriver returns a driver ticking every interval, 30Hz when zero.
func NewDriver(src Sources, interval time.Duration) *Driver {
	if interval <= 0 {
		interval = time.Second / 30
	}
	return &Driver{
		sources:  src,
		interval: interval,
		subs:     make(map[chan Frame]struct{}),
		last:     Frame{Activity: Idle},
	}
}

// Run ticks until ctx ends.
func (d *Driver) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.publish(Compute(d.sources.Sample()))
		}
	}
}

func (d *Driver) publish(f Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = f
	for ch := range d.subs {
		select {
		case ch <- f:
		default:
			// Replace the stale frame.
			select {
			case <-ch:
			default:
			}
			ch <- f
		}
	}
}

// Last returns the most recent frame.
func (d *Driver) Last() Frame {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Subscribe returns a channel that receives the current frame and every
// later one, and a function that ends the subscription.
func (d *Driver) Subscribe() (<-chan Frame, func()) {
	ch := make(chan Frame, 1)
	d.mu.Lock()
	ch <- d.last
	d.subs[ch] = struct{}{}
	d.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			d.mu.Lock()
			delete(d.subs, ch)
			d.mu.Unlock()
		})
	}
}
