package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

// sampleSlots is the output ring capacity, about 11 seconds at 48kHz.
// Longer clips are fed in as the device drains the ring.
const sampleSlots = 1 << 19

// ErrPlaybackStalled is returned when queued audio stops draining.
var ErrPlaybackStalled = errors.New("playback stalled")

// sampleRing is a single-producer single-consumer sample queue feeding the
// device callback. clear may run on the producer side while the consumer
// pops, so tail only advances by compare-and-swap and never passes head.
type sampleRing struct {
	samples [sampleSlots]float32
	head    atomic.Uint64
	tail    atomic.Uint64
}

func (r *sampleRing) push(samples []float32) int {
	head, tail := r.head.Load(), r.tail.Load()
	n := min(len(samples), sampleSlots-int(head-tail))
	for i := 0; i < n; i++ {
		r.samples[(head+uint64(i))%sampleSlots] = samples[i]
	}
	r.head.Add(uint64(n))
	return n
}

func (r *sampleRing) pop() (float32, bool) {
	head, tail := r.head.Load(), r.tail.Load()
	if head == tail {
		return 0, false
	}
	s := r.samples[tail%sampleSlots]
	if !r.tail.CompareAndSwap(tail, tail+1) {
		// flushed underneath us
		return 0, false
	}
	return s, true
}

func (r *sampleRing) empty() bool { return r.head.Load() == r.tail.Load() }

func (r *sampleRing) clear() { r.tail.Store(r.head.Load()) }

// Speaker plays mono buffers on a persistent default output device and
// exposes the samples it has just played as a Tap.
type Speaker struct {
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	rate     int
	bufferMs uint32
	logger   *slog.Logger

	ring    *sampleRing
	recent  *Recent
	drained chan struct{}
	mu      sync.Mutex // one Play at a time
}

// NewSpeaker opens and starts the output device. bufferMs is the device
// period: 20ms suits wired output, 100ms (the default) suits Bluetooth.
func NewSpeaker(bufferMs uint32, logger *slog.Logger) (*Speaker, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, classifyDeviceError("init audio context", err)
	}
	if bufferMs == 0 {
		bufferMs = 100
	}
	if logger == nil {
		logger = slog.Default()
	}

	s := &Speaker{
		ctx:      ctx,
		rate:     nativeOutputRate(),
		bufferMs: bufferMs,
		logger:   logger,
		ring:     &sampleRing{},
		recent:   NewRecent(2048),
		drained:  make(chan struct{}, 1),
	}
	if err := s.initDevice(); err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, err
	}
	logger.Info("🔊 output device started", "sample_rate", s.rate, "buffer_ms", bufferMs)
	return s, nil
}

func (s *Speaker) initDevice() error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatF32
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(s.rate)
	cfg.PeriodSizeInMilliseconds = s.bufferMs

	device, err := malgo.InitDevice(s.ctx.Context, cfg, malgo.DeviceCallbacks{Data: s.onFrames})
	if err != nil {
		return classifyDeviceError("open speaker", err)
	}
	if err := device.Start(); err != nil {
		device.Uninit()
		return classifyDeviceError("start speaker", err)
	}
	s.device = device
	return nil
}

// onFrames runs on the audio thread. It outputs silence once the ring is empty.
func (s *Speaker) onFrames(output, _ []byte, frames uint32) {
	var played [maxChunkSamples]float32
	n := 0
	for i := 0; i < int(frames); i++ {
		sample, ok := s.ring.pop()
		if ok && n < len(played) {
			played[n] = sample
			n++
		}
		binary.LittleEndian.PutUint32(output[i*4:], math.Float32bits(sample))
	}
	if n > 0 {
		s.recent.Write(played[:n])
	}
	if s.ring.empty() {
		select {
		case s.drained <- struct{}{}:
		default:
		}
	}
}

// nativeOutputRate returns the default playback rate, 48kHz when unknown.
func nativeOutputRate() int {
	if cfg := malgo.DefaultDeviceConfig(malgo.Playback); cfg.SampleRate > 0 {
		return int(cfg.SampleRate)
	}
	return 48000
}

// SampleRate returns the device rate.
func (s *Speaker) SampleRate() int { return s.rate }

// Window implements Tap over the most recently played samples.
func (s *Speaker) Window(dst []float32) int { return s.recent.Window(dst) }

// Play queues buf and blocks until it has drained or ctx is done. On
// cancellation the queue is flushed so the device is silent when Play returns.
func (s *Speaker) Play(ctx context.Context, buf Buffer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := Resample(buf.Samples, buf.SampleRate, s.rate)
	select {
	case <-s.drained:
	default:
	}
	s.recent.Reset()

	pending := samples[s.ring.push(samples):]
	limit := time.Duration(len(samples)/max(s.rate, 1)+2) * time.Second
	deadline := time.NewTimer(limit)
	defer deadline.Stop()
	poll := time.NewTicker(20 * time.Millisecond)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			s.ring.clear()
			return ctx.Err()
		case <-deadline.C:
			s.ring.clear()
			return fmt.Errorf("play %s of audio: %w", buf.Duration(), ErrPlaybackStalled)
		case <-s.drained:
		case <-poll.C:
		}
		if len(pending) > 0 {
			pending = pending[s.ring.push(pending):]
			continue
		}
		if s.ring.empty() {
			return nil
		}
	}
}

// Close stops the device and releases the backend.
func (s *Speaker) Close() {
	s.ring.clear()
	if s.device != nil {
		s.device.Stop()
		s.device.Uninit()
		s.device = nil
	}
	if s.ctx != nil {
		_ = s.ctx.Uninit()
		s.ctx.Free()
		s.ctx = nil
	}
}
