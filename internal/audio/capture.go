package audio

import (
	"context"
	"encoding/binary"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gen2brain/malgo"
)

const (
	// chunkSlots is how many device callbacks the capture ring can hold.
	// At 32ms periods this is about four seconds of audio.
	chunkSlots = 128

	// maxChunkSamples bounds a single callback (32ms at 48kHz with headroom).
	maxChunkSamples = 2048
)

type chunk struct {
	samples [maxChunkSamples]float32
	n       int
}

// chunkRing is a single-producer single-consumer queue between the device
// callback and the delivery goroutine. The callback never blocks: when the
// ring is full the chunk is dropped.
type chunkRing struct {
	slots   [chunkSlots]chunk
	head    atomic.Uint64
	tail    atomic.Uint64
	dropped atomic.Uint64
}

func (r *chunkRing) push(samples []float32) bool {
	head, tail := r.head.Load(), r.tail.Load()
	if head-tail >= chunkSlots {
		r.dropped.Add(1)
		return false
	}
	slot := &r.slots[head%chunkSlots]
	slot.n = copy(slot.samples[:], samples)
	r.head.Add(1)
	return true
}

// pop copies the oldest chunk into a fresh slice, or returns nil when empty.
func (r *chunkRing) pop() []float32 {
	head, tail := r.head.Load(), r.tail.Load()
	if head == tail {
		return nil
	}
	slot := &r.slots[tail%chunkSlots]
	out := make([]float32, slot.n)
	copy(out, slot.samples[:slot.n])
	r.tail.Add(1)
	return out
}

// Microphone opens capture streams on the default input device.
type Microphone struct {
	ctx      *malgo.AllocatedContext
	periodMs uint32
	logger   *slog.Logger
}

var _ Source = (*Microphone)(nil)

// NewMicrophone initializes the audio backend. periodMs is the device
// callback period; 0 selects 32ms.
func NewMicrophone(periodMs uint32, logger *slog.Logger) (*Microphone, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, classifyDeviceError("init audio context", err)
	}
	if periodMs == 0 {
		periodMs = 32
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Microphone{ctx: ctx, periodMs: periodMs, logger: logger}, nil
}

// Open prepares a capture stream delivering mono samples at sampleRate.
// The device is initialized but not started; a failed Open holds nothing.
func (m *Microphone) Open(ctx context.Context, sampleRate int, onSamples func([]float32)) (InputStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInMilliseconds = m.periodMs

	s := &micStream{
		ring:      &chunkRing{},
		stop:      make(chan struct{}),
		onSamples: onSamples,
		logger:    m.logger,
	}

	device, err := malgo.InitDevice(m.ctx.Context, cfg, malgo.DeviceCallbacks{Data: s.onFrames})
	if err != nil {
		return nil, classifyDeviceError("open microphone", err)
	}
	s.device = device

	if rate := int(device.SampleRate()); rate != sampleRate {
		s.resampler = NewResampler(rate, sampleRate)
		m.logger.Debug("microphone resampling", "device_hz", rate, "target_hz", sampleRate)
	} else {
		s.resampler = passthrough{}
	}
	return s, nil
}

// Close releases the audio backend.
func (m *Microphone) Close() {
	if m.ctx != nil {
		_ = m.ctx.Uninit()
		m.ctx.Free()
		m.ctx = nil
	}
}

type micStream struct {
	device    *malgo.Device
	ring      *chunkRing
	resampler Resampler
	onSamples func([]float32)
	logger    *slog.Logger

	running   atomic.Bool
	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// onFrames runs on the audio thread and must not block.
func (s *micStream) onFrames(_, input []byte, _ uint32) {
	if !s.running.Load() {
		return
	}
	n := min(len(input)/4, maxChunkSamples)
	var buf [maxChunkSamples]float32
	for i := 0; i < n; i++ {
		buf[i] = math.Float32frombits(binary.LittleEndian.Uint32(input[i*4:]))
	}
	if !s.ring.push(buf[:n]) {
		if d := s.ring.dropped.Load(); d%100 == 1 {
			s.logger.Warn("capture ring full, dropping audio", "dropped_chunks", d)
		}
	}
}

func (s *micStream) Start() error {
	s.running.Store(true)
	s.wg.Add(1)
	go s.deliver()

	if err := s.device.Start(); err != nil {
		return classifyDeviceError("start microphone", err)
	}
	return nil
}

// deliver drains the ring outside the audio thread.
func (s *micStream) deliver() {
	defer s.wg.Done()
	idle := time.NewTicker(time.Millisecond)
	defer idle.Stop()

	for {
		if samples := s.ring.pop(); samples != nil {
			if s.onSamples != nil {
				s.onSamples(s.resampler.Resample(samples))
			}
			continue
		}
		select {
		case <-s.stop:
			return
		case <-idle.C:
		}
	}
}

func (s *micStream) Close() error {
	s.closeOnce.Do(func() {
		s.running.Store(false)
		close(s.stop)
		s.wg.Wait()
		if s.device != nil {
			s.device.Stop()
			s.device.Uninit()
			s.device = nil
		}
	})
	return nil
}
