package audio

import (
	"errors"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ─── Meter ───────────────────────────────────────────────────────────────────

// fixedTap serves a constant window.
type fixedTap struct{ samples []float32 }

func (f *fixedTap) Window(dst []float32) int {
	n := min(len(dst), len(f.samples))
	copy(dst, f.samples[len(f.samples)-n:])
	return n
}

func noise(n int, amp float64, seed int64) []float32 {
	rng := rand.New(rand.NewSource(seed))
	out := make([]float32, n)
	for i := range out {
		out[i] = float32((rng.Float64()*2 - 1) * amp)
	}
	return out
}

func TestMeterDetachedReturnsZero(t *testing.T) {
	t.Parallel()

	m := NewMeter(DefaultMeterConfig())
	if got := m.Sample(); got != 0 {
		t.Fatalf("Sample() before Attach = %v, want 0", got)
	}

	m.Attach(&fixedTap{samples: noise(256, 0.5, 1)})
	if got := m.Sample(); got == 0 {
		t.Fatal("Sample() while attached to noise = 0, want > 0")
	}

	m.Detach()
	m.Detach()
	if got := m.Sample(); got != 0 {
		t.Fatalf("Sample() after Detach = %v, want 0", got)
	}
}

func TestMeterNotReadyReturnsZero(t *testing.T) {
	t.Parallel()

	m := NewMeter(DefaultMeterConfig())
	m.Attach(&fixedTap{})
	if got := m.Sample(); got != 0 {
		t.Fatalf("Sample() on empty tap = %v, want 0", got)
	}
}

func TestMeterSilenceAndLoudness(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		samples []float32
		wantMin float64
		wantMax float64
	}{
		{"silence", make([]float32, 256), 0, 0},
		{"loud noise clamps", noise(256, 0.8, 2), 0.5, 1},
		{"quiet noise", noise(256, 0.0005, 3), 0, 0.9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			m := NewMeter(DefaultMeterConfig())
			m.Attach(&fixedTap{samples: tt.samples})
			var got float64
			for range 50 {
				got = m.Sample()
			}
			if got < tt.wantMin || got > tt.wantMax {
				t.Errorf("Sample() = %v, want within [%v, %v]", got, tt.wantMin, tt.wantMax)
			}
		})
	}
}

func TestMeterSmoothingDecays(t *testing.T) {
	t.Parallel()

	tap := &fixedTap{samples: noise(256, 0.5, 4)}
	m := NewMeter(DefaultMeterConfig())
	m.Attach(tap)
	for range 20 {
		m.Sample()
	}

	tap.samples = make([]float32, 256)
	first := m.Sample()
	if first == 0 {
		t.Fatal("level dropped to 0 immediately after silence, want smoothed decay")
	}
	var last float64
	for range 200 {
		last = m.Sample()
	}
	if last != 0 {
		t.Fatalf("level after long silence = %v, want 0", last)
	}
}

func TestMeterCeiling(t *testing.T) {
	t.Parallel()

	samples := noise(256, 0.002, 5)
	mic := NewMeter(DefaultMeterConfig())
	cfg := DefaultMeterConfig()
	cfg.Ceiling = SpeakerCeiling
	spk := NewMeter(cfg)
	mic.Attach(&fixedTap{samples: samples})
	spk.Attach(&fixedTap{samples: samples})

	var a, b float64
	for range 30 {
		a, b = mic.Sample(), spk.Sample()
	}
	if b < a {
		t.Fatalf("speaker ceiling level %v < mic ceiling level %v", b, a)
	}
}

// ─── Recent ──────────────────────────────────────────────────────────────────

func TestRecentWindowOrder(t *testing.T) {
	t.Parallel()

	r := NewRecent(4)
	dst := make([]float32, 8)
	if n := r.Window(dst); n != 0 {
		t.Fatalf("Window() on empty = %d, want 0", n)
	}

	r.Write([]float32{1, 2, 3})
	r.Write([]float32{4, 5, 6})
	n := r.Window(dst)
	if n != 4 {
		t.Fatalf("Window() = %d, want 4", n)
	}
	want := []float32{3, 4, 5, 6}
	for i, v := range want {
		if dst[i] != v {
			t.Fatalf("dst[%d] = %v, want %v (dst=%v)", i, dst[i], v, dst[:n])
		}
	}

	small := make([]float32, 2)
	r.Window(small)
	if small[0] != 5 || small[1] != 6 {
		t.Fatalf("short window = %v, want [5 6]", small)
	}

	r.Reset()
	if n := r.Window(dst); n != 0 {
		t.Fatalf("Window() after Reset = %d, want 0", n)
	}
}

// ─── Resample ────────────────────────────────────────────────────────────────

func TestResampleLengths(t *testing.T) {
	t.Parallel()

	in := make([]float32, 4800)
	tests := []struct {
		from, to int
		want     int
	}{
		{48000, 16000, 1600},
		{24000, 48000, 9600},
		{16000, 16000, 4800},
	}
	for _, tt := range tests {
		if got := len(Resample(in, tt.from, tt.to)); got != tt.want {
			t.Errorf("Resample(%d -> %d) len = %d, want %d", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestResamplePreservesDC(t *testing.T) {
	t.Parallel()

	in := make([]float32, 960)
	for i := range in {
		in[i] = 0.5
	}
	r := NewResampler(48000, 16000)
	r.Resample(in) // prime filter history
	out := r.Resample(in)
	for i, v := range out[len(out)/4 : 3*len(out)/4] {
		if math.Abs(float64(v)-0.5) > 0.01 {
			t.Fatalf("out[%d] = %v, want ~0.5", i, v)
		}
	}
}

// ─── Codec ───────────────────────────────────────────────────────────────────

func TestEncodeWAVDecodes(t *testing.T) {
	t.Parallel()

	src := Buffer{Samples: make([]float32, 1600), SampleRate: 16000}
	for i := range src.Samples {
		src.Samples[i] = float32(0.5 * math.Sin(2*math.Pi*440*float64(i)/16000))
	}

	got, err := Decode(EncodeWAV(src), MIMEWAV)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if got.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", got.SampleRate)
	}
	if len(got.Samples) != len(src.Samples) {
		t.Fatalf("len(Samples) = %d, want %d", len(got.Samples), len(src.Samples))
	}
	if got.Duration() != 100*time.Millisecond {
		t.Errorf("Duration() = %v, want 100ms", got.Duration())
	}
	for i := range src.Samples {
		if math.Abs(float64(got.Samples[i]-src.Samples[i])) > 1e-3 {
			t.Fatalf("sample %d = %v, want %v", i, got.Samples[i], src.Samples[i])
		}
	}
}

func TestDecodeRejectsUnknown(t *testing.T) {
	t.Parallel()

	for _, tt := range []struct {
		name string
		data []byte
		mime string
	}{
		{"empty", nil, MIMEMPEG},
		{"text", []byte("hello there"), "text/plain"},
	} {
		if _, err := Decode(tt.data, tt.mime); !errors.Is(err, ErrUnsupportedFormat) {
			t.Errorf("%s: Decode() error = %v, want ErrUnsupportedFormat", tt.name, err)
		}
	}
}

// ─── Ring ────────────────────────────────────────────────────────────────────

func TestRingClearWhilePopping(t *testing.T) {
	t.Parallel()

	r := &sampleRing{}
	var (
		stop atomic.Bool
		wg   sync.WaitGroup
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		for !stop.Load() {
			r.pop()
		}
	}()

	chunk := make([]float32, 4096)
	for i := 0; i < 2000; i++ {
		r.push(chunk)
		r.clear()
		if head, tail := r.head.Load(), r.tail.Load(); tail > head {
			stop.Store(true)
			wg.Wait()
			t.Fatalf("after %d clears tail=%d > head=%d", i+1, tail, head)
		}
	}
	stop.Store(true)
	wg.Wait()

	if !r.empty() {
		t.Fatalf("ring not empty after clear: head=%d tail=%d", r.head.Load(), r.tail.Load())
	}
	if _, ok := r.pop(); ok {
		t.Fatal("pop returned a flushed sample")
	}
}

func TestRingPushPopOrder(t *testing.T) {
	t.Parallel()

	r := &sampleRing{}
	if n := r.push([]float32{1, 2, 3}); n != 3 {
		t.Fatalf("push = %d, want 3", n)
	}
	for _, want := range []float32{1, 2, 3} {
		got, ok := r.pop()
		if !ok || got != want {
			t.Fatalf("pop = %v, %v; want %v", got, ok, want)
		}
	}
	if !r.empty() {
		t.Fatal("ring should be empty")
	}
}
