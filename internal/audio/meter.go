package audio

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
)

// Reference ceilings for the mean byte-scaled spectrum. Speech picked up by
// a microphone sits higher in the scale than synthesized speech at the output.
const (
	MicCeiling     = 128.0
	SpeakerCeiling = 100.0
)

// MeterConfig configures a Meter.
type MeterConfig struct {
	FFTSize     int     // Analysis window in samples (power of two)
	Smoothing   float64 // Time constant in [0,1) applied to magnitudes between samples
	Ceiling     float64 // Mean byte level that maps to 1.0
	MinDecibels float64 // Level mapped to byte 0
	MaxDecibels float64 // Level mapped to byte 255
}

// DefaultMeterConfig returns the microphone analysis settings.
func DefaultMeterConfig() MeterConfig {
	return MeterConfig{
		FFTSize:     256,
		Smoothing:   0.8,
		Ceiling:     MicCeiling,
		MinDecibels: -100,
		MaxDecibels: -30,
	}
}

// Meter turns the newest window of a tapped stream into a loudness scalar
// in [0,1]. It never owns the stream: Detach drops the reference and
// Sample returns 0 until the next Attach.
type Meter struct {
	cfg MeterConfig

	mu       sync.Mutex
	tap      Tap
	fft      *fourier.FFT
	window   []float64 // Blackman coefficients
	frame    []float32
	seq      []float64
	coeffs   []complex128
	smoothed []float64
}

// NewMeter creates a detached meter.
func NewMeter(cfg MeterConfig) *Meter {
	def := DefaultMeterConfig()
	if cfg.FFTSize <= 0 {
		cfg.FFTSize = def.FFTSize
	}
	if cfg.Smoothing < 0 || cfg.Smoothing >= 1 {
		cfg.Smoothing = def.Smoothing
	}
	if cfg.Ceiling <= 0 {
		cfg.Ceiling = def.Ceiling
	}
	if cfg.MaxDecibels <= cfg.MinDecibels {
		cfg.MinDecibels, cfg.MaxDecibels = def.MinDecibels, def.MaxDecibels
	}

	n := cfg.FFTSize
	window := make([]float64, n)
	for i := range window {
		x := 2 * math.Pi * float64(i) / float64(n)
		window[i] = 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
	}

	return &Meter{
		cfg:      cfg,
		fft:      fourier.NewFFT(n),
		window:   window,
		frame:    make([]float32, n),
		seq:      make([]float64, n),
		coeffs:   make([]complex128, n/2+1),
		smoothed: make([]float64, n/2),
	}
}

// Attach starts analysing tap, replacing any previous one.
func (m *Meter) Attach(tap Tap) {
	m.mu.Lock()
	m.tap = tap
	clear(m.smoothed)
	m.mu.Unlock()
}

// Detach stops analysing. It is safe to call when detached.
func (m *Meter) Detach() {
	m.mu.Lock()
	m.tap = nil
	m.mu.Unlock()
}

// Sample returns the current level, or 0 when detached or when the tap has
// not produced samples yet.
func (m *Meter) Sample() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.tap == nil {
		return 0
	}
	n := m.tap.Window(m.frame)
	if n == 0 {
		return 0
	}

	// Left-align the available samples and zero the rest.
	for i := range m.seq {
		if i < n {
			m.seq[i] = float64(m.frame[i]) * m.window[i]
		} else {
			m.seq[i] = 0
		}
	}
	m.coeffs = m.fft.Coefficients(m.coeffs, m.seq)

	size := float64(m.cfg.FFTSize)
	span := m.cfg.MaxDecibels - m.cfg.MinDecibels
	tau := m.cfg.Smoothing
	var sum float64
	for k := range m.smoothed {
		mag := cmplxAbs(m.coeffs[k]) / size
		m.smoothed[k] = tau*m.smoothed[k] + (1-tau)*mag
		sum += byteLevel(m.smoothed[k], m.cfg.MinDecibels, span)
	}

	level := sum / float64(len(m.smoothed)) / m.cfg.Ceiling
	return math.Min(1, math.Max(0, level))
}

// byteLevel maps a linear magnitude onto the 0..255 decibel scale.
func byteLevel(mag, minDB, span float64) float64 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	v := 255 * (db - minDB) / span
	return math.Min(255, math.Max(0, v))
}

func cmplxAbs(c complex128) float64 {
	return math.Hypot(real(c), imag(c))
}
