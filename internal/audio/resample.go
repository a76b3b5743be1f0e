package audio

import "math"

// firTaps is the length of the anti-aliasing filter used when downsampling.
const firTaps = 64

// Resampler converts a mono stream between sample rates. Implementations
// carry state between chunks so they can be fed a live stream.
type Resampler interface {
	Resample(in []float32) []float32
}

// NewResampler picks a resampler for the conversion: a windowed-sinc FIR
// filter when downsampling (microphone rate to recognizer rate), linear
// interpolation when upsampling (synthesized speech to device rate).
func NewResampler(from, to int) Resampler {
	switch {
	case from == to || from <= 0 || to <= 0:
		return passthrough{}
	case to < from:
		return newFIRResampler(from, to)
	default:
		return &linearResampler{ratio: float64(to) / float64(from)}
	}
}

// Resample converts a whole buffer in one call.
func Resample(in []float32, from, to int) []float32 {
	return NewResampler(from, to).Resample(in)
}

type passthrough struct{}

func (passthrough) Resample(in []float32) []float32 { return in }

type linearResampler struct {
	ratio float64
	last  float32 // last sample of the previous chunk
}

func (r *linearResampler) Resample(in []float32) []float32 {
	if len(in) == 0 {
		return in
	}
	out := make([]float32, int(math.Round(float64(len(in))*r.ratio)))
	for i := range out {
		pos := float64(i) / r.ratio
		idx := int(pos)
		frac := float32(pos - float64(idx))

		a := r.last
		if idx < len(in) {
			a = in[idx]
		}
		b := in[len(in)-1]
		if idx+1 < len(in) {
			b = in[idx+1]
		}
		out[i] = a + (b-a)*frac
	}
	r.last = in[len(in)-1]
	return out
}

type firResampler struct {
	ratio   float64
	taps    []float32
	history []float32 // tail of the previous chunk, len(taps) samples
}

func newFIRResampler(from, to int) *firResampler {
	ratio := float64(to) / float64(from)
	cutoff := ratio * 0.5

	taps := make([]float32, firTaps)
	var sum float32
	for i := range taps {
		n := float64(i) - float64(firTaps-1)/2
		h := 2 * cutoff
		if n != 0 {
			h = math.Sin(2*math.Pi*cutoff*n) / (math.Pi * n)
		}
		hamming := 0.54 - 0.46*math.Cos(2*math.Pi*float64(i)/float64(firTaps-1))
		taps[i] = float32(h * hamming)
		sum += taps[i]
	}
	for i := range taps {
		taps[i] /= sum
	}

	return &firResampler{
		ratio:   ratio,
		taps:    taps,
		history: make([]float32, firTaps),
	}
}

func (r *firResampler) Resample(in []float32) []float32 {
	if len(in) == 0 {
		return in
	}
	buf := make([]float32, 0, len(r.history)+len(in))
	buf = append(buf, r.history...)
	buf = append(buf, in...)

	out := make([]float32, int(math.Round(float64(len(in))*r.ratio)))
	half := len(r.taps) / 2
	for i := range out {
		center := int(float64(i)/r.ratio) + len(r.history)
		var acc float32
		for j, tap := range r.taps {
			if idx := center - half + j; idx >= 0 && idx < len(buf) {
				acc += buf[idx] * tap
			}
		}
		out[i] = acc
	}

	copy(r.history, buf[len(buf)-len(r.history):])
	return out
}
