package audio

import "sync"

// Recent keeps the newest samples written to a stream so a Meter can
// analyse them. It is safe for one writer and many readers.
type Recent struct {
	mu     sync.Mutex
	buf    []float32
	pos    int // next write index
	filled int
}

// NewRecent returns a window holding the last size samples.
func NewRecent(size int) *Recent {
	return &Recent{buf: make([]float32, size)}
}

// Write appends samples, overwriting the oldest ones.
func (r *Recent) Write(samples []float32) {
	if len(samples) > len(r.buf) {
		samples = samples[len(samples)-len(r.buf):]
	}
	r.mu.Lock()
	for _, s := range samples {
		r.buf[r.pos] = s
		r.pos = (r.pos + 1) % len(r.buf)
	}
	r.filled = min(r.filled+len(samples), len(r.buf))
	r.mu.Unlock()
}

// Window implements Tap.
func (r *Recent) Window(dst []float32) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := min(len(dst), r.filled)
	start := (r.pos - n + len(r.buf)) % len(r.buf)
	for i := 0; i < n; i++ {
		dst[i] = r.buf[(start+i)%len(r.buf)]
	}
	return n
}

// Reset forgets all samples.
func (r *Recent) Reset() {
	r.mu.Lock()
	r.pos, r.filled = 0, 0
	r.mu.Unlock()
}
