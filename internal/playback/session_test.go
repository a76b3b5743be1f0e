package playback

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/agalue/voice-companion/internal/audio"
	"github.com/agalue/voice-companion/internal/fault"
	"github.com/agalue/voice-companion/internal/tts"
)

// fakeOutput records played buffers. With hold set, Play blocks until ctx
// ends or release is closed.
type fakeOutput struct {
	hold    bool
	release chan struct{}
	err     error

	mu     sync.Mutex
	played []audio.Buffer
	active int
}

func newFakeOutput(hold bool) *fakeOutput {
	return &fakeOutput{hold: hold, release: make(chan struct{})}
}

func (f *fakeOutput) Window(dst []float32) int {
	for i := range dst {
		dst[i] = 0.5
	}
	return len(dst)
}

func (f *fakeOutput) Play(ctx context.Context, buf audio.Buffer) error {
	f.mu.Lock()
	f.played = append(f.played, buf)
	f.active++
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.err != nil {
		return f.err
	}
	if !f.hold {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-f.release:
		return nil
	}
}

func (f *fakeOutput) plays() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.played)
}

func (f *fakeOutput) concurrent() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.active
}

type fakeVoice struct {
	err   error
	texts []string
}

func (v *fakeVoice) Speak(_ context.Context, text string) (audio.Buffer, error) {
	v.texts = append(v.texts, text)
	if v.err != nil {
		return audio.Buffer{}, v.err
	}
	return audio.Buffer{Samples: make([]float32, 2400), SampleRate: 24000}, nil
}

// slowVoice ignores ctx and finishes only when release is closed.
type slowVoice struct {
	started chan struct{}
	release chan struct{}
}

func (v *slowVoice) Speak(context.Context, string) (audio.Buffer, error) {
	close(v.started)
	<-v.release
	return audio.Buffer{Samples: make([]float32, 2400), SampleRate: 24000}, nil
}

type fixedMeter struct {
	mu       sync.Mutex
	attached bool
}

func (m *fixedMeter) Attach(audio.Tap) { m.mu.Lock(); m.attached = true; m.mu.Unlock() }
func (m *fixedMeter) Detach()          { m.mu.Lock(); m.attached = false; m.mu.Unlock() }
func (m *fixedMeter) Sample() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.attached {
		return 0.6
	}
	return 0
}

func wavClip(text string) Clip {
	buf := audio.Buffer{Samples: make([]float32, 1600), SampleRate: 16000}
	return Clip{Audio: audio.EncodeWAV(buf), MIME: audio.MIMEWAV, Text: text}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestPlayDecodesClip(t *testing.T) {
	t.Parallel()

	out := newFakeOutput(false)
	s := New(out)
	if err := s.Play(context.Background(), wavClip("hi")); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if out.plays() != 1 {
		t.Fatalf("plays = %d, want 1", out.plays())
	}
	if got := len(out.played[0].Samples); got != 1600 {
		t.Errorf("played %d samples, want 1600", got)
	}
	if s.Playing() {
		t.Error("Playing() = true after Play returned")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	t.Parallel()

	out := newFakeOutput(true)
	s := New(out)
	s.Stop() // nothing playing

	errc := make(chan error, 1)
	go func() { errc <- s.Play(context.Background(), wavClip("hi")) }()
	waitFor(t, s.Playing)

	s.Stop()
	if s.Playing() {
		t.Fatal("Playing() = true after Stop returned")
	}
	if out.concurrent() != 0 {
		t.Fatal("output still playing after Stop returned")
	}
	if err := <-errc; !fault.Is(err, fault.Cancelled) {
		t.Fatalf("Play() error = %v, want Cancelled", err)
	}
	s.Stop()
	s.Stop()
}

func TestPlayReplacesCurrentClip(t *testing.T) {
	t.Parallel()

	out := newFakeOutput(true)
	s := New(out)

	first := make(chan error, 1)
	go func() { first <- s.Play(context.Background(), wavClip("one")) }()
	waitFor(t, func() bool { return out.plays() == 1 })

	second := make(chan error, 1)
	go func() { second <- s.Play(context.Background(), wavClip("two")) }()

	if err := <-first; !fault.Is(err, fault.Cancelled) {
		t.Fatalf("first Play() error = %v, want Cancelled", err)
	}
	waitFor(t, func() bool { return out.plays() == 2 })
	if out.concurrent() > 1 {
		t.Fatal("two clips playing at once")
	}

	close(out.release)
	if err := <-second; err != nil {
		t.Fatalf("second Play() error = %v", err)
	}
}

func TestUndecodableClipUsesLocalVoice(t *testing.T) {
	t.Parallel()

	out := newFakeOutput(false)
	voice := &fakeVoice{}
	s := New(out, WithLocalVoice(voice))

	err := s.Play(context.Background(), Clip{Audio: []byte("not audio"), MIME: "audio/mpeg", Text: "hello"})
	if err != nil {
		t.Fatalf("Play: %v", err)
	}
	if len(voice.texts) != 1 || voice.texts[0] != "hello" {
		t.Fatalf("local voice spoke %q, want [hello]", voice.texts)
	}
	if out.plays() != 1 || out.played[0].SampleRate != 24000 {
		t.Fatalf("output did not receive the local voice buffer")
	}
}

func TestStopDoesNotWaitForLocalSynthesis(t *testing.T) {
	t.Parallel()

	out := newFakeOutput(false)
	voice := &slowVoice{started: make(chan struct{}), release: make(chan struct{})}
	defer close(voice.release)
	s := New(out, WithLocalVoice(voice))

	errc := make(chan error, 1)
	go func() { errc <- s.Play(context.Background(), Clip{Text: "a long sentence"}) }()
	<-voice.started

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop blocked on local synthesis")
	}
	if err := <-errc; !fault.Is(err, fault.Cancelled) {
		t.Fatalf("Play error = %v, want Cancelled", err)
	}
	if out.plays() != 0 {
		t.Fatal("abandoned synthesis reached the output")
	}
}

func TestMissingAudioUsesLocalVoice(t *testing.T) {
	t.Parallel()

	voice := &fakeVoice{}
	s := New(newFakeOutput(false), WithLocalVoice(voice))
	if err := s.Play(context.Background(), Clip{Text: "no audio"}); err != nil {
		t.Fatalf("Play: %v", err)
	}
	if len(voice.texts) != 1 {
		t.Fatal("local voice not used for a clip without audio")
	}
}

func TestPlaybackFailedWithoutVoice(t *testing.T) {
	t.Parallel()

	s := New(newFakeOutput(false))
	err := s.Play(context.Background(), Clip{Audio: []byte("garbage"), Text: "hi"})
	if !fault.Is(err, fault.PlaybackFailed) {
		t.Fatalf("error = %v, want PlaybackFailed", err)
	}
	if !errors.Is(err, tts.ErrNoVoice) {
		t.Fatalf("error = %v, want ErrNoVoice in chain", err)
	}
}

func TestOutputFailureFallsBackThenFails(t *testing.T) {
	t.Parallel()

	out := newFakeOutput(false)
	out.err = errors.New("device lost")
	voice := &fakeVoice{}
	s := New(out, WithLocalVoice(voice))

	err := s.Play(context.Background(), wavClip("hi"))
	if !fault.Is(err, fault.PlaybackFailed) {
		t.Fatalf("error = %v, want PlaybackFailed", err)
	}
	if len(voice.texts) != 1 {
		t.Fatal("local voice not tried after output failure")
	}
}

func TestLevelFollowsPlayback(t *testing.T) {
	t.Parallel()

	out := newFakeOutput(true)
	s := New(out, WithMeter(&fixedMeter{}))
	if got := s.Level(); got != 0 {
		t.Fatalf("idle Level() = %v, want 0", got)
	}

	errc := make(chan error, 1)
	go func() { errc <- s.Play(context.Background(), wavClip("hi")) }()
	waitFor(t, s.Playing)
	if got := s.Level(); got != 0.6 {
		t.Fatalf("Level() while playing = %v, want 0.6", got)
	}

	close(out.release)
	if err := <-errc; err != nil {
		t.Fatalf("Play: %v", err)
	}
	if got := s.Level(); got != 0 {
		t.Fatalf("Level() after playback = %v, want 0", got)
	}
}

func TestDefaultMeterReadsOutput(t *testing.T) {
	t.Parallel()

	out := newFakeOutput(true)
	s := New(out)

	errc := make(chan error, 1)
	go func() { errc <- s.Play(context.Background(), wavClip("hi")) }()
	waitFor(t, s.Playing)
	if got := s.Level(); got < 0 || got > 1 {
		t.Fatalf("Level() = %v, want within [0,1]", got)
	}
	s.Stop()
	<-errc
}
