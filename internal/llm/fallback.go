package llm

import (
	"context"
	"errors"
	"log/slog"

	"github.com/agalue/voice-companion/internal/fault"
)

// ErrAllFailed is returned when every backend of a Fallback failed.
var ErrAllFailed = errors.New("all generators failed")

type namedGenerator struct {
	name string
	gen  Generator
}

// Fallback tries each backend in registration order until one answers.
// Once the caller's context ends no further backend is tried.
type Fallback struct {
	entries []namedGenerator
	logger  *slog.Logger
}

var _ Generator = (*Fallback)(nil)

// NewFallback creates a Fallback with primary as its first backend.
func NewFallback(name string, primary Generator, logger *slog.Logger) *Fallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fallback{entries: []namedGenerator{{name, primary}}, logger: logger}
}

// Add appends a backend tried after the ones already registered.
func (f *Fallback) Add(name string, g Generator) *Fallback {
	f.entries = append(f.entries, namedGenerator{name, g})
	return f
}

func (f *Fallback) Generate(ctx context.Context, req Request) (string, error) {
	return try(ctx, f, func(g Generator) (string, error) { return g.Generate(ctx, req) })
}

// Stream fails over only while opening the stream. Errors after the first
// chunk belong to the caller.
func (f *Fallback) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	return try(ctx, f, func(g Generator) (<-chan Chunk, error) { return g.Stream(ctx, req) })
}

func try[R any](ctx context.Context, f *Fallback, fn func(Generator) (R, error)) (R, error) {
	var (
		zero R
		errs []error
	)
	for _, e := range f.entries {
		r, err := fn(e.gen)
		if err == nil {
			return r, nil
		}
		if ctx.Err() != nil {
			return zero, fault.New(fault.GenerationFailed, e.name, ctx.Err())
		}
		f.logger.Warn("generator failed, trying next", "generator", e.name, "error", err)
		errs = append(errs, err)
	}
	return zero, fault.New(fault.GenerationFailed, "fallback", errors.Join(append([]error{ErrAllFailed}, errs...)...))
}
