// Package input maps push-to-talk gestures onto capture and the
// conversation.
package input

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/agalue/voice-companion/internal/capture"
)

// Recorder is the part of capture.Session push-to-talk drives.
type Recorder interface {
	Start(ctx context.Context, mode capture.Mode) error
	Stop() (*capture.Segment, error)
	Active() bool
}

// Conversation receives capture events.
type Conversation interface {
	CaptureStarted()
	SubmitSegment(seg capture.Segment)
	Transcribing() bool
}

// Controller turns press and release into a manual recording.
type Controller struct {
	rec    Recorder
	conv   Conversation
	logger *slog.Logger

	mu sync.Mutex
}

// NewController wires rec to conv. A nil logger uses slog.Default.
func NewController(rec Recorder, conv Conversation, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{rec: rec, conv: conv, logger: logger}
}

// Press starts recording and interrupts whatever the companion is doing.
// It does nothing while already recording or while the previous utterance
// is still being transcribed.
func (c *Controller) Press(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.rec.Active() {
		return nil
	}
	if c.conv.Transcribing() {
		c.logger.Debug("press ignored, still transcribing")
		return nil
	}
	c.conv.CaptureStarted()
	// The recording outlives the gesture that started it.
	err := c.rec.Start(context.WithoutCancel(ctx), capture.Manual)
	if errors.Is(err, capture.ErrAlreadyActive) {
		return nil
	}
	return err
}

// Release stops recording and submits what was captured.
func (c *Controller) Release(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.rec.Active() {
		return nil
	}
	seg, err := c.rec.Stop()
	switch {
	case errors.Is(err, capture.ErrNotActive):
		return nil
	case err != nil:
		return err
	case seg == nil:
		c.logger.Debug("nothing recorded")
		return nil
	}
	c.conv.SubmitSegment(*seg)
	return nil
}

// Toggle presses when idle and releases while recording.
func (c *Controller) Toggle(ctx context.Context) error {
	c.mu.Lock()
	active := c.rec.Active()
	c.mu.Unlock()
	if active {
		return c.Release(ctx)
	}
	return c.Press(ctx)
}
