package input

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/eiannone/keyboard"
)

// ErrQuit is returned by Keyboard.Run when the user asks to exit.
var ErrQuit = errors.New("quit requested")

// Toggler is driven by the spacebar.
type Toggler interface {
	Toggle(ctx context.Context) error
}

// Keyboard reads the terminal: space toggles recording, Esc or Ctrl-C
// quits. Terminals report no key releases, so push-to-talk is a toggle.
type Keyboard struct {
	target Toggler
	logger *slog.Logger
}

// NewKeyboard returns a keyboard driving target.
func NewKeyboard(target Toggler, logger *slog.Logger) *Keyboard {
	if logger == nil {
		logger = slog.Default()
	}
	return &Keyboard{target: target, logger: logger}
}

// Run puts the terminal in raw mode and handles keys until ctx ends or the
// user quits.
func (k *Keyboard) Run(ctx context.Context) error {
	keys, err := keyboard.GetKeys(10)
	if err != nil {
		return fmt.Errorf("open keyboard: %w", err)
	}
	defer keyboard.Close()
	return k.handle(ctx, keys)
}

func (k *Keyboard) handle(ctx context.Context, keys <-chan keyboard.KeyEvent) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-keys:
			if !ok {
				return nil
			}
			if ev.Err != nil {
				return fmt.Errorf("read keyboard: %w", ev.Err)
			}
			switch ev.Key {
			case keyboard.KeyEsc, keyboard.KeyCtrlC:
				return ErrQuit
			case keyboard.KeySpace:
				if err := k.target.Toggle(ctx); err != nil {
					k.logger.Error("push-to-talk failed", "error", err)
				}
			}
		}
	}
}
