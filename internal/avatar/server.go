package avatar

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/agalue/voice-companion/internal/fault"
)

// Controls receives push-to-talk input from viewers.
type Controls interface {
	Press(ctx context.Context) error
	Release(ctx context.Context) error
}

// Petter takes affection from viewers as a bond level change.
type Petter interface {
	Pet(delta int)
}

// Command is a viewer message.
type Command struct {
	Type string `json:"type"`
}

const (
	CommandPress   = "press"
	CommandRelease = "release"
	CommandPet     = "pet" // a stroke
	CommandTap     = "tap" // a click on the avatar
)

// NoticeError is the Notice type for a failed command.
const NoticeError = "error"

// Notice is a server message other than a frame. Kind is the fault kind,
// such as permission_denied or device_unavailable.
type Notice struct {
	Type    string `json:"type"`
	Command string `json:"command"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Server streams frames over websocket and forwards pointer commands.
type Server struct {
	driver   *Driver
	controls Controls
	petter   Petter
	logger   *slog.Logger
	origins  []string
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the logger.
func WithServerLogger(l *slog.Logger) ServerOption { return func(s *Server) { s.logger = l } }

// WithOrigins allows cross-origin viewers matching the given host patterns.
func WithOrigins(patterns ...string) ServerOption {
	return func(s *Server) { s.origins = append(s.origins, patterns...) }
}

// WithPetting forwards pet and tap commands to p.
func WithPetting(p Petter) ServerOption { return func(s *Server) { s.petter = p } }

// NewServer serves frames from driver. controls may be nil, in which case
// push-to-talk commands are ignored.
func NewServer(driver *Driver, controls Controls, opts ...ServerOption) *Server {
	s := &Server{driver: driver, controls: controls, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ServeHTTP streams frames until the viewer leaves. A press still held by
// the viewer is released when the connection ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		s.logger.Warn("avatar websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	notices := make(chan Notice, 4)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		defer cancel()
		s.readCommands(ctx, conn, notices)
	}()
	defer func() {
		cancel()
		<-readDone
	}()

	frames, unsubscribe := s.driver.Subscribe()
	defer unsubscribe()

	s.logger.Debug("avatar viewer connected", "remote", r.RemoteAddr)
	for {
		var msg any
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case f := <-frames:
			msg = f
		case n := <-notices:
			msg = n
		}
		if err := wsjson.Write(ctx, conn, msg); err != nil {
			s.logger.Debug("avatar viewer gone", "error", err)
			return
		}
	}
}

func (s *Server) readCommands(ctx context.Context, conn *websocket.Conn, notices chan<- Notice) {
	pressed := false
	defer func() {
		if !pressed {
			return
		}
		if err := s.controls.Release(context.WithoutCancel(ctx)); err != nil {
			s.logger.Warn("release on disconnect failed", "error", err)
		}
	}()

	for {
		var cmd Command
		if err := wsjson.Read(ctx, conn, &cmd); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				s.logger.Debug("avatar read failed", "error", err)
			}
			return
		}
		err := s.dispatch(ctx, cmd, &pressed)
		if err == nil {
			continue
		}
		s.logger.Warn("avatar command failed", "type", cmd.Type, "error", err)
		n := Notice{Type: NoticeError, Command: cmd.Type, Kind: fault.KindOf(err).String(), Message: err.Error()}
		select {
		case notices <- n:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) dispatch(ctx context.Context, cmd Command, pressed *bool) error {
	switch cmd.Type {
	case CommandPress, CommandRelease:
		if s.controls == nil {
			return nil
		}
		if cmd.Type == CommandRelease {
			*pressed = false
			return s.controls.Release(ctx)
		}
		if err := s.controls.Press(ctx); err != nil {
			return err
		}
		*pressed = true
	case CommandPet, CommandTap:
		if s.petter == nil {
			return nil
		}
		delta := 1
		if cmd.Type == CommandTap {
			delta = 2
		}
		s.petter.Pet(delta)
	default:
		s.logger.Debug("unknown avatar command", "type", cmd.Type)
	}
	return nil
}
