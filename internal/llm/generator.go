// Package llm generates companion replies with a hosted chat model or a
// local Ollama server.
package llm

import (
	"context"
	"strings"
)

// Role of a chat message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one prior turn sent as context.
type Message struct {
	Role    Role
	Content string
}

// Request is a provider-independent chat request. The last message is the
// one being answered.
type Request struct {
	System   string
	Messages []Message
}

// Chunk is one piece of a streamed reply. A chunk with Err set is the last
// one sent.
type Chunk struct {
	Text string
	Err  error
}

// Generator produces reply text for a request.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
	Stream(ctx context.Context, req Request) (<-chan Chunk, error)
}

// Collect drains a stream, concatenating chunks in arrival order. It returns
// the text gathered so far together with the first error.
func Collect(ctx context.Context, ch <-chan Chunk) (string, error) {
	var sb strings.Builder
	for {
		select {
		case <-ctx.Done():
			return sb.String(), ctx.Err()
		case c, ok := <-ch:
			if !ok {
				return strings.TrimSpace(sb.String()), nil
			}
			if c.Err != nil {
				return sb.String(), c.Err
			}
			sb.WriteString(c.Text)
		}
	}
}

// send delivers c unless ctx ends first.
func send(ctx context.Context, ch chan<- Chunk, c Chunk) bool {
	select {
	case ch <- c:
		return true
	case <-ctx.Done():
		return false
	}
}
