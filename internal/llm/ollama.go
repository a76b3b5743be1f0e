package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/agalue/voice-companion/internal/fault"
)

// OllamaConfig holds local backend settings.
type OllamaConfig struct {
	Host        string  // e.g. http://localhost:11434
	Model       string  // e.g. "gemma3:1b"
	Temperature float64 // 0 uses 0.7
	MaxTokens   int     // Reply length cap; 0 uses 150
	ContextSize int     // 0 uses 2048
}

// Ollama generates replies with a local Ollama server.
type Ollama struct {
	client  *api.Client
	model   string
	options map[string]any
}

var _ Generator = (*Ollama)(nil)

// NewOllama creates a client with pooled connections for low-latency
// repeated requests to the local server.
func NewOllama(cfg OllamaConfig) (*Ollama, error) {
	host := strings.TrimSuffix(cfg.Host, "/")
	base, err := url.Parse(host)
	if err != nil || base.Scheme == "" {
		return nil, fmt.Errorf("invalid ollama host %q", cfg.Host)
	}
	if cfg.Model == "" {
		return nil, errors.New("ollama model must not be empty")
	}

	httpClient := &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	temperature := cfg.Temperature
	if temperature == 0 {
		temperature = 0.7
	}
	return &Ollama{
		client: api.NewClient(base, httpClient),
		model:  cfg.Model,
		options: map[string]any{
			"temperature": temperature,
			"num_predict": valueOr(cfg.MaxTokens, 150), // Short replies suit speech
			"num_ctx":     valueOr(cfg.ContextSize, 2048),
		},
	}, nil
}

func valueOr(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func (o *Ollama) request(req Request, stream bool) *api.ChatRequest {
	msgs := make([]api.Message, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, api.Message{Role: "system", Content: req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, api.Message{Role: string(m.Role), Content: m.Content})
	}
	return &api.ChatRequest{
		Model:    o.model,
		Messages: msgs,
		Stream:   &stream,
		Options:  o.options,
	}
}

func (o *Ollama) Generate(ctx context.Context, req Request) (string, error) {
	var sb strings.Builder
	err := o.client.Chat(ctx, o.request(req, false), func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fault.New(fault.GenerationFailed, "ollama chat", err)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return "", fault.New(fault.GenerationFailed, "ollama chat", errors.New("empty reply"))
	}
	return text, nil
}

func (o *Ollama) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	ch := make(chan Chunk, 32)
	go func() {
		defer close(ch)
		err := o.client.Chat(ctx, o.request(req, true), func(resp api.ChatResponse) error {
			if resp.Message.Content == "" {
				return nil
			}
			if !send(ctx, ch, Chunk{Text: resp.Message.Content}) {
				return ctx.Err()
			}
			return nil
		})
		if err != nil {
			send(ctx, ch, Chunk{Err: fault.New(fault.GenerationFailed, "ollama stream", err)})
		}
	}()
	return ch, nil
}

// HealthCheck verifies the server is reachable.
func (o *Ollama) HealthCheck(ctx context.Context) error {
	if err := o.client.Heartbeat(ctx); err != nil {
		return fmt.Errorf("cannot reach ollama: %w", err)
	}
	return nil
}
