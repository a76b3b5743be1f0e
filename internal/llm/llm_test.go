package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/agalue/voice-companion/internal/fault"
)

var testRequest = Request{
	System: "You are Krea.",
	Messages: []Message{
		{Role: RoleUser, Content: "hello"},
		{Role: RoleAssistant, Content: "hi there"},
		{Role: RoleUser, Content: "how are you?"},
	},
}

func openAIClient(t *testing.T, h http.HandlerFunc) oai.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return oai.NewClient(
		option.WithAPIKey("test-key"),
		option.WithBaseURL(srv.URL+"/"),
		option.WithMaxRetries(0),
	)
}

// ─── OpenAI ──────────────────────────────────────────────────────────────────

func TestOpenAIGenerate(t *testing.T) {
	t.Parallel()

	var body struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	client := openAIClient(t, func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, "/chat/completions") {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode body: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"x","object":"chat.completion","created":0,"model":"m",`+
			`"choices":[{"index":0,"finish_reason":"stop","message":{"role":"assistant","content":"  I'm well.  "}}]}`)
	})

	text, err := NewOpenAI(client, "").Generate(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "I'm well." {
		t.Errorf("text = %q", text)
	}
	if body.Model != DefaultOpenAIModel {
		t.Errorf("model = %q, want %q", body.Model, DefaultOpenAIModel)
	}
	wantRoles := []string{"system", "user", "assistant", "user"}
	if len(body.Messages) != len(wantRoles) {
		t.Fatalf("sent %d messages, want %d", len(body.Messages), len(wantRoles))
	}
	for i, role := range wantRoles {
		if body.Messages[i].Role != role {
			t.Errorf("message %d role = %q, want %q", i, body.Messages[i].Role, role)
		}
	}
	if body.Messages[3].Content != "how are you?" {
		t.Errorf("last message = %q", body.Messages[3].Content)
	}
}

func TestOpenAIGenerateFailure(t *testing.T) {
	t.Parallel()

	client := openAIClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	})
	_, err := NewOpenAI(client, "").Generate(context.Background(), testRequest)
	if !fault.Is(err, fault.GenerationFailed) {
		t.Fatalf("error = %v, want GenerationFailed", err)
	}
}

func TestOpenAIStreamConcatenatesInOrder(t *testing.T) {
	t.Parallel()

	client := openAIClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, part := range []string{"Hel", "lo ", "", "there"} {
			fmt.Fprintf(w, "data: {\"id\":\"x\",\"object\":\"chat.completion.chunk\",\"created\":0,\"model\":\"m\","+
				"\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", part)
		}
		_, _ = io.WriteString(w, "data: [DONE]\n\n")
	})

	ch, err := NewOpenAI(client, "").Stream(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	text, err := Collect(context.Background(), ch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if text != "Hello there" {
		t.Errorf("text = %q, want %q", text, "Hello there")
	}
}

// ─── Ollama ──────────────────────────────────────────────────────────────────

func ollamaServer(t *testing.T, lines ...string) *Ollama {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead || r.URL.Path == "/" {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.URL.Path != "/api/chat" {
			t.Errorf("path = %q, want /api/chat", r.URL.Path)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, l := range lines {
			_, _ = io.WriteString(w, l+"\n")
		}
	}))
	t.Cleanup(srv.Close)

	o, err := NewOllama(OllamaConfig{Host: srv.URL, Model: "gemma3:1b"})
	if err != nil {
		t.Fatalf("NewOllama: %v", err)
	}
	return o
}

func TestOllamaGenerate(t *testing.T) {
	t.Parallel()

	o := ollamaServer(t, `{"model":"gemma3:1b","message":{"role":"assistant","content":" Doing fine. "},"done":true}`)
	text, err := o.Generate(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "Doing fine." {
		t.Errorf("text = %q", text)
	}
	if err := o.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck: %v", err)
	}
}

func TestOllamaStream(t *testing.T) {
	t.Parallel()

	o := ollamaServer(t,
		`{"model":"gemma3:1b","message":{"role":"assistant","content":"One, "},"done":false}`,
		`{"model":"gemma3:1b","message":{"role":"assistant","content":"two."},"done":false}`,
		`{"model":"gemma3:1b","message":{"role":"assistant","content":""},"done":true}`,
	)
	ch, err := o.Stream(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	text, err := Collect(context.Background(), ch)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if text != "One, two." {
		t.Errorf("text = %q", text)
	}
}

func TestNewOllamaRejectsBadConfig(t *testing.T) {
	t.Parallel()

	if _, err := NewOllama(OllamaConfig{Host: "localhost", Model: "m"}); err == nil {
		t.Error("accepted host without scheme")
	}
	if _, err := NewOllama(OllamaConfig{Host: "http://localhost:11434"}); err == nil {
		t.Error("accepted empty model")
	}
}

// ─── Fallback and Collect ────────────────────────────────────────────────────

type stubGenerator struct {
	text  string
	err   error
	calls int
}

func (s *stubGenerator) Generate(context.Context, Request) (string, error) {
	s.calls++
	return s.text, s.err
}

func (s *stubGenerator) Stream(context.Context, Request) (<-chan Chunk, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	ch := make(chan Chunk, 1)
	ch <- Chunk{Text: s.text}
	close(ch)
	return ch, nil
}

func TestFallbackUsesSecondaryOnFailure(t *testing.T) {
	t.Parallel()

	primary := &stubGenerator{err: errors.New("unreachable")}
	secondary := &stubGenerator{text: "local reply"}
	f := NewFallback("openai", primary, nil).Add("ollama", secondary)

	text, err := f.Generate(context.Background(), testRequest)
	if err != nil || text != "local reply" {
		t.Fatalf("Generate() = %q, %v", text, err)
	}
	ch, err := f.Stream(context.Background(), testRequest)
	if err != nil {
		t.Fatalf("Stream: %v", err)
	}
	if text, _ := Collect(context.Background(), ch); text != "local reply" {
		t.Fatalf("streamed %q", text)
	}
	if primary.calls != 2 || secondary.calls != 2 {
		t.Errorf("calls = %d/%d, want 2/2", primary.calls, secondary.calls)
	}
}

func TestFallbackAllFail(t *testing.T) {
	t.Parallel()

	f := NewFallback("a", &stubGenerator{err: errors.New("a down")}, nil).
		Add("b", &stubGenerator{err: errors.New("b down")})
	_, err := f.Generate(context.Background(), testRequest)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("error = %v, want ErrAllFailed", err)
	}
	if !fault.Is(err, fault.GenerationFailed) {
		t.Fatalf("error kind = %v, want GenerationFailed", fault.KindOf(err))
	}
}

func TestFallbackStopsWhenCallerCancels(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	secondary := &stubGenerator{text: "late"}
	f := NewFallback("a", &stubGenerator{err: context.Canceled}, nil).Add("b", secondary)

	_, err := f.Generate(ctx, testRequest)
	if !fault.Is(err, fault.Cancelled) {
		t.Fatalf("error = %v, want Cancelled", err)
	}
	if secondary.calls != 0 {
		t.Fatal("secondary tried after cancellation")
	}
}

func TestCollectReturnsStreamError(t *testing.T) {
	t.Parallel()

	ch := make(chan Chunk, 2)
	ch <- Chunk{Text: "partial"}
	ch <- Chunk{Err: errors.New("dropped")}
	close(ch)

	text, err := Collect(context.Background(), ch)
	if err == nil {
		t.Fatal("Collect() error = nil")
	}
	if text != "partial" {
		t.Errorf("text = %q, want partial", text)
	}
}
