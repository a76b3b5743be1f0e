package llm

import (
	"context"
	"errors"
	"strings"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/shared"

	"github.com/agalue/voice-companion/internal/fault"
)

// DefaultOpenAIModel is the hosted chat model.
const DefaultOpenAIModel = "gpt-5-mini"

// OpenAI generates replies with the Chat Completions API.
type OpenAI struct {
	client oai.Client
	model  string
}

var _ Generator = (*OpenAI)(nil)

// NewOpenAI returns a generator for model, DefaultOpenAIModel when empty.
func NewOpenAI(client oai.Client, model string) *OpenAI {
	if model == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAI{client: client, model: model}
}

func (o *OpenAI) params(req Request) oai.ChatCompletionNewParams {
	msgs := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, oai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		if m.Role == RoleAssistant {
			msgs = append(msgs, oai.AssistantMessage(m.Content))
		} else {
			msgs = append(msgs, oai.UserMessage(m.Content))
		}
	}
	return oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(o.model),
		Messages: msgs,
	}
}

func (o *OpenAI) Generate(ctx context.Context, req Request) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.params(req))
	if err != nil {
		return "", fault.New(fault.GenerationFailed, "openai chat", err)
	}
	if len(resp.Choices) == 0 {
		return "", fault.New(fault.GenerationFailed, "openai chat", errors.New("no choices in response"))
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fault.New(fault.GenerationFailed, "openai chat", errors.New("empty reply"))
	}
	return text, nil
}

func (o *OpenAI) Stream(ctx context.Context, req Request) (<-chan Chunk, error) {
	stream := o.client.Chat.Completions.NewStreaming(ctx, o.params(req))
	if err := stream.Err(); err != nil {
		_ = stream.Close()
		return nil, fault.New(fault.GenerationFailed, "openai stream", err)
	}

	ch := make(chan Chunk, 32)
	go func() {
		defer close(ch)
		defer stream.Close()

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
				continue
			}
			if !send(ctx, ch, Chunk{Text: chunk.Choices[0].Delta.Content}) {
				return
			}
		}
		if err := stream.Err(); err != nil {
			send(ctx, ch, Chunk{Err: fault.New(fault.GenerationFailed, "openai stream", err)})
		}
	}()
	return ch, nil
}
