package tts

import (
	"context"
	"fmt"
	"io"
	"strings"

	oai "github.com/openai/openai-go"

	"github.com/agalue/voice-companion/internal/audio"
	"github.com/agalue/voice-companion/internal/fault"
)

// OpenAI synthesizes MP3 speech with the hosted speech endpoint.
type OpenAI struct {
	client oai.Client
	model  string
	speed  float64
}

var _ Synthesizer = (*OpenAI)(nil)

// NewOpenAI uses model (tts-1 when empty) at the given speed (1.0 when 0).
func NewOpenAI(client oai.Client, model string, speed float64) *OpenAI {
	if model == "" {
		model = "tts-1"
	}
	if speed <= 0 {
		speed = 1.0
	}
	return &OpenAI{client: client, model: model, speed: speed}
}

func (o *OpenAI) Synthesize(ctx context.Context, text, voice string) (Audio, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Audio{}, fault.New(fault.SynthesisFailed, "openai speech", errEmptyText)
	}
	if !ValidOpenAIVoice(voice) {
		return Audio{}, fault.New(fault.SynthesisFailed, "openai speech", fmt.Errorf("unknown voice %q", voice))
	}

	resp, err := o.client.Audio.Speech.New(ctx, oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(o.model),
		Voice:          oai.AudioSpeechNewParamsVoice(voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatMP3,
		Speed:          oai.Float(o.speed),
	})
	if err != nil {
		return Audio{}, fault.New(fault.SynthesisFailed, "openai speech", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return Audio{}, fault.New(fault.SynthesisFailed, "read speech", err)
	}
	if len(data) == 0 {
		return Audio{}, fault.New(fault.SynthesisFailed, "openai speech", fmt.Errorf("empty audio"))
	}
	return Audio{Data: data, MIME: audio.MIMEMPEG}, nil
}
