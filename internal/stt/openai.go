package stt

import (
	"bytes"
	"context"
	"strings"

	oai "github.com/openai/openai-go"

	"github.com/agalue/voice-companion/internal/fault"
)

// OpenAI transcribes through the hosted audio transcription endpoint.
type OpenAI struct {
	client   oai.Client
	model    string
	language string
}

var _ Transcriber = (*OpenAI)(nil)

// NewOpenAI uses model (whisper-1 when empty) and a fixed language hint
// ("en" when empty, "auto" to let the service detect it).
func NewOpenAI(client oai.Client, model, language string) *OpenAI {
	if model == "" {
		model = "whisper-1"
	}
	if language == "" {
		language = "en"
	}
	return &OpenAI{client: client, model: model, language: language}
}

func (o *OpenAI) Transcribe(ctx context.Context, data []byte, mime string) (string, error) {
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(data), "recording"+extension(mime), mime),
		Model: oai.AudioModel(o.model),
	}
	if !strings.EqualFold(o.language, "auto") {
		params.Language = oai.String(o.language)
	}

	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fault.New(fault.TranscriptionFailed, "openai transcribe", err)
	}
	return clean(resp.Text), nil
}

// extension picks a file name suffix the service accepts for mime.
func extension(mime string) string {
	switch {
	case strings.Contains(mime, "wav"):
		return ".wav"
	case strings.Contains(mime, "mpeg"), strings.Contains(mime, "mp3"):
		return ".mp3"
	case strings.Contains(mime, "ogg"):
		return ".ogg"
	case strings.Contains(mime, "mp4"):
		return ".mp4"
	default:
		return ".webm"
	}
}
