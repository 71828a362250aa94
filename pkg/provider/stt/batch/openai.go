package batch

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Compile-time interface assertion.
var _ Recognizer = (*OpenAI)(nil)

// OpenAIOption configures an [OpenAI] recogniser.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	model   string
	baseURL string
}

// WithOpenAIModel sets the transcription model. Defaults to "whisper-1".
func WithOpenAIModel(model string) OpenAIOption {
	return func(c *openAIConfig) { c.model = model }
}

// WithOpenAIBaseURL points the recogniser at an OpenAI-compatible server.
func WithOpenAIBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) { c.baseURL = url }
}

// OpenAI recognises speech through the OpenAI audio transcription endpoint.
type OpenAI struct {
	client oai.Client
	model  string
}

// NewOpenAI returns a recogniser using apiKey.
func NewOpenAI(apiKey string, opts ...OpenAIOption) (*OpenAI, error) {
	if apiKey == "" {
		return nil, errors.New("batch: openai: apiKey must not be empty")
	}
	cfg := openAIConfig{model: string(oai.AudioModelWhisper1)}
	for _, o := range opts {
		o(&cfg)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &OpenAI{client: oai.NewClient(reqOpts...), model: cfg.model}, nil
}

// Recognize implements [Recognizer].
func (o *OpenAI) Recognize(ctx context.Context, wav []byte, language string) (string, error) {
	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "chunk.wav", "audio/wav"),
		Model: oai.AudioModel(o.model),
	}
	if language != "" {
		params.Language = oai.String(language)
	}
	resp, err := o.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("batch: openai: transcribe: %w", err)
	}
	return resp.Text, nil
}
