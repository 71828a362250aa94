// Package openai provides a tts.Provider backed by the OpenAI speech API.
//
// The "pcm" response format is raw 24 kHz 16-bit mono, which matches the
// pipeline output format as-is.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/aria-ai/aria/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const providerName = "openai"

// Provider implements tts.Provider using the OpenAI speech endpoint.
type Provider struct {
	client oai.Client
	model  string
	voice  string
	speed  float64
}

type config struct {
	baseURL string
	model   string
	speed   float64
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithModel sets the speech model. Defaults to "tts-1".
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithSpeed sets the speaking rate in [0.25, 4.0]. Zero keeps the default.
func WithSpeed(s float64) Option {
	return func(c *config) { c.speed = s }
}

// New creates an OpenAI speech Provider using voice (e.g. "alloy").
func New(apiKey, voice string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai: apiKey must not be empty")
	}
	if voice == "" {
		return nil, errors.New("openai: voice must not be empty")
	}
	cfg := config{model: string(oai.SpeechModelTTS1)}
	for _, o := range opts {
		o(&cfg)
	}
	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey), option.WithMaxRetries(0)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	return &Provider{
		client: oai.NewClient(reqOpts...),
		model:  cfg.model,
		voice:  voice,
		speed:  cfg.speed,
	}, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := p.request(ctx, text)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read audio: %w", err)
	}
	return pcm[:len(pcm)&^1], nil
}

// SynthesizeStream implements tts.Provider. The speech endpoint streams its
// body, so chunks are forwarded as they are read.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, onChunk func([]byte) error) error {
	resp, err := p.request(ctx, text)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := tts.StreamBody(ctx, resp.Body, onChunk); err != nil {
		return fmt.Errorf("openai: stream audio: %w", err)
	}
	return nil
}

func (p *Provider) request(ctx context.Context, text string) (*http.Response, error) {
	if text == "" {
		return nil, errors.New("openai: text must not be empty")
	}
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(p.voice),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if p.speed != 0 {
		params.Speed = oai.Float(p.speed)
	}
	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return nil, &tts.ProviderError{
				Provider:   providerName,
				StatusCode: apiErr.StatusCode,
				Body:       apiErr.RawJSON(),
			}
		}
		return nil, fmt.Errorf("openai: speech: %w", err)
	}
	return resp, nil
}
