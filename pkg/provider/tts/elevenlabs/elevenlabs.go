// Package elevenlabs provides a tts.Provider backed by the ElevenLabs
// text-to-speech REST API.
//
// Audio is requested as raw pcm_24000, which is already the pipeline's
// output format, so no conversion is needed. SynthesizeStream uses the
// /stream variant of the endpoint and forwards body chunks as they arrive.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/aria-ai/aria/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	providerName     = "elevenlabs"
	defaultBaseURL   = "https://api.elevenlabs.io"
	defaultModel     = "eleven_flash_v2_5"
	defaultOutputFmt = "pcm_24000"
	defaultTimeout   = 30 * time.Second
)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g. "eleven_multilingual_v2").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the API base URL. Used for tests.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

// WithVoiceSettings sets stability and similarity boost, both in [0, 1].
func WithVoiceSettings(stability, similarity float64) Option {
	return func(p *Provider) {
		p.settings = &voiceSettings{Stability: stability, SimilarityBoost: similarity}
	}
}

// Provider implements tts.Provider using the ElevenLabs REST API.
type Provider struct {
	apiKey     string
	voiceID    string
	model      string
	baseURL    string
	settings   *voiceSettings
	httpClient *http.Client
}

// New creates an ElevenLabs Provider speaking with voiceID.
func New(apiKey, voiceID string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	if voiceID == "" {
		return nil, errors.New("elevenlabs: voiceID must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		voiceID:    voiceID,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
}

type speechRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := p.post(ctx, "", text)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read audio: %w", err)
	}
	return pcm[:len(pcm)&^1], nil
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, onChunk func([]byte) error) error {
	resp, err := p.post(ctx, "/stream", text)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := tts.StreamBody(ctx, resp.Body, onChunk); err != nil {
		return fmt.Errorf("elevenlabs: stream audio: %w", err)
	}
	return nil
}

// post sends a synthesis request to the voice endpoint plus suffix and
// returns the successful response.
func (p *Provider) post(ctx context.Context, suffix, text string) (*http.Response, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}
	body, err := json.Marshal(speechRequest{Text: text, ModelID: p.model, VoiceSettings: p.settings})
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	endpoint := p.baseURL + "/v1/text-to-speech/" + url.PathEscape(p.voiceID) + suffix +
		"?output_format=" + defaultOutputFmt
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("xi-api-key", p.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "audio/pcm")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: POST: %w", err)
	}
	if err := tts.CheckResponse(providerName, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}
