// Package deepgram provides a tts.Provider backed by Deepgram Aura.
//
// The speak endpoint is asked for headerless linear16 at 24 kHz so the body
// can be played without conversion.
package deepgram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aria-ai/aria/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	providerName   = "deepgram"
	defaultBaseURL = "https://api.deepgram.com"
	defaultModel   = "aura-2-thalia-en"
)

// Option is a functional option for configuring the Provider.
type Option func(*Provider)

// WithModel sets the Aura voice model (e.g. "aura-2-orion-en").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(u string) Option {
	return func(p *Provider) { p.baseURL = strings.TrimRight(u, "/") }
}

// Provider implements tts.Provider using Deepgram's /v1/speak.
type Provider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// New creates a Deepgram Aura Provider.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	resp, err := p.speak(ctx, text)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	pcm, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("deepgram: read audio: %w", err)
	}
	return pcm[:len(pcm)&^1], nil
}

// SynthesizeStream implements tts.Provider.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, onChunk func([]byte) error) error {
	resp, err := p.speak(ctx, text)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := tts.StreamBody(ctx, resp.Body, onChunk); err != nil {
		return fmt.Errorf("deepgram: stream audio: %w", err)
	}
	return nil
}

func (p *Provider) speak(ctx context.Context, text string) (*http.Response, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("deepgram: text must not be empty")
	}
	q := url.Values{}
	q.Set("model", p.model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(tts.SampleRate))
	q.Set("container", "none")

	body, _ := json.Marshal(map[string]string{"text": text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/speak?"+q.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("deepgram: create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+p.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram: POST /v1/speak: %w", err)
	}
	if err := tts.CheckResponse(providerName, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp, nil
}
