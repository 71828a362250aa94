// Package gemini provides an LLM provider backed by the Google Gemini API
// through google.golang.org/genai.
//
// Gemini has no system role inside the conversation. The leading system turn
// is lifted into GenerateContentConfig.SystemInstruction and the remaining
// turns are sent as contents, with assistant turns mapped to the "model" role.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/aria-ai/aria/pkg/provider/llm"
	"github.com/aria-ai/aria/pkg/types"
)

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

const providerName = "gemini"

// Provider implements llm.Provider using the Gemini API.
type Provider struct {
	client *genai.Client
	model  string
	cfg    config
}

type config struct {
	baseURL     string
	temperature float32
	maxTokens   int32
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the API endpoint. Used for proxies and tests.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float32) Option {
	return func(c *config) { c.temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(c *config) { c.maxTokens = int32(n) }
}

// New constructs a Gemini Provider for the Gemini Developer API.
func New(ctx context.Context, apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("gemini: apiKey must not be empty")
	}
	if model == "" {
		return nil, errors.New("gemini: model must not be empty")
	}
	cfg := config{}
	for _, o := range opts {
		o(&cfg)
	}

	cc := &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI}
	if cfg.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.baseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	return &Provider{client: client, model: model, cfg: cfg}, nil
}

// ChatCompletion implements llm.Provider.
func (p *Provider) ChatCompletion(ctx context.Context, turns []types.ConversationTurn) (string, error) {
	contents, gcfg, err := p.buildRequest(turns)
	if err != nil {
		return "", fmt.Errorf("gemini: build request: %w", err)
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, contents, gcfg)
	if err != nil {
		var apiErr genai.APIError
		if errors.As(err, &apiErr) {
			return "", &llm.ProviderError{
				Provider:   providerName,
				StatusCode: apiErr.Code,
				Body:       apiErr.Message,
			}
		}
		return "", fmt.Errorf("gemini: generate content: %w", err)
	}
	text := strings.TrimSpace(resp.Text())
	if text == "" {
		return "", fmt.Errorf("gemini: %w", llm.ErrEmptyResponse)
	}
	return text, nil
}

// buildRequest splits turns into contents and the generation config.
func (p *Provider) buildRequest(turns []types.ConversationTurn) ([]*genai.Content, *genai.GenerateContentConfig, error) {
	if err := llm.ValidateTurns(turns); err != nil {
		return nil, nil, err
	}

	gcfg := &genai.GenerateContentConfig{}
	if p.cfg.temperature != 0 {
		gcfg.Temperature = genai.Ptr(p.cfg.temperature)
	}
	if p.cfg.maxTokens > 0 {
		gcfg.MaxOutputTokens = p.cfg.maxTokens
	}

	contents := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		switch t.Role {
		case types.RoleSystem:
			gcfg.SystemInstruction = genai.NewContentFromText(t.Content, genai.RoleUser)
		case types.RoleAssistant:
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(t.Content, genai.RoleUser))
		}
	}
	if len(contents) == 0 {
		return nil, nil, errors.New("no user or assistant turns")
	}
	return contents, gcfg, nil
}
