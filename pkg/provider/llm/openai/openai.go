// Package openai provides an LLM provider backed by the OpenAI chat
// completions API or any server that speaks the same protocol.
package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/aria-ai/aria/pkg/provider/llm"
	"github.com/aria-ai/aria/pkg/types"
)

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

const providerName = "openai"

// Provider implements llm.Provider using the OpenAI API.
type Provider struct {
	client oai.Client
	model  string
	cfg    config
}

// config holds optional configuration for the provider.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	temperature  float64
	maxTokens    int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithTemperature sets the sampling temperature. Zero leaves the model
// default in place.
func WithTemperature(t float64) Option {
	return func(c *config) { c.temperature = t }
}

// WithMaxTokens caps the reply length. Spoken replies are short, so callers
// usually set a low value.
func WithMaxTokens(n int) Option {
	return func(c *config) { c.maxTokens = n }
}

// New constructs a new OpenAI LLM Provider.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := config{}
	for _, o := range opts {
		o(&cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// The orchestrator does not retry; neither does the client.
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Provider{client: oai.NewClient(reqOpts...), model: model, cfg: cfg}, nil
}

// ChatCompletion implements llm.Provider.
func (p *Provider) ChatCompletion(ctx context.Context, turns []types.ConversationTurn) (string, error) {
	params, err := p.buildParams(turns)
	if err != nil {
		return "", fmt.Errorf("openai: build params: %w", err)
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) {
			return "", &llm.ProviderError{
				Provider:   providerName,
				StatusCode: apiErr.StatusCode,
				Body:       apiErr.RawJSON(),
			}
		}
		return "", fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: %w", llm.ErrEmptyResponse)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return "", fmt.Errorf("openai: %w", llm.ErrEmptyResponse)
	}
	return text, nil
}

// buildParams converts the conversation into OpenAI SDK params.
func (p *Provider) buildParams(turns []types.ConversationTurn) (oai.ChatCompletionNewParams, error) {
	if err := llm.ValidateTurns(turns); err != nil {
		return oai.ChatCompletionNewParams{}, err
	}

	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, convertTurn(t))
	}

	params := oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
	}
	if p.cfg.temperature != 0 {
		params.Temperature = param.NewOpt(p.cfg.temperature)
	}
	if p.cfg.maxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(int64(p.cfg.maxTokens))
	}
	return params, nil
}

// convertTurn converts a conversation turn to an OpenAI SDK message param.
// The role has already been validated.
func convertTurn(t types.ConversationTurn) oai.ChatCompletionMessageParamUnion {
	switch t.Role {
	case types.RoleSystem:
		return oai.SystemMessage(t.Content)
	case types.RoleAssistant:
		asst := oai.ChatCompletionAssistantMessageParam{}
		asst.Content.OfString = oai.String(t.Content)
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
	default:
		return oai.UserMessage(t.Content)
	}
}
