// Package anyllm provides a multi-vendor LLM provider backed by
// github.com/mozilla-ai/any-llm-go. It covers the vendors that the
// dedicated openai and gemini packages do not: Anthropic, Mistral, Groq,
// DeepSeek and the local Ollama, llama.cpp and llamafile servers.
//
// Usage:
//
//	p, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-..."))
//	p, err := anyllm.NewOllama("llama3.2")
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/aria-ai/aria/pkg/provider/llm"
	"github.com/aria-ai/aria/pkg/types"
)

// Compile-time interface assertion.
var _ llm.Provider = (*Provider)(nil)

// completeFunc performs one non-streaming completion and returns the text.
type completeFunc func(ctx context.Context, params anyllmlib.CompletionParams) (string, error)

// Provider implements llm.Provider by wrapping github.com/mozilla-ai/any-llm-go.
type Provider struct {
	vendor    string
	model     string
	maxTokens int
	complete  completeFunc
}

// New creates a Provider for the named vendor.
//
// vendor is one of: "openai", "anthropic", "gemini", "ollama", "deepseek",
// "mistral", "groq", "llamacpp", "llamafile".
//
// opts are any-llm-go options (e.g. anyllmlib.WithAPIKey, anyllmlib.WithBaseURL).
// Without an API key option the vendor's environment variable is used
// (e.g. ANTHROPIC_API_KEY); construction fails if neither is set.
func New(vendor string, model string, opts ...anyllmlib.Option) (*Provider, error) {
	if vendor == "" {
		return nil, fmt.Errorf("anyllm: vendor must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(vendor, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", vendor, err)
	}

	p := &Provider{vendor: strings.ToLower(vendor), model: model}
	p.complete = func(ctx context.Context, params anyllmlib.CompletionParams) (string, error) {
		resp, err := backend.Completion(ctx, params)
		if err != nil {
			return "", err
		}
		if len(resp.Choices) == 0 {
			return "", nil
		}
		return resp.Choices[0].Message.ContentString(), nil
	}
	return p, nil
}

// NewAnthropic creates a Provider backed by Anthropic.
func NewAnthropic(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("anthropic", model, opts...)
}

// NewOllama creates a Provider backed by a local Ollama server
// (http://localhost:11434 unless overridden).
func NewOllama(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("ollama", model, opts...)
}

// NewLlamaCpp creates a Provider backed by a running llama.cpp server.
func NewLlamaCpp(model string, opts ...anyllmlib.Option) (*Provider, error) {
	return New("llamacpp", model, opts...)
}

// WithMaxTokens returns p with its reply length capped at n tokens.
func (p *Provider) WithMaxTokens(n int) *Provider {
	p.maxTokens = n
	return p
}

// createBackend creates the underlying any-llm-go provider for the given vendor.
func createBackend(vendor string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(vendor) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported vendor %q; supported: openai, anthropic, gemini, ollama, deepseek, mistral, groq, llamacpp, llamafile", vendor)
	}
}

// ChatCompletion implements llm.Provider. any-llm-go does not expose HTTP
// status codes uniformly, so vendor failures are reported as a
// *llm.ProviderError with StatusCode 0 and the vendor message as Body.
func (p *Provider) ChatCompletion(ctx context.Context, turns []types.ConversationTurn) (string, error) {
	if err := llm.ValidateTurns(turns); err != nil {
		return "", fmt.Errorf("anyllm: %w", err)
	}

	text, err := p.complete(ctx, p.buildParams(turns))
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("anyllm: completion: %w", ctx.Err())
		}
		return "", &llm.ProviderError{Provider: p.vendor, Body: err.Error()}
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return "", fmt.Errorf("anyllm: %w", llm.ErrEmptyResponse)
	}
	return text, nil
}

// buildParams converts the conversation into anyllm CompletionParams.
func (p *Provider) buildParams(turns []types.ConversationTurn) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(turns))
	for _, t := range turns {
		messages = append(messages, convertTurn(t))
	}
	params := anyllmlib.CompletionParams{
		Model:    p.model,
		Messages: messages,
	}
	if p.maxTokens > 0 {
		mt := p.maxTokens
		params.MaxTokens = &mt
	}
	return params
}

// convertTurn converts a conversation turn to an anyllm.Message.
func convertTurn(t types.ConversationTurn) anyllmlib.Message {
	role := anyllmlib.RoleUser
	switch t.Role {
	case types.RoleSystem:
		role = anyllmlib.RoleSystem
	case types.RoleAssistant:
		role = anyllmlib.RoleAssistant
	}
	return anyllmlib.Message{Role: role, Content: t.Content}
}
