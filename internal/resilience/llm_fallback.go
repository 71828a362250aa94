package resilience

import (
	"context"

	"github.com/aria-ai/aria/pkg/provider/llm"
	"github.com/aria-ai/aria/pkg/types"
)

// LLMFallback implements [llm.Provider] over a primary reply generator and
// its backups.
type LLMFallback struct {
	group *FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers a backup generator.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.group.AddFallback(name, provider)
}

// ChatCompletion returns the reply of the first generator that succeeds.
func (f *LLMFallback) ChatCompletion(ctx context.Context, turns []types.ConversationTurn) (string, error) {
	return ExecuteWithResult(ctx, f.group, func(p llm.Provider) (string, error) {
		return p.ChatCompletion(ctx, turns)
	})
}
