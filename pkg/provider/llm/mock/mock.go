// Package mock provides a test double for llm.Provider.
//
// Provider returns queued replies in order and records every conversation it
// receives so tests can assert on the prompt:
//
//	p := &mock.Provider{Replies: []string{"Sure."}}
//	reply, _ := p.ChatCompletion(ctx, turns)
//	got := p.Calls()[0]
package mock

import (
	"context"
	"sync"

	"github.com/aria-ai/aria/pkg/provider/llm"
	"github.com/aria-ai/aria/pkg/types"
)

// Provider is a mock implementation of llm.Provider.
type Provider struct {
	mu sync.Mutex

	// Replies are returned in order. Once exhausted the last reply repeats;
	// with no replies at all ChatCompletion returns "ok".
	Replies []string

	// Err, if non-nil, is returned by every call instead of a reply.
	Err error

	// Block, if non-nil, makes ChatCompletion wait until it is closed or the
	// context is cancelled.
	Block chan struct{}

	calls [][]types.ConversationTurn
}

// ChatCompletion records a copy of turns and returns the next reply.
func (p *Provider) ChatCompletion(ctx context.Context, turns []types.ConversationTurn) (string, error) {
	p.mu.Lock()
	p.calls = append(p.calls, append([]types.ConversationTurn(nil), turns...))
	n := len(p.calls)
	block := p.Block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return "", p.Err
	}
	switch {
	case len(p.Replies) == 0:
		return "ok", nil
	case n <= len(p.Replies):
		return p.Replies[n-1], nil
	default:
		return p.Replies[len(p.Replies)-1], nil
	}
}

// Calls returns copies of all recorded conversations. Thread-safe.
func (p *Provider) Calls() [][]types.ConversationTurn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([][]types.ConversationTurn(nil), p.calls...)
}

// CallCount returns the number of ChatCompletion calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
