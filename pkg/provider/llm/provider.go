// Package llm defines the Provider interface for reply generation backends.
//
// A Provider turns an ordered conversation (a system turn carrying the agent
// instructions followed by alternating user and assistant turns) into one
// short assistant reply. Vendors are hidden behind a single blocking call so
// the voice orchestrator can treat every failure the same way: skip the turn.
//
// Implementations must be safe for concurrent use and must honour context
// cancellation promptly.
package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/aria-ai/aria/pkg/types"
)

// ErrEmptyResponse is returned when the vendor answers successfully but the
// response carries no text.
var ErrEmptyResponse = errors.New("llm: empty response")

// Provider is the abstraction over any reply generation backend.
type Provider interface {
	// ChatCompletion sends turns to the model and returns the assistant text.
	// A non-success vendor response is reported as a *ProviderError.
	ChatCompletion(ctx context.Context, turns []types.ConversationTurn) (string, error)
}

// ProviderError describes a non-success response from a vendor.
type ProviderError struct {
	// Provider names the backend, e.g. "openai".
	Provider string
	// StatusCode is the HTTP status, or 0 when the vendor SDK does not expose one.
	StatusCode int
	// Body is the raw error payload returned by the vendor.
	Body string
}

// Error implements error.
func (e *ProviderError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("llm: %s: %s", e.Provider, e.Body)
	}
	return fmt.Sprintf("llm: %s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// ValidateTurns reports whether turns can be sent to a vendor: it must be
// non-empty, every role must be known and a system turn may only appear
// first.
func ValidateTurns(turns []types.ConversationTurn) error {
	if len(turns) == 0 {
		return errors.New("llm: no conversation turns")
	}
	for i, t := range turns {
		if !t.Role.IsValid() {
			return fmt.Errorf("llm: turn %d: unknown role %q", i, t.Role)
		}
		if t.Role == types.RoleSystem && i != 0 {
			return fmt.Errorf("llm: turn %d: system turn must come first", i)
		}
	}
	return nil
}

// Summarize asks p for a summary of a finished call. transcript holds the
// user and assistant turns of the call in order; instructions are the agent
// instructions the call ran with and frame the summary.
func Summarize(ctx context.Context, p Provider, transcript []types.ConversationTurn, instructions string) (string, error) {
	if len(transcript) == 0 {
		return "", errors.New("llm: summarize: empty transcript")
	}

	var b strings.Builder
	for _, t := range transcript {
		if t.Role == types.RoleSystem {
			continue
		}
		fmt.Fprintf(&b, "%s: %s\n", t.Role, t.Content)
	}

	system := "You summarise voice calls between a user and an assistant. " +
		"Write a short neutral summary with the decisions and open action items."
	if instructions = strings.TrimSpace(instructions); instructions != "" {
		system += "\n\nThe assistant in this call followed these instructions:\n" + instructions
	}

	out, err := p.ChatCompletion(ctx, []types.ConversationTurn{
		{Role: types.RoleSystem, Content: system},
		{Role: types.RoleUser, Content: "Summarise this call transcript:\n\n" + b.String()},
	})
	if err != nil {
		return "", fmt.Errorf("llm: summarize: %w", err)
	}
	return strings.TrimSpace(out), nil
}
