package llm_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/aria-ai/aria/pkg/provider/llm"
	"github.com/aria-ai/aria/pkg/provider/llm/mock"
	"github.com/aria-ai/aria/pkg/types"
)

func TestValidateTurns(t *testing.T) {
	tests := []struct {
		name    string
		turns   []types.ConversationTurn
		wantErr bool
	}{
		{name: "empty", wantErr: true},
		{name: "user only", turns: []types.ConversationTurn{{Role: types.RoleUser, Content: "hi"}}},
		{name: "system first", turns: []types.ConversationTurn{
			{Role: types.RoleSystem, Content: "s"}, {Role: types.RoleUser, Content: "hi"},
		}},
		{name: "system later", wantErr: true, turns: []types.ConversationTurn{
			{Role: types.RoleUser, Content: "hi"}, {Role: types.RoleSystem, Content: "s"},
		}},
		{name: "unknown role", wantErr: true, turns: []types.ConversationTurn{{Role: "tool", Content: "x"}}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := llm.ValidateTurns(tc.turns)
			if (err != nil) != tc.wantErr {
				t.Errorf("ValidateTurns() err = %v, wantErr %v", err, tc.wantErr)
			}
		})
	}
}

func TestProviderError(t *testing.T) {
	err := &llm.ProviderError{Provider: "openai", StatusCode: 500, Body: "boom"}
	if got := err.Error(); got != "llm: openai: HTTP 500: boom" {
		t.Errorf("Error() = %q", got)
	}
	noStatus := &llm.ProviderError{Provider: "anthropic", Body: "overloaded"}
	if got := noStatus.Error(); got != "llm: anthropic: overloaded" {
		t.Errorf("Error() = %q", got)
	}
}

func TestSummarize(t *testing.T) {
	p := &mock.Provider{Replies: []string{"  The user booked a table for two.  "}}
	transcript := []types.ConversationTurn{
		{Role: types.RoleSystem, Content: "ignored"},
		{Role: types.RoleUser, Content: "book a table for two"},
		{Role: types.RoleAssistant, Content: "done"},
	}

	got, err := llm.Summarize(context.Background(), p, transcript, "You are a restaurant host.")
	if err != nil {
		t.Fatalf("Summarize: %v", err)
	}
	if got != "The user booked a table for two." {
		t.Errorf("summary = %q", got)
	}

	calls := p.Calls()
	if len(calls) != 1 || len(calls[0]) != 2 {
		t.Fatalf("unexpected calls %+v", calls)
	}
	sys, user := calls[0][0], calls[0][1]
	if sys.Role != types.RoleSystem || !strings.Contains(sys.Content, "restaurant host") {
		t.Errorf("system turn = %+v", sys)
	}
	if !strings.Contains(user.Content, "user: book a table for two") ||
		!strings.Contains(user.Content, "assistant: done") {
		t.Errorf("user turn = %q", user.Content)
	}
	if strings.Contains(user.Content, "ignored") {
		t.Error("system turns must not appear in the transcript body")
	}
}

func TestSummarize_Errors(t *testing.T) {
	if _, err := llm.Summarize(context.Background(), &mock.Provider{}, nil, ""); err == nil {
		t.Error("expected error for empty transcript")
	}
	boom := errors.New("boom")
	_, err := llm.Summarize(context.Background(), &mock.Provider{Err: boom},
		[]types.ConversationTurn{{Role: types.RoleUser, Content: "x"}}, "")
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want wrapped boom", err)
	}
}
