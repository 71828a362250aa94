// Package meeting is the agent and meeting store the voice pipeline depends
// on: it resolves a meeting to its agent's instructions, issues call-transport
// join credentials, and records the post-call summary.
package meeting

import (
	"context"
	"errors"
	"time"

	"github.com/aria-ai/aria/pkg/audio"
	"github.com/aria-ai/aria/pkg/types"
)

// ErrNotFound is returned when a meeting or agent does not exist.
var ErrNotFound = errors.New("meeting: not found")

// Meeting is the subset of a scheduled meeting the voice pipeline reads.
type Meeting struct {
	ID      string
	AgentID string

	// RoomID names the call-transport room. Meetings without an explicit room
	// use their ID.
	RoomID string

	Summary   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store is the persistence boundary for calls.
// Implementations must be safe for concurrent use.
type Store interface {
	// Get returns the meeting with the given ID, or [ErrNotFound].
	Get(ctx context.Context, meetingID string) (*Meeting, error)

	// FetchAgentInstructions returns the system prompt of an agent, or
	// [ErrNotFound].
	FetchAgentInstructions(ctx context.Context, agentID string) (string, error)

	// PushTransportState issues a fresh connection token for the meeting's
	// room and returns the join credentials. Any previously issued token is
	// replaced.
	PushTransportState(ctx context.Context, meetingID string) (audio.TransportState, error)

	// SaveSummary records the post-call summary and transcript.
	SaveSummary(ctx context.Context, meetingID, summary string, transcript []types.ConversationTurn) error

	// Ping checks that the store is reachable.
	Ping(ctx context.Context) error
}
