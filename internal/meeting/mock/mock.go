// Package mock provides an in-memory [meeting.Store] for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/aria-ai/aria/internal/meeting"
	"github.com/aria-ai/aria/pkg/audio"
	"github.com/aria-ai/aria/pkg/types"
)

var _ meeting.Store = (*Store)(nil)

// SavedSummary records one SaveSummary call.
type SavedSummary struct {
	MeetingID  string
	Summary    string
	Transcript []types.ConversationTurn
}

// Store is an in-memory meeting store. Populate Meetings and Instructions
// before use.
type Store struct {
	mu sync.Mutex

	// Meetings maps meeting ID to meeting.
	Meetings map[string]meeting.Meeting

	// Instructions maps agent ID to its system prompt.
	Instructions map[string]string

	// PingErr is returned by Ping.
	PingErr error

	// SaveErr is returned by SaveSummary.
	SaveErr error

	tokens    int
	summaries []SavedSummary
}

// Get implements [meeting.Store].
func (s *Store) Get(_ context.Context, meetingID string) (*meeting.Meeting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.Meetings[meetingID]
	if !ok {
		return nil, fmt.Errorf("mock: get %q: %w", meetingID, meeting.ErrNotFound)
	}
	if m.RoomID == "" {
		m.RoomID = m.ID
	}
	return &m, nil
}

// FetchAgentInstructions implements [meeting.Store].
func (s *Store) FetchAgentInstructions(_ context.Context, agentID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.Instructions[agentID]
	if !ok {
		return "", fmt.Errorf("mock: agent %q: %w", agentID, meeting.ErrNotFound)
	}
	return in, nil
}

// PushTransportState implements [meeting.Store]. Tokens are sequential.
func (s *Store) PushTransportState(ctx context.Context, meetingID string) (audio.TransportState, error) {
	m, err := s.Get(ctx, meetingID)
	if err != nil {
		return audio.TransportState{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens++
	return audio.TransportState{
		ConnectionToken: fmt.Sprintf("token-%d", s.tokens),
		RoomIdentifier:  m.RoomID,
	}, nil
}

// SaveSummary implements [meeting.Store].
func (s *Store) SaveSummary(_ context.Context, meetingID, summary string, transcript []types.ConversationTurn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.summaries = append(s.summaries, SavedSummary{
		MeetingID:  meetingID,
		Summary:    summary,
		Transcript: append([]types.ConversationTurn(nil), transcript...),
	})
	return nil
}

// Ping implements [meeting.Store].
func (s *Store) Ping(context.Context) error { return s.PingErr }

// Summaries returns the recorded SaveSummary calls.
func (s *Store) Summaries() []SavedSummary {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]SavedSummary(nil), s.summaries...)
}
