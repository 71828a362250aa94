// Package audio defines the call-transport abstractions, PCM helpers and the
// playback/capture capabilities used by the voice pipeline.
//
// The two transport abstractions are:
//
//   - [Platform] joins a call room and returns a [Connection].
//   - [Connection] is an active room session, giving callers one input stream
//     per remote participant, a single output stream for agent speech, and
//     participant lifecycle events.
//
// Concrete transports live in sub-packages (e.g., audio/webrtc). The
// interfaces are narrow so the orchestrator stays independent of any SDK.
package audio

import (
	"context"
)

// TransportState holds the opaque join credentials for a call room, as
// issued by the meeting store when the local side announces itself.
type TransportState struct {
	// ConnectionToken authenticates the local participant against the room.
	ConnectionToken string

	// RoomIdentifier names the room to join.
	RoomIdentifier string
}

// EventType classifies participant lifecycle events emitted by a [Connection].
type EventType int

const (
	// EventJoin is emitted when a participant's audio track becomes available.
	EventJoin EventType = iota

	// EventLeave is emitted when a participant leaves the room.
	EventLeave
)

// String returns the human-readable name of the event type.
func (e EventType) String() string {
	switch e {
	case EventJoin:
		return "JOIN"
	case EventLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Event describes a participant lifecycle change in a room.
type Event struct {
	// Type indicates whether the participant joined or left.
	Type EventType

	// UserID is the stable identifier of the participant.
	UserID string

	// SessionID identifies this particular participant session. A participant
	// who rejoins gets a new SessionID; track attachment is keyed on it.
	SessionID string

	// Username is the display name of the participant.
	Username string
}

// Connection represents an active session in a call room.
//
// Implementations must be safe for concurrent use.
type Connection interface {
	// InputStreams returns a snapshot of the current per-participant audio
	// channels keyed by participant session ID. Callers should call it again
	// after an [EventJoin] to pick up newly added channels.
	InputStreams() map[string]<-chan AudioFrame

	// OutputStream returns the write-only channel for agent speech. Frames
	// written here are sent to every participant. Writes after Disconnect are
	// dropped, never a panic.
	OutputStream() chan<- AudioFrame

	// OnParticipantChange registers cb for join/leave events. Subsequent calls
	// replace the previous registration. cb runs on an internal goroutine.
	OnParticipantChange(cb func(Event))

	// Disconnect tears down the room session and closes all input channels.
	// It is safe to call more than once.
	Disconnect() error
}

// Platform is the entry point of a call transport.
//
// Implementations must be safe for concurrent use.
type Platform interface {
	// Connect joins the room named in state and returns an active [Connection].
	// ctx bounds the join attempt only.
	Connect(ctx context.Context, state TransportState) (Connection, error)
}
