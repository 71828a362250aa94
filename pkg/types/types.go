// Package types defines the value types shared by the transcription, reply
// and synthesis providers and the voice orchestrator.
//
// They live in their own package so that providers never import the
// orchestrator and vice versa.
package types

import "time"

// Role identifies the author of a [ConversationTurn].
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IsValid reports whether r is one of the three known roles.
func (r Role) IsValid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// ConversationTurn is one message of the prompt sent to a reply generator.
type ConversationTurn struct {
	Role    Role
	Content string
}

// TranscriptEvent is a recognised text segment emitted by a transcription
// session. Each event is consumed exactly once by the voice orchestrator.
type TranscriptEvent struct {
	// Text is the recognised speech.
	Text string

	// IsFinal is true once the vendor has committed to the segment.
	IsFinal bool

	// Timestamp is the wall-clock time at which the segment was produced.
	Timestamp time.Time
}

// TimestampMs returns the event time as Unix milliseconds.
func (e TranscriptEvent) TimestampMs() int64 {
	return e.Timestamp.UnixMilli()
}
