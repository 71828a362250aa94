// Package voice implements the per-call turn-taking loop: it gates
// microphone frames into the transcription session, turns accepted
// transcripts into replies, plays the synthesized speech and lets the caller
// barge in.
//
// All turn state lives in one [StateMachine] value per call. Flags are only
// changed through its transition methods, which makes the
// at-most-one-reply-in-flight rule checkable in one place.
package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/aria-ai/aria/pkg/types"
)

// Machine states.
const (
	StateIdle          = "idle"
	StateAwaitingReply = "awaiting_reply"
	StateSpeaking      = "speaking"
)

// Machine events.
const (
	eventAccept    = "accept"
	eventSpeak     = "speak"
	eventFinish    = "finish"
	eventInterrupt = "interrupt"
	eventFail      = "fail"
)

// Filter defaults.
const (
	DefaultMinLength       = 2
	DefaultDuplicateWindow = 5000 * time.Millisecond
)

// ErrInvalidTransition is returned when a transition is not allowed from the
// current state.
var ErrInvalidTransition = errors.New("voice: invalid transition")

// DropReason explains why [StateMachine.Accept] refused a transcript. The
// values match the observe.Drop* metric labels.
type DropReason string

const (
	DropNone      DropReason = ""
	DropShort     DropReason = "short"
	DropDuplicate DropReason = "duplicate"
	DropLocked    DropReason = "locked"
)

// RuntimeState is a snapshot of one call's turn state.
type RuntimeState struct {
	// IsLocked is set while a reply is being produced or played.
	IsLocked bool

	// IsSpeaking is set while synthesized audio is playing.
	IsSpeaking bool

	// LastTranscript is the cleaned text of the last accepted transcript.
	LastTranscript string

	// LastTranscriptTime is when that transcript was produced.
	LastTranscriptTime time.Time
}

// StateMachine owns a call's [RuntimeState]. It is safe for concurrent use.
type StateMachine struct {
	mu        sync.Mutex
	fsm       *fsm.FSM
	state     RuntimeState
	minLength int
	window    time.Duration
}

// NewStateMachine returns a machine in [StateIdle] with the default filter.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		fsm: fsm.NewFSM(StateIdle, fsm.Events{
			{Name: eventAccept, Src: []string{StateIdle}, Dst: StateAwaitingReply},
			{Name: eventSpeak, Src: []string{StateAwaitingReply}, Dst: StateSpeaking},
			// An interrupted turn sits in awaiting_reply until its cleanup
			// finishes it.
			{Name: eventFinish, Src: []string{StateSpeaking, StateAwaitingReply}, Dst: StateIdle},
			{Name: eventInterrupt, Src: []string{StateSpeaking}, Dst: StateAwaitingReply},
			{Name: eventFail, Src: []string{StateAwaitingReply, StateSpeaking}, Dst: StateIdle},
		}, fsm.Callbacks{}),
		minLength: DefaultMinLength,
		window:    DefaultDuplicateWindow,
	}
}

// CleanTranscript trims and lowercases text for filtering.
func CleanTranscript(text string) string {
	return strings.ToLower(strings.TrimSpace(text))
}

// Accept moves idle→awaiting_reply for ev. It returns the cleaned text on
// success, or the reason the transcript was dropped. A transcript is dropped
// when its cleaned text is shorter than the minimum length, when the machine
// is locked, or when it repeats the last accepted transcript within the
// duplicate window (inclusive).
func (m *StateMachine) Accept(ev types.TranscriptEvent) (string, DropReason) {
	cleaned := CleanTranscript(ev.Text)
	ts := ev.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if len([]rune(cleaned)) < m.minLength {
		return "", DropShort
	}
	if m.state.IsLocked {
		return "", DropLocked
	}
	if m.isDuplicate(cleaned, ts) {
		return "", DropDuplicate
	}
	if err := m.event(eventAccept); err != nil {
		return "", DropLocked
	}
	m.state.IsLocked = true
	m.state.LastTranscript = cleaned
	m.state.LastTranscriptTime = ts
	return cleaned, DropNone
}

func (m *StateMachine) isDuplicate(cleaned string, ts time.Time) bool {
	if m.state.LastTranscript == "" || cleaned != m.state.LastTranscript {
		return false
	}
	return ts.Sub(m.state.LastTranscriptTime) <= m.window
}

// StartSpeaking moves awaiting_reply→speaking and sets IsSpeaking.
func (m *StateMachine) StartSpeaking() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.event(eventSpeak); err != nil {
		return err
	}
	m.state.IsSpeaking = true
	return nil
}

// Finish returns the machine to idle at the end of a turn, whether playback
// ran out or was interrupted. Both flags are cleared. Finish on an idle
// machine is a no-op.
func (m *StateMachine) Finish() {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.event(eventFinish)
	m.state.IsSpeaking = false
	m.state.IsLocked = false
}

// Interrupt moves speaking→awaiting_reply and clears IsSpeaking. IsLocked
// stays set until the turn's cleanup calls [StateMachine.Finish]. It reports
// whether anything was interrupted; when not speaking it does nothing.
func (m *StateMachine) Interrupt() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.state.IsSpeaking {
		return false
	}
	if err := m.event(eventInterrupt); err != nil {
		return false
	}
	m.state.IsSpeaking = false
	return true
}

// Fail returns the machine to idle after a failed turn and clears both flags.
func (m *StateMachine) Fail() {
	m.mu.Lock()
	defer m.mu.Unlock()
	_ = m.event(eventFail)
	m.state.IsSpeaking = false
	m.state.IsLocked = false
}

// Current returns the machine state name.
func (m *StateMachine) Current() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fsm.Current()
}

// Snapshot returns a copy of the runtime state.
func (m *StateMachine) Snapshot() RuntimeState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// IsSpeaking reports whether audio is playing.
func (m *StateMachine) IsSpeaking() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state.IsSpeaking
}

// SetFilter changes the minimum transcript length and duplicate window.
// Non-positive values keep the current setting.
func (m *StateMachine) SetFilter(minLength int, window time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if minLength > 0 {
		m.minLength = minLength
	}
	if window > 0 {
		m.window = window
	}
}

// event fires name on the fsm. The caller holds m.mu.
func (m *StateMachine) event(name string) error {
	if err := m.fsm.Event(context.Background(), name); err != nil {
		var noTransition fsm.NoTransitionError
		if errors.As(err, &noTransition) {
			return nil
		}
		return fmt.Errorf("%w: %s from %s", ErrInvalidTransition, name, m.fsm.Current())
	}
	return nil
}
