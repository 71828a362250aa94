// Package mock provides test doubles for the stt package interfaces.
//
// Use Provider to verify that the caller starts sessions with the expected
// StreamConfig. Use Session to feed controlled transcripts and inspect which
// audio chunks were delivered.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.StartStream(ctx, cfg)
//	sess.EmitFinal("hello")
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/aria-ai/aria/pkg/provider/stt"
	"github.com/aria-ai/aria/pkg/types"
)

// StartStreamCall records a single invocation of Provider.StartStream.
type StartStreamCall struct {
	// Ctx is the context passed to StartStream.
	Ctx context.Context
	// Cfg is the StreamConfig passed to StartStream.
	Cfg stt.StreamConfig
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the SessionHandle returned by StartStream. If nil, StartStream
	// returns a fresh Session from NewSession.
	Session stt.SessionHandle

	// StartStreamErr, if non-nil, is returned as the error from StartStream.
	StartStreamErr error

	// StartStreamCalls records every call to StartStream.
	StartStreamCalls []StartStreamCall
}

// StartStream records the call and returns Session, StartStreamErr.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.StartStreamCalls = append(p.StartStreamCalls, StartStreamCall{Ctx: ctx, Cfg: cfg})
	if p.StartStreamErr != nil {
		return nil, p.StartStreamErr
	}
	if p.Session != nil {
		return p.Session, nil
	}
	return NewSession(), nil
}

// CallCount returns the number of StartStream calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.StartStreamCalls)
}

// Ensure Provider implements stt.Provider at compile time.
var _ stt.Provider = (*Provider)(nil)

// Session is a mock implementation of stt.SessionHandle.
//
// Tests drive it with EmitFinal/EmitPartial and end it with Close or
// Disconnect. Both channels are closed exactly once.
type Session struct {
	mu sync.Mutex

	// SendAudioErr, if non-nil, is returned by every SendAudio call.
	SendAudioErr error

	// CloseErr, if non-nil, is returned by Close.
	CloseErr error

	partials chan types.TranscriptEvent
	finals   chan types.TranscriptEvent
	chunks   [][]byte
	closed   bool
	closes   int
}

// NewSession returns a connected Session with buffered channels.
func NewSession() *Session {
	return &Session{
		partials: make(chan types.TranscriptEvent, 16),
		finals:   make(chan types.TranscriptEvent, 16),
	}
}

// SendAudio records a copy of chunk and returns SendAudioErr, or
// stt.ErrSessionClosed once the session has ended.
func (s *Session) SendAudio(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return stt.ErrSessionClosed
	}
	s.chunks = append(s.chunks, append([]byte(nil), chunk...))
	return s.SendAudioErr
}

// Partials implements stt.SessionHandle.
func (s *Session) Partials() <-chan types.TranscriptEvent { return s.partials }

// Finals implements stt.SessionHandle.
func (s *Session) Finals() <-chan types.TranscriptEvent { return s.finals }

// Connected reports false after Close or Disconnect.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// Close records the call, ends the session and returns CloseErr.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	s.endLocked()
	return s.CloseErr
}

// Disconnect simulates a vendor connection failure.
func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.endLocked()
}

func (s *Session) endLocked() {
	if s.closed {
		return
	}
	s.closed = true
	close(s.partials)
	close(s.finals)
}

// EmitFinal delivers a final transcript stamped with the current time. It
// reports false if the session has ended.
func (s *Session) EmitFinal(text string) bool {
	return s.emit(s.finals, types.TranscriptEvent{Text: text, IsFinal: true, Timestamp: time.Now()})
}

// EmitFinalAt delivers a final transcript with an explicit timestamp.
func (s *Session) EmitFinalAt(text string, at time.Time) bool {
	return s.emit(s.finals, types.TranscriptEvent{Text: text, IsFinal: true, Timestamp: at})
}

// EmitPartial delivers an interim transcript.
func (s *Session) EmitPartial(text string) bool {
	return s.emit(s.partials, types.TranscriptEvent{Text: text, Timestamp: time.Now()})
}

func (s *Session) emit(ch chan types.TranscriptEvent, ev types.TranscriptEvent) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	ch <- ev
	return true
}

// Chunks returns copies of all audio chunks received so far. Thread-safe.
func (s *Session) Chunks() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.chunks...)
}

// SendAudioCallCount returns the number of recorded SendAudio calls.
func (s *Session) SendAudioCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.chunks)
}

// CloseCallCount returns how many times Close was called.
func (s *Session) CloseCallCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

// Ensure Session implements stt.SessionHandle at compile time.
var _ stt.SessionHandle = (*Session)(nil)
