// Package mock provides in-memory implementations of [audio.Platform],
// [audio.Connection], [audio.Sink] and [audio.CaptureSource] for unit tests.
//
// All mocks are safe for concurrent use. They record every call so tests can
// assert on counts and arguments, and expose fields that control results.
//
// Typical usage:
//
//	sink := &mock.Sink{}
//	orch := voice.New(stream, replies, speech, sink, cfg)
//	...
//	if got := sink.PlayCalls(); len(got) != 1 { ... }
package mock

import (
	"context"
	"sync"

	"github.com/aria-ai/aria/pkg/audio"
)

// ─── Connection ───────────────────────────────────────────────────────────────

// Connection is a mock implementation of [audio.Connection].
type Connection struct {
	mu sync.Mutex

	// InputStreamsResult is returned by [Connection.InputStreams]. A nil map
	// is returned as an empty non-nil map.
	InputStreamsResult map[string]<-chan audio.AudioFrame

	// OutputStreamResult is returned by [Connection.OutputStream].
	OutputStreamResult chan<- audio.AudioFrame

	// DisconnectError is returned by [Connection.Disconnect].
	DisconnectError error

	CallCountInputStreams int
	CallCountDisconnect   int

	callbacks []func(audio.Event)
}

// InputStreams implements [audio.Connection].
func (c *Connection) InputStreams() map[string]<-chan audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountInputStreams++
	snap := make(map[string]<-chan audio.AudioFrame, len(c.InputStreamsResult))
	for id, ch := range c.InputStreamsResult {
		snap[id] = ch
	}
	return snap
}

// SetInputStream adds or replaces the stream for sessionID.
func (c *Connection) SetInputStream(sessionID string, ch <-chan audio.AudioFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.InputStreamsResult == nil {
		c.InputStreamsResult = make(map[string]<-chan audio.AudioFrame)
	}
	c.InputStreamsResult[sessionID] = ch
}

// OutputStream implements [audio.Connection].
func (c *Connection) OutputStream() chan<- audio.AudioFrame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.OutputStreamResult
}

// OnParticipantChange implements [audio.Connection]. Callbacks accumulate;
// [Connection.EmitEvent] invokes all of them.
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

// Disconnect implements [audio.Connection].
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountDisconnect++
	return c.DisconnectError
}

// EmitEvent synchronously calls every registered participant callback.
func (c *Connection) EmitEvent(ev audio.Event) {
	c.mu.Lock()
	cbs := append([]func(audio.Event){}, c.callbacks...)
	c.mu.Unlock()
	for _, cb := range cbs {
		cb(ev)
	}
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// Platform is a mock implementation of [audio.Platform].
type Platform struct {
	mu sync.Mutex

	// ConnectResult is the connection returned by Connect.
	ConnectResult audio.Connection

	// ConnectError is the error returned by Connect.
	ConnectError error

	// ConnectCalls records the transport state of every Connect call.
	ConnectCalls []audio.TransportState
}

// Connect implements [audio.Platform].
func (p *Platform) Connect(_ context.Context, state audio.TransportState) (audio.Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, state)
	return p.ConnectResult, p.ConnectError
}

// ─── Sink ─────────────────────────────────────────────────────────────────────

// PlayCall records a single [Sink.Play] invocation.
type PlayCall struct {
	PCM        []byte
	SampleRate int
}

// Sink is a mock implementation of [audio.Sink].
type Sink struct {
	mu sync.Mutex

	// PlayError is returned by Play.
	PlayError error

	plays   []PlayCall
	cancels int
}

// Play implements [audio.Sink].
func (s *Sink) Play(_ context.Context, pcm []byte, sampleRate int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.plays = append(s.plays, PlayCall{PCM: pcm, SampleRate: sampleRate})
	return s.PlayError
}

// Cancel implements [audio.Sink].
func (s *Sink) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels++
}

// PlayCalls returns a copy of all recorded Play calls.
func (s *Sink) PlayCalls() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]PlayCall(nil), s.plays...)
}

// CancelCount returns how many times Cancel was called.
func (s *Sink) CancelCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancels
}

// ─── CaptureSource ────────────────────────────────────────────────────────────

// CaptureSource is a mock implementation of [audio.CaptureSource]. Samples
// pushed via [CaptureSource.Push] are delivered to the active capture.
type CaptureSource struct {
	mu sync.Mutex

	// CaptureError is returned by Capture.
	CaptureError error

	ch   chan []float32
	rate int
}

// Capture implements [audio.CaptureSource].
func (c *CaptureSource) Capture(ctx context.Context, sampleRate int) (<-chan []float32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CaptureError != nil {
		return nil, c.CaptureError
	}
	ch := make(chan []float32, 64)
	c.ch = ch
	c.rate = sampleRate
	go func() {
		<-ctx.Done()
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.ch == ch {
			c.ch = nil
		}
		close(ch)
	}()
	return ch, nil
}

// Push delivers samples to the active capture. It reports false when no
// capture is running or its buffer is full.
func (c *CaptureSource) Push(samples []float32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.ch == nil {
		return false
	}
	select {
	case c.ch <- samples:
		return true
	default:
		return false
	}
}

// SampleRate returns the rate requested by the most recent Capture call.
func (c *CaptureSource) SampleRate() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.rate
}
