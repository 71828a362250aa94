// Package playback provides an [audio.Sink] that streams synthesized speech
// into a call transport in real time.
//
// [Sink.Play] hands a PCM buffer to a background dispatch goroutine, which
// slices it into fixed-duration frames and delivers one frame per tick to
// the output callback. [Sink.Cancel] stops the current clip between frames.
// A new Play preempts whatever is still playing.
package playback

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aria-ai/aria/pkg/audio"
)

var _ audio.Sink = (*Sink)(nil)

// DefaultFrameDuration matches the 20 ms Opus packetisation of the call
// transport.
const DefaultFrameDuration = 20 * time.Millisecond

// ErrClosed is returned by Play after Close.
var ErrClosed = errors.New("playback: sink is closed")

// Option configures a [Sink].
type Option func(*Sink)

// WithFrameDuration sets the length of each delivered frame.
func WithFrameDuration(d time.Duration) Option {
	return func(s *Sink) {
		if d > 0 {
			s.frameDur = d
		}
	}
}

// WithOnFinished registers fn to be called after a clip has been fully
// delivered. Cancelled clips do not trigger it.
func WithOnFinished(fn func()) Option {
	return func(s *Sink) { s.onFinished = fn }
}

// clip is one buffer handed to Play.
type clip struct {
	pcm        []byte
	sampleRate int
}

// Sink paces PCM16 mono audio into an output callback. All methods are safe
// for concurrent use.
type Sink struct {
	output     func(audio.AudioFrame)
	frameDur   time.Duration
	onFinished func()

	mu            sync.Mutex
	pending       *clip
	cancelPlaying chan struct{}
	closed        bool

	notify chan struct{}
	done   chan struct{}
	wg     sync.WaitGroup
}

// New creates a Sink delivering frames to output and starts its dispatch
// goroutine. output is called sequentially and must not block for long.
func New(output func(audio.AudioFrame), opts ...Option) *Sink {
	s := &Sink{
		output:   output,
		frameDur: DefaultFrameDuration,
		notify:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	s.wg.Add(1)
	go s.dispatch()
	return s
}

// NewForConnection creates a Sink that writes into conn's output stream. A
// frame that cannot be written within one frame duration is dropped, so a
// stalled or disconnected transport never blocks playback.
func NewForConnection(conn audio.Connection, opts ...Option) *Sink {
	var s *Sink
	out := conn.OutputStream()
	s = New(func(f audio.AudioFrame) {
		t := time.NewTimer(s.frameDur)
		defer t.Stop()
		select {
		case out <- f:
		case <-t.C:
		case <-s.done:
		}
	}, opts...)
	return s
}

// Play schedules pcm for playback, preempting any clip still playing. It
// returns as soon as the clip is queued.
func (s *Sink) Play(_ context.Context, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("playback: invalid sample rate %d", sampleRate)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.stopLocked()
	s.pending = &clip{pcm: pcm, sampleRate: sampleRate}

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return nil
}

// Cancel stops the current clip and discards a queued one. It is a no-op
// when nothing is playing.
func (s *Sink) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopLocked()
}

// Playing reports whether a clip is queued or being delivered.
func (s *Sink) Playing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending != nil || s.cancelPlaying != nil
}

// Close stops playback and the dispatch goroutine. It is idempotent.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopLocked()
	s.mu.Unlock()

	close(s.done)
	s.wg.Wait()
	return nil
}

// stopLocked cancels the playing clip and drops the queued one. Must be
// called with s.mu held.
func (s *Sink) stopLocked() {
	if s.cancelPlaying != nil {
		close(s.cancelPlaying)
		s.cancelPlaying = nil
	}
	s.pending = nil
}

func (s *Sink) dispatch() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-s.notify:
		}

		c, cancel, ok := s.dequeue()
		if !ok {
			continue
		}
		finished := s.play(c, cancel)

		s.mu.Lock()
		if s.cancelPlaying == cancel {
			s.cancelPlaying = nil
		}
		s.mu.Unlock()

		if finished && s.onFinished != nil {
			s.onFinished()
		}
	}
}

// dequeue takes the pending clip and marks it as playing.
func (s *Sink) dequeue() (*clip, chan struct{}, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return nil, nil, false
	}
	c := s.pending
	s.pending = nil
	cancel := make(chan struct{})
	s.cancelPlaying = cancel
	return c, cancel, true
}

// play delivers c frame by frame, one per tick. It reports whether the clip
// ran to the end.
func (s *Sink) play(c *clip, cancel chan struct{}) bool {
	frameBytes := int(int64(c.sampleRate)*int64(s.frameDur)/int64(time.Second)) * 2
	if frameBytes < 2 {
		frameBytes = 2
	}

	ticker := time.NewTicker(s.frameDur)
	defer ticker.Stop()

	var ts time.Duration
	for off := 0; off < len(c.pcm); off += frameBytes {
		end := min(off+frameBytes, len(c.pcm))
		frame := audio.AudioFrame{
			Data:       c.pcm[off:end],
			SampleRate: c.sampleRate,
			Channels:   1,
			Timestamp:  ts,
		}
		select {
		case <-cancel:
			return false
		case <-s.done:
			return false
		default:
		}
		s.output(frame)
		ts += s.frameDur

		if end == len(c.pcm) {
			break
		}
		select {
		case <-cancel:
			return false
		case <-s.done:
			return false
		case <-ticker.C:
		}
	}
	return true
}
