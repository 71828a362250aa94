package voice

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aria-ai/aria/pkg/audio"
)

// FrameHandler consumes 16 kHz mono PCM16 frames. [Orchestrator] implements
// it.
type FrameHandler interface {
	HandlePCM(pcm []byte) GateDecision
}

var _ FrameHandler = (*Orchestrator)(nil)

// TrackAttacher connects remote participant audio to a [FrameHandler].
//
// Every participant session is attached at most once, however often its track
// is announced. All tracks feed one shared gate goroutine, which is started
// the first time a track is attached.
type TrackAttacher struct {
	handler FrameHandler
	onCount func(delta int64)

	mu       sync.Mutex
	attached map[string]context.CancelFunc
	closed   bool

	graphOnce sync.Once
	frames    chan []byte
	wg        sync.WaitGroup
	gateWG    sync.WaitGroup
	stop      chan struct{}
	stopOnce  sync.Once
}

// NewTrackAttacher creates an attacher feeding h. onCount, if non-nil, is
// called with +1/-1 as tracks attach and end.
func NewTrackAttacher(h FrameHandler, onCount func(delta int64)) *TrackAttacher {
	return &TrackAttacher{
		handler:  h,
		onCount:  onCount,
		attached: make(map[string]context.CancelFunc),
		stop:     make(chan struct{}),
	}
}

// Attach starts reading frames for the participant session sessionID. It
// returns false when that session is already attached or the attacher is
// closed. The track is read until frames is closed or ctx is cancelled.
func (a *TrackAttacher) Attach(ctx context.Context, sessionID string, frames <-chan audio.AudioFrame) bool {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return false
	}
	if _, ok := a.attached[sessionID]; ok {
		a.mu.Unlock()
		return false
	}
	trackCtx, cancel := context.WithCancel(ctx)
	a.attached[sessionID] = cancel
	a.wg.Add(1)
	a.mu.Unlock()

	a.graphOnce.Do(a.buildGraph)
	if a.onCount != nil {
		a.onCount(1)
	}
	slog.Debug("voice: track attached", "session_id", sessionID)

	go a.readTrack(trackCtx, sessionID, frames)
	return true
}

// Sync attaches every input stream of conn that is not attached yet and
// returns how many were new.
func (a *TrackAttacher) Sync(ctx context.Context, conn audio.Connection) int {
	n := 0
	for id, ch := range conn.InputStreams() {
		if a.Attach(ctx, id, ch) {
			n++
		}
	}
	return n
}

// Detach stops reading the track of sessionID, if attached.
func (a *TrackAttacher) Detach(sessionID string) {
	a.mu.Lock()
	cancel, ok := a.attached[sessionID]
	a.mu.Unlock()
	if ok {
		cancel()
	}
}

// Attached reports whether sessionID currently has a reader.
func (a *TrackAttacher) Attached(sessionID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.attached[sessionID]
	return ok
}

// Len returns the number of attached tracks.
func (a *TrackAttacher) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.attached)
}

// buildGraph starts the gate goroutine. It runs once per attacher.
func (a *TrackAttacher) buildGraph() {
	a.frames = make(chan []byte, 64)
	a.gateWG.Add(1)
	go func() {
		defer a.gateWG.Done()
		for {
			select {
			case pcm := <-a.frames:
				a.handler.HandlePCM(pcm)
			case <-a.stop:
				return
			}
		}
	}()
}

func (a *TrackAttacher) readTrack(ctx context.Context, sessionID string, frames <-chan audio.AudioFrame) {
	defer a.wg.Done()
	defer func() {
		a.mu.Lock()
		if cancel, ok := a.attached[sessionID]; ok {
			cancel()
			delete(a.attached, sessionID)
		}
		a.mu.Unlock()
		if a.onCount != nil {
			a.onCount(-1)
		}
		slog.Debug("voice: track detached", "session_id", sessionID)
	}()

	conv := audio.FormatConverter{Target: audio.TranscriptionFormat}
	for {
		select {
		case frame, ok := <-frames:
			if !ok {
				return
			}
			pcm := conv.Convert(frame).Data
			if len(pcm) == 0 {
				continue
			}
			select {
			case a.frames <- pcm:
			case <-ctx.Done():
				return
			case <-a.stop:
				return
			}
		case <-ctx.Done():
			return
		case <-a.stop:
			return
		}
	}
}

// Close stops all track readers and the gate goroutine and waits for them.
// Later calls to Attach return false.
func (a *TrackAttacher) Close() {
	a.stopOnce.Do(func() {
		a.mu.Lock()
		a.closed = true
		for _, cancel := range a.attached {
			cancel()
		}
		a.mu.Unlock()
		close(a.stop)
		a.wg.Wait()
		a.gateWG.Wait()
	})
}
