package voice

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aria-ai/aria/pkg/audio"
	audiomock "github.com/aria-ai/aria/pkg/audio/mock"
)

type recordingHandler struct {
	mu     sync.Mutex
	frames [][]byte
}

func (r *recordingHandler) HandlePCM(pcm []byte) GateDecision {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = append(r.frames, pcm)
	return GateDecision{}
}

func (r *recordingHandler) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

func (r *recordingHandler) sizes() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.frames))
	for i, f := range r.frames {
		out[i] = len(f)
	}
	return out
}

func TestTrackAttacher_AttachesOncePerSession(t *testing.T) {
	h := &recordingHandler{}
	var active atomic.Int64
	a := NewTrackAttacher(h, func(d int64) { active.Add(d) })
	defer a.Close()

	ch := make(chan audio.AudioFrame)
	var wins atomic.Int32
	var wg sync.WaitGroup
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if a.Attach(context.Background(), "alice-1", ch) {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	if got := wins.Load(); got != 1 {
		t.Fatalf("Attach succeeded %d times for one session, want 1", got)
	}
	if got := active.Load(); got != 1 {
		t.Errorf("active tracks = %d, want 1", got)
	}
	if !a.Attached("alice-1") || a.Len() != 1 {
		t.Errorf("attached = %v, len = %d", a.Attached("alice-1"), a.Len())
	}
}

func TestTrackAttacher_GraphBuiltOnce(t *testing.T) {
	h := &recordingHandler{}
	a := NewTrackAttacher(h, nil)
	defer a.Close()

	if a.frames != nil {
		t.Fatal("graph built before the first track")
	}
	a.Attach(context.Background(), "s1", make(chan audio.AudioFrame))
	graph := a.frames

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.Attach(context.Background(), fmt.Sprintf("s%d", i+2), make(chan audio.AudioFrame))
		}()
	}
	wg.Wait()

	if a.frames != graph {
		t.Error("gate graph was rebuilt")
	}
	if a.Len() != 9 {
		t.Errorf("len = %d, want 9", a.Len())
	}
}

func TestTrackAttacher_ConvertsAndForwardsFrames(t *testing.T) {
	h := &recordingHandler{}
	a := NewTrackAttacher(h, nil)
	defer a.Close()

	ch := make(chan audio.AudioFrame, 4)
	a.Attach(context.Background(), "bob-1", ch)

	// 20 ms of 48 kHz stereo becomes 20 ms of 16 kHz mono.
	ch <- audio.AudioFrame{Data: make([]byte, 960*4), SampleRate: 48000, Channels: 2}
	ch <- audio.AudioFrame{Data: make([]byte, 640), SampleRate: 16000, Channels: 1}

	waitFor(t, time.Second, "frames", func() bool { return h.count() == 2 })
	for i, n := range h.sizes() {
		if n != 640 {
			t.Errorf("frame %d: %d bytes, want 640", i, n)
		}
	}
}

func TestTrackAttacher_DetachAndReattach(t *testing.T) {
	h := &recordingHandler{}
	var active atomic.Int64
	a := NewTrackAttacher(h, func(d int64) { active.Add(d) })
	defer a.Close()

	ch := make(chan audio.AudioFrame)
	a.Attach(context.Background(), "carol-1", ch)
	close(ch)
	waitFor(t, time.Second, "detach on closed track", func() bool { return !a.Attached("carol-1") })
	if got := active.Load(); got != 0 {
		t.Errorf("active tracks = %d after detach, want 0", got)
	}

	// A closed stream frees the session ID.
	if !a.Attach(context.Background(), "carol-1", make(chan audio.AudioFrame)) {
		t.Error("re-attach after track end failed")
	}
	a.Detach("carol-1")
	waitFor(t, time.Second, "explicit detach", func() bool { return !a.Attached("carol-1") })
}

func TestTrackAttacher_Sync(t *testing.T) {
	h := &recordingHandler{}
	a := NewTrackAttacher(h, nil)
	defer a.Close()

	conn := &audiomock.Connection{}
	conn.SetInputStream("p1", make(chan audio.AudioFrame))
	conn.SetInputStream("p2", make(chan audio.AudioFrame))

	if n := a.Sync(context.Background(), conn); n != 2 {
		t.Errorf("first Sync attached %d, want 2", n)
	}
	conn.SetInputStream("p3", make(chan audio.AudioFrame))
	if n := a.Sync(context.Background(), conn); n != 1 {
		t.Errorf("second Sync attached %d, want 1", n)
	}
	if n := a.Sync(context.Background(), conn); n != 0 {
		t.Errorf("third Sync attached %d, want 0", n)
	}
}

func TestTrackAttacher_Close(t *testing.T) {
	a := NewTrackAttacher(&recordingHandler{}, nil)
	a.Attach(context.Background(), "d-1", make(chan audio.AudioFrame))

	done := make(chan struct{})
	go func() {
		a.Close()
		a.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Close did not return")
	}
	if a.Attach(context.Background(), "d-2", make(chan audio.AudioFrame)) {
		t.Error("Attach succeeded after Close")
	}
}
