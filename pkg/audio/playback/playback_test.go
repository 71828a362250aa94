package playback_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/aria-ai/aria/pkg/audio"
	"github.com/aria-ai/aria/pkg/audio/mock"
	"github.com/aria-ai/aria/pkg/audio/playback"
)

// collectOutput returns an output callback that records frames and a getter
// for the recorded frames.
func collectOutput() (func(audio.AudioFrame), func() []audio.AudioFrame) {
	var mu sync.Mutex
	var frames []audio.AudioFrame
	output := func(f audio.AudioFrame) {
		mu.Lock()
		defer mu.Unlock()
		frames = append(frames, f)
	}
	get := func() []audio.AudioFrame {
		mu.Lock()
		defer mu.Unlock()
		return append([]audio.AudioFrame(nil), frames...)
	}
	return output, get
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestSink_PlaysWholeClipInFrames(t *testing.T) {
	t.Parallel()
	output, frames := collectOutput()
	finished := make(chan struct{}, 1)
	s := playback.New(output,
		playback.WithFrameDuration(5*time.Millisecond),
		playback.WithOnFinished(func() { finished <- struct{}{} }),
	)
	defer s.Close()

	// 5 ms at 24 kHz is 120 samples (240 bytes); 1000 bytes is 4 full frames
	// and a 40-byte tail.
	pcm := make([]byte, 1000)
	for i := range pcm {
		pcm[i] = byte(i)
	}
	if err := s.Play(context.Background(), pcm, 24000); err != nil {
		t.Fatalf("Play: %v", err)
	}

	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("clip did not finish")
	}
	got := frames()
	if len(got) != 5 {
		t.Fatalf("got %d frames, want 5", len(got))
	}
	var total int
	for i, f := range got {
		if f.SampleRate != 24000 || f.Channels != 1 {
			t.Errorf("frame %d format %d/%d", i, f.SampleRate, f.Channels)
		}
		if f.Timestamp != time.Duration(i)*5*time.Millisecond {
			t.Errorf("frame %d timestamp %v", i, f.Timestamp)
		}
		total += len(f.Data)
	}
	if total != len(pcm) || len(got[4].Data) != 40 {
		t.Errorf("delivered %d bytes (tail %d)", total, len(got[4].Data))
	}
	if s.Playing() {
		t.Error("Playing() = true after the clip finished")
	}
}

func TestSink_CancelStopsPlayback(t *testing.T) {
	t.Parallel()
	output, frames := collectOutput()
	s := playback.New(output, playback.WithFrameDuration(10*time.Millisecond))
	defer s.Close()

	// Ten seconds of audio.
	_ = s.Play(context.Background(), make([]byte, 480000), 24000)
	waitFor(t, "first frame", func() bool { return len(frames()) > 0 })

	s.Cancel()
	waitFor(t, "stop", func() bool { return !s.Playing() })
	n := len(frames())
	time.Sleep(50 * time.Millisecond)
	if got := len(frames()); got > n+1 {
		t.Errorf("frames kept flowing after Cancel: %d -> %d", n, got)
	}

	// Cancel with nothing playing is a no-op.
	s.Cancel()
	s.Cancel()
}

func TestSink_PlayPreemptsCurrentClip(t *testing.T) {
	t.Parallel()
	output, frames := collectOutput()
	s := playback.New(output, playback.WithFrameDuration(5*time.Millisecond))
	defer s.Close()

	long := make([]byte, 480000)
	short := []byte{0xAA, 0xAA, 0xAA, 0xAA}
	_ = s.Play(context.Background(), long, 24000)
	waitFor(t, "long clip", func() bool { return len(frames()) > 0 })

	_ = s.Play(context.Background(), short, 24000)
	waitFor(t, "short clip", func() bool {
		got := frames()
		return len(got) > 0 && len(got[len(got)-1].Data) == 4
	})
	waitFor(t, "idle", func() bool { return !s.Playing() })
}

func TestSink_PlayValidation(t *testing.T) {
	t.Parallel()
	output, _ := collectOutput()
	s := playback.New(output)

	if err := s.Play(context.Background(), []byte{0, 0}, 0); err == nil {
		t.Error("expected error for zero sample rate")
	}
	_ = s.Close()
	if err := s.Play(context.Background(), []byte{0, 0}, 24000); !errors.Is(err, playback.ErrClosed) {
		t.Errorf("Play after Close: err = %v, want ErrClosed", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

func TestNewForConnection_WritesOutputStream(t *testing.T) {
	t.Parallel()
	out := make(chan audio.AudioFrame, 8)
	conn := &mock.Connection{OutputStreamResult: out}
	s := playback.NewForConnection(conn, playback.WithFrameDuration(5*time.Millisecond))
	defer s.Close()

	_ = s.Play(context.Background(), make([]byte, 480), 24000)
	for i := range 2 {
		select {
		case f := <-out:
			if len(f.Data) != 240 {
				t.Errorf("frame %d: %d bytes, want 240", i, len(f.Data))
			}
		case <-time.After(time.Second):
			t.Fatalf("frame %d not written", i)
		}
	}
}

func TestNewForConnection_DropsWhenStalled(t *testing.T) {
	t.Parallel()
	conn := &mock.Connection{OutputStreamResult: make(chan audio.AudioFrame)}
	finished := make(chan struct{})
	s := playback.NewForConnection(conn,
		playback.WithFrameDuration(2*time.Millisecond),
		playback.WithOnFinished(func() { close(finished) }),
	)
	defer s.Close()

	_ = s.Play(context.Background(), make([]byte, 960), 24000)
	select {
	case <-finished:
	case <-time.After(2 * time.Second):
		t.Fatal("stalled output blocked playback")
	}
}
