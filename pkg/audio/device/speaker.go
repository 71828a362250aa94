// Package device connects the voice pipeline to local audio hardware: an
// oto-backed [Speaker] implementing [audio.Sink] and a malgo-backed
// [Microphone] implementing [audio.CaptureSource].
//
// Both are used when a call runs entirely on-device instead of through a
// call transport.
package device

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/ebitengine/oto/v3"

	"github.com/aria-ai/aria/pkg/audio"
)

var _ audio.Sink = (*Speaker)(nil)

// speakerBufferSize is about 100 ms of 24 kHz mono PCM16.
const speakerBufferSize = 4800

// player is the subset of *oto.Player the speaker uses.
type player interface {
	Play()
	Pause()
	Close() error
}

// Speaker plays PCM16 mono through the default output device. Only one clip
// plays at a time; a new Play stops the previous one.
type Speaker struct {
	sampleRate int
	newPlayer  func(pcm []byte) player

	mu      sync.Mutex
	current player
}

// oto allows a single context per process.
var (
	otoOnce sync.Once
	otoCtx  *oto.Context
	otoErr  error
)

// NewSpeaker opens the default output device at [audio.OutputSampleRate].
func NewSpeaker() (*Speaker, error) {
	otoOnce.Do(func() {
		var ready chan struct{}
		otoCtx, ready, otoErr = oto.NewContext(&oto.NewContextOptions{
			SampleRate:   audio.OutputSampleRate,
			ChannelCount: 1,
			Format:       oto.FormatSignedInt16LE,
			BufferSize:   speakerBufferSize,
		})
		if otoErr == nil {
			<-ready
		}
	})
	if otoErr != nil {
		return nil, fmt.Errorf("device: open speaker: %w", otoErr)
	}
	return &Speaker{
		sampleRate: audio.OutputSampleRate,
		newPlayer: func(pcm []byte) player {
			return otoCtx.NewPlayer(bytes.NewReader(pcm))
		},
	}, nil
}

// Play starts playback of pcm. Audio at another rate is resampled to the
// device rate first.
func (s *Speaker) Play(_ context.Context, pcm []byte, sampleRate int) error {
	if sampleRate <= 0 {
		return fmt.Errorf("device: invalid sample rate %d", sampleRate)
	}
	if len(pcm) == 0 {
		return nil
	}
	pcm = audio.ResampleMono16(pcm, sampleRate, s.sampleRate)

	p := s.newPlayer(pcm)
	s.mu.Lock()
	prev := s.current
	s.current = p
	s.mu.Unlock()

	if prev != nil {
		prev.Pause()
		_ = prev.Close()
	}
	p.Play()
	return nil
}

// Cancel stops the current clip immediately.
func (s *Speaker) Cancel() {
	s.mu.Lock()
	p := s.current
	s.current = nil
	s.mu.Unlock()
	if p != nil {
		p.Pause()
		_ = p.Close()
	}
}
