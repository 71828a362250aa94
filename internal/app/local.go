package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aria-ai/aria/internal/config"
	"github.com/aria-ai/aria/internal/meeting"
	"github.com/aria-ai/aria/internal/observe"
	"github.com/aria-ai/aria/internal/voice"
	"github.com/aria-ai/aria/pkg/audio"
	"github.com/aria-ai/aria/pkg/provider/stt"
	"github.com/aria-ai/aria/pkg/types"
)

// CaptureTap wraps a capture device so that every captured period is also
// handed to a callback. The local recogniser reads the device through the
// tap while the orchestrator's gate sees the same samples.
type CaptureTap struct {
	src audio.CaptureSource

	mu sync.RWMutex
	fn func([]float32)
}

var _ audio.CaptureSource = (*CaptureTap)(nil)

// NewCaptureTap returns a tap over src.
func NewCaptureTap(src audio.CaptureSource) *CaptureTap {
	return &CaptureTap{src: src}
}

// SetHandler sets the callback; nil removes it.
func (t *CaptureTap) SetHandler(fn func([]float32)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fn = fn
}

// Capture implements [audio.CaptureSource].
func (t *CaptureTap) Capture(ctx context.Context, sampleRate int) (<-chan []float32, error) {
	in, err := t.src.Capture(ctx, sampleRate)
	if err != nil {
		return nil, err
	}
	out := make(chan []float32, cap(in))
	go func() {
		defer close(out)
		for samples := range in {
			t.mu.RLock()
			fn := t.fn
			t.mu.RUnlock()
			if fn != nil {
				fn(samples)
			}
			select {
			case out <- samples:
			default:
			}
		}
	}()
	return out, nil
}

// LocalCall runs one call on the host audio devices.
type LocalCall struct {
	Providers *Providers
	Voice     config.VoiceConfig
	Metrics   *observe.Metrics

	// Tap is the microphone. When the recogniser is not the local one, the
	// call reads the tap itself and forwards the audio.
	Tap *CaptureTap

	// Sink plays the agent's speech, usually a device speaker.
	Sink audio.Sink

	// Instructions is the agent's system prompt.
	Instructions string

	// Store and MeetingID, when both set, receive the call summary.
	Store     meeting.Store
	MeetingID string

	// OnTranscript, if set, receives every accepted transcript.
	OnTranscript func(types.TranscriptEvent)
}

// RunLocal runs the call until ctx is cancelled or the transcription session
// ends, then stores the summary. It returns nil on a normal end.
func RunLocal(ctx context.Context, lc LocalCall) error {
	if lc.Providers == nil || lc.Tap == nil || lc.Sink == nil {
		return errors.New("app: local call needs providers, a microphone and a sink")
	}
	metrics := lc.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	session, err := lc.Providers.STT.StartStream(runCtx, stt.StreamConfig{
		SampleRate: audio.InputSampleRate,
		Channels:   1,
		Language:   lc.Voice.Language,
	})
	if err != nil {
		return fmt.Errorf("app: local call: transcription: %w", err)
	}

	opts := append(voiceOptions(lc.Voice, lc.Providers, metrics),
		voice.WithSystemPrompt(lc.Instructions),
		voice.WithThresholds(thresholdsFrom(lc.Voice)),
		voice.WithCallID("local"),
	)
	orch := voice.New(session, lc.Providers.LLM, lc.Providers.TTS, lc.Sink, opts...)
	if lc.OnTranscript != nil {
		orch.OnTranscript(lc.OnTranscript)
	}

	lc.Tap.SetHandler(func(samples []float32) { orch.HandleSamples(samples, 1) })
	defer lc.Tap.SetHandler(nil)

	if lc.Providers.STTName != config.DefaultSTTName {
		frames, err := lc.Tap.Capture(runCtx, audio.InputSampleRate)
		if err != nil {
			_ = orch.Close()
			return fmt.Errorf("app: local call: microphone: %w", err)
		}
		go func() {
			for range frames {
			}
		}()
	}

	metrics.ActiveCalls.Add(context.Background(), 1)
	slog.Info("app: local call started", "stt", lc.Providers.STTName, "llm", lc.Providers.LLMName, "tts", lc.Providers.TTSName)

	runErr := orch.Run(runCtx)
	_ = orch.Close()
	metrics.ActiveCalls.Add(context.Background(), -1)

	transcript := orch.Transcript()
	slog.Info("app: local call ended", "turns", len(transcript))
	if lc.MeetingID != "" {
		if err := saveSummary(ctx, lc.Providers.LLM, lc.Store, lc.MeetingID, lc.Instructions, transcript); err != nil {
			return err
		}
	}
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return fmt.Errorf("app: local call: %w", runErr)
	}
	return nil
}
