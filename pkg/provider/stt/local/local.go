// Package local provides an stt.Provider that captures and recognises speech
// on the host without any network service.
//
// Unlike the other adapters the local provider owns its audio: it pulls mono
// float32 samples from an injected [audio.CaptureSource], so SendAudio is a
// no-op. Captured samples are recognised in fixed windows by a [Recognizer],
// by default the whisper.cpp bindings (see [NewWhisper]).
//
// This is the provider used when no transcription provider is configured.
package local

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aria-ai/aria/pkg/audio"
	"github.com/aria-ai/aria/pkg/provider/stt"
	"github.com/aria-ai/aria/pkg/types"
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

const (
	// SampleRate is the capture rate requested from the CaptureSource.
	SampleRate = audio.InputSampleRate

	defaultInterval = 1500 * time.Millisecond
	defaultLanguage = "en"
)

// Recognizer transcribes a window of mono float32 samples at [SampleRate].
type Recognizer interface {
	Transcribe(ctx context.Context, samples []float32, language string) (string, error)
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithInterval sets the recognition window length.
func WithInterval(d time.Duration) Option {
	return func(p *Provider) { p.interval = d }
}

// WithLanguage sets the default recognition language.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// Provider implements stt.Provider over a local capture device.
type Provider struct {
	recognizer Recognizer
	capture    audio.CaptureSource
	interval   time.Duration
	language   string
}

// New creates a local Provider. Both rec and capture are required.
func New(rec Recognizer, capture audio.CaptureSource, opts ...Option) (*Provider, error) {
	if rec == nil {
		return nil, errors.New("local: recognizer must not be nil")
	}
	if capture == nil {
		return nil, errors.New("local: capture source must not be nil")
	}
	p := &Provider{
		recognizer: rec,
		capture:    capture,
		interval:   defaultInterval,
		language:   defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	if p.interval <= 0 {
		return nil, fmt.Errorf("local: interval must be positive, got %s", p.interval)
	}
	return p, nil
}

// StartStream starts capturing. cfg.SampleRate and cfg.Channels are ignored
// because the provider captures at its own fixed format.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("local: %w", err)
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	samples, err := p.capture.Capture(sessCtx, SampleRate)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("local: start capture: %w", err)
	}

	s := &session{
		recognizer: p.recognizer,
		interval:   p.interval,
		language:   lang,
		samples:    samples,
		windows:    make(chan []float32, 2),
		partials:   make(chan types.TranscriptEvent),
		finals:     make(chan types.TranscriptEvent, 32),
		done:       make(chan struct{}),
		cancel:     cancel,
	}
	s.connected.Store(true)

	s.wg.Add(2)
	go s.captureLoop()
	go s.recognizeLoop(sessCtx)
	return s, nil
}

type session struct {
	recognizer Recognizer
	interval   time.Duration
	language   string

	samples  <-chan []float32
	windows  chan []float32
	partials chan types.TranscriptEvent
	finals   chan types.TranscriptEvent

	connected atomic.Bool
	done      chan struct{}
	once      sync.Once
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

// SendAudio is a no-op: audio arrives from the capture source.
func (s *session) SendAudio([]byte) error {
	if !s.connected.Load() {
		return fmt.Errorf("local: %w", stt.ErrSessionClosed)
	}
	return nil
}

func (s *session) Partials() <-chan types.TranscriptEvent { return s.partials }

func (s *session) Finals() <-chan types.TranscriptEvent { return s.finals }

func (s *session) Connected() bool { return s.connected.Load() }

// Close stops the capture and waits for recognition to wind down.
func (s *session) Close() error {
	s.once.Do(func() {
		s.connected.Store(false)
		close(s.done)
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

func (s *session) captureLoop() {
	defer s.wg.Done()
	defer close(s.windows)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var window []float32
	for {
		select {
		case <-s.done:
			return
		case chunk, ok := <-s.samples:
			if !ok {
				if s.connected.Swap(false) {
					slog.Warn("local: capture source ended")
				}
				return
			}
			window = append(window, chunk...)
		case <-ticker.C:
			if len(window) == 0 {
				continue
			}
			// Silent windows are not worth a recognition pass.
			if audio.RMSFloat32(window) < silenceRMS {
				window = window[:0]
				continue
			}
			select {
			case s.windows <- window:
			default:
				slog.Warn("local: recognizer busy, dropping window", "samples", len(window))
			}
			window = nil
		}
	}
}

// silenceRMS matches the voice gate's forwarding threshold.
const silenceRMS = 0.002

func (s *session) recognizeLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for window := range s.windows {
		text, err := s.recognizer.Transcribe(ctx, window, s.language)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("local: recognition failed", "err", err)
			}
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" || strings.HasPrefix(text, "[") {
			continue
		}
		select {
		case s.finals <- types.TranscriptEvent{Text: text, IsFinal: true, Timestamp: time.Now()}:
		case <-s.done:
			return
		}
	}
}
