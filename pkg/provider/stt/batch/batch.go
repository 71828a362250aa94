// Package batch provides the chunked-batch stt.Provider.
//
// Incoming PCM frames are appended to an utterance buffer. On every tick of a
// fixed interval (1.5 s by default) the buffer is wrapped in a 44-byte WAV
// header, handed to a [Recognizer] as a one-shot request, and cleared. Each
// non-trivial transcript is emitted once on Finals.
//
// A failed recognition is logged and swallowed; the session keeps buffering
// and simply tries again with the next chunk.
//
// Usage:
//
//	rec, _ := batch.NewWhisperServer("http://localhost:8080")
//	p, _ := batch.New(rec)
//	handle, _ := p.StartStream(ctx, stt.StreamConfig{SampleRate: 16000, Channels: 1})
//	handle.SendAudio(pcmChunk)
//	ev := <-handle.Finals()
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
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
	// DefaultInterval is the flush period of the utterance buffer.
	DefaultInterval = 1500 * time.Millisecond

	defaultSampleRate = 16000
	requestTimeout    = 30 * time.Second
	pendingChunks     = 4
)

// Recognizer performs a single recognition request for a complete WAV file.
type Recognizer interface {
	Recognize(ctx context.Context, wav []byte, language string) (string, error)
}

// RecognizerFunc adapts a function to the [Recognizer] interface.
type RecognizerFunc func(ctx context.Context, wav []byte, language string) (string, error)

// Recognize implements [Recognizer].
func (f RecognizerFunc) Recognize(ctx context.Context, wav []byte, language string) (string, error) {
	return f(ctx, wav, language)
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithInterval overrides the buffer flush interval.
func WithInterval(d time.Duration) Option {
	return func(p *Provider) { p.interval = d }
}

// WithLanguage sets the default recognition language.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// Provider implements stt.Provider by batching audio into WAV chunks.
type Provider struct {
	recognizer Recognizer
	interval   time.Duration
	language   string
}

// New creates a chunked-batch Provider around rec.
func New(rec Recognizer, opts ...Option) (*Provider, error) {
	if rec == nil {
		return nil, errors.New("batch: recognizer must not be nil")
	}
	p := &Provider{recognizer: rec, interval: DefaultInterval}
	for _, o := range opts {
		o(p)
	}
	if p.interval <= 0 {
		return nil, fmt.Errorf("batch: interval must be positive, got %s", p.interval)
	}
	return p, nil
}

// StartStream opens a session. No network activity happens until the first
// non-empty flush.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("batch: %w", err)
	}
	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr <= 0 {
		sr = defaultSampleRate
	}
	ch := cfg.Channels
	if ch <= 0 {
		ch = 1
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		recognizer: p.recognizer,
		interval:   p.interval,
		language:   lang,
		sampleRate: sr,
		channels:   ch,
		audioCh:    make(chan []byte, 256),
		pending:    make(chan []byte, pendingChunks),
		partials:   make(chan types.TranscriptEvent),
		finals:     make(chan types.TranscriptEvent, 64),
		done:       make(chan struct{}),
		cancel:     cancel,
	}
	s.connected.Store(true)

	s.wg.Add(2)
	go s.bufferLoop()
	go s.recognizeLoop(sessCtx)
	return s, nil
}

// ---- session ----------------------------------------------------------------

type session struct {
	recognizer Recognizer
	interval   time.Duration
	language   string
	sampleRate int
	channels   int

	audioCh  chan []byte
	pending  chan []byte // encoded WAV chunks awaiting recognition, in order
	partials chan types.TranscriptEvent
	finals   chan types.TranscriptEvent

	connected atomic.Bool
	done      chan struct{}
	once      sync.Once
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

func (s *session) SendAudio(chunk []byte) error {
	select {
	case <-s.done:
		return fmt.Errorf("batch: %w", stt.ErrSessionClosed)
	default:
	}
	select {
	case s.audioCh <- chunk:
		return nil
	case <-s.done:
		return fmt.Errorf("batch: %w", stt.ErrSessionClosed)
	}
}

// Partials is closed when the session ends; batch recognition has no interim
// results.
func (s *session) Partials() <-chan types.TranscriptEvent { return s.partials }

func (s *session) Finals() <-chan types.TranscriptEvent { return s.finals }

func (s *session) Connected() bool { return s.connected.Load() }

// Close stops buffering, abandons in-flight recognition and closes both
// channels. Audio buffered since the last tick is discarded.
func (s *session) Close() error {
	s.once.Do(func() {
		s.connected.Store(false)
		close(s.done)
		s.cancel()
		s.wg.Wait()
	})
	return nil
}

// bufferLoop owns the utterance buffer. All buffer mutation happens here.
func (s *session) bufferLoop() {
	defer s.wg.Done()
	defer close(s.pending)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	var buffer []byte
	for {
		select {
		case <-s.done:
			return
		case chunk := <-s.audioCh:
			buffer = append(buffer, chunk...)
		case <-ticker.C:
			if len(buffer) == 0 {
				continue
			}
			wav := audio.EncodeWAV(buffer, s.sampleRate, s.channels)
			buffer = nil
			select {
			case s.pending <- wav:
			default:
				slog.Warn("batch: recognizer backlog full, dropping chunk", "bytes", len(wav))
			}
		}
	}
}

// recognizeLoop sends chunks to the recognizer one at a time so transcripts
// are emitted in capture order.
func (s *session) recognizeLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for wav := range s.pending {
		reqCtx, cancel := context.WithTimeout(ctx, requestTimeout)
		text, err := s.recognizer.Recognize(reqCtx, wav, s.language)
		cancel()
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("batch: recognition failed, continuing with next chunk", "err", err)
			}
			continue
		}
		text = strings.TrimSpace(text)
		if isTrivial(text) {
			continue
		}
		select {
		case s.finals <- types.TranscriptEvent{Text: text, IsFinal: true, Timestamp: time.Now()}:
		case <-s.done:
			return
		}
	}
}

// annotation matches whole-transcript markers such as "[BLANK_AUDIO]" or
// "(silence)" that recognisers emit for non-speech audio.
var annotation = regexp.MustCompile(`^[\[(][^\])]*[\])]$`)

// isTrivial reports whether text carries no speech.
func isTrivial(text string) bool {
	return text == "" || annotation.MatchString(text)
}
