// Package deepgram provides a streaming-socket stt.Provider backed by the
// Deepgram live transcription WebSocket API.
//
// Every audio chunk is forwarded immediately as a binary message. Only
// "Results" messages flagged is_final are delivered on Finals; interim
// results go to Partials.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aria-ai/aria/pkg/provider/stt"
	"github.com/aria-ai/aria/pkg/types"
	"github.com/coder/websocket"
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

const (
	defaultEndpoint   = "wss://api.deepgram.com/v1/listen"
	defaultModel      = "nova-3"
	defaultLanguage   = "en"
	defaultSampleRate = 16000
)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model (e.g., "nova-3", "nova-2").
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithLanguage sets the default recognition language.
func WithLanguage(language string) Option {
	return func(p *Provider) { p.language = language }
}

// WithEndpoint overrides the WebSocket endpoint. Used for self-hosted
// deployments and tests.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// Provider implements stt.Provider backed by the Deepgram streaming API.
type Provider struct {
	apiKey   string
	endpoint string
	model    string
	language string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		model:    defaultModel,
		language: defaultLanguage,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream dials Deepgram and returns a live session. The connection is
// established before StartStream returns so authentication failures surface
// immediately.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	wsURL, err := p.buildURL(cfg)
	if err != nil {
		return nil, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return nil, fmt.Errorf("deepgram: dial: %w", err)
	}

	// The session outlives the dial context.
	sessCtx, cancel := context.WithCancel(context.Background())
	s := &session{
		conn:     conn,
		partials: make(chan types.TranscriptEvent, 64),
		finals:   make(chan types.TranscriptEvent, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
		cancel:   cancel,
	}
	s.connected.Store(true)

	s.wg.Add(2)
	go s.readLoop(sessCtx)
	go s.writeLoop(sessCtx)
	return s, nil
}

// buildURL constructs the streaming endpoint URL for cfg.
func (p *Provider) buildURL(cfg stt.StreamConfig) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}

	lang := cfg.Language
	if lang == "" {
		lang = p.language
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = defaultSampleRate
	}
	ch := cfg.Channels
	if ch == 0 {
		ch = 1
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", lang)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", strconv.Itoa(ch))
	q.Set("punctuate", "true")
	q.Set("interim_results", "true")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ---- session ----

// results is the subset of a Deepgram "Results" message the session reads.
type results struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type session struct {
	conn     *websocket.Conn
	partials chan types.TranscriptEvent
	finals   chan types.TranscriptEvent
	audio    chan []byte

	connected atomic.Bool
	done      chan struct{}
	once      sync.Once
	wg        sync.WaitGroup
	cancel    context.CancelFunc
}

func (s *session) SendAudio(chunk []byte) error {
	if !s.connected.Load() {
		return fmt.Errorf("deepgram: %w", stt.ErrSessionClosed)
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return fmt.Errorf("deepgram: %w", stt.ErrSessionClosed)
	}
}

func (s *session) Partials() <-chan types.TranscriptEvent { return s.partials }

func (s *session) Finals() <-chan types.TranscriptEvent { return s.finals }

func (s *session) Connected() bool { return s.connected.Load() }

// Close asks Deepgram to flush, waits for both loops and closes the socket.
func (s *session) Close() error {
	s.once.Do(func() {
		s.connected.Store(false)
		close(s.done)
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_ = s.conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`))
		cancel()
		s.cancel()
		s.wg.Wait()
		_ = s.conn.Close(websocket.StatusNormalClosure, "session closed")
	})
	return nil
}

func (s *session) writeLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.conn.Write(ctx, websocket.MessageBinary, chunk); err != nil {
				s.markDisconnected(err)
				return
			}
		case <-s.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// readLoop dispatches Results messages until the socket fails or closes.
// Both output channels are closed on exit.
func (s *session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, msg, err := s.conn.Read(ctx)
		if err != nil {
			s.markDisconnected(err)
			return
		}

		ev, ok := parseResults(msg)
		if !ok {
			continue
		}
		out := s.partials
		if ev.IsFinal {
			out = s.finals
		}
		select {
		case out <- ev:
		case <-s.done:
			return
		}
	}
}

func (s *session) markDisconnected(err error) {
	if s.connected.Swap(false) {
		select {
		case <-s.done:
		default:
			slog.Warn("deepgram: connection lost", "err", err)
		}
	}
}

// parseResults decodes a Deepgram message. It returns false for non-Results
// messages and for results with an empty transcript.
func parseResults(data []byte) (types.TranscriptEvent, bool) {
	var r results
	if err := json.Unmarshal(data, &r); err != nil {
		return types.TranscriptEvent{}, false
	}
	if r.Type != "Results" || len(r.Channel.Alternatives) == 0 {
		return types.TranscriptEvent{}, false
	}
	text := r.Channel.Alternatives[0].Transcript
	if text == "" {
		return types.TranscriptEvent{}, false
	}
	return types.TranscriptEvent{
		Text:      text,
		IsFinal:   r.IsFinal,
		Timestamp: time.Now(),
	}, true
}
