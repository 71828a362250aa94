// Package assemblyai provides a streaming-socket stt.Provider backed by the
// AssemblyAI Universal Streaming (v3) WebSocket API.
//
// Audio is forwarded as binary PCM frames as soon as it arrives. "Turn"
// messages with end_of_turn set are delivered on Finals; intermediate turn
// updates go to Partials.
package assemblyai

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
	"github.com/gorilla/websocket"
)

// Compile-time interface assertion.
var _ stt.Provider = (*Provider)(nil)

const (
	defaultEndpoint  = "wss://streaming.assemblyai.com/v3/ws"
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

// Option is a functional option for configuring the AssemblyAI Provider.
type Option func(*Provider)

// WithEndpoint overrides the streaming endpoint (used by tests).
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) { p.endpoint = endpoint }
}

// WithFormattedTurns asks AssemblyAI to punctuate and case final turns.
func WithFormattedTurns(on bool) Option {
	return func(p *Provider) { p.formatTurns = on }
}

// Provider implements stt.Provider for AssemblyAI.
type Provider struct {
	apiKey      string
	endpoint    string
	formatTurns bool
	dialer      websocket.Dialer
}

// New creates a new AssemblyAI Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("assemblyai: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		endpoint: defaultEndpoint,
		dialer:   websocket.Dialer{HandshakeTimeout: handshakeTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// StartStream connects to AssemblyAI and returns a live session.
func (p *Provider) StartStream(ctx context.Context, cfg stt.StreamConfig) (stt.SessionHandle, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return nil, fmt.Errorf("assemblyai: parse endpoint: %w", err)
	}
	sr := cfg.SampleRate
	if sr == 0 {
		sr = 16000
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("encoding", "pcm_s16le")
	q.Set("format_turns", strconv.FormatBool(p.formatTurns))
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", p.apiKey)

	conn, resp, err := p.dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("assemblyai: dial (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("assemblyai: dial: %w", err)
	}

	s := &session{
		conn:     conn,
		partials: make(chan types.TranscriptEvent, 64),
		finals:   make(chan types.TranscriptEvent, 64),
		audio:    make(chan []byte, 256),
		done:     make(chan struct{}),
	}
	s.connected.Store(true)
	s.wg.Add(2)
	go s.readLoop()
	go s.writeLoop()
	return s, nil
}

// message is the union of the v3 server message shapes the session reads.
type message struct {
	Type       string `json:"type"`
	Transcript string `json:"transcript"`
	EndOfTurn  bool   `json:"end_of_turn"`
	Error      string `json:"error"`
}

type session struct {
	conn     *websocket.Conn
	writeMu  sync.Mutex // gorilla connections allow one concurrent writer
	partials chan types.TranscriptEvent
	finals   chan types.TranscriptEvent
	audio    chan []byte

	connected atomic.Bool
	done      chan struct{}
	once      sync.Once
	wg        sync.WaitGroup
}

func (s *session) SendAudio(chunk []byte) error {
	if !s.connected.Load() {
		return fmt.Errorf("assemblyai: %w", stt.ErrSessionClosed)
	}
	select {
	case s.audio <- chunk:
		return nil
	case <-s.done:
		return fmt.Errorf("assemblyai: %w", stt.ErrSessionClosed)
	}
}

func (s *session) Partials() <-chan types.TranscriptEvent { return s.partials }

func (s *session) Finals() <-chan types.TranscriptEvent { return s.finals }

func (s *session) Connected() bool { return s.connected.Load() }

// Close sends a Terminate message, closes the socket and waits for both loops.
func (s *session) Close() error {
	s.once.Do(func() {
		s.connected.Store(false)
		close(s.done)
		_ = s.write(websocket.TextMessage, []byte(`{"type":"Terminate"}`))
		_ = s.conn.Close()
		s.wg.Wait()
	})
	return nil
}

func (s *session) write(kind int, data []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return s.conn.WriteMessage(kind, data)
}

func (s *session) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case chunk := <-s.audio:
			if err := s.write(websocket.BinaryMessage, chunk); err != nil {
				s.markDisconnected(err)
				return
			}
		case <-s.done:
			return
		}
	}
}

func (s *session) readLoop() {
	defer s.wg.Done()
	defer close(s.partials)
	defer close(s.finals)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.markDisconnected(err)
			return
		}
		var msg message
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "Turn":
			if msg.Transcript == "" {
				continue
			}
			ev := types.TranscriptEvent{Text: msg.Transcript, IsFinal: msg.EndOfTurn, Timestamp: time.Now()}
			out := s.partials
			if ev.IsFinal {
				out = s.finals
			}
			select {
			case out <- ev:
			case <-s.done:
				return
			}
		case "Error":
			slog.Warn("assemblyai: server error", "err", msg.Error)
		case "Termination":
			s.markDisconnected(nil)
			return
		}
	}
}

func (s *session) markDisconnected(err error) {
	if !s.connected.Swap(false) {
		return
	}
	select {
	case <-s.done:
	default:
		if err != nil {
			slog.Warn("assemblyai: connection lost", "err", err)
		}
	}
}
