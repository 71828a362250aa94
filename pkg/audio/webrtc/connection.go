package webrtc

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/aria-ai/aria/pkg/audio"
)

const (
	outputChannelBuffer = 64
	inputChannelBuffer  = 64
)

// ErrPeerNotFound is returned for operations on an unknown peer session.
var ErrPeerNotFound = errors.New("webrtc: peer not found")

// peer holds the runtime state of one connected peer session.
type peer struct {
	sessionID string
	userID    string
	username  string
	transport PeerTransport
	dec       codec
	inputCh   chan audio.AudioFrame
	done      chan struct{}
}

type connectionConfig struct {
	room         string
	token        string
	stunServers  []string
	factory      TransportFactory
	newCodec     func() (codec, error)
	encoder      codec
	onDisconnect func(*Connection)
}

// Connection is the agent's session in one room. It implements
// [audio.Connection].
//
// Connection is safe for concurrent use.
type Connection struct {
	cfg connectionConfig

	mu           sync.RWMutex
	peers        map[string]*peer
	inputStreams map[string]chan audio.AudioFrame
	onChange     func(audio.Event)
	disconnected bool

	outputCh chan audio.AudioFrame
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

func newConnection(cfg connectionConfig) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		cfg:          cfg,
		peers:        make(map[string]*peer),
		inputStreams: make(map[string]chan audio.AudioFrame),
		outputCh:     make(chan audio.AudioFrame, outputChannelBuffer),
		ctx:          ctx,
		cancel:       cancel,
	}
	c.wg.Add(1)
	go c.forwardOutput()
	return c
}

// Room returns the room identifier of this connection.
func (c *Connection) Room() string { return c.cfg.room }

// Authorize reports whether token matches the room's connection token.
func (c *Connection) Authorize(token string) bool {
	return token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(c.cfg.token)) == 1
}

// InputStreams returns a snapshot of the per-session input channels. Frames
// are 48 kHz mono PCM16.
func (c *Connection) InputStreams() map[string]<-chan audio.AudioFrame {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snap := make(map[string]<-chan audio.AudioFrame, len(c.inputStreams))
	for id, ch := range c.inputStreams {
		snap[id] = ch
	}
	return snap
}

// OutputStream returns the channel for agent speech. Frames are encoded and
// sent to every peer. The channel is never closed; after Disconnect nothing
// drains it, so writers must not block on it indefinitely.
func (c *Connection) OutputStream() chan<- audio.AudioFrame {
	return c.outputCh
}

// OnParticipantChange registers cb as the participant lifecycle callback.
// Subsequent calls replace the previous registration. cb runs on its own
// goroutine.
func (c *Connection) OnParticipantChange(cb func(audio.Event)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = cb
}

// AddPeer negotiates a new peer session from an SDP offer. It returns the
// generated session ID and the SDP answer.
func (c *Connection) AddPeer(ctx context.Context, userID, username, offer string) (string, string, error) {
	if userID == "" {
		return "", "", errors.New("webrtc: add peer: user id is required")
	}
	sessionID := uuid.NewString()

	tr, err := c.cfg.factory(PeerConfig{SessionID: sessionID, STUNServers: c.cfg.stunServers})
	if err != nil {
		return "", "", fmt.Errorf("webrtc: add peer: create transport: %w", err)
	}
	answer, err := tr.Answer(ctx, offer)
	if err != nil {
		_ = tr.Close()
		return "", "", fmt.Errorf("webrtc: add peer: %w", err)
	}
	dec, err := c.cfg.newCodec()
	if err != nil {
		_ = tr.Close()
		return "", "", fmt.Errorf("webrtc: add peer: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.disconnected {
		_ = tr.Close()
		return "", "", fmt.Errorf("webrtc: room %q is disconnected", c.cfg.room)
	}
	p := &peer{
		sessionID: sessionID,
		userID:    userID,
		username:  username,
		transport: tr,
		dec:       dec,
		inputCh:   make(chan audio.AudioFrame, inputChannelBuffer),
		done:      make(chan struct{}),
	}
	c.peers[sessionID] = p
	c.inputStreams[sessionID] = p.inputCh

	c.wg.Add(1)
	go c.readPeer(p)

	if cb := c.onChange; cb != nil {
		go cb(audio.Event{Type: audio.EventJoin, UserID: userID, SessionID: sessionID, Username: username})
	}
	slog.Info("webrtc: peer joined", "room", c.cfg.room, "session_id", sessionID, "user_id", userID)
	return sessionID, answer, nil
}

// AddICECandidate forwards a remote ICE candidate to the peer's transport.
func (c *Connection) AddICECandidate(sessionID, candidate string) error {
	c.mu.RLock()
	p, ok := c.peers[sessionID]
	c.mu.RUnlock()
	if !ok {
		return fmt.Errorf("webrtc: ice for %q: %w", sessionID, ErrPeerNotFound)
	}
	if err := p.transport.AddICECandidate(candidate); err != nil {
		return fmt.Errorf("webrtc: ice for %q: %w", sessionID, err)
	}
	return nil
}

// RemovePeer closes the peer session and emits a leave event.
func (c *Connection) RemovePeer(sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p, ok := c.peers[sessionID]
	if !ok {
		return fmt.Errorf("webrtc: remove %q: %w", sessionID, ErrPeerNotFound)
	}
	c.dropPeerLocked(p)

	if cb := c.onChange; cb != nil {
		go cb(audio.Event{Type: audio.EventLeave, UserID: p.userID, SessionID: sessionID, Username: p.username})
	}
	slog.Info("webrtc: peer left", "room", c.cfg.room, "session_id", sessionID)
	return nil
}

// Disconnect closes every peer and stops the output forwarder. It is safe to
// call more than once.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	if c.disconnected {
		c.mu.Unlock()
		return nil
	}
	c.disconnected = true
	c.cancel()
	for _, p := range c.peers {
		c.dropPeerLocked(p)
	}
	c.mu.Unlock()

	c.wg.Wait()
	if c.cfg.onDisconnect != nil {
		c.cfg.onDisconnect(c)
	}
	return nil
}

// dropPeerLocked must be called with c.mu held.
func (c *Connection) dropPeerLocked(p *peer) {
	close(p.done)
	_ = p.transport.Close()
	delete(c.peers, p.sessionID)
	delete(c.inputStreams, p.sessionID)
}

// readPeer decodes the peer's packets into its input channel, which it
// closes on exit.
func (c *Connection) readPeer(p *peer) {
	defer c.wg.Done()
	defer close(p.inputCh)

	packets := p.transport.Packets()
	for {
		select {
		case <-p.done:
			return
		case <-c.ctx.Done():
			return
		case pkt, ok := <-packets:
			if !ok {
				return
			}
			pcm, err := p.dec.decode(pkt)
			if err != nil {
				slog.Debug("webrtc: dropping undecodable packet", "session_id", p.sessionID, "err", err)
				continue
			}
			frame := audio.AudioFrame{Data: pcm, SampleRate: opusSampleRate, Channels: opusChannels}
			select {
			case p.inputCh <- frame:
			case <-p.done:
				return
			case <-c.ctx.Done():
				return
			}
		}
	}
}

// forwardOutput encodes agent frames once and writes the packets to every
// current peer.
func (c *Connection) forwardOutput() {
	defer c.wg.Done()
	for {
		select {
		case <-c.ctx.Done():
			return
		case frame := <-c.outputCh:
			c.mu.RLock()
			peers := make([]*peer, 0, len(c.peers))
			for _, p := range c.peers {
				peers = append(peers, p)
			}
			c.mu.RUnlock()

			for _, chunk := range framePCM(frame) {
				pkt, err := c.cfg.encoder.encode(chunk)
				if err != nil {
					slog.Warn("webrtc: encode agent audio", "room", c.cfg.room, "err", err)
					continue
				}
				for _, p := range peers {
					if err := p.transport.WritePacket(pkt); err != nil {
						slog.Debug("webrtc: write packet", "session_id", p.sessionID, "err", err)
					}
				}
			}
		}
	}
}
