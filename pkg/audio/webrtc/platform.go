// Package webrtc provides the call transport: an [audio.Platform] whose rooms
// accept browser peers over WebRTC-style signaling and carry Opus audio.
//
// The agent joins a room with the [audio.TransportState] issued by the
// meeting store. Remote participants then join the same room through the
// [SignalingServer], presenting the room's connection token. Each peer
// session gets its own decoded input stream; agent speech written to the
// connection's output stream is encoded once and sent to every peer.
//
// The peer connection itself sits behind [PeerTransport]. The default
// factory returns an in-memory [Pipe], which is what tests and local
// loopback use.
package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/aria-ai/aria/pkg/audio"
)

var (
	_ audio.Platform   = (*Platform)(nil)
	_ audio.Connection = (*Connection)(nil)
)

var (
	// ErrUnauthorized is returned when a connection token is missing or does
	// not match the room's token.
	ErrUnauthorized = errors.New("webrtc: unauthorized")

	// ErrRoomBusy is returned by Connect when the room already has an active
	// agent connection.
	ErrRoomBusy = errors.New("webrtc: room already connected")
)

// Option configures a [Platform].
type Option func(*Platform)

// WithSTUNServers sets the STUN server URLs handed to each peer transport.
// Defaults to ["stun:stun.l.google.com:19302"].
func WithSTUNServers(servers ...string) Option {
	return func(p *Platform) {
		if len(servers) > 0 {
			p.stunServers = servers
		}
	}
}

// WithTransportFactory sets the factory used to create a transport for each
// joining peer. Defaults to [NewPipe].
func WithTransportFactory(f TransportFactory) Option {
	return func(p *Platform) {
		if f != nil {
			p.factory = f
		}
	}
}

// Platform implements [audio.Platform]. It keeps one [Connection] per room
// until that connection is disconnected.
//
// Platform is safe for concurrent use.
type Platform struct {
	stunServers []string
	factory     TransportFactory
	newCodec    func() (codec, error)

	mu    sync.Mutex
	rooms map[string]*Connection
}

// New creates a Platform with the given options applied.
func New(opts ...Option) *Platform {
	p := &Platform{
		stunServers: []string{"stun:stun.l.google.com:19302"},
		factory:     func(cfg PeerConfig) (PeerTransport, error) { return NewPipe(cfg), nil },
		newCodec:    newOpusCodec,
		rooms:       make(map[string]*Connection),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect opens the room named by state.RoomIdentifier, protected by
// state.ConnectionToken. Peers must present the same token to join.
func (p *Platform) Connect(_ context.Context, state audio.TransportState) (audio.Connection, error) {
	if state.ConnectionToken == "" {
		return nil, fmt.Errorf("webrtc: connect: %w", ErrUnauthorized)
	}
	if state.RoomIdentifier == "" {
		return nil, errors.New("webrtc: connect: room identifier is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.rooms[state.RoomIdentifier]; ok {
		return nil, fmt.Errorf("webrtc: connect %q: %w", state.RoomIdentifier, ErrRoomBusy)
	}
	enc, err := p.newCodec()
	if err != nil {
		return nil, fmt.Errorf("webrtc: connect %q: %w", state.RoomIdentifier, err)
	}

	room := state.RoomIdentifier
	c := newConnection(connectionConfig{
		room:        room,
		token:       state.ConnectionToken,
		stunServers: p.stunServers,
		factory:     p.factory,
		newCodec:    p.newCodec,
		encoder:     enc,
		onDisconnect: func(c *Connection) {
			p.mu.Lock()
			defer p.mu.Unlock()
			if p.rooms[room] == c {
				delete(p.rooms, room)
			}
		},
	})
	p.rooms[room] = c
	return c, nil
}

// Room returns the active connection for roomID.
func (p *Platform) Room(roomID string) (*Connection, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	c, ok := p.rooms[roomID]
	return c, ok
}
