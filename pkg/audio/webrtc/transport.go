package webrtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// PeerConfig describes the peer a transport is created for.
type PeerConfig struct {
	// SessionID is the unique ID of this peer session.
	SessionID string

	// STUNServers are the ICE servers configured on the platform.
	STUNServers []string
}

// TransportFactory creates the transport for one joining peer.
type TransportFactory func(cfg PeerConfig) (PeerTransport, error)

// PeerTransport abstracts a single peer connection carrying Opus packets.
type PeerTransport interface {
	// Answer applies the remote SDP offer and returns the local SDP answer.
	Answer(ctx context.Context, offer string) (string, error)

	// AddICECandidate adds a remote ICE candidate.
	AddICECandidate(candidate string) error

	// Packets delivers Opus packets received from the peer. It is closed when
	// the transport closes.
	Packets() <-chan []byte

	// WritePacket sends one Opus packet to the peer.
	WritePacket(pkt []byte) error

	// Close tears down the peer connection. It is safe to call more than once.
	Close() error
}

// ErrTransportClosed is returned by [Pipe.WritePacket] after Close.
var ErrTransportClosed = errors.New("webrtc: transport closed")

const pipeBuffer = 64

// Pipe is an in-memory [PeerTransport]. The remote side pushes packets with
// [Pipe.Deliver] and reads what the room sent with [Pipe.Sent].
type Pipe struct {
	cfg PeerConfig

	mu         sync.Mutex
	closed     bool
	candidates []string
	in         chan []byte
	out        chan []byte
}

var _ PeerTransport = (*Pipe)(nil)

// NewPipe returns an open Pipe for cfg.
func NewPipe(cfg PeerConfig) *Pipe {
	return &Pipe{
		cfg: cfg,
		in:  make(chan []byte, pipeBuffer),
		out: make(chan []byte, pipeBuffer),
	}
}

// Answer returns a minimal audio-only SDP answer.
func (p *Pipe) Answer(_ context.Context, offer string) (string, error) {
	if offer == "" {
		return "", errors.New("webrtc: empty sdp offer")
	}
	return fmt.Sprintf("v=0\r\no=- 0 0 IN IP4 127.0.0.1\r\ns=%s\r\nm=audio 9 UDP/TLS/RTP/SAVPF 111\r\na=rtpmap:111 opus/48000/2\r\n", p.cfg.SessionID), nil
}

// AddICECandidate records the candidate.
func (p *Pipe) AddICECandidate(candidate string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrTransportClosed
	}
	p.candidates = append(p.candidates, candidate)
	return nil
}

// Candidates returns the ICE candidates added so far.
func (p *Pipe) Candidates() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.candidates...)
}

// Packets implements [PeerTransport].
func (p *Pipe) Packets() <-chan []byte { return p.in }

// Deliver pushes a packet as if the remote peer had sent it. It reports
// false when the pipe is closed or its buffer is full.
func (p *Pipe) Deliver(pkt []byte) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	select {
	case p.in <- pkt:
		return true
	default:
		return false
	}
}

// WritePacket queues pkt for the remote side. A full buffer drops the packet.
func (p *Pipe) WritePacket(pkt []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrTransportClosed
	}
	select {
	case p.out <- pkt:
	default:
	}
	return nil
}

// Sent returns the packets the room wrote to this peer.
func (p *Pipe) Sent() <-chan []byte { return p.out }

// Close implements [PeerTransport].
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.in)
	}
	return nil
}
