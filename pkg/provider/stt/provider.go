// Package stt defines the Provider interface for speech-to-text backends.
//
// A Provider hides a transcription vendor behind one streaming contract.
// Opening a stream is the connect step; the returned SessionHandle accepts raw
// PCM frames and emits recognised segments as [types.TranscriptEvent] values
// on its Finals channel. Three families of implementation exist:
//
//   - streaming socket (deepgram, assemblyai): every frame is forwarded at
//     once over a persistent connection;
//   - chunked batch (batch): frames are buffered and sent as a WAV file on a
//     fixed interval;
//   - local recognition (local): the recogniser owns its own capture and
//     SendAudio is a no-op.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"

	"github.com/aria-ai/aria/pkg/types"
)

// ErrSessionClosed is returned by SendAudio after the session has been closed
// or its underlying connection has failed.
var ErrSessionClosed = errors.New("stt: session is closed")

// StreamConfig describes the audio format and language of a new session.
type StreamConfig struct {
	// SampleRate is the audio sample rate in Hz. The voice pipeline always
	// sends 16000.
	SampleRate int

	// Channels is the number of interleaved channels; 1 for the voice pipeline.
	Channels int

	// Language is the BCP-47 language tag for recognition (e.g., "en-US").
	// Empty lets the provider use its default or auto-detect.
	Language string
}

// SessionHandle is an open transcription session.
//
// Callers must call Close when the session is no longer needed. All methods
// must be safe for concurrent use.
type SessionHandle interface {
	// SendAudio delivers one chunk of little-endian int16 PCM matching the
	// StreamConfig. It returns ErrSessionClosed once the session has ended.
	SendAudio(chunk []byte) error

	// Partials emits interim hypotheses. Providers without interim results
	// return a channel that is closed when the session ends.
	Partials() <-chan types.TranscriptEvent

	// Finals emits each recognised segment once. The channel is closed when
	// the session ends, including when the vendor connection fails.
	Finals() <-chan types.TranscriptEvent

	// Connected reports whether the session is still able to deliver
	// transcripts. It turns false after Close or a transport error.
	Connected() bool

	// Close terminates the session and releases its resources. Calling Close
	// more than once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any transcription backend.
type Provider interface {
	// StartStream opens a new session. Failing to reach the vendor is
	// reported here, not on first use.
	StartStream(ctx context.Context, cfg StreamConfig) (SessionHandle, error)
}
