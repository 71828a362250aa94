package audio

import "context"

// Sink is the playback capability handed to the voice orchestrator. It hides
// whether speech goes to a local device or back into a call room so the
// turn-taking logic can be tested without audio hardware.
//
// Implementations must be safe for concurrent use.
type Sink interface {
	// Play starts playback of PCM16 mono audio at sampleRate. It returns once
	// playback has been handed off; it does not wait for the audio to finish.
	// Ownership of pcm passes to the sink.
	Play(ctx context.Context, pcm []byte, sampleRate int) error

	// Cancel stops in-flight playback immediately. Cancel with nothing playing
	// is a no-op.
	Cancel()
}

// CaptureSource delivers microphone audio for recognisers that own their
// capture instead of receiving frames through SendAudio.
type CaptureSource interface {
	// Capture starts delivering mono float32 samples at sampleRate until ctx
	// is cancelled, at which point the returned channel is closed.
	Capture(ctx context.Context, sampleRate int) (<-chan []float32, error)
}
