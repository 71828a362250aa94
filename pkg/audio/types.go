package audio

import "time"

// Sample rates used by the voice pipeline.
const (
	// InputSampleRate is the rate of frames forwarded to transcription.
	InputSampleRate = 16000

	// OutputSampleRate is the rate of synthesised speech (PCM16 mono).
	OutputSampleRate = 24000
)

// AudioFrame is a fixed-duration chunk of linear PCM audio. It is owned by
// whichever pipeline stage currently processes it and is not retained past
// that step, except inside a transcription session's rolling buffer.
type AudioFrame struct {
	// Data holds little-endian int16 PCM samples, interleaved when Channels > 1.
	Data []byte

	// SampleRate in Hz (16000 for transcription input, 48000 for Opus).
	SampleRate int

	// Channels: 1 for mono, 2 for stereo.
	Channels int

	// Timestamp marks when this frame was captured, relative to stream start.
	Timestamp time.Duration
}

// Duration returns the playback length of the frame. It returns zero for
// frames with an unset format.
func (f AudioFrame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	samples := len(f.Data) / (2 * f.Channels)
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}
