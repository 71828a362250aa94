package audio

import (
	"fmt"
	"log/slog"
	"sync"
)

// Format is the sample rate and channel count of a PCM stream.
type Format struct {
	SampleRate int
	Channels   int
}

// TranscriptionFormat is what every transcription session is fed.
var TranscriptionFormat = Format{SampleRate: InputSampleRate, Channels: 1}

// String renders f as e.g. "48000Hz stereo".
func (f Format) String() string {
	switch f.Channels {
	case 1:
		return fmt.Sprintf("%dHz mono", f.SampleRate)
	case 2:
		return fmt.Sprintf("%dHz stereo", f.SampleRate)
	default:
		return fmt.Sprintf("%dHz %dch", f.SampleRate, f.Channels)
	}
}

// FormatConverter brings the frames of one stream to Target. It is not safe
// for concurrent use; create one per stream.
type FormatConverter struct {
	Target Format

	once    sync.Once
	badOnce sync.Once
}

// Convert returns frame in the target format. Matching frames pass through
// untouched. A frame with an odd byte count cannot be 16-bit PCM and comes
// back empty.
func (c *FormatConverter) Convert(frame AudioFrame) AudioFrame {
	src := Format{SampleRate: frame.SampleRate, Channels: frame.Channels}
	out := AudioFrame{SampleRate: c.Target.SampleRate, Channels: c.Target.Channels, Timestamp: frame.Timestamp}

	if len(frame.Data)%2 != 0 {
		c.badOnce.Do(func() {
			slog.Warn("audio: misaligned PCM frame dropped", "bytes", len(frame.Data), "format", src)
		})
		return out
	}
	if src == c.Target {
		return frame
	}
	c.once.Do(func() {
		slog.Debug("audio: converting stream format", "from", src, "to", c.Target)
	})

	// Downmix first so only one channel is resampled.
	pcm := frame.Data
	if src.Channels == 2 {
		pcm = StereoToMono(pcm)
	}
	pcm = ResampleMono16(pcm, src.SampleRate, c.Target.SampleRate)
	if c.Target.Channels == 2 {
		pcm = MonoToStereo(pcm)
	}
	out.Data = pcm
	return out
}

// MonoToStereo writes every 16-bit sample to both channels.
func MonoToStereo(pcm []byte) []byte {
	mono := BytesToInt16s(pcm)
	stereo := make([]int16, 0, 2*len(mono))
	for _, s := range mono {
		stereo = append(stereo, s, s)
	}
	return Int16sToBytes(stereo)
}

// StereoToMono replaces every interleaved left/right pair with its mean.
func StereoToMono(pcm []byte) []byte {
	stereo := BytesToInt16s(pcm)
	mono := make([]int16, len(stereo)/2)
	for i := range mono {
		mono[i] = int16((int32(stereo[2*i]) + int32(stereo[2*i+1])) / 2)
	}
	return Int16sToBytes(mono)
}

// ResampleMono16 linearly interpolates 16-bit mono PCM from srcRate to
// dstRate. Equal or non-positive rates return pcm as is.
func ResampleMono16(pcm []byte, srcRate, dstRate int) []byte {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(pcm) < 2 {
		return pcm
	}
	in := BytesToInt16s(pcm)
	n := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if n == 0 {
		return nil
	}
	step := float64(srcRate) / float64(dstRate)
	last := len(in) - 1
	out := make([]int16, n)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		next := min(j+1, last)
		w := pos - float64(j)
		out[i] = int16(float64(in[j])*(1-w) + float64(in[next])*w)
	}
	return Int16sToBytes(out)
}
