package webrtc

import (
	"fmt"

	"layeh.com/gopus"

	"github.com/aria-ai/aria/pkg/audio"
)

// Peers exchange 48 kHz mono Opus in 20 ms frames.
const (
	opusSampleRate = 48000
	opusChannels   = 1
	opusFrameMs    = 20
	// opusFrameSize is the number of samples per 20 ms frame.
	opusFrameSize = opusSampleRate * opusFrameMs / 1000 // 960
	// maxPacketSize bounds a single encoded packet.
	maxPacketSize = 4000
)

// codec converts between Opus packets and 48 kHz mono PCM16 bytes. A codec
// carries stream state and must not be shared between streams.
type codec interface {
	decode(pkt []byte) ([]byte, error)
	encode(pcm []byte) ([]byte, error)
}

type opusCodec struct {
	dec *gopus.Decoder
	enc *gopus.Encoder
}

func newOpusCodec() (codec, error) {
	dec, err := gopus.NewDecoder(opusSampleRate, opusChannels)
	if err != nil {
		return nil, fmt.Errorf("webrtc: create opus decoder: %w", err)
	}
	enc, err := gopus.NewEncoder(opusSampleRate, opusChannels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("webrtc: create opus encoder: %w", err)
	}
	return &opusCodec{dec: dec, enc: enc}, nil
}

func (c *opusCodec) decode(pkt []byte) ([]byte, error) {
	pcm, err := c.dec.Decode(pkt, opusFrameSize, false)
	if err != nil {
		return nil, fmt.Errorf("webrtc: opus decode: %w", err)
	}
	return audio.Int16sToBytes(pcm), nil
}

// encode encodes exactly one frame; shorter input is zero-padded.
func (c *opusCodec) encode(pcm []byte) ([]byte, error) {
	samples := audio.BytesToInt16s(pcm)
	if len(samples) < opusFrameSize {
		padded := make([]int16, opusFrameSize)
		copy(padded, samples)
		samples = padded
	}
	pkt, err := c.enc.Encode(samples[:opusFrameSize], opusFrameSize, maxPacketSize)
	if err != nil {
		return nil, fmt.Errorf("webrtc: opus encode: %w", err)
	}
	return pkt, nil
}

// framePCM converts an agent frame to 48 kHz mono and splits it into
// encoder-sized chunks.
func framePCM(f audio.AudioFrame) [][]byte {
	pcm := f.Data
	if f.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	pcm = audio.ResampleMono16(pcm, f.SampleRate, opusSampleRate)

	const chunk = opusFrameSize * 2
	var out [][]byte
	for off := 0; off < len(pcm); off += chunk {
		out = append(out, pcm[off:min(off+chunk, len(pcm))])
	}
	return out
}
