package audio_test

import (
	"encoding/binary"
	"testing"

	"github.com/aria-ai/aria/pkg/audio"
)

func TestEncodeWAV_HeaderLayout(t *testing.T) {
	t.Parallel()
	pcm := audio.Int16sToBytes([]int16{1, -1, 2, -2})
	wav := audio.EncodeWAV(pcm, 16000, 1)

	if len(wav) != audio.WAVHeaderSize+len(pcm) {
		t.Fatalf("len = %d, want %d", len(wav), audio.WAVHeaderSize+len(pcm))
	}

	checks := []struct {
		name string
		got  uint32
		want uint32
	}{
		{"riff size", binary.LittleEndian.Uint32(wav[4:8]), uint32(36 + len(pcm))},
		{"fmt size", binary.LittleEndian.Uint32(wav[16:20]), 16},
		{"format tag", uint32(binary.LittleEndian.Uint16(wav[20:22])), 1},
		{"channels", uint32(binary.LittleEndian.Uint16(wav[22:24])), 1},
		{"sample rate", binary.LittleEndian.Uint32(wav[24:28]), 16000},
		{"byte rate", binary.LittleEndian.Uint32(wav[28:32]), 32000},
		{"block align", uint32(binary.LittleEndian.Uint16(wav[32:34])), 2},
		{"bits per sample", uint32(binary.LittleEndian.Uint16(wav[34:36])), 16},
		{"data size", binary.LittleEndian.Uint32(wav[40:44]), uint32(len(pcm))},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
	for _, tag := range []struct {
		off  int
		want string
	}{{0, "RIFF"}, {8, "WAVE"}, {12, "fmt "}, {36, "data"}} {
		if got := string(wav[tag.off : tag.off+4]); got != tag.want {
			t.Errorf("tag at %d = %q, want %q", tag.off, got, tag.want)
		}
	}
}

func TestWAV_RoundTrip(t *testing.T) {
	t.Parallel()
	const frameLength = 320 // 20 ms at 16 kHz
	for _, n := range []int{1, 5, 75} {
		var pcm []byte
		for i := range n {
			frame := make([]int16, frameLength)
			for j := range frame {
				frame[j] = int16(i*frameLength + j)
			}
			pcm = append(pcm, audio.Int16sToBytes(frame)...)
		}

		h, err := audio.ParseWAVHeader(audio.EncodeWAV(pcm, audio.InputSampleRate, 1))
		if err != nil {
			t.Fatalf("N=%d: ParseWAVHeader: %v", n, err)
		}
		if h.SampleRate != 16000 || h.Channels != 1 || h.BitsPerSample != 16 || h.AudioFormat != 1 {
			t.Errorf("N=%d: unexpected header %+v", n, h)
		}
		if want := 2 * n * frameLength; h.DataLength != want {
			t.Errorf("N=%d: DataLength = %d, want %d", n, h.DataLength, want)
		}
		if h.DataOffset != audio.WAVHeaderSize {
			t.Errorf("N=%d: DataOffset = %d, want 44", n, h.DataOffset)
		}
	}
}

func TestParseWAVHeader_SkipsExtraChunks(t *testing.T) {
	t.Parallel()
	base := audio.EncodeWAV(audio.Int16sToBytes([]int16{7, 8}), 22050, 1)

	// Insert an odd-sized LIST chunk between fmt and data.
	list := []byte{'L', 'I', 'S', 'T', 3, 0, 0, 0, 'a', 'b', 'c', 0}
	wav := append(append(append([]byte{}, base[:36]...), list...), base[36:]...)

	pcm, h, err := audio.DecodeWAV(wav)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if h.SampleRate != 22050 {
		t.Errorf("SampleRate = %d, want 22050", h.SampleRate)
	}
	equalSamples(t, audio.BytesToInt16s(pcm), []int16{7, 8})
}

func TestParseWAVHeader_Errors(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		data []byte
	}{
		{name: "too short", data: []byte("RIFF")},
		{name: "not riff", data: append([]byte("RIFX\x00\x00\x00\x00WAVE"), make([]byte, 32)...)},
		{name: "no data chunk", data: audio.EncodeWAV(nil, 16000, 1)[:36]},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := audio.ParseWAVHeader(tc.data); err == nil {
				t.Error("expected error")
			}
		})
	}
}
