package audio_test

import (
	"math"
	"testing"

	"github.com/aria-ai/aria/pkg/audio"
)

func TestFloat32ToPCM16(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		in   float32
		want int16
	}{
		{name: "zero", in: 0, want: 0},
		{name: "positive full scale", in: 1, want: 32767},
		{name: "negative full scale", in: -1, want: -32768},
		{name: "clips above", in: 1.7, want: 32767},
		{name: "clips below", in: -3, want: -32768},
		{name: "half positive", in: 0.5, want: 16383},
		{name: "half negative", in: -0.5, want: -16384},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := audio.BytesToInt16s(audio.Float32ToPCM16([]float32{tc.in}))
			if got[0] != tc.want {
				t.Errorf("Float32ToPCM16(%v) = %d, want %d", tc.in, got[0], tc.want)
			}
		})
	}
}

func TestPCM16ToFloat32(t *testing.T) {
	t.Parallel()
	got := audio.PCM16ToFloat32(audio.Int16sToBytes([]int16{-32768, 0, 16384}))
	want := []float32{-1, 0, 0.5}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
	if n := len(audio.PCM16ToFloat32([]byte{1, 2, 3})); n != 1 {
		t.Errorf("odd trailing byte: got %d samples, want 1", n)
	}
}

func TestDownmixFloat32(t *testing.T) {
	t.Parallel()
	got := audio.DownmixFloat32([]float32{0.2, 0.4, -1, 1}, 2)
	want := []float32{0.3, 0}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-6 {
			t.Errorf("frame %d: got %v, want %v", i, got[i], want[i])
		}
	}
	mono := []float32{0.1}
	if out := audio.DownmixFloat32(mono, 1); &out[0] != &mono[0] {
		t.Error("mono input should be returned unchanged")
	}
}

func TestRMS(t *testing.T) {
	t.Parallel()

	t.Run("constant signal", func(t *testing.T) {
		samples := make([]float32, 320)
		for i := range samples {
			samples[i] = 0.05
		}
		if got := audio.RMSFloat32(samples); math.Abs(got-0.05) > 1e-6 {
			t.Errorf("RMSFloat32 = %v, want 0.05", got)
		}
		if got := audio.RMS(audio.Float32ToPCM16(samples)); math.Abs(got-0.05) > 1e-3 {
			t.Errorf("RMS = %v, want ~0.05", got)
		}
	})

	t.Run("empty", func(t *testing.T) {
		if got := audio.RMS(nil); got != 0 {
			t.Errorf("RMS(nil) = %v, want 0", got)
		}
		if got := audio.RMSFloat32(nil); got != 0 {
			t.Errorf("RMSFloat32(nil) = %v, want 0", got)
		}
	})
}
