package device

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"sync/atomic"

	"github.com/gen2brain/malgo"

	"github.com/aria-ai/aria/pkg/audio"
)

var _ audio.CaptureSource = (*Microphone)(nil)

// captureBuffer is how many callback periods may queue before samples are
// dropped.
const captureBuffer = 64

// Microphone captures mono float32 audio from the default input device.
type Microphone struct {
	periodMs uint32
}

// NewMicrophone returns a Microphone delivering 20 ms periods.
func NewMicrophone() *Microphone {
	return &Microphone{periodMs: 20}
}

// Capture opens the input device at sampleRate and streams samples until
// ctx is cancelled. The device is released when the returned channel closes.
func (m *Microphone) Capture(ctx context.Context, sampleRate int) (<-chan []float32, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("device: init audio context: %w", err)
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatF32
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(sampleRate)
	cfg.PeriodSizeInMilliseconds = m.periodMs

	out := make(chan []float32, captureBuffer)
	var dropped atomic.Int64
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, frames uint32) {
			samples := decodeF32(input, int(frames))
			select {
			case out <- samples:
			default:
				dropped.Add(1)
			}
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, cfg, callbacks)
	if err != nil {
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("device: open microphone: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		return nil, fmt.Errorf("device: start microphone: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = dev.Stop()
		dev.Uninit()
		_ = mctx.Uninit()
		mctx.Free()
		if n := dropped.Load(); n > 0 {
			slog.Warn("device: microphone periods dropped", "count", n)
		}
		close(out)
	}()
	return out, nil
}

// decodeF32 reads n little-endian float32 samples from b.
func decodeF32(b []byte, n int) []float32 {
	n = min(n, len(b)/4)
	out := make([]float32, n)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return out
}
