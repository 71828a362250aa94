package voice

import (
	"time"

	"github.com/aria-ai/aria/pkg/audio"
)

// Gate defaults on the normalised [-1,1] RMS scale.
const (
	DefaultActivityThreshold  = 0.002
	DefaultInterruptThreshold = 0.01
	DefaultSpeakingMargin     = 500 * time.Millisecond
)

// Thresholds tune the voice activity gate. They can be changed on a running
// orchestrator with [Orchestrator.SetThresholds].
type Thresholds struct {
	// Activity is the RMS below which a frame is not forwarded.
	Activity float64

	// Interrupt is the RMS above which a frame cancels playback.
	Interrupt float64
}

// DefaultThresholds returns the standard gate thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{Activity: DefaultActivityThreshold, Interrupt: DefaultInterruptThreshold}
}

// withDefaults fills zero fields from [DefaultThresholds].
func (t Thresholds) withDefaults() Thresholds {
	if t.Activity <= 0 {
		t.Activity = DefaultActivityThreshold
	}
	if t.Interrupt <= 0 {
		t.Interrupt = DefaultInterruptThreshold
	}
	return t
}

// GateDecision is the outcome of classifying one frame.
type GateDecision struct {
	RMS       float64
	Forward   bool
	Interrupt bool
}

// Classify applies the thresholds to a frame RMS. Interrupt is only set when
// the agent is speaking.
func (t Thresholds) Classify(rms float64, speaking bool) GateDecision {
	return GateDecision{
		RMS:       rms,
		Forward:   rms >= t.Activity,
		Interrupt: speaking && rms > t.Interrupt,
	}
}

// SpeakingDuration estimates how long pcm16 mono audio of n bytes at
// [audio.OutputSampleRate] plays, plus margin.
func SpeakingDuration(n int, margin time.Duration) time.Duration {
	samples := time.Duration(n / 2)
	return samples*time.Second/audio.OutputSampleRate + margin
}
