package resilience

import (
	"context"

	"github.com/aria-ai/aria/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] over a primary synthesiser and its
// backups.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{group: NewFallbackGroup(primary, primaryName, cfg)}
}

// AddFallback registers a backup synthesiser.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize returns the audio of the first synthesiser that succeeds.
func (f *TTSFallback) Synthesize(ctx context.Context, text string) ([]byte, error) {
	return ExecuteWithResult(ctx, f.group, func(p tts.Provider) ([]byte, error) {
		return p.Synthesize(ctx, text)
	})
}

// SynthesizeStream streams from the first synthesiser that succeeds. Once a
// chunk has been delivered, a later failure is returned as is and no backup
// is tried, so the start of a reply is never played twice.
func (f *TTSFallback) SynthesizeStream(ctx context.Context, text string, onChunk func([]byte) error) error {
	return f.group.attempt(ctx, func(p tts.Provider) (bool, error) {
		delivered := false
		err := p.SynthesizeStream(ctx, text, func(chunk []byte) error {
			delivered = true
			return onChunk(chunk)
		})
		return delivered, err
	})
}
