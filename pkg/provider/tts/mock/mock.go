// Package mock provides a test double for the tts.Provider interface.
//
// Example:
//
//	p := &mock.Provider{Audio: make([]byte, 48000)}
//	pcm, _ := p.Synthesize(ctx, "hello")
//	texts := p.Texts()
package mock

import (
	"context"
	"sync"

	"github.com/aria-ai/aria/pkg/provider/tts"
)

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// Audio is returned (as a copy) by Synthesize and streamed by
	// SynthesizeStream.
	Audio []byte

	// Err, if non-nil, is returned by both methods instead of audio.
	Err error

	texts []string
}

// Synthesize records text and returns a copy of Audio, or Err.
func (p *Provider) Synthesize(_ context.Context, text string) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, text)
	if p.Err != nil {
		return nil, p.Err
	}
	return append([]byte{}, p.Audio...), nil
}

// SynthesizeStream records text and streams Audio in tts.ChunkSize pieces.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, onChunk func([]byte) error) error {
	pcm, err := p.Synthesize(ctx, text)
	if err != nil {
		return err
	}
	return tts.EmitChunks(ctx, pcm, onChunk)
}

// Texts returns every text passed to the provider, in order. Thread-safe.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

// CallCount returns the number of synthesis calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.texts)
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
