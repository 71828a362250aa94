// Package local provides a tts.Provider that speaks through an on-device
// speech engine instead of returning audio.
//
// The engine plays the text itself, so Synthesize returns an empty buffer:
// there is nothing left for the playback sink to do. This mirrors the local
// transcription provider, which owns its capture device.
package local

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/aria-ai/aria/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

// Speaker speaks text aloud and returns when speech has finished or ctx is
// cancelled.
type Speaker interface {
	Speak(ctx context.Context, text string) error
}

// Provider implements tts.Provider by delegating to a Speaker.
type Provider struct {
	speaker Speaker
}

// New returns a Provider driving speaker.
func New(speaker Speaker) (*Provider, error) {
	if speaker == nil {
		return nil, errors.New("local: speaker must not be nil")
	}
	return &Provider{speaker: speaker}, nil
}

// Synthesize speaks text and returns an empty, non-nil buffer.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("local: text must not be empty")
	}
	if err := p.speaker.Speak(ctx, text); err != nil {
		return nil, fmt.Errorf("local: speak: %w", err)
	}
	return []byte{}, nil
}

// SynthesizeStream speaks text; onChunk is never called.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, _ func([]byte) error) error {
	_, err := p.Synthesize(ctx, text)
	return err
}

// CommandSpeaker speaks by running an external program with the text as its
// final argument, e.g. espeak-ng or macOS say.
type CommandSpeaker struct {
	// Name is the program to run.
	Name string
	// Args are passed before the text.
	Args []string
}

// DefaultSpeaker returns a CommandSpeaker for the first engine found on
// PATH, trying espeak-ng, espeak and say in that order.
func DefaultSpeaker() (*CommandSpeaker, error) {
	for _, name := range []string{"espeak-ng", "espeak", "say"} {
		if path, err := exec.LookPath(name); err == nil {
			return &CommandSpeaker{Name: path}, nil
		}
	}
	return nil, errors.New("local: no speech engine found on PATH (tried espeak-ng, espeak, say)")
}

// Speak implements Speaker.
func (c *CommandSpeaker) Speak(ctx context.Context, text string) error {
	args := append(append([]string(nil), c.Args...), text)
	cmd := exec.CommandContext(ctx, c.Name, args...)
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s: %w: %s", c.Name, err, strings.TrimSpace(string(out)))
	}
	return nil
}
