// Package tts defines the Provider interface for speech synthesis backends.
//
// Every provider returns 16-bit signed little-endian mono PCM at
// [audio.OutputSampleRate] (24 kHz), regardless of what the vendor produces
// natively. Synthesize returns the whole utterance at once; SynthesizeStream
// hands it over in chunks as they arrive so playback can start early.
//
// Implementations must be safe for concurrent use.
package tts

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/aria-ai/aria/pkg/audio"
)

// SampleRate is the PCM sample rate every provider produces.
const SampleRate = audio.OutputSampleRate

// ChunkSize is the default size of chunks delivered by SynthesizeStream
// (about 85 ms at 24 kHz mono).
const ChunkSize = 4096

// Provider is the abstraction over any speech synthesis backend.
type Provider interface {
	// Synthesize converts text to PCM16 mono at SampleRate. A non-success
	// vendor response is reported as a *ProviderError.
	Synthesize(ctx context.Context, text string) ([]byte, error)

	// SynthesizeStream converts text to PCM and calls onChunk for each piece
	// in order. It stops at the first error returned by onChunk and returns it.
	SynthesizeStream(ctx context.Context, text string, onChunk func([]byte) error) error
}

// ProviderError describes a non-success response from a vendor.
type ProviderError struct {
	// Provider names the backend, e.g. "elevenlabs".
	Provider string
	// StatusCode is the HTTP status of the failed response.
	StatusCode int
	// Body is the (truncated) response body.
	Body string
}

// Error implements error.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("tts: %s: HTTP %d: %s", e.Provider, e.StatusCode, e.Body)
}

// maxErrorBody caps how much of an error response is kept.
const maxErrorBody = 2048

// CheckResponse returns a *ProviderError if resp is not a 2xx response. The
// body is consumed in that case; the caller still closes it.
func CheckResponse(provider string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &ProviderError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(body)),
	}
}

// EmitChunks splits pcm into ChunkSize pieces and passes them to onChunk.
// Chunk boundaries always fall on a sample boundary.
func EmitChunks(ctx context.Context, pcm []byte, onChunk func([]byte) error) error {
	for len(pcm) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}
		end := min(ChunkSize, len(pcm))
		if err := onChunk(pcm[:end]); err != nil {
			return err
		}
		pcm = pcm[end:]
	}
	return nil
}

// StreamBody reads PCM from r and passes it to onChunk in ChunkSize pieces,
// carrying an odd trailing byte over to the next read so that no sample is
// split across chunks.
func StreamBody(ctx context.Context, r io.Reader, onChunk func([]byte) error) error {
	buf := make([]byte, ChunkSize)
	var carry []byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			data := append(carry, buf[:n]...)
			even := len(data) &^ 1
			if even > 0 {
				if cbErr := onChunk(append([]byte(nil), data[:even]...)); cbErr != nil {
					return cbErr
				}
			}
			carry = append([]byte(nil), data[even:]...)
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
