// Package coqui provides a tts.Provider backed by a self-hosted Coqui TTS
// server.
//
// Two server flavours are supported:
//
//   - APIModeStandard: the stock `tts-server` (GET /api/tts?text=...).
//   - APIModeXTTS: the XTTS API server (POST /tts_to_audio/ with a JSON body
//     naming a cloned or studio speaker).
//
// Both return a WAV file at the model's native rate (commonly 22050 Hz). The
// provider strips the header, downmixes to mono and resamples to 24 kHz.
//
// SynthesizeStream splits the text into sentences and synthesises them with
// a small lookahead so the first sentence can play while the rest render.
package coqui

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/aria-ai/aria/pkg/audio"
	"github.com/aria-ai/aria/pkg/provider/tts"
)

// Compile-time interface assertion.
var _ tts.Provider = (*Provider)(nil)

const (
	providerName    = "coqui"
	defaultLanguage = "en"
	defaultTimeout  = 30 * time.Second
	xttsEndpoint    = "/tts_to_audio/"
	apiTTSEndpoint  = "/api/tts"

	// sentenceLookahead is how many sentences may be rendering ahead of the
	// one currently being delivered.
	sentenceLookahead = 2
)

// APIMode selects which Coqui server API the provider talks to.
type APIMode string

const (
	// APIModeStandard targets the stock Coqui tts-server.
	APIModeStandard APIMode = "standard"
	// APIModeXTTS targets the XTTS API server; a speaker is required.
	APIModeXTTS APIMode = "xtts"
)

// Option is a functional option for configuring the Coqui Provider.
type Option func(*Provider)

// WithLanguage sets the language code sent with each request.
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// WithSpeaker selects the speaker ID (standard mode) or speaker WAV name
// (XTTS mode).
func WithSpeaker(id string) Option {
	return func(p *Provider) { p.speaker = id }
}

// WithAPIMode selects the server API. Defaults to APIModeStandard.
func WithAPIMode(mode APIMode) Option {
	return func(p *Provider) { p.apiMode = mode }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) { p.httpClient.Timeout = d }
}

// Provider implements tts.Provider against a Coqui server.
type Provider struct {
	serverURL  string
	language   string
	speaker    string
	apiMode    APIMode
	httpClient *http.Client
}

// New creates a Coqui Provider for the server at serverURL.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("coqui: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		language:   defaultLanguage,
		apiMode:    APIModeStandard,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, o := range opts {
		o(p)
	}
	if p.apiMode == APIModeXTTS && p.speaker == "" {
		return nil, errors.New("coqui: a speaker is required in XTTS mode")
	}
	return p, nil
}

// Synthesize implements tts.Provider.
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("coqui: text must not be empty")
	}
	return p.synthesize(ctx, text)
}

type sentenceResult struct {
	pcm []byte
	err error
}

// SynthesizeStream implements tts.Provider. Sentences are delivered in
// order; the first failure aborts the stream.
func (p *Provider) SynthesizeStream(ctx context.Context, text string, onChunk func([]byte) error) error {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return errors.New("coqui: text must not be empty")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	queue := make(chan chan sentenceResult, sentenceLookahead)
	go func() {
		defer close(queue)
		for _, s := range sentences {
			out := make(chan sentenceResult, 1)
			select {
			case queue <- out:
			case <-ctx.Done():
				return
			}
			go func(s string) {
				pcm, err := p.synthesize(ctx, s)
				out <- sentenceResult{pcm: pcm, err: err}
			}(s)
		}
	}()

	for out := range queue {
		var res sentenceResult
		select {
		case res = <-out:
		case <-ctx.Done():
			return ctx.Err()
		}
		if res.err != nil {
			return res.err
		}
		if err := tts.EmitChunks(ctx, res.pcm, onChunk); err != nil {
			return err
		}
	}
	return ctx.Err()
}

// synthesize renders one piece of text and converts it to 24 kHz mono PCM.
func (p *Provider) synthesize(ctx context.Context, text string) ([]byte, error) {
	var (
		req *http.Request
		err error
	)
	if p.apiMode == APIModeXTTS {
		req, err = p.xttsRequest(ctx, text)
	} else {
		req, err = p.standardRequest(ctx, text)
	}
	if err != nil {
		return nil, fmt.Errorf("coqui: create request: %w", err)
	}
	req.Header.Set("Accept", "audio/wav")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("coqui: %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	if err := tts.CheckResponse(providerName, resp); err != nil {
		return nil, err
	}

	wav, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("coqui: read WAV response: %w", err)
	}
	pcm, hdr, err := audio.DecodeWAV(wav)
	if err != nil {
		return nil, fmt.Errorf("coqui: %w", err)
	}
	if hdr.Channels == 2 {
		pcm = audio.StereoToMono(pcm)
	}
	return audio.ResampleMono16(pcm, hdr.SampleRate, tts.SampleRate), nil
}

func (p *Provider) standardRequest(ctx context.Context, text string) (*http.Request, error) {
	params := url.Values{}
	params.Set("text", text)
	if p.speaker != "" {
		params.Set("speaker_id", p.speaker)
	}
	if p.language != "" {
		params.Set("language_id", p.language)
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, p.serverURL+apiTTSEndpoint+"?"+params.Encode(), nil)
}

func (p *Provider) xttsRequest(ctx context.Context, text string) (*http.Request, error) {
	body, err := json.Marshal(struct {
		Text       string `json:"text"`
		SpeakerWav string `json:"speaker_wav"`
		Language   string `json:"language"`
	}{text, p.speaker, p.language})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+xttsEndpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// splitSentences breaks text at '.', '!' or '?' followed by whitespace or
// the end of the text. Empty pieces are dropped.
func splitSentences(text string) []string {
	var out []string
	for {
		idx := findSentenceBoundary(text)
		if idx < 0 {
			break
		}
		if s := strings.TrimSpace(text[:idx+1]); s != "" {
			out = append(out, s)
		}
		text = text[idx+1:]
	}
	if s := strings.TrimSpace(text); s != "" {
		out = append(out, s)
	}
	return out
}

// findSentenceBoundary returns the index of the first sentence-ending
// punctuation mark in s, or -1.
func findSentenceBoundary(s string) int {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' || c == '!' || c == '?' {
			if i+1 >= len(s) || unicode.IsSpace(rune(s[i+1])) {
				return i
			}
		}
	}
	return -1
}
