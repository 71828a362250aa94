package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/aria-ai/aria/internal/config"
	"github.com/aria-ai/aria/internal/observe"
	"github.com/aria-ai/aria/internal/resilience"
	"github.com/aria-ai/aria/pkg/audio"
	"github.com/aria-ai/aria/pkg/provider/llm"
	"github.com/aria-ai/aria/pkg/provider/llm/anyllm"
	"github.com/aria-ai/aria/pkg/provider/llm/gemini"
	oaillm "github.com/aria-ai/aria/pkg/provider/llm/openai"
	"github.com/aria-ai/aria/pkg/provider/stt"
	"github.com/aria-ai/aria/pkg/provider/stt/assemblyai"
	"github.com/aria-ai/aria/pkg/provider/stt/batch"
	dgstt "github.com/aria-ai/aria/pkg/provider/stt/deepgram"
	localstt "github.com/aria-ai/aria/pkg/provider/stt/local"
	"github.com/aria-ai/aria/pkg/provider/tts"
	"github.com/aria-ai/aria/pkg/provider/tts/coqui"
	dgtts "github.com/aria-ai/aria/pkg/provider/tts/deepgram"
	"github.com/aria-ai/aria/pkg/provider/tts/elevenlabs"
	localtts "github.com/aria-ai/aria/pkg/provider/tts/local"
	oaitts "github.com/aria-ai/aria/pkg/provider/tts/openai"
)

// Providers holds the vendor backends of the three pipeline stages. Each one
// may be a [resilience] fallback wrapper over several vendors.
type Providers struct {
	STT stt.Provider
	LLM llm.Provider
	TTS tts.Provider

	// Names label metrics and logs, e.g. "deepgram".
	STTName string
	LLMName string
	TTSName string
}

// BuiltinDeps are the host resources some built-in providers need.
type BuiltinDeps struct {
	// Capture feeds the local recogniser. Without it "local" STT cannot be
	// created.
	Capture audio.CaptureSource

	// Voice supplies the recognition language and batch flush interval.
	Voice config.VoiceConfig
}

// anyllmVendors are served through any-llm-go.
var anyllmVendors = []string{"anthropic", "ollama", "llamacpp", "mistral", "groq", "deepseek"}

// RegisterBuiltins adds a factory for every provider name in
// [config.ValidProviderNames] to reg.
func RegisterBuiltins(reg *config.Registry, deps BuiltinDeps) {
	// ── LLM ──────────────────────────────────────────────────────────────
	reg.RegisterLLM("openai", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if e.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(e.BaseURL))
		}
		return oaillm.New(e.APIKey, e.Model, opts...)
	})
	reg.RegisterLLM("gemini", func(e config.ProviderEntry) (llm.Provider, error) {
		var opts []gemini.Option
		if e.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(e.BaseURL))
		}
		return gemini.New(context.Background(), e.APIKey, e.Model, opts...)
	})
	for _, vendor := range anyllmVendors {
		reg.RegisterLLM(vendor, func(e config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if e.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(e.APIKey))
			}
			if e.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(e.BaseURL))
			}
			return anyllm.New(vendor, e.Model, opts...)
		})
	}

	// ── STT ──────────────────────────────────────────────────────────────
	language := deps.Voice.Language
	reg.RegisterSTT("local", func(e config.ProviderEntry) (stt.Provider, error) {
		if deps.Capture == nil {
			return nil, errors.New("app: local stt needs a capture device")
		}
		modelPath := e.Model
		if modelPath == "" {
			modelPath = optString(e.Options, "model_path")
		}
		rec, err := localstt.NewWhisper(modelPath)
		if err != nil {
			return nil, err
		}
		opts := []localstt.Option{}
		if language != "" {
			opts = append(opts, localstt.WithLanguage(language))
		}
		if d := deps.Voice.ChunkInterval; d > 0 {
			opts = append(opts, localstt.WithInterval(d))
		}
		return localstt.New(rec, deps.Capture, opts...)
	})
	reg.RegisterSTT("deepgram", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []dgstt.Option
		if e.Model != "" {
			opts = append(opts, dgstt.WithModel(e.Model))
		}
		if language != "" {
			opts = append(opts, dgstt.WithLanguage(language))
		}
		if e.BaseURL != "" {
			opts = append(opts, dgstt.WithEndpoint(e.BaseURL))
		}
		return dgstt.New(e.APIKey, opts...)
	})
	reg.RegisterSTT("assemblyai", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []assemblyai.Option
		if e.BaseURL != "" {
			opts = append(opts, assemblyai.WithEndpoint(e.BaseURL))
		}
		return assemblyai.New(e.APIKey, opts...)
	})
	reg.RegisterSTT("whisper", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []batch.WhisperServerOption
		if e.Model != "" {
			opts = append(opts, batch.WithWhisperModel(e.Model))
		}
		rec, err := batch.NewWhisperServer(e.BaseURL, opts...)
		if err != nil {
			return nil, err
		}
		return batch.New(rec, batchOptions(deps.Voice)...)
	})
	reg.RegisterSTT("openai", func(e config.ProviderEntry) (stt.Provider, error) {
		var opts []batch.OpenAIOption
		if e.Model != "" {
			opts = append(opts, batch.WithOpenAIModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, batch.WithOpenAIBaseURL(e.BaseURL))
		}
		rec, err := batch.NewOpenAI(e.APIKey, opts...)
		if err != nil {
			return nil, err
		}
		return batch.New(rec, batchOptions(deps.Voice)...)
	})

	// ── TTS ──────────────────────────────────────────────────────────────
	reg.RegisterTTS("elevenlabs", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []elevenlabs.Option
		if e.Model != "" {
			opts = append(opts, elevenlabs.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, elevenlabs.WithBaseURL(e.BaseURL))
		}
		return elevenlabs.New(e.APIKey, e.Voice, opts...)
	})
	reg.RegisterTTS("openai", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []oaitts.Option
		if e.Model != "" {
			opts = append(opts, oaitts.WithModel(e.Model))
		}
		if e.BaseURL != "" {
			opts = append(opts, oaitts.WithBaseURL(e.BaseURL))
		}
		return oaitts.New(e.APIKey, e.Voice, opts...)
	})
	reg.RegisterTTS("deepgram", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []dgtts.Option
		model := e.Model
		if model == "" {
			model = e.Voice
		}
		if model != "" {
			opts = append(opts, dgtts.WithModel(model))
		}
		if e.BaseURL != "" {
			opts = append(opts, dgtts.WithBaseURL(e.BaseURL))
		}
		return dgtts.New(e.APIKey, opts...)
	})
	reg.RegisterTTS("coqui", func(e config.ProviderEntry) (tts.Provider, error) {
		var opts []coqui.Option
		if lang := optString(e.Options, "language"); lang != "" {
			opts = append(opts, coqui.WithLanguage(lang))
		}
		if e.Voice != "" {
			opts = append(opts, coqui.WithSpeaker(e.Voice))
		}
		if mode := optString(e.Options, "api_mode"); mode != "" {
			opts = append(opts, coqui.WithAPIMode(coqui.APIMode(mode)))
		}
		return coqui.New(e.BaseURL, opts...)
	})
	reg.RegisterTTS("local", func(e config.ProviderEntry) (tts.Provider, error) {
		if cmd := optString(e.Options, "command"); cmd != "" {
			return localtts.New(&localtts.CommandSpeaker{Name: cmd})
		}
		speaker, err := localtts.DefaultSpeaker()
		if err != nil {
			return nil, err
		}
		return localtts.New(speaker)
	})
}

func batchOptions(v config.VoiceConfig) []batch.Option {
	var opts []batch.Option
	if v.ChunkInterval > 0 {
		opts = append(opts, batch.WithInterval(v.ChunkInterval))
	}
	if v.Language != "" {
		opts = append(opts, batch.WithLanguage(v.Language))
	}
	return opts
}

// BuildOption configures [BuildProviders].
type BuildOption func(*buildOptions)

type buildOptions struct {
	metrics *observe.Metrics
}

// WithBuildMetrics sets where circuit breaker transitions are counted.
// Defaults to [observe.DefaultMetrics].
func WithBuildMetrics(m *observe.Metrics) BuildOption {
	return func(o *buildOptions) { o.metrics = m }
}

// breakerConfig is shared by every fallback group.
func breakerConfig(m *observe.Metrics) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{
			MaxFailures:  3,
			ResetTimeout: 30 * time.Second,
			OnStateChange: func(name string, from, to resilience.State) {
				m.RecordBreakerTransition(context.Background(), name, from.String(), to.String())
			},
		},
	}
}

// BuildProviders instantiates the configured providers. A stage with
// fallbacks is wrapped so that a failing vendor hands over to the next one.
func BuildProviders(cfg config.ProvidersConfig, reg *config.Registry, opts ...BuildOption) (*Providers, error) {
	o := buildOptions{metrics: observe.DefaultMetrics()}
	for _, opt := range opts {
		opt(&o)
	}
	fbCfg := breakerConfig(o.metrics)
	ps := &Providers{}

	sttEntry := cfg.STT
	if sttEntry.Name == "" {
		sttEntry.Name = config.DefaultSTTName
	}
	sttP, err := reg.CreateSTT(sttEntry)
	if err != nil {
		return nil, fmt.Errorf("app: create stt provider %q: %w", sttEntry.Name, err)
	}
	ps.STT, ps.STTName = sttP, sttEntry.Name
	if len(sttEntry.Fallbacks) > 0 {
		fb := resilience.NewSTTFallback(sttP, sttEntry.Name, fbCfg)
		for _, e := range sttEntry.Fallbacks {
			p, err := reg.CreateSTT(e)
			if err != nil {
				return nil, fmt.Errorf("app: create stt fallback %q: %w", e.Name, err)
			}
			fb.AddFallback(e.Name, p)
		}
		ps.STT = fb
	}

	llmP, err := reg.CreateLLM(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("app: create llm provider %q: %w", cfg.LLM.Name, err)
	}
	ps.LLM, ps.LLMName = llmP, cfg.LLM.Name
	if len(cfg.LLM.Fallbacks) > 0 {
		fb := resilience.NewLLMFallback(llmP, cfg.LLM.Name, fbCfg)
		for _, e := range cfg.LLM.Fallbacks {
			p, err := reg.CreateLLM(e)
			if err != nil {
				return nil, fmt.Errorf("app: create llm fallback %q: %w", e.Name, err)
			}
			fb.AddFallback(e.Name, p)
		}
		ps.LLM = fb
	}

	ttsP, err := reg.CreateTTS(cfg.TTS)
	if err != nil {
		return nil, fmt.Errorf("app: create tts provider %q: %w", cfg.TTS.Name, err)
	}
	ps.TTS, ps.TTSName = ttsP, cfg.TTS.Name
	if len(cfg.TTS.Fallbacks) > 0 {
		fb := resilience.NewTTSFallback(ttsP, cfg.TTS.Name, fbCfg)
		for _, e := range cfg.TTS.Fallbacks {
			p, err := reg.CreateTTS(e)
			if err != nil {
				return nil, fmt.Errorf("app: create tts fallback %q: %w", e.Name, err)
			}
			fb.AddFallback(e.Name, p)
		}
		ps.TTS = fb
	}

	slog.Info("app: providers ready", "stt", ps.STTName, "llm", ps.LLMName, "tts", ps.TTSName)
	return ps, nil
}

// optString returns opts[key] when it is a string.
func optString(opts map[string]any, key string) string {
	s, _ := opts[key].(string)
	return s
}
