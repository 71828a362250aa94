package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"stt": {"local", "deepgram", "assemblyai", "whisper", "openai"},
	"llm": {"openai", "gemini", "anthropic", "ollama", "llamacpp", "mistral", "groq", "deepseek"},
	"tts": {"elevenlabs", "openai", "deepgram", "coqui", "local"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// ${VAR} references are expanded from the environment before decoding.
func LoadFromReader(r io.Reader) (*Config, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("config: read: %w", err)
	}
	expanded := os.ExpandEnv(string(raw))

	cfg := &Config{}
	dec := yaml.NewDecoder(bytes.NewReader([]byte(expanded)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.Mode != "" && !cfg.Server.Mode.IsValid() {
		errs = append(errs, fmt.Errorf("server.mode %q is invalid; valid values: call, local", cfg.Server.Mode))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	validateProviderName("stt", cfg.Providers.STT)
	validateProviderName("llm", cfg.Providers.LLM)
	validateProviderName("tts", cfg.Providers.TTS)
	if cfg.Providers.LLM.Name == "" {
		errs = append(errs, errors.New("providers.llm.name is required"))
	}
	if cfg.Providers.TTS.Name == "" {
		errs = append(errs, errors.New("providers.tts.name is required"))
	}

	v := cfg.Voice
	for _, th := range []struct {
		name  string
		value float64
	}{
		{"voice.activity_threshold", v.ActivityThreshold},
		{"voice.interrupt_threshold", v.InterruptThreshold},
	} {
		if th.value < 0 || th.value > 1 {
			errs = append(errs, fmt.Errorf("%s %.4f is out of range [0, 1]", th.name, th.value))
		}
	}
	if v.ActivityThreshold > 0 && v.InterruptThreshold > 0 && v.InterruptThreshold < v.ActivityThreshold {
		slog.Warn("voice.interrupt_threshold is below voice.activity_threshold; any forwarded speech will interrupt the agent",
			"activity", v.ActivityThreshold,
			"interrupt", v.InterruptThreshold,
		)
	}
	if v.MinLength < 0 {
		errs = append(errs, fmt.Errorf("voice.min_length %d must not be negative", v.MinLength))
	}
	for _, d := range []struct {
		name  string
		value int64
	}{
		{"voice.duplicate_window", int64(v.DuplicateWindow)},
		{"voice.speaking_margin", int64(v.SpeakingMargin)},
		{"voice.chunk_interval", int64(v.ChunkInterval)},
		{"voice.turn_timeout", int64(v.TurnTimeout)},
	} {
		if d.value < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative", d.name))
		}
	}

	if cfg.Database.DSN == "" {
		slog.Warn("database.dsn is empty; agent instructions and meeting credentials will not be available")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if the entry or any of its fallbacks
// names a provider not found in [ValidProviderNames] for kind.
func validateProviderName(kind string, entry ProviderEntry) {
	known := ValidProviderNames[kind]
	if entry.Name != "" && !slices.Contains(known, entry.Name) {
		slog.Warn("unknown provider name, may be a typo or third-party provider",
			"kind", kind,
			"name", entry.Name,
			"known", known,
		)
	}
	for _, fb := range entry.Fallbacks {
		validateProviderName(kind, fb)
	}
}
