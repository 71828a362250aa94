package config_test

import (
	"slices"
	"testing"

	"github.com/aria-ai/aria/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			LLM: config.ProviderEntry{Name: "openai", Model: "gpt-4o-mini"},
			TTS: config.ProviderEntry{Name: "elevenlabs", Voice: "rachel"},
		},
		Voice:     config.VoiceConfig{ActivityThreshold: 0.002, InterruptThreshold: 0.01},
		Transport: config.TransportConfig{STUNServers: []string{"stun:a"}},
	}
}

func TestDiff(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name           string
		mutate         func(c *config.Config)
		wantLogLevel   bool
		wantVoice      bool
		wantThresholds bool
		wantRestart    []string
	}{
		{name: "identical", mutate: func(*config.Config) {}},
		{name: "log level", mutate: func(c *config.Config) { c.Server.LogLevel = config.LogDebug }, wantLogLevel: true},
		{
			name:           "interrupt threshold",
			mutate:         func(c *config.Config) { c.Voice.InterruptThreshold = 0.05 },
			wantVoice:      true,
			wantThresholds: true,
		},
		{name: "language only", mutate: func(c *config.Config) { c.Voice.Language = "de" }, wantVoice: true},
		{name: "llm model", mutate: func(c *config.Config) { c.Providers.LLM.Model = "gpt-4o" }, wantRestart: []string{"providers"}},
		{
			name: "fallback added",
			mutate: func(c *config.Config) {
				c.Providers.TTS.Fallbacks = []config.ProviderEntry{{Name: "openai"}}
			},
			wantRestart: []string{"providers"},
		},
		{
			name: "listen addr and dsn",
			mutate: func(c *config.Config) {
				c.Server.ListenAddr = ":9090"
				c.Database.DSN = "postgres://x"
			},
			wantRestart: []string{"server", "database"},
		},
		{name: "stun servers", mutate: func(c *config.Config) { c.Transport.STUNServers = nil }, wantRestart: []string{"transport"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			next := baseConfig()
			tt.mutate(next)
			d := config.Diff(baseConfig(), next)

			if d.LogLevelChanged != tt.wantLogLevel {
				t.Errorf("LogLevelChanged = %v, want %v", d.LogLevelChanged, tt.wantLogLevel)
			}
			if d.VoiceChanged != tt.wantVoice {
				t.Errorf("VoiceChanged = %v, want %v", d.VoiceChanged, tt.wantVoice)
			}
			if d.ThresholdsChanged != tt.wantThresholds {
				t.Errorf("ThresholdsChanged = %v, want %v", d.ThresholdsChanged, tt.wantThresholds)
			}
			if !slices.Equal(d.RestartRequired, tt.wantRestart) {
				t.Errorf("RestartRequired = %v, want %v", d.RestartRequired, tt.wantRestart)
			}
		})
	}
}
