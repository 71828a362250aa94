package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// VoiceChanged is true when any voice tuning value changed. Thresholds
	// apply to running calls; the rest applies to calls started afterwards.
	VoiceChanged      bool
	ThresholdsChanged bool

	// RestartRequired lists the sections whose changes only take effect
	// after a restart.
	RestartRequired []string
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Voice != new.Voice {
		d.VoiceChanged = true
	}
	if old.Voice.ActivityThreshold != new.Voice.ActivityThreshold ||
		old.Voice.InterruptThreshold != new.Voice.InterruptThreshold {
		d.ThresholdsChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr || old.Server.Mode != new.Server.Mode {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if !providersEqual(old.Providers, new.Providers) {
		d.RestartRequired = append(d.RestartRequired, "providers")
	}
	if old.Database != new.Database {
		d.RestartRequired = append(d.RestartRequired, "database")
	}
	if !stringsEqual(old.Transport.STUNServers, new.Transport.STUNServers) {
		d.RestartRequired = append(d.RestartRequired, "transport")
	}
	return d
}

func providersEqual(a, b ProvidersConfig) bool {
	return entryEqual(a.STT, b.STT) && entryEqual(a.LLM, b.LLM) && entryEqual(a.TTS, b.TTS)
}

// entryEqual compares the identifying fields of two entries. Options are
// not compared.
func entryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL ||
		a.Model != b.Model || a.Voice != b.Voice || len(a.Fallbacks) != len(b.Fallbacks) {
		return false
	}
	for i := range a.Fallbacks {
		if !entryEqual(a.Fallbacks[i], b.Fallbacks[i]) {
			return false
		}
	}
	return true
}

func stringsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
