package config

import "fmt"

// ConfigDiff describes what changed between two configs and whether the
// change can be applied to a running server.
type ConfigDiff struct {
	// LogLevelChanged is true when server.log_level changed. Applied
	// immediately to the running logger.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionTuningChanged is true when session.* changed. Applies to
	// sessions started after the reload; running sessions keep their values.
	SessionTuningChanged bool
	NewSession           SessionConfig

	// RestartRequired is true when providers, memory backend, or the listen
	// address changed — none of these can be swapped under live sessions.
	RestartRequired bool
	RestartReasons  []string
}

// Diff compares old and new configs and classifies every change as
// hot-applicable or restart-requiring.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Session != new.Session {
		d.SessionTuningChanged = true
		d.NewSession = new.Session
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.require("server.listen_addr changed")
	}
	if !providerEntryEqual(old.Providers.STT, new.Providers.STT) {
		d.require("providers.stt changed")
	}
	if !providerEntryEqual(old.Providers.Embeddings, new.Providers.Embeddings) {
		d.require("providers.embeddings changed")
	}
	if !providerEntryEqual(old.Providers.LLM, new.Providers.LLM) {
		d.require("providers.llm changed")
	}
	if old.Memory.Backend != new.Memory.Backend ||
		old.Memory.PostgresDSN != new.Memory.PostgresDSN ||
		old.Memory.EmbeddingDimensions != new.Memory.EmbeddingDimensions {
		d.require("memory backend changed")
	}

	return d
}

func (d *ConfigDiff) require(reason string) {
	d.RestartRequired = true
	d.RestartReasons = append(d.RestartReasons, reason)
}

// providerEntryEqual compares entries field by field. Options maps are
// compared shallowly by string form of their keys and values.
func providerEntryEqual(a, b ProviderEntry) bool {
	if a.Name != b.Name || a.APIKey != b.APIKey || a.BaseURL != b.BaseURL || a.Model != b.Model {
		return false
	}
	if len(a.Options) != len(b.Options) {
		return false
	}
	for k, v := range a.Options {
		bv, ok := b.Options[k]
		if !ok || fmt.Sprint(v) != fmt.Sprint(bv) {
			return false
		}
	}
	return true
}
