package config_test

import (
	"testing"
	"time"

	"github.com/MrWong99/confab/internal/config"
)

func baseConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{ListenAddr: ":8080", LogLevel: config.LogInfo},
		Providers: config.ProvidersConfig{
			STT:        config.ProviderEntry{Name: "deepgram", Model: "nova-2"},
			Embeddings: config.ProviderEntry{Name: "openai"},
			LLM:        config.ProviderEntry{Name: "gemini"},
		},
		Session: config.SessionConfig{SummaryInterval: 5 * time.Second, RetrievalK: 5},
		Memory:  config.MemoryConfig{Backend: config.IndexMemory},
	}
}

func TestDiff_NoChanges(t *testing.T) {
	t.Parallel()
	d := config.Diff(baseConfig(), baseConfig())
	if d.LogLevelChanged || d.SessionTuningChanged || d.RestartRequired {
		t.Errorf("expected empty diff, got %+v", d)
	}
}

func TestDiff_LogLevelHotApplied(t *testing.T) {
	t.Parallel()
	newCfg := baseConfig()
	newCfg.Server.LogLevel = config.LogDebug

	d := config.Diff(baseConfig(), newCfg)
	if !d.LogLevelChanged || d.NewLogLevel != config.LogDebug {
		t.Errorf("diff = %+v", d)
	}
	if d.RestartRequired {
		t.Error("log level change must not require restart")
	}
}

func TestDiff_SessionTuning(t *testing.T) {
	t.Parallel()
	newCfg := baseConfig()
	newCfg.Session.RetrievalK = 8

	d := config.Diff(baseConfig(), newCfg)
	if !d.SessionTuningChanged || d.NewSession.RetrievalK != 8 {
		t.Errorf("diff = %+v", d)
	}
	if d.RestartRequired {
		t.Error("session tuning change must not require restart")
	}
}

func TestDiff_ProviderChangeRequiresRestart(t *testing.T) {
	t.Parallel()
	newCfg := baseConfig()
	newCfg.Providers.LLM.Model = "gemini-2.0-flash"

	d := config.Diff(baseConfig(), newCfg)
	if !d.RestartRequired {
		t.Fatal("provider model change must require restart")
	}
	if len(d.RestartReasons) != 1 || d.RestartReasons[0] != "providers.llm changed" {
		t.Errorf("RestartReasons = %v", d.RestartReasons)
	}
}

func TestDiff_ListenAddrAndMemoryRequireRestart(t *testing.T) {
	t.Parallel()
	newCfg := baseConfig()
	newCfg.Server.ListenAddr = ":9090"
	newCfg.Memory.Backend = config.IndexPostgres
	newCfg.Memory.PostgresDSN = "postgres://localhost/confab"

	d := config.Diff(baseConfig(), newCfg)
	if !d.RestartRequired {
		t.Fatal("expected restart required")
	}
	if len(d.RestartReasons) != 2 {
		t.Errorf("RestartReasons = %v, want 2 entries", d.RestartReasons)
	}
}

func TestDiff_ProviderOptions(t *testing.T) {
	t.Parallel()
	oldCfg := baseConfig()
	oldCfg.Providers.STT.Options = map[string]any{"punctuate": true}
	newCfg := baseConfig()
	newCfg.Providers.STT.Options = map[string]any{"punctuate": false}

	d := config.Diff(oldCfg, newCfg)
	if !d.RestartRequired {
		t.Error("provider options change must require restart")
	}
}
