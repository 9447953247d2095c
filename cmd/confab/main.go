// Command confab is the main entry point for the Confab meeting AI server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/confab/internal/config"
	"github.com/MrWong99/confab/internal/insight"
	"github.com/MrWong99/confab/internal/observe"
	"github.com/MrWong99/confab/internal/resilience"
	"github.com/MrWong99/confab/internal/server"
	"github.com/MrWong99/confab/pkg/memory/postgres"
	"github.com/MrWong99/confab/pkg/provider/embeddings"
	ollamaembed "github.com/MrWong99/confab/pkg/provider/embeddings/ollama"
	oaembed "github.com/MrWong99/confab/pkg/provider/embeddings/openai"
	"github.com/MrWong99/confab/pkg/provider/llm"
	"github.com/MrWong99/confab/pkg/provider/llm/anyllm"
	oallm "github.com/MrWong99/confab/pkg/provider/llm/openai"
	"github.com/MrWong99/confab/pkg/provider/stt"
	"github.com/MrWong99/confab/pkg/provider/stt/deepgram"
)

// defaultEmbeddingDims is used for the Postgres schema when the config leaves
// memory.embedding_dimensions unset and the embedder reports nothing useful.
const defaultEmbeddingDims = 1536

func main() {
	os.Exit(run())
}

func run() int {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "confab: config file %q not found\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "confab: %v\n", err)
		}
		return 1
	}

	// The level var lets a config reload change verbosity without restart.
	levelVar := new(slog.LevelVar)
	levelVar.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: levelVar}))
	slog.SetDefault(logger)

	slog.Info("confab starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "confab"})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(shutdownCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	sttProvider, embedder, insightClient, err := buildPipeline(cfg, reg, logger)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	srvCfg := server.Config{
		ListenAddr: cfg.Server.ListenAddr,
		TLS:        cfg.Server.TLS,
		STT:        sttProvider,
		Embedder:   embedder,
		Insight:    insightClient,
		Session:    cfg.Session,
		Logger:     logger,
		Metrics:    observe.DefaultMetrics(),
	}

	if cfg.Memory.Backend == config.IndexPostgres {
		pool, err := postgres.NewPool(ctx, cfg.Memory.PostgresDSN)
		if err != nil {
			slog.Error("failed to connect to postgres", "err", err)
			return 1
		}
		defer pool.Close()

		dims := cfg.Memory.EmbeddingDimensions
		if dims <= 0 {
			dims = embedder.Dimensions()
		}
		if dims <= 0 {
			dims = defaultEmbeddingDims
		}
		if err := postgres.Migrate(ctx, pool, dims); err != nil {
			slog.Error("failed to migrate postgres schema", "err", err)
			return 1
		}
		srvCfg.Pool = pool
		slog.Info("postgres index backend ready", "dimensions", dims)
	}

	srv, err := server.New(srvCfg)
	if err != nil {
		slog.Error("failed to initialise server", "err", err)
		return 1
	}

	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		applyReload(levelVar, old, new)
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)
	slog.Info("server ready — press Ctrl+C to shut down")

	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// applyReload applies what a config change allows at runtime and reports the
// rest.
func applyReload(levelVar *slog.LevelVar, old, new *config.Config) {
	d := config.Diff(old, new)
	if d.LogLevelChanged {
		levelVar.Set(slogLevel(d.NewLogLevel))
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.SessionTuningChanged {
		// Live sessions keep the tuning they were created with.
		slog.Info("session tuning changed — applies after restart",
			"summary_interval", d.NewSession.SummaryInterval,
			"retrieval_k", d.NewSession.RetrievalK,
		)
	}
	if d.RestartRequired {
		slog.Warn("config changes require a restart to take effect", "reasons", d.RestartReasons)
	}
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// openai gets the native SDK-backed implementation; the remaining remote
	// LLM providers share the any-llm pattern of optional APIKey + BaseURL.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ollama is a local server; it uses BaseURL for the address, not an API key.
	reg.RegisterLLM("ollama", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []anyllmlib.Option
		if entry.BaseURL != "" {
			opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
		}
		return anyllm.New("ollama", entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := optString(entry.Options, "language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterEmbeddings("ollama", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		return ollamaembed.New(entry.BaseURL, entry.Model)
	})
}

// buildPipeline instantiates the configured providers and assembles the
// insight client. The LLM and STT providers are wrapped in breaker-backed
// chains so a dead backend is skipped instead of hammered; embeddings and LLM
// are required, STT degrades gracefully at the session level.
func buildPipeline(cfg *config.Config, reg *config.Registry, logger *slog.Logger) (stt.Provider, embeddings.Provider, *insight.Client, error) {
	llmName := cfg.Providers.LLM.Name
	if llmName == "" {
		return nil, nil, nil, fmt.Errorf("providers.llm is required")
	}
	llmProvider, err := reg.CreateLLM(cfg.Providers.LLM)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create llm provider %q: %w", llmName, err)
	}
	llmChain := resilience.NewLLMChain(llmProvider, llmName, resilience.BreakerConfig{}, logger)
	slog.Info("provider created", "kind", "llm", "name", llmName, "model", llmChain.ModelID())

	embName := cfg.Providers.Embeddings.Name
	if embName == "" {
		return nil, nil, nil, fmt.Errorf("providers.embeddings is required")
	}
	embedder, err := reg.CreateEmbeddings(cfg.Providers.Embeddings)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create embeddings provider %q: %w", embName, err)
	}
	slog.Info("provider created", "kind", "embeddings", "name", embName, "model", embedder.ModelID())

	var sttProvider stt.Provider
	if sttName := cfg.Providers.STT.Name; sttName != "" {
		p, err := reg.CreateSTT(cfg.Providers.STT)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("create stt provider %q: %w", sttName, err)
		}
		sttProvider = resilience.NewSTTChain(p, sttName, resilience.BreakerConfig{}, logger)
		slog.Info("provider created", "kind", "stt", "name", sttName)
	} else {
		slog.Warn("no stt provider configured — sessions will run without transcription")
	}

	insightClient, err := insight.NewClient(llmChain, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("create insight client: %w", err)
	}

	return sttProvider, embedder, insightClient, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║          Confab — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("STT", cfg.Providers.STT.Name, cfg.Providers.STT.Model)
	printProvider("Embeddings", cfg.Providers.Embeddings.Name, cfg.Providers.Embeddings.Model)
	printProvider("LLM", cfg.Providers.LLM.Name, cfg.Providers.LLM.Model)
	backend := cfg.Memory.Backend
	if backend == "" {
		backend = config.IndexMemory
	}
	fmt.Printf("║  Index backend   : %-19s ║\n", backend)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr     : %-19s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Helpers ───────────────────────────────────────────────────────────────────

func slogLevel(level config.LogLevel) slog.Level {
	switch level {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// optString extracts a string value from a provider Options map[string]any.
// Returns "" if the map is nil, the key is absent, or the value is not a string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
