// Command questpilot is the main entry point for the QuestPilot agent server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/emberforge/questpilot/internal/agent"
	"github.com/emberforge/questpilot/internal/config"
	"github.com/emberforge/questpilot/internal/game/remote"
	"github.com/emberforge/questpilot/internal/gateway"
	"github.com/emberforge/questpilot/internal/health"
	"github.com/emberforge/questpilot/internal/loop"
	"github.com/emberforge/questpilot/internal/observe"
	"github.com/emberforge/questpilot/internal/resilience"
	"github.com/emberforge/questpilot/internal/runtime"
	"github.com/emberforge/questpilot/internal/toolhost"
	"github.com/emberforge/questpilot/pkg/archive"
	archpg "github.com/emberforge/questpilot/pkg/archive/postgres"
	"github.com/emberforge/questpilot/pkg/provider/embeddings"
	oaembed "github.com/emberforge/questpilot/pkg/provider/embeddings/openai"
	"github.com/emberforge/questpilot/pkg/provider/llm"
	"github.com/emberforge/questpilot/pkg/provider/llm/anyllm"
	oallm "github.com/emberforge/questpilot/pkg/provider/llm/openai"
)

const defaultEmbeddingDimensions = 1536

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "questpilot: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "questpilot: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	// The level lives in a LevelVar so the config watcher can adjust it at
	// runtime without recreating the logger.
	logLevel := new(slog.LevelVar)
	logLevel.Set(slogLevel(cfg.Server.LogLevel))
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("questpilot starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "questpilot",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()
	metrics := observe.DefaultMetrics()

	// ── Providers ─────────────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	provider, err := buildLLM(cfg, reg)
	if err != nil {
		slog.Error("failed to build llm provider", "err", err)
		return 1
	}

	embedder, err := buildEmbeddings(cfg, reg)
	if err != nil {
		slog.Error("failed to build embeddings provider", "err", err)
		return 1
	}

	// ── Game collaborator ─────────────────────────────────────────────────────
	if cfg.Game.BaseURL == "" {
		slog.Error("game.base_url is required; the agent has no world to act in")
		return 1
	}
	var hostOpts []remote.Option
	if cfg.Game.APIKey != "" {
		hostOpts = append(hostOpts, remote.WithAPIKey(cfg.Game.APIKey))
	}
	if cfg.Game.Timeout > 0 {
		hostOpts = append(hostOpts, remote.WithTimeout(cfg.Game.Timeout.Std()))
	}
	host, err := remote.New(cfg.Game.BaseURL, hostOpts...)
	if err != nil {
		slog.Error("failed to create game client", "err", err)
		return 1
	}

	// ── Tool host + MCP servers ───────────────────────────────────────────────
	tools := toolhost.New(host)
	defer func() {
		if err := tools.Close(); err != nil {
			slog.Warn("tool host close error", "err", err)
		}
	}()
	for _, srv := range cfg.MCP.Servers {
		if err := tools.RegisterServer(ctx, srv); err != nil {
			slog.Warn("mcp server registration failed, continuing without it",
				"server", srv.Name, "err", err)
			continue
		}
		slog.Info("mcp server registered", "server", srv.Name, "transport", srv.Transport)
	}

	// ── Archive (optional) ────────────────────────────────────────────────────
	var (
		store    archive.Store
		pgStore  *archpg.Store
		checkers []health.Checker
	)
	if cfg.Archive.PostgresDSN != "" {
		dims := cfg.Archive.EmbeddingDimensions
		if dims <= 0 {
			dims = defaultEmbeddingDimensions
		}
		pgStore, err = archpg.NewStore(ctx, cfg.Archive.PostgresDSN, dims)
		if err != nil {
			slog.Error("failed to open session archive", "err", err)
			return 1
		}
		defer pgStore.Close()
		store = pgStore
		checkers = append(checkers, health.Checker{Name: "archive", Check: pgStore.Ping})
		slog.Info("session archive connected", "embedding_dimensions", dims)
	}

	// ── Session manager ───────────────────────────────────────────────────────
	managerCfg := runtime.ManagerConfig{
		Logger:         logger,
		MemoryCapacity: cfg.Session.MemoryCapacity,
	}
	if store != nil {
		archiver, err := gateway.NewArchiver(gateway.ArchiverConfig{
			Store:    store,
			Embedder: embedder,
			Logger:   logger,
		})
		if err != nil {
			slog.Error("failed to create archiver", "err", err)
			return 1
		}
		managerCfg.OnEnd = archiver.HandleEnd
	}
	manager := runtime.NewManager(managerCfg)

	// ── Decision loop ─────────────────────────────────────────────────────────
	decisionLoop, err := loop.New(loop.Config{
		Logger:   logger,
		Provider: provider,
		Tools:    tools,
		Metrics:  metrics,
	})
	if err != nil {
		slog.Error("failed to create decision loop", "err", err)
		return 1
	}

	// ── Gateway ───────────────────────────────────────────────────────────────
	presets := make(map[string]agent.Config, len(cfg.Agents))
	for _, p := range cfg.Agents {
		presets[p.Personality.Name] = p.ToAgentConfig(cfg.LLM.Model)
	}

	server, err := gateway.New(gateway.Config{
		Logger:        logger,
		Manager:       manager,
		Loop:          decisionLoop,
		Presets:       presets,
		DefaultModel:  cfg.LLM.Model,
		Archive:       store,
		Embedder:      embedder,
		Metrics:       metrics,
		Health:        health.New(checkers...),
		MaxIdle:       cfg.Session.MaxIdle.Std(),
		SweepInterval: cfg.Session.SweepInterval.Std(),
	})
	if err != nil {
		slog.Error("failed to create gateway", "err", err)
		return 1
	}
	go server.RunSweeper(ctx)

	// ── Config watcher ────────────────────────────────────────────────────────
	watcher, err := config.NewWatcher(*configPath, func(old, new *config.Config) {
		d := config.Diff(old, new)
		if d.LogLevelChanged {
			logLevel.Set(slogLevel(d.NewLogLevel))
			slog.Info("log level updated", "level", d.NewLogLevel)
		}
		if d.PresetsChanged {
			slog.Warn("agent preset changes detected; restart to apply", "changes", len(d.PresetChanges))
		}
		if d.MCPChanged {
			slog.Warn("mcp server changes detected; restart to apply")
		}
	})
	if err != nil {
		slog.Warn("config watcher disabled", "err", err)
	} else {
		defer watcher.Stop()
	}

	printStartupSummary(cfg)

	// ── HTTP server ───────────────────────────────────────────────────────────
	addr := cfg.Server.ListenAddr
	if addr == "" {
		addr = ":8080"
	}
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		var serveErr error
		if tls := cfg.Server.TLS; tls != nil {
			serveErr = httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			serveErr = httpSrv.ListenAndServe()
		}
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			errCh <- serveErr
		}
	}()

	slog.Info("server ready — press Ctrl+C to shut down", "addr", addr)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		slog.Error("http server error", "err", err)
		return 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	slog.Info("shutdown signal received, stopping…")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
func registerBuiltinProviders(reg *config.Registry) {
	// openai uses the dedicated SDK-backed provider.
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oallm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oallm.WithBaseURL(entry.BaseURL))
		}
		return oallm.New(entry.APIKey, entry.Model, opts...)
	})

	// The remaining cloud backends share the any-llm pattern:
	// optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq",
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

	reg.RegisterEmbeddings("openai", func(entry config.ProviderEntry) (embeddings.Provider, error) {
		var opts []oaembed.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaembed.WithBaseURL(entry.BaseURL))
		}
		return oaembed.New(entry.APIKey, entry.Model, opts...)
	})
}

// buildLLM creates the primary LLM provider and, when fallbacks are
// configured, wraps it in a failover group with per-backend circuit breakers.
func buildLLM(cfg *config.Config, reg *config.Registry) (llm.Provider, error) {
	if cfg.LLM.Name == "" {
		return nil, errors.New("llm.name is required")
	}
	primary, err := reg.CreateLLM(cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("create llm provider %q: %w", cfg.LLM.Name, err)
	}
	slog.Info("provider created", "kind", "llm", "name", cfg.LLM.Name, "model", cfg.LLM.Model)

	if len(cfg.LLMFallbacks) == 0 {
		return primary, nil
	}

	fb := resilience.NewLLMFallback(primary, cfg.LLM.Name, resilience.FallbackConfig{})
	for _, entry := range cfg.LLMFallbacks {
		p, err := reg.CreateLLM(entry)
		if err != nil {
			return nil, fmt.Errorf("create llm fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
		slog.Info("provider created", "kind", "llm-fallback", "name", entry.Name, "model", entry.Model)
	}
	return fb, nil
}

// buildEmbeddings creates the embeddings provider, wrapped in a failover group
// when fallbacks are configured. Returns nil when embeddings are not
// configured: the archive then runs in full-text-search-only mode.
func buildEmbeddings(cfg *config.Config, reg *config.Registry) (embeddings.Provider, error) {
	if cfg.Embeddings.Name == "" {
		return nil, nil
	}
	primary, err := reg.CreateEmbeddings(cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("create embeddings provider %q: %w", cfg.Embeddings.Name, err)
	}
	slog.Info("provider created", "kind", "embeddings", "name", cfg.Embeddings.Name, "model", cfg.Embeddings.Model)

	if len(cfg.EmbeddingsFallbacks) == 0 {
		return primary, nil
	}

	fb := resilience.NewEmbeddingsFallback(primary, cfg.Embeddings.Name, resilience.FallbackConfig{})
	for _, entry := range cfg.EmbeddingsFallbacks {
		p, err := reg.CreateEmbeddings(entry)
		if err != nil {
			return nil, fmt.Errorf("create embeddings fallback %q: %w", entry.Name, err)
		}
		fb.AddFallback(entry.Name, p)
		slog.Info("provider created", "kind", "embeddings-fallback", "name", entry.Name, "model", entry.Model)
	}
	return fb, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║        QuestPilot — startup summary   ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printLine("LLM", cfg.LLM.Name+" / "+cfg.LLM.Model)
	if len(cfg.LLMFallbacks) > 0 {
		printLine("LLM fallbacks", fmt.Sprintf("%d", len(cfg.LLMFallbacks)))
	}
	if cfg.Embeddings.Name != "" {
		printLine("Embeddings", cfg.Embeddings.Name+" / "+cfg.Embeddings.Model)
		if len(cfg.EmbeddingsFallbacks) > 0 {
			printLine("Embeddings fallbacks", fmt.Sprintf("%d", len(cfg.EmbeddingsFallbacks)))
		}
	} else {
		printLine("Embeddings", "(not configured)")
	}
	printLine("Game host", cfg.Game.BaseURL)
	if cfg.Archive.PostgresDSN != "" {
		printLine("Archive", "postgres")
	} else {
		printLine("Archive", "(disabled)")
	}
	printLine("Agent presets", fmt.Sprintf("%d", len(cfg.Agents)))
	printLine("MCP servers", fmt.Sprintf("%d", len(cfg.MCP.Servers)))
	if cfg.Server.ListenAddr != "" {
		printLine("Listen addr", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printLine(label, value string) {
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-15s: %-19s ║\n", label, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

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
