package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/emberforge/questpilot/internal/toolhost"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm":        {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq"},
	"embeddings": {"openai"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values and fills
// session defaults. It returns a joined error listing all validation
// failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Provider name validation: warn for unknown provider names.
	validateProviderName("llm", cfg.LLM.Name)
	validateProviderName("embeddings", cfg.Embeddings.Name)

	if cfg.LLM.Name == "" {
		slog.Warn("llm.name is not configured; sessions cannot run without a model backend")
	}
	for i, fb := range cfg.LLMFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("llm_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("llm", fb.Name)
		if fb.Model == "" {
			cfg.LLMFallbacks[i].Model = cfg.LLM.Model
		}
	}
	if len(cfg.EmbeddingsFallbacks) > 0 && cfg.Embeddings.Name == "" {
		errs = append(errs, errors.New("embeddings_fallbacks requires embeddings to be configured"))
	}
	for i, fb := range cfg.EmbeddingsFallbacks {
		if fb.Name == "" {
			errs = append(errs, fmt.Errorf("embeddings_fallbacks[%d].name is required", i))
			continue
		}
		validateProviderName("embeddings", fb.Name)
		if fb.Model == "" {
			cfg.EmbeddingsFallbacks[i].Model = cfg.Embeddings.Model
		}
	}
	if cfg.LLM.Model == "" && len(cfg.Agents) > 0 && !allPresetsNameModels(cfg.Agents) {
		errs = append(errs, errors.New("llm.model is required when an agent preset does not name its own model"))
	}

	if cfg.Game.BaseURL == "" {
		slog.Warn("game.base_url is empty; builtin game tools cannot reach a collaborator")
	}
	if cfg.Game.Timeout < 0 {
		errs = append(errs, errors.New("game.timeout must not be negative"))
	}

	// Embeddings and archive dimensions
	if cfg.Embeddings.Name != "" && cfg.Archive.EmbeddingDimensions <= 0 {
		slog.Warn("embeddings is configured but archive.embedding_dimensions is not set; defaulting to 1536")
	}
	if cfg.Archive.PostgresDSN == "" {
		slog.Warn("archive.postgres_dsn is empty; ended sessions will not be archived and insight recall is disabled")
	}

	// Session defaults
	if cfg.Session.MaxIdle < 0 {
		errs = append(errs, errors.New("session.max_idle must not be negative"))
	}
	if cfg.Session.MaxIdle == 0 {
		cfg.Session.MaxIdle = Duration(DefaultMaxIdle)
	}
	if cfg.Session.SweepInterval == 0 {
		cfg.Session.SweepInterval = Duration(DefaultSweepInterval)
	}
	if cfg.Session.MemoryCapacity < 0 {
		errs = append(errs, errors.New("session.memory_capacity must not be negative"))
	}

	// Agent preset validation, including duplicate name detection.
	presetsSeen := make(map[string]int, len(cfg.Agents))
	for i, preset := range cfg.Agents {
		prefix := fmt.Sprintf("agents[%d]", i)
		name := preset.Personality.Name
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.personality.name is required", prefix))
		} else {
			if prev, ok := presetsSeen[name]; ok {
				errs = append(errs, fmt.Errorf("%s.personality.name %q is a duplicate of agents[%d]", prefix, name, prev))
			}
			presetsSeen[name] = i
		}

		ac := preset.ToAgentConfig(cfg.LLM.Model)
		if err := ac.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", prefix, err))
		}
	}

	// MCP servers
	for i, srv := range cfg.MCP.Servers {
		prefix := fmt.Sprintf("mcp.servers[%d]", i)
		if srv.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
		}
		if srv.Transport != "" && !srv.Transport.IsValid() {
			errs = append(errs, fmt.Errorf("%s.transport %q is invalid; valid values: stdio, streamable-http", prefix, srv.Transport))
		}
		if srv.Transport == toolhost.TransportStdio && srv.Command == "" {
			errs = append(errs, fmt.Errorf("%s.command is required when transport is stdio", prefix))
		}
		if srv.Transport == toolhost.TransportStreamableHTTP && srv.URL == "" {
			errs = append(errs, fmt.Errorf("%s.url is required when transport is streamable-http", prefix))
		}
	}

	return errors.Join(errs...)
}

// allPresetsNameModels reports whether every preset carries its own model.
func allPresetsNameModels(presets []AgentPreset) bool {
	for _, p := range presets {
		if p.Model == "" {
			return false
		}
	}
	return len(presets) > 0
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
