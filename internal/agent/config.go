// Package agent defines the immutable per-session agent configuration:
// identity, personality, model parameters, and runtime limits.
package agent

import (
	"errors"
	"fmt"
	"time"
)

// PlayStyle selects the agent's overall decision bias.
type PlayStyle string

const (
	StyleAggressive    PlayStyle = "aggressive"
	StyleCautious      PlayStyle = "cautious"
	StyleExplorer      PlayStyle = "explorer"
	StyleSocial        PlayStyle = "social"
	StyleCompletionist PlayStyle = "completionist"
)

// IsValid reports whether p is a recognised play style.
func (p PlayStyle) IsValid() bool {
	switch p {
	case StyleAggressive, StyleCautious, StyleExplorer, StyleSocial, StyleCompletionist:
		return true
	}
	return false
}

// Personality describes who the agent is and how it weighs choices.
// Injected verbatim into prompt templates.
type Personality struct {
	// Name is the agent's in-world display name.
	Name string `yaml:"name"`

	// Traits is a free-form list of persona descriptors
	// (e.g., "stoic", "greedy", "curious").
	Traits []string `yaml:"traits"`

	// Style biases decisions toward a behavioural archetype.
	Style PlayStyle `yaml:"style"`

	// Goals lists the agent's objectives, primary first.
	Goals []string `yaml:"goals"`

	// Preferences weights decision aspects in [0, 1]
	// (e.g., "combat": 0.8, "trade": 0.2). Missing keys default to 0.5.
	Preferences map[string]float64 `yaml:"preferences"`
}

// Preference returns the weight for key, or 0.5 when unset.
func (p Personality) Preference(key string) float64 {
	if w, ok := p.Preferences[key]; ok {
		return w
	}
	return 0.5
}

// PrimaryGoal returns the first goal, or "" when none are set.
func (p Personality) PrimaryGoal() string {
	if len(p.Goals) == 0 {
		return ""
	}
	return p.Goals[0]
}

// SecondaryGoals returns all goals after the first.
func (p Personality) SecondaryGoals() []string {
	if len(p.Goals) < 2 {
		return nil
	}
	return p.Goals[1:]
}

// Config is the immutable configuration for one agent session.
// Callers build a Config before session creation; the runtime never mutates it.
type Config struct {
	// Personality describes the agent persona.
	Personality Personality `yaml:"personality"`

	// Model is the model identifier passed to the LLM provider
	// (e.g., "gpt-4o", "claude-sonnet-4").
	Model string `yaml:"model"`

	// Temperature controls output randomness in [0, 2].
	Temperature float64 `yaml:"temperature"`

	// MaxTokens caps completion tokens per model call. Zero means provider default.
	MaxTokens int `yaml:"max_tokens"`

	// Streaming requests incremental model output when the provider supports it.
	Streaming bool `yaml:"streaming"`

	// ToolTimeout bounds each tool invocation. Zero means DefaultToolTimeout.
	ToolTimeout time.Duration `yaml:"tool_timeout"`

	// MaxAutonomousActions is the hard upper bound on decision cycles per
	// autonomous run. Zero means DefaultMaxAutonomousActions.
	MaxAutonomousActions int `yaml:"max_autonomous_actions"`
}

// Defaults applied by Validate for zero-valued limits.
const (
	DefaultToolTimeout          = 10 * time.Second
	DefaultMaxAutonomousActions = 10
)

// ErrInvalid is wrapped by all validation failures returned from [Config.Validate].
var ErrInvalid = errors.New("invalid agent config")

// Validate checks c for coherence and fills zero-valued limits with defaults.
// It returns a joined error listing every failure found; a non-nil error
// always wraps [ErrInvalid].
func (c *Config) Validate() error {
	var errs []error

	if c.Personality.Name == "" {
		errs = append(errs, fmt.Errorf("personality.name is required"))
	}
	if c.Personality.Style != "" && !c.Personality.Style.IsValid() {
		errs = append(errs, fmt.Errorf("personality.style %q is invalid; valid values: aggressive, cautious, explorer, social, completionist", c.Personality.Style))
	}
	for k, w := range c.Personality.Preferences {
		if w < 0 || w > 1 {
			errs = append(errs, fmt.Errorf("personality.preferences[%q] = %.2f is out of range [0, 1]", k, w))
		}
	}
	if c.Model == "" {
		errs = append(errs, fmt.Errorf("model is required"))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, fmt.Errorf("temperature %.2f is out of range [0, 2]", c.Temperature))
	}
	if c.MaxTokens < 0 {
		errs = append(errs, fmt.Errorf("max_tokens must not be negative"))
	}
	if c.ToolTimeout < 0 {
		errs = append(errs, fmt.Errorf("tool_timeout must not be negative"))
	}
	if c.MaxAutonomousActions < 0 {
		errs = append(errs, fmt.Errorf("max_autonomous_actions must not be negative"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}

	if c.ToolTimeout == 0 {
		c.ToolTimeout = DefaultToolTimeout
	}
	if c.MaxAutonomousActions == 0 {
		c.MaxAutonomousActions = DefaultMaxAutonomousActions
	}
	return nil
}
