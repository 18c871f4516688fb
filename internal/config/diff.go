package config

import "reflect"

// ConfigDiff describes what changed between two configs.
// Only fields that can be safely hot-reloaded are tracked.
type ConfigDiff struct {
	PresetsChanged  bool         // true if any agent preset was added, removed, or modified
	PresetChanges   []PresetDiff // per-preset diffs
	LogLevelChanged bool
	NewLogLevel     LogLevel
	MCPChanged      bool // true if the MCP server list differs
}

// PresetDiff describes what changed for a single agent preset between two configs.
type PresetDiff struct {
	Name               string
	PersonalityChanged bool
	ModelChanged       bool
	LimitsChanged      bool
	Added              bool
	Removed            bool
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	// Log level
	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	// MCP server list. New sessions pick up the new tool catalogue; running
	// sessions keep the invoker they were created with.
	if !reflect.DeepEqual(old.MCP.Servers, new.MCP.Servers) {
		d.MCPChanged = true
	}

	// Build preset lookup maps keyed by name.
	oldPresets := make(map[string]*AgentPreset, len(old.Agents))
	for i := range old.Agents {
		oldPresets[old.Agents[i].Personality.Name] = &old.Agents[i]
	}
	newPresets := make(map[string]*AgentPreset, len(new.Agents))
	for i := range new.Agents {
		newPresets[new.Agents[i].Personality.Name] = &new.Agents[i]
	}

	// Detect modified and removed presets.
	for name, oldPreset := range oldPresets {
		newPreset, exists := newPresets[name]
		if !exists {
			d.PresetChanges = append(d.PresetChanges, PresetDiff{
				Name:    name,
				Removed: true,
			})
			d.PresetsChanged = true
			continue
		}
		pd := diffPreset(name, oldPreset, newPreset)
		if pd.PersonalityChanged || pd.ModelChanged || pd.LimitsChanged {
			d.PresetChanges = append(d.PresetChanges, pd)
			d.PresetsChanged = true
		}
	}

	// Detect added presets.
	for name := range newPresets {
		if _, exists := oldPresets[name]; !exists {
			d.PresetChanges = append(d.PresetChanges, PresetDiff{
				Name:  name,
				Added: true,
			})
			d.PresetsChanged = true
		}
	}

	return d
}

// diffPreset compares two agent presets with the same name.
func diffPreset(name string, old, new *AgentPreset) PresetDiff {
	pd := PresetDiff{Name: name}

	if !reflect.DeepEqual(old.Personality, new.Personality) {
		pd.PersonalityChanged = true
	}

	if old.Model != new.Model || old.Temperature != new.Temperature {
		pd.ModelChanged = true
	}

	if old.MaxTokens != new.MaxTokens ||
		old.Streaming != new.Streaming ||
		old.ToolTimeout != new.ToolTimeout ||
		old.MaxAutonomousActions != new.MaxAutonomousActions {
		pd.LimitsChanged = true
	}

	return pd
}
