package config

import (
	"embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed presets/*.yaml
var presetFS embed.FS

// Presets returns the names of the built-in configurations.
func Presets() []string {
	entries, err := presetFS.ReadDir("presets")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	sort.Strings(names)
	return names
}

// Preset returns a built-in configuration:
//
//   - basic: one concise assistant without tools
//   - weather: one streaming assistant with get_weather
//   - round_robin: a weather agent and an analysis agent taking four turns
func Preset(name string) (*Config, error) {
	data, err := presetFS.ReadFile("presets/" + name + ".yaml")
	if err != nil {
		return nil, fmt.Errorf("%w %q (available: %s)", ErrUnknownPreset, name, strings.Join(Presets(), ", "))
	}
	return Parse(data)
}
