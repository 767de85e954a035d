package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// TriggerConfig is the language-specific table deciding when a follow-up
// question needs reformulation. The lists are corpus-specific (Norwegian
// production data); no canonical list is authoritative, so the table is
// swappable via KAEVAL_TRIGGERS_FILE rather than hardcoded.
type TriggerConfig struct {
	// Pronouns are anaphora that make a question context-dependent.
	Pronouns []string `yaml:"pronouns"`
	// ContextMarkers are words referring back to earlier turns.
	ContextMarkers []string `yaml:"context_markers"`
	// MinWords: questions shorter than this word count are treated as
	// context-dependent regardless of wording.
	MinWords int `yaml:"min_words"`
}

func defaultTriggers() TriggerConfig {
	return TriggerConfig{
		Pronouns: []string{
			"det", "den", "de", "dem",
			"dette", "denne", "disse",
			"han", "hun", "hans", "hennes", "deres",
		},
		ContextMarkers: []string{
			"også", "samme", "videre", "tilsvarende",
			"nevnte", "ovenfor", "forrige", "dokumentet", "rapporten",
		},
		MinWords: 5,
	}
}

// LoadTriggers reads a trigger table from a YAML file. Missing fields fall
// back to the compiled-in defaults.
func LoadTriggers(path string) (TriggerConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return TriggerConfig{}, fmt.Errorf("reading %s: %w", path, err)
	}

	t := defaultTriggers()
	if err := yaml.Unmarshal(data, &t); err != nil {
		return TriggerConfig{}, fmt.Errorf("parsing %s: %w", path, err)
	}
	return t, nil
}

// Validate rejects tables that would disable reformulation entirely.
func (t TriggerConfig) Validate() error {
	if len(t.Pronouns) == 0 && len(t.ContextMarkers) == 0 && t.MinWords <= 0 {
		return fmt.Errorf("at least one trigger dimension must be configured")
	}
	if t.MinWords < 0 {
		return fmt.Errorf("min_words must be non-negative, got %d", t.MinWords)
	}
	return nil
}
