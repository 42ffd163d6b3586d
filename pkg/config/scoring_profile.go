package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ScoringProfile is the on-disk override for weights, thresholds and tie-breaks
type ScoringProfile struct {
	Blend struct {
		Profiles map[string]map[string]float64 `yaml:"profiles"`
	} `yaml:"blend"`
	Search struct {
		MinScore     *float64            `yaml:"minScore"`
		FieldWeights map[string]float64  `yaml:"fieldWeights"`
		Thresholds   *SearchThresholds   `yaml:"thresholds"`
		Synonyms     map[string][]string `yaml:"synonyms"`
	} `yaml:"search"`
	Score struct {
		TieBreaks []string `yaml:"tieBreaks"`
	} `yaml:"score"`
}

// LoadScoringProfile reads a YAML scoring profile and merges it into cfg.
// Profiles and field weights named in the file replace the defaults of the same name.
func LoadScoringProfile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read scoring profile: %w", err)
	}
	return ApplyScoringProfile(data, cfg)
}

// ApplyScoringProfile merges a YAML document into cfg
func ApplyScoringProfile(data []byte, cfg *Config) error {
	var profile ScoringProfile
	if err := yaml.Unmarshal(data, &profile); err != nil {
		return fmt.Errorf("failed to parse scoring profile: %w", err)
	}

	if cfg.Blend.Profiles == nil {
		cfg.Blend.Profiles = make(map[string]LaneWeights)
	}
	for name, weights := range profile.Blend.Profiles {
		lanes := make(LaneWeights, len(weights))
		for lane, w := range weights {
			lanes[strings.ToLower(lane)] = w
		}
		cfg.Blend.Profiles[strings.ToLower(name)] = lanes
	}

	if profile.Search.MinScore != nil {
		cfg.Search.MinScore = *profile.Search.MinScore
	}
	if cfg.Search.FieldWeights == nil {
		cfg.Search.FieldWeights = make(map[string]float64)
	}
	for field, w := range profile.Search.FieldWeights {
		cfg.Search.FieldWeights[field] = w
	}
	if profile.Search.Thresholds != nil {
		cfg.Search.Thresholds = *profile.Search.Thresholds
	}
	if cfg.Search.Synonyms == nil {
		cfg.Search.Synonyms = make(map[string][]string)
	}
	for term, syns := range profile.Search.Synonyms {
		cfg.Search.Synonyms[strings.ToLower(term)] = syns
	}

	if len(profile.Score.TieBreaks) > 0 {
		cfg.Score.TieBreaks = profile.Score.TieBreaks
	}
	return nil
}
