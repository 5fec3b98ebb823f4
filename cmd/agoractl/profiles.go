package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"agora/internal/market"
	agoraapi "agora/pkg/agora"
)

// runProfile is the on-disk shape of a launch profile. JSON and YAML carry
// the same keys; the format is picked by file extension.
type runProfile struct {
	RunID           string            `json:"run_id" yaml:"run_id"`
	Scape           string            `json:"scape" yaml:"scape"`
	Mutator         string            `json:"mutator" yaml:"mutator"`
	MutatorSpread   float64           `json:"mutator_spread" yaml:"mutator_spread"`
	SeedStrategies  []string          `json:"seed_strategies" yaml:"seed_strategies"`
	Population      int               `json:"population_size" yaml:"population_size"`
	Generations     int               `json:"generations" yaml:"generations"`
	Scenarios       int               `json:"scenarios" yaml:"scenarios"`
	EliteCount      int               `json:"elite_count" yaml:"elite_count"`
	FreshInjection  int               `json:"fresh_injection" yaml:"fresh_injection"`
	GatingTolerance float64           `json:"gating_tolerance" yaml:"gating_tolerance"`
	Workers         int               `json:"workers" yaml:"workers"`
	Seed            int64             `json:"seed" yaml:"seed"`
	Market          *runProfileMarket `json:"market" yaml:"market"`
}

type runProfileMarket struct {
	SoftmaxTemperature float64 `json:"softmax_temperature" yaml:"softmax_temperature"`
	SurvivalThreshold  float64 `json:"survival_threshold" yaml:"survival_threshold"`
	MemoryDepth        int     `json:"client_memory_depth" yaml:"client_memory_depth"`
	ExplorationBonus   float64 `json:"exploration_bonus" yaml:"exploration_bonus"`
	MinAssignments     int     `json:"min_assignments" yaml:"min_assignments"`
}

func loadRunProfile(path string) (agoraapi.RunRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return agoraapi.RunRequest{}, err
	}

	var profile runProfile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &profile); err != nil {
			return agoraapi.RunRequest{}, fmt.Errorf("parse profile %s: %w", path, err)
		}
	case ".json":
		if err := json.Unmarshal(data, &profile); err != nil {
			return agoraapi.RunRequest{}, fmt.Errorf("parse profile %s: %w", path, err)
		}
	default:
		return agoraapi.RunRequest{}, fmt.Errorf("unsupported profile format: %s", path)
	}

	req := agoraapi.RunRequest{
		RunID:           profile.RunID,
		Scape:           profile.Scape,
		Mutator:         profile.Mutator,
		MutatorSpread:   profile.MutatorSpread,
		SeedStrategies:  profile.SeedStrategies,
		Population:      profile.Population,
		Generations:     profile.Generations,
		Scenarios:       profile.Scenarios,
		EliteCount:      profile.EliteCount,
		FreshInjection:  profile.FreshInjection,
		GatingTolerance: profile.GatingTolerance,
		Workers:         profile.Workers,
		Seed:            profile.Seed,
	}
	if profile.Market != nil {
		base := market.DefaultConfig()
		if profile.Market.SoftmaxTemperature > 0 {
			base.SoftmaxTemperature = profile.Market.SoftmaxTemperature
		}
		if profile.Market.SurvivalThreshold > 0 {
			base.SurvivalThreshold = profile.Market.SurvivalThreshold
		}
		if profile.Market.MemoryDepth > 0 {
			base.MemoryDepth = profile.Market.MemoryDepth
		}
		if profile.Market.ExplorationBonus > 0 {
			base.ExplorationBonus = profile.Market.ExplorationBonus
		}
		if profile.Market.MinAssignments > 0 {
			base.MinAssignments = profile.Market.MinAssignments
		}
		req.Market = base
	}
	return req, nil
}
