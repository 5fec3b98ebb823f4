package scape

import (
	"context"
	"math/rand"
	"strconv"
	"strings"

	"agora/internal/model"
)

const defaultQuality = 0.5

// QualityScape is a synthetic evaluator: the agent's strategy text encodes a
// latent quality in [0, 1] and each evaluation returns quality plus a small
// amount of noise. Noise is a pure function of (seed, agent, scenario), so
// evaluations are deterministic and safe to run concurrently.
type QualityScape struct {
	seed      int64
	noiseStdv float64
}

func NewQualityScape(seed int64) *QualityScape {
	return &QualityScape{seed: seed, noiseStdv: 0.05}
}

func (s *QualityScape) Name() string {
	return "quality"
}

func (s *QualityScape) Evaluate(_ context.Context, agent model.Agent, scenarioID model.ScenarioID) (float64, error) {
	quality := ParseQuality(agent.Strategy)
	rng := rand.New(rand.NewSource(s.seed ^ int64(agent.ID)<<32 ^ int64(scenarioID)))
	return clamp01(quality + rng.NormFloat64()*s.noiseStdv), nil
}

// StepScape scores 1 when the agent's latent quality clears the threshold
// and 0 otherwise. Useful for exercising zero-revenue paths.
type StepScape struct {
	Threshold float64
}

func (StepScape) Name() string {
	return "step"
}

func (s StepScape) Evaluate(_ context.Context, agent model.Agent, _ model.ScenarioID) (float64, error) {
	if ParseQuality(agent.Strategy) >= s.Threshold {
		return 1.0, nil
	}
	return 0.0, nil
}

// ParseQuality reads the latent quality from a strategy string. Strategies
// produced by the synthetic mutators are bare floats; anything else maps to a
// neutral default.
func ParseQuality(strategy string) float64 {
	quality, err := strconv.ParseFloat(strings.TrimSpace(strategy), 64)
	if err != nil {
		return defaultQuality
	}
	return clamp01(quality)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
