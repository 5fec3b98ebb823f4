package market

import "fmt"

// Config holds the tunables of the market selection engine.
type Config struct {
	// SoftmaxTemperature controls how exploratory client choices are;
	// higher values flatten the selection distribution.
	SoftmaxTemperature float64 `json:"softmax_temperature"`
	// SurvivalThreshold is the fraction of the population culled each
	// generation, lowest revenue first.
	SurvivalThreshold float64 `json:"survival_threshold"`
	// MemoryDepth is how many scores a client remembers per agent.
	MemoryDepth int `json:"client_memory_depth"`
	// ExplorationBonus is the score assumed for agents a client has never
	// seen, so new agents still attract assignments.
	ExplorationBonus float64 `json:"exploration_bonus"`
	// MinAssignments is the per-agent floor enforced by the fairness pass.
	MinAssignments int `json:"min_assignments"`
}

func DefaultConfig() Config {
	return Config{
		SoftmaxTemperature: 2.0,
		SurvivalThreshold:  0.3,
		MemoryDepth:        3,
		ExplorationBonus:   0.1,
		MinAssignments:     3,
	}
}

func (c Config) Validate() error {
	if c.SoftmaxTemperature <= 0 {
		return fmt.Errorf("softmax temperature must be > 0, got %v", c.SoftmaxTemperature)
	}
	if c.SurvivalThreshold < 0 || c.SurvivalThreshold >= 1 {
		return fmt.Errorf("survival threshold must be in [0, 1), got %v", c.SurvivalThreshold)
	}
	if c.MemoryDepth <= 0 {
		return fmt.Errorf("client memory depth must be > 0, got %d", c.MemoryDepth)
	}
	if c.ExplorationBonus < 0 {
		return fmt.Errorf("exploration bonus must be >= 0, got %v", c.ExplorationBonus)
	}
	if c.MinAssignments < 0 {
		return fmt.Errorf("min assignments must be >= 0, got %d", c.MinAssignments)
	}
	return nil
}
