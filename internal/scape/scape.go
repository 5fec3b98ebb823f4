package scape

import (
	"context"
	"fmt"
	"sync"

	"agora/internal/model"
)

// Scape scores an agent on a single scenario. Scores are normalized to
// [0, 1]. Real deployments plug in an external evaluator here; the engine
// itself never calls a scape.
type Scape interface {
	Name() string
	Evaluate(ctx context.Context, agent model.Agent, scenarioID model.ScenarioID) (float64, error)
}

var (
	registryMu sync.RWMutex
	registry   = make(map[string]func(seed int64) Scape)
)

// Register makes a scape constructor resolvable by name. Built-in names
// cannot be shadowed.
func Register(name string, factory func(seed int64) Scape) error {
	if name == "" {
		return fmt.Errorf("scape name is required")
	}
	if factory == nil {
		return fmt.Errorf("scape factory is nil")
	}
	switch name {
	case "quality", "step":
		return fmt.Errorf("scape name is reserved: %s", name)
	}

	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[name]; exists {
		return fmt.Errorf("scape already registered: %s", name)
	}
	registry[name] = factory
	return nil
}

// Resolve constructs a named scape, consulting registered factories before
// the built-in synthetics. The seed keeps synthetic noise reproducible
// across runs.
func Resolve(name string, seed int64) (Scape, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if ok {
		return factory(seed), nil
	}

	switch name {
	case "", "quality":
		return NewQualityScape(seed), nil
	case "step":
		return StepScape{Threshold: 0.5}, nil
	default:
		return nil, fmt.Errorf("unknown scape: %s", name)
	}
}
