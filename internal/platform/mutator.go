package platform

import (
	"context"
	"fmt"
	"math/rand"
	"strconv"

	"agora/internal/model"
	"agora/internal/scape"
)

// Mutator produces a child strategy from a parent agent. Strategy generation
// is an external concern (an LLM call in real deployments); the exchange only
// sees the resulting text.
type Mutator interface {
	Name() string
	Mutate(ctx context.Context, parent model.Agent) (string, error)
}

// StaticMutator returns the parent strategy unchanged. Used for offline runs
// and tests where the population should not drift.
type StaticMutator struct{}

func (StaticMutator) Name() string {
	return "static"
}

func (StaticMutator) Mutate(_ context.Context, parent model.Agent) (string, error) {
	return parent.Strategy, nil
}

// JitterMutator perturbs the latent quality encoded in a synthetic strategy
// by a uniform step in [-Spread, +Spread], clamped to [0, 1]. It pairs with
// the synthetic scapes for self-contained experiments.
type JitterMutator struct {
	spread float64
	rng    *rand.Rand
}

func NewJitterMutator(spread float64, seed int64) *JitterMutator {
	if spread <= 0 {
		spread = 0.05
	}
	return &JitterMutator{spread: spread, rng: rand.New(rand.NewSource(seed))}
}

func (*JitterMutator) Name() string {
	return "jitter"
}

func (m *JitterMutator) Mutate(_ context.Context, parent model.Agent) (string, error) {
	quality := scape.ParseQuality(parent.Strategy)
	quality += (m.rng.Float64()*2 - 1) * m.spread
	if quality < 0 {
		quality = 0
	}
	if quality > 1 {
		quality = 1
	}
	return strconv.FormatFloat(quality, 'f', 4, 64), nil
}

// ResolveMutator constructs a named mutator.
func ResolveMutator(name string, spread float64, seed int64) (Mutator, error) {
	switch name {
	case "", "static":
		return StaticMutator{}, nil
	case "jitter":
		return NewJitterMutator(spread, seed), nil
	default:
		return nil, fmt.Errorf("unknown mutator: %s", name)
	}
}
