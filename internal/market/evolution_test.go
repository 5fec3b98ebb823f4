package market

import (
	"math/rand"
	"testing"

	"agora/internal/model"
)

// Drives assign/record over several generations with synthetic agent quality
// and checks the market routes more work to better agents.
func TestMarketConvergesTowardHighQualityAgents(t *testing.T) {
	engine := newTestEngine(t, 1234)
	noise := rand.New(rand.NewSource(5678))

	const (
		nAgents     = 8
		nScenarios  = 30
		generations = 5
	)
	agents := agentRange(nAgents)
	scenarios := scenarioRange(nScenarios)

	quality := func(agentID model.AgentID) float64 {
		return 1.0 - 0.1*float64(agentID)
	}

	cumulative := make(map[model.AgentID]int, nAgents)
	for gen := 0; gen < generations; gen++ {
		assignments, err := engine.Assign(agents, scenarios, gen)
		if err != nil {
			t.Fatalf("assign gen %d: %v", gen, err)
		}
		checkPartition(t, assignments, scenarios)

		results := map[model.AgentID]map[model.ScenarioID]float64{}
		for _, agentID := range agents {
			cumulative[agentID] += len(assignments[agentID])
			scores := map[model.ScenarioID]float64{}
			for _, scenarioID := range assignments[agentID] {
				score := quality(agentID) + noise.NormFloat64()*0.05
				if score < 0 {
					score = 0
				}
				if score > 1 {
					score = 1
				}
				scores[scenarioID] = score
			}
			results[agentID] = scores
		}
		engine.RecordResults(results, gen)
	}

	top, bottom := agents[0], agents[nAgents-1]
	if cumulative[top] < cumulative[bottom] {
		t.Fatalf("expected top-quality agent to accumulate at least as many assignments: top=%d bottom=%d",
			cumulative[top], cumulative[bottom])
	}
}
