package market

import (
	"errors"
	"math"
	"sort"

	"agora/internal/model"
)

// ErrNoAgentsAvailable is returned when scenarios exist but no agents do.
var ErrNoAgentsAvailable = errors.New("no agents available for assignment")

// Assign partitions scenarioIDs across agentIDs: every scenario lands in
// exactly one agent's list.
//
// Generation 0 assigns uniformly at random. Later generations sample one
// agent per scenario from a softmax over that scenario's historical mean
// scores; agents unknown to the scenario get the configured exploration
// bonus, and scenarios with no history fall back to uniform choice. A
// best-effort fairness pass then tops up agents below MinAssignments.
func (e *Engine) Assign(agentIDs []model.AgentID, scenarioIDs []model.ScenarioID, generation int) (map[model.AgentID][]model.ScenarioID, error) {
	if len(agentIDs) == 0 {
		if len(scenarioIDs) == 0 {
			return map[model.AgentID][]model.ScenarioID{}, nil
		}
		return nil, ErrNoAgentsAvailable
	}

	assignments := make(map[model.AgentID][]model.ScenarioID, len(agentIDs))
	for _, agentID := range agentIDs {
		assignments[agentID] = nil
	}

	for _, scenarioID := range scenarioIDs {
		var chosen model.AgentID
		memory := e.clientMemories[scenarioID]
		if generation == 0 || memory == nil || memory.Empty() {
			chosen = agentIDs[e.rng.Intn(len(agentIDs))]
		} else {
			scores := make([]float64, len(agentIDs))
			for i, agentID := range agentIDs {
				if mean, ok := memory.MeanScore(agentID); ok {
					scores[i] = mean
				} else {
					scores[i] = e.cfg.ExplorationBonus
				}
			}
			probs := softmax(scores, e.cfg.SoftmaxTemperature)
			chosen = agentIDs[e.sampleIndex(probs)]
		}
		assignments[chosen] = append(assignments[chosen], scenarioID)
	}

	e.enforceMinimums(assignments, scenarioIDs, agentIDs)

	return assignments, nil
}

// softmax converts scores into a categorical distribution, shifting by the
// max score for numerical stability.
func softmax(scores []float64, temperature float64) []float64 {
	if len(scores) == 0 {
		return nil
	}
	maxScore := scores[0]
	for _, s := range scores[1:] {
		if s > maxScore {
			maxScore = s
		}
	}
	probs := make([]float64, len(scores))
	total := 0.0
	for i, s := range scores {
		probs[i] = math.Exp((s - maxScore) / temperature)
		total += probs[i]
	}
	if total == 0 {
		uniform := 1.0 / float64(len(scores))
		for i := range probs {
			probs[i] = uniform
		}
		return probs
	}
	for i := range probs {
		probs[i] /= total
	}
	return probs
}

func (e *Engine) sampleIndex(probs []float64) int {
	pick := e.rng.Float64()
	acc := 0.0
	for i, p := range probs {
		acc += p
		if pick <= acc {
			return i
		}
	}
	return len(probs) - 1
}

// enforceMinimums reassigns scenarios from over-assigned agents to starved
// ones. Donors are processed in descending-count order with id tiebreaks and
// re-ranked after each transfer; a donor stays eligible while its count
// exceeds both the average load and the minimum. When the minimum is
// mathematically infeasible some agents remain below it.
func (e *Engine) enforceMinimums(assignments map[model.AgentID][]model.ScenarioID, scenarioIDs []model.ScenarioID, agentIDs []model.AgentID) {
	minAssignments := e.cfg.MinAssignments
	if minAssignments <= 0 {
		return
	}

	starved := make([]model.AgentID, 0, len(agentIDs))
	for _, agentID := range agentIDs {
		if len(assignments[agentID]) < minAssignments {
			starved = append(starved, agentID)
		}
	}
	if len(starved) == 0 {
		return
	}

	avg := float64(len(scenarioIDs)) / float64(len(agentIDs))
	for _, agentID := range starved {
		for len(assignments[agentID]) < minAssignments {
			donor, ok := e.richestDonor(assignments, agentIDs, avg, minAssignments)
			if !ok {
				break
			}
			queue := assignments[donor]
			moved := queue[len(queue)-1]
			assignments[donor] = queue[:len(queue)-1]
			assignments[agentID] = append(assignments[agentID], moved)
		}
	}
}

func (e *Engine) richestDonor(assignments map[model.AgentID][]model.ScenarioID, agentIDs []model.AgentID, avg float64, minAssignments int) (model.AgentID, bool) {
	donors := make([]model.AgentID, 0, len(agentIDs))
	for _, agentID := range agentIDs {
		count := len(assignments[agentID])
		if float64(count) > avg && count > minAssignments {
			donors = append(donors, agentID)
		}
	}
	if len(donors) == 0 {
		return 0, false
	}
	sort.Slice(donors, func(i, j int) bool {
		ci, cj := len(assignments[donors[i]]), len(assignments[donors[j]])
		if ci == cj {
			return donors[i] < donors[j]
		}
		return ci > cj
	})
	return donors[0], true
}
