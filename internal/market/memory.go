package market

import "agora/internal/model"

// ClientMemory is a scenario's bounded history of agent scores. Entries are
// chronological, most recent last, capped at the configured memory depth.
type ClientMemory struct {
	scenarioID model.ScenarioID
	scores     map[model.AgentID][]float64
}

func NewClientMemory(scenarioID model.ScenarioID) *ClientMemory {
	return &ClientMemory{
		scenarioID: scenarioID,
		scores:     make(map[model.AgentID][]float64),
	}
}

func (m *ClientMemory) ScenarioID() model.ScenarioID {
	return m.scenarioID
}

// Record appends a score for an agent, dropping the oldest entries once the
// history exceeds memoryDepth.
func (m *ClientMemory) Record(agentID model.AgentID, score float64, memoryDepth int) {
	history := append(m.scores[agentID], score)
	if memoryDepth > 0 && len(history) > memoryDepth {
		history = history[len(history)-memoryDepth:]
	}
	m.scores[agentID] = history
}

// MeanScore returns the arithmetic mean of the stored scores for an agent.
// ok is false when the agent has no history on this scenario.
func (m *ClientMemory) MeanScore(agentID model.AgentID) (float64, bool) {
	history := m.scores[agentID]
	if len(history) == 0 {
		return 0, false
	}
	total := 0.0
	for _, score := range history {
		total += score
	}
	return total / float64(len(history)), true
}

// Prune removes every entry whose agent is not in alive.
func (m *ClientMemory) Prune(alive map[model.AgentID]struct{}) {
	for agentID := range m.scores {
		if _, ok := alive[agentID]; !ok {
			delete(m.scores, agentID)
		}
	}
}

func (m *ClientMemory) Empty() bool {
	return len(m.scores) == 0
}
