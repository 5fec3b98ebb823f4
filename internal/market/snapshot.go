package market

import (
	"fmt"
	"strconv"

	"agora/internal/model"
)

// Snapshot is the serialized form of the engine state. Agent and scenario ids
// are strings here and nowhere else. Current-generation revenues are not part
// of a snapshot: the next RecordResults call recomputes them.
type Snapshot struct {
	Config         Config                    `json:"config"`
	ClientMemories map[string]MemorySnapshot `json:"client_memories"`
	RevenueHistory []map[string]float64      `json:"revenue_history"`
}

type MemorySnapshot struct {
	Scores map[string][]float64 `json:"scores"`
}

// Snapshot serializes config, full client memories and the entire revenue
// history for checkpointing.
func (e *Engine) Snapshot() Snapshot {
	memories := make(map[string]MemorySnapshot, len(e.clientMemories))
	for scenarioID, memory := range e.clientMemories {
		scores := make(map[string][]float64, len(memory.scores))
		for agentID, history := range memory.scores {
			scores[strconv.Itoa(int(agentID))] = append([]float64(nil), history...)
		}
		memories[strconv.Itoa(int(scenarioID))] = MemorySnapshot{Scores: scores}
	}

	history := make([]map[string]float64, len(e.revenueHistory))
	for i, snapshot := range e.revenueHistory {
		entry := make(map[string]float64, len(snapshot))
		for agentID, revenue := range snapshot {
			entry[strconv.Itoa(int(agentID))] = revenue
		}
		history[i] = entry
	}

	return Snapshot{
		Config:         e.cfg,
		ClientMemories: memories,
		RevenueHistory: history,
	}
}

// EngineFromSnapshot restores an engine from a snapshot, converting ids back
// to their canonical types. The restored engine has empty current-generation
// revenues and a fresh rng seeded with seed.
func EngineFromSnapshot(snap Snapshot, seed int64) (*Engine, error) {
	engine, err := NewEngine(snap.Config, seed)
	if err != nil {
		return nil, err
	}

	for rawScenarioID, memSnap := range snap.ClientMemories {
		scenarioID, err := parseScenarioID(rawScenarioID)
		if err != nil {
			return nil, err
		}
		memory := NewClientMemory(scenarioID)
		for rawAgentID, history := range memSnap.Scores {
			agentID, err := parseAgentID(rawAgentID)
			if err != nil {
				return nil, err
			}
			memory.scores[agentID] = append([]float64(nil), history...)
		}
		engine.clientMemories[scenarioID] = memory
	}

	engine.revenueHistory = make([]map[model.AgentID]float64, len(snap.RevenueHistory))
	for i, entry := range snap.RevenueHistory {
		restored := make(map[model.AgentID]float64, len(entry))
		for rawAgentID, revenue := range entry {
			agentID, err := parseAgentID(rawAgentID)
			if err != nil {
				return nil, err
			}
			restored[agentID] = revenue
		}
		engine.revenueHistory[i] = restored
	}

	return engine, nil
}

func parseAgentID(raw string) (model.AgentID, error) {
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid agent id in snapshot: %q", raw)
	}
	return model.AgentID(id), nil
}

func parseScenarioID(raw string) (model.ScenarioID, error) {
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid scenario id in snapshot: %q", raw)
	}
	return model.ScenarioID(id), nil
}
