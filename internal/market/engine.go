package market

import (
	"fmt"
	"math/rand"
	"sort"

	"agora/internal/model"
)

// Engine implements market-based selection: clients (scenarios) choose agents
// based on historical performance, agents earn revenue from scores, and
// revenue drives survival and reproduction.
//
// All state is owned by one Engine instance; callers drive it synchronously
// through Assign, RecordResults, SelectSurvivors and SelectParents, one
// generation at a time.
type Engine struct {
	cfg Config
	rng *rand.Rand

	clientMemories map[model.ScenarioID]*ClientMemory
	agentRevenues  map[model.AgentID]float64
	revenueHistory []map[model.AgentID]float64
}

func NewEngine(cfg Config, seed int64) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("market config: %w", err)
	}
	return &Engine{
		cfg:            cfg,
		rng:            rand.New(rand.NewSource(seed)),
		clientMemories: make(map[model.ScenarioID]*ClientMemory),
		agentRevenues:  make(map[model.AgentID]float64),
	}, nil
}

func (e *Engine) Config() Config {
	return e.cfg
}

// RecordResults ingests a generation's evaluation results. It replaces the
// current revenue map, updates each scenario's client memory, and appends a
// copy of the fresh revenues to the revenue history.
//
// results maps agent id to the scores it earned this generation, keyed by
// scenario. Scores are expected in [0, 1]; revenue is their sum, so an agent
// assigned more scenarios can earn more.
func (e *Engine) RecordResults(results map[model.AgentID]map[model.ScenarioID]float64, generation int) {
	e.agentRevenues = make(map[model.AgentID]float64, len(results))

	for _, agentID := range sortedAgentKeys(results) {
		total := 0.0
		scenarioScores := results[agentID]
		for _, scenarioID := range sortedScenarioKeys(scenarioScores) {
			score := scenarioScores[scenarioID]
			memory := e.clientMemories[scenarioID]
			if memory == nil {
				memory = NewClientMemory(scenarioID)
				e.clientMemories[scenarioID] = memory
			}
			memory.Record(agentID, score, e.cfg.MemoryDepth)
			total += score
		}
		e.agentRevenues[agentID] = total
	}

	snapshot := make(map[model.AgentID]float64, len(e.agentRevenues))
	for agentID, revenue := range e.agentRevenues {
		snapshot[agentID] = revenue
	}
	e.revenueHistory = append(e.revenueHistory, snapshot)
}

// Revenue returns an agent's revenue for the current generation.
func (e *Engine) Revenue(agentID model.AgentID) float64 {
	return e.agentRevenues[agentID]
}

// RevenueHistory returns the per-generation revenue snapshots, oldest first.
func (e *Engine) RevenueHistory() []map[model.AgentID]float64 {
	out := make([]map[model.AgentID]float64, len(e.revenueHistory))
	for i, snapshot := range e.revenueHistory {
		copied := make(map[model.AgentID]float64, len(snapshot))
		for agentID, revenue := range snapshot {
			copied[agentID] = revenue
		}
		out[i] = copied
	}
	return out
}

// SelectSurvivors culls the lowest-revenue agents. Elites are skipped without
// consuming the kill budget, so fewer than the budgeted count may die when
// elites dominate the low end. Client memories are pruned to the survivor
// set. Before any RecordResults call the input is returned unchanged.
func (e *Engine) SelectSurvivors(agentIDs []model.AgentID, eliteIDs []model.AgentID) []model.AgentID {
	if len(e.agentRevenues) == 0 {
		return agentIDs
	}

	type ranked struct {
		id      model.AgentID
		revenue float64
	}
	revenues := make([]ranked, 0, len(agentIDs))
	for _, agentID := range agentIDs {
		revenues = append(revenues, ranked{id: agentID, revenue: e.agentRevenues[agentID]})
	}
	sort.Slice(revenues, func(i, j int) bool {
		if revenues[i].revenue == revenues[j].revenue {
			return revenues[i].id < revenues[j].id
		}
		return revenues[i].revenue < revenues[j].revenue
	})

	elite := make(map[model.AgentID]struct{}, len(eliteIDs))
	for _, agentID := range eliteIDs {
		elite[agentID] = struct{}{}
	}

	killCount := int(float64(len(agentIDs)) * e.cfg.SurvivalThreshold)
	if killCount < 1 {
		killCount = 1
	}
	killed := make(map[model.AgentID]struct{}, killCount)
	for _, item := range revenues {
		if len(killed) >= killCount {
			break
		}
		if _, protected := elite[item.id]; protected {
			continue
		}
		killed[item.id] = struct{}{}
	}

	survivors := make([]model.AgentID, 0, len(agentIDs)-len(killed))
	alive := make(map[model.AgentID]struct{}, len(agentIDs))
	for _, agentID := range agentIDs {
		if _, dead := killed[agentID]; dead {
			continue
		}
		survivors = append(survivors, agentID)
		alive[agentID] = struct{}{}
	}

	for _, memory := range e.clientMemories {
		memory.Prune(alive)
	}

	return survivors
}

// SelectParents draws one parent per offspring, with replacement,
// proportionally to revenue. Revenues are floored at a small epsilon so
// zero-revenue survivors keep a nonzero chance.
func (e *Engine) SelectParents(survivorIDs []model.AgentID, nOffspring int) []model.AgentID {
	if len(survivorIDs) == 0 || nOffspring <= 0 {
		return nil
	}

	const epsilon = 0.001
	weights := make([]float64, len(survivorIDs))
	total := 0.0
	for i, agentID := range survivorIDs {
		weight := e.agentRevenues[agentID]
		if weight < epsilon {
			weight = epsilon
		}
		weights[i] = weight
		total += weight
	}

	parents := make([]model.AgentID, 0, nOffspring)
	for i := 0; i < nOffspring; i++ {
		pick := e.rng.Float64() * total
		acc := 0.0
		chosen := survivorIDs[len(survivorIDs)-1]
		for j, weight := range weights {
			acc += weight
			if pick <= acc {
				chosen = survivorIDs[j]
				break
			}
		}
		parents = append(parents, chosen)
	}
	return parents
}

func sortedAgentKeys(m map[model.AgentID]map[model.ScenarioID]float64) []model.AgentID {
	keys := make([]model.AgentID, 0, len(m))
	for agentID := range m {
		keys = append(keys, agentID)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func sortedScenarioKeys(m map[model.ScenarioID]float64) []model.ScenarioID {
	keys := make([]model.ScenarioID, 0, len(m))
	for scenarioID := range m {
		keys = append(keys, scenarioID)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}
