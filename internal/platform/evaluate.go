package platform

import (
	"context"
	"sync"

	"agora/internal/model"
	"agora/internal/scape"
)

// evaluateAssigned scores each agent on its assigned scenarios using a
// bounded worker pool. It returns per-agent scenario scores in the shape the
// market engine ingests, plus each agent's mean score over its assignment.
func evaluateAssigned(
	ctx context.Context,
	sc scape.Scape,
	population []model.Agent,
	assignments map[model.AgentID][]model.ScenarioID,
	workers int,
) (map[model.AgentID]map[model.ScenarioID]float64, map[model.AgentID]float64, error) {
	type result struct {
		agentID model.AgentID
		scores  map[model.ScenarioID]float64
		err     error
	}

	jobs := make(chan model.Agent)
	results := make(chan result, len(population))

	if workers <= 0 {
		workers = 1
	}
	if workers > len(population) {
		workers = len(population)
	}

	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func() {
			defer wg.Done()
			for agent := range jobs {
				if err := ctx.Err(); err != nil {
					results <- result{agentID: agent.ID, err: err}
					continue
				}
				scores := make(map[model.ScenarioID]float64, len(assignments[agent.ID]))
				var evalErr error
				for _, scenarioID := range assignments[agent.ID] {
					score, err := sc.Evaluate(ctx, agent, scenarioID)
					if err != nil {
						evalErr = err
						break
					}
					scores[scenarioID] = score
				}
				results <- result{agentID: agent.ID, scores: scores, err: evalErr}
			}
		}()
	}

	for _, agent := range population {
		jobs <- agent
	}
	close(jobs)

	wg.Wait()
	close(results)

	byAgent := make(map[model.AgentID]map[model.ScenarioID]float64, len(population))
	means := make(map[model.AgentID]float64, len(population))
	for res := range results {
		if res.err != nil {
			return nil, nil, res.err
		}
		byAgent[res.agentID] = res.scores
		total := 0.0
		for _, score := range res.scores {
			total += score
		}
		if len(res.scores) > 0 {
			means[res.agentID] = total / float64(len(res.scores))
		}
	}
	return byAgent, means, nil
}

// evaluateValidation scores every agent on the full scenario set and returns
// the mean score per agent. Used for ranking, elitism and gating.
func evaluateValidation(
	ctx context.Context,
	sc scape.Scape,
	population []model.Agent,
	scenarioIDs []model.ScenarioID,
	workers int,
) (map[model.AgentID]float64, error) {
	assignments := make(map[model.AgentID][]model.ScenarioID, len(population))
	for _, agent := range population {
		assignments[agent.ID] = scenarioIDs
	}
	_, means, err := evaluateAssigned(ctx, sc, population, assignments, workers)
	return means, err
}

func validationScore(ctx context.Context, sc scape.Scape, agent model.Agent, scenarioIDs []model.ScenarioID) (float64, error) {
	means, err := evaluateValidation(ctx, sc, []model.Agent{agent}, scenarioIDs, 1)
	if err != nil {
		return 0, err
	}
	return means[agent.ID], nil
}
