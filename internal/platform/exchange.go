package platform

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"
	"time"

	"agora/internal/market"
	"agora/internal/model"
	"agora/internal/scape"
	"agora/internal/storage"
)

type Config struct {
	Store  storage.Store
	Logger *slog.Logger
}

// Exchange drives full market-selection experiments: one generational loop of
// assign, evaluate, record, select and mutate per generation, checkpointed
// after mutation so resumed runs see the children created that generation.
type Exchange struct {
	store storage.Store
	log   *slog.Logger
}

func NewExchange(cfg Config) *Exchange {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Exchange{store: cfg.Store, log: logger}
}

func (e *Exchange) Init(ctx context.Context) error {
	if e.store == nil {
		return fmt.Errorf("store is required")
	}
	return e.store.Init(ctx)
}

// Reset drops all persisted state when the store supports it, then
// reinitializes.
func (e *Exchange) Reset(ctx context.Context) error {
	if e.store == nil {
		return fmt.Errorf("store is required")
	}
	if resetter, ok := e.store.(storage.Resetter); ok {
		if err := resetter.Reset(ctx); err != nil {
			return err
		}
	}
	return e.store.Init(ctx)
}

func (e *Exchange) Store() storage.Store {
	return e.store
}

type RunConfig struct {
	RunID           string
	Scape           scape.Scape
	Mutator         Mutator
	SeedStrategies  []string
	PopulationSize  int
	Generations     int
	Scenarios       int
	EliteCount      int
	FreshInjection  int
	GatingTolerance float64
	Workers         int
	Seed            int64
	Market          market.Config
}

func (cfg *RunConfig) normalize() error {
	if cfg.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if cfg.Scape == nil {
		return fmt.Errorf("scape is required")
	}
	if cfg.Mutator == nil {
		cfg.Mutator = StaticMutator{}
	}
	if len(cfg.SeedStrategies) == 0 {
		return fmt.Errorf("seed strategies are required")
	}
	if cfg.PopulationSize <= 0 {
		return fmt.Errorf("population size must be > 0")
	}
	if cfg.Generations <= 0 {
		return fmt.Errorf("generations must be > 0")
	}
	if cfg.Scenarios <= 0 {
		return fmt.Errorf("scenario count must be > 0")
	}
	if cfg.EliteCount < 0 || cfg.EliteCount > cfg.PopulationSize {
		return fmt.Errorf("elite count must be in [0, population size]")
	}
	if cfg.FreshInjection < 0 {
		return fmt.Errorf("fresh injection must be >= 0")
	}
	if cfg.EliteCount+cfg.FreshInjection > cfg.PopulationSize {
		return fmt.Errorf("elite count plus fresh injection exceeds population size")
	}
	if cfg.GatingTolerance < 0 {
		return fmt.Errorf("gating tolerance must be >= 0")
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return cfg.Market.Validate()
}

type RunResult struct {
	RunID            string
	BestByGeneration []float64
	History          []model.GenerationRecord
	FinalPopulation  []model.Agent
	BestAgent        model.Agent
	FinalStats       market.Stats
}

type runState struct {
	engine       *market.Engine
	rng          *rand.Rand
	agentCounter int
	population   []model.Agent
	history      []model.GenerationRecord
}

func (s *runState) newAgent(strategy string, generation int, parents []model.AgentID) model.Agent {
	agent := model.Agent{
		ID:         model.AgentID(s.agentCounter),
		Strategy:   strategy,
		Generation: generation,
		Parents:    parents,
	}
	s.agentCounter++
	return agent
}

// Run executes a fresh experiment from generation zero.
func (e *Exchange) Run(ctx context.Context, cfg RunConfig) (RunResult, error) {
	if err := cfg.normalize(); err != nil {
		return RunResult{}, err
	}

	engine, err := market.NewEngine(cfg.Market, cfg.Seed)
	if err != nil {
		return RunResult{}, err
	}
	state := &runState{
		engine: engine,
		rng:    rand.New(rand.NewSource(cfg.Seed)),
	}
	for i := 0; i < cfg.PopulationSize; i++ {
		strategy := cfg.SeedStrategies[i%len(cfg.SeedStrategies)]
		state.population = append(state.population, state.newAgent(strategy, 0, nil))
	}

	return e.runFrom(ctx, cfg, state, 0)
}

// Resume continues a run from its latest checkpoint. The checkpointed
// population and market snapshot are restored; the loop picks up at the
// generation after the checkpoint.
func (e *Exchange) Resume(ctx context.Context, cfg RunConfig) (RunResult, error) {
	if err := cfg.normalize(); err != nil {
		return RunResult{}, err
	}

	checkpoint, ok, err := e.store.LatestCheckpoint(ctx, cfg.RunID)
	if err != nil {
		return RunResult{}, err
	}
	if !ok {
		return RunResult{}, fmt.Errorf("no checkpoint found for run %s", cfg.RunID)
	}
	startGen := checkpoint.Generation + 1
	if startGen >= cfg.Generations {
		return RunResult{}, fmt.Errorf("run %s already completed %d generations", cfg.RunID, checkpoint.Generation+1)
	}

	snap, err := storage.DecodeMarketSnapshot(checkpoint.MarketState)
	if err != nil {
		return RunResult{}, fmt.Errorf("restore market state for run %s: %w", cfg.RunID, err)
	}
	engine, err := market.EngineFromSnapshot(snap, cfg.Seed+int64(startGen))
	if err != nil {
		return RunResult{}, err
	}

	state := &runState{
		engine:       engine,
		rng:          rand.New(rand.NewSource(cfg.Seed + int64(startGen))),
		agentCounter: checkpoint.AgentCounter,
		population:   append([]model.Agent(nil), checkpoint.Population...),
		history:      append([]model.GenerationRecord(nil), checkpoint.History...),
	}

	e.log.Info("resuming run", "run_id", cfg.RunID, "start_generation", startGen)
	return e.runFrom(ctx, cfg, state, startGen)
}

func (e *Exchange) runFrom(ctx context.Context, cfg RunConfig, state *runState, startGen int) (RunResult, error) {
	createdAt := time.Now().UTC().Format(time.RFC3339Nano)
	scenarios := make([]model.ScenarioID, cfg.Scenarios)
	for i := range scenarios {
		scenarios[i] = model.ScenarioID(i)
	}

	for gen := startGen; gen < cfg.Generations; gen++ {
		if err := ctx.Err(); err != nil {
			return RunResult{}, err
		}
		if err := e.runGeneration(ctx, cfg, state, scenarios, gen); err != nil {
			return RunResult{}, fmt.Errorf("generation %d: %w", gen, err)
		}
	}

	ranked := rankByValScore(state.population)
	best := ranked[0]
	stats, _ := state.engine.MarketStats()

	record := model.RunRecord{
		VersionedRecord: versionedRecord(),
		RunID:           cfg.RunID,
		CreatedAtUTC:    createdAt,
		Scape:           cfg.Scape.Name(),
		Seed:            cfg.Seed,
		PopulationSize:  cfg.PopulationSize,
		Generations:     cfg.Generations,
		Scenarios:       cfg.Scenarios,
		FinalBestVal:    best.ValScore,
		FinalGini:       stats.Gini,
		FinalHHI:        stats.HHI,
	}
	if err := e.store.SaveRunRecord(ctx, record); err != nil {
		return RunResult{}, err
	}

	bestByGeneration := make([]float64, 0, len(state.history))
	for _, item := range state.history {
		bestByGeneration = append(bestByGeneration, item.BestVal)
	}

	return RunResult{
		RunID:            cfg.RunID,
		BestByGeneration: bestByGeneration,
		History:          state.history,
		FinalPopulation:  state.population,
		BestAgent:        best,
		FinalStats:       stats,
	}, nil
}

func (e *Exchange) runGeneration(ctx context.Context, cfg RunConfig, state *runState, scenarios []model.ScenarioID, gen int) error {
	genStart := time.Now()
	ids := agentIDs(state.population)

	assignments, err := state.engine.Assign(ids, scenarios, gen)
	if err != nil {
		return err
	}

	results, devMeans, err := evaluateAssigned(ctx, cfg.Scape, state.population, assignments, cfg.Workers)
	if err != nil {
		return err
	}
	state.engine.RecordResults(results, gen)

	valMeans, err := evaluateValidation(ctx, cfg.Scape, state.population, scenarios, cfg.Workers)
	if err != nil {
		return err
	}
	for i := range state.population {
		agentID := state.population[i].ID
		state.population[i].DevScore = devMeans[agentID]
		state.population[i].ValScore = valMeans[agentID]
	}

	// Gen-0 health check: if every agent scores zero on validation, the
	// evaluator is almost certainly broken.
	if gen == 0 && allZero(valMeans) {
		return fmt.Errorf("health check failed: all agents scored 0 in generation 0")
	}

	ranked := rankByValScore(state.population)
	best := ranked[0]

	record := model.GenerationRecord{
		Generation:  gen,
		BestAgentID: best.ID,
		BestVal:     best.ValScore,
		MeanVal:     meanValScore(state.population),
		DurationSec: time.Since(genStart).Seconds(),
	}
	if stats, ok := state.engine.MarketStats(); ok {
		record.MarketStats = stats.Fields()
		record.Revenues = stringifyRevenues(stats.Revenue)
		e.log.Info("generation complete",
			"run_id", cfg.RunID,
			"generation", gen,
			"best_agent", int(best.ID),
			"best_val", best.ValScore,
			"gini", stats.Gini,
			"hhi", stats.HHI,
		)
	}
	state.history = append(state.history, record)

	if gen >= cfg.Generations-1 {
		return e.checkpoint(ctx, cfg, state, gen)
	}

	if err := e.buildNextGeneration(ctx, cfg, state, scenarios, ranked, ids, gen); err != nil {
		return err
	}
	return e.checkpoint(ctx, cfg, state, gen)
}

func (e *Exchange) buildNextGeneration(ctx context.Context, cfg RunConfig, state *runState, scenarios []model.ScenarioID, ranked []model.Agent, ids []model.AgentID, gen int) error {
	next := make([]model.Agent, 0, cfg.PopulationSize)

	elite := ranked[:cfg.EliteCount]
	eliteIDs := make([]model.AgentID, 0, len(elite))
	for _, agent := range elite {
		next = append(next, agent)
		eliteIDs = append(eliteIDs, agent.ID)
	}

	survivors := state.engine.SelectSurvivors(ids, eliteIDs)
	mutationSlots := cfg.PopulationSize - cfg.EliteCount - cfg.FreshInjection
	parents := state.engine.SelectParents(survivors, mutationSlots)

	byID := make(map[model.AgentID]model.Agent, len(state.population))
	for _, agent := range state.population {
		byID[agent.ID] = agent
	}

	for _, parentID := range parents {
		if err := ctx.Err(); err != nil {
			return err
		}
		parent := byID[parentID]
		strategy, err := cfg.Mutator.Mutate(ctx, parent)
		if err != nil {
			return fmt.Errorf("mutate agent %d: %w", parentID, err)
		}
		child := state.newAgent(strategy, gen+1, []model.AgentID{parent.ID})
		childVal, err := validationScore(ctx, cfg.Scape, child, scenarios)
		if err != nil {
			return err
		}
		child.ValScore = childVal

		// Gate: keep the child only when it holds up within tolerance of
		// its parent; otherwise the parent takes the slot.
		if childVal >= parent.ValScore-cfg.GatingTolerance {
			next = append(next, child)
		} else {
			next = append(next, parent)
		}
	}

	for i := 0; i < cfg.FreshInjection; i++ {
		strategy := cfg.SeedStrategies[state.rng.Intn(len(cfg.SeedStrategies))]
		next = append(next, state.newAgent(strategy, gen+1, nil))
	}

	// Backfill when reproduction came up short (e.g. a fully culled
	// population), so the loop never shrinks the population.
	for len(next) < cfg.PopulationSize {
		strategy := cfg.SeedStrategies[state.rng.Intn(len(cfg.SeedStrategies))]
		next = append(next, state.newAgent(strategy, gen+1, nil))
	}
	if len(next) > cfg.PopulationSize {
		next = next[:cfg.PopulationSize]
	}

	state.population = next
	return nil
}

func (e *Exchange) checkpoint(ctx context.Context, cfg RunConfig, state *runState, gen int) error {
	marketState, err := storage.EncodeMarketSnapshot(state.engine.Snapshot())
	if err != nil {
		return err
	}
	checkpoint := model.Checkpoint{
		VersionedRecord: versionedRecord(),
		RunID:           cfg.RunID,
		Generation:      gen,
		AgentCounter:    state.agentCounter,
		Population:      append([]model.Agent(nil), state.population...),
		MarketState:     marketState,
		History:         append([]model.GenerationRecord(nil), state.history...),
	}
	if err := e.store.SaveCheckpoint(ctx, checkpoint); err != nil {
		return err
	}
	return e.store.SaveGenerationHistory(ctx, cfg.RunID, state.history)
}

func versionedRecord() model.VersionedRecord {
	return model.VersionedRecord{
		SchemaVersion: storage.CurrentSchemaVersion,
		CodecVersion:  storage.CurrentCodecVersion,
	}
}

func agentIDs(population []model.Agent) []model.AgentID {
	ids := make([]model.AgentID, len(population))
	for i, agent := range population {
		ids[i] = agent.ID
	}
	return ids
}

func rankByValScore(population []model.Agent) []model.Agent {
	ranked := append([]model.Agent(nil), population...)
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].ValScore == ranked[j].ValScore {
			return ranked[i].ID < ranked[j].ID
		}
		return ranked[i].ValScore > ranked[j].ValScore
	})
	return ranked
}

func meanValScore(population []model.Agent) float64 {
	if len(population) == 0 {
		return 0
	}
	total := 0.0
	for _, agent := range population {
		total += agent.ValScore
	}
	return total / float64(len(population))
}

func allZero(scores map[model.AgentID]float64) bool {
	for _, score := range scores {
		if score != 0 {
			return false
		}
	}
	return true
}

func stringifyRevenues(revenue map[model.AgentID]float64) map[string]float64 {
	out := make(map[string]float64, len(revenue))
	for agentID, value := range revenue {
		out[fmt.Sprintf("%d", agentID)] = value
	}
	return out
}
