package platform

import (
	"context"
	"testing"

	"agora/internal/market"
	"agora/internal/scape"
	"agora/internal/storage"
)

func newTestExchange(t *testing.T) *Exchange {
	t.Helper()
	ex := NewExchange(Config{Store: storage.NewMemoryStore()})
	if err := ex.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return ex
}

func testRunConfig(runID string) RunConfig {
	return RunConfig{
		RunID:           runID,
		Scape:           scape.NewQualityScape(42),
		Mutator:         NewJitterMutator(0.05, 42),
		SeedStrategies:  []string{"0.9", "0.6", "0.3"},
		PopulationSize:  6,
		Generations:     3,
		Scenarios:       12,
		EliteCount:      1,
		FreshInjection:  1,
		GatingTolerance: 0.05,
		Workers:         2,
		Seed:            1234,
		Market:          market.DefaultConfig(),
	}
}

func TestRunProducesHistoryAndRecord(t *testing.T) {
	ex := newTestExchange(t)
	ctx := context.Background()
	cfg := testRunConfig("run-basic")

	result, err := ex.Run(ctx, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.History) != cfg.Generations {
		t.Fatalf("history length = %d, want %d", len(result.History), cfg.Generations)
	}
	if len(result.FinalPopulation) != cfg.PopulationSize {
		t.Fatalf("final population size = %d, want %d", len(result.FinalPopulation), cfg.PopulationSize)
	}
	if result.BestAgent.ValScore <= 0 || result.BestAgent.ValScore > 1 {
		t.Fatalf("best val score %v out of range", result.BestAgent.ValScore)
	}
	for gen, record := range result.History {
		if record.Generation != gen {
			t.Fatalf("history[%d].Generation = %d", gen, record.Generation)
		}
		if record.MarketStats == nil {
			t.Fatalf("generation %d missing market stats", gen)
		}
	}

	record, ok, err := ex.Store().GetRunRecord(ctx, cfg.RunID)
	if err != nil || !ok {
		t.Fatalf("GetRunRecord: ok=%v err=%v", ok, err)
	}
	if record.FinalBestVal != result.BestAgent.ValScore {
		t.Fatalf("run record best val = %v, want %v", record.FinalBestVal, result.BestAgent.ValScore)
	}

	checkpoint, ok, err := ex.Store().LatestCheckpoint(ctx, cfg.RunID)
	if err != nil || !ok {
		t.Fatalf("LatestCheckpoint: ok=%v err=%v", ok, err)
	}
	if checkpoint.Generation != cfg.Generations-1 {
		t.Fatalf("latest checkpoint generation = %d, want %d", checkpoint.Generation, cfg.Generations-1)
	}
}

func TestRunIsDeterministicForSeed(t *testing.T) {
	ctx := context.Background()

	first, err := newTestExchange(t).Run(ctx, testRunConfig("run-a"))
	if err != nil {
		t.Fatalf("first Run: %v", err)
	}
	cfg := testRunConfig("run-b")
	cfg.Mutator = NewJitterMutator(0.05, 42)
	second, err := newTestExchange(t).Run(ctx, cfg)
	if err != nil {
		t.Fatalf("second Run: %v", err)
	}

	if len(first.BestByGeneration) != len(second.BestByGeneration) {
		t.Fatalf("history lengths differ: %d vs %d", len(first.BestByGeneration), len(second.BestByGeneration))
	}
	for i := range first.BestByGeneration {
		if first.BestByGeneration[i] != second.BestByGeneration[i] {
			t.Fatalf("generation %d best val diverged: %v vs %v", i, first.BestByGeneration[i], second.BestByGeneration[i])
		}
	}
	if first.BestAgent.ID != second.BestAgent.ID {
		t.Fatalf("best agent diverged: %d vs %d", first.BestAgent.ID, second.BestAgent.ID)
	}
}

func TestRunHealthCheckRejectsAllZeroScores(t *testing.T) {
	ex := newTestExchange(t)
	cfg := testRunConfig("run-dead")
	cfg.Scape = scape.StepScape{Threshold: 0.99}
	cfg.SeedStrategies = []string{"0.1", "0.2"}

	if _, err := ex.Run(context.Background(), cfg); err == nil {
		t.Fatalf("expected health check failure for all-zero generation 0")
	}
}

func TestResumeContinuesRun(t *testing.T) {
	ex := newTestExchange(t)
	ctx := context.Background()

	cfg := testRunConfig("run-resume")
	cfg.Generations = 2
	first, err := ex.Run(ctx, cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	cfg.Generations = 4
	resumed, err := ex.Resume(ctx, cfg)
	if err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if len(resumed.History) != 4 {
		t.Fatalf("resumed history length = %d, want 4", len(resumed.History))
	}
	for i, record := range resumed.History[:2] {
		if record.BestVal != first.History[i].BestVal {
			t.Fatalf("resumed history rewrote generation %d", i)
		}
	}

	checkpoint, ok, err := ex.Store().LatestCheckpoint(ctx, cfg.RunID)
	if err != nil || !ok {
		t.Fatalf("LatestCheckpoint: ok=%v err=%v", ok, err)
	}
	if checkpoint.Generation != 3 {
		t.Fatalf("latest checkpoint generation = %d, want 3", checkpoint.Generation)
	}
}

func TestResumeWithoutCheckpointFails(t *testing.T) {
	ex := newTestExchange(t)
	if _, err := ex.Resume(context.Background(), testRunConfig("run-missing")); err == nil {
		t.Fatalf("expected error for missing checkpoint")
	}
}

func TestResumeOfCompletedRunFails(t *testing.T) {
	ex := newTestExchange(t)
	ctx := context.Background()
	cfg := testRunConfig("run-done")

	if _, err := ex.Run(ctx, cfg); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, err := ex.Resume(ctx, cfg); err == nil {
		t.Fatalf("expected error resuming a completed run")
	}
}

func TestRunConfigValidation(t *testing.T) {
	ex := newTestExchange(t)
	ctx := context.Background()

	cases := map[string]func(*RunConfig){
		"missing run id":          func(c *RunConfig) { c.RunID = "" },
		"missing scape":           func(c *RunConfig) { c.Scape = nil },
		"no seed strategies":      func(c *RunConfig) { c.SeedStrategies = nil },
		"zero population":         func(c *RunConfig) { c.PopulationSize = 0 },
		"zero generations":        func(c *RunConfig) { c.Generations = 0 },
		"zero scenarios":          func(c *RunConfig) { c.Scenarios = 0 },
		"negative elites":         func(c *RunConfig) { c.EliteCount = -1 },
		"elites exceed pop":       func(c *RunConfig) { c.EliteCount = 99 },
		"negative injection":      func(c *RunConfig) { c.FreshInjection = -1 },
		"elite plus fresh > pop":  func(c *RunConfig) { c.EliteCount = 4; c.FreshInjection = 4 },
		"negative tolerance":      func(c *RunConfig) { c.GatingTolerance = -0.1 },
		"invalid market config":   func(c *RunConfig) { c.Market.SoftmaxTemperature = 0 },
	}
	for name, mutate := range cases {
		cfg := testRunConfig("run-invalid")
		mutate(&cfg)
		if _, err := ex.Run(ctx, cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestRunAllElitesKeepsTopAgents(t *testing.T) {
	ex := newTestExchange(t)
	cfg := testRunConfig("run-elite")
	cfg.EliteCount = cfg.PopulationSize
	cfg.FreshInjection = 0

	result, err := ex.Run(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	for _, agent := range result.FinalPopulation {
		if agent.Generation != 0 {
			t.Fatalf("agent %d has generation %d, want 0 when the whole population is elite", agent.ID, agent.Generation)
		}
	}
}
