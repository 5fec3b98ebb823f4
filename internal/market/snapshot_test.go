package market

import (
	"math"
	"reflect"
	"testing"

	"agora/internal/model"
)

func TestSnapshotRoundTrip(t *testing.T) {
	engine := newTestEngine(t, 31)
	engine.RecordResults(map[model.AgentID]map[model.ScenarioID]float64{
		1: {10: 0.9, 11: 0.3},
		2: {12: 0.6},
	}, 0)
	engine.RecordResults(map[model.AgentID]map[model.ScenarioID]float64{
		1: {10: 0.8},
		2: {11: 0.5, 12: 0.7},
	}, 1)

	snap := engine.Snapshot()
	restored, err := EngineFromSnapshot(snap, 31)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}

	if restored.cfg != engine.cfg {
		t.Fatalf("config mismatch: %+v vs %+v", restored.cfg, engine.cfg)
	}
	if len(restored.clientMemories) != len(engine.clientMemories) {
		t.Fatalf("memory count mismatch: %d vs %d", len(restored.clientMemories), len(engine.clientMemories))
	}
	for scenarioID, memory := range engine.clientMemories {
		restoredMemory := restored.clientMemories[scenarioID]
		if restoredMemory == nil {
			t.Fatalf("missing memory for scenario %d", scenarioID)
		}
		if !reflect.DeepEqual(restoredMemory.scores, memory.scores) {
			t.Fatalf("score history mismatch for scenario %d: %v vs %v", scenarioID, restoredMemory.scores, memory.scores)
		}
	}
	if !reflect.DeepEqual(restored.RevenueHistory(), engine.RevenueHistory()) {
		t.Fatal("revenue history mismatch after round trip")
	}

	// Current-generation revenues are deliberately not round-tripped.
	if len(restored.agentRevenues) != 0 {
		t.Fatalf("expected empty current revenues after restore, got %v", restored.agentRevenues)
	}
}

func TestSnapshotRoundTripPreservesStatsAfterNextResults(t *testing.T) {
	results := map[model.AgentID]map[model.ScenarioID]float64{
		1: {10: 0.9},
		2: {11: 0.2},
	}

	engine := newTestEngine(t, 31)
	engine.RecordResults(results, 0)
	snap := engine.Snapshot()

	restored, err := EngineFromSnapshot(snap, 31)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	restored.RecordResults(results, 1)

	engine.RecordResults(results, 1)
	want, _ := engine.MarketStats()
	got, ok := restored.MarketStats()
	if !ok {
		t.Fatal("expected stats from restored engine")
	}
	if math.Abs(got.Gini-want.Gini) > 1e-12 || math.Abs(got.HHI-want.HHI) > 1e-12 {
		t.Fatalf("stats diverged after round trip: %+v vs %+v", got, want)
	}
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	engine := newTestEngine(t, 31)
	engine.RecordResults(map[model.AgentID]map[model.ScenarioID]float64{
		1: {10: 0.4},
	}, 0)

	snap := engine.Snapshot()
	snap.ClientMemories["10"].Scores["1"][0] = 99.0
	snap.RevenueHistory[0]["1"] = 99.0

	mean, _ := engine.clientMemories[10].MeanScore(1)
	if mean != 0.4 {
		t.Fatalf("snapshot mutation leaked into engine memory: %v", mean)
	}
	if engine.revenueHistory[0][1] != 0.4 {
		t.Fatal("snapshot mutation leaked into revenue history")
	}
}

func TestEngineFromSnapshotRejectsBadIDs(t *testing.T) {
	snap := Snapshot{
		Config: DefaultConfig(),
		ClientMemories: map[string]MemorySnapshot{
			"not-a-number": {Scores: map[string][]float64{"1": {0.5}}},
		},
	}
	if _, err := EngineFromSnapshot(snap, 1); err == nil {
		t.Fatal("expected error for malformed scenario id")
	}

	snap = Snapshot{
		Config:         DefaultConfig(),
		RevenueHistory: []map[string]float64{{"agent-x": 1.0}},
	}
	if _, err := EngineFromSnapshot(snap, 1); err == nil {
		t.Fatal("expected error for malformed agent id")
	}
}
