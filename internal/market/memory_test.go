package market

import (
	"math"
	"testing"

	"agora/internal/model"
)

func TestClientMemoryRecordBoundedByDepth(t *testing.T) {
	memory := NewClientMemory(7)
	for i := 0; i < 5; i++ {
		memory.Record(1, float64(i), 3)
	}

	history := memory.scores[1]
	if len(history) != 3 {
		t.Fatalf("expected history capped at 3, got %d", len(history))
	}
	for i, want := range []float64{2, 3, 4} {
		if history[i] != want {
			t.Fatalf("expected oldest entries dropped, got %v", history)
		}
	}
}

func TestClientMemoryMeanScore(t *testing.T) {
	memory := NewClientMemory(0)
	memory.Record(4, 0.2, 3)
	memory.Record(4, 0.4, 3)
	memory.Record(4, 0.9, 3)

	mean, ok := memory.MeanScore(4)
	if !ok {
		t.Fatal("expected mean for recorded agent")
	}
	if math.Abs(mean-0.5) > 1e-9 {
		t.Fatalf("expected mean 0.5, got %v", mean)
	}

	if _, ok := memory.MeanScore(99); ok {
		t.Fatal("expected no mean for unknown agent")
	}
}

func TestClientMemoryPrune(t *testing.T) {
	memory := NewClientMemory(0)
	memory.Record(1, 0.5, 3)
	memory.Record(2, 0.6, 3)
	memory.Record(3, 0.7, 3)

	memory.Prune(map[model.AgentID]struct{}{2: {}})

	if _, ok := memory.MeanScore(1); ok {
		t.Fatal("expected agent 1 pruned")
	}
	if _, ok := memory.MeanScore(3); ok {
		t.Fatal("expected agent 3 pruned")
	}
	if _, ok := memory.MeanScore(2); !ok {
		t.Fatal("expected agent 2 retained")
	}
}
