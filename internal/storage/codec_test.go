package storage

import (
	"errors"
	"reflect"
	"testing"

	"agora/internal/market"
	"agora/internal/model"
)

func TestCheckpointCodecRoundTrip(t *testing.T) {
	checkpoint := model.Checkpoint{
		VersionedRecord: versioned(),
		RunID:           "run-1",
		Generation:      2,
		AgentCounter:    9,
		Population: []model.Agent{
			{ID: 1, Strategy: "0.9", Generation: 0},
			{ID: 8, Strategy: "0.7", Generation: 2, Parents: []model.AgentID{1}},
		},
	}

	payload, err := EncodeCheckpoint(checkpoint)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeCheckpoint(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !reflect.DeepEqual(decoded, checkpoint) {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, checkpoint)
	}
}

func TestDecodeCheckpointVersionMismatch(t *testing.T) {
	checkpoint := model.Checkpoint{
		VersionedRecord: model.VersionedRecord{SchemaVersion: 99, CodecVersion: 1},
		RunID:           "run-1",
	}
	payload, err := EncodeCheckpoint(checkpoint)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if _, err := DecodeCheckpoint(payload); !errors.Is(err, ErrVersionMismatch) {
		t.Fatalf("expected ErrVersionMismatch, got %v", err)
	}
}

func TestMarketSnapshotCodec(t *testing.T) {
	engine, err := market.NewEngine(market.DefaultConfig(), 7)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	engine.RecordResults(map[model.AgentID]map[model.ScenarioID]float64{
		1: {5: 0.6, 6: 0.4},
	}, 0)

	payload, err := EncodeMarketSnapshot(engine.Snapshot())
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	snap, err := DecodeMarketSnapshot(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}

	restored, err := market.EngineFromSnapshot(snap, 7)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if !reflect.DeepEqual(restored.RevenueHistory(), engine.RevenueHistory()) {
		t.Fatal("revenue history mismatch through codec")
	}
}
