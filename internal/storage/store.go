package storage

import (
	"context"

	"agora/internal/model"
)

// Store defines persistence operations for runs, checkpoints and generation
// history.
type Store interface {
	Init(ctx context.Context) error
	SaveCheckpoint(ctx context.Context, checkpoint model.Checkpoint) error
	GetCheckpoint(ctx context.Context, runID string, generation int) (model.Checkpoint, bool, error)
	LatestCheckpoint(ctx context.Context, runID string) (model.Checkpoint, bool, error)
	SaveRunRecord(ctx context.Context, record model.RunRecord) error
	GetRunRecord(ctx context.Context, runID string) (model.RunRecord, bool, error)
	ListRunRecords(ctx context.Context) ([]model.RunRecord, error)
	SaveGenerationHistory(ctx context.Context, runID string, history []model.GenerationRecord) error
	GetGenerationHistory(ctx context.Context, runID string) ([]model.GenerationRecord, bool, error)
}

// Resetter is implemented by stores that can drop all persisted state.
type Resetter interface {
	Reset(ctx context.Context) error
}
