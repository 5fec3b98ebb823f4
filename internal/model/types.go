package model

// AgentID and ScenarioID are the canonical identifier types used throughout
// the engine. They are converted to strings only at serialization boundaries.
type AgentID int

type ScenarioID int

// VersionedRecord captures schema and codec evolution for persistent data.
type VersionedRecord struct {
	SchemaVersion int `json:"schema_version"`
	CodecVersion  int `json:"codec_version"`
}

// Agent is a candidate worker. The engine treats it as an opaque id; Strategy
// is the policy text owned by external mutators and evaluators.
type Agent struct {
	ID         AgentID   `json:"id"`
	Strategy   string    `json:"strategy"`
	Generation int       `json:"generation"`
	Parents    []AgentID `json:"parents,omitempty"`
	DevScore   float64   `json:"dev_score"`
	ValScore   float64   `json:"val_score"`
}

type Population struct {
	VersionedRecord
	ID         string  `json:"id"`
	Agents     []Agent `json:"agents"`
	Generation int     `json:"generation"`
}

// GenerationRecord is one entry of a run's history: ranking plus market
// statistics for a completed generation.
type GenerationRecord struct {
	Generation  int                `json:"generation"`
	BestAgentID AgentID            `json:"best_agent_id"`
	BestVal     float64            `json:"best_val"`
	MeanVal     float64            `json:"mean_val"`
	MarketStats map[string]float64 `json:"market_stats,omitempty"`
	Revenues    map[string]float64 `json:"revenues,omitempty"`
	DurationSec float64            `json:"duration_sec"`
}

// Checkpoint is the resumable state of a run, written after mutation so the
// agent counter reflects children created during the generation.
type Checkpoint struct {
	VersionedRecord
	RunID        string             `json:"run_id"`
	Generation   int                `json:"generation"`
	AgentCounter int                `json:"agent_counter"`
	Population   []Agent            `json:"population"`
	MarketState  []byte             `json:"market_state,omitempty"`
	History      []GenerationRecord `json:"history,omitempty"`
}

// RunRecord indexes one experiment run in the store.
type RunRecord struct {
	VersionedRecord
	RunID          string  `json:"run_id"`
	CreatedAtUTC   string  `json:"created_at_utc"`
	Scape          string  `json:"scape"`
	Seed           int64   `json:"seed"`
	PopulationSize int     `json:"population_size"`
	Generations    int     `json:"generations"`
	Scenarios      int     `json:"scenarios"`
	FinalBestVal   float64 `json:"final_best_val"`
	FinalGini      float64 `json:"final_gini"`
	FinalHHI       float64 `json:"final_hhi"`
}
