// Package agora is the embedding API for the market-based task allocation
// platform. It wraps the exchange, storage and artifact layers behind a
// single client so hosts and the CLI share one entry point.
package agora

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"agora/internal/market"
	"agora/internal/model"
	"agora/internal/platform"
	"agora/internal/scape"
	"agora/internal/stats"
	"agora/internal/storage"
)

const (
	defaultRunsDir    = "runs"
	defaultExportsDir = "exports"
	defaultDBPath     = "agora.db"
)

type Options struct {
	StoreKind  string
	DBPath     string
	RunsDir    string
	ExportsDir string
	Logger     *slog.Logger
}

type Client struct {
	store    storage.Store
	exchange *platform.Exchange
	log      *slog.Logger

	runsDir    string
	exportsDir string
}

type RunRequest struct {
	RunID           string
	Scape           string
	Mutator         string
	MutatorSpread   float64
	SeedStrategies  []string
	Population      int
	Generations     int
	Scenarios       int
	EliteCount      int
	FreshInjection  int
	GatingTolerance float64
	Workers         int
	Seed            int64
	Market          market.Config
}

type RunSummary struct {
	RunID            string
	ArtifactsDir     string
	BestByGeneration []float64
	FinalBestVal     float64
	FinalGini        float64
	FinalHHI         float64
}

type ResumeRequest struct {
	RunID       string
	Latest      bool
	Generations int
}

type RunsRequest struct {
	Limit int
}

type RunItem struct {
	RunID        string
	CreatedAtUTC string
	Scape        string
	Seed         int64
	Population   int
	Generations  int
	FinalBestVal float64
	FinalGini    float64
	FinalHHI     float64
}

type MarketStatsRequest struct {
	RunID  string
	Latest bool
	Limit  int
}

type MarketStatsItem struct {
	Generation  int
	BestAgentID model.AgentID
	BestVal     float64
	MeanVal     float64
	MeanRevenue float64
	MaxRevenue  float64
	MinRevenue  float64
	Gini        float64
	HHI         float64
}

type RevenueRequest struct {
	RunID      string
	Latest     bool
	Generation int
}

type ExportRequest struct {
	RunID  string
	Latest bool
	OutDir string
}

type ExportSummary struct {
	RunID     string
	Directory string
}

func New(opts Options) (*Client, error) {
	storeKind := opts.StoreKind
	if storeKind == "" {
		storeKind = storage.DefaultStoreKind()
	}
	dbPath := opts.DBPath
	if dbPath == "" {
		dbPath = defaultDBPath
	}
	runsDir := opts.RunsDir
	if runsDir == "" {
		runsDir = defaultRunsDir
	}
	exportsDir := opts.ExportsDir
	if exportsDir == "" {
		exportsDir = defaultExportsDir
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	store, err := storage.NewStore(storeKind, dbPath)
	if err != nil {
		return nil, err
	}

	return &Client{
		store:      store,
		log:        logger,
		runsDir:    runsDir,
		exportsDir: exportsDir,
	}, nil
}

func (c *Client) Close() error {
	return storage.CloseIfSupported(c.store)
}

func (c *Client) Init(ctx context.Context) error {
	_, err := c.ensureExchange(ctx)
	return err
}

// Reset drops all persisted run state from the store.
func (c *Client) Reset(ctx context.Context) error {
	ex, err := c.ensureExchange(ctx)
	if err != nil {
		return err
	}
	return ex.Reset(ctx)
}

func (c *Client) Run(ctx context.Context, req RunRequest) (RunSummary, error) {
	applyRunDefaults(&req)

	runCfg, sc, err := buildRunConfig(req)
	if err != nil {
		return RunSummary{}, err
	}

	ex, err := c.ensureExchange(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	result, err := ex.Run(ctx, runCfg)
	if err != nil {
		return RunSummary{}, err
	}
	return c.writeRunOutputs(req, sc, result)
}

// Resume restarts an interrupted run from its latest checkpoint, replaying
// the launch parameters recorded in the run's artifact directory.
func (c *Client) Resume(ctx context.Context, req ResumeRequest) (RunSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return RunSummary{}, err
	}

	cfg, ok, err := stats.ReadRunConfig(c.runsDir, runID)
	if err != nil {
		return RunSummary{}, err
	}
	if !ok {
		return RunSummary{}, fmt.Errorf("run config not found for run id: %s", runID)
	}

	runReq := RunRequest{
		RunID:           cfg.RunID,
		Scape:           cfg.Scape,
		Mutator:         cfg.Mutator,
		MutatorSpread:   cfg.MutatorSpread,
		SeedStrategies:  cfg.SeedStrategies,
		Population:      cfg.PopulationSize,
		Generations:     cfg.Generations,
		Scenarios:       cfg.Scenarios,
		EliteCount:      cfg.EliteCount,
		FreshInjection:  cfg.FreshInjection,
		GatingTolerance: cfg.GatingTolerance,
		Workers:         cfg.Workers,
		Seed:            cfg.Seed,
		Market:          cfg.Market,
	}
	if req.Generations > 0 {
		runReq.Generations = req.Generations
	}
	applyRunDefaults(&runReq)

	runCfg, sc, err := buildRunConfig(runReq)
	if err != nil {
		return RunSummary{}, err
	}

	ex, err := c.ensureExchange(ctx)
	if err != nil {
		return RunSummary{}, err
	}

	result, err := ex.Resume(ctx, runCfg)
	if err != nil {
		return RunSummary{}, err
	}
	return c.writeRunOutputs(runReq, sc, result)
}

func (c *Client) Runs(_ context.Context, req RunsRequest) ([]RunItem, error) {
	if req.Limit <= 0 {
		req.Limit = 20
	}

	entries, err := stats.ListRunIndex(c.runsDir)
	if err != nil {
		return nil, err
	}
	if len(entries) > req.Limit {
		entries = entries[:req.Limit]
	}

	out := make([]RunItem, 0, len(entries))
	for _, e := range entries {
		out = append(out, RunItem{
			RunID:        e.RunID,
			CreatedAtUTC: e.CreatedAtUTC,
			Scape:        e.Scape,
			Seed:         e.Seed,
			Population:   e.PopulationSize,
			Generations:  e.Generations,
			FinalBestVal: e.FinalBestVal,
			FinalGini:    e.FinalGini,
			FinalHHI:     e.FinalHHI,
		})
	}
	return out, nil
}

// MarketStats returns the per-generation market statistics of a run, newest
// generation last.
func (c *Client) MarketStats(ctx context.Context, req MarketStatsRequest) ([]MarketStatsItem, error) {
	if req.Limit < 0 {
		return nil, errors.New("limit must be >= 0")
	}
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}

	if _, err := c.ensureExchange(ctx); err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetGenerationHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("history not found for run id: %s", runID)
	}
	if req.Limit > 0 && len(history) > req.Limit {
		history = history[len(history)-req.Limit:]
	}

	out := make([]MarketStatsItem, 0, len(history))
	for _, record := range history {
		out = append(out, MarketStatsItem{
			Generation:  record.Generation,
			BestAgentID: record.BestAgentID,
			BestVal:     record.BestVal,
			MeanVal:     record.MeanVal,
			MeanRevenue: record.MarketStats["mean_revenue"],
			MaxRevenue:  record.MarketStats["max_revenue"],
			MinRevenue:  record.MarketStats["min_revenue"],
			Gini:        record.MarketStats["gini_coefficient"],
			HHI:         record.MarketStats["hhi"],
		})
	}
	return out, nil
}

// Revenue returns the per-agent revenues of one generation, or of the last
// recorded generation when req.Generation is negative.
func (c *Client) Revenue(ctx context.Context, req RevenueRequest) (map[string]float64, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return nil, err
	}

	if _, err := c.ensureExchange(ctx); err != nil {
		return nil, err
	}
	history, ok, err := c.store.GetGenerationHistory(ctx, runID)
	if err != nil {
		return nil, err
	}
	if !ok || len(history) == 0 {
		return nil, fmt.Errorf("history not found for run id: %s", runID)
	}

	if req.Generation < 0 {
		req.Generation = history[len(history)-1].Generation
	}
	for _, record := range history {
		if record.Generation == req.Generation {
			out := make(map[string]float64, len(record.Revenues))
			for agentID, revenue := range record.Revenues {
				out[agentID] = revenue
			}
			return out, nil
		}
	}
	return nil, fmt.Errorf("generation %d not found for run id: %s", req.Generation, runID)
}

func (c *Client) Export(_ context.Context, req ExportRequest) (ExportSummary, error) {
	runID, err := c.resolveRunID(req.RunID, req.Latest)
	if err != nil {
		return ExportSummary{}, err
	}
	if req.OutDir == "" {
		req.OutDir = c.exportsDir
	}

	exportedDir, err := stats.ExportRunArtifacts(c.runsDir, runID, req.OutDir)
	if err != nil {
		return ExportSummary{}, err
	}
	return ExportSummary{RunID: runID, Directory: filepath.Clean(exportedDir)}, nil
}

func (c *Client) resolveRunID(runID string, latest bool) (string, error) {
	if runID != "" && latest {
		return "", errors.New("use either run id or latest")
	}
	if latest {
		entries, err := stats.ListRunIndex(c.runsDir)
		if err != nil {
			return "", err
		}
		if len(entries) == 0 {
			return "", errors.New("no runs available")
		}
		return entries[0].RunID, nil
	}
	if runID == "" {
		return "", errors.New("run id or latest is required")
	}
	return runID, nil
}

func (c *Client) ensureExchange(ctx context.Context) (*platform.Exchange, error) {
	if c.exchange != nil {
		return c.exchange, nil
	}
	ex := platform.NewExchange(platform.Config{Store: c.store, Logger: c.log})
	if err := ex.Init(ctx); err != nil {
		return nil, err
	}
	c.exchange = ex
	return c.exchange, nil
}

func applyRunDefaults(req *RunRequest) {
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if req.Scape == "" {
		req.Scape = "quality"
	}
	if req.Mutator == "" {
		req.Mutator = "jitter"
	}
	if req.MutatorSpread <= 0 {
		req.MutatorSpread = 0.1
	}
	if len(req.SeedStrategies) == 0 {
		req.SeedStrategies = []string{"0.2", "0.4", "0.6", "0.8"}
	}
	if req.Population <= 0 {
		req.Population = 20
	}
	if req.Generations <= 0 {
		req.Generations = 30
	}
	if req.Scenarios <= 0 {
		req.Scenarios = 30
	}
	if req.EliteCount <= 0 {
		req.EliteCount = req.Population / 10
		if req.EliteCount < 1 {
			req.EliteCount = 1
		}
	}
	if req.FreshInjection < 0 {
		req.FreshInjection = 0
	}
	if req.GatingTolerance <= 0 {
		req.GatingTolerance = 0.05
	}
	if req.Workers <= 0 {
		req.Workers = 4
	}
	if req.Market == (market.Config{}) {
		req.Market = market.DefaultConfig()
	}
}

func buildRunConfig(req RunRequest) (platform.RunConfig, scape.Scape, error) {
	sc, err := scape.Resolve(req.Scape, req.Seed)
	if err != nil {
		return platform.RunConfig{}, nil, err
	}
	mutator, err := platform.ResolveMutator(req.Mutator, req.MutatorSpread, req.Seed+1000)
	if err != nil {
		return platform.RunConfig{}, nil, err
	}
	return platform.RunConfig{
		RunID:           req.RunID,
		Scape:           sc,
		Mutator:         mutator,
		SeedStrategies:  req.SeedStrategies,
		PopulationSize:  req.Population,
		Generations:     req.Generations,
		Scenarios:       req.Scenarios,
		EliteCount:      req.EliteCount,
		FreshInjection:  req.FreshInjection,
		GatingTolerance: req.GatingTolerance,
		Workers:         req.Workers,
		Seed:            req.Seed,
		Market:          req.Market,
	}, sc, nil
}

func (c *Client) writeRunOutputs(req RunRequest, sc scape.Scape, result platform.RunResult) (RunSummary, error) {
	runDir, err := stats.WriteRunArtifacts(c.runsDir, stats.RunArtifacts{
		Config: stats.RunConfig{
			RunID:           req.RunID,
			Scape:           sc.Name(),
			Mutator:         req.Mutator,
			MutatorSpread:   req.MutatorSpread,
			SeedStrategies:  req.SeedStrategies,
			PopulationSize:  req.Population,
			Generations:     req.Generations,
			Scenarios:       req.Scenarios,
			EliteCount:      req.EliteCount,
			FreshInjection:  req.FreshInjection,
			GatingTolerance: req.GatingTolerance,
			Workers:         req.Workers,
			Seed:            req.Seed,
			Market:          req.Market,
		},
		History:          result.History,
		BestByGeneration: result.BestByGeneration,
		FinalBestVal:     result.BestAgent.ValScore,
		FinalStats:       result.FinalStats,
		FinalPopulation:  result.FinalPopulation,
	})
	if err != nil {
		return RunSummary{}, err
	}

	if err := stats.AppendRunIndex(c.runsDir, stats.RunIndexEntry{
		RunID:          req.RunID,
		Scape:          sc.Name(),
		PopulationSize: req.Population,
		Generations:    req.Generations,
		Seed:           req.Seed,
		Workers:        req.Workers,
		EliteCount:     req.EliteCount,
		FinalBestVal:   result.BestAgent.ValScore,
		FinalGini:      result.FinalStats.Gini,
		FinalHHI:       result.FinalStats.HHI,
		CreatedAtUTC:   time.Now().UTC().Format(time.RFC3339Nano),
	}); err != nil {
		return RunSummary{}, err
	}

	return RunSummary{
		RunID:            req.RunID,
		ArtifactsDir:     filepath.Clean(runDir),
		BestByGeneration: append([]float64(nil), result.BestByGeneration...),
		FinalBestVal:     result.BestAgent.ValScore,
		FinalGini:        result.FinalStats.Gini,
		FinalHHI:         result.FinalStats.HHI,
	}, nil
}
