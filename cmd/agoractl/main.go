package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"

	"agora/internal/market"
	"agora/internal/storage"
	agoraapi "agora/pkg/agora"
)

const (
	runsDir    = "runs"
	exportsDir = "exports"
)

func main() {
	if err := run(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return usageError("missing command")
	}

	switch args[0] {
	case "init":
		return runInit(ctx, args[1:])
	case "reset":
		return runReset(ctx, args[1:])
	case "run":
		return runRun(ctx, args[1:])
	case "resume":
		return runResume(ctx, args[1:])
	case "runs":
		return runRuns(ctx, args[1:])
	case "market":
		return runMarket(ctx, args[1:])
	case "revenue":
		return runRevenue(ctx, args[1:])
	case "export":
		return runExport(ctx, args[1:])
	default:
		return usageError(fmt.Sprintf("unknown command: %s", args[0]))
	}
}

func usageError(msg string) error {
	return fmt.Errorf("%s\nusage: agoractl <init|reset|run|resume|runs|market|revenue|export> [flags]", msg)
}

func newClient(storeKind, dbPath string, verbose bool) (*agoraapi.Client, error) {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	return agoraapi.New(agoraapi.Options{
		StoreKind:  storeKind,
		DBPath:     dbPath,
		RunsDir:    runsDir,
		ExportsDir: exportsDir,
		Logger:     logger,
	})
}

func runInit(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "agora.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath, false)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Init(ctx); err != nil {
		return err
	}

	fmt.Printf("initialized store=%s\n", *storeKind)
	return nil
}

func runReset(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("reset", flag.ContinueOnError)
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "agora.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}

	client, err := newClient(*storeKind, *dbPath, false)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	if err := client.Reset(ctx); err != nil {
		return err
	}

	fmt.Printf("reset store=%s\n", *storeKind)
	return nil
}

func runRun(ctx context.Context, args []string) error {
	defaults := market.DefaultConfig()

	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	profilePath := fs.String("profile", "", "optional run profile path (JSON or YAML)")
	runID := fs.String("run-id", "", "explicit run id (optional, defaults to a generated uuid)")
	scapeName := fs.String("scape", "quality", "scape name: quality|step")
	mutatorName := fs.String("mutator", "jitter", "mutator: static|jitter")
	mutatorSpread := fs.Float64("mutator-spread", 0.1, "jitter mutation spread")
	strategies := fs.String("strategies", "", "comma-separated seed strategies")
	population := fs.Int("pop", 20, "population size")
	generations := fs.Int("gens", 30, "generation count")
	scenarios := fs.Int("scenarios", 30, "scenario count per generation")
	eliteCount := fs.Int("elites", 0, "elite count (0 derives from population size)")
	freshInjection := fs.Int("fresh", 0, "fresh agents injected per generation")
	gatingTolerance := fs.Float64("gating-tolerance", 0.05, "child acceptance tolerance against parent validation score")
	workers := fs.Int("workers", 4, "worker count")
	seed := fs.Int64("seed", 1, "rng seed")
	temperature := fs.Float64("temperature", defaults.SoftmaxTemperature, "softmax temperature for task allocation")
	survivalThreshold := fs.Float64("survival-threshold", defaults.SurvivalThreshold, "fraction of agents culled each generation")
	memoryDepth := fs.Int("memory-depth", defaults.MemoryDepth, "scores remembered per client-agent pair")
	explorationBonus := fs.Float64("exploration-bonus", defaults.ExplorationBonus, "assumed score for agents a client has not tried")
	minAssignments := fs.Int("min-assignments", defaults.MinAssignments, "minimum scenarios per agent when feasible")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "agora.db", "sqlite database path")
	verbose := fs.Bool("verbose", false, "log per-generation progress")
	jsonOut := fs.Bool("json", false, "emit run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	setFlags := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		setFlags[f.Name] = true
	})

	var req agoraapi.RunRequest
	if *profilePath != "" {
		loaded, err := loadRunProfile(*profilePath)
		if err != nil {
			return err
		}
		req = loaded
	}
	if *profilePath == "" || setFlags["run-id"] {
		req.RunID = *runID
	}
	if *profilePath == "" || setFlags["scape"] {
		req.Scape = *scapeName
	}
	if *profilePath == "" || setFlags["mutator"] {
		req.Mutator = *mutatorName
	}
	if *profilePath == "" || setFlags["mutator-spread"] {
		req.MutatorSpread = *mutatorSpread
	}
	if *profilePath == "" || setFlags["strategies"] {
		req.SeedStrategies = splitStrategies(*strategies)
	}
	if *profilePath == "" || setFlags["pop"] {
		req.Population = *population
	}
	if *profilePath == "" || setFlags["gens"] {
		req.Generations = *generations
	}
	if *profilePath == "" || setFlags["scenarios"] {
		req.Scenarios = *scenarios
	}
	if *profilePath == "" || setFlags["elites"] {
		req.EliteCount = *eliteCount
	}
	if *profilePath == "" || setFlags["fresh"] {
		req.FreshInjection = *freshInjection
	}
	if *profilePath == "" || setFlags["gating-tolerance"] {
		req.GatingTolerance = *gatingTolerance
	}
	if *profilePath == "" || setFlags["workers"] {
		req.Workers = *workers
	}
	if *profilePath == "" || setFlags["seed"] {
		req.Seed = *seed
	}
	if *profilePath == "" {
		req.Market = market.Config{
			SoftmaxTemperature: *temperature,
			SurvivalThreshold:  *survivalThreshold,
			MemoryDepth:        *memoryDepth,
			ExplorationBonus:   *explorationBonus,
			MinAssignments:     *minAssignments,
		}
	} else {
		if setFlags["temperature"] {
			req.Market.SoftmaxTemperature = *temperature
		}
		if setFlags["survival-threshold"] {
			req.Market.SurvivalThreshold = *survivalThreshold
		}
		if setFlags["memory-depth"] {
			req.Market.MemoryDepth = *memoryDepth
		}
		if setFlags["exploration-bonus"] {
			req.Market.ExplorationBonus = *explorationBonus
		}
		if setFlags["min-assignments"] {
			req.Market.MinAssignments = *minAssignments
		}
	}

	client, err := newClient(*storeKind, *dbPath, *verbose)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Run(ctx, req)
	if err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(runSummaryJSON(summary))
	}
	fmt.Printf("run_id=%s best_val=%.4f gini=%.4f hhi=%.4f artifacts=%s\n",
		summary.RunID, summary.FinalBestVal, summary.FinalGini, summary.FinalHHI, summary.ArtifactsDir)
	return nil
}

func runResume(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "resume the most recent run from run index")
	generations := fs.Int("gens", 0, "new total generation count (0 keeps the recorded count)")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "agora.db", "sqlite database path")
	verbose := fs.Bool("verbose", false, "log per-generation progress")
	jsonOut := fs.Bool("json", false, "emit run summary as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("resume requires --run-id or --latest")
	}

	client, err := newClient(*storeKind, *dbPath, *verbose)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	summary, err := client.Resume(ctx, agoraapi.ResumeRequest{
		RunID:       *runID,
		Latest:      *latest,
		Generations: *generations,
	})
	if err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(runSummaryJSON(summary))
	}
	fmt.Printf("resumed run_id=%s best_val=%.4f gini=%.4f hhi=%.4f artifacts=%s\n",
		summary.RunID, summary.FinalBestVal, summary.FinalGini, summary.FinalHHI, summary.ArtifactsDir)
	return nil
}

func runRuns(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "max runs to list")
	jsonOut := fs.Bool("json", false, "emit runs list as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *limit <= 0 {
		return errors.New("limit must be > 0")
	}

	client, err := newClient("memory", "", false)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.Runs(ctx, agoraapi.RunsRequest{Limit: *limit})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	if *jsonOut {
		type runsItem struct {
			RunID        string  `json:"run_id"`
			CreatedAtUTC string  `json:"created_at_utc"`
			Scape        string  `json:"scape"`
			Seed         int64   `json:"seed"`
			Population   int     `json:"population_size"`
			Generations  int     `json:"generations"`
			FinalBestVal float64 `json:"final_best_val"`
			FinalGini    float64 `json:"final_gini"`
			FinalHHI     float64 `json:"final_hhi"`
		}
		out := make([]runsItem, 0, len(items))
		for _, item := range items {
			out = append(out, runsItem{
				RunID:        item.RunID,
				CreatedAtUTC: item.CreatedAtUTC,
				Scape:        item.Scape,
				Seed:         item.Seed,
				Population:   item.Population,
				Generations:  item.Generations,
				FinalBestVal: item.FinalBestVal,
				FinalGini:    item.FinalGini,
				FinalHHI:     item.FinalHHI,
			})
		}
		return printJSON(out)
	}

	for _, item := range items {
		fmt.Printf("%s  scape=%s seed=%d pop=%d gens=%d best_val=%.4f gini=%.4f  %s\n",
			item.RunID, item.Scape, item.Seed, item.Population, item.Generations,
			item.FinalBestVal, item.FinalGini, formatCreatedAt(item.CreatedAtUTC))
	}
	return nil
}

func runMarket(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("market", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show market stats for the most recent run from run index")
	limit := fs.Int("limit", 50, "max generations to print (<=0 for all)")
	jsonOut := fs.Bool("json", false, "emit market stats as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "agora.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("market requires --run-id or --latest")
	}
	if *limit < 0 {
		*limit = 0
	}

	client, err := newClient(*storeKind, *dbPath, false)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	items, err := client.MarketStats(ctx, agoraapi.MarketStatsRequest{
		RunID:  *runID,
		Latest: *latest,
		Limit:  *limit,
	})
	if err != nil {
		return err
	}
	if len(items) == 0 {
		fmt.Println("no market stats")
		return nil
	}

	if *jsonOut {
		return printJSON(items)
	}
	for _, item := range items {
		fmt.Printf("gen=%d best_agent=%d best_val=%.4f mean_val=%.4f mean_rev=%.4f gini=%.4f hhi=%.4f\n",
			item.Generation, int(item.BestAgentID), item.BestVal, item.MeanVal,
			item.MeanRevenue, item.Gini, item.HHI)
	}
	return nil
}

func runRevenue(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("revenue", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "show revenues for the most recent run from run index")
	generation := fs.Int("gen", -1, "generation to print (-1 for the last recorded)")
	jsonOut := fs.Bool("json", false, "emit revenues as JSON")
	storeKind := fs.String("store", storage.DefaultStoreKind(), "store backend: memory|sqlite")
	dbPath := fs.String("db-path", "agora.db", "sqlite database path")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("revenue requires --run-id or --latest")
	}

	client, err := newClient(*storeKind, *dbPath, false)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	revenues, err := client.Revenue(ctx, agoraapi.RevenueRequest{
		RunID:      *runID,
		Latest:     *latest,
		Generation: *generation,
	})
	if err != nil {
		return err
	}

	if *jsonOut {
		return printJSON(revenues)
	}
	agentIDs := make([]string, 0, len(revenues))
	for agentID := range revenues {
		agentIDs = append(agentIDs, agentID)
	}
	sort.Strings(agentIDs)
	for _, agentID := range agentIDs {
		fmt.Printf("agent=%s revenue=%.4f\n", agentID, revenues[agentID])
	}
	return nil
}

func runExport(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	runID := fs.String("run-id", "", "run id")
	latest := fs.Bool("latest", false, "export the most recent run from run index")
	outDir := fs.String("out", exportsDir, "export output directory")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *runID != "" && *latest {
		return errors.New("use either --run-id or --latest, not both")
	}
	if *runID == "" && !*latest {
		return errors.New("export requires --run-id or --latest")
	}

	client, err := newClient("memory", "", false)
	if err != nil {
		return err
	}
	defer func() {
		_ = client.Close()
	}()

	exported, err := client.Export(ctx, agoraapi.ExportRequest{
		RunID:  *runID,
		Latest: *latest,
		OutDir: *outDir,
	})
	if err != nil {
		return err
	}

	fmt.Printf("exported run_id=%s to=%s\n", exported.RunID, exported.Directory)
	return nil
}

func splitStrategies(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func formatCreatedAt(createdAtUTC string) string {
	created, err := time.Parse(time.RFC3339Nano, createdAtUTC)
	if err != nil {
		return createdAtUTC
	}
	return humanize.Time(created)
}

func runSummaryJSON(summary agoraapi.RunSummary) map[string]any {
	return map[string]any{
		"run_id":             summary.RunID,
		"artifacts_dir":      summary.ArtifactsDir,
		"best_by_generation": summary.BestByGeneration,
		"final_best_val":     summary.FinalBestVal,
		"final_gini":         summary.FinalGini,
		"final_hhi":          summary.FinalHHI,
	}
}

func printJSON(value any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(value)
}
