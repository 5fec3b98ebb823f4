package stats

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"agora/internal/market"
	"agora/internal/model"
)

const runIndexFile = "run_index.json"

// RunConfig is the on-disk record of how a run was launched. It mirrors the
// launch parameters rather than internal engine state, so a run can be
// repeated from its artifact directory alone.
type RunConfig struct {
	RunID           string        `json:"run_id"`
	Scape           string        `json:"scape"`
	Mutator         string        `json:"mutator"`
	MutatorSpread   float64       `json:"mutator_spread,omitempty"`
	SeedStrategies  []string      `json:"seed_strategies"`
	PopulationSize  int           `json:"population_size"`
	Generations     int           `json:"generations"`
	Scenarios       int           `json:"scenarios"`
	EliteCount      int           `json:"elite_count"`
	FreshInjection  int           `json:"fresh_injection"`
	GatingTolerance float64       `json:"gating_tolerance"`
	Workers         int           `json:"workers"`
	Seed            int64         `json:"seed"`
	StoreKind       string        `json:"store_kind,omitempty"`
	Market          market.Config `json:"market"`
}

type RunArtifacts struct {
	Config           RunConfig                `json:"config"`
	History          []model.GenerationRecord `json:"history"`
	BestByGeneration []float64                `json:"best_by_generation"`
	FinalBestVal     float64                  `json:"final_best_val"`
	FinalStats       market.Stats             `json:"final_stats"`
	FinalPopulation  []model.Agent            `json:"final_population"`
}

type RunIndexEntry struct {
	RunID          string  `json:"run_id"`
	Scape          string  `json:"scape"`
	PopulationSize int     `json:"population_size"`
	Generations    int     `json:"generations"`
	Seed           int64   `json:"seed"`
	Workers        int     `json:"workers"`
	EliteCount     int     `json:"elite_count"`
	FinalBestVal   float64 `json:"final_best_val"`
	FinalGini      float64 `json:"final_gini"`
	FinalHHI       float64 `json:"final_hhi"`
	CreatedAtUTC   string  `json:"created_at_utc"`
}

// WriteRunArtifacts writes the full artifact set for one run under
// baseDir/<run_id>/ and returns the run directory.
func WriteRunArtifacts(baseDir string, artifacts RunArtifacts) (string, error) {
	if artifacts.Config.RunID == "" {
		return "", fmt.Errorf("run id is required")
	}

	runDir := filepath.Join(baseDir, artifacts.Config.RunID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return "", err
	}

	if err := writeJSON(filepath.Join(runDir, "config.json"), artifacts.Config); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "history.json"), artifacts.History); err != nil {
		return "", err
	}
	if err := writeJSON(filepath.Join(runDir, "summary.json"), map[string]any{
		"best_by_generation": artifacts.BestByGeneration,
		"final_best_val":     artifacts.FinalBestVal,
		"final_stats":        artifacts.FinalStats,
		"final_population":   artifacts.FinalPopulation,
	}); err != nil {
		return "", err
	}
	if err := writeRevenueCSV(filepath.Join(runDir, "revenue.csv"), artifacts.History); err != nil {
		return "", err
	}
	if err := writeMarketCSV(filepath.Join(runDir, "market.csv"), artifacts.History); err != nil {
		return "", err
	}

	return runDir, nil
}

func AppendRunIndex(baseDir string, entry RunIndexEntry) error {
	if entry.RunID == "" {
		return fmt.Errorf("run id is required")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return err
	}

	index, err := ListRunIndex(baseDir)
	if err != nil {
		return err
	}

	for i := range index {
		if index[i].RunID == entry.RunID {
			index[i] = entry
			return writeJSON(filepath.Join(baseDir, runIndexFile), index)
		}
	}

	index = append(index, entry)
	return writeJSON(filepath.Join(baseDir, runIndexFile), index)
}

func ListRunIndex(baseDir string) ([]RunIndexEntry, error) {
	path := filepath.Join(baseDir, runIndexFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []RunIndexEntry{}, nil
		}
		return nil, err
	}

	var entries []RunIndexEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	type indexedEntry struct {
		entry RunIndexEntry
		idx   int
	}
	indexed := make([]indexedEntry, len(entries))
	for i := range entries {
		indexed[i] = indexedEntry{entry: entries[i], idx: i}
	}
	sort.Slice(indexed, func(i, j int) bool {
		if indexed[i].entry.CreatedAtUTC == indexed[j].entry.CreatedAtUTC {
			// Prefer later appended entries for equal timestamps.
			return indexed[i].idx > indexed[j].idx
		}
		return indexed[i].entry.CreatedAtUTC > indexed[j].entry.CreatedAtUTC
	})

	sorted := make([]RunIndexEntry, 0, len(indexed))
	for _, item := range indexed {
		sorted = append(sorted, item.entry)
	}
	return sorted, nil
}

// ExportRunArtifacts copies a run's artifact files into outDir/<run_id>/.
func ExportRunArtifacts(baseDir, runID, outDir string) (string, error) {
	if runID == "" {
		return "", fmt.Errorf("run id is required")
	}

	src := filepath.Join(baseDir, runID)
	if _, err := os.Stat(src); err != nil {
		return "", err
	}

	dst := filepath.Join(outDir, runID)
	if err := os.MkdirAll(dst, 0o755); err != nil {
		return "", err
	}

	files := []string{"config.json", "history.json", "summary.json", "revenue.csv", "market.csv"}
	for _, file := range files {
		srcPath := filepath.Join(src, file)
		if _, err := os.Stat(srcPath); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return "", err
		}
		if err := copyFile(srcPath, filepath.Join(dst, file)); err != nil {
			return "", err
		}
	}

	return dst, nil
}

func ReadRunConfig(baseDir, runID string) (RunConfig, bool, error) {
	path := filepath.Join(baseDir, runID, "config.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return RunConfig{}, false, nil
		}
		return RunConfig{}, false, err
	}

	var cfg RunConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return RunConfig{}, false, err
	}
	return cfg, true, nil
}

func WriteRunConfig(baseDir, runID string, cfg RunConfig) error {
	if strings.TrimSpace(runID) == "" {
		return fmt.Errorf("run id is required")
	}
	if strings.TrimSpace(cfg.RunID) == "" {
		cfg.RunID = strings.TrimSpace(runID)
	}
	if cfg.RunID != strings.TrimSpace(runID) {
		return fmt.Errorf("run config run id mismatch: got=%s want=%s", cfg.RunID, strings.TrimSpace(runID))
	}
	runDir := filepath.Join(baseDir, runID)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return err
	}
	return writeJSON(filepath.Join(runDir, "config.json"), cfg)
}

func ReadHistory(baseDir, runID string) ([]model.GenerationRecord, bool, error) {
	path := filepath.Join(baseDir, runID, "history.json")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}

	var history []model.GenerationRecord
	if err := json.Unmarshal(data, &history); err != nil {
		return nil, false, err
	}
	return history, true, nil
}

// writeRevenueCSV writes one row per (generation, agent) with the agent's
// summed revenue for that generation.
func writeRevenueCSV(path string, history []model.GenerationRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	if err := writer.Write([]string{"generation", "agent_id", "revenue"}); err != nil {
		return err
	}
	for _, record := range history {
		agentIDs := make([]string, 0, len(record.Revenues))
		for agentID := range record.Revenues {
			agentIDs = append(agentIDs, agentID)
		}
		sort.Slice(agentIDs, func(i, j int) bool {
			a, errA := strconv.Atoi(agentIDs[i])
			b, errB := strconv.Atoi(agentIDs[j])
			if errA != nil || errB != nil {
				return agentIDs[i] < agentIDs[j]
			}
			return a < b
		})
		for _, agentID := range agentIDs {
			if err := writer.Write([]string{
				strconv.Itoa(record.Generation),
				agentID,
				strconv.FormatFloat(record.Revenues[agentID], 'f', -1, 64),
			}); err != nil {
				return err
			}
		}
	}
	writer.Flush()
	return writer.Error()
}

// writeMarketCSV writes one row per generation with ranking and market
// inequality statistics.
func writeMarketCSV(path string, history []model.GenerationRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	header := []string{"generation", "best_agent_id", "best_val", "mean_val", "mean_revenue", "max_revenue", "min_revenue", "gini_coefficient", "hhi", "duration_sec"}
	if err := writer.Write(header); err != nil {
		return err
	}
	for _, record := range history {
		row := []string{
			strconv.Itoa(record.Generation),
			strconv.Itoa(int(record.BestAgentID)),
			strconv.FormatFloat(record.BestVal, 'f', -1, 64),
			strconv.FormatFloat(record.MeanVal, 'f', -1, 64),
		}
		for _, key := range []string{"mean_revenue", "max_revenue", "min_revenue", "gini_coefficient", "hhi"} {
			row = append(row, strconv.FormatFloat(record.MarketStats[key], 'f', -1, 64))
		}
		row = append(row, strconv.FormatFloat(record.DurationSec, 'f', -1, 64))
		if err := writer.Write(row); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}

func ReadMarketSeries(baseDir, runID string) ([]map[string]float64, bool, error) {
	path := filepath.Join(baseDir, runID, "market.csv")
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	defer file.Close()

	reader := csv.NewReader(file)
	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return []map[string]float64{}, true, nil
		}
		return nil, false, err
	}

	series := make([]map[string]float64, 0, 64)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, false, err
		}
		if len(record) != len(header) {
			return nil, false, fmt.Errorf("market series row has %d columns, want %d", len(record), len(header))
		}
		row := make(map[string]float64, len(header))
		for i, key := range header {
			value, err := strconv.ParseFloat(record[i], 64)
			if err != nil {
				return nil, false, err
			}
			row[key] = value
		}
		series = append(series, row)
	}
	return series, true, nil
}

func writeJSON(path string, value any) error {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	return os.WriteFile(path, data, 0o644)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
