package main

import (
	"context"
	"os"
	"path/filepath"
	"reflect"
	"testing"

	"agora/internal/stats"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	origWD, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	workdir := t.TempDir()
	if err := os.Chdir(workdir); err != nil {
		t.Fatalf("chdir tempdir: %v", err)
	}
	t.Cleanup(func() {
		_ = os.Chdir(origWD)
	})
	return workdir
}

func TestRunCommandCreatesArtifacts(t *testing.T) {
	chdirTemp(t)

	args := []string{
		"run",
		"--store", "memory",
		"--run-id", "cli-run",
		"--scape", "quality",
		"--pop", "6",
		"--gens", "2",
		"--scenarios", "8",
		"--seed", "11",
		"--workers", "2",
	}
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("run command: %v", err)
	}

	entries, err := stats.ListRunIndex("runs")
	if err != nil {
		t.Fatalf("list run index: %v", err)
	}
	if len(entries) != 1 || entries[0].RunID != "cli-run" {
		t.Fatalf("unexpected run index: %+v", entries)
	}

	for _, file := range []string{"config.json", "history.json", "summary.json", "revenue.csv", "market.csv"} {
		path := filepath.Join("runs", "cli-run", file)
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("expected artifact %s: %v", path, err)
		}
	}
}

func TestRunCommandWithYAMLProfile(t *testing.T) {
	workdir := chdirTemp(t)

	profile := `run_id: profile-run
scape: quality
population_size: 6
generations: 2
scenarios: 8
seed: 7
workers: 2
market:
  softmax_temperature: 1.5
  min_assignments: 2
`
	profilePath := filepath.Join(workdir, "profile.yaml")
	if err := os.WriteFile(profilePath, []byte(profile), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	if err := run(context.Background(), []string{"run", "--store", "memory", "--profile", profilePath}); err != nil {
		t.Fatalf("run command: %v", err)
	}

	cfg, ok, err := stats.ReadRunConfig("runs", "profile-run")
	if err != nil || !ok {
		t.Fatalf("ReadRunConfig: ok=%v err=%v", ok, err)
	}
	if cfg.Market.SoftmaxTemperature != 1.5 || cfg.Market.MinAssignments != 2 {
		t.Fatalf("profile market settings not applied: %+v", cfg.Market)
	}
}

func TestRunCommandProfileFlagOverride(t *testing.T) {
	workdir := chdirTemp(t)

	profile := `{"run_id": "json-run", "scape": "quality", "population_size": 6, "generations": 4, "scenarios": 8, "seed": 7, "workers": 2}`
	profilePath := filepath.Join(workdir, "profile.json")
	if err := os.WriteFile(profilePath, []byte(profile), 0o644); err != nil {
		t.Fatalf("write profile: %v", err)
	}

	args := []string{"run", "--store", "memory", "--profile", profilePath, "--gens", "2"}
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("run command: %v", err)
	}

	cfg, ok, err := stats.ReadRunConfig("runs", "json-run")
	if err != nil || !ok {
		t.Fatalf("ReadRunConfig: ok=%v err=%v", ok, err)
	}
	if cfg.Generations != 2 {
		t.Fatalf("flag should override profile generations, got %d", cfg.Generations)
	}
}

func TestRunsCommandEmpty(t *testing.T) {
	chdirTemp(t)
	if err := run(context.Background(), []string{"runs"}); err != nil {
		t.Fatalf("runs command on empty index: %v", err)
	}
}

func TestExportCommandSelectionErrors(t *testing.T) {
	chdirTemp(t)

	if err := run(context.Background(), []string{"export"}); err == nil {
		t.Fatalf("expected error when neither --run-id nor --latest is set")
	}
	if err := run(context.Background(), []string{"export", "--run-id", "x", "--latest"}); err == nil {
		t.Fatalf("expected error when both --run-id and --latest are set")
	}
}

func TestExportLatestCopiesArtifacts(t *testing.T) {
	chdirTemp(t)

	args := []string{
		"run",
		"--store", "memory",
		"--run-id", "cli-export",
		"--pop", "6",
		"--gens", "2",
		"--scenarios", "8",
		"--workers", "2",
	}
	if err := run(context.Background(), args); err != nil {
		t.Fatalf("run command: %v", err)
	}

	if err := run(context.Background(), []string{"export", "--latest"}); err != nil {
		t.Fatalf("export command: %v", err)
	}
	if _, err := os.Stat(filepath.Join("exports", "cli-export", "history.json")); err != nil {
		t.Fatalf("expected exported history: %v", err)
	}
}

func TestInitAndResetCommands(t *testing.T) {
	chdirTemp(t)

	if err := run(context.Background(), []string{"init", "--store", "memory"}); err != nil {
		t.Fatalf("init command: %v", err)
	}
	if err := run(context.Background(), []string{"reset", "--store", "memory"}); err != nil {
		t.Fatalf("reset command: %v", err)
	}
}

func TestUnknownCommand(t *testing.T) {
	if err := run(context.Background(), []string{"bogus"}); err == nil {
		t.Fatalf("expected error for unknown command")
	}
	if err := run(context.Background(), nil); err == nil {
		t.Fatalf("expected error for missing command")
	}
}

func TestSplitStrategies(t *testing.T) {
	got := splitStrategies(" 0.1, 0.5 ,0.9,")
	want := []string{"0.1", "0.5", "0.9"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("splitStrategies = %v, want %v", got, want)
	}
	if splitStrategies("  ") != nil {
		t.Fatalf("blank input should yield nil")
	}
}
