package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestParseOverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
rounds: 5
clients: 4
updates_needed: 3
ledger:
  driver: sqlite
  path: /tmp/ledger.db
  timeout: 2s
artifacts:
  backend: s3
  s3:
    bucket: models
    endpoint: http://localhost:9000
    use_path_style: true
watch:
  interval: 5s
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if cfg.Rounds != 5 || cfg.Clients != 4 || cfg.UpdatesNeeded != 3 {
		t.Errorf("rounds/clients/needed = %d/%d/%d", cfg.Rounds, cfg.Clients, cfg.UpdatesNeeded)
	}
	if cfg.Ledger.Driver != "sqlite" || cfg.Ledger.Timeout != 2*time.Second {
		t.Errorf("ledger = %+v", cfg.Ledger)
	}
	if cfg.Ledger.AggregatorAccount != "aggregator" {
		t.Errorf("default aggregator account lost: %q", cfg.Ledger.AggregatorAccount)
	}
	if !cfg.Artifacts.S3.UsePathStyle || cfg.Artifacts.S3.Bucket != "models" {
		t.Errorf("artifacts = %+v", cfg.Artifacts)
	}
	if cfg.Watch.Interval != 5*time.Second {
		t.Errorf("watch interval = %s", cfg.Watch.Interval)
	}
	if cfg.Paths.StatusFile != "status.json" {
		t.Errorf("default status file lost: %q", cfg.Paths.StatusFile)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"zero quorum", "updates_needed: 0", "updates_needed"},
		{"no rounds", "rounds: 0", "rounds"},
		{"bad driver", "ledger:\n  driver: ethereum", "ledger.driver"},
		{"s3 without bucket", "artifacts:\n  backend: s3", "bucket"},
		{"bad log level", "log_level: LOUD", "log_level"},
		{"accuracy out of range", "target_accuracy: 120", "target_accuracy"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flchain.yaml")
	if err := os.WriteFile(path, []byte("rounds: 7\n"), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	t.Setenv(ConfigEnvVar, path)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Rounds != 7 {
		t.Errorf("rounds = %d, want 7", cfg.Rounds)
	}

	t.Setenv(ConfigEnvVar, "")
	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load defaults: %v", err)
	}
	if cfg.Rounds != Default().Rounds {
		t.Errorf("rounds = %d, want default", cfg.Rounds)
	}
}

func TestForRunSeparatesOutputs(t *testing.T) {
	cfg := Default()
	run := cfg.ForRun("runs", "abc")

	want := map[string]string{
		run.Paths.StatusFile:   filepath.Join("runs", "abc", "status.json"),
		run.Paths.HistoryFile:  filepath.Join("runs", "abc", "history.csv"),
		run.Paths.SnapshotFile: filepath.Join("runs", "abc", "final_snapshot.json"),
		run.Ledger.Path:        filepath.Join("runs", "abc", "ledger.db"),
	}
	for got, expected := range want {
		if got != expected {
			t.Errorf("path = %q, want %q", got, expected)
		}
	}
	if cfg.Paths.StatusFile != "status.json" {
		t.Errorf("ForRun modified the original config: %q", cfg.Paths.StatusFile)
	}
}
