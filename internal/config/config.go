// Package config loads the run configuration from a YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/hashicorp/go-hclog"
	"gopkg.in/yaml.v3"
)

const ConfigEnvVar = "FLCHAIN_CONFIG"

type Config struct {
	Rounds         int       `yaml:"rounds"`
	Clients        int       `yaml:"clients"`
	UpdatesNeeded  int       `yaml:"updates_needed"`
	TargetAccuracy float64   `yaml:"target_accuracy"`
	LogLevel       string    `yaml:"log_level"`
	Ledger         Ledger    `yaml:"ledger"`
	Artifacts      Artifacts `yaml:"artifacts"`
	Paths          Paths     `yaml:"paths"`
	Server         Server    `yaml:"server"`
	Watch          Watch     `yaml:"watch"`
}

type Ledger struct {
	Driver            string        `yaml:"driver"`
	Path              string        `yaml:"path"`
	Timeout           time.Duration `yaml:"timeout"`
	AggregatorAccount string        `yaml:"aggregator_account"`
}

type Artifacts struct {
	Backend string `yaml:"backend"`
	Dir     string `yaml:"dir"`
	S3      S3     `yaml:"s3"`
}

type S3 struct {
	Bucket       string `yaml:"bucket"`
	Region       string `yaml:"region"`
	Endpoint     string `yaml:"endpoint"`
	Prefix       string `yaml:"prefix"`
	UsePathStyle bool   `yaml:"use_path_style"`
}

type Paths struct {
	StatusFile   string `yaml:"status_file"`
	HistoryFile  string `yaml:"history_file"`
	SnapshotFile string `yaml:"snapshot_file"`
	LogDir       string `yaml:"log_dir"`
}

type Server struct {
	Port int `yaml:"port"`
}

type Watch struct {
	Interval time.Duration `yaml:"interval"`
}

func Default() *Config {
	return &Config{
		Rounds:         3,
		Clients:        2,
		UpdatesNeeded:  2,
		TargetAccuracy: 90,
		LogLevel:       "INFO",
		Ledger: Ledger{
			Driver:            common.LEDGER_DRIVER_MEMORY,
			Path:              common.DEFAULT_LEDGER_PATH,
			Timeout:           30 * time.Second,
			AggregatorAccount: common.DEFAULT_AGGREGATOR_ACCOUNT,
		},
		Artifacts: Artifacts{
			Backend: common.ARTIFACT_BACKEND_FILE,
			Dir:     common.DEFAULT_ARTIFACTS_DIR,
		},
		Paths: Paths{
			StatusFile:   common.DEFAULT_STATUS_FILE,
			HistoryFile:  common.DEFAULT_HISTORY_FILE,
			SnapshotFile: common.DEFAULT_SNAPSHOT_FILE,
			LogDir:       common.DEFAULT_LOG_DIR,
		},
		Server: Server{Port: 8080},
		Watch:  Watch{Interval: common.STATUS_POLL_INTERVAL_SECONDS * time.Second},
	}
}

// Load reads the file named by path, or by FLCHAIN_CONFIG when path is
// empty. With neither set the defaults are used.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv(ConfigEnvVar)
	}
	if path == "" {
		cfg := Default()
		return cfg, cfg.Validate()
	}
	return LoadFile(path)
}

func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return Parse(data)
}

// Parse decodes data over the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	var errs []error

	if c.Rounds < 1 {
		errs = append(errs, fmt.Errorf("rounds must be at least 1, got %d", c.Rounds))
	}
	if c.Clients < 1 {
		errs = append(errs, fmt.Errorf("clients must be at least 1, got %d", c.Clients))
	}
	if c.UpdatesNeeded < 1 {
		errs = append(errs, fmt.Errorf("updates_needed must be at least 1, got %d", c.UpdatesNeeded))
	}
	if c.TargetAccuracy < 0 || c.TargetAccuracy > 100 {
		errs = append(errs, fmt.Errorf("target_accuracy must be within [0, 100], got %v", c.TargetAccuracy))
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		errs = append(errs, fmt.Errorf("unknown log_level %q", c.LogLevel))
	}

	switch c.Ledger.Driver {
	case common.LEDGER_DRIVER_MEMORY:
	case common.LEDGER_DRIVER_SQLITE:
		if c.Ledger.Path == "" {
			errs = append(errs, errors.New("ledger.path is required for the sqlite driver"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ledger.driver %q", c.Ledger.Driver))
	}
	if c.Ledger.Timeout < 0 {
		errs = append(errs, fmt.Errorf("ledger.timeout must not be negative, got %s", c.Ledger.Timeout))
	}

	switch c.Artifacts.Backend {
	case common.ARTIFACT_BACKEND_FILE:
	case common.ARTIFACT_BACKEND_S3:
		if c.Artifacts.S3.Bucket == "" {
			errs = append(errs, errors.New("artifacts.s3.bucket is required for the s3 backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown artifacts.backend %q", c.Artifacts.Backend))
	}

	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", c.Server.Port))
	}

	return errors.Join(errs...)
}

// ForRun returns a copy of c whose output files and sqlite ledger live in a
// directory of their own under dir.
func (c *Config) ForRun(dir string, runId string) *Config {
	run := *c
	base := filepath.Join(dir, runId)
	run.Paths.StatusFile = filepath.Join(base, filepath.Base(c.Paths.StatusFile))
	run.Paths.HistoryFile = filepath.Join(base, filepath.Base(c.Paths.HistoryFile))
	run.Paths.SnapshotFile = filepath.Join(base, filepath.Base(c.Paths.SnapshotFile))
	run.Ledger.Path = filepath.Join(base, filepath.Base(c.Ledger.Path))
	return &run
}
