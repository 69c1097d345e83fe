package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/config"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/florch"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/server"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
)

func main() {
	var configPath string
	var port int
	var runsDir string

	flagSet := pflag.NewFlagSet("flchain-http", pflag.ExitOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the YAML run configuration (default: $"+config.ConfigEnvVar+")")
	flagSet.IntVarP(&port, "port", "p", 0, "listen port (default: server.port from the configuration)")
	flagSet.StringVar(&runsDir, "runs-dir", common.DEFAULT_RUNS_DIR, "directory holding the output files of each run")
	_ = flagSet.Parse(os.Args[1:])

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	logFile, err := common.OpenRunLog(cfg.Paths.LogDir)
	if err != nil {
		panic(err)
	}
	defer func() {
		if err := logFile.Close(); err != nil {
			panic(err)
		}
	}()

	output := io.MultiWriter(os.Stdout, logFile)
	level := hclog.LevelFromString(cfg.LogLevel)
	logger := hclog.New(&hclog.LoggerOptions{
		Name:   "fl-orch",
		Level:  level,
		Output: output,
	})

	// every run gets its own intercept logger so that its status log tail
	// only mirrors its own lines
	build := func(ctx context.Context, runId string, request server.StartFlRequest, eventBus *events.EventBus) (*florch.FlOrchestrator, error) {
		runConfig := cfg.ForRun(runsDir, runId)
		if err := request.Apply(runConfig); err != nil {
			return nil, err
		}
		runLogger := hclog.NewInterceptLogger(&hclog.LoggerOptions{
			Name:   "fl-orch." + runId[:8],
			Level:  level,
			Output: output,
		})
		return florch.NewFromConfig(ctx, runId, runConfig, eventBus, runLogger)
	}

	handler := server.NewHandler(logger, build)

	server.StartHttpServer(logger, cfg.Server.Port, handler)
}
