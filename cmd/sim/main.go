// flchain-sim runs one federated averaging experiment against a ledger with
// in-process clients and exits 1 when the run ends in an error.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/config"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/florch"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var rounds int

	flagSet := pflag.NewFlagSet("flchain-sim", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the YAML run configuration (default: $"+config.ConfigEnvVar+")")
	flagSet.IntVar(&rounds, "rounds", 0, "override the number of rounds")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if rounds > 0 {
		cfg.Rounds = rounds
	}

	logFile, err := common.OpenRunLog(cfg.Paths.LogDir)
	if err != nil {
		return err
	}
	defer logFile.Close()

	logger := hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Name:   "fl-orch",
		Level:  hclog.LevelFromString(cfg.LogLevel),
		Output: io.MultiWriter(os.Stdout, logFile),
	})

	eventBus := events.NewEventBus()
	flOrchestrator, err := florch.NewFromConfig(context.Background(), uuid.New().String(), cfg, eventBus, logger)
	if err != nil {
		return err
	}

	// trap sigterm or interrupt and stop the run, the ledger is still shut down
	sigCtx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-sigCtx.Done()
		flOrchestrator.Stop()
	}()

	final := flOrchestrator.Run(context.Background())
	if final.IsError() {
		return fmt.Errorf("run ended with %s", final.OverallStatus())
	}

	logger.Info(fmt.Sprintf("Run %s finished after %d rounds", flOrchestrator.RunId(), final.Round()))
	return nil
}
