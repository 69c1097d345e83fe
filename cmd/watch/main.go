// flchain-watch follows the status file of a run and renders it in the
// terminal until the run reaches a terminal status.
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/config"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/florch/evaluation"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/status"
	"github.com/hashicorp/go-hclog"
	"github.com/pterm/pterm"
	"github.com/spf13/pflag"
)

func main() {
	if err := run(); err != nil {
		pterm.Error.Println(err.Error())
		os.Exit(1)
	}
}

func run() error {
	var configPath string
	var statusPath string
	var historyPath string
	var follow bool

	flagSet := pflag.NewFlagSet("flchain-watch", pflag.ContinueOnError)
	flagSet.StringVarP(&configPath, "config", "c", "", "path to the YAML run configuration (default: $"+config.ConfigEnvVar+")")
	flagSet.StringVarP(&statusPath, "status", "s", "", "status file to watch (default: paths.status_file from the configuration)")
	flagSet.StringVar(&historyPath, "history", "", "accuracy history to chart (default: paths.history_file from the configuration)")
	flagSet.BoolVarP(&follow, "follow", "f", false, "keep watching after the run has ended")
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
	if statusPath == "" {
		statusPath = cfg.Paths.StatusFile
	}
	if historyPath == "" {
		historyPath = cfg.Paths.HistoryFile
	}
	history := evaluation.NewHistory(historyPath)

	logger := hclog.New(&hclog.LoggerOptions{
		Name:  "fl-watch",
		Level: hclog.LevelFromString(cfg.LogLevel),
	})

	area, err := pterm.DefaultArea.WithRemoveWhenDone(false).Start()
	if err != nil {
		return err
	}
	defer area.Stop()

	ended := make(chan status.Status, 1)
	watcher := status.NewWatcher(statusPath, cfg.Watch.Interval, logger, func(s status.Status, ok bool) {
		entries, err := history.Entries()
		if err != nil {
			logger.Debug(fmt.Sprintf("Reading history %s: %s", historyPath, err.Error()))
		}
		area.Update(render(statusPath, s, ok, entries))
		if ok && s.IsTerminal() && !follow {
			select {
			case ended <- s:
			default:
			}
		}
	})
	if err := watcher.Start(); err != nil {
		return err
	}
	defer watcher.Stop()

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)

	select {
	case <-signals:
		return nil
	case final := <-ended:
		if final.IsError() {
			return fmt.Errorf("run ended with %s", final.OverallStatus())
		}
		return nil
	}
}
