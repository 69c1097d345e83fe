package florch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/artifact"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/florch/evaluation"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/florch/performance"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/ledger"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/status"
	"github.com/hashicorp/go-hclog"
)

const cleanupTimeout = 10 * time.Second

// ErrStopped is the cause recorded when a run is cancelled through Stop.
var ErrStopped = errors.New("stopped")

type FlConfig struct {
	Rounds         int
	Clients        int
	UpdatesNeeded  int
	TargetAccuracy float64
	LedgerTimeout  time.Duration
	HistoryFile    string
	SnapshotFile   string
}

// LedgerFactory deploys a fresh ledger seeded with the initial global model.
type LedgerFactory func(ctx context.Context, updatesNeeded int, initialModelRef string) (ledger.ILedger, error)

type FlOrchestrator struct {
	runId         string
	config        FlConfig
	ledgerFactory LedgerFactory
	store         artifact.IStore
	trainer       ITrainer
	evaluator     evaluation.IEvaluator
	history       *evaluation.History
	eventBus      *events.EventBus
	logger        hclog.InterceptLogger
	tracker       *status.Tracker

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped bool
}

type flSession struct {
	ledger  ledger.ILedger
	clients []*FlClient
	results []model.HistoryEntry
}

func NewFlOrchestrator(runId string, config FlConfig, ledgerFactory LedgerFactory, store artifact.IStore, trainer ITrainer,
	evaluator evaluation.IEvaluator, eventBus *events.EventBus, logger hclog.InterceptLogger, publishers ...status.IPublisher) *FlOrchestrator {
	publishers = append(publishers, status.NewBusPublisher(eventBus))

	return &FlOrchestrator{
		runId:         runId,
		config:        config,
		ledgerFactory: ledgerFactory,
		store:         store,
		trainer:       trainer,
		evaluator:     evaluator,
		history:       evaluation.NewHistory(config.HistoryFile),
		eventBus:      eventBus,
		logger:        logger,
		tracker:       status.NewTracker(status.New(config.Rounds), publishers...),
	}
}

func (orch *FlOrchestrator) RunId() string {
	return orch.runId
}

func (orch *FlOrchestrator) Status() status.Status {
	return orch.tracker.Current()
}

// Stop cancels a running orchestrator. The run ends in an error status and
// still shuts the ledger down.
func (orch *FlOrchestrator) Stop() {
	orch.mu.Lock()
	defer orch.mu.Unlock()

	orch.stopped = true
	if orch.cancel != nil {
		orch.cancel()
	}
}

// Run executes every configured round and returns the final status. Errors
// end up in the status; the ledger is shut down on every path.
func (orch *FlOrchestrator) Run(ctx context.Context) status.Status {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	orch.mu.Lock()
	orch.cancel = cancel
	if orch.stopped {
		cancel()
	}
	orch.mu.Unlock()

	orch.tracker.SetLogLevel(orch.logger.GetLevel())
	orch.logger.RegisterSink(orch.tracker)
	defer orch.logger.DeregisterSink(orch.tracker)

	session := &flSession{}
	err := orch.runRounds(ctx, session)
	if err != nil {
		orch.fail(err)
	} else {
		orch.finalReport(session)
		orch.setStatus(func(s status.Status) status.Status {
			return s.Finished().WithStep("All rounds completed")
		})
	}

	orch.cleanup(session)

	final := orch.tracker.Current()
	exitCode := int32(0)
	if final.IsError() {
		exitCode = 1
	}
	orch.eventBus.Publish(events.Event{
		Type: common.FL_FINISHED_EVENT_TYPE,
		Data: events.FlFinishedEvent{ExitCode: exitCode, ExitMessage: final.OverallStatus()},
	})

	return final
}

func (orch *FlOrchestrator) runRounds(ctx context.Context, session *flSession) error {
	orch.logger.Info(fmt.Sprintf("Starting FL run %s: %d rounds, %d clients, %d updates needed",
		orch.runId, orch.config.Rounds, orch.config.Clients, orch.config.UpdatesNeeded))
	orch.setStatus(func(s status.Status) status.Status {
		return s.WithStep("Seeding the initial global model")
	})

	initialRef, err := orch.store.Put(ctx, orch.trainer.InitialModel())
	if err != nil {
		return fmt.Errorf("storing initial model: %w", err)
	}

	orch.setStatus(func(s status.Status) status.Status {
		return s.StartingLedger().WithStep("Deploying the ledger")
	})
	l, err := orch.ledgerFactory(ctx, orch.config.UpdatesNeeded, initialRef)
	if err != nil {
		return fmt.Errorf("starting ledger: %w", err)
	}
	session.ledger = ledger.WithTimeout(l, orch.config.LedgerTimeout)
	orch.logger.Info(fmt.Sprintf("Ledger ready, initial global model %s", initialRef))
	orch.refreshLedgerInfo(ctx, session)

	for i := 0; i < orch.config.Clients; i++ {
		id := common.GetClientId(i)
		client := NewFlClient(id, session.ledger, orch.store, orch.trainer, orch.logger.Named(id))
		client.Start(ctx)
		session.clients = append(session.clients, client)
	}

	coordinator := NewRoundCoordinator(session.ledger, orch.store, orch.evaluator, orch.history,
		orch.eventBus, orch.logger.Named("coordinator"))

	for round := 1; round <= orch.config.Rounds; round++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		orch.setStatus(func(s status.Status) status.Status {
			return s.RunningRound(round).WithStep("Clients training and submitting updates")
		})
		orch.logger.Info(fmt.Sprintf("Starting global round %d", round))

		for _, client := range session.clients {
			report := client.RunRound(ctx, round)
			if report.Err != nil {
				return report.Err
			}
		}
		orch.refreshLedgerInfo(ctx, session)

		orch.setStatus(func(s status.Status) status.Status {
			return s.WithStep("Coordinating round")
		})
		result, err := coordinator.Coordinate(ctx)
		if err != nil {
			return err
		}
		orch.refreshLedgerInfo(ctx, session)

		switch {
		case result.State == CoordinatorWaiting:
			orch.logger.Warn(fmt.Sprintf("Round %d not closed: %d/%d updates", result.Round, result.UpdateCount, result.UpdatesNeeded))
		case result.RaceLost:
			orch.logger.Info(fmt.Sprintf("Round %d closed by another finalizer", result.Round))
		default:
			accuracy := result.Aggregation.Accuracy
			session.results = append(session.results, model.HistoryEntry{Round: result.Round, Accuracy: accuracy})
			orch.logger.Info(fmt.Sprintf("Finished global round %d, accuracy %.2f%%", result.Round, accuracy))
			if accuracy >= orch.config.TargetAccuracy {
				orch.logger.Info(fmt.Sprintf("Target accuracy %.2f%% reached in round %d", orch.config.TargetAccuracy, result.Round))
			}
		}
	}

	return nil
}

// finalReport summarizes the accuracy history and extrapolates it.
func (orch *FlOrchestrator) finalReport(session *flSession) {
	orch.setStatus(func(s status.Status) status.Status {
		return s.WithStep("Writing final report")
	})

	entries, err := orch.history.Entries()
	if err != nil {
		orch.logger.Error(fmt.Sprintf("Error while reading history: %s", err.Error()))
	} else {
		orch.logger.Info(fmt.Sprintf("History %s holds %d rows", orch.history.Path(), len(entries)))
		if len(entries) > 0 {
			chartPath := evaluation.ChartPath(orch.history.Path())
			if err := evaluation.WriteChart(chartPath, entries); err != nil {
				orch.logger.Error(fmt.Sprintf("Error while plotting accuracy: %s", err.Error()))
			} else {
				orch.logger.Info(fmt.Sprintf("Accuracy chart written to %s", chartPath))
			}
		}
	}

	if len(session.results) == 0 {
		orch.logger.Warn("No round was finalized in this run")
		return
	}
	accuracies := make([]float64, len(session.results))
	for i, entry := range session.results {
		accuracies[i] = entry.Accuracy
	}
	orch.logger.Info(fmt.Sprintf("Final accuracy: %.2f%% (average %.2f%%)", accuracies[len(accuracies)-1], common.CalculateAverageFloat64(accuracies)))

	if performance.HasConverged(accuracies, 0.1, 5, 3) {
		orch.logger.Info("Accuracy has converged!")
	}

	prediction, err := performance.NewAccuracyPrediction(session.results, performance.LogarithmicRegression_PredictionType)
	if err != nil {
		orch.logger.Info(fmt.Sprintf("Skipping accuracy prediction: %s", err.Error()))
		return
	}
	orch.logger.Info(fmt.Sprintf("Predicted accuracy function: %s", prediction.PrintPrediction()))
	if round, ok := prediction.PredictRoundForAccuracy(orch.config.TargetAccuracy); ok {
		orch.logger.Info(fmt.Sprintf("Target accuracy %.2f%% predicted at round %d", orch.config.TargetAccuracy, round))
	} else {
		orch.logger.Info(fmt.Sprintf("Target accuracy %.2f%% is not predicted to be reached", orch.config.TargetAccuracy))
	}
}

// cleanup writes the final ledger snapshot, shuts the ledger down and stops
// the client workers. It uses its own context so that it also runs after Stop.
func (orch *FlOrchestrator) cleanup(session *flSession) {
	for _, client := range session.clients {
		client.Stop()
	}

	if session.ledger == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if err := orch.writeSnapshot(ctx, session.ledger); err != nil {
		orch.logger.Error(fmt.Sprintf("Error while writing final ledger snapshot: %s", err.Error()))
	}

	if err := session.ledger.Close(); err != nil {
		orch.logger.Error(fmt.Sprintf("Error while shutting down the ledger: %s", err.Error()))
		return
	}
	orch.logger.Info("Ledger shut down")
}

func (orch *FlOrchestrator) writeSnapshot(ctx context.Context, l ledger.ILedger) error {
	snapshot, err := l.Snapshot(ctx)
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return err
	}
	path := orch.config.SnapshotFile
	if path == "" {
		path = common.DEFAULT_SNAPSHOT_FILE
	}
	if err := common.WriteFileAtomic(path, data, 0644); err != nil {
		return err
	}

	orch.logger.Info(fmt.Sprintf("Final ledger snapshot written to %s (block %d, round %d)", path, snapshot.BlockNumber, snapshot.OnchainRound))
	return nil
}

func (orch *FlOrchestrator) refreshLedgerInfo(ctx context.Context, session *flSession) {
	snapshot, err := session.ledger.Snapshot(ctx)
	if err != nil {
		orch.logger.Debug(fmt.Sprintf("Ledger snapshot unavailable: %s", err.Error()))
		return
	}
	orch.setStatus(func(s status.Status) status.Status {
		return s.WithLedgerInfo(status.LedgerInfoFromSnapshot(snapshot))
	})
}

func (orch *FlOrchestrator) fail(err error) {
	message := err.Error()
	orch.mu.Lock()
	stopped := orch.stopped
	orch.mu.Unlock()
	if stopped && errors.Is(err, context.Canceled) {
		message = ErrStopped.Error()
	}

	orch.logger.Error(fmt.Sprintf("FL run %s failed: %s", orch.runId, err.Error()))
	orch.setStatus(func(s status.Status) status.Status {
		return s.Failed(message)
	})
}

func (orch *FlOrchestrator) setStatus(transition func(status.Status) status.Status) {
	if _, err := orch.tracker.Update(transition); err != nil {
		orch.logger.Warn(fmt.Sprintf("Error while publishing status: %s", err.Error()))
	}
}
