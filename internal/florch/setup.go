package florch

import (
	"context"
	"fmt"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/artifact"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/config"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/florch/evaluation"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/ledger"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/ledger/memledger"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/ledger/sqliteledger"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/status"
	"github.com/hashicorp/go-hclog"
)

const (
	syntheticLearningRate = 0.5
	syntheticSpread       = 0.02
)

// NewLedgerFactory returns the factory for the driver named in cfg. Every
// call deploys a fresh ledger; the sqlite driver drops earlier state at
// cfg.Path.
func NewLedgerFactory(cfg config.Ledger, logger hclog.Logger) (LedgerFactory, error) {
	switch cfg.Driver {
	case "", common.LEDGER_DRIVER_MEMORY:
		return func(ctx context.Context, updatesNeeded int, initialModelRef string) (ledger.ILedger, error) {
			return memledger.NewMemLedger(updatesNeeded, initialModelRef, cfg.AggregatorAccount), nil
		}, nil
	case common.LEDGER_DRIVER_SQLITE:
		return func(ctx context.Context, updatesNeeded int, initialModelRef string) (ledger.ILedger, error) {
			l, err := sqliteledger.Open(ctx, sqliteledger.Options{
				Path:              cfg.Path,
				UpdatesNeeded:     updatesNeeded,
				InitialModelRef:   initialModelRef,
				AggregatorAccount: cfg.AggregatorAccount,
				Fresh:             true,
				Logger:            logger,
			})
			if err != nil {
				return nil, err
			}
			return l, nil
		}, nil
	default:
		return nil, fmt.Errorf("unknown ledger driver %q", cfg.Driver)
	}
}

// NewFromConfig wires an orchestrator with the synthetic trainer and the
// held-out evaluator, using the ledger driver, artifact backend and paths
// from cfg. The status is published to cfg.Paths.StatusFile and to any extra
// publishers.
func NewFromConfig(ctx context.Context, runId string, cfg *config.Config, eventBus *events.EventBus,
	logger hclog.InterceptLogger, publishers ...status.IPublisher) (*FlOrchestrator, error) {
	store, err := artifact.NewStore(ctx, artifact.Options{
		Backend: cfg.Artifacts.Backend,
		Dir:     cfg.Artifacts.Dir,
		S3: artifact.S3Config{
			Bucket:       cfg.Artifacts.S3.Bucket,
			Region:       cfg.Artifacts.S3.Region,
			Endpoint:     cfg.Artifacts.S3.Endpoint,
			Prefix:       cfg.Artifacts.S3.Prefix,
			UsePathStyle: cfg.Artifacts.S3.UsePathStyle,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("creating artifact store: %w", err)
	}

	ledgerFactory, err := NewLedgerFactory(cfg.Ledger, logger.Named("ledger"))
	if err != nil {
		return nil, err
	}

	target := DefaultTargetModel()
	flConfig := FlConfig{
		Rounds:         cfg.Rounds,
		Clients:        cfg.Clients,
		UpdatesNeeded:  cfg.UpdatesNeeded,
		TargetAccuracy: cfg.TargetAccuracy,
		LedgerTimeout:  cfg.Ledger.Timeout,
		HistoryFile:    cfg.Paths.HistoryFile,
		SnapshotFile:   cfg.Paths.SnapshotFile,
	}
	publishers = append(publishers, status.NewFilePublisher(cfg.Paths.StatusFile))

	return NewFlOrchestrator(runId, flConfig, ledgerFactory, store,
		NewSyntheticTrainer(target, syntheticLearningRate, syntheticSpread),
		evaluation.NewHeldOutEvaluator(target), eventBus, logger, publishers...), nil
}
