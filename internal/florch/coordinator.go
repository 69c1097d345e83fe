package florch

import (
	"context"
	"errors"
	"fmt"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/artifact"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/florch/aggregation"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/florch/evaluation"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/ledger"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
	"github.com/hashicorp/go-hclog"
)

type CoordinatorState string

const (
	CoordinatorWaiting     CoordinatorState = "Waiting"
	CoordinatorAggregating CoordinatorState = "Aggregating"
	CoordinatorFinalizing  CoordinatorState = "Finalizing"
	CoordinatorDone        CoordinatorState = "Done"
	CoordinatorFailed      CoordinatorState = "Failed"
)

type RoundResult struct {
	State         CoordinatorState
	Round         int
	UpdateCount   int
	UpdatesNeeded int
	QuorumMet     bool
	// Deficit is the number of updates still missing while Waiting.
	Deficit     int
	Aggregation *model.AggregationResult
	Receipt     *model.Receipt
	// RaceLost is set when another finalizer advanced the round first.
	RaceLost bool
}

// RoundCoordinator decides whether the live round can be closed and, if so,
// aggregates, evaluates and finalizes it. The ledger is the only state it
// trusts; nothing is cached between invocations.
type RoundCoordinator struct {
	ledger    ledger.ILedger
	store     artifact.IStore
	evaluator evaluation.IEvaluator
	history   *evaluation.History
	eventBus  *events.EventBus
	logger    hclog.Logger
}

func NewRoundCoordinator(l ledger.ILedger, store artifact.IStore, evaluator evaluation.IEvaluator,
	history *evaluation.History, eventBus *events.EventBus, logger hclog.Logger) *RoundCoordinator {
	return &RoundCoordinator{
		ledger:    l,
		store:     store,
		evaluator: evaluator,
		history:   history,
		eventBus:  eventBus,
		logger:    logger,
	}
}

// Coordinate runs one coordinator cycle. It returns a nil error for Waiting
// and Done, and the cause for Failed.
func (c *RoundCoordinator) Coordinate(ctx context.Context) (RoundResult, error) {
	result := RoundResult{State: CoordinatorWaiting}

	round, err := c.ledger.CurrentRound(ctx)
	if err != nil {
		return c.fail(&result, fmt.Errorf("reading current round: %w", err))
	}
	result.Round = round

	record, err := ledger.ReadRound(ctx, c.ledger, round)
	if err != nil {
		return c.fail(&result, err)
	}
	count := len(record.Updates)
	result.UpdateCount = count
	result.UpdatesNeeded = record.QuorumThreshold

	if !record.QuorumMet() {
		result.Deficit = record.QuorumThreshold - count
		c.logger.Info(fmt.Sprintf("Round %d waiting for updates: %d/%d received, %d missing", round, count, record.QuorumThreshold, result.Deficit))
		return result, nil
	}
	result.QuorumMet = true

	c.transition(&result, CoordinatorAggregating)
	aggregated, err := c.aggregate(ctx, record)
	if err != nil {
		return c.fail(&result, err)
	}

	accuracy, err := evaluation.Score(ctx, c.evaluator, aggregated)
	if err != nil {
		return c.fail(&result, err)
	}
	result.Aggregation = &model.AggregationResult{RoundNumber: round, ArtifactRef: aggregated.Reference, Accuracy: accuracy}
	c.logger.Info(fmt.Sprintf("Round %d aggregated %d updates into %s, accuracy %.2f%%", round, count, aggregated.Reference, accuracy))

	c.transition(&result, CoordinatorFinalizing)
	receipt, err := c.ledger.FinalizeRound(ctx, round, aggregated.Reference)
	switch {
	case err == nil:
		result.Receipt = &receipt
	case errors.Is(err, ledger.ErrRoundMismatch), errors.Is(err, ledger.ErrQuorumNotMet):
		return c.resolveConflict(ctx, &result, err)
	case errors.Is(err, ledger.ErrUnreachable):
		committed, res, err := c.resolveUnknownOutcome(ctx, &result, err)
		if !committed {
			return res, err
		}
	default:
		return c.fail(&result, fmt.Errorf("finalizing round %d: %w", round, err))
	}

	if err := c.history.Append(round, accuracy); err != nil {
		return c.fail(&result, fmt.Errorf("recording history of finalized round %d: %w", round, err))
	}

	var blockNumber uint64
	if result.Receipt != nil {
		blockNumber = result.Receipt.BlockNumber
		c.logger.Info(fmt.Sprintf("Round %d finalized in block %d (tx %s)", round, blockNumber, common.Truncate(result.Receipt.TxHash, 12)))
	} else {
		c.logger.Info(fmt.Sprintf("Round %d finalized, receipt lost", round))
	}
	c.eventBus.Publish(events.Event{
		Type: common.ROUND_FINALIZED_EVENT_TYPE,
		Data: events.RoundFinalizedEvent{
			Round:       round,
			ArtifactRef: aggregated.Reference,
			Accuracy:    accuracy,
			BlockNumber: blockNumber,
		},
	})

	c.transition(&result, CoordinatorDone)
	return result, nil
}

// aggregate loads the round's updates in ledger order and stores their mean.
func (c *RoundCoordinator) aggregate(ctx context.Context, record model.RoundRecord) (*model.ModelArtifact, error) {
	round := record.RoundNumber
	artifacts := make([]*model.ModelArtifact, 0, len(record.Updates))
	for _, update := range record.Updates {
		a, err := c.store.Get(ctx, update.ArtifactRef)
		if err != nil {
			return nil, fmt.Errorf("loading update of %s: %w", update.ClientId, err)
		}
		artifacts = append(artifacts, a)
	}

	aggregated, err := aggregation.Aggregate(artifacts)
	if err != nil {
		return nil, fmt.Errorf("aggregating round %d: %w", round, err)
	}

	ref, err := c.store.Put(ctx, aggregated)
	if err != nil {
		return nil, fmt.Errorf("storing aggregate of round %d: %w", round, err)
	}
	aggregated.Reference = ref

	return aggregated, nil
}

// resolveConflict handles a finalize rejected after the quorum check passed.
// If the round moved on, another finalizer won and the cycle is done.
func (c *RoundCoordinator) resolveConflict(ctx context.Context, result *RoundResult, finalizeErr error) (RoundResult, error) {
	current, err := c.ledger.CurrentRound(ctx)
	if err != nil {
		return c.fail(result, fmt.Errorf("finalizing round %d: %w (re-reading round: %w)", result.Round, finalizeErr, err))
	}
	if current > result.Round {
		result.RaceLost = true
		c.logger.Info(fmt.Sprintf("Round %d was already finalized elsewhere, ledger is at round %d", result.Round, current))
		c.transition(result, CoordinatorDone)
		return *result, nil
	}
	return c.fail(result, fmt.Errorf("finalizing round %d: %w", result.Round, finalizeErr))
}

// resolveUnknownOutcome handles a finalize that timed out or lost its
// connection. The transaction may still have been committed, so the ledger is
// read again. It reports committed when the round advanced to our aggregate.
func (c *RoundCoordinator) resolveUnknownOutcome(ctx context.Context, result *RoundResult, finalizeErr error) (bool, RoundResult, error) {
	c.logger.Warn(fmt.Sprintf("Round %d finalize outcome unknown: %s", result.Round, finalizeErr.Error()))

	current, err := c.ledger.CurrentRound(ctx)
	if err != nil {
		res, err := c.fail(result, fmt.Errorf("finalizing round %d: %w (re-reading round: %w)", result.Round, finalizeErr, err))
		return false, res, err
	}
	if current <= result.Round {
		res, err := c.fail(result, fmt.Errorf("finalizing round %d, not committed yet: %w", result.Round, finalizeErr))
		return false, res, err
	}

	globalRef, err := c.ledger.GlobalModelRef(ctx)
	if err != nil {
		res, err := c.fail(result, fmt.Errorf("finalizing round %d: %w (re-reading global model: %w)", result.Round, finalizeErr, err))
		return false, res, err
	}
	if current == result.Round+1 && globalRef == result.Aggregation.ArtifactRef {
		c.logger.Info(fmt.Sprintf("Round %d finalize was committed despite the error", result.Round))
		return true, *result, nil
	}

	result.RaceLost = true
	c.logger.Info(fmt.Sprintf("Round %d was finalized elsewhere, ledger is at round %d", result.Round, current))
	c.transition(result, CoordinatorDone)
	return false, *result, nil
}

func (c *RoundCoordinator) fail(result *RoundResult, err error) (RoundResult, error) {
	c.logger.Error(fmt.Sprintf("Round %d coordination failed: %s", result.Round, err.Error()))
	c.transition(result, CoordinatorFailed)
	return *result, err
}

func (c *RoundCoordinator) transition(result *RoundResult, to CoordinatorState) {
	from := result.State
	result.State = to

	c.logger.Debug(fmt.Sprintf("Round %d coordinator: %s -> %s", result.Round, from, to))
	c.eventBus.Publish(events.Event{
		Type: common.COORDINATOR_STATE_EVENT_TYPE,
		Data: events.CoordinatorStateEvent{Round: result.Round, From: string(from), To: string(to)},
	})
}
