package florch

import (
	"context"
	"errors"
	"fmt"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/artifact"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/ledger"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
	"github.com/hashicorp/go-hclog"
)

// ClientReport is what a client worker returns for one round task.
type ClientReport struct {
	ClientId    string
	Round       int
	ArtifactRef string
	Receipt     *model.Receipt
	// Skipped is set when the ledger already holds this client's update
	// for the live round.
	Skipped bool
	Err     error
}

type clientTask struct {
	round int
	reply chan<- ClientReport
}

// FlClient is an in-process client worker. It registers with the ledger,
// trains on the current global model and submits the update, one task at a
// time, until its task channel is closed.
type FlClient struct {
	id      string
	ledger  ledger.ILedger
	store   artifact.IStore
	trainer ITrainer
	logger  hclog.Logger
	tasks   chan clientTask
	done    chan struct{}
}

func NewFlClient(id string, l ledger.ILedger, store artifact.IStore, trainer ITrainer, logger hclog.Logger) *FlClient {
	return &FlClient{
		id:      id,
		ledger:  l,
		store:   store,
		trainer: trainer,
		logger:  logger,
		tasks:   make(chan clientTask),
		done:    make(chan struct{}),
	}
}

func (c *FlClient) Id() string {
	return c.id
}

// Start runs the worker loop in its own goroutine.
func (c *FlClient) Start(ctx context.Context) {
	go func() {
		defer close(c.done)
		for task := range c.tasks {
			task.reply <- c.step(ctx, task.round)
		}
	}()
}

// Stop closes the task channel and waits for the worker to exit.
func (c *FlClient) Stop() {
	close(c.tasks)
	<-c.done
}

// RunRound hands the worker a task for round and waits for its report.
func (c *FlClient) RunRound(ctx context.Context, round int) ClientReport {
	reply := make(chan ClientReport, 1)
	select {
	case c.tasks <- clientTask{round: round, reply: reply}:
	case <-ctx.Done():
		return ClientReport{ClientId: c.id, Round: round, Err: ctx.Err()}
	}

	select {
	case report := <-reply:
		return report
	case <-ctx.Done():
		return ClientReport{ClientId: c.id, Round: round, Err: ctx.Err()}
	}
}

func (c *FlClient) step(ctx context.Context, round int) ClientReport {
	report := ClientReport{ClientId: c.id, Round: round}

	if _, err := c.ledger.RegisterClient(ctx, c.id); err != nil {
		if !errors.Is(err, ledger.ErrAlreadyRegistered) {
			report.Err = fmt.Errorf("%s: registering: %w", c.id, err)
			return report
		}
	} else {
		c.logger.Info(fmt.Sprintf("Client %s registered on the ledger", c.id))
	}

	currentRound, err := c.ledger.CurrentRound(ctx)
	if err != nil {
		report.Err = fmt.Errorf("%s: reading current round: %w", c.id, err)
		return report
	}
	record, err := c.ledger.Client(ctx, c.id)
	if err != nil {
		report.Err = fmt.Errorf("%s: reading client record: %w", c.id, err)
		return report
	}
	if record.LastSubmittedRound >= currentRound {
		c.logger.Debug(fmt.Sprintf("Client %s already submitted in round %d", c.id, currentRound))
		report.Skipped = true
		return report
	}

	globalRef, err := c.ledger.GlobalModelRef(ctx)
	if err != nil {
		report.Err = fmt.Errorf("%s: reading global model: %w", c.id, err)
		return report
	}
	global, err := c.store.Get(ctx, globalRef)
	if err != nil {
		report.Err = fmt.Errorf("%s: loading global model: %w", c.id, err)
		return report
	}

	update, err := c.trainer.Train(ctx, c.id, currentRound, global)
	if err != nil {
		report.Err = fmt.Errorf("%s: training: %w", c.id, err)
		return report
	}
	ref, err := c.store.Put(ctx, update)
	if err != nil {
		report.Err = fmt.Errorf("%s: storing update: %w", c.id, err)
		return report
	}
	report.ArtifactRef = ref

	receipt, err := c.ledger.SubmitUpdate(ctx, c.id, ref)
	if errors.Is(err, ledger.ErrAlreadySubmitted) {
		c.logger.Debug(fmt.Sprintf("Client %s update for round %d was already on the ledger", c.id, currentRound))
		report.Skipped = true
		return report
	}
	if err != nil {
		report.Err = fmt.Errorf("%s: submitting update: %w", c.id, err)
		return report
	}
	report.Receipt = &receipt

	c.logger.Info(fmt.Sprintf("Client %s submitted %s for round %d (block %d)", c.id, common.Truncate(ref, 16), currentRound, receipt.BlockNumber))
	return report
}
