package ledger

import (
	"context"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
)

// ILedger is the typed client over the external ledger that holds the state
// of record for rounds, clients and submitted updates. Every write blocks
// until the transaction is committed and returns its receipt.
type ILedger interface {
	CurrentRound(ctx context.Context) (int, error)
	UpdatesNeeded(ctx context.Context) (int, error)
	RoundUpdateCount(ctx context.Context, round int) (int, error)
	RoundUpdate(ctx context.Context, round int, index int) (model.RoundUpdate, error)
	IsRegistered(ctx context.Context, clientId string) (bool, error)
	Client(ctx context.Context, clientId string) (model.ClientRecord, error)
	GlobalModelRef(ctx context.Context) (string, error)

	// RegisterClient fails with ErrAlreadyRegistered, leaving the ledger
	// untouched, when the client is known.
	RegisterClient(ctx context.Context, clientId string) (model.Receipt, error)
	// SubmitUpdate fails with ErrNotRegistered or ErrAlreadySubmitted.
	SubmitUpdate(ctx context.Context, clientId string, artifactRef string) (model.Receipt, error)
	// FinalizeRound closes round, which must be the current round, or fails
	// with ErrRoundMismatch. It fails with ErrQuorumNotMet unless the round
	// holds at least UpdatesNeeded updates. On success the round counter
	// advances by one and the new round starts with an empty update list.
	FinalizeRound(ctx context.Context, round int, newArtifactRef string) (model.Receipt, error)

	Snapshot(ctx context.Context) (model.LedgerSnapshot, error)
	// Close shuts the ledger connection down. Later calls fail with ErrUnreachable.
	Close() error
}
