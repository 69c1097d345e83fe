// Package ledgertest holds the behavioural contract every ledger
// implementation must satisfy. Implementations call Run from their tests.
package ledgertest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/ledger"
)

// Factory opens a fresh ledger with the given quorum threshold and initial
// global model reference. The ledger is closed by the suite.
type Factory func(t *testing.T, updatesNeeded int, initialModelRef string) ledger.ILedger

const initialRef = "initial_model_cid_v1"

func Run(t *testing.T, open Factory) {
	t.Run("InitialState", func(t *testing.T) { testInitialState(t, open) })
	t.Run("Registration", func(t *testing.T) { testRegistration(t, open) })
	t.Run("Submission", func(t *testing.T) { testSubmission(t, open) })
	t.Run("Finalize", func(t *testing.T) { testFinalize(t, open) })
	t.Run("ConcurrentFinalizeHasOneWinner", func(t *testing.T) { testConcurrentFinalize(t, open) })
	t.Run("StaleFinalizeIsRejected", func(t *testing.T) { testStaleFinalize(t, open) })
	t.Run("ConcurrentSubmissions", func(t *testing.T) { testConcurrentSubmissions(t, open) })
	t.Run("ClosedIsUnreachable", func(t *testing.T) { testClosed(t, open) })
}

func openLedger(t *testing.T, open Factory, updatesNeeded int) ledger.ILedger {
	t.Helper()
	l := open(t, updatesNeeded, initialRef)
	t.Cleanup(func() { l.Close() })
	return l
}

func mustRegister(t *testing.T, l ledger.ILedger, ids ...string) {
	t.Helper()
	for _, id := range ids {
		if _, err := l.RegisterClient(context.Background(), id); err != nil {
			t.Fatalf("RegisterClient(%s): %v", id, err)
		}
	}
}

func mustSubmit(t *testing.T, l ledger.ILedger, id string, ref string) {
	t.Helper()
	if _, err := l.SubmitUpdate(context.Background(), id, ref); err != nil {
		t.Fatalf("SubmitUpdate(%s): %v", id, err)
	}
}

func mustInt(t *testing.T, what string, fn func(context.Context) (int, error)) int {
	t.Helper()
	v, err := fn(context.Background())
	if err != nil {
		t.Fatalf("%s: %v", what, err)
	}
	return v
}

func roundUpdateCount(l ledger.ILedger, round int) func(context.Context) (int, error) {
	return func(ctx context.Context) (int, error) { return l.RoundUpdateCount(ctx, round) }
}

func testInitialState(t *testing.T, open Factory) {
	l := openLedger(t, open, 2)
	ctx := context.Background()

	if round := mustInt(t, "CurrentRound", l.CurrentRound); round != 1 {
		t.Errorf("CurrentRound = %d, want 1", round)
	}
	if needed := mustInt(t, "UpdatesNeeded", l.UpdatesNeeded); needed != 2 {
		t.Errorf("UpdatesNeeded = %d, want 2", needed)
	}
	if count := mustInt(t, "RoundUpdateCount", roundUpdateCount(l, 1)); count != 0 {
		t.Errorf("RoundUpdateCount(1) = %d, want 0", count)
	}
	ref, err := l.GlobalModelRef(ctx)
	if err != nil {
		t.Fatalf("GlobalModelRef: %v", err)
	}
	if ref != initialRef {
		t.Errorf("GlobalModelRef = %q, want %q", ref, initialRef)
	}
	registered, err := l.IsRegistered(ctx, "nobody")
	if err != nil {
		t.Fatalf("IsRegistered: %v", err)
	}
	if registered {
		t.Error("unknown client reported as registered")
	}
}

func testRegistration(t *testing.T, open Factory) {
	l := openLedger(t, open, 2)
	ctx := context.Background()

	receipt, err := l.RegisterClient(ctx, "client-1")
	if err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}
	if receipt.TxHash == "" || receipt.BlockNumber == 0 {
		t.Errorf("RegisterClient receipt = %+v, want a committed transaction", receipt)
	}

	registered, err := l.IsRegistered(ctx, "client-1")
	if err != nil {
		t.Fatalf("IsRegistered: %v", err)
	}
	if !registered {
		t.Error("client-1 not registered after RegisterClient")
	}

	before, err := l.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	_, err = l.RegisterClient(ctx, "client-1")
	if !errors.Is(err, ledger.ErrAlreadyRegistered) {
		t.Fatalf("second RegisterClient error = %v, want ErrAlreadyRegistered", err)
	}
	if !errors.Is(err, ledger.ErrRejected) {
		t.Errorf("ErrAlreadyRegistered does not match ErrRejected")
	}
	if !ledger.IsBenign(err) {
		t.Errorf("IsBenign(%v) = false", err)
	}

	after, err := l.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if after.BlockNumber != before.BlockNumber {
		t.Errorf("duplicate registration committed a block: %d -> %d", before.BlockNumber, after.BlockNumber)
	}
	if len(after.Clients) != 1 {
		t.Errorf("len(Clients) = %d, want 1", len(after.Clients))
	}
}

func testSubmission(t *testing.T, open Factory) {
	l := openLedger(t, open, 2)
	ctx := context.Background()

	_, err := l.SubmitUpdate(ctx, "stranger", "cid")
	if !errors.Is(err, ledger.ErrNotRegistered) {
		t.Fatalf("unregistered SubmitUpdate error = %v, want ErrNotRegistered", err)
	}

	mustRegister(t, l, "client-1")
	mustSubmit(t, l, "client-1", "client1_update")

	_, err = l.SubmitUpdate(ctx, "client-1", "another_cid")
	if !errors.Is(err, ledger.ErrAlreadySubmitted) {
		t.Fatalf("duplicate SubmitUpdate error = %v, want ErrAlreadySubmitted", err)
	}

	if count := mustInt(t, "RoundUpdateCount", roundUpdateCount(l, 1)); count != 1 {
		t.Errorf("RoundUpdateCount(1) = %d, want 1", count)
	}

	update, err := l.RoundUpdate(ctx, 1, 0)
	if err != nil {
		t.Fatalf("RoundUpdate: %v", err)
	}
	if update.ClientId != "client-1" || update.ArtifactRef != "client1_update" {
		t.Errorf("RoundUpdate(1, 0) = %+v", update)
	}

	if _, err := l.RoundUpdate(ctx, 1, 1); !errors.Is(err, ledger.ErrNoSuchUpdate) {
		t.Errorf("RoundUpdate out of range error = %v, want ErrNoSuchUpdate", err)
	}

	client, err := l.Client(ctx, "client-1")
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if client.LastSubmittedRound != 1 {
		t.Errorf("LastSubmittedRound = %d, want 1", client.LastSubmittedRound)
	}
	if client.Nonce != 2 {
		t.Errorf("Nonce = %d, want 2", client.Nonce)
	}
}

func testFinalize(t *testing.T, open Factory) {
	l := openLedger(t, open, 2)
	ctx := context.Background()

	mustRegister(t, l, "client-1", "client-2")
	mustSubmit(t, l, "client-1", "client1_update")

	_, err := l.FinalizeRound(ctx, 1, "too_early")
	if !errors.Is(err, ledger.ErrQuorumNotMet) {
		t.Fatalf("FinalizeRound below quorum error = %v, want ErrQuorumNotMet", err)
	}
	if round := mustInt(t, "CurrentRound", l.CurrentRound); round != 1 {
		t.Fatalf("CurrentRound after rejected finalize = %d, want 1", round)
	}

	mustSubmit(t, l, "client-2", "client2_update")

	receipt, err := l.FinalizeRound(ctx, 1, "new_global_model_cid_round_1")
	if err != nil {
		t.Fatalf("FinalizeRound: %v", err)
	}
	if receipt.Method != common.METHOD_FINALIZE_ROUND {
		t.Errorf("receipt method = %q", receipt.Method)
	}

	if round := mustInt(t, "CurrentRound", l.CurrentRound); round != 2 {
		t.Errorf("CurrentRound = %d, want 2", round)
	}
	if count := mustInt(t, "RoundUpdateCount", roundUpdateCount(l, 2)); count != 0 {
		t.Errorf("RoundUpdateCount(2) = %d, want 0", count)
	}
	if count := mustInt(t, "RoundUpdateCount", roundUpdateCount(l, 1)); count != 2 {
		t.Errorf("finalized round lost its updates: count = %d", count)
	}

	ref, err := l.GlobalModelRef(ctx)
	if err != nil {
		t.Fatalf("GlobalModelRef: %v", err)
	}
	if ref != "new_global_model_cid_round_1" {
		t.Errorf("GlobalModelRef = %q", ref)
	}

	for _, id := range []string{"client-1", "client-2"} {
		client, err := l.Client(ctx, id)
		if err != nil {
			t.Fatalf("Client(%s): %v", id, err)
		}
		if client.Balance != common.REWARD_PER_ROUND/2 {
			t.Errorf("%s balance = %d, want %d", id, client.Balance, common.REWARD_PER_ROUND/2)
		}
	}

	// a new round accepts a fresh update from the same client
	mustSubmit(t, l, "client-1", "client1_update_round_2")

	snapshot, err := l.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot.OnchainRound != 2 || snapshot.UpdatesReceived != 1 || snapshot.UpdatesNeeded != 2 {
		t.Errorf("snapshot = round %d, %d/%d updates", snapshot.OnchainRound, snapshot.UpdatesReceived, snapshot.UpdatesNeeded)
	}
	if snapshot.BlockNumber != 6 {
		t.Errorf("BlockNumber = %d, want 6", snapshot.BlockNumber)
	}
	if len(snapshot.Transactions) == 0 || snapshot.Transactions[0].Method != common.METHOD_SUBMIT_UPDATE {
		t.Errorf("most recent transaction should be the last submitUpdate: %+v", snapshot.Transactions)
	}
	if snapshot.LedgerAddress == "" {
		t.Error("snapshot has no ledger address")
	}
}

func testConcurrentFinalize(t *testing.T, open Factory) {
	l := openLedger(t, open, 2)

	mustRegister(t, l, "client-1", "client-2")
	mustSubmit(t, l, "client-1", "a")
	mustSubmit(t, l, "client-2", "b")

	const contenders = 8
	var wg sync.WaitGroup
	results := make(chan error, contenders)
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := l.FinalizeRound(context.Background(), 1, fmt.Sprintf("aggregate-%d", i))
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	winners := 0
	for err := range results {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ledger.ErrRoundMismatch):
		default:
			t.Errorf("unexpected finalize error: %v", err)
		}
	}
	if winners != 1 {
		t.Errorf("winners = %d, want exactly 1", winners)
	}
	if round := mustInt(t, "CurrentRound", l.CurrentRound); round != 2 {
		t.Errorf("CurrentRound = %d, want 2", round)
	}
}

func testStaleFinalize(t *testing.T, open Factory) {
	l := openLedger(t, open, 2)
	ctx := context.Background()

	mustRegister(t, l, "client-1", "client-2")
	mustSubmit(t, l, "client-1", "a1")
	mustSubmit(t, l, "client-2", "b1")
	if _, err := l.FinalizeRound(ctx, 1, "winner_round_1"); err != nil {
		t.Fatalf("FinalizeRound(1): %v", err)
	}

	// round 2 reaches quorum before a late finalizer of round 1 lands
	mustSubmit(t, l, "client-1", "a2")
	mustSubmit(t, l, "client-2", "b2")

	for _, round := range []int{1, 3} {
		_, err := l.FinalizeRound(ctx, round, "stale_aggregate")
		if !errors.Is(err, ledger.ErrRoundMismatch) {
			t.Fatalf("FinalizeRound(%d) at round 2 error = %v, want ErrRoundMismatch", round, err)
		}
		if !errors.Is(err, ledger.ErrRejected) {
			t.Errorf("round mismatch is not a rejection: %v", err)
		}
	}

	if round := mustInt(t, "CurrentRound", l.CurrentRound); round != 2 {
		t.Errorf("CurrentRound = %d, want 2", round)
	}
	if count := mustInt(t, "RoundUpdateCount", roundUpdateCount(l, 2)); count != 2 {
		t.Errorf("RoundUpdateCount(2) = %d, want 2", count)
	}
	ref, err := l.GlobalModelRef(ctx)
	if err != nil {
		t.Fatalf("GlobalModelRef: %v", err)
	}
	if ref != "winner_round_1" {
		t.Errorf("GlobalModelRef = %q, want winner_round_1", ref)
	}
	client, err := l.Client(ctx, "client-1")
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if client.Balance != common.REWARD_PER_ROUND/2 {
		t.Errorf("balance = %d, want one round of rewards %d", client.Balance, common.REWARD_PER_ROUND/2)
	}

	if _, err := l.FinalizeRound(ctx, 2, "winner_round_2"); err != nil {
		t.Fatalf("FinalizeRound(2): %v", err)
	}
}

func testConcurrentSubmissions(t *testing.T, open Factory) {
	l := openLedger(t, open, 4)

	const clients = 6
	ids := make([]string, clients)
	for i := range ids {
		ids[i] = common.GetClientId(i)
	}
	mustRegister(t, l, ids...)

	var wg sync.WaitGroup
	errs := make(chan error, clients*2)
	for _, id := range ids {
		for attempt := 0; attempt < 2; attempt++ {
			wg.Add(1)
			go func(id string, attempt int) {
				defer wg.Done()
				_, err := l.SubmitUpdate(context.Background(), id, fmt.Sprintf("%s-%d", id, attempt))
				errs <- err
			}(id, attempt)
		}
	}
	wg.Wait()
	close(errs)

	accepted := 0
	for err := range errs {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, ledger.ErrAlreadySubmitted):
		default:
			t.Errorf("unexpected submit error: %v", err)
		}
	}
	if accepted != clients {
		t.Errorf("accepted = %d, want %d", accepted, clients)
	}
	if count := mustInt(t, "RoundUpdateCount", roundUpdateCount(l, 1)); count != clients {
		t.Errorf("RoundUpdateCount(1) = %d, want %d", count, clients)
	}
}

func testClosed(t *testing.T, open Factory) {
	l := open(t, 1, initialRef)
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if _, err := l.CurrentRound(context.Background()); !errors.Is(err, ledger.ErrUnreachable) {
		t.Errorf("CurrentRound after Close error = %v, want ErrUnreachable", err)
	}
	if _, err := l.RegisterClient(context.Background(), "late"); !errors.Is(err, ledger.ErrUnreachable) {
		t.Errorf("RegisterClient after Close error = %v, want ErrUnreachable", err)
	}
}
