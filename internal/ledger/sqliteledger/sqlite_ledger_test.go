package sqliteledger

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/ledger"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/ledger/ledgertest"
)

func openTestLedger(t *testing.T, path string, updatesNeeded int, initialModelRef string, fresh bool) *SqliteLedger {
	t.Helper()
	l, err := Open(context.Background(), Options{
		Path:            path,
		UpdatesNeeded:   updatesNeeded,
		InitialModelRef: initialModelRef,
		Fresh:           fresh,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return l
}

func TestSqliteLedgerConformance(t *testing.T) {
	ledgertest.Run(t, func(t *testing.T, updatesNeeded int, initialModelRef string) ledger.ILedger {
		return openTestLedger(t, filepath.Join(t.TempDir(), "ledger.db"), updatesNeeded, initialModelRef, false)
	})
}

func TestReopenResumesState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "ledger.db")
	ctx := context.Background()

	l := openTestLedger(t, path, 1, "init", false)
	if _, err := l.RegisterClient(ctx, "client-0"); err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}
	if _, err := l.SubmitUpdate(ctx, "client-0", "update"); err != nil {
		t.Fatalf("SubmitUpdate: %v", err)
	}
	if _, err := l.FinalizeRound(ctx, 1, "global-1"); err != nil {
		t.Fatalf("FinalizeRound: %v", err)
	}
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	resumed := openTestLedger(t, path, 5, "ignored", false)
	defer resumed.Close()

	round, err := resumed.CurrentRound(ctx)
	if err != nil || round != 2 {
		t.Fatalf("CurrentRound = %d, %v; want 2", round, err)
	}
	needed, err := resumed.UpdatesNeeded(ctx)
	if err != nil || needed != 1 {
		t.Errorf("UpdatesNeeded = %d, %v; want the deployed value 1", needed, err)
	}
	ref, err := resumed.GlobalModelRef(ctx)
	if err != nil || ref != "global-1" {
		t.Errorf("GlobalModelRef = %q, %v", ref, err)
	}
	client, err := resumed.Client(ctx, "client-0")
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if client.Balance != 100 || client.Nonce != 2 {
		t.Errorf("client = %+v, want balance 100 and nonce 2", client)
	}
}

func TestFreshDropsPreviousDeployment(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ledger.db")
	ctx := context.Background()

	l := openTestLedger(t, path, 1, "init", false)
	if _, err := l.RegisterClient(ctx, "client-0"); err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}
	l.Close()

	fresh := openTestLedger(t, path, 3, "init-2", true)
	defer fresh.Close()

	registered, err := fresh.IsRegistered(ctx, "client-0")
	if err != nil {
		t.Fatalf("IsRegistered: %v", err)
	}
	if registered {
		t.Error("fresh deployment kept a client from the previous one")
	}
	snapshot, err := fresh.Snapshot(ctx)
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if snapshot.BlockNumber != 0 || snapshot.UpdatesNeeded != 3 || snapshot.GlobalModelRef != "init-2" {
		t.Errorf("snapshot = %+v", snapshot)
	}
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(context.Background(), Options{}); err == nil {
		t.Fatal("Open with empty path should fail")
	}
}

func TestCanceledContextIsUnreachable(t *testing.T) {
	l := openTestLedger(t, filepath.Join(t.TempDir(), "ledger.db"), 1, "init", false)
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := l.RegisterClient(ctx, "client-0")
	if !errors.Is(err, ledger.ErrUnreachable) {
		t.Errorf("error = %v, want ErrUnreachable", err)
	}
}
