package florch

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/artifact"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/ledger/memledger"
	"github.com/hashicorp/go-hclog"
)

func TestClientSubmitsOncePerRound(t *testing.T) {
	ctx := context.Background()
	store, err := artifact.NewFileStore(filepath.Join(t.TempDir(), "artifacts"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	trainer := NewSyntheticTrainer(DefaultTargetModel(), 0.5, 0.01)
	initialRef, err := store.Put(ctx, trainer.InitialModel())
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	l := memledger.NewMemLedger(2, initialRef, "")

	client := NewFlClient("client-0", l, store, trainer, hclog.NewNullLogger())
	client.Start(ctx)
	defer client.Stop()

	first := client.RunRound(ctx, 1)
	if first.Err != nil || first.Skipped || first.Receipt == nil {
		t.Fatalf("first report = %+v", first)
	}
	if _, err := store.Get(ctx, first.ArtifactRef); err != nil {
		t.Errorf("submitted artifact is not in the store: %v", err)
	}

	second := client.RunRound(ctx, 1)
	if second.Err != nil || !second.Skipped {
		t.Errorf("second report = %+v, want skipped", second)
	}

	count, _ := l.RoundUpdateCount(ctx, 1)
	if count != 1 {
		t.Errorf("round 1 holds %d updates, want 1", count)
	}
	record, err := l.Client(ctx, "client-0")
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if record.LastSubmittedRound != 1 {
		t.Errorf("last submitted round = %d, want 1", record.LastSubmittedRound)
	}
}

func TestClientReportsCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	store, err := artifact.NewFileStore(filepath.Join(t.TempDir(), "artifacts"))
	if err != nil {
		t.Fatalf("NewFileStore: %v", err)
	}
	client := NewFlClient("client-0", memledger.NewMemLedger(1, "", ""), store,
		NewSyntheticTrainer(DefaultTargetModel(), 0.5, 0), hclog.NewNullLogger())
	// the worker is never started, so only cancellation can end RunRound
	cancel()

	report := client.RunRound(ctx, 1)
	if report.Err == nil {
		t.Fatal("expected an error from a canceled context")
	}
}

func TestSyntheticTrainerMovesTowardsTarget(t *testing.T) {
	target := DefaultTargetModel()
	trainer := NewSyntheticTrainer(target, 0.5, 0)

	update, err := trainer.Train(context.Background(), "client-0", 1, trainer.InitialModel())
	if err != nil {
		t.Fatalf("Train: %v", err)
	}
	for name, want := range target.Weights {
		got := update.Weights[name]
		for i := range want.Data {
			if got.Data[i] != want.Data[i]/2 {
				t.Errorf("%s[%d] = %v, want %v", name, i, got.Data[i], want.Data[i]/2)
			}
		}
	}

	other, _ := NewSyntheticTrainer(target, 0.5, 0.1).Train(context.Background(), "client-1", 1, trainer.InitialModel())
	again, _ := NewSyntheticTrainer(target, 0.5, 0.1).Train(context.Background(), "client-1", 1, trainer.InitialModel())
	if other.Weights["output.bias"].Data[0] != again.Weights["output.bias"].Data[0] {
		t.Error("training is not deterministic per client and round")
	}
}
