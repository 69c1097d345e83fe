package ledger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/ledger"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/ledger/memledger"
)

// stallingLedger blocks CurrentRound until its context ends.
type stallingLedger struct {
	ledger.ILedger
}

func (s stallingLedger) CurrentRound(ctx context.Context) (int, error) {
	<-ctx.Done()
	return 0, ctx.Err()
}

func TestWithTimeoutMapsStallToUnreachable(t *testing.T) {
	inner := stallingLedger{memledger.NewMemLedger(1, "init", "")}
	l := ledger.WithTimeout(inner, 20*time.Millisecond)

	start := time.Now()
	_, err := l.CurrentRound(context.Background())
	if !errors.Is(err, ledger.ErrUnreachable) {
		t.Fatalf("error = %v, want ErrUnreachable", err)
	}
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("call took %v, timeout not enforced", elapsed)
	}

	// methods that do not stall pass straight through
	needed, err := l.UpdatesNeeded(context.Background())
	if err != nil || needed != 1 {
		t.Errorf("UpdatesNeeded = %d, %v", needed, err)
	}
}

func TestWithTimeoutKeepsRejections(t *testing.T) {
	l := ledger.WithTimeout(memledger.NewMemLedger(1, "init", ""), time.Second)

	_, err := l.SubmitUpdate(context.Background(), "client-0", "ref")
	if !errors.Is(err, ledger.ErrNotRegistered) {
		t.Fatalf("error = %v, want ErrNotRegistered", err)
	}
	if errors.Is(err, ledger.ErrUnreachable) {
		t.Error("rejection reported as unreachable")
	}
}

func TestWithTimeoutDisabled(t *testing.T) {
	inner := memledger.NewMemLedger(1, "init", "")
	if got := ledger.WithTimeout(inner, 0); got != ledger.ILedger(inner) {
		t.Error("non-positive timeout should return the ledger unchanged")
	}
}

func TestUnreachableWrapping(t *testing.T) {
	cause := errors.New("connection refused")
	err := ledger.Unreachable("registerClient", cause)
	if !errors.Is(err, ledger.ErrUnreachable) || !errors.Is(err, cause) {
		t.Errorf("Unreachable(%v) = %v, lost a wrapped error", cause, err)
	}
	if ledger.Unreachable("op", nil) != nil {
		t.Error("Unreachable(nil) should be nil")
	}
	if again := ledger.Unreachable("outer", err); again != err {
		t.Errorf("double wrap changed the error: %v", again)
	}
}

func TestRewardShare(t *testing.T) {
	tests := []struct {
		contributors int
		want         int64
	}{
		{0, 0},
		{1, 100},
		{2, 50},
		{3, 33},
	}
	for _, tt := range tests {
		if got := ledger.RewardShare(100, tt.contributors); got != tt.want {
			t.Errorf("RewardShare(100, %d) = %d, want %d", tt.contributors, got, tt.want)
		}
	}
}

func TestTxHashIsDeterministic(t *testing.T) {
	a := ledger.TxHash(3, "client-1", 2, "submitUpdate", "modelCID: x")
	b := ledger.TxHash(3, "client-1", 2, "submitUpdate", "modelCID: x")
	c := ledger.TxHash(4, "client-1", 2, "submitUpdate", "modelCID: x")
	if a != b {
		t.Errorf("same inputs hashed differently: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different block numbers share a hash")
	}
	if len(a) != 2+64 {
		t.Errorf("hash %q has length %d", a, len(a))
	}
}
