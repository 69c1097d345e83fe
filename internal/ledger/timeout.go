package ledger

import (
	"context"
	"time"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
)

type timeoutLedger struct {
	inner   ILedger
	timeout time.Duration
}

// WithTimeout bounds every call to l by d. A call that runs out of time fails
// with ErrUnreachable. A non-positive d returns l unchanged.
func WithTimeout(l ILedger, d time.Duration) ILedger {
	if d <= 0 {
		return l
	}
	return &timeoutLedger{inner: l, timeout: d}
}

func call[T any](tl *timeoutLedger, ctx context.Context, op string, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, tl.timeout)
	defer cancel()

	type outcome struct {
		value T
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		value, err := fn(ctx)
		done <- outcome{value, err}
	}()

	select {
	case o := <-done:
		return o.value, classify(op, o.err)
	case <-ctx.Done():
		var zero T
		return zero, Unreachable(op, ctx.Err())
	}
}

func (tl *timeoutLedger) CurrentRound(ctx context.Context) (int, error) {
	return call(tl, ctx, "currentRound", tl.inner.CurrentRound)
}

func (tl *timeoutLedger) UpdatesNeeded(ctx context.Context) (int, error) {
	return call(tl, ctx, "updatesNeeded", tl.inner.UpdatesNeeded)
}

func (tl *timeoutLedger) RoundUpdateCount(ctx context.Context, round int) (int, error) {
	return call(tl, ctx, "roundUpdateCount", func(ctx context.Context) (int, error) {
		return tl.inner.RoundUpdateCount(ctx, round)
	})
}

func (tl *timeoutLedger) RoundUpdate(ctx context.Context, round int, index int) (model.RoundUpdate, error) {
	return call(tl, ctx, "roundUpdate", func(ctx context.Context) (model.RoundUpdate, error) {
		return tl.inner.RoundUpdate(ctx, round, index)
	})
}

func (tl *timeoutLedger) IsRegistered(ctx context.Context, clientId string) (bool, error) {
	return call(tl, ctx, "isRegistered", func(ctx context.Context) (bool, error) {
		return tl.inner.IsRegistered(ctx, clientId)
	})
}

func (tl *timeoutLedger) Client(ctx context.Context, clientId string) (model.ClientRecord, error) {
	return call(tl, ctx, "clients", func(ctx context.Context) (model.ClientRecord, error) {
		return tl.inner.Client(ctx, clientId)
	})
}

func (tl *timeoutLedger) GlobalModelRef(ctx context.Context) (string, error) {
	return call(tl, ctx, "globalModelRef", tl.inner.GlobalModelRef)
}

func (tl *timeoutLedger) RegisterClient(ctx context.Context, clientId string) (model.Receipt, error) {
	return call(tl, ctx, "registerClient", func(ctx context.Context) (model.Receipt, error) {
		return tl.inner.RegisterClient(ctx, clientId)
	})
}

func (tl *timeoutLedger) SubmitUpdate(ctx context.Context, clientId string, artifactRef string) (model.Receipt, error) {
	return call(tl, ctx, "submitUpdate", func(ctx context.Context) (model.Receipt, error) {
		return tl.inner.SubmitUpdate(ctx, clientId, artifactRef)
	})
}

func (tl *timeoutLedger) FinalizeRound(ctx context.Context, round int, newArtifactRef string) (model.Receipt, error) {
	return call(tl, ctx, "finalizeRound", func(ctx context.Context) (model.Receipt, error) {
		return tl.inner.FinalizeRound(ctx, round, newArtifactRef)
	})
}

func (tl *timeoutLedger) Snapshot(ctx context.Context) (model.LedgerSnapshot, error) {
	return call(tl, ctx, "snapshot", tl.inner.Snapshot)
}

func (tl *timeoutLedger) Close() error {
	return tl.inner.Close()
}
