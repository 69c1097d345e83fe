package ledger

import (
	"context"
	"fmt"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
)

// ReadRound assembles the record of round from individual ledger reads. The
// updates are listed in ledger order.
func ReadRound(ctx context.Context, l ILedger, round int) (model.RoundRecord, error) {
	record := model.RoundRecord{RoundNumber: round}

	current, err := l.CurrentRound(ctx)
	if err != nil {
		return record, fmt.Errorf("reading current round: %w", err)
	}
	record.Finalized = round < current

	record.QuorumThreshold, err = l.UpdatesNeeded(ctx)
	if err != nil {
		return record, fmt.Errorf("reading quorum threshold: %w", err)
	}

	count, err := l.RoundUpdateCount(ctx, round)
	if err != nil {
		return record, fmt.Errorf("reading update count of round %d: %w", round, err)
	}
	record.Updates = make([]model.RoundUpdate, 0, count)
	for i := 0; i < count; i++ {
		update, err := l.RoundUpdate(ctx, round, i)
		if err != nil {
			return record, fmt.Errorf("reading update %d of round %d: %w", i, round, err)
		}
		record.Updates = append(record.Updates, update)
	}

	return record, nil
}
