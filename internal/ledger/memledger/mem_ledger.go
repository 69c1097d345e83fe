package memledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/ledger"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
	"github.com/google/uuid"
)

// MemLedger is an in-process ledger. A single mutex serializes every
// operation, which gives each write all-or-nothing semantics and a single
// winner among concurrent finalize calls.
type MemLedger struct {
	mu                sync.Mutex
	address           string
	aggregatorAccount string
	currentRound      int
	updatesNeeded     int
	globalModelRef    string
	clients           map[string]*model.ClientRecord
	clientOrder       []string
	roundUpdates      map[int][]model.RoundUpdate
	aggregatorNonce   uint64
	transactions      []model.Transaction
	closed            bool
}

func NewMemLedger(updatesNeeded int, initialModelRef string, aggregatorAccount string) *MemLedger {
	if aggregatorAccount == "" {
		aggregatorAccount = common.DEFAULT_AGGREGATOR_ACCOUNT
	}
	return &MemLedger{
		address:           ledger.Address(uuid.NewString()),
		aggregatorAccount: aggregatorAccount,
		currentRound:      1,
		updatesNeeded:     updatesNeeded,
		globalModelRef:    initialModelRef,
		clients:           make(map[string]*model.ClientRecord),
		roundUpdates:      make(map[int][]model.RoundUpdate),
	}
}

func (l *MemLedger) lock(op string) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ledger.Unreachable(op, fmt.Errorf("ledger %s is shut down", l.address))
	}
	return nil
}

func (l *MemLedger) CurrentRound(ctx context.Context) (int, error) {
	if err := l.lock("currentRound"); err != nil {
		return 0, err
	}
	defer l.mu.Unlock()

	return l.currentRound, nil
}

func (l *MemLedger) UpdatesNeeded(ctx context.Context) (int, error) {
	if err := l.lock("updatesNeeded"); err != nil {
		return 0, err
	}
	defer l.mu.Unlock()

	return l.updatesNeeded, nil
}

func (l *MemLedger) RoundUpdateCount(ctx context.Context, round int) (int, error) {
	if err := l.lock("roundUpdateCount"); err != nil {
		return 0, err
	}
	defer l.mu.Unlock()

	return len(l.roundUpdates[round]), nil
}

func (l *MemLedger) RoundUpdate(ctx context.Context, round int, index int) (model.RoundUpdate, error) {
	if err := l.lock("roundUpdate"); err != nil {
		return model.RoundUpdate{}, err
	}
	defer l.mu.Unlock()

	updates := l.roundUpdates[round]
	if index < 0 || index >= len(updates) {
		return model.RoundUpdate{}, fmt.Errorf("round %d index %d: %w", round, index, ledger.ErrNoSuchUpdate)
	}
	return updates[index], nil
}

func (l *MemLedger) IsRegistered(ctx context.Context, clientId string) (bool, error) {
	if err := l.lock("isRegistered"); err != nil {
		return false, err
	}
	defer l.mu.Unlock()

	client, found := l.clients[clientId]
	return found && client.Registered, nil
}

func (l *MemLedger) Client(ctx context.Context, clientId string) (model.ClientRecord, error) {
	if err := l.lock("clients"); err != nil {
		return model.ClientRecord{}, err
	}
	defer l.mu.Unlock()

	client, found := l.clients[clientId]
	if !found {
		return model.ClientRecord{Id: clientId}, nil
	}
	return *client, nil
}

func (l *MemLedger) GlobalModelRef(ctx context.Context) (string, error) {
	if err := l.lock("globalModelRef"); err != nil {
		return "", err
	}
	defer l.mu.Unlock()

	return l.globalModelRef, nil
}

func (l *MemLedger) RegisterClient(ctx context.Context, clientId string) (model.Receipt, error) {
	if err := l.lock("registerClient"); err != nil {
		return model.Receipt{}, err
	}
	defer l.mu.Unlock()

	if client, found := l.clients[clientId]; found && client.Registered {
		return model.Receipt{}, fmt.Errorf("%s: %w", clientId, ledger.ErrAlreadyRegistered)
	}

	client := &model.ClientRecord{Id: clientId, Registered: true}
	l.clients[clientId] = client
	l.clientOrder = append(l.clientOrder, clientId)

	tx := l.commit(clientId, &client.Nonce, common.METHOD_REGISTER_CLIENT, "")
	return tx.Receipt(), nil
}

func (l *MemLedger) SubmitUpdate(ctx context.Context, clientId string, artifactRef string) (model.Receipt, error) {
	if err := l.lock("submitUpdate"); err != nil {
		return model.Receipt{}, err
	}
	defer l.mu.Unlock()

	client, found := l.clients[clientId]
	if !found || !client.Registered {
		return model.Receipt{}, fmt.Errorf("%s: %w", clientId, ledger.ErrNotRegistered)
	}
	if client.LastSubmittedRound >= l.currentRound {
		return model.Receipt{}, fmt.Errorf("%s in round %d: %w", clientId, l.currentRound, ledger.ErrAlreadySubmitted)
	}

	client.LastSubmittedRound = l.currentRound
	l.roundUpdates[l.currentRound] = append(l.roundUpdates[l.currentRound], model.RoundUpdate{
		ClientId:    clientId,
		ArtifactRef: artifactRef,
	})

	tx := l.commit(clientId, &client.Nonce, common.METHOD_SUBMIT_UPDATE, fmt.Sprintf("modelCID: %s", artifactRef))
	return tx.Receipt(), nil
}

func (l *MemLedger) FinalizeRound(ctx context.Context, round int, newArtifactRef string) (model.Receipt, error) {
	if err := l.lock("finalizeRound"); err != nil {
		return model.Receipt{}, err
	}
	defer l.mu.Unlock()

	if round != l.currentRound {
		return model.Receipt{}, fmt.Errorf("finalize of round %d while at round %d: %w",
			round, l.currentRound, ledger.ErrRoundMismatch)
	}

	updates := l.roundUpdates[l.currentRound]
	if len(updates) < l.updatesNeeded {
		return model.Receipt{}, fmt.Errorf("round %d has %d of %d updates: %w",
			l.currentRound, len(updates), l.updatesNeeded, ledger.ErrQuorumNotMet)
	}

	share := ledger.RewardShare(common.REWARD_PER_ROUND, len(updates))
	for _, update := range updates {
		if client, found := l.clients[update.ClientId]; found {
			client.Balance += share
		}
	}

	l.globalModelRef = newArtifactRef
	l.currentRound++

	tx := l.commit(l.aggregatorAccount, &l.aggregatorNonce, common.METHOD_FINALIZE_ROUND, fmt.Sprintf("newGlobalModelCID: %s", newArtifactRef))
	return tx.Receipt(), nil
}

func (l *MemLedger) Snapshot(ctx context.Context) (model.LedgerSnapshot, error) {
	if err := l.lock("snapshot"); err != nil {
		return model.LedgerSnapshot{}, err
	}
	defer l.mu.Unlock()

	clients := make([]model.ClientRecord, 0, len(l.clientOrder))
	for _, id := range l.clientOrder {
		clients = append(clients, *l.clients[id])
	}

	recent := l.transactions
	if len(recent) > common.SNAPSHOT_TRANSACTIONS_LIMIT {
		recent = recent[len(recent)-common.SNAPSHOT_TRANSACTIONS_LIMIT:]
	}
	transactions := make([]model.Transaction, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		transactions = append(transactions, recent[i])
	}

	return model.LedgerSnapshot{
		LedgerAddress:   l.address,
		BlockNumber:     uint64(len(l.transactions)),
		OnchainRound:    l.currentRound,
		UpdatesReceived: len(l.roundUpdates[l.currentRound]),
		UpdatesNeeded:   l.updatesNeeded,
		GlobalModelRef:  l.globalModelRef,
		Clients:         clients,
		Transactions:    transactions,
		TakenAt:         time.Now(),
	}, nil
}

func (l *MemLedger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	return nil
}

// commit appends a transaction to the log. The caller holds l.mu.
func (l *MemLedger) commit(from string, nonce *uint64, method string, params string) model.Transaction {
	*nonce++
	blockNumber := uint64(len(l.transactions)) + 1
	tx := model.Transaction{
		BlockNumber: blockNumber,
		TxHash:      ledger.TxHash(blockNumber, from, *nonce, method, params),
		From:        from,
		Nonce:       *nonce,
		Method:      method,
		Params:      params,
		Timestamp:   time.Now(),
	}
	l.transactions = append(l.transactions, tx)
	return tx
}
