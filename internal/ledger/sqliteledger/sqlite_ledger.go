package sqliteledger

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/ledger"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
	"github.com/google/uuid"
	"github.com/hashicorp/go-hclog"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"
)

type Options struct {
	Path              string
	PoolSize          int
	UpdatesNeeded     int
	InitialModelRef   string
	AggregatorAccount string
	// Fresh drops any state left in Path by an earlier deployment.
	Fresh  bool
	Logger hclog.Logger
}

// SqliteLedger keeps the ledger state of record in a SQLite database. Every
// write runs in an IMMEDIATE transaction, so SQLite's single writer lock
// orders concurrent writes and only one finalize per round can commit.
type SqliteLedger struct {
	pool   *sqlitex.Pool
	path   string
	logger hclog.Logger
	closed atomic.Bool
}

type ledgerState struct {
	address           string
	currentRound      int
	updatesNeeded     int
	globalModelRef    string
	aggregatorAccount string
	aggregatorNonce   uint64
}

func Open(ctx context.Context, opts Options) (*SqliteLedger, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("sqlite ledger: path is required")
	}
	if opts.PoolSize <= 0 {
		opts.PoolSize = 4
	}
	if opts.AggregatorAccount == "" {
		opts.AggregatorAccount = common.DEFAULT_AGGREGATOR_ACCOUNT
	}
	if opts.Logger == nil {
		opts.Logger = hclog.NewNullLogger()
	}
	if err := common.EnsureParentDir(opts.Path); err != nil {
		return nil, fmt.Errorf("sqlite ledger: %w", err)
	}

	pool, err := sqlitex.NewPool(opts.Path, sqlitex.PoolOptions{
		PoolSize:    opts.PoolSize,
		PrepareConn: prepareConnection,
	})
	if err != nil {
		return nil, ledger.Unreachable("open", fmt.Errorf("opening %s: %w", opts.Path, err))
	}

	l := &SqliteLedger{pool: pool, path: opts.Path, logger: opts.Logger}
	if err := l.deploy(ctx, opts); err != nil {
		pool.Close()
		return nil, err
	}

	return l, nil
}

func prepareConnection(conn *sqlite.Conn) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("%s: %w", pragma, err)
		}
	}
	return nil
}

// deploy creates the schema and the ledger state row. An existing state row
// is kept unless opts.Fresh is set.
func (l *SqliteLedger) deploy(ctx context.Context, opts Options) (err error) {
	conn, err := l.pool.Take(ctx)
	if err != nil {
		return ledger.Unreachable("deploy", err)
	}
	defer l.pool.Put(conn)

	if opts.Fresh {
		if err := sqlitex.ExecuteScript(conn, dropSchema, nil); err != nil {
			return ledger.Unreachable("deploy", err)
		}
	}
	if err := sqlitex.ExecuteScript(conn, schema, nil); err != nil {
		return ledger.Unreachable("deploy", err)
	}

	endFn, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return ledger.Unreachable("deploy", err)
	}
	defer endFn(&err)

	state, found, err := readState(conn)
	if err != nil {
		return ledger.Unreachable("deploy", err)
	}
	if found {
		l.logger.Info(fmt.Sprintf("Resuming ledger %s at round %d", state.address, state.currentRound))
		return nil
	}

	address := ledger.Address(uuid.NewString())
	err = sqlitex.Execute(conn,
		`INSERT INTO ledger_state (id, address, current_round, updates_needed, global_model_ref, aggregator_account)
		 VALUES (1, ?, 1, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{address, opts.UpdatesNeeded, opts.InitialModelRef, opts.AggregatorAccount}})
	if err != nil {
		return ledger.Unreachable("deploy", err)
	}

	l.logger.Info(fmt.Sprintf("Deployed ledger %s to %s (updates needed: %d)", address, opts.Path, opts.UpdatesNeeded))
	return nil
}

// withConn borrows a connection for fn. Database failures are reported as
// ErrUnreachable, ledger rejections pass through unchanged.
func (l *SqliteLedger) withConn(ctx context.Context, op string, fn func(conn *sqlite.Conn) error) error {
	if l.closed.Load() {
		return ledger.Unreachable(op, fmt.Errorf("ledger %s is shut down", l.path))
	}

	conn, err := l.pool.Take(ctx)
	if err != nil {
		return ledger.Unreachable(op, err)
	}
	defer l.pool.Put(conn)

	if err := fn(conn); err != nil {
		if errors.Is(err, ledger.ErrRejected) {
			return err
		}
		return ledger.Unreachable(op, err)
	}
	return nil
}

func (l *SqliteLedger) write(ctx context.Context, op string, fn func(conn *sqlite.Conn) (model.Receipt, error)) (model.Receipt, error) {
	var receipt model.Receipt
	err := l.withConn(ctx, op, func(conn *sqlite.Conn) (err error) {
		endFn, err := sqlitex.ImmediateTransaction(conn)
		if err != nil {
			return err
		}
		defer endFn(&err)

		receipt, err = fn(conn)
		return err
	})
	return receipt, err
}

func (l *SqliteLedger) state(ctx context.Context, op string) (ledgerState, error) {
	var state ledgerState
	err := l.withConn(ctx, op, func(conn *sqlite.Conn) error {
		var err error
		state, _, err = readState(conn)
		return err
	})
	return state, err
}

func (l *SqliteLedger) CurrentRound(ctx context.Context) (int, error) {
	state, err := l.state(ctx, "currentRound")
	return state.currentRound, err
}

func (l *SqliteLedger) UpdatesNeeded(ctx context.Context) (int, error) {
	state, err := l.state(ctx, "updatesNeeded")
	return state.updatesNeeded, err
}

func (l *SqliteLedger) GlobalModelRef(ctx context.Context) (string, error) {
	state, err := l.state(ctx, "globalModelRef")
	return state.globalModelRef, err
}

func (l *SqliteLedger) RoundUpdateCount(ctx context.Context, round int) (int, error) {
	var count int
	err := l.withConn(ctx, "roundUpdateCount", func(conn *sqlite.Conn) error {
		var err error
		count, err = countRoundUpdates(conn, round)
		return err
	})
	return count, err
}

func (l *SqliteLedger) RoundUpdate(ctx context.Context, round int, index int) (model.RoundUpdate, error) {
	var update model.RoundUpdate
	err := l.withConn(ctx, "roundUpdate", func(conn *sqlite.Conn) error {
		found := false
		err := sqlitex.Execute(conn,
			`SELECT client_id, artifact_ref FROM round_updates WHERE round = ? AND idx = ?`,
			&sqlitex.ExecOptions{
				Args: []any{round, index},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					update.ClientId = stmt.ColumnText(0)
					update.ArtifactRef = stmt.ColumnText(1)
					found = true
					return nil
				},
			})
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("round %d index %d: %w", round, index, ledger.ErrNoSuchUpdate)
		}
		return nil
	})
	return update, err
}

func (l *SqliteLedger) IsRegistered(ctx context.Context, clientId string) (bool, error) {
	var registered bool
	err := l.withConn(ctx, "isRegistered", func(conn *sqlite.Conn) error {
		var err error
		_, registered, err = readClient(conn, clientId)
		return err
	})
	return registered, err
}

func (l *SqliteLedger) Client(ctx context.Context, clientId string) (model.ClientRecord, error) {
	var client model.ClientRecord
	err := l.withConn(ctx, "clients", func(conn *sqlite.Conn) error {
		var err error
		client, _, err = readClient(conn, clientId)
		return err
	})
	return client, err
}

func (l *SqliteLedger) RegisterClient(ctx context.Context, clientId string) (model.Receipt, error) {
	return l.write(ctx, "registerClient", func(conn *sqlite.Conn) (model.Receipt, error) {
		_, found, err := readClient(conn, clientId)
		if err != nil {
			return model.Receipt{}, err
		}
		if found {
			return model.Receipt{}, fmt.Errorf("%s: %w", clientId, ledger.ErrAlreadyRegistered)
		}

		err = sqlitex.Execute(conn,
			`INSERT INTO clients (id, seq, nonce) VALUES (?, (SELECT COUNT(*) FROM clients), 1)`,
			&sqlitex.ExecOptions{Args: []any{clientId}})
		if err != nil {
			return model.Receipt{}, err
		}

		tx, err := commit(conn, clientId, 1, common.METHOD_REGISTER_CLIENT, "")
		return tx.Receipt(), err
	})
}

func (l *SqliteLedger) SubmitUpdate(ctx context.Context, clientId string, artifactRef string) (model.Receipt, error) {
	return l.write(ctx, "submitUpdate", func(conn *sqlite.Conn) (model.Receipt, error) {
		client, found, err := readClient(conn, clientId)
		if err != nil {
			return model.Receipt{}, err
		}
		if !found {
			return model.Receipt{}, fmt.Errorf("%s: %w", clientId, ledger.ErrNotRegistered)
		}

		state, _, err := readState(conn)
		if err != nil {
			return model.Receipt{}, err
		}
		if client.LastSubmittedRound >= state.currentRound {
			return model.Receipt{}, fmt.Errorf("%s in round %d: %w", clientId, state.currentRound, ledger.ErrAlreadySubmitted)
		}

		err = sqlitex.Execute(conn,
			`INSERT INTO round_updates (round, idx, client_id, artifact_ref)
			 VALUES (?1, (SELECT COUNT(*) FROM round_updates WHERE round = ?1), ?2, ?3)`,
			&sqlitex.ExecOptions{Args: []any{state.currentRound, clientId, artifactRef}})
		if err != nil {
			return model.Receipt{}, err
		}

		nonce := client.Nonce + 1
		err = sqlitex.Execute(conn,
			`UPDATE clients SET last_submitted_round = ?, nonce = ? WHERE id = ?`,
			&sqlitex.ExecOptions{Args: []any{state.currentRound, int64(nonce), clientId}})
		if err != nil {
			return model.Receipt{}, err
		}

		tx, err := commit(conn, clientId, nonce, common.METHOD_SUBMIT_UPDATE, fmt.Sprintf("modelCID: %s", artifactRef))
		return tx.Receipt(), err
	})
}

func (l *SqliteLedger) FinalizeRound(ctx context.Context, round int, newArtifactRef string) (model.Receipt, error) {
	return l.write(ctx, "finalizeRound", func(conn *sqlite.Conn) (model.Receipt, error) {
		state, _, err := readState(conn)
		if err != nil {
			return model.Receipt{}, err
		}
		if round != state.currentRound {
			return model.Receipt{}, fmt.Errorf("finalize of round %d while at round %d: %w",
				round, state.currentRound, ledger.ErrRoundMismatch)
		}
		count, err := countRoundUpdates(conn, state.currentRound)
		if err != nil {
			return model.Receipt{}, err
		}
		if count < state.updatesNeeded {
			return model.Receipt{}, fmt.Errorf("round %d has %d of %d updates: %w",
				state.currentRound, count, state.updatesNeeded, ledger.ErrQuorumNotMet)
		}

		share := ledger.RewardShare(common.REWARD_PER_ROUND, count)
		err = sqlitex.Execute(conn,
			`UPDATE clients SET balance = balance + ?
			 WHERE id IN (SELECT client_id FROM round_updates WHERE round = ?)`,
			&sqlitex.ExecOptions{Args: []any{share, state.currentRound}})
		if err != nil {
			return model.Receipt{}, err
		}

		nonce := state.aggregatorNonce + 1
		err = sqlitex.Execute(conn,
			`UPDATE ledger_state SET current_round = ?, global_model_ref = ?, aggregator_nonce = ? WHERE id = 1`,
			&sqlitex.ExecOptions{Args: []any{state.currentRound + 1, newArtifactRef, int64(nonce)}})
		if err != nil {
			return model.Receipt{}, err
		}

		tx, err := commit(conn, state.aggregatorAccount, nonce, common.METHOD_FINALIZE_ROUND, fmt.Sprintf("newGlobalModelCID: %s", newArtifactRef))
		return tx.Receipt(), err
	})
}

func (l *SqliteLedger) Snapshot(ctx context.Context) (model.LedgerSnapshot, error) {
	var snapshot model.LedgerSnapshot
	err := l.withConn(ctx, "snapshot", func(conn *sqlite.Conn) (err error) {
		endFn := sqlitex.Transaction(conn)
		defer endFn(&err)

		state, _, err := readState(conn)
		if err != nil {
			return err
		}
		received, err := countRoundUpdates(conn, state.currentRound)
		if err != nil {
			return err
		}

		snapshot = model.LedgerSnapshot{
			LedgerAddress:   state.address,
			OnchainRound:    state.currentRound,
			UpdatesReceived: received,
			UpdatesNeeded:   state.updatesNeeded,
			GlobalModelRef:  state.globalModelRef,
			Clients:         []model.ClientRecord{},
			Transactions:    []model.Transaction{},
			TakenAt:         time.Now(),
		}

		err = sqlitex.Execute(conn, `SELECT COUNT(*) FROM transactions`, &sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				snapshot.BlockNumber = uint64(stmt.ColumnInt64(0))
				return nil
			},
		})
		if err != nil {
			return err
		}

		err = sqlitex.Execute(conn,
			`SELECT id, last_submitted_round, nonce, balance FROM clients ORDER BY seq`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					snapshot.Clients = append(snapshot.Clients, model.ClientRecord{
						Id:                 stmt.ColumnText(0),
						Registered:         true,
						LastSubmittedRound: stmt.ColumnInt(1),
						Nonce:              uint64(stmt.ColumnInt64(2)),
						Balance:            stmt.ColumnInt64(3),
					})
					return nil
				},
			})
		if err != nil {
			return err
		}

		return sqlitex.Execute(conn,
			`SELECT block_number, tx_hash, from_account, nonce, method, params, created_at
			 FROM transactions ORDER BY block_number DESC LIMIT ?`,
			&sqlitex.ExecOptions{
				Args: []any{common.SNAPSHOT_TRANSACTIONS_LIMIT},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					snapshot.Transactions = append(snapshot.Transactions, model.Transaction{
						BlockNumber: uint64(stmt.ColumnInt64(0)),
						TxHash:      stmt.ColumnText(1),
						From:        stmt.ColumnText(2),
						Nonce:       uint64(stmt.ColumnInt64(3)),
						Method:      stmt.ColumnText(4),
						Params:      stmt.ColumnText(5),
						Timestamp:   time.Unix(0, stmt.ColumnInt64(6)),
					})
					return nil
				},
			})
	})
	return snapshot, err
}

func (l *SqliteLedger) Close() error {
	if l.closed.Swap(true) {
		return nil
	}
	if err := l.pool.Close(); err != nil {
		return fmt.Errorf("sqlite ledger: closing %s: %w", l.path, err)
	}
	l.logger.Debug(fmt.Sprintf("Closed ledger database %s", l.path))
	return nil
}

func readState(conn *sqlite.Conn) (ledgerState, bool, error) {
	var state ledgerState
	found := false
	err := sqlitex.Execute(conn,
		`SELECT address, current_round, updates_needed, global_model_ref, aggregator_account, aggregator_nonce
		 FROM ledger_state WHERE id = 1`,
		&sqlitex.ExecOptions{
			ResultFunc: func(stmt *sqlite.Stmt) error {
				state = ledgerState{
					address:           stmt.ColumnText(0),
					currentRound:      stmt.ColumnInt(1),
					updatesNeeded:     stmt.ColumnInt(2),
					globalModelRef:    stmt.ColumnText(3),
					aggregatorAccount: stmt.ColumnText(4),
					aggregatorNonce:   uint64(stmt.ColumnInt64(5)),
				}
				found = true
				return nil
			},
		})
	return state, found, err
}

func readClient(conn *sqlite.Conn, clientId string) (model.ClientRecord, bool, error) {
	client := model.ClientRecord{Id: clientId}
	found := false
	err := sqlitex.Execute(conn,
		`SELECT last_submitted_round, nonce, balance FROM clients WHERE id = ?`,
		&sqlitex.ExecOptions{
			Args: []any{clientId},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				client.Registered = true
				client.LastSubmittedRound = stmt.ColumnInt(0)
				client.Nonce = uint64(stmt.ColumnInt64(1))
				client.Balance = stmt.ColumnInt64(2)
				found = true
				return nil
			},
		})
	return client, found, err
}

func countRoundUpdates(conn *sqlite.Conn, round int) (int, error) {
	var count int
	err := sqlitex.Execute(conn, `SELECT COUNT(*) FROM round_updates WHERE round = ?`, &sqlitex.ExecOptions{
		Args: []any{round},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			count = stmt.ColumnInt(0)
			return nil
		},
	})
	return count, err
}

// commit appends a transaction to the log inside the caller's transaction.
func commit(conn *sqlite.Conn, from string, nonce uint64, method string, params string) (model.Transaction, error) {
	var blockNumber uint64
	err := sqlitex.Execute(conn, `SELECT COUNT(*) + 1 FROM transactions`, &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			blockNumber = uint64(stmt.ColumnInt64(0))
			return nil
		},
	})
	if err != nil {
		return model.Transaction{}, err
	}

	tx := model.Transaction{
		BlockNumber: blockNumber,
		TxHash:      ledger.TxHash(blockNumber, from, nonce, method, params),
		From:        from,
		Nonce:       nonce,
		Method:      method,
		Params:      params,
		Timestamp:   time.Now(),
	}

	err = sqlitex.Execute(conn,
		`INSERT INTO transactions (block_number, tx_hash, from_account, nonce, method, params, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{int64(tx.BlockNumber), tx.TxHash, tx.From, int64(tx.Nonce), tx.Method, tx.Params, tx.Timestamp.UnixNano()}})
	return tx, err
}
