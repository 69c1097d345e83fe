package sqliteledger

const schema = `
CREATE TABLE IF NOT EXISTS ledger_state (
	id                 INTEGER PRIMARY KEY CHECK (id = 1),
	address            TEXT    NOT NULL,
	current_round      INTEGER NOT NULL,
	updates_needed     INTEGER NOT NULL,
	global_model_ref   TEXT    NOT NULL,
	aggregator_account TEXT    NOT NULL,
	aggregator_nonce   INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS clients (
	id                   TEXT    PRIMARY KEY,
	seq                  INTEGER NOT NULL,
	last_submitted_round INTEGER NOT NULL DEFAULT 0,
	nonce                INTEGER NOT NULL DEFAULT 0,
	balance              INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS round_updates (
	round        INTEGER NOT NULL,
	idx          INTEGER NOT NULL,
	client_id    TEXT    NOT NULL,
	artifact_ref TEXT    NOT NULL,
	PRIMARY KEY (round, idx),
	UNIQUE (round, client_id)
);

CREATE TABLE IF NOT EXISTS transactions (
	block_number INTEGER PRIMARY KEY,
	tx_hash      TEXT    NOT NULL,
	from_account TEXT    NOT NULL,
	nonce        INTEGER NOT NULL,
	method       TEXT    NOT NULL,
	params       TEXT    NOT NULL,
	created_at   INTEGER NOT NULL
);
`

const dropSchema = `
DROP TABLE IF EXISTS ledger_state;
DROP TABLE IF EXISTS clients;
DROP TABLE IF EXISTS round_updates;
DROP TABLE IF EXISTS transactions;
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}
