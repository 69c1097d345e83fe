package common

// Ledger
const LEDGER_DRIVER_MEMORY = "memory"
const LEDGER_DRIVER_SQLITE = "sqlite"
const DEFAULT_AGGREGATOR_ACCOUNT = "aggregator"
const REWARD_PER_ROUND = 100
const SNAPSHOT_TRANSACTIONS_LIMIT = 50

// Ledger methods, as recorded in the transaction log
const METHOD_REGISTER_CLIENT = "registerClient"
const METHOD_SUBMIT_UPDATE = "submitUpdate"
const METHOD_FINALIZE_ROUND = "finalizeRound"

// Artifact store backends
const ARTIFACT_BACKEND_FILE = "file"
const ARTIFACT_BACKEND_S3 = "s3"
const ARTIFACT_REF_PREFIX = "b3:"

// Status
const STATUS_LOG_TAIL_SIZE = 20
const STATUS_POLL_INTERVAL_SECONDS = 3

// Default paths
const DEFAULT_LOG_DIR = "log"
const DEFAULT_STATUS_FILE = "status.json"
const DEFAULT_HISTORY_FILE = "logs/history.csv"
const DEFAULT_CHART_FILE = "accuracy_vs_rounds.txt"
const DEFAULT_SNAPSHOT_FILE = "logs/final_snapshot.json"
const DEFAULT_ARTIFACTS_DIR = "saved_models"
const DEFAULT_LEDGER_PATH = "data/ledger.db"
const DEFAULT_RUNS_DIR = "runs"
const DEFAULT_RUN_LOG_FILE = "run.log"

// History
const HISTORY_ROUND_COLUMN = "Round"
const HISTORY_ACCURACY_COLUMN = "Accuracy"

// Events
const STATUS_CHANGED_EVENT_TYPE = "StatusChanged"
const COORDINATOR_STATE_EVENT_TYPE = "CoordinatorStateChanged"
const ROUND_FINALIZED_EVENT_TYPE = "RoundFinalized"
const FL_FINISHED_EVENT_TYPE = "FlFinished"

// Simulated clients
const CLIENT_ID_PREFIX = "client"
