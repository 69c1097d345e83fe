// Package status holds the observable state of a run. A Status is a value:
// every transition returns a new Status and never changes the receiver, so
// observers always see a complete snapshot.
package status

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
)

type Phase string

const (
	PhaseInitializing   Phase = "Initializing"
	PhaseStartingLedger Phase = "StartingLedger"
	PhaseRunningRound   Phase = "RunningRound"
	PhaseFinished       Phase = "Finished"
	PhaseError          Phase = "Error"
)

// LedgerInfo is the ledger summary shown next to the run progress.
type LedgerInfo struct {
	LedgerAddress   string `json:"contract_address,omitempty"`
	BlockNumber     uint64 `json:"block_number"`
	OnchainRound    int    `json:"onchain_round"`
	UpdatesReceived int    `json:"updates_received"`
	UpdatesNeeded   int    `json:"updates_needed"`
	GlobalModelRef  string `json:"global_model_ref,omitempty"`
}

func LedgerInfoFromSnapshot(snapshot model.LedgerSnapshot) LedgerInfo {
	return LedgerInfo{
		LedgerAddress:   snapshot.LedgerAddress,
		BlockNumber:     snapshot.BlockNumber,
		OnchainRound:    snapshot.OnchainRound,
		UpdatesReceived: snapshot.UpdatesReceived,
		UpdatesNeeded:   snapshot.UpdatesNeeded,
		GlobalModelRef:  snapshot.GlobalModelRef,
	}
}

type Status struct {
	phase       Phase
	round       int
	totalRounds int
	step        string
	message     string
	logTail     []string
	ledgerInfo  *LedgerInfo
}

func New(totalRounds int) Status {
	return Status{phase: PhaseInitializing, totalRounds: totalRounds}
}

func (s Status) Phase() Phase { return s.phase }
func (s Status) Round() int { return s.round }
func (s Status) TotalRounds() int { return s.totalRounds }
func (s Status) Step() string { return s.step }
func (s Status) Message() string { return s.message }
func (s Status) IsTerminal() bool { return s.phase == PhaseFinished || s.phase == PhaseError }
func (s Status) IsError() bool { return s.phase == PhaseError }

func (s Status) LogTail() []string {
	return append([]string(nil), s.logTail...)
}

func (s Status) LedgerInfo() (LedgerInfo, bool) {
	if s.ledgerInfo == nil {
		return LedgerInfo{}, false
	}
	return *s.ledgerInfo, true
}

// OverallStatus renders the phase the way observers display it, for example
// "RunningRound(3)" or "Error(ledger unreachable)".
func (s Status) OverallStatus() string {
	switch s.phase {
	case PhaseRunningRound:
		return fmt.Sprintf("%s(%d)", s.phase, s.round)
	case PhaseError:
		return fmt.Sprintf("%s(%s)", s.phase, s.message)
	default:
		return string(s.phase)
	}
}

func (s Status) StartingLedger() Status {
	s.phase = PhaseStartingLedger
	return s
}

func (s Status) RunningRound(round int) Status {
	s.phase = PhaseRunningRound
	s.round = round
	return s
}

func (s Status) Finished() Status {
	s.phase = PhaseFinished
	return s
}

func (s Status) Failed(message string) Status {
	s.phase = PhaseError
	s.message = message
	return s
}

func (s Status) WithStep(step string) Status {
	s.step = step
	return s
}

// WithLog appends line to the log tail, dropping the oldest lines beyond
// the tail size.
func (s Status) WithLog(line string) Status {
	tail := make([]string, 0, common.STATUS_LOG_TAIL_SIZE)
	start := max(len(s.logTail)+1-common.STATUS_LOG_TAIL_SIZE, 0)
	tail = append(tail, s.logTail[start:]...)
	s.logTail = append(tail, line)
	return s
}

func (s Status) WithLedgerInfo(info LedgerInfo) Status {
	s.ledgerInfo = &info
	return s
}

type document struct {
	OverallStatus  string      `json:"overall_status"`
	CurrentRound   int         `json:"current_round"`
	TotalRounds    int         `json:"total_rounds"`
	CurrentStep    string      `json:"current_step"`
	LogOutput      []string    `json:"log_output"`
	BlockchainInfo *LedgerInfo `json:"blockchain_info,omitempty"`
}

func (s Status) MarshalJSON() ([]byte, error) {
	logOutput := s.logTail
	if logOutput == nil {
		logOutput = []string{}
	}
	return json.Marshal(document{
		OverallStatus:  s.OverallStatus(),
		CurrentRound:   s.round,
		TotalRounds:    s.totalRounds,
		CurrentStep:    s.step,
		LogOutput:      logOutput,
		BlockchainInfo: s.ledgerInfo,
	})
}

func (s *Status) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}

	phase, argument := parseOverallStatus(doc.OverallStatus)
	switch phase {
	case PhaseInitializing, PhaseStartingLedger, PhaseRunningRound, PhaseFinished, PhaseError:
	default:
		return fmt.Errorf("unknown overall status %q", doc.OverallStatus)
	}

	*s = Status{
		phase:       phase,
		round:       doc.CurrentRound,
		totalRounds: doc.TotalRounds,
		step:        doc.CurrentStep,
		logTail:     doc.LogOutput,
		ledgerInfo:  doc.BlockchainInfo,
	}
	if phase == PhaseError {
		s.message = argument
	}
	if phase == PhaseRunningRound && argument != "" {
		if round, err := strconv.Atoi(argument); err == nil {
			s.round = round
		}
	}
	return nil
}

func parseOverallStatus(value string) (Phase, string) {
	open := strings.IndexByte(value, '(')
	if open < 0 || !strings.HasSuffix(value, ")") {
		return Phase(value), ""
	}
	return Phase(value[:open]), value[open+1 : len(value)-1]
}
