package status

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/events"
	"github.com/hashicorp/go-hclog"
)

func TestTransitionsReturnNewValues(t *testing.T) {
	initial := New(3)
	running := initial.RunningRound(2).WithStep("Aggregating").WithLog("line")

	if initial.Phase() != PhaseInitializing || initial.Round() != 0 || len(initial.LogTail()) != 0 {
		t.Errorf("initial status changed: %s round %d", initial.OverallStatus(), initial.Round())
	}
	if running.OverallStatus() != "RunningRound(2)" || running.Step() != "Aggregating" {
		t.Errorf("running = %s / %s", running.OverallStatus(), running.Step())
	}

	failed := running.Failed("ledger unreachable")
	if failed.OverallStatus() != "Error(ledger unreachable)" || !failed.IsTerminal() || !failed.IsError() {
		t.Errorf("failed = %s", failed.OverallStatus())
	}
	if running.IsTerminal() {
		t.Error("running status became terminal")
	}
}

func TestLogTailIsBounded(t *testing.T) {
	s := New(1)
	var snapshots []Status
	for i := 0; i < common.STATUS_LOG_TAIL_SIZE+5; i++ {
		s = s.WithLog(fmt.Sprintf("line %d", i))
		snapshots = append(snapshots, s)
	}

	tail := s.LogTail()
	if len(tail) != common.STATUS_LOG_TAIL_SIZE {
		t.Fatalf("len(tail) = %d, want %d", len(tail), common.STATUS_LOG_TAIL_SIZE)
	}
	if tail[0] != "line 5" || tail[len(tail)-1] != fmt.Sprintf("line %d", common.STATUS_LOG_TAIL_SIZE+4) {
		t.Errorf("tail = %v", tail)
	}

	// earlier values keep their own tail
	if early := snapshots[2].LogTail(); len(early) != 3 || early[2] != "line 2" {
		t.Errorf("snapshot 2 tail = %v", early)
	}
}

func TestStatusJSONSchema(t *testing.T) {
	s := New(5).RunningRound(2).WithStep("Finalizing").WithLog("hello").
		WithLedgerInfo(LedgerInfo{LedgerAddress: "0xabc", BlockNumber: 7, OnchainRound: 2, UpdatesReceived: 1, UpdatesNeeded: 2})

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	for _, key := range []string{"overall_status", "current_round", "total_rounds", "current_step", "log_output", "blockchain_info"} {
		if _, found := raw[key]; !found {
			t.Errorf("document misses %q: %s", key, data)
		}
	}
	if raw["overall_status"] != "RunningRound(2)" {
		t.Errorf("overall_status = %v", raw["overall_status"])
	}

	var decoded Status
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal Status: %v", err)
	}
	if decoded.Phase() != PhaseRunningRound || decoded.Round() != 2 || decoded.TotalRounds() != 5 {
		t.Errorf("decoded = %s %d/%d", decoded.OverallStatus(), decoded.Round(), decoded.TotalRounds())
	}
	info, ok := decoded.LedgerInfo()
	if !ok || info.BlockNumber != 7 || info.LedgerAddress != "0xabc" {
		t.Errorf("ledger info = %+v, %v", info, ok)
	}

	errDoc, _ := json.Marshal(New(1).Failed("boom (again)"))
	var failed Status
	if err := json.Unmarshal(errDoc, &failed); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !failed.IsError() || failed.Message() != "boom (again)" {
		t.Errorf("failed = %s / %q", failed.OverallStatus(), failed.Message())
	}
}

func TestReadFileTolerance(t *testing.T) {
	dir := t.TempDir()

	if _, ok := ReadFile(filepath.Join(dir, "absent.json")); ok {
		t.Error("absent file reported ok")
	}

	empty := filepath.Join(dir, "empty.json")
	os.WriteFile(empty, nil, 0644)
	if _, ok := ReadFile(empty); ok {
		t.Error("empty file reported ok")
	}

	partial := filepath.Join(dir, "partial.json")
	os.WriteFile(partial, []byte(`{"overall_status": "Runn`), 0644)
	if _, ok := ReadFile(partial); ok {
		t.Error("truncated file reported ok")
	}

	publisher := NewFilePublisher(filepath.Join(dir, "nested", "status.json"))
	if err := publisher.Publish(New(2).StartingLedger()); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	s, ok := ReadFile(publisher.Path())
	if !ok || s.Phase() != PhaseStartingLedger {
		t.Errorf("ReadFile = %s, %v", s.OverallStatus(), ok)
	}
}

type recordingPublisher struct {
	mu        sync.Mutex
	published []Status
}

func (p *recordingPublisher) Publish(s Status) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, s)
	return nil
}

func TestTrackerMirrorsLogs(t *testing.T) {
	recorder := &recordingPublisher{}
	tracker := NewTracker(New(2), recorder)

	logger := hclog.NewInterceptLogger(&hclog.LoggerOptions{
		Name:   "orchestrator",
		Output: &strings.Builder{},
		Level:  hclog.Info,
	})
	logger.RegisterSink(tracker)

	if _, err := tracker.Update(func(s Status) Status { return s.RunningRound(1) }); err != nil {
		t.Fatalf("Update: %v", err)
	}
	logger.Info("Round 1 finalized", "block", 4)
	logger.Debug("filtered out")

	current := tracker.Current()
	tail := current.LogTail()
	if len(tail) != 1 {
		t.Fatalf("tail = %v, want one line", tail)
	}
	if !strings.Contains(tail[0], "[INFO] orchestrator: Round 1 finalized block=4") {
		t.Errorf("tail line = %q", tail[0])
	}
	if current.Phase() != PhaseRunningRound {
		t.Errorf("phase = %s", current.Phase())
	}
	if len(recorder.published) != 2 {
		t.Errorf("published %d statuses, want 2", len(recorder.published))
	}
}

func TestBusPublisher(t *testing.T) {
	bus := events.NewEventBus()
	ch := make(chan events.Event, 1)
	bus.Subscribe(common.STATUS_CHANGED_EVENT_TYPE, ch)

	if err := NewBusPublisher(bus).Publish(New(1).Finished()); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	select {
	case event := <-ch:
		s, ok := event.Data.(Status)
		if !ok || s.Phase() != PhaseFinished {
			t.Errorf("event data = %#v", event.Data)
		}
	case <-time.After(time.Second):
		t.Fatal("no status event")
	}
}

func TestWatcherPoll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "status.json")

	var observations []bool
	watcher := NewWatcher(path, 0, nil, func(s Status, ok bool) {
		observations = append(observations, ok)
	})

	watcher.Poll()
	if err := NewFilePublisher(path).Publish(New(4).RunningRound(3)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	watcher.Poll()

	if len(observations) != 2 || observations[0] || !observations[1] {
		t.Errorf("observations = %v, want [false true]", observations)
	}
	last, ok := watcher.Last()
	if !ok || last.Round() != 3 {
		t.Errorf("Last = %s, %v", last.OverallStatus(), ok)
	}
}
