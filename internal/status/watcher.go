package status

import (
	"fmt"
	"sync"
	"time"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
)

// Watcher polls a status file on a fixed interval and hands every
// observation to a callback. ok is false while no usable document exists.
type Watcher struct {
	path          string
	interval      time.Duration
	onObservation func(s Status, ok bool)
	logger        hclog.Logger
	cronScheduler *cron.Cron

	mu     sync.Mutex
	last   Status
	lastOk bool
}

func NewWatcher(path string, interval time.Duration, logger hclog.Logger, onObservation func(s Status, ok bool)) *Watcher {
	if interval < time.Second {
		interval = common.STATUS_POLL_INTERVAL_SECONDS * time.Second
	}
	if logger == nil {
		logger = hclog.NewNullLogger()
	}
	return &Watcher{
		path:          path,
		interval:      interval,
		onObservation: onObservation,
		logger:        logger,
		cronScheduler: cron.New(cron.WithSeconds()),
	}
}

func (w *Watcher) Start() error {
	_, err := w.cronScheduler.AddFunc(fmt.Sprintf("@every %s", w.interval), w.Poll)
	if err != nil {
		return fmt.Errorf("scheduling status poll: %w", err)
	}

	w.logger.Debug(fmt.Sprintf("Watching %s every %s", w.path, w.interval))
	w.Poll()
	w.cronScheduler.Start()
	return nil
}

func (w *Watcher) Stop() {
	<-w.cronScheduler.Stop().Done()
}

// Poll reads the status file once.
func (w *Watcher) Poll() {
	s, ok := ReadFile(w.path)

	w.mu.Lock()
	w.last, w.lastOk = s, ok
	w.mu.Unlock()

	if w.onObservation != nil {
		w.onObservation(s, ok)
	}
}

func (w *Watcher) Last() (Status, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.last, w.lastOk
}
