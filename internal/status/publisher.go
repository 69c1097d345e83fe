package status

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/events"
	"github.com/hashicorp/go-hclog"
)

type IPublisher interface {
	Publish(s Status) error
}

// FilePublisher overwrites the whole status document on every publish.
// Readers see either the previous or the new document.
type FilePublisher struct {
	path string
}

func NewFilePublisher(path string) *FilePublisher {
	if path == "" {
		path = common.DEFAULT_STATUS_FILE
	}
	return &FilePublisher{path: path}
}

func (p *FilePublisher) Path() string {
	return p.path
}

func (p *FilePublisher) Publish(s Status) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}
	return common.WriteFileAtomic(p.path, data, 0644)
}

// BusPublisher forwards every status on the event bus.
type BusPublisher struct {
	eventBus *events.EventBus
}

func NewBusPublisher(eventBus *events.EventBus) *BusPublisher {
	return &BusPublisher{eventBus: eventBus}
}

func (p *BusPublisher) Publish(s Status) error {
	p.eventBus.Publish(events.Event{
		Type: common.STATUS_CHANGED_EVENT_TYPE,
		Data: s,
	})
	return nil
}

// ReadFile returns the last published status. ok is false when there is no
// usable document yet: the file is absent, empty or caught mid-write.
func ReadFile(path string) (s Status, ok bool) {
	data, err := os.ReadFile(path)
	if err != nil || len(data) == 0 {
		return Status{}, false
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return Status{}, false
	}
	return s, true
}

// Tracker owns the current status of a run and publishes every transition
// in order. It doubles as an hclog sink that mirrors log lines into the
// status log tail.
//
// Publishers must not log through a logger the Tracker is registered on.
type Tracker struct {
	mu         sync.Mutex
	current    Status
	publishers []IPublisher
	logLevel   hclog.Level
}

func NewTracker(initial Status, publishers ...IPublisher) *Tracker {
	return &Tracker{current: initial, publishers: publishers, logLevel: hclog.Info}
}

// SetLogLevel sets the lowest level mirrored into the log tail.
func (t *Tracker) SetLogLevel(level hclog.Level) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.logLevel = level
}

func (t *Tracker) Current() Status {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.current
}

// Update applies transition to the current status and publishes the result.
// The new status is kept even when a publisher fails.
func (t *Tracker) Update(transition func(Status) Status) (Status, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.current = transition(t.current)
	return t.current, t.publishLocked()
}

func (t *Tracker) publishLocked() error {
	var errs []error
	for _, publisher := range t.publishers {
		if err := publisher.Publish(t.current); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Accept implements hclog.SinkAdapter.
func (t *Tracker) Accept(name string, level hclog.Level, msg string, args ...interface{}) {
	line := FormatLogLine(time.Now(), name, level, msg, args...)

	t.mu.Lock()
	defer t.mu.Unlock()

	if level < t.logLevel {
		return
	}
	t.current = t.current.WithLog(line)
	// errors are dropped: reporting them would log from inside the sink
	_ = t.publishLocked()
}

func FormatLogLine(at time.Time, name string, level hclog.Level, msg string, args ...interface{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s [%s]", at.Format("15:04:05"), strings.ToUpper(level.String()))
	if name != "" {
		fmt.Fprintf(&b, " %s:", name)
	}
	b.WriteString(" ")
	b.WriteString(msg)
	for i := 0; i+1 < len(args); i += 2 {
		fmt.Fprintf(&b, " %v=%v", args[i], args[i+1])
	}
	return b.String()
}
