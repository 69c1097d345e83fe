package server

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/common"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/events"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/florch"
	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/status"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
)

// OrchestratorBuilder creates the orchestrator for a new run. The returned
// orchestrator publishes its status on eventBus.
type OrchestratorBuilder func(ctx context.Context, runId string, request StartFlRequest, eventBus *events.EventBus) (*florch.FlOrchestrator, error)

type flRun struct {
	orchestrator *florch.FlOrchestrator
	eventBus     *events.EventBus
	done         chan struct{}
}

type Handler struct {
	logger hclog.Logger
	build  OrchestratorBuilder

	mu   sync.Mutex
	runs map[string]*flRun
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func NewHandler(logger hclog.Logger, build OrchestratorBuilder) *Handler {
	return &Handler{
		logger: logger,
		build:  build,
		runs:   map[string]*flRun{},
	}
}

func NewRouter(handler *Handler) *mux.Router {
	router := mux.NewRouter()
	router.HandleFunc("/fl/start", handler.StartFl).Methods(http.MethodPost)
	router.HandleFunc("/fl/stop/{runId}", handler.StopFl).Methods(http.MethodPost)
	router.HandleFunc("/fl/status/{runId}", handler.GetStatus).Methods(http.MethodGet)
	router.HandleFunc("/fl/status/{runId}/ws", handler.StreamStatus).Methods(http.MethodGet)
	return router
}

func (handler *Handler) StartFl(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	runId := uuid.New().String()

	request := &StartFlRequest{}
	err := fromJSON(request, r.Body)
	if err != nil {
		handler.logger.Error("error starting FL", "error", err)
		rw.WriteHeader(http.StatusBadRequest)
		toJSON("invalid request body", rw)
		return
	}

	eventBus := events.NewEventBus()
	flOrchestrator, err := handler.build(r.Context(), runId, *request, eventBus)
	if err != nil {
		handler.logger.Error("error starting FL", "error", err)
		rw.WriteHeader(http.StatusBadRequest)
		toJSON(err.Error(), rw)
		return
	}

	run := &flRun{orchestrator: flOrchestrator, eventBus: eventBus, done: make(chan struct{})}
	handler.mu.Lock()
	handler.runs[runId] = run
	handler.mu.Unlock()

	handler.logger.Info(fmt.Sprintf("Starting FL run %s", runId))

	go func() {
		defer close(run.done)
		final := flOrchestrator.Run(context.Background())
		handler.logger.Info(fmt.Sprintf("FL run %s ended: %s", runId, final.OverallStatus()))
	}()

	rw.WriteHeader(http.StatusOK)
	toJSON(StartFlResponse{RunId: runId}, rw)
}

func (handler *Handler) StopFl(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	runId := getURLParameter(r, "runId")

	handler.logger.Info(fmt.Sprintf("Stopping FL with run ID: %s", runId))

	run := handler.getRun(runId)
	if run == nil {
		rw.WriteHeader(http.StatusBadRequest)
		toJSON("no run with the given ID", rw)
		return
	}

	run.orchestrator.Stop()
	rw.WriteHeader(http.StatusOK)
}

func (handler *Handler) GetStatus(rw http.ResponseWriter, r *http.Request) {
	rw.Header().Add("Content-Type", "application/json")

	run := handler.getRun(getURLParameter(r, "runId"))
	if run == nil {
		rw.WriteHeader(http.StatusBadRequest)
		toJSON("no run with the given ID", rw)
		return
	}

	rw.WriteHeader(http.StatusOK)
	toJSON(run.orchestrator.Status(), rw)
}

// StreamStatus upgrades to a websocket and sends the run's status on every
// change, starting with the current one. The connection is closed after a
// terminal status.
func (handler *Handler) StreamStatus(rw http.ResponseWriter, r *http.Request) {
	run := handler.getRun(getURLParameter(r, "runId"))
	if run == nil {
		rw.Header().Add("Content-Type", "application/json")
		rw.WriteHeader(http.StatusBadRequest)
		toJSON("no run with the given ID", rw)
		return
	}

	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		handler.logger.Error("error upgrading status stream", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	changes := make(chan events.Event, 64)
	run.eventBus.Subscribe(common.STATUS_CHANGED_EVENT_TYPE, changes)
	defer run.eventBus.Unsubscribe(common.STATUS_CHANGED_EVENT_TYPE, changes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// the client only sends control frames; a read error means it went away
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	current := run.orchestrator.Status()
	if err := conn.WriteJSON(current); err != nil || current.IsTerminal() {
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-run.done:
			_ = conn.WriteJSON(run.orchestrator.Status())
			return
		case event := <-changes:
			s, ok := event.Data.(status.Status)
			if !ok {
				continue
			}
			if err := conn.WriteJSON(s); err != nil {
				return
			}
			if s.IsTerminal() {
				return
			}
		}
	}
}

// StopAll stops every run and waits until their ledgers are shut down or ctx
// expires.
func (handler *Handler) StopAll(ctx context.Context) {
	handler.mu.Lock()
	runs := make([]*flRun, 0, len(handler.runs))
	for _, run := range handler.runs {
		runs = append(runs, run)
	}
	handler.mu.Unlock()

	for _, run := range runs {
		run.orchestrator.Stop()
	}
	for _, run := range runs {
		select {
		case <-run.done:
		case <-ctx.Done():
			handler.logger.Warn(fmt.Sprintf("Run %s did not stop in time", run.orchestrator.RunId()))
			return
		}
	}
}

func (handler *Handler) getRun(runId string) *flRun {
	handler.mu.Lock()
	defer handler.mu.Unlock()

	return handler.runs[runId]
}

func getURLParameter(r *http.Request, parameter string) string {
	vars := mux.Vars(r)
	id := vars[parameter]
	return id
}
