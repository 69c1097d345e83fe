package server

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/config"
)

func toJSON(i interface{}, w io.Writer) error {
	e := json.NewEncoder(w)
	return e.Encode(i)
}

// fromJSON decodes r into i. An empty body leaves i untouched.
func fromJSON(i interface{}, r io.Reader) error {
	d := json.NewDecoder(r)
	err := d.Decode(i)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

// StartFlRequest overrides the server's run configuration. Zero values keep
// the configured defaults.
type StartFlRequest struct {
	Rounds         int     `json:"rounds"`
	Clients        int     `json:"clients"`
	UpdatesNeeded  int     `json:"updatesNeeded"`
	TargetAccuracy float64 `json:"targetAccuracy"`
}

type StartFlResponse struct {
	RunId string `json:"runId"`
}

// Apply copies the non-zero fields of the request onto cfg and validates it.
func (request StartFlRequest) Apply(cfg *config.Config) error {
	if request.Rounds != 0 {
		cfg.Rounds = request.Rounds
	}
	if request.Clients != 0 {
		cfg.Clients = request.Clients
	}
	if request.UpdatesNeeded != 0 {
		cfg.UpdatesNeeded = request.UpdatesNeeded
	}
	if request.TargetAccuracy != 0 {
		cfg.TargetAccuracy = request.TargetAccuracy
	}
	return cfg.Validate()
}
