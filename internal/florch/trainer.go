package florch

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
	"github.com/zeebo/blake3"
)

// ITrainer produces a client's local update from the current global model.
type ITrainer interface {
	InitialModel() *model.ModelArtifact
	Train(ctx context.Context, clientId string, round int, global *model.ModelArtifact) (*model.ModelArtifact, error)
}

// SyntheticTrainer stands in for local training. Every step moves the global
// weights a fixed fraction towards a target model and adds a small
// client-specific offset, so updates differ per client but the averaged model
// converges on the target.
type SyntheticTrainer struct {
	target       *model.ModelArtifact
	learningRate float64
	spread       float64
}

func NewSyntheticTrainer(target *model.ModelArtifact, learningRate float64, spread float64) *SyntheticTrainer {
	return &SyntheticTrainer{target: target.Clone(), learningRate: learningRate, spread: spread}
}

// DefaultTargetModel is the layout the simulator trains towards.
func DefaultTargetModel() *model.ModelArtifact {
	return &model.ModelArtifact{Weights: map[string]model.Tensor{
		"dense1.weight": {Shape: []int{4, 3}, Data: []float64{
			0.12, -0.40, 0.33,
			0.85, 0.07, -0.21,
			-0.56, 0.44, 0.19,
			0.02, -0.73, 0.61,
		}},
		"dense1.bias":   {Shape: []int{3}, Data: []float64{0.1, -0.05, 0.2}},
		"output.weight": {Shape: []int{3, 2}, Data: []float64{0.5, -0.5, 0.25, 0.75, -0.3, 0.9}},
		"output.bias":   {Shape: []int{2}, Data: []float64{0.01, -0.02}},
	}}
}

// InitialModel has the target's layout with all weights set to zero.
func (t *SyntheticTrainer) InitialModel() *model.ModelArtifact {
	initial := t.target.Clone()
	for name, tensor := range initial.Weights {
		clear(tensor.Data)
		initial.Weights[name] = tensor
	}
	initial.Reference = ""
	return initial
}

func (t *SyntheticTrainer) Train(ctx context.Context, clientId string, round int, global *model.ModelArtifact) (*model.ModelArtifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	update := &model.ModelArtifact{Weights: make(map[string]model.Tensor, len(t.target.Weights))}
	for _, name := range t.target.ParameterNames() {
		target := t.target.Weights[name]
		current, found := global.Weights[name]
		if !found || len(current.Data) != len(target.Data) {
			return nil, fmt.Errorf("global model does not match the training layout at %q", name)
		}

		data := make([]float64, len(target.Data))
		for i := range data {
			step := t.learningRate * (target.Data[i] - current.Data[i])
			data[i] = current.Data[i] + step + t.offset(clientId, round, name, i)
		}
		update.Weights[name] = model.Tensor{Shape: append([]int(nil), target.Shape...), Data: data}
	}

	return update, nil
}

// offset is a deterministic pseudo-random value in [-spread, spread] that
// shrinks as rounds progress.
func (t *SyntheticTrainer) offset(clientId string, round int, name string, index int) float64 {
	if t.spread == 0 {
		return 0
	}
	sum := blake3.Sum256([]byte(fmt.Sprintf("%s/%d/%s/%d", clientId, round, name, index)))
	unit := float64(binary.BigEndian.Uint64(sum[:8])) / float64(^uint64(0))
	return (2*unit - 1) * t.spread / float64(round)
}
