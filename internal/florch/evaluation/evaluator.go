package evaluation

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
)

type IEvaluator interface {
	// Evaluate scores a as an accuracy percentage in [0, 100].
	Evaluate(ctx context.Context, a *model.ModelArtifact) (float64, error)
}

// EvaluatorFunc adapts a plain function to IEvaluator.
type EvaluatorFunc func(ctx context.Context, a *model.ModelArtifact) (float64, error)

func (f EvaluatorFunc) Evaluate(ctx context.Context, a *model.ModelArtifact) (float64, error) {
	return f(ctx, a)
}

// EvaluationError means the produced artifact could not be scored. It is
// fatal for the round.
type EvaluationError struct {
	ArtifactRef string
	Err         error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluating %s: %v", e.ArtifactRef, e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

var ErrOutOfRange = errors.New("accuracy outside [0, 100]")

// Score runs ev on a and turns every failure, including an out-of-range
// result, into an *EvaluationError.
func Score(ctx context.Context, ev IEvaluator, a *model.ModelArtifact) (float64, error) {
	accuracy, err := ev.Evaluate(ctx, a)
	if err != nil {
		return 0, &EvaluationError{ArtifactRef: a.Reference, Err: err}
	}
	if math.IsNaN(accuracy) || accuracy < 0 || accuracy > 100 {
		return 0, &EvaluationError{ArtifactRef: a.Reference, Err: fmt.Errorf("%w: %v", ErrOutOfRange, accuracy)}
	}
	return accuracy, nil
}

// HeldOutEvaluator scores an artifact by its distance to a fixed held-out
// model: identical weights score 100 and the score falls towards 0 as the
// root mean squared error grows.
type HeldOutEvaluator struct {
	target *model.ModelArtifact
}

func NewHeldOutEvaluator(target *model.ModelArtifact) *HeldOutEvaluator {
	return &HeldOutEvaluator{target: target.Clone()}
}

func (e *HeldOutEvaluator) Evaluate(ctx context.Context, a *model.ModelArtifact) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var squared float64
	var count int
	for _, key := range e.target.ParameterNames() {
		want := e.target.Weights[key]
		got, found := a.Weights[key]
		if !found {
			return 0, fmt.Errorf("parameter %q missing", key)
		}
		if len(got.Data) != len(want.Data) {
			return 0, fmt.Errorf("parameter %q has %d values, held-out model has %d", key, len(got.Data), len(want.Data))
		}
		for i := range want.Data {
			d := got.Data[i] - want.Data[i]
			squared += d * d
		}
		count += len(want.Data)
	}
	if count == 0 {
		return 0, errors.New("held-out model has no values")
	}

	rmse := math.Sqrt(squared / float64(count))
	return 100 / (1 + rmse), nil
}
