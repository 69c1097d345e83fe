// Package aggregation merges client weight artifacts into one global model.
package aggregation

import (
	"errors"
	"fmt"
	"slices"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
	"gonum.org/v1/gonum/mat"
)

var ErrNoArtifacts = errors.New("no artifacts to aggregate")

// ShapeMismatchError reports the first artifact that disagrees with the
// parameter layout of the first artifact in the batch.
type ShapeMismatchError struct {
	Key    string
	Index  int
	Reason string
}

func (e *ShapeMismatchError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("artifact %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("artifact %d, parameter %q: %s", e.Index, e.Key, e.Reason)
}

// Aggregate returns the unweighted elementwise mean of artifacts. Each
// parameter is summed left to right in input order and then scaled by 1/N.
// The inputs are left untouched and the result carries no reference.
func Aggregate(artifacts []*model.ModelArtifact) (*model.ModelArtifact, error) {
	if len(artifacts) == 0 {
		return nil, ErrNoArtifacts
	}
	if err := checkLayout(artifacts); err != nil {
		return nil, err
	}

	n := float64(len(artifacts))
	result := &model.ModelArtifact{Weights: make(map[string]model.Tensor, len(artifacts[0].Weights))}

	for _, key := range artifacts[0].ParameterNames() {
		first := artifacts[0].Weights[key]
		size := len(first.Data)
		if size == 0 {
			result.Weights[key] = model.Tensor{Shape: slices.Clone(first.Shape), Data: []float64{}}
			continue
		}

		sum := mat.NewVecDense(size, nil)
		for _, a := range artifacts {
			sum.AddVec(sum, mat.NewVecDense(size, a.Weights[key].Data))
		}
		sum.ScaleVec(1/n, sum)

		data := make([]float64, size)
		copy(data, sum.RawVector().Data)
		result.Weights[key] = model.Tensor{Shape: slices.Clone(first.Shape), Data: data}
	}

	return result, nil
}

func checkLayout(artifacts []*model.ModelArtifact) error {
	reference := artifacts[0]
	for key, tensor := range reference.Weights {
		if len(tensor.Data) != tensor.NumElements() {
			return &ShapeMismatchError{Key: key, Index: 0,
				Reason: fmt.Sprintf("shape %v needs %d values, has %d", tensor.Shape, tensor.NumElements(), len(tensor.Data))}
		}
	}

	for i, a := range artifacts[1:] {
		index := i + 1
		if len(a.Weights) != len(reference.Weights) {
			return &ShapeMismatchError{Index: index,
				Reason: fmt.Sprintf("has %d parameters, expected %d", len(a.Weights), len(reference.Weights))}
		}
		for key, want := range reference.Weights {
			got, found := a.Weights[key]
			if !found {
				return &ShapeMismatchError{Key: key, Index: index, Reason: "parameter missing"}
			}
			if !slices.Equal(got.Shape, want.Shape) {
				return &ShapeMismatchError{Key: key, Index: index,
					Reason: fmt.Sprintf("shape %v, expected %v", got.Shape, want.Shape)}
			}
			if len(got.Data) != len(want.Data) {
				return &ShapeMismatchError{Key: key, Index: index,
					Reason: fmt.Sprintf("has %d values, expected %d", len(got.Data), len(want.Data))}
			}
		}
	}

	return nil
}
