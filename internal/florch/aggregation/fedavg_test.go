package aggregation

import (
	"errors"
	"math"
	"testing"

	"github.com/AIoTwin-Adaptive-FL-Orch/flchain-orchestrator/internal/model"
)

func single(key string, shape []int, data ...float64) *model.ModelArtifact {
	return &model.ModelArtifact{Weights: map[string]model.Tensor{key: {Shape: shape, Data: data}}}
}

func TestAggregateTwoClients(t *testing.T) {
	a := single("w", []int{2}, 1, 3)
	b := single("w", []int{2}, 3, 5)

	result, err := Aggregate([]*model.ModelArtifact{a, b})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	got := result.Weights["w"]
	want := []float64{2, 4}
	if len(got.Data) != len(want) {
		t.Fatalf("w = %v, want %v", got.Data, want)
	}
	for i := range want {
		if got.Data[i] != want[i] {
			t.Errorf("w[%d] = %v, want %v", i, got.Data[i], want[i])
		}
	}
	if len(got.Shape) != 1 || got.Shape[0] != 2 {
		t.Errorf("shape = %v, want [2]", got.Shape)
	}
	if result.Reference != "" {
		t.Errorf("result carries reference %q", result.Reference)
	}
}

func TestAggregateIsElementwiseMean(t *testing.T) {
	artifacts := []*model.ModelArtifact{
		{Weights: map[string]model.Tensor{
			"conv.weight": {Shape: []int{2, 2}, Data: []float64{0.1, 0.2, 0.3, 0.4}},
			"conv.bias":   {Shape: []int{2}, Data: []float64{1, -1}},
			"scale":       {Shape: []int{}, Data: []float64{10}},
		}},
		{Weights: map[string]model.Tensor{
			"conv.weight": {Shape: []int{2, 2}, Data: []float64{0.5, 0.6, 0.7, 0.8}},
			"conv.bias":   {Shape: []int{2}, Data: []float64{3, -3}},
			"scale":       {Shape: []int{}, Data: []float64{20}},
		}},
		{Weights: map[string]model.Tensor{
			"conv.weight": {Shape: []int{2, 2}, Data: []float64{0.9, 1.0, 1.1, 1.2}},
			"conv.bias":   {Shape: []int{2}, Data: []float64{5, -5}},
			"scale":       {Shape: []int{}, Data: []float64{60}},
		}},
	}

	result, err := Aggregate(artifacts)
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}

	for key, tensor := range artifacts[0].Weights {
		got := result.Weights[key]
		for i := range tensor.Data {
			var sum float64
			for _, a := range artifacts {
				sum += a.Weights[key].Data[i]
			}
			want := sum / float64(len(artifacts))
			if math.Abs(got.Data[i]-want) > 1e-12 {
				t.Errorf("%s[%d] = %v, want %v", key, i, got.Data[i], want)
			}
		}
	}
}

func TestAggregateSingleArtifactIsIdentity(t *testing.T) {
	a := single("w", []int{3}, 1.5, -2, 7)
	result, err := Aggregate([]*model.ModelArtifact{a})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	for i, v := range a.Weights["w"].Data {
		if result.Weights["w"].Data[i] != v {
			t.Errorf("w[%d] = %v, want %v", i, result.Weights["w"].Data[i], v)
		}
	}
}

func TestAggregateDoesNotMutateInputs(t *testing.T) {
	a := single("w", []int{2}, 1, 3)
	b := single("w", []int{2}, 3, 5)

	result, err := Aggregate([]*model.ModelArtifact{a, b})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	result.Weights["w"].Data[0] = 100
	result.Weights["w"].Shape[0] = 100

	if a.Weights["w"].Data[0] != 1 || b.Weights["w"].Data[0] != 3 {
		t.Errorf("inputs changed: a=%v b=%v", a.Weights["w"].Data, b.Weights["w"].Data)
	}
	if a.Weights["w"].Shape[0] != 2 {
		t.Errorf("input shape changed: %v", a.Weights["w"].Shape)
	}
}

func TestAggregateEmptyTensor(t *testing.T) {
	a := single("empty", []int{0}, []float64{}...)
	b := single("empty", []int{0}, []float64{}...)

	result, err := Aggregate([]*model.ModelArtifact{a, b})
	if err != nil {
		t.Fatalf("Aggregate: %v", err)
	}
	if got := result.Weights["empty"]; len(got.Data) != 0 || len(got.Shape) != 1 {
		t.Errorf("empty = %+v", got)
	}
}

func TestAggregateErrors(t *testing.T) {
	tests := []struct {
		name      string
		artifacts []*model.ModelArtifact
		key       string
		index     int
	}{
		{
			name: "missing parameter",
			artifacts: []*model.ModelArtifact{
				{Weights: map[string]model.Tensor{
					"w1": {Shape: []int{1}, Data: []float64{1}},
					"w2": {Shape: []int{1}, Data: []float64{2}},
				}},
				{Weights: map[string]model.Tensor{
					"w1": {Shape: []int{1}, Data: []float64{1}},
				}},
			},
			index: 1,
		},
		{
			name: "renamed parameter",
			artifacts: []*model.ModelArtifact{
				single("w1", []int{1}, 1),
				single("w2", []int{1}, 1),
			},
			key:   "w1",
			index: 1,
		},
		{
			name: "different shape",
			artifacts: []*model.ModelArtifact{
				single("w", []int{2, 1}, 1, 2),
				single("w", []int{1, 2}, 1, 2),
			},
			key:   "w",
			index: 1,
		},
		{
			name: "data disagrees with shape",
			artifacts: []*model.ModelArtifact{
				single("w", []int{3}, 1, 2),
			},
			key:   "w",
			index: 0,
		},
		{
			name: "data length differs",
			artifacts: []*model.ModelArtifact{
				single("w", []int{2}, 1, 2),
				single("w", []int{2}, 1, 2, 3),
			},
			key:   "w",
			index: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Aggregate(tt.artifacts)
			var mismatch *ShapeMismatchError
			if !errors.As(err, &mismatch) {
				t.Fatalf("error = %v, want *ShapeMismatchError", err)
			}
			if mismatch.Key != tt.key || mismatch.Index != tt.index {
				t.Errorf("mismatch = %+v, want key %q index %d", mismatch, tt.key, tt.index)
			}
		})
	}

	if _, err := Aggregate(nil); !errors.Is(err, ErrNoArtifacts) {
		t.Errorf("Aggregate(nil) error = %v, want ErrNoArtifacts", err)
	}
}
