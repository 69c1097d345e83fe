package model

import "sort"

// Tensor is a dense row-major array of float64 values.
type Tensor struct {
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// NumElements is the element count implied by Shape. A zero-rank tensor
// holds a single scalar.
func (t Tensor) NumElements() int {
	n := 1
	for _, dim := range t.Shape {
		n *= dim
	}
	return n
}

func (t Tensor) Clone() Tensor {
	return Tensor{
		Shape: append([]int(nil), t.Shape...),
		Data:  append([]float64(nil), t.Data...),
	}
}

type ModelArtifact struct {
	Reference string            `json:"-"`
	Weights   map[string]Tensor `json:"weights"`
}

// ParameterNames returns the weight keys in sorted order.
func (a *ModelArtifact) ParameterNames() []string {
	names := make([]string, 0, len(a.Weights))
	for name := range a.Weights {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (a *ModelArtifact) Clone() *ModelArtifact {
	weights := make(map[string]Tensor, len(a.Weights))
	for name, tensor := range a.Weights {
		weights[name] = tensor.Clone()
	}
	return &ModelArtifact{Reference: a.Reference, Weights: weights}
}

type AggregationResult struct {
	RoundNumber int     `json:"round_number"`
	ArtifactRef string  `json:"artifact_ref"`
	Accuracy    float64 `json:"accuracy"`
}

type HistoryEntry struct {
	Round    int     `json:"round"`
	Accuracy float64 `json:"accuracy"`
}
