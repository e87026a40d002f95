package postprocess

import (
	"sort"

	"github.com/chewxy/math32"
	"github.com/nvr-ai/go-classifier/models"
	"github.com/nvr-ai/go-classifier/pipeline"
	"github.com/nvr-ai/go-classifier/util"
	"gorgonia.org/tensor"
)

// Softmax maps logits to a probability distribution.
//
// The maximum is subtracted before exponentiating so no input magnitude can overflow; the
// normalizing sum is accumulated in float64.
//
// Arguments:
//   - x: The logits, treated as a flat vector.
//
// Returns:
//   - []float32: Probabilities in the same order as x. Empty when x is empty.
func Softmax(x []float32) []float32 {
	out := make([]float32, len(x))
	if len(x) == 0 {
		return out
	}

	peak := x[0]
	for _, v := range x[1:] {
		if v > peak {
			peak = v
		}
	}

	var sum float64
	for i, v := range x {
		e := math32.Exp(v - peak)
		out[i] = e
		sum += float64(e)
	}

	for i, e := range out {
		out[i] = float32(float64(e) / sum)
	}

	return out
}

// Postprocess flattens a raw model output and applies Softmax.
//
// Arguments:
//   - raw: The output tensor, e.g. shape (1, 1000) or (1000).
//
// Returns:
//   - []float32: The probability distribution.
//   - error: *pipeline.ShapeError when the tensor is nil, empty or not numeric.
func Postprocess(raw *tensor.Dense) ([]float32, error) {
	if raw == nil || raw.Size() == 0 {
		return nil, &pipeline.ShapeError{Stage: pipeline.StagePostprocess, What: "raw output", Detail: "output is empty"}
	}

	logits, err := util.Float32s(raw)
	if err != nil {
		return nil, &pipeline.ShapeError{Stage: pipeline.StagePostprocess, What: "raw output", Detail: err.Error()}
	}

	return Softmax(logits), nil
}

// Argmax returns the index of the first maximum, or -1 for an empty slice.
func Argmax(p []float32) int {
	if len(p) == 0 {
		return -1
	}
	best := 0
	for i, v := range p[1:] {
		if v > p[best] {
			best = i + 1
		}
	}
	return best
}

// TopK returns the indices of the k highest values in descending order. Ties keep the lower
// index first and k is clamped to len(p).
func TopK(p []float32, k int) []int {
	indices := make([]int, len(p))
	for i := range indices {
		indices[i] = i
	}

	sort.SliceStable(indices, func(a, b int) bool {
		return p[indices[a]] > p[indices[b]]
	})

	if k < 0 {
		k = 0
	}
	if k > len(indices) {
		k = len(indices)
	}
	return indices[:k]
}

// Rank pairs the k most probable classes with their labels.
//
// Arguments:
//   - p: The probability distribution.
//   - labels: The label set aligned with p.
//   - k: The number of predictions to return.
//
// Returns:
//   - []Prediction: Predictions ordered by descending probability.
func Rank(p []float32, labels models.Labels, k int) []Prediction {
	top := TopK(p, k)
	predictions := make([]Prediction, len(top))
	for i, idx := range top {
		predictions[i] = Prediction{Index: idx, Label: labels.Name(idx), Probability: p[idx]}
	}
	return predictions
}
