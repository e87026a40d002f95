package postprocess

import (
	"math/rand"
	"testing"

	"github.com/nvr-ai/go-classifier/models"
	"github.com/nvr-ai/go-classifier/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

func randomLogits(seed int64, n int, scale float32) []float32 {
	rng := rand.New(rand.NewSource(seed))
	x := make([]float32, n)
	for i := range x {
		x[i] = (rng.Float32()*2 - 1) * scale
	}
	return x
}

func sum(p []float32) float64 {
	var s float64
	for _, v := range p {
		s += float64(v)
	}
	return s
}

// TestSoftmaxIsDistribution validates that softmax output sums to one and stays in [0, 1].
func TestSoftmaxIsDistribution(t *testing.T) {
	for _, n := range []int{1, 2, 10, 1000, 4096} {
		for _, scale := range []float32{1, 20, 1e4, 3e38} {
			p := Softmax(randomLogits(int64(n), n, scale))

			require.Len(t, p, n)
			assert.InDelta(t, 1.0, sum(p), 1e-6, "n=%d scale=%g", n, scale)
			for i, v := range p {
				assert.GreaterOrEqual(t, v, float32(0), "n=%d element %d", n, i)
				assert.LessOrEqual(t, v, float32(1), "n=%d element %d", n, i)
			}
		}
	}
}

// TestSoftmaxShiftInvariant checks softmax(x + c) == softmax(x).
func TestSoftmaxShiftInvariant(t *testing.T) {
	x := randomLogits(7, 1000, 10)
	base := Softmax(x)

	for _, c := range []float32{-50, -1, 0.5, 100} {
		shifted := make([]float32, len(x))
		for i, v := range x {
			shifted[i] = v + c
		}
		p := Softmax(shifted)
		for i := range p {
			if !assert.InDelta(t, base[i], p[i], 1e-5, "shift %g element %d", c, i) {
				break
			}
		}
	}
}

func TestSoftmaxUniform(t *testing.T) {
	for _, n := range []int{1, 3, 1000} {
		p := Softmax(make([]float32, n))
		for _, v := range p {
			assert.InDelta(t, 1/float64(n), v, 1e-7)
		}
	}

	equal := make([]float32, 1000)
	for i := range equal {
		equal[i] = 3.25
	}
	for _, v := range Softmax(equal) {
		assert.InDelta(t, 0.001, v, 1e-9)
	}
}

func TestSoftmaxLargeMagnitudes(t *testing.T) {
	p := Softmax([]float32{1e30, 1e30, -1e30})
	assert.Equal(t, []float32{0.5, 0.5, 0}, p)

	assert.Empty(t, Softmax(nil))
}

// TestPostprocessArgmax reproduces a 1000-class output where class 207 wins.
func TestPostprocessArgmax(t *testing.T) {
	logits := randomLogits(3, 1000, 5)
	logits[207] = 12
	raw := tensor.New(tensor.WithShape(1, 1000), tensor.WithBacking(logits))

	p, err := Postprocess(raw)
	require.NoError(t, err)
	require.Len(t, p, 1000)
	assert.Equal(t, 207, Argmax(p))
	assert.Equal(t, 207, TopK(p, 5)[0])

	labels := make(models.Labels, 1000)
	for i := range labels {
		labels[i] = "class"
	}
	labels[207] = "golden retriever"

	ranked := Rank(p, labels, 5)
	require.Len(t, ranked, 5)
	assert.Equal(t, Prediction{Index: 207, Label: "golden retriever", Probability: p[207]}, ranked[0])
	for i := 1; i < len(ranked); i++ {
		assert.GreaterOrEqual(t, ranked[i-1].Probability, ranked[i].Probability)
	}
}

func TestPostprocessAllEqual(t *testing.T) {
	raw := tensor.New(tensor.WithShape(1000), tensor.WithBacking(make([]float64, 1000)))

	p, err := Postprocess(raw)
	require.NoError(t, err)
	for _, v := range p {
		assert.InDelta(t, 0.001, v, 1e-9)
	}
}

func TestPostprocessEmpty(t *testing.T) {
	_, err := Postprocess(nil)
	assert.Equal(t, pipeline.StagePostprocess, pipeline.StageOf(err))

	_, err = Postprocess(tensor.New(tensor.WithShape(2), tensor.WithBacking([]bool{true, false})))
	assert.Equal(t, pipeline.StagePostprocess, pipeline.StageOf(err))
}

func TestTopK(t *testing.T) {
	p := []float32{0.1, 0.3, 0.05, 0.3, 0.25}

	assert.Equal(t, []int{1, 3, 4}, TopK(p, 3))
	assert.Equal(t, []int{1, 3, 4, 0, 2}, TopK(p, 10))
	assert.Empty(t, TopK(p, 0))
	assert.Empty(t, TopK(p, -2))
	assert.Equal(t, 1, Argmax(p))
	assert.Equal(t, -1, Argmax(nil))

	// TopK must not reorder the distribution itself.
	assert.Equal(t, []float32{0.1, 0.3, 0.05, 0.3, 0.25}, p)
}

func TestRankLabelsOutOfRange(t *testing.T) {
	ranked := Rank([]float32{0.2, 0.8}, models.Labels{"cat"}, 2)
	assert.Equal(t, "class 1", ranked[0].Label)
	assert.Equal(t, "cat", ranked[1].Label)
}
