package preprocess

import (
	"image"
	"image/color"
	"math/rand"
	"testing"

	"github.com/nvr-ai/go-classifier/models/model"
	"github.com/nvr-ai/go-classifier/pipeline"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorgonia.org/tensor"
)

// randomPixels returns a (3, 224, 224) uint8 tensor with deterministic random content.
func randomPixels(t *testing.T, seed int64) (*tensor.Dense, []uint8) {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	data := make([]uint8, 3*224*224)
	for i := range data {
		data[i] = uint8(rng.Intn(256))
	}
	backing := append([]uint8(nil), data...)
	return tensor.New(tensor.WithShape(3, 224, 224), tensor.WithBacking(backing)), data
}

// TestPreprocessShapeAndDtype validates the batch dimension and float32 output for several
// random pixel tensors.
func TestPreprocessShapeAndDtype(t *testing.T) {
	p := Default()

	for seed := int64(1); seed <= 3; seed++ {
		img, _ := randomPixels(t, seed)

		out, err := p.Preprocess(img)
		require.NoError(t, err)
		assert.Equal(t, tensor.Shape{1, 3, 224, 224}, out.Shape())
		assert.Equal(t, tensor.Float32, out.Dtype())
		assert.Len(t, out.Data().([]float32), 3*224*224)
	}
}

// TestPreprocessChannelConstants checks the exact per-channel arithmetic on a tiny input.
func TestPreprocessChannelConstants(t *testing.T) {
	spec := model.ImageNetInput()
	spec.Height, spec.Width = 1, 2

	p, err := NewPreprocessor(Config{Input: spec})
	require.NoError(t, err)

	// Channel planes: R = [0, 255], G = [128, 0], B = [255, 64].
	img := tensor.New(tensor.WithShape(3, 1, 2), tensor.WithBacking([]uint8{0, 255, 128, 0, 255, 64}))

	out, err := p.Preprocess(img)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 3, 1, 2}, out.Shape())

	got := out.Data().([]float32)
	pixels := []float32{0, 255, 128, 0, 255, 64}
	for i, v := range pixels {
		c := i / 2
		want := (v/255 - model.ImageNetMean[c]) / model.ImageNetStd[c]
		assert.Equal(t, want, got[i], "element %d", i)
	}

	assert.InDelta(t, -2.1179039, got[0], 1e-6)
	assert.InDelta(t, 2.64, got[4], 1e-5)
}

// TestPreprocessRoundTrip reverses the normalization and expects the original pixels back.
func TestPreprocessRoundTrip(t *testing.T) {
	p := Default()
	img, pixels := randomPixels(t, 42)

	out, err := p.Preprocess(img)
	require.NoError(t, err)

	data := out.Data().([]float32)
	plane := 224 * 224
	for i, v := range data {
		c := i / plane
		restored := (v*model.ImageNetStd[c] + model.ImageNetMean[c]) * 255
		if !assert.InDelta(t, float64(pixels[i]), float64(restored), 1e-3, "element %d", i) {
			return
		}
	}
}

// TestPreprocessDtypes validates that any numeric pixel representation is accepted.
func TestPreprocessDtypes(t *testing.T) {
	spec := model.ImageNetInput()
	spec.Height, spec.Width = 2, 2
	p, err := NewPreprocessor(Config{Input: spec})
	require.NoError(t, err)

	n := spec.Size()
	backings := map[string]interface{}{
		"uint8":   make([]uint8, n),
		"int8":    make([]int8, n),
		"int":     make([]int, n),
		"int32":   make([]int32, n),
		"int64":   make([]int64, n),
		"float32": make([]float32, n),
		"float64": make([]float64, n),
	}

	var reference []float32
	for name, backing := range backings {
		t.Run(name, func(t *testing.T) {
			out, err := p.Preprocess(tensor.New(tensor.WithShape(spec.Shape()...), tensor.WithBacking(backing)))
			require.NoError(t, err)
			assert.Equal(t, tensor.Float32, out.Dtype())
			if reference == nil {
				reference = out.Data().([]float32)
				return
			}
			assert.Equal(t, reference, out.Data().([]float32))
		})
	}
}

// TestPreprocessDoesNotMutateInput guards against normalizing a float32 backing in place.
func TestPreprocessDoesNotMutateInput(t *testing.T) {
	backing := make([]float32, 3*224*224)
	for i := range backing {
		backing[i] = 255
	}
	img := tensor.New(tensor.WithShape(3, 224, 224), tensor.WithBacking(backing))

	_, err := Default().Preprocess(img)
	require.NoError(t, err)
	assert.Equal(t, float32(255), backing[0])
}

func TestPreprocessShapeErrors(t *testing.T) {
	p := Default()

	cases := map[string]*tensor.Dense{
		"wrong height":  tensor.New(tensor.WithShape(3, 200, 224), tensor.Of(tensor.Uint8)),
		"already batch": tensor.New(tensor.WithShape(1, 3, 224, 224), tensor.Of(tensor.Float32)),
		"hwc layout":    tensor.New(tensor.WithShape(224, 224, 3), tensor.Of(tensor.Uint8)),
	}

	for name, img := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := p.Preprocess(img)
			require.Error(t, err)

			var shapeErr *pipeline.ShapeError
			require.True(t, errors.As(err, &shapeErr))
			assert.Equal(t, pipeline.StagePreprocess, shapeErr.Stage)
			assert.Equal(t, []int{3, 224, 224}, shapeErr.Want)
			assert.Equal(t, []int(img.Shape()), shapeErr.Got)
		})
	}

	t.Run("unsupported dtype", func(t *testing.T) {
		img := tensor.New(tensor.WithShape(3, 224, 224), tensor.WithBacking(make([]bool, 3*224*224)))
		_, err := p.Preprocess(img)

		var shapeErr *pipeline.ShapeError
		require.True(t, errors.As(err, &shapeErr))
		assert.Contains(t, shapeErr.Detail, "unsupported dtype")
	})

	t.Run("nil tensor", func(t *testing.T) {
		_, err := p.Preprocess(nil)
		assert.Equal(t, pipeline.StagePreprocess, pipeline.StageOf(err))
	})
}

func TestNewPreprocessorRejectsBadSpec(t *testing.T) {
	spec := model.ImageNetInput()
	spec.Std = []float32{0.229, 0, 0.225}
	_, err := NewPreprocessor(Config{Input: spec})
	assert.Error(t, err)

	spec = model.ImageNetInput()
	spec.Mean = spec.Mean[:2]
	_, err = NewPreprocessor(Config{Input: spec})
	assert.Error(t, err)
}

func solidImage(w, h int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img
}

// TestFromImageLayout validates the HWC to CHW reordering of decoded pixels.
func TestFromImageLayout(t *testing.T) {
	img := solidImage(224, 224, color.RGBA{R: 10, G: 20, B: 30, A: 255})
	img.SetRGBA(1, 0, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	pixels, err := Default().FromImage(img)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{3, 224, 224}, pixels.Shape())
	assert.Equal(t, tensor.Uint8, pixels.Dtype())

	data := pixels.Data().([]uint8)
	plane := 224 * 224
	assert.Equal(t, []uint8{10, 20, 30}, []uint8{data[0], data[plane], data[2*plane]})
	assert.Equal(t, []uint8{200, 100, 50}, []uint8{data[1], data[plane+1], data[2*plane+1]})
}

func TestFromImageResize(t *testing.T) {
	img := solidImage(320, 240, color.RGBA{R: 90, G: 90, B: 90, A: 255})

	out, err := Default().PrepareImage(img)
	require.NoError(t, err)
	assert.Equal(t, tensor.Shape{1, 3, 224, 224}, out.Shape())

	p, err := NewPreprocessor(Config{Input: model.ImageNetInput(), Resize: false})
	require.NoError(t, err)

	_, err = p.FromImage(img)
	var shapeErr *pipeline.ShapeError
	require.True(t, errors.As(err, &shapeErr))
	assert.Equal(t, pipeline.StageImage, shapeErr.Stage)
	assert.Equal(t, []int{224, 224}, shapeErr.Want)
	assert.Equal(t, []int{240, 320}, shapeErr.Got)
}

func TestFromImageOffsetBounds(t *testing.T) {
	full := solidImage(300, 300, color.RGBA{A: 255})
	sub := full.SubImage(image.Rect(50, 50, 274, 274)).(*image.RGBA)
	sub.SetRGBA(50, 50, color.RGBA{R: 255, A: 255})

	pixels, err := Default().FromImage(sub)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), pixels.Data().([]uint8)[0])
}
