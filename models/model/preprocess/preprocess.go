// Package preprocess - Converts decoded images and raw pixel tensors into normalized model input.
package preprocess

import (
	"fmt"
	"image"

	"github.com/nfnt/resize"
	"github.com/nvr-ai/go-classifier/models/model"
	"github.com/nvr-ai/go-classifier/pipeline"
	"github.com/nvr-ai/go-classifier/util"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorgonia.org/tensor"
)

// Config defines the preprocessing behaviour for a model input.
type Config struct {
	// Input is the tensor geometry and channel statistics of the model input.
	Input model.InputSpec
	// Resize scales images whose size differs from the model input. When false such images
	// are rejected with a shape error.
	Resize bool
	// Logger receives debug output. Defaults to the logrus standard logger.
	Logger logrus.FieldLogger
}

// Preprocessor turns images into normalized (1, C, H, W) float32 tensors.
type Preprocessor struct {
	config Config
	log    logrus.FieldLogger
}

// NewPreprocessor creates a new preprocessor with the given configuration.
//
// Arguments:
//   - config: The model-specific preprocessing configuration.
//
// Returns:
//   - *Preprocessor: A configured preprocessor.
//   - error: An error if the input specification is inconsistent.
func NewPreprocessor(config Config) (*Preprocessor, error) {
	if err := config.Input.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid input specification")
	}

	log := config.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	return &Preprocessor{config: config, log: log}, nil
}

// Default returns a preprocessor for ImageNet models that resizes inputs.
func Default() *Preprocessor {
	p, _ := NewPreprocessor(Config{Input: model.ImageNetInput(), Resize: true})
	return p
}

// Input returns the model input specification.
func (p *Preprocessor) Input() model.InputSpec {
	return p.config.Input
}

// Preprocess normalizes a raw (C, H, W) pixel tensor with values in [0, 255].
//
// Each channel plane c is mapped element-wise to (pixel/255 - mean[c]) / std[c] in float32
// and the result gains a leading batch dimension.
//
// Arguments:
//   - img: The pixel tensor. Any integer or float dtype is accepted.
//
// Returns:
//   - *tensor.Dense: A float32 tensor of shape (1, C, H, W).
//   - error: *pipeline.ShapeError when the shape or dtype does not match.
func (p *Preprocessor) Preprocess(img *tensor.Dense) (*tensor.Dense, error) {
	spec := p.config.Input

	if img == nil {
		return nil, &pipeline.ShapeError{Stage: pipeline.StagePreprocess, What: "image tensor", Detail: "tensor is nil"}
	}
	if got := []int(img.Shape()); !equalDims(got, spec.Shape()) {
		return nil, &pipeline.ShapeError{
			Stage: pipeline.StagePreprocess,
			What:  "image tensor",
			Want:  spec.Shape(),
			Got:   append([]int(nil), got...),
		}
	}

	pixels, err := util.Float32s(img)
	if err != nil {
		return nil, &pipeline.ShapeError{Stage: pipeline.StagePreprocess, What: "image tensor", Detail: err.Error()}
	}

	normalized := make([]float32, len(pixels))
	copy(normalized, pixels)
	p.normalize(normalized)

	p.log.WithField("shape", pipeline.FormatShape(spec.BatchShape())).Debug("preprocessed image tensor")

	return tensor.New(tensor.WithShape(spec.BatchShape()...), tensor.WithBacking(normalized)), nil
}

// FromImage converts a decoded image into a uint8 (C, H, W) tensor, resizing it to the model
// input size with Lanczos3 when allowed.
//
// Arguments:
//   - img: The decoded image.
//
// Returns:
//   - *tensor.Dense: A uint8 tensor in channel-height-width order (RGB).
//   - error: *pipeline.ShapeError when the image has the wrong size and resizing is off.
func (p *Preprocessor) FromImage(img image.Image) (*tensor.Dense, error) {
	spec := p.config.Input
	if spec.Channels != 3 {
		return nil, &pipeline.ShapeError{
			Stage:  pipeline.StageImage,
			What:   "image channels",
			Detail: fmt.Sprintf("decoded images have 3 channels, model expects %d", spec.Channels),
		}
	}

	bounds := img.Bounds()
	if bounds.Dx() != spec.Width || bounds.Dy() != spec.Height {
		if !p.config.Resize {
			return nil, &pipeline.ShapeError{
				Stage: pipeline.StageImage,
				What:  "image size",
				Want:  []int{spec.Height, spec.Width},
				Got:   []int{bounds.Dy(), bounds.Dx()},
			}
		}
		p.log.WithFields(logrus.Fields{
			"from": fmt.Sprintf("%dx%d", bounds.Dx(), bounds.Dy()),
			"to":   fmt.Sprintf("%dx%d", spec.Width, spec.Height),
		}).Debug("resizing image")
		img = resize.Resize(uint(spec.Width), uint(spec.Height), img, resize.Lanczos3)
	}

	return tensor.New(tensor.WithShape(spec.Shape()...), tensor.WithBacking(imageToTensor(img))), nil
}

// PrepareImage runs FromImage followed by Preprocess.
func (p *Preprocessor) PrepareImage(img image.Image) (*tensor.Dense, error) {
	pixels, err := p.FromImage(img)
	if err != nil {
		return nil, err
	}
	return p.Preprocess(pixels)
}

// imageToTensor lays out the RGB channels of img as contiguous planes.
func imageToTensor(img image.Image) []uint8 {
	bounds := img.Bounds()
	width, height := bounds.Dx(), bounds.Dy()
	plane := width * height
	data := make([]uint8, 3*plane)

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			r, g, b, _ := img.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			i := y*width + x
			data[i] = uint8(r >> 8)
			data[plane+i] = uint8(g >> 8)
			data[2*plane+i] = uint8(b >> 8)
		}
	}

	return data
}

// normalize applies the channel-wise standardization in place. The tensor is CHW so each
// channel is one contiguous plane and the channel constants broadcast over it.
func (p *Preprocessor) normalize(data []float32) {
	spec := p.config.Input
	plane := spec.Height * spec.Width

	for c := 0; c < spec.Channels; c++ {
		mean, std := spec.Mean[c], spec.Std[c]
		channel := data[c*plane : (c+1)*plane]
		for i, v := range channel {
			channel[i] = (v/255 - mean) / std
		}
	}
}

func equalDims(a, b []int) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
