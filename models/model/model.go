// Package model - Input geometry and normalization constants for classification models.
package model

import "fmt"

// Name is the unique identifier of a model.
type Name string

const (
	// ModelNameResNet50V2 is the ONNX model zoo ResNet50 v2 classifier.
	ModelNameResNet50V2 Name = "resnet50v2"
)

// ImageNet channel statistics in RGB order.
var (
	ImageNetMean = [3]float32{0.485, 0.456, 0.406}
	ImageNetStd  = [3]float32{0.229, 0.224, 0.225}
)

// InputSpec describes the image tensor a model consumes, laid out as (channels, height, width).
type InputSpec struct {
	// Channels is the number of color channels.
	Channels int `json:"channels" yaml:"channels"`
	// Height is the spatial height in pixels.
	Height int `json:"height" yaml:"height"`
	// Width is the spatial width in pixels.
	Width int `json:"width" yaml:"width"`
	// Mean is the per-channel mean subtracted after scaling pixels to [0, 1].
	Mean []float32 `json:"mean" yaml:"mean"`
	// Std is the per-channel standard deviation divided out after mean subtraction.
	Std []float32 `json:"std" yaml:"std"`
}

// ImageNetInput returns the 3x224x224 ImageNet input specification.
func ImageNetInput() InputSpec {
	return InputSpec{
		Channels: 3,
		Height:   224,
		Width:    224,
		Mean:     append([]float32(nil), ImageNetMean[:]...),
		Std:      append([]float32(nil), ImageNetStd[:]...),
	}
}

// Shape returns the unbatched (C, H, W) shape.
func (s InputSpec) Shape() []int {
	return []int{s.Channels, s.Height, s.Width}
}

// BatchShape returns the (1, C, H, W) shape fed to the model.
func (s InputSpec) BatchShape() []int {
	return []int{1, s.Channels, s.Height, s.Width}
}

// Size returns the number of elements in one image tensor.
func (s InputSpec) Size() int {
	return s.Channels * s.Height * s.Width
}

// Validate checks the dimensions and that there is one mean and one non-zero std per channel.
//
// Returns:
//   - error: An error describing the first inconsistency.
func (s InputSpec) Validate() error {
	if s.Channels <= 0 || s.Height <= 0 || s.Width <= 0 {
		return fmt.Errorf("input dimensions must be positive, got %dx%dx%d", s.Channels, s.Height, s.Width)
	}
	if len(s.Mean) != s.Channels || len(s.Std) != s.Channels {
		return fmt.Errorf("need %d mean and std values, got %d and %d", s.Channels, len(s.Mean), len(s.Std))
	}
	for c, std := range s.Std {
		if std == 0 {
			return fmt.Errorf("std for channel %d is zero", c)
		}
	}
	return nil
}
