// Package images - Decoding and display of the images that get classified.
package images

import (
	"bytes"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"os"

	"github.com/chai2010/webp"
	"github.com/nvr-ai/go-classifier/pipeline"
)

// ImageFormat represents supported image formats
type ImageFormat string

// ImageFormat constants
const (
	// FormatJPEG is the JPEG image format.
	FormatJPEG ImageFormat = "jpeg"
	// FormatWebP is the WebP image format.
	FormatWebP ImageFormat = "webp"
	// FormatPNG is the PNG image format.
	FormatPNG ImageFormat = "png"
	// FormatGIF is the GIF image format.
	FormatGIF ImageFormat = "gif"
)

// Image represents a decoded image with its source format.
type Image struct {
	// The source file, empty for in-memory data.
	Path string `json:"path" yaml:"path"`
	// The format of the image.
	Format ImageFormat `json:"format" yaml:"format"`
	// The width of the image.
	Width int `json:"width" yaml:"width"`
	// The height of the image.
	Height int `json:"height" yaml:"height"`
	// The decoded pixels.
	Pixels image.Image `json:"-" yaml:"-"`
}

// Load reads and decodes an image file.
//
// Arguments:
//   - path: The image file.
//
// Returns:
//   - *Image: The decoded image.
//   - error: *pipeline.IOError when the file cannot be read, *pipeline.ParseError when it is
//     not a supported image.
func Load(path string) (*Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &pipeline.IOError{Stage: pipeline.StageImage, Path: path, Err: err}
	}

	img, err := Decode(data)
	if err != nil {
		if parseErr, ok := err.(*pipeline.ParseError); ok {
			parseErr.Source = path
		}
		return nil, err
	}
	img.Path = path
	return img, nil
}

// Decode decodes JPEG, PNG, GIF or WebP bytes.
//
// Arguments:
//   - data: The encoded image.
//
// Returns:
//   - *Image: The decoded image.
//   - error: *pipeline.ParseError when the data is not a supported image.
func Decode(data []byte) (*Image, error) {
	var (
		pixels image.Image
		format string
		err    error
	)
	if isWebP(data) {
		pixels, err = webp.Decode(bytes.NewReader(data))
		format = string(FormatWebP)
	} else {
		pixels, format, err = image.Decode(bytes.NewReader(data))
	}
	if err != nil {
		return nil, &pipeline.ParseError{Stage: pipeline.StageImage, Source: "image data", Err: err}
	}

	bounds := pixels.Bounds()
	return &Image{
		Format: ImageFormat(format),
		Width:  bounds.Dx(),
		Height: bounds.Dy(),
		Pixels: pixels,
	}, nil
}

// isWebP checks for the RIFF....WEBP container header.
func isWebP(data []byte) bool {
	return len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP"
}
