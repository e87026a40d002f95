package images

import (
	"fmt"
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

// Annotate converts an image to a BGR Mat and draws a caption in its top-left corner.
//
// Arguments:
//   - img: The image to draw.
//   - caption: The text, e.g. the top prediction.
//
// Returns:
//   - gocv.Mat: The annotated image. The caller closes it.
//   - error: An error if the image cannot be converted.
func Annotate(img image.Image, caption string) (gocv.Mat, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("convert image to mat: %w", err)
	}
	if caption != "" {
		gocv.PutText(&mat, caption, image.Pt(10, 30), gocv.FontHersheySimplex, 0.8, color.RGBA{G: 255, A: 255}, 2)
	}
	return mat, nil
}

// Show opens a window with the annotated image and blocks until a key is pressed.
//
// Arguments:
//   - title: The window title.
//   - img: The image to display.
//   - caption: The text drawn onto the image.
//
// Returns:
//   - error: An error if the image cannot be converted.
func Show(title string, img image.Image, caption string) error {
	mat, err := Annotate(img, caption)
	if err != nil {
		return err
	}
	defer mat.Close()

	window := gocv.NewWindow(title)
	defer window.Close()

	window.IMShow(mat)
	window.WaitKey(0)
	return nil
}
