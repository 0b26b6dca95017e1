package dataset

import (
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"

	"github.com/pkg/errors"
)

// ErrShapeMismatch is returned when an image does not have the size the
// model expects.
var ErrShapeMismatch = errors.New("image shape mismatch")

// DecodeImage reads a single-channel image of the given size and returns
// its 8-bit luminance values, row major, as float32 in [0, 255].
func DecodeImage(path string, width, height int) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open image")
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "decode %s", path)
	}

	bounds := img.Bounds()
	if bounds.Dx() != width || bounds.Dy() != height {
		return nil, errors.Wrapf(ErrShapeMismatch, "%s is %dx%d, want %dx%d",
			path, bounds.Dx(), bounds.Dy(), width, height)
	}

	pixels := make([]float32, width*height)
	if gray, ok := img.(*image.Gray); ok {
		for y := 0; y < height; y++ {
			row := gray.Pix[y*gray.Stride : y*gray.Stride+width]
			for x, v := range row {
				pixels[y*width+x] = float32(v)
			}
		}
		return pixels, nil
	}

	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			g := color.GrayModel.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray)
			pixels[y*width+x] = float32(g.Y)
		}
	}
	return pixels, nil
}
